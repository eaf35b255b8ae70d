package replication

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Ashennwitch/mbg-tracker/internal/wire"
)

// GRPCSubmitter calls mbg.ingest.v1.Ingest/SubmitBatch with Struct messages.
// Params: one lazily connecting client connection.
// Returns: Submitter over gRPC.
type GRPCSubmitter struct {
	conn   *grpc.ClientConn
	tokens TokenSource
}

// NewGRPCSubmitter creates a client connection to address.
// Params: address host:port; tokens optional bearer source; opts extra dial options (tests pass bufconn dialers).
// Returns: submitter or error on invalid target.
func NewGRPCSubmitter(address string, tokens TokenSource, opts ...grpc.DialOption) (*GRPCSubmitter, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, fmt.Errorf("grpc submitter: address is empty")
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, opts...)

	conn, err := grpc.NewClient(address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("grpc submitter: dial %s: %w", address, err)
	}
	return &GRPCSubmitter{conn: conn, tokens: tokens}, nil
}

// Close releases the client connection.
// Params: none.
// Returns: close error.
func (s *GRPCSubmitter) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// SubmitBatch invokes the unary RPC and classifies the status code.
// Params: ctx call context with deadline; batch outbound records.
// Returns: result on OK, *RejectedError on permanent codes, ErrUnreachable otherwise.
func (s *GRPCSubmitter) SubmitBatch(ctx context.Context, batch wire.Batch) (wire.Result, error) {
	request, err := wire.BatchToStruct(batch)
	if err != nil {
		return wire.Result{}, err
	}
	if s.tokens != nil {
		token, err := s.tokens.Token()
		if err != nil {
			return wire.Result{}, fmt.Errorf("issue token: %w", err)
		}
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
	}

	response := &structpb.Struct{}
	if err := s.conn.Invoke(ctx, wire.SubmitBatchMethod, request, response); err != nil {
		return wire.Result{}, classifyGRPC(err)
	}
	return wire.ResultFromStruct(response), nil
}

// classifyGRPC maps rpc status codes onto delivery outcomes.
// Params: err rpc error.
// Returns: *RejectedError or ErrUnreachable wrapper.
func classifyGRPC(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return unreachable("rpc: %v", err)
	}
	switch st.Code() {
	case codes.InvalidArgument,
		codes.PermissionDenied,
		codes.Unauthenticated,
		codes.FailedPrecondition,
		codes.AlreadyExists,
		codes.OutOfRange:
		return &RejectedError{Status: st.Code().String(), Reason: st.Message()}
	default:
		return unreachable("rpc %s: %s", st.Code(), st.Message())
	}
}
