package ingest

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Ashennwitch/mbg-tracker/internal/auth"
	"github.com/Ashennwitch/mbg-tracker/internal/wire"
)

// IngestServer is the server API of mbg.ingest.v1.Ingest.
type IngestServer interface {
	SubmitBatch(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
}

// ingestServiceDesc describes the service without generated stubs; messages
// are google.protobuf.Struct.
var ingestServiceDesc = grpc.ServiceDesc{
	ServiceName: wire.ServiceName,
	HandlerType: (*IngestServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: wire.SubmitBatchName,
			Handler:    submitBatchHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mbg/ingest/v1/ingest.proto",
}

// RegisterIngestServer registers srv on registrar.
func RegisterIngestServer(registrar grpc.ServiceRegistrar, srv IngestServer) {
	registrar.RegisterService(&ingestServiceDesc, srv)
}

func submitBatchHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IngestServer).SubmitBatch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: wire.SubmitBatchMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(IngestServer).SubmitBatch(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// GRPCHandler adapts Service to IngestServer.
type GRPCHandler struct {
	service  *Service
	observer RequestObserver
}

// NewGRPCHandler wraps service; observer may be nil.
func NewGRPCHandler(service *Service, observer RequestObserver) *GRPCHandler {
	return &GRPCHandler{service: service, observer: observer}
}

// SubmitBatch decodes the Struct request and maps service errors to status codes.
func (h *GRPCHandler) SubmitBatch(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	started := time.Now()

	batch, err := wire.BatchFromStruct(request)
	if err != nil {
		h.observe("invalid", started)
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	result, err := h.service.SubmitBatch(ctx, auth.OriginFromContext(ctx), batch)
	if err != nil {
		code, label := grpcCodeFor(err)
		h.observe(label, started)
		return nil, status.Error(code, err.Error())
	}
	h.observe("accepted", started)
	return wire.ResultToStruct(result), nil
}

func (h *GRPCHandler) observe(result string, started time.Time) {
	if h.observer != nil {
		h.observer.ObserveRequest(TransportGRPC, result, time.Since(started))
	}
}

// grpcCodeFor maps service errors so the gateway classifies them like HTTP.
func grpcCodeFor(err error) (codes.Code, string) {
	switch {
	case errors.Is(err, ErrInvalidBatch):
		return codes.InvalidArgument, "invalid"
	case errors.Is(err, ErrForbiddenOrigin):
		return codes.PermissionDenied, "forbidden"
	case errors.Is(err, ErrRateLimited):
		return codes.ResourceExhausted, "rate_limited"
	case errors.Is(err, ErrStoreUnavailable):
		return codes.Unavailable, "store_unavailable"
	default:
		return codes.Internal, "internal"
	}
}

// NewGRPCServer builds a server with the ingest and health services registered.
// Params: service ingestion logic; verifier optional bearer auth; observer optional telemetry.
// Returns: gRPC server and its health server.
func NewGRPCServer(service *Service, verifier *auth.Verifier, observer RequestObserver) (*grpc.Server, *health.Server) {
	var opts []grpc.ServerOption
	if verifier != nil {
		opts = append(opts, grpc.ChainUnaryInterceptor(verifier.UnaryServerInterceptor()))
	}
	server := grpc.NewServer(opts...)
	RegisterIngestServer(server, NewGRPCHandler(service, observer))

	healthServer := health.NewServer()
	healthServer.SetServingStatus(wire.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)
	return server, healthServer
}
