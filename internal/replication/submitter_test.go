package replication

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Ashennwitch/mbg-tracker/internal/scan"
	"github.com/Ashennwitch/mbg-tracker/internal/wire"
)

type staticToken string

func (s staticToken) Token() (string, error) { return string(s), nil }

func testBatch() wire.Batch {
	return wire.NewBatch([]scan.Event{
		{ID: 1, TagID: "T1", Status: scan.StatusDispatched, OccurredAt: time.Unix(100, 0)},
		{ID: 2, TagID: "T2", Status: scan.StatusReceived, OccurredAt: time.Unix(200, 0)},
	}, "school-a")
}

func TestHTTPSubmitter_Accepted(t *testing.T) {
	var (
		gotRecords []wire.Record
		gotBatchID string
		gotAuth    string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBatchID = r.Header.Get(wire.BatchIDHeader)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotRecords))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"accepted":2,"duplicates":0}`))
	}))
	defer server.Close()

	submitter, err := NewHTTPSubmitter(server.URL+"/api/sync_gateway_data", time.Second, staticToken("tok"))
	require.NoError(t, err)

	batch := testBatch()
	result, err := submitter.SubmitBatch(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Accepted)
	assert.Equal(t, batch.ID, gotBatchID)
	assert.Equal(t, "Bearer tok", gotAuth)
	require.Len(t, gotRecords, 2)
	assert.Equal(t, batch.Records[1], gotRecords[1])
}

func TestHTTPSubmitter_Classification(t *testing.T) {
	cases := []struct {
		status   int
		rejected bool
	}{
		{http.StatusOK, false},
		{http.StatusBadRequest, true},
		{http.StatusUnauthorized, true},
		{http.StatusForbidden, true},
		{http.StatusRequestTimeout, false},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
		{http.StatusServiceUnavailable, false},
	}
	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte("reason text"))
		}))
		submitter, err := NewHTTPSubmitter(server.URL, time.Second, nil)
		require.NoError(t, err)

		_, err = submitter.SubmitBatch(context.Background(), testBatch())
		server.Close()

		var rejected *RejectedError
		switch {
		case tc.status == http.StatusOK:
			assert.NoError(t, err)
		case tc.rejected:
			require.ErrorAs(t, err, &rejected, "status %d", tc.status)
			assert.Equal(t, "reason text", rejected.Reason)
			assert.False(t, errors.Is(err, ErrUnreachable))
		default:
			assert.ErrorIs(t, err, ErrUnreachable, "status %d", tc.status)
		}
	}
}

func TestHTTPSubmitter_ConnectionRefusedIsUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	submitter, err := NewHTTPSubmitter(url, time.Second, nil)
	require.NoError(t, err)
	_, err = submitter.SubmitBatch(context.Background(), testBatch())
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestHTTPSubmitter_TimeoutIsUnreachable(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	submitter, err := NewHTTPSubmitter(server.URL, 0, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = submitter.SubmitBatch(ctx, testBatch())
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestNewHTTPSubmitter_EmptyEndpoint(t *testing.T) {
	_, err := NewHTTPSubmitter("  ", time.Second, nil)
	assert.Error(t, err)
}

// ingestStub is a minimal SubmitBatch server registered through a hand-written descriptor.
type ingestStub struct {
	code      codes.Code
	lastAuth  string
	lastBatch wire.Batch
}

type ingestStubServer interface {
	Submit(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
}

func (s *ingestStub) Submit(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get("authorization"); len(values) > 0 {
			s.lastAuth = values[0]
		}
	}
	batch, err := wire.BatchFromStruct(request)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	s.lastBatch = batch
	if s.code != codes.OK {
		return nil, status.Error(s.code, "stub refused")
	}
	return wire.ResultToStruct(wire.Result{Accepted: batch.Len()}), nil
}

var ingestStubDesc = grpc.ServiceDesc{
	ServiceName: wire.ServiceName,
	HandlerType: (*ingestStubServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: wire.SubmitBatchName,
		Handler: func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
			request := &structpb.Struct{}
			if err := dec(request); err != nil {
				return nil, err
			}
			return srv.(ingestStubServer).Submit(ctx, request)
		},
	}},
}

func startStub(t *testing.T, stub *ingestStub) *GRPCSubmitter {
	t.Helper()
	listener := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	server.RegisterService(&ingestStubDesc, stub)
	go func() { _ = server.Serve(listener) }()
	t.Cleanup(server.Stop)

	submitter, err := NewGRPCSubmitter("passthrough:///bufnet", staticToken("tok"),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = submitter.Close() })
	return submitter
}

func TestGRPCSubmitter_Accepted(t *testing.T) {
	stub := &ingestStub{code: codes.OK}
	submitter := startStub(t, stub)

	batch := testBatch()
	result, err := submitter.SubmitBatch(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Accepted)
	assert.Equal(t, "Bearer tok", stub.lastAuth)
	assert.Equal(t, batch.ID, stub.lastBatch.ID)
	assert.Equal(t, batch.Records, stub.lastBatch.Records)
}

func TestGRPCSubmitter_Classification(t *testing.T) {
	rejected := []codes.Code{
		codes.InvalidArgument, codes.PermissionDenied, codes.Unauthenticated,
		codes.FailedPrecondition, codes.AlreadyExists, codes.OutOfRange,
	}
	for _, code := range rejected {
		submitter := startStub(t, &ingestStub{code: code})
		_, err := submitter.SubmitBatch(context.Background(), testBatch())
		var rejectedErr *RejectedError
		require.ErrorAs(t, err, &rejectedErr, "code %s", code)
		assert.Equal(t, code.String(), rejectedErr.Status)
	}

	for _, code := range []codes.Code{codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.DeadlineExceeded} {
		submitter := startStub(t, &ingestStub{code: code})
		_, err := submitter.SubmitBatch(context.Background(), testBatch())
		assert.ErrorIs(t, err, ErrUnreachable, "code %s", code)
	}
}

func TestClassifyGRPC_NonStatusError(t *testing.T) {
	err := classifyGRPC(errors.New("boom"))
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.True(t, strings.Contains(err.Error(), "boom"))
}
