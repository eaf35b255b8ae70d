package ingest

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Ashennwitch/mbg-tracker/internal/auth"
	"github.com/Ashennwitch/mbg-tracker/internal/httpserver"
	"github.com/Ashennwitch/mbg-tracker/internal/wire"
)

const maxBodyBytes = 8 << 20

// Transport labels for request telemetry.
const (
	TransportHTTP = "http"
	TransportGRPC = "grpc"
)

// RequestObserver receives per-request telemetry.
type RequestObserver interface {
	ObserveRequest(transport, result string, elapsed time.Duration)
}

// HandlerOptions wires optional HTTP concerns.
type HandlerOptions struct {
	// Verifier enables bearer authentication on the sync route.
	Verifier *auth.Verifier
	Observer RequestObserver
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

type httpHandler struct {
	service  *Service
	observer RequestObserver
}

// NewHandler builds the ingestion HTTP router.
// Params: service ingestion logic; opts optional auth, telemetry and metrics.
// Returns: chi router.
func NewHandler(service *Service, opts HandlerOptions) http.Handler {
	h := &httpHandler{service: service, observer: opts.Observer}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { httpserver.WriteOK(w) })
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	r.Get("/api/dashboard/summary", h.handleSummary)

	syncRoute := http.Handler(http.HandlerFunc(h.handleSync))
	if opts.Verifier != nil {
		syncRoute = opts.Verifier.Wrap(syncRoute)
	}
	r.Method(http.MethodPost, "/api/sync_gateway_data", syncRoute)
	return r
}

func (h *httpHandler) handleSync(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	var records []wire.Record
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(&records); err != nil {
		h.observe("invalid", started)
		httpserver.WriteError(w, http.StatusBadRequest, "body must be a JSON array of records: "+err.Error())
		return
	}

	batch := wire.Batch{ID: r.Header.Get(wire.BatchIDHeader), Records: records}
	result, err := h.service.SubmitBatch(r.Context(), auth.OriginFromContext(r.Context()), batch)
	if err != nil {
		status, label := httpStatusFor(err)
		h.observe(label, started)
		httpserver.WriteError(w, status, err.Error())
		return
	}
	h.observe("accepted", started)
	httpserver.WriteJSON(w, http.StatusCreated, result)
}

func (h *httpHandler) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Summary(r.Context())
	if err != nil {
		httpserver.WriteError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, summary)
}

func (h *httpHandler) observe(result string, started time.Time) {
	if h.observer != nil {
		h.observer.ObserveRequest(TransportHTTP, result, time.Since(started))
	}
}

// httpStatusFor maps service errors to status codes and telemetry labels.
func httpStatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidBatch):
		return http.StatusBadRequest, "invalid"
	case errors.Is(err, ErrForbiddenOrigin):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
