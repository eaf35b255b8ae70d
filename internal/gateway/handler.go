package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Ashennwitch/mbg-tracker/internal/eventlog"
	"github.com/Ashennwitch/mbg-tracker/internal/httpserver"
	"github.com/Ashennwitch/mbg-tracker/internal/metrics"
	"github.com/Ashennwitch/mbg-tracker/internal/replication"
	"github.com/Ashennwitch/mbg-tracker/internal/scan"
)

const maxScanBodyBytes = 64 << 10

// Syncer is the replicator surface used by operator endpoints.
type Syncer interface {
	RunCycle(ctx context.Context) replication.CycleReport
	State() replication.State
	LastReport() (replication.CycleReport, bool)
}

// Deps wires handler collaborators; Syncer, Metrics and DataDir are optional.
type Deps struct {
	Recorder *Recorder
	Log      eventlog.Log
	Syncer   Syncer
	OriginID string
	// DataDir is reported with filesystem usage in /api/status.
	DataDir string
	Metrics http.Handler
}

// scanRequest accepts both the field app names and the short names.
type scanRequest struct {
	NFCTagID   string `json:"nfc_tag_id"`
	TagID      string `json:"tag_id"`
	StatusScan string `json:"status_scan"`
	Status     string `json:"status"`
}

type scanResponse struct {
	ID         int64  `json:"id"`
	TagID      string `json:"tag_id"`
	Status     string `json:"status"`
	OccurredAt string `json:"occurred_at"`
}

// StatusResponse is the /api/status body.
type StatusResponse struct {
	OriginID   string                   `json:"origin_id"`
	Log        eventlog.Stats           `json:"log"`
	State      string                   `json:"replicator_state,omitempty"`
	LastCycle  *replication.CycleReport `json:"last_cycle,omitempty"`
	Disk       *metrics.DiskUsage       `json:"disk,omitempty"`
	ReportedAt time.Time                `json:"reported_at"`
}

type handler struct {
	deps Deps
}

// NewHandler builds the gateway router.
// Params: deps collaborators.
// Returns: chi router.
func NewHandler(deps Deps) http.Handler {
	h := &handler{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { httpserver.WriteOK(w) })
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}
	r.Post("/api/log_scan", h.handleLogScan)
	r.Get("/api/status", h.handleStatus)
	r.Post("/api/sync", h.handleSync)
	return r
}

func (h *handler) handleLogScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxScanBodyBytes)).Decode(&req); err != nil {
		httpserver.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	tagID := req.NFCTagID
	if tagID == "" {
		tagID = req.TagID
	}
	status := req.StatusScan
	if status == "" {
		status = req.Status
	}

	event, err := h.deps.Recorder.Record(r.Context(), tagID, status)
	switch {
	case errors.Is(err, scan.ErrValidation):
		httpserver.WriteError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		httpserver.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpserver.WriteJSON(w, http.StatusCreated, scanResponse{
		ID:         event.ID,
		TagID:      event.TagID,
		Status:     event.Status,
		OccurredAt: event.OccurredAt.Format(time.RFC3339Nano),
	})
}

func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := h.deps.Log.Stats(r.Context())
	if err != nil {
		httpserver.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response := StatusResponse{
		OriginID:   h.deps.OriginID,
		Log:        stats,
		ReportedAt: time.Now().UTC(),
	}
	if h.deps.Syncer != nil {
		response.State = h.deps.Syncer.State().String()
		if report, ok := h.deps.Syncer.LastReport(); ok {
			response.LastCycle = &report
		}
	}
	if h.deps.DataDir != "" {
		if usage, err := metrics.ReadDiskUsage(r.Context(), h.deps.DataDir); err == nil {
			response.Disk = &usage
		}
	}
	httpserver.WriteJSON(w, http.StatusOK, response)
}

func (h *handler) handleSync(w http.ResponseWriter, r *http.Request) {
	if h.deps.Syncer == nil {
		httpserver.WriteError(w, http.StatusServiceUnavailable, "replication is not configured")
		return
	}
	report := h.deps.Syncer.RunCycle(r.Context())
	httpserver.WriteJSON(w, http.StatusOK, report)
}
