package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

const contentTypeJSON = "application/json"

// Response status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Response is the envelope for simple replies and every error.
type Response struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// WriteJSON encodes data with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("encode response failed", slog.String("error", err.Error()))
	}
}

// WriteError writes an error envelope.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, Response{Status: StatusError, Error: message})
}

// WriteOK writes {"status":"ok"}.
func WriteOK(w http.ResponseWriter) {
	WriteJSON(w, http.StatusOK, Response{Status: StatusOK})
}
