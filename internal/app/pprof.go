package app

import (
	"context"
	"log/slog"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Ashennwitch/mbg-tracker/internal/config"
	"github.com/Ashennwitch/mbg-tracker/internal/httpserver"
)

// startPprofServer starts the optional /debug/pprof listener.
// Params: ctx controls lifecycle; cfg provides enabled/listen options; logger reports runtime events.
// Returns: stop function (idempotent, waits for shutdown) and bind error.
func startPprofServer(ctx context.Context, cfg config.PprofConfig, logger *slog.Logger) (func(), error) {
	if !cfg.Enabled {
		return func() {}, nil
	}

	router := chi.NewRouter()
	router.Mount("/debug", middleware.Profiler())

	server, err := httpserver.New("pprof", cfg.Listen, router, logger)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := server.Run(runCtx); err != nil {
			logger.Error("pprof server failed", slog.String("addr", server.Addr()), slog.String("error", err.Error()))
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}
