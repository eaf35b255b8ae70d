// Package httpserver runs HTTP listeners bound to a lifecycle context and
// renders the JSON envelopes shared by the gateway and the ingestion service.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

const (
	defaultShutdownTimeout = 5 * time.Second
	defaultHeaderTimeout   = 5 * time.Second
	defaultIdleTimeout     = 60 * time.Second
)

// Server is one named listener plus the http.Server serving it.
// The socket is bound in New so ":0" addresses are known before Run.
type Server struct {
	name            string
	ln              net.Listener
	server          *http.Server
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

// Option adjusts a Server before it starts.
type Option func(*Server)

// WithShutdownTimeout bounds how long Run waits for in-flight requests on stop.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		if timeout > 0 {
			s.shutdownTimeout = timeout
		}
	}
}

// WithWriteTimeout bounds response writing. Zero leaves it unlimited.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.server.WriteTimeout = timeout
	}
}

// New binds listen and prepares the server.
// Params: name log label; listen address in host:port; handler HTTP handler; logger component logger.
// Returns: server instance or bind error.
func New(name, listen string, handler http.Handler, logger *slog.Logger, opts ...Option) (*Server, error) {
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, fmt.Errorf("listen %q: %w", listen, err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		name: name,
		ln:   ln,
		server: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: defaultHeaderTimeout,
			IdleTimeout:       defaultIdleTimeout,
			ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		},
		logger:          logger.With(slog.String("server", name)),
		shutdownTimeout: defaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Addr returns the bound address, useful when listening on port 0.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Run serves until ctx is canceled, then drains in-flight requests.
// Params: ctx lifecycle context.
// Returns: nil on graceful stop; serve or shutdown error otherwise.
func (s *Server) Run(ctx context.Context) error {
	served := make(chan error, 1)
	go func() {
		served <- s.server.Serve(s.ln)
	}()
	s.logger.Info("http server started", slog.String("listen", s.Addr()))

	select {
	case err := <-served:
		if ignoreClosed(err) == nil {
			return nil
		}
		s.logger.Error("http server stopped unexpectedly", slog.String("listen", s.Addr()), slog.String("error", err.Error()))
		return err
	case <-ctx.Done():
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	shutdownErr := s.server.Shutdown(drainCtx)
	if errors.Is(shutdownErr, context.DeadlineExceeded) {
		s.logger.Warn("http server drain timed out, closing connections", slog.Duration("timeout", s.shutdownTimeout))
		shutdownErr = s.server.Close()
	}

	return errors.Join(ignoreClosed(<-served), shutdownErr)
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
