package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Ashennwitch/mbg-tracker/internal/config"
	"github.com/Ashennwitch/mbg-tracker/internal/logging"
)

// Role selects which node a process runs.
type Role string

const (
	RoleGateway Role = "gateway"
	RoleServer  Role = "server"
)

// Runtime defines runtime inputs required to start a node.
// Params: ConfigPath points to the TOML/YAML configuration; Role picks the node;
// Ephemeral keeps the gateway event log in memory; Reload triggers config reload.
// Returns: Runtime value used by Run.
type Runtime struct {
	ConfigPath string
	Role       Role
	Ephemeral  bool
	Reload     <-chan struct{}
}

type process interface {
	Run(context.Context) error
}

// hooks are the replaceable steps used to start one generation.
type hooks struct {
	load   func(path string) (*config.Config, error)
	logger func(config.LogConfig) (*slog.Logger, func(), error)
	pprof  func(context.Context, config.PprofConfig, *slog.Logger) (func(), error)
	build  func(context.Context, *config.Config, *slog.Logger) (process, error)
}

// generation is a node started from one config snapshot.
// A reload replaces the generation; a failed reload restarts the previous snapshot.
type generation struct {
	cfg       *config.Config
	logger    *slog.Logger
	closeLog  func()
	stop      context.CancelFunc
	exited    chan error
	stopPprof func()
}

// Run loads configuration, starts the node for rt.Role and serves reload requests until ctx ends.
// Params: ctx controls lifecycle; rt provides runtime inputs and optional reload trigger channel.
// Returns: error on startup failure, unexpected node exit or failed rollback; nil on graceful stop.
func Run(ctx context.Context, rt Runtime) error {
	h, err := roleHooks(rt)
	if err != nil {
		return err
	}
	return supervise(ctx, rt, h)
}

// supervise owns the current generation and swaps it on every reload signal.
func supervise(ctx context.Context, rt Runtime, h hooks) error {
	if strings.TrimSpace(rt.ConfigPath) == "" {
		return errors.New("config path is required")
	}

	cfg, err := h.load(rt.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	current, err := startGeneration(ctx, cfg, h, nil, nil)
	if err != nil {
		return err
	}

	reload := rt.Reload
	for {
		select {
		case runErr := <-current.exited:
			current.exited = nil
			return current.finish(ctx, runErr)
		case <-ctx.Done():
			return current.finish(ctx, nil)
		case _, ok := <-reload:
			if !ok {
				reload = nil
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			next, swapErr := swapGeneration(ctx, rt.ConfigPath, current, h)
			if next == nil {
				return swapErr
			}
			current = next
		}
	}
}

// roleHooks wires the production loader and builder for one role.
// Params: rt selects role and gateway storage mode.
// Returns: hook set or error on unknown role.
func roleHooks(rt Runtime) (hooks, error) {
	h := hooks{
		load: func(path string) (*config.Config, error) {
			return LoadForRole(path, rt.Role)
		},
		logger: logging.New,
		pprof:  startPprofServer,
	}
	switch rt.Role {
	case RoleGateway:
		h.build = func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (process, error) {
			return buildGateway(ctx, cfg, logger, rt.Ephemeral)
		}
	case RoleServer:
		h.build = func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (process, error) {
			return buildServer(ctx, cfg, logger)
		}
	default:
		return hooks{}, fmt.Errorf("unknown role %q", rt.Role)
	}
	return h, nil
}

// LoadForRole loads config and applies role-specific startup checks.
// Params: path config file or directory; role node role.
// Returns: validated config or error.
func LoadForRole(path string, role Role) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	switch role {
	case RoleGateway:
		err = cfg.ValidateGateway()
	case RoleServer:
		err = cfg.ValidateServer()
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// startGeneration starts pprof and the node for cfg.
// A nil logger means the generation creates and owns its own logger.
func startGeneration(ctx context.Context, cfg *config.Config, h hooks, logger *slog.Logger, closeLog func()) (*generation, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("runtime context canceled: %w", err)
	}

	owned := logger == nil
	if owned {
		var err error
		logger, closeLog, err = h.logger(cfg.Log)
		if err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
	}
	abandon := func() {
		if owned && closeLog != nil {
			closeLog()
		}
	}

	runCtx, stop := context.WithCancel(ctx)
	stopPprof, err := h.pprof(runCtx, cfg.Pprof, logger)
	if err != nil {
		stop()
		abandon()
		return nil, fmt.Errorf("start pprof: %w", err)
	}

	proc, err := h.build(runCtx, cfg, logger)
	if err != nil {
		stopPprof()
		stop()
		abandon()
		return nil, fmt.Errorf("build node: %w", err)
	}

	exited := make(chan error, 1)
	go func() {
		exited <- proc.Run(runCtx)
	}()

	logStartup(logger, cfg)
	return &generation{
		cfg:       cfg,
		logger:    logger,
		closeLog:  closeLog,
		stop:      stop,
		exited:    exited,
		stopPprof: stopPprof,
	}, nil
}

// swapGeneration replaces current with a generation built from the reloaded config.
// Params: ctx root lifecycle context; path config location; current running generation; h hook set.
// Returns: generation to keep and an optional reload error; nil generation only when rollback failed.
func swapGeneration(ctx context.Context, path string, current *generation, h hooks) (*generation, error) {
	current.logger.Info("config reload requested")

	cfg, err := h.load(path)
	if err != nil {
		current.logger.Error("config reload validation failed", slog.String("error", err.Error()))
		return current, fmt.Errorf("reload config: %w", err)
	}
	logger, closeLog, err := h.logger(cfg.Log)
	if err != nil {
		current.logger.Error("config reload logger init failed", slog.String("error", err.Error()))
		return current, fmt.Errorf("init reload logger: %w", err)
	}

	current.halt()
	next, startErr := startGeneration(ctx, cfg, h, logger, closeLog)
	if startErr == nil {
		current.release()
		next.logger.Info("config reload applied", slog.String("origin_id", cfg.Node.OriginID))
		return next, nil
	}
	closeLog()

	if ctx.Err() != nil {
		current.logger.Info("config reload interrupted by shutdown")
		return current, nil
	}

	current.logger.Error("config reload apply failed, restoring previous node", slog.String("error", startErr.Error()))
	restored, rollbackErr := startGeneration(ctx, current.cfg, h, current.logger, current.closeLog)
	if rollbackErr != nil {
		current.release()
		return nil, fmt.Errorf("apply reload: %w; rollback failed: %w", startErr, rollbackErr)
	}
	restored.logger.Warn("previous node restored", slog.String("error", startErr.Error()))
	return restored, fmt.Errorf("apply reload: %w", startErr)
}

// finish stops the generation and turns its exit into Run's result.
func (g *generation) finish(ctx context.Context, runErr error) error {
	g.halt()
	defer g.release()

	if ctxErr := ctx.Err(); ctxErr != nil {
		g.logger.Info("node stopped", slog.String("reason", ctxErr.Error()))
		return nil
	}
	if runErr == nil {
		runErr = errors.New("runner exited without context cancellation")
	}
	g.logger.Error("node stopped unexpectedly", slog.String("error", runErr.Error()))
	return fmt.Errorf("run node: %w", runErr)
}

// halt cancels the node, waits for it and stops pprof. The logger stays open.
func (g *generation) halt() {
	if g.stop != nil {
		g.stop()
		g.stop = nil
	}
	if g.exited != nil {
		<-g.exited
		g.exited = nil
	}
	if g.stopPprof != nil {
		g.stopPprof()
		g.stopPprof = nil
	}
}

func (g *generation) release() {
	if g.closeLog != nil {
		g.closeLog()
		g.closeLog = nil
	}
}

func logStartup(logger *slog.Logger, cfg *config.Config) {
	attrs := []any{
		slog.String("origin_id", cfg.Node.OriginID),
		slog.String("gateway_listen", cfg.Gateway.Listen),
		slog.String("server_listen", cfg.Server.Listen),
		slog.String("sync_transport", cfg.Sync.Transport),
		slog.Duration("sync_interval", cfg.Sync.Interval.Duration),
	}
	if cfg.Pprof.Enabled {
		attrs = append(attrs, slog.String("pprof_listen", cfg.Pprof.Listen))
	}
	logger.Info("node started", attrs...)
}
