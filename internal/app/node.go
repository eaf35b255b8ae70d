package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

type runner interface {
	run(context.Context) error
}

type runnerFunc func(context.Context) error

func (f runnerFunc) run(ctx context.Context) error {
	return f(ctx)
}

// node owns the long-running components of one role.
// The first runner error stops the others; closers run after every runner returned.
type node struct {
	name    string
	runners []runner
	closers []func() error
	logger  *slog.Logger
}

// Run starts all runners and blocks until ctx is canceled or one of them fails.
// Params: ctx lifecycle context.
// Returns: first runner error or nil on graceful stop.
func (n *node) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	wg.Add(len(n.runners))
	for _, r := range n.runners {
		go func(activeRunner runner) {
			defer wg.Done()
			if err := activeRunner.run(runCtx); err != nil {
				n.logger.Error("runner stopped with error", slog.String("node", n.name), slog.String("error", err.Error()))
				once.Do(func() {
					firstErr = err
					cancel()
				})
			}
		}(r)
	}
	wg.Wait()

	return errors.Join(firstErr, n.close())
}

func (n *node) close() error {
	var errs []error
	for idx := len(n.closers) - 1; idx >= 0; idx-- {
		if err := n.closers[idx](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
