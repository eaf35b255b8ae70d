package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Ashennwitch/mbg-tracker/internal/app"
)

// NewGatewayCommand creates the gateway command.
func NewGatewayCommand(rootOpts *RootOptions) *cobra.Command {
	var ephemeral bool

	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Run the edge gateway: scan write path and replicator",
		Long: `Run the edge gateway.

Scans posted to /api/log_scan are stored in the local event log and replicated
to sync.endpoint every sync.interval. SIGHUP reloads the configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), app.Runtime{
				ConfigPath: rootOpts.ConfigPath,
				Role:       app.RoleGateway,
				Ephemeral:  ephemeral,
			})
		},
	}
	cmd.Flags().BoolVar(&ephemeral, "ephemeral", false, "keep the event log in memory (records are lost on exit)")

	return cmd
}

// NewServerCommand creates the server command.
func NewServerCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Run the central ingestion service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), app.Runtime{
				ConfigPath: rootOpts.ConfigPath,
				Role:       app.RoleServer,
			})
		},
	}
}

// serve runs one role until SIGINT/SIGTERM, forwarding SIGHUP as reload.
func serve(parent context.Context, rt app.Runtime) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reloadSignal := make(chan os.Signal, 1)
	signal.Notify(reloadSignal, syscall.SIGHUP)
	defer signal.Stop(reloadSignal)

	reload := make(chan struct{}, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-reloadSignal:
				select {
				case reload <- struct{}{}:
				default:
				}
			}
		}
	}()

	rt.Reload = reload
	if err := app.Run(ctx, rt); err != nil {
		return WrapExitError(ExitCommandError, string(rt.Role), err)
	}
	return nil
}
