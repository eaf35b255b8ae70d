package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ashennwitch/mbg-tracker/internal/app"
	"github.com/Ashennwitch/mbg-tracker/internal/eventlog"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show local event log counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadForRole(rootOpts.ConfigPath, app.RoleGateway)
			if err != nil {
				return WrapExitError(ExitCommandError, "load config", err)
			}
			log, err := app.OpenEventLog(cfg.LocalLog, false)
			if err != nil {
				return WrapExitError(ExitCommandError, "open event log", err)
			}
			defer log.Close()

			stats, err := log.Stats(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "read stats", err)
			}
			p := printer{format: rootOpts.Format, out: cmd.OutOrStdout()}
			return p.print(stats, func(w io.Writer) { writeStats(w, stats) })
		},
	}
}

func writeStats(w io.Writer, stats eventlog.Stats) {
	fmt.Fprintf(w, "total:         %d\n", stats.Total)
	fmt.Fprintf(w, "synced:        %d\n", stats.Synced)
	fmt.Fprintf(w, "unsynced:      %d\n", stats.Unsynced)
	fmt.Fprintf(w, "dead_lettered: %d\n", stats.DeadLettered)
	if stats.OldestUnsynced != nil {
		fmt.Fprintf(w, "oldest:        %s\n", stats.OldestUnsynced.Format(time.RFC3339))
	}
}
