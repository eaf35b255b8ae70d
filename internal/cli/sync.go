package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Ashennwitch/mbg-tracker/internal/app"
	"github.com/Ashennwitch/mbg-tracker/internal/config"
	"github.com/Ashennwitch/mbg-tracker/internal/eventlog"
	"github.com/Ashennwitch/mbg-tracker/internal/logging"
	"github.com/Ashennwitch/mbg-tracker/internal/replication"
)

// NewSyncCommand creates the one-shot sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one replication cycle against the local event log",
		Long: `Run one replication cycle and exit.

Safe next to a running gateway: both take the sync lease stored in the event
log, so a cycle never overlaps the gateway's own. When the gateway holds the
lease the command exits 1 with outcome "busy"; POST /api/sync on the gateway
triggers its cycle instead. Also exits 1 when the center rejected the batch
or was unreachable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(rootOpts, cmd)
		},
	}
}

func runSync(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := app.LoadForRole(opts.ConfigPath, app.RoleGateway)
	if err != nil {
		return WrapExitError(ExitCommandError, "load config", err)
	}
	logger, closeLogger, err := logging.New(cfg.Log)
	if err != nil {
		return WrapExitError(ExitCommandError, "init logger", err)
	}
	defer closeLogger()

	log, err := app.OpenEventLog(cfg.LocalLog, false)
	if err != nil {
		return WrapExitError(ExitCommandError, "open event log", err)
	}
	defer log.Close()

	report, err := syncOnce(cmd, cfg, log, logger)
	if err != nil {
		return err
	}

	p := printer{format: opts.Format, out: cmd.OutOrStdout()}
	if err := p.print(report, func(w io.Writer) { writeReport(w, report) }); err != nil {
		return err
	}

	switch report.Outcome {
	case replication.OutcomeAccepted, replication.OutcomeEmpty:
		return nil
	case replication.OutcomeBusy:
		return &ExitError{Code: ExitFailure, Message: "sync busy: a running gateway is replicating; use POST /api/sync on it"}
	default:
		return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("sync %s: %s", report.Outcome, report.Error)}
	}
}

func syncOnce(cmd *cobra.Command, cfg *config.Config, log eventlog.Log, logger *slog.Logger) (replication.CycleReport, error) {
	submitter, closeSubmitter, err := app.NewSubmitter(cfg.Sync, cfg.Node.OriginID)
	if err != nil {
		return replication.CycleReport{}, WrapExitError(ExitCommandError, "build submitter", err)
	}
	defer closeSubmitter()

	replicator, err := app.NewReplicator(cfg, log, submitter, logger)
	if err != nil {
		return replication.CycleReport{}, WrapExitError(ExitCommandError, "build replicator", err)
	}
	return replicator.RunCycle(cmd.Context()), nil
}

func writeReport(w io.Writer, report replication.CycleReport) {
	fmt.Fprintf(w, "outcome:       %s\n", report.Outcome)
	fmt.Fprintf(w, "batches:       %d\n", report.Batches)
	fmt.Fprintf(w, "submitted:     %d\n", report.Submitted)
	fmt.Fprintf(w, "synced:        %d\n", report.Synced)
	fmt.Fprintf(w, "duplicates:    %d\n", report.Duplicates)
	fmt.Fprintf(w, "dead_lettered: %d\n", report.DeadLettered)
	fmt.Fprintf(w, "elapsed:       %s\n", report.Elapsed)
	if report.Error != "" {
		fmt.Fprintf(w, "error:         %s\n", report.Error)
	}
}
