package cli

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ashennwitch/mbg-tracker/internal/app"
	"github.com/Ashennwitch/mbg-tracker/internal/eventlog"
)

type deadLetterOptions struct {
	requeue bool
	limit   int
}

type requeueResult struct {
	Requeued int `json:"requeued"`
}

// NewDeadLetterCommand creates the deadletter command.
func NewDeadLetterCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &deadLetterOptions{}

	cmd := &cobra.Command{
		Use:   "deadletter [ids...]",
		Short: "List quarantined records or return them to replication",
		Long: `List records the center rejected sync.dead_letter_after times.

With --requeue the given ids (or every quarantined record when no id is given)
become unsynced again and are retried on the next cycle.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return WrapExitError(ExitCommandError, "parse ids", err)
			}
			return runDeadLetter(rootOpts, opts, ids, cmd)
		},
	}
	cmd.Flags().BoolVar(&opts.requeue, "requeue", false, "return records to the unsynced set")
	cmd.Flags().IntVar(&opts.limit, "limit", 100, "maximum records to list (<= 0 lists all)")

	return cmd
}

func runDeadLetter(rootOpts *RootOptions, opts *deadLetterOptions, ids []int64, cmd *cobra.Command) error {
	cfg, err := app.LoadForRole(rootOpts.ConfigPath, app.RoleGateway)
	if err != nil {
		return WrapExitError(ExitCommandError, "load config", err)
	}
	log, err := app.OpenEventLog(cfg.LocalLog, false)
	if err != nil {
		return WrapExitError(ExitCommandError, "open event log", err)
	}
	defer log.Close()

	p := printer{format: rootOpts.Format, out: cmd.OutOrStdout()}
	if opts.requeue {
		count, err := log.Requeue(cmd.Context(), ids)
		if err != nil {
			return WrapExitError(ExitCommandError, "requeue", err)
		}
		result := requeueResult{Requeued: count}
		return p.print(result, func(w io.Writer) { fmt.Fprintf(w, "requeued: %d\n", count) })
	}

	letters, err := log.DeadLetters(cmd.Context(), opts.limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "list dead letters", err)
	}
	return p.print(letters, func(w io.Writer) { writeDeadLetters(w, letters) })
}

func writeDeadLetters(w io.Writer, letters []eventlog.DeadLetter) {
	if len(letters) == 0 {
		fmt.Fprintln(w, "no dead-lettered records")
		return
	}
	for _, letter := range letters {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\trejected=%d\t%s\n",
			letter.Event.ID,
			letter.Event.TagID,
			letter.Event.Status,
			letter.Event.OccurredAt.Format(time.RFC3339),
			letter.RejectCount,
			letter.LastError,
		)
	}
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
