package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NewVersionCommand creates the version command.
func NewVersionCommand(rootOpts *RootOptions, build BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := printer{format: rootOpts.Format, out: cmd.OutOrStdout()}
			return p.print(build, func(w io.Writer) {
				fmt.Fprintf(w, "mbg version=%s commit=%s date=%s\n", build.Version, build.Commit, build.Date)
			})
		},
	}
}
