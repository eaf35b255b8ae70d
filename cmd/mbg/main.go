package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Ashennwitch/mbg-tracker/internal/cli"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// run executes the command tree.
// Params: none.
// Returns: process exit code.
func run() int {
	root := cli.NewRootCommand(cli.BuildInfo{Version: version, Commit: commit, Date: date})
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return cli.GetExitCode(err)
	}
	return cli.ExitSuccess
}

func main() {
	os.Exit(run())
}
