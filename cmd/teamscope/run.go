package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ankittk/teamscope/internal/cli"
)

// Run executes the CLI with args and returns the process exit code.
func Run(ctx context.Context, args []string) int {
	root := cli.NewRootCmd(Version)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		// The root command silences cobra's own error line; print it once here.
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
