package main

import (
	"context"
	"fmt"
	"os"

	"github.com/taskdeck/taskdeck/internal/cli"
)

// Run executes the taskdeck CLI with the given args and returns the
// process exit code. Split from main so tests can invoke it.
func Run(ctx context.Context, args []string) int {
	root := cli.NewRootCmd(Version)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "taskdeck:", err)
		return 1
	}
	return 0
}
