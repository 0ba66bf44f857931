// Command krakefactory runs the board test-run inventory service and its
// station-side CLI.
package main

import (
	"context"
	"fmt"
	"os"

	"krakefactory/internal/cli"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:]))
}

func run(ctx context.Context, args []string) int {
	cmd := cli.NewRootCommand()
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
		return cli.GetExitCode(err)
	}
	return cli.ExitSuccess
}
