package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"krakefactory/pkg/domain"
)

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit [file]",
		Short: "Store a test-run submission",
		Long: `Store one test-run submission read from a JSON file, or from stdin when the
file is omitted or "-". The payload has the shape accepted by POST /api/test-run:

  {"board": {"serial_number": "BRD-001"}, "test_run": {...},
   "unpowered": {...}, "powered": {...}}`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "-"
			if len(args) == 1 {
				path = args[0]
			}
			return runSubmit(rootOpts, cmd, path)
		},
	}
	return cmd
}

func runSubmit(opts *RootOptions, cmd *cobra.Command, path string) error {
	var in io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return WrapExitError(ExitCommandError, "open submission", err)
		}
		defer f.Close()
		in = f
	}
	sub, err := domain.DecodeSubmission(in)
	if err != nil {
		return WrapExitError(ExitCommandError, "read submission", err)
	}

	a, err := opts.openApp(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.svc.SubmitTestRun(cmd.Context(), sub)
	if err != nil {
		return commandError("submit test run", err)
	}
	return opts.formatter(cmd).Success(res, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "Test run saved: board_id=%d testrun_id=%d\n", res.BoardID, res.TestRunID)
		return err
	})
}
