package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"krakefactory/internal/adapters/export"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	As  string
	Out string
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the inventory as CSV, XLSX or JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.As, "as", string(export.FormatCSV), "export format (csv|xlsx|json)")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func runExport(opts *ExportOptions, cmd *cobra.Command) error {
	format := export.Format(strings.ToLower(opts.As))
	if !format.Valid() {
		return NewExitError(ExitCommandError, fmt.Sprintf("unsupported export format %q", opts.As))
	}

	a, err := opts.openApp(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	rows, err := a.svc.ListSummaries(cmd.Context())
	if err != nil {
		return commandError("list summaries", err)
	}
	var buf bytes.Buffer
	if err := export.Render(&buf, format, rows); err != nil {
		return WrapExitError(ExitFailure, "render export", err)
	}

	if opts.Out == "" {
		_, err := cmd.OutOrStdout().Write(buf.Bytes())
		return err
	}
	if err := os.WriteFile(opts.Out, buf.Bytes(), 0o644); err != nil {
		return WrapExitError(ExitFailure, "write export", err)
	}
	summary := map[string]any{"path": opts.Out, "format": format, "rows": len(rows)}
	return opts.formatter(cmd).Success(summary, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "wrote %d rows to %s\n", len(rows), opts.Out)
		return err
	})
}
