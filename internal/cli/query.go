package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"krakefactory/pkg/domain"
)

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <serial>",
		Short: "Show a board with every test run and measurement set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rootOpts.openApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			detail, err := a.svc.GetBoardDetail(cmd.Context(), args[0])
			if err != nil {
				return commandError("get board detail", err)
			}
			return rootOpts.formatter(cmd).Success(detail, func(w io.Writer) error {
				return writeBoardDetail(w, args[0], detail)
			})
		},
	}
}

// NewSummariesCommand creates the summaries command.
func NewSummariesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "summaries",
		Short: "List every test run with its board, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rootOpts.openApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			rows, err := a.svc.ListSummaries(cmd.Context())
			if err != nil {
				return commandError("list summaries", err)
			}
			return rootOpts.formatter(cmd).Success(rows, func(w io.Writer) error {
				return writeSummaries(w, rows)
			})
		},
	}
}

// NewPingCommand creates the ping command.
func NewPingCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the configured store is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rootOpts.openApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.svc.Ping(cmd.Context()); err != nil {
				return commandError("ping", err)
			}
			return rootOpts.formatter(cmd).Success(map[string]any{"ok": true, "driver": a.cfg.Storage.Driver}, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "ok (%s)\n", a.cfg.Storage.Driver)
				return err
			})
		},
	}
}

func writeSummaries(w io.Writer, rows []domain.SummaryRow) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERIAL\tTESTED\tLOCATION\tTESTER\tFIRMWARE\tRESULT")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.SerialNumber, r.TestDatetime.UTC().Format(time.RFC3339),
			text(r.TestLocation), text(r.Tester), text(r.FirmwareVersion), text(r.OverallResult))
	}
	return tw.Flush()
}

func writeBoardDetail(w io.Writer, serial string, d domain.BoardDetail) error {
	if !d.Found() {
		_, err := fmt.Fprintf(w, "no board with serial %q\n", serial)
		return err
	}
	b := d.Board
	fmt.Fprintf(w, "Board %s (id %d)\n", b.SerialNumber, b.ID)
	fmt.Fprintf(w, "  hardware_rev=%s pcb_rev=%s batch=%s status=%s\n", text(b.HardwareRev), text(b.PCBRev), text(b.Batch), text(b.Status))
	fmt.Fprintf(w, "  country=%s lab=%s\n", text(b.Country), text(b.Lab))
	for _, run := range d.TestRuns {
		fmt.Fprintf(w, "Run %d at %s: %s (tester %s, firmware %s)\n",
			run.ID, run.TestDatetime.UTC().Format(time.RFC3339), text(run.OverallResult), text(run.Tester), text(run.FirmwareVersion))
		for _, u := range run.UnpoweredResults {
			fmt.Fprintf(w, "  unpowered %d: %s\n", u.ID, text(u.PassFail))
		}
		for _, p := range run.PoweredResults {
			fmt.Fprintf(w, "  powered %d: %s supply_current_ma=%s\n", p.ID, text(p.PassFail), number(p.SupplyCurrentMA))
		}
	}
	return nil
}

func text(s *string) string {
	if s == nil {
		return "-"
	}
	if *s == "" {
		return `""`
	}
	return *s
}

func number(f *float64) string {
	if f == nil {
		return "-"
	}
	return fmt.Sprintf("%g", *f)
}
