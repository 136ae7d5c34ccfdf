package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"buildledger/internal/app"
	"buildledger/internal/events"
)

func logCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Audit log",
		Long:  "The hash-chained record of every accepted operation. Entries are never edited or removed.",
	}
	cmd.AddCommand(logTailCmd())
	cmd.AddCommand(logVerifyCmd())
	cmd.AddCommand(logExportCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var (
		n           int
		kind, actor string
		milestone   int64
		delivery    int64
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the newest audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := events.Filter{Kind: kind, ActorID: actor}
			if cmd.Flags().Changed("milestone") {
				f.MilestoneID = &milestone
			}
			if cmd.Flags().Changed("delivery") {
				f.DeliveryID = &delivery
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				items, err := ws.Engine.Events(ctx, f)
				if err != nil {
					return err
				}
				if n > 0 && len(items) > n {
					items = items[len(items)-n:]
				}
				return printJSONOrTable(items, eventHeader, eventRows(items...))
			})
		},
	}
	cmd.Flags().IntVarP(&n, "n", "n", 20, "number of entries")
	cmd.Flags().StringVar(&kind, "kind", "", "entry kind filter")
	cmd.Flags().StringVar(&actor, "actor", "", "acting identity filter")
	cmd.Flags().Int64Var(&milestone, "milestone", 0, "milestone id filter")
	cmd.Flags().Int64Var(&delivery, "delivery", 0, "delivery id filter")
	return cmd
}

func logVerifyCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Recompute the audit hash chain of the workspace or an export",
		RunE: func(cmd *cobra.Command, args []string) error {
			var report events.VerifyReport
			if file != "" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				items, err := events.ReadExport(f, strings.HasSuffix(file, ".zst"))
				if err != nil {
					return err
				}
				report = events.VerifyEvents(items)
			} else {
				err := withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
					var err error
					report, err = ws.Engine.VerifyLog(ctx)
					return err
				})
				if err != nil {
					return err
				}
			}
			if err := printJSON(report); err != nil {
				return err
			}
			if !report.OK {
				return fmt.Errorf("audit chain broken at seq %d: %s", *report.BrokenSeq, report.Reason)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "verify an export file instead of the workspace (.zst is read as zstd)")
	return cmd
}

func logExportCmd() *cobra.Command {
	var (
		out      string
		compress bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the audit log as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			var w io.Writer = os.Stdout
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				n, err := ws.Engine.ExportLog(ctx, w, compress)
				if err != nil {
					return err
				}
				if out != "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "exported %d entries to %s\n", n, out)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	cmd.Flags().BoolVar(&compress, "zstd", false, "compress with zstd")
	return cmd
}
