package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joseph-ayodele/receipt-intake/internal/app"
	"github.com/joseph-ayodele/receipt-intake/internal/common"
	"github.com/joseph-ayodele/receipt-intake/internal/ingest"
	"github.com/joseph-ayodele/receipt-intake/internal/pipeline"
	"github.com/joseph-ayodele/receipt-intake/internal/utils"
	"github.com/joseph-ayodele/receipt-intake/internal/validation"
)

func validateCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "validate FILE",
		Short: "Run the validator and sanitizer on a file without uploading it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			logger := common.NewLogger(common.LogConfig{Level: viper.GetString("log-level")}, os.Stderr)
			report := validation.NewValidator(logger).Validate(data, filepath.Base(args[0]))
			if report.Accepted && out != "" {
				if err := os.WriteFile(out, report.Sanitized, 0o644); err != nil {
					return err
				}
			}
			if viper.GetBool("json") {
				return printJSON(report)
			}
			tw := newTable()
			tw.AppendHeader(table.Row{"Field", "Value"})
			if !report.Accepted {
				tw.AppendRows([]table.Row{
					{"result", "REJECTED"},
					{"stage", report.Stage},
					{"reason", report.Reason},
				})
				tw.Render()
				return nil
			}
			tw.AppendRows([]table.Row{
				{"result", "ACCEPTED"},
				{"detected mime", report.DetectedMIME},
				{"content type", report.ContentType},
				{"sha256", report.ContentHash},
				{"size", fmt.Sprintf("%d -> %d bytes", len(data), len(report.Sanitized))},
			})
			if report.IsImage {
				tw.AppendRow(table.Row{"dimensions", fmt.Sprintf("%dx%d (resized: %t)", report.Width, report.Height, report.Resized)})
			}
			if report.IsPDF {
				tw.AppendRow(table.Row{"pages", report.PageCount})
				tw.AppendRow(table.Row{"low text", report.LowText})
			}
			if out != "" {
				tw.AppendRow(table.Row{"written", out})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the sanitized output to this path")
	return cmd
}

func ingestCmd() *cobra.Command {
	var opts ingest.DirOptions
	cmd := &cobra.Command{
		Use:   "ingest DIR",
		Short: "Run every supported file under DIR through the pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := requireOwner()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				if opts.Workers <= 0 {
					opts.Workers = a.Config.Pipeline.IngestWorkers
				}
				if opts.QueueSize <= 0 {
					opts.QueueSize = a.Config.Pipeline.IngestQueueSize
				}
				in := ingest.NewIngestor(a.Pipeline, owner, nil)
				results, stats, err := in.IngestDirectory(ctx, args[0], opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"results": results, "stats": stats})
				}
				printResults(results)
				fmt.Printf("scanned=%d matched=%d auto_created=%d pending=%d duplicates=%d rejected=%d failed=%d\n",
					stats.Scanned, stats.Matched, stats.AutoCreated, stats.PendingReview,
					stats.Duplicates, stats.Rejected, stats.Failed)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&opts.SkipHidden, "skip-hidden", true, "skip dot files and directories")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "concurrent pipeline workers (default from INGEST_WORKERS)")
	cmd.Flags().IntVar(&opts.QueueSize, "queue-size", 0, "pending file buffer (default from INGEST_QUEUE_SIZE)")
	return cmd
}

func watchCmd() *cobra.Command {
	var (
		initial  bool
		debounce time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch DIR...",
		Short: "Ingest receipts as they appear under the given directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := requireOwner()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				events, errs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
					Roots:       args,
					InitialScan: initial,
					Debounce:    debounce,
				})
				if err != nil {
					return err
				}
				in := ingest.NewIngestor(a.Pipeline, owner, nil)
				fmt.Fprintf(os.Stderr, "watching %s (ctrl-c to stop)\n", strings.Join(args, ", "))
				for {
					select {
					case p, ok := <-events:
						if !ok {
							return nil
						}
						printResults([]ingest.FileResult{in.IngestPath(ctx, p)})
					case err, ok := <-errs:
						if ok && err != nil {
							fmt.Fprintln(os.Stderr, "watch error:", err)
						}
					}
				}
			})
		},
	}
	cmd.Flags().BoolVar(&initial, "initial-scan", false, "also ingest files that already exist")
	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "wait for writes to settle")
	return cmd
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the owner's stored receipts",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := requireOwner()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				recs, err := a.Storage.Store.List(ctx, owner)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(recs)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Token", "File", "Merchant", "Date", "Total", "Conf", "Status", "Expires"})
				for _, r := range recs {
					tw.AppendRow(table.Row{
						r.Token, r.Filename, r.Extraction.Merchant, r.Extraction.Date,
						r.Extraction.TotalAmount.StringFixed(2),
						fmt.Sprintf("%.2f", r.Extraction.Confidence),
						r.Status, r.ExpiresAt.Local().Format(time.DateTime),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show receipt store occupancy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				st, err := a.Storage.Store.Stats(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(st)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Total", "Active", "Expired", "Bytes"})
				tw.AppendRow(table.Row{st.Total, st.Active, st.Expired, st.SizeBytes})
				tw.Render()
				return nil
			})
		},
	}
}

func exportCmd() *cobra.Command {
	var (
		out         string
		pendingOnly bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the owner's stored receipts to an XLSX workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := requireOwner()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				data, rows, err := a.Exporter.ExportReceiptsXLSX(ctx, owner, pendingOnly)
				if err != nil {
					return err
				}
				if err := os.WriteFile(out, data, 0o644); err != nil {
					return err
				}
				fmt.Printf("wrote %d rows to %s\n", rows, out)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "receipts.xlsx", "output path")
	cmd.Flags().BoolVar(&pendingOnly, "pending-only", false, "only receipts not yet linked to a ledger entry")
	return cmd
}

func linkCmd() *cobra.Command {
	var (
		amount, date, category, description, payment, notes string
	)
	cmd := &cobra.Command{
		Use:   "link TOKEN",
		Short: "Create the ledger entry for a pending receipt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := requireOwner()
			if err != nil {
				return err
			}
			ov := pipeline.Overrides{
				Description:   description,
				Category:      category,
				PaymentMethod: payment,
				Notes:         notes,
			}
			if amount != "" {
				d, err := decimal.NewFromString(amount)
				if err != nil {
					return fmt.Errorf("invalid --amount: %w", err)
				}
				ov.Amount = &d
			}
			if date != "" {
				t, err := utils.ParseYMD(date)
				if err != nil {
					return fmt.Errorf("invalid --date, use YYYY-MM-DD: %w", err)
				}
				ov.Date = &t
			}
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				res, err := a.Pipeline.CreateFromToken(ctx, args[0], owner, ov)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("linked to ledger entry %s (%s %s)\n", res.Entry.ID, res.Entry.Amount.StringFixed(2), res.Entry.Description)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "override total amount")
	cmd.Flags().StringVar(&date, "date", "", "override date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&category, "category", "", "override category")
	cmd.Flags().StringVar(&description, "description", "", "override description")
	cmd.Flags().StringVar(&payment, "payment-method", "", "override payment method")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	return cmd
}

func printResults(results []ingest.FileResult) {
	tw := newTable()
	tw.AppendHeader(table.Row{"File", "Outcome", "Detail", "Token"})
	for _, r := range results {
		detail := r.Err
		if detail == "" {
			switch r.Outcome.Kind {
			case pipeline.KindRejected:
				detail = r.Outcome.Stage + ": " + r.Outcome.Reason
			case pipeline.KindDuplicateFound:
				if r.Outcome.Duplicate != nil {
					detail = fmt.Sprintf("matches %s (%.2f)", r.Outcome.Duplicate.BestMatch, r.Outcome.Duplicate.Confidence)
				}
			default:
				detail = fmt.Sprintf("confidence %.2f", r.Outcome.Confidence)
				if r.Outcome.Reason != "" {
					detail += ", " + r.Outcome.Reason
				}
			}
		}
		kind := string(r.Outcome.Kind)
		if r.Err != "" {
			kind = "error"
		}
		tw.AppendRow(table.Row{filepath.Base(r.Path), kind, detail, r.Outcome.Token})
	}
	tw.Render()
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
