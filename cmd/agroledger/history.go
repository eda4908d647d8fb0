// cmd/agroledger/history.go
package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rovshanmuradov/agro-ledger/internal/config"
	"github.com/rovshanmuradov/agro-ledger/internal/export"
	"github.com/rovshanmuradov/agro-ledger/internal/storage/postgres"
	"github.com/rovshanmuradov/agro-ledger/internal/transaction"
)

type historyOptions struct {
	format  string
	out     string
	kind    string
	status  string
	limit   int
	summary bool
	daily   string
}

var historyFlags historyOptions

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Export this account's journaled writes to CSV or JSON",
	Example: `  agroledger history --format json
  agroledger history --summary
  agroledger history --daily 2026-05-01`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	f := historyCmd.Flags()
	f.StringVar(&historyFlags.format, "format", string(export.FormatCSV), "csv or json")
	f.StringVar(&historyFlags.out, "out", "exports", "output directory")
	f.StringVar(&historyFlags.kind, "kind", "", "only writes of this kind")
	f.StringVar(&historyFlags.status, "status", "", "only writes in this status: pending, settled, failed")
	f.IntVar(&historyFlags.limit, "limit", 1000, "maximum writes to read from the journal")
	f.BoolVar(&historyFlags.summary, "summary", false, "print totals instead of exporting")
	f.StringVar(&historyFlags.daily, "daily", "", "write a JSON report of one day, YYYY-MM-DD")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.PostgresURL == "" {
		return errors.New("postgres_url is not configured; there is no journal to export")
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	a := &app{cfg: cfg, log: log}
	w, err := a.wallet()
	if err != nil {
		return err
	}

	journal, err := postgres.NewStorage(cfg.PostgresURL, log.Logger)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer journal.Close()

	rows, err := journal.ListWrites(cmd.Context(), string(w.Address()), historyFlags.limit, 0)
	if err != nil {
		return err
	}
	records := make([]transaction.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, transaction.FromJournal(row))
	}
	return historyFlags.report(cmd.OutOrStdout(), export.NewWriteExporter(log.Logger), records)
}

// report exports, summarizes or builds a daily report from records, in any order.
func (o historyOptions) report(out io.Writer, we *export.WriteExporter, records []transaction.Record) error {
	sort.SliceStable(records, func(i, j int) bool { return records[i].CreatedAt.Before(records[j].CreatedAt) })

	switch {
	case o.summary:
		printSummary(out, export.Summarize(records))
		return nil
	case o.daily != "":
		day, err := time.ParseInLocation(deadlineLayout, o.daily, time.Local)
		if err != nil {
			return fmt.Errorf("--daily: expected YYYY-MM-DD: %w", err)
		}
		path, err := we.ExportDailyReport(records, day, o.out)
		if err != nil {
			return err
		}
		if path == "" {
			fmt.Fprintf(out, "no writes on %s\n", o.daily)
			return nil
		}
		fmt.Fprintf(out, "exported %s\n", path)
		return nil
	}

	path, err := we.ExportWrites(records, export.ExportOptions{
		Format:       export.ExportFormat(o.format),
		KindFilter:   o.kind,
		StatusFilter: transaction.Status(o.status),
		OutputDir:    o.out,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "exported %s\n", path)
	return nil
}

func printSummary(out io.Writer, s export.ExportSummary) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "writes\t%d\n", s.TotalWrites)
	fmt.Fprintf(tw, "settled\t%d\n", s.Settled)
	fmt.Fprintf(tw, "failed\t%d (%d transient)\n", s.Failed, s.Transient)
	fmt.Fprintf(tw, "pending\t%d\n", s.Pending)
	fmt.Fprintf(tw, "tokens\t%d\n", s.UniqueTokens)
	fmt.Fprintf(tw, "paid\t%s base units\n", s.SettledPayments)
	kinds := make([]string, 0, len(s.ByKind))
	for k := range s.ByKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(tw, "  %s\t%d\n", k, s.ByKind[k])
	}
	if s.TotalWrites > 0 {
		fmt.Fprintf(tw, "period\t%s .. %s\n", s.StartDate.Local().Format(time.DateTime), s.EndDate.Local().Format(time.DateTime))
	}
	tw.Flush()
}
