// internal/export/export.go
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/agro-ledger/internal/transaction"
)

// ExportFormat represents the export file format
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatJSON ExportFormat = "json"
)

// ExportOptions configures the export behavior
type ExportOptions struct {
	Format       ExportFormat
	StartTime    time.Time
	EndTime      time.Time
	KindFilter   string // issue, acquire, confirm_delivery, withdraw
	TokenFilter  string
	StatusFilter transaction.Status
	OutputDir    string
}

// WriteExporter writes ledger write history to files
type WriteExporter struct {
	logger *zap.Logger
}

func NewWriteExporter(logger *zap.Logger) *WriteExporter {
	return &WriteExporter{
		logger: logger.Named("export"),
	}
}

// ExportWrites exports the records matching options, oldest first, and
// returns the path of the written file.
func (we *WriteExporter) ExportWrites(records []transaction.Record, options ExportOptions) (string, error) {
	filtered := we.filterWrites(records, options)
	if len(filtered) == 0 {
		return "", fmt.Errorf("no writes match the export criteria")
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.Before(filtered[j].CreatedAt)
	})

	outputPath := filepath.Join(options.OutputDir, we.generateFilename(options))
	if err := os.MkdirAll(options.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	var err error
	switch options.Format {
	case FormatCSV:
		err = we.exportToCSV(filtered, outputPath)
	case FormatJSON:
		err = we.exportToJSON(filtered, outputPath)
	default:
		err = fmt.Errorf("unsupported format: %s", options.Format)
	}
	if err != nil {
		return "", err
	}

	we.logger.Info("Writes exported",
		zap.String("file", outputPath),
		zap.Int("count", len(filtered)),
		zap.String("format", string(options.Format)))

	return outputPath, nil
}

func (we *WriteExporter) filterWrites(records []transaction.Record, options ExportOptions) []transaction.Record {
	var filtered []transaction.Record
	for _, rec := range records {
		if !options.StartTime.IsZero() && rec.CreatedAt.Before(options.StartTime) {
			continue
		}
		if !options.EndTime.IsZero() && !rec.CreatedAt.Before(options.EndTime) {
			continue
		}
		if options.KindFilter != "" && rec.Kind != options.KindFilter {
			continue
		}
		if options.TokenFilter != "" && rec.TokenID != options.TokenFilter {
			continue
		}
		if options.StatusFilter != "" && rec.Status != options.StatusFilter {
			continue
		}
		filtered = append(filtered, rec)
	}
	return filtered
}

func (we *WriteExporter) generateFilename(options ExportOptions) string {
	timestamp := time.Now().Format("20060102_150405")

	prefix := "writes_all"
	if options.KindFilter != "" {
		prefix = "writes_" + options.KindFilter
	}
	if options.TokenFilter != "" {
		prefix += "_token" + options.TokenFilter
	}
	return fmt.Sprintf("%s_%s.%s", prefix, timestamp, options.Format)
}

// CSVHeaders lists the columns of a CSV export.
func CSVHeaders() []string {
	return []string{"write_id", "created_at", "kind", "account", "token_id", "payment_base_units", "hash", "status", "block", "transient", "error"}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func toCSV(rec transaction.Record) []string {
	return []string{
		rec.ID,
		rec.CreatedAt.UTC().Format(time.RFC3339),
		rec.Kind,
		rec.Account,
		rec.TokenID,
		rec.Payment,
		rec.Hash,
		string(rec.Status),
		strconv.FormatUint(rec.BlockRef, 10),
		strconv.FormatBool(rec.Transient),
		errString(rec.Err),
	}
}

func (we *WriteExporter) exportToCSV(records []transaction.Record, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(CSVHeaders()); err != nil {
		return fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, rec := range records {
		if err := writer.Write(toCSV(rec)); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// jsonWrite is the JSON shape of one record; errors become strings.
type jsonWrite struct {
	ID        string    `json:"write_id"`
	CreatedAt time.Time `json:"created_at"`
	Kind      string    `json:"kind"`
	Account   string    `json:"account"`
	TokenID   string    `json:"token_id,omitempty"`
	Payment   string    `json:"payment_base_units,omitempty"`
	Hash      string    `json:"hash,omitempty"`
	Status    string    `json:"status"`
	BlockRef  uint64    `json:"block,omitempty"`
	Transient bool      `json:"transient,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func toJSON(records []transaction.Record) []jsonWrite {
	out := make([]jsonWrite, 0, len(records))
	for _, rec := range records {
		out = append(out, jsonWrite{
			ID:        rec.ID,
			CreatedAt: rec.CreatedAt.UTC(),
			Kind:      rec.Kind,
			Account:   rec.Account,
			TokenID:   rec.TokenID,
			Payment:   rec.Payment,
			Hash:      rec.Hash,
			Status:    string(rec.Status),
			BlockRef:  rec.BlockRef,
			Transient: rec.Transient,
			Error:     errString(rec.Err),
		})
	}
	return out
}

func (we *WriteExporter) exportToJSON(records []transaction.Record, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create JSON file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")

	exportData := struct {
		ExportTime time.Time     `json:"export_time"`
		WriteCount int           `json:"write_count"`
		Writes     []jsonWrite   `json:"writes"`
		Summary    ExportSummary `json:"summary"`
	}{
		ExportTime: time.Now(),
		WriteCount: len(records),
		Writes:     toJSON(records),
		Summary:    Summarize(records),
	}

	if err := encoder.Encode(exportData); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// ExportSummary contains summary statistics for exported writes
type ExportSummary struct {
	TotalWrites  int            `json:"total_writes"`
	Settled      int            `json:"settled"`
	Failed       int            `json:"failed"`
	Pending      int            `json:"pending"`
	Transient    int            `json:"transient"`
	ByKind       map[string]int `json:"by_kind"`
	UniqueTokens int            `json:"unique_tokens"`
	// SettledPayments is the sum of settled payments in base units.
	SettledPayments string    `json:"settled_payments_base_units"`
	StartDate       time.Time `json:"start_date"`
	EndDate         time.Time `json:"end_date"`
}

// Summarize expects records ordered oldest first.
func Summarize(records []transaction.Record) ExportSummary {
	summary := ExportSummary{
		TotalWrites:     len(records),
		ByKind:          make(map[string]int),
		SettledPayments: "0",
	}
	if len(records) == 0 {
		return summary
	}

	summary.StartDate = records[0].CreatedAt
	summary.EndDate = records[len(records)-1].CreatedAt

	tokenSet := make(map[string]bool)
	paid := new(big.Int)
	for _, rec := range records {
		summary.ByKind[rec.Kind]++
		if rec.TokenID != "" {
			tokenSet[rec.TokenID] = true
		}
		switch rec.Status {
		case transaction.StatusSettled:
			summary.Settled++
			if p, ok := new(big.Int).SetString(rec.Payment, 10); ok {
				paid.Add(paid, p)
			}
		case transaction.StatusFailed:
			summary.Failed++
			if rec.Transient {
				summary.Transient++
			}
		default:
			summary.Pending++
		}
	}
	summary.UniqueTokens = len(tokenSet)
	summary.SettledPayments = paid.String()
	return summary
}

// DailyReport is the write activity of one day
type DailyReport struct {
	Date            time.Time     `json:"date"`
	WriteCount      int           `json:"write_count"`
	Summary         ExportSummary `json:"summary"`
	HourlyBreakdown []HourlyStats `json:"hourly_breakdown"`
	Writes          []jsonWrite   `json:"writes"`
}

// HourlyStats represents write statistics for an hour
type HourlyStats struct {
	Hour    int `json:"hour"`
	Writes  int `json:"writes"`
	Settled int `json:"settled"`
	Failed  int `json:"failed"`
}

// ExportDailyReport writes a JSON report of date's writes. It returns an
// empty path when the day had none.
func (we *WriteExporter) ExportDailyReport(records []transaction.Record, date time.Time, outputDir string) (string, error) {
	startOfDay := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	options := ExportOptions{
		StartTime: startOfDay,
		EndTime:   startOfDay.AddDate(0, 0, 1),
	}

	filtered := we.filterWrites(records, options)
	if len(filtered) == 0 {
		we.logger.Info("No writes for daily report", zap.Time("date", startOfDay))
		return "", nil
	}
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.Before(filtered[j].CreatedAt)
	})

	report := DailyReport{
		Date:            startOfDay,
		WriteCount:      len(filtered),
		Summary:         Summarize(filtered),
		HourlyBreakdown: hourlyBreakdown(filtered),
		Writes:          toJSON(filtered),
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	outputPath := filepath.Join(outputDir, fmt.Sprintf("daily_report_%s.json", startOfDay.Format("20060102")))
	file, err := os.Create(outputPath)
	if err != nil {
		return "", fmt.Errorf("failed to create report file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}

	we.logger.Info("Daily report exported",
		zap.String("file", outputPath),
		zap.Time("date", startOfDay),
		zap.Int("writes", len(filtered)))

	return outputPath, nil
}

func hourlyBreakdown(records []transaction.Record) []HourlyStats {
	hourly := make(map[int]*HourlyStats)
	for _, rec := range records {
		hour := rec.CreatedAt.Hour()
		stats, ok := hourly[hour]
		if !ok {
			stats = &HourlyStats{Hour: hour}
			hourly[hour] = stats
		}
		stats.Writes++
		switch rec.Status {
		case transaction.StatusSettled:
			stats.Settled++
		case transaction.StatusFailed:
			stats.Failed++
		}
	}

	var breakdown []HourlyStats
	for hour := 0; hour < 24; hour++ {
		if stats, ok := hourly[hour]; ok {
			breakdown = append(breakdown, *stats)
		}
	}
	return breakdown
}
