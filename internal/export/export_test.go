package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/agro-ledger/internal/storage/models"
	"github.com/rovshanmuradov/agro-ledger/internal/transaction"
)

var day = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func testWrites() []transaction.Record {
	return []transaction.Record{
		{ID: "w4", Kind: "confirm_delivery", Account: "farmer", TokenID: "0", Status: transaction.StatusSettled, BlockRef: 4, CreatedAt: day.Add(11 * time.Hour)},
		{ID: "w1", Kind: "issue", Account: "farmer", Status: transaction.StatusSettled, Hash: "h1", BlockRef: 1, CreatedAt: day.Add(9 * time.Hour)},
		{ID: "w2", Kind: "acquire", Account: "buyer", TokenID: "0", Payment: "80000000000000000", Status: transaction.StatusSettled, BlockRef: 2, CreatedAt: day.Add(10 * time.Hour)},
		{ID: "w3", Kind: "acquire", Account: "buyer", TokenID: "1", Payment: "5000", Status: transaction.StatusFailed, Transient: true, Err: errors.New("transient failure"), CreatedAt: day.Add(10*time.Hour + time.Minute)},
		{ID: "w5", Kind: "withdraw", Account: "farmer", TokenID: "2", Status: transaction.StatusPending, CreatedAt: day.Add(26 * time.Hour)},
	}
}

func TestExportWritesCSV(t *testing.T) {
	exporter := NewWriteExporter(zap.NewNop())
	path, err := exporter.ExportWrites(testWrites(), ExportOptions{Format: FormatCSV, OutputDir: t.TempDir()})
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 6)
	assert.Equal(t, CSVHeaders(), rows[0])
	// oldest first
	assert.Equal(t, "w1", rows[1][0])
	assert.Equal(t, "w5", rows[5][0])
	assert.Equal(t, "transient failure", rows[3][len(rows[3])-1])
	assert.Equal(t, "true", rows[3][9])
}

func TestExportWritesJSON(t *testing.T) {
	exporter := NewWriteExporter(zap.NewNop())
	path, err := exporter.ExportWrites(testWrites(), ExportOptions{Format: FormatJSON, OutputDir: t.TempDir()})
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc struct {
		WriteCount int           `json:"write_count"`
		Summary    ExportSummary `json:"summary"`
		Writes     []struct {
			ID    string `json:"write_id"`
			Error string `json:"error"`
		} `json:"writes"`
	}
	require.NoError(t, json.Unmarshal(content, &doc))

	assert.Equal(t, 5, doc.WriteCount)
	assert.Equal(t, 3, doc.Summary.Settled)
	assert.Equal(t, 1, doc.Summary.Failed)
	assert.Equal(t, 1, doc.Summary.Transient)
	assert.Equal(t, 1, doc.Summary.Pending)
	assert.Equal(t, "80000000000000000", doc.Summary.SettledPayments)
	assert.Equal(t, 2, doc.Summary.ByKind["acquire"])
	assert.Equal(t, "transient failure", doc.Writes[2].Error)
}

func TestExportWritesFilters(t *testing.T) {
	exporter := NewWriteExporter(zap.NewNop())
	writes := testWrites()

	tests := []struct {
		name string
		opts ExportOptions
		want []string
	}{
		{"kind", ExportOptions{KindFilter: "acquire"}, []string{"w2", "w3"}},
		{"token", ExportOptions{TokenFilter: "0"}, []string{"w2", "w4"}},
		{"status", ExportOptions{StatusFilter: transaction.StatusFailed}, []string{"w3"}},
		{"time window", ExportOptions{StartTime: day.Add(10 * time.Hour), EndTime: day.Add(11 * time.Hour)}, []string{"w2", "w3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ids []string
			for _, rec := range exporter.filterWrites(writes, tt.opts) {
				ids = append(ids, rec.ID)
			}
			assert.ElementsMatch(t, tt.want, ids)
		})
	}

	_, err := exporter.ExportWrites(writes, ExportOptions{Format: FormatCSV, KindFilter: "burn", OutputDir: t.TempDir()})
	assert.Error(t, err)
	_, err = exporter.ExportWrites(writes, ExportOptions{Format: "xml", OutputDir: t.TempDir()})
	assert.Error(t, err)
}

func TestDailyReport(t *testing.T) {
	exporter := NewWriteExporter(zap.NewNop())
	dir := t.TempDir()

	path, err := exporter.ExportDailyReport(testWrites(), day.Add(15*time.Hour), dir)
	require.NoError(t, err)
	content, err := os.ReadFile(path)
	require.NoError(t, err)

	var report DailyReport
	require.NoError(t, json.Unmarshal(content, &report))
	assert.Equal(t, 4, report.WriteCount)
	require.Len(t, report.HourlyBreakdown, 3)
	assert.Equal(t, HourlyStats{Hour: 10, Writes: 2, Settled: 1, Failed: 1}, report.HourlyBreakdown[1])

	path, err = exporter.ExportDailyReport(testWrites(), day.AddDate(0, 0, 5), dir)
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestFromJournal(t *testing.T) {
	m := &models.WriteRecord{
		WriteID:      "w9",
		Kind:         "acquire",
		Status:       "failed",
		ErrorMessage: "acquire 3: token already sold",
		BlockRef:     7,
	}
	rec := transaction.FromJournal(m)
	assert.Equal(t, "w9", rec.ID)
	assert.Equal(t, transaction.StatusFailed, rec.Status)
	require.Error(t, rec.Err)
	assert.Equal(t, "acquire 3: token already sold", rec.Err.Error())
	assert.Equal(t, uint64(7), rec.BlockRef)
}
