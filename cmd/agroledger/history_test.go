package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/agro-ledger/internal/export"
	"github.com/rovshanmuradov/agro-ledger/internal/transaction"
)

// journalRows are returned newest first, as the journal lists them.
func journalRows() []transaction.Record {
	day := time.Date(2026, 5, 1, 0, 0, 0, 0, time.Local)
	return []transaction.Record{
		{ID: "w3", Kind: "confirm_delivery", TokenID: "0", Status: transaction.StatusPending, CreatedAt: day.Add(30 * time.Hour)},
		{ID: "w2", Kind: "acquire", TokenID: "0", Payment: "80000000000000000", Status: transaction.StatusSettled, CreatedAt: day.Add(11 * time.Hour)},
		{ID: "w1", Kind: "issue", TokenID: "", Status: transaction.StatusFailed, Transient: true, CreatedAt: day.Add(9 * time.Hour)},
	}
}

func TestHistorySummary(t *testing.T) {
	var out bytes.Buffer
	opts := historyOptions{summary: true}
	require.NoError(t, opts.report(&out, export.NewWriteExporter(zaptest.NewLogger(t)), journalRows()))

	text := out.String()
	assert.Regexp(t, `writes\s+3\n`, text)
	assert.Regexp(t, `failed\s+1 \(1 transient\)`, text)
	assert.Regexp(t, `pending\s+1\n`, text)
	assert.Regexp(t, `tokens\s+1\n`, text)
	assert.Regexp(t, `paid\s+80000000000000000 base units`, text)
	assert.Regexp(t, `acquire\s+1\n`, text)
	assert.Regexp(t, `period\s+2026-05-01 09:00:00 \.\. 2026-05-02 06:00:00`, text)
}

func TestHistoryDailyReport(t *testing.T) {
	dir := t.TempDir()
	we := export.NewWriteExporter(zaptest.NewLogger(t))

	var out bytes.Buffer
	opts := historyOptions{daily: "2026-05-01", out: dir}
	require.NoError(t, opts.report(&out, we, journalRows()))

	path := filepath.Join(dir, "daily_report_20260501.json")
	assert.Equal(t, "exported "+path+"\n", out.String())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var report export.DailyReport
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, 2, report.WriteCount)
	assert.Equal(t, 1, report.Summary.Settled)

	out.Reset()
	opts.daily = "2026-06-01"
	require.NoError(t, opts.report(&out, we, journalRows()))
	assert.Equal(t, "no writes on 2026-06-01\n", out.String())

	opts.daily = "01.05.2026"
	assert.Error(t, opts.report(&out, we, journalRows()))
}
