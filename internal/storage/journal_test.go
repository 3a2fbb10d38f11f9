package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"structwatch/internal/report"
)

func TestJournalAppendOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api-monitoring", JournalFileName)
	j := NewFileJournal(path)
	ctx := context.Background()

	var prefixes [][]byte
	for i := 0; i < 4; i++ {
		r := report.Build(fmt.Sprintf("run-%d", i), time.Date(2025, 10, 18, i, 0, 0, 0, time.UTC),
			[]report.TargetResult{{Target: "search", Outcome: report.OutcomeUnchanged}}, nil)
		require.NoError(t, j.Append(ctx, r))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		for _, p := range prefixes {
			assert.True(t, bytes.HasPrefix(data, p), "earlier journal content was altered")
		}
		prefixes = append(prefixes, data)
	}

	entries, err := j.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 4)
	for i, e := range entries {
		assert.Equal(t, fmt.Sprintf("run-%d", i), e.RunID)
	}
}

func TestJournalEntryFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), JournalFileName)
	j := NewFileJournal(path)

	at := time.Date(2025, 10, 18, 9, 30, 0, 0, time.UTC)
	r := report.Build("run-x", at,
		[]report.TargetResult{{Target: "search", Outcome: report.OutcomeChanged}},
		[]report.ChangeEvent{{Page: "search", URL: "https://search.example.test/", PreviousHash: "f1", CurrentHash: "f2", DetectedAt: at}})
	require.NoError(t, j.Append(context.Background(), r))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)

	assert.True(t, bytes.HasPrefix(data, []byte("\n{\n  ")), "entry starts on a fresh line with indented JSON")
	assert.Contains(t, text, `"status": "changes_detected"`)
	assert.Contains(t, text, `"previous_hash": "f1"`)
	assert.Contains(t, text, `"detection_time": "2025-10-18T09:30:00Z"`)
}

// Записи в старом формате: время без зоны, нет run_id и targets.
const legacyJournal = `
{
  "detection_time": "2025-01-10T09:00:01.123456",
  "detected_changes": [],
  "status": "ok"
}

{
  "detection_time": "2025-01-11T09:00:02.654321",
  "detected_changes": [
    {
      "page": "search",
      "url": "https://search.rakuten.co.jp/search/mall/",
      "previous_hash": "834e8876bdee955a1a1b6959e890cf6c",
      "current_hash": "5afb77d60d9aa826c2ded3fb8d60d77d",
      "detected_at": "2025-01-11T09:00:03.000001"
    }
  ],
  "status": "changes_detected"
}
`

func TestJournalReadsLegacyEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), JournalFileName)
	require.NoError(t, os.WriteFile(path, []byte(legacyJournal), 0o644))
	j := NewFileJournal(path)

	at := time.Date(2025, 10, 18, 9, 30, 0, 0, time.UTC)
	require.NoError(t, j.Append(context.Background(), report.Build("run-new", at, nil, nil)))

	entries, err := j.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, report.StatusOK, entries[0].Status)
	assert.True(t, time.Date(2025, 1, 10, 9, 0, 1, 123456000, time.Local).Equal(entries[0].DetectionTime))
	assert.Empty(t, entries[0].RunID)

	require.Len(t, entries[1].DetectedChanges, 1)
	ev := entries[1].DetectedChanges[0]
	assert.Equal(t, "search", ev.Page)
	assert.True(t, time.Date(2025, 1, 11, 9, 0, 3, 1000, time.Local).Equal(ev.DetectedAt))

	assert.Equal(t, "run-new", entries[2].RunID)
	assert.True(t, at.Equal(entries[2].DetectionTime))
}

func TestJournalEntriesMissingFile(t *testing.T) {
	entries, err := NewFileJournal(filepath.Join(t.TempDir(), JournalFileName)).Entries()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPathsFor(t *testing.T) {
	p := PathsFor(filepath.Join("data", "api-monitoring"))
	assert.Equal(t, filepath.Join("data", "api-monitoring", "baseline.json"), p.Baseline)
	assert.Equal(t, filepath.Join("data", "api-monitoring", "changes.log"), p.Journal)
}
