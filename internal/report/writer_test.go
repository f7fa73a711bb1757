package report

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idxquant/idxpulse/internal/domain"
)

func TestFromSignalsFiltersByDateAndSorts(t *testing.T) {
	day := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	signals := []domain.TradeSignal{
		{ID: "rec-2026-03-04-TLKM", Ticker: "TLKM", GeneratedAt: day.Add(16 * time.Hour)},
		{ID: "rec-2026-03-03-BBCA", Ticker: "BBCA", GeneratedAt: day.Add(-8 * time.Hour)},
		{ID: "rec-2026-03-04-ASII", Ticker: "ASII", GeneratedAt: day.Add(16 * time.Hour)},
	}

	summary := FromSignals(day, signals)
	assert.Equal(t, 2, summary.Published)
	assert.Zero(t, summary.Failed)
	require.Len(t, summary.Results, 2)
	assert.Equal(t, "ASII", summary.Results[0].Ticker)
	assert.Equal(t, "TLKM", summary.Results[1].Ticker)
}

func TestWriteRunEmitsArtifacts(t *testing.T) {
	day := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	summary := FromSignals(day, []domain.TradeSignal{{
		ID:          "rec-2026-03-04-BBCA",
		Ticker:      "BBCA",
		Direction:   domain.DirectionBuy,
		Confidence:  92,
		GeneratedAt: day.Add(16 * time.Hour),
		Reasoning:   "Momentum and positive evidence align.",
	}})

	dir := t.TempDir()
	runDir, err := NewWriter(dir).WriteRun(summary)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "2026-03-04"), runDir)

	jsonl, err := os.ReadFile(filepath.Join(runDir, "signals.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(jsonl), "rec-2026-03-04-BBCA")

	md, err := os.ReadFile(filepath.Join(runDir, "report.md"))
	require.NoError(t, err)
	assert.Contains(t, string(md), "| BBCA | BUY | 92 |")
}
