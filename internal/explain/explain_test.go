package explain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idxquant/idxpulse/internal/capability"
	"github.com/idxquant/idxpulse/internal/config"
	"github.com/idxquant/idxpulse/internal/domain"
	"github.com/idxquant/idxpulse/internal/store"
)

var testAsOf = time.Date(2026, 3, 4, 16, 0, 0, 0, time.UTC)

func testVector() domain.FeatureVector {
	return domain.FeatureVector{
		Ticker:    "BBCA",
		AsOf:      testAsOf,
		LastClose: 9500,
		Indicators: domain.Indicators{
			RSI14: 62, EMA8: 9480, EMA20: 9400, VWAP: 9450, ATR14: 120,
		},
	}
}

func seedDoc(t *testing.T, mem *store.Memory, id string, kind domain.MediaKind, sentiment domain.Sentiment, age time.Duration) {
	t.Helper()
	_, _, err := mem.UpsertEvidence(context.Background(), domain.EvidenceDocument{
		ID: id, Kind: kind, Title: "Item " + id,
		CapturedAt: testAsOf.Add(-age),
		Snippet:    "snippet " + id,
		Sentiment:  sentiment,
		SourceID:   id, ContentHash: id,
		Tickers: []string{"BBCA"},
	})
	require.NoError(t, err)
}

func newTestExplainer(mem *store.Memory) *Explainer {
	cfg := config.Default()
	return NewExplainer(capability.NewOffline(), mem, cfg.Pipeline.EvidenceWindow, cfg.Explain)
}

func TestExplainEmptyPoolFallsBackToTechnical(t *testing.T) {
	e := newTestExplainer(store.NewMemory())

	reasoning, citations := e.Explain(context.Background(), testVector(), domain.DirectionBuy, 0.92)
	assert.Empty(t, citations)
	assert.Contains(t, reasoning, "BBCA")
	assert.Contains(t, reasoning, "technical indicators alone")
}

func TestExplainRanksAlignedEvidenceFirst(t *testing.T) {
	mem := store.NewMemory()
	seedDoc(t, mem, "pos", domain.MediaNews, domain.SentimentPositive, 2*time.Hour)
	seedDoc(t, mem, "neg", domain.MediaNews, domain.SentimentNegative, 2*time.Hour)
	e := newTestExplainer(mem)

	citations := e.topEvidence(context.Background(), "BBCA", domain.DirectionBuy, testAsOf)
	require.Len(t, citations, 2)
	assert.Equal(t, "pos", citations[0].ID)
	assert.Greater(t, citations[0].Relevance, citations[1].Relevance)

	citations = e.topEvidence(context.Background(), "BBCA", domain.DirectionSell, testAsOf)
	require.Len(t, citations, 2)
	assert.Equal(t, "neg", citations[0].ID)
}

func TestExplainCapsCitationsAtTopK(t *testing.T) {
	mem := store.NewMemory()
	for i := 0; i < 8; i++ {
		seedDoc(t, mem, string(rune('a'+i)), domain.MediaNews, domain.SentimentPositive, time.Duration(i)*time.Hour)
	}
	e := newTestExplainer(mem)

	citations := e.topEvidence(context.Background(), "BBCA", domain.DirectionBuy, testAsOf)
	assert.Len(t, citations, 5)
	// Fresher documents decay less and rank first.
	assert.Equal(t, "a", citations[0].ID)
}

type brokenGenerator struct {
	*capability.Offline
}

func (brokenGenerator) Generate(context.Context, string) (string, error) {
	return "", &capability.CallError{Capability: "generate", Transient: true, Err: context.DeadlineExceeded}
}

func TestExplainGenerationFailureUsesTemplate(t *testing.T) {
	mem := store.NewMemory()
	seedDoc(t, mem, "pos", domain.MediaVideo, domain.SentimentPositive, time.Hour)

	cfg := config.Default()
	e := NewExplainer(brokenGenerator{capability.NewOffline()}, mem, cfg.Pipeline.EvidenceWindow, cfg.Explain)

	reasoning, citations := e.Explain(context.Background(), testVector(), domain.DirectionBuy, 0.92)
	require.Len(t, citations, 1)
	assert.Contains(t, reasoning, "Item pos")
	assert.Contains(t, reasoning, "[1]")
}
