package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idxquant/idxpulse/internal/domain"
)

func TestUpsertEvidenceIsIdempotent(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()
	doc := domain.EvidenceDocument{
		ID: "doc-1", Kind: domain.MediaNews, SourceID: "src-1", ContentHash: "abc",
		CapturedAt: time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC),
		Tickers:    []string{"BBCA"},
	}

	first, created, err := mem.UpsertEvidence(ctx, doc)
	require.NoError(t, err)
	assert.True(t, created)

	dup := doc
	dup.ID = "doc-2" // same source and hash, different candidate id
	second, created, err := mem.UpsertEvidence(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	docs, err := mem.EvidenceInWindow(ctx, "BBCA", doc.CapturedAt.Add(-time.Hour), doc.CapturedAt.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestEvidenceInWindowFiltersAndOrders(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	for i, offset := range []time.Duration{2 * time.Hour, 0, time.Hour} {
		_, _, err := mem.UpsertEvidence(ctx, domain.EvidenceDocument{
			ID:          string(rune('a' + i)),
			SourceID:    string(rune('a' + i)),
			ContentHash: string(rune('a' + i)),
			CapturedAt:  base.Add(offset),
			Tickers:     []string{"TLKM"},
		})
		require.NoError(t, err)
	}
	_, _, err := mem.UpsertEvidence(ctx, domain.EvidenceDocument{
		ID: "other", SourceID: "other", ContentHash: "x",
		CapturedAt: base, Tickers: []string{"GOTO"},
	})
	require.NoError(t, err)

	docs, err := mem.EvidenceInWindow(ctx, "TLKM", base, base.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.True(t, docs[0].CapturedAt.Before(docs[1].CapturedAt))
	assert.True(t, docs[1].CapturedAt.Before(docs[2].CapturedAt))
}

func TestPublishSignalIdempotent(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()
	sig := domain.TradeSignal{ID: "rec-2026-03-04-BBCA", Ticker: "BBCA", Direction: domain.DirectionBuy, Confidence: 92}

	require.NoError(t, mem.PublishSignal(ctx, sig))
	replay := sig
	replay.Confidence = 10
	require.NoError(t, mem.PublishSignal(ctx, replay))

	stored, err := mem.GetSignal(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, 92, stored.Confidence)

	signals, err := mem.ListSignals(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, signals, 1)
}

func TestGetSignalUnknown(t *testing.T) {
	mem := NewMemory()
	_, err := mem.GetSignal(context.Background(), "rec-2026-03-04-ZZZZ")
	assert.ErrorIs(t, err, domain.ErrUnknownSignal)
}

func TestAppendFeedbackRejectsUnknownSignal(t *testing.T) {
	mem := NewMemory()
	_, err := mem.AppendFeedback(context.Background(), domain.FeedbackRecord{
		SignalID:  "rec-2026-03-04-ZZZZ",
		Verdict:   domain.VerdictValid,
		VerdictAt: time.Now().UTC(),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnknownSignal))

	records, err := mem.ListFeedback(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestAppendFeedbackIdempotentOnRetry(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.PublishSignal(ctx, domain.TradeSignal{ID: "rec-2026-03-04-ASII"}))

	at := time.Date(2026, 3, 4, 17, 0, 0, 0, time.UTC)
	rec := domain.FeedbackRecord{SignalID: "rec-2026-03-04-ASII", Verdict: domain.VerdictInvalid, VerdictAt: at}

	first, err := mem.AppendFeedback(ctx, rec)
	require.NoError(t, err)
	second, err := mem.AppendFeedback(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	history, err := mem.FeedbackForSignal(ctx, "rec-2026-03-04-ASII")
	require.NoError(t, err)
	assert.Len(t, history, 1)

	// A later re-review appends rather than overwrites.
	_, err = mem.AppendFeedback(ctx, domain.FeedbackRecord{
		SignalID: "rec-2026-03-04-ASII", Verdict: domain.VerdictValid, VerdictAt: at.Add(time.Hour),
	})
	require.NoError(t, err)
	history, err = mem.FeedbackForSignal(ctx, "rec-2026-03-04-ASII")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestRetrainingQueueDelivery(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.PublishSignal(ctx, domain.TradeSignal{ID: "rec-2026-03-04-BBRI"}))

	at := time.Date(2026, 3, 4, 17, 0, 0, 0, time.UTC)
	first, err := mem.AppendFeedback(ctx, domain.FeedbackRecord{SignalID: "rec-2026-03-04-BBRI", Verdict: domain.VerdictValid, VerdictAt: at})
	require.NoError(t, err)
	second, err := mem.AppendFeedback(ctx, domain.FeedbackRecord{SignalID: "rec-2026-03-04-BBRI", Verdict: domain.VerdictInvalid, VerdictAt: at.Add(time.Minute)})
	require.NoError(t, err)

	pending, err := mem.UndeliveredFeedback(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	require.NoError(t, mem.MarkDelivered(ctx, []int64{first.ID}))
	pending, err = mem.UndeliveredFeedback(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].ID)
}
