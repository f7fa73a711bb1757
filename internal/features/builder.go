package features

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/idxquant/idxpulse/internal/domain"
	"github.com/idxquant/idxpulse/internal/marketdata"
)

// EvidenceSource yields stored evidence mentioning a ticker inside a time
// window. The feature builder treats the result as an immutable snapshot.
type EvidenceSource interface {
	EvidenceInWindow(ctx context.Context, ticker string, from, to time.Time) ([]domain.EvidenceDocument, error)
}

// BuilderConfig holds feature-window parameters.
type BuilderConfig struct {
	EvidenceWindow  time.Duration
	MinRelevance    float64
	RecencyHalflife time.Duration
	MinHistoryBars  int
	RSIPeriod       int
	ATRPeriod       int
	VWAPWindow      int
}

// DefaultBuilderConfig returns the standard indicator windows.
func DefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{
		EvidenceWindow:  48 * time.Hour,
		MinRelevance:    0.3,
		RecencyHalflife: RecencyHalflife,
		MinHistoryBars:  15,
		RSIPeriod:       14,
		ATRPeriod:       14,
		VWAPWindow:      20,
	}
}

// Builder computes model-ready feature vectors. Given an identical evidence
// snapshot and as-of timestamp, the output is identical; there is no clock
// or randomness inside.
type Builder struct {
	history  marketdata.HistoryProvider
	evidence EvidenceSource
	cfg      BuilderConfig
}

// NewBuilder creates a feature builder.
func NewBuilder(history marketdata.HistoryProvider, evidence EvidenceSource, cfg BuilderConfig) *Builder {
	return &Builder{history: history, evidence: evidence, cfg: cfg}
}

// Build computes the feature vector for one ticker at asOf. Missing or
// stale price history is a hard error; missing evidence only sets the
// low-evidence flag with zero-filled evidence features.
func (b *Builder) Build(ctx context.Context, ticker string, asOf time.Time) (domain.FeatureVector, error) {
	bars, err := b.history.Bars(ctx, ticker, asOf, b.cfg.MinHistoryBars+b.cfg.VWAPWindow)
	if err != nil {
		return domain.FeatureVector{}, &domain.FeatureError{
			Ticker: ticker,
			Kind:   domain.InsufficientHistory,
			Err:    err,
		}
	}
	if len(bars) < b.cfg.MinHistoryBars {
		return domain.FeatureVector{}, &domain.FeatureError{
			Ticker: ticker,
			Kind:   domain.InsufficientHistory,
			Err:    fmt.Errorf("have %d bars, need %d", len(bars), b.cfg.MinHistoryBars),
		}
	}

	last := bars[len(bars)-1]
	vec := domain.FeatureVector{
		Ticker: ticker,
		AsOf:   asOf,
		Indicators: domain.Indicators{
			RSI14: RSI(bars, b.cfg.RSIPeriod),
			EMA8:  EMA(bars, 8),
			EMA20: EMA(bars, 20),
			VWAP:  VWAP(bars, b.cfg.VWAPWindow),
			ATR14: ATR(bars, b.cfg.ATRPeriod),
		},
		LastClose:      last.Close,
		TrailingVolume: trailingVolume(bars),
	}
	if prev := bars[len(bars)-2].Close; prev != 0 {
		vec.Return1 = (last.Close - prev) / prev
	}

	docs, err := b.evidence.EvidenceInWindow(ctx, ticker, asOf.Add(-b.cfg.EvidenceWindow), asOf)
	if err != nil {
		return domain.FeatureVector{}, fmt.Errorf("failed to load evidence for %s: %w", ticker, err)
	}
	b.aggregateEvidence(&vec, docs, asOf)

	log.Debug().
		Str("ticker", ticker).
		Time("as_of", asOf).
		Int("evidence", vec.EvidenceCount).
		Bool("low_evidence", vec.LowEvidence).
		Msg("Feature vector built")
	return vec, nil
}

// aggregateEvidence mean-pools embeddings and balances sentiment over the
// qualifying documents. Documents are ordered (relevance desc, recency
// desc, id asc) before pooling so the aggregation is reproducible for a
// given store snapshot.
func (b *Builder) aggregateEvidence(vec *domain.FeatureVector, docs []domain.EvidenceDocument, asOf time.Time) {
	qualified := docs[:0:0]
	for _, doc := range docs {
		if Relevance(doc, vec.Ticker, asOf, b.cfg.RecencyHalflife) >= b.cfg.MinRelevance {
			qualified = append(qualified, doc)
		}
	}
	if len(qualified) == 0 {
		vec.LowEvidence = true
		return
	}
	sort.Slice(qualified, func(i, j int) bool {
		ri := Relevance(qualified[i], vec.Ticker, asOf, b.cfg.RecencyHalflife)
		rj := Relevance(qualified[j], vec.Ticker, asOf, b.cfg.RecencyHalflife)
		if ri != rj {
			return ri > rj
		}
		if !qualified[i].CapturedAt.Equal(qualified[j].CapturedAt) {
			return qualified[i].CapturedAt.After(qualified[j].CapturedAt)
		}
		return qualified[i].ID < qualified[j].ID
	})

	var pooled []float64
	balance := 0.0
	for _, doc := range qualified {
		switch doc.Sentiment {
		case domain.SentimentPositive:
			balance++
		case domain.SentimentNegative:
			balance--
		}
		if len(doc.Embedding) == 0 {
			continue
		}
		if pooled == nil {
			pooled = make([]float64, len(doc.Embedding))
		}
		for i, v := range doc.Embedding {
			if i < len(pooled) {
				pooled[i] += v
			}
		}
	}
	if pooled != nil {
		for i := range pooled {
			pooled[i] /= float64(len(qualified))
		}
	}
	vec.EvidenceEmbedding = pooled
	vec.EvidenceCount = len(qualified)
	vec.SentimentBalance = balance / float64(len(qualified))
}

// trailingVolume sums share volume over the most recent trading day's
// worth of bars.
func trailingVolume(bars []domain.Bar) float64 {
	if len(bars) == 0 {
		return 0
	}
	cutoff := bars[len(bars)-1].Timestamp.Add(-24 * time.Hour)
	total := 0.0
	for _, bar := range bars {
		if bar.Timestamp.After(cutoff) {
			total += bar.Volume
		}
	}
	return total
}
