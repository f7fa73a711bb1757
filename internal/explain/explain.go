// Package explain retrieves the evidence behind a recommendation and turns
// it into a grounded, cited rationale.
package explain

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/idxquant/idxpulse/internal/capability"
	"github.com/idxquant/idxpulse/internal/config"
	"github.com/idxquant/idxpulse/internal/domain"
	"github.com/idxquant/idxpulse/internal/features"
)

// EvidenceSource is the slice of the store the explainer reads.
type EvidenceSource interface {
	EvidenceInWindow(ctx context.Context, ticker string, from, to time.Time) ([]domain.EvidenceDocument, error)
}

// Explainer produces the reasoning text and citation list for a signal.
type Explainer struct {
	caps     capability.Client
	evidence EvidenceSource
	window   time.Duration
	cfg      config.ExplainConfig
}

// NewExplainer creates an explainer over the given evidence window.
func NewExplainer(caps capability.Client, evidence EvidenceSource, window time.Duration, cfg config.ExplainConfig) *Explainer {
	return &Explainer{caps: caps, evidence: evidence, window: window, cfg: cfg}
}

// Explain returns the rationale and its supporting citations for one
// scored ticker. Generation failures degrade to a templated citation-only
// rationale; an empty evidence pool degrades to an indicators-only
// rationale with no citations. Neither case is an error.
func (e *Explainer) Explain(ctx context.Context, vec domain.FeatureVector, direction domain.Direction, combined float64) (string, []domain.EvidenceDocument) {
	citations := e.topEvidence(ctx, vec.Ticker, direction, vec.AsOf)
	if len(citations) == 0 {
		return technicalRationale(vec, direction), nil
	}

	prompt := buildPrompt(vec, direction, combined, citations)
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	reasoning, err := e.caps.Generate(callCtx, prompt)
	if err != nil {
		eErr := &domain.ExplanationError{Err: err}
		log.Warn().Str("ticker", vec.Ticker).Err(eErr).Msg("Rationale generation failed, using template")
		return citationRationale(vec, direction, citations), citations
	}
	return reasoning, citations
}

// topEvidence ranks the window's documents by relevance times direction
// alignment and returns the top K, ties broken by recency then id.
func (e *Explainer) topEvidence(ctx context.Context, ticker string, direction domain.Direction, asOf time.Time) []domain.EvidenceDocument {
	docs, err := e.evidence.EvidenceInWindow(ctx, ticker, asOf.Add(-e.window), asOf)
	if err != nil {
		log.Warn().Str("ticker", ticker).Err(err).Msg("Evidence retrieval failed, explaining without citations")
		return nil
	}

	scored := docs[:0:0]
	for _, doc := range docs {
		doc.Relevance = features.Relevance(doc, ticker, asOf, e.cfg.RecencyHalflife) * alignment(doc.Sentiment, direction)
		if doc.Relevance > 0 {
			scored = append(scored, doc)
		}
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Relevance != scored[j].Relevance {
			return scored[i].Relevance > scored[j].Relevance
		}
		if !scored[i].CapturedAt.Equal(scored[j].CapturedAt) {
			return scored[i].CapturedAt.After(scored[j].CapturedAt)
		}
		return scored[i].ID < scored[j].ID
	})
	if len(scored) > e.cfg.TopK {
		scored = scored[:e.cfg.TopK]
	}
	return scored
}

// alignment weights evidence by whether its sentiment supports the
// recommended direction. Conflicting evidence is kept at a reduced weight
// so strong counter-signals still surface in the citations.
func alignment(sentiment domain.Sentiment, direction domain.Direction) float64 {
	switch direction {
	case domain.DirectionBuy:
		switch sentiment {
		case domain.SentimentPositive:
			return 1.0
		case domain.SentimentNeutral:
			return 0.6
		default:
			return 0.3
		}
	case domain.DirectionSell:
		switch sentiment {
		case domain.SentimentNegative:
			return 1.0
		case domain.SentimentNeutral:
			return 0.6
		default:
			return 0.3
		}
	default:
		if sentiment == domain.SentimentNeutral {
			return 1.0
		}
		return 0.6
	}
}
