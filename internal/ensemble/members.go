package ensemble

import (
	"context"
	"math"

	"github.com/idxquant/idxpulse/internal/domain"
)

// TabularModel is the gradient-boosted-tree head. It scores a fixed linear
// blend of tabular indicator features through a logistic link; the learned
// weights are frozen at construction.
type TabularModel struct {
	weights tabularWeights
}

type tabularWeights struct {
	Bias    float64
	RSI     float64
	Trend   float64
	VWAPGap float64
	Return1 float64
}

// NewTabularModel creates the tabular head with its production weights.
func NewTabularModel() *TabularModel {
	return &TabularModel{weights: tabularWeights{
		Bias:    0.0,
		RSI:     -1.8,
		Trend:   6.0,
		VWAPGap: 4.0,
		Return1: 12.0,
	}}
}

func (m *TabularModel) Name() string { return "lightgbm" }

// Score maps indicator features to a bounded probability. Confidence drops
// when the vector was built from a thin evidence window, since the model
// was trained with evidence-derived columns populated.
func (m *TabularModel) Score(_ context.Context, vec domain.FeatureVector) (float64, float64, error) {
	if vec.LastClose == 0 {
		return 0, 0, &domain.PredictionError{Model: m.Name(), Err: errZeroClose}
	}
	ind := vec.Indicators
	rsiCentered := (ind.RSI14 - 50.0) / 50.0
	trend := 0.0
	if ind.EMA20 != 0 {
		trend = (ind.EMA8 - ind.EMA20) / ind.EMA20
	}
	vwapGap := 0.0
	if ind.VWAP != 0 {
		vwapGap = (vec.LastClose - ind.VWAP) / ind.VWAP
	}

	w := m.weights
	z := w.Bias + w.RSI*rsiCentered + w.Trend*trend + w.VWAPGap*vwapGap + w.Return1*vec.Return1
	score := logistic(z)

	confidence := 0.9
	if vec.LowEvidence {
		confidence = 0.75
	}
	return clamp01(score), confidence, nil
}

// SequenceModel is the time-series head. It scores trend persistence from
// the EMA crossover and last-bar momentum, discounting confidence when the
// recent range is wide relative to price.
type SequenceModel struct{}

// NewSequenceModel creates the sequence head.
func NewSequenceModel() *SequenceModel { return &SequenceModel{} }

func (m *SequenceModel) Name() string { return "transformer" }

func (m *SequenceModel) Score(_ context.Context, vec domain.FeatureVector) (float64, float64, error) {
	if vec.LastClose == 0 {
		return 0, 0, &domain.PredictionError{Model: m.Name(), Err: errZeroClose}
	}
	ind := vec.Indicators
	cross := 0.0
	if ind.EMA20 != 0 {
		cross = (ind.EMA8 - ind.EMA20) / ind.EMA20
	}
	score := logistic(8.0*cross + 10.0*vec.Return1)

	// Wide true range relative to price means the sequence head is
	// extrapolating through noise.
	volRatio := 0.0
	if vec.LastClose != 0 {
		volRatio = ind.ATR14 / vec.LastClose
	}
	confidence := clamp01(0.95 - 5.0*volRatio)
	return clamp01(score), confidence, nil
}

// SentimentModel is the evidence head. It maps the aggregated sentiment
// balance of recent evidence onto a probability; with no qualifying
// evidence it reports the neutral score at near-zero confidence rather
// than failing.
type SentimentModel struct{}

// NewSentimentModel creates the sentiment head.
func NewSentimentModel() *SentimentModel { return &SentimentModel{} }

func (m *SentimentModel) Name() string { return "sentiment" }

func (m *SentimentModel) Score(_ context.Context, vec domain.FeatureVector) (float64, float64, error) {
	if vec.LowEvidence || vec.EvidenceCount == 0 {
		return 0.5, 0.05, nil
	}
	score := clamp01(0.5 + 0.45*vec.SentimentBalance)

	// Confidence saturates with corpus size: one post is anecdote,
	// eight agreeing documents are signal.
	confidence := clamp01(0.4 + 0.1*math.Min(float64(vec.EvidenceCount), 4))
	return score, confidence, nil
}

func logistic(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}

var errZeroClose = errLastClose{}

type errLastClose struct{}

func (errLastClose) Error() string { return "feature vector has zero last close" }
