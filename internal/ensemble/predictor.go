package ensemble

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/idxquant/idxpulse/internal/domain"
)

// Prediction is the fused output of one ensemble run over a feature vector.
type Prediction struct {
	Scores   []domain.ModelScore `json:"scores"`
	Combined float64             `json:"combined"`
}

// Predictor runs an explicit ordered list of ensemble members and fuses
// their scores. Members are fixed at construction; there is no runtime
// registry lookup.
type Predictor struct {
	members    []Model
	thresholds Thresholds
}

// NewPredictor creates a predictor over the given members, in order.
func NewPredictor(thresholds Thresholds, members ...Model) (*Predictor, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("predictor requires at least one ensemble member")
	}
	return &Predictor{members: members, thresholds: thresholds}, nil
}

// NewDefaultPredictor wires the standard three-member ensemble.
func NewDefaultPredictor(thresholds Thresholds) *Predictor {
	p, _ := NewPredictor(thresholds,
		NewTabularModel(),
		NewSequenceModel(),
		NewSentimentModel(),
	)
	return p
}

// Predict scores the vector with every member and fuses the results. A
// failing member fails the whole prediction for this vector: partial
// ensembles are not silently published, and the caller isolates the
// failure to this ticker.
func (p *Predictor) Predict(ctx context.Context, vec domain.FeatureVector) (Prediction, error) {
	scores := make([]domain.ModelScore, 0, len(p.members))
	for _, member := range p.members {
		score, confidence, err := member.Score(ctx, vec)
		if err != nil {
			return Prediction{}, &domain.PredictionError{Model: member.Name(), Err: err}
		}
		if score < 0 || score > 1 || confidence < 0 || confidence > 1 {
			return Prediction{}, &domain.PredictionError{
				Model: member.Name(),
				Err:   fmt.Errorf("out-of-range output score=%f confidence=%f", score, confidence),
			}
		}
		scores = append(scores, domain.ModelScore{
			Model:      member.Name(),
			Score:      score,
			Confidence: confidence,
		})
	}

	combined := Fuse(scores)
	log.Debug().
		Str("ticker", vec.Ticker).
		Float64("combined", combined).
		Int("members", len(scores)).
		Msg("Ensemble prediction fused")
	return Prediction{Scores: scores, Combined: combined}, nil
}

// Direction applies the decision thresholds to a combined score.
func (p *Predictor) Direction(combined float64) domain.Direction {
	return p.thresholds.Direction(combined)
}

// Confidence scales a combined score to the published [0,100] range.
func Confidence(combined float64) int {
	c := int(clamp01(combined)*100 + 0.5)
	if c > 100 {
		c = 100
	}
	return c
}
