package ensemble

import (
	"context"

	"github.com/idxquant/idxpulse/internal/domain"
)

// Model is the single capability every ensemble member implements: given a
// feature vector, return a score in [0,1] plus a self-reported confidence
// in [0,1]. Members must be deterministic for fixed parameters so that a
// rerun over the same vector is bit-for-bit reproducible.
type Model interface {
	Name() string
	Score(ctx context.Context, vec domain.FeatureVector) (score, confidence float64, err error)
}

// Fuse combines member scores by confidence-weighted averaging. When every
// confidence is zero the unweighted mean is used instead, so the result
// always lies within the convex hull of the inputs. An empty set fuses to
// the neutral 0.5.
func Fuse(scores []domain.ModelScore) float64 {
	if len(scores) == 0 {
		return 0.5
	}
	weightedSum := 0.0
	totalWeight := 0.0
	plainSum := 0.0
	for _, s := range scores {
		weightedSum += s.Score * s.Confidence
		totalWeight += s.Confidence
		plainSum += s.Score
	}
	if totalWeight == 0 {
		return plainSum / float64(len(scores))
	}
	return weightedSum / totalWeight
}

// Thresholds bound the HOLD band of the combined score.
type Thresholds struct {
	Buy  float64
	Sell float64
}

// DefaultThresholds returns the standard decision band.
func DefaultThresholds() Thresholds {
	return Thresholds{Buy: 0.70, Sell: 0.30}
}

// Direction maps a combined score onto a trade direction. The mapping is
// monotonic: a higher combined score never yields a lower-ranked direction.
func (t Thresholds) Direction(combined float64) domain.Direction {
	switch {
	case combined >= t.Buy:
		return domain.DirectionBuy
	case combined <= t.Sell:
		return domain.DirectionSell
	default:
		return domain.DirectionHold
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
