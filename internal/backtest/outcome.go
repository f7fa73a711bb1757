package backtest

import (
	"fmt"
	"math"
	"time"

	"github.com/idxquant/idxpulse/internal/domain"
)

// DefaultHorizon is how far past publication a signal is marked to market
// when judging whether it called the move correctly.
const DefaultHorizon = 60 * time.Minute

// holdBand is the absolute return inside which a HOLD counts as correct.
const holdBand = 0.001

// Outcome is the realized verdict for one signal at the horizon.
// EvaluatedAt is the timestamp of the bar the signal was marked against,
// so replaying the same evaluation yields the same outcome identity.
type Outcome struct {
	SignalID    string           `json:"signal_id"`
	Ticker      string           `json:"ticker"`
	Direction   domain.Direction `json:"direction"`
	Return      float64          `json:"return"`
	Correct     bool             `json:"correct"`
	EvaluatedAt time.Time        `json:"evaluated_at"`
}

// Evaluate marks a signal to market at horizon past its publication. A BUY
// is correct on a positive return, a SELL on a negative one, and a HOLD
// when the move stayed inside the flat band.
func Evaluate(sig domain.TradeSignal, bars []domain.Bar, horizon time.Duration) (Outcome, error) {
	if sig.EntryPrice <= 0 {
		return Outcome{}, fmt.Errorf("signal %s has no entry price", sig.ID)
	}
	deadline := sig.GeneratedAt.Add(horizon)

	// Last bar at or before the horizon, but after publication.
	var mark *domain.Bar
	for i := range bars {
		bar := bars[i]
		if bar.Timestamp.After(sig.GeneratedAt) && !bar.Timestamp.After(deadline) {
			if mark == nil || bar.Timestamp.After(mark.Timestamp) {
				mark = &bars[i]
			}
		}
	}
	if mark == nil {
		return Outcome{}, fmt.Errorf("no bars within horizon for signal %s", sig.ID)
	}

	ret := (mark.Close - sig.EntryPrice) / sig.EntryPrice
	out := Outcome{
		SignalID:    sig.ID,
		Ticker:      sig.Ticker,
		Direction:   sig.Direction,
		Return:      ret,
		EvaluatedAt: mark.Timestamp,
	}
	switch sig.Direction {
	case domain.DirectionBuy:
		out.Correct = ret > 0
	case domain.DirectionSell:
		out.Correct = ret < 0
	case domain.DirectionHold:
		out.Correct = math.Abs(ret) < holdBand
	}
	return out, nil
}

// HitRate evaluates a set of signals and returns the outcomes plus the
// fraction judged correct. Signals without enough bars are skipped.
func HitRate(signals []domain.TradeSignal, barsByTicker map[string][]domain.Bar, horizon time.Duration) ([]Outcome, float64) {
	var outcomes []Outcome
	correct := 0
	for _, sig := range signals {
		out, err := Evaluate(sig, barsByTicker[sig.Ticker], horizon)
		if err != nil {
			continue
		}
		outcomes = append(outcomes, out)
		if out.Correct {
			correct++
		}
	}
	if len(outcomes) == 0 {
		return nil, 0
	}
	return outcomes, float64(correct) / float64(len(outcomes))
}
