package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idxquant/idxpulse/internal/domain"
)

func markBars(closes map[time.Duration]float64) []domain.Bar {
	var bars []domain.Bar
	for offset, close := range closes {
		bars = append(bars, domain.Bar{Timestamp: signalAt.Add(offset), Close: close})
	}
	return bars
}

func TestEvaluateDirections(t *testing.T) {
	bars := markBars(map[time.Duration]float64{
		30 * time.Minute: 1020,
		55 * time.Minute: 1040,
		90 * time.Minute: 900, // beyond horizon, must be ignored
	})

	buy := buySignal()
	out, err := Evaluate(buy, bars, DefaultHorizon)
	require.NoError(t, err)
	assert.InDelta(t, 0.04, out.Return, 1e-9)
	assert.True(t, out.Correct)
	assert.Equal(t, signalAt.Add(55*time.Minute), out.EvaluatedAt)

	sell := buy
	sell.Direction = domain.DirectionSell
	out, err = Evaluate(sell, bars, DefaultHorizon)
	require.NoError(t, err)
	assert.False(t, out.Correct)

	hold := buy
	hold.Direction = domain.DirectionHold
	out, err = Evaluate(hold, bars, DefaultHorizon)
	require.NoError(t, err)
	assert.False(t, out.Correct)
}

func TestEvaluateHoldWithinFlatBand(t *testing.T) {
	bars := markBars(map[time.Duration]float64{45 * time.Minute: 1000.5})
	hold := buySignal()
	hold.Direction = domain.DirectionHold

	out, err := Evaluate(hold, bars, DefaultHorizon)
	require.NoError(t, err)
	assert.True(t, out.Correct)
}

func TestEvaluateNoBarsWithinHorizon(t *testing.T) {
	bars := markBars(map[time.Duration]float64{2 * time.Hour: 1010})
	_, err := Evaluate(buySignal(), bars, DefaultHorizon)
	assert.Error(t, err)
}

func TestHitRate(t *testing.T) {
	up := markBars(map[time.Duration]float64{50 * time.Minute: 1100})
	down := markBars(map[time.Duration]float64{50 * time.Minute: 900})

	winner := buySignal()
	loser := buySignal()
	loser.ID = "rec-2026-03-04-GOTO"
	loser.Ticker = "GOTO"

	outcomes, rate := HitRate(
		[]domain.TradeSignal{winner, loser},
		map[string][]domain.Bar{"BBCA": up, "GOTO": down},
		DefaultHorizon,
	)
	require.Len(t, outcomes, 2)
	assert.InDelta(t, 0.5, rate, 1e-9)
}
