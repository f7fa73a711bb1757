package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idxquant/idxpulse/internal/domain"
)

var signalAt = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

func minuteBars(opens []float64, span float64, volume float64) []domain.Bar {
	bars := make([]domain.Bar, len(opens))
	for i, open := range opens {
		bars[i] = domain.Bar{
			Timestamp: signalAt.Add(time.Duration(i+1) * time.Minute),
			Open:      open,
			High:      open + span,
			Low:       open - span,
			Close:     open,
			Volume:    volume,
		}
	}
	return bars
}

func buySignal() domain.TradeSignal {
	return domain.TradeSignal{
		ID:          "rec-2026-03-04-BBCA",
		Ticker:      "BBCA",
		Direction:   domain.DirectionBuy,
		GeneratedAt: signalAt,
		EntryPrice:  1000,
		StopLoss:    950,
		TargetPrice: 1100,
	}
}

func TestSimulateHitsTarget(t *testing.T) {
	bars := minuteBars([]float64{1000, 1010, 1050, 1120}, 5, 10_000_000)
	sim := NewSimulator(DefaultConfig())

	trade, err := sim.Simulate(buySignal(), bars)
	require.NoError(t, err)
	assert.Equal(t, ExitTarget, trade.ExitReason)
	assert.Equal(t, 1100.0, trade.ExitPrice)
	assert.Greater(t, trade.NetPnL, 0.0)
	// Manual delay skips the first bar.
	assert.Equal(t, bars[1].Timestamp, trade.EntryTime)
}

func TestSimulateStopFillsBeforeTargetInSameBar(t *testing.T) {
	// One wide bar spans both levels; the conservative fill is the stop.
	bars := minuteBars([]float64{1000, 1000}, 200, 10_000_000)
	sim := NewSimulator(DefaultConfig())

	trade, err := sim.Simulate(buySignal(), bars)
	require.NoError(t, err)
	assert.Equal(t, ExitStop, trade.ExitReason)
	assert.Equal(t, 950.0, trade.ExitPrice)
	assert.Less(t, trade.NetPnL, 0.0)
}

func TestSimulateSessionEndExit(t *testing.T) {
	bars := minuteBars([]float64{1000, 1001, 1002, 1001}, 1, 10_000_000)
	sim := NewSimulator(DefaultConfig())

	trade, err := sim.Simulate(buySignal(), bars)
	require.NoError(t, err)
	assert.Equal(t, ExitSession, trade.ExitReason)
}

func TestSimulateSlippageScalesWithParticipation(t *testing.T) {
	thin := minuteBars([]float64{1000, 1001, 1002, 1120}, 1, 50_000)
	deep := minuteBars([]float64{1000, 1001, 1002, 1120}, 1, 50_000_000)
	sim := NewSimulator(DefaultConfig())

	thinTrade, err := sim.Simulate(buySignal(), thin)
	require.NoError(t, err)
	deepTrade, err := sim.Simulate(buySignal(), deep)
	require.NoError(t, err)
	assert.Greater(t, thinTrade.EntryPrice, deepTrade.EntryPrice)
}

func TestSimulateFrictionsReduceProfit(t *testing.T) {
	bars := minuteBars([]float64{1000, 1000, 1120}, 1, 10_000_000_000)

	frictionless := DefaultConfig()
	frictionless.CommissionRate = 0
	frictionless.SaleTaxRate = 0
	frictionless.SlippageFactor = 0

	costly := DefaultConfig()
	costly.SlippageFactor = 0

	free, err := NewSimulator(frictionless).Simulate(buySignal(), bars)
	require.NoError(t, err)
	taxed, err := NewSimulator(costly).Simulate(buySignal(), bars)
	require.NoError(t, err)
	assert.Greater(t, free.NetPnL, taxed.NetPnL)
}

func TestRunSkipsHoldsAndUntradable(t *testing.T) {
	hold := buySignal()
	hold.ID = "rec-2026-03-04-TLKM"
	hold.Ticker = "TLKM"
	hold.Direction = domain.DirectionHold

	noBars := buySignal()
	noBars.ID = "rec-2026-03-04-GOTO"
	noBars.Ticker = "GOTO"

	result := NewSimulator(DefaultConfig()).Run(
		[]domain.TradeSignal{buySignal(), hold, noBars},
		map[string][]domain.Bar{"BBCA": minuteBars([]float64{1000, 1010, 1120}, 5, 10_000_000)},
	)
	assert.Len(t, result.Trades, 1)
	assert.Equal(t, 2, result.Skipped)
}
