package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idxquant/idxpulse/internal/capability"
	"github.com/idxquant/idxpulse/internal/config"
	"github.com/idxquant/idxpulse/internal/domain"
	"github.com/idxquant/idxpulse/internal/ensemble"
	"github.com/idxquant/idxpulse/internal/explain"
	"github.com/idxquant/idxpulse/internal/features"
	"github.com/idxquant/idxpulse/internal/marketdata"
	"github.com/idxquant/idxpulse/internal/store"
)

var runStart = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func seededBars(n int, volume float64) []domain.Bar {
	bars := make([]domain.Bar, n)
	price := 5000.0
	for i := range bars {
		price += 10
		bars[i] = domain.Bar{
			Timestamp: runStart.Add(time.Duration(i) * time.Hour),
			Open:      price - 5,
			High:      price + 8,
			Low:       price - 12,
			Close:     price,
			Volume:    volume,
		}
	}
	return bars
}

func newTestRunner(t *testing.T, cfg *config.Config, feed *marketdata.Feed, st store.Store) *Runner {
	t.Helper()
	builderCfg := features.DefaultBuilderConfig()
	builderCfg.EvidenceWindow = cfg.Pipeline.EvidenceWindow
	builderCfg.MinRelevance = cfg.Pipeline.MinRelevance
	builder := features.NewBuilder(feed, st, builderCfg)
	predictor := ensemble.NewDefaultPredictor(ensemble.Thresholds{Buy: cfg.Ensemble.BuyThreshold, Sell: cfg.Ensemble.SellThreshold})
	explainer := explain.NewExplainer(capability.NewOffline(), st, cfg.Pipeline.EvidenceWindow, cfg.Explain)
	return NewRunner(cfg, builder, predictor, explainer, st, nil)
}

func TestRunIsolatesTickerFailures(t *testing.T) {
	cfg := config.Default()
	cfg.Universe = []domain.Ticker{
		{Code: "BBCA"},
		{Code: "GOTO"}, // no bar history at all
	}

	feed := marketdata.NewFeed(marketdata.NewMemoryCache(0), 0)
	feed.Seed("BBCA", seededBars(40, 2_000_000))
	st := store.NewMemory()

	runner := newTestRunner(t, cfg, feed, st)
	asOf := runStart.Add(39 * time.Hour)
	summary, err := runner.Run(context.Background(), asOf)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Published)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Results, 2)
	assert.False(t, summary.Results[0].Failed())
	assert.True(t, summary.Results[1].Failed())
	assert.Equal(t, "features", summary.Results[1].Stage)

	signals, err := st.ListSignals(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, signals, 1)
}

func TestRunAssemblesSignal(t *testing.T) {
	cfg := config.Default()
	cfg.Universe = []domain.Ticker{{Code: "BBCA"}}

	feed := marketdata.NewFeed(marketdata.NewMemoryCache(0), 0)
	bars := seededBars(40, 2_000_000)
	feed.Seed("BBCA", bars)
	st := store.NewMemory()

	runner := newTestRunner(t, cfg, feed, st)
	asOf := bars[len(bars)-1].Timestamp
	summary, err := runner.Run(context.Background(), asOf)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Published)

	sig := summary.Results[0].Signal
	assert.Equal(t, domain.SignalID(asOf, "BBCA"), sig.ID)
	assert.Equal(t, bars[len(bars)-1].Close, sig.EntryPrice)
	assert.GreaterOrEqual(t, sig.Combined, 0.0)
	assert.LessOrEqual(t, sig.Combined, 1.0)
	assert.Equal(t, ensemble.Confidence(sig.Combined), sig.Confidence)
	assert.Len(t, sig.Scores, 3)
	assert.NotEmpty(t, sig.Reasoning)
	assert.False(t, sig.LiquidityWarning)

	switch sig.Direction {
	case domain.DirectionBuy:
		assert.Less(t, sig.StopLoss, sig.EntryPrice)
		assert.Greater(t, sig.TargetPrice, sig.EntryPrice)
	case domain.DirectionSell:
		assert.Greater(t, sig.StopLoss, sig.EntryPrice)
		assert.Less(t, sig.TargetPrice, sig.EntryPrice)
	default:
		assert.Zero(t, sig.StopLoss)
		assert.Zero(t, sig.TargetPrice)
	}
}

func TestRunFlagsThinLiquidity(t *testing.T) {
	cfg := config.Default()
	cfg.Universe = []domain.Ticker{{Code: "BRPT"}}

	feed := marketdata.NewFeed(marketdata.NewMemoryCache(0), 0)
	bars := seededBars(40, 300_000) // about 7.2M shares over the trailing day
	feed.Seed("BRPT", bars)
	st := store.NewMemory()

	runner := newTestRunner(t, cfg, feed, st)
	summary, err := runner.Run(context.Background(), bars[len(bars)-1].Timestamp)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Published)
	assert.True(t, summary.Results[0].Signal.LiquidityWarning)
}

func TestRunIsRepeatableForSameAsOf(t *testing.T) {
	cfg := config.Default()
	cfg.Universe = []domain.Ticker{{Code: "TLKM"}}

	feed := marketdata.NewFeed(marketdata.NewMemoryCache(0), 0)
	bars := seededBars(40, 2_000_000)
	feed.Seed("TLKM", bars)
	st := store.NewMemory()

	runner := newTestRunner(t, cfg, feed, st)
	asOf := bars[len(bars)-1].Timestamp

	first, err := runner.Run(context.Background(), asOf)
	require.NoError(t, err)
	second, err := runner.Run(context.Background(), asOf)
	require.NoError(t, err)

	assert.Equal(t, first.Results[0].Signal, second.Results[0].Signal)

	// Republishing the same signal id is a no-op.
	signals, err := st.ListSignals(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, signals, 1)
}
