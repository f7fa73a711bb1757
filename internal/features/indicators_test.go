package features

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/idxquant/idxpulse/internal/domain"
)

func barsFromCloses(closes []float64) []domain.Bar {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      c,
			High:      c + 2,
			Low:       c - 2,
			Close:     c,
			Volume:    1000,
		}
	}
	return bars
}

func TestRSIBounds(t *testing.T) {
	up := barsFromCloses([]float64{10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21, 22, 23, 24})
	assert.Equal(t, 100.0, RSI(up, 14))

	down := barsFromCloses([]float64{24, 23, 22, 21, 20, 19, 18, 17, 16, 15, 14, 13, 12, 11, 10})
	assert.InDelta(t, 0.0, RSI(down, 14), 1e-9)

	short := barsFromCloses([]float64{10, 11})
	assert.Equal(t, 50.0, RSI(short, 14))
}

func TestRSIMixed(t *testing.T) {
	// Alternating equal gains and losses average out to RSI 50.
	closes := []float64{100, 101, 100, 101, 100, 101, 100, 101, 100, 101, 100, 101, 100, 101, 100}
	rsi := RSI(barsFromCloses(closes), 14)
	assert.InDelta(t, 50.0, rsi, 5.0)
}

func TestEMAFollowsTrend(t *testing.T) {
	bars := barsFromCloses([]float64{10, 10, 10, 10, 20})
	ema := EMA(bars, 8)
	assert.Greater(t, ema, 10.0)
	assert.Less(t, ema, 20.0)

	assert.Zero(t, EMA(nil, 8))
}

func TestVWAPWeightsByVolume(t *testing.T) {
	bars := barsFromCloses([]float64{100, 200})
	bars[0].Volume = 9000
	bars[1].Volume = 1000
	vwap := VWAP(bars, 20)
	assert.Less(t, vwap, 150.0)

	bars[0].Volume = 0
	bars[1].Volume = 0
	assert.Equal(t, 200.0, VWAP(bars, 20))
}

func TestATRPositiveOnRange(t *testing.T) {
	bars := barsFromCloses([]float64{10, 11, 12, 11, 13, 12, 14, 13, 15, 14, 16, 15, 17, 16, 18})
	atr := ATR(bars, 14)
	assert.Greater(t, atr, 0.0)

	assert.Zero(t, ATR(bars[:5], 14))
}
