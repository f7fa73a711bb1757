package features

import (
	"math"

	"github.com/idxquant/idxpulse/internal/domain"
)

// RSI computes the relative strength index over the given period using
// simple averages of gains and losses. Fewer than period+1 bars yields the
// neutral value 50.
func RSI(bars []domain.Bar, period int) float64 {
	if len(bars) < period+1 {
		return 50.0
	}
	gains := 0.0
	losses := 0.0
	for i := len(bars) - period; i < len(bars); i++ {
		change := bars[i].Close - bars[i-1].Close
		if change > 0 {
			gains += change
		} else {
			losses += math.Abs(change)
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}

// EMA computes an exponential moving average of closes with the standard
// smoothing factor 2/(span+1), seeded from the first close.
func EMA(bars []domain.Bar, span int) float64 {
	if len(bars) == 0 {
		return 0.0
	}
	alpha := 2.0 / (float64(span) + 1.0)
	ema := bars[0].Close
	for _, bar := range bars[1:] {
		ema = alpha*bar.Close + (1-alpha)*ema
	}
	return ema
}

// VWAP computes the volume-weighted average of typical prices over the
// trailing window bars. Zero total volume falls back to the last close.
func VWAP(bars []domain.Bar, window int) float64 {
	if len(bars) == 0 {
		return 0.0
	}
	if len(bars) > window {
		bars = bars[len(bars)-window:]
	}
	pvSum := 0.0
	volSum := 0.0
	for _, bar := range bars {
		typical := (bar.High + bar.Low + bar.Close) / 3.0
		pvSum += typical * bar.Volume
		volSum += bar.Volume
	}
	if volSum == 0 {
		return bars[len(bars)-1].Close
	}
	return pvSum / volSum
}

// ATR computes the average true range over the given period.
func ATR(bars []domain.Bar, period int) float64 {
	if len(bars) < period+1 {
		return 0.0
	}
	trSum := 0.0
	for i := len(bars) - period; i < len(bars); i++ {
		tr := math.Max(
			bars[i].High-bars[i].Low,
			math.Max(
				math.Abs(bars[i].High-bars[i-1].Close),
				math.Abs(bars[i].Low-bars[i-1].Close),
			),
		)
		trSum += tr
	}
	return trSum / float64(period)
}
