package marketdata

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idxquant/idxpulse/internal/domain"
)

func hourlyBars(n int, start time.Time) []domain.Bar {
	bars := make([]domain.Bar, n)
	for i := range bars {
		bars[i] = domain.Bar{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Close:     1000 + float64(i),
			Volume:    500_000,
		}
	}
	return bars
}

func TestBarsWindowAndLimit(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	feed := NewFeed(NewMemoryCache(0), 0)
	feed.Seed("BBCA", hourlyBars(30, start))

	asOf := start.Add(20 * time.Hour)
	bars, err := feed.Bars(context.Background(), "BBCA", asOf, 10)
	require.NoError(t, err)
	require.Len(t, bars, 10)
	assert.Equal(t, asOf, bars[len(bars)-1].Timestamp)
	assert.True(t, bars[0].Timestamp.Before(bars[9].Timestamp))
}

func TestBarsStaleHistoryIsAnError(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	feed := NewFeed(NewMemoryCache(0), 15*time.Minute)
	feed.Seed("TLKM", hourlyBars(5, start))

	_, err := feed.Bars(context.Background(), "TLKM", start.Add(24*time.Hour), 10)
	assert.Error(t, err)
}

func TestBarsUnknownTicker(t *testing.T) {
	feed := NewFeed(NewMemoryCache(0), 0)
	_, err := feed.Bars(context.Background(), "ZZZZ", time.Now(), 10)
	assert.Error(t, err)
}

func TestAppendKeepsOrderAndUpdatesSnapshot(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	feed := NewFeed(NewMemoryCache(0), 0)
	ctx := context.Background()

	later := domain.Bar{Timestamp: start.Add(2 * time.Hour), Close: 1010, Volume: 100}
	earlier := domain.Bar{Timestamp: start, Close: 1000, Volume: 100}
	feed.Append(ctx, "ASII", later)
	feed.Append(ctx, "ASII", earlier)

	bars, err := feed.Bars(ctx, "ASII", start.Add(3*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 1000.0, bars[0].Close)
	assert.Equal(t, 1010.0, bars[1].Close)

	snap, ok := feed.Snapshot(ctx, "ASII")
	require.True(t, ok)
	assert.Equal(t, 1000.0, snap.Price)
}

func TestMemoryCacheTTL(t *testing.T) {
	cache := NewMemoryCache(time.Minute)
	cache.Set(context.Background(), Snapshot{Ticker: "GOTO", Price: 60, Timestamp: time.Now().Add(-2 * time.Minute)})
	_, ok := cache.Get(context.Background(), "GOTO")
	assert.False(t, ok)

	cache.Set(context.Background(), Snapshot{Ticker: "GOTO", Price: 60, Timestamp: time.Now()})
	snap, ok := cache.Get(context.Background(), "GOTO")
	require.True(t, ok)
	assert.Equal(t, 60.0, snap.Price)
}
