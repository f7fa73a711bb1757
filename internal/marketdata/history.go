package marketdata

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/idxquant/idxpulse/internal/domain"
)

// HistoryProvider serves price/volume bars for indicator computation.
// Bars returns up to n bars at or before asOf, oldest first.
type HistoryProvider interface {
	Bars(ctx context.Context, ticker string, asOf time.Time, n int) ([]domain.Bar, error)
}

// Feed combines live snapshots with accumulated bar history. Bars arriving
// from the stream are appended under a single writer; readers see a copy.
type Feed struct {
	mu         sync.RWMutex
	bars       map[string][]domain.Bar
	cache      SnapshotCache
	staleAfter time.Duration
}

// NewFeed creates a feed with the given snapshot cache and staleness
// threshold.
func NewFeed(cache SnapshotCache, staleAfter time.Duration) *Feed {
	return &Feed{
		bars:       make(map[string][]domain.Bar),
		cache:      cache,
		staleAfter: staleAfter,
	}
}

// Append records a bar for a ticker, keeping history sorted by timestamp.
func (f *Feed) Append(ctx context.Context, ticker string, bar domain.Bar) {
	f.mu.Lock()
	history := append(f.bars[ticker], bar)
	sort.Slice(history, func(i, j int) bool {
		return history[i].Timestamp.Before(history[j].Timestamp)
	})
	f.bars[ticker] = history
	f.mu.Unlock()

	f.cache.Set(ctx, Snapshot{
		Ticker:    ticker,
		Price:     bar.Close,
		Volume:    bar.Volume,
		Timestamp: bar.Timestamp,
	})
}

// Seed loads a full bar history at once, replacing any existing history.
func (f *Feed) Seed(ticker string, bars []domain.Bar) {
	sorted := append([]domain.Bar(nil), bars...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	f.mu.Lock()
	f.bars[ticker] = sorted
	f.mu.Unlock()
}

// Bars returns up to n bars at or before asOf, oldest first. History whose
// newest bar is older than the staleness threshold counts as missing: a
// feed that stopped updating must not silently produce indicators.
func (f *Feed) Bars(_ context.Context, ticker string, asOf time.Time, n int) ([]domain.Bar, error) {
	f.mu.RLock()
	history := f.bars[ticker]
	f.mu.RUnlock()

	var window []domain.Bar
	for _, bar := range history {
		if !bar.Timestamp.After(asOf) {
			window = append(window, bar)
		}
	}
	if len(window) == 0 {
		return nil, fmt.Errorf("no bars for %s at %s", ticker, asOf.Format(time.RFC3339))
	}
	if f.staleAfter > 0 {
		newest := window[len(window)-1].Timestamp
		if asOf.Sub(newest) > f.staleAfter {
			return nil, fmt.Errorf("history for %s is stale: newest bar %s", ticker, newest.Format(time.RFC3339))
		}
	}
	if len(window) > n {
		window = window[len(window)-n:]
	}
	return window, nil
}

// Snapshot returns the cached latest observation for a ticker.
func (f *Feed) Snapshot(ctx context.Context, ticker string) (Snapshot, bool) {
	return f.cache.Get(ctx, ticker)
}
