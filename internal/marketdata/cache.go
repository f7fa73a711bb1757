package marketdata

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Snapshot is the latest observation for one ticker from the market feed.
type Snapshot struct {
	Ticker    string    `json:"ticker"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// SnapshotCache stores the most recent snapshot per ticker. Implementations
// must be safe for concurrent readers while the feed consumer writes.
type SnapshotCache interface {
	Get(ctx context.Context, ticker string) (Snapshot, bool)
	Set(ctx context.Context, snap Snapshot)
}

type memoryCache struct {
	mu  sync.RWMutex
	m   map[string]Snapshot
	ttl time.Duration
}

// NewMemoryCache returns an in-process snapshot cache with the given TTL.
// A zero TTL means entries never expire.
func NewMemoryCache(ttl time.Duration) SnapshotCache {
	return &memoryCache{m: make(map[string]Snapshot), ttl: ttl}
}

func (c *memoryCache) Get(_ context.Context, ticker string) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.m[ticker]
	if !ok {
		return Snapshot{}, false
	}
	if c.ttl > 0 && time.Since(snap.Timestamp) > c.ttl {
		return Snapshot{}, false
	}
	return snap, true
}

func (c *memoryCache) Set(_ context.Context, snap Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[snap.Ticker] = snap
}

type redisCache struct {
	r   *redis.Client
	ttl time.Duration
}

// NewRedisCache returns a Redis-backed snapshot cache so that concurrent
// pipeline processes share one view of the feed.
func NewRedisCache(addr string, ttl time.Duration) SnapshotCache {
	return &redisCache{r: redis.NewClient(&redis.Options{Addr: addr}), ttl: ttl}
}

// NewCache picks Redis when an address is configured, memory otherwise.
func NewCache(redisAddr string, ttl time.Duration) SnapshotCache {
	if redisAddr != "" {
		return NewRedisCache(redisAddr, ttl)
	}
	return NewMemoryCache(ttl)
}

func (c *redisCache) Get(ctx context.Context, ticker string) (Snapshot, bool) {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	raw, err := c.r.Get(ctx, snapshotKey(ticker)).Bytes()
	if err != nil {
		return Snapshot{}, false
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, false
	}
	return snap, true
}

func (c *redisCache) Set(ctx context.Context, snap Snapshot) {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	raw, err := json.Marshal(snap)
	if err != nil {
		return
	}
	_ = c.r.Set(ctx, snapshotKey(snap.Ticker), raw, c.ttl).Err()
}

func snapshotKey(ticker string) string { return "idxpulse:snapshot:" + ticker }
