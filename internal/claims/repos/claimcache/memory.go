package claimcache

import (
	"context"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/haukened/handlegate/internal/claims/common/clock"
)

const (
	DefaultMaxEntries = 500_000
	DefaultTTL        = 24 * time.Hour
)

// memoryCache is an LRU-bounded positive cache. Each entry stores its
// insertion time; expiry is checked passively when an entry is read.
type memoryCache struct {
	lru   *lru.Cache[string, time.Time]
	ttl   time.Duration
	clock clock.Clock

	hits        atomic.Uint64
	misses      atomic.Uint64
	expirations atomic.Uint64
	evictions   atomic.Uint64
}

// disabledCache always misses. Used when maxEntries <= 0.
type disabledCache struct{}

// NewMemory returns an in-process cache bounded to maxEntries live markers,
// each valid for ttl. If maxEntries <= 0 a disabled cache is returned that
// never records anything. A nil clk uses the real clock.
func NewMemory(maxEntries int, ttl time.Duration, clk clock.Clock) (Cache, error) {
	if maxEntries <= 0 {
		return &disabledCache{}, nil
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clk == nil {
		clk = clock.RealClock{}
	}

	cache, err := lru.New[string, time.Time](maxEntries)
	if err != nil {
		return nil, err
	}
	return &memoryCache{lru: cache, ttl: ttl, clock: clk}, nil
}

func (c *memoryCache) MarkTaken(_ context.Context, token string) error {
	now := c.clock.Now()
	if at, ok := c.lru.Peek(token); ok && c.live(at, now) {
		return nil
	}
	// Add reports only capacity evictions; expired removals are counted
	// separately by IsTaken.
	if c.lru.Add(token, now) {
		c.evictions.Add(1)
	}
	return nil
}

// IsTaken reports a hit only for unexpired markers. An expired marker is
// removed by the read that observes it.
func (c *memoryCache) IsTaken(_ context.Context, token string) (bool, error) {
	at, ok := c.lru.Get(token)
	if !ok {
		c.misses.Add(1)
		return false, nil
	}
	if !c.live(at, c.clock.Now()) {
		c.lru.Remove(token)
		c.expirations.Add(1)
		c.misses.Add(1)
		return false, nil
	}
	c.hits.Add(1)
	return true, nil
}

func (c *memoryCache) live(insertedAt, now time.Time) bool {
	return now.Sub(insertedAt) < c.ttl
}

func (c *memoryCache) Stats() Stats {
	return Stats{
		Backend:     "memory",
		Len:         c.lru.Len(),
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Expirations: c.expirations.Load(),
		Evictions:   c.evictions.Load(),
	}
}

func (d *disabledCache) MarkTaken(context.Context, string) error { return nil }

func (d *disabledCache) IsTaken(context.Context, string) (bool, error) { return false, nil }

func (d *disabledCache) Stats() Stats { return Stats{Backend: "disabled"} }

var _ Cache = (*memoryCache)(nil)
var _ Cache = (*disabledCache)(nil)
