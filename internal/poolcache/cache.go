// Package poolcache keeps recently fetched pools around for a liquidity
// dependent time, tracks venues that are down and retries flaky fetches.
package poolcache

import (
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"dexarb/internal/market"
)

// CycleTTL is how long a full all-venues snapshot stays valid.
const CycleTTL = 30 * time.Second

// Clock returns the current time. Tests inject a fake one.
type Clock func() time.Time

// TTLFor maps the average liquidity of a cached set to its lifetime.
func TTLFor(avgLiquidityUSD float64) time.Duration {
	switch {
	case avgLiquidityUSD >= 500_000:
		return 15 * time.Second
	case avgLiquidityUSD >= 50_000:
		return 30 * time.Second
	default:
		return 60 * time.Second
	}
}

// Key builds the cache key. Token addresses keep their case since Solana
// mints are case-sensitive.
func Key(chain market.Chain, dex, token string) string {
	return strings.ToLower(chain.String()) + "_" + strings.ToLower(dex) + "_" + token
}

type entry struct {
	data     []market.Pool
	storedAt time.Time
	ttl      time.Duration
}

// Cache stores pool sets per (chain, dex, token).
type Cache struct {
	items *gocache.Cache
	now   Clock
}

// New builds a cache. A nil clock uses time.Now.
func New(now Clock) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{
		items: gocache.New(gocache.NoExpiration, time.Minute),
		now:   now,
	}
}

// Get returns the cached pools. An entry is absent once now - storedAt >= ttl,
// and expired entries are evicted on access.
func (c *Cache) Get(chain market.Chain, dex, token string) ([]market.Pool, bool) {
	key := Key(chain, dex, token)
	raw, ok := c.items.Get(key)
	if !ok {
		return nil, false
	}
	e := raw.(entry)
	if c.now().Sub(e.storedAt) >= e.ttl {
		c.items.Delete(key)
		return nil, false
	}
	return e.data, true
}

// Put stores data with a TTL derived from avgLiquidityUSD and returns it.
func (c *Cache) Put(chain market.Chain, dex, token string, data []market.Pool, avgLiquidityUSD float64) time.Duration {
	ttl := TTLFor(avgLiquidityUSD)
	c.items.Set(Key(chain, dex, token), entry{data: data, storedAt: c.now(), ttl: ttl}, ttl)
	return ttl
}

// Len reports the number of stored entries, expired ones included until
// they are touched or swept.
func (c *Cache) Len() int {
	return c.items.ItemCount()
}

// AverageLiquidity is the mean LiquidityUSD of pools, 0 for an empty set.
func AverageLiquidity(pools []market.Pool) float64 {
	if len(pools) == 0 {
		return 0
	}
	var sum float64
	for _, p := range pools {
		sum += p.LiquidityUSD
	}
	return sum / float64(len(pools))
}

// CycleCache holds the snapshot of every venue fetched in one scan cycle.
type CycleCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      Clock
	data     map[string][]market.Pool
	storedAt time.Time
}

// NewCycleCache builds a snapshot cache; ttl <= 0 uses CycleTTL.
func NewCycleCache(ttl time.Duration, now Clock) *CycleCache {
	if ttl <= 0 {
		ttl = CycleTTL
	}
	if now == nil {
		now = time.Now
	}
	return &CycleCache{ttl: ttl, now: now}
}

// Get returns the snapshot while it is fresh.
func (c *CycleCache) Get() (map[string][]market.Pool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil || c.now().Sub(c.storedAt) >= c.ttl {
		return nil, false
	}
	return c.data, true
}

// Set replaces the snapshot.
func (c *CycleCache) Set(data map[string][]market.Pool) {
	c.mu.Lock()
	c.data = data
	c.storedAt = c.now()
	c.mu.Unlock()
}

// Invalidate drops the snapshot.
func (c *CycleCache) Invalidate() {
	c.mu.Lock()
	c.data = nil
	c.mu.Unlock()
}
