package poolcache

import (
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// DefaultDownTTL is how long a venue stays marked down.
const DefaultDownTTL = 300 * time.Second

// Breaker remembers venues whose retries were exhausted.
type Breaker struct {
	ttl     time.Duration
	now     Clock
	markers *gocache.Cache
}

// NewBreaker builds a breaker; ttl <= 0 uses DefaultDownTTL.
func NewBreaker(ttl time.Duration, now Clock) *Breaker {
	if ttl <= 0 {
		ttl = DefaultDownTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Breaker{
		ttl:     ttl,
		now:     now,
		markers: gocache.New(ttl, time.Minute),
	}
}

// MarkDown suppresses the venue until now + ttl.
func (b *Breaker) MarkDown(dex string) time.Time {
	until := b.now().Add(b.ttl)
	b.markers.Set(strings.ToLower(dex), until, b.ttl)
	return until
}

// IsDown reports whether the venue is still inside its down window.
func (b *Breaker) IsDown(dex string) bool {
	_, down := b.Until(dex)
	return down
}

// Until returns the end of the down window.
func (b *Breaker) Until(dex string) (time.Time, bool) {
	key := strings.ToLower(dex)
	raw, ok := b.markers.Get(key)
	if !ok {
		return time.Time{}, false
	}
	until := raw.(time.Time)
	if !b.now().Before(until) {
		b.markers.Delete(key)
		return time.Time{}, false
	}
	return until, true
}
