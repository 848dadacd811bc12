// Package antispam suppresses repeat alerts for the same opportunity or token.
package antispam

import (
	"crypto/md5"
	"encoding/hex"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultOpportunityCooldown = 15 * time.Minute
	DefaultTokenCooldown       = 5 * time.Minute
	DefaultRetention           = time.Hour
)

// Hash identifies an opportunity by token and its two pools, regardless of
// which pool is the buy leg.
func Hash(token, poolA, poolB string) string {
	if poolB < poolA {
		poolA, poolB = poolB, poolA
	}
	sum := md5.Sum([]byte(token + "|" + poolA + "|" + poolB))
	return hex.EncodeToString(sum[:])
}

// Options configure the cooldown windows.
type Options struct {
	OpportunityCooldown time.Duration `mapstructure:"opportunity_cooldown"`
	TokenCooldown       time.Duration `mapstructure:"token_cooldown"`
	Retention           time.Duration `mapstructure:"retention"`
}

// Deduplicator remembers when each hash and token last produced an alert.
type Deduplicator struct {
	opts   Options
	now    func() time.Time
	logger zerolog.Logger

	mu     sync.Mutex
	hashes map[string]time.Time
	tokens map[string]time.Time
}

// New builds a deduplicator. Zero durations use the defaults; a nil clock
// uses time.Now.
func New(opts Options, now func() time.Time, logger zerolog.Logger) *Deduplicator {
	if opts.OpportunityCooldown <= 0 {
		opts.OpportunityCooldown = DefaultOpportunityCooldown
	}
	if opts.TokenCooldown <= 0 {
		opts.TokenCooldown = DefaultTokenCooldown
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if now == nil {
		now = time.Now
	}
	return &Deduplicator{
		opts:   opts,
		now:    now,
		logger: logger.With().Str("component", "antispam").Logger(),
		hashes: make(map[string]time.Time),
		tokens: make(map[string]time.Time),
	}
}

// ShouldNotify is false while hash is inside the opportunity cooldown or
// token inside the token cooldown.
func (d *Deduplicator) ShouldNotify(token, hash string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if last, ok := d.hashes[hash]; ok && now.Sub(last) < d.opts.OpportunityCooldown {
		d.logger.Debug().Str("token", token).Str("hash", hash).Msg("opportunity in cooldown")
		return false
	}
	if last, ok := d.tokens[token]; ok && now.Sub(last) < d.opts.TokenCooldown {
		d.logger.Debug().Str("token", token).Msg("token in cooldown")
		return false
	}
	return true
}

// Record stamps hash and token with the current time and purges entries
// older than the retention window.
func (d *Deduplicator) Record(token, hash string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.hashes[hash] = now
	d.tokens[token] = now

	cutoff := now.Add(-d.opts.Retention)
	for k, ts := range d.hashes {
		if ts.Before(cutoff) {
			delete(d.hashes, k)
		}
	}
	for k, ts := range d.tokens {
		if ts.Before(cutoff) {
			delete(d.tokens, k)
		}
	}
}

// Size reports how many hashes and tokens are tracked.
func (d *Deduplicator) Size() (hashes, tokens int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.hashes), len(d.tokens)
}
