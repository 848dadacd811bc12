package poolcache

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexarb/internal/fetcher"
	"dexarb/internal/market"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock { return &fakeClock{t: time.Now()} }

func pool(id, token string, liq float64) market.Pool {
	return market.Pool{PoolID: id, DEX: "orca", Chain: market.ChainSolana, TokenA: token, TokenB: market.SOLMint, LiquidityUSD: liq}
}

func TestTTLFor(t *testing.T) {
	assert.Equal(t, 15*time.Second, TTLFor(500_000))
	assert.Equal(t, 30*time.Second, TTLFor(50_000))
	assert.Equal(t, 30*time.Second, TTLFor(499_999))
	assert.Equal(t, 60*time.Second, TTLFor(49_999))
	assert.Equal(t, 60*time.Second, TTLFor(0))
}

func TestKeyKeepsTokenCase(t *testing.T) {
	assert.Equal(t, "solana_orca_AbC", Key(market.ChainSolana, "ORCA", "AbC"))
}

func TestCacheExpiry(t *testing.T) {
	clk := newClock()
	c := New(clk.now)

	ttl := c.Put(market.ChainSolana, "orca", "T", []market.Pool{pool("p", "T", 600_000)}, 600_000)
	require.Equal(t, 15*time.Second, ttl)

	clk.advance(14 * time.Second)
	got, ok := c.Get(market.ChainSolana, "orca", "T")
	require.True(t, ok)
	assert.Len(t, got, 1)

	clk.advance(time.Second)
	_, ok = c.Get(market.ChainSolana, "orca", "T")
	assert.False(t, ok, "entry is absent once age reaches ttl")
	assert.Equal(t, 0, c.Len())
}

func TestCycleCache(t *testing.T) {
	clk := newClock()
	c := NewCycleCache(0, clk.now)

	_, ok := c.Get()
	assert.False(t, ok)

	c.Set(map[string][]market.Pool{"orca": {pool("p", "T", 1)}})
	_, ok = c.Get()
	assert.True(t, ok)

	clk.advance(CycleTTL)
	_, ok = c.Get()
	assert.False(t, ok)

	c.Set(map[string][]market.Pool{})
	c.Invalidate()
	_, ok = c.Get()
	assert.False(t, ok)
}

func TestBreaker(t *testing.T) {
	clk := newClock()
	b := NewBreaker(0, clk.now)

	assert.False(t, b.IsDown("orca"))
	until := b.MarkDown("Orca")
	assert.Equal(t, clk.t.Add(DefaultDownTTL), until)
	assert.True(t, b.IsDown("orca"))

	clk.advance(DefaultDownTTL)
	assert.False(t, b.IsDown("orca"))
}

type recordedSleep struct{ waits []time.Duration }

func (r *recordedSleep) sleep(ctx context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return nil
}

func TestDoRetriesThenMarksDown(t *testing.T) {
	clk := newClock()
	rs := &recordedSleep{}
	r := NewRetrier(DefaultRetryOptions(), NewBreaker(0, clk.now), rs.sleep, zerolog.Nop())

	calls := 0
	_, err := Do(context.Background(), r, "raydium", func(context.Context) (int, error) {
		calls++
		return 0, errors.New("boom")
	})
	require.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rs.waits)
	assert.True(t, r.Breaker().IsDown("raydium"))

	// down venues are not called at all
	_, err = Do(context.Background(), r, "raydium", func(context.Context) (int, error) {
		calls++
		return 1, nil
	})
	require.ErrorIs(t, err, ErrDexDown)
	assert.Equal(t, 3, calls)

	clk.advance(DefaultDownTTL)
	v, err := Do(context.Background(), r, "raydium", func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestDoRateLimitPenalty(t *testing.T) {
	rs := &recordedSleep{}
	r := NewRetrier(DefaultRetryOptions(), nil, rs.sleep, zerolog.Nop())

	calls := 0
	v, err := Do(context.Background(), r, "orca", func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", &fetcher.StatusError{Venue: "orca", Status: http.StatusTooManyRequests}
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, []time.Duration{2 * time.Second}, rs.waits)
}

func TestDoPermanentErrorNotRetried(t *testing.T) {
	rs := &recordedSleep{}
	r := NewRetrier(DefaultRetryOptions(), nil, rs.sleep, zerolog.Nop())

	calls := 0
	_, err := Do(context.Background(), r, "kyberswap", func(context.Context) (float64, error) {
		calls++
		return 0, Permanent(fetcher.ErrNoQuote)
	})
	require.ErrorIs(t, err, fetcher.ErrNoQuote)
	assert.NotErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rs.waits)
	assert.False(t, r.Breaker().IsDown("kyberswap"))
	assert.NoError(t, Permanent(nil))
}

func TestDoHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRetrier(DefaultRetryOptions(), nil, func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}, zerolog.Nop())

	_, err := Do(ctx, r, "orca", func(context.Context) (int, error) { return 0, errors.New("x") })
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, r.Breaker().IsDown("orca"))
}

type stubSource struct {
	calls [][]string
	pools []market.Pool
	err   error
}

func (s *stubSource) Name() string        { return "orca" }
func (s *stubSource) Chain() market.Chain { return market.ChainSolana }
func (s *stubSource) FetchPools(ctx context.Context, tokens []string) ([]market.Pool, error) {
	s.calls = append(s.calls, append([]string(nil), tokens...))
	return s.pools, s.err
}

func TestCachedSourceFetchesOnlyMisses(t *testing.T) {
	clk := newClock()
	stub := &stubSource{pools: []market.Pool{pool("a1", "A", 1000), pool("b1", "B", 1000)}}
	src := Wrap(stub, New(clk.now), NewRetrier(DefaultRetryOptions(), nil, (&recordedSleep{}).sleep, zerolog.Nop()))

	got, err := src.FetchPools(context.Background(), []string{"A", "B"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = src.FetchPools(context.Background(), []string{"A", "B"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Len(t, stub.calls, 1, "second call served from cache")

	stub.pools = []market.Pool{pool("c1", "C", 1000)}
	got, err = src.FetchPools(context.Background(), []string{"A", "C"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a1", "c1"}, []string{got[0].PoolID, got[1].PoolID})
	require.Len(t, stub.calls, 2)
	assert.Equal(t, []string{"C"}, stub.calls[1])
}

func TestCachedSourceErrorKeepsHits(t *testing.T) {
	clk := newClock()
	stub := &stubSource{pools: []market.Pool{pool("a1", "A", 1000)}}
	src := Wrap(stub, New(clk.now), nil)

	_, err := src.FetchPools(context.Background(), []string{"A"})
	require.NoError(t, err)

	stub.err = errors.New("down")
	got, err := src.FetchPools(context.Background(), []string{"A", "Z"})
	require.Error(t, err)
	assert.Len(t, got, 1)
}
