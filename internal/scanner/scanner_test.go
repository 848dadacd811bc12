package scanner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexarb/internal/antispam"
	"dexarb/internal/fetcher"
	"dexarb/internal/market"
	"dexarb/internal/poolcache"
	"dexarb/internal/storage"
)

const testToken = "TokenT"

type fakeSource struct {
	name  string
	chain market.Chain
	pools []market.Pool
	err   error

	mu    sync.Mutex
	calls int
}

func (f *fakeSource) Name() string        { return f.name }
func (f *fakeSource) Chain() market.Chain { return f.chain }

func (f *fakeSource) FetchPools(ctx context.Context, tokens []string) ([]market.Pool, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.pools, f.err
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeQuotes struct {
	name  string
	price float64
	err   error
}

func (f fakeQuotes) Name() string { return f.name }

func (f fakeQuotes) Quote(ctx context.Context, tokenIn, tokenOut string) (market.Quote, error) {
	if f.err != nil {
		return market.Quote{}, f.err
	}
	fee := 0.001
	return market.Quote{DEX: f.name, Price: f.price, FeePct: &fee}, nil
}

type recordingNotifier struct {
	err  error
	sent []market.Opportunity
}

func (n *recordingNotifier) Notify(ctx context.Context, opp market.Opportunity) error {
	n.sent = append(n.sent, opp)
	return n.err
}

type memStore struct {
	opps   []storage.OpportunityRecord
	alerts []storage.AlertRecord
	locked bool
}

func (m *memStore) InsertOpportunity(ctx context.Context, rec storage.OpportunityRecord) (int64, error) {
	m.opps = append(m.opps, rec)
	return int64(len(m.opps)), nil
}

func (m *memStore) ListOpportunitiesBetween(ctx context.Context, from, to time.Time) ([]storage.OpportunityRecord, error) {
	return m.opps, nil
}

func (m *memStore) ListRecentOpportunities(ctx context.Context, limit int) ([]storage.OpportunityRecord, error) {
	return m.opps, nil
}

func (m *memStore) CountOpportunities(ctx context.Context) (int64, error) {
	return int64(len(m.opps)), nil
}

func (m *memStore) DeleteOpportunitiesBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	return 0, nil
}

func (m *memStore) InsertAlert(ctx context.Context, alert storage.AlertRecord) (storage.AlertRecord, error) {
	alert.ID = int64(len(m.alerts) + 1)
	m.alerts = append(m.alerts, alert)
	return alert, nil
}

func (m *memStore) ListRecentAlerts(ctx context.Context, limit int) ([]storage.AlertRecord, error) {
	return m.alerts, nil
}

func (m *memStore) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	return 0, nil
}

func (m *memStore) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	if m.locked {
		return nil, false, nil
	}
	return func() {}, true, nil
}

type clock struct{ t time.Time }

func newClock() *clock {
	return &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func noSleep(context.Context, time.Duration) error { return nil }

func solanaPool(id, dex string, price float64) market.Pool {
	return market.Pool{
		PoolID:       id,
		DEX:          dex,
		Chain:        market.ChainSolana,
		TokenA:       testToken,
		TokenB:       market.SOLMint,
		Price:        market.PriceOf(price),
		LiquidityUSD: 100_000,
		Volume24h:    20_000,
		FeeBps:       25,
		FeePct:       0.0025,
	}
}

func solanaChain(sources ...*fakeSource) Chain {
	ch := Chain{Chain: market.ChainSolana, Base: market.SOLMint, Tokens: []string{testToken}}
	for _, s := range sources {
		ch.Sources = append(ch.Sources, s)
	}
	return ch
}

func newTestScanner(opts Options, chains []Chain, deps Deps, c *clock) *Scanner {
	deps.Now = c.Now
	if deps.Dedup == nil {
		deps.Dedup = antispam.New(antispam.Options{}, c.Now, zerolog.Nop())
	}
	s := New(opts, chains, deps, zerolog.Nop())
	s.sleep = noSleep
	return s
}

func TestCycleNotifiesAndPersists(t *testing.T) {
	c := newClock()
	ray := &fakeSource{name: "raydium", chain: market.ChainSolana, pools: []market.Pool{solanaPool("p1", "raydium", 1.0)}}
	orca := &fakeSource{name: "orca", chain: market.ChainSolana, pools: []market.Pool{solanaPool("p2", "orca", 1.02)}}
	notifier := &recordingNotifier{}
	store := &memStore{}

	s := newTestScanner(Options{Channels: []string{"telegram"}}, []Chain{solanaChain(ray, orca)},
		Deps{Notifier: notifier, Store: store, Alerts: store}, c)

	stats, err := s.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Pools)
	assert.Equal(t, 1, stats.Tokens)
	assert.Equal(t, 1, stats.Pairs)
	assert.Equal(t, 1, stats.Opportunities)
	assert.Equal(t, 1, stats.Notified)
	require.NotNil(t, stats.Best)
	assert.Equal(t, "raydium", stats.Best.BuyDEX)
	assert.Equal(t, "orca", stats.Best.SellDEX)
	assert.InDelta(t, 0.015, stats.Best.SpreadNet, 1e-9)
	assert.Equal(t, c.Now(), stats.Best.DetectedAt)

	require.Len(t, notifier.sent, 1)
	require.Len(t, store.opps, 1)
	assert.True(t, store.opps[0].Notified)
	assert.Equal(t, antispam.Hash(testToken, "p1", "p2"), store.opps[0].Hash)
	require.Len(t, store.alerts, 1)
	assert.Equal(t, []string{"telegram"}, store.alerts[0].Channels)

	// same pair inside the cooldown is stored but not sent again
	c.Advance(time.Minute)
	stats, err = s.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Suppressed)
	assert.Len(t, notifier.sent, 1)
	require.Len(t, store.opps, 2)
	assert.False(t, store.opps[1].Notified)
}

func TestCycleSurvivesFailingVenue(t *testing.T) {
	c := newClock()
	ray := &fakeSource{name: "raydium", chain: market.ChainSolana, pools: []market.Pool{solanaPool("p1", "raydium", 1.0)}}
	orca := &fakeSource{name: "orca", chain: market.ChainSolana, pools: []market.Pool{solanaPool("p2", "orca", 1.02)}}
	broken := &fakeSource{name: "meteora", chain: market.ChainSolana, err: errors.New("503")}

	s := newTestScanner(Options{}, []Chain{solanaChain(ray, orca, broken)}, Deps{Notifier: &recordingNotifier{}}, c)

	stats, err := s.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Opportunities)
	assert.Equal(t, 1, broken.Calls())
}

func TestCycleBelowMinSpreadIsIgnored(t *testing.T) {
	c := newClock()
	ray := &fakeSource{name: "raydium", chain: market.ChainSolana, pools: []market.Pool{solanaPool("p1", "raydium", 1.0)}}
	// 0.7% gross minus 0.5% fees leaves 0.2%, under the 0.25% floor
	orca := &fakeSource{name: "orca", chain: market.ChainSolana, pools: []market.Pool{solanaPool("p2", "orca", 1.007)}}
	notifier := &recordingNotifier{}

	s := newTestScanner(Options{}, []Chain{solanaChain(ray, orca)}, Deps{Notifier: notifier}, c)

	stats, err := s.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pairs)
	assert.Zero(t, stats.Opportunities)
	assert.Nil(t, stats.Best)
	assert.Empty(t, notifier.sent)
}

func TestNotifierFailureStillRecordsDedup(t *testing.T) {
	c := newClock()
	ray := &fakeSource{name: "raydium", chain: market.ChainSolana, pools: []market.Pool{solanaPool("p1", "raydium", 1.0)}}
	orca := &fakeSource{name: "orca", chain: market.ChainSolana, pools: []market.Pool{solanaPool("p2", "orca", 1.02)}}
	notifier := &recordingNotifier{err: errors.New("telegram down")}
	store := &memStore{}

	s := newTestScanner(Options{}, []Chain{solanaChain(ray, orca)}, Deps{Notifier: notifier, Store: store, Alerts: store}, c)

	stats, err := s.Cycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Notified)
	require.Len(t, store.opps, 1)
	assert.False(t, store.opps[0].Notified)
	assert.Empty(t, store.alerts)

	_, err = s.Cycle(context.Background())
	require.NoError(t, err)
	assert.Len(t, notifier.sent, 1)
}

func TestPairIntervalThrottlesAfterCooldown(t *testing.T) {
	c := newClock()
	ray := &fakeSource{name: "raydium", chain: market.ChainSolana, pools: []market.Pool{solanaPool("p1", "raydium", 1.0)}}
	orca := &fakeSource{name: "orca", chain: market.ChainSolana, pools: []market.Pool{solanaPool("p2", "orca", 1.02)}}
	notifier := &recordingNotifier{}
	dedup := antispam.New(antispam.Options{OpportunityCooldown: time.Second, TokenCooldown: time.Second}, c.Now, zerolog.Nop())

	s := newTestScanner(Options{MinNotificationInterval: time.Minute}, []Chain{solanaChain(ray, orca)},
		Deps{Notifier: notifier, Dedup: dedup}, c)

	_, err := s.Cycle(context.Background())
	require.NoError(t, err)
	c.Advance(30 * time.Second)
	_, err = s.Cycle(context.Background())
	require.NoError(t, err)
	assert.Len(t, notifier.sent, 1)

	c.Advance(31 * time.Second)
	_, err = s.Cycle(context.Background())
	require.NoError(t, err)
	assert.Len(t, notifier.sent, 2)
}

func TestAggregatorSweep(t *testing.T) {
	c := newClock()
	aero := &fakeSource{name: "aerodrome", chain: market.ChainBase, pools: []market.Pool{{
		PoolID:       "0xpool",
		DEX:          "aerodrome",
		Chain:        market.ChainBase,
		TokenA:       "0xtok",
		TokenB:       market.BaseUSDC,
		Price:        market.PriceOf(1.0),
		LiquidityUSD: 500_000,
		FeePct:       0.003,
	}}}
	base := Chain{
		Chain:   market.ChainBase,
		Base:    market.BaseUSDC,
		Tokens:  []string{"0xtok"},
		Sources: []fetcher.PoolSource{aero},
		Quotes:  []fetcher.QuoteSource{fakeQuotes{name: "kyberswap", price: 1.05}},
	}
	notifier := &recordingNotifier{}

	s := newTestScanner(Options{AggregatorSweep: true}, []Chain{base}, Deps{Notifier: notifier}, c)

	stats, err := s.Cycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Tokens, "单池 token 不参与两两比较")
	require.Len(t, notifier.sent, 1)
	opp := notifier.sent[0]
	assert.Equal(t, market.SourceAggregator, opp.Source)
	assert.Equal(t, "aerodrome", opp.BuyDEX)
	assert.Equal(t, "kyberswap", opp.SellDEX)
	assert.Equal(t, market.ChainBase, opp.Chain)
}

func TestAggregatorSweepSkipsMissingQuotes(t *testing.T) {
	c := newClock()
	base := Chain{
		Chain:  market.ChainBase,
		Base:   market.BaseUSDC,
		Tokens: []string{"0xtok"},
		Quotes: []fetcher.QuoteSource{
			fakeQuotes{name: "kyberswap", price: 1.05},
			fakeQuotes{name: "noop", err: fetcher.ErrNoQuote},
		},
	}
	notifier := &recordingNotifier{}

	s := newTestScanner(Options{AggregatorSweep: true}, []Chain{base}, Deps{Notifier: notifier}, c)

	_, err := s.Cycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, notifier.sent, "只有一个报价时不应产生机会")
}

type routedQuotes struct {
	name   string
	prices map[string]float64

	mu    sync.Mutex
	calls map[string]int
}

func (r *routedQuotes) Name() string { return r.name }

func (r *routedQuotes) Quote(ctx context.Context, tokenIn, tokenOut string) (market.Quote, error) {
	r.mu.Lock()
	if r.calls == nil {
		r.calls = make(map[string]int)
	}
	r.calls[tokenIn]++
	r.mu.Unlock()
	price, ok := r.prices[tokenIn]
	if !ok {
		return market.Quote{}, fetcher.ErrNoQuote
	}
	fee := 0.001
	return market.Quote{DEX: r.name, Price: price, FeePct: &fee}, nil
}

func TestAggregatorSweepNoRouteDoesNotTripBreaker(t *testing.T) {
	c := newClock()
	var slept []time.Duration
	breaker := poolcache.NewBreaker(0, c.Now)
	retrier := poolcache.NewRetrier(poolcache.DefaultRetryOptions(), breaker, func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}, zerolog.Nop())

	kyber := &routedQuotes{name: "kyberswap", prices: map[string]float64{"0xtok": 1.05}}
	base := Chain{
		Chain:  market.ChainBase,
		Base:   market.BaseUSDC,
		Tokens: []string{"0xnone", "0xtok"},
		Quotes: []fetcher.QuoteSource{
			kyber,
			fakeQuotes{name: "uniswap", price: 1.0},
			fetcher.NoopQuoteSource{},
		},
	}
	notifier := &recordingNotifier{}

	s := newTestScanner(Options{AggregatorSweep: true}, []Chain{base},
		Deps{Notifier: notifier, Breaker: breaker, Retrier: retrier}, c)

	_, err := s.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, kyber.calls["0xnone"], "无路由只应请求一次")
	assert.Equal(t, 1, kyber.calls["0xtok"])
	assert.Empty(t, slept, "无路由不应退避")
	assert.False(t, breaker.IsDown("kyberswap"))
	assert.False(t, breaker.IsDown("noop"))
	require.Len(t, notifier.sent, 1, "其他 token 仍应得到报价")
	assert.Equal(t, "0xtok", notifier.sent[0].Token)
}

func TestSnapshotReusedAcrossCycles(t *testing.T) {
	c := newClock()
	ray := &fakeSource{name: "raydium", chain: market.ChainSolana, pools: []market.Pool{solanaPool("p1", "raydium", 1.0)}}
	ch := solanaChain(ray)
	ch.Snapshot = poolcache.NewCycleCache(30*time.Second, c.Now)

	s := newTestScanner(Options{}, []Chain{ch}, Deps{}, c)

	for range 2 {
		_, err := s.Cycle(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 1, ray.Calls())

	c.Advance(time.Minute)
	_, err := s.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, ray.Calls())
}

func TestRunCycleSkipsWhenLockHeld(t *testing.T) {
	c := newClock()
	ray := &fakeSource{name: "raydium", chain: market.ChainSolana}
	store := &memStore{locked: true}

	s := newTestScanner(Options{AdvisoryLockKey: 42}, []Chain{solanaChain(ray)}, Deps{Store: store}, c)

	require.NoError(t, s.RunCycle(context.Background(), c.Now()))
	assert.Zero(t, ray.Calls())

	store.locked = false
	require.NoError(t, s.RunCycle(context.Background(), c.Now()))
	assert.Equal(t, 1, ray.Calls())
}

func TestCycleStopsOnCancel(t *testing.T) {
	c := newClock()
	ray := &fakeSource{name: "raydium", chain: market.ChainSolana}
	s := newTestScanner(Options{}, []Chain{solanaChain(ray)}, Deps{}, c)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Cycle(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDeepScanRanksTokens(t *testing.T) {
	c := newClock()
	ray := &fakeSource{name: "raydium", chain: market.ChainSolana, pools: []market.Pool{solanaPool("p1", "raydium", 1.0)}}
	orca := &fakeSource{name: "orca", chain: market.ChainSolana, pools: []market.Pool{solanaPool("p2", "orca", 1.04)}}
	notifier := &recordingNotifier{}

	s := newTestScanner(Options{}, []Chain{solanaChain(ray, orca)}, Deps{Notifier: notifier}, c)

	opps := s.DeepScan(context.Background(), 5)
	require.Len(t, opps, 1)
	assert.Equal(t, testToken, opps[0].Token)
	assert.Equal(t, market.SourceAggregate, opps[0].Source)
	assert.Empty(t, notifier.sent, "深度扫描不应发送通知")
}
