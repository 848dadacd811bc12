// Package scanner runs the periodic pool sweep: fetch every venue, compare
// every pool pair of every token and alert on spreads that survive fees.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"dexarb/internal/alerting"
	"dexarb/internal/antispam"
	"dexarb/internal/costmodel"
	"dexarb/internal/evaluator"
	"dexarb/internal/fetcher"
	"dexarb/internal/logging"
	"dexarb/internal/market"
	"dexarb/internal/normalize"
	"dexarb/internal/observability"
	"dexarb/internal/poolcache"
	"dexarb/internal/scheduler"
	"dexarb/internal/storage"
)

// Chain is the scan target of one blockchain.
type Chain struct {
	Chain   market.Chain
	Base    string
	Tokens  []string
	Sources []fetcher.PoolSource
	// Quotes feed the aggregator sweep; only used when the sweep is on.
	Quotes []fetcher.QuoteSource
	// Snapshot, when set, holds every venue's pools for a short window so
	// back-to-back cycles reuse one download.
	Snapshot *poolcache.CycleCache
}

// PriceRefresher updates network fee inputs.
type PriceRefresher interface {
	Refresh(ctx context.Context, est *costmodel.FeeEstimator) error
}

// Options tune the scan loop.
type Options struct {
	TokenDelay              time.Duration
	MinNotificationInterval time.Duration
	DeepConfirm             bool
	AggregatorSweep         bool
	AdvisoryLockKey         int64
	PriceFeedInterval       time.Duration
	Channels                []string
}

// Deps are the collaborators of a Scanner. Only Evaluator is required.
type Deps struct {
	Evaluator *evaluator.Evaluator
	Dedup     *antispam.Deduplicator
	Notifier  alerting.Notifier
	Store     storage.OpportunityStore
	Alerts    storage.AlertStore
	Locker    storage.AdvisoryLocker
	Metrics   *observability.Metrics
	Fees      *costmodel.FeeEstimator
	Prices    PriceRefresher
	Breaker   *poolcache.Breaker
	Retrier   *poolcache.Retrier
	Now       func() time.Time
}

// Stats summarise one cycle.
type Stats struct {
	Pools         int
	Tokens        int
	Pairs         int
	Opportunities int
	Unconfirmed   int
	Notified      int
	Suppressed    int
	Recovered     int
	Best          *market.Opportunity
}

// Scanner orchestrates fetching, evaluation, persistence and alerting.
type Scanner struct {
	opts   Options
	chains []Chain
	deps   Deps
	logger zerolog.Logger

	sleep poolcache.SleepFunc

	mu          sync.Mutex
	lastPair    map[string]time.Time
	lastPricing time.Time
}

// New constructs the scanner.
func New(opts Options, chains []Chain, deps Deps, logger zerolog.Logger) *Scanner {
	if deps.Evaluator == nil {
		deps.Evaluator = evaluator.New(evaluator.DefaultOptions(), deps.Fees, logger)
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	if deps.Dedup == nil {
		deps.Dedup = antispam.New(antispam.Options{}, deps.Now, logger)
	}
	if deps.Notifier == nil {
		deps.Notifier = alerting.NewLogNotifier(logger)
	}
	var locker storage.AdvisoryLocker
	if deps.Locker != nil {
		locker = deps.Locker
	} else if l, ok := deps.Store.(storage.AdvisoryLocker); ok {
		locker = l
	}
	deps.Locker = locker

	return &Scanner{
		opts:     opts,
		chains:   chains,
		deps:     deps,
		logger:   logger.With().Str("component", "scanner").Logger(),
		sleep:    sleepCtx,
		lastPair: make(map[string]time.Time),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run drives RunCycle from the scheduler until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context, sched *scheduler.Scheduler) error {
	if sched == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return sched.Run(ctx, s.RunCycle)
}

// RunCycle is the scheduler tick: one full scan of every chain.
func (s *Scanner) RunCycle(ctx context.Context, started time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	stats, err := s.Cycle(ctx)
	status := "success"
	if err != nil {
		status = "error"
	}
	s.deps.Metrics.RecordCycle(status, time.Since(started))
	if err != nil {
		return err
	}

	event := s.logger.Info().
		Int("pools", stats.Pools).
		Int("tokens", stats.Tokens).
		Int("pairs", stats.Pairs).
		Int("opportunities", stats.Opportunities).
		Int("notified", stats.Notified).
		Int("suppressed", stats.Suppressed).
		Dur("elapsed", time.Since(started))
	if stats.Best != nil {
		event = event.Str("best_token", logging.ShortID(stats.Best.Token)).Float64("best_spread_net_pct", stats.Best.SpreadNet*100)
	}
	event.Msg("scan cycle complete")
	return nil
}

// Cycle scans every chain once and returns what it saw.
func (s *Scanner) Cycle(ctx context.Context) (Stats, error) {
	var stats Stats
	s.refreshPrices(ctx)

	for _, ch := range s.chains {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		pools := s.collect(ctx, ch)
		stats.Pools += len(pools)

		best, err := s.scanChain(ctx, ch, pools, &stats)
		if err != nil {
			return stats, err
		}
		if s.opts.AggregatorSweep && len(ch.Quotes) > 0 {
			if b, err := s.sweepQuotes(ctx, ch, pools, &stats); err != nil {
				return stats, err
			} else if b != nil && (best == nil || b.SpreadNet > best.SpreadNet) {
				best = b
			}
		}
		if best != nil {
			s.deps.Metrics.SetBestSpread(ch.Chain.String(), best.SpreadNet)
			if stats.Best == nil || best.SpreadNet > stats.Best.SpreadNet {
				stats.Best = best
			}
		}
	}
	return stats, nil
}

// DeepScan runs the full aggregated evaluator over every token of every
// chain and returns the best topN opportunities. Nothing is notified.
func (s *Scanner) DeepScan(ctx context.Context, topN int) []market.Opportunity {
	universes := make([]evaluator.Universe, 0, len(s.chains))
	for _, ch := range s.chains {
		all := s.collect(ctx, ch)
		u := evaluator.Universe{
			Chain:  ch.Chain,
			Base:   ch.Base,
			Tokens: ch.Tokens,
			Pools: func(ctx context.Context, token string) ([]market.NormalizedPool, error) {
				return normalize.ForToken(all, token, ch.Base), nil
			},
		}
		if len(ch.Quotes) > 0 {
			u.Quotes = func(ctx context.Context, token string) (map[string]market.Quote, error) {
				return s.quotesFor(ctx, ch, normalize.ForToken(all, token, ch.Base), token), nil
			}
		}
		universes = append(universes, u)
	}
	return s.deps.Evaluator.FindAll(ctx, universes, topN)
}

// collect fans out every venue of the chain concurrently. A failing venue
// contributes no pools.
func (s *Scanner) collect(ctx context.Context, ch Chain) []market.Pool {
	if ch.Snapshot != nil {
		if snap, ok := ch.Snapshot.Get(); ok {
			return flatten(snap)
		}
	}

	var (
		mu    sync.Mutex
		byDEX = make(map[string][]market.Pool, len(ch.Sources))
		g     errgroup.Group
	)
	for _, src := range ch.Sources {
		g.Go(func() error {
			start := time.Now()
			pools, err := src.FetchPools(ctx, ch.Tokens)
			s.deps.Metrics.RecordFetch(ch.Chain.String(), src.Name(), len(pools), time.Since(start), err)
			if s.deps.Breaker != nil {
				s.deps.Metrics.SetDexDown(src.Name(), s.deps.Breaker.IsDown(src.Name()))
			}
			if err != nil {
				level := s.logger.Warn()
				if errors.Is(err, poolcache.ErrDexDown) {
					level = s.logger.Debug()
				}
				level.Err(err).Str("chain", ch.Chain.String()).Str("dex", src.Name()).Int("partial", len(pools)).Msg("venue fetch failed")
			}
			if len(pools) == 0 {
				return nil
			}
			mu.Lock()
			byDEX[src.Name()] = pools
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if ch.Snapshot != nil && len(byDEX) > 0 {
		ch.Snapshot.Set(byDEX)
	}
	return flatten(byDEX)
}

func flatten(byDEX map[string][]market.Pool) []market.Pool {
	dexes := make([]string, 0, len(byDEX))
	for dex := range byDEX {
		dexes = append(dexes, dex)
	}
	sort.Strings(dexes)

	var out []market.Pool
	for _, dex := range dexes {
		out = append(out, byDEX[dex]...)
	}
	return out
}

func (s *Scanner) scanChain(ctx context.Context, ch Chain, all []market.Pool, stats *Stats) (*market.Opportunity, error) {
	minSpread := s.deps.Evaluator.Options().MinSpread
	var best *market.Opportunity

	for i, token := range ch.Tokens {
		if i > 0 {
			if err := s.sleep(ctx, s.opts.TokenDelay); err != nil {
				return best, err
			}
		}

		pools := normalize.ForToken(all, token, ch.Base)
		if len(pools) < 2 {
			continue
		}
		stats.Tokens++

		pairs := 0
		for a := 0; a < len(pools); a++ {
			for b := a + 1; b < len(pools); b++ {
				pairs++
				opp, err := s.evaluatePair(pools[a], pools[b], token)
				if err != nil {
					stats.Recovered++
					continue
				}
				if opp == nil || opp.SpreadNet < minSpread {
					continue
				}
				if s.opts.DeepConfirm && !s.confirm(pools, token, ch.Base) {
					stats.Unconfirmed++
					continue
				}
				stats.Opportunities++
				if best == nil || opp.SpreadNet > best.SpreadNet {
					best = opp
				}
				s.handle(ctx, *opp, stats)
			}
		}
		stats.Pairs += pairs
		s.deps.Metrics.RecordToken(ch.Chain.String(), pairs)
	}
	return best, nil
}

// evaluatePair isolates one comparison so a bad pool record cannot end the
// cycle.
func (s *Scanner) evaluatePair(x, y market.NormalizedPool, token string) (opp *market.Opportunity, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("token", logging.ShortID(token)).
				Str("pool_a", logging.ShortID(x.PoolID)).
				Str("pool_b", logging.ShortID(y.PoolID)).
				Str("stack", string(debug.Stack())).
				Msgf("pair evaluation panicked: %v", r)
			opp, err = nil, fmt.Errorf("pair panic: %v", r)
		}
	}()
	opp = evaluator.EvaluatePair(x, y, token)
	if opp != nil {
		opp.DetectedAt = s.deps.Now()
	}
	return opp, nil
}

func (s *Scanner) confirm(pools []market.NormalizedPool, token, base string) bool {
	_, rej := s.deps.Evaluator.EvaluateToken(pools, token, base)
	if rej.Rejected() {
		s.deps.Metrics.RecordRejection(rej.Kind.String())
		s.logger.Debug().Str("token", logging.ShortID(token)).Str("rejection", rej.String()).Msg("pairwise hit not confirmed")
		return false
	}
	return true
}

// sweepQuotes compares one price per venue on the chain: the deepest pool of
// each DEX plus every configured quote source.
func (s *Scanner) sweepQuotes(ctx context.Context, ch Chain, all []market.Pool, stats *Stats) (*market.Opportunity, error) {
	var best *market.Opportunity
	for i, token := range ch.Tokens {
		if i > 0 {
			if err := s.sleep(ctx, s.opts.TokenDelay); err != nil {
				return best, err
			}
		}
		quotes := s.quotesFor(ctx, ch, normalize.ForToken(all, token, ch.Base), token)
		opp := s.deps.Evaluator.EvaluateQuotes(quotes, token, ch.Base)
		if opp == nil {
			continue
		}
		stats.Opportunities++
		if best == nil || opp.SpreadNet > best.SpreadNet {
			best = opp
		}
		s.handle(ctx, *opp, stats)
	}
	return best, nil
}

func (s *Scanner) quotesFor(ctx context.Context, ch Chain, pools []market.NormalizedPool, token string) map[string]market.Quote {
	quotes := poolQuotes(pools)
	for _, src := range ch.Quotes {
		q, err := s.quote(ctx, src, token, ch.Base)
		if err != nil {
			if !errors.Is(err, fetcher.ErrNoQuote) {
				s.logger.Debug().Err(err).Str("dex", src.Name()).Str("token", logging.ShortID(token)).Msg("quote failed")
			}
			continue
		}
		if q.DEX == "" {
			q.DEX = src.Name()
		}
		quotes[q.DEX] = q
	}
	return quotes
}

func (s *Scanner) quote(ctx context.Context, src fetcher.QuoteSource, token, base string) (market.Quote, error) {
	if _, noop := src.(fetcher.NoopQuoteSource); noop || s.deps.Retrier == nil {
		return src.Quote(ctx, token, base)
	}
	// no route is an answer, not a venue failure
	return poolcache.Do(ctx, s.deps.Retrier, src.Name(), func(ctx context.Context) (market.Quote, error) {
		q, err := src.Quote(ctx, token, base)
		if errors.Is(err, fetcher.ErrNoQuote) {
			return q, poolcache.Permanent(err)
		}
		return q, err
	})
}

// poolQuotes keeps the deepest pool of each DEX as that venue's quote.
func poolQuotes(pools []market.NormalizedPool) map[string]market.Quote {
	deepest := make(map[string]market.NormalizedPool)
	for _, p := range pools {
		if cur, ok := deepest[p.DEX]; !ok || p.LiquidityUSD > cur.LiquidityUSD {
			deepest[p.DEX] = p
		}
	}
	quotes := make(map[string]market.Quote, len(deepest))
	for dex, p := range deepest {
		fee, liq := p.FeePct, p.LiquidityUSD
		quotes[dex] = market.Quote{
			DEX:          dex,
			Price:        p.BuyPrice,
			FeePct:       &fee,
			LiquidityUSD: &liq,
		}
	}
	return quotes
}

// handle persists, deduplicates and notifies one opportunity. Notifier and
// storage failures are logged and never stop the cycle.
func (s *Scanner) handle(ctx context.Context, opp market.Opportunity, stats *Stats) {
	s.deps.Metrics.RecordOpportunity(opp.Chain.String(), opp.Source)

	hash := antispam.Hash(opp.Token, opp.BuyPoolID, opp.SellPoolID)
	notified := false

	if s.deps.Dedup.ShouldNotify(opp.Token, hash) && s.pairReady(opp) {
		err := s.deps.Notifier.Notify(ctx, opp)
		s.deps.Metrics.RecordAlert(err)
		s.deps.Dedup.Record(opp.Token, hash)
		s.markPair(opp)
		if err != nil {
			s.logger.Error().Err(err).Str("token", logging.ShortID(opp.Token)).Msg("failed to dispatch alert")
		} else {
			notified = true
			stats.Notified++
			s.persistAlert(ctx, opp, hash)
		}
	} else {
		stats.Suppressed++
		s.deps.Metrics.RecordSuppressed()
	}

	s.logger.Info().
		Str("chain", opp.Chain.String()).
		Str("token", logging.ShortID(opp.Token)).
		Str("buy", opp.BuyDEX).
		Str("sell", opp.SellDEX).
		Float64("spread_net_pct", opp.SpreadNet*100).
		Int("confidence", opp.Confidence).
		Str("source", opp.Source).
		Bool("notified", notified).
		Msg("opportunity detected")

	if s.deps.Store != nil {
		if _, err := s.deps.Store.InsertOpportunity(ctx, storage.RecordFromOpportunity(opp, hash, notified)); err != nil {
			s.deps.Metrics.RecordStoreError("insert_opportunity")
			s.logger.Error().Err(err).Msg("failed to persist opportunity")
		}
	}
}

func (s *Scanner) persistAlert(ctx context.Context, opp market.Opportunity, hash string) {
	if s.deps.Alerts == nil {
		return
	}
	rec := storage.RecordFromOpportunity(opp, hash, true)
	if _, err := s.deps.Alerts.InsertAlert(ctx, storage.AlertRecord{
		Hash:      hash,
		Chain:     rec.Chain,
		Token:     rec.Token,
		SpreadNet: rec.SpreadNet,
		Channels:  s.opts.Channels,
	}); err != nil {
		s.deps.Metrics.RecordStoreError("insert_alert")
		s.logger.Error().Err(err).Msg("failed to persist alert record")
	}
}

func pairKey(opp market.Opportunity) string {
	return opp.Chain.String() + "|" + opp.Token + "|" + opp.BuyDEX + "|" + opp.SellDEX
}

// pairReady enforces the minimum gap between two alerts for the same token
// and venue pair.
func (s *Scanner) pairReady(opp market.Opportunity) bool {
	if s.opts.MinNotificationInterval <= 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastPair[pairKey(opp)]
	return !ok || s.deps.Now().Sub(last) >= s.opts.MinNotificationInterval
}

func (s *Scanner) markPair(opp market.Opportunity) {
	if s.opts.MinNotificationInterval <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.deps.Now()
	for k, ts := range s.lastPair {
		if now.Sub(ts) >= s.opts.MinNotificationInterval {
			delete(s.lastPair, k)
		}
	}
	s.lastPair[pairKey(opp)] = now
}

func (s *Scanner) refreshPrices(ctx context.Context) {
	if s.deps.Prices == nil || s.deps.Fees == nil {
		return
	}
	s.mu.Lock()
	due := s.lastPricing.IsZero() || s.deps.Now().Sub(s.lastPricing) >= s.opts.PriceFeedInterval
	if due {
		s.lastPricing = s.deps.Now()
	}
	s.mu.Unlock()
	if !due {
		return
	}
	if err := s.deps.Prices.Refresh(ctx, s.deps.Fees); err != nil {
		s.logger.Warn().Err(err).Msg("price feed refresh failed; keeping previous fee inputs")
	}
}

func (s *Scanner) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.AdvisoryLockKey == 0 || s.deps.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.deps.Locker.TryAdvisoryLock(ctx, s.opts.AdvisoryLockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
