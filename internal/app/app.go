package app

import (
	"context"
	"errors"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"dexarb/internal/alerting"
	"dexarb/internal/antispam"
	"dexarb/internal/config"
	"dexarb/internal/costmodel"
	"dexarb/internal/evaluator"
	"dexarb/internal/fetcher"
	"dexarb/internal/market"
	"dexarb/internal/observability"
	"dexarb/internal/poolcache"
	"dexarb/internal/scanner"
	"dexarb/internal/scheduler"
	"dexarb/internal/storage"
	"dexarb/internal/tokens"
	"dexarb/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle and reports the config values
// that were replaced by defaults.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	a := &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
	for _, w := range cfg.Warnings {
		a.Logger.Warn().Msg(w)
	}
	return a
}

func (a *App) chainEnabled(chain market.Chain) bool {
	return slices.ContainsFunc(a.Config.Scanner.Chains, func(c string) bool {
		return market.ParseChain(c) == chain
	})
}

func (a *App) httpOptions() fetcher.HTTPOptions {
	ua := a.Config.HTTP.UserAgent
	if ua == "" {
		ua = version.UserAgent()
	}
	return fetcher.HTTPOptions{
		Timeout:        a.Config.HTTP.Timeout,
		ConnectTimeout: a.Config.HTTP.ConnectTimeout,
		UserAgent:      ua,
	}
}

// loadTokens reads the token universe and drops invalid addresses.
func (a *App) loadTokens() (tokens.Universe, []tokens.InvalidToken, error) {
	u := tokens.Default()
	if a.Config.Tokens.File != "" {
		loaded, err := tokens.Load(a.Config.Tokens.File)
		if err != nil {
			return tokens.Universe{}, nil, err
		}
		u = loaded
	}
	clean, bad := tokens.Validate(u)
	for _, b := range bad {
		a.Logger.Warn().Str("chain", b.Chain.String()).Str("address", b.Token.Address).Err(b.Err).Msg("invalid token address dropped")
	}
	return clean, bad, nil
}

// shared bundles what the scanner shares with the fee model and venues.
type shared struct {
	fees    *costmodel.FeeEstimator
	breaker *poolcache.Breaker
	retrier *poolcache.Retrier
	rpc     *fetcher.Chain
}

func (a *App) newShared() *shared {
	breaker := poolcache.NewBreaker(a.Config.Retry.DownTTL, nil)
	rt := &shared{
		fees:    costmodel.NewFeeEstimator(a.Config.Fees, a.Logger),
		breaker: breaker,
		retrier: poolcache.NewRetrier(a.Config.Retry, breaker, nil, a.Logger),
	}
	if a.Config.Base.RPCURL != "" && a.chainEnabled(market.ChainBase) {
		rt.rpc = fetcher.NewChain(fetcher.ChainOptions{
			RPCURL:  a.Config.Base.RPCURL,
			Timeout: a.Config.Base.RequestTimeout,
		}, a.Logger)
	}
	return rt
}

func (a *App) newChains(u tokens.Universe, rt *shared) []scanner.Chain {
	httpOpts := a.httpOptions()
	cache := poolcache.New(nil)
	wrap := func(src fetcher.PoolSource) fetcher.PoolSource {
		return poolcache.Wrap(src, cache, rt.retrier)
	}

	var chains []scanner.Chain

	if a.chainEnabled(market.ChainSolana) {
		sol := a.Config.Solana
		ch := scanner.Chain{
			Chain:    market.ChainSolana,
			Base:     market.SOLMint,
			Tokens:   tokens.Addresses(u.Solana),
			Snapshot: poolcache.NewCycleCache(a.Config.Cache.CycleTTL, nil),
		}
		venues := []struct {
			endpoint string
			build    func(fetcher.VenueOptions, zerolog.Logger) *fetcher.Venue
		}{
			{sol.Raydium, fetcher.NewRaydium},
			{sol.Orca, fetcher.NewOrca},
			{sol.Meteora, fetcher.NewMeteora},
			{sol.Lifinity, fetcher.NewLifinity},
			{sol.Phoenix, fetcher.NewPhoenix},
		}
		for _, v := range venues {
			if v.endpoint == "" {
				continue
			}
			ch.Sources = append(ch.Sources, wrap(v.build(fetcher.VenueOptions{Endpoint: v.endpoint, HTTP: httpOpts}, a.Logger)))
		}
		chains = append(chains, ch)
	}

	if a.chainEnabled(market.ChainBase) {
		base := a.Config.Base
		ch := scanner.Chain{
			Chain:  market.ChainBase,
			Base:   market.BaseUSDC,
			Tokens: tokens.Addresses(u.Base),
		}
		if base.Aerodrome != "" {
			ch.Sources = append(ch.Sources, wrap(fetcher.NewAerodrome(fetcher.VenueOptions{Endpoint: base.Aerodrome, HTTP: httpOpts}, a.Logger)))
		}
		if base.KyberPools != "" {
			ch.Sources = append(ch.Sources, wrap(fetcher.NewKyberPools(fetcher.KyberPoolsOptions{Endpoint: base.KyberPools, HTTP: httpOpts}, a.Logger)))
		}
		if base.KyberRoutes != "" {
			opts := fetcher.KyberOptions{Endpoint: base.KyberRoutes, HTTP: httpOpts}
			if base.ResolveDecimals && rt.rpc != nil {
				opts.Decimals = rt.rpc
			}
			ch.Quotes = append(ch.Quotes, fetcher.NewKyber(opts, a.Logger))
		} else {
			ch.Quotes = append(ch.Quotes, fetcher.NoopQuoteSource{})
		}
		chains = append(chains, ch)
	}

	for _, ch := range chains {
		a.Logger.Info().Str("chain", ch.Chain.String()).Int("tokens", len(ch.Tokens)).Int("venues", len(ch.Sources)).Msg("chain configured")
	}
	return chains
}

func (a *App) newPriceFeed(rt *shared) scanner.PriceRefresher {
	if !a.Config.PriceFeed.Enabled {
		return nil
	}
	opts := fetcher.PriceFeedOptions{Endpoint: a.Config.PriceFeed.Endpoint, HTTP: a.httpOptions()}
	if rt.rpc != nil {
		opts.Gas = rt.rpc
	}
	return fetcher.NewPriceFeed(opts, a.Logger)
}

// newNotifier assembles the enabled channels. The returned closer releases
// the Redis client when one was opened.
func (a *App) newNotifier(u tokens.Universe) (alerting.Notifier, []string, func(), error) {
	cfg := a.Config.Alerting
	if !cfg.Enabled {
		return alerting.NewLogNotifier(a.Logger), []string{"log"}, func() {}, nil
	}

	var (
		notifiers []alerting.Notifier
		channels  []string
		closer    = func() {}
	)
	if cfg.Telegram.Enabled {
		tg := alerting.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.APIBase, cfg.Telegram.Timeout, a.Logger).
			WithSymbols(u.Symbol)
		notifiers = append(notifiers, tg)
		channels = append(channels, "telegram")
	}
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, nil, err
		}
		notifiers = append(notifiers, alerting.NewRedisNotifier(rdb, cfg.Redis.Prefix, alerting.RedisOptions{
			Stream:  cfg.Redis.Stream,
			Channel: cfg.Redis.Channel,
			MaxLen:  cfg.Redis.MaxLen,
		}, a.Logger))
		channels = append(channels, "redis")
		closer = func() { _ = rdb.Close() }
	}
	if len(notifiers) == 0 {
		return alerting.NewLogNotifier(a.Logger), []string{"log"}, closer, nil
	}

	var n alerting.Notifier = alerting.NewMulti(a.Logger, notifiers...)
	if cfg.HistorySize > 0 {
		n = alerting.NewHistory(n, cfg.HistorySize)
	}
	return n, channels, closer, nil
}

func (a *App) openStore(ctx context.Context) (storage.Repository, func(), error) {
	repo, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	if repo == nil {
		return nil, func() {}, nil
	}
	return repo, repo.Close, nil
}

// scanEnv is a fully wired scanner plus what has to be released with it.
type scanEnv struct {
	scanner *scanner.Scanner
	closers []func()
}

func (e *scanEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

func (a *App) buildScanner(ctx context.Context, metrics *observability.Metrics, persist bool) (*scanEnv, error) {
	env := &scanEnv{}

	u, _, err := a.loadTokens()
	if err != nil {
		return nil, err
	}

	rt := a.newShared()
	notifier, channels, closeNotifier, err := a.newNotifier(u)
	if err != nil {
		return nil, err
	}
	env.closers = append(env.closers, closeNotifier)

	deps := scanner.Deps{
		Evaluator: evaluator.New(a.Config.Evaluator, rt.fees, a.Logger),
		Dedup:     antispam.New(a.Config.AntiSpam, nil, a.Logger),
		Notifier:  notifier,
		Metrics:   metrics,
		Fees:      rt.fees,
		Prices:    a.newPriceFeed(rt),
		Breaker:   rt.breaker,
		Retrier:   rt.retrier,
	}

	if persist {
		repo, closeStore, err := a.openStore(ctx)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.closers = append(env.closers, closeStore)
		if repo == nil {
			a.Logger.Warn().Msg("database.driver not configured; persistence disabled")
		} else {
			deps.Store = repo
			deps.Alerts = repo
			deps.Locker = repo
		}
	}

	sc := a.Config.Scanner
	env.scanner = scanner.New(scanner.Options{
		TokenDelay:              sc.TokenDelay,
		MinNotificationInterval: sc.MinNotificationInterval,
		DeepConfirm:             sc.DeepConfirm,
		AggregatorSweep:         sc.AggregatorSweep,
		AdvisoryLockKey:         sc.AdvisoryLockKey,
		PriceFeedInterval:       a.Config.PriceFeed.Interval,
		Channels:                channels,
	}, a.newChains(u, rt), deps, a.Logger)
	return env, nil
}

// Run executes the long-running scan service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var metrics *observability.Metrics
	if a.Config.Metrics.Enabled {
		metrics = observability.NewMetrics()
		go func() {
			if err := observability.Serve(ctx, a.Config.Metrics.Addr, a.Config.Metrics.Path, metrics, a.Logger); err != nil {
				a.Logger.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	env, err := a.buildScanner(ctx, metrics, true)
	if err != nil {
		return err
	}
	defer env.Close()

	sched := scheduler.New(scheduler.Options{
		Interval:      a.Config.Scanner.Interval,
		ErrorCooldown: a.Config.Scanner.ErrorCooldown,
		StartupDelay:  a.Config.Scanner.StartupDelay,
	}, a.Logger)

	a.Logger.Info().Str("version", version.Version).Strs("chains", a.Config.Scanner.Chains).Msg("starting scan service")
	err = env.scanner.Run(ctx, sched)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("scan service terminated with error")
		return err
	}

	a.Logger.Info().Msg("scan service stopped")
	return nil
}

// ScanOptions configure the one-shot scan command.
type ScanOptions struct {
	TopN int
}

// ExportOptions hold parameters for exporting stored opportunities.
type ExportOptions struct {
	Chain     string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Alerts bool
}

// PruneOptions configure the retention job.
type PruneOptions struct {
	Before time.Time
	DryRun bool
}

// SimulateOptions describe a synthetic two-venue price gap.
type SimulateOptions struct {
	Chain     market.Chain
	Token     string
	BuyPrice  float64
	SellPrice float64
	Liquidity float64
}
