package evaluator

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"dexarb/internal/costmodel"
	"dexarb/internal/market"
	"dexarb/internal/normalize"
)

// RejectKind classifies why an evaluation produced nothing.
type RejectKind int

const (
	Accepted RejectKind = iota
	// RejectNotEnoughData: too few pools or venues to compare.
	RejectNotEnoughData
	// RejectBadData: the quotes look wrong rather than unprofitable.
	RejectBadData
	// RejectBelowThreshold: real but too thin after costs.
	RejectBelowThreshold
	// RejectMEV: sandwich risk too high.
	RejectMEV
)

func (k RejectKind) String() string {
	switch k {
	case Accepted:
		return "accepted"
	case RejectNotEnoughData:
		return "not_enough_data"
	case RejectBadData:
		return "bad_data"
	case RejectBelowThreshold:
		return "below_threshold"
	case RejectMEV:
		return "mev"
	default:
		return "unknown"
	}
}

// Rejection explains a nil evaluation. The zero value means accepted.
type Rejection struct {
	Kind   RejectKind
	Reason string
}

func (r Rejection) Rejected() bool { return r.Kind != Accepted }

func (r Rejection) String() string {
	if r.Reason == "" {
		return r.Kind.String()
	}
	return r.Kind.String() + ": " + r.Reason
}

func reject(kind RejectKind, format string, args ...any) (*market.Opportunity, Rejection) {
	return nil, Rejection{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Options tune the aggregated evaluator.
type Options struct {
	MinSpread        float64 `mapstructure:"min_spread"`
	MinPoolLiquidity float64 `mapstructure:"min_pool_liquidity"`
	SwapSizeUSD      float64 `mapstructure:"swap_size_usd"`
	DefaultLiquidity float64 `mapstructure:"default_liquidity"`
	DefaultVolume    float64 `mapstructure:"default_volume"`
}

// DefaultOptions returns the built-in thresholds.
func DefaultOptions() Options {
	return Options{
		MinSpread:        0.0025,
		MinPoolLiquidity: normalize.DefaultMinLiquidityUSD,
		SwapSizeUSD:      DefaultSwapSizeUSD,
		DefaultLiquidity: 100_000,
		DefaultVolume:    50_000,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.MinSpread <= 0 {
		o.MinSpread = def.MinSpread
	}
	if o.MinPoolLiquidity <= 0 {
		o.MinPoolLiquidity = def.MinPoolLiquidity
	}
	if o.SwapSizeUSD <= 0 {
		o.SwapSizeUSD = def.SwapSizeUSD
	}
	if o.DefaultLiquidity <= 0 {
		o.DefaultLiquidity = def.DefaultLiquidity
	}
	if o.DefaultVolume <= 0 {
		o.DefaultVolume = def.DefaultVolume
	}
	return o
}

// Evaluator runs the full cost model over every pool of a token.
type Evaluator struct {
	opts   Options
	fees   *costmodel.FeeEstimator
	logger zerolog.Logger
	now    func() time.Time
}

// New builds an evaluator. A nil fee estimator uses the default fee inputs.
func New(opts Options, fees *costmodel.FeeEstimator, logger zerolog.Logger) *Evaluator {
	if fees == nil {
		fees = costmodel.NewFeeEstimator(costmodel.DefaultFeeParams(), logger)
	}
	return &Evaluator{
		opts:   opts.withDefaults(),
		fees:   fees,
		logger: logger.With().Str("component", "evaluator").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Options returns the effective options.
func (e *Evaluator) Options() Options { return e.opts }

// EvaluateToken picks the cheapest buy and the richest sell among pools and
// runs guardrails and the cost model on that pair. Guards are checked in
// order and the first failure wins.
func (e *Evaluator) EvaluateToken(pools []market.NormalizedPool, token, base string) (*market.Opportunity, Rejection) {
	opp, rej := e.evaluate(pools, token, base)
	if rej.Rejected() {
		ev := e.logger.Debug()
		if rej.Kind == RejectBadData || rej.Kind == RejectMEV {
			ev = e.logger.Info()
		}
		ev.Str("token", token).Str("reject", rej.Kind.String()).Msg(rej.Reason)
	}
	return opp, rej
}

func (e *Evaluator) evaluate(pools []market.NormalizedPool, token, base string) (*market.Opportunity, Rejection) {
	candidates := normalize.FilterByLiquidity(pools, e.opts.MinPoolLiquidity)
	if len(candidates) < 2 {
		return reject(RejectNotEnoughData, "%d pools above liquidity floor", len(candidates))
	}
	dexes := make(map[string]struct{}, len(candidates))
	for _, p := range candidates {
		dexes[p.DEX] = struct{}{}
	}
	if len(dexes) < 2 {
		return reject(RejectNotEnoughData, "only one venue")
	}

	byBuy := normalize.SortByBuy(candidates)
	bySell := normalize.SortBySell(candidates)
	buy, sell := byBuy[0], bySell[0]
	if buy.PoolID == sell.PoolID {
		if len(candidates) < 3 {
			return reject(RejectNotEnoughData, "same pool wins both legs")
		}
		sell = bySell[1]
	}

	// guardrails
	if buy.BuyPrice <= 0 || sell.SellPrice <= 0 {
		return reject(RejectBadData, "non-positive price")
	}

	prices := make(map[string]float64, len(candidates))
	for _, p := range candidates {
		prices[p.DEX] = p.BuyPrice
	}
	coherence := costmodel.CalculatePriceCoherence(prices)
	brut := (sell.SellPrice - buy.BuyPrice) / buy.BuyPrice

	if brut > 0.10 && coherence < 0.8 && len(candidates) < 3 {
		return reject(RejectBadData, "spread %.2f%% with coherence %.2f on %d pools", brut*100, coherence, len(candidates))
	}
	if brut > 0.20 {
		return reject(RejectBadData, "spread %.2f%% looks like a pricing error", brut*100)
	}
	if buy.BuyPrice > buy.SellPrice || sell.BuyPrice > sell.SellPrice {
		return reject(RejectBadData, "pool quotes buy above sell")
	}

	avgLiq := (buy.LiquidityUSD + sell.LiquidityUSD) / 2
	if avgLiq < MinAvgLegLiquidityUSD || min(buy.LiquidityUSD, sell.LiquidityUSD) < MinLegLiquidityUSD {
		return reject(RejectNotEnoughData, "legs too shallow (avg %.0f)", avgLiq)
	}

	// cost model
	chain := buy.Chain
	swap := e.opts.SwapSizeUSD
	dexFees := buy.FeePct + sell.FeePct
	network := e.fees.Estimate(chain, swap)

	slipBuy := costmodel.EstimateSlippage(token, buy.LiquidityUSD, swap, buy.FeeBps, coherence, len(candidates))
	slipSell := costmodel.EstimateSlippage(token, sell.LiquidityUSD, swap, sell.FeeBps, coherence, len(candidates))
	slippage := (slipBuy + slipSell) / 2

	mev := costmodel.AssessMEVRisk(token, avgLiq, brut)
	if mev.ShouldReject {
		return reject(RejectMEV, "%s", mev.Reason)
	}
	slippage += mev.SlippageBuffer

	impact := costmodel.EstimatePriceImpact(avgLiq, swap)
	total := dexFees + network + slippage + impact
	net := brut - total

	if net < e.opts.MinSpread {
		return reject(RejectBelowThreshold, "net %.3f%% < %.3f%%", net*100, e.opts.MinSpread*100)
	}

	volume := 0.0
	for _, p := range candidates {
		volume += p.Volume24h
	}
	if volume <= 0 {
		volume = e.opts.DefaultVolume
	}
	confLiq := avgLiq
	if confLiq <= 0 {
		confLiq = e.opts.DefaultLiquidity
	}
	confidence := costmodel.CalculateConfidenceScore(prices, confLiq, volume, brut)

	if coherence < 0.5 {
		return reject(RejectBadData, "coherence %.2f", coherence)
	}

	return &market.Opportunity{
		Token:      token,
		Base:       base,
		Chain:      chain,
		BuyDEX:     buy.DEX,
		SellDEX:    sell.DEX,
		BuyPoolID:  buy.PoolID,
		SellPoolID: sell.PoolID,
		BuyURL:     buy.URL,
		SellURL:    sell.URL,
		BuyPrice:   buy.BuyPrice,
		SellPrice:  sell.SellPrice,
		SpreadBrut: brut,
		Costs: market.Costs{
			BuyFee:      buy.FeePct,
			SellFee:     sell.FeePct,
			DEXFees:     dexFees,
			NetworkFee:  network,
			Slippage:    slippage,
			PriceImpact: impact,
			MEVBuffer:   mev.SlippageBuffer,
			Total:       total,
		},
		SpreadNet:      net,
		Confidence:     confidence,
		MEVRisk:        mev.Level,
		PriceCoherence: coherence,
		PoolCount:      len(candidates),
		LiquidityUSD:   avgLiq,
		Volume24h:      volume,
		SwapSizeUSD:    swap,
		ProfitUSD:      net * swap,
		LiquidityOK:    avgLiq >= liquidityOKUSD,
		VolumeOK:       volume >= volumeOKUSD,
		Source:         market.SourceAggregate,
		DetectedAt:     e.now(),
	}, Rejection{}
}
