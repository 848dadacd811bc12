// Package evaluator decides whether a set of normalized pools for one token
// holds a tradeable spread.
package evaluator

import (
	"time"

	"dexarb/internal/costmodel"
	"dexarb/internal/market"
)

// Leg liquidity floors shared by both pool-based evaluators.
const (
	MinAvgLegLiquidityUSD = 10_000
	MinLegLiquidityUSD    = 5_000

	DefaultSwapSizeUSD = 1_000

	liquidityOKUSD = 50_000
	volumeOKUSD    = 10_000
)

type direction struct {
	buy, sell market.NormalizedPool
	brut, net float64
}

func newDirection(buy, sell market.NormalizedPool) direction {
	brut := (sell.SellPrice - buy.BuyPrice) / buy.BuyPrice
	return direction{
		buy:  buy,
		sell: sell,
		brut: brut,
		net:  brut - (buy.FeePct + sell.FeePct),
	}
}

// EvaluatePair compares two pools of the same token in both directions and
// keeps the one with the higher fee-adjusted spread. Only the two pool fees
// are deducted; it is the cheap filter of the scan loop.
//
// The result does not depend on argument order. nil means neither direction
// is profitable, a price is unusable, the legs are too shallow or the spread
// looks like MEV bait.
func EvaluatePair(x, y market.NormalizedPool, token string) *market.Opportunity {
	if x.BuyPrice <= 0 || x.SellPrice <= 0 || y.BuyPrice <= 0 || y.SellPrice <= 0 {
		return nil
	}
	if x.PoolID == y.PoolID && x.DEX == y.DEX {
		return nil
	}

	avgLiq := (x.LiquidityUSD + y.LiquidityUSD) / 2
	if avgLiq < MinAvgLegLiquidityUSD || min(x.LiquidityUSD, y.LiquidityUSD) < MinLegLiquidityUSD {
		return nil
	}

	xy := newDirection(x, y)
	yx := newDirection(y, x)

	best := xy
	switch {
	case yx.net > xy.net:
		best = yx
	case yx.net == xy.net && y.PoolID < x.PoolID:
		best = yx
	}
	if best.net <= 0 {
		return nil
	}

	prices := map[string]float64{
		best.buy.DEX:  best.buy.BuyPrice,
		best.sell.DEX: best.sell.SellPrice,
	}
	coherence := costmodel.CalculatePriceCoherence(prices)
	volume := x.Volume24h + y.Volume24h
	mev := costmodel.AssessMEVRisk(token, avgLiq, best.brut)
	if mev.ShouldReject {
		return nil
	}

	fees := best.buy.FeePct + best.sell.FeePct
	return &market.Opportunity{
		Token:      token,
		Base:       x.Base,
		Chain:      x.Chain,
		BuyDEX:     best.buy.DEX,
		SellDEX:    best.sell.DEX,
		BuyPoolID:  best.buy.PoolID,
		SellPoolID: best.sell.PoolID,
		BuyURL:     best.buy.URL,
		SellURL:    best.sell.URL,
		BuyPrice:   best.buy.BuyPrice,
		SellPrice:  best.sell.SellPrice,
		SpreadBrut: best.brut,
		Costs: market.Costs{
			BuyFee:  best.buy.FeePct,
			SellFee: best.sell.FeePct,
			DEXFees: fees,
			Total:   fees,
		},
		SpreadNet:      best.net,
		Confidence:     costmodel.CalculateConfidenceScore(prices, avgLiq, volume, best.brut),
		MEVRisk:        mev.Level,
		PriceCoherence: coherence,
		PoolCount:      2,
		LiquidityUSD:   avgLiq,
		Volume24h:      volume,
		SwapSizeUSD:    DefaultSwapSizeUSD,
		ProfitUSD:      best.net * DefaultSwapSizeUSD,
		LiquidityOK:    avgLiq >= liquidityOKUSD,
		VolumeOK:       volume >= volumeOKUSD,
		Source:         market.SourcePairwise,
		DetectedAt:     time.Now().UTC(),
	}
}
