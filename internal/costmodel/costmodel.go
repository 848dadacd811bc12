// Package costmodel holds the execution-cost heuristics used to turn a gross
// spread into a net one. Everything here except FeeEstimator is pure.
package costmodel

import (
	"math"

	"dexarb/internal/market"
)

const (
	minSlippage    = 0.0005
	maxSlippage    = 0.015
	minPriceImpact = 0.0005
	maxPriceImpact = 0.02
)

// EstimateSlippage returns the expected slippage fraction for one swap leg.
func EstimateSlippage(token string, liquidityUSD, swapUSD float64, feeBps int, coherence float64, poolCount int) float64 {
	s := tierBaseSlippage(TierOf(token))

	s *= math.Max(0.5, 2.0-coherence)
	s *= math.Max(1.0, 2.0-0.2*float64(poolCount))
	s *= liquidityMultiplier(liquidityUSD)
	s *= sizeMultiplier(liquidityUSD, swapUSD)
	if feeBps != 0 {
		s *= feeMultiplier(feeBps)
	}

	return clamp(s, minSlippage, maxSlippage)
}

func liquidityMultiplier(liq float64) float64 {
	switch {
	case liq >= 1_000_000:
		return 0.5
	case liq >= 500_000:
		return 0.75
	case liq >= 100_000:
		return 1.0
	case liq >= 50_000:
		return 1.25
	case liq >= 10_000:
		return 1.5
	default:
		return 2.0
	}
}

// sizeMultiplier grows sub-linearly with the share of the pool being swapped,
// capped at 10% of depth.
func sizeMultiplier(liq, swap float64) float64 {
	if liq <= 0 {
		return 2.0
	}
	ratio := math.Min(swap/liq, 0.1)
	if ratio < 0 {
		ratio = 0
	}
	return 1 + math.Pow(ratio, 0.7)*2.0
}

func feeMultiplier(feeBps int) float64 {
	switch {
	case feeBps >= 300:
		return 1.2
	case feeBps >= 100:
		return 1.0
	default:
		return 0.9
	}
}

// EstimatePriceImpact returns the expected price impact of a swap of swapUSD
// against a pool of the given depth.
func EstimatePriceImpact(liquidityUSD, swapUSD float64) float64 {
	var base float64
	switch {
	case liquidityUSD >= 1_000_000:
		base = 0.0005
	case liquidityUSD >= 200_000:
		base = 0.001
	case liquidityUSD >= 20_000:
		base = 0.002
	default:
		base = 0.005
	}
	if swapUSD < 0 {
		swapUSD = 0
	}
	return clamp(base*math.Sqrt(swapUSD/1000), minPriceImpact, maxPriceImpact)
}

// CalculatePriceCoherence scores how closely venues agree: 1 is perfect
// agreement, 0 is a coefficient of variation of 10% or worse.
func CalculatePriceCoherence(prices map[string]float64) float64 {
	if len(prices) < 2 {
		return 0
	}

	var sum float64
	for _, p := range prices {
		sum += p
	}
	mean := sum / float64(len(prices))
	if mean == 0 {
		return 0
	}

	var sq float64
	for _, p := range prices {
		d := p - mean
		sq += d * d
	}
	cv := math.Sqrt(sq/float64(len(prices))) / mean

	return math.Min(1, math.Max(0, 1-10*cv))
}

// AssessVolatilityRisk blends spread size and venue disagreement into [0,1].
func AssessVolatilityRisk(spreadBrut, coherence float64) float64 {
	spreadRisk := math.Min(spreadBrut*10, 1)
	return clamp(0.4*spreadRisk+0.6*(1-coherence), 0, 1)
}

// CalculateConfidenceScore returns a 0..100 score for an opportunity.
func CalculateConfidenceScore(prices map[string]float64, liquidityUSD, volume24h, spreadBrut float64) int {
	coherence := CalculatePriceCoherence(prices)
	score := coherence * 30

	switch {
	case liquidityUSD >= 500_000:
		score += 30
	case liquidityUSD >= 100_000:
		score += 25
	case liquidityUSD >= 50_000:
		score += 20
	case liquidityUSD >= 10_000:
		score += 10
	default:
		score += 5
	}

	score += (1 - AssessVolatilityRisk(spreadBrut, coherence)) * 20

	switch n := len(prices); {
	case n >= 4:
		score += 10
	case n >= 3:
		score += 7
	case n >= 2:
		score += 4
	}

	switch {
	case volume24h >= 1_000_000:
		score += 10
	case volume24h >= 100_000:
		score += 7
	case volume24h >= 10_000:
		score += 4
	default:
		score += 2
	}

	return int(clamp(score, 0, 100))
}

// MEVAssessment is the outcome of AssessMEVRisk.
type MEVAssessment struct {
	Level          market.MEVRisk
	SlippageBuffer float64
	ShouldReject   bool
	Reason         string
}

// AssessMEVRisk classifies sandwich risk from depth and spread size.
//
// Tokens on the major allow-list always come back low risk, even when
// liquidity looks anomalous; callers that care about a liquidity crunch on a
// major pair must check liquidity themselves.
func AssessMEVRisk(token string, liquidityUSD, spreadBrut float64) MEVAssessment {
	var res MEVAssessment
	switch {
	case spreadBrut > 0.05 && liquidityUSD < 50_000:
		res = MEVAssessment{Level: market.MEVHigh, SlippageBuffer: 0.005, ShouldReject: true,
			Reason: "High spread with low liquidity - likely MEV bait"}
	case liquidityUSD < 10_000:
		res = MEVAssessment{Level: market.MEVHigh, SlippageBuffer: 0.005, ShouldReject: true,
			Reason: "Liquidity too low - high manipulation risk"}
	case liquidityUSD < 50_000 || spreadBrut > 0.03:
		res = MEVAssessment{Level: market.MEVMedium, SlippageBuffer: 0.002}
	default:
		res = MEVAssessment{Level: market.MEVLow}
	}

	if TierOf(token) == TierMajor {
		return MEVAssessment{Level: market.MEVLow}
	}
	return res
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
