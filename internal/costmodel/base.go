package costmodel

import (
	"strings"
)

// BaseNetworkFee is the flat network cost used for aggregator quotes on Base.
const BaseNetworkFee = 0.001

// BaseSlippage is the per-leg slippage table for Base aggregator quotes.
// Unknown liquidity (<= 0) maps to 0.3%.
func BaseSlippage(liquidityUSD float64) float64 {
	switch {
	case liquidityUSD <= 0:
		return 0.003
	case liquidityUSD >= 1_000_000:
		return 0.0005
	case liquidityUSD >= 200_000:
		return 0.001
	case liquidityUSD >= 20_000:
		return 0.0025
	default:
		return 0.005
	}
}

// BaseMEVPenalty is 0.15%, plus 0.25% on shallow venues.
func BaseMEVPenalty(liquidityUSD float64) float64 {
	const penalty = 0.0015
	if liquidityUSD < 30_000 {
		return penalty + 0.0025
	}
	return penalty
}

// BaseDEXFee prefers the fee reported by the endpoint, then the table.
func BaseDEXFee(dex string, endpointFee *float64) float64 {
	if endpointFee != nil && *endpointFee >= 0 {
		return *endpointFee
	}
	if fee, ok := baseDEXFees[strings.ToLower(dex)]; ok {
		return fee
	}
	return defaultDEXFee
}

// IsMajor reports whether token is on the major allow-list.
func IsMajor(token string) bool {
	return TierOf(token) == TierMajor
}
