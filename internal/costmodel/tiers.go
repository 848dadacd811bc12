package costmodel

import (
	"strings"

	"dexarb/internal/market"
)

// Tier buckets tokens by how deep and contested their markets usually are.
type Tier int

const (
	TierUnknown Tier = iota
	TierMedium
	TierMajor
)

func (t Tier) String() string {
	switch t {
	case TierMajor:
		return "major"
	case TierMedium:
		return "medium"
	default:
		return "unknown"
	}
}

var majorTokens = map[string]struct{}{
	market.SOLMint:  {},
	market.USDCMint: {},
	"Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB": {}, // USDT
	"mSoLzYCxHdYgdzU16g5QSh3i5K3z3KZK7ytfqcJm7So":  {}, // mSOL
	"7dHbWXmci3dT8UFYWYZweBLXgycu7Y3iL6trKn1Y7ARj": {}, // stSOL
}

var mediumTokens = map[string]struct{}{
	"DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263": {}, // BONK
	"EKpQGSJtjMFqKZ9KQanSqYXRcF8fBopzLHYxdM65zcjm": {}, // WIF
	"HZ1JovNiVvGrGNiiYvEozEVgZ58xaU3RKwX8eACQBCt3": {}, // PYTH
	"JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN":  {}, // JUP
	"4k3Dyjzvzp8eMZWUXbBCjEvwSkkk59S5iCNLY3QrkX6R": {}, // RAY
}

// TierOf returns the tier of a token address.
func TierOf(token string) Tier {
	if _, ok := majorTokens[token]; ok {
		return TierMajor
	}
	if _, ok := mediumTokens[token]; ok {
		return TierMedium
	}
	return TierUnknown
}

func tierBaseSlippage(t Tier) float64 {
	switch t {
	case TierMajor:
		return 0.0005
	case TierMedium:
		return 0.0020
	default:
		return 0.0040
	}
}

const defaultDEXFee = 0.003

var solanaDEXFees = map[string]float64{
	"jupiter":  0.001,
	"raydium":  0.0025,
	"orca":     0.0022,
	"meteora":  0.001,
	"phoenix":  0.0004,
	"lifinity": 0.002,
	"pumpfun":  0.01,
	"openbook": 0.0004,
}

var baseDEXFees = map[string]float64{
	"uniswap":     0.003,
	"aerodrome":   0.0004,
	"pancakeswap": 0.0025,
	"kyberswap":   0.001,
}

// uniswapFeeTiers maps v3 fee tiers (hundredths of a bip) to fractions.
var uniswapFeeTiers = map[int]float64{
	100:   0.0001,
	500:   0.0005,
	3000:  0.003,
	10000: 0.01,
}

// DEXFee returns the table fee for a venue, 0.3% when the venue is unknown.
func DEXFee(chain market.Chain, dex string) float64 {
	table := solanaDEXFees
	if chain == market.ChainBase {
		table = baseDEXFees
	}
	if fee, ok := table[strings.ToLower(dex)]; ok {
		return fee
	}
	return defaultDEXFee
}

// FeeTierFraction converts a Uniswap-style fee tier. ok is false for
// non-standard tiers.
func FeeTierFraction(tier int) (float64, bool) {
	v, ok := uniswapFeeTiers[tier]
	return v, ok
}
