// Package normalize turns raw pool records into buy/sell quotes for a single
// token against a chosen quote asset.
package normalize

import (
	"sort"

	"dexarb/internal/market"
)

// DefaultMinLiquidityUSD is the floor applied by FilterByLiquidity callers.
const DefaultMinLiquidityUSD = 10_000

// Normalize orients pool around token/base. ok is false when the pool does not
// trade exactly that pair or carries no usable price.
func Normalize(pool market.Pool, token, base string) (market.NormalizedPool, bool) {
	if pool.Price == nil || *pool.Price <= 0 {
		return market.NormalizedPool{}, false
	}
	price := *pool.Price

	var buy, sell float64
	switch {
	case pool.TokenA == token && pool.TokenB == base:
		// price quotes token in base units
		buy, sell = price, price
	case pool.TokenA == base && pool.TokenB == token:
		buy, sell = 1/price, 1/price
	default:
		return market.NormalizedPool{}, false
	}

	return market.NormalizedPool{
		PoolID:       pool.PoolID,
		DEX:          pool.DEX,
		Chain:        pool.Chain,
		Token:        token,
		Base:         base,
		BuyPrice:     buy,
		SellPrice:    sell,
		FeeBps:       pool.FeeBps,
		FeePct:       pool.FeePct,
		LiquidityUSD: pool.LiquidityUSD,
		Volume24h:    pool.Volume24h,
		PoolType:     pool.PoolType,
		URL:          VenueURL(pool.Chain, pool.DEX, pool.PoolID),
	}, true
}

// ForToken normalizes every pool relevant to token and drops the rest.
func ForToken(pools []market.Pool, token, base string) []market.NormalizedPool {
	out := make([]market.NormalizedPool, 0, len(pools))
	for _, p := range pools {
		if np, ok := Normalize(p, token, base); ok {
			out = append(out, np)
		}
	}
	return out
}

// FilterByLiquidity keeps pools whose liquidity is at least min. A
// non-positive min uses DefaultMinLiquidityUSD.
func FilterByLiquidity(pools []market.NormalizedPool, min float64) []market.NormalizedPool {
	if min <= 0 {
		min = DefaultMinLiquidityUSD
	}
	out := make([]market.NormalizedPool, 0, len(pools))
	for _, p := range pools {
		if p.LiquidityUSD >= min {
			out = append(out, p)
		}
	}
	return out
}

// SortByBuy returns a copy ordered by ascending buy price.
func SortByBuy(pools []market.NormalizedPool) []market.NormalizedPool {
	out := append([]market.NormalizedPool(nil), pools...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].BuyPrice < out[j].BuyPrice })
	return out
}

// SortBySell returns a copy ordered by descending sell price.
func SortBySell(pools []market.NormalizedPool) []market.NormalizedPool {
	out := append([]market.NormalizedPool(nil), pools...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].SellPrice > out[j].SellPrice })
	return out
}
