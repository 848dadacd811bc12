package fetcher

import (
	"math"

	"github.com/rs/zerolog"

	"dexarb/internal/market"
)

var (
	q64 = math.Pow(2, 64)
	q96 = math.Pow(2, 96)
)

// NewRaydium reads Raydium AMM/CLMM pools.
func NewRaydium(opts VenueOptions, logger zerolog.Logger) *Venue {
	return newVenue("raydium", market.ChainSolana, opts, []string{"data"}, parseRaydium, logger)
}

func parseRaydium(r record) (market.Pool, bool) {
	p := market.Pool{
		PoolID:   r.str("poolId", "id", "address"),
		TokenA:   r.str("tokenA", "mintA", "mint0"),
		TokenB:   r.str("tokenB", "mintB", "mint1"),
		PoolType: "CLMM",
	}
	if p.PoolID == "" || p.TokenA == "" || p.TokenB == "" {
		return market.Pool{}, false
	}
	if price, ok := r.num("price"); ok {
		p.Price = market.PriceOf(price)
	} else if ra, ok := r.num("reserveA", "reserve0"); ok && ra > 0 {
		if rb, ok := r.num("reserveB", "reserve1"); ok {
			p.Price = market.PriceOf(rb / ra)
		}
	}
	p.LiquidityUSD, _ = r.num("liquidity", "tvl")
	p.Volume24h, _ = r.num("volume24h", "volume")
	fee, _ := r.num("feeRate", "fee")
	return withFee(p, feeToBps(fee)), true
}

// NewOrca reads Orca whirlpools.
func NewOrca(opts VenueOptions, logger zerolog.Logger) *Venue {
	return newVenue("orca", market.ChainSolana, opts, []string{"whirlpools"}, parseOrca, logger)
}

func parseOrca(r record) (market.Pool, bool) {
	p := market.Pool{
		PoolID:   r.str("address", "whirlpool"),
		TokenA:   r.str("tokenA", "tokenMintA"),
		TokenB:   r.str("tokenB", "tokenMintB"),
		PoolType: "Whirlpool",
	}
	if p.PoolID == "" || p.TokenA == "" || p.TokenB == "" {
		return market.Pool{}, false
	}
	if sqrt, ok := r.num("sqrtPrice", "price"); ok {
		decA, okA := r.num("tokenADecimals")
		decB, okB := r.num("tokenBDecimals")
		if !okA {
			decA = 9
		}
		if !okB {
			decB = 9
		}
		p.Price = market.PriceOf(SqrtPriceQ64ToPrice(sqrt, int(decA), int(decB)))
	}
	p.LiquidityUSD, _ = r.num("liquidity", "tvl")
	p.Volume24h, _ = r.num("volume24h", "volume")
	bps := 300
	if tier, ok := r.num("feeTier", "fee"); ok && tier > 0 {
		bps = int(tier)
	}
	return withFee(p, bps), true
}

// NewMeteora reads Meteora DLMM pools.
func NewMeteora(opts VenueOptions, logger zerolog.Logger) *Venue {
	return newVenue("meteora", market.ChainSolana, opts, []string{"pools"}, parseMeteora, logger)
}

func parseMeteora(r record) (market.Pool, bool) {
	p := market.Pool{
		PoolID:   r.str("address", "pool_id"),
		TokenA:   r.str("mint_x", "tokenMintX"),
		TokenB:   r.str("mint_y", "tokenMintY"),
		PoolType: "DLMM",
	}
	price, ok := r.num("current_price", "price")
	if p.PoolID == "" || p.TokenA == "" || p.TokenB == "" || !ok {
		return market.Pool{}, false
	}
	p.Price = market.PriceOf(price)
	p.LiquidityUSD, _ = r.num("liquidity", "tvl")
	p.Volume24h, _ = r.num("trade_volume_24h", "volume24h")
	bps := 100
	if v, ok := r.num("fee_bps", "feeBps"); ok {
		bps = int(v)
	}
	return withFee(p, bps), true
}

// NewLifinity reads Lifinity v2 pools.
func NewLifinity(opts VenueOptions, logger zerolog.Logger) *Venue {
	return newVenue("lifinity", market.ChainSolana, opts, []string{"pools"}, parseLifinity, logger)
}

func parseLifinity(r record) (market.Pool, bool) {
	p := market.Pool{
		PoolID:   r.str("poolId", "address", "id"),
		TokenA:   r.str("tokenAMint", "tokenA"),
		TokenB:   r.str("tokenBMint", "tokenB"),
		PoolType: "PMM",
	}
	if p.PoolID == "" || p.TokenA == "" || p.TokenB == "" {
		return market.Pool{}, false
	}
	if price, ok := r.num("price"); ok {
		p.Price = market.PriceOf(price)
	} else if ra, ok := r.num("reserveA"); ok && ra > 0 {
		if rb, ok := r.num("reserveB"); ok {
			p.Price = market.PriceOf(rb / ra)
		}
	}
	p.LiquidityUSD, _ = r.num("liquidity", "tvl")
	fee, ok := r.num("fee", "feeRate")
	if !ok {
		fee = 0.002
	}
	return withFee(p, feeToBps(fee)), true
}

// NewPhoenix reads Phoenix order book markets, using the mid price.
func NewPhoenix(opts VenueOptions, logger zerolog.Logger) *Venue {
	return newVenue("phoenix", market.ChainSolana, opts, []string{"markets"}, parsePhoenix, logger)
}

func parsePhoenix(r record) (market.Pool, bool) {
	p := market.Pool{
		PoolID:   r.str("address", "marketId"),
		TokenA:   r.str("baseMint"),
		TokenB:   r.str("quoteMint"),
		PoolType: "OrderBook",
	}
	mid, ok := r.num("midPrice", "price")
	if p.PoolID == "" || p.TokenA == "" || p.TokenB == "" || !ok {
		return market.Pool{}, false
	}
	p.Price = market.PriceOf(mid)
	p.LiquidityUSD, _ = r.num("liquidity")
	return withFee(p, 4), true
}

// SqrtPriceQ64ToPrice converts a Q64.64 square-root price.
func SqrtPriceQ64ToPrice(sqrtPrice float64, decA, decB int) float64 {
	price := math.Pow(sqrtPrice/q64, 2)
	if decA != decB {
		price *= math.Pow10(decA - decB)
	}
	return price
}

// SqrtPriceX96ToPrice converts a Uniswap v3 style sqrtPriceX96.
func SqrtPriceX96ToPrice(sqrtPriceX96 float64, dec0, dec1 int) float64 {
	return math.Pow(sqrtPriceX96/q96, 2) * math.Pow10(dec0-dec1)
}
