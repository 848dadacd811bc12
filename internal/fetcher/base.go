package fetcher

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"dexarb/internal/market"
)

// MinBaseLiquidityUSD drops dust pools from Base venues.
const MinBaseLiquidityUSD = 100.0

// NewAerodrome reads the Aerodrome pool list.
func NewAerodrome(opts VenueOptions, logger zerolog.Logger) *Venue {
	return newVenue("aerodrome", market.ChainBase, opts, []string{"data", "pools"}, parseAerodrome, logger)
}

func parseAerodrome(r record) (market.Pool, bool) {
	p := market.Pool{
		PoolID:   r.str("address", "id"),
		TokenA:   r.sub("token0").str("address"),
		TokenB:   r.sub("token1").str("address"),
		PoolType: "ve33",
	}
	if p.PoolID == "" || p.TokenA == "" || p.TokenB == "" {
		return market.Pool{}, false
	}
	r0, ok0 := r.num("reserve0")
	r1, ok1 := r.num("reserve1")
	if !ok0 || !ok1 || r0 <= 0 || r1 <= 0 {
		return market.Pool{}, false
	}
	p.Price = market.PriceOf(r1 / r0)
	p.LiquidityUSD, _ = r.num("tvlUsd", "liquidityUsd")
	if p.LiquidityUSD < MinBaseLiquidityUSD {
		return market.Pool{}, false
	}
	fee, _ := r.num("fee")
	return withFee(p, clampBps(feeToBps(fee))), true
}

// KyberPoolsOptions configure the per-token KyberSwap elastic pool lookup.
// Endpoint may contain a {token} placeholder.
type KyberPoolsOptions struct {
	Endpoint string
	HTTP     HTTPOptions
}

// KyberPools queries concentrated-liquidity pools per token on Base.
type KyberPools struct {
	endpoint string
	http     jsonClient
	logger   zerolog.Logger
}

// NewKyberPools builds the adapter.
func NewKyberPools(opts KyberPoolsOptions, logger zerolog.Logger) *KyberPools {
	return &KyberPools{
		endpoint: strings.TrimSpace(opts.Endpoint),
		http:     newJSONClient("kyber", opts.HTTP),
		logger:   logger.With().Str("component", "venue").Str("dex", "kyber").Logger(),
	}
}

func (k *KyberPools) Name() string        { return "kyber" }
func (k *KyberPools) Chain() market.Chain { return market.ChainBase }

// FetchPools issues one request per token and de-duplicates pools.
func (k *KyberPools) FetchPools(ctx context.Context, tokens []string) ([]market.Pool, error) {
	if k.endpoint == "" || len(tokens) == 0 {
		return nil, nil
	}

	seen := make(map[string]struct{})
	var pools []market.Pool
	var lastErr error
	for _, token := range tokens {
		var payload struct {
			Data struct {
				Pools []map[string]any `json:"pools"`
			} `json:"data"`
		}
		url := strings.ReplaceAll(k.endpoint, "{token}", token)
		if err := k.http.getJSON(ctx, url, nil, &payload); err != nil {
			lastErr = err
			continue
		}
		for _, raw := range payload.Data.Pools {
			p, ok := parseKyberPool(record(raw))
			if !ok {
				continue
			}
			if _, dup := seen[p.PoolID]; dup {
				continue
			}
			seen[p.PoolID] = struct{}{}
			pools = append(pools, p)
		}
	}

	// a partial answer is still useful; only fail when nothing came back
	if len(pools) == 0 && lastErr != nil {
		return nil, lastErr
	}
	k.logger.Debug().Int("pools", len(pools)).Msg("pools fetched")
	return pools, nil
}

func parseKyberPool(r record) (market.Pool, bool) {
	t0, t1 := r.sub("token0"), r.sub("token1")
	p := market.Pool{
		PoolID:   r.str("address", "id"),
		DEX:      "kyber",
		Chain:    market.ChainBase,
		TokenA:   t0.str("address"),
		TokenB:   t1.str("address"),
		PoolType: "Elastic",
	}
	if p.PoolID == "" || p.TokenA == "" || p.TokenB == "" {
		return market.Pool{}, false
	}
	dec0, ok := t0.num("decimals")
	if !ok {
		dec0 = 18
	}
	dec1, ok := t1.num("decimals")
	if !ok {
		dec1 = 18
	}
	sqrt, ok := r.num("sqrtPriceX96")
	if !ok {
		return market.Pool{}, false
	}
	price := SqrtPriceX96ToPrice(sqrt, int(dec0), int(dec1))
	if price <= 0 {
		return market.Pool{}, false
	}
	p.Price = market.PriceOf(price)
	p.LiquidityUSD, _ = r.num("tvlUsd")
	if p.LiquidityUSD < MinBaseLiquidityUSD {
		return market.Pool{}, false
	}
	bps := 3000
	if tier, ok := r.num("feeTier"); ok {
		bps = int(tier)
	}
	// feeTier is in hundredths of a bip
	return withFee(p, clampBps(bps/100)), true
}

func clampBps(bps int) int {
	if bps < 0 {
		return 0
	}
	if bps > 500 {
		return 500
	}
	return bps
}

var _ PoolSource = (*KyberPools)(nil)
