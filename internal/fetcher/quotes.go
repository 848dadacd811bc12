package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dexarb/internal/market"
)

const (
	kyberDefaultEndpoint = "https://aggregator-api.kyberswap.com/base/api/v1/routes"
	kyberFeePct          = 0.001
)

// DecimalsResolver looks up ERC-20 decimals on chain.
type DecimalsResolver interface {
	TokenDecimals(ctx context.Context, token string) (int32, error)
}

// KyberOptions parameterise the KyberSwap routes quoter.
type KyberOptions struct {
	Endpoint string
	HTTP     HTTPOptions
	// Decimals is optional; without it USDC is assumed 6 decimals and
	// everything else 18. Both legs are resolved.
	Decimals DecimalsResolver
}

// Kyber quotes Base pairs through the KyberSwap aggregator.
type Kyber struct {
	endpoint string
	http     jsonClient
	decimals DecimalsResolver
	logger   zerolog.Logger

	mu       sync.Mutex
	decCache map[string]int32
}

// NewKyber builds a KyberSwap quote source.
func NewKyber(opts KyberOptions, logger zerolog.Logger) *Kyber {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		endpoint = kyberDefaultEndpoint
	}
	return &Kyber{
		endpoint: endpoint,
		http:     newJSONClient("kyberswap", opts.HTTP),
		decimals: opts.Decimals,
		logger:   logger.With().Str("component", "quote_source").Str("dex", "kyberswap").Logger(),
		decCache: make(map[string]int32),
	}
}

func (k *Kyber) Name() string { return "kyberswap" }

// Quote prices one whole tokenIn in tokenOut units.
func (k *Kyber) Quote(ctx context.Context, tokenIn, tokenOut string) (market.Quote, error) {
	if tokenIn == "" || tokenOut == "" {
		return market.Quote{}, errors.New("tokenIn and tokenOut required")
	}

	inDec := k.tokenDecimals(ctx, tokenIn)

	q := url.Values{}
	q.Set("tokenIn", tokenIn)
	q.Set("tokenOut", tokenOut)
	q.Set("amountIn", decimal.New(1, inDec).StringFixed(0))

	var res routesResponse
	if err := k.http.getJSON(ctx, k.endpoint, q, &res); err != nil {
		return market.Quote{}, err
	}

	outAtoms, err := decimal.NewFromString(res.Data.RouteSummary.AmountOut)
	if err != nil {
		return market.Quote{}, fmt.Errorf("parse amountOut: %w", err)
	}
	if !outAtoms.IsPositive() {
		return market.Quote{}, ErrNoQuote
	}

	outDec := k.tokenDecimals(ctx, tokenOut)
	price := outAtoms.Shift(-outDec)

	quote := market.Quote{
		DEX:    k.Name(),
		Price:  price.InexactFloat64(),
		FeePct: market.PriceOf(kyberFeePct),
	}
	if gas, err := decimal.NewFromString(res.Data.RouteSummary.GasUSD); err == nil {
		quote.GasUSD = gas.InexactFloat64()
	}
	return quote, nil
}

func (k *Kyber) tokenDecimals(ctx context.Context, token string) int32 {
	key := strings.ToLower(token)

	k.mu.Lock()
	if d, ok := k.decCache[key]; ok {
		k.mu.Unlock()
		return d
	}
	k.mu.Unlock()

	d := int32(18)
	if strings.EqualFold(token, market.BaseUSDC) {
		d = 6
	}
	if k.decimals != nil {
		if resolved, err := k.decimals.TokenDecimals(ctx, token); err == nil {
			d = resolved
		} else {
			k.logger.Debug().Err(err).Str("token", token).Msg("decimals lookup failed, using default")
		}
	}

	k.mu.Lock()
	k.decCache[key] = d
	k.mu.Unlock()
	return d
}

type routesResponse struct {
	Code int `json:"code"`
	Data struct {
		RouteSummary struct {
			AmountOut string `json:"amountOut"`
			GasUSD    string `json:"gasUsd"`
		} `json:"routeSummary"`
	} `json:"data"`
}

var _ QuoteSource = (*Kyber)(nil)
