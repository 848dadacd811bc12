package fetcher

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"dexarb/internal/costmodel"
)

const (
	llamaDefaultEndpoint = "https://coins.llama.fi/prices/current/coingecko:solana,coingecko:ethereum"
	llamaSOLKey          = "coingecko:solana"
	llamaETHKey          = "coingecko:ethereum"
)

// GasPricer reports the current Base gas price.
type GasPricer interface {
	GasPriceGwei(ctx context.Context) (float64, error)
}

// PriceFeedOptions parameterise the native-asset price feed.
type PriceFeedOptions struct {
	Endpoint string
	HTTP     HTTPOptions
	// Gas is optional; without it the configured gas price stays in place.
	Gas GasPricer
}

// PriceFeed refreshes SOL/ETH prices and the Base gas price used by network
// fee estimates.
type PriceFeed struct {
	endpoint string
	http     jsonClient
	gas      GasPricer
	logger   zerolog.Logger
}

// NewPriceFeed builds a feed.
func NewPriceFeed(opts PriceFeedOptions, logger zerolog.Logger) *PriceFeed {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		endpoint = llamaDefaultEndpoint
	}
	return &PriceFeed{
		endpoint: endpoint,
		http:     newJSONClient("defillama", opts.HTTP),
		gas:      opts.Gas,
		logger:   logger.With().Str("component", "price_feed").Logger(),
	}
}

// Prices returns the current SOL and ETH prices in USD. A missing coin is
// reported as 0.
func (p *PriceFeed) Prices(ctx context.Context) (solUSD, ethUSD float64, err error) {
	var res struct {
		Coins map[string]struct {
			Price float64 `json:"price"`
		} `json:"coins"`
	}
	if err := p.http.getJSON(ctx, p.endpoint, nil, &res); err != nil {
		return 0, 0, err
	}
	return res.Coins[llamaSOLKey].Price, res.Coins[llamaETHKey].Price, nil
}

// Refresh pushes fresh prices into est. Failures keep the previous values
// and are only logged; the first error is returned for metrics.
func (p *PriceFeed) Refresh(ctx context.Context, est *costmodel.FeeEstimator) error {
	var firstErr error

	sol, eth, err := p.Prices(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("price feed unavailable, keeping previous prices")
		firstErr = err
	} else {
		est.UpdatePrices(sol, eth)
	}

	if p.gas != nil {
		gwei, err := p.gas.GasPriceGwei(ctx)
		if err != nil {
			p.logger.Warn().Err(err).Msg("gas price unavailable")
			if firstErr == nil {
				firstErr = err
			}
		} else {
			est.SetGasPriceGwei(gwei)
		}
	}
	return firstErr
}

var _ GasPricer = (*Chain)(nil)
