package fetcher

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"dexarb/internal/market"
)

// VenueOptions configure a list-style pool adapter.
type VenueOptions struct {
	Endpoint string
	HTTP     HTTPOptions
}

type parseFunc func(r record) (market.Pool, bool)

// Venue fetches a venue's full pool list and keeps pools touching the
// requested tokens.
type Venue struct {
	name     string
	chain    market.Chain
	endpoint string
	listKeys []string
	parse    parseFunc
	http     jsonClient
	logger   zerolog.Logger
}

func newVenue(name string, chain market.Chain, opts VenueOptions, listKeys []string, parse parseFunc, logger zerolog.Logger) *Venue {
	return &Venue{
		name:     name,
		chain:    chain,
		endpoint: strings.TrimSpace(opts.Endpoint),
		listKeys: listKeys,
		parse:    parse,
		http:     newJSONClient(name, opts.HTTP),
		logger:   logger.With().Str("component", "venue").Str("dex", name).Logger(),
	}
}

func (v *Venue) Name() string        { return v.name }
func (v *Venue) Chain() market.Chain { return v.chain }

// FetchPools downloads the pool list. An empty tokens slice keeps everything.
func (v *Venue) FetchPools(ctx context.Context, tokens []string) ([]market.Pool, error) {
	if v.endpoint == "" {
		return nil, nil
	}

	var payload any
	if err := v.http.getJSON(ctx, v.endpoint, nil, &payload); err != nil {
		return nil, err
	}

	wanted := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		wanted[t] = struct{}{}
	}

	items := records(payload, v.listKeys...)
	pools := make([]market.Pool, 0, len(items))
	skipped := 0
	for _, item := range items {
		p, ok := v.parse(item)
		if !ok {
			skipped++
			continue
		}
		if len(wanted) > 0 && !touches(p, wanted) {
			continue
		}
		p.DEX = v.name
		p.Chain = v.chain
		pools = append(pools, p)
	}

	v.logger.Debug().Int("pools", len(pools)).Int("skipped", skipped).Msg("pools fetched")
	return pools, nil
}

func touches(p market.Pool, wanted map[string]struct{}) bool {
	if _, ok := wanted[p.TokenA]; ok {
		return true
	}
	_, ok := wanted[p.TokenB]
	return ok
}

func withFee(p market.Pool, bps int) market.Pool {
	p.FeeBps = bps
	p.FeePct = float64(bps) / 10000
	return p
}

var _ PoolSource = (*Venue)(nil)
