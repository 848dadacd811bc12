package fetcher

import (
	"context"
	"net"
	"net/http"
	"time"

	"dexarb/internal/market"
)

// PoolSource returns raw pools for one venue. Venue-specific field names never
// leave the adapter.
type PoolSource interface {
	Name() string
	Chain() market.Chain
	FetchPools(ctx context.Context, tokens []string) ([]market.Pool, error)
}

// QuoteSource returns a single aggregator-style price for tokenIn in units of
// tokenOut.
type QuoteSource interface {
	Name() string
	Quote(ctx context.Context, tokenIn, tokenOut string) (market.Quote, error)
}

// NoopQuoteSource is wired when no Base aggregator is configured. It never
// produces quotes, so the aggregator sweep reports nothing.
type NoopQuoteSource struct{}

func (NoopQuoteSource) Name() string { return "noop" }

func (NoopQuoteSource) Quote(ctx context.Context, tokenIn, tokenOut string) (market.Quote, error) {
	return market.Quote{}, ErrNoQuote
}

// HTTPOptions tune the shared HTTP client.
type HTTPOptions struct {
	Timeout        time.Duration
	ConnectTimeout time.Duration
	UserAgent      string
}

const (
	defaultTimeout        = 20 * time.Second
	defaultConnectTimeout = 5 * time.Second
	defaultUserAgent      = "dexarb/1.0"
)

// NewHTTPClient builds a client with both a connect and a total timeout.
func NewHTTPClient(opts HTTPOptions) *http.Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	connect := opts.ConnectTimeout
	if connect <= 0 {
		connect = defaultConnectTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: connect, KeepAlive: 30 * time.Second}).DialContext
	transport.TLSHandshakeTimeout = connect

	return &http.Client{Timeout: timeout, Transport: transport}
}

var (
	_ QuoteSource = NoopQuoteSource{}
)
