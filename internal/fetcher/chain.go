package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dexarb/internal/market"
)

const erc20DecimalsABIJSON = `[{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"}]`

var erc20ABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc20DecimalsABIJSON))
	if err != nil {
		panic("failed to parse ERC-20 ABI: " + err.Error())
	}
	erc20ABI = parsed
}

// ChainOptions parameterise the Base RPC reader.
type ChainOptions struct {
	RPCURL  string
	Timeout time.Duration
}

// Chain reads gas price and token metadata from Base over JSON-RPC.
type Chain struct {
	opts      ChainOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewChain builds a Base RPC reader. The connection is dialed lazily.
func NewChain(opts ChainOptions, logger zerolog.Logger) *Chain {
	return &Chain{opts: opts, logger: logger.With().Str("component", "base_rpc").Logger()}
}

// GasPriceGwei returns the node's suggested gas price.
func (c *Chain) GasPriceGwei(ctx context.Context) (float64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return 0, err
	}

	wei, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return 0, fmt.Errorf("suggest gas price: %w", err)
	}
	gwei := decimal.NewFromBigInt(wei, -9)
	return gwei.InexactFloat64(), nil
}

// TokenDecimals calls decimals() on an ERC-20 contract.
func (c *Chain) TokenDecimals(ctx context.Context, token string) (int32, error) {
	if !common.IsHexAddress(token) {
		return 0, fmt.Errorf("invalid token address %q", token)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return 0, err
	}

	payload, err := erc20ABI.Pack("decimals")
	if err != nil {
		return 0, err
	}

	addr := common.HexToAddress(token)
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return 0, err
	}

	outputs, err := erc20ABI.Unpack("decimals", res)
	if err != nil {
		return 0, err
	}
	if len(outputs) != 1 {
		return 0, errors.New("unexpected decimals response")
	}
	d, ok := outputs[0].(uint8)
	if !ok {
		return 0, errors.New("failed to decode decimals output")
	}
	return int32(d), nil
}

// CheckChainID verifies the endpoint really serves Base mainnet.
func (c *Chain) CheckChainID(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return err
	}
	id, err := client.ChainID(ctx)
	if err != nil {
		return err
	}
	if id.Cmp(big.NewInt(market.BaseChainID)) != 0 {
		return fmt.Errorf("rpc chain id %s, want %d", id, market.BaseChainID)
	}
	return nil
}

func (c *Chain) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

func (c *Chain) getClient(ctx context.Context) (*ethclient.Client, error) {
	if c.opts.RPCURL == "" {
		return nil, errors.New("base rpc url not configured")
	}

	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

var _ DecimalsResolver = (*Chain)(nil)
