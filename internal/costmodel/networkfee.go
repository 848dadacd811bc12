package costmodel

import (
	"sync"

	"github.com/rs/zerolog"

	"dexarb/internal/market"
)

const (
	lamportsPerSOL    = 1e9
	maxSolanaFeeShare = 0.001
	maxBaseFeeShare   = 0.005
)

// FeeParams are the inputs of the network fee estimate. Prices are fallbacks
// until a live feed updates them.
type FeeParams struct {
	SOLPriceUSD            float64 `mapstructure:"sol_price_usd"`
	ETHPriceUSD            float64 `mapstructure:"eth_price_usd"`
	SolanaBaseLamports     float64 `mapstructure:"solana_base_lamports"`
	SolanaPriorityLamports float64 `mapstructure:"solana_priority_lamports"`
	BaseGasUnits           float64 `mapstructure:"base_gas_units"`
	BaseGasPriceGwei       float64 `mapstructure:"base_gas_price_gwei"`
}

// DefaultFeeParams returns the built-in fallbacks.
func DefaultFeeParams() FeeParams {
	return FeeParams{
		SOLPriceUSD:            150,
		ETHPriceUSD:            2500,
		SolanaBaseLamports:     5000,
		SolanaPriorityLamports: 10000,
		BaseGasUnits:           150000,
		BaseGasPriceGwei:       20,
	}
}

// FeeBreakdown is a network fee estimate with its inputs.
type FeeBreakdown struct {
	Chain       market.Chain
	SwapSizeUSD float64
	FeePct      float64
	FeeUSD      float64
	Source      string
}

// FeeEstimator owns the mutable price state behind network fee estimates.
type FeeEstimator struct {
	mu     sync.RWMutex
	params FeeParams
	logger zerolog.Logger
}

// NewFeeEstimator builds an estimator. Zero-valued params fall back to the
// defaults field by field.
func NewFeeEstimator(params FeeParams, logger zerolog.Logger) *FeeEstimator {
	def := DefaultFeeParams()
	if params.SOLPriceUSD <= 0 {
		params.SOLPriceUSD = def.SOLPriceUSD
	}
	if params.ETHPriceUSD <= 0 {
		params.ETHPriceUSD = def.ETHPriceUSD
	}
	if params.SolanaBaseLamports <= 0 {
		params.SolanaBaseLamports = def.SolanaBaseLamports
	}
	if params.SolanaPriorityLamports < 0 {
		params.SolanaPriorityLamports = def.SolanaPriorityLamports
	}
	if params.BaseGasUnits <= 0 {
		params.BaseGasUnits = def.BaseGasUnits
	}
	if params.BaseGasPriceGwei <= 0 {
		params.BaseGasPriceGwei = def.BaseGasPriceGwei
	}
	return &FeeEstimator{
		params: params,
		logger: logger.With().Str("component", "fee_estimator").Logger(),
	}
}

// Estimate returns the network fee as a fraction of swapUSD.
func (f *FeeEstimator) Estimate(chain market.Chain, swapUSD float64) float64 {
	f.mu.RLock()
	p := f.params
	f.mu.RUnlock()

	switch chain {
	case market.ChainSolana:
		return solanaFee(p, swapUSD)
	case market.ChainBase:
		return baseFee(p, swapUSD)
	default:
		f.logger.Warn().Str("chain", chain.String()).Msg("unknown chain, using solana fee model")
		return solanaFee(p, swapUSD)
	}
}

func solanaFee(p FeeParams, swapUSD float64) float64 {
	if swapUSD <= 0 {
		return maxSolanaFeeShare
	}
	usd := (p.SolanaBaseLamports + p.SolanaPriorityLamports) / lamportsPerSOL * p.SOLPriceUSD
	return clamp(usd/swapUSD, 0, maxSolanaFeeShare)
}

func baseFee(p FeeParams, swapUSD float64) float64 {
	if swapUSD <= 0 {
		return maxBaseFeeShare
	}
	usd := p.BaseGasUnits * p.BaseGasPriceGwei * 1e-9 * p.ETHPriceUSD
	return clamp(usd/swapUSD, 0, maxBaseFeeShare)
}

// Breakdown reports the estimate together with its USD amount.
func (f *FeeEstimator) Breakdown(chain market.Chain, swapUSD float64) FeeBreakdown {
	pct := f.Estimate(chain, swapUSD)
	return FeeBreakdown{
		Chain:       chain,
		SwapSizeUSD: swapUSD,
		FeePct:      pct,
		FeeUSD:      pct * swapUSD,
		Source:      "estimated",
	}
}

// UpdatePrices applies a price feed update. Non-positive values are ignored.
func (f *FeeEstimator) UpdatePrices(solUSD, ethUSD float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if solUSD > 0 {
		f.params.SOLPriceUSD = solUSD
	}
	if ethUSD > 0 {
		f.params.ETHPriceUSD = ethUSD
	}
	f.logger.Debug().Float64("sol_usd", f.params.SOLPriceUSD).Float64("eth_usd", f.params.ETHPriceUSD).Msg("price feed updated")
}

// SetGasPriceGwei updates the Base gas price. Non-positive values are ignored.
func (f *FeeEstimator) SetGasPriceGwei(gwei float64) {
	if gwei <= 0 {
		return
	}
	f.mu.Lock()
	f.params.BaseGasPriceGwei = gwei
	f.mu.Unlock()
}

// Params returns a snapshot of the current inputs.
func (f *FeeEstimator) Params() FeeParams {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.params
}
