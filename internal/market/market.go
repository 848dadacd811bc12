package market

import (
	"strings"
	"time"
)

// Chain identifies the blockchain a pool lives on.
type Chain string

const (
	ChainSolana Chain = "solana"
	ChainBase   Chain = "base"
)

// ParseChain normalises a chain tag. Unknown values are returned as-is.
func ParseChain(v string) Chain {
	return Chain(strings.ToLower(strings.TrimSpace(v)))
}

func (c Chain) String() string { return string(c) }

// Well-known quote assets.
const (
	SOLMint     = "So11111111111111111111111111111111111111112"
	USDCMint    = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	BaseWETH    = "0x4200000000000000000000000000000000000006"
	BaseUSDC    = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	BaseChainID = 8453
)

// Pool is a raw pool record as produced by a DEX adapter.
type Pool struct {
	PoolID       string
	DEX          string
	Chain        Chain
	TokenA       string
	TokenB       string
	Price        *float64 // price of TokenA in units of TokenB
	LiquidityUSD float64
	Volume24h    float64
	FeeBps       int
	FeePct       float64
	PoolType     string
}

// PriceOf returns a pointer suitable for Pool.Price.
func PriceOf(v float64) *float64 {
	return &v
}

// NormalizedPool is a pool oriented around a target token and quote asset.
type NormalizedPool struct {
	PoolID       string
	DEX          string
	Chain        Chain
	Token        string
	Base         string
	BuyPrice     float64 // base units paid per token
	SellPrice    float64 // base units received per token
	FeeBps       int
	FeePct       float64
	LiquidityUSD float64
	Volume24h    float64
	PoolType     string
	URL          string
}

// MEVRisk is the coarse sandwich/front-run risk label.
type MEVRisk string

const (
	MEVLow    MEVRisk = "low"
	MEVMedium MEVRisk = "medium"
	MEVHigh   MEVRisk = "high"
)

// Costs is the cost breakdown of an opportunity, all as fractions.
type Costs struct {
	BuyFee      float64
	SellFee     float64
	DEXFees     float64
	NetworkFee  float64
	Slippage    float64
	PriceImpact float64
	MEVBuffer   float64
	Total       float64
}

// Evaluation paths.
const (
	SourcePairwise   = "pairwise"
	SourceAggregate  = "aggregate"
	SourceAggregator = "aggregator"
)

// Opportunity is the immutable result of one evaluation.
type Opportunity struct {
	Token          string
	Base           string
	Chain          Chain
	BuyDEX         string
	SellDEX        string
	BuyPoolID      string
	SellPoolID     string
	BuyURL         string
	SellURL        string
	BuyPrice       float64
	SellPrice      float64
	SpreadBrut     float64
	Costs          Costs
	SpreadNet      float64
	Confidence     int
	MEVRisk        MEVRisk
	PriceCoherence float64
	PoolCount      int
	LiquidityUSD   float64
	Volume24h      float64
	SwapSizeUSD    float64
	ProfitUSD      float64
	LiquidityOK    bool
	VolumeOK       bool
	Source         string
	DetectedAt     time.Time
}

// Quote is a single aggregator-style price for one venue.
type Quote struct {
	DEX          string
	Price        float64
	FeePct       *float64
	PriceImpact  *float64
	LiquidityUSD *float64
	GasUSD       float64
}
