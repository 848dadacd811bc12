package evaluator

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexarb/internal/market"
)

const tokenT = "TokenT1111111111111111111111111111111111111"

func np(id, dex string, price, feePct, liq float64) market.NormalizedPool {
	return market.NormalizedPool{
		PoolID:       id,
		DEX:          dex,
		Chain:        market.ChainSolana,
		Token:        tokenT,
		Base:         market.SOLMint,
		BuyPrice:     price,
		SellPrice:    price,
		FeeBps:       int(feePct * 10000),
		FeePct:       feePct,
		LiquidityUSD: liq,
	}
}

func newEvaluator() *Evaluator {
	return New(DefaultOptions(), nil, zerolog.Nop())
}

func TestEvaluatePairScenarioProfitable(t *testing.T) {
	p1 := np("pool1", "raydium", 1.000, 0.003, 200_000)
	p2 := np("pool2", "orca", 1.010, 0.0025, 200_000)

	opp := EvaluatePair(p1, p2, tokenT)
	require.NotNil(t, opp)
	assert.Equal(t, "pool1", opp.BuyPoolID)
	assert.Equal(t, "pool2", opp.SellPoolID)
	assert.InDelta(t, 0.01, opp.SpreadBrut, 1e-9)
	assert.InDelta(t, 0.0055, opp.Costs.Total, 1e-12)
	assert.InDelta(t, 0.0045, opp.SpreadNet, 1e-9)
	assert.Equal(t, market.SourcePairwise, opp.Source)
	assert.InDelta(t, 4.5, opp.ProfitUSD, 1e-6)
	assert.True(t, opp.LiquidityOK)
}

func TestEvaluatePairShallowLegs(t *testing.T) {
	p1 := np("pool1", "raydium", 1.000, 0.003, 5_000)
	p2 := np("pool2", "orca", 1.010, 0.0025, 5_000)
	assert.Nil(t, EvaluatePair(p1, p2, tokenT))

	// one deep leg does not rescue a shallow one
	p1.LiquidityUSD = 100_000
	p2.LiquidityUSD = 4_000
	assert.Nil(t, EvaluatePair(p1, p2, tokenT))
}

func TestEvaluatePairSymmetric(t *testing.T) {
	cases := [][2]market.NormalizedPool{
		{np("a", "raydium", 1.000, 0.003, 200_000), np("b", "orca", 1.010, 0.0025, 200_000)},
		{np("a", "raydium", 1.020, 0.001, 80_000), np("b", "orca", 1.000, 0.0004, 300_000)},
		{np("x", "meteora", 0.5, 0.0001, 50_000), np("y", "phoenix", 0.51, 0.0001, 50_000)},
		{np("z", "meteora", 2.0, 0.0, 50_000), np("k", "lifinity", 2.0, 0.0, 50_000)},
	}
	for _, c := range cases {
		ab := EvaluatePair(c[0], c[1], tokenT)
		ba := EvaluatePair(c[1], c[0], tokenT)
		if ab == nil || ba == nil {
			assert.Nil(t, ab)
			assert.Nil(t, ba)
			continue
		}
		assert.Equal(t, ab.BuyPoolID, ba.BuyPoolID)
		assert.Equal(t, ab.SellPoolID, ba.SellPoolID)
		assert.InDelta(t, ab.SpreadNet, ba.SpreadNet, 1e-12)
	}
}

func TestEvaluatePairUnprofitable(t *testing.T) {
	p1 := np("pool1", "raydium", 1.000, 0.003, 200_000)
	p2 := np("pool2", "orca", 1.004, 0.003, 200_000)
	assert.Nil(t, EvaluatePair(p1, p2, tokenT))

	p2.BuyPrice = 0
	assert.Nil(t, EvaluatePair(p1, p2, tokenT))
}

func TestEvaluatePairMEVReject(t *testing.T) {
	// 两腿都过了流动性门槛, 但 8% 价差配 2 万流动性属于 MEV 诱饵
	p1 := np("pool1", "raydium", 1.00, 0.003, 20_000)
	p2 := np("pool2", "orca", 1.08, 0.003, 20_000)
	assert.Nil(t, EvaluatePair(p1, p2, tokenT))
	assert.Nil(t, EvaluatePair(p2, p1, tokenT))

	// 流动性充足时同样的价差照常返回
	p1.LiquidityUSD, p2.LiquidityUSD = 200_000, 200_000
	opp := EvaluatePair(p1, p2, tokenT)
	require.NotNil(t, opp)
	assert.Equal(t, market.MEVMedium, opp.MEVRisk)
}

func TestEvaluateTokenAccepts(t *testing.T) {
	pools := []market.NormalizedPool{
		np("A", "raydium", 1.000, 0.0025, 1_000_000),
		np("B", "orca", 1.025, 0.003, 1_000_000),
		np("C", "meteora", 1.0125, 0.001, 1_000_000),
	}
	opp, rej := newEvaluator().EvaluateToken(pools, tokenT, market.SOLMint)
	require.False(t, rej.Rejected(), rej.String())
	require.NotNil(t, opp)

	assert.Equal(t, "A", opp.BuyPoolID)
	assert.Equal(t, "B", opp.SellPoolID)
	assert.InDelta(t, 0.025, opp.SpreadBrut, 1e-9)
	assert.InDelta(t, 0.0055, opp.Costs.DEXFees, 1e-12)

	c := opp.Costs
	assert.InDelta(t, c.DEXFees+c.NetworkFee+c.Slippage+c.PriceImpact, c.Total, 1e-12)
	assert.InDelta(t, opp.SpreadBrut-c.Total, opp.SpreadNet, 1e-12)
	assert.Greater(t, opp.SpreadNet, 0.0025)
	assert.Less(t, opp.SpreadNet, opp.SpreadBrut-c.DEXFees)

	assert.Equal(t, market.MEVLow, opp.MEVRisk)
	assert.Equal(t, 3, opp.PoolCount)
	assert.Equal(t, market.SourceAggregate, opp.Source)
	assert.GreaterOrEqual(t, opp.PriceCoherence, 0.5)
	assert.NotEmpty(t, opp.BuyURL)
	assert.NotEmpty(t, opp.SellURL)
}

func TestEvaluateTokenSinglePool(t *testing.T) {
	opp, rej := newEvaluator().EvaluateToken([]market.NormalizedPool{np("A", "raydium", 1, 0.003, 1_000_000)}, tokenT, market.SOLMint)
	assert.Nil(t, opp)
	assert.Equal(t, RejectNotEnoughData, rej.Kind)
}

func TestEvaluateTokenShallowPoolsFiltered(t *testing.T) {
	pools := []market.NormalizedPool{
		np("pool1", "raydium", 1.000, 0.003, 5_000),
		np("pool2", "orca", 1.010, 0.0025, 5_000),
	}
	opp, rej := newEvaluator().EvaluateToken(pools, tokenT, market.SOLMint)
	assert.Nil(t, opp)
	assert.Equal(t, RejectNotEnoughData, rej.Kind)
}

func TestEvaluateTokenSingleVenue(t *testing.T) {
	pools := []market.NormalizedPool{
		np("A", "raydium", 1.00, 0.003, 1_000_000),
		np("B", "raydium", 1.02, 0.003, 1_000_000),
	}
	_, rej := newEvaluator().EvaluateToken(pools, tokenT, market.SOLMint)
	assert.Equal(t, RejectNotEnoughData, rej.Kind)
}

func TestEvaluateTokenSamePoolBothLegs(t *testing.T) {
	pools := []market.NormalizedPool{
		np("A", "raydium", 1.0, 0.003, 1_000_000),
		np("B", "orca", 1.0, 0.003, 1_000_000),
	}
	_, rej := newEvaluator().EvaluateToken(pools, tokenT, market.SOLMint)
	assert.Equal(t, RejectNotEnoughData, rej.Kind)
}

func TestEvaluateTokenPricingError(t *testing.T) {
	pools := []market.NormalizedPool{
		np("A", "raydium", 1.00, 0.003, 1_000_000),
		np("B", "orca", 1.00, 0.003, 1_000_000),
		np("C", "meteora", 1.25, 0.003, 1_000_000),
	}
	_, rej := newEvaluator().EvaluateToken(pools, tokenT, market.SOLMint)
	assert.Equal(t, RejectBadData, rej.Kind)
	assert.Contains(t, rej.Reason, "pricing error")
}

func TestEvaluateTokenIncoherentPair(t *testing.T) {
	pools := []market.NormalizedPool{
		np("A", "raydium", 1.00, 0.003, 1_000_000),
		np("B", "orca", 1.12, 0.003, 1_000_000),
	}
	_, rej := newEvaluator().EvaluateToken(pools, tokenT, market.SOLMint)
	assert.Equal(t, RejectBadData, rej.Kind)
	assert.Contains(t, rej.Reason, "coherence")
}

func TestEvaluateTokenInconsistentPool(t *testing.T) {
	a := np("A", "raydium", 1.00, 0.003, 1_000_000)
	a.SellPrice = 0.99
	pools := []market.NormalizedPool{a, np("B", "orca", 1.02, 0.003, 1_000_000)}
	_, rej := newEvaluator().EvaluateToken(pools, tokenT, market.SOLMint)
	assert.Equal(t, RejectBadData, rej.Kind)
	assert.Contains(t, rej.Reason, "buy above sell")
}

func TestEvaluateTokenMEVReject(t *testing.T) {
	pools := []market.NormalizedPool{
		np("A", "raydium", 1.00, 0.003, 20_000),
		np("B", "orca", 1.00, 0.003, 20_000),
		np("C", "meteora", 1.08, 0.003, 20_000),
	}
	_, rej := newEvaluator().EvaluateToken(pools, tokenT, market.SOLMint)
	assert.Equal(t, RejectMEV, rej.Kind)
}

func TestEvaluateTokenBelowThreshold(t *testing.T) {
	pools := []market.NormalizedPool{
		np("A", "raydium", 1.000, 0.003, 1_000_000),
		np("B", "orca", 1.004, 0.003, 1_000_000),
	}
	_, rej := newEvaluator().EvaluateToken(pools, tokenT, market.SOLMint)
	assert.Equal(t, RejectBelowThreshold, rej.Kind)
}

func TestEvaluateTokenLowCoherence(t *testing.T) {
	pools := []market.NormalizedPool{
		np("A", "raydium", 1.00, 0.001, 1_000_000),
		np("B", "orca", 1.00, 0.001, 1_000_000),
		np("C", "meteora", 1.15, 0.001, 1_000_000),
	}
	_, rej := newEvaluator().EvaluateToken(pools, tokenT, market.SOLMint)
	assert.Equal(t, RejectBadData, rej.Kind)
	assert.Contains(t, rej.Reason, "coherence")
}

func fee(v float64) *float64 { return &v }

func TestEvaluateQuotes(t *testing.T) {
	quotes := map[string]market.Quote{
		"uniswap":   {DEX: "uniswap", Price: 2500},
		"aerodrome": {DEX: "aerodrome", Price: 2560},
		"kyberswap": {DEX: "kyberswap", Price: 2530, FeePct: fee(0.001)},
		"broken":    {DEX: "broken", Price: 0},
	}
	opp := EvaluateQuotes(quotes, market.BaseWETH, market.BaseUSDC, 0.0025)
	require.NotNil(t, opp)

	assert.Equal(t, "uniswap", opp.BuyDEX)
	assert.Equal(t, "aerodrome", opp.SellDEX)
	assert.InDelta(t, 0.024, opp.SpreadBrut, 1e-12)
	assert.InDelta(t, 0.0034, opp.Costs.DEXFees, 1e-12)
	assert.InDelta(t, 0.001, opp.Costs.NetworkFee, 1e-12)
	assert.InDelta(t, 0.005, opp.Costs.Slippage, 1e-12)
	assert.InDelta(t, 0.0015, opp.Costs.MEVBuffer, 1e-12)
	assert.InDelta(t, 0.0131, opp.SpreadNet, 1e-9)
	assert.Equal(t, 75, opp.Confidence)
	assert.Equal(t, 3, opp.PoolCount)
	assert.Equal(t, market.ChainBase, opp.Chain)
	assert.Contains(t, opp.BuyURL, "inputCurrency="+market.BaseUSDC)
	assert.Equal(t, market.SourceAggregator, opp.Source)
}

func TestEvaluateQuotesShallowAndSparse(t *testing.T) {
	quotes := map[string]market.Quote{
		"uniswap":   {Price: 2500, LiquidityUSD: fee(20_000), PriceImpact: fee(-0.001)},
		"aerodrome": {Price: 2560, LiquidityUSD: fee(500_000), PriceImpact: fee(0.001)},
	}
	opp := EvaluateQuotes(quotes, market.BaseWETH, market.BaseUSDC, 0.0025)
	require.NotNil(t, opp)
	assert.Equal(t, 30, opp.Confidence)
	assert.Equal(t, market.MEVMedium, opp.MEVRisk)
	assert.InDelta(t, 0.002, opp.Costs.PriceImpact, 1e-12)
	assert.Equal(t, 20_000.0, opp.LiquidityUSD)

	assert.Nil(t, EvaluateQuotes(map[string]market.Quote{"uniswap": {Price: 1}}, "t", "b", 0.0025))
	assert.Nil(t, EvaluateQuotes(map[string]market.Quote{"a": {Price: 1}, "b": {Price: 1.001}}, "t", "b", 0.0025))
}

func TestEvaluateQuotesLiquidityFromAllVenues(t *testing.T) {
	quotes := map[string]market.Quote{
		"uniswap":   {Price: 2500, LiquidityUSD: fee(500_000)},
		"aerodrome": {Price: 2560, LiquidityUSD: fee(800_000)},
		"sushiswap": {Price: 2530, LiquidityUSD: fee(25_000)},
		"broken":    {Price: 0, LiquidityUSD: fee(1_000)},
	}
	opp := EvaluateQuotes(quotes, market.BaseWETH, market.BaseUSDC, 0.0025)
	require.NotNil(t, opp)
	assert.Equal(t, "uniswap", opp.BuyDEX)
	assert.Equal(t, "aerodrome", opp.SellDEX)
	assert.Equal(t, 25_000.0, opp.LiquidityUSD, "取所有有效报价中的最小流动性")
	assert.Equal(t, market.MEVMedium, opp.MEVRisk)
}

func TestFindAll(t *testing.T) {
	e := newEvaluator()
	fixtures := map[string][]market.NormalizedPool{
		"good": {
			np("A", "raydium", 1.000, 0.0025, 1_000_000),
			np("B", "orca", 1.025, 0.003, 1_000_000),
			np("C", "meteora", 1.0125, 0.001, 1_000_000),
		},
		"flat": {
			np("D", "raydium", 1.0, 0.003, 1_000_000),
			np("E", "orca", 1.0, 0.003, 1_000_000),
		},
	}
	load := func(ctx context.Context, token string) ([]market.NormalizedPool, error) {
		if token == "broken" {
			return nil, errors.New("boom")
		}
		return fixtures[token], nil
	}
	quotes := func(ctx context.Context, token string) (map[string]market.Quote, error) {
		return map[string]market.Quote{
			"uniswap":   {Price: 2500},
			"aerodrome": {Price: 2600},
		}, nil
	}

	got := e.FindAll(context.Background(), []Universe{
		{Chain: market.ChainSolana, Base: market.SOLMint, Tokens: []string{"good", "flat", "broken"}, Pools: load},
		{Chain: market.ChainBase, Base: market.BaseUSDC, Tokens: []string{market.BaseWETH}, Quotes: quotes},
	}, 0)
	require.Len(t, got, 2)
	assert.GreaterOrEqual(t, got[0].SpreadNet, got[1].SpreadNet)

	top := e.FindBest(context.Background(), []string{"good", "flat"}, market.SOLMint, load, 1)
	require.Len(t, top, 1)
	assert.Equal(t, "good", top[0].Token)
}
