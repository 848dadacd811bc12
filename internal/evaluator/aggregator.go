package evaluator

import (
	"math"
	"sort"
	"time"

	"dexarb/internal/costmodel"
	"dexarb/internal/market"
	"dexarb/internal/normalize"
)

const defaultQuoteLiquidityUSD = 50_000

// EvaluateQuotes compares one aggregator price per venue on Base. Venues
// report a single price, so there is no per-venue buy/sell consistency check.
func EvaluateQuotes(quotes map[string]market.Quote, token, base string, minSpread float64) *market.Opportunity {
	dexes := make([]string, 0, len(quotes))
	for dex, q := range quotes {
		if q.Price > 0 && !math.IsInf(q.Price, 0) && !math.IsNaN(q.Price) {
			dexes = append(dexes, dex)
		}
	}
	if len(dexes) < 2 {
		return nil
	}
	sort.Strings(dexes)

	buyDEX, sellDEX := dexes[0], dexes[0]
	for _, dex := range dexes[1:] {
		if quotes[dex].Price < quotes[buyDEX].Price {
			buyDEX = dex
		}
		if quotes[dex].Price > quotes[sellDEX].Price {
			sellDEX = dex
		}
	}
	if buyDEX == sellDEX {
		return nil
	}
	buy, sell := quotes[buyDEX], quotes[sellDEX]
	brut := (sell.Price - buy.Price) / buy.Price

	buyFee := costmodel.BaseDEXFee(buyDEX, buy.FeePct)
	sellFee := costmodel.BaseDEXFee(sellDEX, sell.FeePct)
	dexFees := buyFee + sellFee

	// the shallowest reporting venue bounds the trade size
	liq := 0.0
	for _, dex := range dexes {
		if q := quotes[dex]; q.LiquidityUSD != nil && *q.LiquidityUSD > 0 && (liq == 0 || *q.LiquidityUSD < liq) {
			liq = *q.LiquidityUSD
		}
	}
	if liq == 0 {
		liq = defaultQuoteLiquidityUSD
	}

	network := costmodel.BaseNetworkFee
	slippage := costmodel.BaseSlippage(liq) * 2
	mevPenalty := costmodel.BaseMEVPenalty(liq)
	impact := 0.0
	if buy.PriceImpact != nil {
		impact += math.Abs(*buy.PriceImpact)
	}
	if sell.PriceImpact != nil {
		impact += math.Abs(*sell.PriceImpact)
	}

	total := dexFees + network + slippage + mevPenalty + impact
	net := brut - total
	if net < minSpread {
		return nil
	}

	confidence := min(100, len(dexes)*25)
	switch {
	case liq >= 100_000:
		confidence = min(100, confidence+10)
	case liq < 30_000:
		confidence = max(0, confidence-20)
	}

	risk := market.MEVLow
	if liq < 30_000 {
		risk = market.MEVMedium
	}

	prices := make(map[string]float64, len(dexes))
	for _, dex := range dexes {
		prices[dex] = quotes[dex].Price
	}

	return &market.Opportunity{
		Token:      token,
		Base:       base,
		Chain:      market.ChainBase,
		BuyDEX:     buyDEX,
		SellDEX:    sellDEX,
		BuyPoolID:  buyDEX,
		SellPoolID: sellDEX,
		BuyURL:     normalize.SwapURL(buyDEX, base, token),
		SellURL:    normalize.SwapURL(sellDEX, token, base),
		BuyPrice:   buy.Price,
		SellPrice:  sell.Price,
		SpreadBrut: brut,
		Costs: market.Costs{
			BuyFee:      buyFee,
			SellFee:     sellFee,
			DEXFees:     dexFees,
			NetworkFee:  network,
			Slippage:    slippage,
			PriceImpact: impact,
			MEVBuffer:   mevPenalty,
			Total:       total,
		},
		SpreadNet:      net,
		Confidence:     confidence,
		MEVRisk:        risk,
		PriceCoherence: costmodel.CalculatePriceCoherence(prices),
		PoolCount:      len(dexes),
		LiquidityUSD:   liq,
		SwapSizeUSD:    DefaultSwapSizeUSD,
		ProfitUSD:      net * DefaultSwapSizeUSD,
		LiquidityOK:    liq >= liquidityOKUSD,
		Source:         market.SourceAggregator,
		DetectedAt:     time.Now().UTC(),
	}
}

// EvaluateQuotes applies the evaluator's minimum spread and clock.
func (e *Evaluator) EvaluateQuotes(quotes map[string]market.Quote, token, base string) *market.Opportunity {
	opp := EvaluateQuotes(quotes, token, base, e.opts.MinSpread)
	if opp == nil {
		e.logger.Debug().Str("token", token).Int("quotes", len(quotes)).Msg("no aggregator spread")
		return nil
	}
	opp.DetectedAt = e.now()
	return opp
}
