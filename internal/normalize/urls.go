package normalize

import (
	"fmt"
	"strings"

	"dexarb/internal/market"
)

var venueTemplates = map[market.Chain]map[string]string{
	market.ChainSolana: {
		"raydium":  "https://raydium.io/pool/%s",
		"orca":     "https://www.orca.so/whirlpools/%s",
		"meteora":  "https://app.meteora.ag/pool/%s",
		"lifinity": "https://app.lifinity.io/pool/%s",
		"phoenix":  "https://app.phoenix.trade/market/%s",
	},
	market.ChainBase: {
		"uniswap":     "https://app.uniswap.org/explore/pools/base/%s",
		"aerodrome":   "https://aerodrome.finance/pools/%s",
		"pancakeswap": "https://pancakeswap.finance/add?chain=base",
		"kyberswap":   "https://kyberswap.com/swap/base",
	},
}

// VenueURL builds a link to a pool page, falling back to a block explorer
// when the venue or chain is not in the table.
func VenueURL(chain market.Chain, dex, poolID string) string {
	if table, ok := venueTemplates[chain]; ok {
		if tpl, ok := table[strings.ToLower(dex)]; ok {
			if strings.Contains(tpl, "%s") {
				return fmt.Sprintf(tpl, poolID)
			}
			return tpl
		}
	}
	if chain == market.ChainBase {
		return "https://basescan.org/address/" + poolID
	}
	return "https://explorer.solana.com/address/" + poolID
}

var swapTemplates = map[string]string{
	"uniswap":     "https://app.uniswap.org/#/swap?inputCurrency={in}&outputCurrency={out}&chain=base",
	"aerodrome":   "https://aerodrome.finance/swap?from={in}&to={out}",
	"pancakeswap": "https://pancakeswap.finance/swap?chain=base&inputCurrency={in}&outputCurrency={out}",
	"kyberswap":   "https://kyberswap.com/swap/base/{in}-to-{out}",
}

// SwapURL links a Base aggregator swap page for tokenIn -> tokenOut.
func SwapURL(dex, tokenIn, tokenOut string) string {
	tpl, ok := swapTemplates[strings.ToLower(dex)]
	if !ok {
		return "https://basescan.org/token/" + tokenOut
	}
	return strings.NewReplacer("{in}", tokenIn, "{out}", tokenOut).Replace(tpl)
}
