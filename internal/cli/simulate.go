package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"dexarb/internal/app"
	"dexarb/internal/market"
)

var (
	simulateChain     string
	simulateToken     string
	simulateBuy       float64
	simulateSell      float64
	simulateLiquidity float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次跨池价差并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateBuy <= 0 || simulateSell <= 0 {
			return errors.New("--buy 与 --sell 必须大于 0")
		}
		chain := market.ParseChain(simulateChain)
		if chain != market.ChainSolana && chain != market.ChainBase {
			return errors.New("--chain 只支持 solana 或 base")
		}

		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			Chain:     chain,
			Token:     simulateToken,
			BuyPrice:  simulateBuy,
			SellPrice: simulateSell,
			Liquidity: simulateLiquidity,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateChain, "chain", "solana", "链: solana 或 base")
	simulateCmd.Flags().StringVar(&simulateToken, "token", "", "代币地址, 默认取内置列表第一个")
	simulateCmd.Flags().Float64Var(&simulateBuy, "buy", 0, "低价池价格 (base/token)")
	simulateCmd.Flags().Float64Var(&simulateSell, "sell", 0, "高价池价格 (base/token)")
	simulateCmd.Flags().Float64Var(&simulateLiquidity, "liquidity", 0, "每个池子的流动性 USD")
}
