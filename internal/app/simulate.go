package app

import (
	"context"
	"errors"
	"fmt"

	"dexarb/internal/alerting"
	"dexarb/internal/antispam"
	"dexarb/internal/evaluator"
	"dexarb/internal/fetcher"
	"dexarb/internal/market"
	"dexarb/internal/scanner"
	"dexarb/internal/tokens"
)

const simulatedLiquidityUSD = 250_000

// SimulateAlert 用两个虚拟池子跑一遍扫描流程, 检验告警通道是否可用。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}
	if opts.BuyPrice <= 0 || opts.SellPrice <= 0 {
		return errors.New("价格必须大于 0")
	}

	chain := opts.Chain
	if chain == "" {
		chain = market.ChainSolana
	}
	base := market.SOLMint
	dexes := [2]string{"raydium", "orca"}
	if chain == market.ChainBase {
		base = market.BaseUSDC
		dexes = [2]string{"aerodrome", "kyber"}
	}
	token := opts.Token
	if token == "" {
		token = simulatedToken(chain)
	}
	liq := opts.Liquidity
	if liq <= 0 {
		liq = simulatedLiquidityUSD
	}

	notifier, channels, closeNotifier, err := a.newNotifier(tokens.Default())
	if err != nil {
		return err
	}
	defer closeNotifier()

	history := alerting.NewHistory(notifier, 1)
	src := &staticSource{
		chain: chain,
		pools: []market.Pool{
			simulatedPool(chain, dexes[0], token, base, opts.BuyPrice, liq),
			simulatedPool(chain, dexes[1], token, base, opts.SellPrice, liq),
		},
	}

	sc := scanner.New(scanner.Options{Channels: channels}, []scanner.Chain{{
		Chain:   chain,
		Base:    base,
		Tokens:  []string{token},
		Sources: []fetcher.PoolSource{src},
	}}, scanner.Deps{
		Evaluator: evaluator.New(a.Config.Evaluator, nil, a.Logger),
		Dedup:     antispam.New(antispam.Options{}, nil, a.Logger),
		Notifier:  history,
	}, a.Logger)

	stats, err := sc.Cycle(ctx)
	if err != nil {
		return err
	}
	if stats.Opportunities == 0 {
		return fmt.Errorf("价差 %.4f -> %.4f 扣除手续费后低于阈值, 未触发告警", opts.BuyPrice, opts.SellPrice)
	}
	if len(history.Recent(1)) == 0 {
		return errors.New("告警发送失败，请检查日志")
	}
	a.Logger.Info().Strs("channels", channels).Float64("spread_net_pct", stats.Best.SpreadNet*100).Msg("模拟告警已发送")
	return nil
}

func simulatedToken(chain market.Chain) string {
	list := tokens.Default().For(chain)
	if len(list) == 0 {
		return ""
	}
	return list[0].Address
}

func simulatedPool(chain market.Chain, dex, token, base string, price, liq float64) market.Pool {
	return market.Pool{
		PoolID:       "sim-" + dex,
		DEX:          dex,
		Chain:        chain,
		TokenA:       token,
		TokenB:       base,
		Price:        market.PriceOf(price),
		LiquidityUSD: liq,
		Volume24h:    liq,
		FeeBps:       25,
		FeePct:       0.0025,
	}
}

// staticSource 返回固定池子, 不访问网络。
type staticSource struct {
	chain market.Chain
	pools []market.Pool
}

func (s *staticSource) Name() string        { return "simulated" }
func (s *staticSource) Chain() market.Chain { return s.chain }

func (s *staticSource) FetchPools(ctx context.Context, tokens []string) ([]market.Pool, error) {
	return s.pools, nil
}

var _ fetcher.PoolSource = (*staticSource)(nil)
