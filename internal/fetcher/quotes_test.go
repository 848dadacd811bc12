package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"dexarb/internal/costmodel"
	"dexarb/internal/market"
)

type fixedDecimals struct {
	d       int32
	byToken map[string]int32
	err     error
	calls   int
}

func (f *fixedDecimals) TokenDecimals(ctx context.Context, token string) (int32, error) {
	f.calls++
	if d, ok := f.byToken[token]; ok {
		return d, nil
	}
	return f.d, f.err
}

func kyberServer(t *testing.T, amountIn, amountOut string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("amountIn") != amountIn {
			t.Errorf("amountIn 参数错误: %s", r.URL.Query().Get("amountIn"))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 0,
			"data": map[string]any{
				"routeSummary": map[string]string{
					"amountOut": amountOut,
					"gasUsd":    "0.02",
				},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestKyberQuoteUSDCDecimals(t *testing.T) {
	srv := kyberServer(t, "1000000000000000000", "2500000000")
	k := NewKyber(KyberOptions{Endpoint: srv.URL}, noopLogger())

	q, err := k.Quote(context.Background(), market.BaseWETH, market.BaseUSDC)
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if math.Abs(q.Price-2500) > 1e-9 {
		t.Fatalf("期望价格 2500, 实际 %v", q.Price)
	}
	if q.FeePct == nil || *q.FeePct != 0.001 {
		t.Fatalf("应返回 0.001 费率")
	}
	if q.GasUSD != 0.02 || q.DEX != "kyberswap" {
		t.Fatalf("gas/dex 字段错误: %+v", q)
	}
}

func TestKyberQuoteResolverCached(t *testing.T) {
	srv := kyberServer(t, "1000000000000000000", "3000000")
	res := &fixedDecimals{d: 6, byToken: map[string]int32{market.BaseWETH: 18}}
	k := NewKyber(KyberOptions{Endpoint: srv.URL, Decimals: res}, noopLogger())

	for i := 0; i < 2; i++ {
		q, err := k.Quote(context.Background(), market.BaseWETH, "0x00000000000000000000000000000000000000aa")
		if err != nil {
			t.Fatalf("不应报错: %v", err)
		}
		if math.Abs(q.Price-3) > 1e-9 {
			t.Fatalf("期望价格 3, 实际 %v", q.Price)
		}
	}
	if res.calls != 2 {
		t.Fatalf("decimals 应缓存, 调用次数 %d", res.calls)
	}
}

func TestKyberQuoteInputDecimals(t *testing.T) {
	// 输入为 USDC 时 amountIn 应为 1e6, 而不是 1e18
	srv := kyberServer(t, "1000000", "400000000000000")
	k := NewKyber(KyberOptions{Endpoint: srv.URL}, noopLogger())

	q, err := k.Quote(context.Background(), market.BaseUSDC, market.BaseWETH)
	if err != nil {
		t.Fatalf("不应报错: %v", err)
	}
	if math.Abs(q.Price-0.0004) > 1e-12 {
		t.Fatalf("期望价格 0.0004, 实际 %v", q.Price)
	}
}

func TestKyberQuoteZeroAmount(t *testing.T) {
	srv := kyberServer(t, "1000000000000000000", "0")
	k := NewKyber(KyberOptions{Endpoint: srv.URL}, noopLogger())
	if _, err := k.Quote(context.Background(), market.BaseWETH, market.BaseUSDC); !errors.Is(err, ErrNoQuote) {
		t.Fatalf("零输出应返回 ErrNoQuote, 实际 %v", err)
	}
	if _, err := k.Quote(context.Background(), "", market.BaseUSDC); err == nil {
		t.Fatal("缺少 token 应报错")
	}
}

func TestNoopQuoteSource(t *testing.T) {
	if _, err := (NoopQuoteSource{}).Quote(context.Background(), "a", "b"); !errors.Is(err, ErrNoQuote) {
		t.Fatal("noop 应返回 ErrNoQuote")
	}
}

type fixedGas struct {
	gwei float64
	err  error
}

func (f fixedGas) GasPriceGwei(ctx context.Context) (float64, error) { return f.gwei, f.err }

func TestPriceFeedRefresh(t *testing.T) {
	srv := serveJSON(t, http.StatusOK, `{"coins":{"coingecko:solana":{"price":200},"coingecko:ethereum":{"price":3000}}}`)
	est := costmodel.NewFeeEstimator(costmodel.DefaultFeeParams(), noopLogger())

	feed := NewPriceFeed(PriceFeedOptions{Endpoint: srv.URL, Gas: fixedGas{gwei: 0.05}}, noopLogger())
	if err := feed.Refresh(context.Background(), est); err != nil {
		t.Fatalf("不应报错: %v", err)
	}
	p := est.Params()
	if p.SOLPriceUSD != 200 || p.ETHPriceUSD != 3000 || p.BaseGasPriceGwei != 0.05 {
		t.Fatalf("价格未更新: %+v", p)
	}
}

func TestPriceFeedKeepsPreviousOnError(t *testing.T) {
	srv := serveJSON(t, http.StatusBadGateway, ``)
	est := costmodel.NewFeeEstimator(costmodel.DefaultFeeParams(), noopLogger())

	feed := NewPriceFeed(PriceFeedOptions{Endpoint: srv.URL, Gas: fixedGas{err: errors.New("rpc down")}}, noopLogger())
	if err := feed.Refresh(context.Background(), est); err == nil {
		t.Fatal("失败时应返回错误")
	}
	if est.Params() != costmodel.DefaultFeeParams() {
		t.Fatal("失败时应保留原价格")
	}
}

func TestChainMissingConfig(t *testing.T) {
	c := NewChain(ChainOptions{}, noopLogger())
	if _, err := c.GasPriceGwei(context.Background()); err == nil {
		t.Fatal("未配置 RPC 时应报错")
	}
	if _, err := c.TokenDecimals(context.Background(), "not-an-address"); err == nil {
		t.Fatal("非法地址应报错")
	}
}
