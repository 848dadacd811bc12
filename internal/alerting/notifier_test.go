package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"dexarb/internal/market"
)

func sampleOpportunity() market.Opportunity {
	return market.Opportunity{
		Token:       "TokenT",
		Base:        market.SOLMint,
		Chain:       market.ChainSolana,
		BuyDEX:      "raydium",
		SellDEX:     "orca",
		BuyPoolID:   "p1",
		SellPoolID:  "p2",
		BuyURL:      "https://raydium.io/pool/p1",
		SellURL:     "https://www.orca.so/whirlpools/p2",
		BuyPrice:    1,
		SellPrice:   1.01,
		SpreadBrut:  0.01,
		Costs:       market.Costs{DEXFees: 0.0055, Total: 0.0055},
		SpreadNet:   0.0045,
		Confidence:  72,
		MEVRisk:     market.MEVLow,
		PoolCount:   2,
		SwapSizeUSD: 1000,
		ProfitUSD:   4.5,
		Source:      market.SourcePairwise,
		DetectedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]any)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger()).
		WithSymbols(func(chain market.Chain, address string) string { return "TTT" })

	if err := notifier.Notify(context.Background(), sampleOpportunity()); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	text, _ := received["text"].(string)
	if !strings.Contains(text, "TTT on solana") {
		t.Fatalf("text 应包含符号: %s", text)
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleOpportunity()); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestRenderMessage(t *testing.T) {
	text := renderMessage(sampleOpportunity(), nil)
	for _, want := range []string{
		"TokenT on solana",
		"Buy:  raydium @ 1.00000000",
		"Sell: orca @ 1.01000000",
		"Spread: 1.000% gross, 0.450% net",
		"Confidence: 72/100",
		"est. profit on $1000: $4.50",
		"Buy link: https://raydium.io/pool/p1",
		"2026-03-01T12:00:00Z",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("消息缺少 %q:\n%s", want, text)
		}
	}
}

type fakeRedis struct {
	added     []*redis.XAddArgs
	published []string
	channel   string
	xaddErr   error
}

func (f *fakeRedis) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.added = append(f.added, a)
	return redis.NewStringResult("1-0", f.xaddErr)
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	f.channel = channel
	f.published = append(f.published, message.(string))
	return redis.NewIntResult(1, nil)
}

func TestRedisNotifier(t *testing.T) {
	rdb := &fakeRedis{}
	n := NewRedisNotifier(rdb, "arb", RedisOptions{MaxLen: 1000}, testLogger())

	if err := n.Notify(context.Background(), sampleOpportunity()); err != nil {
		t.Fatalf("Notify 应成功: %v", err)
	}
	if len(rdb.added) != 1 || rdb.added[0].Stream != "arb:opportunities" || !rdb.added[0].Approx {
		t.Fatalf("XADD 参数不正确: %+v", rdb.added)
	}
	if rdb.channel != "arb:opportunities:pub" {
		t.Fatalf("频道不正确: %s", rdb.channel)
	}

	var msg opportunityMessage
	if err := json.Unmarshal([]byte(rdb.published[0]), &msg); err != nil {
		t.Fatalf("消息应为 JSON: %v", err)
	}
	if msg.Token != "TokenT" || msg.SpreadNet != 0.0045 || msg.TsMs != sampleOpportunity().DetectedAt.UnixMilli() {
		t.Fatalf("消息内容不正确: %+v", msg)
	}

	rdb.xaddErr = errors.New("down")
	if err := n.Notify(context.Background(), sampleOpportunity()); err == nil {
		t.Fatal("XADD 失败应报错")
	}
	if len(rdb.published) != 1 {
		t.Fatal("XADD 失败后不应 PUBLISH")
	}
}

type stubNotifier struct {
	err   error
	count int
}

func (s *stubNotifier) Notify(ctx context.Context, opp market.Opportunity) error {
	s.count++
	return s.err
}

func TestMultiContinuesOnFailure(t *testing.T) {
	bad := &stubNotifier{err: errors.New("boom")}
	good := &stubNotifier{}
	m := NewMulti(testLogger(), bad, nil, good)

	if m.Len() != 2 {
		t.Fatalf("nil 应被忽略, 实际 %d", m.Len())
	}
	if err := m.Notify(context.Background(), sampleOpportunity()); err == nil {
		t.Fatal("应返回失败渠道的错误")
	}
	if good.count != 1 {
		t.Fatal("其他渠道仍应收到")
	}
}

func TestHistoryKeepsLatest(t *testing.T) {
	h := NewHistory(&stubNotifier{}, 3)
	for i := 0; i < 5; i++ {
		opp := sampleOpportunity()
		opp.Confidence = i
		_ = h.Notify(context.Background(), opp)
	}
	got := h.Recent(0)
	if len(got) != 3 {
		t.Fatalf("应只保留 3 条, 实际 %d", len(got))
	}
	if got[0].Confidence != 4 || got[2].Confidence != 2 {
		t.Fatalf("顺序应为最新在前: %d %d", got[0].Confidence, got[2].Confidence)
	}

	failing := NewHistory(&stubNotifier{err: errors.New("x")}, 0)
	_ = failing.Notify(context.Background(), sampleOpportunity())
	if len(failing.Recent(10)) != 0 {
		t.Fatal("发送失败不应记录")
	}
}

func TestLogNotifier(t *testing.T) {
	if err := NewLogNotifier(testLogger()).Notify(context.Background(), sampleOpportunity()); err != nil {
		t.Fatal(err)
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
