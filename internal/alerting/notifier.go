package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dexarb/internal/market"
)

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, opp market.Opportunity) error
}

// SymbolFunc 把地址翻译成可读的代币符号。
type SymbolFunc func(chain market.Chain, address string) string

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	symbol   SymbolFunc
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// WithSymbols 设置符号解析函数。
func (n *TelegramNotifier) WithSymbols(fn SymbolFunc) *TelegramNotifier {
	n.symbol = fn
	return n
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, opp market.Opportunity) error {
	payload := map[string]any{
		"chat_id":                  n.chatID,
		"text":                     renderMessage(opp, n.symbol),
		"disable_web_page_preview": true,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("token", opp.Token).
		Str("buy", opp.BuyDEX).
		Str("sell", opp.SellDEX).
		Msg("告警已发送 (Telegram)")
	return nil
}

func pct(v float64) string {
	return decimal.NewFromFloat(v).Shift(2).StringFixed(3)
}

func renderMessage(opp market.Opportunity, symbol SymbolFunc) string {
	name := opp.Token
	if symbol != nil {
		name = symbol(opp.Chain, opp.Token)
	}

	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[DEX Spread] %s on %s\n", name, opp.Chain))
	builder.WriteString(fmt.Sprintf("Buy:  %s @ %s\n", opp.BuyDEX, decimal.NewFromFloat(opp.BuyPrice).StringFixed(8)))
	builder.WriteString(fmt.Sprintf("Sell: %s @ %s\n", opp.SellDEX, decimal.NewFromFloat(opp.SellPrice).StringFixed(8)))
	builder.WriteString(fmt.Sprintf("Spread: %s%% gross, %s%% net\n", pct(opp.SpreadBrut), pct(opp.SpreadNet)))
	builder.WriteString(fmt.Sprintf("Costs: fees %s%% | network %s%% | slippage %s%% | impact %s%%\n",
		pct(opp.Costs.DEXFees), pct(opp.Costs.NetworkFee), pct(opp.Costs.Slippage), pct(opp.Costs.PriceImpact)))
	builder.WriteString(fmt.Sprintf("Confidence: %d/100 | MEV: %s | pools: %d\n", opp.Confidence, opp.MEVRisk, opp.PoolCount))
	builder.WriteString(fmt.Sprintf("Liquidity: $%s | est. profit on $%s: $%s\n",
		decimal.NewFromFloat(opp.LiquidityUSD).StringFixed(0),
		decimal.NewFromFloat(opp.SwapSizeUSD).StringFixed(0),
		decimal.NewFromFloat(opp.ProfitUSD).StringFixed(2)))
	if opp.BuyURL != "" {
		builder.WriteString(fmt.Sprintf("Buy link: %s\n", opp.BuyURL))
	}
	if opp.SellURL != "" {
		builder.WriteString(fmt.Sprintf("Sell link: %s\n", opp.SellURL))
	}
	builder.WriteString(fmt.Sprintf("Detected: %s UTC", opp.DetectedAt.UTC().Format(time.RFC3339)))
	return builder.String()
}

// LogNotifier 只写日志, 未配置任何渠道时使用。
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier 构造日志告警器。
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

func (n *LogNotifier) Notify(ctx context.Context, opp market.Opportunity) error {
	n.logger.Info().
		Str("chain", opp.Chain.String()).
		Str("token", opp.Token).
		Str("buy", opp.BuyDEX).
		Str("sell", opp.SellDEX).
		Float64("spread_net_pct", opp.SpreadNet*100).
		Int("confidence", opp.Confidence).
		Msg("opportunity")
	return nil
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
)
