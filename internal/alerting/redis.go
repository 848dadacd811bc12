package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"dexarb/internal/market"
)

// redisWriter 是 *redis.Client 的子集, 便于测试替换。
type redisWriter interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisOptions 配置 Redis 输出。
type RedisOptions struct {
	Stream  string
	Channel string
	MaxLen  int64
}

// RedisNotifier 把机会写入 Redis Stream 并在频道上广播。
type RedisNotifier struct {
	rdb     redisWriter
	stream  string
	channel string
	maxLen  int64
	logger  zerolog.Logger
}

// NewRedisNotifier 构造 Redis 告警器。prefix 用于推导默认的 stream/channel 名。
func NewRedisNotifier(rdb redisWriter, prefix string, opts RedisOptions, logger zerolog.Logger) *RedisNotifier {
	if strings.TrimSpace(prefix) == "" {
		prefix = "dexarb"
	}
	stream := opts.Stream
	if strings.TrimSpace(stream) == "" {
		stream = prefix + ":opportunities"
	}
	channel := opts.Channel
	if strings.TrimSpace(channel) == "" {
		channel = prefix + ":opportunities:pub"
	}
	return &RedisNotifier{
		rdb:     rdb,
		stream:  stream,
		channel: channel,
		maxLen:  opts.MaxLen,
		logger:  logger.With().Str("component", "alert_redis").Logger(),
	}
}

type opportunityMessage struct {
	Chain      string  `json:"chain"`
	Token      string  `json:"token"`
	Base       string  `json:"base"`
	BuyDEX     string  `json:"buy_dex"`
	SellDEX    string  `json:"sell_dex"`
	BuyPoolID  string  `json:"buy_pool_id"`
	SellPoolID string  `json:"sell_pool_id"`
	BuyPrice   float64 `json:"buy_price"`
	SellPrice  float64 `json:"sell_price"`
	SpreadBrut float64 `json:"spread_brut"`
	SpreadNet  float64 `json:"spread_net"`
	TotalCosts float64 `json:"total_costs"`
	Confidence int     `json:"confidence"`
	MEVRisk    string  `json:"mev_risk"`
	Source     string  `json:"source"`
	TsMs       int64   `json:"ts_ms"`
}

func toMessage(opp market.Opportunity) opportunityMessage {
	return opportunityMessage{
		Chain:      opp.Chain.String(),
		Token:      opp.Token,
		Base:       opp.Base,
		BuyDEX:     opp.BuyDEX,
		SellDEX:    opp.SellDEX,
		BuyPoolID:  opp.BuyPoolID,
		SellPoolID: opp.SellPoolID,
		BuyPrice:   opp.BuyPrice,
		SellPrice:  opp.SellPrice,
		SpreadBrut: opp.SpreadBrut,
		SpreadNet:  opp.SpreadNet,
		TotalCosts: opp.Costs.Total,
		Confidence: opp.Confidence,
		MEVRisk:    string(opp.MEVRisk),
		Source:     opp.Source,
		TsMs:       opp.DetectedAt.UnixMilli(),
	}
}

// Notify 先 XADD 再 PUBLISH。
func (n *RedisNotifier) Notify(ctx context.Context, opp market.Opportunity) error {
	msg := toMessage(opp)
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal opportunity: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: n.stream,
		Values: map[string]any{
			"ts_ms":      msg.TsMs,
			"chain":      msg.Chain,
			"token":      msg.Token,
			"spread_net": msg.SpreadNet,
			"payload":    string(payload),
		},
	}
	if n.maxLen > 0 {
		args.MaxLen = n.maxLen
		args.Approx = true
	}
	if err := n.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis xadd: %w", err)
	}
	if err := n.rdb.Publish(ctx, n.channel, string(payload)).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}

	n.logger.Debug().Str("stream", n.stream).Str("token", opp.Token).Msg("opportunity published")
	return nil
}

var (
	_ Notifier    = (*RedisNotifier)(nil)
	_ redisWriter = (*redis.Client)(nil)
)
