package alerting

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"dexarb/internal/market"
)

// Multi 把同一条机会发送到所有渠道。单个渠道失败不影响其他渠道。
type Multi struct {
	notifiers []Notifier
	logger    zerolog.Logger
}

// NewMulti 构造扇出告警器, nil 会被忽略。
func NewMulti(logger zerolog.Logger, notifiers ...Notifier) *Multi {
	m := &Multi{logger: logger.With().Str("component", "alert_multi").Logger()}
	for _, n := range notifiers {
		if n != nil {
			m.notifiers = append(m.notifiers, n)
		}
	}
	return m
}

// Len 返回渠道数量。
func (m *Multi) Len() int { return len(m.notifiers) }

// Notify 返回所有失败渠道的合并错误。
func (m *Multi) Notify(ctx context.Context, opp market.Opportunity) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, opp); err != nil {
			m.logger.Warn().Err(err).Str("token", opp.Token).Msg("notifier failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DefaultHistorySize 是内存中保留的最近告警条数。
const DefaultHistorySize = 100

// History 记录最近发送的机会, 包装另一个 Notifier。只有发送成功的才会记录。
type History struct {
	next Notifier
	size int

	mu    sync.Mutex
	items []market.Opportunity
}

// NewHistory 构造历史记录器, size <= 0 使用 DefaultHistorySize。
func NewHistory(next Notifier, size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{next: next, size: size}
}

func (h *History) Notify(ctx context.Context, opp market.Opportunity) error {
	if h.next != nil {
		if err := h.next.Notify(ctx, opp); err != nil {
			return err
		}
	}
	h.mu.Lock()
	h.items = append(h.items, opp)
	if len(h.items) > h.size {
		h.items = append([]market.Opportunity(nil), h.items[len(h.items)-h.size:]...)
	}
	h.mu.Unlock()
	return nil
}

// Recent 返回最近 n 条, 最新的在前。n <= 0 返回全部。
func (h *History) Recent(n int) []market.Opportunity {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n <= 0 || n > len(h.items) {
		n = len(h.items)
	}
	out := make([]market.Opportunity, 0, n)
	for i := len(h.items) - 1; i >= len(h.items)-n; i-- {
		out = append(out, h.items[i])
	}
	return out
}

var (
	_ Notifier = (*Multi)(nil)
	_ Notifier = (*History)(nil)
)
