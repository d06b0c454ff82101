package paper

import (
	"context"
	"time"

	"adaptive-options-engine/internal/broker"
	"adaptive-options-engine/internal/config"
	"adaptive-options-engine/internal/core/store"
	"adaptive-options-engine/internal/util/timeutil"
)

// SessionCache 编排器持有的进程级缓存：券商会话、期权报价、标的 beta
// 三者 TTL 相互独立，均支持显式刷新与失效
type SessionCache struct {
	Session *store.TTL[broker.Session]
	Marks   *store.Keyed[float64]
	Betas   *store.Keyed[float64]
}

// NewSessionCache 创建会话缓存
// 参数 cfg: 各缓存 TTL
// 参数 b: 会话过期或失效后用于重新获取会话的券商
func NewSessionCache(cfg config.CacheConfig, b broker.Broker) *SessionCache {
	load := func(ctx context.Context) (broker.Session, error) {
		return b.Session(ctx)
	}
	return &SessionCache{
		Session: store.NewTTL(timeutil.Ms(cfg.SessionTTLMs), load),
		Marks:   store.NewKeyed[float64](timeutil.Ms(cfg.MarksTTLMs)),
		Betas:   store.NewKeyed[float64](timeutil.Ms(cfg.BetasTTLMs)),
	}
}

// WithClock 替换三个缓存的时钟（测试用）
func (c *SessionCache) WithClock(now func() time.Time) *SessionCache {
	c.Session.WithClock(now)
	c.Marks.WithClock(now)
	c.Betas.WithClock(now)
	return c
}

// InvalidateAll 清空全部缓存
func (c *SessionCache) InvalidateAll() {
	c.Session.Invalidate()
	c.Marks.Invalidate()
	c.Betas.Invalidate()
}
