package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"adaptive-options-engine/internal/config"
	"adaptive-options-engine/internal/core/model"
	"adaptive-options-engine/internal/stats/latency"
	"adaptive-options-engine/internal/util/timeutil"
)

// FetchObserver 每次拉取完成后的回调（指标用）
type FetchObserver func(item string, d time.Duration, degraded bool)

// Gateway 包装 Provider：每个数据项独立超时与熔断，失败时返回命名默认值
// 任何数据项失败都不会中断整个周期
type Gateway struct {
	p        Provider
	timeout  time.Duration
	dteMin   int
	dteMax   int
	breakers map[string]*gobreaker.CircuitBreaker
	latency  *latency.Tracker
	observe  FetchObserver
	logger   *zap.Logger
	now      func() time.Time
}

// NewGateway 创建数据网关
// 参数 p: 底层数据源
// 参数 cfg: 完整配置（使用 provider 与 strategy.default_dte_range）
// 参数 tracker: 时延统计（可为 nil）
func NewGateway(p Provider, cfg *config.Config, tracker *latency.Tracker, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gateway{
		p:        p,
		timeout:  timeutil.Ms(cfg.Provider.TimeoutMs),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		latency:  tracker,
		logger:   logger.Named("provider"),
		now:      time.Now,
	}
	g.dteMin, g.dteMax = cfg.Strategy.DTERange()

	failures := uint32(cfg.Provider.BreakerFailures)
	for _, item := range []string{ItemChain, ItemIVRank, ItemGEX, ItemCombined, ItemTerm, ItemSkew, ItemEvents, ItemBetas, ItemMarks} {
		g.breakers[item] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        item,
			MaxRequests: 1,
			Interval:    0,
			Timeout:     timeutil.Ms(cfg.Provider.BreakerCooldownMs),
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				g.logger.Warn("数据源熔断状态变化",
					zap.String("item", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		})
	}
	return g
}

// WithObserver 设置拉取回调
func (g *Gateway) WithObserver(fn FetchObserver) *Gateway {
	g.observe = fn
	return g
}

// WithClock 替换时钟（测试用）
func (g *Gateway) WithClock(now func() time.Time) *Gateway {
	g.now = now
	return g
}

// BreakerOpen 指定数据项的熔断器是否处于打开状态
func (g *Gateway) BreakerOpen(item string) bool {
	cb, ok := g.breakers[item]
	return ok && cb.State() == gobreaker.StateOpen
}

// fetch 在独立超时与熔断下执行一次拉取
func fetch[T any](ctx context.Context, g *Gateway, item string, fallback T, fn func(ctx context.Context) (T, error)) Result[T] {
	start := time.Now()
	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	v, err := g.breakers[item].Execute(func() (interface{}, error) {
		return fn(cctx)
	})
	d := time.Since(start)
	if g.latency != nil {
		g.latency.Observe(item, d, err)
	}

	res := Result[T]{Value: fallback}
	if err == nil {
		if typed, ok := v.(T); ok {
			res.Value = typed
		} else {
			err = fmt.Errorf("%s: 返回类型不符", item)
		}
	}
	if err != nil {
		res.Degraded = true
		res.Err = err
		if !errors.Is(err, gobreaker.ErrOpenState) {
			g.logger.Warn("数据拉取失败，使用默认值",
				zap.String("item", item),
				zap.Duration("elapsed", d),
				zap.Error(err))
		}
	}
	if g.observe != nil {
		g.observe(item, d, res.Degraded)
	}
	return res
}

// Chain 期权链；失败时返回空链
func (g *Gateway) Chain(ctx context.Context, ticker string) Result[*model.ChainSnapshot] {
	res := fetch(ctx, g, ItemChain, EmptyChain(ticker), func(ctx context.Context) (*model.ChainSnapshot, error) {
		return g.p.Chain(ctx, ticker, g.dteMin, g.dteMax)
	})
	if res.Value == nil {
		res.Value = EmptyChain(ticker)
		res.Degraded = true
	}
	return res
}

// IVRank IV Rank；失败时为 50
func (g *Gateway) IVRank(ctx context.Context, ticker string) Result[IVStats] {
	return fetch(ctx, g, ItemIVRank, NeutralIVRank, func(ctx context.Context) (IVStats, error) {
		return g.p.IVRank(ctx, ticker)
	})
}

// GEX GEX 体制；失败时为 neutral
func (g *Gateway) GEX(ctx context.Context, ticker string) Result[GEXReading] {
	return fetch(ctx, g, ItemGEX, NeutralGEX, func(ctx context.Context) (GEXReading, error) {
		return g.p.GEX(ctx, ticker)
	})
}

// Combined 组合体制；失败时为 neutral、仓位系数 1
func (g *Gateway) Combined(ctx context.Context, ticker string) Result[model.CombinedRegime] {
	return fetch(ctx, g, ItemCombined, NeutralCombined, func(ctx context.Context) (model.CombinedRegime, error) {
		return g.p.Combined(ctx, ticker)
	})
}

// Term 期限结构；失败时为 flat
func (g *Gateway) Term(ctx context.Context, ticker string) Result[model.TermStructure] {
	return fetch(ctx, g, ItemTerm, FlatTerm, func(ctx context.Context) (model.TermStructure, error) {
		return g.p.Term(ctx, ticker)
	})
}

// Skew 偏斜；失败时为空
func (g *Gateway) Skew(ctx context.Context, ticker string) Result[model.Skew] {
	return fetch(ctx, g, ItemSkew, FlatSkew, func(ctx context.Context) (model.Skew, error) {
		return g.p.Skew(ctx, ticker)
	})
}

// Events 宏观日历；失败时为空
func (g *Gateway) Events(ctx context.Context) Result[[]model.MacroEvent] {
	return fetch(ctx, g, ItemEvents, []model.MacroEvent(nil), func(ctx context.Context) ([]model.MacroEvent, error) {
		return g.p.Events(ctx)
	})
}

// Betas 标的 beta；缺失的标的补 1.0
func (g *Gateway) Betas(ctx context.Context, tickers []string) Result[map[string]float64] {
	res := fetch(ctx, g, ItemBetas, map[string]float64(nil), func(ctx context.Context) (map[string]float64, error) {
		return g.p.Betas(ctx, tickers)
	})
	out := make(map[string]float64, len(tickers))
	for _, t := range tickers {
		if b, ok := res.Value[t]; ok && b != 0 {
			out[t] = b
		} else {
			out[t] = NeutralBeta
		}
	}
	res.Value = out
	return res
}

// Marks 合约中间价；失败时为空（调用方跳过基于价格的退出）
func (g *Gateway) Marks(ctx context.Context, symbols []string) Result[map[string]float64] {
	if len(symbols) == 0 {
		return Result[map[string]float64]{Value: map[string]float64{}}
	}
	res := fetch(ctx, g, ItemMarks, map[string]float64{}, func(ctx context.Context) (map[string]float64, error) {
		return g.p.Marks(ctx, symbols)
	})
	if res.Value == nil {
		res.Value = map[string]float64{}
	}
	return res
}

// Snapshot 并发拉取单个标的的全部数据并组装体制快照
// 实现 signal.Source；失败的数据项出现在 Degraded 中
func (g *Gateway) Snapshot(ctx context.Context, ticker string) model.MarketSnapshot {
	var (
		chain    Result[*model.ChainSnapshot]
		iv       Result[IVStats]
		gex      Result[GEXReading]
		combined Result[model.CombinedRegime]
		term     Result[model.TermStructure]
		skew     Result[model.Skew]
		events   Result[[]model.MacroEvent]
	)

	var eg errgroup.Group
	eg.Go(func() error { chain = g.Chain(ctx, ticker); return nil })
	eg.Go(func() error { iv = g.IVRank(ctx, ticker); return nil })
	eg.Go(func() error { gex = g.GEX(ctx, ticker); return nil })
	eg.Go(func() error { combined = g.Combined(ctx, ticker); return nil })
	eg.Go(func() error { term = g.Term(ctx, ticker); return nil })
	eg.Go(func() error { skew = g.Skew(ctx, ticker); return nil })
	eg.Go(func() error { events = g.Events(ctx); return nil })
	_ = eg.Wait()

	now := g.now()
	snap := model.MarketSnapshot{
		Ticker: ticker,
		Chain:  chain.Value,
		Events: events.Value,
		AsOf:   now,
	}
	for _, d := range []struct {
		item     string
		degraded bool
	}{
		{ItemChain, chain.Degraded},
		{ItemIVRank, iv.Degraded},
		{ItemGEX, gex.Degraded},
		{ItemCombined, combined.Degraded},
		{ItemTerm, term.Degraded},
		{ItemSkew, skew.Degraded},
		{ItemEvents, events.Degraded},
	} {
		if d.degraded {
			snap.Degraded = append(snap.Degraded, d.item)
		}
	}

	r := model.RegimeSnapshot{
		Ticker:          ticker,
		Price:           gex.Value.Price,
		GEX:             gex.Value.Regime,
		Combined:        combined.Value,
		Term:            term.Value,
		Skew:            skew.Value,
		IVRank:          iv.Value.IVRank,
		ATMIV:           iv.Value.ATMIV,
		RealizedVol:     iv.Value.RealizedVol,
		SqueezeScore:    gex.Value.SqueezeScore,
		SmartMoneyScore: gex.Value.SmartMoneyScore,
		CallWall:        gex.Value.CallWall,
		PutWall:         gex.Value.PutWall,
		MaxPain:         gex.Value.MaxPain,
		AsOf:            now,
	}
	if r.Price <= 0 && !chain.Value.IsEmpty() {
		r.Price = chain.Value.Underlying
	}
	if r.ATMIV <= 0 && !chain.Value.IsEmpty() {
		r.ATMIV = chain.Value.Rows[chain.Value.ATMIndex()].Call.IV
	}
	if r.Combined.PositionSizeMultiplier <= 0 {
		r.Combined.PositionSizeMultiplier = 1
	}
	snap.Regime = r

	if len(snap.Degraded) > 0 {
		g.logger.Debug("快照降级",
			zap.String("ticker", ticker),
			zap.Strings("degraded", snap.Degraded))
	}
	return snap
}
