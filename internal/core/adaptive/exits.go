package adaptive

import (
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat"

	"adaptive-options-engine/internal/config"
	"adaptive-options-engine/internal/core/model"
)

// 学习参数的边界与分位
const (
	stopQuantile = 0.25
	tpQuantile   = 0.60
	timeQuantile = 0.25

	minLearnedStop = -90.0
	maxLearnedStop = -15.0
	minLearnedTP   = 15.0
	maxLearnedTP   = 200.0
	minLearnedDTE  = 1.0
	maxLearnedDTE  = 21.0
)

type cohortKey struct {
	kind       model.StrategyKind
	signalType model.SignalType
}

type cohort struct {
	winners []float64 // pnl_pct > 0
	losers  []float64 // pnl_pct <= 0
	winDTE  []float64 // 盈利交易平仓时的剩余 DTE
}

func (c *cohort) size() int { return len(c.winners) + len(c.losers) }

// ExitEngine 按 (策略种类, 信号类型) 学习止损、止盈与时间退出参数
type ExitEngine struct {
	mu         sync.RWMutex
	defaults   model.ExitParamSet
	minSamples int
	cohorts    map[cohortKey]*cohort
}

// NewExitEngine 创建自适应退出引擎
// 参数 exits: 默认退出参数（样本不足时返回）
// 参数 learning: 学习配置（最少样本数）
func NewExitEngine(exits config.ExitConfig, learning config.LearningConfig) *ExitEngine {
	return &ExitEngine{
		defaults: model.ExitParamSet{
			StopLossPct:   exits.StopLossPct,
			TakeProfitPct: exits.TakeProfitPct,
			TimeExitDTE:   exits.TimeExitDTE,
		},
		minSamples: learning.MinSamples,
		cohorts:    make(map[cohortKey]*cohort),
	}
}

// Observe 记录一笔已平仓交易
func (e *ExitEngine) Observe(t *model.Trade) {
	if t == nil || !t.IsClosed() || t.PnLPct == nil || t.ExitTime == nil {
		return
	}
	key := cohortKey{kind: t.Kind, signalType: t.SignalType}
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.cohorts[key]
	if !ok {
		c = &cohort{}
		e.cohorts[key] = c
	}
	pct := *t.PnLPct
	if pct > 0 {
		c.winners = append(c.winners, pct)
		c.winDTE = append(c.winDTE, float64(model.DaysBetween(*t.ExitTime, t.Expiration)))
	} else {
		c.losers = append(c.losers, pct)
	}
}

// Rebuild 清空后用全部已平仓交易重建
func (e *ExitEngine) Rebuild(trades []*model.Trade) {
	e.mu.Lock()
	e.cohorts = make(map[cohortKey]*cohort)
	e.mu.Unlock()
	for _, t := range sortedClosed(trades) {
		e.Observe(t)
	}
}

// Defaults 配置的默认退出参数
func (e *ExitEngine) Defaults() model.ExitParamSet {
	return e.defaults
}

// Params 返回 cohort 的退出参数
// 样本不足时返回默认值（Samples = 0）；某一侧没有样本时该项使用默认值
func (e *ExitEngine) Params(kind model.StrategyKind, st model.SignalType) model.ExitParamSet {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.cohorts[cohortKey{kind: kind, signalType: st}]
	if !ok || c.size() < e.minSamples || c.size() == 0 {
		return e.defaults
	}

	out := e.defaults
	out.Samples = c.size()
	if len(c.losers) > 0 {
		out.StopLossPct = clamp(quantile(stopQuantile, c.losers), minLearnedStop, maxLearnedStop)
	}
	if len(c.winners) > 0 {
		out.TakeProfitPct = clamp(quantile(tpQuantile, c.winners), minLearnedTP, maxLearnedTP)
	}
	if len(c.winDTE) > 0 {
		out.TimeExitDTE = int(math.Round(clamp(quantile(timeQuantile, c.winDTE), minLearnedDTE, maxLearnedDTE)))
	}
	return out
}

func quantile(p float64, values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return stat.Quantile(p, stat.Empirical, sorted, nil)
}
