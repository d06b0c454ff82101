package adaptive

import (
	"sync"

	"adaptive-options-engine/internal/config"
	"adaptive-options-engine/internal/core/model"
	"adaptive-options-engine/internal/stats/ev"
)

// 置信度调整边界
const (
	minConfidence  = 10
	maxConfidence  = 99
	baselineWinPct = 0.5
	minMultiplier  = 0.5
	maxMultiplier  = 1.5
)

// Tracker 按信号类型维护已平仓交易的滚动胜率
type Tracker struct {
	mu         sync.RWMutex
	window     int
	minSamples int
	calcs      map[model.SignalType]*ev.Calculator
}

// NewTracker 创建信号表现追踪器
// 参数 cfg: 学习配置（窗口与最少样本数）
func NewTracker(cfg config.LearningConfig) *Tracker {
	return &Tracker{
		window:     cfg.Window,
		minSamples: cfg.MinSamples,
		calcs:      make(map[model.SignalType]*ev.Calculator),
	}
}

// Add 记录一笔已平仓交易
func (t *Tracker) Add(tr *model.Trade) {
	if tr == nil || !tr.IsClosed() || tr.SignalType == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.calcs[tr.SignalType]
	if !ok {
		c = ev.NewCalculator(t.window)
		t.calcs[tr.SignalType] = c
	}
	c.Add(tr)
}

// Rebuild 清空后用全部已平仓交易重建
func (t *Tracker) Rebuild(trades []*model.Trade) {
	t.mu.Lock()
	t.calcs = make(map[model.SignalType]*ev.Calculator)
	t.mu.Unlock()
	for _, tr := range sortedClosed(trades) {
		t.Add(tr)
	}
}

// Stats 信号类型的滚动统计
func (t *Tracker) Stats(st model.SignalType) ev.EVStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.calcs[st]
	if !ok {
		return ev.EVStats{}
	}
	return c.Stats()
}

// Multiplier 置信度系数：胜率 / 50%，限制在 [0.5, 1.5]
// 样本不足时返回 1.0
func (t *Tracker) Multiplier(st model.SignalType) float64 {
	s := t.Stats(st)
	if s.Count < int64(t.minSamples) || s.Count == 0 {
		return 1
	}
	return clamp(s.WinRate/baselineWinPct, minMultiplier, maxMultiplier)
}

// Adjust 按历史胜率调整原始置信度，结果限制在 [10, 99]
func (t *Tracker) Adjust(st model.SignalType, raw float64) float64 {
	return clamp(raw*t.Multiplier(st), minConfidence, maxConfidence)
}
