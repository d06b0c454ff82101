// Package ev 实现已平仓交易结果的滚动期望值（EV）统计。
// EV = p × R - (1 - p) × L
// p_required = L / (R + L)
// 收益以百分比计（pnl_pct），用于信号胜率调整与凯利仓位。
package ev

import (
	"adaptive-options-engine/internal/core/model"
)

type tradeSample struct {
	win    bool
	pnlPct float64
}

// EVStats EV 统计信息（滚动窗口）
type EVStats struct {
	// Count 样本数
	Count int64
	// WinCount 盈利样本数（pnl>0）
	WinCount int64
	// LossCount 亏损样本数（pnl<=0）
	LossCount int64

	// WinRate 胜率 p
	WinRate float64
	// AvgProfit 平均盈利 R（百分比）
	AvgProfit float64
	// AvgLoss 平均亏损 L（百分比绝对值）
	AvgLoss float64

	// EV 期望值（百分比）
	EV float64
	// PRequired 盈亏平衡胜率 p_required
	PRequired float64
}

// PayoffRatio 盈亏比 b = R / L；无亏损样本时返回 0
func (s EVStats) PayoffRatio() float64 {
	if s.AvgLoss <= 0 {
		return 0
	}
	return s.AvgProfit / s.AvgLoss
}

// Calculator EV 计算器（滚动窗口）
// 输入来自已平仓交易（Trade）。非并发安全，由调用方串行写入。
type Calculator struct {
	// windowSize 滚动窗口大小
	windowSize int
	// buf 环形缓冲区
	buf []tradeSample
	// pos 写入位置
	pos int
	// full 是否已填满
	full bool

	// 维护滚动统计（O(1) 更新）
	count     int64
	winCount  int64
	lossCount int64
	sumWinR   float64
	sumLossL  float64
}

// NewCalculator 创建 EV 计算器
// 参数 windowSize: 滚动窗口大小（建议 200）
func NewCalculator(windowSize int) *Calculator {
	if windowSize <= 0 {
		windowSize = 200
	}
	return &Calculator{
		windowSize: windowSize,
		buf:        make([]tradeSample, windowSize),
	}
}

// Add 添加一笔已平仓交易到滚动统计
// 未平仓或缺少盈亏的交易被忽略
func (c *Calculator) Add(t *model.Trade) {
	if t == nil || !t.IsClosed() || t.PnLDollars == nil {
		return
	}
	pct := 0.0
	if t.PnLPct != nil {
		pct = *t.PnLPct
	}
	c.AddSample(*t.PnLDollars > 0, pct)
}

// AddSample 直接添加一个样本
// 参数 win: 是否盈利
// 参数 pnlPct: 收益百分比（亏损为负）
func (c *Calculator) AddSample(win bool, pnlPct float64) {
	s := tradeSample{win: win, pnlPct: pnlPct}

	// 若环已满，移除旧样本对统计的贡献
	if c.full {
		old := c.buf[c.pos]
		c.count--
		if old.win {
			c.winCount--
			c.sumWinR -= old.pnlPct
		} else {
			c.lossCount--
			c.sumLossL -= abs(old.pnlPct)
		}
	}

	c.buf[c.pos] = s
	c.pos++
	if c.pos >= c.windowSize {
		c.pos = 0
		c.full = true
	}

	c.count++
	if s.win {
		c.winCount++
		c.sumWinR += s.pnlPct
	} else {
		c.lossCount++
		c.sumLossL += abs(s.pnlPct)
	}
}

// Reset 清空统计
func (c *Calculator) Reset() {
	*c = *NewCalculator(c.windowSize)
}

// Stats 返回滚动窗口统计
func (c *Calculator) Stats() EVStats {
	out := EVStats{
		Count:     c.count,
		WinCount:  c.winCount,
		LossCount: c.lossCount,
	}
	if c.count <= 0 {
		return out
	}

	out.WinRate = float64(c.winCount) / float64(c.count)

	if c.winCount > 0 {
		out.AvgProfit = c.sumWinR / float64(c.winCount)
	}
	if c.lossCount > 0 {
		out.AvgLoss = c.sumLossL / float64(c.lossCount)
	}

	// EV = p × R - (1 - p) × L
	p := out.WinRate
	R := out.AvgProfit
	L := out.AvgLoss
	out.EV = p*R - (1-p)*L

	// p_required = L / (R + L)
	den := R + L
	if den > 0 {
		out.PRequired = L / den
	} else {
		out.PRequired = 1
	}

	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
