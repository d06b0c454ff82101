package strategy

import (
	"math"
	"sort"

	"adaptive-options-engine/internal/core/model"
)

// 翼宽相对标的价格的比例
const (
	wingPct    = 0.01
	wingMinPct = 0.005
	wingMaxPct = 0.03
	// spacingWindow ATM 两侧参与间距中位数计算的行权价数量
	spacingWindow = 5
)

// SelectStrike 选择 delta 最接近目标的行权价
// 优先在流动性子集（OI≥50 且价格≥$0.05）内选择，子集为空时退回全集
// 参数 chain: 期权链
// 参数 t: 期权类型
// 参数 targetDelta: 目标 delta（绝对值）
// 返回: 选中的行与是否找到
func SelectStrike(chain *model.ChainSnapshot, t model.OptionType, targetDelta float64) (model.StrikeRow, bool) {
	if chain.IsEmpty() {
		return model.StrikeRow{}, false
	}
	pick := func(liquidOnly bool) (model.StrikeRow, bool) {
		best := -1
		bestDist := math.Inf(1)
		for i, r := range chain.Rows {
			q := r.Quote(t)
			if liquidOnly && !q.Liquid() {
				continue
			}
			d := math.Abs(math.Abs(q.Delta) - targetDelta)
			if d < bestDist {
				best, bestDist = i, d
			}
		}
		if best < 0 {
			return model.StrikeRow{}, false
		}
		return chain.Rows[best], true
	}
	if row, ok := pick(true); ok {
		return row, true
	}
	return pick(false)
}

// MedianSpacing ATM 两侧 ±5 个行权价的间距中位数
func MedianSpacing(chain *model.ChainSnapshot) float64 {
	if chain.IsEmpty() || len(chain.Rows) < 2 {
		return 0
	}
	atm := chain.ATMIndex()
	lo := max(0, atm-spacingWindow)
	hi := min(len(chain.Rows)-1, atm+spacingWindow)

	diffs := make([]float64, 0, hi-lo)
	for i := lo + 1; i <= hi; i++ {
		if d := chain.Rows[i].Strike - chain.Rows[i-1].Strike; d > 0 {
			diffs = append(diffs, d)
		}
	}
	if len(diffs) == 0 {
		return 0
	}
	sort.Float64s(diffs)
	n := len(diffs)
	if n%2 == 1 {
		return diffs[n/2]
	}
	return (diffs[n/2-1] + diffs[n/2]) / 2
}

// WingWidth 自适应翼宽
// 约为标的价格的 1%，按局部行权价间距中位数取整，再限制在 [0.5%, 3%] 区间
// 参数 chain: 期权链
// 参数 underlying: 标的价格
func WingWidth(chain *model.ChainSnapshot, underlying float64) float64 {
	if underlying <= 0 {
		return 0
	}
	width := underlying * wingPct
	if spacing := MedianSpacing(chain); spacing > 0 {
		width = math.Max(spacing, math.Round(width/spacing)*spacing)
	}
	return math.Min(math.Max(width, underlying*wingMinPct), underlying*wingMaxPct)
}

// wingStrike 在 from 外侧寻找最接近 from±width 的行权价
// 参数 above: true 表示向上（call 翼），false 表示向下（put 翼）
func wingStrike(chain *model.ChainSnapshot, from, width float64, above bool) (model.StrikeRow, bool) {
	target := from - width
	if above {
		target = from + width
	}
	best := -1
	bestDist := math.Inf(1)
	for i, r := range chain.Rows {
		if above && r.Strike <= from {
			continue
		}
		if !above && r.Strike >= from {
			continue
		}
		if d := math.Abs(r.Strike - target); d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return model.StrikeRow{}, false
	}
	return chain.Rows[best], true
}

// atmRow 最接近标的价格的行
func atmRow(chain *model.ChainSnapshot) (model.StrikeRow, bool) {
	i := chain.ATMIndex()
	if i < 0 {
		return model.StrikeRow{}, false
	}
	return chain.Rows[i], true
}
