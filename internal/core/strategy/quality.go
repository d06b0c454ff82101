package strategy

import (
	"math"

	"adaptive-options-engine/internal/core/model"
)

// 质量评分参数
const (
	// oiReference 流动性满分对应的未平仓合约数
	oiReference = 500
	// thetaScale 每日 theta 占价格比例到评分的缩放（5%/天 = 100 分）
	thetaScale = 2000
	// gammaThetaScale gamma/theta 比率到评分的缩放
	gammaThetaScale = 500
)

// AggregateGreeks 聚合各腿希腊值
// put 的 delta 在链中以绝对值存储，聚合前翻转为负；空头腿取反
// 参数 legs: 腿列表
// 参数 dte: 剩余天数（用于 vega_30d 归一化）
func AggregateGreeks(legs []model.Leg, dte int) model.Greeks {
	var g model.Greeks
	for _, l := range legs {
		w := l.Sign() * float64(max(l.Quantity, 1))
		delta := math.Abs(l.Quote.Delta)
		if l.OptionType == model.OptionPut {
			delta = -delta
		}
		g.Delta += w * delta
		g.Gamma += w * l.Quote.Gamma
		g.Theta += w * l.Quote.Theta
		g.Vega += w * l.Quote.Vega
	}
	g.Vega30d = g.Vega * math.Sqrt(30/float64(max(dte, 1)))
	return g
}

// LiquidityScore 单个合约的流动性子评分（0-100）
// OI 相对 500 张的比例，扣除成交量/OI 换手率惩罚与高 IV 价差惩罚
func LiquidityScore(q model.OptionQuote) float64 {
	score := math.Min(float64(q.OpenInterest)/oiReference, 1) * 100

	turnover := 0.0
	if q.OpenInterest > 0 {
		turnover = float64(q.Volume) / float64(q.OpenInterest)
	}
	switch {
	case turnover < 0.05:
		score -= 30
	case turnover < 0.1:
		score -= 15
	}

	// 高 IV 合约买卖价差通常更宽
	score -= clamp((q.IV-0.3)*50, 0, 20)
	return clamp(score, 0, 100)
}

// legQuality 单腿质量评分（0-100）
func legQuality(l model.Leg, ivRank float64) float64 {
	q := l.Quote
	liq := LiquidityScore(q)
	if !l.Action.IsLong() {
		thetaScore := 0.0
		if q.Price > 0 {
			thetaScore = clamp(math.Abs(q.Theta)/q.Price*thetaScale, 0, 100)
		}
		return 0.4*thetaScore + 0.35*liq + 0.25*clamp(ivRank, 0, 100)
	}

	gtScore := 50.0
	if th := math.Abs(q.Theta); th > 0 {
		gtScore = clamp(q.Gamma/th*gammaThetaScale, 0, 100)
	}
	return 0.4*gtScore + 0.35*liq + 0.25*(100-clamp(ivRank, 0, 100))
}

// QualityScore 结构质量评分（0-100），按腿数量加权平均
// 空头腿：theta 衰减 + 流动性 + IV 丰厚度；多头腿：gamma/theta 比率 + 流动性 + 低 IV 加分
func QualityScore(legs []model.Leg, ivRank float64) float64 {
	if len(legs) == 0 {
		return 0
	}
	var sum, weight float64
	for _, l := range legs {
		w := float64(max(l.Quantity, 1))
		sum += w * legQuality(l, ivRank)
		weight += w
	}
	return clamp(sum/weight, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
