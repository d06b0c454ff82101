// Package adaptive 实现闭环参数自适应：
// 信号胜率调整、Thompson 采样因子权重、退出参数学习、凯利仓位、
// 订单流毒性、优势评分与策略选择。
package adaptive

import (
	"math"

	"adaptive-options-engine/internal/core/model"
)

// directionalFactors 方向性因子；看跌交易入场时取 100-s，使 ≥50 始终表示“支持该交易”
var directionalFactors = map[string]bool{
	model.FactorDealerFlow:     true,
	model.FactorSqueeze:        true,
	model.FactorSmartMoney:     true,
	model.FactorSkew:           true,
	model.FactorPriceVsWalls:   true,
	model.FactorPriceVsMaxPain: true,
}

// FactorsFromRegime 从体制快照提取因子评分（0-100，看涨方向）
// 参数 r: 体制快照
// 参数 dealerFlowScore: 做市商流向评分（0-100，缺失传 50）
func FactorsFromRegime(r model.RegimeSnapshot, dealerFlowScore float64) model.FactorScores {
	f := model.FactorScores{
		model.FactorDealerFlow: clamp(dealerFlowScore, 0, 100),
		model.FactorSqueeze:    neutralIfZero(r.SqueezeScore),
		model.FactorSmartMoney: neutralIfZero(r.SmartMoneyScore),
	}

	// put 偏斜越重越看跌
	f[model.FactorSkew] = clamp(50-(r.Skew.Ratio()-1)*100, 0, 100)

	switch {
	case r.Term.Structure == model.TermContango:
		f[model.FactorTerm] = 65
	case r.Term.IsBackwardation():
		f[model.FactorTerm] = 30
	default:
		f[model.FactorTerm] = 50
	}

	// 靠近 put wall（支撑）看涨，靠近 call wall（阻力）看跌
	f[model.FactorPriceVsWalls] = 50
	if r.CallWall > r.PutWall && r.PutWall > 0 && r.Price > 0 {
		pos := (r.Price - r.PutWall) / (r.CallWall - r.PutWall)
		f[model.FactorPriceVsWalls] = clamp((1-pos)*100, 0, 100)
	}

	// 最大痛点在上方时价格有上行引力
	f[model.FactorPriceVsMaxPain] = 50
	if r.MaxPain > 0 && r.Price > 0 {
		f[model.FactorPriceVsMaxPain] = clamp(50+(r.MaxPain-r.Price)/r.Price*1000, 0, 100)
	}
	return f
}

// OrientFactors 将因子评分转换到交易方向
// 看跌交易的方向性因子取 100-s；看涨与中性保持不变
func OrientFactors(f model.FactorScores, dir model.Direction) model.FactorScores {
	out := f.Clone()
	if dir != model.DirectionBearish {
		return out
	}
	for k, v := range out {
		if directionalFactors[k] {
			out[k] = 100 - v
		}
	}
	return out
}

func neutralIfZero(v float64) float64 {
	if v <= 0 || math.IsNaN(v) {
		return 50
	}
	return clamp(v, 0, 100)
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
