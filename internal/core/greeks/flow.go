package greeks

import (
	"math"

	"adaptive-options-engine/internal/core/model"
)

// Exposure 期权链聚合的做市商敞口（美元名义，十亿）
type Exposure struct {
	// GEXBn 净 gamma 敞口：1% 标的变动对应的对冲名义
	GEXBn float64 `json:"gex_bn"`
	// VannaBn 1 个波动率点变化对应的 delta 名义
	VannaBn float64 `json:"vanna_bn"`
	// CharmBn 一天时间流逝对应的 delta 名义
	CharmBn float64 `json:"charm_bn"`
}

// ChainExposure 按期权链计算做市商敞口
// 约定：做市商持有 call 多头 gamma、put 空头 gamma（市场常用近似）。
func ChainExposure(chain *model.ChainSnapshot, r float64) Exposure {
	var out Exposure
	if chain.IsEmpty() || chain.Underlying <= 0 {
		return out
	}
	S := chain.Underlying
	T := YearFraction(chain.DTE)
	if T <= 0 {
		return out
	}
	for _, row := range chain.Rows {
		for _, side := range []struct {
			q    model.OptionQuote
			sign float64
		}{{row.Call, 1}, {row.Put, -1}} {
			if side.q.OpenInterest <= 0 || side.q.IV <= 0 {
				continue
			}
			oi := float64(side.q.OpenInterest) * model.ContractMultiplier
			g := Gamma(S, row.Strike, T, side.q.IV, r)
			va, ch := SecondOrder(S, row.Strike, T, side.q.IV, r)
			out.GEXBn += side.sign * g * oi * S * S * 0.01
			out.VannaBn += side.sign * va * oi * S * 0.01
			out.CharmBn += side.sign * ch * oi * S / DaysPerYear
		}
	}
	out.GEXBn /= 1e9
	out.VannaBn /= 1e9
	out.CharmBn /= 1e9
	return out
}

// FlowForecast 做市商对冲流向预测
type FlowForecast struct {
	// VannaFlow IV 变化引起的对冲买卖（十亿美元）
	VannaFlow float64 `json:"vanna_flow"`
	// CharmFlow 时间流逝引起的对冲买卖（十亿美元）
	CharmFlow float64 `json:"charm_flow"`
	// Amplifier gamma 体制放大系数（负 gamma 放大，正 gamma 抑制）
	Amplifier float64 `json:"amplifier"`
	// Net 综合方向压力（正数为买压）
	Net float64 `json:"net"`
	// Score 归一化到 0-100 的压力评分，50 为中性
	Score float64 `json:"score"`
	// Direction 方向
	Direction model.Direction `json:"direction"`
}

// DealerFlowForecast 综合 gamma、vanna、charm 敞口估算方向压力
// 参数 exp: 做市商敞口
// 参数 ivChangePts: 预期 IV 变化（波动率点，负数表示 IV 回落）
// 参数 days: 预测窗口（天）
func DealerFlowForecast(exp Exposure, ivChangePts, days float64) FlowForecast {
	f := FlowForecast{Amplifier: 1}
	// 做市商对冲方向与敞口相反
	f.VannaFlow = -exp.VannaBn * ivChangePts
	f.CharmFlow = -exp.CharmBn * days
	switch {
	case exp.GEXBn < 0:
		f.Amplifier = 1.5
	case exp.GEXBn > 0:
		f.Amplifier = 0.75
	}
	f.Net = (f.VannaFlow + f.CharmFlow) * f.Amplifier
	if math.IsNaN(f.Net) || math.IsInf(f.Net, 0) {
		f.Net = 0
	}
	// tanh 压缩：±1bn 压力约对应 ±38 分
	f.Score = 50 + 50*math.Tanh(f.Net)
	switch {
	case f.Net > 0.05:
		f.Direction = model.DirectionBullish
	case f.Net < -0.05:
		f.Direction = model.DirectionBearish
	default:
		f.Direction = model.DirectionNeutral
	}
	return f
}
