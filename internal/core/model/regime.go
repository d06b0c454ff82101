package model

import "time"

// GEX 体制标签
const (
	// GEXPinned 做市商正 gamma，价格被钉住
	GEXPinned = "pinned"
	// GEXVolatile 做市商负 gamma，波动放大
	GEXVolatile = "volatile"
	// GEXNeutral 中性
	GEXNeutral = "neutral"
)

// 组合体制标签（GEX + Put/Call 比率）
const (
	// RegimeOpportunity 机会
	RegimeOpportunity = "opportunity"
	// RegimeDanger 危险
	RegimeDanger = "danger"
	// RegimeHighRisk 高风险
	RegimeHighRisk = "high_risk"
	// RegimeMeltUp 逼空上涨
	RegimeMeltUp = "melt_up"
	// RegimeNeutral 中性
	RegimeNeutral = "neutral"
)

// 期限结构标签
const (
	// TermContango 远月 IV 高于近月
	TermContango = "contango"
	// TermBackwardation 近月 IV 高于远月
	TermBackwardation = "backwardation"
	// TermFlat 平坦
	TermFlat = "flat"
)

// GEXRegime gamma 敞口体制
type GEXRegime struct {
	// Label pinned / volatile / neutral
	Label string `json:"label"`
	// Confidence 置信度（0-100）
	Confidence float64 `json:"confidence"`
	// NotionalBn 名义 gamma 敞口（十亿美元）
	NotionalBn float64 `json:"notional_bn"`
}

// CombinedRegime GEX + Put/Call 组合体制
type CombinedRegime struct {
	// Label opportunity / danger / high_risk / melt_up / neutral
	Label string `json:"label"`
	// PositionSizeMultiplier 数据源给出的仓位系数
	PositionSizeMultiplier float64 `json:"position_size_multiplier"`
	// Recommendation 文字建议
	Recommendation string `json:"recommendation"`
}

// TermStructure 期限结构
type TermStructure struct {
	FrontIV   float64 `json:"front_iv"`
	BackIV    float64 `json:"back_iv"`
	Slope     float64 `json:"slope"`
	Structure string  `json:"structure"`
}

// IsBackwardation 是否为倒挂结构
func (t TermStructure) IsBackwardation() bool {
	return t.Structure == TermBackwardation || (t.Structure == "" && t.Slope < 0)
}

// Skew 10/25/50 delta 的 put/call IV
type Skew struct {
	Put10  float64 `json:"put_10"`
	Put25  float64 `json:"put_25"`
	Put50  float64 `json:"put_50"`
	Call10 float64 `json:"call_10"`
	Call25 float64 `json:"call_25"`
	Call50 float64 `json:"call_50"`
}

// Ratio 25 delta put/call IV 比率；数据缺失时返回 1
func (s Skew) Ratio() float64 {
	if s.Put25 <= 0 || s.Call25 <= 0 {
		return 1
	}
	return s.Put25 / s.Call25
}

// MacroEvent 宏观事件日历条目（FOMC/CPI/NFP/PCE/PPI）
type MacroEvent struct {
	// Name 事件名称
	Name string `json:"name"`
	// At 事件时间
	At time.Time `json:"at"`
	// Severity 严重程度（0-100）
	Severity float64 `json:"severity"`
}

// RegimeSnapshot 生成信号时使用的体制快照
type RegimeSnapshot struct {
	Ticker   string         `json:"ticker"`
	Price    float64        `json:"price"`
	GEX      GEXRegime      `json:"gex"`
	Combined CombinedRegime `json:"combined"`
	Term     TermStructure  `json:"term"`
	Skew     Skew           `json:"skew"`
	// IVRank 当前 IV 在近期区间中的百分位（0-100）
	IVRank float64 `json:"iv_rank"`
	// ATMIV 平值隐含波动率
	ATMIV float64 `json:"atm_iv"`
	// RealizedVol 实现波动率
	RealizedVol float64 `json:"realized_vol"`
	// SqueezeScore 逼空评分（0-100）
	SqueezeScore float64 `json:"squeeze_score"`
	// SmartMoneyScore 聪明钱评分（0-100）
	SmartMoneyScore float64 `json:"smart_money_score"`
	// CallWall / PutWall 最大 gamma 行权价
	CallWall float64 `json:"call_wall"`
	PutWall  float64 `json:"put_wall"`
	// MaxPain 最大痛点
	MaxPain float64   `json:"max_pain"`
	AsOf    time.Time `json:"as_of"`
}

// VRP 方差风险溢价（IV - RV，波动率点）
func (r RegimeSnapshot) VRP() float64 {
	if r.ATMIV <= 0 || r.RealizedVol <= 0 {
		return 0
	}
	return (r.ATMIV - r.RealizedVol) * 100
}

// 因子名称
const (
	FactorDealerFlow     = "dealer_flow"
	FactorSqueeze        = "squeeze"
	FactorSmartMoney     = "smart_money"
	FactorSkew           = "skew"
	FactorTerm           = "term"
	FactorPriceVsWalls   = "price_vs_walls"
	FactorPriceVsMaxPain = "price_vs_maxpain"
)

// FactorKeys 固定的因子集合（顺序固定，用于确定性遍历）
var FactorKeys = []string{
	FactorDealerFlow,
	FactorSqueeze,
	FactorSmartMoney,
	FactorSkew,
	FactorTerm,
	FactorPriceVsWalls,
	FactorPriceVsMaxPain,
}

// FactorScores 因子评分（0-100），入场时快照，之后作为 bandit 的臂特征
type FactorScores map[string]float64

// Clone 复制因子评分
func (f FactorScores) Clone() FactorScores {
	if f == nil {
		return nil
	}
	out := make(FactorScores, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// MarketSnapshot 单个标的一个轮询周期的全部外部数据
// Degraded 列出本周期使用了中性默认值的数据项
type MarketSnapshot struct {
	Ticker   string         `json:"ticker"`
	Regime   RegimeSnapshot `json:"regime"`
	Chain    *ChainSnapshot `json:"-"`
	Events   []MacroEvent   `json:"events,omitempty"`
	Degraded []string       `json:"degraded,omitempty"`
	AsOf     time.Time      `json:"as_of"`
}

// IsDegraded 指定数据项是否降级
func (m MarketSnapshot) IsDegraded(item string) bool {
	for _, d := range m.Degraded {
		if d == item {
			return true
		}
	}
	return false
}

// Underlying 标的价格：优先体制快照，其次期权链
func (m MarketSnapshot) Underlying() float64 {
	if m.Regime.Price > 0 {
		return m.Regime.Price
	}
	if m.Chain != nil {
		return m.Chain.Underlying
	}
	return 0
}
