package adaptive

import (
	"adaptive-options-engine/internal/core/model"
)

// 边缘分基线与各分量边界
const (
	edgeBaseline = 50.0

	vrpEdgeScale = 2.0
	vrpEdgeMin   = -15.0
	vrpEdgeMax   = 20.0

	toxicityEdgeBase  = 10.0
	toxicityEdgeScale = 30.0

	skewFearRatio  = 1.3
	skewFlatRatio  = 0.9
	smartMoneyHigh = 60.0
	smartMoneyLow  = 40.0
	squeezeHigh    = 70.0
)

// 边缘分构成项名称
const (
	EdgeRegime   = "regime"
	EdgeVRP      = "vrp"
	EdgeToxicity = "toxicity"
	EdgeTerm     = "term"
	EdgeSkew     = "skew"
)

// EdgeInput 边缘分输入
type EdgeInput struct {
	Regime        model.RegimeSnapshot
	Toxicity      float64
	FlowDirection model.Direction
}

// EdgeResult 边缘分结果
type EdgeResult struct {
	Score      float64            `json:"score"`
	Bias       model.Direction    `json:"bias"`
	Components map[string]float64 `json:"components"`
}

// Edge 返回是否存在可交易优势
func (r EdgeResult) Edge(threshold float64) bool {
	return r.Score >= threshold
}

// EdgeEngine 融合体制、VRP、毒性、期限结构与偏斜的优势评分
type EdgeEngine struct{}

// NewEdgeEngine 创建边缘分引擎
func NewEdgeEngine() *EdgeEngine { return &EdgeEngine{} }

// Score 计算 0-100 边缘分与隐含方向
func (e *EdgeEngine) Score(in EdgeInput) EdgeResult {
	r := in.Regime
	c := make(map[string]float64, 5)

	regime := 0.0
	switch r.GEX.Label {
	case model.GEXPinned:
		regime += 10
	case model.GEXVolatile:
		regime -= 5
	}
	switch r.Combined.Label {
	case model.RegimeOpportunity:
		regime += 15
	case model.RegimeMeltUp:
		regime += 10
	case model.RegimeDanger:
		regime -= 15
	case model.RegimeHighRisk:
		regime -= 10
	}
	c[EdgeRegime] = regime
	c[EdgeVRP] = clamp(r.VRP()*vrpEdgeScale, vrpEdgeMin, vrpEdgeMax)
	c[EdgeToxicity] = toxicityEdgeBase - toxicityEdgeScale*clamp(in.Toxicity, 0, 1)

	switch {
	case r.Term.Structure == model.TermContango:
		c[EdgeTerm] = 5
	case r.Term.IsBackwardation():
		c[EdgeTerm] = -10
	}

	ratio := r.Skew.Ratio()
	switch {
	case ratio > skewFearRatio:
		c[EdgeSkew] = -5
	case ratio < skewFlatRatio:
		c[EdgeSkew] = -3
	default:
		c[EdgeSkew] = 3
	}

	score := edgeBaseline
	for _, k := range []string{EdgeRegime, EdgeVRP, EdgeToxicity, EdgeTerm, EdgeSkew} {
		score += c[k]
	}
	return EdgeResult{
		Score:      clamp(score, 0, 100),
		Bias:       edgeBias(in),
		Components: c,
	}
}

// edgeBias 方向投票：多数票决定方向，平票为中性
func edgeBias(in EdgeInput) model.Direction {
	r := in.Regime
	bull, bear := 0, 0
	switch r.Combined.Label {
	case model.RegimeOpportunity, model.RegimeMeltUp:
		bull++
	case model.RegimeDanger, model.RegimeHighRisk:
		bear++
	}
	switch {
	case r.SmartMoneyScore > smartMoneyHigh:
		bull++
	case r.SmartMoneyScore > 0 && r.SmartMoneyScore < smartMoneyLow:
		bear++
	}
	if r.SqueezeScore > squeezeHigh {
		bull++
	}
	if r.Skew.Ratio() > skewFearRatio {
		bear++
	}
	if r.Term.IsBackwardation() {
		bear++
	}
	switch in.FlowDirection {
	case model.DirectionBullish:
		bull++
	case model.DirectionBearish:
		bear++
	}
	switch {
	case bull > bear:
		return model.DirectionBullish
	case bear > bull:
		return model.DirectionBearish
	default:
		return model.DirectionNeutral
	}
}
