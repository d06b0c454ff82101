package signal

import (
	"math"

	"adaptive-options-engine/internal/core/model"
)

// 体制转换综合权重
const (
	WeightFlip  = 0.25
	WeightShift = 0.30
	WeightMacro = 0.10
	WeightIV    = 0.15
	WeightTerm  = 0.20

	haltThreshold  = 0.8
	halveThreshold = 0.6

	termSlopeScale = 10.0
)

// TransitionInputs 各检测器归一化置信度（0-1），未触发为 0
type TransitionInputs struct {
	Flip  float64 `json:"flip"`
	Shift float64 `json:"shift"`
	Macro float64 `json:"macro"`
	IV    float64 `json:"iv"`
	Term  float64 `json:"term"`
}

// Set 记录某信号类型的归一化置信度（同类取最大）
func (in *TransitionInputs) Set(t model.SignalType, v float64) {
	v = clamp(v, 0, 1)
	switch t {
	case model.SignalRegimeFlip:
		in.Flip = math.Max(in.Flip, v)
	case model.SignalRegimeShift:
		in.Shift = math.Max(in.Shift, v)
	case model.SignalMacroEvent:
		in.Macro = math.Max(in.Macro, v)
	case model.SignalIVReversion:
		in.IV = math.Max(in.IV, v)
	}
}

// Transition 体制转换概率及其对应动作
type Transition struct {
	Probability float64                `json:"probability"`
	Action      model.TransitionAction `json:"action"`
	Inputs      TransitionInputs       `json:"inputs"`
}

// TransitionComposite 固定权重加权求和
// > 0.8 暂停开仓，> 0.6 仓位减半，否则正常
func TransitionComposite(in TransitionInputs) Transition {
	p := WeightFlip*clamp(in.Flip, 0, 1) +
		WeightShift*clamp(in.Shift, 0, 1) +
		WeightMacro*clamp(in.Macro, 0, 1) +
		WeightIV*clamp(in.IV, 0, 1) +
		WeightTerm*clamp(in.Term, 0, 1)
	p = clamp(p, 0, 1)
	return Transition{Probability: p, Action: ActionFor(p), Inputs: in}
}

// ActionFor 概率到动作的映射
func ActionFor(p float64) model.TransitionAction {
	switch {
	case p > haltThreshold:
		return model.ActionHaltNewEntries
	case p > halveThreshold:
		return model.ActionHalvePositionSizes
	default:
		return model.ActionNormal
	}
}

// termComponent 期限结构倒挂程度；正常结构为 0
func termComponent(t model.TermStructure) float64 {
	if !t.IsBackwardation() {
		return 0
	}
	return clamp(0.5+math.Abs(t.Slope)*termSlopeScale, 0, 1)
}
