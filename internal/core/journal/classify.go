package journal

import (
	"fmt"

	"adaptive-options-engine/internal/core/model"
)

var signalLabels = map[model.SignalType]string{
	model.SignalRegimeFlip:  "Regime Flip",
	model.SignalRegimeShift: "Regime Shift",
	model.SignalMacroEvent:  "Macro Event",
	model.SignalIVReversion: "IV Reversion",
}

// Classify 由信号类型、方向、标签与结构种类得出策略分类
// 例如 "IV Reversion: Credit Spread"、"Regime Flip: Long Put"
func Classify(t *model.Trade) string {
	src, ok := signalLabels[t.SignalType]
	if !ok {
		src = "Manual"
	}
	return fmt.Sprintf("%s: %s", src, structureLabel(t))
}

func structureLabel(t *model.Trade) string {
	if t.Kind.IsMultiLeg() {
		return t.Kind.Label()
	}
	if hasTag(t.Tags, model.TagLongVol) {
		return "Long Vol"
	}
	switch {
	case t.OptionType == model.OptionPut:
		return "Long Put"
	case t.OptionType == model.OptionCall:
		return "Long Call"
	case t.Direction == model.DirectionBearish:
		return "Long Put"
	default:
		return "Long Call"
	}
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
