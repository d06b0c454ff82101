package adaptive

import (
	"fmt"
	"sort"

	"adaptive-options-engine/internal/config"
	"adaptive-options-engine/internal/core/model"
)

// 策略选择阈值
const (
	MinEdge              = 40.0
	ivrRich              = 70.0
	ivrElevated          = 50.0
	ivrCheap             = 30.0
	diversifyPenalty     = 0.7
	toxicShortPenalty    = 0.75
	toxicityHigh         = 0.6
	secondaryScoreOffset = 10.0
)

// SelectInput 策略选择输入
type SelectInput struct {
	IVRank    float64
	Edge      EdgeResult
	Regime    model.RegimeSnapshot
	Toxicity  float64
	OpenKinds map[model.StrategyKind]int
}

// Selector 将体制状态映射为排序后的策略候选
type Selector struct {
	cfg config.StrategyConfig
}

// NewSelector 创建策略选择器
func NewSelector(cfg config.StrategyConfig) *Selector {
	return &Selector{cfg: cfg}
}

// Wait 无优势时返回的观望哨兵
func Wait(edge float64) model.StrategyRecommendation {
	return model.StrategyRecommendation{
		Kind:      model.KindWait,
		Direction: model.DirectionNeutral,
		Score:     edge,
		Rationale: fmt.Sprintf("边缘分 %.1f 低于 %.0f，观望或降低仓位", edge, MinEdge),
	}
}

// Select 返回按评分降序的策略候选；无优势时仅返回 Wait 哨兵
func (s *Selector) Select(in SelectInput) []model.StrategyRecommendation {
	if in.Edge.Score < MinEdge {
		return []model.StrategyRecommendation{Wait(in.Edge.Score)}
	}
	lo, hi := s.cfg.DTERange()
	bias := in.Edge.Bias
	directional := bias == model.DirectionBullish || bias == model.DirectionBearish
	base := in.Edge.Score

	var out []model.StrategyRecommendation
	add := func(kind model.StrategyKind, dir model.Direction, delta, score float64, why string) {
		out = append(out, model.StrategyRecommendation{
			Kind:        kind,
			Direction:   dir,
			TargetDelta: delta,
			DTEMin:      lo,
			DTEMax:      hi,
			Score:       score,
			Rationale:   why,
		})
	}

	ivr := in.IVRank
	switch {
	case ivr > ivrRich:
		rich := base + (ivr-ivrRich)/2
		if directional {
			add(model.KindCreditSpread, bias, s.cfg.CreditDelta, rich, "IV 极高，顺势卖出价差")
			add(model.KindIronCondor, model.DirectionNeutral, s.cfg.CreditDelta, rich-secondaryScoreOffset, "IV 极高，双侧卖出")
		} else {
			add(model.KindIronCondor, model.DirectionNeutral, s.cfg.CreditDelta, rich, "IV 极高且无方向，铁鹰")
			add(model.KindCreditSpread, model.DirectionBearish, s.cfg.CreditDelta, rich-secondaryScoreOffset, "IV 极高，卖出看涨价差")
		}
	case ivr >= ivrElevated:
		pinned := in.Regime.GEX.Label == model.GEXPinned
		if !directional || pinned {
			add(model.KindIronButterfly, model.DirectionNeutral, s.cfg.SingleDelta, base+5, "IV 偏高且价格钉住，铁蝶")
		}
		if directional {
			add(model.KindCreditSpread, bias, s.cfg.CreditDelta, base, "IV 偏高，顺势卖出价差")
		}
	case ivr < ivrCheap:
		volatile := in.Regime.GEX.Label == model.GEXVolatile
		if directional {
			add(model.KindDebitSpread, bias, s.cfg.DebitDelta, base+(ivrCheap-ivr)/2, "IV 便宜，顺势买入价差")
		}
		if !directional || volatile {
			add(model.KindStraddle, model.DirectionNeutral, s.cfg.SingleDelta, base+(ivrCheap-ivr)/3, "IV 便宜且无方向，买入跨式")
		}
	default:
		if directional {
			add(model.KindRatioSpread, bias, s.cfg.DebitDelta, base, "IV 中性，比率价差")
			add(model.KindDebitSpread, bias, s.cfg.DebitDelta, base-secondaryScoreOffset/2, "IV 中性，买入价差")
		} else {
			add(model.KindIronCondor, model.DirectionNeutral, s.cfg.CreditDelta, base-secondaryScoreOffset, "IV 中性且无方向，小仓位铁鹰")
		}
	}

	for i := range out {
		if in.OpenKinds[out[i].Kind] > 0 {
			out[i].Score *= diversifyPenalty
		}
		if in.Toxicity > toxicityHigh && out[i].Kind.IsShortPremium() {
			out[i].Score *= toxicShortPenalty
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) == 0 {
		return []model.StrategyRecommendation{Wait(in.Edge.Score)}
	}
	return out
}

// Best 首选候选；Wait 表示不开仓
func Best(recs []model.StrategyRecommendation) model.StrategyRecommendation {
	if len(recs) == 0 {
		return Wait(0)
	}
	return recs[0]
}
