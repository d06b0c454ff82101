package model

// StrategyKind 策略种类（封闭枚举，避免按名称子串匹配派发）
type StrategyKind string

const (
	// KindSingle 单腿
	KindSingle StrategyKind = "single"
	// KindCreditSpread 信用价差
	KindCreditSpread StrategyKind = "credit_spread"
	// KindDebitSpread 借方价差
	KindDebitSpread StrategyKind = "debit_spread"
	// KindIronCondor 铁鹰
	KindIronCondor StrategyKind = "iron_condor"
	// KindIronButterfly 铁蝶
	KindIronButterfly StrategyKind = "iron_butterfly"
	// KindStraddle 跨式
	KindStraddle StrategyKind = "straddle"
	// KindRatioSpread 比率价差
	KindRatioSpread StrategyKind = "ratio_spread"
	// KindWait 无优势时的哨兵值：等待 / 降低仓位
	KindWait StrategyKind = "wait"
)

// IsMultiLeg 是否为多腿结构
func (k StrategyKind) IsMultiLeg() bool {
	switch k {
	case KindCreditSpread, KindDebitSpread, KindIronCondor, KindIronButterfly, KindStraddle, KindRatioSpread:
		return true
	default:
		return false
	}
}

// IsShortPremium 是否为卖出权利金结构
func (k StrategyKind) IsShortPremium() bool {
	switch k {
	case KindCreditSpread, KindIronCondor, KindIronButterfly, KindRatioSpread:
		return true
	default:
		return false
	}
}

// Label 人类可读名称
func (k StrategyKind) Label() string {
	switch k {
	case KindSingle:
		return "Single Leg"
	case KindCreditSpread:
		return "Credit Spread"
	case KindDebitSpread:
		return "Debit Spread"
	case KindIronCondor:
		return "Iron Condor"
	case KindIronButterfly:
		return "Iron Butterfly"
	case KindStraddle:
		return "Straddle"
	case KindRatioSpread:
		return "Ratio Spread"
	case KindWait:
		return "Wait / Reduce Size"
	default:
		return string(k)
	}
}

// Valid 是否为已知种类
func (k StrategyKind) Valid() bool {
	switch k {
	case KindSingle, KindCreditSpread, KindDebitSpread, KindIronCondor, KindIronButterfly, KindStraddle, KindRatioSpread, KindWait:
		return true
	default:
		return false
	}
}

// Greeks 聚合希腊值
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
	// Vega30d 按 DTE 归一化的 vega：vega·√(30/DTE)
	Vega30d float64 `json:"vega_30d"`
}
