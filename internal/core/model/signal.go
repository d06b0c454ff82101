package model

import (
	"time"
)

// SignalType 信号类型
type SignalType string

const (
	// SignalRegimeFlip GEX 体制翻转
	SignalRegimeFlip SignalType = "regime_flip"
	// SignalRegimeShift 组合体制迁移
	SignalRegimeShift SignalType = "regime_shift"
	// SignalMacroEvent 宏观事件临近
	SignalMacroEvent SignalType = "macro_event"
	// SignalIVReversion IV 均值回归
	SignalIVReversion SignalType = "iv_reversion"
)

// 信号标签
const (
	// TagSellPremium 卖出权利金
	TagSellPremium = "sell_premium"
	// TagBuyPremium 买入权利金
	TagBuyPremium = "buy_premium"
	// TagLongVol 做多波动率
	TagLongVol = "long_vol"
)

// TransitionAction 体制转换综合概率对应的动作
type TransitionAction string

const (
	// ActionNormal 正常
	ActionNormal TransitionAction = "normal"
	// ActionHalvePositionSizes 仓位减半
	ActionHalvePositionSizes TransitionAction = "halve_position_sizes"
	// ActionHaltNewEntries 暂停新开仓
	ActionHaltNewEntries TransitionAction = "halt_new_entries"
)

// StrategyRecommendation 策略推荐
type StrategyRecommendation struct {
	// Kind 策略种类
	Kind StrategyKind `json:"kind"`
	// Direction 方向
	Direction Direction `json:"direction"`
	// TargetDelta 目标 delta（绝对值）
	TargetDelta float64 `json:"target_delta"`
	// DTEMin / DTEMax 建议到期区间
	DTEMin int `json:"dte_min"`
	DTEMax int `json:"dte_max"`
	// Score 排序分数
	Score float64 `json:"score"`
	// Rationale 推荐理由
	Rationale string `json:"rationale,omitempty"`
}

// Signal 交易信号（临时对象，转化为 Trade 或写入分析日志前不持久化）
type Signal struct {
	// ID 信号唯一标识
	ID string `json:"id"`
	// Ticker 标的代码
	Ticker string `json:"ticker"`
	// Type 信号类型
	Type SignalType `json:"signal_type"`
	// Direction 方向
	Direction Direction `json:"direction"`
	// OptionType 期权类型
	OptionType OptionType `json:"option_type"`
	// TargetStrike 目标行权价
	TargetStrike float64 `json:"target_strike"`
	// TargetExpiration 目标到期日
	TargetExpiration time.Time `json:"target_expiration"`
	// TargetDelta 目标 delta（绝对值）
	TargetDelta float64 `json:"target_delta"`
	// RawConfidence 原始置信度（0-100）
	RawConfidence float64 `json:"raw_confidence"`
	// Confidence 经历史胜率调整后的置信度（10-99）
	Confidence float64 `json:"confidence"`
	// Tags 标签（sell_premium / buy_premium / long_vol）
	Tags []string `json:"tags,omitempty"`
	// UnderlyingPrice 标的价格
	UnderlyingPrice float64 `json:"underlying_price"`
	// OptionPrice 目标合约估算价格
	OptionPrice float64 `json:"option_price"`
	// Regime 生成信号时的体制快照
	Regime RegimeSnapshot `json:"regime"`
	// Chain 生成信号时的期权链（不写入日志）
	Chain *ChainSnapshot `json:"-"`
	// Recommendation 附加的策略推荐（可选）
	Recommendation *StrategyRecommendation `json:"recommendation,omitempty"`
	// Factors 体制因子评分（看涨方向，入场时按交易方向定向）
	Factors FactorScores `json:"factors,omitempty"`
	// CompositeScore 自适应权重下的因子综合评分
	CompositeScore float64 `json:"composite_score"`
	// EdgeScore 优势评分（0-100）
	EdgeScore float64 `json:"edge_score"`
	// EdgeBias 优势评分隐含的方向偏向
	EdgeBias Direction `json:"edge_bias"`
	// TransitionProbability 体制转换综合概率
	TransitionProbability float64 `json:"transition_probability"`
	// TransitionAction 对应动作
	TransitionAction TransitionAction `json:"transition_action"`
	// DetectedAt 检测时间
	DetectedAt time.Time `json:"detected_at"`
	// FilterReason 过滤原因（若被过滤）
	FilterReason string `json:"filter_reason,omitempty"`
}

// HasTag 是否含有指定标签
func (s *Signal) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// IsLong 是否为看涨信号
func (s *Signal) IsLong() bool {
	return s.Direction == DirectionBullish
}

// DTE 目标到期剩余天数
func (s *Signal) DTE(now time.Time) int {
	return DaysBetween(now, s.TargetExpiration)
}

// DaysBetween 以日历日计算两个时间之间的天数（不足一天按 0 计）
func DaysBetween(from, to time.Time) int {
	if to.IsZero() {
		return 0
	}
	fy, fm, fd := from.Date()
	ty, tm, td := to.Date()
	a := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	b := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}
