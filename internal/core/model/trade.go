package model

import (
	"time"
)

// ExitReason 退出原因
type ExitReason string

const (
	// ExitStopLoss 止损
	ExitStopLoss ExitReason = "stop_loss"
	// ExitTakeProfit 止盈
	ExitTakeProfit ExitReason = "take_profit"
	// ExitTime 剩余天数到达阈值
	ExitTime ExitReason = "time_exit"
	// ExitFiftyPctMaxProfit 信用结构获得 50% 最大收益
	ExitFiftyPctMaxProfit ExitReason = "fifty_pct_max_profit"
	// ExitThetaAcceleration 卖方结构 21 DTE 内已盈利 ≥30%
	ExitThetaAcceleration ExitReason = "theta_acceleration"
	// ExitEdgeDeterioration 优势评分恶化
	ExitEdgeDeterioration ExitReason = "edge_deterioration"
	// ExitRegimeReversal 体制反转
	ExitRegimeReversal ExitReason = "regime_reversal"
	// ExitManual 手动平仓
	ExitManual ExitReason = "manual"
)

// TradeStatus 交易状态
type TradeStatus string

const (
	// StatusOpen 持仓中
	StatusOpen TradeStatus = "open"
	// StatusClosed 已平仓
	StatusClosed TradeStatus = "closed"
)

// Leg 一个期权合约腿，归属于唯一的 Trade
type Leg struct {
	// Action 开仓动作
	Action LegAction `json:"action"`
	// OptionType 期权类型
	OptionType OptionType `json:"option_type"`
	// Strike 行权价
	Strike float64 `json:"strike"`
	// Expiration 到期日
	Expiration time.Time `json:"expiration"`
	// Quantity 数量倍数（每组结构中该腿的张数）
	Quantity int `json:"quantity"`
	// Symbol OCC 合约代码
	Symbol string `json:"symbol"`
	// Price 构建时的合约中间价
	Price float64 `json:"price"`
	// Quote 构建时的行情快照
	Quote OptionQuote `json:"quote"`
}

// Sign 方向系数：多头 +1，空头 -1
func (l Leg) Sign() float64 {
	if l.Action.IsLong() {
		return 1
	}
	return -1
}

// ExitParamSet (strategy, signal_type) 维度学习得到的退出参数
type ExitParamSet struct {
	// StopLossPct 止损百分比（负数，如 -50）
	StopLossPct float64 `json:"stop_loss_pct"`
	// TakeProfitPct 止盈百分比（正数）
	TakeProfitPct float64 `json:"take_profit_pct"`
	// TimeExitDTE 剩余天数阈值
	TimeExitDTE int `json:"time_exit_dte"`
	// Samples 学习样本数（0 表示默认值）
	Samples int `json:"samples"`
}

// EquityCurvePoint 每日权益曲线点
// 不变量：Equity = starting_capital + realized_pnl + unrealized_pnl
type EquityCurvePoint struct {
	// Date 日期（YYYY-MM-DD）
	Date string `json:"date"`
	// Equity 权益
	Equity float64 `json:"equity"`
	// Cash 现金
	Cash float64 `json:"cash"`
	// PositionsValue 持仓市值
	PositionsValue float64 `json:"positions_value"`
}

// Trade 核心持久化实体
// 不变量：
//   - 已平仓交易的四个退出字段（价格/时间/原因/盈亏）全部非空
//   - 持仓中的多腿交易至少有 2 条腿
//   - NetPremium 借方结构为负，贷方结构为正，与 MaxLoss/MaxProfit 一致
type Trade struct {
	// ID 按日期编号的序列号，如 20261014-003
	ID string `json:"id"`
	// SignalID 来源信号
	SignalID string `json:"signal_id"`
	// SignalType 来源信号类型
	SignalType SignalType `json:"signal_type"`
	// Tags 来源信号标签
	Tags []string `json:"tags,omitempty"`
	// Strategy 策略分类（记录时派生，固定分类法）
	Strategy string `json:"strategy"`
	// StrategyName 构建器给出的详细名称（含行权价）
	StrategyName string `json:"strategy_name"`
	// Kind 策略种类
	Kind StrategyKind `json:"kind"`
	// Ticker 标的代码
	Ticker string `json:"ticker"`

	// Direction / OptionType / Strike / Expiration 单腿字段
	Direction  Direction  `json:"direction"`
	OptionType OptionType `json:"option_type,omitempty"`
	Strike     float64    `json:"strike,omitempty"`
	Expiration time.Time  `json:"expiration"`
	// Symbol 单腿 OCC 代码
	Symbol string `json:"symbol,omitempty"`

	// IsMultiLeg 是否多腿
	IsMultiLeg bool `json:"is_multi_leg"`
	// Legs 多腿列表
	Legs []Leg `json:"legs,omitempty"`

	// Quantity 组数（合约张数）
	Quantity int `json:"quantity"`
	// EntryPrice 每股入场价格（多腿为 |NetPremium|）
	EntryPrice float64 `json:"entry_price"`
	// NetPremium 每股净权利金：借方为负，贷方为正
	NetPremium float64 `json:"net_premium"`
	// MaxLoss / MaxProfit 每组最大亏损/收益（美元）
	MaxLoss   float64 `json:"max_loss"`
	MaxProfit float64 `json:"max_profit"`
	// EntryTime 入场时间
	EntryTime time.Time `json:"entry_time"`
	// EntryUnderlying 入场时标的价格
	EntryUnderlying float64 `json:"entry_underlying"`
	// EntryIV 入场 IV
	EntryIV float64 `json:"entry_iv"`
	// EntryDelta 入场净 delta
	EntryDelta float64 `json:"entry_delta"`
	// EntryEdge 入场优势评分
	EntryEdge float64 `json:"entry_edge"`
	// EntryBias 入场优势方向
	EntryBias Direction `json:"entry_bias"`
	// EntryFactorScores 入场因子快照（学习用）
	EntryFactorScores FactorScores `json:"entry_factor_scores"`
	// Quality 结构质量评分
	Quality float64 `json:"quality"`

	// StopLossPct / TakeProfitPct / TimeExitDTE 入场时由 ExitEngine 解析
	StopLossPct   float64 `json:"stop_loss_pct"`
	TakeProfitPct float64 `json:"take_profit_pct"`
	TimeExitDTE   int     `json:"time_exit_dte"`

	// Status 状态
	Status TradeStatus `json:"status"`
	// BrokerOrderID 券商订单号（若有）
	BrokerOrderID string `json:"broker_order_id,omitempty"`
	// Notes 入场/出场备注（含券商失败原因）
	Notes []string `json:"notes,omitempty"`

	// 以下字段仅在平仓后非空
	ExitPrice  *float64   `json:"exit_price,omitempty"`
	ExitTime   *time.Time `json:"exit_time,omitempty"`
	ExitReason ExitReason `json:"exit_reason,omitempty"`
	PnLDollars *float64   `json:"pnl_dollars,omitempty"`
	PnLPct     *float64   `json:"pnl_pct,omitempty"`
}

// IsOpen 是否持仓中
func (t *Trade) IsOpen() bool {
	return t.Status == StatusOpen
}

// IsClosed 是否已平仓
func (t *Trade) IsClosed() bool {
	return t.Status == StatusClosed
}

// IsCredit 是否为贷方结构
func (t *Trade) IsCredit() bool {
	return t.NetPremium > 0
}

// IsWin 是否盈利（仅已平仓有效）
func (t *Trade) IsWin() bool {
	return t.PnLDollars != nil && *t.PnLDollars > 0
}

// RealizedPnL 已实现盈亏（未平仓返回 0）
func (t *Trade) RealizedPnL() float64 {
	if t.PnLDollars == nil {
		return 0
	}
	return *t.PnLDollars
}

// DTE 剩余天数
func (t *Trade) DTE(now time.Time) int {
	return DaysBetween(now, t.Expiration)
}

// PerShare 按当前价格计算每股盈亏
// 贷方：入场收取 - 平仓成本；借方：当前价值 - 入场成本
func (t *Trade) PerShare(mark float64) float64 {
	if t.IsCredit() {
		return t.EntryPrice - mark
	}
	return mark - t.EntryPrice
}

// PnLAt 按当前价格计算盈亏（美元、百分比）
func (t *Trade) PnLAt(mark float64) (dollars, pct float64) {
	per := t.PerShare(mark)
	dollars = per * float64(t.Quantity) * ContractMultiplier
	if t.EntryPrice > 0 {
		pct = per / t.EntryPrice * 100
	}
	return dollars, pct
}

// CostBasis 入场现金流（借方为支出正数，贷方为收入负数）
func (t *Trade) CostBasis() float64 {
	if t.IsCredit() {
		return -t.EntryPrice * float64(t.Quantity) * ContractMultiplier
	}
	return t.EntryPrice * float64(t.Quantity) * ContractMultiplier
}

// MarketValue 按当前价格计算的持仓市值（贷方为负债）
func (t *Trade) MarketValue(mark float64) float64 {
	if t.IsCredit() {
		return -mark * float64(t.Quantity) * ContractMultiplier
	}
	return mark * float64(t.Quantity) * ContractMultiplier
}

// HoldDuration 持仓时长
func (t *Trade) HoldDuration(now time.Time) time.Duration {
	if t.ExitTime != nil {
		return t.ExitTime.Sub(t.EntryTime)
	}
	return now.Sub(t.EntryTime)
}

// Symbols 持仓涉及的全部 OCC 代码
func (t *Trade) Symbols() []string {
	if t.IsMultiLeg {
		out := make([]string, 0, len(t.Legs))
		for _, l := range t.Legs {
			out = append(out, l.Symbol)
		}
		return out
	}
	if t.Symbol == "" {
		return nil
	}
	return []string{t.Symbol}
}

// Clone 深拷贝
func (t *Trade) Clone() *Trade {
	if t == nil {
		return nil
	}
	c := *t
	c.Legs = append([]Leg(nil), t.Legs...)
	c.Tags = append([]string(nil), t.Tags...)
	c.Notes = append([]string(nil), t.Notes...)
	c.EntryFactorScores = t.EntryFactorScores.Clone()
	if t.ExitPrice != nil {
		v := *t.ExitPrice
		c.ExitPrice = &v
	}
	if t.ExitTime != nil {
		v := *t.ExitTime
		c.ExitTime = &v
	}
	if t.PnLDollars != nil {
		v := *t.PnLDollars
		c.PnLDollars = &v
	}
	if t.PnLPct != nil {
		v := *t.PnLPct
		c.PnLPct = &v
	}
	return &c
}
