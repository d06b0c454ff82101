// Package risk 实现开仓前的风控检查与仓位计算。
// 所有检查均为纯函数：相同输入总是得到相同结果，按固定顺序返回第一个失败项。
package risk

import (
	"fmt"
	"math"
	"time"

	"adaptive-options-engine/internal/config"
	"adaptive-options-engine/internal/core/model"
	"adaptive-options-engine/internal/metadata"
	"adaptive-options-engine/internal/util/timeutil"
)

// 检查项名称
const (
	CheckEquity         = "equity"
	CheckMaxPositions   = "max_positions"
	CheckExposure       = "max_exposure"
	CheckSinglePosition = "max_position"
	CheckDailyTrades    = "max_daily_trades"
	CheckDailyLoss      = "max_daily_loss"
	CheckDuplicate      = "duplicate"
	CheckMinDTE         = "min_dte"
	CheckSector         = "sector"
)

// Input 风控检查输入
type Input struct {
	// Signal 待开仓信号
	Signal *model.Signal
	// RiskPerContract 每组最大亏损（美元）；0 表示按 OptionPrice×100 估算
	RiskPerContract float64
	// Trades 日志中的全部交易（当日统计需要已平仓交易）
	Trades []*model.Trade
	// Equity 当前权益
	Equity float64
	// Betas 标的 beta（缺失按 1.0）
	Betas map[string]float64
	// Now 当前时间
	Now time.Time
}

// Decision 风控结果
type Decision struct {
	Passed bool   `json:"passed"`
	Check  string `json:"check,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func pass() Decision { return Decision{Passed: true} }

func reject(check, format string, args ...any) Decision {
	return Decision{Check: check, Reason: fmt.Sprintf(format, args...)}
}

// Err 未通过时返回包装了 ErrRiskRejected 的错误
func (d Decision) Err() error {
	if d.Passed {
		return nil
	}
	return fmt.Errorf("%w: %s", model.ErrRiskRejected, d.Reason)
}

// Manager 风控管理器（无状态）
type Manager struct {
	cfg config.RiskConfig
}

// NewManager 创建风控管理器
// 参数 cfg: 风控阈值
func NewManager(cfg config.RiskConfig) *Manager {
	return &Manager{cfg: cfg}
}

type check func(in Input, v view) Decision

// view 从输入派生的只读统计
type view struct {
	open            []*model.Trade
	openedToday     int
	realizedToday   float64
	riskPerContract float64
}

func derive(in Input) view {
	var v view
	for _, t := range in.Trades {
		if t == nil {
			continue
		}
		if t.IsOpen() {
			v.open = append(v.open, t)
		}
		if timeutil.SameDay(t.EntryTime, in.Now) {
			v.openedToday++
		}
		if t.IsClosed() && t.ExitTime != nil && timeutil.SameDay(*t.ExitTime, in.Now) {
			v.realizedToday += t.RealizedPnL()
		}
	}
	v.riskPerContract = in.RiskPerContract
	if v.riskPerContract <= 0 && in.Signal != nil {
		v.riskPerContract = in.Signal.OptionPrice * model.ContractMultiplier
	}
	return v
}

// CheckAll 按顺序执行全部检查，返回第一个失败项
// 顺序：持仓数、总敞口、单笔仓位、当日开仓数、当日亏损、重复持仓、最少 DTE、行业集中度
func (m *Manager) CheckAll(in Input) Decision {
	if in.Signal == nil {
		return reject(CheckEquity, "no signal")
	}
	if in.Equity <= 0 || math.IsNaN(in.Equity) {
		return reject(CheckEquity, "non-positive equity %.2f", in.Equity)
	}
	v := derive(in)
	for _, c := range []check{
		m.checkPositions,
		m.checkExposure,
		m.checkSinglePosition,
		m.checkDailyTrades,
		m.checkDailyLoss,
		m.checkDuplicate,
		m.checkMinDTE,
		m.checkSector,
	} {
		if d := c(in, v); !d.Passed {
			return d
		}
	}
	return pass()
}

func (m *Manager) checkPositions(_ Input, v view) Decision {
	if len(v.open) >= m.cfg.MaxPositions {
		return reject(CheckMaxPositions, "max open positions reached (%d/%d)", len(v.open), m.cfg.MaxPositions)
	}
	return pass()
}

// tradeRisk 单笔持仓的风险资本
func tradeRisk(t *model.Trade) float64 {
	if t.MaxLoss > 0 {
		return t.MaxLoss * float64(max(t.Quantity, 1))
	}
	return math.Abs(t.CostBasis())
}

func beta(betas map[string]float64, ticker string) float64 {
	if b, ok := betas[ticker]; ok && b > 0 {
		return b
	}
	return 1
}

func (m *Manager) checkExposure(in Input, v view) Decision {
	total := v.riskPerContract * beta(in.Betas, in.Signal.Ticker)
	for _, t := range v.open {
		total += tradeRisk(t) * beta(in.Betas, t.Ticker)
	}
	pct := total / in.Equity * 100
	if pct > m.cfg.MaxExposurePct {
		return reject(CheckExposure, "beta-weighted exposure %.1f%% exceeds %.1f%%", pct, m.cfg.MaxExposurePct)
	}
	return pass()
}

func (m *Manager) checkSinglePosition(in Input, v view) Decision {
	pct := v.riskPerContract / in.Equity * 100
	if pct > m.cfg.MaxPositionPct {
		return reject(CheckSinglePosition, "single position %.1f%% exceeds %.1f%%", pct, m.cfg.MaxPositionPct)
	}
	return pass()
}

func (m *Manager) checkDailyTrades(_ Input, v view) Decision {
	if v.openedToday >= m.cfg.MaxDailyTrades {
		return reject(CheckDailyTrades, "max daily trades reached (%d/%d)", v.openedToday, m.cfg.MaxDailyTrades)
	}
	return pass()
}

func (m *Manager) checkDailyLoss(in Input, v view) Decision {
	if v.realizedToday >= 0 {
		return pass()
	}
	pct := -v.realizedToday / in.Equity * 100
	if pct >= m.cfg.MaxDailyLossPct {
		return reject(CheckDailyLoss, "daily realized loss %.2f%% reached limit %.2f%%", pct, m.cfg.MaxDailyLossPct)
	}
	return pass()
}

func (m *Manager) checkDuplicate(in Input, v view) Decision {
	for _, t := range v.open {
		if t.Ticker == in.Signal.Ticker && t.Direction == in.Signal.Direction {
			return reject(CheckDuplicate, "already open %s %s (%s)", t.Ticker, t.Direction, t.ID)
		}
	}
	return pass()
}

func (m *Manager) checkMinDTE(in Input, _ view) Decision {
	dte := in.Signal.DTE(in.Now)
	if dte < m.cfg.MinDTEToOpen {
		return reject(CheckMinDTE, "dte %d below minimum %d", dte, m.cfg.MinDTEToOpen)
	}
	return pass()
}

func (m *Manager) checkSector(in Input, v view) Decision {
	sector := metadata.Sector(in.Signal.Ticker)
	if sector == "" {
		return pass()
	}
	n := 0
	for _, t := range v.open {
		if metadata.SameSector(t.Ticker, in.Signal.Ticker) {
			n++
		}
	}
	if n >= m.cfg.MaxSameSector {
		return reject(CheckSector, "sector %s concentration %d/%d", sector, n, m.cfg.MaxSameSector)
	}
	return pass()
}

// ComputePositionSize 计算合约张数
// (equity × max_position_pct) / 每组最大亏损，向下取整，至少 1 张，至多 max_contracts
// 参数 sig: 信号
// 参数 equity: 当前权益
// 参数 maxLossPerContract: 每组最大亏损（美元）
func (m *Manager) ComputePositionSize(sig *model.Signal, equity, maxLossPerContract float64) int {
	limit := max(m.cfg.MaxContracts, 1)
	if equity <= 0 || maxLossPerContract <= 0 || math.IsNaN(maxLossPerContract) || math.IsInf(maxLossPerContract, 0) {
		return 1
	}
	budget := equity * m.cfg.MaxPositionPct / 100
	n := math.Floor(budget / maxLossPerContract)
	if math.IsNaN(n) || n < 1 {
		return 1
	}
	if n > float64(limit) {
		return limit
	}
	return int(n)
}
