// Package perf 对交易日志做只读聚合分析。
// 胜率、盈亏因子、年化夏普、最大/当前回撤、期望值，以及按策略和信号类型的归因表。
package perf

import (
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"

	"adaptive-options-engine/internal/core/model"
)

// TradingDaysPerYear 年化夏普使用的交易日数
const TradingDaysPerYear = 252

// profitFactorCap 无亏损交易时的盈亏因子上限（JSON 不支持 Inf）
const profitFactorCap = 999

// Attribution 归因表中的一行
type Attribution struct {
	Name      string  `json:"name"`
	Trades    int     `json:"trades"`
	Wins      int     `json:"wins"`
	WinRate   float64 `json:"win_rate"`
	TotalPnL  float64 `json:"total_pnl"`
	AvgPnLPct float64 `json:"avg_pnl_pct"`
}

// Report 绩效报告
type Report struct {
	TotalTrades  int `json:"total_trades"`
	OpenTrades   int `json:"open_trades"`
	ClosedTrades int `json:"closed_trades"`
	Wins         int `json:"wins"`
	Losses       int `json:"losses"`

	// WinRate 胜率（百分比）
	WinRate float64 `json:"win_rate"`
	// TotalPnL 已实现盈亏合计（美元）
	TotalPnL float64 `json:"total_pnl"`
	// AvgWin / AvgLoss 平均盈利/亏损（美元，AvgLoss 为正数）
	AvgWin  float64 `json:"avg_win"`
	AvgLoss float64 `json:"avg_loss"`
	// ProfitFactor 总盈利 / 总亏损
	ProfitFactor float64 `json:"profit_factor"`
	// Expectancy 每笔期望盈亏（美元）
	Expectancy float64 `json:"expectancy"`

	// Sharpe 基于每日权益收益率的年化夏普
	Sharpe float64 `json:"sharpe"`
	// MaxDrawdownPct / CurrentDrawdownPct 回撤（百分比，正数）
	MaxDrawdownPct     float64 `json:"max_drawdown_pct"`
	CurrentDrawdownPct float64 `json:"current_drawdown_pct"`

	ByStrategy   []Attribution `json:"by_strategy"`
	BySignalType []Attribution `json:"by_signal_type"`
}

// NormalizeStrategy 去掉策略名中的行权价/到期后缀
// 例如 "Credit Spread (PUT 295/290)" -> "Credit Spread"
func NormalizeStrategy(name string) string {
	if i := strings.Index(name, "("); i >= 0 {
		name = name[:i]
	}
	return strings.TrimSpace(name)
}

type bucket struct {
	trades int
	wins   int
	pnl    float64
	pctSum float64
}

// Compute 计算绩效报告
// 参数 trades: 全部交易（含未平仓）
// 参数 curve: 按日期升序的权益曲线
func Compute(trades []*model.Trade, curve []model.EquityCurvePoint) Report {
	var r Report
	r.TotalTrades = len(trades)

	var grossWin, grossLoss float64
	byStrategy := map[string]*bucket{}
	bySignal := map[string]*bucket{}

	for _, t := range trades {
		if t == nil {
			continue
		}
		if t.IsOpen() {
			r.OpenTrades++
			continue
		}
		if !t.IsClosed() || t.PnLDollars == nil {
			continue
		}
		r.ClosedTrades++
		pnl := *t.PnLDollars
		r.TotalPnL += pnl
		if pnl > 0 {
			r.Wins++
			grossWin += pnl
		} else {
			r.Losses++
			grossLoss += -pnl
		}

		pct := 0.0
		if t.PnLPct != nil {
			pct = *t.PnLPct
		}
		name := NormalizeStrategy(t.Strategy)
		if name == "" {
			name = NormalizeStrategy(t.StrategyName)
		}
		addBucket(byStrategy, name, pnl, pct)
		addBucket(bySignal, string(t.SignalType), pnl, pct)
	}

	if r.ClosedTrades > 0 {
		r.WinRate = float64(r.Wins) / float64(r.ClosedTrades) * 100
	}
	if r.Wins > 0 {
		r.AvgWin = grossWin / float64(r.Wins)
	}
	if r.Losses > 0 {
		r.AvgLoss = grossLoss / float64(r.Losses)
	}
	switch {
	case grossLoss > 0:
		r.ProfitFactor = grossWin / grossLoss
	case grossWin > 0:
		r.ProfitFactor = profitFactorCap
	}
	if r.ClosedTrades > 0 {
		p := float64(r.Wins) / float64(r.ClosedTrades)
		r.Expectancy = p*r.AvgWin - (1-p)*r.AvgLoss
	}

	r.Sharpe = Sharpe(curve)
	r.MaxDrawdownPct, r.CurrentDrawdownPct = Drawdown(curve)
	r.ByStrategy = flatten(byStrategy)
	r.BySignalType = flatten(bySignal)
	return r
}

func addBucket(m map[string]*bucket, name string, pnl, pct float64) {
	if name == "" {
		name = "unknown"
	}
	b, ok := m[name]
	if !ok {
		b = &bucket{}
		m[name] = b
	}
	b.trades++
	if pnl > 0 {
		b.wins++
	}
	b.pnl += pnl
	b.pctSum += pct
}

func flatten(m map[string]*bucket) []Attribution {
	out := make([]Attribution, 0, len(m))
	for name, b := range m {
		a := Attribution{Name: name, Trades: b.trades, Wins: b.wins, TotalPnL: b.pnl}
		if b.trades > 0 {
			a.WinRate = float64(b.wins) / float64(b.trades) * 100
			a.AvgPnLPct = b.pctSum / float64(b.trades)
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalPnL != out[j].TotalPnL {
			return out[i].TotalPnL > out[j].TotalPnL
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// DailyReturns 按权益曲线计算每日收益率
func DailyReturns(curve []model.EquityCurvePoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	out := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev <= 0 {
			continue
		}
		out = append(out, curve[i].Equity/prev-1)
	}
	return out
}

// Sharpe 年化夏普（无风险利率取 0）；样本不足或波动为 0 时返回 0
func Sharpe(curve []model.EquityCurvePoint) float64 {
	rets := DailyReturns(curve)
	if len(rets) < 2 {
		return 0
	}
	mean, std := stat.MeanStdDev(rets, nil)
	if std <= 0 || math.IsNaN(std) {
		return 0
	}
	return mean / std * math.Sqrt(TradingDaysPerYear)
}

// Drawdown 最大回撤与当前回撤（百分比）
func Drawdown(curve []model.EquityCurvePoint) (maxDD, currentDD float64) {
	peak := 0.0
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak <= 0 {
			continue
		}
		dd := (peak - p.Equity) / peak * 100
		if dd > maxDD {
			maxDD = dd
		}
		currentDD = dd
	}
	return maxDD, currentDD
}
