package paper

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"adaptive-options-engine/internal/broker"
	"adaptive-options-engine/internal/core/adaptive"
	"adaptive-options-engine/internal/core/model"
	"adaptive-options-engine/internal/core/signal"
)

// 退出阈值
const (
	// fiftyPctOfMax 信用结构获得最大收益的比例
	fiftyPctOfMax = 0.5
	// thetaWindowDTE theta 加速窗口
	thetaWindowDTE = 21
	// thetaMinPct theta 加速退出所需的最低盈利百分比
	thetaMinPct = 30.0
)

// ErrExitDeferred 退出条件命中但报价不可用，本轮不平仓
var ErrExitDeferred = errors.New("exit_deferred: 报价不可用")

// CloseResult 平仓结果
type CloseResult struct {
	OK         bool             `json:"ok"`
	Error      string           `json:"error,omitempty"`
	TradeID    string           `json:"trade_id"`
	Ticker     string           `json:"ticker,omitempty"`
	Reason     model.ExitReason `json:"reason,omitempty"`
	ExitPrice  float64          `json:"exit_price,omitempty"`
	PnLDollars float64          `json:"pnl_dollars,omitempty"`
	PnLPct     float64          `json:"pnl_pct,omitempty"`
	// Estimated 平仓价是否为估算（券商失败或数量截断）
	Estimated   bool   `json:"estimated,omitempty"`
	BrokerError string `json:"broker_error,omitempty"`
}

func closeFailed(id string, err error) CloseResult {
	return CloseResult{TradeID: id, Error: err.Error()}
}

// exitInput 单笔持仓的退出判定输入
type exitInput struct {
	trade  *model.Trade
	mark   float64
	priced bool
	now    time.Time
	// edge 延迟计算的当前优势评分；无法获取时返回 nil
	edge func() *adaptive.EdgeResult
}

// evaluateExit 按固定顺序判定退出原因，返回第一个命中项
// 顺序：最短持仓 → 止损 → 止盈 → 时间 → 50% 最大收益 → theta 加速 → 优势恶化 → 体制反转
// 报价不可用时跳过全部依赖价格的判定，只保留体制反转
func (o *Orchestrator) evaluateExit(in exitInput) (model.ExitReason, bool) {
	t := in.trade
	if hold := time.Duration(o.cfg.Exits.MinHoldMinutes) * time.Minute; hold > 0 && in.now.Sub(t.EntryTime) < hold {
		return "", false
	}
	if !in.priced {
		if in.edge == nil {
			return "", false
		}
		return o.regimeReversal(t, in.edge())
	}

	pnl, pct := t.PnLAt(in.mark)
	dte := t.DTE(in.now)

	if t.StopLossPct < 0 && pct <= t.StopLossPct {
		return model.ExitStopLoss, true
	}
	if t.TakeProfitPct > 0 && pct >= t.TakeProfitPct {
		return model.ExitTakeProfit, true
	}
	if dte <= t.TimeExitDTE {
		return model.ExitTime, true
	}
	if t.IsCredit() {
		maxProfit := t.MaxProfit
		if maxProfit <= 0 {
			maxProfit = t.EntryPrice * model.ContractMultiplier
		}
		if pnl >= fiftyPctOfMax*maxProfit*float64(t.Quantity) {
			return model.ExitFiftyPctMaxProfit, true
		}
	}
	if t.Kind.IsShortPremium() && dte <= thetaWindowDTE && pct >= thetaMinPct {
		return model.ExitThetaAcceleration, true
	}

	if in.edge == nil {
		return "", false
	}
	edge := in.edge()
	if edge == nil {
		return "", false
	}
	if pnl > 0 && t.EntryEdge-edge.Score > o.cfg.Exits.EdgeDrop {
		return model.ExitEdgeDeterioration, true
	}
	return o.regimeReversal(t, edge)
}

// regimeReversal 多头持仓遇到看空且低分的优势评分
func (o *Orchestrator) regimeReversal(t *model.Trade, edge *adaptive.EdgeResult) (model.ExitReason, bool) {
	if edge == nil {
		return "", false
	}
	if t.Direction == model.DirectionBullish && edge.Bias == model.DirectionBearish && edge.Score < o.cfg.Exits.RegimeReversalEdge {
		return model.ExitRegimeReversal, true
	}
	return "", false
}

// ScanExits 扫描全部持仓并平掉命中退出条件的交易
// 参数 snaps: 本周期已获取的市场快照（可为 nil，缺失的标的按需获取）
func (o *Orchestrator) ScanExits(ctx context.Context, snaps map[string]model.MarketSnapshot) []CloseResult {
	open := o.deps.Journal.OpenTrades()
	if len(open) == 0 {
		return nil
	}
	var symbols []string
	for _, t := range open {
		symbols = append(symbols, t.Symbols()...)
	}
	marks := o.marks(ctx, symbols)
	now := o.now()

	edges := make(map[string]*adaptive.EdgeResult)
	openKinds := o.OpenKinds()
	edgeFor := func(ticker string) func() *adaptive.EdgeResult {
		return func() *adaptive.EdgeResult {
			if e, ok := edges[ticker]; ok {
				return e
			}
			snap, ok := snaps[ticker]
			if !ok && o.deps.Market != nil {
				snap = o.deps.Market.Snapshot(ctx, ticker)
			}
			var res *adaptive.EdgeResult
			if snap.Underlying() > 0 {
				flow := signal.DealerFlow(snap, o.cfg.Engine.RiskFreeRate)
				_, edge, _ := o.deps.Layer.Assess(snap.Regime, snap.Chain, flow.Direction, openKinds)
				res = &edge
			}
			edges[ticker] = res
			return res
		}
	}

	var out []CloseResult
	for _, t := range open {
		mark, priced := structureMark(t, marks)
		if !priced {
			o.logger.Debug("报价不可用，跳过价格类退出判定", zap.String("trade_id", t.ID))
		}
		reason, hit := o.evaluateExit(exitInput{
			trade:  t,
			mark:   mark,
			priced: priced,
			now:    now,
			edge:   edgeFor(t.Ticker),
		})
		if !hit {
			continue
		}
		if !priced {
			// 无法定价的平仓暂缓到报价恢复，结果仍出现在本轮报告中
			o.logger.Warn("触发退出但报价不可用，暂缓平仓",
				zap.String("trade_id", t.ID),
				zap.String("reason", string(reason)))
			out = append(out, CloseResult{TradeID: t.ID, Ticker: t.Ticker, Reason: reason, Error: ErrExitDeferred.Error()})
			continue
		}
		out = append(out, o.closeTrade(ctx, t, reason, marks))
	}
	if len(out) > 0 {
		o.refreshSubscriptions()
	}
	return out
}

// CloseTrade 按当前报价平仓
// 已平仓的交易返回 OK=false，不重复写入
func (o *Orchestrator) CloseTrade(ctx context.Context, id string, reason model.ExitReason) CloseResult {
	t, ok := o.deps.Journal.Get(id)
	if !ok {
		return closeFailed(id, fmt.Errorf("交易不存在: %s", id))
	}
	if t.IsClosed() {
		return closeFailed(id, fmt.Errorf("交易已平仓: %s", id))
	}
	if reason == "" {
		reason = model.ExitManual
	}
	res := o.closeTrade(ctx, t, reason, o.marks(ctx, t.Symbols()))
	o.refreshSubscriptions()
	return res
}

// closeTrade 下平仓单并记账；无论券商是否成功都写入日志并触发学习反馈
func (o *Orchestrator) closeTrade(ctx context.Context, t *model.Trade, reason model.ExitReason, marks map[string]float64) CloseResult {
	mark, priced := structureMark(t, marks)
	if !priced {
		return closeFailed(t.ID, fmt.Errorf("%s: 报价不可用", t.ID))
	}

	var order broker.Order
	var brokerErr error
	var capped []string
	if t.IsMultiLeg {
		order, capped, brokerErr = o.placeMultiLegClose(ctx, t, mark, marks)
	} else {
		order, brokerErr = o.submit(ctx, broker.OrderRequest{
			Legs: []broker.OrderLeg{{
				InstrumentType: broker.InstrumentOption,
				Symbol:         t.Symbol,
				Quantity:       t.Quantity,
				Action:         model.BuyToOpen.Reverse(),
				Price:          mark,
			}},
			Type:     broker.OrderMarket,
			TIF:      broker.TIFDay,
			Quantity: t.Quantity,
		})
	}

	res := CloseResult{TradeID: t.ID, Ticker: t.Ticker}
	exitPrice := mark
	if brokerErr != nil {
		o.deps.Metrics.BrokerError("close_order")
		o.logger.Warn("平仓下单失败，按估算价记账",
			zap.String("trade_id", t.ID),
			zap.String("reason", string(reason)),
			zap.Error(brokerErr))
		note := fmt.Sprintf("%s: close %s: %v", NoteBrokerFailure, reason, brokerErr)
		if err := o.deps.Journal.AnnotateTrade(ctx, t.ID, note); err != nil {
			o.logger.Warn("写入备注失败", zap.String("trade_id", t.ID), zap.Error(err))
		}
		res.Estimated = true
		res.BrokerError = brokerErr.Error()
	} else if len(capped) > 0 {
		// 成交价只覆盖实际送出的腿，不能代表整组结构
		note := fmt.Sprintf("%s: %s estimated at mark %.2f", NoteCloseCapped, strings.Join(capped, ","), mark)
		if err := o.deps.Journal.AnnotateTrade(ctx, t.ID, note); err != nil {
			o.logger.Warn("写入备注失败", zap.String("trade_id", t.ID), zap.Error(err))
		}
		res.Estimated = true
	} else if order.FillPrice > 0 {
		exitPrice = order.FillPrice
	}

	closed, err := o.deps.Journal.CloseTrade(ctx, t.ID, exitPrice, reason, o.now())
	if closed == nil {
		if err == nil {
			err = fmt.Errorf("交易已平仓: %s", t.ID)
		}
		return closeFailed(t.ID, err)
	}
	if err != nil {
		o.logger.Warn("平仓已记录但持久化失败", zap.String("trade_id", t.ID), zap.Error(err))
	}

	o.deps.Layer.Observe(closed)
	o.deps.Cache.Marks.Invalidate(closed.Symbols()...)
	o.deps.Metrics.TradeClosed(string(closed.ExitReason))
	o.deps.Streams.TradeClosed(closed)

	res.OK = true
	res.Reason = closed.ExitReason
	res.ExitPrice = exitPrice
	res.PnLDollars = closed.RealizedPnL()
	if closed.PnLPct != nil {
		res.PnLPct = *closed.PnLPct
	}
	return res
}

// placeMultiLegClose 多腿平仓：每腿动作取反，数量以券商实际持仓为上限，按缓冲限价下单
// 返回被截断的腿的合约代码
func (o *Orchestrator) placeMultiLegClose(ctx context.Context, t *model.Trade, mark float64, marks map[string]float64) (broker.Order, []string, error) {
	sess, err := o.deps.Cache.Session.Get(ctx)
	if err != nil {
		return broker.Order{}, nil, fmt.Errorf("%w: 获取会话: %v", model.ErrBrokerFailure, err)
	}
	positions, err := o.deps.Broker.Positions(ctx, sess)
	if err != nil {
		o.deps.Cache.Session.Invalidate()
		return broker.Order{}, nil, fmt.Errorf("%w: 查询持仓: %v", model.ErrBrokerFailure, err)
	}
	held := broker.PositionMap(positions)

	var legs []broker.OrderLeg
	var capped []string
	for _, l := range t.Legs {
		want := max(l.Quantity, 1) * t.Quantity
		// 多头腿需券商报告多头持仓，空头腿需报告空头持仓
		have := held[l.Symbol].Quantity
		if !l.Action.IsLong() {
			have = -have
		}
		qty := min(want, max(have, 0))
		if qty < want {
			capped = append(capped, l.Symbol)
			o.logger.Warn("平仓数量按券商持仓截断",
				zap.String("trade_id", t.ID),
				zap.String("symbol", l.Symbol),
				zap.Int("journal", want),
				zap.Int("broker", qty))
		}
		if qty == 0 {
			continue
		}
		legs = append(legs, broker.OrderLeg{
			InstrumentType: broker.InstrumentOption,
			Symbol:         l.Symbol,
			Quantity:       qty,
			Action:         l.Action.Reverse(),
			Price:          marks[l.Symbol],
		})
	}
	if len(legs) == 0 {
		return broker.Order{}, capped, fmt.Errorf("%w: 券商无对应持仓", model.ErrBrokerFailure)
	}

	req := broker.OrderRequest{
		Legs:       legs,
		Type:       broker.OrderLimit,
		TIF:        broker.TIFDay,
		LimitPrice: o.closeLimit(t, mark),
		Quantity:   t.Quantity,
	}
	order, err := o.submit(ctx, req)
	return order, capped, err
}

// closeLimit 多腿平仓限价
// 贷方结构需支付净借方，限价在报价之上加缓冲；借方结构收取净贷方，限价在报价之下减缓冲
func (o *Orchestrator) closeLimit(t *model.Trade, mark float64) float64 {
	buf := o.cfg.Exits.LimitBufferPct / 100
	if t.IsCredit() {
		return roundCents(math.Abs(mark) * (1 + buf))
	}
	return roundCents(math.Abs(mark) * (1 - buf))
}
