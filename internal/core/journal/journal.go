// Package journal 交易日志：交易、信号与权益曲线三条只追加流。
// RecordTrade 与 CloseTrade 是 Trade 的唯一修改入口。
package journal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"adaptive-options-engine/internal/core/model"
	"adaptive-options-engine/internal/storage"
	"adaptive-options-engine/internal/util/timeutil"
)

// ErrNotFound 交易不存在
var ErrNotFound = errors.New("交易不存在")

const defaultSignalsCap = 500

// 平仓备注
const (
	NoteRelabeled = "exit_reason_relabeled"
)

// SignalRecord 信号日志记录
type SignalRecord struct {
	*model.Signal
	Executed bool   `json:"executed"`
	TradeID  string `json:"trade_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Journal 交易日志；内存为权威副本，每次修改后整体写回存储
type Journal struct {
	mu      sync.RWMutex
	store   storage.Store
	logger  *zap.Logger
	cap     int
	trades  []*model.Trade
	byID    map[string]*model.Trade
	signals []SignalRecord
	equity  []model.EquityCurvePoint
}

// New 创建交易日志
// 参数 store: 持久化后端
// 参数 signalsCap: 信号环形缓冲容量
func New(store storage.Store, signalsCap int, logger *zap.Logger) *Journal {
	if signalsCap <= 0 {
		signalsCap = defaultSignalsCap
	}
	return &Journal{
		store:  store,
		logger: logger.Named("journal"),
		cap:    signalsCap,
		byID:   make(map[string]*model.Trade),
	}
}

// Load 从存储恢复三条流
func (j *Journal) Load(ctx context.Context) error {
	var trades []*model.Trade
	var signals []SignalRecord
	var equity []model.EquityCurvePoint
	if _, err := j.store.Load(ctx, storage.KeyJournal, &trades); err != nil {
		return fmt.Errorf("加载交易日志失败: %w", err)
	}
	if _, err := j.store.Load(ctx, storage.KeySignals, &signals); err != nil {
		return fmt.Errorf("加载信号日志失败: %w", err)
	}
	if _, err := j.store.Load(ctx, storage.KeyEquity, &equity); err != nil {
		return fmt.Errorf("加载权益曲线失败: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.trades = trades
	j.byID = make(map[string]*model.Trade, len(trades))
	for _, t := range trades {
		j.byID[t.ID] = t
	}
	if len(signals) > j.cap {
		signals = signals[len(signals)-j.cap:]
	}
	j.signals = signals
	j.equity = equity
	j.logger.Info("交易日志已加载",
		zap.Int("trades", len(trades)),
		zap.Int("signals", len(signals)),
		zap.Int("equity_points", len(equity)))
	return nil
}

// nextID 生成按日期的序号 YYYYMMDD-NNN（调用方持锁）
func (j *Journal) nextID(at time.Time) string {
	prefix := at.In(timeutil.Market()).Format("20060102")
	n := 0
	for _, t := range j.trades {
		if len(t.ID) > len(prefix) && t.ID[:len(prefix)] == prefix {
			n++
		}
	}
	for {
		n++
		id := fmt.Sprintf("%s-%03d", prefix, n)
		if _, exists := j.byID[id]; !exists {
			return id
		}
	}
}

// RecordTrade 记录一笔新开仓交易
// 分配 ID、推导策略分类并置为 open；返回存入日志的副本
// 持久化失败时交易仍保留在内存中，同时返回错误
func (j *Journal) RecordTrade(ctx context.Context, t *model.Trade) (*model.Trade, error) {
	if t == nil {
		return nil, errors.New("交易为空")
	}
	rec := t.Clone()
	if rec.EntryTime.IsZero() {
		rec.EntryTime = time.Now()
	}

	j.mu.Lock()
	rec.ID = j.nextID(rec.EntryTime)
	rec.Status = model.StatusOpen
	rec.Strategy = Classify(rec)
	if rec.Kind == "" {
		rec.Kind = model.KindSingle
	}
	rec.IsMultiLeg = rec.Kind.IsMultiLeg() && len(rec.Legs) >= 2
	rec.ExitPrice, rec.ExitTime, rec.ExitReason = nil, nil, ""
	rec.PnLDollars, rec.PnLPct = nil, nil
	j.trades = append(j.trades, rec)
	j.byID[rec.ID] = rec
	out := rec.Clone()
	err := j.saveTradesLocked(ctx)
	j.mu.Unlock()

	j.logger.Info("记录交易",
		zap.String("trade_id", out.ID),
		zap.String("ticker", out.Ticker),
		zap.String("strategy", out.Strategy),
		zap.Int("quantity", out.Quantity),
		zap.Float64("entry_price", out.EntryPrice))
	return out, err
}

// CloseTrade 平仓并计算已实现盈亏
// 对已平仓的 ID 幂等：返回 nil，不修改日志
// 单腿与信用价差的止损/止盈标签按实际盈亏符号校正
func (j *Journal) CloseTrade(ctx context.Context, id string, exitPrice float64, reason model.ExitReason, at time.Time) (*model.Trade, error) {
	j.mu.Lock()
	t, ok := j.byID[id]
	if !ok {
		j.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if t.IsClosed() {
		j.mu.Unlock()
		j.logger.Debug("重复平仓已忽略", zap.String("trade_id", id))
		return nil, nil
	}

	dollars, pct := t.PnLAt(exitPrice)
	final := relabel(t, reason, dollars)
	if final != reason {
		t.Notes = append(t.Notes, fmt.Sprintf("%s:%s->%s", NoteRelabeled, reason, final))
	}
	price := exitPrice
	exitAt := at
	t.ExitPrice = &price
	t.ExitTime = &exitAt
	t.ExitReason = final
	t.PnLDollars = &dollars
	t.PnLPct = &pct
	t.Status = model.StatusClosed
	out := t.Clone()
	err := j.saveTradesLocked(ctx)
	j.mu.Unlock()

	j.logger.Info("交易平仓",
		zap.String("trade_id", id),
		zap.String("reason", string(final)),
		zap.Float64("exit_price", exitPrice),
		zap.Float64("pnl", dollars),
		zap.Float64("pnl_pct", pct))
	return out, err
}

// relabel 止损/止盈标签与实际盈亏相反时校正（仅单腿与信用价差）
func relabel(t *model.Trade, reason model.ExitReason, pnl float64) model.ExitReason {
	if t.Kind != model.KindSingle && t.Kind != model.KindCreditSpread && t.Kind != "" {
		return reason
	}
	switch {
	case reason == model.ExitStopLoss && pnl > 0:
		return model.ExitTakeProfit
	case reason == model.ExitTakeProfit && pnl < 0:
		return model.ExitStopLoss
	default:
		return reason
	}
}

// AnnotateTrade 为未平仓交易追加备注
func (j *Journal) AnnotateTrade(ctx context.Context, id, note string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	t, ok := j.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	t.Notes = append(t.Notes, note)
	return j.saveTradesLocked(ctx)
}

func (j *Journal) saveTradesLocked(ctx context.Context) error {
	if err := j.store.Save(ctx, storage.KeyJournal, j.trades); err != nil {
		j.logger.Warn("交易日志持久化失败", zap.Error(err))
		return fmt.Errorf("保存交易日志失败: %w", err)
	}
	return nil
}

// LogSignal 追加信号记录；超出容量时丢弃最旧的记录
func (j *Journal) LogSignal(ctx context.Context, rec SignalRecord) error {
	if rec.Signal == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.signals = append(j.signals, rec)
	if over := len(j.signals) - j.cap; over > 0 {
		j.signals = append([]SignalRecord(nil), j.signals[over:]...)
	}
	if err := j.store.Save(ctx, storage.KeySignals, j.signals); err != nil {
		return fmt.Errorf("保存信号日志失败: %w", err)
	}
	return nil
}

// UpsertEquity 按日期写入权益点；同一天重复写入覆盖
func (j *Journal) UpsertEquity(ctx context.Context, p model.EquityCurvePoint) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	replaced := false
	for i := range j.equity {
		if j.equity[i].Date == p.Date {
			j.equity[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		j.equity = append(j.equity, p)
		sort.SliceStable(j.equity, func(a, b int) bool { return j.equity[a].Date < j.equity[b].Date })
	}
	if err := j.store.Save(ctx, storage.KeyEquity, j.equity); err != nil {
		return fmt.Errorf("保存权益曲线失败: %w", err)
	}
	return nil
}

// Trades 全部交易副本（按记录顺序）
func (j *Journal) Trades() []*model.Trade {
	return j.filter(func(*model.Trade) bool { return true })
}

// OpenTrades 未平仓交易副本
func (j *Journal) OpenTrades() []*model.Trade {
	return j.filter((*model.Trade).IsOpen)
}

// ClosedTrades 已平仓交易副本
func (j *Journal) ClosedTrades() []*model.Trade {
	return j.filter((*model.Trade).IsClosed)
}

func (j *Journal) filter(keep func(*model.Trade) bool) []*model.Trade {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]*model.Trade, 0, len(j.trades))
	for _, t := range j.trades {
		if keep(t) {
			out = append(out, t.Clone())
		}
	}
	return out
}

// Get 按 ID 读取交易副本
func (j *Journal) Get(id string) (*model.Trade, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	t, ok := j.byID[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// Signals 信号日志（最旧在前）
func (j *Journal) Signals() []SignalRecord {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return append([]SignalRecord(nil), j.signals...)
}

// EquityCurve 权益曲线（按日期升序）
func (j *Journal) EquityCurve() []model.EquityCurvePoint {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return append([]model.EquityCurvePoint(nil), j.equity...)
}

// RealizedPnL 已实现盈亏合计
func (j *Journal) RealizedPnL() float64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	var sum float64
	for _, t := range j.trades {
		sum += t.RealizedPnL()
	}
	return sum
}
