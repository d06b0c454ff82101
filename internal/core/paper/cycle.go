package paper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"adaptive-options-engine/internal/core/journal"
	"adaptive-options-engine/internal/core/model"
	"adaptive-options-engine/internal/stats/latency"
	"adaptive-options-engine/internal/storage"
	"adaptive-options-engine/internal/util/timeutil"
)

// CycleReport 单轮轮询结果
type CycleReport struct {
	At          time.Time              `json:"at"`
	Surfaced    int                    `json:"surfaced"`
	Filtered    int                    `json:"filtered"`
	Transitions map[string]float64     `json:"transitions,omitempty"`
	Executions  []ExecResult           `json:"executions,omitempty"`
	Closes      []CloseResult          `json:"closes,omitempty"`
	Account     Summary                `json:"account"`
	Latency     []latency.LatencyStats `json:"latency,omitempty"`
	DurationMs  int64                  `json:"duration_ms"`
}

// RunCycle 执行一轮：信号评估 → （自动交易时）执行 → 退出扫描 → 权益记录 → 学习状态持久化
// 单个标的或单笔交易的失败只记录在报告中，不中断本轮
func (o *Orchestrator) RunCycle(ctx context.Context) CycleReport {
	start := o.now()
	rep := CycleReport{At: start, Transitions: make(map[string]float64)}

	var snaps map[string]model.MarketSnapshot
	if o.deps.Signals != nil {
		eval := o.deps.Signals.Evaluate(ctx, o.cfg.Engine.WatchedTickers)
		snaps = eval.Snapshots
		rep.Surfaced = len(eval.Surfaced)
		rep.Filtered = len(eval.Filtered)
		for ticker, tr := range eval.Transitions {
			rep.Transitions[ticker] = tr.Probability
		}

		for _, sig := range eval.Filtered {
			o.deps.Metrics.Signal(string(sig.Type), "filtered")
			o.logSignal(ctx, journal.SignalRecord{Signal: sig})
		}
		for _, sig := range eval.Surfaced {
			o.deps.Streams.Signal(sig)
			rec := journal.SignalRecord{Signal: sig}
			if o.cfg.Engine.AutoTradeEnabled {
				res := o.ExecuteSignal(ctx, sig)
				rep.Executions = append(rep.Executions, res)
				rec.Executed = res.OK
				rec.TradeID = res.TradeID
				rec.Error = res.Error
				if res.OK {
					o.deps.Metrics.Signal(string(sig.Type), "executed")
				} else {
					o.deps.Metrics.Signal(string(sig.Type), "rejected")
				}
			} else {
				o.deps.Metrics.Signal(string(sig.Type), "surfaced")
			}
			o.logSignal(ctx, rec)
		}
	}

	rep.Closes = o.ScanExits(ctx, snaps)

	rep.Account = o.AccountSummary(ctx)
	if err := o.deps.Journal.UpsertEquity(ctx, model.EquityCurvePoint{
		Date:           rep.Account.Date,
		Equity:         rep.Account.Equity,
		Cash:           rep.Account.Cash,
		PositionsValue: rep.Account.PositionsValue,
	}); err != nil {
		o.logger.Warn("权益曲线写入失败", zap.Error(err))
	}

	o.persistWeights(ctx)

	if o.deps.Latency != nil {
		rep.Latency = o.deps.Latency.All()
	}
	d := o.now().Sub(start)
	rep.DurationMs = d.Milliseconds()
	o.deps.Metrics.Cycle(d)
	o.deps.Streams.Metrics(rep)

	closed := 0
	for _, c := range rep.Closes {
		if c.OK {
			closed++
		}
	}
	o.logger.Info("轮询完成",
		zap.Int("surfaced", rep.Surfaced),
		zap.Int("executed", len(rep.Executions)),
		zap.Int("closed", closed),
		zap.Int("not_closed", len(rep.Closes)-closed),
		zap.Float64("equity", rep.Account.Equity),
		zap.Int64("duration_ms", rep.DurationMs))
	return rep
}

func (o *Orchestrator) logSignal(ctx context.Context, rec journal.SignalRecord) {
	if err := o.deps.Journal.LogSignal(ctx, rec); err != nil {
		o.logger.Warn("信号日志写入失败", zap.String("signal_id", rec.ID), zap.Error(err))
	}
}

// persistWeights 保存 Thompson 采样的后验状态
func (o *Orchestrator) persistWeights(ctx context.Context) {
	if o.deps.Store == nil {
		return
	}
	if err := o.deps.Store.Save(ctx, storage.KeyWeights, o.deps.Layer.Weights.State()); err != nil {
		o.logger.Warn("学习权重持久化失败", zap.Error(err))
	}
}

// Run 立即执行一轮，之后按轮询间隔循环，直到 ctx 取消
func (o *Orchestrator) Run(ctx context.Context) error {
	interval := timeutil.Ms(o.cfg.Engine.PollIntervalMs)
	o.logger.Info("模拟盘编排器启动",
		zap.Strings("tickers", o.cfg.Engine.WatchedTickers),
		zap.Duration("interval", interval),
		zap.Bool("auto_trade", o.cfg.Engine.AutoTradeEnabled))

	o.RunCycle(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			o.persistWeights(context.WithoutCancel(ctx))
			if err := o.deps.Streams.Flush(); err != nil {
				o.logger.Warn("输出刷新失败", zap.Error(err))
			}
			o.logger.Info("模拟盘编排器停止")
			return ctx.Err()
		case <-ticker.C:
			o.RunCycle(ctx)
		}
	}
}
