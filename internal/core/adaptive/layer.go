package adaptive

import (
	"go.uber.org/zap"

	"adaptive-options-engine/internal/config"
	"adaptive-options-engine/internal/core/model"
)

// Layer 自适应学习层的组合入口
type Layer struct {
	Tracker  *Tracker
	Weights  *Weights
	Exits    *ExitEngine
	Kelly    *Kelly
	Toxicity *Toxicity
	Edge     *EdgeEngine
	Selector *Selector

	logger *zap.Logger
}

// NewLayer 按配置创建全部学习组件
func NewLayer(cfg *config.Config, logger *zap.Logger) *Layer {
	return &Layer{
		Tracker:  NewTracker(cfg.Learning),
		Weights:  NewWeights(cfg.Learning),
		Exits:    NewExitEngine(cfg.Exits, cfg.Learning),
		Kelly:    NewKelly(cfg.Learning),
		Toxicity: NewToxicity(),
		Edge:     NewEdgeEngine(),
		Selector: NewSelector(cfg.Strategy),
		logger:   logger.Named("adaptive"),
	}
}

// Observe 平仓反馈：同时更新胜率、因子权重与退出参数
func (l *Layer) Observe(t *model.Trade) {
	if t == nil || !t.IsClosed() {
		return
	}
	l.Tracker.Add(t)
	updated := l.Weights.Update(t)
	l.Exits.Observe(t)
	l.logger.Debug("学习反馈",
		zap.String("trade_id", t.ID),
		zap.String("signal_type", string(t.SignalType)),
		zap.String("kind", string(t.Kind)),
		zap.Float64("pnl", t.RealizedPnL()),
		zap.Bool("weights_updated", updated))
}

// Rebuild 用完整交易历史重建全部学习状态
func (l *Layer) Rebuild(trades []*model.Trade) {
	l.Tracker.Rebuild(trades)
	n := l.Weights.Replay(trades)
	l.Exits.Rebuild(trades)
	l.logger.Info("学习状态已重建", zap.Int("trades", len(trades)), zap.Int("weight_updates", n))
}

// Assess 对当前体制与期权链计算毒性、边缘分与策略候选
func (l *Layer) Assess(regime model.RegimeSnapshot, chain *model.ChainSnapshot, flowDir model.Direction, openKinds map[model.StrategyKind]int) (ToxicityReading, EdgeResult, []model.StrategyRecommendation) {
	tox := l.Toxicity.Score(chain)
	edge := l.Edge.Score(EdgeInput{Regime: regime, Toxicity: tox.Score, FlowDirection: flowDir})
	recs := l.Selector.Select(SelectInput{
		IVRank:    regime.IVRank,
		Edge:      edge,
		Regime:    regime,
		Toxicity:  tox.Score,
		OpenKinds: openKinds,
	})
	return tox, edge, recs
}
