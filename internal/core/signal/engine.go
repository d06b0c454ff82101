// Package signal 实现逐标的体制信号检测与体制转换综合概率。
package signal

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"adaptive-options-engine/internal/config"
	"adaptive-options-engine/internal/core/adaptive"
	"adaptive-options-engine/internal/core/greeks"
	"adaptive-options-engine/internal/core/model"
	"adaptive-options-engine/internal/core/strategy"
	"adaptive-options-engine/internal/provider"
	"adaptive-options-engine/internal/stats/ev"
	"adaptive-options-engine/internal/util/timeutil"
)

// 过滤原因
const (
	FilterBelowMinConfidence = "below_min_confidence"
	FilterCycleCap           = "max_signals_per_cycle"
)

// 检测器基础置信度
const (
	flipBaseConfidence  = 55.0
	flipGEXWeight       = 0.35
	shiftBaseConfidence = 70.0
	ivSlope             = 2.5
	fetchConcurrency    = 4
)

// Source 逐标的市场数据来源；数据缺失时返回带降级标记的快照
type Source interface {
	Snapshot(ctx context.Context, ticker string) model.MarketSnapshot
}

// Evaluation 一个周期的评估结果
type Evaluation struct {
	// Surfaced 通过过滤、按置信度降序且已截断的信号
	Surfaced []*model.Signal
	// Filtered 被过滤的信号（FilterReason 非空）
	Filtered []*model.Signal
	// Transitions 按标的的体制转换概率
	Transitions map[string]Transition
	// Snapshots 本周期使用的市场快照
	Snapshots map[string]model.MarketSnapshot
}

// All 全部已评估信号（用于信号日志）
func (e Evaluation) All() []*model.Signal {
	out := make([]*model.Signal, 0, len(e.Surfaced)+len(e.Filtered))
	out = append(out, e.Surfaced...)
	return append(out, e.Filtered...)
}

type tickerState struct {
	gexLabel      string
	combinedLabel string
}

// Engine 信号引擎
// 按标的维护上一周期体制标签；同一标的的检测严格串行。
type Engine struct {
	engine   config.EngineConfig
	cfg      config.SignalConfig
	strategy config.StrategyConfig
	learning config.LearningConfig

	src    Source
	layer  *adaptive.Layer
	logger *zap.Logger
	now    func() time.Time

	openKinds func() map[model.StrategyKind]int

	mu     sync.Mutex
	states map[string]*tickerState
}

// NewEngine 创建信号引擎
// 参数 cfg: 全局配置
// 参数 src: 市场数据来源
// 参数 layer: 自适应学习层（置信度调整、因子权重、策略推荐）
func NewEngine(cfg *config.Config, src Source, layer *adaptive.Layer, logger *zap.Logger) *Engine {
	return &Engine{
		engine:   cfg.Engine,
		cfg:      cfg.Signal,
		strategy: cfg.Strategy,
		learning: cfg.Learning,
		src:      src,
		layer:    layer,
		logger:   logger.Named("signal"),
		now:      time.Now,
		states:   make(map[string]*tickerState),
	}
}

// WithClock 替换时钟（测试用）
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// WithOpenKinds 注入当前持仓的策略种类统计，用于分散化推荐
func (e *Engine) WithOpenKinds(fn func() map[model.StrategyKind]int) *Engine {
	e.openKinds = fn
	return e
}

// Evaluate 并行拉取各标的快照，再逐标的串行检测
func (e *Engine) Evaluate(ctx context.Context, tickers []string) Evaluation {
	snaps := make([]model.MarketSnapshot, len(tickers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, ticker := range tickers {
		g.Go(func() error {
			snaps[i] = e.src.Snapshot(gctx, ticker)
			return nil
		})
	}
	_ = g.Wait()

	out := Evaluation{
		Transitions: make(map[string]Transition, len(tickers)),
		Snapshots:   make(map[string]model.MarketSnapshot, len(tickers)),
	}
	var candidates []*model.Signal
	for i, ticker := range tickers {
		snap := snaps[i]
		if snap.Ticker == "" {
			snap.Ticker = ticker
		}
		if len(snap.Degraded) > 0 {
			e.logger.Warn("数据降级，使用默认值",
				zap.String("ticker", ticker),
				zap.Strings("degraded", snap.Degraded))
		}
		sigs, tr := e.EvaluateSnapshot(snap)
		out.Transitions[ticker] = tr
		out.Snapshots[ticker] = snap
		candidates = append(candidates, sigs...)
	}

	for _, s := range candidates {
		switch {
		case s.FilterReason != "":
			out.Filtered = append(out.Filtered, s)
		case s.Confidence < e.engine.MinConfidence:
			s.FilterReason = FilterBelowMinConfidence
			out.Filtered = append(out.Filtered, s)
		default:
			out.Surfaced = append(out.Surfaced, s)
		}
	}
	SortByConfidence(out.Surfaced)
	if limit := e.engine.MaxSignalsPerCycle; limit > 0 && len(out.Surfaced) > limit {
		for _, s := range out.Surfaced[limit:] {
			s.FilterReason = FilterCycleCap
			out.Filtered = append(out.Filtered, s)
		}
		out.Surfaced = out.Surfaced[:limit]
	}

	e.logger.Info("信号评估完成",
		zap.Int("tickers", len(tickers)),
		zap.Int("surfaced", len(out.Surfaced)),
		zap.Int("filtered", len(out.Filtered)))
	return out
}

// EvaluateSnapshot 对单个标的运行四个检测器并计算转换概率
// 返回的信号尚未经过最小置信度与数量截断
func (e *Engine) EvaluateSnapshot(snap model.MarketSnapshot) ([]*model.Signal, Transition) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	st, ok := e.states[snap.Ticker]
	if !ok {
		st = &tickerState{}
		e.states[snap.Ticker] = st
	}

	// 降级数据项是中性默认值，不参与翻转判定，也不覆盖上一次的真实标签
	gexOK := !snap.IsDegraded(provider.ItemGEX)
	combinedOK := !snap.IsDegraded(provider.ItemCombined)

	var sigs []*model.Signal
	if gexOK {
		if s := e.detectRegimeFlip(snap, st); s != nil {
			sigs = append(sigs, s)
		}
	}
	if combinedOK {
		if s := e.detectRegimeShift(snap, st); s != nil {
			sigs = append(sigs, s)
		}
	}
	if s := e.detectMacroEvent(snap, now); s != nil {
		sigs = append(sigs, s)
	}
	if s := e.detectIVReversion(snap); s != nil {
		sigs = append(sigs, s)
	}
	if gexOK {
		st.gexLabel = snap.Regime.GEX.Label
	}
	if combinedOK {
		st.combinedLabel = snap.Regime.Combined.Label
	}

	in := TransitionInputs{Term: termComponent(snap.Regime.Term)}
	for _, s := range sigs {
		in.Set(s.Type, s.RawConfidence/100)
	}
	tr := TransitionComposite(in)

	flow := DealerFlow(snap, e.engine.RiskFreeRate)
	factors := adaptive.FactorsFromRegime(snap.Regime, flow.Score)
	var openKinds map[model.StrategyKind]int
	if e.openKinds != nil {
		openKinds = e.openKinds()
	}
	_, edge, recs := e.layer.Assess(snap.Regime, snap.Chain, flow.Direction, openKinds)

	for _, s := range sigs {
		e.finish(s, snap, now, factors, edge, recs, tr)
	}
	return sigs, tr
}

// finish 填充信号的公共字段：价格、到期、置信度调整、综合评分与策略推荐
func (e *Engine) finish(s *model.Signal, snap model.MarketSnapshot, now time.Time, factors model.FactorScores, edge adaptive.EdgeResult, recs []model.StrategyRecommendation, tr Transition) {
	s.ID = uuid.NewString()
	s.Ticker = snap.Ticker
	s.Regime = snap.Regime
	s.Chain = snap.Chain
	s.UnderlyingPrice = snap.Underlying()
	s.DetectedAt = now
	s.Factors = factors.Clone()
	s.EdgeScore = edge.Score
	s.EdgeBias = edge.Bias
	s.TransitionProbability = tr.Probability
	s.TransitionAction = tr.Action
	if s.TargetDelta == 0 {
		s.TargetDelta = e.strategy.SingleDelta
	}

	dteMin, _ := e.strategy.DTERange()
	if snap.Chain != nil && !snap.Chain.Expiration.IsZero() {
		s.TargetExpiration = snap.Chain.Expiration
	} else {
		s.TargetExpiration = timeutil.ExpirationInRange(now, dteMin)
	}

	if row, ok := strategy.SelectStrike(snap.Chain, s.OptionType, s.TargetDelta); ok {
		s.TargetStrike = row.Strike
		s.OptionPrice = row.Quote(s.OptionType).Price
	} else if s.UnderlyingPrice > 0 {
		s.TargetStrike = math.Round(s.UnderlyingPrice)
		if snap.Regime.ATMIV > 0 {
			T := greeks.YearFraction(s.DTE(now))
			s.OptionPrice = greeks.Price(s.UnderlyingPrice, s.TargetStrike, T, snap.Regime.ATMIV, e.engine.RiskFreeRate, s.OptionType == model.OptionCall)
		}
	}

	s.Confidence = e.layer.Tracker.Adjust(s.Type, s.RawConfidence)
	s.CompositeScore = e.layer.Weights.Composite(adaptive.OrientFactors(factors, s.Direction))

	if e.strategy.MultiLegEnabled && s.Recommendation == nil {
		s.Recommendation = matchRecommendation(recs, s.Direction)
	}
	if !e.strategy.MultiLegEnabled {
		s.Recommendation = nil
	}

	if e.learning.EVFilterEnabled {
		stats := e.layer.Tracker.Stats(s.Type)
		if ev.ApplyRejection(s, stats, e.learning.MinSamples) {
			e.logger.Info("负期望信号已过滤",
				zap.String("ticker", s.Ticker),
				zap.String("signal_type", string(s.Type)),
				zap.Float64("ev", stats.EV))
		}
	}
}

// matchRecommendation 选择与信号方向一致的首个候选；Wait 或无匹配时返回 nil
func matchRecommendation(recs []model.StrategyRecommendation, dir model.Direction) *model.StrategyRecommendation {
	for _, r := range recs {
		if r.Kind == model.KindWait {
			return nil
		}
		if r.Direction == dir {
			rec := r
			return &rec
		}
	}
	return nil
}

func (e *Engine) recommend(kind model.StrategyKind, dir model.Direction, delta, score float64, why string) *model.StrategyRecommendation {
	lo, hi := e.strategy.DTERange()
	return &model.StrategyRecommendation{
		Kind:        kind,
		Direction:   dir,
		TargetDelta: delta,
		DTEMin:      lo,
		DTEMax:      hi,
		Score:       score,
		Rationale:   why,
	}
}

// detectRegimeFlip GEX 体制翻转：进入 volatile 买 put，进入 pinned 买 call
func (e *Engine) detectRegimeFlip(snap model.MarketSnapshot, st *tickerState) *model.Signal {
	prev, cur := st.gexLabel, snap.Regime.GEX.Label
	if prev == "" || cur == "" || prev == cur {
		return nil
	}
	s := &model.Signal{Type: model.SignalRegimeFlip}
	switch cur {
	case model.GEXVolatile:
		s.Direction, s.OptionType = model.DirectionBearish, model.OptionPut
	case model.GEXPinned:
		s.Direction, s.OptionType = model.DirectionBullish, model.OptionCall
	default:
		return nil
	}
	s.RawConfidence = clamp(flipBaseConfidence+flipGEXWeight*snap.Regime.GEX.Confidence, 0, 100)
	return s
}

// detectRegimeShift 组合体制转换，置信度按数据源给出的仓位系数缩放
func (e *Engine) detectRegimeShift(snap model.MarketSnapshot, st *tickerState) *model.Signal {
	prev, cur := st.combinedLabel, snap.Regime.Combined.Label
	if prev == "" || cur == "" || prev == cur {
		return nil
	}
	s := &model.Signal{Type: model.SignalRegimeShift}
	switch cur {
	case model.RegimeOpportunity, model.RegimeMeltUp:
		s.Direction, s.OptionType = model.DirectionBullish, model.OptionCall
	case model.RegimeDanger, model.RegimeHighRisk:
		s.Direction, s.OptionType = model.DirectionBearish, model.OptionPut
	default:
		return nil
	}
	mult := snap.Regime.Combined.PositionSizeMultiplier
	if mult <= 0 {
		mult = 1
	}
	s.RawConfidence = clamp(shiftBaseConfidence*mult, 0, 100)
	return s
}

// detectMacroEvent 窗口内最高严重度的宏观事件超过阈值时做多波动率
func (e *Engine) detectMacroEvent(snap model.MarketSnapshot, now time.Time) *model.Signal {
	horizon := now.AddDate(0, 0, e.cfg.MacroWindowDays)
	var best *model.MacroEvent
	for i := range snap.Events {
		me := &snap.Events[i]
		if me.At.Before(now) || me.At.After(horizon) || me.Severity <= e.cfg.MacroSeverityFloor {
			continue
		}
		if best == nil || me.Severity > best.Severity {
			best = me
		}
	}
	if best == nil {
		return nil
	}
	s := &model.Signal{
		Type:          model.SignalMacroEvent,
		Direction:     model.DirectionNeutral,
		OptionType:    model.OptionCall,
		Tags:          []string{model.TagLongVol},
		RawConfidence: clamp(best.Severity, 0, 100),
	}
	s.Recommendation = e.recommend(model.KindStraddle, model.DirectionNeutral, e.strategy.SingleDelta, s.RawConfidence,
		fmt.Sprintf("%s 将在 %s 公布", best.Name, best.At.Format(timeutil.DateLayout)))
	return s
}

// detectIVReversion IV Rank 均值回归：高位卖出权利金，低位买入权利金
func (e *Engine) detectIVReversion(snap model.MarketSnapshot) *model.Signal {
	ivr := snap.Regime.IVRank
	switch {
	case ivr > e.cfg.IVHigh:
		dir := model.DirectionBearish
		switch snap.Regime.Combined.Label {
		case model.RegimeOpportunity, model.RegimeMeltUp:
			dir = model.DirectionBullish
		}
		s := &model.Signal{
			Type:          model.SignalIVReversion,
			Direction:     dir,
			OptionType:    optionFor(dir),
			TargetDelta:   e.strategy.CreditDelta,
			Tags:          []string{model.TagSellPremium},
			RawConfidence: clamp(50+(ivr-e.cfg.IVHigh)*ivSlope, 0, 100),
		}
		s.Recommendation = e.recommend(model.KindCreditSpread, dir, e.strategy.CreditDelta, s.RawConfidence,
			fmt.Sprintf("IV Rank %.0f 高于 %.0f", ivr, e.cfg.IVHigh))
		return s
	case ivr > 0 && ivr < e.cfg.IVLow:
		s := &model.Signal{
			Type:          model.SignalIVReversion,
			Direction:     model.DirectionBullish,
			OptionType:    model.OptionCall,
			TargetDelta:   e.strategy.DebitDelta,
			Tags:          []string{model.TagBuyPremium},
			RawConfidence: clamp(50+(e.cfg.IVLow-ivr)*ivSlope, 0, 100),
		}
		s.Recommendation = e.recommend(model.KindDebitSpread, model.DirectionBullish, e.strategy.DebitDelta, s.RawConfidence,
			fmt.Sprintf("IV Rank %.0f 低于 %.0f", ivr, e.cfg.IVLow))
		return s
	default:
		return nil
	}
}

// optionFor 单腿表达：看跌买 put，其余买 call
// 多腿结构的行权方向由策略构建器按方向决定
func optionFor(d model.Direction) model.OptionType {
	if d == model.DirectionBearish {
		return model.OptionPut
	}
	return model.OptionCall
}

// DealerFlow 由期权链敞口估算做市商流向；IV 预期向已实现波动率回归
func DealerFlow(snap model.MarketSnapshot, rate float64) greeks.FlowForecast {
	if snap.Chain.IsEmpty() {
		return greeks.FlowForecast{Score: 50, Direction: model.DirectionNeutral, Amplifier: 1}
	}
	ivChange := 0.0
	if snap.Regime.ATMIV > 0 && snap.Regime.RealizedVol > 0 {
		ivChange = (snap.Regime.RealizedVol - snap.Regime.ATMIV) * 100
	}
	return greeks.DealerFlowForecast(greeks.ChainExposure(snap.Chain, rate), ivChange, 1)
}

// SortByConfidence 按调整后置信度降序，平局按标的名
func SortByConfidence(sigs []*model.Signal) {
	sort.SliceStable(sigs, func(i, j int) bool {
		if sigs[i].Confidence != sigs[j].Confidence {
			return sigs[i].Confidence > sigs[j].Confidence
		}
		return sigs[i].Ticker < sigs[j].Ticker
	})
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
