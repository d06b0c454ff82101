// Package paper 实现模拟盘编排：信号执行、持仓退出扫描与学习反馈。
// 重要：券商仅用于模拟账户，交易日志是唯一的事实来源。
package paper

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"adaptive-options-engine/internal/broker"
	"adaptive-options-engine/internal/config"
	"adaptive-options-engine/internal/core/adaptive"
	"adaptive-options-engine/internal/core/journal"
	"adaptive-options-engine/internal/core/model"
	"adaptive-options-engine/internal/core/risk"
	"adaptive-options-engine/internal/core/signal"
	"adaptive-options-engine/internal/core/strategy"
	"adaptive-options-engine/internal/metadata"
	"adaptive-options-engine/internal/metrics"
	"adaptive-options-engine/internal/output/jsonl"
	"adaptive-options-engine/internal/provider"
	"adaptive-options-engine/internal/stats/latency"
	"adaptive-options-engine/internal/storage"
	"adaptive-options-engine/internal/util/timeutil"
)

// 执行路径
const (
	RouteMultiLeg    = "multi_leg"
	RouteSmartSingle = "smart_single"
	RouteNaiveATM    = "naive_atm"
)

// 交易备注前缀
const (
	// NoteBrokerFailure 券商失败，按估算价记账
	NoteBrokerFailure = "broker_failure"
	// NoteCloseCapped 平仓数量被券商持仓截断，按报价估算平仓价
	NoteCloseCapped = "close_capped"
)

// MarketData 编排器使用的行情接口（provider.Gateway 满足该接口）
type MarketData interface {
	Snapshot(ctx context.Context, ticker string) model.MarketSnapshot
	Marks(ctx context.Context, symbols []string) provider.Result[map[string]float64]
	Betas(ctx context.Context, tickers []string) provider.Result[map[string]float64]
}

// Evaluator 信号评估接口（signal.Engine 满足该接口）
type Evaluator interface {
	Evaluate(ctx context.Context, tickers []string) signal.Evaluation
}

// SymbolSubscriber 实时报价订阅（feed.Client 满足该接口）
type SymbolSubscriber interface {
	SetSymbols(symbols []string) error
}

// Deps 编排器依赖；Signals/Store/Metrics/Streams/Feed/Latency 可为 nil
type Deps struct {
	Journal *journal.Journal
	Layer   *adaptive.Layer
	Builder *strategy.Builder
	Risk    *risk.Manager
	Broker  broker.Broker
	Market  MarketData
	Cache   *SessionCache

	Signals Evaluator
	Store   storage.Store
	Metrics *metrics.Recorder
	Streams *jsonl.Streams
	Feed    SymbolSubscriber
	Latency *latency.Tracker
}

// ExecResult 信号执行结果
type ExecResult struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Ticker  string `json:"ticker"`
	TradeID string `json:"trade_id,omitempty"`
	Route   string `json:"route,omitempty"`
	Kind    string `json:"kind,omitempty"`
	// Quantity 下单组数
	Quantity int `json:"quantity,omitempty"`
	// FillPrice 成交价（券商失败时为估算价）
	FillPrice float64 `json:"fill_price,omitempty"`
	// Estimated 成交价是否为估算
	Estimated bool `json:"estimated,omitempty"`
	// BrokerError 券商失败原因（交易仍已记账）
	BrokerError string `json:"broker_error,omitempty"`

	err error
}

// Err 失败时的分类错误
func (r ExecResult) Err() error { return r.err }

func execFailed(ticker string, err error) ExecResult {
	return ExecResult{Ticker: ticker, Error: err.Error(), err: err}
}

// Orchestrator 模拟盘编排器
// 同一周期内单个信号的 评估 → 风控 → 构建 → 下单 严格串行
type Orchestrator struct {
	cfg  *config.Config
	deps Deps

	logger *zap.Logger
	now    func() time.Time
}

// NewOrchestrator 创建编排器
// 参数 cfg: 全局配置
// 参数 deps: 依赖组件（Cache 为空时按配置创建）
func NewOrchestrator(cfg *config.Config, deps Deps, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Cache == nil {
		deps.Cache = NewSessionCache(cfg.Cache, deps.Broker)
	}
	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		logger: logger.Named("paper"),
		now:    time.Now,
	}
}

// WithClock 替换时钟（测试用）
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	o.deps.Cache.WithClock(now)
	return o
}

// SetSignals 设置信号来源（信号引擎依赖编排器的持仓统计，需在编排器创建后注入）
func (o *Orchestrator) SetSignals(e Evaluator) {
	o.deps.Signals = e
}

// SetFeed 设置实时报价订阅，并立即按当前持仓订阅
func (o *Orchestrator) SetFeed(f SymbolSubscriber) {
	o.deps.Feed = f
	o.refreshSubscriptions()
}

// Cache 进程级缓存
func (o *Orchestrator) Cache() *SessionCache {
	return o.deps.Cache
}

// OpenKinds 当前持仓的策略种类计数（用于分散化推荐）
func (o *Orchestrator) OpenKinds() map[model.StrategyKind]int {
	out := make(map[model.StrategyKind]int)
	for _, t := range o.deps.Journal.OpenTrades() {
		out[t.Kind]++
	}
	return out
}

// plan 构建完成、待风控与下单的结构
type plan struct {
	route      string
	kind       model.StrategyKind
	direction  model.Direction
	name       string
	legs       []model.Leg
	netPremium float64
	maxLoss    float64
	maxProfit  float64
	greeks     model.Greeks
	quality    float64
	notes      []string
}

func (p *plan) multiLeg() bool {
	return p.kind.IsMultiLeg() && len(p.legs) >= 2
}

// ExecuteSignal 执行信号
// 顺序：价格校验 → 体制转换动作 → 构建（多腿 / 智能单腿 / 平值回退）→ 风控 → 仓位 → 下单 → 记账
// 风控与质量拒绝不记账；券商失败仍以估算价记账
func (o *Orchestrator) ExecuteSignal(ctx context.Context, sig *model.Signal) ExecResult {
	if sig == nil {
		return execFailed("", errors.New("信号为空"))
	}
	if sig.UnderlyingPrice <= 0 || sig.OptionPrice <= 0 || math.IsNaN(sig.OptionPrice) {
		o.deps.Metrics.Rejection(model.ErrInvalidPrice.Error())
		return execFailed(sig.Ticker, fmt.Errorf("%w: underlying=%.2f option=%.2f", model.ErrInvalidPrice, sig.UnderlyingPrice, sig.OptionPrice))
	}

	action := transitionAction(sig)
	if action == model.ActionHaltNewEntries {
		o.deps.Metrics.Rejection(model.ErrHaltNewEntries.Error())
		o.logger.Info("体制转换概率过高，暂停开仓",
			zap.String("ticker", sig.Ticker),
			zap.Float64("probability", sig.TransitionProbability))
		return execFailed(sig.Ticker, fmt.Errorf("%w: p=%.2f", model.ErrHaltNewEntries, sig.TransitionProbability))
	}

	p, err := o.plan(sig)
	if err != nil {
		o.deps.Metrics.Rejection(rejectionLabel(err))
		o.logger.Info("结构构建未通过", zap.String("ticker", sig.Ticker), zap.Error(err))
		return execFailed(sig.Ticker, err)
	}

	now := o.now()
	trades := o.deps.Journal.Trades()
	equity := o.AccountSummary(ctx).Equity
	decision := o.deps.Risk.CheckAll(risk.Input{
		Signal:          sig,
		RiskPerContract: p.maxLoss,
		Trades:          trades,
		Equity:          equity,
		Betas:           o.betas(ctx, tickersOf(sig.Ticker, trades)),
		Now:             now,
	})
	if !decision.Passed {
		o.deps.Metrics.Rejection(decision.Check)
		o.logger.Info("风控拒绝",
			zap.String("ticker", sig.Ticker),
			zap.String("check", decision.Check),
			zap.String("reason", decision.Reason))
		return execFailed(sig.Ticker, decision.Err())
	}

	riskCap := o.deps.Risk.ComputePositionSize(sig, equity, p.maxLoss)
	kelly := o.deps.Layer.Kelly.Contracts(o.deps.Layer.Tracker.Stats(sig.Type), sig.Regime, equity, p.maxLoss, riskCap)
	qty := kelly.Contracts
	if action == model.ActionHalvePositionSizes {
		qty = max(1, qty/2)
		p.notes = append(p.notes, fmt.Sprintf("transition %.2f: size halved", sig.TransitionProbability))
	}

	t := o.newTrade(sig, p, qty, now)
	order, brokerErr := o.placeOpen(ctx, p, qty)

	res := ExecResult{
		OK:       true,
		Ticker:   sig.Ticker,
		Route:    p.route,
		Kind:     string(p.kind),
		Quantity: qty,
	}
	if brokerErr != nil {
		o.deps.Metrics.BrokerError("place_order")
		o.logger.Warn("开仓下单失败，按估算价记账",
			zap.String("ticker", sig.Ticker),
			zap.String("kind", string(p.kind)),
			zap.Error(brokerErr))
		t.Notes = append(t.Notes, fmt.Sprintf("%s: %v", NoteBrokerFailure, brokerErr))
		res.Estimated = true
		res.BrokerError = brokerErr.Error()
	} else {
		t.BrokerOrderID = order.ID
		if order.FillPrice > 0 {
			applyEntryFill(t, order.FillPrice)
		}
	}

	rec, err := o.deps.Journal.RecordTrade(ctx, t)
	if rec == nil {
		return execFailed(sig.Ticker, err)
	}
	if err != nil {
		o.logger.Warn("交易已记录但持久化失败", zap.String("trade_id", rec.ID), zap.Error(err))
	}
	res.TradeID = rec.ID
	res.FillPrice = rec.EntryPrice

	o.deps.Metrics.TradeOpened(string(rec.Kind))
	o.deps.Streams.TradeOpened(rec)
	o.refreshSubscriptions()

	o.logger.Info("开仓完成",
		zap.String("trade_id", rec.ID),
		zap.String("ticker", rec.Ticker),
		zap.String("route", p.route),
		zap.String("strategy", rec.StrategyName),
		zap.Int("quantity", qty),
		zap.Bool("kelly_learned", kelly.Learned),
		zap.Float64("entry_price", rec.EntryPrice))
	return res
}

// applyEntryFill 以成交价替换构建时的权利金，并同步平移每组最大收益/亏损
// 贷方多收的权利金增加最大收益、减少最大亏损；借方多付的权利金反之
func applyEntryFill(t *model.Trade, fill float64) {
	diff := (fill - math.Abs(t.NetPremium)) * model.ContractMultiplier
	if t.IsCredit() {
		t.MaxProfit = math.Max(t.MaxProfit+diff, 0)
		t.MaxLoss = math.Max(t.MaxLoss-diff, 0)
	} else {
		t.MaxLoss = math.Max(t.MaxLoss+diff, 0)
		t.MaxProfit = math.Max(t.MaxProfit-diff, 0)
	}
	t.EntryPrice = fill
	t.NetPremium = math.Copysign(fill, t.NetPremium)
}

// transitionAction 取信号携带的动作与按概率推导的动作中更严格的一个
func transitionAction(sig *model.Signal) model.TransitionAction {
	derived := signal.ActionFor(sig.TransitionProbability)
	rank := func(a model.TransitionAction) int {
		switch a {
		case model.ActionHaltNewEntries:
			return 2
		case model.ActionHalvePositionSizes:
			return 1
		default:
			return 0
		}
	}
	if rank(sig.TransitionAction) > rank(derived) {
		return sig.TransitionAction
	}
	return derived
}

func rejectionLabel(err error) string {
	switch {
	case errors.Is(err, model.ErrQualityRejected):
		return model.ErrQualityRejected.Error()
	case errors.Is(err, model.ErrBuildFailed):
		return model.ErrBuildFailed.Error()
	default:
		return "unknown"
	}
}

// plan 路由：推荐多腿结构 → 智能单腿 → 无期权链时平值单腿
func (o *Orchestrator) plan(sig *model.Signal) (*plan, error) {
	chain := sig.Chain
	rec := sig.Recommendation

	if o.cfg.Strategy.MultiLegEnabled && rec != nil && rec.Kind.IsMultiLeg() && !chain.IsEmpty() {
		dir := rec.Direction
		if dir == "" {
			dir = sig.Direction
		}
		res := o.deps.Builder.Build(strategy.Request{
			Kind:        rec.Kind,
			Direction:   dir,
			Chain:       chain,
			Underlying:  sig.UnderlyingPrice,
			TargetDelta: rec.TargetDelta,
			IVRank:      sig.Regime.IVRank,
			DTE:         chain.DTE,
		})
		if res.OK() {
			return fromBuild(RouteMultiLeg, dir, res), nil
		}
		if strategy.IsQualityRejected(res.Err()) {
			return nil, res.Err()
		}
		o.logger.Info("多腿构建失败，回退单腿",
			zap.String("ticker", sig.Ticker),
			zap.String("kind", string(rec.Kind)),
			zap.String("reason", res.Reason))
	}

	if !chain.IsEmpty() {
		delta := sig.TargetDelta
		if sig.HasTag(model.TagSellPremium) {
			delta = 0
		}
		res := o.deps.Builder.Build(strategy.Request{
			Kind:        model.KindSingle,
			Direction:   sig.Direction,
			Chain:       chain,
			Underlying:  sig.UnderlyingPrice,
			TargetDelta: delta,
			IVRank:      sig.Regime.IVRank,
			DTE:         chain.DTE,
		})
		if !res.OK() {
			return nil, res.Err()
		}
		return fromBuild(RouteSmartSingle, sig.Direction, res), nil
	}

	return o.naivePlan(sig), nil
}

func fromBuild(route string, dir model.Direction, res strategy.BuildResult) *plan {
	return &plan{
		route:      route,
		kind:       res.Kind,
		direction:  dir,
		name:       res.StrategyName,
		legs:       res.Legs,
		netPremium: res.NetPremium,
		maxLoss:    res.MaxLoss,
		maxProfit:  res.MaxProfit,
		greeks:     res.Greeks,
		quality:    res.Quality,
		notes:      append([]string(nil), res.Notes...),
	}
}

// naivePlan 无期权链时按信号的平值行权价与估算价买入单腿
func (o *Orchestrator) naivePlan(sig *model.Signal) *plan {
	optType := sig.OptionType
	if optType == "" {
		optType = model.OptionCall
	}
	strike := sig.TargetStrike
	if strike <= 0 {
		strike = math.Round(sig.UnderlyingPrice)
	}
	leg := model.Leg{
		Action:     model.BuyToOpen,
		OptionType: optType,
		Strike:     strike,
		Expiration: sig.TargetExpiration,
		Quantity:   1,
		Symbol:     metadata.OCCSymbol(sig.Ticker, sig.TargetExpiration, optType, strike),
		Price:      sig.OptionPrice,
	}
	return &plan{
		route:      RouteNaiveATM,
		kind:       model.KindSingle,
		direction:  sig.Direction,
		name:       fmt.Sprintf("Single Leg (%s %g)", strings.ToUpper(string(optType)), strike),
		legs:       []model.Leg{leg},
		netPremium: -sig.OptionPrice,
		maxLoss:    sig.OptionPrice * model.ContractMultiplier,
		notes:      []string{"option chain unavailable: naive ATM fallback"},
	}
}

// newTrade 按构建结果组装待记账的 Trade
func (o *Orchestrator) newTrade(sig *model.Signal, p *plan, qty int, now time.Time) *model.Trade {
	factors := sig.Factors
	if len(factors) == 0 {
		factors = adaptive.FactorsFromRegime(sig.Regime, 50)
	}
	exits := o.deps.Layer.Exits.Params(p.kind, sig.Type)

	t := &model.Trade{
		SignalID:          sig.ID,
		SignalType:        sig.Type,
		Tags:              append([]string(nil), sig.Tags...),
		StrategyName:      p.name,
		Kind:              p.kind,
		Ticker:            sig.Ticker,
		Direction:         p.direction,
		Quantity:          qty,
		EntryPrice:        math.Abs(p.netPremium),
		NetPremium:        p.netPremium,
		MaxLoss:           p.maxLoss,
		MaxProfit:         p.maxProfit,
		EntryTime:         now,
		EntryUnderlying:   sig.UnderlyingPrice,
		EntryIV:           entryIV(p, sig),
		EntryDelta:        p.greeks.Delta,
		EntryEdge:         sig.EdgeScore,
		EntryBias:         sig.EdgeBias,
		EntryFactorScores: adaptive.OrientFactors(factors, p.direction),
		Quality:           p.quality,
		StopLossPct:       exits.StopLossPct,
		TakeProfitPct:     exits.TakeProfitPct,
		TimeExitDTE:       exits.TimeExitDTE,
		Notes:             append([]string{"route:" + p.route}, p.notes...),
	}
	if p.multiLeg() {
		t.IsMultiLeg = true
		t.Legs = append([]model.Leg(nil), p.legs...)
		t.Expiration = p.legs[0].Expiration
		return t
	}
	leg := p.legs[0]
	t.OptionType = leg.OptionType
	t.Strike = leg.Strike
	t.Expiration = leg.Expiration
	t.Symbol = leg.Symbol
	if t.EntryDelta == 0 {
		t.EntryDelta = leg.Quote.Delta
	}
	return t
}

func entryIV(p *plan, sig *model.Signal) float64 {
	var sum float64
	n := 0
	for _, l := range p.legs {
		if l.Quote.IV > 0 {
			sum += l.Quote.IV
			n++
		}
	}
	if n > 0 {
		return sum / float64(n)
	}
	return sig.Regime.ATMIV
}

// placeOpen 开仓下单：单腿市价，多腿按 |净权利金| 限价
func (o *Orchestrator) placeOpen(ctx context.Context, p *plan, qty int) (broker.Order, error) {
	legs := make([]broker.OrderLeg, 0, len(p.legs))
	for _, l := range p.legs {
		legs = append(legs, broker.OrderLeg{
			InstrumentType: broker.InstrumentOption,
			Symbol:         l.Symbol,
			Quantity:       l.Quantity * qty,
			Action:         l.Action,
			Price:          l.Price,
		})
	}
	req := broker.OrderRequest{
		Legs:     legs,
		Type:     broker.OrderMarket,
		TIF:      broker.TIFDay,
		Quantity: qty,
	}
	if len(legs) > 1 {
		req.Type = broker.OrderLimit
		req.LimitPrice = roundCents(math.Abs(p.netPremium))
	}
	return o.submit(ctx, req)
}

// submit 使用缓存会话下单；失败时使会话失效，下次重新获取
func (o *Orchestrator) submit(ctx context.Context, req broker.OrderRequest) (broker.Order, error) {
	sess, err := o.deps.Cache.Session.Get(ctx)
	if err != nil {
		return broker.Order{}, fmt.Errorf("%w: 获取会话: %v", model.ErrBrokerFailure, err)
	}
	order, err := o.deps.Broker.PlaceOrder(ctx, sess, req)
	if err != nil {
		o.deps.Cache.Session.Invalidate()
		return broker.Order{}, fmt.Errorf("%w: %v", model.ErrBrokerFailure, err)
	}
	if !order.Filled() {
		return order, fmt.Errorf("%w: %v (status=%s)", model.ErrBrokerFailure, broker.ErrNoFill, order.Status)
	}
	return order, nil
}

// betas 读取标的 beta：先查缓存，缺失的批量向数据源获取
func (o *Orchestrator) betas(ctx context.Context, tickers []string) map[string]float64 {
	out := make(map[string]float64, len(tickers))
	var missing []string
	for _, tk := range tickers {
		if b, ok := o.deps.Cache.Betas.Get(tk); ok {
			out[tk] = b
		} else {
			missing = append(missing, tk)
		}
	}
	if len(missing) == 0 {
		return out
	}
	res := o.deps.Market.Betas(ctx, missing)
	for _, tk := range missing {
		b, ok := res.Value[tk]
		if !ok || b <= 0 {
			b = provider.NeutralBeta
		}
		out[tk] = b
		if !res.Degraded {
			o.deps.Cache.Betas.Set(tk, b)
		}
	}
	return out
}

// marks 读取合约报价：先查缓存（实时推送也写入缓存），缺失的向数据源获取
func (o *Orchestrator) marks(ctx context.Context, symbols []string) map[string]float64 {
	out := make(map[string]float64, len(symbols))
	var missing []string
	for _, s := range symbols {
		if v, ok := o.deps.Cache.Marks.Get(s); ok {
			out[s] = v
		} else {
			missing = append(missing, s)
		}
	}
	if len(missing) == 0 {
		return out
	}
	res := o.deps.Market.Marks(ctx, missing)
	if res.Degraded {
		o.logger.Debug("报价获取降级", zap.Int("symbols", len(missing)), zap.Error(res.Err))
	}
	for s, v := range res.Value {
		if v > 0 {
			out[s] = v
			o.deps.Cache.Marks.Set(s, v)
		}
	}
	return out
}

// refreshSubscriptions 按当前持仓更新实时报价订阅
func (o *Orchestrator) refreshSubscriptions() {
	if o.deps.Feed == nil {
		return
	}
	var symbols []string
	for _, t := range o.deps.Journal.OpenTrades() {
		symbols = append(symbols, t.Symbols()...)
	}
	if err := o.deps.Feed.SetSymbols(symbols); err != nil {
		o.logger.Warn("更新报价订阅失败", zap.Error(err))
	}
}

// Summary 账户汇总
// 不变量：Equity = StartingCapital + RealizedPnL + UnrealizedPnL
type Summary struct {
	Date            string  `json:"date"`
	StartingCapital float64 `json:"starting_capital"`
	RealizedPnL     float64 `json:"realized_pnl"`
	UnrealizedPnL   float64 `json:"unrealized_pnl"`
	Equity          float64 `json:"equity"`
	Cash            float64 `json:"cash"`
	PositionsValue  float64 `json:"positions_value"`
	OpenPositions   int     `json:"open_positions"`
	ClosedTrades    int     `json:"closed_trades"`
	// Unpriced 无可用报价、按入场价计值的持仓数
	Unpriced int `json:"unpriced"`
}

// AccountSummary 按当前报价计算账户权益
// 无报价的持仓按入场价计值（未实现盈亏为 0）
func (o *Orchestrator) AccountSummary(ctx context.Context) Summary {
	trades := o.deps.Journal.Trades()
	var open []*model.Trade
	var symbols []string
	s := Summary{
		Date:            timeutil.DateKey(o.now()),
		StartingCapital: o.cfg.Engine.StartingCapital,
	}
	for _, t := range trades {
		if t.IsOpen() {
			open = append(open, t)
			symbols = append(symbols, t.Symbols()...)
			continue
		}
		s.ClosedTrades++
		s.RealizedPnL += t.RealizedPnL()
	}

	marks := o.marks(ctx, symbols)
	for _, t := range open {
		mark, ok := structureMark(t, marks)
		if !ok {
			mark = t.EntryPrice
			s.Unpriced++
		}
		unrealized, _ := t.PnLAt(mark)
		s.UnrealizedPnL += unrealized
		s.PositionsValue += t.MarketValue(mark)
	}
	s.OpenPositions = len(open)
	s.Equity = s.StartingCapital + s.RealizedPnL + s.UnrealizedPnL
	s.Cash = s.Equity - s.PositionsValue

	o.deps.Metrics.Account(s.Equity, s.RealizedPnL, s.OpenPositions)
	return s
}

// structureMark 每单位结构的当前价格，与 EntryPrice 同口径
// 单腿为合约报价；多腿为平仓成本（贷方）或结构价值（借方）
// 任一腿缺少报价时返回 false
func structureMark(t *model.Trade, marks map[string]float64) (float64, bool) {
	if !t.IsMultiLeg {
		v, ok := marks[t.Symbol]
		return v, ok && v > 0
	}
	var value float64
	for _, l := range t.Legs {
		v, ok := marks[l.Symbol]
		if !ok || v <= 0 {
			return 0, false
		}
		value += l.Sign() * v * float64(max(l.Quantity, 1))
	}
	if t.IsCredit() {
		return -value, true
	}
	return value, true
}

func tickersOf(ticker string, trades []*model.Trade) []string {
	seen := map[string]bool{ticker: true}
	out := []string{ticker}
	for _, t := range trades {
		if t.IsOpen() && !seen[t.Ticker] {
			seen[t.Ticker] = true
			out = append(out, t.Ticker)
		}
	}
	sort.Strings(out[1:])
	return out
}

func roundCents(v float64) float64 {
	return math.Max(math.Round(v*100)/100, 0.01)
}
