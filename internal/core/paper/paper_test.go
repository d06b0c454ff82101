package paper

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"go.uber.org/zap"

	"adaptive-options-engine/internal/broker"
	"adaptive-options-engine/internal/config"
	"adaptive-options-engine/internal/core/adaptive"
	"adaptive-options-engine/internal/core/greeks"
	"adaptive-options-engine/internal/core/journal"
	"adaptive-options-engine/internal/core/model"
	"adaptive-options-engine/internal/core/risk"
	"adaptive-options-engine/internal/core/signal"
	"adaptive-options-engine/internal/core/strategy"
	"adaptive-options-engine/internal/metadata"
	"adaptive-options-engine/internal/provider"
	"adaptive-options-engine/internal/storage"
)

var testNow = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

// fakeMarket 可控的行情源：快照按标的、报价按 OCC 代码
type fakeMarket struct {
	mu    sync.Mutex
	snaps map[string]model.MarketSnapshot
	marks map[string]float64
	calls int
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{snaps: make(map[string]model.MarketSnapshot), marks: make(map[string]float64)}
}

func (f *fakeMarket) Snapshot(_ context.Context, ticker string) model.MarketSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snaps[ticker]
}

func (f *fakeMarket) Marks(_ context.Context, symbols []string) provider.Result[map[string]float64] {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	out := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		if v, ok := f.marks[s]; ok {
			out[s] = v
		}
	}
	return provider.Result[map[string]float64]{Value: out}
}

func (f *fakeMarket) Betas(_ context.Context, tickers []string) provider.Result[map[string]float64] {
	out := make(map[string]float64, len(tickers))
	for _, t := range tickers {
		out[t] = 1
	}
	return provider.Result[map[string]float64]{Value: out}
}

func (f *fakeMarket) setMark(symbol string, v float64) {
	f.mu.Lock()
	f.marks[symbol] = v
	f.mu.Unlock()
}

type harness struct {
	cfg     *config.Config
	orch    *Orchestrator
	journal *journal.Journal
	layer   *adaptive.Layer
	sim     *broker.Sim
	market  *fakeMarket
	store   *storage.Memory
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Engine.WatchedTickers = []string{"SPY"}
	cfg.Strategy.MinQuality = 1
	return cfg
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	clock := func() time.Time { return testNow }
	store := storage.NewMemory()
	j := journal.New(store, cfg.Engine.SignalsCap, zap.NewNop())
	layer := adaptive.NewLayer(cfg, zap.NewNop())
	sim := broker.NewSim(time.Hour).WithClock(clock)
	market := newFakeMarket()
	orch := NewOrchestrator(cfg, Deps{
		Journal: j,
		Layer:   layer,
		Builder: strategy.NewBuilder(cfg.Strategy, zap.NewNop()),
		Risk:    risk.NewManager(cfg.Risk),
		Broker:  sim,
		Market:  market,
		Store:   store,
	}, zap.NewNop()).WithClock(clock)
	return &harness{cfg: cfg, orch: orch, journal: j, layer: layer, sim: sim, market: market, store: store}
}

func testSnapshot(ticker string, ivr float64) model.MarketSnapshot {
	chain := greeks.SyntheticChain(greeks.ChainParams{
		Ticker: ticker, Underlying: 480, IV: 0.22, DTE: 35, StrikeStep: 5, Strikes: 15,
		Rate: 0.045, OpenInterest: 800, Volume: 120, AsOf: testNow,
	})
	return model.MarketSnapshot{
		Ticker: ticker,
		Regime: model.RegimeSnapshot{
			Ticker:   ticker,
			Price:    480,
			IVRank:   ivr,
			ATMIV:    0.22,
			GEX:      model.GEXRegime{Label: model.GEXNeutral},
			Combined: model.CombinedRegime{Label: model.RegimeNeutral, PositionSizeMultiplier: 1},
			Term:     model.TermStructure{Structure: model.TermFlat},
		},
		Chain: chain,
		AsOf:  testNow,
	}
}

// sellPremiumSignal 高 IV Rank 下的卖出权利金信号（附信用价差推荐）
func sellPremiumSignal(snap model.MarketSnapshot) *model.Signal {
	return &model.Signal{
		ID:               "sig-1",
		Ticker:           snap.Ticker,
		Type:             model.SignalIVReversion,
		Direction:        model.DirectionBearish,
		OptionType:       model.OptionCall,
		TargetExpiration: snap.Chain.Expiration,
		TargetDelta:      0.16,
		RawConfidence:    62.5,
		Confidence:       62.5,
		Tags:             []string{model.TagSellPremium},
		UnderlyingPrice:  snap.Regime.Price,
		OptionPrice:      3.2,
		Regime:           snap.Regime,
		Chain:            snap.Chain,
		Recommendation: &model.StrategyRecommendation{
			Kind:        model.KindCreditSpread,
			Direction:   model.DirectionBearish,
			TargetDelta: 0.16,
		},
		EdgeScore:        60,
		TransitionAction: model.ActionNormal,
		DetectedAt:       testNow,
	}
}

func singleLegTrade(entry float64, qty int) *model.Trade {
	exp := testNow.AddDate(0, 0, 30)
	return &model.Trade{
		SignalType:    model.SignalRegimeFlip,
		Kind:          model.KindSingle,
		Ticker:        "SPY",
		Direction:     model.DirectionBullish,
		OptionType:    model.OptionCall,
		Strike:        480,
		Expiration:    exp,
		Symbol:        metadata.OCCSymbol("SPY", exp, model.OptionCall, 480),
		Quantity:      qty,
		EntryPrice:    entry,
		NetPremium:    -entry,
		MaxLoss:       entry * model.ContractMultiplier,
		EntryTime:     testNow.Add(-2 * time.Hour),
		EntryEdge:     60,
		StopLossPct:   -50,
		TakeProfitPct: 100,
		TimeExitDTE:   5,
	}
}

// creditSpreadTrade 500/505 call 信用价差，收取 1.50
func creditSpreadTrade(qty int) *model.Trade {
	exp := testNow.AddDate(0, 0, 30)
	short := model.Leg{Action: model.SellToOpen, OptionType: model.OptionCall, Strike: 500, Expiration: exp, Quantity: 1,
		Symbol: metadata.OCCSymbol("SPY", exp, model.OptionCall, 500), Price: 2.10}
	long := model.Leg{Action: model.BuyToOpen, OptionType: model.OptionCall, Strike: 505, Expiration: exp, Quantity: 1,
		Symbol: metadata.OCCSymbol("SPY", exp, model.OptionCall, 505), Price: 0.60}
	return &model.Trade{
		SignalType:    model.SignalIVReversion,
		Kind:          model.KindCreditSpread,
		Ticker:        "SPY",
		Direction:     model.DirectionBearish,
		Expiration:    exp,
		Legs:          []model.Leg{short, long},
		Quantity:      qty,
		EntryPrice:    1.50,
		NetPremium:    1.50,
		MaxProfit:     150,
		MaxLoss:       350,
		EntryTime:     testNow.Add(-24 * time.Hour),
		EntryEdge:     60,
		StopLossPct:   -50,
		TakeProfitPct: 100,
		TimeExitDTE:   5,
	}
}

func (h *harness) record(t *testing.T, tr *model.Trade) *model.Trade {
	t.Helper()
	rec, err := h.journal.RecordTrade(context.Background(), tr)
	if err != nil {
		t.Fatalf("记录交易失败: %v", err)
	}
	return rec
}

func TestExecuteSignal_CreditSpreadOnHighIVRank(t *testing.T) {
	h := newHarness(t, testConfig())
	snap := testSnapshot("SPY", 85)

	res := h.orch.ExecuteSignal(context.Background(), sellPremiumSignal(snap))
	if !res.OK {
		t.Fatalf("执行失败: %s", res.Error)
	}
	if res.Route != RouteMultiLeg || res.Kind != string(model.KindCreditSpread) {
		t.Fatalf("应走多腿信用价差路径: route=%s kind=%s", res.Route, res.Kind)
	}
	if res.Estimated || res.Quantity < 1 || res.Quantity > h.cfg.Risk.MaxContracts {
		t.Fatalf("成交结果异常: %+v", res)
	}

	open := h.journal.OpenTrades()
	if len(open) != 1 {
		t.Fatalf("应记录 1 笔持仓，实际 %d", len(open))
	}
	tr := open[0]
	if !tr.IsMultiLeg || len(tr.Legs) != 2 || tr.NetPremium <= 0 || !tr.IsCredit() {
		t.Fatalf("信用价差字段错误: %+v", tr)
	}
	if tr.Direction != model.DirectionBearish || tr.SignalID != "sig-1" {
		t.Errorf("信号来源字段错误: dir=%s signal=%s", tr.Direction, tr.SignalID)
	}
	if tr.StopLossPct >= 0 || tr.TakeProfitPct <= 0 || tr.TimeExitDTE <= 0 {
		t.Errorf("退出参数未解析: %+v", tr)
	}
	if !strings.Contains(tr.Notes[0], RouteMultiLeg) {
		t.Errorf("应记录执行路径: %v", tr.Notes)
	}

	sess, _ := h.sim.Session(context.Background())
	pos, err := h.sim.Positions(context.Background(), sess)
	if err != nil || len(pos) != 2 {
		t.Fatalf("券商应持有两条腿: %v %v", pos, err)
	}
	held := broker.PositionMap(pos)
	for _, l := range tr.Legs {
		want := tr.Quantity
		if !l.Action.IsLong() {
			want = -want
		}
		if held[l.Symbol].Quantity != want {
			t.Errorf("%s 持仓=%d，期望 %d", l.Symbol, held[l.Symbol].Quantity, want)
		}
	}
}

func TestExecuteSignal_HaltNewEntries(t *testing.T) {
	h := newHarness(t, testConfig())
	sig := sellPremiumSignal(testSnapshot("SPY", 85))
	sig.TransitionProbability = 0.85

	res := h.orch.ExecuteSignal(context.Background(), sig)
	if res.OK || !errors.Is(res.Err(), model.ErrHaltNewEntries) {
		t.Fatalf("应暂停开仓: %+v", res)
	}
	if n := len(h.journal.Trades()); n != 0 {
		t.Fatalf("暂停开仓不应记账，实际 %d 笔", n)
	}
	sess, _ := h.sim.Session(context.Background())
	if orders, _ := h.sim.Orders(context.Background(), sess); len(orders) != 0 {
		t.Fatalf("暂停开仓不应下单: %v", orders)
	}
}

func TestExecuteSignal_HalvesSize(t *testing.T) {
	snap := testSnapshot("SPY", 85)

	full := newHarness(t, testConfig()).orch.ExecuteSignal(context.Background(), sellPremiumSignal(snap))
	sig := sellPremiumSignal(snap)
	sig.TransitionProbability = 0.7
	half := newHarness(t, testConfig()).orch.ExecuteSignal(context.Background(), sig)
	if !full.OK || !half.OK {
		t.Fatalf("执行失败: %s / %s", full.Error, half.Error)
	}
	if want := max(1, full.Quantity/2); half.Quantity != want {
		t.Fatalf("仓位应减半: full=%d half=%d", full.Quantity, half.Quantity)
	}
}

func TestExecuteSignal_InvalidPrice(t *testing.T) {
	h := newHarness(t, testConfig())
	sig := sellPremiumSignal(testSnapshot("SPY", 85))
	sig.OptionPrice = 0
	res := h.orch.ExecuteSignal(context.Background(), sig)
	if res.OK || !errors.Is(res.Err(), model.ErrInvalidPrice) {
		t.Fatalf("零价格应拒绝: %+v", res)
	}
	if res := h.orch.ExecuteSignal(context.Background(), nil); res.OK {
		t.Fatal("空信号应拒绝")
	}
}

func TestExecuteSignal_RiskRejectedNotJournaled(t *testing.T) {
	cfg := testConfig()
	cfg.Risk.MaxPositions = 1
	h := newHarness(t, cfg)
	h.record(t, singleLegTrade(2, 1))

	res := h.orch.ExecuteSignal(context.Background(), sellPremiumSignal(testSnapshot("SPY", 85)))
	if res.OK || !errors.Is(res.Err(), model.ErrRiskRejected) {
		t.Fatalf("应被风控拒绝: %+v", res)
	}
	if n := len(h.journal.Trades()); n != 1 {
		t.Fatalf("风控拒绝不应记账，实际 %d 笔", n)
	}
}

func TestExecuteSignal_NaiveFallbackWithoutChain(t *testing.T) {
	h := newHarness(t, testConfig())
	sig := sellPremiumSignal(testSnapshot("SPY", 85))
	sig.Chain = nil
	sig.Direction = model.DirectionBullish
	sig.Recommendation = nil
	sig.Tags = nil
	sig.TargetExpiration = testNow.AddDate(0, 0, 30)

	res := h.orch.ExecuteSignal(context.Background(), sig)
	if !res.OK || res.Route != RouteNaiveATM {
		t.Fatalf("无期权链应回退平值单腿: %+v", res)
	}
	tr, ok := h.journal.Get(res.TradeID)
	if !ok || tr.IsMultiLeg || tr.Strike != 480 || tr.Symbol == "" {
		t.Fatalf("平值单腿字段错误: %+v", tr)
	}
	if math.Abs(tr.EntryPrice-sig.OptionPrice) > 1e-9 {
		t.Errorf("入场价=%f，期望 %f", tr.EntryPrice, sig.OptionPrice)
	}
}

func TestExecuteSignal_BrokerFailureStillJournaled(t *testing.T) {
	h := newHarness(t, testConfig())
	h.sim.FailNext(errors.New("connection reset"))

	res := h.orch.ExecuteSignal(context.Background(), sellPremiumSignal(testSnapshot("SPY", 85)))
	if !res.OK || !res.Estimated || res.BrokerError == "" {
		t.Fatalf("券商失败仍应记账并标记估算: %+v", res)
	}
	tr, ok := h.journal.Get(res.TradeID)
	if !ok || !tr.IsOpen() {
		t.Fatalf("交易未记录: %+v", tr)
	}
	found := false
	for _, n := range tr.Notes {
		if strings.HasPrefix(n, NoteBrokerFailure) {
			found = true
		}
	}
	if !found {
		t.Errorf("应写入券商失败备注: %v", tr.Notes)
	}
	if _, ok := h.orch.Cache().Session.Peek(); ok {
		t.Error("券商失败后会话应失效")
	}
}

func TestScanExits_StopLoss(t *testing.T) {
	h := newHarness(t, testConfig())
	h.market.snaps["SPY"] = testSnapshot("SPY", 50)
	tr := h.record(t, singleLegTrade(2.00, 1))
	h.sim.SetPosition(tr.Symbol, 1)
	h.market.setMark(tr.Symbol, 1.00)

	out := h.orch.ScanExits(context.Background(), nil)
	if len(out) != 1 {
		t.Fatalf("应平仓 1 笔，实际 %d", len(out))
	}
	r := out[0]
	if !r.OK || r.Reason != model.ExitStopLoss || r.Estimated {
		t.Fatalf("止损结果错误: %+v", r)
	}
	if math.Abs(r.PnLDollars-(-100)) > 1e-9 || math.Abs(r.ExitPrice-1.00) > 1e-9 {
		t.Fatalf("盈亏=%f 平仓价=%f，期望 -100 / 1.00", r.PnLDollars, r.ExitPrice)
	}

	closed, _ := h.journal.Get(tr.ID)
	if !closed.IsClosed() || closed.ExitPrice == nil || closed.ExitTime == nil || closed.PnLPct == nil {
		t.Fatalf("平仓字段不完整: %+v", closed)
	}
	if st := h.layer.Tracker.Stats(model.SignalRegimeFlip); st.Count != 1 {
		t.Errorf("平仓后应反馈学习层: count=%d", st.Count)
	}
	if _, ok := h.orch.Cache().Marks.Get(tr.Symbol); ok {
		t.Error("平仓后应清除该合约报价缓存")
	}
}

func TestScanExits_FiftyPctMaxProfit(t *testing.T) {
	h := newHarness(t, testConfig())
	tr := h.record(t, creditSpreadTrade(1))
	h.sim.SetPosition(tr.Legs[0].Symbol, -1)
	h.sim.SetPosition(tr.Legs[1].Symbol, 1)
	h.market.setMark(tr.Legs[0].Symbol, 0.90)
	h.market.setMark(tr.Legs[1].Symbol, 0.20)

	out := h.orch.ScanExits(context.Background(), nil)
	if len(out) != 1 || !out[0].OK {
		t.Fatalf("应平仓 1 笔: %+v", out)
	}
	r := out[0]
	if r.Reason != model.ExitFiftyPctMaxProfit {
		t.Fatalf("退出原因=%s，期望 %s", r.Reason, model.ExitFiftyPctMaxProfit)
	}
	if math.Abs(r.ExitPrice-0.70) > 1e-9 || math.Abs(r.PnLDollars-80) > 1e-6 {
		t.Fatalf("平仓价=%f 盈亏=%f，期望 0.70 / 80", r.ExitPrice, r.PnLDollars)
	}

	sess, _ := h.sim.Session(context.Background())
	orders, _ := h.sim.Orders(context.Background(), sess)
	last := orders[len(orders)-1]
	if last.Type != broker.OrderLimit || len(last.Legs) != 2 {
		t.Fatalf("多腿平仓应为限价单: %+v", last)
	}
	if last.Legs[0].Action != model.BuyToClose || last.Legs[1].Action != model.SellToClose {
		t.Errorf("平仓腿动作应取反: %v %v", last.Legs[0].Action, last.Legs[1].Action)
	}
	if pos, _ := h.sim.Positions(context.Background(), sess); len(pos) != 0 {
		t.Errorf("平仓后券商不应留有持仓: %v", pos)
	}
}

func TestScanExits_SkipsUnpricedAndMinHold(t *testing.T) {
	cfg := testConfig()
	cfg.Exits.MinHoldMinutes = 30
	h := newHarness(t, cfg)

	unpriced := h.record(t, singleLegTrade(2.00, 1))
	fresh := singleLegTrade(2.00, 1)
	fresh.Ticker = "QQQ"
	fresh.Symbol = metadata.OCCSymbol("QQQ", fresh.Expiration, model.OptionCall, 410)
	fresh.EntryTime = testNow.Add(-5 * time.Minute)
	fresh = h.record(t, fresh)
	h.market.setMark(fresh.Symbol, 0.50)

	if out := h.orch.ScanExits(context.Background(), nil); len(out) != 0 {
		t.Fatalf("无报价与未满最短持仓时间的交易不应平仓: %+v", out)
	}
	for _, id := range []string{unpriced.ID, fresh.ID} {
		if tr, _ := h.journal.Get(id); !tr.IsOpen() {
			t.Errorf("%s 不应被平仓", id)
		}
	}
}

func TestEvaluateExit_Order(t *testing.T) {
	h := newHarness(t, testConfig())
	edge := func(score float64, bias model.Direction) func() *adaptive.EdgeResult {
		return func() *adaptive.EdgeResult { return &adaptive.EdgeResult{Score: score, Bias: bias} }
	}

	shortDated := singleLegTrade(2.00, 1)
	shortDated.Expiration = testNow.AddDate(0, 0, 3)

	theta := creditSpreadTrade(1)
	theta.Expiration = testNow.AddDate(0, 0, 15)
	theta.EntryPrice, theta.NetPremium, theta.MaxProfit = 2.00, 2.00, 400

	tests := []struct {
		name   string
		trade  *model.Trade
		mark   float64
		edge   func() *adaptive.EdgeResult
		want   model.ExitReason
		closed bool
	}{
		{"持平不退出", singleLegTrade(2.00, 1), 2.00, edge(60, model.DirectionNeutral), "", false},
		{"止损", singleLegTrade(2.00, 1), 0.90, nil, model.ExitStopLoss, true},
		{"止盈", singleLegTrade(2.00, 1), 4.20, nil, model.ExitTakeProfit, true},
		{"时间退出", shortDated, 2.00, nil, model.ExitTime, true},
		{"theta 加速", theta, 1.30, nil, model.ExitThetaAcceleration, true},
		{"优势恶化", singleLegTrade(2.00, 1), 2.20, edge(30, model.DirectionNeutral), model.ExitEdgeDeterioration, true},
		{"优势恶化需盈利", singleLegTrade(2.00, 1), 1.90, edge(30, model.DirectionBullish), "", false},
		{"体制反转", singleLegTrade(2.00, 1), 1.90, edge(30, model.DirectionBearish), model.ExitRegimeReversal, true},
		{"优势不可用", singleLegTrade(2.00, 1), 2.20, func() *adaptive.EdgeResult { return nil }, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := h.orch.evaluateExit(exitInput{trade: tt.trade, mark: tt.mark, priced: true, now: testNow, edge: tt.edge})
			if ok != tt.closed || got != tt.want {
				t.Fatalf("退出=%q(%v)，期望 %q(%v)", got, ok, tt.want, tt.closed)
			}
		})
	}
}

func TestCloseTrade_CapsToBrokerPosition(t *testing.T) {
	h := newHarness(t, testConfig())
	tr := h.record(t, creditSpreadTrade(2))
	// 券商只剩 1 张空头腿
	h.sim.SetPosition(tr.Legs[0].Symbol, -1)
	h.sim.SetPosition(tr.Legs[1].Symbol, 2)
	h.market.setMark(tr.Legs[0].Symbol, 1.20)
	h.market.setMark(tr.Legs[1].Symbol, 0.40)

	r := h.orch.CloseTrade(context.Background(), tr.ID, model.ExitManual)
	if !r.OK || r.BrokerError != "" || r.Reason != model.ExitManual {
		t.Fatalf("平仓失败: %+v", r)
	}
	sess, _ := h.sim.Session(context.Background())
	orders, _ := h.sim.Orders(context.Background(), sess)
	last := orders[len(orders)-1]
	if last.Legs[0].Quantity != 1 || last.Legs[1].Quantity != 2 {
		t.Fatalf("平仓数量应以券商持仓为上限: %+v", last.Legs)
	}
	// 截断后的成交价不代表整组结构：按报价 1.20 - 0.40 = 0.80 估算
	if !r.Estimated || math.Abs(r.ExitPrice-0.80) > 1e-9 {
		t.Fatalf("截断平仓应按报价估算: exit=%f estimated=%v", r.ExitPrice, r.Estimated)
	}
	if math.Abs(r.PnLDollars-140) > 1e-9 {
		t.Fatalf("盈亏=%f，期望 (1.50-0.80)×2×100=140", r.PnLDollars)
	}
	closed, _ := h.journal.Get(tr.ID)
	if !strings.Contains(strings.Join(closed.Notes, "\n"), NoteCloseCapped) {
		t.Errorf("应写入截断备注: %v", closed.Notes)
	}

	again := h.orch.CloseTrade(context.Background(), tr.ID, model.ExitManual)
	if again.OK || again.Error == "" {
		t.Fatalf("重复平仓应返回失败: %+v", again)
	}
	if missing := h.orch.CloseTrade(context.Background(), "nope", ""); missing.OK {
		t.Fatal("未知交易应返回失败")
	}
}

func TestEvaluateExit_UnpricedOnlyRegimeReversal(t *testing.T) {
	h := newHarness(t, testConfig())
	bearish := func() *adaptive.EdgeResult { return &adaptive.EdgeResult{Score: 20, Bias: model.DirectionBearish} }

	long := singleLegTrade(2.00, 1)
	if got, ok := h.orch.evaluateExit(exitInput{trade: long, priced: false, now: testNow, edge: bearish}); !ok || got != model.ExitRegimeReversal {
		t.Fatalf("无报价时仍应判定体制反转: %q(%v)", got, ok)
	}

	// 已到时间退出，但时间退出依赖报价路径，不应触发
	expiring := singleLegTrade(2.00, 1)
	expiring.Expiration = testNow.AddDate(0, 0, 2)
	neutral := func() *adaptive.EdgeResult { return &adaptive.EdgeResult{Score: 20, Bias: model.DirectionNeutral} }
	if got, ok := h.orch.evaluateExit(exitInput{trade: expiring, priced: false, now: testNow, edge: neutral}); ok {
		t.Fatalf("无报价时不应触发价格类退出: %q", got)
	}
	if _, ok := h.orch.evaluateExit(exitInput{trade: long, priced: false, now: testNow}); ok {
		t.Fatal("无报价且无优势评分时不应退出")
	}
}

func TestApplyEntryFill(t *testing.T) {
	tests := []struct {
		name          string
		trade         *model.Trade
		fill          float64
		wantNet       float64
		wantMaxProfit float64
		wantMaxLoss   float64
	}{
		// 5 点宽信用价差：构建时收 1.50，实际成交 1.40
		{"信用价差", creditSpreadTrade(1), 1.40, 1.40, 140, 360},
		// 单腿多头：最大亏损即支付的权利金
		{"单腿借方", singleLegTrade(2.00, 1), 2.10, -2.10, 0, 210},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			applyEntryFill(tt.trade, tt.fill)
			tr := tt.trade
			if tr.EntryPrice != tt.fill || math.Abs(tr.NetPremium-tt.wantNet) > 1e-9 {
				t.Fatalf("权利金=%f/%f，期望 %f/%f", tr.EntryPrice, tr.NetPremium, tt.fill, tt.wantNet)
			}
			if math.Abs(tr.MaxProfit-tt.wantMaxProfit) > 1e-9 || math.Abs(tr.MaxLoss-tt.wantMaxLoss) > 1e-9 {
				t.Fatalf("最大收益/亏损=%f/%f，期望 %f/%f", tr.MaxProfit, tr.MaxLoss, tt.wantMaxProfit, tt.wantMaxLoss)
			}
		})
	}

	// 宽度恒定：最大收益 + 最大亏损 = 宽度 × 100
	spread := creditSpreadTrade(1)
	applyEntryFill(spread, 1.65)
	if math.Abs(spread.MaxProfit+spread.MaxLoss-500) > 1e-9 {
		t.Errorf("价差宽度不守恒: %f + %f", spread.MaxProfit, spread.MaxLoss)
	}
}

func TestCloseTrade_BrokerFailureUsesEstimate(t *testing.T) {
	h := newHarness(t, testConfig())
	tr := h.record(t, singleLegTrade(2.00, 1))
	h.market.setMark(tr.Symbol, 2.50)
	// 券商没有持仓：平仓单被拒绝，按报价估算记账

	r := h.orch.CloseTrade(context.Background(), tr.ID, model.ExitManual)
	if !r.OK || !r.Estimated || r.BrokerError == "" {
		t.Fatalf("券商失败仍应平仓记账: %+v", r)
	}
	if math.Abs(r.ExitPrice-2.50) > 1e-9 || math.Abs(r.PnLDollars-50) > 1e-9 {
		t.Fatalf("估算平仓价=%f 盈亏=%f", r.ExitPrice, r.PnLDollars)
	}
	closed, _ := h.journal.Get(tr.ID)
	if !strings.HasPrefix(closed.Notes[len(closed.Notes)-1], NoteBrokerFailure) {
		t.Errorf("应写入券商失败备注: %v", closed.Notes)
	}
}

func TestCloseTrade_NoMark(t *testing.T) {
	h := newHarness(t, testConfig())
	tr := h.record(t, singleLegTrade(2.00, 1))
	if r := h.orch.CloseTrade(context.Background(), tr.ID, model.ExitManual); r.OK {
		t.Fatalf("无报价不应平仓: %+v", r)
	}
	if got, _ := h.journal.Get(tr.ID); !got.IsOpen() {
		t.Fatal("交易应保持未平仓")
	}
}

func TestAccountSummary_UnpricedAtEntry(t *testing.T) {
	h := newHarness(t, testConfig())
	h.record(t, singleLegTrade(2.00, 3))
	s := h.orch.AccountSummary(context.Background())
	if s.Unpriced != 1 || s.UnrealizedPnL != 0 || s.OpenPositions != 1 {
		t.Fatalf("无报价持仓应按入场价计值: %+v", s)
	}
	if math.Abs(s.PositionsValue-600) > 1e-9 || math.Abs(s.Cash-(s.Equity-600)) > 1e-9 {
		t.Fatalf("持仓市值或现金错误: %+v", s)
	}
}

// TestAccountSummary_EquityProperty 权益 = 初始资金 + 已实现 + 未实现；现金 = 权益 - 持仓市值
func TestAccountSummary_EquityProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("账户权益恒等式", prop.ForAll(
		func(entry, mark, exit float64, qty int) bool {
			h := newHarness(t, testConfig())
			ctx := context.Background()

			open := h.record(t, singleLegTrade(entry, qty))
			h.market.setMark(open.Symbol, mark)

			done := singleLegTrade(entry, 1)
			done.Ticker = "QQQ"
			done.Symbol = metadata.OCCSymbol("QQQ", done.Expiration, model.OptionPut, 400)
			done = h.record(t, done)
			if _, err := h.journal.CloseTrade(ctx, done.ID, exit, model.ExitManual, testNow); err != nil {
				return false
			}

			s := h.orch.AccountSummary(ctx)
			wantUnrealized := (mark - entry) * float64(qty) * model.ContractMultiplier
			wantRealized := (exit - entry) * model.ContractMultiplier
			return math.Abs(s.UnrealizedPnL-wantUnrealized) < 1e-6 &&
				math.Abs(s.RealizedPnL-wantRealized) < 1e-6 &&
				math.Abs(s.Equity-(s.StartingCapital+s.RealizedPnL+s.UnrealizedPnL)) < 1e-6 &&
				math.Abs(s.Cash-(s.Equity-s.PositionsValue)) < 1e-6
		},
		gen.Float64Range(0.10, 20),
		gen.Float64Range(0.05, 40),
		gen.Float64Range(0.05, 40),
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}

func TestStructureMark(t *testing.T) {
	tr := creditSpreadTrade(1)
	marks := map[string]float64{tr.Legs[0].Symbol: 0.90, tr.Legs[1].Symbol: 0.20}
	tr.IsMultiLeg = true
	if v, ok := structureMark(tr, marks); !ok || math.Abs(v-0.70) > 1e-9 {
		t.Fatalf("信用价差平仓成本=%f(%v)，期望 0.70", v, ok)
	}
	delete(marks, tr.Legs[1].Symbol)
	if _, ok := structureMark(tr, marks); ok {
		t.Fatal("任一腿缺少报价时应不可用")
	}
}

func TestRunCycle_ExecutesSignalsAndPersists(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.AutoTradeEnabled = true
	h := newHarness(t, cfg)
	h.market.snaps["SPY"] = testSnapshot("SPY", 85)
	engine := signal.NewEngine(cfg, h.market, h.layer, zap.NewNop()).
		WithClock(func() time.Time { return testNow }).
		WithOpenKinds(h.orch.OpenKinds)
	h.orch.SetSignals(engine)

	rep := h.orch.RunCycle(context.Background())
	if rep.Surfaced != 1 || len(rep.Executions) != 1 || !rep.Executions[0].OK {
		t.Fatalf("应执行 1 个信号: %+v", rep)
	}
	if n := len(h.journal.OpenTrades()); n != 1 {
		t.Fatalf("应有 1 笔持仓，实际 %d", n)
	}
	executed := 0
	for _, rec := range h.journal.Signals() {
		if rec.Executed {
			executed++
			if rec.TradeID != rep.Executions[0].TradeID {
				t.Errorf("信号日志交易 ID=%s，期望 %s", rec.TradeID, rep.Executions[0].TradeID)
			}
		}
	}
	if executed != 1 {
		t.Fatalf("信号日志应有 1 条已执行记录，实际 %d", executed)
	}
	curve := h.journal.EquityCurve()
	if len(curve) != 1 || curve[0].Equity != rep.Account.Equity {
		t.Fatalf("权益曲线错误: %+v", curve)
	}
	var state adaptive.WeightState
	if ok, err := h.store.Load(context.Background(), storage.KeyWeights, &state); !ok || err != nil {
		t.Fatalf("学习权重应已持久化: %v %v", ok, err)
	}

	// 第二轮：同方向持仓已存在，风控拒绝重复开仓，权益点按日覆盖
	rep = h.orch.RunCycle(context.Background())
	if len(rep.Executions) != 1 || rep.Executions[0].OK {
		t.Fatalf("重复持仓应被拒绝: %+v", rep.Executions)
	}
	if n := len(h.journal.EquityCurve()); n != 1 {
		t.Fatalf("同一天权益点应覆盖，实际 %d", n)
	}
}

func TestRunCycle_AutoTradeDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.AutoTradeEnabled = false
	h := newHarness(t, cfg)
	h.market.snaps["SPY"] = testSnapshot("SPY", 85)
	h.orch.SetSignals(signal.NewEngine(h.cfg, h.market, h.layer, zap.NewNop()).
		WithClock(func() time.Time { return testNow }))

	rep := h.orch.RunCycle(context.Background())
	if rep.Surfaced != 1 || len(rep.Executions) != 0 {
		t.Fatalf("关闭自动交易时只记录信号: %+v", rep)
	}
	if len(h.journal.Trades()) != 0 || len(h.journal.Signals()) < 1 {
		t.Fatal("关闭自动交易不应记账")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.PollIntervalMs = 10
	h := newHarness(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.orch.Run(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run 返回 %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("取消后 Run 应退出")
	}
	if len(h.journal.EquityCurve()) != 1 {
		t.Error("至少应完成一轮")
	}
}
