package signal

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"go.uber.org/zap"

	"adaptive-options-engine/internal/config"
	"adaptive-options-engine/internal/core/adaptive"
	"adaptive-options-engine/internal/core/greeks"
	"adaptive-options-engine/internal/core/model"
	"adaptive-options-engine/internal/provider"
	"adaptive-options-engine/internal/stats/ev"
)

var now = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu    sync.Mutex
	snaps map[string]model.MarketSnapshot
}

func (f *fakeSource) Snapshot(_ context.Context, ticker string) model.MarketSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snaps[ticker]
}

func (f *fakeSource) set(s model.MarketSnapshot) {
	f.mu.Lock()
	f.snaps[s.Ticker] = s
	f.mu.Unlock()
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Engine.WatchedTickers = []string{"SPY", "QQQ", "IWM"}
	return cfg
}

func newTestEngine(cfg *config.Config) (*Engine, *fakeSource, *adaptive.Layer) {
	src := &fakeSource{snaps: make(map[string]model.MarketSnapshot)}
	layer := adaptive.NewLayer(cfg, zap.NewNop())
	e := NewEngine(cfg, src, layer, zap.NewNop()).WithClock(func() time.Time { return now })
	return e, src, layer
}

func snapshot(ticker string, ivr float64) model.MarketSnapshot {
	chain := greeks.SyntheticChain(greeks.ChainParams{
		Ticker: ticker, Underlying: 480, IV: 0.22, DTE: 35, StrikeStep: 5, Strikes: 15,
		Rate: 0.045, OpenInterest: 800, Volume: 120, AsOf: now,
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
		AsOf:  now,
	}
}

func TestEvaluate_IVReversionSellPremium(t *testing.T) {
	e, src, _ := newTestEngine(testConfig())
	src.set(snapshot("SPY", 85))

	out := e.Evaluate(context.Background(), []string{"SPY"})
	if len(out.Surfaced) != 1 {
		t.Fatalf("期望 1 个信号，实际 %d (filtered=%d)", len(out.Surfaced), len(out.Filtered))
	}
	s := out.Surfaced[0]
	if s.Type != model.SignalIVReversion || !s.HasTag(model.TagSellPremium) {
		t.Fatalf("期望 sell_premium 的 iv_reversion，实际 %s %v", s.Type, s.Tags)
	}
	if math.Abs(s.RawConfidence-62.5) > 1e-9 || s.Confidence != s.RawConfidence {
		t.Errorf("置信度错误: raw=%f adj=%f", s.RawConfidence, s.Confidence)
	}
	if s.Recommendation == nil || s.Recommendation.Kind != model.KindCreditSpread {
		t.Fatalf("应附带卖出价差推荐: %+v", s.Recommendation)
	}
	if s.Recommendation.TargetDelta != 0.16 || s.Direction != model.DirectionBearish {
		t.Errorf("推荐参数错误: %+v dir=%s", s.Recommendation, s.Direction)
	}
	if s.OptionPrice <= 0 || s.UnderlyingPrice != 480 || s.ID == "" {
		t.Errorf("价格字段未填充: %+v", s)
	}
	if len(s.Factors) != len(model.FactorKeys) {
		t.Errorf("应携带全部因子评分: %v", s.Factors)
	}
	if s.TransitionAction != model.ActionNormal {
		t.Errorf("单一 IV 信号不应触发转换动作: %f", s.TransitionProbability)
	}
}

func TestEvaluate_IVBands(t *testing.T) {
	tests := []struct {
		ivr  float64
		want int
		tag  string
		kind model.StrategyKind
	}{
		{50, 0, "", ""},
		{80, 0, "", ""},
		{20, 0, "", ""},
		{10, 1, model.TagBuyPremium, model.KindDebitSpread},
		{95, 1, model.TagSellPremium, model.KindCreditSpread},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("ivr=%.0f", tt.ivr), func(t *testing.T) {
			e, src, _ := newTestEngine(testConfig())
			src.set(snapshot("SPY", tt.ivr))
			sigs, _ := e.EvaluateSnapshot(src.snaps["SPY"])
			if len(sigs) != tt.want {
				t.Fatalf("期望 %d 个信号，实际 %d", tt.want, len(sigs))
			}
			if tt.want == 0 {
				return
			}
			if !sigs[0].HasTag(tt.tag) || sigs[0].Recommendation.Kind != tt.kind {
				t.Errorf("期望 %s/%s，实际 %v/%s", tt.tag, tt.kind, sigs[0].Tags, sigs[0].Recommendation.Kind)
			}
		})
	}
}

func TestEvaluate_RegimeFlipNeedsPrevious(t *testing.T) {
	e, src, _ := newTestEngine(testConfig())
	snap := snapshot("QQQ", 50)
	snap.Regime.GEX = model.GEXRegime{Label: model.GEXPinned, Confidence: 60}
	src.set(snap)
	if sigs, _ := e.EvaluateSnapshot(snap); len(sigs) != 0 {
		t.Fatalf("首次观察不应产生翻转信号，实际 %d", len(sigs))
	}

	snap.Regime.GEX = model.GEXRegime{Label: model.GEXVolatile, Confidence: 100}
	sigs, _ := e.EvaluateSnapshot(snap)
	if len(sigs) != 1 || sigs[0].Type != model.SignalRegimeFlip {
		t.Fatalf("期望一个翻转信号: %+v", sigs)
	}
	if sigs[0].Direction != model.DirectionBearish || sigs[0].OptionType != model.OptionPut {
		t.Errorf("进入 volatile 应买 put: %s %s", sigs[0].Direction, sigs[0].OptionType)
	}
	if math.Abs(sigs[0].RawConfidence-90) > 1e-9 {
		t.Errorf("置信度应为 90，实际 %f", sigs[0].RawConfidence)
	}

	if sigs, _ := e.EvaluateSnapshot(snap); len(sigs) != 0 {
		t.Error("标签不变不应重复触发")
	}
}

func TestEvaluate_DegradedRegimeKeepsPreviousLabel(t *testing.T) {
	e, _, _ := newTestEngine(testConfig())
	snap := snapshot("QQQ", 50)
	snap.Regime.GEX = model.GEXRegime{Label: model.GEXPinned, Confidence: 60}
	snap.Regime.Combined = model.CombinedRegime{Label: model.RegimeOpportunity, PositionSizeMultiplier: 1}
	e.EvaluateSnapshot(snap)

	// 数据源超时：网关以中性默认值填充并标记降级
	degraded := snap
	degraded.Regime.GEX = provider.NeutralGEX.Regime
	degraded.Regime.Combined = provider.NeutralCombined
	degraded.Degraded = []string{provider.ItemGEX, provider.ItemCombined}
	if sigs, _ := e.EvaluateSnapshot(degraded); len(sigs) != 0 {
		t.Fatalf("降级周期不应产生体制信号: %+v", sigs)
	}

	if sigs, _ := e.EvaluateSnapshot(snap); len(sigs) != 0 {
		t.Fatalf("恢复后体制未变，不应触发 %s dir=%s", sigs[0].Type, sigs[0].Direction)
	}

	snap.Regime.GEX = model.GEXRegime{Label: model.GEXVolatile, Confidence: 100}
	sigs, _ := e.EvaluateSnapshot(snap)
	if len(sigs) != 1 || sigs[0].Type != model.SignalRegimeFlip {
		t.Fatalf("真实翻转仍应触发: %+v", sigs)
	}
}

func TestEvaluate_RegimeShiftScaledByMultiplier(t *testing.T) {
	e, _, _ := newTestEngine(testConfig())
	snap := snapshot("IWM", 50)
	e.EvaluateSnapshot(snap)

	snap.Regime.Combined = model.CombinedRegime{Label: model.RegimeDanger, PositionSizeMultiplier: 0.5}
	sigs, _ := e.EvaluateSnapshot(snap)
	if len(sigs) != 1 || sigs[0].Type != model.SignalRegimeShift {
		t.Fatalf("期望一个转换信号: %+v", sigs)
	}
	if sigs[0].Direction != model.DirectionBearish || sigs[0].RawConfidence != 35 {
		t.Errorf("danger 应看跌且置信度按系数缩放: %s %f", sigs[0].Direction, sigs[0].RawConfidence)
	}
}

func TestEvaluate_MacroEventWindow(t *testing.T) {
	tests := []struct {
		name   string
		event  model.MacroEvent
		signal bool
	}{
		{"窗口内高严重度", model.MacroEvent{Name: "FOMC", At: now.AddDate(0, 0, 2), Severity: 85}, true},
		{"超出窗口", model.MacroEvent{Name: "CPI", At: now.AddDate(0, 0, 5), Severity: 85}, false},
		{"严重度不足", model.MacroEvent{Name: "PPI", At: now.AddDate(0, 0, 1), Severity: 50}, false},
		{"已过去", model.MacroEvent{Name: "NFP", At: now.Add(-time.Hour), Severity: 90}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _, _ := newTestEngine(testConfig())
			snap := snapshot("SPY", 50)
			snap.Events = []model.MacroEvent{tt.event}
			sigs, _ := e.EvaluateSnapshot(snap)
			if got := len(sigs) == 1; got != tt.signal {
				t.Fatalf("期望触发=%v，实际 %d 个信号", tt.signal, len(sigs))
			}
			if tt.signal {
				s := sigs[0]
				if !s.HasTag(model.TagLongVol) || s.Recommendation == nil || s.Recommendation.Kind != model.KindStraddle {
					t.Errorf("宏观信号应做多波动率: %+v", s)
				}
			}
		})
	}
}

func TestEvaluate_MinConfidenceAndCap(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.MaxSignalsPerCycle = 1
	e, src, _ := newTestEngine(cfg)
	src.set(snapshot("SPY", 95)) // 87.5
	src.set(snapshot("QQQ", 85)) // 62.5
	src.set(snapshot("IWM", 81)) // 52.5 < 55

	out := e.Evaluate(context.Background(), []string{"SPY", "QQQ", "IWM"})
	if len(out.Surfaced) != 1 || out.Surfaced[0].Ticker != "SPY" {
		t.Fatalf("应仅保留最高置信度信号: %+v", out.Surfaced)
	}
	reasons := map[string]string{}
	for _, s := range out.Filtered {
		reasons[s.Ticker] = s.FilterReason
	}
	if reasons["QQQ"] != FilterCycleCap || reasons["IWM"] != FilterBelowMinConfidence {
		t.Errorf("过滤原因错误: %v", reasons)
	}
	if len(out.All()) != 3 {
		t.Errorf("All 应包含全部信号，实际 %d", len(out.All()))
	}
}

func TestEvaluate_EVFilter(t *testing.T) {
	cfg := testConfig()
	cfg.Learning.EVFilterEnabled = true
	e, src, layer := newTestEngine(cfg)
	for i := 0; i < cfg.Learning.MinSamples; i++ {
		pnl, pct := -100.0, -50.0
		exit := now.Add(-time.Duration(i+1) * time.Hour)
		layer.Tracker.Add(&model.Trade{
			ID: fmt.Sprintf("t%d", i), SignalType: model.SignalIVReversion, Status: model.StatusClosed,
			ExitTime: &exit, PnLDollars: &pnl, PnLPct: &pct,
		})
	}
	src.set(snapshot("SPY", 95))

	out := e.Evaluate(context.Background(), []string{"SPY"})
	if len(out.Surfaced) != 0 || len(out.Filtered) != 1 {
		t.Fatalf("负期望信号应被过滤: surfaced=%d filtered=%d", len(out.Surfaced), len(out.Filtered))
	}
	if out.Filtered[0].FilterReason != ev.FilterEVNegative {
		t.Errorf("过滤原因应为 %s，实际 %s", ev.FilterEVNegative, out.Filtered[0].FilterReason)
	}
	// 胜率 0 → 系数下限 0.5
	if math.Abs(out.Filtered[0].Confidence-43.75) > 1e-9 {
		t.Errorf("全败历史应将置信度减半，实际 %f", out.Filtered[0].Confidence)
	}
}

func TestEvaluate_MultiLegDisabledDropsRecommendation(t *testing.T) {
	cfg := testConfig()
	cfg.Strategy.MultiLegEnabled = false
	e, src, _ := newTestEngine(cfg)
	src.set(snapshot("SPY", 90))
	sigs, _ := e.EvaluateSnapshot(src.snaps["SPY"])
	if len(sigs) != 1 || sigs[0].Recommendation != nil {
		t.Fatalf("关闭多腿时不应附带推荐: %+v", sigs)
	}
}

func TestEvaluate_NoChainEstimatesPrice(t *testing.T) {
	e, _, _ := newTestEngine(testConfig())
	snap := snapshot("SPY", 90)
	snap.Chain = nil
	snap.Degraded = []string{"chain"}
	sigs, _ := e.EvaluateSnapshot(snap)
	if len(sigs) != 1 {
		t.Fatalf("期望 1 个信号，实际 %d", len(sigs))
	}
	if sigs[0].TargetStrike != 480 || sigs[0].OptionPrice <= 0 {
		t.Errorf("无期权链时应按 ATM 估价: strike=%f price=%f", sigs[0].TargetStrike, sigs[0].OptionPrice)
	}
	if sigs[0].TargetExpiration.Weekday() != time.Friday {
		t.Errorf("到期日应为周五: %s", sigs[0].TargetExpiration)
	}
}

func TestTransitionComposite(t *testing.T) {
	tests := []struct {
		name string
		in   TransitionInputs
		p    float64
		act  model.TransitionAction
	}{
		{"无信号", TransitionInputs{}, 0, model.ActionNormal},
		{"全部满置信", TransitionInputs{Flip: 1, Shift: 1, Macro: 1, IV: 1, Term: 1}, 1, model.ActionHaltNewEntries},
		{"翻转+转换+期限", TransitionInputs{Flip: 1, Shift: 1, Term: 1}, 0.75, model.ActionHalvePositionSizes},
		{"翻转+转换+期限+IV", TransitionInputs{Flip: 1, Shift: 1, Term: 1, IV: 1}, 0.9, model.ActionHaltNewEntries},
		{"仅转换", TransitionInputs{Shift: 1}, 0.3, model.ActionNormal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := TransitionComposite(tt.in)
			if math.Abs(tr.Probability-tt.p) > 1e-9 || tr.Action != tt.act {
				t.Errorf("期望 %f/%s，实际 %f/%s", tt.p, tt.act, tr.Probability, tr.Action)
			}
		})
	}
}

func TestTransitionProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("转换概率在 [0,1] 且动作与阈值一致", prop.ForAll(
		func(a, b, c, d, e float64) bool {
			tr := TransitionComposite(TransitionInputs{Flip: a, Shift: b, Macro: c, IV: d, Term: e})
			if tr.Probability < 0 || tr.Probability > 1 {
				return false
			}
			switch {
			case tr.Probability > 0.8:
				return tr.Action == model.ActionHaltNewEntries
			case tr.Probability > 0.6:
				return tr.Action == model.ActionHalvePositionSizes
			default:
				return tr.Action == model.ActionNormal
			}
		},
		gen.Float64Range(-0.5, 1.5),
		gen.Float64Range(-0.5, 1.5),
		gen.Float64Range(-0.5, 1.5),
		gen.Float64Range(-0.5, 1.5),
		gen.Float64Range(-0.5, 1.5),
	))

	properties.Property("IV 信号置信度随 IV Rank 单调", prop.ForAll(
		func(a, b float64) bool {
			if a > b {
				a, b = b, a
			}
			e, _, _ := newTestEngine(testConfig())
			sa, _ := e.EvaluateSnapshot(snapshot("SPY", a))
			e2, _, _ := newTestEngine(testConfig())
			sb, _ := e2.EvaluateSnapshot(snapshot("SPY", b))
			return len(sa) == 1 && len(sb) == 1 && sa[0].RawConfidence <= sb[0].RawConfidence
		},
		gen.Float64Range(80.01, 100),
		gen.Float64Range(80.01, 100),
	))

	properties.TestingRun(t)
}

func TestTermComponent(t *testing.T) {
	if v := termComponent(model.TermStructure{Structure: model.TermContango, Slope: 0.05}); v != 0 {
		t.Errorf("正常期限结构应为 0，实际 %f", v)
	}
	if v := termComponent(model.TermStructure{Structure: model.TermBackwardation, Slope: -0.03}); math.Abs(v-0.8) > 1e-9 {
		t.Errorf("倒挂 3 个点应为 0.8，实际 %f", v)
	}
}
