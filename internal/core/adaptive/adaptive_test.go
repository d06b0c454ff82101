package adaptive

import (
	"fmt"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"adaptive-options-engine/internal/config"
	"adaptive-options-engine/internal/core/greeks"
	"adaptive-options-engine/internal/core/model"
	"adaptive-options-engine/internal/stats/ev"
)

var baseTime = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Engine.WatchedTickers = []string{"SPY"}
	return cfg
}

// closedTrade 构造一笔已平仓交易；pnlPct 同时决定盈亏方向
func closedTrade(i int, st model.SignalType, kind model.StrategyKind, pnlPct float64, dteAtExit int, factors model.FactorScores) *model.Trade {
	exit := baseTime.Add(time.Duration(i) * time.Hour)
	pnl := pnlPct * 2
	pct := pnlPct
	return &model.Trade{
		ID:                fmt.Sprintf("20260302-%03d", i+1),
		SignalType:        st,
		Kind:              kind,
		Ticker:            "SPY",
		Status:            model.StatusClosed,
		EntryPrice:        2,
		Quantity:          1,
		EntryTime:         exit.Add(-24 * time.Hour),
		Expiration:        exit.AddDate(0, 0, dteAtExit),
		EntryFactorScores: factors,
		ExitTime:          &exit,
		ExitPrice:         new(float64),
		ExitReason:        model.ExitManual,
		PnLDollars:        &pnl,
		PnLPct:            &pct,
	}
}

func TestTracker_Multiplier(t *testing.T) {
	cfg := testConfig()
	tr := NewTracker(cfg.Learning)

	if m := tr.Multiplier(model.SignalIVReversion); m != 1 {
		t.Fatalf("无样本时系数应为 1，实际 %f", m)
	}
	for i := 0; i < 9; i++ {
		tr.Add(closedTrade(i, model.SignalIVReversion, model.KindCreditSpread, 20, 10, nil))
	}
	if m := tr.Multiplier(model.SignalIVReversion); m != 1 {
		t.Fatalf("样本不足时系数应为 1，实际 %f", m)
	}

	tr.Add(closedTrade(9, model.SignalIVReversion, model.KindCreditSpread, -30, 10, nil))
	// 9/10 胜率 → 1.8 截断到 1.5
	if m := tr.Multiplier(model.SignalIVReversion); m != maxMultiplier {
		t.Errorf("高胜率系数应截断到 %f，实际 %f", maxMultiplier, m)
	}
	if c := tr.Adjust(model.SignalIVReversion, 80); c != maxConfidence {
		t.Errorf("调整后置信度应截断到 99，实际 %f", c)
	}

	for i := 0; i < 10; i++ {
		pct := -10.0
		if i < 4 {
			pct = 10
		}
		tr.Add(closedTrade(i, model.SignalRegimeFlip, model.KindSingle, pct, 10, nil))
	}
	// 4/10 → 0.8
	if c := tr.Adjust(model.SignalRegimeFlip, 50); math.Abs(c-40) > 1e-9 {
		t.Errorf("期望 40，实际 %f", c)
	}
	if c := tr.Adjust(model.SignalMacroEvent, 5); c != minConfidence {
		t.Errorf("置信度下限应为 10，实际 %f", c)
	}
}

func TestTracker_IgnoresOpenTrades(t *testing.T) {
	tr := NewTracker(testConfig().Learning)
	open := &model.Trade{ID: "x", SignalType: model.SignalIVReversion, Status: model.StatusOpen}
	tr.Add(open)
	if s := tr.Stats(model.SignalIVReversion); s.Count != 0 {
		t.Fatalf("未平仓交易不应计入，实际 %d", s.Count)
	}
}

func TestExitEngine_DefaultsBelowMinSamples(t *testing.T) {
	cfg := testConfig()
	e := NewExitEngine(cfg.Exits, cfg.Learning)
	e.Observe(closedTrade(0, model.SignalIVReversion, model.KindCreditSpread, 40, 10, nil))

	p := e.Params(model.KindCreditSpread, model.SignalIVReversion)
	if p.StopLossPct != cfg.Exits.StopLossPct || p.TakeProfitPct != cfg.Exits.TakeProfitPct || p.TimeExitDTE != cfg.Exits.TimeExitDTE {
		t.Fatalf("样本不足应返回默认值: %+v", p)
	}
	if p.Samples != 0 {
		t.Errorf("默认值的 Samples 应为 0，实际 %d", p.Samples)
	}
}

func TestExitEngine_LearnsFromCohort(t *testing.T) {
	cfg := testConfig()
	e := NewExitEngine(cfg.Exits, cfg.Learning)
	var trades []*model.Trade
	for i, pct := range []float64{20, 40, 60, 80, 100, 120} {
		trades = append(trades, closedTrade(i, model.SignalIVReversion, model.KindCreditSpread, pct, 10, nil))
	}
	for i, pct := range []float64{-20, -40, -60, -80} {
		trades = append(trades, closedTrade(10+i, model.SignalIVReversion, model.KindCreditSpread, pct, 3, nil))
	}
	// 其他 cohort 不影响
	trades = append(trades, closedTrade(30, model.SignalRegimeFlip, model.KindCreditSpread, -5, 1, nil))
	e.Rebuild(trades)

	p := e.Params(model.KindCreditSpread, model.SignalIVReversion)
	if p.Samples != 10 {
		t.Fatalf("期望 10 个样本，实际 %d", p.Samples)
	}
	if p.StopLossPct != -80 {
		t.Errorf("止损应为亏损 25 分位 -80，实际 %f", p.StopLossPct)
	}
	if p.TakeProfitPct != 80 {
		t.Errorf("止盈应为盈利 60 分位 80，实际 %f", p.TakeProfitPct)
	}
	if p.TimeExitDTE != 10 {
		t.Errorf("时间退出应为 10，实际 %d", p.TimeExitDTE)
	}
}

func TestExitEngine_ClampsLearnedValues(t *testing.T) {
	cfg := testConfig()
	e := NewExitEngine(cfg.Exits, cfg.Learning)
	for i := 0; i < 5; i++ {
		e.Observe(closedTrade(i, model.SignalMacroEvent, model.KindStraddle, -2, 0, nil))
		e.Observe(closedTrade(10+i, model.SignalMacroEvent, model.KindStraddle, 500, 40, nil))
	}
	p := e.Params(model.KindStraddle, model.SignalMacroEvent)
	if p.StopLossPct != maxLearnedStop || p.TakeProfitPct != maxLearnedTP || p.TimeExitDTE != int(maxLearnedDTE) {
		t.Fatalf("学习值应被截断: %+v", p)
	}
}

func TestKelly_Contracts(t *testing.T) {
	cfg := testConfig()
	k := NewKelly(cfg.Learning)
	neutral := model.RegimeSnapshot{}
	adverse := model.RegimeSnapshot{Combined: model.CombinedRegime{Label: model.RegimeDanger}}
	good := ev.EVStats{Count: 20, WinRate: 0.6, AvgProfit: 50, AvgLoss: 25}
	bad := ev.EVStats{Count: 20, WinRate: 0.3, AvgProfit: 20, AvgLoss: 40}

	tests := []struct {
		name   string
		stats  ev.EVStats
		regime model.RegimeSnapshot
		cap    int
		want   int
	}{
		{"样本不足使用风控上限", ev.EVStats{Count: 3, WinRate: 1}, neutral, 6, 6},
		{"样本不足且不利体制减半", ev.EVStats{Count: 3}, adverse, 6, 3},
		{"凯利受风控上限约束", good, neutral, 8, 8},
		{"凯利 0.4×0.25 → 10 张", good, neutral, 20, 10},
		{"不利体制再减半", good, adverse, 20, 5},
		{"负凯利取 1 张", bad, neutral, 20, 1},
		{"上限非正按 1", good, neutral, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := k.Contracts(tt.stats, tt.regime, 50000, 500, tt.cap)
			if d.Contracts != tt.want {
				t.Errorf("期望 %d，实际 %d (%+v)", tt.want, d.Contracts, d)
			}
		})
	}
}

func TestToxicity_Score(t *testing.T) {
	x := NewToxicity()
	if r := x.Score(nil); r.Score != NeutralToxicity || r.Known {
		t.Fatalf("空链应返回中性毒性: %+v", r)
	}

	calm := greeks.SyntheticChain(greeks.ChainParams{
		Ticker: "SPY", Underlying: 500, IV: 0.2, DTE: 30, StrikeStep: 5, Strikes: 10,
		Rate: 0.045, OpenInterest: 1000, Volume: 100, AsOf: baseTime,
	})
	toxic := greeks.SyntheticChain(greeks.ChainParams{
		Ticker: "SPY", Underlying: 500, IV: 0.2, SkewSlope: 0.1, DTE: 30, StrikeStep: 5, Strikes: 10,
		Rate: 0.045, OpenInterest: 100, Volume: 500, AsOf: baseTime,
	})
	rc, rt := x.Score(calm), x.Score(toxic)
	if !rc.Known || rc.Score < 0 || rc.Score > 1 {
		t.Fatalf("毒性应在 [0,1]: %+v", rc)
	}
	if rt.Score <= rc.Score {
		t.Errorf("高换手且偏斜的链毒性应更高: calm=%f toxic=%f", rc.Score, rt.Score)
	}
	if math.Abs(rc.Turnover-0.1) > 1e-9 {
		t.Errorf("换手率应为 0.1，实际 %f", rc.Turnover)
	}
}

func TestEdgeEngine_Score(t *testing.T) {
	e := NewEdgeEngine()
	bullish := model.RegimeSnapshot{
		GEX:             model.GEXRegime{Label: model.GEXPinned},
		Combined:        model.CombinedRegime{Label: model.RegimeOpportunity},
		Term:            model.TermStructure{Structure: model.TermContango},
		ATMIV:           0.25,
		RealizedVol:     0.18,
		SmartMoneyScore: 70,
	}
	r := e.Score(EdgeInput{Regime: bullish, Toxicity: NeutralToxicity})
	// 50 + 25 + 14 + 0 + 5 + 3
	if math.Abs(r.Score-97) > 1e-6 {
		t.Errorf("期望 97，实际 %f (%v)", r.Score, r.Components)
	}
	if r.Bias != model.DirectionBullish {
		t.Errorf("期望看涨偏向，实际 %s", r.Bias)
	}

	bearish := model.RegimeSnapshot{
		GEX:      model.GEXRegime{Label: model.GEXVolatile},
		Combined: model.CombinedRegime{Label: model.RegimeDanger},
		Term:     model.TermStructure{Structure: model.TermBackwardation},
		Skew:     model.Skew{Put25: 0.35, Call25: 0.2},
	}
	r = e.Score(EdgeInput{Regime: bearish, Toxicity: 0.9})
	if r.Score >= MinEdge {
		t.Errorf("危险体制边缘分应低于 %f，实际 %f", MinEdge, r.Score)
	}
	if r.Bias != model.DirectionBearish {
		t.Errorf("期望看跌偏向，实际 %s", r.Bias)
	}
}

func TestSelector_Select(t *testing.T) {
	sel := NewSelector(testConfig().Strategy)
	edge := func(score float64, bias model.Direction) EdgeResult {
		return EdgeResult{Score: score, Bias: bias}
	}

	tests := []struct {
		name string
		in   SelectInput
		kind model.StrategyKind
		dir  model.Direction
	}{
		{"无优势返回观望", SelectInput{IVRank: 85, Edge: edge(30, model.DirectionNeutral)}, model.KindWait, model.DirectionNeutral},
		{"高 IV 无方向铁鹰", SelectInput{IVRank: 85, Edge: edge(80, model.DirectionNeutral)}, model.KindIronCondor, model.DirectionNeutral},
		{"高 IV 看涨卖出价差", SelectInput{IVRank: 85, Edge: edge(80, model.DirectionBullish)}, model.KindCreditSpread, model.DirectionBullish},
		{"偏高 IV 钉住铁蝶", SelectInput{IVRank: 60, Edge: edge(70, model.DirectionNeutral), Regime: model.RegimeSnapshot{GEX: model.GEXRegime{Label: model.GEXPinned}}}, model.KindIronButterfly, model.DirectionNeutral},
		{"低 IV 看跌买入价差", SelectInput{IVRank: 15, Edge: edge(60, model.DirectionBearish)}, model.KindDebitSpread, model.DirectionBearish},
		{"低 IV 无方向跨式", SelectInput{IVRank: 15, Edge: edge(60, model.DirectionNeutral)}, model.KindStraddle, model.DirectionNeutral},
		{"中性 IV 有方向比率价差", SelectInput{IVRank: 40, Edge: edge(60, model.DirectionBullish)}, model.KindRatioSpread, model.DirectionBullish},
		{"已持有铁鹰时分散", SelectInput{IVRank: 85, Edge: edge(80, model.DirectionNeutral), OpenKinds: map[model.StrategyKind]int{model.KindIronCondor: 1}}, model.KindCreditSpread, model.DirectionBearish},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs := sel.Select(tt.in)
			best := Best(recs)
			if best.Kind != tt.kind || best.Direction != tt.dir {
				t.Fatalf("期望 %s/%s，实际 %s/%s (%+v)", tt.kind, tt.dir, best.Kind, best.Direction, recs)
			}
			for i := 1; i < len(recs); i++ {
				if recs[i].Score > recs[i-1].Score {
					t.Errorf("候选应按评分降序: %+v", recs)
				}
			}
			if best.Kind != model.KindWait {
				lo, hi := testConfig().Strategy.DTERange()
				if best.DTEMin != lo || best.DTEMax != hi {
					t.Errorf("DTE 区间错误: [%d,%d]", best.DTEMin, best.DTEMax)
				}
			}
		})
	}
}

func TestSelector_ToxicityPenalisesShortPremium(t *testing.T) {
	sel := NewSelector(testConfig().Strategy)
	in := SelectInput{IVRank: 60, Edge: EdgeResult{Score: 70, Bias: model.DirectionBullish}}
	calm := Best(sel.Select(in))
	in.Toxicity = 0.9
	toxic := Best(sel.Select(in))
	if toxic.Score >= calm.Score {
		t.Errorf("高毒性应降低卖方策略评分: calm=%f toxic=%f", calm.Score, toxic.Score)
	}
}

func TestFactorsFromRegime(t *testing.T) {
	r := model.RegimeSnapshot{
		Price:           100,
		PutWall:         95,
		CallWall:        105,
		MaxPain:         102,
		SqueezeScore:    80,
		SmartMoneyScore: 30,
		Term:            model.TermStructure{Structure: model.TermContango},
	}
	f := FactorsFromRegime(r, 60)
	for _, k := range model.FactorKeys {
		v, ok := f[k]
		if !ok {
			t.Fatalf("缺少因子 %s", k)
		}
		if v < 0 || v > 100 {
			t.Errorf("因子 %s 超出范围: %f", k, v)
		}
	}
	if f[model.FactorPriceVsWalls] != 50 {
		t.Errorf("价格位于两墙中间应为 50，实际 %f", f[model.FactorPriceVsWalls])
	}
	if math.Abs(f[model.FactorPriceVsMaxPain]-70) > 1e-9 {
		t.Errorf("最大痛点在上方 2%% 应为 70，实际 %f", f[model.FactorPriceVsMaxPain])
	}

	bear := OrientFactors(f, model.DirectionBearish)
	if bear[model.FactorSqueeze] != 20 || bear[model.FactorTerm] != f[model.FactorTerm] {
		t.Errorf("看跌定向错误: %v", bear)
	}
	if f[model.FactorSqueeze] != 80 {
		t.Error("OrientFactors 不应修改原值")
	}
}

func TestLayer_ObserveAndRebuild(t *testing.T) {
	cfg := testConfig()
	l := NewLayer(cfg, zap.NewNop())
	factors := model.FactorScores{model.FactorDealerFlow: 80}
	var trades []*model.Trade
	for i := 0; i < 12; i++ {
		tr := closedTrade(i, model.SignalIVReversion, model.KindCreditSpread, 30, 8, factors)
		trades = append(trades, tr)
		l.Observe(tr)
	}
	before := l.Weights.State()
	l.Rebuild(trades)
	after := l.Weights.State()
	if before.Posteriors[model.FactorDealerFlow] != after.Posteriors[model.FactorDealerFlow] || before.Updates != after.Updates {
		t.Fatalf("重建应复现增量状态: %+v vs %+v", before, after)
	}
	if s := l.Tracker.Stats(model.SignalIVReversion); s.Count != 12 {
		t.Errorf("重建后样本数应为 12，实际 %d", s.Count)
	}
	if p := l.Exits.Params(model.KindCreditSpread, model.SignalIVReversion); p.Samples != 12 {
		t.Errorf("退出参数样本数应为 12，实际 %d", p.Samples)
	}
}
