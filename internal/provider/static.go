package provider

import (
	"context"
	"sync"
	"time"

	"adaptive-options-engine/internal/core/greeks"
	"adaptive-options-engine/internal/core/model"
	"adaptive-options-engine/internal/metadata"
)

// TickerState 离线数据源中单个标的的状态
type TickerState struct {
	Price       float64
	IVRank      float64
	ATMIV       float64
	RealizedVol float64
	// SkewSlope 合成期权链的 put 侧偏斜
	SkewSlope float64
	GEX       GEXReading
	Combined  model.CombinedRegime
	Term      model.TermStructure
	Skew      model.Skew
	Beta      float64
}

// defaultPrices 常见标的的参考价格
var defaultPrices = map[string]float64{
	"SPY":  480,
	"QQQ":  410,
	"IWM":  200,
	"DIA":  380,
	"AAPL": 190,
	"MSFT": 400,
	"NVDA": 700,
	"TSLA": 200,
}

// Static 内存中的离线数据源：按 Black-Scholes 合成期权链与合约报价
// 未配置 provider.base_url 时使用，也用于测试
type Static struct {
	mu     sync.RWMutex
	states map[string]TickerState
	events []model.MacroEvent
	fail   map[string]error
	rate   float64
	now    func() time.Time
}

// NewStatic 创建离线数据源
// 参数 rate: 无风险利率（小数）
func NewStatic(rate float64) *Static {
	return &Static{
		states: make(map[string]TickerState),
		fail:   make(map[string]error),
		rate:   rate,
		now:    time.Now,
	}
}

// WithClock 替换时钟（测试用）
func (s *Static) WithClock(now func() time.Time) *Static {
	s.now = now
	return s
}

// DefaultState 未配置标的的中性状态
func DefaultState(ticker string) TickerState {
	price, ok := defaultPrices[ticker]
	if !ok {
		price = 100
	}
	return TickerState{
		Price:       price,
		IVRank:      50,
		ATMIV:       0.20,
		RealizedVol: 0.18,
		SkewSlope:   0.02,
		GEX:         GEXReading{Regime: model.GEXRegime{Label: model.GEXNeutral, Confidence: 50}, Price: price},
		Combined:    model.CombinedRegime{Label: model.RegimeNeutral, PositionSizeMultiplier: 1},
		Term:        model.TermStructure{FrontIV: 0.20, BackIV: 0.22, Slope: 0.02, Structure: model.TermContango},
		Skew:        model.Skew{Put25: 0.22, Call25: 0.19, Put50: 0.20, Call50: 0.20},
		Beta:        1,
	}
}

// Set 设置标的状态
func (s *Static) Set(ticker string, st TickerState) {
	s.mu.Lock()
	s.states[ticker] = st
	s.mu.Unlock()
}

// Update 基于当前状态修改标的
func (s *Static) Update(ticker string, fn func(*TickerState)) {
	s.mu.Lock()
	st := s.stateLocked(ticker)
	fn(&st)
	s.states[ticker] = st
	s.mu.Unlock()
}

// SetEvents 设置宏观日历
func (s *Static) SetEvents(events []model.MacroEvent) {
	s.mu.Lock()
	s.events = append([]model.MacroEvent(nil), events...)
	s.mu.Unlock()
}

// Fail 令指定数据项返回错误；err 为 nil 时恢复
func (s *Static) Fail(item string, err error) {
	s.mu.Lock()
	if err == nil {
		delete(s.fail, item)
	} else {
		s.fail[item] = err
	}
	s.mu.Unlock()
}

func (s *Static) stateLocked(ticker string) TickerState {
	if st, ok := s.states[ticker]; ok {
		return st
	}
	return DefaultState(ticker)
}

func (s *Static) state(ctx context.Context, item, ticker string) (TickerState, error) {
	if err := ctx.Err(); err != nil {
		return TickerState{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail[item]; err != nil {
		return TickerState{}, err
	}
	return s.stateLocked(ticker), nil
}

// strikeStep 按价格选择行权价间距
func strikeStep(price float64) float64 {
	switch {
	case price >= 200:
		return 5
	case price >= 50:
		return 1
	default:
		return 0.5
	}
}

// Chain 合成期权链（到期日取区间中点）
func (s *Static) Chain(ctx context.Context, ticker string, dteMin, dteMax int) (*model.ChainSnapshot, error) {
	st, err := s.state(ctx, ItemChain, ticker)
	if err != nil {
		return nil, err
	}
	return greeks.SyntheticChain(greeks.ChainParams{
		Ticker:       ticker,
		Underlying:   st.Price,
		IV:           st.ATMIV,
		SkewSlope:    st.SkewSlope,
		DTE:          (dteMin + dteMax) / 2,
		StrikeStep:   strikeStep(st.Price),
		Strikes:      20,
		Rate:         s.rate,
		OpenInterest: 1000,
		Volume:       200,
		AsOf:         s.now(),
	}), nil
}

// IVRank IV Rank
func (s *Static) IVRank(ctx context.Context, ticker string) (IVStats, error) {
	st, err := s.state(ctx, ItemIVRank, ticker)
	if err != nil {
		return IVStats{}, err
	}
	return IVStats{IVRank: st.IVRank, ATMIV: st.ATMIV, RealizedVol: st.RealizedVol}, nil
}

// GEX GEX 体制
func (s *Static) GEX(ctx context.Context, ticker string) (GEXReading, error) {
	st, err := s.state(ctx, ItemGEX, ticker)
	if err != nil {
		return GEXReading{}, err
	}
	g := st.GEX
	if g.Price <= 0 {
		g.Price = st.Price
	}
	return g, nil
}

// Combined 组合体制
func (s *Static) Combined(ctx context.Context, ticker string) (model.CombinedRegime, error) {
	st, err := s.state(ctx, ItemCombined, ticker)
	return st.Combined, err
}

// Term 期限结构
func (s *Static) Term(ctx context.Context, ticker string) (model.TermStructure, error) {
	st, err := s.state(ctx, ItemTerm, ticker)
	return st.Term, err
}

// Skew 偏斜
func (s *Static) Skew(ctx context.Context, ticker string) (model.Skew, error) {
	st, err := s.state(ctx, ItemSkew, ticker)
	return st.Skew, err
}

// Events 宏观日历
func (s *Static) Events(ctx context.Context) ([]model.MacroEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail[ItemEvents]; err != nil {
		return nil, err
	}
	return append([]model.MacroEvent(nil), s.events...), nil
}

// Betas 标的 beta
func (s *Static) Betas(ctx context.Context, tickers []string) (map[string]float64, error) {
	out := make(map[string]float64, len(tickers))
	for _, t := range tickers {
		st, err := s.state(ctx, ItemBetas, t)
		if err != nil {
			return nil, err
		}
		out[t] = st.Beta
	}
	return out, nil
}

// Marks 按当前标的价格与 ATM IV 计算合约理论价
func (s *Static) Marks(ctx context.Context, symbols []string) (map[string]float64, error) {
	now := s.now()
	out := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		c, err := metadata.ParseOCC(sym)
		if err != nil {
			continue
		}
		st, err := s.state(ctx, ItemMarks, c.Root)
		if err != nil {
			return nil, err
		}
		T := greeks.YearFraction(model.DaysBetween(now, c.Expiration))
		out[sym] = greeks.Price(st.Price, c.Strike, T, st.ATMIV, s.rate, c.Type == model.OptionCall)
	}
	return out, nil
}
