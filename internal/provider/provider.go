// Package provider 行情、期权链与体制数据协作方。
// Gateway 为每次拉取提供独立超时、熔断与命名的中性默认值。
package provider

import (
	"context"

	"adaptive-options-engine/internal/core/model"
)

// IVStats IV Rank 与波动率
type IVStats struct {
	IVRank      float64 `json:"iv_rank"`
	ATMIV       float64 `json:"atm_iv"`
	RealizedVol float64 `json:"realized_vol"`
}

// GEXReading GEX 体制与关键价位
type GEXReading struct {
	Regime          model.GEXRegime `json:"regime"`
	Price           float64         `json:"price"`
	CallWall        float64         `json:"call_wall"`
	PutWall         float64         `json:"put_wall"`
	MaxPain         float64         `json:"max_pain"`
	SqueezeScore    float64         `json:"squeeze_score"`
	SmartMoneyScore float64         `json:"smart_money_score"`
}

// Provider 外部数据源；只读消费，从不修改
type Provider interface {
	Chain(ctx context.Context, ticker string, dteMin, dteMax int) (*model.ChainSnapshot, error)
	IVRank(ctx context.Context, ticker string) (IVStats, error)
	GEX(ctx context.Context, ticker string) (GEXReading, error)
	Combined(ctx context.Context, ticker string) (model.CombinedRegime, error)
	Term(ctx context.Context, ticker string) (model.TermStructure, error)
	Skew(ctx context.Context, ticker string) (model.Skew, error)
	Events(ctx context.Context) ([]model.MacroEvent, error)
	Betas(ctx context.Context, tickers []string) (map[string]float64, error)
	// Marks 按 OCC 代码返回合约中间价；缺失的代码不出现在结果中
	Marks(ctx context.Context, symbols []string) (map[string]float64, error)
}

// 命名的中性默认值
var (
	NeutralIVRank   = IVStats{IVRank: 50}
	NeutralGEX      = GEXReading{Regime: model.GEXRegime{Label: model.GEXNeutral}}
	NeutralCombined = model.CombinedRegime{Label: model.RegimeNeutral, PositionSizeMultiplier: 1}
	FlatTerm        = model.TermStructure{Structure: model.TermFlat}
	FlatSkew        = model.Skew{}
	NeutralBeta     = 1.0
)

// EmptyChain 期权链缺失时的默认值
func EmptyChain(ticker string) *model.ChainSnapshot {
	return &model.ChainSnapshot{Ticker: ticker}
}

// 数据项名称（用于降级标记、熔断与延迟统计）
const (
	ItemChain    = "chain"
	ItemIVRank   = "iv_rank"
	ItemGEX      = "gex"
	ItemCombined = "combined"
	ItemTerm     = "term"
	ItemSkew     = "skew"
	ItemEvents   = "events"
	ItemBetas    = "betas"
	ItemMarks    = "marks"
)

// Result 单次拉取结果；Degraded 时 Value 为命名默认值
type Result[T any] struct {
	Value    T
	Degraded bool
	Err      error
}
