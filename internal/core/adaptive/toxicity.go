package adaptive

import (
	"math"

	"adaptive-options-engine/internal/core/model"
)

// NeutralToxicity 链数据缺失时的中性毒性（边缘分贡献为 0）
const NeutralToxicity = 1.0 / 3.0

// 毒性子项权重
const (
	turnoverWeight  = 0.4
	imbalanceWeight = 0.3
	skewWeight      = 0.3

	turnoverSaturation = 1.0  // 成交量/持仓 ≥ 1 视为完全知情流
	skewSaturation     = 0.10 // 25Δ put/call IV 差 10 个点视为极端
	wingDelta          = 0.25
)

// ToxicityReading 毒性评分及其构成
type ToxicityReading struct {
	Score     float64 `json:"score"`
	Turnover  float64 `json:"turnover"`
	Imbalance float64 `json:"imbalance"`
	Skew      float64 `json:"skew"`
	Known     bool    `json:"known"`
}

// Toxicity 期权链订单流毒性分析
type Toxicity struct{}

// NewToxicity 创建毒性分析器
func NewToxicity() *Toxicity { return &Toxicity{} }

// Score 计算期权链的订单流毒性（0-1）
// 空链返回 NeutralToxicity
func (x *Toxicity) Score(chain *model.ChainSnapshot) ToxicityReading {
	if chain.IsEmpty() {
		return ToxicityReading{Score: NeutralToxicity}
	}
	var callVol, putVol, oi float64
	for _, r := range chain.Rows {
		callVol += float64(r.Call.Volume)
		putVol += float64(r.Put.Volume)
		oi += float64(r.Call.OpenInterest + r.Put.OpenInterest)
	}
	out := ToxicityReading{Known: true}
	if oi > 0 {
		out.Turnover = clamp((callVol+putVol)/oi/turnoverSaturation, 0, 1)
	} else if callVol+putVol > 0 {
		out.Turnover = 1
	}
	if callVol+putVol > 0 {
		out.Imbalance = math.Abs(callVol-putVol) / (callVol + putVol)
	}
	putIV := nearestDeltaIV(chain, model.OptionPut)
	callIV := nearestDeltaIV(chain, model.OptionCall)
	if putIV > 0 && callIV > 0 {
		out.Skew = clamp(math.Abs(putIV-callIV)/skewSaturation, 0, 1)
	}
	out.Score = turnoverWeight*out.Turnover + imbalanceWeight*out.Imbalance + skewWeight*out.Skew
	return out
}

func nearestDeltaIV(chain *model.ChainSnapshot, t model.OptionType) float64 {
	best := math.Inf(1)
	iv := 0.0
	for _, r := range chain.Rows {
		q := r.Quote(t)
		if q.IV <= 0 {
			continue
		}
		d := math.Abs(math.Abs(q.Delta) - wingDelta)
		if d < best {
			best = d
			iv = q.IV
		}
	}
	return iv
}
