package adaptive

import (
	"math"

	"adaptive-options-engine/internal/config"
	"adaptive-options-engine/internal/core/model"
	"adaptive-options-engine/internal/stats/ev"
)

// KellyDecision 凯利仓位计算结果
type KellyDecision struct {
	Contracts int     `json:"contracts"`
	RawKelly  float64 `json:"raw_kelly"` // f* = p − (1−p)/b
	Fraction  float64 `json:"fraction"`  // 实际使用的资金比例
	Adverse   bool    `json:"adverse"`
	Learned   bool    `json:"learned"` // 样本是否足够
}

// Kelly 分数凯利仓位计算器
type Kelly struct {
	fraction     float64
	adverseScale float64
	minSamples   int
}

// NewKelly 创建凯利仓位计算器
func NewKelly(cfg config.LearningConfig) *Kelly {
	return &Kelly{
		fraction:     cfg.KellyFraction,
		adverseScale: cfg.AdverseRegimeScale,
		minSamples:   cfg.MinSamples,
	}
}

// IsAdverse 是否为不利体制（波动 GEX、危险或高风险组合体制）
func IsAdverse(r model.RegimeSnapshot) bool {
	if r.GEX.Label == model.GEXVolatile {
		return true
	}
	switch r.Combined.Label {
	case model.RegimeDanger, model.RegimeHighRisk:
		return true
	}
	return false
}

// Contracts 计算合约数
// 参数 stats: 信号类型的历史统计
// 参数 regime: 当前体制快照
// 参数 equity: 账户权益
// 参数 maxLossPerContract: 每张的最大亏损（美元）
// 参数 riskCap: RiskManager 给出的上限
// 返回: 合约数始终在 [1, riskCap] 内
func (k *Kelly) Contracts(stats ev.EVStats, regime model.RegimeSnapshot, equity, maxLossPerContract float64, riskCap int) KellyDecision {
	if riskCap < 1 {
		riskCap = 1
	}
	d := KellyDecision{Contracts: riskCap, Adverse: IsAdverse(regime)}
	if stats.Count < int64(k.minSamples) || stats.Count == 0 {
		if d.Adverse && riskCap > 1 {
			d.Contracts = max(1, int(math.Floor(float64(riskCap)*k.adverseScale)))
		}
		return d
	}
	d.Learned = true

	b := stats.PayoffRatio()
	p := stats.WinRate
	if b <= 0 {
		d.RawKelly = p - (1 - p)
	} else {
		d.RawKelly = p - (1-p)/b
	}
	if d.RawKelly <= 0 || equity <= 0 || maxLossPerContract <= 0 {
		d.Contracts = 1
		return d
	}

	d.Fraction = d.RawKelly * k.fraction
	if d.Adverse {
		d.Fraction *= k.adverseScale
	}
	n := int(math.Floor(equity*d.Fraction/maxLossPerContract + 1e-9))
	d.Contracts = min(max(n, 1), riskCap)
	return d
}
