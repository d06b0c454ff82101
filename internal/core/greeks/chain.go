package greeks

import (
	"math"
	"time"

	"adaptive-options-engine/internal/core/model"
)

// ChainParams 合成期权链参数
type ChainParams struct {
	Ticker     string
	Underlying float64
	// IV 平值隐含波动率
	IV float64
	// SkewSlope 每 10% 虚值增加的 IV（put 侧为正偏斜）
	SkewSlope float64
	DTE       int
	// StrikeStep 行权价间距
	StrikeStep float64
	// Strikes 平值两侧各生成的行权价数量
	Strikes int
	Rate    float64
	// OpenInterest / Volume 每个合约的未平仓与成交量
	OpenInterest int64
	Volume       int64
	AsOf         time.Time
}

// SyntheticChain 按 Black-Scholes 生成一条完整期权链
// 用于离线数据源与测试；put delta 以绝对值存储
func SyntheticChain(p ChainParams) *model.ChainSnapshot {
	if p.Underlying <= 0 || p.StrikeStep <= 0 || p.Strikes <= 0 || p.DTE <= 0 {
		return &model.ChainSnapshot{Ticker: p.Ticker, Underlying: p.Underlying, AsOf: p.AsOf}
	}
	T := YearFraction(p.DTE)
	atm := math.Round(p.Underlying/p.StrikeStep) * p.StrikeStep

	rows := make([]model.StrikeRow, 0, 2*p.Strikes+1)
	for i := -p.Strikes; i <= p.Strikes; i++ {
		K := atm + float64(i)*p.StrikeStep
		if K <= 0 {
			continue
		}
		moneyness := (p.Underlying - K) / p.Underlying
		iv := math.Max(p.IV+p.SkewSlope*moneyness*10, 0.05)
		rows = append(rows, model.StrikeRow{
			Strike: K,
			Call:   quote(p, K, T, iv, true),
			Put:    quote(p, K, T, iv, false),
		})
	}

	exp := p.AsOf.AddDate(0, 0, p.DTE)
	return &model.ChainSnapshot{
		Ticker:     p.Ticker,
		Underlying: p.Underlying,
		Expiration: exp,
		DTE:        p.DTE,
		Rows:       rows,
		AsOf:       p.AsOf,
	}
}

func quote(p ChainParams, K, T, iv float64, isCall bool) model.OptionQuote {
	price := Price(p.Underlying, K, T, iv, p.Rate, isCall)
	return model.OptionQuote{
		Delta:        math.Abs(Delta(p.Underlying, K, T, iv, p.Rate, isCall)),
		Gamma:        Gamma(p.Underlying, K, T, iv, p.Rate),
		Theta:        Theta(p.Underlying, K, T, iv, p.Rate, isCall),
		Vega:         Vega(p.Underlying, K, T, iv, p.Rate) / 100,
		IV:           iv,
		Price:        math.Round(price*100) / 100,
		OpenInterest: p.OpenInterest,
		Volume:       p.Volume,
	}
}
