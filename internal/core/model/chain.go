// Package model 定义期权模拟交易引擎中使用的核心数据结构。
// 包含期权链快照、信号、交易、腿、因子评分等核心类型。
package model

import (
	"math"
	"sort"
	"time"
)

// ContractMultiplier 美式股票期权每张合约对应的标的股数
const ContractMultiplier = 100

// Direction 交易方向
type Direction string

const (
	// DirectionBullish 看涨
	DirectionBullish Direction = "bullish"
	// DirectionBearish 看跌
	DirectionBearish Direction = "bearish"
	// DirectionNeutral 中性（波动率类结构）
	DirectionNeutral Direction = "neutral"
)

// OptionType 期权类型
type OptionType string

const (
	// OptionCall 认购
	OptionCall OptionType = "call"
	// OptionPut 认沽
	OptionPut OptionType = "put"
)

// LegAction 单腿动作
type LegAction string

const (
	// BuyToOpen 买入开仓
	BuyToOpen LegAction = "buy_to_open"
	// SellToOpen 卖出开仓
	SellToOpen LegAction = "sell_to_open"
	// BuyToClose 买入平仓
	BuyToClose LegAction = "buy_to_close"
	// SellToClose 卖出平仓
	SellToClose LegAction = "sell_to_close"
)

// Reverse 返回平仓方向的动作
// buy_to_open -> sell_to_close，sell_to_open -> buy_to_close
func (a LegAction) Reverse() LegAction {
	switch a {
	case BuyToOpen:
		return SellToClose
	case SellToOpen:
		return BuyToClose
	case BuyToClose:
		return SellToOpen
	case SellToClose:
		return BuyToOpen
	default:
		return a
	}
}

// IsLong 是否为多头腿（买入开仓）
func (a LegAction) IsLong() bool {
	return a == BuyToOpen || a == SellToClose
}

// OptionQuote 单个合约的行情与希腊值
// 注意：Put 的 Delta 以绝对值存储，聚合前需要翻转符号。
type OptionQuote struct {
	// Delta 价格对标的敏感度（put 为绝对值）
	Delta float64 `json:"delta"`
	// Gamma Delta 对标的敏感度
	Gamma float64 `json:"gamma"`
	// Theta 每日时间衰减
	Theta float64 `json:"theta"`
	// Vega 对隐含波动率敏感度
	Vega float64 `json:"vega"`
	// IV 隐含波动率（小数，如 0.25）
	IV float64 `json:"iv"`
	// Price 合约中间价
	Price float64 `json:"price"`
	// OpenInterest 未平仓合约数
	OpenInterest int64 `json:"open_interest"`
	// Volume 当日成交量
	Volume int64 `json:"volume"`
}

// Liquid 是否满足流动性下限（OI≥50 且价格≥$0.05）
func (q OptionQuote) Liquid() bool {
	return q.OpenInterest >= 50 && q.Price >= 0.05
}

// StrikeRow 期权链中的一个行权价
type StrikeRow struct {
	// Strike 行权价
	Strike float64 `json:"strike"`
	// Call 认购合约
	Call OptionQuote `json:"call"`
	// Put 认沽合约
	Put OptionQuote `json:"put"`
}

// Quote 获取指定类型的合约行情
func (r StrikeRow) Quote(t OptionType) OptionQuote {
	if t == OptionPut {
		return r.Put
	}
	return r.Call
}

// ChainSnapshot 单一到期日的期权链快照
type ChainSnapshot struct {
	// Ticker 标的代码
	Ticker string `json:"ticker"`
	// Underlying 标的价格
	Underlying float64 `json:"underlying"`
	// Expiration 到期日
	Expiration time.Time `json:"expiration"`
	// DTE 剩余天数
	DTE int `json:"dte"`
	// Rows 按行权价升序排列的行
	Rows []StrikeRow `json:"rows"`
	// AsOf 快照时间
	AsOf time.Time `json:"as_of"`
}

// IsEmpty 期权链是否为空（不可用）
func (c *ChainSnapshot) IsEmpty() bool {
	return c == nil || len(c.Rows) == 0
}

// SortRows 按行权价升序排序
func (c *ChainSnapshot) SortRows() {
	if c == nil {
		return
	}
	sort.Slice(c.Rows, func(i, j int) bool { return c.Rows[i].Strike < c.Rows[j].Strike })
}

// ATMIndex 返回最接近标的价格的行索引；空链返回 -1
func (c *ChainSnapshot) ATMIndex() int {
	if c.IsEmpty() {
		return -1
	}
	best := 0
	bestDist := math.Inf(1)
	for i, r := range c.Rows {
		d := math.Abs(r.Strike - c.Underlying)
		if d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best
}

// Find 按行权价查找行
func (c *ChainSnapshot) Find(strike float64) (StrikeRow, bool) {
	if c == nil {
		return StrikeRow{}, false
	}
	for _, r := range c.Rows {
		if math.Abs(r.Strike-strike) < 1e-9 {
			return r, true
		}
	}
	return StrikeRow{}, false
}
