// Package broker 券商账户协作方：会话、持仓、订单与下单。
// 提供 HTTP 客户端与内存模拟账户两种实现。
package broker

import (
	"context"
	"errors"
	"time"

	"adaptive-options-engine/internal/core/model"
)

// OrderType 订单类型
type OrderType string

const (
	// OrderMarket 市价单（单腿开平仓）
	OrderMarket OrderType = "market"
	// OrderLimit 限价单（所有多腿订单）
	OrderLimit OrderType = "limit"
)

// TimeInForce 订单有效期
type TimeInForce string

const (
	// TIFDay 当日有效
	TIFDay TimeInForce = "day"
	// TIFGTC 撤销前有效
	TIFGTC TimeInForce = "gtc"
)

// OrderStatus 订单状态
type OrderStatus string

const (
	StatusFilled   OrderStatus = "filled"
	StatusPending  OrderStatus = "pending"
	StatusRejected OrderStatus = "rejected"
)

// InstrumentOption 期权合约品种
const InstrumentOption = "equity_option"

// ErrNoFill 订单未成交
var ErrNoFill = errors.New("订单未成交")

// Session 券商会话
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Valid 会话在 now 时是否有效
func (s Session) Valid(now time.Time) bool {
	return s.Token != "" && now.Before(s.ExpiresAt)
}

// Position 券商报告的持仓；Quantity 多头为正、空头为负
type Position struct {
	Symbol   string  `json:"symbol"`
	Quantity int     `json:"quantity"`
	AvgPrice float64 `json:"avg_price"`
}

// OrderLeg 订单中的一腿
type OrderLeg struct {
	InstrumentType string          `json:"instrument_type"`
	Symbol         string          `json:"symbol"`
	Quantity       int             `json:"quantity"`
	Action         model.LegAction `json:"action"`
	// Price 引擎估计的单腿中间价（参考价，不作为限价）
	Price float64 `json:"price,omitempty"`
}

// OrderRequest 下单请求
type OrderRequest struct {
	ClientOrderID string      `json:"client_order_id"`
	Legs          []OrderLeg  `json:"legs"`
	Type          OrderType   `json:"order_type"`
	TIF           TimeInForce `json:"time_in_force"`
	// LimitPrice 每单位结构的净价（限价单必填）
	LimitPrice float64 `json:"limit_price,omitempty"`
	// Quantity 结构数量（多腿时每腿数量为单位比例 × Quantity）
	Quantity int `json:"quantity"`
}

// Order 券商订单
type Order struct {
	ID            string      `json:"id"`
	ClientOrderID string      `json:"client_order_id"`
	Status        OrderStatus `json:"status"`
	// FillPrice 每单位结构的成交净价（绝对值）
	FillPrice float64    `json:"fill_price"`
	Legs      []OrderLeg `json:"legs"`
	Type      OrderType  `json:"order_type"`
	CreatedAt time.Time  `json:"created_at"`
}

// Filled 是否已成交
func (o Order) Filled() bool {
	return o.Status == StatusFilled
}

// Broker 券商账户接口
type Broker interface {
	// Session 获取新会话
	Session(ctx context.Context) (Session, error)
	Positions(ctx context.Context, s Session) ([]Position, error)
	Orders(ctx context.Context, s Session) ([]Order, error)
	PlaceOrder(ctx context.Context, s Session, req OrderRequest) (Order, error)
}

// PositionMap 按代码索引持仓
func PositionMap(positions []Position) map[string]Position {
	out := make(map[string]Position, len(positions))
	for _, p := range positions {
		out[p.Symbol] = p
	}
	return out
}

// NetPrice 按腿参考价计算每单位结构的净价
// 返回值为正表示净收入（credit），为负表示净支出（debit）
func NetPrice(legs []OrderLeg, quantity int) float64 {
	if quantity <= 0 {
		quantity = 1
	}
	var net float64
	for _, l := range legs {
		v := l.Price * float64(l.Quantity)
		if isBuy(l.Action) {
			net -= v
		} else {
			net += v
		}
	}
	return net / float64(quantity)
}

func isBuy(a model.LegAction) bool {
	return a == model.BuyToOpen || a == model.BuyToClose
}
