package broker

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"adaptive-options-engine/internal/core/model"
)

// Sim 内存模拟账户：按腿参考价立即成交并维护持仓
type Sim struct {
	mu        sync.Mutex
	positions map[string]*Position
	orders    []Order
	sessions  int
	ttl       time.Duration
	failNext  error
	now       func() time.Time
}

// NewSim 创建模拟账户
// 参数 sessionTTL: 会话有效期
func NewSim(sessionTTL time.Duration) *Sim {
	return &Sim{
		positions: make(map[string]*Position),
		ttl:       sessionTTL,
		now:       time.Now,
	}
}

// WithClock 替换时钟（测试用）
func (s *Sim) WithClock(now func() time.Time) *Sim {
	s.now = now
	return s
}

// FailNext 令下一次下单返回错误
func (s *Sim) FailNext(err error) {
	s.mu.Lock()
	s.failNext = err
	s.mu.Unlock()
}

// SessionCount 已签发的会话数
func (s *Sim) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions
}

// SetPosition 直接设置持仓（测试用；quantity 为 0 时删除）
func (s *Sim) SetPosition(symbol string, quantity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if quantity == 0 {
		delete(s.positions, symbol)
		return
	}
	s.positions[symbol] = &Position{Symbol: symbol, Quantity: quantity}
}

// Session 签发会话
func (s *Sim) Session(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions++
	return Session{Token: uuid.NewString(), ExpiresAt: s.now().Add(s.ttl)}, nil
}

func (s *Sim) check(ctx context.Context, sess Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !sess.Valid(s.now()) {
		return fmt.Errorf("会话无效或已过期")
	}
	return nil
}

// Positions 当前持仓（按代码排序无保证）
func (s *Sim) Positions(ctx context.Context, sess Session) ([]Position, error) {
	if err := s.check(ctx, sess); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, *p)
	}
	return out, nil
}

// Orders 全部历史订单
func (s *Sim) Orders(ctx context.Context, sess Session) ([]Order, error) {
	if err := s.check(ctx, sess); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Order(nil), s.orders...), nil
}

// PlaceOrder 立即按参考价成交；平仓数量超过持仓时拒绝
func (s *Sim) PlaceOrder(ctx context.Context, sess Session, req OrderRequest) (Order, error) {
	if err := s.check(ctx, sess); err != nil {
		return Order{}, err
	}
	if len(req.Legs) == 0 {
		return Order{}, fmt.Errorf("订单没有腿")
	}
	if len(req.Legs) > 1 && req.Type != OrderLimit {
		return Order{}, fmt.Errorf("多腿订单必须为限价单")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failNext; err != nil {
		s.failNext = nil
		return Order{}, err
	}

	for _, l := range req.Legs {
		if l.Quantity <= 0 {
			return Order{}, fmt.Errorf("%s: 数量必须为正", l.Symbol)
		}
		if !isClose(l) {
			continue
		}
		held := 0
		if p := s.positions[l.Symbol]; p != nil {
			held = p.Quantity
		}
		// 平多头需持有多头，平空头需持有空头
		if (isBuy(l.Action) && -held < l.Quantity) || (!isBuy(l.Action) && held < l.Quantity) {
			return Order{}, fmt.Errorf("%s: 平仓数量 %d 超过持仓 %d", l.Symbol, l.Quantity, held)
		}
	}

	for _, l := range req.Legs {
		delta := l.Quantity
		if !isBuy(l.Action) {
			delta = -delta
		}
		p := s.positions[l.Symbol]
		if p == nil {
			p = &Position{Symbol: l.Symbol}
			s.positions[l.Symbol] = p
		}
		if !isClose(l) {
			total := math.Abs(float64(p.Quantity)) + float64(l.Quantity)
			p.AvgPrice = (p.AvgPrice*math.Abs(float64(p.Quantity)) + l.Price*float64(l.Quantity)) / total
		}
		p.Quantity += delta
		if p.Quantity == 0 {
			delete(s.positions, l.Symbol)
		}
	}

	qty := req.Quantity
	if qty <= 0 {
		qty = req.Legs[0].Quantity
	}
	id := req.ClientOrderID
	if id == "" {
		id = uuid.NewString()
	}
	o := Order{
		ID:            "sim-" + id,
		ClientOrderID: id,
		Status:        StatusFilled,
		FillPrice:     math.Abs(NetPrice(req.Legs, qty)),
		Legs:          append([]OrderLeg(nil), req.Legs...),
		Type:          req.Type,
		CreatedAt:     s.now(),
	}
	s.orders = append(s.orders, o)
	return o, nil
}

func isClose(l OrderLeg) bool {
	return l.Action == model.BuyToClose || l.Action == model.SellToClose
}
