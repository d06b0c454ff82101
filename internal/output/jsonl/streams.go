package jsonl

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"adaptive-options-engine/internal/core/model"
)

// 事件类型
const (
	EventSignal      = "signal"
	EventTradeOpen   = "trade_open"
	EventTradeClose  = "trade_close"
	EventMetricsSnap = "metrics"
)

// Event JSONL 事件信封
type Event struct {
	Type string    `json:"type"`
	Ts   time.Time `json:"ts"`
	Data any       `json:"data"`
}

// StreamOptions 启用哪些事件流
type StreamOptions struct {
	Dir        string
	BufferSize int
	Signals    bool
	Trades     bool
	Metrics    bool
}

// Streams 三个追加写入的事件流；未启用的流为 nil，写入时静默忽略
type Streams struct {
	signals *Writer
	trades  *Writer
	metrics *Writer
	logger  *zap.Logger
	now     func() time.Time
}

// OpenStreams 打开事件流文件
// 参数 opts: 目录、缓冲区与启用开关
// 参数 logger: 日志
func OpenStreams(opts StreamOptions, logger *zap.Logger) (*Streams, error) {
	s := &Streams{logger: logger.Named("jsonl"), now: time.Now}
	open := func(enabled bool, name string) (*Writer, error) {
		if !enabled {
			return nil, nil
		}
		w, err := NewWriter(filepath.Join(opts.Dir, name), opts.BufferSize)
		if err != nil {
			return nil, fmt.Errorf("打开 %s 失败: %w", name, err)
		}
		return w, nil
	}

	var err error
	if s.signals, err = open(opts.Signals, "signals.jsonl"); err != nil {
		return nil, err
	}
	if s.trades, err = open(opts.Trades, "trades.jsonl"); err != nil {
		_ = s.Close()
		return nil, err
	}
	if s.metrics, err = open(opts.Metrics, "metrics.jsonl"); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Streams) emit(w *Writer, typ string, data any) {
	if s == nil || w == nil {
		return
	}
	if !w.TryWrite(Event{Type: typ, Ts: s.now().UTC(), Data: data}) {
		s.logger.Warn("事件流缓冲区已满，丢弃记录",
			zap.String("type", typ),
			zap.String("path", w.Path()),
			zap.Int64("dropped", w.Dropped()),
		)
	}
}

// Signal 写入一条已评估信号
func (s *Streams) Signal(sig *model.Signal) {
	if s == nil || sig == nil {
		return
	}
	cp := *sig
	s.emit(s.signals, EventSignal, &cp)
}

// TradeOpened 写入开仓事件
func (s *Streams) TradeOpened(t *model.Trade) {
	if s == nil || t == nil {
		return
	}
	s.emit(s.trades, EventTradeOpen, t.Clone())
}

// TradeClosed 写入平仓事件
func (s *Streams) TradeClosed(t *model.Trade) {
	if s == nil || t == nil {
		return
	}
	s.emit(s.trades, EventTradeClose, t.Clone())
}

// Metrics 写入指标快照
func (s *Streams) Metrics(v any) {
	if s == nil {
		return
	}
	s.emit(s.metrics, EventMetricsSnap, v)
}

// Flush 刷新所有事件流
func (s *Streams) Flush() error {
	if s == nil {
		return nil
	}
	return errors.Join(s.signals.Flush(), s.trades.Flush(), s.metrics.Flush())
}

// Close 关闭所有事件流
func (s *Streams) Close() error {
	if s == nil {
		return nil
	}
	return errors.Join(s.signals.Close(), s.trades.Close(), s.metrics.Close())
}
