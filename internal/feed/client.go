// Package feed 实现期权合约实时报价的 WebSocket 客户端。
// 订阅频道: quotes（按 OCC 代码）
// 心跳机制: 文本 ping/pong，间隔与超时取自 feed 配置
// 收到的中间价写入编排器的报价缓存。
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"adaptive-options-engine/internal/config"
	"adaptive-options-engine/internal/util/backoff"
	"adaptive-options-engine/internal/util/timeutil"
)

// MarkSink 报价写入目标（store.Keyed[float64] 满足该接口）
type MarkSink interface {
	Set(key string, v float64)
}

// Client 实时报价客户端
type Client struct {
	cfg    config.FeedConfig
	sink   MarkSink
	logger *zap.Logger

	conn   *websocket.Conn
	connMu sync.Mutex

	symMu   sync.Mutex
	symbols map[string]struct{}

	metrics   ConnectionMetrics
	metricsMu sync.RWMutex

	lastMsgTime    int64
	lastPingSentNs int64
	lastPongRecvNs int64
	updateCount    int64

	backoff *backoff.Backoff
	closed  int32

	parseErrSampleCount uint64
}

// NewClient 创建报价客户端
// 参数 cfg: feed 配置（URL 为空时不应启动）
// 参数 sink: 报价写入目标
func NewClient(cfg config.FeedConfig, sink MarkSink, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		sink:    sink,
		logger:  logger.Named("feed"),
		symbols: make(map[string]struct{}),
		backoff: backoff.NewDefault(),
	}
}

// Connect 建立 WebSocket 连接
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	header := http.Header{}
	header.Set("User-Agent", "adaptive-options-engine/1.0")
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("连接报价 WebSocket 失败: %w", err)
	}
	c.conn = conn
	c.backoff.Reset()
	c.logger.Info("报价 WebSocket 连接成功", zap.String("url", c.cfg.URL))
	return nil
}

// SetSymbols 替换订阅集合；已连接时立即发送增量订阅与退订
func (c *Client) SetSymbols(symbols []string) error {
	want := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		if s != "" {
			want[s] = struct{}{}
		}
	}

	c.symMu.Lock()
	var add, remove []string
	for s := range want {
		if _, ok := c.symbols[s]; !ok {
			add = append(add, s)
		}
	}
	for s := range c.symbols {
		if _, ok := want[s]; !ok {
			remove = append(remove, s)
		}
	}
	c.symbols = want
	c.symMu.Unlock()

	if err := c.send("unsubscribe", remove); err != nil {
		return err
	}
	return c.send("subscribe", add)
}

// Symbols 当前订阅集合（排序）
func (c *Client) Symbols() []string {
	c.symMu.Lock()
	defer c.symMu.Unlock()
	out := make([]string, 0, len(c.symbols))
	for s := range c.symbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// send 发送订阅类请求；未连接时忽略（重连后全量订阅）
func (c *Client) send(op string, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	sort.Strings(symbols)
	args := make([]SubscribeArg, 0, len(symbols))
	for _, s := range symbols {
		args = append(args, SubscribeArg{Channel: "quotes", Symbol: s})
	}
	data, err := json.Marshal(SubscribeRequest{Op: op, Args: args})
	if err != nil {
		return fmt.Errorf("序列化订阅请求失败: %w", err)
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return nil
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("发送订阅请求失败: %w", err)
	}
	c.logger.Debug("订阅请求已发送", zap.String("op", op), zap.Int("symbols", len(args)))
	return nil
}

// Run 启动主循环，直到 ctx 取消或 Close
func (c *Client) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		c.closeConn()
	}()
	go c.heartbeatLoop(ctx)

	if err := c.Connect(ctx); err != nil {
		c.logger.Warn("首次连接失败，进入重连", zap.Error(err))
	} else if err := c.send("subscribe", c.Symbols()); err != nil {
		c.logger.Warn("订阅失败", zap.Error(err))
	}
	c.readLoop(ctx)
}

// readLoop 持续读取消息并写入报价缓存
func (c *Client) readLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil || atomic.LoadInt32(&c.closed) == 1 {
			return
		}

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			c.reconnect(ctx)
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || atomic.LoadInt32(&c.closed) == 1 {
				return
			}
			c.logger.Warn("读取报价消息失败", zap.Error(err))
			c.incrementReconnectCount()
			c.reconnect(ctx)
			continue
		}

		nowNs := time.Now().UnixNano()
		atomic.StoreInt64(&c.lastMsgTime, nowNs)

		if IsPong(data) {
			atomic.StoreInt64(&c.lastPongRecvNs, nowNs)
			if lastPing := atomic.LoadInt64(&c.lastPingSentNs); lastPing > 0 {
				c.metricsMu.Lock()
				c.metrics.WsRttMs = (nowNs - lastPing) / 1_000_000
				c.metricsMu.Unlock()
			}
			continue
		}
		if IsSubscribeResponse(data) {
			c.logger.Debug("收到订阅响应", zap.ByteString("data", data))
			continue
		}

		marks, err := Parse(data)
		if err != nil {
			c.incrementParseErrorCount()
			c.maybeLogParseError(err, data)
			continue
		}
		for _, m := range marks {
			c.sink.Set(m.Symbol, m.Price)
			atomic.AddInt64(&c.updateCount, 1)
		}
	}
}

// heartbeatLoop 定时发送 ping，超时未收到 pong 时断开触发重连
func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(timeutil.Ms(c.cfg.PingIntervalMs))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if atomic.LoadInt32(&c.closed) == 1 {
				return
			}

			// 检查上一次 ping 是否按期返回
			lastPing := atomic.LoadInt64(&c.lastPingSentNs)
			lastPong := atomic.LoadInt64(&c.lastPongRecvNs)
			if lastPing > 0 && lastPong < lastPing &&
				time.Now().UnixNano()-lastPing > int64(timeutil.Ms(c.cfg.PongTimeoutMs)) {
				c.logger.Warn("报价心跳超时，触发重连")
				c.incrementReconnectCount()
				c.closeConn()
				continue
			}

			c.connMu.Lock()
			conn := c.conn
			if conn == nil {
				c.connMu.Unlock()
				continue
			}
			// gorilla/websocket 不允许并发写，写入由 connMu 串行化
			pingTime := time.Now().UnixNano()
			err := conn.WriteMessage(websocket.TextMessage, []byte("ping"))
			c.connMu.Unlock()
			if err != nil {
				c.logger.Warn("发送 ping 失败", zap.Error(err))
				continue
			}
			atomic.StoreInt64(&c.lastPingSentNs, pingTime)
		}
	}
}

// reconnect 按退避等待后重连并全量订阅
func (c *Client) reconnect(ctx context.Context) {
	c.closeConn()

	delay := c.backoff.Next()
	c.logger.Info("报价准备重连", zap.Duration("delay", delay))
	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}

	if err := c.Connect(ctx); err != nil {
		c.logger.Error("报价重连失败", zap.Error(err))
		return
	}
	atomic.StoreInt64(&c.lastPingSentNs, 0)
	atomic.StoreInt64(&c.lastPongRecvNs, 0)
	if err := c.send("subscribe", c.Symbols()); err != nil {
		c.logger.Error("报价重新订阅失败", zap.Error(err))
	}
}

func (c *Client) closeConn() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Close 关闭客户端
func (c *Client) Close() error {
	atomic.StoreInt32(&c.closed, 1)
	c.closeConn()
	c.logger.Info("报价客户端已关闭")
	return nil
}

// Metrics 连接指标快照
func (c *Client) Metrics() ConnectionMetrics {
	c.metricsMu.RLock()
	m := c.metrics
	c.metricsMu.RUnlock()
	m.Updates = atomic.LoadInt64(&c.updateCount)
	if last := atomic.LoadInt64(&c.lastMsgTime); last > 0 {
		m.LastMessageAgeMs = (time.Now().UnixNano() - last) / 1_000_000
	}
	return m
}

func (c *Client) incrementReconnectCount() {
	c.metricsMu.Lock()
	c.metrics.ReconnectCount++
	c.metricsMu.Unlock()
}

func (c *Client) incrementParseErrorCount() {
	c.metricsMu.Lock()
	c.metrics.ParseErrorCount++
	c.metricsMu.Unlock()
}

// maybeLogParseError 每 100 次解析错误记录 1 条原始消息
func (c *Client) maybeLogParseError(err error, data []byte) {
	if atomic.AddUint64(&c.parseErrSampleCount, 1)%100 != 1 {
		return
	}
	sample := data
	if len(sample) > 200 {
		sample = sample[:200]
	}
	c.logger.Warn("解析报价消息失败（采样）", zap.Error(err), zap.ByteString("data", sample))
}
