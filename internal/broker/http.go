package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"adaptive-options-engine/internal/config"
	"adaptive-options-engine/internal/util/backoff"
	"adaptive-options-engine/internal/util/timeutil"
)

// maxAttempts 单次调用最多尝试次数
const maxAttempts = 3

// HTTPClient 券商 REST 客户端
// 每次请求先经过限流器，再经过熔断器；5xx 与网络错误按退避重试，4xx 不重试
type HTTPClient struct {
	client    *http.Client
	baseURL   string
	accountID string
	username  string
	password  string
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker
	newDelay  func() *backoff.Backoff
	logger    *zap.Logger
}

// NewHTTPClient 创建券商客户端
func NewHTTPClient(cfg config.BrokerConfig, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &HTTPClient{
		client:    &http.Client{Timeout: timeutil.Ms(cfg.TimeoutMs)},
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		accountID: cfg.AccountID,
		username:  cfg.Username,
		password:  cfg.Password,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		newDelay:  func() *backoff.Backoff { return backoff.New(200*time.Millisecond, 2*time.Second, 0.2) },
		logger:    logger.Named("broker"),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "broker",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("券商熔断状态变化", zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return c
}

// statusError HTTP 非 2xx 响应
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.code, e.body)
}

// do 执行一次带限流、熔断与重试的请求
func (c *HTTPClient) do(ctx context.Context, method, path, token string, in, out any) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		payload = b
	}

	return backoff.Retry(ctx, c.newDelay(), maxAttempts, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return &backoff.Permanent{Err: err}
		}
		_, err := c.breaker.Execute(func() (interface{}, error) {
			return nil, c.once(ctx, method, path, token, payload, out)
		})
		if err == nil {
			return nil
		}
		var se *statusError
		if errors.As(err, &se) && se.code < 500 {
			return &backoff.Permanent{Err: err}
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, context.Canceled) {
			return &backoff.Permanent{Err: err}
		}
		c.logger.Debug("券商请求失败，准备重试", zap.String("path", path), zap.Error(err))
		return err
	})
}

func (c *HTTPClient) once(ctx context.Context, method, path, token string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(data))}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// Session 使用账号密码获取会话
func (c *HTTPClient) Session(ctx context.Context) (Session, error) {
	var out Session
	in := map[string]string{"login": c.username, "password": c.password}
	if err := c.do(ctx, http.MethodPost, "/sessions", "", in, &out); err != nil {
		return Session{}, fmt.Errorf("获取券商会话: %w", err)
	}
	if out.Token == "" {
		return Session{}, fmt.Errorf("获取券商会话: 响应缺少 token")
	}
	return out, nil
}

// Positions 账户持仓
func (c *HTTPClient) Positions(ctx context.Context, s Session) ([]Position, error) {
	var out []Position
	if err := c.do(ctx, http.MethodGet, "/accounts/"+c.accountID+"/positions", s.Token, nil, &out); err != nil {
		return nil, fmt.Errorf("查询持仓: %w", err)
	}
	return out, nil
}

// Orders 账户订单
func (c *HTTPClient) Orders(ctx context.Context, s Session) ([]Order, error) {
	var out []Order
	if err := c.do(ctx, http.MethodGet, "/accounts/"+c.accountID+"/orders", s.Token, nil, &out); err != nil {
		return nil, fmt.Errorf("查询订单: %w", err)
	}
	return out, nil
}

// PlaceOrder 下单；client_order_id 保证重试幂等
func (c *HTTPClient) PlaceOrder(ctx context.Context, s Session, req OrderRequest) (Order, error) {
	if req.ClientOrderID == "" {
		req.ClientOrderID = uuid.NewString()
	}
	for i := range req.Legs {
		if req.Legs[i].InstrumentType == "" {
			req.Legs[i].InstrumentType = InstrumentOption
		}
	}
	var out Order
	if err := c.do(ctx, http.MethodPost, "/accounts/"+c.accountID+"/orders", s.Token, req, &out); err != nil {
		return Order{}, fmt.Errorf("下单: %w", err)
	}
	if out.ClientOrderID == "" {
		out.ClientOrderID = req.ClientOrderID
	}
	return out, nil
}
