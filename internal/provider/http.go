package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"adaptive-options-engine/internal/core/model"
)

// HTTPClient JSON over HTTP 的数据源实现
//
// 端点：
//
//	GET /chain/{ticker}?dte_min=&dte_max=
//	GET /ivrank/{ticker}
//	GET /gex/{ticker}
//	GET /regime/{ticker}
//	GET /term/{ticker}
//	GET /skew/{ticker}
//	GET /events
//	GET /betas?tickers=A,B
//	GET /marks?symbols=X,Y
type HTTPClient struct {
	client  *http.Client
	baseURL string
}

// NewHTTPClient 创建 HTTP 数据源
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (c *HTTPClient) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: HTTP %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// Chain 期权链
func (c *HTTPClient) Chain(ctx context.Context, ticker string, dteMin, dteMax int) (*model.ChainSnapshot, error) {
	q := url.Values{}
	q.Set("dte_min", strconv.Itoa(dteMin))
	q.Set("dte_max", strconv.Itoa(dteMax))
	var out model.ChainSnapshot
	if err := c.get(ctx, "/chain/"+url.PathEscape(ticker), q, &out); err != nil {
		return nil, err
	}
	if out.Ticker == "" {
		out.Ticker = ticker
	}
	out.SortRows()
	return &out, nil
}

// IVRank IV Rank
func (c *HTTPClient) IVRank(ctx context.Context, ticker string) (IVStats, error) {
	var out IVStats
	err := c.get(ctx, "/ivrank/"+url.PathEscape(ticker), nil, &out)
	return out, err
}

// GEX GEX 体制
func (c *HTTPClient) GEX(ctx context.Context, ticker string) (GEXReading, error) {
	var out GEXReading
	err := c.get(ctx, "/gex/"+url.PathEscape(ticker), nil, &out)
	return out, err
}

// Combined 组合体制
func (c *HTTPClient) Combined(ctx context.Context, ticker string) (model.CombinedRegime, error) {
	var out model.CombinedRegime
	err := c.get(ctx, "/regime/"+url.PathEscape(ticker), nil, &out)
	return out, err
}

// Term 期限结构
func (c *HTTPClient) Term(ctx context.Context, ticker string) (model.TermStructure, error) {
	var out model.TermStructure
	err := c.get(ctx, "/term/"+url.PathEscape(ticker), nil, &out)
	return out, err
}

// Skew 偏斜
func (c *HTTPClient) Skew(ctx context.Context, ticker string) (model.Skew, error) {
	var out model.Skew
	err := c.get(ctx, "/skew/"+url.PathEscape(ticker), nil, &out)
	return out, err
}

// Events 宏观日历
func (c *HTTPClient) Events(ctx context.Context) ([]model.MacroEvent, error) {
	var out []model.MacroEvent
	err := c.get(ctx, "/events", nil, &out)
	return out, err
}

// Betas 标的 beta
func (c *HTTPClient) Betas(ctx context.Context, tickers []string) (map[string]float64, error) {
	q := url.Values{}
	q.Set("tickers", strings.Join(tickers, ","))
	out := make(map[string]float64)
	err := c.get(ctx, "/betas", q, &out)
	return out, err
}

// Marks 合约中间价
func (c *HTTPClient) Marks(ctx context.Context, symbols []string) (map[string]float64, error) {
	q := url.Values{}
	q.Set("symbols", strings.Join(symbols, ","))
	out := make(map[string]float64)
	err := c.get(ctx, "/marks", q, &out)
	return out, err
}
