// Package latency 统计外部数据源调用时延。
// 每个端点（chain / regime / term / skew / broker）维护独立的滚动窗口。
package latency

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// LatencyStats 时延统计快照（滚动窗口），单位毫秒
type LatencyStats struct {
	// Endpoint 端点名称
	Endpoint string `json:"endpoint"`
	// Count 样本总数（累计）
	Count int64 `json:"count"`
	// Errors 失败次数（累计）
	Errors int64 `json:"errors"`
	// P50Ms / P90Ms / P99Ms 分位数
	P50Ms float64 `json:"p50_ms"`
	P90Ms float64 `json:"p90_ms"`
	P99Ms float64 `json:"p99_ms"`
	// MeanMs 均值
	MeanMs float64 `json:"mean_ms"`
}

type rollingWindow struct {
	size   int
	buf    []float64
	pos    int
	count  int64
	errors int64
	full   bool
}

func newRollingWindow(size int) *rollingWindow {
	return &rollingWindow{size: size, buf: make([]float64, 0, size)}
}

func (w *rollingWindow) add(v float64) {
	w.count++
	if w.size <= 0 {
		return
	}
	if !w.full {
		w.buf = append(w.buf, v)
		if len(w.buf) == w.size {
			w.full = true
			w.pos = 0
		}
		return
	}
	w.buf[w.pos] = v
	w.pos++
	if w.pos >= w.size {
		w.pos = 0
	}
}

func (w *rollingWindow) snapshot(endpoint string) LatencyStats {
	out := LatencyStats{Endpoint: endpoint, Count: w.count, Errors: w.errors}
	if len(w.buf) == 0 {
		return out
	}
	tmp := make([]float64, len(w.buf))
	copy(tmp, w.buf)
	sort.Float64s(tmp)

	out.P50Ms = stat.Quantile(0.50, stat.Empirical, tmp, nil)
	out.P90Ms = stat.Quantile(0.90, stat.Empirical, tmp, nil)
	out.P99Ms = stat.Quantile(0.99, stat.Empirical, tmp, nil)
	out.MeanMs = stat.Mean(tmp, nil)
	return out
}

// Tracker 时延追踪器（并发安全）
type Tracker struct {
	mu         sync.Mutex
	windowSize int
	endpoints  map[string]*rollingWindow
}

// NewTracker 创建时延追踪器
// 参数 windowSize: 每个端点的滚动窗口大小（建议 1000）
func NewTracker(windowSize int) *Tracker {
	if windowSize <= 0 {
		windowSize = 1000
	}
	return &Tracker{
		windowSize: windowSize,
		endpoints:  make(map[string]*rollingWindow),
	}
}

func (t *Tracker) window(endpoint string) *rollingWindow {
	w, ok := t.endpoints[endpoint]
	if !ok {
		w = newRollingWindow(t.windowSize)
		t.endpoints[endpoint] = w
	}
	return w
}

// Observe 记录一次调用耗时
// 参数 endpoint: 端点名称
// 参数 d: 耗时
// 参数 err: 调用结果（非 nil 计入失败次数，耗时仍计入窗口）
func (t *Tracker) Observe(endpoint string, d time.Duration, err error) {
	if t == nil || endpoint == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	w := t.window(endpoint)
	w.add(float64(d) / float64(time.Millisecond))
	if err != nil {
		w.errors++
	}
}

// Stats 获取指定端点的统计快照
func (t *Tracker) Stats(endpoint string) LatencyStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.endpoints[endpoint]
	if !ok {
		return LatencyStats{Endpoint: endpoint}
	}
	return w.snapshot(endpoint)
}

// All 所有端点的统计快照（按名称排序）
func (t *Tracker) All() []LatencyStats {
	t.mu.Lock()
	names := make([]string, 0, len(t.endpoints))
	for name := range t.endpoints {
		names = append(names, name)
	}
	t.mu.Unlock()

	sort.Strings(names)
	out := make([]LatencyStats, 0, len(names))
	for _, name := range names {
		out = append(out, t.Stats(name))
	}
	return out
}
