// Package metrics Prometheus 指标记录器与 /metrics 端点。
// 所有方法对 nil 接收者安全，未启用指标时可直接传 nil。
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "aoe"

// Recorder 引擎指标
type Recorder struct {
	reg *prometheus.Registry

	signals       *prometheus.CounterVec
	tradesOpened  *prometheus.CounterVec
	tradesClosed  *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	brokerErrors  *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	degraded      *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	equity        prometheus.Gauge
	openPositions prometheus.Gauge
	realizedPnL   prometheus.Gauge
}

// New 创建记录器并注册到独立的 Registry
func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		signals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Signals produced by the signal engine",
		}, []string{"type", "outcome"}),
		tradesOpened: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_opened_total",
			Help:      "Trades recorded in the journal",
		}, []string{"kind"}),
		tradesClosed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_closed_total",
			Help:      "Trades closed by exit reason",
		}, []string{"reason"}),
		rejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signal_rejections_total",
			Help:      "Signals rejected before execution",
		}, []string{"reason"}),
		brokerErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_errors_total",
			Help:      "Broker call failures",
		}, []string{"op"}),
		fetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_fetch_duration_seconds",
			Help:      "Provider fetch latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"item"}),
		degraded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_degraded_total",
			Help:      "Provider fetches replaced by a neutral default",
		}, []string{"item"}),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one polling cycle",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		equity: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "account_equity_dollars",
			Help:      "Account equity: starting capital plus realized and unrealized PnL",
		}),
		openPositions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_positions",
			Help:      "Open trades in the journal",
		}),
		realizedPnL: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realized_pnl_dollars",
			Help:      "Realized PnL of closed trades",
		}),
	}
}

// Registry 指标注册表
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

// Signal 记录信号结果（surfaced / filtered / executed）
func (r *Recorder) Signal(signalType, outcome string) {
	if r == nil {
		return
	}
	r.signals.WithLabelValues(signalType, outcome).Inc()
}

// TradeOpened 记录开仓
func (r *Recorder) TradeOpened(kind string) {
	if r == nil {
		return
	}
	r.tradesOpened.WithLabelValues(kind).Inc()
}

// TradeClosed 记录平仓
func (r *Recorder) TradeClosed(reason string) {
	if r == nil {
		return
	}
	r.tradesClosed.WithLabelValues(reason).Inc()
}

// Rejection 记录执行前拒绝
func (r *Recorder) Rejection(reason string) {
	if r == nil {
		return
	}
	r.rejections.WithLabelValues(reason).Inc()
}

// BrokerError 记录券商调用失败
func (r *Recorder) BrokerError(op string) {
	if r == nil {
		return
	}
	r.brokerErrors.WithLabelValues(op).Inc()
}

// Fetch 记录一次数据拉取（可直接作为 provider.FetchObserver）
func (r *Recorder) Fetch(item string, d time.Duration, degraded bool) {
	if r == nil {
		return
	}
	r.fetchDuration.WithLabelValues(item).Observe(d.Seconds())
	if degraded {
		r.degraded.WithLabelValues(item).Inc()
	}
}

// Cycle 记录一个轮询周期耗时
func (r *Recorder) Cycle(d time.Duration) {
	if r == nil {
		return
	}
	r.cycleDuration.Observe(d.Seconds())
}

// Account 更新账户指标
func (r *Recorder) Account(equity, realized float64, open int) {
	if r == nil {
		return
	}
	r.equity.Set(equity)
	r.realizedPnL.Set(realized)
	r.openPositions.Set(float64(open))
}

// Handler /metrics 处理器
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Serve 在 addr 上提供 /metrics，直到 ctx 取消
func (r *Recorder) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("指标端点已启动", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
