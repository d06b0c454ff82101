// Package main 是自适应期权模拟盘引擎的入口点。
// 引擎轮询体制与期权链数据，检测信号，按学习层推荐构建期权结构，
// 经风控后在模拟账户下单，并将平仓结果反馈给学习层。
//
// 重要：券商仅用于模拟账户，交易日志是唯一的事实来源。
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"adaptive-options-engine/internal/broker"
	"adaptive-options-engine/internal/config"
	"adaptive-options-engine/internal/core/adaptive"
	"adaptive-options-engine/internal/core/journal"
	"adaptive-options-engine/internal/core/model"
	"adaptive-options-engine/internal/core/paper"
	sigengine "adaptive-options-engine/internal/core/signal"
	"adaptive-options-engine/internal/core/risk"
	"adaptive-options-engine/internal/core/strategy"
	"adaptive-options-engine/internal/feed"
	"adaptive-options-engine/internal/metrics"
	"adaptive-options-engine/internal/output/jsonl"
	"adaptive-options-engine/internal/provider"
	"adaptive-options-engine/internal/stats/latency"
	"adaptive-options-engine/internal/stats/perf"
	"adaptive-options-engine/internal/storage"
	"adaptive-options-engine/internal/util/timeutil"
)

type metricsSnapshot struct {
	// TsUnixNs 指标采集时间（纳秒）
	TsUnixNs int64 `json:"ts_unix_ns"`
	// Feed 实时报价连接指标
	Feed *feed.ConnectionMetrics `json:"feed,omitempty"`
	// Latency 各数据项拉取时延
	Latency []latency.LatencyStats `json:"latency"`
	// Weights 因子权重后验均值
	Weights map[string]float64 `json:"weights"`
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "engine",
		Short:         "自适应期权模拟盘引擎",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "配置文件路径")

	load := func() (*config.Config, *zap.Logger, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, nil, err
		}
		return cfg, newLogger(cfg.App.LogLevel), nil
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "启动轮询循环",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, logger, err := load()
				if err != nil {
					return err
				}
				defer logger.Sync()
				return run(cmd.Context(), cfg, logger)
			},
		},
		&cobra.Command{
			Use:   "summary",
			Short: "输出账户汇总与绩效报告（JSON）",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, logger, err := load()
				if err != nil {
					return err
				}
				defer logger.Sync()
				return summary(cmd.Context(), cfg, logger)
			},
		},
		&cobra.Command{
			Use:   "replay",
			Short: "用全部已平仓交易重建学习权重并保存",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, logger, err := load()
				if err != nil {
					return err
				}
				defer logger.Sync()
				return replay(cmd.Context(), cfg, logger)
			},
		},
		&cobra.Command{
			Use:   "close <trade-id>",
			Short: "按当前报价手动平仓",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, logger, err := load()
				if err != nil {
					return err
				}
				defer logger.Sync()
				return closeTrade(cmd.Context(), cfg, logger, args[0])
			},
		},
	)
	return root
}

func newLogger(level string) *zap.Logger {
	lvl := zapcore.InfoLevel
	if err := lvl.Set(level); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// app 进程内组装完成的组件
type app struct {
	cfg      *config.Config
	store    storage.Store
	journal  *journal.Journal
	layer    *adaptive.Layer
	gateway  *provider.Gateway
	broker   broker.Broker
	recorder *metrics.Recorder
	latency  *latency.Tracker
	orch     *paper.Orchestrator
}

// build 打开存储、恢复日志与学习状态并组装编排器
func build(ctx context.Context, cfg *config.Config, logger *zap.Logger, deps paper.Deps) (*app, error) {
	store, err := storage.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("打开存储失败: %w", err)
	}

	j := journal.New(store, cfg.Engine.SignalsCap, logger)
	if err := j.Load(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("加载交易日志失败: %w", err)
	}

	layer := adaptive.NewLayer(cfg, logger)
	layer.Rebuild(j.Trades())
	var state adaptive.WeightState
	if ok, err := store.Load(ctx, storage.KeyWeights, &state); err != nil {
		logger.Warn("读取学习权重失败，使用重放结果", zap.Error(err))
	} else if ok {
		layer.Weights.Restore(state)
	}

	recorder := metrics.New()
	tracker := latency.NewTracker(1000)

	var src provider.Provider
	if cfg.Provider.BaseURL == "" {
		logger.Info("未配置数据源地址，使用离线合成数据")
		src = provider.NewStatic(cfg.Engine.RiskFreeRate)
	} else {
		src = provider.NewHTTPClient(cfg.Provider.BaseURL, timeutil.Ms(cfg.Provider.TimeoutMs))
	}
	gateway := provider.NewGateway(src, cfg, tracker, logger).WithObserver(recorder.Fetch)

	var b broker.Broker
	switch cfg.Broker.Mode {
	case "http":
		b = broker.NewHTTPClient(cfg.Broker, logger)
	default:
		b = broker.NewSim(timeutil.Ms(cfg.Cache.SessionTTLMs))
	}

	deps.Journal = j
	deps.Layer = layer
	deps.Builder = strategy.NewBuilder(cfg.Strategy, logger)
	deps.Risk = risk.NewManager(cfg.Risk)
	deps.Broker = b
	deps.Market = gateway
	deps.Store = store
	deps.Metrics = recorder
	deps.Latency = tracker

	return &app{
		cfg:      cfg,
		store:    store,
		journal:  j,
		layer:    layer,
		gateway:  gateway,
		broker:   b,
		recorder: recorder,
		latency:  tracker,
		orch:     paper.NewOrchestrator(cfg, deps, logger),
	}, nil
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 捕获 SIGINT/SIGTERM，触发优雅退出
	sigCh := make(chan os.Signal, 2)
	ossignal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("收到退出信号，开始优雅关闭")
		cancel()
	}()

	streams, err := jsonl.OpenStreams(jsonl.StreamOptions{
		Dir:        cfg.Output.Dir,
		BufferSize: cfg.Output.BufferSize,
		Signals:    cfg.Output.SignalsEnabled,
		Trades:     cfg.Output.TradesEnabled,
		Metrics:    cfg.Output.MetricsEnabled,
	}, logger)
	if err != nil {
		return fmt.Errorf("打开输出流失败: %w", err)
	}

	a, err := build(ctx, cfg, logger, paper.Deps{Streams: streams})
	if err != nil {
		_ = streams.Close()
		return err
	}
	defer a.store.Close()

	if err := a.store.Save(ctx, storage.KeyConfig, cfg.Flat()); err != nil {
		logger.Warn("保存配置快照失败", zap.Error(err))
	}

	// 实时报价直接写入编排器的报价缓存
	var quotes *feed.Client
	if cfg.Feed.URL != "" {
		quotes = feed.NewClient(cfg.Feed, a.orch.Cache().Marks, logger)
		a.orch.SetFeed(quotes)
	}

	engine := sigengine.NewEngine(cfg, a.gateway, a.layer, logger).WithOpenKinds(a.orch.OpenKinds)
	a.orch.SetSignals(engine)

	if cfg.Metrics.ListenAddr != "" {
		go func() {
			if err := a.recorder.Serve(ctx, cfg.Metrics.ListenAddr, logger); err != nil {
				logger.Error("指标端点退出", zap.Error(err))
			}
		}()
	}
	if quotes != nil {
		go quotes.Run(ctx)
	}
	go emitMetrics(ctx, a, streams, quotes)

	logger.Info("引擎启动",
		zap.Strings("tickers", cfg.Engine.WatchedTickers),
		zap.String("broker", cfg.Broker.Mode),
		zap.String("storage", cfg.Storage.Backend),
		zap.Int("trades", len(a.journal.Trades())))

	if err := a.orch.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("编排器退出", zap.Error(err))
	}

	// 优雅关闭（10s 超时）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		if quotes != nil {
			_ = quotes.Close()
		}
		_ = streams.Close()
	}()

	select {
	case <-shutdownCtx.Done():
		logger.Warn("关闭超时，强制退出")
	case <-done:
		logger.Info("关闭完成")
	}
	return nil
}

// emitMetrics 按 output.metrics_interval_ms 输出连接与时延快照
func emitMetrics(ctx context.Context, a *app, streams *jsonl.Streams, quotes *feed.Client) {
	ticker := time.NewTicker(timeutil.Ms(a.cfg.Output.MetricsIntervalMs))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := metricsSnapshot{
				TsUnixNs: time.Now().UnixNano(),
				Latency:  a.latency.All(),
				Weights:  a.layer.Weights.Means(),
			}
			if quotes != nil {
				m := quotes.Metrics()
				snap.Feed = &m
			}
			streams.Metrics(snap)
		}
	}
}

func summary(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	a, err := build(ctx, cfg, logger, paper.Deps{})
	if err != nil {
		return err
	}
	defer a.store.Close()

	out := struct {
		Account     paper.Summary `json:"account"`
		Performance perf.Report   `json:"performance"`
	}{
		Account:     a.orch.AccountSummary(ctx),
		Performance: perf.Compute(a.journal.Trades(), a.journal.EquityCurve()),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func replay(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	a, err := build(ctx, cfg, logger, paper.Deps{})
	if err != nil {
		return err
	}
	defer a.store.Close()

	a.layer.Weights.Reset()
	n := a.layer.Weights.Replay(a.journal.ClosedTrades())
	if err := a.store.Save(ctx, storage.KeyWeights, a.layer.Weights.State()); err != nil {
		return fmt.Errorf("保存学习权重失败: %w", err)
	}
	logger.Info("学习权重已重建", zap.Int("updates", n), zap.Any("means", a.layer.Weights.Means()))
	return nil
}

func closeTrade(ctx context.Context, cfg *config.Config, logger *zap.Logger, id string) error {
	a, err := build(ctx, cfg, logger, paper.Deps{})
	if err != nil {
		return err
	}
	defer a.store.Close()

	res := a.orch.CloseTrade(ctx, id, model.ExitManual)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("平仓失败: %s", res.Error)
	}
	return nil
}
