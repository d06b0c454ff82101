// Package config 负责加载和验证 YAML 配置文件。
// 提供引擎所需的全部配置项，包括风控阈值、退出参数、学习参数、外部协作方地址等。
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config 应用配置根结构
type Config struct {
	// App 应用基础配置
	App AppConfig `yaml:"app"`
	// Engine 引擎配置
	Engine EngineConfig `yaml:"engine"`
	// Risk 风控配置
	Risk RiskConfig `yaml:"risk"`
	// Exits 退出配置
	Exits ExitConfig `yaml:"exits"`
	// Strategy 策略构建配置
	Strategy StrategyConfig `yaml:"strategy"`
	// Signal 信号检测配置
	Signal SignalConfig `yaml:"signal"`
	// Learning 自适应学习配置
	Learning LearningConfig `yaml:"learning"`
	// Cache 会话缓存 TTL
	Cache CacheConfig `yaml:"cache"`
	// Provider 行情/体制数据源
	Provider ProviderConfig `yaml:"provider"`
	// Broker 券商账户
	Broker BrokerConfig `yaml:"broker"`
	// Feed 实时报价推送
	Feed FeedConfig `yaml:"feed"`
	// Storage 持久化
	Storage StorageConfig `yaml:"storage"`
	// Output JSONL 输出
	Output OutputConfig `yaml:"output"`
	// Metrics Prometheus 指标
	Metrics MetricsConfig `yaml:"metrics"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	// Name 应用名称，用于日志标识
	Name string `yaml:"name"`
	// LogLevel 日志级别: debug, info, warn, error
	LogLevel string `yaml:"log_level"`
}

// EngineConfig 引擎配置
type EngineConfig struct {
	// StartingCapital 初始资金
	StartingCapital float64 `yaml:"starting_capital"`
	// AutoTradeEnabled 是否自动执行信号
	AutoTradeEnabled bool `yaml:"auto_trade_enabled"`
	// WatchedTickers 监控标的
	WatchedTickers []string `yaml:"watched_tickers"`
	// MinConfidence 信号最低置信度（0-100）
	MinConfidence float64 `yaml:"min_confidence"`
	// MaxSignalsPerCycle 每轮最多输出信号数
	MaxSignalsPerCycle int `yaml:"max_signals_per_cycle"`
	// PollIntervalMs 轮询间隔（毫秒）
	PollIntervalMs int `yaml:"poll_interval_ms"`
	// SignalsCap 信号环形缓冲容量
	SignalsCap int `yaml:"signals_cap"`
	// RiskFreeRate 无风险利率（小数）
	RiskFreeRate float64 `yaml:"risk_free_rate"`
}

// RiskConfig 风控阈值（百分比字段均以 0-100 表示）
type RiskConfig struct {
	// MaxPositions 最大持仓数
	MaxPositions int `yaml:"max_positions"`
	// MaxPositionPct 单笔最大占权益百分比
	MaxPositionPct float64 `yaml:"max_position_pct"`
	// MaxExposurePct 总名义敞口占权益百分比
	MaxExposurePct float64 `yaml:"max_exposure_pct"`
	// MaxDailyTrades 每日最多开仓数
	MaxDailyTrades int `yaml:"max_daily_trades"`
	// MaxDailyLossPct 每日最大已实现亏损百分比
	MaxDailyLossPct float64 `yaml:"max_daily_loss_pct"`
	// MinDTEToOpen 开仓最少剩余天数
	MinDTEToOpen int `yaml:"min_dte_to_open"`
	// MaxSameSector 同行业最多持仓数
	MaxSameSector int `yaml:"max_same_sector"`
	// MaxContracts 单笔最多合约张数
	MaxContracts int `yaml:"max_contracts"`
}

// ExitConfig 退出参数
type ExitConfig struct {
	// StopLossPct 默认止损百分比（负数）
	StopLossPct float64 `yaml:"stop_loss_pct"`
	// TakeProfitPct 默认止盈百分比
	TakeProfitPct float64 `yaml:"take_profit_pct"`
	// TimeExitDTE 默认时间退出阈值（剩余天数）
	TimeExitDTE int `yaml:"time_exit_dte"`
	// MinHoldMinutes 最短持仓时间（分钟）
	MinHoldMinutes int `yaml:"min_hold_minutes"`
	// EdgeDrop 优势评分下降阈值
	EdgeDrop float64 `yaml:"edge_drop"`
	// RegimeReversalEdge 体制反转退出的优势评分上限
	RegimeReversalEdge float64 `yaml:"regime_reversal_edge"`
	// LimitBufferPct 多腿平仓限价缓冲百分比
	LimitBufferPct float64 `yaml:"limit_buffer_pct"`
}

// StrategyConfig 策略构建配置
type StrategyConfig struct {
	// MultiLegEnabled 是否启用多腿结构
	MultiLegEnabled bool `yaml:"multi_leg_enabled"`
	// DefaultDTERange 默认到期区间 [min, max]
	DefaultDTERange []int `yaml:"default_dte_range"`
	// MinQuality 结构质量下限（0-100）
	MinQuality float64 `yaml:"min_quality"`
	// CreditDelta 卖出权利金目标 delta
	CreditDelta float64 `yaml:"credit_delta"`
	// DebitDelta 买入权利金目标 delta
	DebitDelta float64 `yaml:"debit_delta"`
	// SingleDelta 单腿目标 delta
	SingleDelta float64 `yaml:"single_delta"`
}

// SignalConfig 信号检测配置
type SignalConfig struct {
	// IVHigh IV Rank 高阈值（卖出权利金）
	IVHigh float64 `yaml:"iv_high"`
	// IVLow IV Rank 低阈值（买入权利金）
	IVLow float64 `yaml:"iv_low"`
	// MacroWindowDays 宏观事件窗口（天）
	MacroWindowDays int `yaml:"macro_window_days"`
	// MacroSeverityFloor 宏观事件严重程度下限
	MacroSeverityFloor float64 `yaml:"macro_severity_floor"`
}

// LearningConfig 自适应学习配置
type LearningConfig struct {
	// MinSamples 学习所需最少样本数（不足时使用默认值）
	MinSamples int `yaml:"min_samples"`
	// Window 滚动统计窗口
	Window int `yaml:"window"`
	// KellyFraction 分数凯利系数
	KellyFraction float64 `yaml:"kelly_fraction"`
	// PriorAlpha / PriorBeta Beta 先验
	PriorAlpha float64 `yaml:"prior_alpha"`
	PriorBeta  float64 `yaml:"prior_beta"`
	// Seed Thompson 采样随机种子
	Seed uint64 `yaml:"seed"`
	// AdverseRegimeScale 不利体制下仓位缩放
	AdverseRegimeScale float64 `yaml:"adverse_regime_scale"`
	// EVFilterEnabled 是否启用负期望值过滤
	EVFilterEnabled bool `yaml:"ev_filter_enabled"`
}

// CacheConfig 会话缓存 TTL（毫秒）
type CacheConfig struct {
	SessionTTLMs int `yaml:"session_ttl_ms"`
	MarksTTLMs   int `yaml:"marks_ttl_ms"`
	BetasTTLMs   int `yaml:"betas_ttl_ms"`
}

// ProviderConfig 行情/体制数据源配置
type ProviderConfig struct {
	// BaseURL REST 地址
	BaseURL string `yaml:"base_url"`
	// TimeoutMs 单次请求超时（毫秒）
	TimeoutMs int `yaml:"timeout_ms"`
	// BreakerFailures 连续失败次数触发熔断
	BreakerFailures int `yaml:"breaker_failures"`
	// BreakerCooldownMs 熔断冷却（毫秒）
	BreakerCooldownMs int `yaml:"breaker_cooldown_ms"`
}

// BrokerConfig 券商配置
type BrokerConfig struct {
	// Mode sim 或 http
	Mode string `yaml:"mode"`
	// BaseURL REST 地址
	BaseURL string `yaml:"base_url"`
	// AccountID 账户号
	AccountID string `yaml:"account_id"`
	// Username / Password 会话凭证
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// RatePerSec 每秒请求数上限
	RatePerSec float64 `yaml:"rate_per_sec"`
	// Burst 突发容量
	Burst int `yaml:"burst"`
	// TimeoutMs 请求超时（毫秒）
	TimeoutMs int `yaml:"timeout_ms"`
}

// FeedConfig 实时报价推送配置
type FeedConfig struct {
	// URL WebSocket 地址（为空则不启用）
	URL string `yaml:"url"`
	// PingIntervalMs 心跳间隔（毫秒）
	PingIntervalMs int `yaml:"ping_interval_ms"`
	// PongTimeoutMs 心跳响应超时（毫秒）
	PongTimeoutMs int `yaml:"pong_timeout_ms"`
}

// StorageConfig 持久化配置
type StorageConfig struct {
	// Backend file、redis 或 memory
	Backend string `yaml:"backend"`
	// Dir 文件目录
	Dir string `yaml:"dir"`
	// RedisAddr Redis 地址
	RedisAddr string `yaml:"redis_addr"`
	// KeyPrefix Redis key 前缀
	KeyPrefix string `yaml:"key_prefix"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	// Dir 输出目录
	Dir string `yaml:"dir"`
	// SignalsEnabled 是否输出信号文件
	SignalsEnabled bool `yaml:"signals_enabled"`
	// TradesEnabled 是否输出交易事件文件
	TradesEnabled bool `yaml:"trades_enabled"`
	// MetricsEnabled 是否输出指标文件
	MetricsEnabled bool `yaml:"metrics_enabled"`
	// MetricsIntervalMs 指标输出间隔（毫秒）
	MetricsIntervalMs int `yaml:"metrics_interval_ms"`
	// BufferSize 异步写入缓冲区大小
	BufferSize int `yaml:"buffer_size"`
}

// MetricsConfig Prometheus 指标配置
type MetricsConfig struct {
	// ListenAddr 监听地址（为空则不启动）
	ListenAddr string `yaml:"listen_addr"`
}

// Load 从文件加载配置并验证
// 参数 path: 配置文件路径
// 返回: 解析后的配置对象，若失败则返回错误
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	cfg.presetBools()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &cfg, nil
}

// Default 返回仅包含默认值的配置
func Default() *Config {
	var cfg Config
	cfg.presetBools()
	cfg.setDefaults()
	return &cfg
}

// presetBools 预置默认开启的布尔项
// 零值无法区分未配置与显式关闭，必须在解析 YAML 之前写入
func (c *Config) presetBools() {
	c.Strategy.MultiLegEnabled = true
}

// setDefaults 设置配置默认值
func (c *Config) setDefaults() {
	if c.App.Name == "" {
		c.App.Name = "adaptive-options-engine"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}

	// 引擎默认值
	if c.Engine.StartingCapital == 0 {
		c.Engine.StartingCapital = 50000
	}
	if c.Engine.MinConfidence == 0 {
		c.Engine.MinConfidence = 55
	}
	if c.Engine.MaxSignalsPerCycle == 0 {
		c.Engine.MaxSignalsPerCycle = 5
	}
	if c.Engine.PollIntervalMs == 0 {
		c.Engine.PollIntervalMs = 60000 // 1 分钟
	}
	if c.Engine.SignalsCap == 0 {
		c.Engine.SignalsCap = 500
	}
	if c.Engine.RiskFreeRate == 0 {
		c.Engine.RiskFreeRate = 0.045
	}

	// 风控默认值
	if c.Risk.MaxPositions == 0 {
		c.Risk.MaxPositions = 10
	}
	if c.Risk.MaxPositionPct == 0 {
		c.Risk.MaxPositionPct = 5
	}
	if c.Risk.MaxExposurePct == 0 {
		c.Risk.MaxExposurePct = 50
	}
	if c.Risk.MaxDailyTrades == 0 {
		c.Risk.MaxDailyTrades = 5
	}
	if c.Risk.MaxDailyLossPct == 0 {
		c.Risk.MaxDailyLossPct = 3
	}
	if c.Risk.MinDTEToOpen == 0 {
		c.Risk.MinDTEToOpen = 7
	}
	if c.Risk.MaxSameSector == 0 {
		c.Risk.MaxSameSector = 3
	}
	if c.Risk.MaxContracts == 0 {
		c.Risk.MaxContracts = 10
	}

	// 退出默认值
	if c.Exits.StopLossPct == 0 {
		c.Exits.StopLossPct = -50
	}
	if c.Exits.TakeProfitPct == 0 {
		c.Exits.TakeProfitPct = 100
	}
	if c.Exits.TimeExitDTE == 0 {
		c.Exits.TimeExitDTE = 5
	}
	if c.Exits.EdgeDrop == 0 {
		c.Exits.EdgeDrop = 25
	}
	if c.Exits.RegimeReversalEdge == 0 {
		c.Exits.RegimeReversalEdge = 35
	}
	if c.Exits.LimitBufferPct == 0 {
		c.Exits.LimitBufferPct = 5
	}

	// 策略默认值
	if len(c.Strategy.DefaultDTERange) == 0 {
		c.Strategy.DefaultDTERange = []int{30, 45}
	}
	if c.Strategy.MinQuality == 0 {
		c.Strategy.MinQuality = 35
	}
	if c.Strategy.CreditDelta == 0 {
		c.Strategy.CreditDelta = 0.16
	}
	if c.Strategy.DebitDelta == 0 {
		c.Strategy.DebitDelta = 0.35
	}
	if c.Strategy.SingleDelta == 0 {
		c.Strategy.SingleDelta = 0.50
	}

	// 信号默认值
	if c.Signal.IVHigh == 0 {
		c.Signal.IVHigh = 80
	}
	if c.Signal.IVLow == 0 {
		c.Signal.IVLow = 20
	}
	if c.Signal.MacroWindowDays == 0 {
		c.Signal.MacroWindowDays = 3
	}
	if c.Signal.MacroSeverityFloor == 0 {
		c.Signal.MacroSeverityFloor = 60
	}

	// 学习默认值
	if c.Learning.MinSamples == 0 {
		c.Learning.MinSamples = 10
	}
	if c.Learning.Window == 0 {
		c.Learning.Window = 200
	}
	if c.Learning.KellyFraction == 0 {
		c.Learning.KellyFraction = 0.25
	}
	if c.Learning.PriorAlpha == 0 {
		c.Learning.PriorAlpha = 1
	}
	if c.Learning.PriorBeta == 0 {
		c.Learning.PriorBeta = 1
	}
	if c.Learning.Seed == 0 {
		c.Learning.Seed = 42
	}
	if c.Learning.AdverseRegimeScale == 0 {
		c.Learning.AdverseRegimeScale = 0.5
	}

	// 缓存默认值
	if c.Cache.SessionTTLMs == 0 {
		c.Cache.SessionTTLMs = 15 * 60 * 1000 // 15 分钟
	}
	if c.Cache.MarksTTLMs == 0 {
		c.Cache.MarksTTLMs = 30000 // 30 秒
	}
	if c.Cache.BetasTTLMs == 0 {
		c.Cache.BetasTTLMs = 6 * 60 * 60 * 1000 // 6 小时
	}

	if c.Provider.TimeoutMs == 0 {
		c.Provider.TimeoutMs = 5000
	}
	if c.Provider.BreakerFailures == 0 {
		c.Provider.BreakerFailures = 3
	}
	if c.Provider.BreakerCooldownMs == 0 {
		c.Provider.BreakerCooldownMs = 60000
	}

	if c.Broker.Mode == "" {
		c.Broker.Mode = "sim"
	}
	if c.Broker.RatePerSec == 0 {
		c.Broker.RatePerSec = 2
	}
	if c.Broker.Burst == 0 {
		c.Broker.Burst = 4
	}
	if c.Broker.TimeoutMs == 0 {
		c.Broker.TimeoutMs = 10000
	}

	if c.Feed.PingIntervalMs == 0 {
		c.Feed.PingIntervalMs = 20000
	}
	if c.Feed.PongTimeoutMs == 0 {
		c.Feed.PongTimeoutMs = 10000
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = "file"
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = "./data"
	}
	if c.Storage.KeyPrefix == "" {
		c.Storage.KeyPrefix = "aoe:"
	}

	if c.Output.Dir == "" {
		c.Output.Dir = "./output"
	}
	if c.Output.MetricsIntervalMs == 0 {
		c.Output.MetricsIntervalMs = 60000
	}
	if c.Output.BufferSize == 0 {
		c.Output.BufferSize = 1000
	}
}

// Validate 验证配置合法性
// 检查所有必填项和数值范围，收集全部错误后一次性返回
func (c *Config) Validate() error {
	var errs []string

	// 引擎
	if c.Engine.StartingCapital <= 0 {
		errs = append(errs, "engine.starting_capital: 初始资金必须为正数")
	}
	if len(c.Engine.WatchedTickers) == 0 {
		errs = append(errs, "engine.watched_tickers: 至少需要配置一个标的")
	}
	for i, t := range c.Engine.WatchedTickers {
		if strings.TrimSpace(t) == "" {
			errs = append(errs, fmt.Sprintf("engine.watched_tickers[%d]: 标的不能为空", i))
		}
	}
	if err := validatePct(c.Engine.MinConfidence, "engine.min_confidence"); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Engine.MaxSignalsPerCycle <= 0 {
		errs = append(errs, "engine.max_signals_per_cycle: 必须为正数")
	}
	if c.Engine.PollIntervalMs <= 0 {
		errs = append(errs, "engine.poll_interval_ms: 轮询间隔必须为正数")
	}

	// 风控
	if c.Risk.MaxPositions <= 0 {
		errs = append(errs, "risk.max_positions: 必须为正数")
	}
	for _, p := range []struct {
		v     float64
		field string
	}{
		{c.Risk.MaxPositionPct, "risk.max_position_pct"},
		{c.Risk.MaxExposurePct, "risk.max_exposure_pct"},
		{c.Risk.MaxDailyLossPct, "risk.max_daily_loss_pct"},
	} {
		if p.v <= 0 || p.v > 100 {
			errs = append(errs, fmt.Sprintf("%s: 必须在 (0, 100] 之间，当前值: %f", p.field, p.v))
		}
	}
	if c.Risk.MaxDailyTrades <= 0 {
		errs = append(errs, "risk.max_daily_trades: 必须为正数")
	}
	if c.Risk.MinDTEToOpen < 0 {
		errs = append(errs, "risk.min_dte_to_open: 不能为负数")
	}
	if c.Risk.MaxSameSector <= 0 {
		errs = append(errs, "risk.max_same_sector: 必须为正数")
	}
	if c.Risk.MaxContracts <= 0 {
		errs = append(errs, "risk.max_contracts: 必须为正数")
	}

	// 退出
	if c.Exits.StopLossPct >= 0 || c.Exits.StopLossPct < -100 {
		errs = append(errs, "exits.stop_loss_pct: 止损必须在 [-100, 0) 之间")
	}
	if c.Exits.TakeProfitPct <= 0 {
		errs = append(errs, "exits.take_profit_pct: 止盈必须为正数")
	}
	if c.Exits.TimeExitDTE < 0 {
		errs = append(errs, "exits.time_exit_dte: 不能为负数")
	}
	if c.Exits.MinHoldMinutes < 0 {
		errs = append(errs, "exits.min_hold_minutes: 不能为负数")
	}
	if c.Exits.LimitBufferPct < 0 {
		errs = append(errs, "exits.limit_buffer_pct: 不能为负数")
	}

	// 策略
	if len(c.Strategy.DefaultDTERange) != 2 || c.Strategy.DefaultDTERange[0] <= 0 || c.Strategy.DefaultDTERange[0] > c.Strategy.DefaultDTERange[1] {
		errs = append(errs, "strategy.default_dte_range: 必须为 [min, max] 且 0 < min <= max")
	}
	if err := validatePct(c.Strategy.MinQuality, "strategy.min_quality"); err != nil {
		errs = append(errs, err.Error())
	}
	for _, d := range []struct {
		v     float64
		field string
	}{
		{c.Strategy.CreditDelta, "strategy.credit_delta"},
		{c.Strategy.DebitDelta, "strategy.debit_delta"},
		{c.Strategy.SingleDelta, "strategy.single_delta"},
	} {
		if d.v <= 0 || d.v >= 1 {
			errs = append(errs, fmt.Sprintf("%s: delta 必须在 (0, 1) 之间，当前值: %f", d.field, d.v))
		}
	}

	// 信号
	if c.Signal.IVLow >= c.Signal.IVHigh {
		errs = append(errs, "signal.iv_low: 必须小于 signal.iv_high")
	}

	// 学习
	if c.Learning.KellyFraction <= 0 || c.Learning.KellyFraction > 1 {
		errs = append(errs, "learning.kelly_fraction: 必须在 (0, 1] 之间")
	}
	if c.Learning.PriorAlpha <= 0 || c.Learning.PriorBeta <= 0 {
		errs = append(errs, "learning.prior_alpha/prior_beta: 先验必须为正数")
	}
	if c.Learning.AdverseRegimeScale <= 0 || c.Learning.AdverseRegimeScale > 1 {
		errs = append(errs, "learning.adverse_regime_scale: 必须在 (0, 1] 之间")
	}

	// 协作方
	switch c.Broker.Mode {
	case "sim":
	case "http":
		if c.Broker.BaseURL == "" {
			errs = append(errs, "broker.base_url: http 模式下不能为空")
		}
	default:
		errs = append(errs, fmt.Sprintf("broker.mode: 无效的模式 '%s'，有效值: sim, http", c.Broker.Mode))
	}
	if c.Broker.RatePerSec <= 0 {
		errs = append(errs, "broker.rate_per_sec: 必须为正数")
	}
	switch c.Storage.Backend {
	case "file", "memory":
	case "redis":
		if c.Storage.RedisAddr == "" {
			errs = append(errs, "storage.redis_addr: redis 后端下不能为空")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.backend: 无效的后端 '%s'，有效值: file, redis, memory", c.Storage.Backend))
	}

	// 验证日志级别
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.App.LogLevel)] {
		errs = append(errs, fmt.Sprintf("app.log_level: 无效的日志级别 '%s'，有效值: debug, info, warn, error", c.App.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("配置验证错误:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// validatePct 验证百分比范围 [0, 100]
func validatePct(v float64, field string) error {
	if v < 0 || v > 100 {
		return fmt.Errorf("%s: 必须在 [0, 100] 之间，当前值: %f", field, v)
	}
	return nil
}

// Flat 导出持久化用的扁平 key-value 配置记录
func (c *Config) Flat() map[string]any {
	return map[string]any{
		"starting_capital":   c.Engine.StartingCapital,
		"auto_trade_enabled": c.Engine.AutoTradeEnabled,
		"watched_tickers":    append([]string(nil), c.Engine.WatchedTickers...),
		"min_confidence":     c.Engine.MinConfidence,
		"max_positions":      c.Risk.MaxPositions,
		"max_position_pct":   c.Risk.MaxPositionPct,
		"max_exposure_pct":   c.Risk.MaxExposurePct,
		"max_daily_trades":   c.Risk.MaxDailyTrades,
		"max_daily_loss_pct": c.Risk.MaxDailyLossPct,
		"default_dte_range":  append([]int(nil), c.Strategy.DefaultDTERange...),
		"stop_loss_pct":      c.Exits.StopLossPct,
		"take_profit_pct":    c.Exits.TakeProfitPct,
		"min_dte_to_open":    c.Risk.MinDTEToOpen,
		"time_exit_dte":      c.Exits.TimeExitDTE,
		"max_same_sector":    c.Risk.MaxSameSector,
		"multi_leg_enabled":  c.Strategy.MultiLegEnabled,
	}
}

// DTERange 默认到期区间
func (s StrategyConfig) DTERange() (int, int) {
	if len(s.DefaultDTERange) != 2 {
		return 30, 45
	}
	return s.DefaultDTERange[0], s.DefaultDTERange[1]
}
