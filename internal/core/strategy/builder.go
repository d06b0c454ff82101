// Package strategy 根据策略推荐和实时期权链构建具体的期权腿。
// 支持信用价差、借方价差、铁鹰、铁蝶、跨式、比率价差和单腿回退。
// 构建失败返回零腿结果和原因字符串，从不 panic。
package strategy

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"adaptive-options-engine/internal/config"
	"adaptive-options-engine/internal/core/model"
)

// Request 构建请求
type Request struct {
	// Kind 策略种类
	Kind model.StrategyKind
	// Direction 方向
	Direction model.Direction
	// Chain 期权链快照
	Chain *model.ChainSnapshot
	// Underlying 标的价格
	Underlying float64
	// TargetDelta 目标 delta（绝对值，0 表示使用默认值）
	TargetDelta float64
	// IVRank IV Rank（0-100）
	IVRank float64
	// DTE 剩余天数
	DTE int
	// MinQuality 质量下限（0 表示使用配置值）
	MinQuality float64
}

// BuildResult 构建结果
type BuildResult struct {
	Kind         model.StrategyKind `json:"kind"`
	Legs         []model.Leg        `json:"legs"`
	StrategyName string             `json:"strategy_name"`
	// MaxLoss / MaxProfit 每组最大亏损/收益（美元）
	MaxLoss   float64 `json:"max_loss"`
	MaxProfit float64 `json:"max_profit"`
	// Unlimited 收益或亏损一侧无上限（MaxProfit/MaxLoss 为压力估算值）
	Unlimited bool `json:"unlimited,omitempty"`
	// NetPremium 每股净权利金：借方为负，贷方为正
	NetPremium float64      `json:"net_premium"`
	Greeks     model.Greeks `json:"greeks"`
	Quality    float64      `json:"quality"`
	Notes      []string     `json:"notes,omitempty"`
	// Reason 失败原因（成功时为空）
	Reason string `json:"reason,omitempty"`

	qualityRejected bool
}

// OK 是否构建成功
func (r BuildResult) OK() bool {
	return len(r.Legs) > 0 && r.Reason == ""
}

// Err 失败时返回对应的分类错误
func (r BuildResult) Err() error {
	if r.OK() {
		return nil
	}
	if r.qualityRejected {
		return fmt.Errorf("%w: %s", model.ErrQualityRejected, r.Reason)
	}
	return fmt.Errorf("%w: %s", model.ErrBuildFailed, r.Reason)
}

// IsQualityRejected 失败是否由质量下限导致
func IsQualityRejected(err error) bool {
	return errors.Is(err, model.ErrQualityRejected)
}

func failed(kind model.StrategyKind, format string, args ...any) BuildResult {
	return BuildResult{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Builder 策略构建器（无状态，可并发使用）
type Builder struct {
	cfg    config.StrategyConfig
	logger *zap.Logger
}

// NewBuilder 创建策略构建器
// 参数 cfg: 策略配置（默认 delta 与质量下限）
// 参数 logger: 日志
func NewBuilder(cfg config.StrategyConfig, logger *zap.Logger) *Builder {
	return &Builder{cfg: cfg, logger: logger.Named("strategy")}
}

// Build 构建策略
// 参数 req: 构建请求
// 返回: 成功结果或零腿失败结果（带原因）
func (b *Builder) Build(req Request) BuildResult {
	if req.Chain.IsEmpty() {
		return failed(req.Kind, "option chain unavailable")
	}
	if req.Underlying <= 0 {
		req.Underlying = req.Chain.Underlying
	}
	if req.Underlying <= 0 {
		return failed(req.Kind, "underlying price unavailable")
	}
	if req.Chain.Underlying <= 0 {
		cp := *req.Chain
		cp.Underlying = req.Underlying
		req.Chain = &cp
	}
	if req.DTE <= 0 {
		req.DTE = req.Chain.DTE
	}
	if req.TargetDelta <= 0 {
		req.TargetDelta = b.defaultDelta(req.Kind)
	}

	var res BuildResult
	switch req.Kind {
	case model.KindCreditSpread:
		res = buildCreditSpread(req)
	case model.KindDebitSpread:
		res = buildDebitSpread(req)
	case model.KindIronCondor:
		res = buildIronCondor(req)
	case model.KindIronButterfly:
		res = buildIronButterfly(req)
	case model.KindStraddle:
		res = buildStraddle(req)
	case model.KindRatioSpread:
		res = buildRatioSpread(req)
	case model.KindSingle:
		res = buildSingle(req)
	default:
		return failed(req.Kind, "unsupported strategy kind %q", req.Kind)
	}
	if !res.OK() {
		b.logger.Debug("策略构建失败",
			zap.String("ticker", req.Chain.Ticker),
			zap.String("kind", string(req.Kind)),
			zap.String("reason", res.Reason),
		)
		return res
	}

	res.Kind = req.Kind
	res.Greeks = AggregateGreeks(res.Legs, req.DTE)
	res.Quality = QualityScore(res.Legs, req.IVRank)

	floor := req.MinQuality
	if floor <= 0 {
		floor = b.cfg.MinQuality
	}
	if res.Quality < floor {
		return BuildResult{
			Kind:            req.Kind,
			StrategyName:    res.StrategyName,
			Quality:         res.Quality,
			Reason:          fmt.Sprintf("quality %.1f below floor %.1f", res.Quality, floor),
			qualityRejected: true,
		}
	}
	return res
}

func (b *Builder) defaultDelta(kind model.StrategyKind) float64 {
	switch kind {
	case model.KindCreditSpread, model.KindIronCondor:
		return b.cfg.CreditDelta
	case model.KindDebitSpread, model.KindRatioSpread:
		return b.cfg.DebitDelta
	default:
		return b.cfg.SingleDelta
	}
}
