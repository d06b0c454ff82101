package model

import "errors"

// 错误分类
var (
	// ErrRiskRejected 风控检查未通过（本轮不可重试，不记账）
	ErrRiskRejected = errors.New("risk_rejected")
	// ErrQualityRejected 结构质量低于下限（不可重试，不记账）
	ErrQualityRejected = errors.New("quality_rejected")
	// ErrBuildFailed 策略构建失败（回退到单腿或丢弃，需记录原因）
	ErrBuildFailed = errors.New("build_failed")
	// ErrBrokerFailure 下单失败或无成交（仍然记账，使用估算价）
	ErrBrokerFailure = errors.New("broker_failure")
	// ErrProviderDegraded 外部数据超时或出错（使用中性默认值继续）
	ErrProviderDegraded = errors.New("provider_degraded")
	// ErrHaltNewEntries 体制转换概率过高，暂停新开仓
	ErrHaltNewEntries = errors.New("halt_new_entries")
	// ErrInvalidPrice 价格数据非正
	ErrInvalidPrice = errors.New("invalid_price")
)
