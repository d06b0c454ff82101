// Package ev 实现 EV 相关的信号过滤逻辑。
package ev

import "adaptive-options-engine/internal/core/model"

// FilterEVNegative 负期望值过滤原因
const FilterEVNegative = "ev_negative"

// ApplyRejection 将 EV 结果应用到信号上
// 规则：样本数达到 minSamples 且 EV<0 时，标记 FilterReason 并返回 true。
func ApplyRejection(sig *model.Signal, stats EVStats, minSamples int) bool {
	if sig == nil {
		return false
	}
	if stats.Count >= int64(minSamples) && stats.Count > 0 && stats.EV < 0 {
		sig.FilterReason = FilterEVNegative
		return true
	}
	return false
}
