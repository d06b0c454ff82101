package adaptive

import (
	"math"
	"math/rand/v2"
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat/distuv"

	"adaptive-options-engine/internal/config"
	"adaptive-options-engine/internal/core/model"
)

// Posterior 单个因子的 Beta 后验
type Posterior struct {
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
}

// Mean 后验均值 α/(α+β)
func (p Posterior) Mean() float64 {
	if p.Alpha+p.Beta <= 0 {
		return 0.5
	}
	return p.Alpha / (p.Alpha + p.Beta)
}

// WeightState 可持久化的权重状态
type WeightState struct {
	Posteriors map[string]Posterior `json:"posteriors"`
	Updates    int                  `json:"updates"`
}

// Weights Thompson 采样因子权重
//
// 每个因子维护 Beta(α, β)。平仓交易按入场因子评分更新：
// 评分偏离 50 的程度为信念强度 c，盈亏幅度给出奖励 u；
// 因子方向（≥50 支持）与实际盈亏一致时 α += c·u，否则 β += c·u。
type Weights struct {
	mu      sync.Mutex
	priorA  float64
	priorB  float64
	seed    uint64
	post    map[string]Posterior
	updates int
	src     *rand.PCG
}

// NewWeights 创建因子权重
// 参数 cfg: 学习配置（先验与随机种子）
func NewWeights(cfg config.LearningConfig) *Weights {
	w := &Weights{
		priorA: cfg.PriorAlpha,
		priorB: cfg.PriorBeta,
		seed:   cfg.Seed,
	}
	if w.priorA <= 0 {
		w.priorA = 1
	}
	if w.priorB <= 0 {
		w.priorB = 1
	}
	w.resetLocked()
	return w
}

func (w *Weights) resetLocked() {
	w.post = make(map[string]Posterior, len(model.FactorKeys))
	for _, k := range model.FactorKeys {
		w.post[k] = Posterior{Alpha: w.priorA, Beta: w.priorB}
	}
	w.updates = 0
	w.src = rand.NewPCG(w.seed, w.seed^0x9e3779b97f4a7c15)
}

// Reset 恢复先验并重置随机源
func (w *Weights) Reset() {
	w.mu.Lock()
	w.resetLocked()
	w.mu.Unlock()
}

// Update 用一笔已平仓交易更新后验
// 返回: 是否产生了更新（缺少因子或盈亏时为 false）
func (w *Weights) Update(t *model.Trade) bool {
	if t == nil || !t.IsClosed() || t.PnLDollars == nil || len(t.EntryFactorScores) == 0 {
		return false
	}
	pct := 0.0
	if t.PnLPct != nil {
		pct = *t.PnLPct
	}
	win := *t.PnLDollars > 0
	reward := 1 + math.Min(math.Abs(pct), 100)/100

	w.mu.Lock()
	defer w.mu.Unlock()
	changed := false
	for _, k := range model.FactorKeys {
		s, ok := t.EntryFactorScores[k]
		if !ok || math.IsNaN(s) {
			continue
		}
		conviction := math.Abs(clamp(s, 0, 100)-50) / 50
		if conviction == 0 {
			continue
		}
		p := w.post[k]
		if (s >= 50) == win {
			p.Alpha += conviction * reward
		} else {
			p.Beta += conviction * reward
		}
		w.post[k] = p
		changed = true
	}
	if changed {
		w.updates++
	}
	return changed
}

// Replay 冷启动重放：Reset 后按平仓时间顺序重新提交全部已平仓交易
// 返回: 产生更新的交易数
func (w *Weights) Replay(trades []*model.Trade) int {
	w.Reset()
	n := 0
	for _, t := range sortedClosed(trades) {
		if w.Update(t) {
			n++
		}
	}
	return n
}

// Means 归一化的后验均值权重（确定性）
func (w *Weights) Means() map[string]float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	raw := make(map[string]float64, len(w.post))
	for k, p := range w.post {
		raw[k] = p.Mean()
	}
	return normalize(raw)
}

// Sample 从每个后验抽样并归一化
// 随机源由种子决定，相同种子与相同更新序列产生相同抽样序列
func (w *Weights) Sample() map[string]float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	raw := make(map[string]float64, len(w.post))
	for _, k := range model.FactorKeys {
		p := w.post[k]
		d := distuv.Beta{Alpha: p.Alpha, Beta: p.Beta, Src: w.src}
		raw[k] = d.Rand()
	}
	return normalize(raw)
}

// Composite 以抽样权重计算因子综合评分（0-100）
func (w *Weights) Composite(f model.FactorScores) float64 {
	return weighted(f, w.Sample())
}

// CompositeMean 以后验均值计算因子综合评分（0-100，确定性）
func (w *Weights) CompositeMean(f model.FactorScores) float64 {
	return weighted(f, w.Means())
}

// State 导出当前状态
func (w *Weights) State() WeightState {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := WeightState{Posteriors: make(map[string]Posterior, len(w.post)), Updates: w.updates}
	for k, p := range w.post {
		out.Posteriors[k] = p
	}
	return out
}

// Restore 从持久化状态恢复；未知因子忽略，缺失因子使用先验
func (w *Weights) Restore(s WeightState) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resetLocked()
	for _, k := range model.FactorKeys {
		if p, ok := s.Posteriors[k]; ok && p.Alpha > 0 && p.Beta > 0 {
			w.post[k] = p
		}
	}
	w.updates = s.Updates
}

func weighted(f model.FactorScores, weights map[string]float64) float64 {
	var sum, wsum float64
	for _, k := range model.FactorKeys {
		wt := weights[k]
		s, ok := f[k]
		if !ok {
			continue
		}
		sum += wt * clamp(s, 0, 100)
		wsum += wt
	}
	if wsum == 0 {
		return 50
	}
	return sum / wsum
}

func normalize(raw map[string]float64) map[string]float64 {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var total float64
	for _, k := range keys {
		total += raw[k]
	}
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		if total > 0 {
			out[k] = v / total
		} else {
			out[k] = 1 / float64(len(raw))
		}
	}
	return out
}

// sortedClosed 已平仓交易按平仓时间（再按 ID）排序
func sortedClosed(trades []*model.Trade) []*model.Trade {
	out := make([]*model.Trade, 0, len(trades))
	for _, t := range trades {
		if t != nil && t.IsClosed() && t.ExitTime != nil {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].ExitTime, out[j].ExitTime
		if !a.Equal(*b) {
			return a.Before(*b)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
