// Package greeks 实现 Black-Scholes 系列的纯函数。
// 退化输入（S、K、T、σ ≤ 0）一律返回中性结果 (0,0)，调用方无需额外防护。
package greeks

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// DaysPerYear 年化天数
const DaysPerYear = 365.0

func valid(S, K, T, sigma float64) bool {
	return S > 0 && K > 0 && T > 0 && sigma > 0 &&
		!math.IsNaN(S) && !math.IsNaN(K) && !math.IsNaN(T) && !math.IsNaN(sigma) &&
		!math.IsInf(S, 0) && !math.IsInf(K, 0) && !math.IsInf(T, 0) && !math.IsInf(sigma, 0)
}

// NormPDF 标准正态密度 φ(x)
func NormPDF(x float64) float64 {
	return distuv.UnitNormal.Prob(x)
}

// NormCDF 标准正态分布函数 N(x)
func NormCDF(x float64) float64 {
	return distuv.UnitNormal.CDF(x)
}

// D1D2 计算 d1、d2
// 参数 S: 标的价格；K: 行权价；T: 年化剩余时间；sigma: 波动率；r: 无风险利率
// 返回: d1, d2；退化输入返回 (0, 0)
func D1D2(S, K, T, sigma, r float64) (d1, d2 float64) {
	if !valid(S, K, T, sigma) {
		return 0, 0
	}
	sqrtT := math.Sqrt(T)
	d1 = (math.Log(S/K) + (r+0.5*sigma*sigma)*T) / (sigma * sqrtT)
	d2 = d1 - sigma*sqrtT
	return d1, d2
}

// Vanna delta 对波动率的敏感度：-φ(d1)·d2/σ
func Vanna(S, K, T, sigma, r float64) float64 {
	if !valid(S, K, T, sigma) {
		return 0
	}
	d1, d2 := D1D2(S, K, T, sigma, r)
	return -NormPDF(d1) * d2 / sigma
}

// Charm delta 对时间的敏感度：-φ(d1)·[r/(σ√T) - d2/(2T)]
func Charm(S, K, T, sigma, r float64) float64 {
	if !valid(S, K, T, sigma) {
		return 0
	}
	d1, d2 := D1D2(S, K, T, sigma, r)
	return -NormPDF(d1) * (r/(sigma*math.Sqrt(T)) - d2/(2*T))
}

// SecondOrder 同时返回 vanna 与 charm；退化输入返回 (0, 0)
func SecondOrder(S, K, T, sigma, r float64) (vanna, charm float64) {
	return Vanna(S, K, T, sigma, r), Charm(S, K, T, sigma, r)
}

// Vega 每 1.00 波动率的 vega：S·φ(d1)·√T
func Vega(S, K, T, sigma, r float64) float64 {
	if !valid(S, K, T, sigma) {
		return 0
	}
	d1, _ := D1D2(S, K, T, sigma, r)
	return S * NormPDF(d1) * math.Sqrt(T)
}

// Volga vega 对波动率的敏感度：vega·d1·d2/σ
func Volga(S, K, T, sigma, r float64) float64 {
	if !valid(S, K, T, sigma) {
		return 0
	}
	d1, d2 := D1D2(S, K, T, sigma, r)
	return Vega(S, K, T, sigma, r) * d1 * d2 / sigma
}

// Gamma φ(d1)/(S·σ·√T)
func Gamma(S, K, T, sigma, r float64) float64 {
	if !valid(S, K, T, sigma) {
		return 0
	}
	d1, _ := D1D2(S, K, T, sigma, r)
	return NormPDF(d1) / (S * sigma * math.Sqrt(T))
}

// Delta call 为 N(d1)，put 为 N(d1)-1
func Delta(S, K, T, sigma, r float64, isCall bool) float64 {
	if !valid(S, K, T, sigma) {
		return 0
	}
	d1, _ := D1D2(S, K, T, sigma, r)
	if isCall {
		return NormCDF(d1)
	}
	return NormCDF(d1) - 1
}

// Price Black-Scholes 理论价格；退化输入返回内在价值
func Price(S, K, T, sigma, r float64, isCall bool) float64 {
	if !valid(S, K, T, sigma) {
		if S <= 0 || K <= 0 {
			return 0
		}
		if isCall {
			return math.Max(S-K, 0)
		}
		return math.Max(K-S, 0)
	}
	d1, d2 := D1D2(S, K, T, sigma, r)
	disc := math.Exp(-r * T)
	if isCall {
		return S*NormCDF(d1) - K*disc*NormCDF(d2)
	}
	return K*disc*NormCDF(-d2) - S*NormCDF(-d1)
}

// YearFraction 将剩余天数转换为年化时间
func YearFraction(dte int) float64 {
	if dte <= 0 {
		return 0
	}
	return float64(dte) / DaysPerYear
}

// Theta 每日时间衰减（年化 theta / 365）
func Theta(S, K, T, sigma, r float64, isCall bool) float64 {
	if !valid(S, K, T, sigma) {
		return 0
	}
	d1, d2 := D1D2(S, K, T, sigma, r)
	decay := -S * NormPDF(d1) * sigma / (2 * math.Sqrt(T))
	disc := r * K * math.Exp(-r*T)
	if isCall {
		return (decay - disc*NormCDF(d2)) / DaysPerYear
	}
	return (decay + disc*NormCDF(-d2)) / DaysPerYear
}
