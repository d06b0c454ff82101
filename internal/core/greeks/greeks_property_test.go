// Package greeks Black-Scholes 属性测试
package greeks

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestD1D2_Relation_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("d2 = d1 - σ√T 且 vanna/charm 有限", prop.ForAll(
		func(S, K, T, sigma, r float64) bool {
			d1, d2 := D1D2(S, K, T, sigma, r)
			if math.Abs(d2-(d1-sigma*math.Sqrt(T))) > 1e-9 {
				return false
			}
			va, ch := SecondOrder(S, K, T, sigma, r)
			return !math.IsNaN(va) && !math.IsInf(va, 0) && !math.IsNaN(ch) && !math.IsInf(ch, 0)
		},
		gen.Float64Range(1, 5000),
		gen.Float64Range(1, 5000),
		gen.Float64Range(1.0/365, 2),
		gen.Float64Range(0.01, 3),
		gen.Float64Range(0, 0.1),
	))

	properties.Property("退化输入返回 (0,0)", prop.ForAll(
		func(S, K, T, sigma float64) bool {
			d1, d2 := D1D2(S, K, T, sigma, 0.05)
			va, ch := SecondOrder(S, K, T, sigma, 0.05)
			return d1 == 0 && d2 == 0 && va == 0 && ch == 0
		},
		gen.Float64Range(-100, 0),
		gen.Float64Range(1, 500),
		gen.Float64Range(0.1, 1),
		gen.Float64Range(0.1, 1),
	))

	properties.Property("put-call 平价", prop.ForAll(
		func(S, K, T, sigma, r float64) bool {
			c := Price(S, K, T, sigma, r, true)
			p := Price(S, K, T, sigma, r, false)
			return math.Abs((c-p)-(S-K*math.Exp(-r*T))) < 1e-6*math.Max(S, K)
		},
		gen.Float64Range(10, 1000),
		gen.Float64Range(10, 1000),
		gen.Float64Range(0.01, 2),
		gen.Float64Range(0.05, 1.5),
		gen.Float64Range(0, 0.08),
	))

	properties.TestingRun(t)
}
