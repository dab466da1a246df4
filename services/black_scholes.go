package services

import (
	"math"

	"wheel-backtester/interfaces"
)

// BlackScholesInput holds the model inputs for one contract
type BlackScholesInput struct {
	S float64 // underlying price
	K float64 // strike
	T float64 // years to expiration
	R float64 // risk-free rate
	V float64 // volatility
}

// BlackScholesResult is the theoretical price and delta of one contract
type BlackScholesResult struct {
	Price float64
	Delta float64
}

// CalculateBlackScholes prices a European option. At or past expiry the
// result is intrinsic value with a 0/±1 delta.
func CalculateBlackScholes(kind interfaces.OptionKind, in BlackScholesInput) BlackScholesResult {
	if in.T <= 0 || in.V <= 0 {
		return expiredValue(kind, in.S, in.K)
	}

	sqrtT := math.Sqrt(in.T)
	d1 := (math.Log(in.S/in.K) + (in.R+0.5*in.V*in.V)*in.T) / (in.V * sqrtT)
	d2 := d1 - in.V*sqrtT
	discount := math.Exp(-in.R * in.T)

	if kind == interfaces.OptionCall {
		return BlackScholesResult{
			Price: in.S*normCdf(d1) - in.K*discount*normCdf(d2),
			Delta: normCdf(d1),
		}
	}

	return BlackScholesResult{
		Price: in.K*discount*normCdf(-d2) - in.S*normCdf(-d1),
		Delta: normCdf(d1) - 1,
	}
}

func expiredValue(kind interfaces.OptionKind, s, k float64) BlackScholesResult {
	if kind == interfaces.OptionCall {
		if s > k {
			return BlackScholesResult{Price: s - k, Delta: 1}
		}
		return BlackScholesResult{}
	}
	if s < k {
		return BlackScholesResult{Price: k - s, Delta: -1}
	}
	return BlackScholesResult{}
}

// normCdf is the standard normal cumulative distribution
func normCdf(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}
