package services

import (
	"math"
)

const tradingDaysPerYear = 252

// CalculateSMA calculates the simple moving average of the last period values
func CalculateSMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	return average(values[len(values)-period:])
}

// prefixSums lets any trailing window average be read in O(1)
type prefixSums []float64

func newPrefixSums(values []float64) prefixSums {
	out := make(prefixSums, len(values)+1)
	for i, v := range values {
		out[i+1] = out[i] + v
	}
	return out
}

// SMA returns the average of values[i-window+1 .. i], false when the window
// reaches before the first value
func (p prefixSums) SMA(i, window int) (float64, bool) {
	if window <= 0 || i+1 < window || i+1 >= len(p) {
		return 0, false
	}
	return (p[i+1] - p[i+1-window]) / float64(window), true
}

// LogReturns converts closes to day-over-day log returns
func LogReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 || closes[i] <= 0 {
			continue
		}
		out = append(out, math.Log(closes[i]/closes[i-1]))
	}
	return out
}

// RealizedVolatility annualizes the sample stdev of the last window returns
func RealizedVolatility(returns []float64, window int) (float64, bool) {
	if window > 0 && len(returns) > window {
		returns = returns[len(returns)-window:]
	}
	if len(returns) < 2 {
		return 0, false
	}
	return stdDev(returns) * math.Sqrt(tradingDaysPerYear), true
}

// RankInRange places current inside the min/max of history, 0.5 when flat
func RankInRange(history []float64, current float64) float64 {
	if len(history) == 0 {
		return 0.5
	}

	lo, hi := history[0], history[0]
	for _, v := range history[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	lo = math.Min(lo, current)
	hi = math.Max(hi, current)

	if hi-lo < 1e-12 {
		return 0.5
	}
	return (current - lo) / (hi - lo)
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stdDev is the sample (n-1) standard deviation
func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := average(values)
	sum := 0.0
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}
