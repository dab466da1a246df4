package services

import (
	"errors"
	"fmt"
	"math"

	"wheel-backtester/interfaces"
)

// ErrEmptyEquityCurve is returned when there is nothing to measure
var ErrEmptyEquityCurve = errors.New("equity curve is empty")

// Metrics summarizes one equity curve
type Metrics struct {
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	MaxDrawdown      float64 `json:"max_drawdown"` // negative fraction
	SharpeRatio      float64 `json:"sharpe_ratio"`
	SortinoRatio     float64 `json:"sortino_ratio"`
	CalmarRatio      float64 `json:"calmar_ratio"`
	Volatility       float64 `json:"volatility"` // annualized
	FinalValue       float64 `json:"final_value"`
	ElapsedDays      int     `json:"elapsed_days"`
}

// PerformanceAnalyzer computes Metrics; it holds no state between calls
type PerformanceAnalyzer struct {
	TradingDaysPerYear float64
	DaysPerYear        float64
}

// NewPerformanceAnalyzer uses 252 sessions and 365.25 calendar days a year
func NewPerformanceAnalyzer() *PerformanceAnalyzer {
	return &PerformanceAnalyzer{
		TradingDaysPerYear: tradingDaysPerYear,
		DaysPerYear:        365.25,
	}
}

// ComputeMetrics is NewPerformanceAnalyzer().Compute
func ComputeMetrics(curve []interfaces.EquityPoint, initialCapital float64) (Metrics, error) {
	return NewPerformanceAnalyzer().Compute(curve, initialCapital)
}

// Compute measures curve against initialCapital. Undefined ratios (zero
// elapsed days, fewer than two returns, zero deviation) are reported as 0.
func (pa *PerformanceAnalyzer) Compute(curve []interfaces.EquityPoint, initialCapital float64) (Metrics, error) {
	if len(curve) == 0 {
		return Metrics{}, ErrEmptyEquityCurve
	}
	if initialCapital <= 0 {
		return Metrics{}, fmt.Errorf("%w: initial capital must be positive, got %f", interfaces.ErrConfigurationInvalid, initialCapital)
	}

	first, last := curve[0], curve[len(curve)-1]
	m := Metrics{
		FinalValue:  last.Value,
		TotalReturn: last.Value/initialCapital - 1,
		ElapsedDays: daysBetween(first.Date, last.Date),
	}

	m.AnnualizedReturn = pa.annualize(m.TotalReturn, m.ElapsedDays)
	m.MaxDrawdown = MaxDrawdown(curve)

	returns := DailyReturns(curve)
	if len(returns) >= 2 {
		mean := average(returns)
		sd := stdDev(returns)
		scale := math.Sqrt(pa.TradingDaysPerYear)

		m.Volatility = sd * scale
		if sd > 0 {
			m.SharpeRatio = scale * mean / sd
		}
		if dd := downsideDeviation(returns); dd > 0 {
			m.SortinoRatio = scale * mean / dd
		}
	}

	if m.MaxDrawdown < 0 {
		m.CalmarRatio = m.AnnualizedReturn / -m.MaxDrawdown
	}

	return m, nil
}

func (pa *PerformanceAnalyzer) annualize(totalReturn float64, elapsedDays int) float64 {
	if elapsedDays <= 0 {
		return 0
	}
	if totalReturn <= -1 {
		return -1
	}
	return math.Pow(1+totalReturn, pa.DaysPerYear/float64(elapsedDays)) - 1
}

// MaxDrawdown is the deepest fall from a running peak, in [-1, 0]
func MaxDrawdown(curve []interfaces.EquityPoint) float64 {
	if len(curve) == 0 {
		return 0
	}

	peak := curve[0].Value
	worst := 0.0
	for _, p := range curve {
		if p.Value > peak {
			peak = p.Value
		}
		if peak <= 0 {
			continue
		}
		if dd := (p.Value - peak) / peak; dd < worst {
			worst = dd
		}
	}

	return math.Max(worst, -1)
}

// DailyReturns are simple point-over-point returns, skipping zero bases
func DailyReturns(curve []interfaces.EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	out := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Value
		if prev == 0 {
			continue
		}
		out = append(out, curve[i].Value/prev-1)
	}
	return out
}

func downsideDeviation(returns []float64) float64 {
	sum := 0.0
	n := 0
	for _, r := range returns {
		if r < 0 {
			sum += r * r
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(n))
}
