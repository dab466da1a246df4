package services

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wheel-backtester/interfaces"
)

func curve(values ...float64) []interfaces.EquityPoint {
	start := day("2024-01-02")
	out := make([]interfaces.EquityPoint, len(values))
	for i, v := range values {
		out[i] = interfaces.EquityPoint{Date: start.AddDate(0, 0, i), Value: v}
	}
	return out
}

func TestComputeMetricsBasicCurve(t *testing.T) {
	m, err := ComputeMetrics(curve(100000, 110000, 99000, 105000), 100000)
	require.NoError(t, err)

	assert.InDelta(t, 0.05, m.TotalReturn, 1e-12)
	assert.InDelta(t, -0.1, m.MaxDrawdown, 1e-12)
	assert.InDelta(t, 105000, m.FinalValue, 1e-9)
	assert.Equal(t, 3, m.ElapsedDays)
	assert.Greater(t, m.AnnualizedReturn, m.TotalReturn)
	assert.Greater(t, m.Volatility, 0.0)
	assert.NotZero(t, m.SharpeRatio)
	assert.InDelta(t, m.AnnualizedReturn/0.1, m.CalmarRatio, 1e-6)
}

func TestComputeMetricsSinglePoint(t *testing.T) {
	m, err := ComputeMetrics(curve(100000), 100000)
	require.NoError(t, err)

	assert.Zero(t, m.TotalReturn)
	assert.Zero(t, m.AnnualizedReturn)
	assert.Zero(t, m.MaxDrawdown)
	assert.Zero(t, m.SharpeRatio)
	assert.Zero(t, m.ElapsedDays)
}

func TestComputeMetricsRejectsBadInput(t *testing.T) {
	_, err := ComputeMetrics(nil, 100000)
	assert.ErrorIs(t, err, ErrEmptyEquityCurve)

	_, err = ComputeMetrics(curve(100), 0)
	assert.ErrorIs(t, err, interfaces.ErrConfigurationInvalid)
}

func TestComputeMetricsFlatCurveHasNoSharpe(t *testing.T) {
	m, err := ComputeMetrics(curve(100, 100, 100, 100), 100)
	require.NoError(t, err)

	assert.Zero(t, m.SharpeRatio)
	assert.Zero(t, m.SortinoRatio)
	assert.Zero(t, m.Volatility)
	assert.Zero(t, m.MaxDrawdown)
}

func TestComputeMetricsTotalLoss(t *testing.T) {
	m, err := ComputeMetrics(curve(100, 50, 0), 100)
	require.NoError(t, err)

	assert.InDelta(t, -1, m.TotalReturn, 1e-12)
	assert.InDelta(t, -1, m.AnnualizedReturn, 1e-12)
	assert.InDelta(t, -1, m.MaxDrawdown, 1e-12)
	assert.False(t, math.IsNaN(m.SharpeRatio))
}

func TestComputeMetricsIsIdempotent(t *testing.T) {
	c := curve(100, 103, 101, 99, 104, 108)
	first, err := ComputeMetrics(c, 100)
	require.NoError(t, err)
	second, err := ComputeMetrics(c, 100)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestMaxDrawdownProperties(t *testing.T) {
	rising := curve(100, 101, 105, 110)
	assert.Zero(t, MaxDrawdown(rising))

	c := curve(100, 120, 90, 130, 117)
	dd := MaxDrawdown(c)
	assert.InDelta(t, -0.25, dd, 1e-12)
	assert.LessOrEqual(t, dd, 0.0)
	assert.GreaterOrEqual(t, dd, -1.0)

	// a later shallower dip never replaces the worst one
	assert.Equal(t, dd, MaxDrawdown(append(c, curve(125)...)))

	negative := curve(100, -50)
	assert.Equal(t, -1.0, MaxDrawdown(negative))

	assert.Zero(t, MaxDrawdown(nil))
}

func TestDailyReturnsSkipsZeroBase(t *testing.T) {
	returns := DailyReturns(curve(100, 110, 0, 50))
	require.Len(t, returns, 2)
	assert.InDelta(t, 0.1, returns[0], 1e-12)
	assert.InDelta(t, -1, returns[1], 1e-12)

	assert.Nil(t, DailyReturns(curve(100)))
}

func TestAnnualizeOneYear(t *testing.T) {
	pa := NewPerformanceAnalyzer()
	assert.InDelta(t, 0.21, pa.annualize(0.21, 365), 0.001)
	assert.Zero(t, pa.annualize(0.5, 0))
}
