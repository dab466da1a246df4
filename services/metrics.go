package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"wheel-backtester/interfaces"
)

// BacktestMetrics holds the Prometheus collectors for backtest runs.
// A nil *BacktestMetrics is valid and records nothing.
type BacktestMetrics struct {
	RunsTotal     *prometheus.CounterVec
	TradesTotal   *prometheus.CounterVec
	SkipsTotal    *prometheus.CounterVec
	DaysEvaluated prometheus.Counter
	RunDuration   prometheus.Histogram
}

// NewBacktestMetrics creates the collectors and registers them with reg
func NewBacktestMetrics(reg prometheus.Registerer) *BacktestMetrics {
	m := &BacktestMetrics{
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wheelbt_runs_total",
				Help: "Total number of backtest runs by result",
			},
			[]string{"result"},
		),

		TradesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wheelbt_trades_total",
				Help: "Total number of simulated trades by symbol and action",
			},
			[]string{"symbol", "action"},
		),

		SkipsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wheelbt_skips_total",
				Help: "Total number of skipped symbol days by reason",
			},
			[]string{"reason"},
		),

		DaysEvaluated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wheelbt_days_evaluated_total",
				Help: "Total number of simulated trading days evaluated",
			},
		),

		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wheelbt_run_duration_seconds",
				Help:    "Wall time of a backtest run in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
	}

	if reg != nil {
		reg.MustRegister(m.RunsTotal, m.TradesTotal, m.SkipsTotal, m.DaysEvaluated, m.RunDuration)
	}

	return m
}

// ObserveDay records one evaluated day with its trades and skips
func (m *BacktestMetrics) ObserveDay(trades []interfaces.Trade, skipped []interfaces.SkipEvent) {
	if m == nil {
		return
	}
	m.DaysEvaluated.Inc()
	for _, t := range trades {
		m.TradesTotal.WithLabelValues(t.Symbol, string(t.Action)).Inc()
	}
	for _, s := range skipped {
		m.SkipsTotal.WithLabelValues(string(s.Reason)).Inc()
	}
}

// ObserveRun records the outcome and wall time of a run
func (m *BacktestMetrics) ObserveRun(err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.RunsTotal.WithLabelValues(result).Inc()
	m.RunDuration.Observe(elapsed.Seconds())
}
