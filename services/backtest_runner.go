package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"wheel-backtester/config"
	"wheel-backtester/interfaces"
)

// BacktestResult is the full chronological trace of one run
type BacktestResult struct {
	Start          time.Time                `json:"start"`
	End            time.Time                `json:"end"`
	InitialCapital float64                  `json:"initial_capital"`
	Symbols        []string                 `json:"symbols"`
	EquityCurve    []interfaces.EquityPoint `json:"equity_curve"`
	Snapshots      []interfaces.Portfolio   `json:"portfolio_snapshots"`
	Trades         []interfaces.Trade       `json:"trades"`
	Skipped        []interfaces.SkipEvent   `json:"skipped"`
	BearDays       int                      `json:"bear_days"`
}

// FinalPortfolio returns the last daily snapshot
func (r *BacktestResult) FinalPortfolio() *interfaces.Portfolio {
	if len(r.Snapshots) == 0 {
		return nil
	}
	return &r.Snapshots[len(r.Snapshots)-1]
}

// BacktestRunner drives the wheel strategy over a trading calendar
type BacktestRunner struct {
	cfg      config.StrategyConfig
	provider interfaces.MarketDataProvider
	calendar interfaces.TradingCalendar
	logger   *logrus.Logger
	metrics  *BacktestMetrics
}

// NewBacktestRunner validates cfg and binds it to a provider and calendar
func NewBacktestRunner(cfg config.StrategyConfig, provider interfaces.MarketDataProvider, calendar interfaces.TradingCalendar) (*BacktestRunner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if provider == nil || calendar == nil {
		return nil, fmt.Errorf("%w: market data provider and calendar are required", interfaces.ErrConfigurationInvalid)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &BacktestRunner{
		cfg:      cfg,
		provider: provider,
		calendar: calendar,
		logger:   logger,
	}, nil
}

// SetLogger replaces the runner logger
func (r *BacktestRunner) SetLogger(logger *logrus.Logger) {
	r.logger = logger
}

// SetMetrics attaches Prometheus collectors; nil disables them
func (r *BacktestRunner) SetMetrics(metrics *BacktestMetrics) {
	r.metrics = metrics
}

// Run evaluates every trading day in [start, end]. Per-symbol data gaps are
// recorded as skip events; only invalid input or cancellation fail the run.
func (r *BacktestRunner) Run(ctx context.Context, start, end time.Time, initialCapital float64) (result *BacktestResult, err error) {
	began := time.Now()
	defer func() {
		r.metrics.ObserveRun(err, time.Since(began))
	}()

	if err := config.ValidateRun(start, end, initialCapital); err != nil {
		return nil, err
	}

	days := r.calendar.TradingDays(start, end)
	if len(days) == 0 {
		return nil, fmt.Errorf("%w: no trading days between %s and %s",
			interfaces.ErrConfigurationInvalid, start.Format("2006-01-02"), end.Format("2006-01-02"))
	}

	symbols := r.cfg.SymbolNames()
	engine := NewWheelEngine(r.cfg, r.provider, r.calendar)
	engine.SetLogger(r.logger)
	portfolio := NewPortfolio(symbols, initialCapital, days[0])

	result = &BacktestResult{
		Start:          truncateDay(start),
		End:            truncateDay(end),
		InitialCapital: initialCapital,
		Symbols:        symbols,
		EquityCurve:    make([]interfaces.EquityPoint, 0, len(days)),
		Snapshots:      make([]interfaces.Portfolio, 0, len(days)),
		Trades:         make([]interfaces.Trade, 0),
		Skipped:        make([]interfaces.SkipEvent, 0),
	}

	r.logger.WithFields(logrus.Fields{
		"start":   start.Format("2006-01-02"),
		"end":     end.Format("2006-01-02"),
		"days":    len(days),
		"symbols": symbols,
		"capital": initialCapital,
	}).Info("Starting backtest")

	for _, date := range days {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("backtest cancelled at %s: %w", date.Format("2006-01-02"), err)
		}

		day, skipped := r.marketDay(ctx, symbols, date)
		if day.BearMarket {
			result.BearDays++
		}

		var dayTrades []interfaces.Trade
		for _, symbol := range symbols {
			if _, ok := day.Snapshots[symbol]; !ok {
				continue
			}
			step := engine.Step(ctx, portfolio, portfolio.Positions[symbol], day)
			dayTrades = append(dayTrades, step.Trades...)
			skipped = append(skipped, step.Skipped...)
		}

		value := Revalue(portfolio, date)
		result.EquityCurve = append(result.EquityCurve, interfaces.EquityPoint{
			Date:  date,
			Value: value.InexactFloat64(),
		})
		result.Snapshots = append(result.Snapshots, ClonePortfolio(portfolio))
		result.Trades = append(result.Trades, dayTrades...)
		result.Skipped = append(result.Skipped, skipped...)

		r.metrics.ObserveDay(dayTrades, skipped)
	}

	r.logger.WithFields(logrus.Fields{
		"days":        len(days),
		"trades":      len(result.Trades),
		"skipped":     len(result.Skipped),
		"bear_days":   result.BearDays,
		"final_value": portfolio.TotalValue.StringFixed(2),
	}).Info("Backtest completed")

	return result, nil
}

// marketDay fetches every symbol and the index for date before any symbol
// is evaluated, so all of them see the same day
func (r *BacktestRunner) marketDay(ctx context.Context, symbols []string, date time.Time) (*MarketDay, []interfaces.SkipEvent) {
	day := &MarketDay{
		Date:      date,
		Snapshots: make(map[string]*interfaces.MarketSnapshot, len(symbols)+1),
	}
	var skipped []interfaces.SkipEvent

	for _, symbol := range symbols {
		snap, err := r.provider.CurrentSnapshot(ctx, symbol, date)
		if err != nil {
			reason := interfaces.SkipSnapshotUnavailable
			if !errors.Is(err, interfaces.ErrDataUnavailable) {
				reason = interfaces.SkipProviderError
				r.logger.WithError(err).WithField("symbol", symbol).Warn("Snapshot lookup failed")
			}
			skipped = append(skipped, interfaces.SkipEvent{
				Date:   date,
				Symbol: symbol,
				Reason: reason,
				Detail: err.Error(),
			})
			continue
		}
		day.Snapshots[symbol] = snap
	}

	index := r.cfg.IndexSymbol
	if _, ok := day.Snapshots[index]; !ok {
		snap, err := r.provider.CurrentSnapshot(ctx, index, date)
		if err != nil {
			r.logger.WithError(err).WithField("index", index).Debug("Index snapshot unavailable")
		} else {
			// the index is read by the bear predicate only
			day.Snapshots[index] = snap
		}
	}

	day.BearMarket = IsBearMarket(r.cfg, day.Snapshots)
	return day, skipped
}
