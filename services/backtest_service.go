package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"wheel-backtester/config"
	"wheel-backtester/database"
	"wheel-backtester/interfaces"
	"wheel-backtester/models"
)

const (
	SourceSimulated = "sim"
	SourceAlpaca    = "alpaca"
)

// BacktestRequest represents a request to run one backtest
type BacktestRequest struct {
	Start          string   `json:"start" binding:"required"` // YYYY-MM-DD
	End            string   `json:"end" binding:"required"`
	InitialCapital float64  `json:"initial_capital" binding:"required,gt=0"`
	Symbols        []string `json:"symbols,omitempty"`
	Source         string   `json:"source,omitempty"` // sim (default) or alpaca
	Seed           uint64   `json:"seed,omitempty"`
	Save           bool     `json:"save"`
}

// BacktestOutcome is a finished run with its report
type BacktestOutcome struct {
	Report *BacktestReport
	Result *BacktestResult
}

// RunSummary is the list view of a persisted run
type RunSummary struct {
	RunID            string    `json:"run_id"`
	Source           string    `json:"source"`
	Seed             uint64    `json:"seed"`
	Symbols          []string  `json:"symbols"`
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
	InitialCapital   float64   `json:"initial_capital"`
	FinalValue       float64   `json:"final_value"`
	TotalReturn      float64   `json:"total_return"`
	AnnualizedReturn float64   `json:"annualized_return"`
	MaxDrawdown      float64   `json:"max_drawdown"`
	SharpeRatio      float64   `json:"sharpe_ratio"`
	TradeCount       int       `json:"trade_count"`
	SkipCount        int       `json:"skip_count"`
	CreatedAt        time.Time `json:"created_at"`
}

// RunStore persists backtest runs
type RunStore interface {
	SaveRun(rec *database.RunRecord) error
	GetRun(runID string) (*models.DBBacktestRun, error)
	ListRuns(limit int) ([]*models.DBBacktestRun, error)
	GetRunTrades(runID string) ([]*models.DBTrade, error)
	GetRunEquity(runID string) ([]*models.DBEquityPoint, error)
	GetRunSkips(runID string) ([]*models.DBSkipEvent, error)
}

// ProviderFactory builds the market data a run will see. indexMAWindow is
// always evaluated on snapshots, with warm-up sized to cover it.
type ProviderFactory func(ctx context.Context, source string, symbols []string, indexMAWindow int, start, end time.Time, seed uint64) (interfaces.MarketDataProvider, error)

// NewProviderFactory serves simulated data always and alpaca data when a
// loader is configured
func NewProviderFactory(calendar interfaces.TradingCalendar, alpaca *AlpacaMarketData, base SeriesOptions) ProviderFactory {
	return func(ctx context.Context, source string, symbols []string, indexMAWindow int, start, end time.Time, seed uint64) (interfaces.MarketDataProvider, error) {
		opts := base.WithMAWindow(indexMAWindow)
		switch source {
		case SourceSimulated:
			sim := DefaultSimulationOptions(seed)
			sim.Series = opts
			return NewSimulatedMarket(symbols, start, end, calendar, sim)
		case SourceAlpaca:
			if alpaca == nil {
				return nil, fmt.Errorf("%w: alpaca credentials are not configured", interfaces.ErrConfigurationInvalid)
			}
			return alpaca.Build(ctx, symbols, start, end, opts)
		default:
			return nil, fmt.Errorf("%w: unknown data source %q", interfaces.ErrConfigurationInvalid, source)
		}
	}
}

// BacktestService runs, persists and retrieves backtests
type BacktestService struct {
	strategy  config.StrategyConfig
	calendar  interfaces.TradingCalendar
	providers ProviderFactory
	store     RunStore
	journal   *RunJournal
	metrics   *BacktestMetrics
	logger    *logrus.Logger

	saveMu sync.Mutex
}

// NewBacktestService creates a service; store and journal may be nil
func NewBacktestService(
	strategy config.StrategyConfig,
	calendar interfaces.TradingCalendar,
	providers ProviderFactory,
	store RunStore,
	journal *RunJournal,
) *BacktestService {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &BacktestService{
		strategy:  strategy,
		calendar:  calendar,
		providers: providers,
		store:     store,
		journal:   journal,
		logger:    logger,
	}
}

// SetLogger replaces the service logger
func (bs *BacktestService) SetLogger(logger *logrus.Logger) {
	bs.logger = logger
}

// SetMetrics attaches Prometheus collectors to every run
func (bs *BacktestService) SetMetrics(metrics *BacktestMetrics) {
	bs.metrics = metrics
}

// RunBacktest runs one backtest and, when asked, persists and journals it
func (bs *BacktestService) RunBacktest(ctx context.Context, req *BacktestRequest) (*BacktestOutcome, error) {
	start, err := parseDate("start", req.Start)
	if err != nil {
		return nil, err
	}
	end, err := parseDate("end", req.End)
	if err != nil {
		return nil, err
	}
	if err := config.ValidateRun(start, end, req.InitialCapital); err != nil {
		return nil, err
	}

	cfg, err := bs.strategy.WithSymbols(req.Symbols)
	if err != nil {
		return nil, err
	}

	source := strings.ToLower(strings.TrimSpace(req.Source))
	if source == "" {
		source = SourceSimulated
	}

	bs.logger.WithFields(logrus.Fields{
		"start":   req.Start,
		"end":     req.End,
		"capital": req.InitialCapital,
		"source":  source,
		"symbols": cfg.SymbolNames(),
	}).Info("Running backtest")

	provider, err := bs.providers(ctx, source, cfg.SymbolNames(), cfg.IndexMAWindow, start, end, req.Seed)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare market data: %w", err)
	}

	runner, err := NewBacktestRunner(cfg, provider, bs.calendar)
	if err != nil {
		return nil, err
	}
	runner.SetLogger(bs.logger)
	runner.SetMetrics(bs.metrics)

	result, err := runner.Run(ctx, start, end, req.InitialCapital)
	if err != nil {
		return nil, err
	}

	report, err := NewBacktestReport(uuid.NewString(), source, cfg, result, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	if req.Save {
		if err := bs.persist(report, result, req.Seed); err != nil {
			return nil, err
		}
	}

	return &BacktestOutcome{Report: report, Result: result}, nil
}

func (bs *BacktestService) persist(report *BacktestReport, result *BacktestResult, seed uint64) error {
	if bs.store == nil && bs.journal == nil {
		return fmt.Errorf("%w: no storage configured to save runs", interfaces.ErrConfigurationInvalid)
	}

	bs.saveMu.Lock()
	defer bs.saveMu.Unlock()

	if bs.store != nil {
		rec, err := toRunRecord(report, result, seed)
		if err != nil {
			return err
		}
		if err := bs.store.SaveRun(rec); err != nil {
			return fmt.Errorf("failed to persist run: %w", err)
		}
	}

	if bs.journal != nil {
		if err := bs.journal.Write(report, result.Trades, result.Skipped); err != nil {
			return fmt.Errorf("failed to journal run: %w", err)
		}
	}

	return nil
}

// ListRuns returns persisted runs, newest first
func (bs *BacktestService) ListRuns(limit int) ([]*RunSummary, error) {
	if bs.store == nil {
		return nil, fmt.Errorf("%w: storage is not configured", interfaces.ErrConfigurationInvalid)
	}

	runs, err := bs.store.ListRuns(limit)
	if err != nil {
		return nil, err
	}

	out := make([]*RunSummary, len(runs))
	for i, run := range runs {
		out[i] = runSummary(run)
	}
	return out, nil
}

// GetRun returns the report of a persisted run
func (bs *BacktestService) GetRun(runID string) (*BacktestReport, error) {
	if bs.store == nil {
		return nil, fmt.Errorf("%w: storage is not configured", interfaces.ErrConfigurationInvalid)
	}

	run, err := bs.store.GetRun(runID)
	if err != nil {
		return nil, err
	}

	var report BacktestReport
	if err := json.Unmarshal([]byte(run.Report), &report); err != nil {
		return nil, fmt.Errorf("failed to parse stored report: %w", err)
	}
	return &report, nil
}

// GetTrades returns the trade log of a persisted run
func (bs *BacktestService) GetTrades(runID string) ([]interfaces.Trade, error) {
	if _, err := bs.GetRun(runID); err != nil {
		return nil, err
	}

	rows, err := bs.store.GetRunTrades(runID)
	if err != nil {
		return nil, err
	}

	trades := make([]interfaces.Trade, len(rows))
	for i, row := range rows {
		flow, err := decimal.NewFromString(row.CashFlow)
		if err != nil {
			return nil, fmt.Errorf("failed to parse cash flow of trade %s: %w", row.TradeID, err)
		}
		trades[i] = interfaces.Trade{
			ID:         row.TradeID,
			Symbol:     row.Symbol,
			Kind:       interfaces.OptionKind(row.Kind),
			Action:     interfaces.TradeAction(row.Action),
			Quantity:   row.Quantity,
			Price:      row.Price,
			Strike:     row.Strike,
			Expiration: row.Expiration,
			Timestamp:  row.ExecutedAt,
			Premium:    row.Premium,
			Delta:      row.Delta,
			IVRank:     row.IVRank,
			CashFlow:   flow,
		}
	}
	return trades, nil
}

// GetEquity returns the equity curve of a persisted run
func (bs *BacktestService) GetEquity(runID string) ([]interfaces.EquityPoint, error) {
	if _, err := bs.GetRun(runID); err != nil {
		return nil, err
	}

	rows, err := bs.store.GetRunEquity(runID)
	if err != nil {
		return nil, err
	}

	curve := make([]interfaces.EquityPoint, len(rows))
	for i, row := range rows {
		curve[i] = interfaces.EquityPoint{Date: row.Date, Value: row.Value}
	}
	return curve, nil
}

// GetSkips returns the skip events of a persisted run
func (bs *BacktestService) GetSkips(runID string) ([]interfaces.SkipEvent, error) {
	if _, err := bs.GetRun(runID); err != nil {
		return nil, err
	}

	rows, err := bs.store.GetRunSkips(runID)
	if err != nil {
		return nil, err
	}

	skips := make([]interfaces.SkipEvent, len(rows))
	for i, row := range rows {
		skips[i] = interfaces.SkipEvent{
			Date:   row.Date,
			Symbol: row.Symbol,
			Reason: interfaces.SkipReason(row.Reason),
			Detail: row.Detail,
		}
	}
	return skips, nil
}

func toRunRecord(report *BacktestReport, result *BacktestResult, seed uint64) (*database.RunRecord, error) {
	strategyJSON, err := json.Marshal(report.Strategy)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal strategy: %w", err)
	}
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}

	m := report.Metrics
	rec := &database.RunRecord{
		Run: &models.DBBacktestRun{
			RunID:            report.RunID,
			Source:           report.Source,
			Seed:             seed,
			Symbols:          strings.Join(report.Symbols, ","),
			StartDate:        report.Start,
			EndDate:          report.End,
			InitialCapital:   report.InitialCapital,
			FinalValue:       m.FinalValue,
			TotalReturn:      m.TotalReturn,
			AnnualizedReturn: m.AnnualizedReturn,
			MaxDrawdown:      m.MaxDrawdown,
			SharpeRatio:      m.SharpeRatio,
			SortinoRatio:     m.SortinoRatio,
			CalmarRatio:      m.CalmarRatio,
			Volatility:       m.Volatility,
			TradeCount:       report.Trades.Total,
			SkipCount:        report.SkipCount,
			BearDays:         report.BearDays,
			StrategyConfig:   string(strategyJSON),
			Report:           string(reportJSON),
		},
		Trades:    make([]*models.DBTrade, len(result.Trades)),
		Equity:    make([]*models.DBEquityPoint, len(result.EquityCurve)),
		Snapshots: make([]*models.DBPortfolioSnapshot, len(result.Snapshots)),
		Skips:     make([]*models.DBSkipEvent, len(result.Skipped)),
	}

	for i, t := range result.Trades {
		rec.Trades[i] = &models.DBTrade{
			RunID:      report.RunID,
			Seq:        i,
			TradeID:    t.ID,
			Symbol:     t.Symbol,
			Kind:       string(t.Kind),
			Action:     string(t.Action),
			Quantity:   t.Quantity,
			Price:      t.Price,
			Strike:     t.Strike,
			Expiration: t.Expiration,
			ExecutedAt: t.Timestamp,
			Premium:    t.Premium,
			Delta:      t.Delta,
			IVRank:     t.IVRank,
			CashFlow:   t.CashFlow.StringFixed(2),
		}
	}
	for i, p := range result.EquityCurve {
		rec.Equity[i] = &models.DBEquityPoint{RunID: report.RunID, Date: p.Date, Value: p.Value}
	}
	for i, snap := range result.Snapshots {
		positions, err := json.Marshal(snapshotPositions(snap))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
		}
		rec.Snapshots[i] = &models.DBPortfolioSnapshot{
			RunID:     report.RunID,
			Date:      snap.Timestamp,
			Cash:      snap.Cash.StringFixed(2),
			Total:     snap.TotalValue.StringFixed(2),
			Positions: string(positions),
		}
	}
	for i, s := range result.Skipped {
		rec.Skips[i] = &models.DBSkipEvent{
			RunID:  report.RunID,
			Date:   s.Date,
			Symbol: s.Symbol,
			Reason: string(s.Reason),
			Detail: s.Detail,
		}
	}

	return rec, nil
}

// snapshotPositions drops the trade history, which is stored once per run
func snapshotPositions(p interfaces.Portfolio) map[string]interfaces.PortfolioPosition {
	out := make(map[string]interfaces.PortfolioPosition, len(p.Positions))
	for symbol, pos := range p.Positions {
		cp := *pos
		cp.Trades = nil
		out[symbol] = cp
	}
	return out
}

func runSummary(run *models.DBBacktestRun) *RunSummary {
	var symbols []string
	if run.Symbols != "" {
		symbols = strings.Split(run.Symbols, ",")
	}
	return &RunSummary{
		RunID:            run.RunID,
		Source:           run.Source,
		Seed:             run.Seed,
		Symbols:          symbols,
		Start:            run.StartDate,
		End:              run.EndDate,
		InitialCapital:   run.InitialCapital,
		FinalValue:       run.FinalValue,
		TotalReturn:      run.TotalReturn,
		AnnualizedReturn: run.AnnualizedReturn,
		MaxDrawdown:      run.MaxDrawdown,
		SharpeRatio:      run.SharpeRatio,
		TradeCount:       run.TradeCount,
		SkipCount:        run.SkipCount,
		CreatedAt:        run.CreatedAt,
	}
}

func parseDate(field, value string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s date %q must be YYYY-MM-DD", interfaces.ErrConfigurationInvalid, field, value)
	}
	return t, nil
}
