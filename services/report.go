package services

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"wheel-backtester/config"
	"wheel-backtester/interfaces"
)

// TradeSummary aggregates a trade log
type TradeSummary struct {
	Total            int                            `json:"total"`
	PutTrades        int                            `json:"put_trades"`
	CallTrades       int                            `json:"call_trades"`
	ByAction         map[interfaces.TradeAction]int `json:"by_action"`
	Assignments      int                            `json:"assignments"`
	PremiumCollected decimal.Decimal                `json:"premium_collected"`
	NetOptionCash    decimal.Decimal                `json:"net_option_cash"`
	BySymbol         map[string]int                 `json:"by_symbol"`
}

// SummarizeTrades counts trades and totals option premium. Premium collected
// sums opening credits; net option cash also subtracts buybacks.
func SummarizeTrades(trades []interfaces.Trade) TradeSummary {
	s := TradeSummary{
		ByAction:         make(map[interfaces.TradeAction]int),
		BySymbol:         make(map[string]int),
		PremiumCollected: decimal.Zero,
		NetOptionCash:    decimal.Zero,
	}

	for _, t := range trades {
		s.Total++
		s.ByAction[t.Action]++
		s.BySymbol[t.Symbol]++

		switch t.Kind {
		case interfaces.OptionPut:
			s.PutTrades++
		case interfaces.OptionCall:
			s.CallTrades++
		}

		switch t.Action {
		case interfaces.ActionOpen:
			s.PremiumCollected = s.PremiumCollected.Add(t.CashFlow)
			s.NetOptionCash = s.NetOptionCash.Add(t.CashFlow)
		case interfaces.ActionClose, interfaces.ActionRoll:
			s.NetOptionCash = s.NetOptionCash.Add(t.CashFlow)
		case interfaces.ActionExercise:
			s.Assignments++
		}
	}

	return s
}

// BacktestReport is the persisted and printed outcome of a run
type BacktestReport struct {
	RunID          string                 `json:"run_id"`
	Start          time.Time              `json:"start"`
	End            time.Time              `json:"end"`
	Symbols        []string               `json:"symbols"`
	Strategy       config.StrategyConfig  `json:"strategy"`
	Source         string                 `json:"source"`
	InitialCapital float64                `json:"initial_capital"`
	Metrics        Metrics                `json:"metrics"`
	Trades         TradeSummary           `json:"trades"`
	SkipCount      int                    `json:"skip_count"`
	SkipsByReason  map[string]int         `json:"skips_by_reason"`
	BearDays       int                    `json:"bear_days"`
	FinalPositions []PositionSummary      `json:"final_positions"`
	CreatedAt      time.Time              `json:"created_at"`
	Skipped        []interfaces.SkipEvent `json:"-"`
}

// PositionSummary is the end-of-run state of one symbol
type PositionSummary struct {
	Symbol      string                   `json:"symbol"`
	State       interfaces.PositionState `json:"state"`
	Quantity    int                      `json:"quantity"`
	AverageCost float64                  `json:"average_cost"`
	OpenOption  string                   `json:"open_option,omitempty"`
}

// NewBacktestReport measures result and assembles the report
func NewBacktestReport(runID, source string, cfg config.StrategyConfig, result *BacktestResult, createdAt time.Time) (*BacktestReport, error) {
	metrics, err := ComputeMetrics(result.EquityCurve, result.InitialCapital)
	if err != nil {
		return nil, fmt.Errorf("failed to compute metrics: %w", err)
	}

	report := &BacktestReport{
		RunID:          runID,
		Start:          result.Start,
		End:            result.End,
		Symbols:        result.Symbols,
		Strategy:       cfg,
		Source:         source,
		InitialCapital: result.InitialCapital,
		Metrics:        metrics,
		Trades:         SummarizeTrades(result.Trades),
		SkipCount:      len(result.Skipped),
		SkipsByReason:  make(map[string]int),
		BearDays:       result.BearDays,
		CreatedAt:      createdAt,
		Skipped:        result.Skipped,
	}
	for _, s := range result.Skipped {
		report.SkipsByReason[string(s.Reason)]++
	}

	if final := result.FinalPortfolio(); final != nil {
		for _, symbol := range final.Symbols {
			pos := final.Positions[symbol]
			ps := PositionSummary{
				Symbol:      symbol,
				State:       pos.State,
				Quantity:    pos.Quantity,
				AverageCost: pos.AverageCost,
			}
			if pos.Option != nil {
				ps.OpenOption = pos.Option.ContractID
			}
			report.FinalPositions = append(report.FinalPositions, ps)
		}
	}

	return report, nil
}

// WriteSummary prints the performance summary block
func (r *BacktestReport) WriteSummary(w io.Writer) error {
	rule := strings.Repeat("=", 60)
	lines := []string{
		rule,
		"STRATEGY PERFORMANCE SUMMARY",
		rule,
		fmt.Sprintf("Run: %s (%s data)", r.RunID, r.Source),
		fmt.Sprintf("Period: %s to %s", r.Start.Format("2006-01-02"), r.End.Format("2006-01-02")),
		fmt.Sprintf("Symbols: %s", strings.Join(r.Symbols, ", ")),
		fmt.Sprintf("Initial Capital: $%.2f", r.InitialCapital),
		fmt.Sprintf("Final Portfolio Value: $%.2f", r.Metrics.FinalValue),
		fmt.Sprintf("Total Return: %.2f%%", r.Metrics.TotalReturn*100),
		fmt.Sprintf("Annualized Return: %.2f%%", r.Metrics.AnnualizedReturn*100),
		fmt.Sprintf("Max Drawdown: %.2f%%", r.Metrics.MaxDrawdown*100),
		fmt.Sprintf("Sharpe Ratio: %.2f", r.Metrics.SharpeRatio),
		fmt.Sprintf("Sortino Ratio: %.2f", r.Metrics.SortinoRatio),
		fmt.Sprintf("Trades Executed: %d", r.Trades.Total),
		"",
		"TRADE SUMMARY:",
		strings.Repeat("-", 40),
		fmt.Sprintf("Put Trades: %d", r.Trades.PutTrades),
		fmt.Sprintf("Call Trades: %d", r.Trades.CallTrades),
		fmt.Sprintf("Assignments: %d", r.Trades.Assignments),
		fmt.Sprintf("Total Premium Collected: $%s", r.Trades.PremiumCollected.StringFixed(2)),
		fmt.Sprintf("Net Option Cash: $%s", r.Trades.NetOptionCash.StringFixed(2)),
		fmt.Sprintf("Skipped Symbol-Days: %d", r.SkipCount),
		fmt.Sprintf("Bear Market Days: %d", r.BearDays),
	}

	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
