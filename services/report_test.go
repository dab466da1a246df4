package services

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wheel-backtester/config"
	"wheel-backtester/interfaces"
)

func sampleTrades() []interfaces.Trade {
	return []interfaces.Trade{
		{Symbol: "NVDA", Kind: interfaces.OptionPut, Action: interfaces.ActionOpen, CashFlow: decimal.NewFromInt(200)},
		{Symbol: "NVDA", Kind: interfaces.OptionPut, Action: interfaces.ActionRoll, CashFlow: decimal.NewFromInt(-120)},
		{Symbol: "NVDA", Kind: interfaces.OptionPut, Action: interfaces.ActionOpen, CashFlow: decimal.NewFromInt(250)},
		{Symbol: "NVDA", Kind: interfaces.OptionPut, Action: interfaces.ActionExercise, CashFlow: decimal.NewFromInt(-10000)},
		{Symbol: "NVDA", Kind: interfaces.OptionCall, Action: interfaces.ActionOpen, CashFlow: decimal.NewFromInt(150)},
		{Symbol: "QQQ", Kind: interfaces.OptionPut, Action: interfaces.ActionOpen, CashFlow: decimal.NewFromInt(500)},
		{Symbol: "QQQ", Kind: interfaces.OptionPut, Action: interfaces.ActionClose, CashFlow: decimal.NewFromInt(-150)},
	}
}

func TestSummarizeTrades(t *testing.T) {
	s := SummarizeTrades(sampleTrades())

	assert.Equal(t, 7, s.Total)
	assert.Equal(t, 6, s.PutTrades)
	assert.Equal(t, 1, s.CallTrades)
	assert.Equal(t, 1, s.Assignments)
	assert.Equal(t, 4, s.ByAction[interfaces.ActionOpen])
	assert.Equal(t, 5, s.BySymbol["NVDA"])
	assert.Equal(t, "1100.00", s.PremiumCollected.StringFixed(2))
	assert.Equal(t, "830.00", s.NetOptionCash.StringFixed(2))
}

func TestSummarizeTradesEmpty(t *testing.T) {
	s := SummarizeTrades(nil)
	assert.Zero(t, s.Total)
	assert.True(t, s.PremiumCollected.IsZero())
	assert.NotNil(t, s.ByAction)
}

func TestNewBacktestReport(t *testing.T) {
	p := NewPortfolio([]string{"NVDA", "QQQ"}, 100000, day("2024-01-02"))
	p.Positions["NVDA"].State = interfaces.StatePutSold
	p.Positions["NVDA"].Option = &interfaces.OptionContract{ContractID: "NVDA_20240216_P_100", Kind: interfaces.OptionPut}

	result := &BacktestResult{
		Start:          day("2024-01-01"),
		End:            day("2024-01-04"),
		InitialCapital: 100000,
		Symbols:        []string{"NVDA", "QQQ"},
		EquityCurve:    curve(100000, 110000, 99000, 105000),
		Snapshots:      []interfaces.Portfolio{ClonePortfolio(p)},
		Trades:         sampleTrades(),
		Skipped: []interfaces.SkipEvent{
			{Symbol: "QQQ", Reason: interfaces.SkipNoCandidate},
			{Symbol: "QQQ", Reason: interfaces.SkipNoCandidate},
			{Symbol: "NVDA", Reason: interfaces.SkipBearMarketExclusion},
		},
		BearDays: 1,
	}

	runID := uuid.NewString()
	report, err := NewBacktestReport(runID, SourceSimulated, config.DefaultStrategyConfig(), result, day("2024-02-01"))
	require.NoError(t, err)

	assert.Equal(t, runID, report.RunID)
	assert.InDelta(t, 0.05, report.Metrics.TotalReturn, 1e-12)
	assert.Equal(t, 3, report.SkipCount)
	assert.Equal(t, 2, report.SkipsByReason[string(interfaces.SkipNoCandidate)])
	require.Len(t, report.FinalPositions, 2)
	assert.Equal(t, "NVDA_20240216_P_100", report.FinalPositions[0].OpenOption)
	assert.Equal(t, interfaces.StateCash, report.FinalPositions[1].State)

	var buf bytes.Buffer
	require.NoError(t, report.WriteSummary(&buf))
	out := buf.String()
	assert.Contains(t, out, "STRATEGY PERFORMANCE SUMMARY")
	assert.Contains(t, out, "Total Return: 5.00%")
	assert.Contains(t, out, "Max Drawdown: -10.00%")
	assert.Contains(t, out, "Assignments: 1")
	assert.Contains(t, out, "Total Premium Collected: $1100.00")
}

func TestNewBacktestReportRejectsEmptyCurve(t *testing.T) {
	_, err := NewBacktestReport(uuid.NewString(), SourceSimulated, config.DefaultStrategyConfig(), &BacktestResult{InitialCapital: 1}, day("2024-02-01"))
	assert.ErrorIs(t, err, ErrEmptyEquityCurve)
}
