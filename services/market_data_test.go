package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wheel-backtester/interfaces"
)

func linearBars(symbol string, start time.Time, n int, base, step float64) []*interfaces.Bar {
	bars := make([]*interfaces.Bar, n)
	for i := 0; i < n; i++ {
		px := base + float64(i)*step
		bars[i] = &interfaces.Bar{
			Symbol:    symbol,
			Timestamp: start.AddDate(0, 0, i),
			Open:      px,
			High:      px,
			Low:       px,
			Close:     px,
		}
	}
	return bars
}

func TestSeriesMarketDataSnapshot(t *testing.T) {
	start := day("2023-01-01")
	bars := map[string][]*interfaces.Bar{
		"NVDA": linearBars("NVDA", start, 250, 100, 0.1),
	}
	vix := []*interfaces.Bar{{Symbol: VIXSymbol, Timestamp: start.AddDate(0, 0, 249), Close: 22.5}}

	m, err := NewSeriesMarketData(bars, vix, DefaultSeriesOptions())
	require.NoError(t, err)
	assert.True(t, m.HasSymbol("NVDA"))
	assert.False(t, m.HasSymbol("QQQ"))

	snap, err := m.CurrentSnapshot(context.Background(), "NVDA", start.AddDate(0, 0, 249))
	require.NoError(t, err)
	assert.InDelta(t, 124.9, snap.Price, 1e-9)
	assert.InDelta(t, 122.45, snap.MovingAverages[50], 1e-9)
	assert.InDelta(t, 114.95, snap.MovingAverages[200], 1e-9)
	assert.Equal(t, 22.5, snap.VIX)
	assert.Greater(t, snap.IV30, 0.0)
	assert.GreaterOrEqual(t, snap.IVRank, 0.0)
	assert.LessOrEqual(t, snap.IVRank, 1.0)

	early, err := m.CurrentSnapshot(context.Background(), "NVDA", start.AddDate(0, 0, 10))
	require.NoError(t, err)
	assert.NotContains(t, early.MovingAverages, 50)
	assert.Zero(t, early.VIX)

	first, err := m.CurrentSnapshot(context.Background(), "NVDA", start.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Equal(t, fallbackIV, first.IV30)
}

func TestSeriesMarketDataMissingData(t *testing.T) {
	start := day("2023-01-01")
	m, err := NewSeriesMarketData(map[string][]*interfaces.Bar{
		"NVDA": linearBars("NVDA", start, 5, 100, 1),
	}, nil, DefaultSeriesOptions())
	require.NoError(t, err)

	_, err = m.CurrentSnapshot(context.Background(), "TSLA", start)
	assert.ErrorIs(t, err, interfaces.ErrDataUnavailable)

	_, err = m.CurrentSnapshot(context.Background(), "NVDA", start.AddDate(0, 0, 30))
	assert.ErrorIs(t, err, interfaces.ErrDataUnavailable)

	_, err = m.OptionPremium(context.Background(), &interfaces.OptionContract{Symbol: "TSLA"}, start)
	assert.ErrorIs(t, err, interfaces.ErrDataUnavailable)
}

func TestSeriesMarketDataRejectsBadBars(t *testing.T) {
	bars := linearBars("NVDA", day("2023-01-01"), 3, 100, 1)
	bars[1].Close = 0

	_, err := NewSeriesMarketData(map[string][]*interfaces.Bar{"NVDA": bars}, nil, DefaultSeriesOptions())
	assert.Error(t, err)

	opts := DefaultSeriesOptions()
	opts.LotSize = 0
	_, err = NewSeriesMarketData(nil, nil, opts)
	assert.ErrorIs(t, err, interfaces.ErrConfigurationInvalid)
}

func TestSeriesMarketDataVIXProxyFromIndex(t *testing.T) {
	start := day("2023-01-01")
	qqq := linearBars("QQQ", start, 40, 400, 0)
	for i := range qqq {
		if i%2 == 1 {
			qqq[i].Close = 404
		}
	}
	m, err := NewSeriesMarketData(map[string][]*interfaces.Bar{"QQQ": qqq}, nil, DefaultSeriesOptions())
	require.NoError(t, err)

	snap, err := m.CurrentSnapshot(context.Background(), "QQQ", start.AddDate(0, 0, 39))
	require.NoError(t, err)
	assert.Greater(t, snap.VIX, 0.0)
}

func TestSeriesMarketDataOptionPremiumAtExpiry(t *testing.T) {
	start := day("2023-01-01")
	m, err := NewSeriesMarketData(map[string][]*interfaces.Bar{
		"NVDA": linearBars("NVDA", start, 10, 90, 0),
	}, nil, DefaultSeriesOptions())
	require.NoError(t, err)

	contract := &interfaces.OptionContract{
		Symbol:     "NVDA",
		Kind:       interfaces.OptionPut,
		Strike:     100,
		Expiration: start.AddDate(0, 0, 5),
	}
	premium, err := m.OptionPremium(context.Background(), contract, start.AddDate(0, 0, 5))
	require.NoError(t, err)
	assert.InDelta(t, 1000, premium, 1e-9)
}

func TestSimulateBarsIsDeterministic(t *testing.T) {
	cal := NewTradingCalendar()
	start, end := day("2024-01-01"), day("2024-03-31")
	symbols := []string{"NVDA", "GOOGL"}

	a, vixA, err := SimulateBars(symbols, start, end, cal, DefaultSimulationOptions(42))
	require.NoError(t, err)
	b, vixB, err := SimulateBars(symbols, start, end, cal, DefaultSimulationOptions(42))
	require.NoError(t, err)
	c, _, err := SimulateBars(symbols, start, end, cal, DefaultSimulationOptions(43))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, vixA, vixB)
	assert.NotEqual(t, a["NVDA"][len(a["NVDA"])-1].Close, c["NVDA"][len(c["NVDA"])-1].Close)

	require.Contains(t, a, "QQQ")
	days := cal.TradingDays(start.AddDate(0, 0, -400), end)
	for symbol, bars := range a {
		assert.Len(t, bars, len(days), symbol)
		for _, bar := range bars {
			assert.Greater(t, bar.Close, 0.0)
			assert.GreaterOrEqual(t, bar.High, bar.Low)
		}
	}
	for _, v := range vixA {
		assert.GreaterOrEqual(t, v.Close, 9.0)
		assert.LessOrEqual(t, v.Close, 90.0)
	}
}

func TestSimulateBarsRejectsInvertedRange(t *testing.T) {
	_, _, err := SimulateBars([]string{"NVDA"}, day("2024-03-01"), day("2024-01-01"), NewTradingCalendar(), DefaultSimulationOptions(1))
	assert.ErrorIs(t, err, interfaces.ErrConfigurationInvalid)
}

func TestSimulatedMarketServesWarmedUpSnapshots(t *testing.T) {
	cal := NewTradingCalendar()
	m, err := NewSimulatedMarket([]string{"NVDA"}, day("2024-01-01"), day("2024-01-31"), cal, DefaultSimulationOptions(7))
	require.NoError(t, err)

	snap, err := m.CurrentSnapshot(context.Background(), "QQQ", day("2024-01-02"))
	require.NoError(t, err)
	assert.Contains(t, snap.MovingAverages, 200)
	assert.Greater(t, snap.VIX, 0.0)

	c, err := m.BestOption(context.Background(), interfaces.OptionQuery{
		Symbol: "NVDA",
		Kind:   interfaces.OptionPut,
		Delta:  interfaces.DeltaRange{Min: 0.15, Max: 0.25},
		DTE:    interfaces.DTERange{Min: 30, Max: 45},
		AsOf:   day("2024-01-02"),
	})
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "NVDA", c.Symbol)
}

func TestSeriesOptionsWithMAWindow(t *testing.T) {
	base := DefaultSeriesOptions()

	opts := base.WithMAWindow(100)
	assert.Equal(t, []int{50, 200, 100}, opts.MAWindows)
	assert.Equal(t, []int{50, 200}, base.MAWindows)

	assert.Equal(t, opts.MAWindows, opts.WithMAWindow(200).MAWindows)
	assert.Equal(t, base.MAWindows, base.WithMAWindow(0).MAWindows)
}

func TestSeriesOptionsWarmupCoversLongestWindow(t *testing.T) {
	assert.Equal(t, minWarmupDays, DefaultSeriesOptions().WarmupDays())
	assert.Equal(t, 450, DefaultSeriesOptions().WithMAWindow(300).WarmupDays())
}

func TestSimulatedMarketEvaluatesConfiguredWindow(t *testing.T) {
	cal := NewTradingCalendar()

	for _, window := range []int{100, 300} {
		sim := DefaultSimulationOptions(7)
		sim.Series = DefaultSeriesOptions().WithMAWindow(window)

		m, err := NewSimulatedMarket([]string{"NVDA"}, day("2023-03-01"), day("2023-03-31"), cal, sim)
		require.NoError(t, err)

		snap, err := m.CurrentSnapshot(context.Background(), "QQQ", day("2023-03-01"))
		require.NoError(t, err)
		assert.Contains(t, snap.MovingAverages, window, "window %d", window)
		assert.Contains(t, snap.MovingAverages, 200)
	}
}
