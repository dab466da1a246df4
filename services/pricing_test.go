package services

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wheel-backtester/interfaces"
)

func TestCalculateBlackScholesReferenceValues(t *testing.T) {
	in := BlackScholesInput{S: 100, K: 100, T: 1, R: 0.05, V: 0.2}

	call := CalculateBlackScholes(interfaces.OptionCall, in)
	assert.InDelta(t, 10.4506, call.Price, 1e-3)
	assert.InDelta(t, 0.6368, call.Delta, 1e-3)

	put := CalculateBlackScholes(interfaces.OptionPut, in)
	assert.InDelta(t, 5.5735, put.Price, 1e-3)
	assert.InDelta(t, call.Delta-1, put.Delta, 1e-12)

	// put-call parity
	assert.InDelta(t, call.Price-put.Price, in.S-in.K*math.Exp(-in.R*in.T), 1e-9)
}

func TestCalculateBlackScholesAtExpiry(t *testing.T) {
	put := CalculateBlackScholes(interfaces.OptionPut, BlackScholesInput{S: 90, K: 100})
	assert.Equal(t, 10.0, put.Price)
	assert.Equal(t, -1.0, put.Delta)

	call := CalculateBlackScholes(interfaces.OptionCall, BlackScholesInput{S: 90, K: 100})
	assert.Zero(t, call.Price)
	assert.Zero(t, call.Delta)
}

func TestStrikeStep(t *testing.T) {
	assert.Equal(t, 0.5, StrikeStep(20))
	assert.Equal(t, 1.0, StrikeStep(80))
	assert.Equal(t, 2.5, StrikeStep(120))
	assert.Equal(t, 5.0, StrikeStep(450))
	assert.Equal(t, 10.0, StrikeStep(1200))
}

func TestExpirationsAreFridaysInsideWindow(t *testing.T) {
	exps := Expirations(day("2024-03-01"), interfaces.DTERange{Min: 30, Max: 45})
	assert.Equal(t, []time.Time{day("2024-04-05"), day("2024-04-12")}, exps)
}

func TestChainBestPutInsideBand(t *testing.T) {
	chain := ChainModel{RiskFreeRate: 0.04, HalfSpread: 0.05}
	q := interfaces.OptionQuery{
		Symbol:          "NVDA",
		Kind:            interfaces.OptionPut,
		Delta:           interfaces.DeltaRange{Min: 0.15, Max: 0.20},
		UnderlyingPrice: 120,
		DTE:             interfaces.DTERange{Min: 30, Max: 45},
		AsOf:            day("2024-03-01"),
	}

	c := chain.Best(q, 0.5, 0.4)
	require.NotNil(t, c)
	assert.Equal(t, "NVDA", c.Symbol)
	assert.Equal(t, interfaces.OptionPut, c.Kind)
	assert.True(t, q.Delta.Contains(c.Delta))
	assert.True(t, q.DTE.Contains(c.DTE))
	assert.Less(t, c.Strike, 120.0)
	assert.InDelta(t, 0, math.Mod(c.Strike, 2.5), 1e-9)
	assert.Greater(t, c.Bid, 0.0)
	assert.Greater(t, c.Ask, c.Bid)
	assert.Equal(t, 0.4, c.IVRank)
}

func TestChainBestCallRespectsMinStrike(t *testing.T) {
	chain := ChainModel{RiskFreeRate: 0.04, HalfSpread: 0.05}
	q := interfaces.OptionQuery{
		Symbol:          "NVDA",
		Kind:            interfaces.OptionCall,
		Delta:           interfaces.DeltaRange{Min: 0.15, Max: 0.20},
		UnderlyingPrice: 120,
		DTE:             interfaces.DTERange{Min: 30, Max: 45},
		AsOf:            day("2024-03-01"),
		MinStrike:       135,
	}

	c := chain.Best(q, 0.5, 0.4)
	require.NotNil(t, c)
	assert.GreaterOrEqual(t, c.Strike, 135.0)
	assert.True(t, q.Delta.Contains(c.Delta))

	assert.Nil(t, chain.Best(q, 0, 0.4))
}

func TestChainMark(t *testing.T) {
	chain := ChainModel{RiskFreeRate: 0.04, HalfSpread: 0.05}
	contract := &interfaces.OptionContract{Kind: interfaces.OptionPut, Strike: 100, Expiration: day("2024-04-05")}

	assert.InDelta(t, 10, chain.Mark(contract, 90, 0.4, day("2024-04-05")), 1e-9)
	assert.InDelta(t, 10, chain.Mark(contract, 90, 0.4, day("2024-04-08")), 1e-9)

	live := chain.Mark(contract, 110, 0.4, day("2024-03-01"))
	assert.Greater(t, live, 0.0)
	assert.Less(t, live, 10.0)
}

func TestTradingCalendar(t *testing.T) {
	cal := NewTradingCalendar()

	assert.False(t, cal.IsTradingDay(day("2024-07-04")))
	assert.False(t, cal.IsTradingDay(day("2024-07-06")))
	assert.True(t, cal.IsTradingDay(day("2024-07-05")))

	days := cal.TradingDays(day("2024-07-01"), day("2024-07-07"))
	assert.Equal(t, []time.Time{day("2024-07-01"), day("2024-07-02"), day("2024-07-03"), day("2024-07-05")}, days)
	assert.Empty(t, cal.TradingDays(day("2024-07-06"), day("2024-07-07")))

	assert.True(t, cal.IsFirstTradingDay(day("2024-01-02")))
	assert.False(t, cal.IsFirstTradingDay(day("2024-01-03")))
	assert.False(t, cal.IsFirstTradingDay(day("2024-06-01")))
	assert.True(t, cal.IsFirstTradingDay(day("2024-06-03")))
}

func TestTechnicalIndicators(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	assert.Equal(t, 4.0, CalculateSMA(values, 3))
	assert.Zero(t, CalculateSMA(values, 6))

	sums := newPrefixSums(values)
	sma, ok := sums.SMA(4, 3)
	require.True(t, ok)
	assert.InDelta(t, 4, sma, 1e-12)
	_, ok = sums.SMA(1, 3)
	assert.False(t, ok)

	assert.Equal(t, 0.5, RankInRange([]float64{10, 20}, 15))
	assert.Equal(t, 1.0, RankInRange([]float64{10, 20}, 25))
	assert.Equal(t, 0.5, RankInRange([]float64{10, 10}, 10))
	assert.Equal(t, 0.5, RankInRange(nil, 10))

	returns := LogReturns([]float64{100, 0, 110, 121})
	require.Len(t, returns, 1)
	assert.InDelta(t, math.Log(1.1), returns[0], 1e-12)

	vol, ok := RealizedVolatility([]float64{0.01, 0.01, 0.01}, 20)
	require.True(t, ok)
	assert.InDelta(t, 0, vol, 1e-12)
	_, ok = RealizedVolatility([]float64{0.01}, 20)
	assert.False(t, ok)
}
