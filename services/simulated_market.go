package services

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"wheel-backtester/interfaces"
)

// VIXSymbol is the series name used for the volatility index
const VIXSymbol = "VIX"

// SymbolDynamics parameterizes the geometric Brownian motion of one symbol
type SymbolDynamics struct {
	StartPrice float64 `json:"start_price"`
	Drift      float64 `json:"drift"`
	Volatility float64 `json:"volatility"`
}

var defaultDynamics = map[string]SymbolDynamics{
	"NVDA":  {StartPrice: 120, Drift: 0.30, Volatility: 0.50},
	"GOOGL": {StartPrice: 140, Drift: 0.12, Volatility: 0.30},
	"TSLA":  {StartPrice: 220, Drift: 0.10, Volatility: 0.55},
	"QQQ":   {StartPrice: 400, Drift: 0.10, Volatility: 0.20},
}

var fallbackDynamics = SymbolDynamics{StartPrice: 100, Drift: 0.08, Volatility: 0.30}

// SimulationOptions configures SimulateBars
type SimulationOptions struct {
	Seed              uint64
	WarmupDays        int     // calendar days simulated before start
	MarketCorrelation float64 // loading of each symbol on the market factor
	Dynamics          map[string]SymbolDynamics
	Series            SeriesOptions
}

// DefaultSimulationOptions returns a seeded setup with default dynamics
func DefaultSimulationOptions(seed uint64) SimulationOptions {
	return SimulationOptions{
		Seed:              seed,
		WarmupDays:        minWarmupDays,
		MarketCorrelation: 0.7,
		Series:            DefaultSeriesOptions(),
	}
}

func (o SimulationOptions) dynamics(symbol string) SymbolDynamics {
	if d, ok := o.Dynamics[symbol]; ok {
		return d
	}
	if d, ok := defaultDynamics[symbol]; ok {
		return d
	}
	return fallbackDynamics
}

// SimulateBars generates daily bars for symbols (plus the index) and a VIX
// series over the trading days of [start - warm-up, end]. The same seed
// always yields the same bars.
func SimulateBars(symbols []string, start, end time.Time, calendar interfaces.TradingCalendar, opts SimulationOptions) (map[string][]*interfaces.Bar, []*interfaces.Bar, error) {
	if start.After(end) {
		return nil, nil, fmt.Errorf("%w: start %s is after end %s", interfaces.ErrConfigurationInvalid, start.Format("2006-01-02"), end.Format("2006-01-02"))
	}

	index := opts.Series.IndexSymbol
	all := append([]string(nil), symbols...)
	if index != "" && !contains(all, index) {
		all = append(all, index)
	}

	warmup := opts.WarmupDays
	if w := opts.Series.WarmupDays(); w > warmup {
		warmup = w
	}
	days := calendar.TradingDays(start.AddDate(0, 0, -warmup), end)
	if len(days) == 0 {
		return nil, nil, fmt.Errorf("%w: no trading days to simulate", interfaces.ErrConfigurationInvalid)
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	rho := math.Max(0, math.Min(1, opts.MarketCorrelation))
	idio := math.Sqrt(1 - rho*rho)
	dt := 1.0 / tradingDaysPerYear

	prices := make(map[string]float64, len(all))
	bars := make(map[string][]*interfaces.Bar, len(all))
	for _, symbol := range all {
		prices[symbol] = opts.dynamics(symbol).StartPrice
		bars[symbol] = make([]*interfaces.Bar, 0, len(days))
	}
	vixBars := make([]*interfaces.Bar, 0, len(days))
	vix := 18.0

	for _, day := range days {
		market := rng.NormFloat64()

		for _, symbol := range all {
			d := opts.dynamics(symbol)
			z := market
			if symbol != index {
				z = rho*market + idio*rng.NormFloat64()
			}

			open := prices[symbol]
			closePx := open * math.Exp((d.Drift-0.5*d.Volatility*d.Volatility)*dt+d.Volatility*math.Sqrt(dt)*z)
			prices[symbol] = closePx

			high := math.Max(open, closePx) * (1 + 0.004*math.Abs(rng.NormFloat64()))
			low := math.Min(open, closePx) * (1 - 0.004*math.Abs(rng.NormFloat64()))
			bars[symbol] = append(bars[symbol], &interfaces.Bar{
				Symbol:    symbol,
				Timestamp: day,
				Open:      roundCents(open),
				High:      roundCents(high),
				Low:       roundCents(low),
				Close:     roundCents(closePx),
				Volume:    1_000_000 + rng.Int64N(9_000_000),
				VWAP:      roundCents((high + low + closePx) / 3),
			})
		}

		vix = nextVIX(vix, market, rng.NormFloat64())
		vixBars = append(vixBars, &interfaces.Bar{
			Symbol:    VIXSymbol,
			Timestamp: day,
			Open:      vix,
			High:      vix,
			Low:       vix,
			Close:     vix,
		})
	}

	return bars, vixBars, nil
}

// nextVIX mean-reverts toward 18 and jumps when the market factor sells off
func nextVIX(v, market, shock float64) float64 {
	v += 0.05*(18-v) + 1.2*shock
	if market < -2 {
		v += 4 * -market
	}
	return math.Round(math.Max(9, math.Min(90, v))*100) / 100
}

// NewSimulatedMarket simulates bars and wraps them in a SeriesMarketData
func NewSimulatedMarket(symbols []string, start, end time.Time, calendar interfaces.TradingCalendar, opts SimulationOptions) (*SeriesMarketData, error) {
	bars, vix, err := SimulateBars(symbols, start, end, calendar, opts)
	if err != nil {
		return nil, err
	}
	return NewSeriesMarketData(bars, vix, opts.Series)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
