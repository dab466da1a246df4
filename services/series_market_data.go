package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"wheel-backtester/interfaces"
)

const (
	ivWindow       = 30
	ivRankWindow   = 252
	vixProxyWindow = 20
	minIVReturns   = 5
	fallbackIV     = 0.30
	minWarmupDays  = 400
)

// SeriesOptions tunes how snapshots and option quotes are derived from bars
type SeriesOptions struct {
	IndexSymbol  string
	LotSize      int
	IVPremium    float64 // implied over realized volatility
	RiskFreeRate float64
	HalfSpread   float64 // fraction of theoretical value
	MAWindows    []int
}

// DefaultSeriesOptions returns the settings used by the CLI and API
func DefaultSeriesOptions() SeriesOptions {
	return SeriesOptions{
		IndexSymbol:  "QQQ",
		LotSize:      100,
		IVPremium:    1.1,
		RiskFreeRate: 0.04,
		HalfSpread:   0.05,
		MAWindows:    []int{50, 200},
	}
}

// WithMAWindow returns a copy of o that also evaluates the window
func (o SeriesOptions) WithMAWindow(window int) SeriesOptions {
	if window <= 0 {
		return o
	}
	for _, w := range o.MAWindows {
		if w == window {
			return o
		}
	}
	o.MAWindows = append(append([]int(nil), o.MAWindows...), window)
	return o
}

// WarmupDays is the calendar history needed before the first backtest day
// for the longest moving average to be defined on it
func (o SeriesOptions) WarmupDays() int {
	longest := 0
	for _, w := range o.MAWindows {
		if w > longest {
			longest = w
		}
	}
	// trading to calendar days, plus slack for holidays
	days := longest*7/5 + 30
	if days < minWarmupDays {
		return minWarmupDays
	}
	return days
}

type priceSeries struct {
	dates  map[string]int
	closes []float64
	prefix prefixSums
	iv     []float64
	ivRank []float64
	rv20   []float64
}

func newPriceSeries(bars []*interfaces.Bar, ivPremium float64) (*priceSeries, error) {
	sorted := append([]*interfaces.Bar(nil), bars...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	s := &priceSeries{
		dates:  make(map[string]int, len(sorted)),
		closes: make([]float64, 0, len(sorted)),
	}
	for _, bar := range sorted {
		if bar.Close <= 0 || math.IsNaN(bar.Close) {
			return nil, fmt.Errorf("non-positive close %f for %s on %s", bar.Close, bar.Symbol, bar.Timestamp.Format("2006-01-02"))
		}
		key := bar.Timestamp.Format("2006-01-02")
		if _, dup := s.dates[key]; dup {
			continue
		}
		s.dates[key] = len(s.closes)
		s.closes = append(s.closes, bar.Close)
	}

	s.prefix = newPrefixSums(s.closes)
	returns := LogReturns(s.closes)

	n := len(s.closes)
	s.iv = make([]float64, n)
	s.ivRank = make([]float64, n)
	s.rv20 = make([]float64, n)
	for i := 0; i < n; i++ {
		// returns[:i] are the returns known at the close of day i
		if vol, ok := RealizedVolatility(returns[:i], ivWindow); ok && i >= minIVReturns {
			s.iv[i] = vol * ivPremium
		} else {
			s.iv[i] = fallbackIV
		}
		if vol, ok := RealizedVolatility(returns[:i], vixProxyWindow); ok {
			s.rv20[i] = vol
		}

		from := i - ivRankWindow + 1
		if from < 0 {
			from = 0
		}
		s.ivRank[i] = RankInRange(s.iv[from:i], s.iv[i])
	}

	return s, nil
}

func (s *priceSeries) lookup(date time.Time) (int, bool) {
	i, ok := s.dates[date.Format("2006-01-02")]
	return i, ok
}

// SeriesMarketData answers snapshot and option queries from daily bars.
// It is read-only after construction.
type SeriesMarketData struct {
	opts   SeriesOptions
	chain  ChainModel
	series map[string]*priceSeries
	vix    map[string]float64
}

// NewSeriesMarketData indexes bars by symbol; vix may be empty, in which case
// VIX is proxied from the index realized volatility
func NewSeriesMarketData(bars map[string][]*interfaces.Bar, vix []*interfaces.Bar, opts SeriesOptions) (*SeriesMarketData, error) {
	if opts.LotSize <= 0 {
		return nil, fmt.Errorf("%w: lot size must be positive", interfaces.ErrConfigurationInvalid)
	}
	if opts.IVPremium <= 0 {
		opts.IVPremium = 1
	}

	m := &SeriesMarketData{
		opts:   opts,
		chain:  ChainModel{RiskFreeRate: opts.RiskFreeRate, HalfSpread: opts.HalfSpread},
		series: make(map[string]*priceSeries, len(bars)),
		vix:    make(map[string]float64, len(vix)),
	}

	for symbol, list := range bars {
		s, err := newPriceSeries(list, opts.IVPremium)
		if err != nil {
			return nil, fmt.Errorf("failed to index %s: %w", symbol, err)
		}
		m.series[symbol] = s
	}
	for _, bar := range vix {
		m.vix[bar.Timestamp.Format("2006-01-02")] = bar.Close
	}

	return m, nil
}

// HasSymbol reports whether any bars were loaded for symbol
func (m *SeriesMarketData) HasSymbol(symbol string) bool {
	_, ok := m.series[symbol]
	return ok
}

// CurrentSnapshot builds the point-in-time view of symbol at date's close
func (m *SeriesMarketData) CurrentSnapshot(ctx context.Context, symbol string, date time.Time) (*interfaces.MarketSnapshot, error) {
	s, ok := m.series[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: no series for %s", interfaces.ErrDataUnavailable, symbol)
	}
	i, ok := s.lookup(date)
	if !ok {
		return nil, fmt.Errorf("%w: no bar for %s on %s", interfaces.ErrDataUnavailable, symbol, date.Format("2006-01-02"))
	}

	mas := make(map[int]float64, len(m.opts.MAWindows))
	for _, w := range m.opts.MAWindows {
		if v, ok := s.prefix.SMA(i, w); ok {
			mas[w] = v
		}
	}

	return &interfaces.MarketSnapshot{
		Symbol:         symbol,
		Price:          s.closes[i],
		IV30:           s.iv[i],
		IVRank:         s.ivRank[i],
		MovingAverages: mas,
		VIX:            m.vixOn(date),
		Timestamp:      date,
	}, nil
}

func (m *SeriesMarketData) vixOn(date time.Time) float64 {
	if v, ok := m.vix[date.Format("2006-01-02")]; ok {
		return v
	}
	if idx, ok := m.series[m.opts.IndexSymbol]; ok {
		if i, ok := idx.lookup(date); ok {
			return 100 * idx.rv20[i]
		}
	}
	return 0
}

// BestOption synthesizes the chain for q.Symbol on q.AsOf and picks a contract
func (m *SeriesMarketData) BestOption(ctx context.Context, q interfaces.OptionQuery) (*interfaces.OptionCandidate, error) {
	snap, err := m.CurrentSnapshot(ctx, q.Symbol, q.AsOf)
	if err != nil {
		return nil, err
	}
	if q.UnderlyingPrice <= 0 {
		q.UnderlyingPrice = snap.Price
	}
	return m.chain.Best(q, snap.IV30, snap.IVRank), nil
}

// OptionPremium marks contract at date in dollars per contract
func (m *SeriesMarketData) OptionPremium(ctx context.Context, contract *interfaces.OptionContract, date time.Time) (float64, error) {
	snap, err := m.CurrentSnapshot(ctx, contract.Symbol, date)
	if err != nil {
		return 0, err
	}
	perShare := m.chain.Mark(contract, snap.Price, snap.IV30, date)
	return roundCents(perShare * float64(m.opts.LotSize)), nil
}
