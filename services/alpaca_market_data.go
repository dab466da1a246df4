package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"wheel-backtester/interfaces"
)

// cacheSlack is how far the cached range may stop short of the request
const cacheSlack = 5 * 24 * time.Hour

// BarsClient is the slice of the alpaca market data client we use
type BarsClient interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// NewAlpacaClient creates a market data client for the given credentials
func NewAlpacaClient(apiKey, secretKey string) *marketdata.Client {
	return marketdata.NewClient(marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: secretKey,
	})
}

// AlpacaMarketData loads historical daily bars through a local cache
type AlpacaMarketData struct {
	client     BarsClient
	storage    interfaces.StorageService
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	logger     *logrus.Logger
	warmupDays int
}

// NewAlpacaMarketData creates a loader; storage may be nil to disable caching
func NewAlpacaMarketData(client BarsClient, storage interfaces.StorageService, requestsPerSecond float64) *AlpacaMarketData {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	a := &AlpacaMarketData{
		client:     client,
		storage:    storage,
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		logger:     logger,
		warmupDays: minWarmupDays,
	}

	a.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "alpaca-bars",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			a.logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	return a
}

// SetLogger replaces the loader logger
func (a *AlpacaMarketData) SetLogger(logger *logrus.Logger) {
	a.logger = logger
}

// LoadBars returns daily bars for symbol in [start, end], from the cache when
// it covers the range and from the API otherwise
func (a *AlpacaMarketData) LoadBars(ctx context.Context, symbol string, start, end time.Time) ([]*interfaces.Bar, error) {
	if a.storage != nil {
		cached, err := a.storage.GetBars(symbol, start, end)
		if err != nil {
			a.logger.WithError(err).WithField("symbol", symbol).Warn("Failed to read bar cache")
		} else if covers(cached, start, end) {
			a.logger.WithFields(logrus.Fields{
				"symbol": symbol,
				"bars":   len(cached),
			}).Debug("Using cached bars")
			return cached, nil
		}
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("failed to wait for rate limiter: %w", err)
	}

	result, err := a.breaker.Execute(func() (interface{}, error) {
		return a.client.GetBars(symbol, marketdata.GetBarsRequest{
			TimeFrame:  marketdata.OneDay,
			Start:      start,
			End:        end,
			Adjustment: marketdata.Split,
			Feed:       marketdata.IEX,
		})
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: bar API unavailable for %s: %v", interfaces.ErrDataUnavailable, symbol, err)
		}
		return nil, fmt.Errorf("failed to fetch bars for %s: %w", symbol, err)
	}

	raw := result.([]marketdata.Bar)
	bars := make([]*interfaces.Bar, 0, len(raw))
	for _, b := range raw {
		bars = append(bars, &interfaces.Bar{
			Symbol:    symbol,
			Timestamp: truncateDay(b.Timestamp),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    int64(b.Volume),
			VWAP:      b.VWAP,
		})
	}

	a.logger.WithFields(logrus.Fields{
		"symbol": symbol,
		"bars":   len(bars),
		"start":  start.Format("2006-01-02"),
		"end":    end.Format("2006-01-02"),
	}).Info("Fetched historical bars")

	if a.storage != nil && len(bars) > 0 {
		if err := a.storage.SaveBars(bars); err != nil {
			a.logger.WithError(err).WithField("symbol", symbol).Warn("Failed to cache bars")
		}
	}

	return bars, nil
}

// Build loads every symbol plus the index with enough warm-up for the long
// moving average and returns a provider over them
func (a *AlpacaMarketData) Build(ctx context.Context, symbols []string, start, end time.Time, opts SeriesOptions) (*SeriesMarketData, error) {
	all := append([]string(nil), symbols...)
	if opts.IndexSymbol != "" && !contains(all, opts.IndexSymbol) {
		all = append(all, opts.IndexSymbol)
	}

	warmup := a.warmupDays
	if w := opts.WarmupDays(); w > warmup {
		warmup = w
	}
	from := start.AddDate(0, 0, -warmup)
	bars := make(map[string][]*interfaces.Bar, len(all))
	for _, symbol := range all {
		list, err := a.LoadBars(ctx, symbol, from, end)
		if err != nil {
			return nil, err
		}
		if len(list) == 0 {
			a.logger.WithField("symbol", symbol).Warn("No bars returned, symbol will be skipped")
			continue
		}
		bars[symbol] = list
	}

	return NewSeriesMarketData(bars, nil, opts)
}

func covers(bars []*interfaces.Bar, start, end time.Time) bool {
	if len(bars) == 0 {
		return false
	}
	first := bars[0].Timestamp
	last := bars[len(bars)-1].Timestamp
	return first.Sub(start) <= cacheSlack && end.Sub(last) <= cacheSlack
}
