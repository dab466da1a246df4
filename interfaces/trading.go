package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrDataUnavailable means the provider has nothing for a symbol on a day
	ErrDataUnavailable = errors.New("market data unavailable")
	// ErrConfigurationInvalid means a run cannot start with the given settings
	ErrConfigurationInvalid = errors.New("configuration invalid")
)

// MarketDataProvider supplies point-in-time market state to the strategy
type MarketDataProvider interface {
	OptionDataService
	// CurrentSnapshot returns ErrDataUnavailable when nothing is known for the day
	CurrentSnapshot(ctx context.Context, symbol string, date time.Time) (*MarketSnapshot, error)
}

// TradingCalendar decides which days are evaluated
type TradingCalendar interface {
	TradingDays(start, end time.Time) []time.Time
	IsTradingDay(date time.Time) bool
	IsFirstTradingDay(date time.Time) bool
}

// StorageService defines the interface for local data persistence
type StorageService interface {
	SaveBars(bars []*Bar) error
	GetBars(symbol string, start, end time.Time) ([]*Bar, error)
}

// MarketSnapshot is the state of one symbol on one simulated day
type MarketSnapshot struct {
	Symbol         string          `json:"symbol"`
	Price          float64         `json:"price"`
	IV30           float64         `json:"iv_30"`
	IVRank         float64         `json:"iv_rank"`
	MovingAverages map[int]float64 `json:"moving_averages"` // window in days -> value
	VIX            float64         `json:"vix"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Bar is one daily OHLCV record
type Bar struct {
	Symbol    string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
	VWAP      float64
}

// PositionState is the wheel stage of a symbol
type PositionState string

const (
	StateCash       PositionState = "CASH"
	StatePutSold    PositionState = "PUT_SOLD"
	StateStockOwned PositionState = "STOCK_OWNED"
	StateCallSold   PositionState = "CALL_SOLD"
)

// TradeAction is what an executed order did
type TradeAction string

const (
	ActionOpen     TradeAction = "open"
	ActionClose    TradeAction = "close"
	ActionRoll     TradeAction = "roll"
	ActionExercise TradeAction = "exercise"
)

// Trade is an immutable record of one executed order
type Trade struct {
	ID         string          `json:"id"`
	Symbol     string          `json:"symbol"`
	Kind       OptionKind      `json:"kind"`
	Action     TradeAction     `json:"action"`
	Quantity   int             `json:"quantity"`
	Price      float64         `json:"price"` // per share
	Strike     float64         `json:"strike"`
	Expiration time.Time       `json:"expiration"`
	Timestamp  time.Time       `json:"timestamp"`
	Premium    float64         `json:"premium"` // per contract, dollars
	Delta      *float64        `json:"delta,omitempty"`
	IVRank     *float64        `json:"iv_rank,omitempty"`
	CashFlow   decimal.Decimal `json:"cash_flow"`
}

// PortfolioPosition is the per-symbol record mutated by the strategy
type PortfolioPosition struct {
	Symbol      string          `json:"symbol"`
	State       PositionState   `json:"state"`
	Quantity    int             `json:"quantity"`
	AverageCost float64         `json:"average_cost"`
	Option      *OptionContract `json:"option,omitempty"`
	Trades      []Trade         `json:"trades"`
	LastPrice   float64         `json:"last_price"`
}

// Portfolio is the single ledger of a backtest run
type Portfolio struct {
	Cash       decimal.Decimal               `json:"cash"`
	Positions  map[string]*PortfolioPosition `json:"positions"`
	Symbols    []string                      `json:"symbols"`
	TotalValue decimal.Decimal               `json:"total_value"`
	Timestamp  time.Time                     `json:"timestamp"`
}

// EquityPoint is one (date, total value) sample of the equity curve
type EquityPoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// SkipReason explains why a symbol was passed over on a day
type SkipReason string

const (
	SkipSnapshotUnavailable SkipReason = "snapshot_unavailable"
	SkipNoCandidate         SkipReason = "no_candidate"
	SkipQuoteUnavailable    SkipReason = "quote_unavailable"
	SkipInsufficientCash    SkipReason = "insufficient_collateral"
	SkipBearMarketExclusion SkipReason = "bear_market_exclusion"
	SkipProviderError       SkipReason = "provider_error"
)

// SkipEvent records a symbol/day the strategy could not act on
type SkipEvent struct {
	Date   time.Time  `json:"date"`
	Symbol string     `json:"symbol"`
	Reason SkipReason `json:"reason"`
	Detail string     `json:"detail,omitempty"`
}
