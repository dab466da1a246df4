package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"wheel-backtester/config"
	"wheel-backtester/interfaces"
)

var tradeNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("wheel-backtester/trades"))

// MarketDay is everything the strategy sees on one simulated day
type MarketDay struct {
	Date       time.Time
	Snapshots  map[string]*interfaces.MarketSnapshot
	BearMarket bool
}

// StepResult collects what one symbol did on one day
type StepResult struct {
	Trades  []interfaces.Trade
	Skipped []interfaces.SkipEvent
}

func (r *StepResult) skip(date time.Time, symbol string, reason interfaces.SkipReason, detail string) {
	r.Skipped = append(r.Skipped, interfaces.SkipEvent{
		Date:   date,
		Symbol: symbol,
		Reason: reason,
		Detail: detail,
	})
}

// WheelEngine runs the put/call wheel state machine for each symbol
type WheelEngine struct {
	cfg      config.StrategyConfig
	provider interfaces.MarketDataProvider
	calendar interfaces.TradingCalendar
	logger   *logrus.Logger
	seq      uint64
}

// NewWheelEngine creates a state machine bound to one provider and calendar
func NewWheelEngine(cfg config.StrategyConfig, provider interfaces.MarketDataProvider, calendar interfaces.TradingCalendar) *WheelEngine {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &WheelEngine{
		cfg:      cfg,
		provider: provider,
		calendar: calendar,
		logger:   logger,
	}
}

// SetLogger replaces the engine logger
func (e *WheelEngine) SetLogger(logger *logrus.Logger) {
	e.logger = logger
}

// IsBearMarket is true when any VIX reading is above the threshold or the
// index trades below its long moving average
func IsBearMarket(cfg config.StrategyConfig, snapshots map[string]*interfaces.MarketSnapshot) bool {
	for _, snap := range snapshots {
		if snap != nil && snap.VIX > cfg.VIXThreshold {
			return true
		}
	}

	if idx, ok := snapshots[cfg.IndexSymbol]; ok && idx != nil {
		if ma, ok := idx.MovingAverages[cfg.IndexMAWindow]; ok && ma > 0 && idx.Price < ma {
			return true
		}
	}

	return false
}

// Step evaluates one symbol for one day. The position and the portfolio cash
// are mutated in place; the trades are also appended to the position history.
func (e *WheelEngine) Step(ctx context.Context, portfolio *interfaces.Portfolio, position *interfaces.PortfolioPosition, day *MarketDay) StepResult {
	var result StepResult

	snap, ok := day.Snapshots[position.Symbol]
	if !ok || snap == nil {
		result.skip(day.Date, position.Symbol, interfaces.SkipSnapshotUnavailable, "")
		return result
	}
	position.LastPrice = snap.Price

	switch position.State {
	case interfaces.StateCash:
		e.stepCash(ctx, portfolio, position, snap, day, &result)
	case interfaces.StatePutSold:
		e.stepShortOption(ctx, portfolio, position, snap, day, &result)
	case interfaces.StateStockOwned:
		e.stepStockOwned(ctx, portfolio, position, snap, day, &result)
	case interfaces.StateCallSold:
		e.stepShortOption(ctx, portfolio, position, snap, day, &result)
	default:
		e.logger.WithFields(logrus.Fields{
			"symbol": position.Symbol,
			"state":  position.State,
		}).Error("Unknown position state")
	}

	position.Trades = append(position.Trades, result.Trades...)
	return result
}

// stepCash sells a cash-secured put on the first trading day of the month
func (e *WheelEngine) stepCash(ctx context.Context, portfolio *interfaces.Portfolio, position *interfaces.PortfolioPosition, snap *interfaces.MarketSnapshot, day *MarketDay, result *StepResult) {
	if !e.calendar.IsFirstTradingDay(day.Date) {
		return
	}

	symbolCfg, _ := e.cfg.Symbol(position.Symbol)
	band := symbolCfg.PutDelta
	if day.BearMarket {
		if e.cfg.IsBearExcluded(position.Symbol) {
			result.skip(day.Date, position.Symbol, interfaces.SkipBearMarketExclusion, "")
			return
		}
		band = e.cfg.BearPutDelta
	}

	query := interfaces.OptionQuery{
		Symbol:          position.Symbol,
		Kind:            interfaces.OptionPut,
		Delta:           band,
		UnderlyingPrice: snap.Price,
		DTE:             e.cfg.DTE,
		AsOf:            day.Date,
	}

	candidate, ok := e.findCandidate(ctx, query, day.Date, result)
	if !ok {
		return
	}
	if candidate.IVRank >= e.cfg.IVRankCeiling {
		result.skip(day.Date, position.Symbol, interfaces.SkipNoCandidate,
			fmt.Sprintf("iv rank %.2f not below ceiling %.2f", candidate.IVRank, e.cfg.IVRankCeiling))
		return
	}

	required := money(candidate.Strike * float64(e.cfg.LotSize))
	free := portfolio.Cash.Sub(committedCollateral(portfolio, e.cfg.LotSize, position.Symbol))
	if free.LessThan(required) {
		result.skip(day.Date, position.Symbol, interfaces.SkipInsufficientCash,
			fmt.Sprintf("need %s, free %s", required.StringFixed(2), free.StringFixed(2)))
		return
	}

	trade, contract := e.openShort(portfolio, position.Symbol, candidate, day.Date)
	position.Option = contract
	position.State = interfaces.StatePutSold
	result.Trades = append(result.Trades, trade)

	e.logger.WithFields(logrus.Fields{
		"date":    day.Date.Format("2006-01-02"),
		"symbol":  position.Symbol,
		"strike":  contract.Strike,
		"premium": contract.Premium,
		"bear":    day.BearMarket,
	}).Info("Sold cash-secured put")
}

// stepStockOwned sells a covered call against assigned shares
func (e *WheelEngine) stepStockOwned(ctx context.Context, portfolio *interfaces.Portfolio, position *interfaces.PortfolioPosition, snap *interfaces.MarketSnapshot, day *MarketDay, result *StepResult) {
	if position.Option != nil {
		position.State = interfaces.StateCallSold
		e.stepShortOption(ctx, portfolio, position, snap, day, result)
		return
	}

	candidate, ok := e.findCandidate(ctx, e.callQuery(position, snap, day.Date), day.Date, result)
	if !ok {
		return
	}

	trade, contract := e.openShort(portfolio, position.Symbol, candidate, day.Date)
	position.Option = contract
	position.State = interfaces.StateCallSold
	result.Trades = append(result.Trades, trade)

	e.logger.WithFields(logrus.Fields{
		"date":       day.Date.Format("2006-01-02"),
		"symbol":     position.Symbol,
		"strike":     contract.Strike,
		"premium":    contract.Premium,
		"cost_basis": position.AverageCost,
	}).Info("Sold covered call")
}

// stepShortOption manages an open put or call: profit-take, then roll, then
// assignment, then expiry
func (e *WheelEngine) stepShortOption(ctx context.Context, portfolio *interfaces.Portfolio, position *interfaces.PortfolioPosition, snap *interfaces.MarketSnapshot, day *MarketDay, result *StepResult) {
	opt := position.Option
	if opt == nil {
		e.logger.WithFields(logrus.Fields{
			"symbol": position.Symbol,
			"state":  position.State,
		}).Warn("Short option state without a contract, resetting")
		position.State = stateAfterClose(position.State)
		return
	}

	opt.DTE = daysBetween(day.Date, opt.Expiration)

	quoted := true
	premium, err := e.provider.OptionPremium(ctx, opt, day.Date)
	if err != nil {
		quoted = false
		result.skip(day.Date, position.Symbol, interfaces.SkipQuoteUnavailable, err.Error())
	} else {
		opt.Mark = premium
	}

	isPut := opt.Kind == interfaces.OptionPut

	// Profit-take
	if quoted && opt.Mark <= opt.Premium*(1-e.cfg.ProfitTakeFraction)+1e-9 {
		trade := e.closeShort(portfolio, opt, interfaces.ActionClose, opt.Mark, day.Date)
		result.Trades = append(result.Trades, trade)
		position.Option = nil
		position.State = stateAfterClose(position.State)

		e.logger.WithFields(logrus.Fields{
			"date":          day.Date.Format("2006-01-02"),
			"symbol":        position.Symbol,
			"kind":          opt.Kind,
			"open_premium":  opt.Premium,
			"close_premium": opt.Mark,
		}).Info("Bought back option at profit target")
		return
	}

	// Roll
	rollDue := opt.DTE <= e.cfg.RollDTEThreshold
	if !isPut {
		rollDue = snap.Price > opt.Strike*(1+e.cfg.CallRollTrigger)
	}
	if rollDue {
		if e.roll(ctx, portfolio, position, snap, day, result) {
			return
		}
	}

	// Assignment
	if (isPut && snap.Price <= opt.Strike) || (!isPut && snap.Price >= opt.Strike) {
		e.assign(portfolio, position, day.Date, result)
		return
	}

	// Expired out of the money
	if !day.Date.Before(truncateDay(opt.Expiration)) {
		trade := e.closeShort(portfolio, opt, interfaces.ActionClose, 0, day.Date)
		result.Trades = append(result.Trades, trade)
		position.Option = nil
		position.State = stateAfterClose(position.State)

		e.logger.WithFields(logrus.Fields{
			"date":   day.Date.Format("2006-01-02"),
			"symbol": position.Symbol,
			"kind":   opt.Kind,
			"strike": opt.Strike,
		}).Info("Option expired worthless")
	}
}

// roll replaces the open contract; it reports false when no replacement exists
// or a replacement put would not be cash-secured
func (e *WheelEngine) roll(ctx context.Context, portfolio *interfaces.Portfolio, position *interfaces.PortfolioPosition, snap *interfaces.MarketSnapshot, day *MarketDay, result *StepResult) bool {
	old := position.Option

	var query interfaces.OptionQuery
	if old.Kind == interfaces.OptionPut {
		symbolCfg, _ := e.cfg.Symbol(position.Symbol)
		query = interfaces.OptionQuery{
			Symbol:          position.Symbol,
			Kind:            interfaces.OptionPut,
			Delta:           symbolCfg.PutDelta,
			UnderlyingPrice: snap.Price,
			DTE:             e.cfg.DTE,
			AsOf:            day.Date,
		}
	} else {
		query = e.callQuery(position, snap, day.Date)
	}

	candidate, ok := e.findCandidate(ctx, query, day.Date, result)
	if !ok {
		return false
	}

	// the replacement put must be cash-secured once the old one is bought back
	if old.Kind == interfaces.OptionPut {
		required := money(candidate.Strike * float64(e.cfg.LotSize))
		free := portfolio.Cash.Sub(money(old.Mark)).Sub(committedCollateral(portfolio, e.cfg.LotSize, position.Symbol))
		if free.LessThan(required) {
			result.skip(day.Date, position.Symbol, interfaces.SkipInsufficientCash,
				fmt.Sprintf("roll needs %s, free %s", required.StringFixed(2), free.StringFixed(2)))
			return false
		}
	}

	closeTrade := e.closeShort(portfolio, old, interfaces.ActionRoll, old.Mark, day.Date)
	openTrade, contract := e.openShort(portfolio, position.Symbol, candidate, day.Date)
	position.Option = contract
	result.Trades = append(result.Trades, closeTrade, openTrade)

	e.logger.WithFields(logrus.Fields{
		"date":       day.Date.Format("2006-01-02"),
		"symbol":     position.Symbol,
		"kind":       old.Kind,
		"old_strike": old.Strike,
		"new_strike": contract.Strike,
		"net_credit": openTrade.CashFlow.Add(closeTrade.CashFlow).StringFixed(2),
	}).Info("Rolled option")
	return true
}

// assign exercises the open contract against the position
func (e *WheelEngine) assign(portfolio *interfaces.Portfolio, position *interfaces.PortfolioPosition, date time.Time, result *StepResult) {
	opt := position.Option
	lot := e.cfg.LotSize
	notional := money(opt.Strike * float64(lot))

	flow := notional
	if opt.Kind == interfaces.OptionPut {
		flow = notional.Neg()
		position.Quantity += lot
		position.AverageCost = opt.Strike
		position.State = interfaces.StateStockOwned
	} else {
		position.Quantity = 0
		position.AverageCost = 0
		position.State = interfaces.StateCash
	}
	portfolio.Cash = portfolio.Cash.Add(flow)
	position.Option = nil

	trade := interfaces.Trade{
		ID:         e.nextTradeID(opt.Symbol, date),
		Symbol:     opt.Symbol,
		Kind:       opt.Kind,
		Action:     interfaces.ActionExercise,
		Quantity:   1,
		Price:      opt.Strike,
		Strike:     opt.Strike,
		Expiration: opt.Expiration,
		Timestamp:  date,
		CashFlow:   flow,
	}
	result.Trades = append(result.Trades, trade)

	e.logger.WithFields(logrus.Fields{
		"date":      date.Format("2006-01-02"),
		"symbol":    opt.Symbol,
		"kind":      opt.Kind,
		"strike":    opt.Strike,
		"cash_flow": flow.StringFixed(2),
	}).Info("Option assigned")
}

func (e *WheelEngine) callQuery(position *interfaces.PortfolioPosition, snap *interfaces.MarketSnapshot, date time.Time) interfaces.OptionQuery {
	symbolCfg, _ := e.cfg.Symbol(position.Symbol)
	return interfaces.OptionQuery{
		Symbol:          position.Symbol,
		Kind:            interfaces.OptionCall,
		Delta:           symbolCfg.CallDelta,
		UnderlyingPrice: snap.Price,
		DTE:             e.cfg.DTE,
		AsOf:            date,
		MinStrike:       math.Max(snap.Price, position.AverageCost) * (1 + e.cfg.CallStrikeBuffer),
	}
}

// findCandidate asks the provider for a contract and re-checks it against the
// query; a miss is recorded as a skip event, never returned as an error
func (e *WheelEngine) findCandidate(ctx context.Context, query interfaces.OptionQuery, date time.Time, result *StepResult) (*interfaces.OptionCandidate, bool) {
	candidate, err := e.provider.BestOption(ctx, query)
	if err != nil {
		reason := interfaces.SkipProviderError
		if errors.Is(err, interfaces.ErrDataUnavailable) {
			reason = interfaces.SkipNoCandidate
		}
		result.skip(date, query.Symbol, reason, err.Error())
		return nil, false
	}

	if candidate == nil || !qualifies(candidate, query) {
		result.skip(date, query.Symbol, interfaces.SkipNoCandidate,
			fmt.Sprintf("%s delta %.2f-%.2f dte %d-%d", query.Kind, query.Delta.Min, query.Delta.Max, query.DTE.Min, query.DTE.Max))
		return nil, false
	}

	return candidate, true
}

func qualifies(c *interfaces.OptionCandidate, q interfaces.OptionQuery) bool {
	if c.Kind != q.Kind || c.Bid <= 0 {
		return false
	}
	if !q.Delta.Contains(c.Delta) || !q.DTE.Contains(c.DTE) {
		return false
	}
	return q.MinStrike <= 0 || c.Strike >= q.MinStrike
}

// openShort sells one contract and credits the premium
func (e *WheelEngine) openShort(portfolio *interfaces.Portfolio, symbol string, c *interfaces.OptionCandidate, date time.Time) (interfaces.Trade, *interfaces.OptionContract) {
	premium := money(c.Bid * float64(e.cfg.LotSize))
	portfolio.Cash = portfolio.Cash.Add(premium)

	contract := &interfaces.OptionContract{
		ContractID: interfaces.ContractID(symbol, c.Kind, c.Expiration, c.Strike),
		Symbol:     symbol,
		Kind:       c.Kind,
		Strike:     c.Strike,
		Expiration: c.Expiration,
		Premium:    premium.InexactFloat64(),
		Delta:      c.Delta,
		IVRank:     c.IVRank,
		DTE:        c.DTE,
		Mark:       premium.InexactFloat64(),
	}

	delta, ivRank := c.Delta, c.IVRank
	trade := interfaces.Trade{
		ID:         e.nextTradeID(symbol, date),
		Symbol:     symbol,
		Kind:       c.Kind,
		Action:     interfaces.ActionOpen,
		Quantity:   1,
		Price:      c.Bid,
		Strike:     c.Strike,
		Expiration: c.Expiration,
		Timestamp:  date,
		Premium:    contract.Premium,
		Delta:      &delta,
		IVRank:     &ivRank,
		CashFlow:   premium,
	}

	return trade, contract
}

// closeShort buys back a contract at cost (per contract dollars)
func (e *WheelEngine) closeShort(portfolio *interfaces.Portfolio, opt *interfaces.OptionContract, action interfaces.TradeAction, cost float64, date time.Time) interfaces.Trade {
	debit := money(cost)
	portfolio.Cash = portfolio.Cash.Sub(debit)

	return interfaces.Trade{
		ID:         e.nextTradeID(opt.Symbol, date),
		Symbol:     opt.Symbol,
		Kind:       opt.Kind,
		Action:     action,
		Quantity:   1,
		Price:      debit.InexactFloat64() / float64(e.cfg.LotSize),
		Strike:     opt.Strike,
		Expiration: opt.Expiration,
		Timestamp:  date,
		Premium:    debit.InexactFloat64(),
		CashFlow:   debit.Neg(),
	}
}

func (e *WheelEngine) nextTradeID(symbol string, date time.Time) string {
	e.seq++
	name := fmt.Sprintf("%d|%s|%s", e.seq, symbol, date.Format("2006-01-02"))
	return uuid.NewSHA1(tradeNamespace, []byte(name)).String()
}

func stateAfterClose(state interfaces.PositionState) interfaces.PositionState {
	if state == interfaces.StateCallSold {
		return interfaces.StateStockOwned
	}
	return interfaces.StateCash
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// daysBetween counts calendar days from from to to, never below zero
func daysBetween(from, to time.Time) int {
	days := int(truncateDay(to).Sub(truncateDay(from)).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}
