package interfaces

import (
	"context"
	"fmt"
	"time"
)

// OptionKind is the right carried by a contract
type OptionKind string

const (
	OptionPut  OptionKind = "PUT"
	OptionCall OptionKind = "CALL"
)

// Valid reports whether k is PUT or CALL
func (k OptionKind) Valid() bool {
	return k == OptionPut || k == OptionCall
}

// Letter returns the OCC style right letter
func (k OptionKind) Letter() string {
	if k == OptionPut {
		return "P"
	}
	return "C"
}

// DeltaRange is an inclusive band of absolute deltas
type DeltaRange struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Contains reports whether |delta| falls inside the band
func (r DeltaRange) Contains(delta float64) bool {
	if delta < 0 {
		delta = -delta
	}
	return delta >= r.Min && delta <= r.Max
}

// Mid returns the band midpoint
func (r DeltaRange) Mid() float64 {
	return (r.Min + r.Max) / 2
}

// DTERange is an inclusive days-to-expiration window
type DTERange struct {
	Min int `yaml:"min" json:"min"`
	Max int `yaml:"max" json:"max"`
}

// Contains reports whether dte falls inside the window
func (r DTERange) Contains(dte int) bool {
	return dte >= r.Min && dte <= r.Max
}

// OptionContract represents a short option held by a position
type OptionContract struct {
	ContractID string     `json:"contract_id"`
	Symbol     string     `json:"symbol"`
	Kind       OptionKind `json:"kind"`
	Strike     float64    `json:"strike"`
	Expiration time.Time  `json:"expiration"`
	Premium    float64    `json:"premium"` // opening premium per contract, dollars
	Delta      float64    `json:"delta"`
	IVRank     float64    `json:"iv_rank"`
	DTE        int        `json:"dte"`
	Mark       float64    `json:"mark"` // last known premium per contract, dollars
}

// ContractID builds the identifier used for a contract, e.g. QQQ_20240216_P_400
func ContractID(symbol string, kind OptionKind, expiration time.Time, strike float64) string {
	return fmt.Sprintf("%s_%s_%s_%g", symbol, expiration.Format("20060102"), kind.Letter(), strike)
}

// OptionQuery describes the contract the strategy is looking for
type OptionQuery struct {
	Symbol          string
	Kind            OptionKind
	Delta           DeltaRange
	UnderlyingPrice float64
	DTE             DTERange
	AsOf            time.Time
	MinStrike       float64 // zero means no floor
}

// OptionCandidate is a listed contract matching an OptionQuery
type OptionCandidate struct {
	Symbol     string
	Kind       OptionKind
	Strike     float64
	Expiration time.Time
	Bid        float64 // per share
	Ask        float64 // per share
	Delta      float64
	IV         float64
	IVRank     float64
	DTE        int
}

// OptionDataService prices listed contracts for the strategy
type OptionDataService interface {
	// BestOption returns nil, nil when no listed contract satisfies q
	BestOption(ctx context.Context, q OptionQuery) (*OptionCandidate, error)
	// OptionPremium returns the current premium per contract in dollars
	OptionPremium(ctx context.Context, contract *OptionContract, date time.Time) (float64, error)
}
