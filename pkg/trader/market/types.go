// Package market defines the immutable market-data records the trading core
// consumes: venue quotes and the sides of a binary contract.
package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// Venue identifies a trading venue.
type Venue string

// Side is the side of a binary contract.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Opposite returns the complementary side.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// PriceFormat describes how a quote's price is quoted.
type PriceFormat string

const (
	// FormatProbability is a probability-equivalent price in (0, 1).
	FormatProbability PriceFormat = "probability"
	// FormatAmerican is American odds (e.g. -110, +150).
	FormatAmerican PriceFormat = "american"
	// FormatDecimal is decimal odds (e.g. 1.91).
	FormatDecimal PriceFormat = "decimal"
)

// Quote is a point-in-time snapshot of a venue price for one side of a
// contract. Quotes are never mutated after capture.
type Quote struct {
	Venue      Venue           `json:"venue"`
	ContractID string          `json:"contract_id"`
	Side       Side            `json:"side"`
	Price      float64         `json:"price"`
	Format     PriceFormat     `json:"format"`
	Liquidity  decimal.Decimal `json:"liquidity"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Age returns how old the quote is relative to now.
func (q Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.Timestamp)
}

// FresherThan reports whether the quote is younger than the given bound.
func (q Quote) FresherThan(now time.Time, bound time.Duration) bool {
	return q.Age(now) <= bound
}

// Key returns the contract+side identity used for matching and dedup.
func (q Quote) Key() string {
	return q.ContractID + "/" + string(q.Side)
}
