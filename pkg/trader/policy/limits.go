// Package policy enforces the spending and loss limits the order executor
// checks before any request leaves the process.
package policy

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/phenomenon0/edgetrader/pkg/trader/tradeerr"
)

// Limits defines the business-rule bounds on trading. Explicit
// construction-time configuration; there is no process-wide mutable state.
type Limits struct {
	// MaxStakePerTrade caps any single stake.
	MaxStakePerTrade decimal.Decimal `yaml:"max_stake_per_trade"`
	// DailySpendLimit caps the sum of today's stakes.
	DailySpendLimit decimal.Decimal `yaml:"daily_spend_limit"`
	// DailyLossLimit caps the sum of today's realized losses.
	DailyLossLimit decimal.Decimal `yaml:"daily_loss_limit"`
}

// DefaultLimits returns conservative defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxStakePerTrade: decimal.NewFromInt(25),
		DailySpendLimit:  decimal.NewFromInt(250),
		DailyLossLimit:   decimal.NewFromInt(100),
	}
}

// Engine tracks daily spend and realized losses against the limits.
type Engine struct {
	limits Limits

	mu       sync.Mutex
	daySpend decimal.Decimal
	dayLoss  decimal.Decimal
	day      int // day of year of the counters

	now func() time.Time // injectable for tests
}

// NewEngine creates a limit engine.
func NewEngine(limits Limits) *Engine {
	if limits.MaxStakePerTrade.IsZero() && limits.DailySpendLimit.IsZero() && limits.DailyLossLimit.IsZero() {
		limits = DefaultLimits()
	}
	return &Engine{
		limits: limits,
		day:    time.Now().YearDay(),
		now:    time.Now,
	}
}

// Check validates a proposed stake against, in order: the per-trade cap,
// the daily spending limit, the daily loss limit. The first breach wins
// and is returned as a LimitExceeded with a specific reason.
func (e *Engine) Check(stake decimal.Decimal) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetDailyIfNeeded()

	if stake.GreaterThan(e.limits.MaxStakePerTrade) {
		return tradeerr.Newf(tradeerr.KindLimitExceeded,
			"stake %s exceeds per-trade cap %s", stake, e.limits.MaxStakePerTrade)
	}
	if e.daySpend.Add(stake).GreaterThan(e.limits.DailySpendLimit) {
		return tradeerr.Newf(tradeerr.KindLimitExceeded,
			"stake %s would take today's spend past the daily limit %s (spent %s)",
			stake, e.limits.DailySpendLimit, e.daySpend)
	}
	if e.dayLoss.GreaterThanOrEqual(e.limits.DailyLossLimit) {
		return tradeerr.Newf(tradeerr.KindLimitExceeded,
			"today's realized losses %s reached the daily loss limit %s",
			e.dayLoss, e.limits.DailyLossLimit)
	}
	return nil
}

// RecordStake counts a placed stake against today's spend.
func (e *Engine) RecordStake(stake decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetDailyIfNeeded()
	e.daySpend = e.daySpend.Add(stake)
}

// RecordPnL counts a settlement against today's loss counter. Profits do
// not offset earlier losses: only negative pnl moves the counter, the way
// a stop-loss works.
func (e *Engine) RecordPnL(pnl decimal.Decimal) {
	if !pnl.IsNegative() {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetDailyIfNeeded()
	e.dayLoss = e.dayLoss.Add(pnl.Abs())
}

// DailySpend returns today's total stakes.
func (e *Engine) DailySpend() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetDailyIfNeeded()
	return e.daySpend
}

// DailyLoss returns today's realized losses.
func (e *Engine) DailyLoss() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetDailyIfNeeded()
	return e.dayLoss
}

func (e *Engine) resetDailyIfNeeded() {
	today := e.now().YearDay()
	if e.day != today {
		e.daySpend = decimal.Zero
		e.dayLoss = decimal.Zero
		e.day = today
	}
}
