// Package analyzer converts venue prices into implied probabilities and
// turns ensemble predictions into sized, risk-tiered signals.
//
// The conversion and sizing math is pure: no I/O, no clocks beyond the
// signal timestamp, so it can run over every open contract on each tick.
package analyzer

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/phenomenon0/edgetrader/pkg/trader/market"
	"github.com/phenomenon0/edgetrader/pkg/trader/tradeerr"
)

// Config holds the sizing knobs. All of it is explicit construction-time
// state; nothing reads ambient globals.
type Config struct {
	// KellyMultiplier scales the raw Kelly fraction (fractional Kelly).
	// Quarter Kelly by default.
	KellyMultiplier float64 `yaml:"kelly_multiplier"`
	// MaxStakeFraction caps the stake as a fraction of bankroll.
	MaxStakeFraction float64 `yaml:"max_stake_fraction"`
	// MaxStakeAbsolute caps the stake in account currency, regardless of
	// bankroll size.
	MaxStakeAbsolute decimal.Decimal `yaml:"max_stake_absolute"`
	// Bankroll is the capital base used for sizing.
	Bankroll decimal.Decimal `yaml:"bankroll"`
}

// DefaultConfig returns conservative sizing defaults.
func DefaultConfig() Config {
	return Config{
		KellyMultiplier:  0.25,
		MaxStakeFraction: 0.02,
		MaxStakeAbsolute: decimal.NewFromInt(25),
		Bankroll:         decimal.NewFromInt(1000),
	}
}

// Analyzer derives signals from predictions and quotes.
type Analyzer struct {
	cfg Config
}

// New creates an analyzer with the given sizing config.
func New(cfg Config) *Analyzer {
	d := DefaultConfig()
	if cfg.KellyMultiplier <= 0 {
		cfg.KellyMultiplier = d.KellyMultiplier
	}
	if cfg.MaxStakeFraction <= 0 {
		cfg.MaxStakeFraction = d.MaxStakeFraction
	}
	if cfg.MaxStakeAbsolute.LessThanOrEqual(decimal.Zero) {
		cfg.MaxStakeAbsolute = d.MaxStakeAbsolute
	}
	if cfg.Bankroll.LessThanOrEqual(decimal.Zero) {
		cfg.Bankroll = d.Bankroll
	}
	return &Analyzer{cfg: cfg}
}

// ImpliedFromAmerican converts American odds to an implied probability.
func ImpliedFromAmerican(odds float64) float64 {
	if odds > 0 {
		return 100 / (odds + 100)
	}
	a := math.Abs(odds)
	return a / (a + 100)
}

// ImpliedFromDecimal converts decimal odds to an implied probability.
func ImpliedFromDecimal(odds float64) float64 {
	if odds <= 0 {
		return 0
	}
	return 1 / odds
}

// DecimalFromAmerican converts American odds to decimal odds.
func DecimalFromAmerican(odds float64) float64 {
	if odds > 0 {
		return 1 + odds/100
	}
	return 1 + 100/math.Abs(odds)
}

// decimalOdds normalizes a quote to decimal odds, whatever its format.
func decimalOdds(q market.Quote) float64 {
	switch q.Format {
	case market.FormatAmerican:
		return DecimalFromAmerican(q.Price)
	case market.FormatDecimal:
		return q.Price
	default:
		// Probability-equivalent price: pay p to win 1.
		if q.Price <= 0 {
			return 0
		}
		return 1 / q.Price
	}
}

// Analyze derives a Signal from a prediction and a quote for the same
// contract. A degenerate market (implied probability >= 1) is rejected with
// a DegenerateMarket error rather than dividing by zero; a non-positive
// edge returns a non-actionable signal, not an error, so batch evaluation
// continues.
func (a *Analyzer) Analyze(pred Prediction, quote market.Quote) (*Signal, error) {
	d := decimalOdds(quote)
	b := d - 1
	if b <= 0 {
		return nil, tradeerr.Newf(tradeerr.KindDegenerateMarket,
			"market %s quotes implied probability >= 1; already resolved or unpriceable", quote.ContractID)
	}

	implied := 1 / d
	p := pred.Probability
	q := 1 - p
	edgePoints := (p - implied) * 100
	ev := p*d - 1 // expected value per unit staked

	sig := &Signal{
		ContractID:    quote.ContractID,
		Venue:         quote.Venue,
		Side:          quote.Side,
		ModelProb:     p,
		ImpliedProb:   implied,
		DecimalOdds:   d,
		EdgePoints:    edgePoints,
		ExpectedValue: ev,
		Tier:          tierFor(ev),
		Stake:         decimal.Zero,
		Quote:         quote,
		Prediction:    pred,
		CorrelationID: uuid.NewString(),
		CreatedAt:     time.Now(),
	}

	kelly := (b*p - q) / b
	if kelly < 0 {
		// Never bet against the sign of the Kelly fraction.
		kelly = 0
	}
	sig.KellyRaw = kelly
	sig.KellyScaled = kelly * a.cfg.KellyMultiplier

	if sig.Tier == TierNegative || sig.KellyScaled <= 0 {
		sig.Actionable = false
		sig.Reason = "market price already reflects or exceeds the model estimate"
		return sig, nil
	}

	stake := a.cfg.Bankroll.Mul(decimal.NewFromFloat(sig.KellyScaled))
	if capped := a.cfg.Bankroll.Mul(decimal.NewFromFloat(a.cfg.MaxStakeFraction)); stake.GreaterThan(capped) {
		stake = capped
	}
	if stake.GreaterThan(a.cfg.MaxStakeAbsolute) {
		stake = a.cfg.MaxStakeAbsolute
	}

	sig.Stake = stake.Round(2)
	sig.Actionable = true
	sig.Reason = "model edge above market price"
	return sig, nil
}

func tierFor(ev float64) RiskTier {
	switch {
	case ev >= 0.10:
		return TierExcellent
	case ev >= 0.05:
		return TierGood
	case ev > 0:
		return TierMarginal
	default:
		return TierNegative
	}
}
