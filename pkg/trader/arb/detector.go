// Package arb detects risk-bounded arbitrage between two prediction-market
// venues.
//
// Detection is a pure function over two quote snapshots: no network, no
// storage. That keeps it independently testable and fast enough to run
// over the full cross product of both venues' open contracts on each tick.
// A reported profit fraction assumes simultaneous fill at the captured
// prices; it is a point-in-time estimate, never a guarantee.
package arb

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/phenomenon0/edgetrader/pkg/trader/market"
)

// RiskTier grades an opportunity by quote staleness and liquidity.
type RiskTier int

const (
	TierLow RiskTier = iota
	TierMedium
	TierHigh
)

func (t RiskTier) String() string {
	switch t {
	case TierLow:
		return "low"
	case TierMedium:
		return "medium"
	default:
		return "high"
	}
}

// Opportunity is a two-sided lock across venues: buy yes on one venue and
// the complementary no on the other for a combined cost under 1.
type Opportunity struct {
	YesQuote       market.Quote    `json:"yes_quote"`
	NoQuote        market.Quote    `json:"no_quote"`
	ProfitFraction decimal.Decimal `json:"profit_fraction"`
	Tier           RiskTier        `json:"tier"`
	DetectedAt     time.Time       `json:"detected_at"`
}

// Config bounds what the detector reports.
type Config struct {
	// MinProfit discards opportunities below this profit fraction.
	MinProfit decimal.Decimal `yaml:"min_profit"`
	// StalenessBound is the maximum quote age still considered fresh.
	// A quote older than this can never be part of a low-risk report.
	StalenessBound time.Duration `yaml:"staleness_bound"`
	// MinLiquidity is the minimum liquidity on both legs for low risk.
	MinLiquidity decimal.Decimal `yaml:"min_liquidity"`
}

// DefaultConfig returns the default detection bounds: 1% minimum profit,
// 60s freshness, $1000 per-leg liquidity.
func DefaultConfig() Config {
	return Config{
		MinProfit:      decimal.NewFromFloat(0.01),
		StalenessBound: 60 * time.Second,
		MinLiquidity:   decimal.NewFromInt(1000),
	}
}

// FindOpportunities scans quotes from two venues for two-sided locks.
// quotesA supplies the yes legs, quotesB the complementary legs resolved
// through the matcher. Results are sorted by profit fraction descending,
// ties broken by lower risk tier.
func FindOpportunities(quotesA, quotesB []market.Quote, m Matcher, cfg Config, now time.Time) []Opportunity {
	if cfg.MinProfit.IsZero() && cfg.StalenessBound == 0 {
		cfg = DefaultConfig()
	}

	// Index venue B by contract+side for O(1) counterpart lookup.
	indexB := make(map[string]market.Quote, len(quotesB))
	for _, q := range quotesB {
		indexB[q.Key()] = q
	}

	var out []Opportunity
	one := decimal.NewFromInt(1)

	for _, qa := range quotesA {
		if qa.Side != market.SideYes || qa.Format != market.FormatProbability {
			continue
		}
		counterpartID, complementary, ok := m.Counterpart(qa)
		if !ok {
			continue
		}
		side := qa.Side
		if complementary {
			side = qa.Side.Opposite()
		}
		qb, ok := indexB[counterpartID+"/"+string(side)]
		if !ok || qb.Format != market.FormatProbability {
			continue
		}

		// Prices are parsed into decimals from their float shortest
		// representation so 0.40 + 0.55 sums to exactly 0.95.
		sum := decimal.NewFromFloat(qa.Price).Add(decimal.NewFromFloat(qb.Price))
		profit := one.Sub(sum)
		if profit.LessThan(cfg.MinProfit) {
			continue
		}

		out = append(out, Opportunity{
			YesQuote:       qa,
			NoQuote:        qb,
			ProfitFraction: profit,
			Tier:           tierFor(qa, qb, cfg, now),
			DetectedAt:     now,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ProfitFraction.Equal(out[j].ProfitFraction) {
			return out[i].ProfitFraction.GreaterThan(out[j].ProfitFraction)
		}
		return out[i].Tier < out[j].Tier
	})
	return out
}

// tierFor grades quote freshness and liquidity. Low risk requires both
// legs inside the staleness bound with sufficient liquidity; a leg more
// than twice the bound old pushes the opportunity to high.
func tierFor(a, b market.Quote, cfg Config, now time.Time) RiskTier {
	fresh := a.FresherThan(now, cfg.StalenessBound) && b.FresherThan(now, cfg.StalenessBound)
	liquid := cfg.MinLiquidity.IsZero() ||
		(a.Liquidity.GreaterThanOrEqual(cfg.MinLiquidity) && b.Liquidity.GreaterThanOrEqual(cfg.MinLiquidity))

	if fresh && liquid {
		return TierLow
	}
	veryStale := !a.FresherThan(now, 2*cfg.StalenessBound) || !b.FresherThan(now, 2*cfg.StalenessBound)
	if veryStale {
		return TierHigh
	}
	return TierMedium
}
