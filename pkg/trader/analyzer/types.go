package analyzer

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/phenomenon0/edgetrader/pkg/trader/market"
)

// MethodContribution is one model's vote inside an ensemble prediction.
// Order matters: the breakdown is reported to operators in the order the
// methods ran.
type MethodContribution struct {
	Method      string  `json:"method"`
	Probability float64 `json:"probability"`
	Weight      float64 `json:"weight"`
}

// Prediction is an ensemble estimate for one contract. Owned by the
// analyzer; consumed read-only downstream.
type Prediction struct {
	ContractID  string               `json:"contract_id"`
	Probability float64              `json:"probability"` // 0-1
	Confidence  float64              `json:"confidence"`  // 0-100
	Methods     []MethodContribution `json:"methods,omitempty"`
	Seed        int64                `json:"seed,omitempty"` // for replaying stochastic methods
	GeneratedAt time.Time            `json:"generated_at"`
}

// RiskTier grades a signal by expected value.
type RiskTier string

const (
	TierExcellent RiskTier = "excellent" // EV >= 10%
	TierGood      RiskTier = "good"      // EV >= 5%
	TierMarginal  RiskTier = "marginal"  // EV > 0
	TierNegative  RiskTier = "negative"  // EV <= 0, rejected
)

// Signal is an actionable recommendation derived from a Prediction and a
// Quote. Stake respects both the bankroll-fraction cap and the absolute
// per-signal cap; a non-actionable signal always carries a zero stake.
type Signal struct {
	ContractID    string          `json:"contract_id"`
	Venue         market.Venue    `json:"venue"`
	Side          market.Side     `json:"side"`
	ModelProb     float64         `json:"model_prob"`
	ImpliedProb   float64         `json:"implied_prob"`
	DecimalOdds   float64         `json:"decimal_odds"`
	EdgePoints    float64         `json:"edge_points"` // percentage points
	ExpectedValue float64         `json:"expected_value"`
	KellyRaw      float64         `json:"kelly_raw"`
	KellyScaled   float64         `json:"kelly_scaled"`
	Stake         decimal.Decimal `json:"stake"`
	Tier          RiskTier        `json:"tier"`
	Actionable    bool            `json:"actionable"`
	Reason        string          `json:"reason"` // human-readable, for operators
	Quote         market.Quote    `json:"quote"`
	Prediction    Prediction      `json:"prediction"`
	CorrelationID string          `json:"correlation_id"`
	CreatedAt     time.Time       `json:"created_at"`
}
