// Package calibration scores historical prediction quality and gates
// trading on it.
//
// The Brier score is the mean squared error between predicted probability
// and the binary outcome: 0 is perfect, 0.25 is what an always-50% (or an
// always-wrong-half-the-time) predictor earns. The gate is a circuit
// breaker, not advisory: a degraded model stops placing orders until it
// recovers or an operator overrides.
package calibration

import (
	"sync"

	"github.com/phenomenon0/edgetrader/pkg/trader/tradeerr"
)

// Sample is one resolved prediction.
type Sample struct {
	Predicted float64 // probability assigned to the outcome, 0-1
	Outcome   bool    // whether the outcome happened
}

// Bucket reports observed accuracy for one confidence band. A
// well-calibrated system has ObservedAccuracy close to the band midpoint.
type Bucket struct {
	Lo, Hi           float64 // band bounds, percent
	Count            int
	AvgPredicted     float64
	ObservedAccuracy float64
}

// Report summarizes calibration over a history of resolved predictions.
type Report struct {
	Samples          int
	Brier            float64
	CalibrationError float64 // expected calibration error (band-weighted)
	Buckets          []Bucket
}

// bands are the confidence bands reported to operators, in percent.
var bands = [][2]float64{{0, 30}, {30, 50}, {50, 60}, {60, 70}, {70, 100}}

// Score computes the calibration report for a history of resolved
// predictions. Pure; an empty history yields a zero report.
func Score(history []Sample) *Report {
	report := &Report{Samples: len(history)}
	for _, band := range bands {
		report.Buckets = append(report.Buckets, Bucket{Lo: band[0], Hi: band[1]})
	}
	if len(history) == 0 {
		return report
	}

	sums := make([]float64, len(bands))
	hits := make([]float64, len(bands))

	var brierSum float64
	for _, s := range history {
		outcome := 0.0
		if s.Outcome {
			outcome = 1.0
		}
		diff := s.Predicted - outcome
		brierSum += diff * diff

		i := bandIndex(s.Predicted * 100)
		report.Buckets[i].Count++
		sums[i] += s.Predicted
		hits[i] += outcome
	}
	report.Brier = brierSum / float64(len(history))

	var ece float64
	for i := range report.Buckets {
		b := &report.Buckets[i]
		if b.Count == 0 {
			continue
		}
		b.AvgPredicted = sums[i] / float64(b.Count)
		b.ObservedAccuracy = hits[i] / float64(b.Count)
		weight := float64(b.Count) / float64(len(history))
		gap := b.AvgPredicted - b.ObservedAccuracy
		if gap < 0 {
			gap = -gap
		}
		ece += weight * gap
	}
	report.CalibrationError = ece

	return report
}

func bandIndex(pct float64) int {
	for i, band := range bands {
		if pct < band[1] {
			return i
		}
	}
	return len(bands) - 1
}

// Gate refuses trading while the trailing Brier score is above a ceiling.
type Gate struct {
	mu       sync.Mutex
	ceiling  float64
	window   int
	samples  []Sample
	next     int
	override bool
}

// NewGate creates a gate with the given Brier ceiling over a trailing
// window of resolved predictions. Window <= 0 means unbounded history.
func NewGate(ceiling float64, window int) *Gate {
	if ceiling <= 0 {
		ceiling = 0.25
	}
	g := &Gate{ceiling: ceiling, window: window}
	if window > 0 {
		g.samples = make([]Sample, 0, window)
	}
	return g
}

// Record adds a resolved prediction to the trailing window.
func (g *Gate) Record(s Sample) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.window <= 0 {
		g.samples = append(g.samples, s)
		return
	}
	if len(g.samples) < g.window {
		g.samples = append(g.samples, s)
		return
	}
	g.samples[g.next] = s
	g.next = (g.next + 1) % g.window
}

// SetOverride lets an operator bypass the gate explicitly. The override is
// sticky until cleared.
func (g *Gate) SetOverride(on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.override = on
}

// TrailingBrier returns the Brier score over the current window.
func (g *Gate) TrailingBrier() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Score(g.samples).Brier
}

// Check returns a CalibrationGate error if the trailing Brier score
// exceeds the ceiling and no operator override is active. An empty window
// passes: a model with no history has nothing held against it yet.
func (g *Gate) Check() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.override || len(g.samples) == 0 {
		return nil
	}
	brier := Score(g.samples).Brier
	if brier > g.ceiling {
		return tradeerr.Newf(tradeerr.KindCalibrationGate,
			"model quality too low to trade: trailing Brier %.4f exceeds ceiling %.4f", brier, g.ceiling)
	}
	return nil
}
