// Package orchestrator runs the signal pipeline on a fixed tick: collect
// quotes, collect predictions, size signals, scan for cross-venue
// arbitrage, execute. Each stage's result is reported through callbacks so
// operators can watch the loop without coupling to its internals.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/phenomenon0/edgetrader/pkg/logging"
	"github.com/phenomenon0/edgetrader/pkg/trader/analyzer"
	"github.com/phenomenon0/edgetrader/pkg/trader/arb"
	"github.com/phenomenon0/edgetrader/pkg/trader/audit"
	"github.com/phenomenon0/edgetrader/pkg/trader/events"
	"github.com/phenomenon0/edgetrader/pkg/trader/ledger"
	"github.com/phenomenon0/edgetrader/pkg/trader/market"
	"github.com/phenomenon0/edgetrader/pkg/trader/metrics"
	"github.com/phenomenon0/edgetrader/pkg/trader/tradeerr"
)

// Stage names a step in the pipeline.
type Stage string

const (
	StageQuotes      Stage = "quote_collection"
	StagePredictions Stage = "prediction_collection"
	StageSignals     Stage = "signal_generation"
	StageArbitrage   Stage = "arbitrage_scan"
	StageExecution   Stage = "order_execution"
)

// StageResult reports one stage of one tick.
type StageResult struct {
	Stage     Stage         `json:"stage"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Count     int           `json:"count"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// QuoteSource supplies current quotes for a venue. The feed client and the
// venue REST client both satisfy it.
type QuoteSource interface {
	Quotes(ctx context.Context) ([]market.Quote, error)
}

// PredictionSource supplies model predictions keyed by contract ID.
type PredictionSource interface {
	Predictions(ctx context.Context) (map[string]analyzer.Prediction, error)
}

// SignalExecutor places orders for actionable signals.
type SignalExecutor interface {
	Execute(ctx context.Context, sig *analyzer.Signal) (*ledger.Pick, error)
}

// Config tunes the loop.
type Config struct {
	TickInterval time.Duration `yaml:"tick_interval"`
	ArbConfig    arb.Config    `yaml:"arbitrage"`
}

// DefaultConfig returns a 30s tick with default arbitrage bounds.
func DefaultConfig() Config {
	return Config{
		TickInterval: 30 * time.Second,
		ArbConfig:    arb.DefaultConfig(),
	}
}

// Orchestrator drives the pipeline.
type Orchestrator struct {
	cfg         Config
	quotesA     QuoteSource
	quotesB     QuoteSource // optional, for the arbitrage scan
	predictions PredictionSource
	analyzer    *analyzer.Analyzer
	executor    SignalExecutor
	log         *audit.Log

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}

	// Callbacks, all optional.
	onStage       func(StageResult)
	onSignal      func(*analyzer.Signal)
	onOpportunity func(arb.Opportunity)
	onError       func(error)

	sinks []events.Sink
}

// New wires an orchestrator. quotesB may be nil when only one venue is
// configured; the arbitrage stage is then skipped. auditLog, when set,
// records the signals the analyzer refuses before execution is reached.
func New(cfg Config, quotesA, quotesB QuoteSource, preds PredictionSource, an *analyzer.Analyzer, exec SignalExecutor, auditLog *audit.Log) *Orchestrator {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultConfig().TickInterval
	}
	return &Orchestrator{
		cfg:         cfg,
		quotesA:     quotesA,
		quotesB:     quotesB,
		predictions: preds,
		analyzer:    an,
		executor:    exec,
		log:         auditLog,
	}
}

// OnStage registers a callback for stage completion.
func (o *Orchestrator) OnStage(fn func(StageResult)) { o.onStage = fn }

// OnSignal registers a callback for every generated signal, actionable or
// not.
func (o *Orchestrator) OnSignal(fn func(*analyzer.Signal)) { o.onSignal = fn }

// OnOpportunity registers a callback for detected arbitrage.
func (o *Orchestrator) OnOpportunity(fn func(arb.Opportunity)) { o.onOpportunity = fn }

// OnError registers a callback for stage errors.
func (o *Orchestrator) OnError(fn func(error)) { o.onError = fn }

// AddSink registers an event observer for arbitrage opportunity events.
func (o *Orchestrator) AddSink(s events.Sink) { o.sinks = append(o.sinks, s) }

// Start runs the tick loop until Stop or context cancellation.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already running")
	}
	o.running = true
	o.stopCh = make(chan struct{})
	o.done = make(chan struct{})
	o.mu.Unlock()

	logging.Infof("[orchestrator] starting, tick %s", o.cfg.TickInterval)
	go o.loop(ctx)
	return nil
}

// Stop halts the loop and waits for the in-flight tick to finish.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	close(o.stopCh)
	done := o.done
	o.mu.Unlock()
	<-done
	logging.Infof("[orchestrator] stopped")
}

func (o *Orchestrator) loop(ctx context.Context) {
	defer close(o.done)
	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()

	o.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		case <-ticker.C:
			o.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single pipeline tick.
func (o *Orchestrator) RunOnce(ctx context.Context) {
	quotesA, ok := o.collectQuotes(ctx, o.quotesA, StageQuotes)
	if !ok {
		return
	}

	preds, ok := o.collectPredictions(ctx)
	if !ok {
		return
	}

	signals := o.generateSignals(preds, quotesA)

	if o.quotesB != nil {
		if quotesB, ok := o.collectQuotes(ctx, o.quotesB, StageArbitrage); ok {
			o.scanArbitrage(quotesA, quotesB)
		}
	}

	o.executeSignals(ctx, signals)
}

func (o *Orchestrator) collectQuotes(ctx context.Context, src QuoteSource, stage Stage) ([]market.Quote, bool) {
	started := time.Now()
	quotes, err := src.Quotes(ctx)
	if err != nil {
		o.fail(stage, started, err)
		return nil, false
	}
	o.pass(stage, started, len(quotes))
	return quotes, true
}

func (o *Orchestrator) collectPredictions(ctx context.Context) (map[string]analyzer.Prediction, bool) {
	started := time.Now()
	preds, err := o.predictions.Predictions(ctx)
	if err != nil {
		o.fail(StagePredictions, started, err)
		return nil, false
	}
	o.pass(StagePredictions, started, len(preds))
	return preds, true
}

func (o *Orchestrator) generateSignals(preds map[string]analyzer.Prediction, quotes []market.Quote) []*analyzer.Signal {
	started := time.Now()
	var signals []*analyzer.Signal
	for _, q := range quotes {
		pred, ok := preds[q.ContractID]
		if !ok {
			continue
		}
		sig, err := o.analyzer.Analyze(pred, q)
		if err != nil {
			// Degenerate markets are expected near resolution; log and move on.
			logging.Debugf("[orchestrator] skipping %s: %v", q.ContractID, err)
			o.recordRejection(q.ContractID, pred.Seed, err.Error(), q)
			continue
		}
		metrics.SignalsTotal.WithLabelValues(string(sig.Tier)).Inc()
		metrics.SignalEdge.Observe(sig.EdgePoints)
		if o.onSignal != nil {
			o.onSignal(sig)
		}
		if sig.Actionable {
			signals = append(signals, sig)
		} else {
			o.recordRejection(sig.CorrelationID, sig.Prediction.Seed, sig.Reason, sig)
		}
	}
	o.pass(StageSignals, started, len(signals))
	return signals
}

// recordRejection writes an audit entry for a signal the analyzer turned
// away, so refusals before the executor leave the same trail as refusals
// inside it.
func (o *Orchestrator) recordRejection(correlationID string, seed int64, reason string, input any) {
	if o.log == nil {
		return
	}
	o.log.Record(audit.Entry{
		Action:        "signal.analyze",
		CorrelationID: correlationID,
		Input:         input,
		Status:        audit.StatusRejected,
		Detail:        reason,
		Seed:          seed,
	})
}

func (o *Orchestrator) scanArbitrage(quotesA, quotesB []market.Quote) {
	started := time.Now()
	matcher := arb.NewNormalizedMatcher(quotesB)
	opps := arb.FindOpportunities(quotesA, quotesB, matcher, o.cfg.ArbConfig, time.Now())
	for _, opp := range opps {
		metrics.ArbOpportunities.WithLabelValues(opp.Tier.String()).Inc()
		if o.onOpportunity != nil {
			o.onOpportunity(opp)
		}
		ev := events.New(events.OpportunityFound, "", opp)
		for _, s := range o.sinks {
			s.Publish(ev)
		}
	}
	o.pass(StageArbitrage, started, len(opps))
}

func (o *Orchestrator) executeSignals(ctx context.Context, signals []*analyzer.Signal) {
	started := time.Now()
	placed := 0
	for _, sig := range signals {
		if ctx.Err() != nil {
			return
		}
		if _, err := o.executor.Execute(ctx, sig); err != nil {
			// Gate refusals are routine; anything else goes to the error
			// callback.
			if tradeerr.KindOf(err) == "" {
				o.notifyError(err)
			}
			continue
		}
		placed++
	}
	o.pass(StageExecution, started, placed)
}

func (o *Orchestrator) pass(stage Stage, started time.Time, count int) {
	if o.onStage == nil {
		return
	}
	o.onStage(StageResult{
		Stage:     stage,
		Success:   true,
		Count:     count,
		Duration:  time.Since(started),
		Timestamp: time.Now(),
	})
}

func (o *Orchestrator) fail(stage Stage, started time.Time, err error) {
	logging.Errorf("[orchestrator] stage %s: %v", stage, err)
	o.notifyError(err)
	if o.onStage == nil {
		return
	}
	o.onStage(StageResult{
		Stage:     stage,
		Success:   false,
		Error:     err.Error(),
		Duration:  time.Since(started),
		Timestamp: time.Now(),
	})
}

func (o *Orchestrator) notifyError(err error) {
	if o.onError != nil {
		o.onError(err)
	}
}
