// Package executor turns actionable signals into orders, running every
// gate in a fixed order before anything leaves the process: calibration
// first, then policy limits, then the duplicate-pick check inside the
// ledger. The first gate to refuse stops the attempt with that gate's
// error; later gates are not consulted.
package executor

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/phenomenon0/edgetrader/pkg/logging"
	"github.com/phenomenon0/edgetrader/pkg/trader/analyzer"
	"github.com/phenomenon0/edgetrader/pkg/trader/audit"
	"github.com/phenomenon0/edgetrader/pkg/trader/calibration"
	"github.com/phenomenon0/edgetrader/pkg/trader/events"
	"github.com/phenomenon0/edgetrader/pkg/trader/ledger"
	"github.com/phenomenon0/edgetrader/pkg/trader/metrics"
	"github.com/phenomenon0/edgetrader/pkg/trader/policy"
	"github.com/phenomenon0/edgetrader/pkg/trader/tradeerr"
	"github.com/phenomenon0/edgetrader/pkg/venue"
)

// OrderPlacer is the venue surface the executor needs. *venue.Client
// satisfies it; tests substitute a stub.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req *venue.OrderRequest) (*venue.OrderResponse, error)
}

// Config tunes the executor.
type Config struct {
	// Portfolio names the ledger portfolio orders are booked against.
	Portfolio string `yaml:"portfolio"`
	// DryRun books simulated picks without sending venue orders.
	DryRun bool `yaml:"dry_run"`
}

// Executor coordinates the gates, the venue client and the ledger.
type Executor struct {
	cfg    Config
	venue  OrderPlacer
	ledger *ledger.Ledger
	limits *policy.Engine
	gate   *calibration.Gate
	log    *audit.Log
	sinks  []events.Sink
}

// New wires an executor. venue may be nil only in dry-run mode.
func New(cfg Config, v OrderPlacer, led *ledger.Ledger, limits *policy.Engine, gate *calibration.Gate, auditLog *audit.Log) *Executor {
	if cfg.Portfolio == "" {
		cfg.Portfolio = "default"
	}
	return &Executor{
		cfg:    cfg,
		venue:  v,
		ledger: led,
		limits: limits,
		gate:   gate,
		log:    auditLog,
	}
}

// AddSink registers an observer for rejection and failure events.
func (e *Executor) AddSink(s events.Sink) {
	e.sinks = append(e.sinks, s)
}

func (e *Executor) emit(t events.Type, correlationID string, data any) {
	ev := events.New(t, correlationID, data)
	for _, s := range e.sinks {
		s.Publish(ev)
	}
}

// Execute runs a signal through the gates and places the order. On
// success the pick is booked open in the ledger and the stake is counted
// against today's spend. A nil pick with a nil error never happens; every
// refusal is a typed error.
func (e *Executor) Execute(ctx context.Context, sig *analyzer.Signal) (*ledger.Pick, error) {
	started := time.Now()
	correlationID := sig.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	if !sig.Actionable {
		err := tradeerr.Newf(tradeerr.KindLimitExceeded, "signal is not actionable: %s", sig.Reason)
		e.reject(sig, correlationID, started, err)
		return nil, err
	}

	if err := e.gate.Check(); err != nil {
		e.reject(sig, correlationID, started, err)
		return nil, err
	}
	if err := e.limits.Check(sig.Stake); err != nil {
		e.reject(sig, correlationID, started, err)
		return nil, err
	}

	var (
		entryPrice = sig.Quote.Price
		orderID    string
	)
	if e.cfg.DryRun {
		orderID = "dry-" + uuid.NewString()
	} else {
		resp, err := e.venue.PlaceOrder(ctx, &venue.OrderRequest{
			ContractID:    sig.ContractID,
			Side:          sig.Side,
			Price:         sig.Quote.Price,
			Stake:         sig.Stake,
			ClientOrderID: correlationID,
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				e.record(sig, correlationID, started, audit.StatusCancelled, err.Error())
				return nil, err
			}
			e.record(sig, correlationID, started, audit.StatusError, err.Error())
			e.emit(events.OrderFailed, correlationID, map[string]any{
				"contract_id": sig.ContractID,
				"error":       err.Error(),
			})
			metrics.OrdersFailed.Inc()
			return nil, err
		}
		orderID = resp.OrderID
		if resp.FilledPrice > 0 {
			entryPrice = resp.FilledPrice
		}
	}

	pick, err := e.ledger.AddPick(ledger.AddPickRequest{
		Portfolio:     e.cfg.Portfolio,
		ContractID:    sig.ContractID,
		Side:          sig.Side,
		EntryPrice:    entryPrice,
		Stake:         sig.Stake,
		Confidence:    sig.Prediction.Confidence,
		EdgeAtEntry:   sig.EdgePoints,
		Simulated:     e.cfg.DryRun,
		CorrelationID: correlationID,
	})
	if err != nil {
		e.record(sig, correlationID, started, audit.StatusError, err.Error())
		return nil, err
	}

	e.limits.RecordStake(sig.Stake)
	metrics.OrdersPlaced.Inc()
	e.record(sig, correlationID, started, audit.StatusOK, "order "+orderID)

	logging.WithFields(map[string]any{
		"contract": sig.ContractID,
		"side":     sig.Side,
		"stake":    sig.Stake.String(),
		"tier":     sig.Tier,
		"dry_run":  e.cfg.DryRun,
	}).Info("order placed")
	return pick, nil
}

// RecordSettlement settles a pick and feeds the outcome back into the
// loss limits and the calibration window, closing the loop that future
// gate checks run against.
func (e *Executor) RecordSettlement(pickID string, won bool, pnl decimal.Decimal) error {
	outcome := ledger.StatusLoss
	if won {
		outcome = ledger.StatusWin
	}
	pick, ok := e.ledger.Get(e.cfg.Portfolio, pickID)
	if !ok {
		return tradeerr.Newf(tradeerr.KindAlreadySettled, "pick %s not found", pickID)
	}
	if err := e.ledger.Settle(e.cfg.Portfolio, pickID, outcome, pnl); err != nil {
		return err
	}
	e.limits.RecordPnL(pnl)
	e.gate.Record(calibration.Sample{
		Predicted: pick.Confidence / 100,
		Outcome:   won,
	})
	metrics.PicksSettled.Inc()
	return nil
}

func (e *Executor) reject(sig *analyzer.Signal, correlationID string, started time.Time, err error) {
	e.record(sig, correlationID, started, audit.StatusRejected, err.Error())
	e.emit(events.SignalRejected, correlationID, map[string]any{
		"contract_id": sig.ContractID,
		"reason":      err.Error(),
	})
	metrics.SignalsRejected.Inc()
	logging.Warnf("[executor] rejected %s: %v", sig.ContractID, err)
}

func (e *Executor) record(sig *analyzer.Signal, correlationID string, started time.Time, status, detail string) {
	if e.log == nil {
		return
	}
	e.log.Record(audit.Entry{
		Action:        "order.execute",
		CorrelationID: correlationID,
		Input:         sig,
		Status:        status,
		Detail:        detail,
		Duration:      time.Since(started),
		Seed:          sig.Prediction.Seed,
	})
}
