package executor

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/phenomenon0/edgetrader/pkg/trader/analyzer"
	"github.com/phenomenon0/edgetrader/pkg/trader/audit"
	"github.com/phenomenon0/edgetrader/pkg/trader/calibration"
	"github.com/phenomenon0/edgetrader/pkg/trader/ledger"
	"github.com/phenomenon0/edgetrader/pkg/trader/market"
	"github.com/phenomenon0/edgetrader/pkg/trader/policy"
	"github.com/phenomenon0/edgetrader/pkg/trader/tradeerr"
	"github.com/phenomenon0/edgetrader/pkg/venue"
)

type stubVenue struct {
	calls int
	resp  *venue.OrderResponse
	err   error
}

func (s *stubVenue) PlaceOrder(_ context.Context, _ *venue.OrderRequest) (*venue.OrderResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func testSignal() *analyzer.Signal {
	return &analyzer.Signal{
		ContractID:    "game-1",
		Side:          market.SideYes,
		Stake:         decimal.NewFromInt(20),
		EdgePoints:    7.6,
		Tier:          analyzer.TierExcellent,
		Actionable:    true,
		Quote:         market.Quote{ContractID: "game-1", Side: market.SideYes, Price: 0.52},
		Prediction:    analyzer.Prediction{ContractID: "game-1", Confidence: 60, Seed: 7},
		CorrelationID: "corr-1",
	}
}

func newTestExecutor(v OrderPlacer, cfg Config) (*Executor, *ledger.Ledger, *calibration.Gate, *audit.Log) {
	led := ledger.New(nil)
	gate := calibration.NewGate(0.25, 100)
	log := audit.NewLog(100)
	cfg.Portfolio = "test"
	return New(cfg, v, led, policy.NewEngine(policy.DefaultLimits()), gate, log), led, gate, log
}

func TestExecute_DryRun(t *testing.T) {
	v := &stubVenue{}
	e, led, _, log := newTestExecutor(v, Config{DryRun: true})

	pick, err := e.Execute(context.Background(), testSignal())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if v.calls != 0 {
		t.Errorf("venue called %d times in dry-run, want 0", v.calls)
	}
	if !pick.Simulated {
		t.Error("dry-run pick should be marked simulated")
	}
	if got, _ := led.Get("test", pick.ID); got.Status != ledger.StatusOpen {
		t.Errorf("status = %v, want open", got.Status)
	}
	if entries := log.Query(audit.Filter{Action: "order.execute", Status: audit.StatusOK}); len(entries) != 1 {
		t.Errorf("audit ok entries = %d, want 1", len(entries))
	}
}

func TestExecute_LiveOrder(t *testing.T) {
	v := &stubVenue{resp: &venue.OrderResponse{OrderID: "ord-1", Status: "filled", FilledPrice: 0.53}}
	e, led, _, _ := newTestExecutor(v, Config{})

	pick, err := e.Execute(context.Background(), testSignal())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if v.calls != 1 {
		t.Errorf("venue calls = %d, want 1", v.calls)
	}
	if pick.Simulated {
		t.Error("live pick marked simulated")
	}
	if got, _ := led.Get("test", pick.ID); got.EntryPrice != 0.53 {
		t.Errorf("entry price = %v, want the filled price 0.53", got.EntryPrice)
	}
}

func TestExecute_NonActionableRejected(t *testing.T) {
	v := &stubVenue{}
	e, _, _, _ := newTestExecutor(v, Config{})

	sig := testSignal()
	sig.Actionable = false
	if _, err := e.Execute(context.Background(), sig); err == nil {
		t.Fatal("expected rejection of a non-actionable signal")
	}
	if v.calls != 0 {
		t.Errorf("venue calls = %d, want 0", v.calls)
	}
}

func TestExecute_CalibrationGateFirst(t *testing.T) {
	v := &stubVenue{}
	e, _, gate, log := newTestExecutor(v, Config{})

	for i := 0; i < 10; i++ {
		gate.Record(calibration.Sample{Predicted: 0.95, Outcome: false})
	}

	// The stake also breaches the per-trade cap, but calibration runs first.
	sig := testSignal()
	sig.Stake = decimal.NewFromInt(1000)

	_, err := e.Execute(context.Background(), sig)
	if !tradeerr.IsKind(err, tradeerr.KindCalibrationGate) {
		t.Fatalf("err = %v, want calibration gate", err)
	}
	if v.calls != 0 {
		t.Errorf("venue calls = %d, want 0", v.calls)
	}
	if entries := log.Query(audit.Filter{Status: audit.StatusRejected}); len(entries) != 1 {
		t.Errorf("audit rejected entries = %d, want 1", len(entries))
	}
}

func TestExecute_PolicyLimit(t *testing.T) {
	v := &stubVenue{}
	e, _, _, _ := newTestExecutor(v, Config{})

	sig := testSignal()
	sig.Stake = decimal.NewFromInt(1000)

	_, err := e.Execute(context.Background(), sig)
	if !tradeerr.IsKind(err, tradeerr.KindLimitExceeded) {
		t.Fatalf("err = %v, want limit exceeded", err)
	}
	if v.calls != 0 {
		t.Errorf("venue calls = %d, want 0", v.calls)
	}
}

func TestExecute_VenueRejectionNoPickNoRetry(t *testing.T) {
	v := &stubVenue{err: &venue.RequestError{Venue: "alpha", Method: "POST", Path: "/v1/orders", Status: 422, Body: "insufficient balance"}}
	e, led, _, log := newTestExecutor(v, Config{})

	_, err := e.Execute(context.Background(), testSignal())
	if err == nil {
		t.Fatal("expected venue rejection to surface")
	}
	if v.calls != 1 {
		t.Errorf("venue calls = %d, want exactly 1 (no auto-retry)", v.calls)
	}
	if picks := led.Picks("test"); len(picks) != 0 {
		t.Errorf("picks = %d after rejection, want 0", len(picks))
	}
	entries := log.Query(audit.Filter{Status: audit.StatusError})
	if len(entries) != 1 {
		t.Fatalf("audit error entries = %d, want 1", len(entries))
	}
	if entries[0].Detail == "" {
		t.Error("audit entry should carry the venue's rejection verbatim")
	}
}

func TestExecute_ContextCancelled(t *testing.T) {
	v := &stubVenue{err: context.Canceled}
	e, led, _, log := newTestExecutor(v, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Execute(ctx, testSignal())
	if err == nil {
		t.Fatal("expected cancellation to surface")
	}
	if picks := led.Picks("test"); len(picks) != 0 {
		t.Errorf("picks = %d after cancellation, want 0", len(picks))
	}
	if entries := log.Query(audit.Filter{Status: audit.StatusCancelled}); len(entries) != 1 {
		t.Errorf("audit cancelled entries = %d, want 1", len(entries))
	}
}

func TestExecute_DuplicateSecondAttempt(t *testing.T) {
	e, _, _, _ := newTestExecutor(&stubVenue{}, Config{DryRun: true})

	if _, err := e.Execute(context.Background(), testSignal()); err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	_, err := e.Execute(context.Background(), testSignal())
	if !tradeerr.IsKind(err, tradeerr.KindDuplicatePick) {
		t.Fatalf("err = %v, want duplicate pick", err)
	}
}

func TestRecordSettlement_FeedsLimitsAndGate(t *testing.T) {
	e, led, gate, _ := newTestExecutor(&stubVenue{}, Config{DryRun: true})

	pick, err := e.Execute(context.Background(), testSignal())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if err := e.RecordSettlement(pick.ID, false, decimal.NewFromInt(-20)); err != nil {
		t.Fatalf("RecordSettlement: %v", err)
	}

	got, _ := led.Get("test", pick.ID)
	if got.Status != ledger.StatusLoss {
		t.Errorf("status = %v, want loss", got.Status)
	}
	if gate.TrailingBrier() == 0 {
		t.Error("settlement should have fed the calibration window")
	}

	// Settling again is rejected, not repeated.
	err = e.RecordSettlement(pick.ID, true, decimal.NewFromInt(16))
	if !tradeerr.IsKind(err, tradeerr.KindAlreadySettled) {
		t.Errorf("second settlement err = %v, want already settled", err)
	}
}
