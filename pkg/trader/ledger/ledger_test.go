package ledger

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/phenomenon0/edgetrader/pkg/trader/events"
	"github.com/phenomenon0/edgetrader/pkg/trader/market"
	"github.com/phenomenon0/edgetrader/pkg/trader/tradeerr"
)

func newPickReq(contractID string) AddPickRequest {
	return AddPickRequest{
		Portfolio:  "test",
		ContractID: contractID,
		Side:       market.SideYes,
		EntryPrice: 0.55,
		Stake:      decimal.NewFromInt(20),
		Confidence: 60,
	}
}

func TestAddPick_DuplicateRejected(t *testing.T) {
	l := New(nil)

	first, err := l.AddPick(newPickReq("game-1"))
	if err != nil {
		t.Fatalf("first AddPick: %v", err)
	}
	if first.Status != StatusOpen {
		t.Errorf("status = %v, want open", first.Status)
	}

	_, err = l.AddPick(newPickReq("game-1"))
	if !tradeerr.IsKind(err, tradeerr.KindDuplicatePick) {
		t.Fatalf("err = %v, want duplicate pick", err)
	}

	// Opposite side of the same contract is a different position.
	req := newPickReq("game-1")
	req.Side = market.SideNo
	if _, err := l.AddPick(req); err != nil {
		t.Errorf("opposite side should be allowed, got %v", err)
	}
}

func TestAddPick_ConcurrentDuplicates(t *testing.T) {
	l := New(nil)

	const goroutines = 32
	var created, rejected int64
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := l.AddPick(newPickReq("game-1"))
			switch {
			case err == nil:
				atomic.AddInt64(&created, 1)
			case tradeerr.IsKind(err, tradeerr.KindDuplicatePick):
				atomic.AddInt64(&rejected, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if created != 1 {
		t.Errorf("created = %d picks, want exactly 1", created)
	}
	if rejected != goroutines-1 {
		t.Errorf("rejected = %d, want %d", rejected, goroutines-1)
	}
}

func TestSettle_ExactlyOnce(t *testing.T) {
	l := New(nil)
	pick, err := l.AddPick(newPickReq("game-1"))
	if err != nil {
		t.Fatalf("AddPick: %v", err)
	}

	if err := l.Settle("test", pick.ID, StatusWin, decimal.NewFromFloat(16.36)); err != nil {
		t.Fatalf("first Settle: %v", err)
	}

	err = l.Settle("test", pick.ID, StatusLoss, decimal.NewFromInt(-20))
	if !tradeerr.IsKind(err, tradeerr.KindAlreadySettled) {
		t.Fatalf("second Settle err = %v, want already settled", err)
	}

	// The first settlement stands.
	got, ok := l.Get("test", pick.ID)
	if !ok {
		t.Fatal("pick disappeared")
	}
	if got.Status != StatusWin {
		t.Errorf("status = %v, want win", got.Status)
	}
	if got.PnL == nil || !got.PnL.Equal(decimal.NewFromFloat(16.36)) {
		t.Errorf("pnl = %v, want 16.36", got.PnL)
	}
	if got.SettledAt == nil {
		t.Error("settled pick must carry a settlement time")
	}
}

func TestSettle_InvalidOutcome(t *testing.T) {
	l := New(nil)
	pick, _ := l.AddPick(newPickReq("game-1"))
	if err := l.Settle("test", pick.ID, StatusCancelled, decimal.Zero); err == nil {
		t.Error("settling to cancelled should be rejected")
	}
}

func TestSettle_FreesTheSlot(t *testing.T) {
	l := New(nil)
	pick, _ := l.AddPick(newPickReq("game-1"))
	if err := l.Settle("test", pick.ID, StatusLoss, decimal.NewFromInt(-20)); err != nil {
		t.Fatalf("Settle: %v", err)
	}

	// The contract/side slot is open again for a new pick.
	if _, err := l.AddPick(newPickReq("game-1")); err != nil {
		t.Errorf("new pick after settlement should be allowed, got %v", err)
	}
}

func TestCancel(t *testing.T) {
	l := New(nil)
	pick, _ := l.AddPick(newPickReq("game-1"))

	if err := l.Cancel("test", pick.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	got, _ := l.Get("test", pick.ID)
	if got.Status != StatusCancelled {
		t.Errorf("status = %v, want cancelled", got.Status)
	}

	err := l.Cancel("test", pick.ID)
	if !tradeerr.IsKind(err, tradeerr.KindAlreadySettled) {
		t.Errorf("second Cancel err = %v, want already settled", err)
	}
}

func TestStats(t *testing.T) {
	l := New(nil)

	win, _ := l.AddPick(newPickReq("game-1"))
	loss, _ := l.AddPick(newPickReq("game-2"))
	cancelled, _ := l.AddPick(newPickReq("game-3"))
	l.AddPick(newPickReq("game-4")) // stays open

	l.Settle("test", win.ID, StatusWin, decimal.NewFromInt(16))
	l.Settle("test", loss.ID, StatusLoss, decimal.NewFromInt(-20))
	l.Cancel("test", cancelled.ID)

	s := l.Stats("test")
	if s.Open != 1 || s.Settled != 2 || s.Wins != 1 || s.Losses != 1 || s.Cancelled != 1 {
		t.Errorf("counts = %+v", s)
	}
	if s.WinRate != 0.5 {
		t.Errorf("win rate = %v, want 0.5", s.WinRate)
	}
	if !s.TotalStake.Equal(decimal.NewFromInt(40)) {
		t.Errorf("total stake = %v, want 40", s.TotalStake)
	}
	if !s.TotalPnL.Equal(decimal.NewFromInt(-4)) {
		t.Errorf("total pnl = %v, want -4", s.TotalPnL)
	}
	if s.ROI != -0.1 {
		t.Errorf("roi = %v, want -0.1", s.ROI)
	}
}

func TestEventsEmitted(t *testing.T) {
	l := New(nil)
	var mu sync.Mutex
	var seen []events.Type
	l.AddSink(events.SinkFunc(func(e events.Event) {
		mu.Lock()
		seen = append(seen, e.Type)
		mu.Unlock()
	}))

	pick, _ := l.AddPick(newPickReq("game-1"))
	l.Settle("test", pick.ID, StatusWin, decimal.NewFromInt(16))

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != events.PickCreated || seen[1] != events.PickSettled {
		t.Errorf("events = %v, want [pick.created pick.settled]", seen)
	}
}

func TestPortfolioIsolation(t *testing.T) {
	l := New(nil)

	a := newPickReq("game-1")
	b := newPickReq("game-1")
	b.Portfolio = "other"

	if _, err := l.AddPick(a); err != nil {
		t.Fatalf("AddPick a: %v", err)
	}
	if _, err := l.AddPick(b); err != nil {
		t.Errorf("same contract in another portfolio should be allowed, got %v", err)
	}
}
