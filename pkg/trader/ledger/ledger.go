// Package ledger is the durable record of every pick from creation through
// settlement. It exclusively owns pick state transitions; the audit log and
// webhook dispatcher only observe the events it emits.
package ledger

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/phenomenon0/edgetrader/pkg/logging"
	"github.com/phenomenon0/edgetrader/pkg/store"
	"github.com/phenomenon0/edgetrader/pkg/trader/events"
	"github.com/phenomenon0/edgetrader/pkg/trader/market"
	"github.com/phenomenon0/edgetrader/pkg/trader/tradeerr"
)

// Status is the lifecycle state of a pick.
type Status string

const (
	StatusOpen      Status = "open"
	StatusWin       Status = "win"
	StatusLoss      Status = "loss"
	StatusCancelled Status = "cancelled"
)

// Pick is one position. Once settled or cancelled it is immutable.
type Pick struct {
	ID            string           `json:"id"`
	Portfolio     string           `json:"portfolio"`
	ContractID    string           `json:"contract_id"`
	Side          market.Side      `json:"side"`
	EntryPrice    float64          `json:"entry_price"`
	Stake         decimal.Decimal  `json:"stake"`
	Confidence    float64          `json:"confidence"`
	EdgeAtEntry   float64          `json:"edge_at_entry"`
	Status        Status           `json:"status"`
	PnL           *decimal.Decimal `json:"pnl,omitempty"` // nil until settled
	Simulated     bool             `json:"simulated"`
	CorrelationID string           `json:"correlation_id"`
	OpenedAt      time.Time        `json:"opened_at"`
	SettledAt     *time.Time       `json:"settled_at,omitempty"`
}

func (p *Pick) clone() *Pick {
	c := *p
	if p.PnL != nil {
		v := *p.PnL
		c.PnL = &v
	}
	if p.SettledAt != nil {
		t := *p.SettledAt
		c.SettledAt = &t
	}
	return &c
}

// AddPickRequest holds the fields for a new pick.
type AddPickRequest struct {
	Portfolio     string
	ContractID    string
	Side          market.Side
	EntryPrice    float64
	Stake         decimal.Decimal
	Confidence    float64
	EdgeAtEntry   float64
	Simulated     bool
	CorrelationID string
}

// Stats are on-demand aggregates over settled picks. They are computed
// fresh on every call; nothing here is cached that could drift from the
// underlying ledger.
type Stats struct {
	Open       int             `json:"open"`
	Settled    int             `json:"settled"`
	Wins       int             `json:"wins"`
	Losses     int             `json:"losses"`
	Cancelled  int             `json:"cancelled"`
	WinRate    float64         `json:"win_rate"`
	TotalStake decimal.Decimal `json:"total_stake"`
	TotalPnL   decimal.Decimal `json:"total_pnl"`
	ROI        float64         `json:"roi"`
}

// portfolio serializes writes for one portfolio key. Unrelated portfolios
// proceed concurrently.
type portfolio struct {
	mu    sync.Mutex
	picks map[string]*Pick
	open  map[string]string // contract/side -> pick ID, for duplicate rejection
}

// Ledger tracks picks across portfolios, optionally persisting through the
// key-based store collaborator.
type Ledger struct {
	mu         sync.RWMutex
	portfolios map[string]*portfolio

	db    store.Store // optional
	sinks []events.Sink
}

// New creates a ledger. db may be nil for a purely in-memory ledger.
func New(db store.Store) *Ledger {
	return &Ledger{
		portfolios: make(map[string]*portfolio),
		db:         db,
	}
}

// AddSink registers an event observer. Sinks receive pick lifecycle events
// after the state change commits.
func (l *Ledger) AddSink(s events.Sink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks = append(l.sinks, s)
}

func (l *Ledger) emit(e events.Event) {
	l.mu.RLock()
	sinks := l.sinks
	l.mu.RUnlock()
	for _, s := range sinks {
		s.Publish(e)
	}
}

func (l *Ledger) getPortfolio(name string) *portfolio {
	l.mu.RLock()
	p, ok := l.portfolios[name]
	l.mu.RUnlock()
	if ok {
		return p
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok = l.portfolios[name]; ok {
		return p
	}
	p = &portfolio{picks: make(map[string]*Pick), open: make(map[string]string)}
	l.portfolios[name] = p
	return p
}

func openKey(contractID string, side market.Side) string {
	return contractID + "/" + string(side)
}

// AddPick creates an open pick. An identical open pick (same portfolio,
// contract, side) is rejected with DuplicatePick; the existence check and
// the insert happen under the portfolio lock, so two racing callers
// resolve to exactly one created pick.
func (l *Ledger) AddPick(req AddPickRequest) (*Pick, error) {
	if req.ContractID == "" {
		return nil, fmt.Errorf("ledger: contract reference is required")
	}
	if req.Side != market.SideYes && req.Side != market.SideNo {
		return nil, fmt.Errorf("ledger: side is required")
	}
	if req.Portfolio == "" {
		req.Portfolio = "default"
	}

	p := l.getPortfolio(req.Portfolio)
	p.mu.Lock()
	defer p.mu.Unlock()

	key := openKey(req.ContractID, req.Side)
	if existing, ok := p.open[key]; ok {
		return nil, tradeerr.Newf(tradeerr.KindDuplicatePick,
			"an open pick for %s %s already exists (%s); refusing doubled exposure",
			req.ContractID, req.Side, existing)
	}

	pick := &Pick{
		ID:            uuid.NewString(),
		Portfolio:     req.Portfolio,
		ContractID:    req.ContractID,
		Side:          req.Side,
		EntryPrice:    req.EntryPrice,
		Stake:         req.Stake,
		Confidence:    req.Confidence,
		EdgeAtEntry:   req.EdgeAtEntry,
		Status:        StatusOpen,
		Simulated:     req.Simulated,
		CorrelationID: req.CorrelationID,
		OpenedAt:      time.Now(),
	}

	if err := l.persistInsert(pick); err != nil {
		return nil, err
	}
	p.picks[pick.ID] = pick
	p.open[key] = pick.ID

	l.emit(events.New(events.PickCreated, pick.CorrelationID, pick.clone()))
	return pick.clone(), nil
}

// Settle transitions an open pick to win or loss, exactly once. Settling a
// pick that is no longer open fails with AlreadySettled; the first
// settlement stands and the audit trail stays intact.
func (l *Ledger) Settle(portfolioName, pickID string, outcome Status, pnl decimal.Decimal) error {
	if outcome != StatusWin && outcome != StatusLoss {
		return fmt.Errorf("ledger: settlement outcome must be win or loss, got %q", outcome)
	}

	p := l.getPortfolio(portfolioName)
	p.mu.Lock()
	defer p.mu.Unlock()

	pick, ok := p.picks[pickID]
	if !ok {
		return fmt.Errorf("ledger: pick %s not found in portfolio %s", pickID, portfolioName)
	}
	if pick.Status != StatusOpen {
		return tradeerr.Newf(tradeerr.KindAlreadySettled,
			"pick %s is already %s; settlement is recorded exactly once", pickID, pick.Status)
	}

	now := time.Now()
	pick.Status = outcome
	pick.PnL = &pnl
	pick.SettledAt = &now
	delete(p.open, openKey(pick.ContractID, pick.Side))

	l.persistPut(pick)
	l.emit(events.New(events.PickSettled, pick.CorrelationID, pick.clone()))
	return nil
}

// Cancel transitions an open pick to cancelled (venue rejected or
// cancelled before fill). Cancelled picks are immutable.
func (l *Ledger) Cancel(portfolioName, pickID string) error {
	p := l.getPortfolio(portfolioName)
	p.mu.Lock()
	defer p.mu.Unlock()

	pick, ok := p.picks[pickID]
	if !ok {
		return fmt.Errorf("ledger: pick %s not found in portfolio %s", pickID, portfolioName)
	}
	if pick.Status != StatusOpen {
		return tradeerr.Newf(tradeerr.KindAlreadySettled,
			"pick %s is already %s and cannot be cancelled", pickID, pick.Status)
	}

	pick.Status = StatusCancelled
	delete(p.open, openKey(pick.ContractID, pick.Side))

	l.persistPut(pick)
	l.emit(events.New(events.PickCancelled, pick.CorrelationID, pick.clone()))
	return nil
}

// Get returns a copy of a pick.
func (l *Ledger) Get(portfolioName, pickID string) (*Pick, bool) {
	p := l.getPortfolio(portfolioName)
	p.mu.Lock()
	defer p.mu.Unlock()
	pick, ok := p.picks[pickID]
	if !ok {
		return nil, false
	}
	return pick.clone(), true
}

// Picks returns copies of every pick in a portfolio.
func (l *Ledger) Picks(portfolioName string) []*Pick {
	p := l.getPortfolio(portfolioName)
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Pick, 0, len(p.picks))
	for _, pick := range p.picks {
		out = append(out, pick.clone())
	}
	return out
}

// Stats computes portfolio aggregates on demand from the picks.
func (l *Ledger) Stats(portfolioName string) Stats {
	p := l.getPortfolio(portfolioName)
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{TotalStake: decimal.Zero, TotalPnL: decimal.Zero}
	for _, pick := range p.picks {
		switch pick.Status {
		case StatusOpen:
			s.Open++
		case StatusCancelled:
			s.Cancelled++
		case StatusWin, StatusLoss:
			s.Settled++
			if pick.Status == StatusWin {
				s.Wins++
			} else {
				s.Losses++
			}
			s.TotalStake = s.TotalStake.Add(pick.Stake)
			if pick.PnL != nil {
				s.TotalPnL = s.TotalPnL.Add(*pick.PnL)
			}
		}
	}
	if s.Settled > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Settled)
	}
	if !s.TotalStake.IsZero() {
		s.ROI, _ = s.TotalPnL.Div(s.TotalStake).Float64()
	}
	return s
}

func pickStoreKey(p *Pick) string {
	return "pick:" + p.Portfolio + ":" + p.ID
}

func (l *Ledger) persistInsert(p *Pick) error {
	if l.db == nil {
		return nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("ledger: marshal pick: %w", err)
	}
	if err := l.db.Insert(pickStoreKey(p), b); err != nil {
		return fmt.Errorf("ledger: persist pick: %w", err)
	}
	return nil
}

func (l *Ledger) persistPut(p *Pick) {
	if l.db == nil {
		return
	}
	b, err := json.Marshal(p)
	if err != nil {
		logging.Errorf("[ledger] marshal pick %s: %v", p.ID, err)
		return
	}
	if err := l.db.Put(pickStoreKey(p), b); err != nil {
		logging.Errorf("[ledger] persist pick %s: %v", p.ID, err)
	}
}

// Load restores picks from the store into memory. Called once at startup
// before the ledger takes writes.
func (l *Ledger) Load() error {
	if l.db == nil {
		return nil
	}
	return l.db.ForEach("pick:", func(_ string, value []byte) error {
		var pick Pick
		if err := json.Unmarshal(value, &pick); err != nil {
			return fmt.Errorf("ledger: decode stored pick: %w", err)
		}
		p := l.getPortfolio(pick.Portfolio)
		p.mu.Lock()
		p.picks[pick.ID] = &pick
		if pick.Status == StatusOpen {
			p.open[openKey(pick.ContractID, pick.Side)] = pick.ID
		}
		p.mu.Unlock()
		return nil
	})
}
