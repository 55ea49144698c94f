// Package audit keeps an append-only in-memory trail of analysis and
// execution decisions. Entries are never mutated after append; the log is
// a bounded ring so a long-running process holds the most recent window.
package audit

import (
	"sync"
	"time"

	"github.com/phenomenon0/edgetrader/pkg/trader/events"
)

// Entry is one recorded decision.
type Entry struct {
	Action        string        `json:"action"`
	CorrelationID string        `json:"correlation_id"`
	Input         any           `json:"input,omitempty"`
	Output        any           `json:"output,omitempty"`
	Status        string        `json:"status"` // ok, rejected, error, cancelled
	Detail        string        `json:"detail,omitempty"`
	Duration      time.Duration `json:"duration"`
	Seed          int64         `json:"seed,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
}

const (
	StatusOK        = "ok"
	StatusRejected  = "rejected"
	StatusError     = "error"
	StatusCancelled = "cancelled"
)

// Filter narrows a query. Zero fields match everything.
type Filter struct {
	Action        string
	CorrelationID string
	Status        string
	Since         time.Time
	Limit         int
}

// Log is a bounded append-only ring of entries.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	full    bool
}

// DefaultCapacity bounds the ring when no capacity is given.
const DefaultCapacity = 10000

// NewLog creates a log holding at most capacity entries; older entries are
// overwritten once the ring fills.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{entries: make([]Entry, capacity)}
}

// Record appends an entry, stamping it if the caller left Timestamp zero.
func (l *Log) Record(e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[l.next] = e
	l.next++
	if l.next == len(l.entries) {
		l.next = 0
		l.full = true
	}
}

// Len reports the number of retained entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.full {
		return len(l.entries)
	}
	return l.next
}

// Query returns retained entries matching the filter, oldest first.
func (l *Log) Query(f Filter) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Entry
	l.scan(func(e Entry) bool {
		if f.Action != "" && e.Action != f.Action {
			return true
		}
		if f.CorrelationID != "" && e.CorrelationID != f.CorrelationID {
			return true
		}
		if f.Status != "" && e.Status != f.Status {
			return true
		}
		if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
			return true
		}
		out = append(out, e)
		return f.Limit == 0 || len(out) < f.Limit
	})
	return out
}

// SeedFor returns the model seed recorded for a correlation ID, for
// deterministic replay of the analysis that produced a pick. The second
// return is false when no entry with a seed matches.
func (l *Log) SeedFor(correlationID string) (int64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var seed int64
	var found bool
	l.scan(func(e Entry) bool {
		if e.CorrelationID == correlationID && e.Seed != 0 {
			seed = e.Seed
			found = true
			return false
		}
		return true
	})
	return seed, found
}

// scan visits retained entries oldest first until fn returns false.
// Callers hold at least the read lock.
func (l *Log) scan(fn func(Entry) bool) {
	start, n := 0, l.next
	if l.full {
		start, n = l.next, len(l.entries)
	}
	for i := 0; i < n; i++ {
		if !fn(l.entries[(start+i)%len(l.entries)]) {
			return
		}
	}
}

// Publish implements events.Sink so the log can observe ledger and
// executor events directly.
func (l *Log) Publish(e events.Event) {
	l.Record(Entry{
		Action:        string(e.Type),
		CorrelationID: e.CorrelationID,
		Input:         e.Data,
		Status:        StatusOK,
		Timestamp:     e.Timestamp,
	})
}
