// Package events defines the event records the ledger and executor emit
// and the sink interface the audit log and webhook dispatcher observe.
// Observers never mutate domain entities; they only see these records.
package events

import (
	"time"
)

// Type names an event. Subscribers filter on these.
type Type string

const (
	PickCreated      Type = "pick.created"
	PickSettled      Type = "pick.settled"
	PickCancelled    Type = "pick.cancelled"
	SignalRejected   Type = "signal.rejected"
	OrderFailed      Type = "order.failed"
	OpportunityFound Type = "arbitrage.opportunity"
)

// Event is one state change, carried to sinks as-is.
type Event struct {
	Type          Type      `json:"event"`
	Data          any       `json:"data"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlationId"`
}

// New builds an event stamped with the current time.
func New(t Type, correlationID string, data any) Event {
	return Event{
		Type:          t,
		Data:          data,
		Timestamp:     time.Now(),
		CorrelationID: correlationID,
	}
}

// Sink receives events. Publish must not block the emitter on subscriber
// I/O; sinks that deliver externally queue internally.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

func (f SinkFunc) Publish(e Event) { f(e) }
