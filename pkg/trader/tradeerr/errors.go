// Package tradeerr defines the error taxonomy shared by the trading core.
//
// Every rejection carries both a machine Kind and a human-readable Reason.
// The Reason is what operators see; it must say why the trade was refused
// ("market already resolved", "daily spending limit reached"), not just echo
// the taxonomy tag.
package tradeerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for routing and retry decisions.
type Kind string

const (
	// KindDegenerateMarket marks pure-function input out of domain.
	// Reject locally, never retry, never crash the batch.
	KindDegenerateMarket Kind = "degenerate_market"

	// KindAuthenticationFailure marks signing or venue auth failures.
	// Fatal, surfaced immediately, never retried: a retry with a stale
	// timestamp cannot succeed.
	KindAuthenticationFailure Kind = "authentication_failure"

	// KindNetworkFailure marks timeouts and 5xx responses. Retryable with
	// capped exponential backoff.
	KindNetworkFailure Kind = "network_failure"

	// KindLimitExceeded marks a business-rule breach. Rejected, logged,
	// never retried automatically.
	KindLimitExceeded Kind = "limit_exceeded"

	// KindAlreadySettled marks a settlement attempt on a pick that is no
	// longer open. The first settlement stands.
	KindAlreadySettled Kind = "already_settled"

	// KindDuplicatePick marks an attempt to open a pick identical to an
	// existing open one (same portfolio, contract, side).
	KindDuplicatePick Kind = "duplicate_pick"

	// KindCalibrationGate marks a signal refused because the emitting
	// model's trailing Brier score is above the configured ceiling.
	KindCalibrationGate Kind = "calibration_gate"
)

// Error is a classified trading-core error.
type Error struct {
	Kind   Kind
	Reason string // human-readable, distinct from Kind
	Venue  string // set on venue I/O errors
	Path   string // set on venue I/O errors
	Status int    // HTTP status, when applicable
	Err    error  // wrapped cause, if any
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	if e.Venue != "" {
		msg += fmt.Sprintf(" (venue=%s path=%s status=%d)", e.Venue, e.Path, e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Newf creates a classified error with a formatted reason.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Wrap creates a classified error around a cause.
func Wrap(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// KindOf returns the Kind of err, or "" if err is not a classified error.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

// IsKind reports whether err is a classified error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether err may be retried. Only network failures
// qualify; everything else in the taxonomy is a hard stop.
func Retryable(err error) bool {
	return IsKind(err, KindNetworkFailure)
}
