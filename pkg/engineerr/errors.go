// Package engineerr defines the engine's typed error taxonomy. Every
// component returns these verbatim across boundaries instead of wrapping
// them away; callers pattern-match on Kind.
package engineerr

import "fmt"

// Kind classifies an engine error for dispatch by callers (retry, surface to
// A2A, halt the engine, etc).
type Kind string

const (
	// InvariantViolation marks a stored fact contradicting an invariant.
	// Fatal: the engine halts and refuses further ticks.
	InvariantViolation Kind = "invariant_violation"
	// Conflict marks a concurrent write that lost a race. Retryable.
	Conflict Kind = "conflict"
	// InsufficientFunds marks a debit that would go negative on a
	// non-liquidation kind.
	InsufficientFunds Kind = "insufficient_funds"
	// MarketClosed marks an action against a market that is not open.
	MarketClosed Kind = "market_closed"
	// PositionNotFound marks a reference to a position that does not exist
	// or is already closed.
	PositionNotFound Kind = "position_not_found"
	// LeverageOutOfRange marks a requested leverage outside [1,100] or a
	// per-asset cap.
	LeverageOutOfRange Kind = "leverage_out_of_range"
	// StalePrice marks a decision whose reference price has moved beyond
	// the configured price-protection tolerance.
	StalePrice Kind = "stale_price"
	// Timeout marks an external dependency (LLM, oracle, provider) that
	// did not respond within its budget.
	Timeout Kind = "timeout"
	// NotFound marks a missing entity at the A2A surface.
	NotFound Kind = "not_found"
	// Unauthorized marks a failed credential check at the A2A surface.
	Unauthorized Kind = "unauthorized"
	// RateLimited marks a caller that exceeded its request budget.
	RateLimited Kind = "rate_limited"
	// UserBanned marks an action attempted by a banned user.
	UserBanned Kind = "user_banned"
	// UserNotFound marks a reference to an unknown user id.
	UserNotFound Kind = "user_not_found"
	// Busy marks a tick invocation while one is already in flight.
	Busy Kind = "busy"
)

// Error is the engine's single error type. Message is human-readable;
// Kind is what callers branch on.
type Error struct {
	Kind    Kind
	Message string
	// RelatedID optionally names the entity the error concerns (intent id,
	// position id, market id) for logging/A2A error.data.
	RelatedID string
}

func (e *Error) Error() string {
	if e.RelatedID != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.RelatedID)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New constructs an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf constructs an *Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithRelated attaches a related entity id and returns the same error.
func (e *Error) WithRelated(id string) *Error {
	e.RelatedID = id
	return e
}

// Is reports whether err carries the given Kind. Safe for nil err.
func Is(err error, kind Kind) bool {
	ee, ok := err.(*Error)
	if !ok || ee == nil {
		return false
	}
	return ee.Kind == kind
}

// KindOf extracts the Kind from err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	ee, ok := err.(*Error)
	if !ok || ee == nil {
		return ""
	}
	return ee.Kind
}

// Retryable reports whether the error kind is meant to be retried by its
// caller.
func Retryable(err error) bool {
	return KindOf(err) == Conflict
}
