package keeper

import "github.com/pkg/errors"

// Kind classifies a keeper loop error so Tick knows whether to leave the
// reported state unchanged and retry on the next tick, or to return the
// error and halt the current transition. Grounded on pg_autoctl's distinction between connection
// trouble (retry), authentication/config trouble (needs an operator),
// and genuine invariant violations (must not paper over).
type Kind int

const (
	// KindUnknown is the zero value; treated the same as
	// KindDatabaseOperational (retryable).
	KindUnknown Kind = iota
	// KindTransientNetwork covers connection refused/reset/timeout talking
	// to either the local Postgres or the monitor — always worth retrying.
	KindTransientNetwork
	// KindAuthConfig covers bad credentials, missing pgdata, or malformed
	// configuration — retrying won't help without operator intervention.
	KindAuthConfig
	// KindDatabaseOperational covers a reachable Postgres returning an
	// error on a well-formed query (disk full, replication slot missing).
	KindDatabaseOperational
	// KindInvariantViolation covers the keeper discovering its own local
	// state contradicts what the monitor believes (dual primary, reported
	// system_identifier mismatch) — must halt rather than retry blindly.
	KindInvariantViolation
	// KindMonitorLogical covers the monitor itself rejecting a call with a
	// catalog-level error (unknown node, no writable node).
	KindMonitorLogical
)

func (k Kind) String() string {
	switch k {
	case KindTransientNetwork:
		return "transient_network"
	case KindAuthConfig:
		return "auth_config"
	case KindDatabaseOperational:
		return "database_operational"
	case KindInvariantViolation:
		return "state_invariant_violation"
	case KindMonitorLogical:
		return "monitor_logical_error"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind so callers can branch on
// classification without string matching.
type Error struct {
	Kind  Kind
	cause error
}

func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error {
	return e.cause
}

func wrapErr(kind Kind, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, cause: cause}
}

// classify assigns a Kind to an otherwise untyped error; callers that
// already know the kind should use wrapErr directly instead.
func classify(err error) *Error {
	if err == nil {
		return nil
	}
	var ke *Error
	if errors.As(err, &ke) {
		return ke
	}
	return &Error{Kind: KindUnknown, cause: err}
}

// Retryable reports whether the main loop should keep retrying this error
// on its normal schedule rather than escalating.
func Retryable(err error) bool {
	k := classify(err)
	if k == nil {
		return true
	}
	switch k.Kind {
	case KindTransientNetwork, KindDatabaseOperational, KindMonitorLogical, KindUnknown:
		return true
	default:
		return false
	}
}
