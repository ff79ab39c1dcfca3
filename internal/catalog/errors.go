package catalog

import "github.com/pkg/errors"

// Logical errors returned across the monitor's RPC boundary. Callers
// compare with errors.Is / errors.Cause rather than string matching.
var (
	ErrUnknownFormation         = errors.New("unknown formation")
	ErrUnknownNode              = errors.New("unknown node")
	ErrSystemIdentifierMismatch = errors.New("system identifier mismatch")
	ErrNoWritableNode           = errors.New("group has no writable node right now")
	ErrNodeExists               = errors.New("node already registered")
	ErrInvariantViolation       = errors.New("catalog invariant violation")
)

// wrapf is a small convenience so call sites read like
// "return wrapf(ErrUnknownNode, "node %d", id)" instead of repeating
// errors.Wrapf(ErrUnknownNode, ...) everywhere.
func wrapf(sentinel error, format string, args ...interface{}) error {
	return errors.Wrapf(sentinel, format, args...)
}
