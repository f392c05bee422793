package relay

import (
	"github.com/cockroachdb/errors"
)

// Error classes. Errors are marked rather than wrapped so the original
// message and cause chain stay intact.
var (
	// ErrTransient covers failures that resolve by waiting: rate limits,
	// timeouts, overloaded nodes.
	ErrTransient = errors.New("transient")
	// ErrConnectivity is a transient failure where the endpoint itself is unreachable.
	ErrConnectivity = errors.New("connectivity")
	// ErrOutcomeUnknown means an action may or may not have taken effect at the destination.
	ErrOutcomeUnknown = errors.New("action outcome unknown")
	// ErrFatal covers configuration and decode failures that retrying cannot fix.
	ErrFatal = errors.New("fatal")
)

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, ErrTransient)
}

// Connectivity marks err as an unreachable endpoint.
func Connectivity(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Mark(err, ErrConnectivity), ErrTransient)
}

// Fatal marks err as unrecoverable.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, ErrFatal)
}

// IsFatal reports whether err must halt the relay.
func IsFatal(err error) bool { return errors.Is(err, ErrFatal) }

// IsConnectivity reports whether err signals a lost endpoint.
func IsConnectivity(err error) bool { return errors.Is(err, ErrConnectivity) }

// IsTransient reports whether err was explicitly classified as retryable.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrOutcomeUnknown)
}
