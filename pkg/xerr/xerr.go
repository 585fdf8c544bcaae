// Package xerr provides the typed error kinds the tick loop dispatches on.
package xerr

import (
	"errors"
	"fmt"
)

// Kind is one of the five error categories the control loop recognises.
// Each kind maps to a fixed recovery policy; see the tick loop and
// pkg/garden for where that policy is applied.
type Kind string

const (
	// Transient covers serial timeouts, read errors and malformed frames.
	// Policy: drop this operation's result, retry next tick.
	Transient Kind = "transient_serial_fault"

	// IdentityMismatch covers a uuid_response that differs from the
	// recorded UUID for a session. Policy: terminate and re-establish.
	IdentityMismatch Kind = "board_identity_mismatch"

	// Persistence covers a database write failure. Policy: abort the
	// in-flight activation transition and retry next tick; slave
	// connected-flag writes only log and continue.
	Persistence Kind = "persistence_fault"

	// Configuration covers malformed Elements, Rules or Schedules.
	// Policy: the affected Rule/Schedule evaluates false; never aborts
	// the tick.
	Configuration Kind = "configuration_fault"

	// Fatal covers conditions the host cannot recover from: the database
	// can't be opened, ports can't be enumerated. Policy: exit non-zero.
	Fatal Kind = "fatal_host_fault"
)

// Error wraps an underlying cause with a Kind and enough context to log
// usefully, without forcing call sites to build ad hoc error strings.
type Error struct {
	K       Kind
	Op      string
	Subject string // a UUID or port name, whichever is relevant
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%s): %v", e.K, e.Op, e.Subject, e.Err)
	}
	return fmt.Sprintf("%s: %s (%s)", e.K, e.Op, e.Subject)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind.
func New(k Kind, op, subject string, cause error) *Error {
	return &Error{K: k, Op: op, Subject: subject, Err: cause}
}

// KindOf extracts the Kind from err, defaulting to Fatal for unrecognised
// errors so that an unmapped failure fails loud rather than being silently
// swallowed as transient.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.K
	}
	return Fatal
}

// IsTransient reports whether err should be dropped-and-retried-next-tick.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case Transient, IdentityMismatch, Configuration:
		return true
	default:
		return false
	}
}
