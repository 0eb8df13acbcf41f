// Package errkind classifies node errors into the handful of kinds the
// surrounding components react to, per the error handling design: Invalid,
// Conflict, Missing, Transient, Integrity and Fatal behave differently
// upstream (recorded-as-orphan, stored-pending, retried, repaired, or
// process-terminating) and that behavior is driven off the kind, not the
// concrete error type.
package errkind

import (
	"errors"
	"fmt"
)

// Kind is one of the six error classifications.
type Kind int

const (
	// Invalid covers malformed input, failed signatures, PoW checks,
	// type-mismatched path writes and predicate violations.
	Invalid Kind = iota
	// Conflict covers equivocation, fork rejection and checkpoint-ancestry
	// rejection.
	Conflict
	// Missing covers an absent parent, contract, commit or checkpoint.
	Missing
	// Transient covers timeouts, unavailable peers and closed channels.
	Transient
	// Integrity covers chain breaks, duplicate canonical indices and store
	// corruption.
	Integrity
	// Fatal covers KV open failure and unrecoverable deserialization; the
	// process should terminate.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Invalid:
		return "invalid"
	case Conflict:
		return "conflict"
	case Missing:
		return "missing"
	case Transient:
		return "transient"
	case Integrity:
		return "integrity"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// kindError wraps an underlying error with a Kind, preserving Unwrap so
// errors.Is/As continue to work against the wrapped cause.
type kindError struct {
	kind Kind
	msg  string
	err  error
}

func (e *kindError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *kindError) Unwrap() error { return e.err }

// New builds an error of the given kind with no wrapped cause.
func New(kind Kind, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

// Wrap builds an error of the given kind wrapping err. Returns nil if err is
// nil, matching the teacher's utils.Wrap convention.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, msg: msg, err: err}
}

// Of reports the Kind carried by err, if any, and whether one was found.
func Of(err error) (Kind, bool) {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind, true
	}
	return Invalid, false
}

// Is reports whether err (or a wrapped cause) carries the given Kind.
func Is(err error, kind Kind) bool {
	k, ok := Of(err)
	return ok && k == kind
}
