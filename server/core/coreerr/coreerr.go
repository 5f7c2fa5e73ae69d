// Package coreerr implements the error taxonomy from spec §7 as a typed
// result instead of the original C code's elog(ERROR) longjmp. Every core
// package returns *CoreError (or wraps one) rather than panicking, so a
// caller can branch on Kind without string matching.
package coreerr

import "fmt"

// Kind is one of the five error kinds named in spec §7.
type Kind int

const (
	// Transient errors are retryable at the caller's discretion (a buffer
	// read I/O failure, a lock-wait timeout where one applies).
	Transient Kind = iota
	// Contention covers BeingUpdated, Deadlock and NoWait refusals.
	Contention
	// User covers invalid configuration, oversize tuples in a relation
	// without blob support, invalid snapshots, permission denials.
	User
	// Corruption covers checksum mismatches, lock/holder table
	// inconsistency, invalid item ids, out-of-range log blocks.
	Corruption
	// Fatal covers out-of-memory, failed shared-memory attach, oversize
	// transaction-id space, shutdown in progress. Returning a Fatal error
	// does not by itself run any shutdown hooks or stop the process; the
	// hooks run only when System.Shutdown is called.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Contention:
		return "contention"
	case User:
		return "user"
	case Corruption:
		return "corruption"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// CoreError is the concrete error type every core package returns.
type CoreError struct {
	Kind  Kind
	Op    string
	Cause error
}

func (e *CoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *CoreError) Unwrap() error { return e.Cause }

// New constructs a CoreError with no wrapped cause.
func New(kind Kind, op string) *CoreError {
	return &CoreError{Kind: kind, Op: op}
}

// Wrap constructs a CoreError around an existing error.
func Wrap(kind Kind, op string, cause error) *CoreError {
	return &CoreError{Kind: kind, Op: op, Cause: cause}
}

// Is reports whether err is a *CoreError of the given kind.
func Is(err error, kind Kind) bool {
	ce, ok := err.(*CoreError)
	if !ok {
		return false
	}
	return ce.Kind == kind
}
