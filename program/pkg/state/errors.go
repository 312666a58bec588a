package state

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a rejected transition.
type ErrorKind uint8

const (
	// KindStateMismatch is a transition attempted from the wrong status or sub-status.
	KindStateMismatch ErrorKind = iota + 1
	// KindAuthorizationFailure means the caller is not the expected winner, executor, oracle or admin.
	KindAuthorizationFailure
	// KindArithmeticOverflow is a checked add, multiply or subtract that would overflow or underflow.
	KindArithmeticOverflow
	// KindInvalidCandidate is a claimed (rank, index) or mint that does not match the ranker.
	KindInvalidCandidate
	// KindCapacityExceeded means the slot table is full or a per-participant cap was hit.
	KindCapacityExceeded
	// KindTimingViolation is an action outside its eligible time window.
	KindTimingViolation
	// KindInvalidArgument is malformed instruction input.
	KindInvalidArgument
	// KindPaused means the program is paused by the admin.
	KindPaused
	// KindNotFound means a required record does not exist.
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindStateMismatch:
		return "state_mismatch"
	case KindAuthorizationFailure:
		return "authorization_failure"
	case KindArithmeticOverflow:
		return "arithmetic_overflow"
	case KindInvalidCandidate:
		return "invalid_candidate"
	case KindCapacityExceeded:
		return "capacity_exceeded"
	case KindTimingViolation:
		return "timing_violation"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindPaused:
		return "paused"
	case KindNotFound:
		return "not_found"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Error is returned by every rejected transition. Two errors match under
// errors.Is when their kinds are equal, so callers compare against the
// sentinels below.
type Error struct {
	Kind ErrorKind
	Op   string
	Msg  string
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Msg)
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

var (
	ErrStateMismatch        = &Error{Kind: KindStateMismatch, Msg: "unexpected status"}
	ErrAuthorizationFailure = &Error{Kind: KindAuthorizationFailure, Msg: "unauthorized caller"}
	ErrArithmeticOverflow   = &Error{Kind: KindArithmeticOverflow, Msg: "arithmetic overflow"}
	ErrInvalidCandidate     = &Error{Kind: KindInvalidCandidate, Msg: "candidate mismatch"}
	ErrCapacityExceeded     = &Error{Kind: KindCapacityExceeded, Msg: "capacity exceeded"}
	ErrTimingViolation      = &Error{Kind: KindTimingViolation, Msg: "outside eligible time window"}
	ErrInvalidArgument      = &Error{Kind: KindInvalidArgument, Msg: "invalid argument"}
	ErrPaused               = &Error{Kind: KindPaused, Msg: "program is paused"}
	ErrNotFound             = &Error{Kind: KindNotFound, Msg: "record not found"}
)

// Errorf builds an *Error of the given kind.
func Errorf(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or 0 if err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
