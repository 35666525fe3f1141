package common

import (
	"errors"
	"fmt"
)

// ErrKind classifies the failures of the ledger core.
type ErrKind uint32

const (
	// ValidationRejected is returned for invalid data: bad proof, double-spend,
	// oversized block, bad nonce or timestamp. The data is discarded and never
	// retried.
	ValidationRejected ErrKind = iota
	// StoreFailure is an I/O or consistency error on commit. The node halts
	// rather than continue in an inconsistent state.
	StoreFailure
	// StaleTip is an optimistic-concurrency conflict: the ledger tip moved
	// between validation and commit.
	StaleTip
	// PeerMisbehavior marks a peer that sent an invalid chain or a malformed
	// advertisement.
	PeerMisbehavior
	// CapacityExceeded is returned when the mempool is full and the incoming
	// fee is too low.
	CapacityExceeded
)

// String ...
func (k ErrKind) String() string {
	switch k {
	case ValidationRejected:
		return "ValidationRejected"
	case StoreFailure:
		return "StoreFailure"
	case StaleTip:
		return "StaleTip"
	case PeerMisbehavior:
		return "PeerMisbehavior"
	case CapacityExceeded:
		return "CapacityExceeded"
	default:
		return "Unknown"
	}
}

// CoreErr is the error type returned by the consensus, ledger, mempool and sync
// components.
type CoreErr struct {
	Kind  ErrKind
	Msg   string
	Cause error
}

// NewCoreErr ...
func NewCoreErr(kind ErrKind, cause error, format string, args ...interface{}) *CoreErr {
	return &CoreErr{
		Kind:  kind,
		Msg:   fmt.Sprintf(format, args...),
		Cause: cause,
	}
}

// Error ...
func (e *CoreErr) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap ...
func (e *CoreErr) Unwrap() error {
	return e.Cause
}

// Rejected returns a ValidationRejected error.
func Rejected(format string, args ...interface{}) error {
	return NewCoreErr(ValidationRejected, nil, format, args...)
}

// StoreFailed wraps an underlying storage error into a StoreFailure.
func StoreFailed(cause error, format string, args ...interface{}) error {
	return NewCoreErr(StoreFailure, cause, format, args...)
}

// Stale returns a StaleTip error.
func Stale(format string, args ...interface{}) error {
	return NewCoreErr(StaleTip, nil, format, args...)
}

// Misbehaving returns a PeerMisbehavior error, optionally wrapping the
// validation error that triggered it.
func Misbehaving(cause error, format string, args ...interface{}) error {
	return NewCoreErr(PeerMisbehavior, cause, format, args...)
}

// Full returns a CapacityExceeded error.
func Full(format string, args ...interface{}) error {
	return NewCoreErr(CapacityExceeded, nil, format, args...)
}

// Is reports whether err, or any error it wraps, is a CoreErr of the given
// kind. The outermost CoreErr in the chain wins, so a PeerMisbehavior wrapping
// a ValidationRejected is only a PeerMisbehavior.
func Is(err error, kind ErrKind) bool {
	var coreErr *CoreErr
	if errors.As(err, &coreErr) {
		return coreErr.Kind == kind
	}
	return false
}

// KindOf returns the kind of the outermost CoreErr in err's chain, and false if
// there is none.
func KindOf(err error) (ErrKind, bool) {
	var coreErr *CoreErr
	if errors.As(err, &coreErr) {
		return coreErr.Kind, true
	}
	return 0, false
}
