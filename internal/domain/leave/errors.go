package leave

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindInvalidRange           ErrorKind = "invalid_range"
	KindOverlappingApproval    ErrorKind = "overlapping_approval"
	KindIllegalTransition      ErrorKind = "illegal_transition"
	KindConcurrentModification ErrorKind = "concurrent_modification"
	KindStoreUnavailable       ErrorKind = "store_unavailable"
	KindNotFound               ErrorKind = "not_found"
	KindInvalidInput           ErrorKind = "invalid_input"
)

// Error is the structured failure returned by every workflow operation.
// Callers branch on Kind with errors.Is against the Err* sentinels or with
// KindOf.
type Error struct {
	Kind    ErrorKind
	Message string
	// Conflict is the approved range that blocked a submission.
	Conflict *DateRange
	// Current is the status observed when a transition was refused.
	Current Status
	Role    string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// Retryable reports whether the same call may succeed unchanged later.
func (e *Error) Retryable() bool {
	return e.Kind == KindStoreUnavailable
}

var (
	ErrInvalidRange           = &Error{Kind: KindInvalidRange}
	ErrOverlappingApproval    = &Error{Kind: KindOverlappingApproval}
	ErrIllegalTransition      = &Error{Kind: KindIllegalTransition}
	ErrConcurrentModification = &Error{Kind: KindConcurrentModification}
	ErrStoreUnavailable       = &Error{Kind: KindStoreUnavailable}
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrInvalidInput           = &Error{Kind: KindInvalidInput}
)

// KindOf returns the kind of a workflow error, or "" for foreign errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func invalidInput(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

func notFound(id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("leave request %s not found", id)}
}

func illegalTransition(current Status, role string, msg string) *Error {
	return &Error{Kind: KindIllegalTransition, Message: msg, Current: current, Role: role}
}

func concurrentModification(id string, current Status) *Error {
	return &Error{
		Kind:    KindConcurrentModification,
		Message: fmt.Sprintf("leave request %s changed to %s while deciding", id, current),
		Current: current,
	}
}
