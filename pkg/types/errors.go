package types

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the core. Callers inspect them with errors.Is.
var (
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("not found")
	ErrSessionClosed = errors.New("session is closed")
	ErrStore         = errors.New("store error")
)

// Error carries an error kind together with the failing operation
type Error struct {
	Kind    error  // one of the Err* kinds above
	Op      string // e.g. "session.Create", "attendance.Mark"
	Message string
	Err     error // underlying cause, optional
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Unwrap exposes the cause when present, otherwise the kind.
func (e *Error) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is matches against the kind as well as anything in the cause chain.
func (e *Error) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	return e.Err != nil && errors.Is(e.Err, target)
}

// NewValidationError reports malformed caller input
func NewValidationError(op, message string) *Error {
	return &Error{Kind: ErrValidation, Op: op, Message: message}
}

// NewNotFoundError reports an unknown session or record ID
func NewNotFoundError(op, message string) *Error {
	return &Error{Kind: ErrNotFound, Op: op, Message: message}
}

// NewSessionClosedError reports a join against an ended session
func NewSessionClosedError(op, sessionID string) *Error {
	return &Error{Kind: ErrSessionClosed, Op: op, Message: fmt.Sprintf("session %s is not active", sessionID)}
}

// NewStoreError wraps a backing storage failure. Errors that already carry a
// kind are passed through untouched.
func NewStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	return &Error{Kind: ErrStore, Op: op, Message: "storage operation failed", Err: err}
}

// KindOf returns the error kind carried by err, or nil when err is untyped
func KindOf(err error) error {
	for _, kind := range []error{ErrValidation, ErrNotFound, ErrSessionClosed, ErrStore} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
