// Package apperr defines the error kinds the services report to callers.
//
// A service returns *Error values; the HTTP layer maps Kind to a status code
// and shows Message to the client. The wrapped cause is for logs only.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is a stable, caller-visible error category.
type Kind string

const (
	KindInvalidInput       Kind = "INVALID_INPUT"
	KindInvalidAmount      Kind = "INVALID_AMOUNT"
	KindConflict           Kind = "CONFLICT"
	KindInvalidCredentials Kind = "INVALID_CREDENTIALS"
	KindInvalidToken       Kind = "INVALID_TOKEN"
	KindNotFound           Kind = "NOT_FOUND"
	KindRecipientNotFound  Kind = "RECIPIENT_NOT_FOUND"
	KindInsufficientFunds  Kind = "INSUFFICIENT_FUNDS"
	KindSelfTransfer       Kind = "SELF_TRANSFER"
	KindRateLimited        Kind = "RATE_LIMITED"
	KindInternal           Kind = "INTERNAL"
)

// Error is a kinded error with a message safe to show to the caller.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// New returns an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap returns an error of the given kind that keeps cause for logging.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// Internal wraps an unexpected failure. The message never includes the cause.
func Internal(cause error) *Error {
	return Wrap(KindInternal, "internal server error", cause)
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind, so
// errors.Is(err, apperr.New(apperr.KindConflict, "")) works regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of err, or KindInternal for anything unkinded.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the caller-facing message for err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "internal server error"
}
