// Package apperr defines the error taxonomy shared by the payroll services.
// Handlers map these types onto HTTP statuses; bulk operations fold them into
// per-item result rows instead of aborting the batch.
package apperr

import (
	"errors"
	"fmt"
)

// ValidationError: malformed input, caller's fault, no state was changed.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError: a referenced entity does not exist.
type NotFoundError struct{ Msg string }

func (e *NotFoundError) Error() string { return e.Msg }

func NotFoundf(format string, args ...any) error {
	return &NotFoundError{Msg: fmt.Sprintf(format, args...)}
}

// ConflictError: a state-machine guard was violated, e.g. approving a
// non-pending payment or clocking in twice.
type ConflictError struct{ Msg string }

func (e *ConflictError) Error() string { return e.Msg }

func Conflictf(format string, args ...any) error {
	return &ConflictError{Msg: fmt.Sprintf(format, args...)}
}

// ForbiddenError: cross-company access.
type ForbiddenError struct{ Msg string }

func (e *ForbiddenError) Error() string { return e.Msg }

func Forbiddenf(format string, args ...any) error {
	return &ForbiddenError{Msg: fmt.Sprintf(format, args...)}
}

// SignatureError: webhook authentication failed. The message is generic on
// purpose; callers never learn why verification failed.
type SignatureError struct{}

func (e *SignatureError) Error() string { return "invalid webhook signature" }

// GatewayError: the external payout provider failed. Transient errors are
// eligible for retry or the stuck-payment sweep; structural errors (bad
// request, auth) are not retried automatically.
type GatewayError struct {
	Msg       string
	Transient bool
	Err       error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *GatewayError) Unwrap() error { return e.Err }

// StructuralGateway wraps a gateway rejection that indicates a structural
// problem with the request itself.
func StructuralGateway(msg string, err error) error {
	return &GatewayError{Msg: msg, Err: err}
}

// TransientGateway wraps a gateway failure worth retrying.
func TransientGateway(msg string, err error) error {
	return &GatewayError{Msg: msg, Transient: true, Err: err}
}

func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

func IsConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}

func IsForbidden(err error) bool {
	var e *ForbiddenError
	return errors.As(err, &e)
}

func IsSignature(err error) bool {
	var e *SignatureError
	return errors.As(err, &e)
}

// IsTransientGateway reports whether err is a gateway failure eligible for
// retry.
func IsTransientGateway(err error) bool {
	var e *GatewayError
	return errors.As(err, &e) && e.Transient
}
