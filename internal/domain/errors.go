package domain

import (
	"errors"
	"fmt"
)

// Stable error kinds exposed to API callers.
const (
	KindNotFound         = "NotFoundError"
	KindValidation       = "ValidationError"
	KindCapacityExceeded = "CapacityExceededError"
	KindNothingToSettle  = "NothingToSettleError"
	KindConflict         = "ConflictError"
	KindPersistence      = "PersistenceError"
)

type NotFoundError struct {
	Resource string
	ID       any
	Err      error
}

func (e NotFoundError) Error() string {
	switch {
	case e.Resource == "":
		return "not found"
	case e.ID == nil:
		return fmt.Sprintf("%s not found", e.Resource)
	default:
		return fmt.Sprintf("%s %v not found", e.Resource, e.ID)
	}
}

func (e NotFoundError) Unwrap() error { return e.Err }

type ValidationError struct {
	Field string
	Msg   string
	Err   error
}

func (e ValidationError) Error() string {
	if e.Msg != "" && e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Msg)
	}
	if e.Msg != "" {
		return e.Msg
	}
	if e.Field != "" {
		return fmt.Sprintf("invalid %s", e.Field)
	}
	return "validation error"
}

func (e ValidationError) Unwrap() error { return e.Err }

// CapacityExceededError carries the seats still free so the caller can retry
// with a smaller party or another date.
type CapacityExceededError struct {
	TourID    int64
	Date      string
	Requested int
	Remaining int
}

func (e CapacityExceededError) Error() string {
	return fmt.Sprintf("tour %d on %s has %d spots left, %d requested", e.TourID, e.Date, e.Remaining, e.Requested)
}

type NothingToSettleError struct {
	MerchantID  int64
	PeriodStart string
	PeriodEnd   string
}

func (e NothingToSettleError) Error() string {
	return fmt.Sprintf("merchant %d has no eligible bookings between %s and %s", e.MerchantID, e.PeriodStart, e.PeriodEnd)
}

// ConflictError means a concurrent writer won a race. Callers may retry.
type ConflictError struct {
	Resource string
	Msg      string
	Err      error
}

func (e ConflictError) Error() string {
	switch {
	case e.Msg != "" && e.Resource != "":
		return fmt.Sprintf("%s conflict: %s", e.Resource, e.Msg)
	case e.Msg != "":
		return e.Msg
	case e.Resource != "":
		return fmt.Sprintf("%s conflict", e.Resource)
	default:
		return "conflict"
	}
}

func (e ConflictError) Unwrap() error { return e.Err }

// PersistenceError wraps a datastore failure. Transient marks timeouts and
// similar failures that share the conflict retry policy.
type PersistenceError struct {
	Op        string
	Transient bool
	Err       error
}

func (e PersistenceError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("persistence failure: %v", e.Err)
	}
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e PersistenceError) Unwrap() error { return e.Err }

func IsNotFound(err error) bool {
	var target NotFoundError
	return errors.As(err, &target)
}

func IsValidation(err error) bool {
	var target ValidationError
	return errors.As(err, &target)
}

func IsCapacityExceeded(err error) bool {
	var target CapacityExceededError
	return errors.As(err, &target)
}

func IsNothingToSettle(err error) bool {
	var target NothingToSettleError
	return errors.As(err, &target)
}

func IsConflict(err error) bool {
	var target ConflictError
	return errors.As(err, &target)
}

func IsPersistence(err error) bool {
	var target PersistenceError
	return errors.As(err, &target)
}

// IsRetryable reports whether err should go through the bounded retry loop.
func IsRetryable(err error) bool {
	if IsConflict(err) {
		return true
	}
	var pe PersistenceError
	return errors.As(err, &pe) && pe.Transient
}

// Kind returns the stable kind string of err, PersistenceError for unknown errors.
func Kind(err error) string {
	switch {
	case IsNotFound(err):
		return KindNotFound
	case IsValidation(err):
		return KindValidation
	case IsCapacityExceeded(err):
		return KindCapacityExceeded
	case IsNothingToSettle(err):
		return KindNothingToSettle
	case IsConflict(err):
		return KindConflict
	default:
		return KindPersistence
	}
}
