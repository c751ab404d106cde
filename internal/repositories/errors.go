package repositories

import (
	"errors"
	"fmt"
)

// ErrorCode enumerates store failure causes.
type ErrorCode string

const (
	ErrorUnknown     ErrorCode = "store_unknown"
	ErrorNotFound    ErrorCode = "store_not_found"
	ErrorConflict    ErrorCode = "store_conflict"
	ErrorUnavailable ErrorCode = "store_unavailable"
	// ErrorUsageLimit indicates a coupon usage adjustment crossed its bounds.
	ErrorUsageLimit ErrorCode = "coupon_usage_limit"
)

// StoreError is the RepositoryError produced by store implementations.
type StoreError struct {
	Op      string
	Code    ErrorCode
	Message string
	Err     error
}

var _ RepositoryError = (*StoreError)(nil)

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

// Unwrap exposes the underlying error, if any.
func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *StoreError) IsNotFound() bool { return e != nil && e.Code == ErrorNotFound }

func (e *StoreError) IsConflict() bool {
	return e != nil && (e.Code == ErrorConflict || e.Code == ErrorUsageLimit)
}

func (e *StoreError) IsUnavailable() bool { return e != nil && e.Code == ErrorUnavailable }

// NewStoreError constructs a typed store error.
func NewStoreError(op string, code ErrorCode, message string, err error) *StoreError {
	return &StoreError{Op: op, Code: code, Message: message, Err: err}
}

// NotFound reports a missing entity.
func NotFound(op, message string) *StoreError {
	return NewStoreError(op, ErrorNotFound, message, nil)
}

// Conflict reports a uniqueness or state conflict.
func Conflict(op, message string, err error) *StoreError {
	return NewStoreError(op, ErrorConflict, message, err)
}

// Unavailable reports an infrastructure failure.
func Unavailable(op string, err error) *StoreError {
	return NewStoreError(op, ErrorUnavailable, "store unavailable", err)
}

// IsNotFound reports whether err carries a not-found repository error.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err carries a conflict repository error.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

// IsUsageLimit reports whether err is a coupon usage bound violation.
func IsUsageLimit(err error) bool {
	var storeErr *StoreError
	return errors.As(err, &storeErr) && storeErr.Code == ErrorUsageLimit
}
