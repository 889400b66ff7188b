package errors

import (
	"errors"
	"fmt"
)

// ErrCode represents an error code
type ErrCode string

const (
	ErrCodeInvalidParameter    ErrCode = "INVALID_PARAMETER"
	ErrCodeNotFound            ErrCode = "NOT_FOUND"
	ErrCodeDataIntegrity       ErrCode = "DATA_INTEGRITY"
	ErrCodeUpstreamUnavailable ErrCode = "UPSTREAM_UNAVAILABLE"
	ErrCodeInternal            ErrCode = "INTERNAL_ERROR"
	ErrCodeUnauthorized        ErrCode = "UNAUTHORIZED"
	ErrCodeRateLimited         ErrCode = "RATE_LIMITED"
)

// AppError represents an application error
type AppError struct {
	Code    ErrCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewInvalidParameterError creates a new invalid parameter error
func NewInvalidParameterError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeInvalidParameter,
		Message: message,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// NewDataIntegrityError creates an error for an event whose timestamps contradict each other.
// entity and id identify the offending record.
func NewDataIntegrityError(entity string, id int64, reason string) *AppError {
	return &AppError{
		Code:    ErrCodeDataIntegrity,
		Message: fmt.Sprintf("%s %d: %s", entity, id, reason),
	}
}

// NewUpstreamUnavailableError creates a new upstream unavailable error
func NewUpstreamUnavailableError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeUpstreamUnavailable,
		Message: message,
		Err:     err,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeInternal,
		Message: message,
		Err:     err,
	}
}

// NewUnauthorizedError creates a new unauthorized error
func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeUnauthorized,
		Message: message,
	}
}

// NewRateLimitedError creates a new rate limited error
func NewRateLimitedError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeRateLimited,
		Message: message,
	}
}

// CodeOf returns the code of the first AppError in err's chain, or ErrCodeInternal
func CodeOf(err error) ErrCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

func hasCode(err error, code ErrCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsInvalidParameter checks if the error is an invalid parameter error
func IsInvalidParameter(err error) bool {
	return hasCode(err, ErrCodeInvalidParameter)
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsDataIntegrity checks if the error is a data integrity error
func IsDataIntegrity(err error) bool {
	return hasCode(err, ErrCodeDataIntegrity)
}

// IsUpstreamUnavailable checks if the error is an upstream unavailable error
func IsUpstreamUnavailable(err error) bool {
	return hasCode(err, ErrCodeUpstreamUnavailable)
}

// IsRateLimited checks if the error is a rate limited error
func IsRateLimited(err error) bool {
	return hasCode(err, ErrCodeRateLimited)
}

// Retryable reports whether the caller may retry the same request later
func Retryable(err error) bool {
	return IsUpstreamUnavailable(err) || IsRateLimited(err)
}
