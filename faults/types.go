package faults

import "errors"

type ErrorCategory string

const (
	AuthorizationGap    ErrorCategory = "AuthorizationGap"
	BackendUnavailable  ErrorCategory = "BackendUnavailable"
	BackendRejected     ErrorCategory = "BackendRejected"
	DuplicateIdentifier ErrorCategory = "DuplicateIdentifier"
	DependencyCycle     ErrorCategory = "DependencyCycle"
	NoProgress          ErrorCategory = "NoProgress"
	InternalError       ErrorCategory = "InternalError"
)

type TypedError struct {
	Category ErrorCategory
	Message  string
	Cause    error
}

func (e *TypedError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Message != "" && e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return string(e.Category)
}

func (e *TypedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func NewTypedError(category ErrorCategory, message string, cause error) *TypedError {
	return &TypedError{
		Category: category,
		Message:  message,
		Cause:    cause,
	}
}

func IsCategory(err error, category ErrorCategory) bool {
	if err == nil {
		return false
	}

	var typedErr *TypedError
	if !errors.As(err, &typedErr) {
		return false
	}
	return typedErr.Category == category
}

// IsRetryable reports whether the error is a transient backend condition
// that the adaptive batch-size mechanism is allowed to retry.
func IsRetryable(err error) bool {
	return IsCategory(err, BackendUnavailable)
}
