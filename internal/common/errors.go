package common

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// ErrorType classifies failures per the propagation policy: transient errors
// are retried a bounded number of times and downgrade to row-level failures,
// structural errors abort the current operation, locked-file errors carry a
// specific remedy.
type ErrorType string

const (
	// ErrorTypeConfiguration for configuration-related errors
	ErrorTypeConfiguration ErrorType = "configuration"
	// ErrorTypeStructural for missing sheets/columns or malformed workbooks
	ErrorTypeStructural ErrorType = "structural"
	// ErrorTypeTransient for timeouts and network/navigation failures
	ErrorTypeTransient ErrorType = "transient"
	// ErrorTypeLocked for a workbook held open by another application
	ErrorTypeLocked ErrorType = "locked"
	// ErrorTypeTimeout for bounded waits that expired
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeNotFound for selector candidates that all failed to resolve
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeRejected for element actions the page refused
	ErrorTypeRejected ErrorType = "rejected"
	// ErrorTypeStorage for run-history persistence errors
	ErrorTypeStorage ErrorType = "storage"
	// ErrorTypeInternal for internal system errors
	ErrorTypeInternal ErrorType = "internal"
)

// CollectorError represents a structured error with context
type CollectorError struct {
	Type      ErrorType              `json:"type"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"-"`
}

// Error implements the error interface
func (e *CollectorError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s:%s] %s: %s", e.Type, e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

// Unwrap implements the errors.Unwrap interface
func (e *CollectorError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *CollectorError) WithContext(key string, value interface{}) *CollectorError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCause sets the underlying cause
func (e *CollectorError) WithCause(cause error) *CollectorError {
	e.Cause = cause
	return e
}

// NewError creates a new CollectorError
func NewError(errorType ErrorType, code, message string) *CollectorError {
	return &CollectorError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewConfigurationError creates a configuration error
func NewConfigurationError(code, message string) *CollectorError {
	return NewError(ErrorTypeConfiguration, code, message)
}

// NewStructuralError creates an error for a missing sheet/column or a
// malformed workbook; fatal for the current operation.
func NewStructuralError(code, message string) *CollectorError {
	return NewError(ErrorTypeStructural, code, message)
}

// NewTransientError creates a retryable error
func NewTransientError(code, message string) *CollectorError {
	return NewError(ErrorTypeTransient, code, message)
}

// NewLockedError creates a locked-workbook error
func NewLockedError(code, message string) *CollectorError {
	return NewError(ErrorTypeLocked, code, message)
}

// NewTimeoutError creates a bounded-wait expiry error; the selector list that
// was tried travels in the details.
func NewTimeoutError(code, message string, selectors []string) *CollectorError {
	e := NewError(ErrorTypeTimeout, code, message)
	e.Details = strings.Join(selectors, " || ")
	return e
}

// NewNotFoundError creates an element-resolution error carrying the tried
// selector candidates.
func NewNotFoundError(code, message string, selectors []string) *CollectorError {
	e := NewError(ErrorTypeNotFound, code, message)
	e.Details = strings.Join(selectors, " || ")
	return e
}

// NewStorageError creates a storage error
func NewStorageError(code, message string) *CollectorError {
	return NewError(ErrorTypeStorage, code, message)
}

// NewInternalError creates an internal system error
func NewInternalError(code, message string) *CollectorError {
	return NewError(ErrorTypeInternal, code, message)
}

// WrapError wraps an existing error with CollectorError context
func WrapError(err error, errorType ErrorType, code, message string) *CollectorError {
	return &CollectorError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     err,
	}
}

// transientSignatures are substrings that mark a failure as worth retrying:
// waits that timed out, navigation churn, and network drops as the browser
// reports them.
var transientSignatures = []string{
	"timeout",
	"fast search",
	"internet_disconnected",
	"err_internet_disconnected",
	"err_network_changed",
	"err_connection",
	"net::",
	"navigation",
}

// IsTransient reports whether err looks retryable, either by type or by the
// substring signatures in its text.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *CollectorError
	if errors.As(err, &ce) {
		if ce.Type == ErrorTypeTransient || ce.Type == ErrorTypeTimeout {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, sig := range transientSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// IsLocked reports whether err is the permission-denied class raised when the
// workbook is open in another application.
func IsLocked(err error) bool {
	if err == nil {
		return false
	}

	var ce *CollectorError
	if errors.As(err, &ce) && ce.Type == ErrorTypeLocked {
		return true
	}
	if errors.Is(err, os.ErrPermission) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "permission denied") ||
		strings.Contains(msg, "being used by another process") ||
		strings.Contains(msg, "sharing violation")
}
