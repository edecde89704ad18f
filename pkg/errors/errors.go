// Package errors provides a structured error system for tiercache with
// error codes, categories, and context.
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for cache operations.
type ErrorCode string

// Error code constants organized by category.
const (
	// Configuration errors: fatal at construction time.
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeInvalidPolicy    ErrorCode = "INVALID_POLICY"

	// Backend errors: recovered locally, the affected tier degrades to a
	// miss/no-op.
	ErrCodeBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
	ErrCodeConnectionTimeout  ErrorCode = "CONNECTION_TIMEOUT"
	ErrCodeConnectionFailed   ErrorCode = "CONNECTION_FAILED"

	// Encoding errors: surfaced to the caller as a failed set.
	ErrCodeSerializationFailed   ErrorCode = "SERIALIZATION_FAILED"
	ErrCodeDeserializationFailed ErrorCode = "DESERIALIZATION_FAILED"
	ErrCodeChecksumMismatch      ErrorCode = "CHECKSUM_MISMATCH"

	// Operation errors.
	ErrCodeOperationTimeout ErrorCode = "OPERATION_TIMEOUT"
	ErrCodeInvalidPattern   ErrorCode = "INVALID_PATTERN"
	ErrCodeAllTiersFailed   ErrorCode = "ALL_TIERS_FAILED"

	// State errors.
	ErrCodeCacheClosed    ErrorCode = "CACHE_CLOSED"
	ErrCodeNotInitialized ErrorCode = "NOT_INITIALIZED"
	ErrCodeInternalError  ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory groups error codes by operational concern.
type ErrorCategory string

// Error categories.
const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryBackend       ErrorCategory = "backend"
	CategorySerialization ErrorCategory = "serialization"
	CategoryOperation     ErrorCategory = "operation"
	CategoryState         ErrorCategory = "state"
	CategoryInternal      ErrorCategory = "internal"
)

// CacheError represents a structured error with context and metadata.
type CacheError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Cause     error     `json:"-"` // not serialized to avoid circular refs
	Timestamp time.Time `json:"timestamp"`

	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`

	// Retryable hints that the failure is transient and the same call may
	// succeed later.
	Retryable bool `json:"retryable"`
}

// Error implements the error interface.
func (e *CacheError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *CacheError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *CacheError) Is(target error) bool {
	if cacheErr, ok := target.(*CacheError); ok {
		return e.Code == cacheErr.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *CacheError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("CacheError{%s}", strings.Join(parts, ", "))
}

// NewError creates a new cache error with default metadata for the code.
func NewError(code ErrorCode, message string) *CacheError {
	return &CacheError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
		Retryable: IsRetryableByDefault(code),
	}
}

// WrapError wraps an existing error with cache error metadata.
func WrapError(cause error, code ErrorCode, message string) *CacheError {
	err := NewError(code, message)
	err.Cause = cause
	return err
}

// WithComponent attaches the originating component name.
func (e *CacheError) WithComponent(component string) *CacheError {
	e.Component = component
	return e
}

// WithOperation attaches the operation during which the error occurred.
func (e *CacheError) WithOperation(operation string) *CacheError {
	e.Operation = operation
	return e
}

// WithDetail attaches one key/value pair of diagnostic detail.
func (e *CacheError) WithDetail(key string, value interface{}) *CacheError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "INVALID_CONFIG") || strings.HasPrefix(codeStr, "CONFIG_") ||
		strings.HasPrefix(codeStr, "INVALID_POLICY"):
		return CategoryConfiguration
	case strings.HasPrefix(codeStr, "BACKEND_") || strings.HasPrefix(codeStr, "CONNECTION_"):
		return CategoryBackend
	case strings.HasPrefix(codeStr, "SERIALIZATION_") || strings.HasPrefix(codeStr, "DESERIALIZATION_") ||
		strings.HasPrefix(codeStr, "CHECKSUM_"):
		return CategorySerialization
	case strings.HasPrefix(codeStr, "OPERATION_") || strings.HasPrefix(codeStr, "INVALID_PATTERN") ||
		strings.HasPrefix(codeStr, "ALL_TIERS_"):
		return CategoryOperation
	case strings.HasPrefix(codeStr, "CACHE_CLOSED") || strings.HasPrefix(codeStr, "NOT_INITIALIZED"):
		return CategoryState
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error code is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeBackendUnavailable, ErrCodeConnectionTimeout, ErrCodeConnectionFailed,
		ErrCodeOperationTimeout:
		return true
	default:
		return false
	}
}

// IsCode reports whether err (or anything it wraps) is a CacheError with the
// given code.
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		if cacheErr, ok := err.(*CacheError); ok && cacheErr.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// IsRetryable reports whether err carries a retryable cache error.
func IsRetryable(err error) bool {
	for err != nil {
		if cacheErr, ok := err.(*CacheError); ok {
			return cacheErr.Retryable
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
