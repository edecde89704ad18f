package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name string
		err  *CacheError
		want string
	}{
		{
			name: "code and message only",
			err:  NewError(ErrCodeInvalidConfig, "bad size"),
			want: "INVALID_CONFIG: bad size",
		},
		{
			name: "with component",
			err:  NewError(ErrCodeBackendUnavailable, "down").WithComponent("l2"),
			want: "[l2] BACKEND_UNAVAILABLE: down",
		},
		{
			name: "with component and operation",
			err:  NewError(ErrCodeConnectionTimeout, "slow").WithComponent("l2").WithOperation("get"),
			want: "[l2:get] CONNECTION_TIMEOUT: slow",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetCategory(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want ErrorCategory
	}{
		{ErrCodeInvalidConfig, CategoryConfiguration},
		{ErrCodeConfigValidation, CategoryConfiguration},
		{ErrCodeInvalidPolicy, CategoryConfiguration},
		{ErrCodeBackendUnavailable, CategoryBackend},
		{ErrCodeConnectionTimeout, CategoryBackend},
		{ErrCodeSerializationFailed, CategorySerialization},
		{ErrCodeChecksumMismatch, CategorySerialization},
		{ErrCodeOperationTimeout, CategoryOperation},
		{ErrCodeInvalidPattern, CategoryOperation},
		{ErrCodeCacheClosed, CategoryState},
		{ErrCodeInternalError, CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := GetCategory(tt.code); got != tt.want {
				t.Errorf("GetCategory(%s) = %s, want %s", tt.code, got, tt.want)
			}
		})
	}
}

func TestWrappingAndUnwrap(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := WrapError(cause, ErrCodeConnectionFailed, "redis unreachable")

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
	if unwrapped := errors.Unwrap(err); unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}
}

func TestIsMatchesByCode(t *testing.T) {
	a := NewError(ErrCodeBackendUnavailable, "one")
	b := NewError(ErrCodeBackendUnavailable, "completely different message")

	if !errors.Is(a, b) {
		t.Error("errors with the same code should match")
	}

	c := NewError(ErrCodeInvalidConfig, "other code")
	if errors.Is(a, c) {
		t.Error("errors with different codes should not match")
	}
}

func TestIsCodeSeesThroughWrapping(t *testing.T) {
	inner := NewError(ErrCodeSerializationFailed, "bad value")
	outer := fmt.Errorf("set failed: %w", inner)

	if !IsCode(outer, ErrCodeSerializationFailed) {
		t.Error("IsCode should find the code through fmt.Errorf wrapping")
	}
	if IsCode(outer, ErrCodeBackendUnavailable) {
		t.Error("IsCode matched a code that is not present")
	}
	if IsCode(nil, ErrCodeInternalError) {
		t.Error("IsCode(nil) should be false")
	}
}

func TestRetryability(t *testing.T) {
	if !IsRetryable(NewError(ErrCodeBackendUnavailable, "down")) {
		t.Error("backend unavailability should be retryable")
	}
	if !IsRetryable(NewError(ErrCodeConnectionTimeout, "slow")) {
		t.Error("timeouts should be retryable")
	}
	if IsRetryable(NewError(ErrCodeInvalidConfig, "bad")) {
		t.Error("configuration errors are not retryable")
	}
	if IsRetryable(fmt.Errorf("plain error")) {
		t.Error("plain errors carry no retryability hint")
	}
}

func TestStringIncludesDetails(t *testing.T) {
	err := NewError(ErrCodeBackendUnavailable, "down").
		WithComponent("l2").
		WithDetail("addr", "localhost:6379")

	s := err.String()
	for _, want := range []string{"BACKEND_UNAVAILABLE", "Component=l2", "addr", "Retryable=true"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() = %s, missing %q", s, want)
		}
	}
}
