package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestServiceError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *ServiceError
		expected string
	}{
		{
			name: "error with cause",
			err: &ServiceError{
				Type:      ErrorTypeNetwork,
				Operation: "dial",
				Message:   "receiver unreachable",
				Cause:     errors.New("connection refused"),
			},
			expected: "network operation 'dial' failed: receiver unreachable (caused by: connection refused)",
		},
		{
			name: "error without cause",
			err: &ServiceError{
				Type:      ErrorTypeCodec,
				Operation: "decode",
				Message:   "unknown frame type",
			},
			expected: "codec operation 'decode' failed: unknown frame type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("ServiceError.Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestServiceError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := Wrap(cause, ErrorTypeRedis, "hget", "lookup failed")

	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(%v, cause) = false, want true", err)
	}

	errNoCause := New(ErrorTypeNetwork, "dial", "no cause")
	if unwrapped := errNoCause.Unwrap(); unwrapped != nil {
		t.Errorf("ServiceError.Unwrap() = %v, want nil", unwrapped)
	}
}

func TestServiceError_WithContext(t *testing.T) {
	err := New(ErrorTypeCodec, "decode", "bad frame").
		WithContext("flag", 0x1234).
		WithContext("length", uint32(12))

	if len(err.Context) != 2 {
		t.Errorf("Expected 2 context items, got %d", len(err.Context))
	}

	if err.Context["flag"] != 0x1234 {
		t.Errorf("Expected flag = 0x1234, got %v", err.Context["flag"])
	}
}

func TestNew_Retryability(t *testing.T) {
	tests := []struct {
		errorType ErrorType
		retryable bool
	}{
		{ErrorTypeCodec, false},
		{ErrorTypeUnavailable, true},
		{ErrorTypeConfig, false},
		{ErrorTypeNetwork, true},
		{ErrorTypeRedis, true},
		{ErrorTypeKafka, true},
		{ErrorTypeInflux, false},
		{ErrorTypeValidation, false},
		{ErrorTypeInternal, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.errorType), func(t *testing.T) {
			err := New(tt.errorType, "op", "msg")
			if err.Retryable != tt.retryable {
				t.Errorf("New(%s).Retryable = %v, want %v", tt.errorType, err.Retryable, tt.retryable)
			}
			if err.Timestamp.IsZero() {
				t.Error("Expected timestamp to be set")
			}
		})
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, ErrorTypeNetwork, "op", "msg") != nil {
		t.Error("Expected nil when wrapping nil error")
	}

	// codec errors stay fatal even when the cause looks transient
	err := Wrap(errors.New("connection reset by peer"), ErrorTypeCodec, "decode", "bad frame")
	if err.Retryable {
		t.Error("Expected codec error to not be retryable")
	}

	inner := New(ErrorTypeUnavailable, "submit", "no receiver")
	outer := Wrap(inner, ErrorTypeInternal, "drain", "requeue")
	if !outer.Retryable {
		t.Error("Expected wrapped ServiceError to keep its retryability")
	}
	if !IsType(outer, ErrorTypeInternal) {
		t.Error("Expected outer type to be internal")
	}
}

func TestIsType(t *testing.T) {
	err := fmt.Errorf("connection ended: %w", New(ErrorTypeCodec, "decode", "bad frame"))

	if !IsType(err, ErrorTypeCodec) {
		t.Error("Expected IsType to see through fmt wrapping")
	}

	if IsType(err, ErrorTypeNetwork) {
		t.Error("Expected IsType to return false for non-matching type")
	}

	if IsType(errors.New("plain"), ErrorTypeCodec) {
		t.Error("Expected IsType to return false for regular error")
	}
}

func TestGetContext(t *testing.T) {
	err := New(ErrorTypeConfig, "load", "bad receiver").WithContext("addr", "nope")

	ctx := GetContext(err)
	if ctx["addr"] != "nope" {
		t.Errorf("Expected addr = 'nope', got %v", ctx["addr"])
	}

	if GetContext(errors.New("plain")) != nil {
		t.Error("Expected nil context for regular error")
	}
}

func TestIsRetryableByDefault(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"context canceled", context.Canceled, false},
		{"context timeout", context.DeadlineExceeded, false},
		{"connection refused", errors.New("dial tcp 127.0.0.1:1: connect: connection refused"), true},
		{"connection reset", errors.New("read: connection reset by peer"), true},
		{"broken pipe", errors.New("write: broken pipe"), true},
		{"io timeout", errors.New("read tcp: i/o timeout"), true},
		{"unknown error", errors.New("unknown error"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableByDefault(tt.err); got != tt.expected {
				t.Errorf("isRetryableByDefault() = %v, want %v", got, tt.expected)
			}
		})
	}
}
