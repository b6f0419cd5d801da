package ferrors

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewError(t *testing.T) {
	tests := []struct {
		name     string
		code     ErrorCode
		message  string
		expected string
	}{
		{
			name:     "creates error with code and message",
			code:     CodeDuplicateID,
			message:  "correlation id already exists",
			expected: "correlation id already exists",
		},
		{
			name:     "creates error with internal code",
			code:     CodeInternal,
			message:  "internal server error",
			expected: "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message)

			if err.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, err.Code)
			}
			if err.Message != tt.expected {
				t.Errorf("expected message %s, got %s", tt.expected, err.Message)
			}
			if err.StackTrace == "" {
				t.Error("expected stack trace to be captured")
			}
		})
	}
}

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name     string
		err      *RicochetError
		expected string
	}{
		{
			name: "formats error with code",
			err: &RicochetError{
				Code:    CodeMalformedRequest,
				Message: "could not decode request body",
			},
			expected: "[MALFORMED_REQUEST] could not decode request body",
		},
		{
			name: "formats error with wrapped error",
			err: &RicochetError{
				Code:    CodeStorageError,
				Message: "insert failed",
				Cause:   errors.New("database is locked"),
			},
			expected: "[STORAGE_ERROR] insert failed: database is locked",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.err.Error()
			if result != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, result)
			}
		})
	}
}

func TestWrapError(t *testing.T) {
	originalErr := errors.New("connection refused")

	wrapped := Wrap(originalErr, CodeConnectionError, "failed to reach target")

	if wrapped.Code != CodeConnectionError {
		t.Errorf("expected code %s, got %s", CodeConnectionError, wrapped.Code)
	}
	if !strings.Contains(wrapped.Error(), "failed to reach target") {
		t.Error("expected wrapped message in error string")
	}
	if !strings.Contains(wrapped.Error(), "connection refused") {
		t.Error("expected original error in error string")
	}
	if !errors.Is(wrapped, originalErr) {
		t.Error("expected wrapped error to match original with errors.Is")
	}
}

func TestErrorMetadata(t *testing.T) {
	err := New(CodeTimeoutError, "request to target timed out")

	err = err.WithMetadata("target_url", "http://t.example/search")
	err = err.WithMetadata("timeout_seconds", 10)

	if err.Metadata["target_url"] != "http://t.example/search" {
		t.Error("expected metadata to contain target_url")
	}
	if err.Metadata["timeout_seconds"] != 10 {
		t.Error("expected metadata to contain timeout_seconds")
	}

	err = err.WithRequestID("req-123")
	if err.RequestID != "req-123" {
		t.Errorf("expected request ID req-123, got %s", err.RequestID)
	}

	retryAfter := 5 * time.Second
	err = err.WithRetryAfter(retryAfter)
	if *err.RetryAfter != retryAfter {
		t.Errorf("expected retry after %v, got %v", retryAfter, *err.RetryAfter)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{
			name:      "timeout error is retryable",
			err:       &RicochetError{Code: CodeTimeoutError, Retryable: true},
			retryable: true,
		},
		{
			name:      "connection error is retryable",
			err:       &RicochetError{Code: CodeConnectionError, Retryable: true},
			retryable: true,
		},
		{
			name:      "duplicate id is not retryable",
			err:       &RicochetError{Code: CodeDuplicateID, Retryable: false},
			retryable: false,
		},
		{
			name:      "nil error is not retryable",
			err:       nil,
			retryable: false,
		},
		{
			name:      "standard error is not retryable",
			err:       errors.New("standard error"),
			retryable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsRetryable(tt.err)
			if result != tt.retryable {
				t.Errorf("expected retryable=%v, got %v", tt.retryable, result)
			}
		})
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorCode
	}{
		{
			name:     "gets code from RicochetError",
			err:      New(CodeDuplicateID, "already exists"),
			expected: CodeDuplicateID,
		},
		{
			name:     "returns unknown for standard error",
			err:      errors.New("standard error"),
			expected: CodeUnknown,
		},
		{
			name:     "returns unknown for nil",
			err:      nil,
			expected: CodeUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := GetCode(tt.err)
			if result != tt.expected {
				t.Errorf("expected code %s, got %s", tt.expected, result)
			}
		})
	}
}

func TestErrorSeverity(t *testing.T) {
	tests := []struct {
		name     string
		severity Severity
		expected string
	}{
		{name: "debug severity", severity: SeverityDebug, expected: "DEBUG"},
		{name: "info severity", severity: SeverityInfo, expected: "INFO"},
		{name: "warning severity", severity: SeverityWarning, expected: "WARNING"},
		{name: "error severity", severity: SeverityError, expected: "ERROR"},
		{name: "critical severity", severity: SeverityCritical, expected: "CRITICAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.severity.String()
			if result != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, result)
			}
		})
	}
}

func TestErrorHandler(t *testing.T) {
	var capturedError *RicochetError
	var capturedPanic any
	var capturedStack string

	handler := &ErrorHandler{
		RequestID: "test-request-123",
		OnError: func(err *RicochetError) {
			capturedError = err
		},
		OnPanic: func(recovered any, stack string) {
			capturedPanic = recovered
			capturedStack = stack
		},
	}

	testErr := New(CodeInternal, "test error")
	handler.Handle(testErr)

	if capturedError == nil {
		t.Fatal("expected error to be captured")
	}
	if capturedError.RequestID != "test-request-123" {
		t.Errorf("expected request ID to be set, got %s", capturedError.RequestID)
	}

	func() {
		defer handler.HandlePanic()
		panic("test panic")
	}()

	if capturedPanic == nil {
		t.Fatal("expected panic to be captured")
	}
	if capturedPanic != "test panic" {
		t.Errorf("expected panic message 'test panic', got %v", capturedPanic)
	}
	if capturedStack == "" {
		t.Error("expected stack trace to be captured")
	}
}

func TestContextWithError(t *testing.T) {
	ctx := context.Background()
	err := New(CodeTimeoutError, "operation timed out")

	ctx = WithError(ctx, err)
	retrieved := GetError(ctx)

	if retrieved == nil {
		t.Fatal("expected error to be retrieved from context")
	}
	if retrieved.Code != CodeTimeoutError {
		t.Errorf("expected code %s, got %s", CodeTimeoutError, retrieved.Code)
	}

	emptyCtx := context.Background()
	if GetError(emptyCtx) != nil {
		t.Error("expected nil error from empty context")
	}
}

func TestAs(t *testing.T) {
	originalErr := &RicochetError{
		Code:    CodeDuplicateID,
		Message: "already exists",
	}

	wrapped := Wrap(originalErr, CodeInternal, "wrapped")

	var ricochetErr *RicochetError
	if !As(wrapped, &ricochetErr) {
		t.Error("expected As to return true for RicochetError")
	}
	if ricochetErr.Code != CodeInternal {
		t.Errorf("expected wrapped error code, got %s", ricochetErr.Code)
	}

	stdErr := errors.New("standard error")
	if As(stdErr, &ricochetErr) {
		t.Error("expected As to return false for standard error")
	}
}

func TestIs(t *testing.T) {
	err1 := New(CodeDuplicateID, "already exists")
	err2 := New(CodeDuplicateID, "also already exists")

	if !Is(err1, err1) {
		t.Error("expected Is to return true for same instance")
	}
	if !Is(err1, err2) {
		t.Error("expected Is to return true for errors with same code")
	}

	wrapped := Wrap(err1, CodeInternal, "wrapped")
	if !Is(wrapped, err1) {
		t.Error("expected Is to return true for wrapped error")
	}
}

func TestStackTraceCapture(t *testing.T) {
	err := New(CodeInternal, "test error")

	if err.StackTrace == "" {
		t.Fatal("expected stack trace to be captured")
	}
	if !strings.Contains(err.StackTrace, "TestStackTraceCapture") {
		t.Error("expected stack trace to contain test function name")
	}
	if !strings.Contains(err.StackTrace, "errors_test.go") {
		t.Error("expected stack trace to contain test file name")
	}
}

func TestErrorChaining(t *testing.T) {
	err1 := errors.New("database connection failed")
	err2 := Wrap(err1, CodeConnectionError, "store unreachable")
	err3 := Wrap(err2, CodeInternal, "injection failed")

	if !errors.Is(err3, err1) {
		t.Error("expected error chain to contain original error")
	}

	errStr := err3.Error()
	if !strings.Contains(errStr, "injection failed") {
		t.Error("expected error string to contain injection failed")
	}
	if !strings.Contains(errStr, "store unreachable") {
		t.Error("expected error string to contain store unreachable")
	}
	if !strings.Contains(errStr, "database connection failed") {
		t.Error("expected error string to contain database error")
	}
}

func TestConcurrentErrorHandling(t *testing.T) {
	handler := &ErrorHandler{
		OnError: func(err *RicochetError) {},
	}

	done := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		go func(id int) {
			err := Newf(CodeInternal, "error %d", id)
			handler.Handle(err)
			done <- true
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}

func BenchmarkNewError(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = New(CodeInternal, "benchmark error")
	}
}

func BenchmarkWrapError(b *testing.B) {
	baseErr := errors.New("base error")
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_ = Wrap(baseErr, CodeInternal, "wrapped error")
	}
}

func BenchmarkIsRetryable(b *testing.B) {
	err := New(CodeTimeoutError, "timeout")
	err.Retryable = true
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_ = IsRetryable(err)
	}
}

func BenchmarkStackTraceCapture(b *testing.B) {
	for i := 0; i < b.N; i++ {
		err := New(CodeInternal, "error with stack")
		_ = err.StackTrace
	}
}
