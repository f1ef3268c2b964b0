package transfer

import (
	"errors"
	"fmt"
	"testing"
)

// TestTransportError_Error verifies error message formatting
func TestTransportError_Error(t *testing.T) {
	err := &TransportError{
		Operation: "parse_statements",
		Err:       errors.New("connection refused"),
	}

	expected := "transport error during parse_statements: connection refused"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

// TestTransportError_Unwrap verifies error chain traversal
func TestTransportError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := &TransportError{
		Operation: "parse_statements",
		Err:       cause,
	}

	if unwrapped := errors.Unwrap(err); unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}

	wrapped := fmt.Errorf("context: %w", err)
	if !errors.Is(wrapped, cause) {
		t.Error("errors.Is() should find cause in wrapped chain")
	}
}

// TestAPIError_Error verifies error message formatting
func TestAPIError_Error(t *testing.T) {
	err := &APIError{
		Operation:  "parse_statements",
		StatusCode: 400,
		Detail:     "Only PDF files are accepted",
	}

	expected := "parse service error during parse_statements (HTTP 400): Only PDF files are accepted"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

// TestAPIError_As verifies programmatic error type detection
func TestAPIError_As(t *testing.T) {
	originalErr := &APIError{
		Operation:  "parse_statements",
		StatusCode: 422,
		Detail:     "No transactions detected in the PDF",
	}

	wrapped := fmt.Errorf("context: %w", originalErr)

	var target *APIError
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As() should extract APIError from wrapped chain")
	}

	if target.StatusCode != 422 {
		t.Errorf("StatusCode = %d, want %d", target.StatusCode, 422)
	}
	if target.Detail != "No transactions detected in the PDF" {
		t.Errorf("Detail = %q, want %q", target.Detail, "No transactions detected in the PDF")
	}
}
