package transfer

import "fmt"

// TransportError represents failures where the request never produced a
// response: unreachable host, connection reset, timeout.
type TransportError struct {
	Operation string // The operation that failed (e.g., "parse_statements")
	Err       error  // Underlying error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Operation, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// APIError represents a non-2xx response from the parsing service. Detail
// carries the server-reported error string when the body was decodable,
// otherwise a generic fallback.
type APIError struct {
	Operation  string // The operation that failed
	StatusCode int    // HTTP status code of the response
	Detail     string // Server-reported detail, or the generic fallback
}

func (e *APIError) Error() string {
	return fmt.Sprintf("parse service error during %s (HTTP %d): %s", e.Operation, e.StatusCode, e.Detail)
}
