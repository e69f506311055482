package vectorindex

import (
	"errors"
	"fmt"
)

const (
	ErrCodeValidationFailed = "validation_failed"
	ErrCodeEncodeFailed     = "encode_failed"
	ErrCodeDecodeFailed     = "decode_failed"
	ErrCodeTransportFailed  = "transport_failed"
	ErrCodeTimeout          = "timeout"
	ErrCodeQueryFailed      = "query_failed"
)

// OperationError carries enough context to log and classify a backend
// failure without string matching: which backend, which operation, the
// backend-assigned code and, for HTTP backends, the status code.
type OperationError struct {
	Backend    string
	Code       string
	Operation  string
	StatusCode int
	Message    string
	Cause      error
}

func (e *OperationError) Error() string {
	msg := fmt.Sprintf("%s %s failed (%s)", e.Backend, e.Operation, e.Code)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s status=%d", msg, e.StatusCode)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *OperationError) Unwrap() error { return e.Cause }

// HTTPStatusCode lets httpx retry classification see the backend status.
func (e *OperationError) HTTPStatusCode() int { return e.StatusCode }

// IsUnavailable reports whether err looks like the index being unreachable
// or overloaded rather than the caller holding bad input. Timeouts,
// transport failures and 5xx/429 query failures count; validation, codec
// and server-rejected-query errors do not.
func IsUnavailable(err error) bool {
	var oe *OperationError
	if !errors.As(err, &oe) {
		return false
	}
	switch oe.Code {
	case ErrCodeTimeout, ErrCodeTransportFailed:
		return true
	case ErrCodeQueryFailed:
		return oe.StatusCode >= 500 || oe.StatusCode == 429
	default:
		return false
	}
}
