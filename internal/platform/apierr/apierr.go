package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error carries the failure kind of a pipeline operation together with the
// HTTP status the handler layer should map it to. Kinds are stable strings;
// callers branch on Code, never on the wrapped error text.
type Error struct {
	Status int
	Code   string
	Err    error
}

const (
	CodeInvalidInput           = "invalid_input"
	CodeUnauthorized           = "unauthorized"
	CodeNotFound               = "not_found"
	CodeEmbeddingUnavailable   = "embedding_unavailable"
	CodeVectorIndexUnavailable = "vector_index_unavailable"
	CodePartialIngestFailure   = "partial_ingest_failure"
	CodeDeletionIncomplete     = "deletion_incomplete"
	CodeInternal               = "internal"
)

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

func InvalidInput(err error) *Error {
	return New(http.StatusBadRequest, CodeInvalidInput, err)
}

func Unauthorized(err error) *Error {
	return New(http.StatusUnauthorized, CodeUnauthorized, err)
}

// NotFound is the single kind for both "row absent" and "row owned by
// another user" so that responses never leak existence across tenants.
func NotFound(err error) *Error {
	return New(http.StatusNotFound, CodeNotFound, err)
}

func EmbeddingUnavailable(err error) *Error {
	return New(http.StatusServiceUnavailable, CodeEmbeddingUnavailable, err)
}

func VectorIndexUnavailable(err error) *Error {
	return New(http.StatusServiceUnavailable, CodeVectorIndexUnavailable, err)
}

func PartialIngestFailure(err error) *Error {
	return New(http.StatusInternalServerError, CodePartialIngestFailure, err)
}

func DeletionIncomplete(err error) *Error {
	return New(http.StatusInternalServerError, CodeDeletionIncomplete, err)
}

func Internal(err error) *Error {
	return New(http.StatusInternalServerError, CodeInternal, err)
}

// CodeOf reports the kind of err, or CodeInternal when err carries none.
func CodeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) && ae.Code != "" {
		return ae.Code
	}
	return CodeInternal
}

func StatusOf(err error) int {
	var ae *Error
	if errors.As(err, &ae) && ae.Status != 0 {
		return ae.Status
	}
	return http.StatusInternalServerError
}

func IsKind(err error, code string) bool {
	return CodeOf(err) == code
}
