// Package errors defines the sentinel errors shared by the store, index,
// query and aggregation layers, plus an AppError carrying an HTTP status.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrDocumentNotFound  = errors.New("document not found")
	ErrSchemaMismatch    = errors.New("document does not match schema")
	ErrUnknownField      = errors.New("unknown field")
	ErrFieldKind         = errors.New("operator not supported for field kind")
	ErrNotSortable       = errors.New("field is not sortable")
	ErrInvalidPattern    = errors.New("invalid pattern")
	ErrQueryTooExpensive = errors.New("query exceeds scan budget")
	ErrNotReady          = errors.New("index not ready")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInternal          = errors.New("internal error")
	ErrTimeout           = errors.New("operation timed out")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// Is forwards to the standard library so callers only import this package.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnknownField), errors.Is(err, ErrFieldKind),
		errors.Is(err, ErrNotSortable), errors.Is(err, ErrInvalidPattern),
		errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrSchemaMismatch), errors.Is(err, ErrQueryTooExpensive):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrNotReady), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
