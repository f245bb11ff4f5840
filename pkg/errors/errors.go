// Package errors defines the sentinel error kinds shared by the join and
// search components, plus an AppError wrapper that carries an HTTP status for
// the search service.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidInput                   = errors.New("invalid input")
	ErrUnsupportedMeasure             = errors.New("unsupported similarity measure")
	ErrThresholdOutOfRange            = errors.New("similarity threshold out of range")
	ErrUnsupportedMeasureForOperation = errors.New("similarity measure not supported for this operation")
	ErrIndexNotReady                  = errors.New("search index not ready")
	ErrTimeout                        = errors.New("operation timed out")
	ErrInternal                       = errors.New("internal error")
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

// IsValidation reports whether err is one of the input-validation kinds the
// join and search constructors return before doing any work.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrUnsupportedMeasure) ||
		errors.Is(err, ErrThresholdOutOfRange) ||
		errors.Is(err, ErrUnsupportedMeasureForOperation)
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrUnsupportedMeasure),
		errors.Is(err, ErrThresholdOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnsupportedMeasureForOperation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrIndexNotReady), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
