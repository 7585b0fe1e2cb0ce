package internal

import (
	"errors"
	"net/http"
)

var (
	ErrConflict    = errors.New("conflict")
	ErrNotFound    = errors.New("not found")
	ErrPermission  = errors.New("permission denied")
	ErrProvider    = errors.New("fitness provider error")
	ErrTransientIO = errors.New("transient io error")
)

type transientError struct {
	err error
}

func (e *transientError) Error() string        { return "transient io: " + e.err.Error() }
func (e *transientError) Unwrap() error        { return e.err }
func (e *transientError) Is(target error) bool { return target == ErrTransientIO }

// Transient marks a store or network failure as retryable. Errors that already
// belong to the taxonomy pass through unchanged.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{ErrConflict, ErrNotFound, ErrPermission, ErrProvider, ErrTransientIO} {
		if errors.Is(err, known) {
			return err
		}
	}
	return &transientError{err: err}
}

type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *AppError) Error() string { return e.Message }

func NewAppError(code int, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// StatusFor maps the error taxonomy onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrPermission):
		return http.StatusForbidden
	case errors.Is(err, ErrProvider):
		return http.StatusBadGateway
	case errors.Is(err, ErrTransientIO):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
