package common

import (
	"errors"
	"net/http"
)

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// Validation flags caller mistakes (empty order, mixed currency, below
// minimum, missing credential). Never retried automatically.
func Validation(code, message string) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: http.StatusUnprocessableEntity}
}

// RemoteService wraps a rejection from the payment provider. The provider's
// user-facing message is surfaced when available.
func RemoteService(message string, err error) *AppError {
	if message == "" {
		message = "payment provider rejected the request"
	}
	return &AppError{Code: "PAYMENT_PROVIDER", Message: message, HTTPStatus: http.StatusPaymentRequired, Err: err}
}

// Authentication covers webhook signature failures. The message is kept
// generic so nothing about the verification failure leaks to the caller.
func Authentication(err error) *AppError {
	return &AppError{Code: "INVALID_SIGNATURE", Message: "signature verification failed", HTTPStatus: http.StatusBadRequest, Err: err}
}

// Unexpected covers everything else, including persistence failures after a
// successful remote call. Surfaced as a 5xx and logged with full context.
func Unexpected(err error) *AppError {
	return &AppError{Code: "INTERNAL", Message: "internal error", HTTPStatus: http.StatusInternalServerError, Err: err}
}

// IsAppError checks whether the error is an AppError.
func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}

// WriteError renders err through the canonical error payload, mapping
// unknown errors to a 500 without echoing their detail.
func WriteError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusBadRequest
		}
		code := appErr.Code
		if code == "" {
			code = "BAD_REQUEST"
		}
		JSONError(w, status, code, appErr.Message, appErr.Details)
		return
	}
	JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
}
