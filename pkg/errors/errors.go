package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError provides a structured error that can be rendered to API consumers.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}

	return e.Message
}

// Unwrap exposes the internal error for errors.Is / errors.As compatibility.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// Is reports whether target is an AppError of the same kind. Messages are ignored so
// callers can match a taxonomy sentinel against a customised instance.
func (e *AppError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*AppError)
	if !ok || t == nil {
		return false
	}
	return e.Code == t.Code
}

// WithInternal returns a copy of the AppError with an attached internal error.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Internal = err
	return &cpy
}

// WithMessage returns a copy of the AppError carrying a more specific message.
func (e *AppError) WithMessage(format string, args ...any) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Message = fmt.Sprintf(format, args...)
	return &cpy
}

// Common errors exposed to the rest of the application.
var (
	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}

	ErrForbidden = &AppError{
		Code:       "FORBIDDEN",
		Message:    "Permission denied",
		StatusCode: http.StatusForbidden,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	ErrInternalServer = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}
)

// Domain taxonomy. Callers distinguish kinds with errors.Is against these sentinels.
var (
	ErrValidation = &AppError{
		Code:       "VALIDATION_ERROR",
		Message:    "Invalid or missing input",
		StatusCode: http.StatusBadRequest,
	}

	ErrConflict = &AppError{
		Code:       "CONFLICT",
		Message:    "Resource already exists",
		StatusCode: http.StatusConflict,
	}

	ErrAuthorization = &AppError{
		Code:       "AUTHORIZATION_ERROR",
		Message:    "Actor is not allowed to perform this operation",
		StatusCode: http.StatusForbidden,
	}

	ErrInvalidState = &AppError{
		Code:       "INVALID_STATE",
		Message:    "Operation not allowed in the current state",
		StatusCode: http.StatusConflict,
	}

	ErrInsufficientBalance = &AppError{
		Code:       "INSUFFICIENT_BALANCE",
		Message:    "Amount exceeds the current balance",
		StatusCode: http.StatusUnprocessableEntity,
	}

	ErrNotOwner = &AppError{
		Code:       "NOT_OWNER",
		Message:    "Actor does not own this credit",
		StatusCode: http.StatusForbidden,
	}

	ErrLedgerTransient = &AppError{
		Code:       "LEDGER_TRANSIENT",
		Message:    "Ledger temporarily unavailable",
		StatusCode: http.StatusServiceUnavailable,
	}

	ErrLedgerPermanent = &AppError{
		Code:       "LEDGER_PERMANENT",
		Message:    "Ledger rejected the transaction",
		StatusCode: http.StatusBadGateway,
	}

	ErrEncoding = &AppError{
		Code:       "ENCODING_ERROR",
		Message:    "Value cannot be serialised",
		StatusCode: http.StatusUnprocessableEntity,
	}
)

// New builds a new application error with the provided metadata.
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap turns any error into an AppError while keeping the original error for logging.
func Wrap(err error, message string) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Internal:   err,
	}
}

// FromError converts a generic error into an AppError, defaulting to ErrInternalServer.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return ErrInternalServer.WithInternal(err)
}

// NewBadRequest wraps validation errors with a helpful message.
func NewBadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrBadRequest.Code,
		Message:    message,
		StatusCode: ErrBadRequest.StatusCode,
	}
}

// Validation builds a VALIDATION_ERROR with a field-specific reason.
func Validation(format string, args ...any) *AppError {
	return ErrValidation.WithMessage(format, args...)
}

// InvalidState builds an INVALID_STATE error with a specific reason.
func InvalidState(format string, args ...any) *AppError {
	return ErrInvalidState.WithMessage(format, args...)
}

// NotFound builds a NOT_FOUND error naming the missing resource.
func NotFound(format string, args ...any) *AppError {
	return ErrNotFound.WithMessage(format, args...)
}

// IsTransient reports whether err is a retryable ledger failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrLedgerTransient)
}
