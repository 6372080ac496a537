package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorType classifies an error for wire-level mapping.
type ErrorType string

const (
	ErrorTypeValidation  ErrorType = "VALIDATION"
	ErrorTypeBusiness    ErrorType = "BUSINESS_REJECTION"
	ErrorTypeNotFound    ErrorType = "NOT_FOUND"
	ErrorTypeForbidden   ErrorType = "FORBIDDEN"
	ErrorTypeUnavailable ErrorType = "UPSTREAM_UNAVAILABLE"
	ErrorTypeInternal    ErrorType = "INTERNAL"
)

// Error codes used across both services.
const (
	CodeMissingField          = "MISSING_FIELD"
	CodeInvalidValue          = "INVALID_VALUE"
	CodeInvalidAmount         = "INVALID_AMOUNT"
	CodeInvalidDelta          = "INVALID_DELTA"
	CodeAccountNotFound       = "ACCOUNT_NOT_FOUND"
	CodeTransactionNotFound   = "TRANSACTION_NOT_FOUND"
	CodeInsufficientFunds     = "INSUFFICIENT_FUNDS"
	CodeLimitExceeded         = "LIMIT_EXCEEDED"
	CodeAccessDenied          = "ACCESS_DENIED"
	CodeInvalidState          = "INVALID_STATE"
	CodeAlreadyReversed       = "ALREADY_REVERSED"
	CodeCannotReverseReversal = "CANNOT_REVERSE_REVERSAL"
	CodeReversalWindowExpired = "REVERSAL_WINDOW_EXPIRED"
	CodeServiceUnavailable    = "SERVICE_UNAVAILABLE"
	CodeStorageError          = "STORAGE_ERROR"
	CodeInternalError         = "INTERNAL_ERROR"
)

// AppError is the application error carried from services to the HTTP layer.
type AppError struct {
	Type       ErrorType
	Code       string
	Message    string
	StatusCode int
	// TransactionID references the affected transaction when one exists,
	// so clients can quote it to support.
	TransactionID string
	Err           error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates an AppError with an explicit status code.
func New(errType ErrorType, code, message string, status int) *AppError {
	return &AppError{Type: errType, Code: code, Message: message, StatusCode: status}
}

// Wrap attaches a cause to a copy of the given AppError.
func Wrap(base *AppError, cause error) *AppError {
	return &AppError{
		Type:          base.Type,
		Code:          base.Code,
		Message:       base.Message,
		StatusCode:    base.StatusCode,
		TransactionID: base.TransactionID,
		Err:           cause,
	}
}

// Validation creates a 400 validation error.
func Validation(code, message string) *AppError {
	return New(ErrorTypeValidation, code, message, http.StatusBadRequest)
}

// Business creates a business rejection with the given status (400 or 409).
func Business(code, message string, status int) *AppError {
	return New(ErrorTypeBusiness, code, message, status)
}

// NotFound creates a 404 error.
func NotFound(code, message string) *AppError {
	return New(ErrorTypeNotFound, code, message, http.StatusNotFound)
}

// Forbidden creates a 403 error.
func Forbidden(message string) *AppError {
	return New(ErrorTypeForbidden, CodeAccessDenied, message, http.StatusForbidden)
}

// Unavailable creates a 503 error.
func Unavailable(message string) *AppError {
	return New(ErrorTypeUnavailable, CodeServiceUnavailable, message, http.StatusServiceUnavailable)
}

// Internal creates a 500 error wrapping its cause. The cause is never
// surfaced to clients.
func Internal(cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       CodeInternalError,
		Message:    "internal server error",
		StatusCode: http.StatusInternalServerError,
		Err:        cause,
	}
}

// Sentinel errors shared by services and repositories.
var (
	ErrNotFound          = NotFound("NOT_FOUND", "entity not found")
	ErrAccountNotFound   = NotFound(CodeAccountNotFound, "account not found")
	ErrInsufficientFunds = Business(CodeInsufficientFunds, "insufficient funds", http.StatusBadRequest)
	ErrDuplicateKey      = errors.New("duplicate key")
)

// AsAppError extracts an AppError from an error chain, if present.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsNotFound reports whether err is a not-found application error.
func IsNotFound(err error) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Type == ErrorTypeNotFound
	}
	return false
}

// ShouldRetry reports whether an operation that failed with err is worth
// retrying. Business and validation errors are final; transport-level
// failures and upstream unavailability are not.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if appErr, ok := AsAppError(err); ok {
		switch appErr.Type {
		case ErrorTypeUnavailable, ErrorTypeInternal:
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// Unclassified errors are treated as transient.
	return true
}
