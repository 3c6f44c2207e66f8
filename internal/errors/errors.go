// Package errors provides custom error types for the fintrack API.
// All service-layer errors should use AppError to ensure consistent,
// secure error responses that never leak internal details to clients.
package errors

import (
	"errors"
	"net/http"
)

// AppError represents a structured application error with an error code,
// human-readable message, HTTP status code, and optional internal error.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string { return e.Message }

// Unwrap returns the internal error for use with errors.Is/As.
func (e *AppError) Unwrap() error { return e.Internal }

// Wrap creates a new AppError with the same code/message/status but wraps an internal error.
func Wrap(sentinel *AppError, internal error) *AppError {
	return &AppError{
		Code:       sentinel.Code,
		Message:    sentinel.Message,
		StatusCode: sentinel.StatusCode,
		Internal:   internal,
	}
}

// WithMessage creates a new AppError with a custom message.
func WithMessage(sentinel *AppError, message string) *AppError {
	return &AppError{
		Code:       sentinel.Code,
		Message:    message,
		StatusCode: sentinel.StatusCode,
		Internal:   sentinel.Internal,
	}
}

// Authentication & authorization errors.
var (
	ErrUnauthorized       = &AppError{Code: "UNAUTHORIZED", Message: "Authentication required", StatusCode: http.StatusUnauthorized}
	ErrInvalidCredentials = &AppError{Code: "INVALID_CREDENTIALS", Message: "Invalid email or password", StatusCode: http.StatusUnauthorized}
	ErrForbidden          = &AppError{Code: "FORBIDDEN", Message: "Access denied", StatusCode: http.StatusForbidden}
)

// General errors.
var (
	ErrInvalidInput   = &AppError{Code: "INVALID_INPUT", Message: "Invalid input", StatusCode: http.StatusBadRequest}
	ErrNotFound       = &AppError{Code: "NOT_FOUND", Message: "Resource not found", StatusCode: http.StatusNotFound}
	ErrInternalServer = &AppError{Code: "INTERNAL_ERROR", Message: "An internal error occurred", StatusCode: http.StatusInternalServerError}
)

// User errors.
var (
	ErrUserNotFound   = &AppError{Code: "USER_NOT_FOUND", Message: "User not found", StatusCode: http.StatusNotFound}
	ErrDuplicateEmail = &AppError{Code: "DUPLICATE_EMAIL", Message: "A user with this email already exists", StatusCode: http.StatusConflict}
)

// Account errors.
var (
	ErrAccountNotFound = &AppError{Code: "ACCOUNT_NOT_FOUND", Message: "Account not found", StatusCode: http.StatusNotFound}
)

// Category errors.
var (
	ErrCategoryNotFound = &AppError{Code: "CATEGORY_NOT_FOUND", Message: "Category not found", StatusCode: http.StatusNotFound}
	ErrCategoryInUse    = &AppError{Code: "CATEGORY_IN_USE", Message: "Category is used by existing transactions", StatusCode: http.StatusConflict}
)

// Transaction errors.
var (
	ErrTransactionNotFound    = &AppError{Code: "TRANSACTION_NOT_FOUND", Message: "Transaction not found", StatusCode: http.StatusNotFound}
	ErrInvalidTransactionType = &AppError{Code: "INVALID_TRANSACTION_TYPE", Message: "Unsupported transaction type", StatusCode: http.StatusBadRequest}
)

// Budget errors.
var (
	ErrBudgetNotFound = &AppError{Code: "BUDGET_NOT_FOUND", Message: "Budget not found", StatusCode: http.StatusNotFound}
)

// Item & sync errors. These map the aggregator failure taxonomy:
// AGGREGATOR_UNAVAILABLE is retryable, REAUTH_REQUIRED and
// BANK_CREDENTIALS_INVALID need the user to relink, MALFORMED_PAGE
// rolls back the whole page it arrived in.
var (
	ErrItemNotFound           = &AppError{Code: "ITEM_NOT_FOUND", Message: "Linked item not found", StatusCode: http.StatusNotFound}
	ErrItemAlreadyLinked      = &AppError{Code: "ITEM_ALREADY_LINKED", Message: "This bank connection is already linked", StatusCode: http.StatusConflict}
	ErrAggregatorUnavailable  = &AppError{Code: "AGGREGATOR_UNAVAILABLE", Message: "Bank data provider is temporarily unavailable", StatusCode: http.StatusServiceUnavailable}
	ErrReauthRequired         = &AppError{Code: "REAUTH_REQUIRED", Message: "Bank login required", StatusCode: http.StatusUnauthorized}
	ErrBankCredentialsInvalid = &AppError{Code: "BANK_CREDENTIALS_INVALID", Message: "Invalid bank credentials", StatusCode: http.StatusUnauthorized}
	ErrMalformedPage          = &AppError{Code: "MALFORMED_PAGE", Message: "Aggregator returned an invalid transaction page", StatusCode: http.StatusBadGateway}
	ErrSyncFailed             = &AppError{Code: "SYNC_FAILED", Message: "Transaction sync failed", StatusCode: http.StatusBadGateway}
	ErrItemNotHealthy         = &AppError{Code: "ITEM_NOT_HEALTHY", Message: "Item requires re-authentication before it can sync", StatusCode: http.StatusConflict}
)

// IsRetryable reports whether err is a sync failure the caller may
// safely retry verbatim (the cursor was left at its last durable value).
func IsRetryable(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrAggregatorUnavailable.Code
}
