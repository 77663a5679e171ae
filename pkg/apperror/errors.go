package apperror

import (
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Validation (VAL) ----

// Validation returns a 400 validation error with a caller-supplied message.
func Validation(message string) *AppError {
	return New("VAL_001", message, http.StatusBadRequest)
}

// ---- Authentication & Authorization (AUTH) ----

// ErrInvalidCredentials is returned for unknown email and wrong password
// alike. The message must never reveal whether the account exists.
func ErrInvalidCredentials() *AppError {
	return New("AUTH_001", "Invalid email or password", http.StatusUnauthorized)
}

func ErrInvalidSession() *AppError {
	return New("AUTH_002", "Invalid or expired session", http.StatusUnauthorized)
}

func ErrInvalidLinkToken() *AppError {
	return New("AUTH_003", "Invalid or expired token", http.StatusUnauthorized)
}

func ErrEmailNotVerified() *AppError {
	return New("AUTH_004", "Email address is not verified", http.StatusForbidden)
}

func ErrAccountSuspended() *AppError {
	return New("AUTH_005", "Account is suspended", http.StatusForbidden)
}

func ErrForbidden() *AppError {
	return New("AUTH_006", "Insufficient permissions", http.StatusForbidden)
}

func ErrInvalidMFACode() *AppError {
	return New("AUTH_007", "Invalid verification code", http.StatusUnauthorized)
}

// ---- Accounts (ACCT) ----

func ErrEmailExists() *AppError {
	return New("ACCT_001", "An account with this email already exists", http.StatusConflict)
}

func ErrNotFound(entity string) *AppError {
	return New("ACCT_002", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrMFANotConfigured() *AppError {
	return New("ACCT_003", "Multi-factor authentication is not set up", http.StatusBadRequest)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Too many attempts, try again later", http.StatusTooManyRequests)
}

// ---- Webhooks (HOOK) ----

// ErrRetryExhausted marks a manual retry against an event that already
// spent its retry budget. The call is a no-op.
func ErrRetryExhausted() *AppError {
	return New("HOOK_001", "Delivery retries exhausted", http.StatusConflict)
}

func ErrDeliveryInProgress() *AppError {
	return New("HOOK_002", "Delivery already in progress", http.StatusConflict)
}

func ErrAlreadyDelivered() *AppError {
	return New("HOOK_003", "Event already delivered", http.StatusConflict)
}

// ---- Billing (BILL) ----

func ErrBillingUnavailable() *AppError {
	return New("BILL_001", "Billing is not available", http.StatusServiceUnavailable)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

// ErrDependencyTimeout marks a transient external-dependency failure.
func ErrDependencyTimeout(err error) *AppError {
	return Wrap("SYS_002", "Upstream dependency timed out", http.StatusServiceUnavailable, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}
