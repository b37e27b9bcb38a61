// Package apperr defines the typed error set surfaced by the gateway.
// Every error that reaches a route boundary carries a stable code and an
// HTTP status so handlers can render the JSON envelope without guessing.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is the single error type used across service boundaries.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Details any    `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New creates an Error with an explicit code, message, and HTTP status.
func New(code, message string, status int) *Error {
	return &Error{Code: code, Message: message, Status: status}
}

// WithDetails returns a copy of the error carrying structured details.
func (e *Error) WithDetails(details any) *Error {
	clone := *e
	clone.Details = details
	return &clone
}

// From extracts an *Error from err, or wraps err as an internal error.
func From(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return &Error{Code: "INTERNAL_ERROR", Message: "internal server error", Status: http.StatusInternalServerError}
}

// Validation builds a 400 with per-field details.
func Validation(message string, details any) *Error {
	return &Error{Code: "VALIDATION_ERROR", Message: message, Status: http.StatusBadRequest, Details: details}
}

var (
	ErrUnauthorized       = New("UNAUTHORIZED", "authentication required", http.StatusUnauthorized)
	ErrInvalidToken       = New("INVALID_TOKEN", "invalid or expired token", http.StatusUnauthorized)
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", "invalid username or password", http.StatusUnauthorized)
	ErrInvalidAPIKey      = New("INVALID_API_KEY", "invalid API key", http.StatusUnauthorized)
	ErrInvalidOTP         = New("INVALID_OTP", "invalid one-time code", http.StatusUnauthorized)
	ErrAccountDisabled    = New("ACCOUNT_DISABLED", "account is disabled", http.StatusForbidden)
	ErrAPIKeyDisabled     = New("API_KEY_DISABLED", "API key is disabled", http.StatusForbidden)
	ErrAPIKeyExpired      = New("API_KEY_EXPIRED", "API key has expired", http.StatusForbidden)
	ErrForbidden          = New("FORBIDDEN", "insufficient privileges", http.StatusForbidden)
	ErrGroupForbidden     = New("GROUP_FORBIDDEN", "group is outside the allowed scope", http.StatusForbidden)
	ErrEmailForbidden     = New("EMAIL_FORBIDDEN", "mailbox is outside the allowed scope", http.StatusForbidden)
	ErrNotFound           = New("NOT_FOUND", "resource not found", http.StatusNotFound)
	ErrGroupNotFound      = New("GROUP_NOT_FOUND", "group not found", http.StatusNotFound)
	ErrEmailNotFound      = New("EMAIL_NOT_FOUND", "mailbox not found", http.StatusNotFound)
	ErrDuplicateEmail     = New("DUPLICATE_EMAIL", "mailbox address already exists", http.StatusConflict)
	ErrDuplicateUsername  = New("DUPLICATE_USERNAME", "username already exists", http.StatusConflict)
	ErrGroupExists        = New("GROUP_EXISTS", "group name already exists", http.StatusConflict)
	ErrAlreadyUsed        = New("ALREADY_USED", "mailbox already assigned to this API key", http.StatusConflict)
	ErrConcurrencyLimit   = New("CONCURRENCY_LIMIT", "allocation retries exhausted, try again", http.StatusTooManyRequests)
	ErrRateLimitExceeded  = New("RATE_LIMIT_EXCEEDED", "rate limit exceeded", http.StatusTooManyRequests)
	ErrNoUnusedEmail      = New("NO_UNUSED_EMAIL", "no unused mailbox available", http.StatusBadRequest)
	ErrImapTokenFailed    = New("IMAP_TOKEN_FAILED", "failed to obtain IMAP access token", http.StatusInternalServerError)
	ErrGraphAPIFailed     = New("GRAPH_API_FAILED", "Microsoft Graph request failed", http.StatusInternalServerError)
	ErrCryptoInvalid      = New("CRYPTO_INVALID", "ciphertext is malformed or corrupt", http.StatusInternalServerError)
	ErrTwoFactorInvalid   = New("TWO_FACTOR_SECRET_INVALID", "stored 2FA secret is invalid", http.StatusInternalServerError)
	ErrInternal           = New("INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
)

// AccountLocked builds the 429 returned while a login lock is active.
func AccountLocked(minutesLeft int) *Error {
	return New("ACCOUNT_LOCKED",
		fmt.Sprintf("account locked due to repeated failures, try again in %d minutes", minutesLeft),
		http.StatusTooManyRequests)
}
