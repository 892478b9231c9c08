// Package errors provides the single error convention used across the
// ledger, verifiers and guards. Every rejection is a *PaymentError with a
// stable machine code, so "already processed" is never confusable with
// "verification failed".
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Category represents the category of an error
type Category string

const (
	// CategoryRejection represents a hard per-claim rejection
	CategoryRejection Category = "rejection"
	// CategoryRetryable represents a condition the caller may retry shortly
	CategoryRetryable Category = "retryable"
	// CategoryProvider represents chain RPC / third-party API errors
	CategoryProvider Category = "provider"
	// CategoryDatabase represents account store errors
	CategoryDatabase Category = "database"
	// CategoryValidation represents malformed input
	CategoryValidation Category = "validation"
)

// Stable machine codes for the ledger's rejection taxonomy
const (
	CodeAlreadyProcessed    = "ALREADY_PROCESSED"
	CodeVerificationFailed  = "VERIFICATION_FAILED"
	CodeTxNotFound          = "TX_NOT_FOUND"
	CodeInsufficientCredits = "INSUFFICIENT_CREDITS"
	CodeUnsupportedChain    = "UNSUPPORTED_CHAIN"
	CodeDuplicateSubmission = "DUPLICATE_SUBMISSION"
	CodeAccountNotFound     = "ACCOUNT_NOT_FOUND"
	CodeInvalidClaim        = "INVALID_CLAIM"
	CodeProviderError       = "PROVIDER_ERROR"
	CodeDatabaseError       = "DATABASE_ERROR"
)

// PaymentError represents an error with category, code and HTTP status
type PaymentError struct {
	Category   Category
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *PaymentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *PaymentError) Unwrap() error {
	return e.Cause
}

// Is makes errors.Is match on the machine code
func (e *PaymentError) Is(target error) bool {
	var pe *PaymentError
	if errors.As(target, &pe) {
		return e.Code == pe.Code
	}
	return false
}

// NewAlreadyProcessed reports a natural-key collision. The caller treats it
// as success-no-op, not a failure.
func NewAlreadyProcessed(naturalKey string) *PaymentError {
	return &PaymentError{
		Category:   CategoryRejection,
		StatusCode: http.StatusOK,
		Code:       CodeAlreadyProcessed,
		Message:    fmt.Sprintf("payment %s has already been credited", naturalKey),
		Details:    map[string]interface{}{"naturalKey": naturalKey},
	}
}

// NewVerificationFailed reports a sender/recipient/token/amount mismatch or a
// failed on-chain receipt. Always a hard rejection, never partially credited.
func NewVerificationFailed(reason string, details map[string]interface{}) *PaymentError {
	return &PaymentError{
		Category:   CategoryRejection,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       CodeVerificationFailed,
		Message:    fmt.Sprintf("payment verification failed: %s", reason),
		Details:    details,
	}
}

// NewTxNotFound reports an absent transaction or signature. Retryable: the
// transaction may not yet be indexed by the node.
func NewTxNotFound(txID string) *PaymentError {
	return &PaymentError{
		Category:   CategoryRetryable,
		StatusCode: http.StatusNotFound,
		Code:       CodeTxNotFound,
		Message:    fmt.Sprintf("transaction not found on chain, try again shortly: %s", txID),
		Details:    map[string]interface{}{"txId": txID},
	}
}

// NewInsufficientCredits reports a failed debit precondition with the most
// recently observed balance
func NewInsufficientCredits(required, balance int64) *PaymentError {
	return &PaymentError{
		Category:   CategoryRejection,
		StatusCode: http.StatusPaymentRequired,
		Code:       CodeInsufficientCredits,
		Message:    fmt.Sprintf("insufficient credits: required %d, balance %d", required, balance),
		Details: map[string]interface{}{
			"required": required,
			"balance":  balance,
		},
	}
}

// NewUnsupportedChain reports a claim on a chain the ledger has no verifier for
func NewUnsupportedChain(chainID string) *PaymentError {
	return &PaymentError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       CodeUnsupportedChain,
		Message:    fmt.Sprintf("unsupported chain: %s", chainID),
		Details:    map[string]interface{}{"chainId": chainID},
	}
}

// NewDuplicateSubmission is the advisory guard's rate-limit-style rejection
func NewDuplicateSubmission(retryAfterSeconds int) *PaymentError {
	return &PaymentError{
		Category:   CategoryRejection,
		StatusCode: http.StatusTooManyRequests,
		Code:       CodeDuplicateSubmission,
		Message:    "duplicate submission detected, slow down",
		Details:    map[string]interface{}{"retryAfter": retryAfterSeconds},
	}
}

// NewAccountNotFound reports an unknown account key
func NewAccountNotFound(key string) *PaymentError {
	return &PaymentError{
		Category:   CategoryRejection,
		StatusCode: http.StatusNotFound,
		Code:       CodeAccountNotFound,
		Message:    fmt.Sprintf("account not found: %s", key),
		Details:    map[string]interface{}{"accountKey": key},
	}
}

// NewInvalidClaim reports a malformed inbound claim
func NewInvalidClaim(reason string) *PaymentError {
	return &PaymentError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidClaim,
		Message:    fmt.Sprintf("invalid claim: %s", reason),
	}
}

// NewProviderError reports a chain RPC or third-party API failure
func NewProviderError(provider string, cause error) *PaymentError {
	return &PaymentError{
		Category:   CategoryProvider,
		StatusCode: http.StatusBadGateway,
		Code:       CodeProviderError,
		Message:    fmt.Sprintf("provider error: %s", provider),
		Cause:      cause,
		Details:    map[string]interface{}{"provider": provider},
	}
}

// NewDatabaseError reports an account store failure
func NewDatabaseError(operation string, cause error) *PaymentError {
	return &PaymentError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeDatabaseError,
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details:    map[string]interface{}{"operation": operation},
	}
}

// CodeOf extracts the machine code from any error, defaulting to an internal
// provider code for uncategorized errors
func CodeOf(err error) string {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeProviderError
}

// HTTPStatusOf returns the HTTP status code for an error
func HTTPStatusOf(err error) int {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.StatusCode
	}
	return http.StatusInternalServerError
}

// AsPaymentError extracts the PaymentError from an error chain
func AsPaymentError(err error) (*PaymentError, bool) {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsCode reports whether err carries the given machine code
func IsCode(err error, code string) bool {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

// IsRetryable reports whether the caller may usefully retry
func IsRetryable(err error) bool {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Category == CategoryRetryable || pe.Category == CategoryProvider || pe.Category == CategoryDatabase
	}
	return false
}
