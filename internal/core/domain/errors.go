package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a business logic error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches any DomainError carrying the same code, so sentinels work with errors.Is.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && t.Code == e.Code
}

const (
	ErrCodeNotFound              = "NOT_FOUND"
	ErrCodeForbidden             = "FORBIDDEN"
	ErrCodeAmountMismatch        = "AMOUNT_MISMATCH"
	ErrCodeDirectionMismatch     = "DIRECTION_MISMATCH"
	ErrCodeIdentityMismatch      = "IDENTITY_MISMATCH"
	ErrCodeInvalidTransition     = "INVALID_TRANSITION"
	ErrCodeTransactionIDConflict = "TRANSACTION_ID_CONFLICT"
	ErrCodeLockContention        = "LOCK_CONTENTION"
	ErrCodeUpstreamUnavailable   = "UPSTREAM_UNAVAILABLE"
	ErrCodeSignatureInvalid      = "SIGNATURE_INVALID"
	ErrCodeReplayDetected        = "REPLAY_DETECTED"

	ErrCodeInvalidInput          = "INVALID_INPUT"
	ErrCodeMissingHeader         = "MISSING_HEADER"
	ErrCodeUnknownEvent          = "UNKNOWN_EVENT"
	ErrCodeUnverifiedTransaction = "UNVERIFIED_TRANSACTION"
)

var (
	ErrNotFound              = &DomainError{Code: ErrCodeNotFound, Message: "not found"}
	ErrForbidden             = &DomainError{Code: ErrCodeForbidden, Message: "forbidden"}
	ErrAmountMismatch        = &DomainError{Code: ErrCodeAmountMismatch, Message: "amount mismatch"}
	ErrDirectionMismatch     = &DomainError{Code: ErrCodeDirectionMismatch, Message: "direction mismatch"}
	ErrIdentityMismatch      = &DomainError{Code: ErrCodeIdentityMismatch, Message: "identity mismatch"}
	ErrInvalidTransition     = &DomainError{Code: ErrCodeInvalidTransition, Message: "invalid state transition"}
	ErrTransactionIDConflict = &DomainError{Code: ErrCodeTransactionIDConflict, Message: "transaction id conflict"}
	ErrLockContention        = &DomainError{Code: ErrCodeLockContention, Message: "payment is being processed, retry later"}
	ErrUpstreamUnavailable   = &DomainError{Code: ErrCodeUpstreamUnavailable, Message: "payment platform unavailable"}
	ErrSignatureInvalid      = &DomainError{Code: ErrCodeSignatureInvalid, Message: "invalid signature"}
	ErrReplayDetected        = &DomainError{Code: ErrCodeReplayDetected, Message: "stale or replayed notification"}

	ErrInvalidInput          = &DomainError{Code: ErrCodeInvalidInput, Message: "invalid input"}
	ErrMissingHeader         = &DomainError{Code: ErrCodeMissingHeader, Message: "missing required header"}
	ErrUnknownEvent          = &DomainError{Code: ErrCodeUnknownEvent, Message: "unknown event type"}
	ErrUnverifiedTransaction = &DomainError{Code: ErrCodeUnverifiedTransaction, Message: "transaction not verified by platform"}
)

func NewNotFoundError(what string) *DomainError {
	return &DomainError{Code: ErrCodeNotFound, Message: what + " not found"}
}

func NewForbiddenError() *DomainError {
	return &DomainError{Code: ErrCodeForbidden, Message: "payment does not belong to the requesting user"}
}

func NewInvalidTransitionError(from, to PaymentStatus) *DomainError {
	return &DomainError{
		Code:    ErrCodeInvalidTransition,
		Message: fmt.Sprintf("cannot transition from %s to %s", from, to),
	}
}

func NewAmountMismatchError(local, remote string) *DomainError {
	return &DomainError{
		Code:    ErrCodeAmountMismatch,
		Message: fmt.Sprintf("platform amount %s does not match local amount %s", remote, local),
	}
}

func NewDirectionMismatchError(direction string) *DomainError {
	return &DomainError{
		Code:    ErrCodeDirectionMismatch,
		Message: fmt.Sprintf("unexpected payment direction %q", direction),
	}
}

func NewIdentityMismatchError(msg string) *DomainError {
	return &DomainError{Code: ErrCodeIdentityMismatch, Message: msg}
}

func NewTransactionIDConflictError(stored, claimed string) *DomainError {
	return &DomainError{
		Code:    ErrCodeTransactionIDConflict,
		Message: fmt.Sprintf("payment already settled by transaction %s, got %s", stored, claimed),
	}
}

func NewUpstreamUnavailableError(err error) *DomainError {
	return &DomainError{Code: ErrCodeUpstreamUnavailable, Message: "payment platform unavailable", Err: err}
}

func NewInvalidInputError(msg string) *DomainError {
	return &DomainError{Code: ErrCodeInvalidInput, Message: msg}
}

func NewMissingHeaderError(header string) *DomainError {
	return &DomainError{Code: ErrCodeMissingHeader, Message: "missing header " + header}
}

// IsErrorCode reports whether err carries a DomainError with the given code.
func IsErrorCode(err error, code string) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// IsFraud reports whether err is one of the fraud-prevention rejections.
func IsFraud(err error) bool {
	return errors.Is(err, ErrAmountMismatch) ||
		errors.Is(err, ErrDirectionMismatch) ||
		errors.Is(err, ErrIdentityMismatch)
}
