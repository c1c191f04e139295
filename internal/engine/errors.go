package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/tokenbot/internal/ir"
)

// Error represents a failed paid action or session step.
//
// Error carries structured fields so the dispatcher can render a precise
// message for each case without parsing strings.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Token identifies the affected session, when known.
	Token string

	// Reason is set for EFFECT_APPLICATION_FAILED.
	Reason ir.FailureReason

	// Balance is the actor's balance for INSUFFICIENT_FUNDS.
	Balance ir.Amount

	// Required is the cost for INSUFFICIENT_FUNDS.
	Required ir.Amount

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes errors.
type ErrorCode string

const (
	// ErrCodeInsufficientFunds indicates the actor cannot pay; nothing changed.
	ErrCodeInsufficientFunds ErrorCode = "INSUFFICIENT_FUNDS"

	// ErrCodeTargetInvalid indicates a missing, self, or absent target.
	ErrCodeTargetInvalid ErrorCode = "TARGET_INVALID"

	// ErrCodeInvalidInput indicates an unparseable or out-of-range parameter.
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// ErrCodeEffectFailed indicates the effect was not applied; the cost was refunded.
	ErrCodeEffectFailed ErrorCode = "EFFECT_APPLICATION_FAILED"

	// ErrCodeAlreadyResolved indicates a repeated confirmation; nothing executed.
	ErrCodeAlreadyResolved ErrorCode = "ALREADY_RESOLVED"

	// ErrCodeStoreUnavailable indicates the ledger failed; no charge persists.
	ErrCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"

	// ErrCodeRefundFailed indicates a compensation could not be written.
	// The ledger needs manual reconciliation.
	ErrCodeRefundFailed ErrorCode = "REFUND_FAILED"

	// ErrCodeSessionClosed indicates an unknown, expired or cancelled token.
	ErrCodeSessionClosed ErrorCode = "SESSION_CLOSED"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Token != "" {
		msg += fmt.Sprintf(" (token=%s)", e.Token)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries code.
// Uses errors.As to handle wrapped errors.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// NewInsufficientFundsError creates an Error for a balance below cost.
func NewInsufficientFundsError(balance, required ir.Amount) *Error {
	return &Error{
		Code:     ErrCodeInsufficientFunds,
		Message:  fmt.Sprintf("balance %s is below cost %s", balance, required),
		Balance:  balance,
		Required: required,
	}
}

// NewTargetInvalidError creates an Error for an unusable target.
func NewTargetInvalidError(message string) *Error {
	return &Error{Code: ErrCodeTargetInvalid, Message: message}
}

// NewInvalidInputError creates an Error for a bad parameter.
func NewInvalidInputError(message string) *Error {
	return &Error{Code: ErrCodeInvalidInput, Message: message}
}

// NewEffectFailedError creates an Error for an effect the applier rejected.
func NewEffectFailedError(reason ir.FailureReason, cause error) *Error {
	return &Error{
		Code:    ErrCodeEffectFailed,
		Message: fmt.Sprintf("effect not applied (%s), cost refunded", reason),
		Reason:  reason,
		Err:     cause,
	}
}

// NewAlreadyResolvedError creates an Error for a repeated confirmation.
func NewAlreadyResolvedError(token string) *Error {
	return &Error{Code: ErrCodeAlreadyResolved, Message: "action already confirmed", Token: token}
}

// NewStoreUnavailableError creates an Error for a ledger failure.
func NewStoreUnavailableError(cause error) *Error {
	return &Error{Code: ErrCodeStoreUnavailable, Message: "ledger unavailable", Err: cause}
}

// NewRefundFailedError creates an Error for a compensation that could not
// be written.
func NewRefundFailedError(userID string, amount ir.Amount, cause error) *Error {
	return &Error{
		Code:    ErrCodeRefundFailed,
		Message: fmt.Sprintf("could not return %s to %s", amount, userID),
		Err:     cause,
	}
}

// NewSessionClosedError creates an Error for a token with no open session.
func NewSessionClosedError(token string) *Error {
	return &Error{Code: ErrCodeSessionClosed, Message: "request expired or was cancelled", Token: token}
}
