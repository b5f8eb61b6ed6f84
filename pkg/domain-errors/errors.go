// Package domainerrors provides coded errors for the treasury domain.
// Services return these so transports can map failures to responses without
// string matching, and tests can assert on codes rather than messages.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a domain failure. Every rejected operation carries exactly
// one code; a failed operation never leaves partial state behind.
type Code string

const (
	// Authorization failures.
	CodeUnauthorized Code = "unauthorized"
	CodeNotProposer  Code = "not_proposer"

	// State failures.
	CodeNotPending      Code = "not_pending"
	CodeNotApproved     Code = "not_approved"
	CodeProposalExpired Code = "proposal_expired"
	CodeTimelockActive  Code = "timelock_active"
	CodeNotFound        Code = "not_found"

	// Validation failures.
	CodeInvalidAddress      Code = "invalid_address"
	CodeInvalidAmount       Code = "invalid_amount"
	CodeEmptyDescription    Code = "empty_description"
	CodeAlreadyVoted        Code = "already_voted"
	CodeInsufficientSupport Code = "insufficient_support"

	// Resource failures.
	CodeInsufficientFunds   Code = "insufficient_funds"
	CodeInsufficientBalance Code = "insufficient_balance"

	// External-call failures. These propagate as hard failures of the whole
	// operation; the execution engine rolls back its state change first.
	CodeTransferFailed  Code = "transfer_failed"
	CodeExecutionFailed Code = "execution_failed"

	// Operational failures.
	CodeSystemPaused Code = "system_paused"

	// Transport-level failures.
	CodeBadRequest Code = "bad_request"
	CodeInternal   Code = "internal"
)

// Error is a coded domain error. It optionally wraps a cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New creates a coded error with no cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	for errors.As(err, &de) {
		if de.Code == code {
			return true
		}
		err = de.cause
		if err == nil {
			return false
		}
	}
	return false
}

// CodeOf extracts the outermost code, defaulting to CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a code onto the HTTP status used by the JSON transport.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeUnauthorized, CodeNotProposer:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeNotPending, CodeNotApproved, CodeProposalExpired, CodeTimelockActive,
		CodeAlreadyVoted, CodeInsufficientSupport, CodeSystemPaused:
		return http.StatusConflict
	case CodeInvalidAddress, CodeInvalidAmount, CodeEmptyDescription, CodeBadRequest:
		return http.StatusBadRequest
	case CodeInsufficientFunds, CodeInsufficientBalance:
		return http.StatusUnprocessableEntity
	case CodeTransferFailed, CodeExecutionFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
