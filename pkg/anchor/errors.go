package anchor

import (
	"context"
	"errors"
	"fmt"
)

// Code classifies anchoring failures for result reporting and the API layer.
type Code string

const (
	CodeInvalidInput              Code = "invalid_input"
	CodeNotFound                  Code = "not_found"
	CodeLedgerUnavailable         Code = "ledger_unavailable"
	CodeLedgerSubmission          Code = "ledger_submission"
	CodeLedgerConfirmationTimeout Code = "ledger_confirmation_timeout"
	CodeLedgerConflicting         Code = "ledger_conflicting"
	CodePersistence               Code = "persistence"
	CodeCancelled                 Code = "cancelled"
)

var (
	ErrAnchorNotFound = errors.New("anchor not found")
	ErrItemNotFound   = errors.New("anchor item not found")
)

// Error carries a taxonomy code alongside the underlying cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a taxonomy code.
func NewError(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the taxonomy code from err. Context cancellation maps to
// CodeCancelled; anything unclassified is reported as CodePersistence since
// the database is the only other failure source in the pipeline.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancelled
	}
	if errors.Is(err, ErrAnchorNotFound) || errors.Is(err, ErrItemNotFound) {
		return CodeNotFound
	}
	return CodePersistence
}

// IsCode reports whether err carries the given taxonomy code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
