package tangle

import "errors"

// Sentinel errors for the distinct ledger failure modes. Public methods
// wrap these in taxonomy-coded anchor errors so callers can branch on
// either layer.
var (
	ErrUnavailable         = errors.New("tangle: node unavailable")
	ErrSubmissionRejected  = errors.New("tangle: block submission rejected")
	ErrConfirmationTimeout = errors.New("tangle: confirmation timeout")
	ErrConflicting         = errors.New("tangle: block has conflicting state")
	ErrIncompatibleNode    = errors.New("tangle: node version below minimum")
)
