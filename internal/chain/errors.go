package chain

import "errors"

var (
	// ErrAccountNotFound is returned when a token account that must exist is missing.
	ErrAccountNotFound = errors.New("chain: token account not found")
	// ErrInsufficientBalance is returned by the caller-side balance pre-check.
	ErrInsufficientBalance = errors.New("chain: insufficient token balance")
	// ErrTransactionBuild wraps checkpoint fetch or instruction assembly failures.
	ErrTransactionBuild = errors.New("chain: transaction build failed")
	// ErrConfirmationTimeout is returned when a signature never confirms within the wait window.
	ErrConfirmationTimeout = errors.New("chain: confirmation timed out")
)
