package resilience

import (
	"context"
	"errors"
	"strings"
)

// Failure categories that never recover on retry. Anything outside this set
// (timeouts, transient RPC failures, 5xx) is considered retryable.
var (
	ErrInvalidCredential = errors.New("invalid credential")
	ErrInvalidAddress    = errors.New("invalid address")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNonceConflict     = errors.New("nonce conflict")
	ErrGasLimitExceeded  = errors.New("gas limit exceeded")
	ErrExecutionReverted = errors.New("execution reverted")
)

// ErrDeadline marks an operation that ran past its per-call deadline.
// Deadline overruns are retryable.
var ErrDeadline = errors.New("operation deadline exceeded")

var nonRetryable = []error{
	ErrInvalidCredential,
	ErrInvalidAddress,
	ErrInsufficientFunds,
	ErrNonceConflict,
	ErrGasLimitExceeded,
	ErrExecutionReverted,
}

// Retryable reports whether err is worth another attempt. Context
// cancellation is terminal: the caller is going away.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	for _, nr := range nonRetryable {
		if errors.Is(err, nr) {
			return false
		}
	}
	return !matchesNonRetryableText(err)
}

// matchesNonRetryableText sniffs raw RPC error strings for the same
// categories; node implementations disagree on exact wording.
func matchesNonRetryableText(err error) bool {
	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "insufficient funds"):
		return true
	case strings.Contains(s, "nonce too low"), strings.Contains(s, "replacement transaction underpriced"):
		return true
	case strings.Contains(s, "execution reverted"):
		return true
	case strings.Contains(s, "exceeds block gas limit"), strings.Contains(s, "intrinsic gas too low"):
		return true
	case strings.Contains(s, "invalid sender"), strings.Contains(s, "unauthorized"):
		return true
	}
	return false
}
