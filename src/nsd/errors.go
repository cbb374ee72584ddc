package nsd

import (
	"fmt"

	"github.com/jmalloc/nsdbroker/src/nsd/engine"
)

// ErrorCode is the broker's client-facing error taxonomy (spec.md §7). It
// is an alias of engine.ErrorCode so that engine.CallbackSink
// implementations and broker-internal code share the same values without
// an import cycle (engine cannot depend on nsd; see engine/interfaces.go).
type ErrorCode = engine.ErrorCode

// Re-exported for readability at call sites within this package.
const (
	ErrInternal            = engine.ErrInternal
	ErrMaxLimitReached     = engine.ErrMaxLimitReached
	ErrAlreadyActive       = engine.ErrAlreadyActive
	ErrBadParameters       = engine.ErrBadParameters
	ErrOperationNotRunning = engine.ErrOperationNotRunning
)

// BrokerError pairs a taxonomy code with the underlying cause, grounded on
// dissolve/dnssd/instance.go's Validate() error style generalized to carry
// a stable, comparable code alongside the message.
type BrokerError struct {
	Code ErrorCode
	Err  error
}

func (e *BrokerError) Error() string {
	if e.Err == nil {
		return errorCodeString(e.Code)
	}
	return fmt.Sprintf("%s: %s", errorCodeString(e.Code), e.Err)
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}

// newError constructs a *BrokerError.
func newError(code ErrorCode, format string, args ...interface{}) *BrokerError {
	var err error
	if format != "" {
		err = fmt.Errorf(format, args...)
	}
	return &BrokerError{Code: code, Err: err}
}

// errorCodeString returns a human-readable name for the error code.
func errorCodeString(c ErrorCode) string {
	switch c {
	case ErrInternal:
		return "internal-error"
	case ErrMaxLimitReached:
		return "max-limit"
	case ErrAlreadyActive:
		return "already-active"
	case ErrBadParameters:
		return "bad-parameters"
	case ErrOperationNotRunning:
		return "operation-not-running"
	default:
		return "unknown-error"
	}
}
