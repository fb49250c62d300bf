package vm

import (
	"errors"
	"fmt"
)

// Runtime error kinds. Every fatal condition raised by Run wraps exactly one
// of these, so callers can test with errors.Is.
var (
	ErrStackUnderflow     = errors.New("stack underflow")
	ErrCallStackUnderflow = errors.New("call stack underflow")
	ErrUndefinedLabel     = errors.New("undefined label")
	ErrHeapAddress        = errors.New("heap address not set")
	ErrDivisionByZero     = errors.New("division by zero")
	ErrIO                 = errors.New("interactor failure")
	ErrAborted            = errors.New("run aborted")
	ErrStepLimit          = errors.New("step limit exceeded")
)

// RuntimeError reports a fatal condition during execution.
type RuntimeError struct {
	Kind    error       // One of the Err* sentinels above
	Counter int         // Index of the failing instruction
	Inst    Instruction // The failing instruction
	Detail  string      // Extra context, may be empty
	Cause   error       // Underlying error (interactor or context), may be nil
}

func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("runtime error at %d (%s): %v", e.Counter, e.Inst, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *RuntimeError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

// KindName returns a short stable identifier for an error's kind, suitable
// for logs and wire messages. Returns "" for nil and "internal" for errors
// that are not runtime errors.
func KindName(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrStackUnderflow):
		return "stack-underflow"
	case errors.Is(err, ErrCallStackUnderflow):
		return "call-stack-underflow"
	case errors.Is(err, ErrUndefinedLabel):
		return "undefined-label"
	case errors.Is(err, ErrHeapAddress):
		return "heap-address"
	case errors.Is(err, ErrDivisionByZero):
		return "division-by-zero"
	case errors.Is(err, ErrIO):
		return "io"
	case errors.Is(err, ErrAborted):
		return "aborted"
	case errors.Is(err, ErrStepLimit):
		return "step-limit"
	default:
		return "internal"
	}
}
