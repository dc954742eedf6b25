package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Runtime error types
// ---------------------------------------------------------------------------

var (
	ErrMalformedClass     = errors.New("malformed class file")
	ErrUnexpectedEOF      = errors.New("unexpected end of class data")
	ErrBootstrapMismatch  = errors.New("incompatible bootstrap class update")
	ErrNoExecutionEngine  = errors.New("no execution engine for byte code")
	ErrAlreadyAttached    = errors.New("thread already attached")
	ErrMachineShutDown    = errors.New("machine has shut down")
	ErrInvalidOption      = errors.New("invalid VM option")
	ErrBadDescriptor      = errors.New("malformed type descriptor")
	ErrInvalidPoolIndex   = errors.New("invalid constant pool index")
	ErrUnexpectedPoolType = errors.New("unexpected constant pool entry type")
)

// ClassFormatError reports a structural violation found while parsing a
// class file. It unwraps to ErrMalformedClass.
type ClassFormatError struct {
	Class  string
	Offset int
	Reason string
}

func (e *ClassFormatError) Error() string {
	if e.Class != "" {
		return fmt.Sprintf("%s: %s at offset %d: %s", ErrMalformedClass, e.Class, e.Offset, e.Reason)
	}
	return fmt.Sprintf("%s at offset %d: %s", ErrMalformedClass, e.Offset, e.Reason)
}

func (e *ClassFormatError) Unwrap() error {
	return ErrMalformedClass
}

// InvariantViolation is the panic value used by Abort. It signals a bug in
// the runtime, never in managed code.
type InvariantViolation struct {
	Message string
}

func (e *InvariantViolation) Error() string {
	return "avian: invariant violated: " + e.Message
}

// Abort logs a fatal runtime invariant violation and panics.
func Abort(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Critical(msg)
	panic(&InvariantViolation{Message: msg})
}

// expect aborts when cond is false.
func expect(cond bool, what string) {
	if !cond {
		Abort("%s", what)
	}
}
