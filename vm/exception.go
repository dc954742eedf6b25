package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Throw types
// ---------------------------------------------------------------------------

// ThrowType names a throwable class the runtime raises on its own.
type ThrowType int

const (
	NoThrow ThrowType = iota
	NullPointerExceptionType
	IllegalMonitorStateExceptionType
	IllegalArgumentExceptionType
	IllegalStateExceptionType
	InterruptedExceptionType
	NegativeArraySizeExceptionType
	ArrayIndexOutOfBoundsExceptionType
	StringIndexOutOfBoundsExceptionType
	ArrayStoreExceptionType
	ClassCastExceptionType
	ArithmeticExceptionType
	CloneNotSupportedExceptionType
	ClassNotFoundExceptionType
	NoClassDefFoundErrorType
	ClassFormatErrorType
	ClassCircularityErrorType
	LinkageErrorType
	IncompatibleClassChangeErrorType
	NoSuchMethodErrorType
	NoSuchFieldErrorType
	AbstractMethodErrorType
	UnsatisfiedLinkErrorType
	ExceptionInInitializerErrorType
	OutOfMemoryErrorType
	StackOverflowErrorType
	InternalErrorType
)

var throwTypeClasses = [...]string{
	NoThrow:                             "",
	NullPointerExceptionType:            "java/lang/NullPointerException",
	IllegalMonitorStateExceptionType:    "java/lang/IllegalMonitorStateException",
	IllegalArgumentExceptionType:        "java/lang/IllegalArgumentException",
	IllegalStateExceptionType:           "java/lang/IllegalStateException",
	InterruptedExceptionType:            "java/lang/InterruptedException",
	NegativeArraySizeExceptionType:      "java/lang/NegativeArraySizeException",
	ArrayIndexOutOfBoundsExceptionType:  "java/lang/ArrayIndexOutOfBoundsException",
	StringIndexOutOfBoundsExceptionType: "java/lang/StringIndexOutOfBoundsException",
	ArrayStoreExceptionType:             "java/lang/ArrayStoreException",
	ClassCastExceptionType:              "java/lang/ClassCastException",
	ArithmeticExceptionType:             "java/lang/ArithmeticException",
	CloneNotSupportedExceptionType:      "java/lang/CloneNotSupportedException",
	ClassNotFoundExceptionType:          "java/lang/ClassNotFoundException",
	NoClassDefFoundErrorType:            "java/lang/NoClassDefFoundError",
	ClassFormatErrorType:                "java/lang/ClassFormatError",
	ClassCircularityErrorType:           "java/lang/ClassCircularityError",
	LinkageErrorType:                    "java/lang/LinkageError",
	IncompatibleClassChangeErrorType:    "java/lang/IncompatibleClassChangeError",
	NoSuchMethodErrorType:               "java/lang/NoSuchMethodError",
	NoSuchFieldErrorType:                "java/lang/NoSuchFieldError",
	AbstractMethodErrorType:             "java/lang/AbstractMethodError",
	UnsatisfiedLinkErrorType:            "java/lang/UnsatisfiedLinkError",
	ExceptionInInitializerErrorType:     "java/lang/ExceptionInInitializerError",
	OutOfMemoryErrorType:                "java/lang/OutOfMemoryError",
	StackOverflowErrorType:              "java/lang/StackOverflowError",
	InternalErrorType:                   "java/lang/InternalError",
}

// ClassName returns the internal name of the throwable class.
func (tt ThrowType) ClassName() string {
	if tt >= 0 && int(tt) < len(throwTypeClasses) {
		return throwTypeClasses[tt]
	}
	return ""
}

func (tt ThrowType) String() string {
	if n := tt.ClassName(); n != "" {
		return n
	}
	return "none"
}

// ---------------------------------------------------------------------------
// ThrowableError: a managed exception travelling as a Go error
// ---------------------------------------------------------------------------

// ErrShutdown is matched by errors carrying the shutdown sentinel.
var ErrShutdown = errors.New("machine shutting down")

// ThrowableError carries a managed throwable. Natives may also panic with
// one; Run converts the panic back into an error.
type ThrowableError struct {
	Throwable *Object
	message   string
	shutdown  bool
}

func (e *ThrowableError) Error() string {
	if e.shutdown {
		return ErrShutdown.Error()
	}
	if e.message == "" {
		return e.Throwable.ClassName()
	}
	return e.Throwable.ClassName() + ": " + e.message
}

// Is lets errors.Is(err, ErrShutdown) recognize the shutdown sentinel.
func (e *ThrowableError) Is(target error) bool {
	return target == ErrShutdown && e.shutdown
}

// Class returns the throwable's class.
func (e *ThrowableError) Class() *Class {
	return e.Throwable.Class()
}

// AsThrowable extracts the managed throwable carried by err.
func AsThrowable(err error) (*Object, bool) {
	var te *ThrowableError
	if errors.As(err, &te) {
		return te.Throwable, true
	}
	return nil, false
}

// ---------------------------------------------------------------------------
// Throwable layout
// ---------------------------------------------------------------------------

type throwableFields struct {
	message, trace, cause int
}

func (m *Machine) throwableLayout() throwableFields {
	c := m.types.Throwable
	return throwableFields{
		message: mustField(c, "message", "Ljava/lang/String;").Offset,
		trace:   mustField(c, "trace", "Ljava/lang/Object;").Offset,
		cause:   mustField(c, "cause", "Ljava/lang/Throwable;").Offset,
	}
}

// ThrowableMessage returns the message string object, or nil.
func (m *Machine) ThrowableMessage(e *Object) *Object {
	return e.GetRef(m.throwableFields.message)
}

// ThrowableCause returns the cause, or nil.
func (m *Machine) ThrowableCause(e *Object) *Object {
	return e.GetRef(m.throwableFields.cause)
}

// ThrowableTrace returns the stack captured when e was made.
func (m *Machine) ThrowableTrace(e *Object) Trace {
	tr, _ := e.native.(Trace)
	return tr
}

// MakeThrowable allocates an instance of class with the given message and
// cause, capturing t's current trace.
func (m *Machine) MakeThrowable(t *Thread, class *Class, message string, cause *Object) (*Object, error) {
	release := t.Protect(&cause)
	defer release()

	var msg *Object
	if message != "" {
		var err error
		if msg, err = m.MakeString(t, message); err != nil {
			return nil, err
		}
	}
	releaseMsg := t.Protect(&msg)
	defer releaseMsg()

	e, err := m.Make(t, class)
	if err != nil {
		return nil, err
	}
	e.SetRef(m.throwableFields.message, msg)
	e.SetRef(m.throwableFields.cause, cause)
	e.native = m.captureTrace(t)
	return e, nil
}

// Throw makes e t's pending exception and returns it as an error.
func (m *Machine) Throw(t *Thread, e *Object) error {
	t.exception = e
	te := &ThrowableError{Throwable: e}
	if e == m.roots.shutdown {
		te.shutdown = true
	} else if msg := m.ThrowableMessage(e); msg != nil {
		te.message = m.StringValue(msg)
	}
	return te
}

func (m *Machine) throwNew(t *Thread, typ ThrowType, format string, args ...any) error {
	return m.throwNewCause(t, typ, nil, format, args...)
}

// throwNewCause raises a new throwable of typ. A failure to allocate it
// surfaces as the allocation's own error, normally OutOfMemoryError.
func (m *Machine) throwNewCause(t *Thread, typ ThrowType, cause *Object, format string, args ...any) error {
	if typ == OutOfMemoryErrorType {
		return m.throwOutOfMemory(t)
	}
	class := m.throwableClass(t, typ)
	message := format
	if len(args) > 0 {
		message = fmt.Sprintf(format, args...)
	}
	e, err := m.MakeThrowable(t, class, message, cause)
	if err != nil {
		return err
	}
	return m.Throw(t, e)
}

// ThrowNew raises a new throwable of class with message.
func (m *Machine) ThrowNew(t *Thread, class *Class, message string) error {
	e, err := m.MakeThrowable(t, class, message, nil)
	if err != nil {
		return err
	}
	return m.Throw(t, e)
}

func (m *Machine) throwableClass(t *Thread, typ ThrowType) *Class {
	name := typ.ClassName()
	if c := m.types.byName(name); c != nil {
		return c
	}
	c, err := m.ResolveClass(t, m.BootLoader, name, false, NoThrow)
	if err != nil || c == nil {
		Abort("throwable class %s unavailable", name)
	}
	return c
}

// throwOutOfMemory raises the preallocated OutOfMemoryError, which needs
// no allocation.
func (m *Machine) throwOutOfMemory(t *Thread) error {
	return m.Throw(t, m.roots.outOfMemoryError)
}

// throwShutdown raises the sentinel used to unwind daemon threads once
// the machine stops. No handler ever matches it.
func (m *Machine) throwShutdown(t *Thread) error {
	return m.Throw(t, m.roots.shutdown)
}

// ExceptionMatch reports whether a handler for catchType catches e. A nil
// catchType catches everything except the shutdown sentinel.
func (m *Machine) ExceptionMatch(catchType *Class, e *Object) bool {
	if e == nil || e == m.roots.shutdown {
		return false
	}
	return catchType == nil || InstanceOf(catchType, e)
}
