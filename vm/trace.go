package vm

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// ---------------------------------------------------------------------------
// Stack traces
// ---------------------------------------------------------------------------

// Line numbers for frames with no source position.
const (
	NativeLine  = -2
	UnknownLine = -1
)

// Frame is one activation on a thread's managed stack. The processor
// pushes a frame for every method it invokes and updates IP as it goes.
// The receiver and arguments are collector roots while the frame lives.
type Frame struct {
	Method *Method
	IP     int
	This   *Object
	Args   []Value
}

// TraceElement is one captured frame.
type TraceElement struct {
	Method *Method
	IP     int
}

// Line returns the source line of the element, NativeLine for native
// methods or UnknownLine when the method carries no line table.
func (e TraceElement) Line() int {
	if e.Method.IsNative() {
		return NativeLine
	}
	return e.Method.Code.LineNumberFor(e.IP)
}

func (e TraceElement) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s.%s ", e.Method.Class.Name, e.Method.Name)
	switch line := e.Line(); line {
	case NativeLine:
		b.WriteString("(native)")
	case UnknownLine:
		b.WriteString("(unknown line)")
	default:
		fmt.Fprintf(&b, "(line %d)", line)
	}
	return b.String()
}

// Trace lists frames innermost first.
type Trace []TraceElement

// PushFrame records entry into method.
func (t *Thread) PushFrame(method *Method, this *Object, args []Value) *Frame {
	f := &Frame{Method: method, This: this, Args: args}
	t.frames = append(t.frames, f)
	return f
}

// PopFrame drops the innermost frame.
func (t *Thread) PopFrame() {
	n := len(t.frames)
	expect(n > 0, "frame stack underflow")
	t.frames[n-1] = nil
	t.frames = t.frames[:n-1]
}

// Frames returns the live frames, outermost first.
func (t *Thread) Frames() []*Frame {
	return t.frames
}

func (m *Machine) captureTrace(t *Thread) Trace {
	tr := make(Trace, 0, len(t.frames))
	for i := len(t.frames) - 1; i >= 0; i-- {
		f := t.frames[i]
		tr = append(tr, TraceElement{Method: f.Method, IP: f.IP})
	}
	return tr
}

// PrintTrace writes e and its cause chain to w. A nil e prints a
// NullPointerException, matching what a null throw raises.
func (m *Machine) PrintTrace(t *Thread, w io.Writer, e *Object) {
	if e == nil {
		_ = m.throwNew(t, NullPointerExceptionType, "")
		e = t.exception
		t.exception = nil
	}
	for c := e; c != nil; c = m.ThrowableCause(c) {
		if c != e {
			fmt.Fprint(w, "caused by: ")
		}
		fmt.Fprint(w, c.ClassName())
		if msg := m.ThrowableMessage(c); msg != nil {
			fmt.Fprintf(w, ": %s\n", m.StringValue(msg))
		} else {
			fmt.Fprintln(w)
		}
		for _, el := range m.ThrowableTrace(c) {
			fmt.Fprintf(w, "  at %s\n", el)
		}
		if m.ThrowableCause(c) == c {
			break
		}
	}
}

// reportUncaught prints the throwable a thread body ended with. The
// shutdown sentinel is silent.
func (m *Machine) reportUncaught(t *Thread, err error) {
	if errors.Is(err, ErrShutdown) {
		return
	}
	if e, ok := AsThrowable(err); ok {
		m.PrintTrace(t, m.errorLog, e)
	} else {
		fmt.Fprintf(m.errorLog, "uncaught error in thread: %s\n", err)
	}
	t.exception = nil
}
