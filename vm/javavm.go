package vm

import (
	"sync"
)

// ---------------------------------------------------------------------------
// References held by native code
// ---------------------------------------------------------------------------

// RefKind is the JNI reference type of a Ref.
type RefKind int32

const (
	InvalidRef RefKind = iota
	LocalRef
	GlobalRef
	WeakGlobalRef
)

func (k RefKind) String() string {
	switch k {
	case LocalRef:
		return "local"
	case GlobalRef:
		return "global"
	case WeakGlobalRef:
		return "weak global"
	}
	return "invalid"
}

type refCell struct {
	o    *Object
	kind RefKind
}

// Ref is a handle native code holds instead of a raw object pointer. The
// zero Ref is null.
type Ref struct {
	c *refCell
}

// Object returns the referent, or nil for a null or cleared reference.
func (r Ref) Object() *Object {
	if r.c == nil {
		return nil
	}
	return r.c.o
}

func (r Ref) IsNull() bool { return r.Object() == nil }

func (r Ref) Kind() RefKind {
	if r.c == nil {
		return InvalidRef
	}
	return r.c.kind
}

// --- local frames ---

type localFrame struct {
	cells []*refCell
}

func newLocalFrame(capacity int) *localFrame {
	return &localFrame{cells: make([]*refCell, 0, capacity)}
}

func (f *localFrame) add(o *Object) Ref {
	c := &refCell{o: o, kind: LocalRef}
	f.cells = append(f.cells, c)
	return Ref{c}
}

func (f *localFrame) forEach(fn func(*Object)) {
	for _, c := range f.cells {
		if c.o != nil {
			fn(c.o)
		}
	}
}

func (t *Thread) pushLocalFrame(capacity int) {
	t.localRefs = append(t.localRefs, newLocalFrame(capacity))
}

// popLocalFrame drops the innermost frame, clearing its references so
// stale handles read as null. The base frame is never popped.
func (t *Thread) popLocalFrame() {
	n := len(t.localRefs)
	if n <= 1 {
		return
	}
	for _, c := range t.localRefs[n-1].cells {
		c.o = nil
	}
	t.localRefs[n-1] = nil
	t.localRefs = t.localRefs[:n-1]
}

// newLocalRef registers o in the innermost frame. A nil object yields the
// null reference.
func (t *Thread) newLocalRef(o *Object) Ref {
	if o == nil {
		return Ref{}
	}
	return t.localRefs[len(t.localRefs)-1].add(o)
}

func (t *Thread) localRefCount() int {
	n := 0
	for _, f := range t.localRefs {
		n += len(f.cells)
	}
	return n
}

// --- global references ---

// refTable holds the global and weak global references. The collector
// reads it without the lock, under exclusive state.
type refTable struct {
	mu     sync.Mutex
	strong map[*refCell]struct{}
	weak   map[*refCell]struct{}
}

func newRefTable() *refTable {
	return &refTable{
		strong: make(map[*refCell]struct{}),
		weak:   make(map[*refCell]struct{}),
	}
}

func (rt *refTable) add(o *Object, kind RefKind) Ref {
	if o == nil {
		return Ref{}
	}
	c := &refCell{o: o, kind: kind}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if kind == WeakGlobalRef {
		rt.weak[c] = struct{}{}
	} else {
		rt.strong[c] = struct{}{}
	}
	return Ref{c}
}

func (rt *refTable) delete(r Ref) {
	if r.c == nil {
		return
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	delete(rt.strong, r.c)
	delete(rt.weak, r.c)
	r.c.o = nil
}

func (rt *refTable) forEach(fn func(*Object)) {
	for c := range rt.strong {
		fn(c.o)
	}
}

func (rt *refTable) Len() (strong, weak int) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.strong), len(rt.weak)
}

// sweepWeak clears the weak globals whose referents did not survive. The
// cells stay in the table until deleted, reading as null.
func (rt *refTable) sweepWeak(h Heap) int {
	n := 0
	for c := range rt.weak {
		if c.o != nil && h.Status(c.o) == StatusUnreachable {
			c.o = nil
			n++
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// JavaVM: the invocation interface
// ---------------------------------------------------------------------------

// JNI status codes.
const (
	JNIOk        = 0
	JNIErr       = -1
	JNIEDetached = -2
	JNIEVersion  = -3
)

// JNI versions accepted by GetEnv.
const (
	JNIVersion1_1 int32 = 0x00010001
	JNIVersion1_2 int32 = 0x00010002
	JNIVersion1_4 int32 = 0x00010004
	JNIVersion1_6 int32 = 0x00010006
)

// JavaVM lets host code attach goroutines to a machine and tear it down.
type JavaVM struct {
	m *Machine
}

func (m *Machine) JavaVM() *JavaVM {
	return &JavaVM{m: m}
}

// DestroyJavaVM waits for every non-daemon thread, runs the shutdown
// sequence and exits. The calling goroutine is attached if it was not.
func (vm *JavaVM) DestroyJavaVM() int {
	m := vm.m
	t := m.CurrentThread()
	if t == nil {
		var err error
		if t, err = m.AttachThread("DestroyJavaVM", false); err != nil {
			log.Errorf("attaching for DestroyJavaVM: %s", err)
			return JNIErr
		}
	}
	m.JoinAll(t)
	m.ShutDown(t)
	t.Exit()
	return JNIOk
}

// AttachCurrentThread attaches the calling goroutine, or returns its
// existing environment if it is already attached.
func (vm *JavaVM) AttachCurrentThread(name string) (*JNIEnv, int) {
	return vm.attach(name, false)
}

// AttachCurrentThreadAsDaemon is AttachCurrentThread for a thread the
// machine does not wait for on exit.
func (vm *JavaVM) AttachCurrentThreadAsDaemon(name string) (*JNIEnv, int) {
	return vm.attach(name, true)
}

func (vm *JavaVM) attach(name string, daemon bool) (*JNIEnv, int) {
	m := vm.m
	if t := m.CurrentThread(); t != nil {
		return m.Env(t), JNIOk
	}
	t, err := m.AttachThread(name, daemon)
	if err != nil {
		log.Warningf("attaching %s: %s", name, err)
		return nil, JNIErr
	}
	// attached threads stay idle between calls
	t.Enter(IdleState)
	return m.Env(t), JNIOk
}

// DetachCurrentThread ends the calling goroutine's thread.
func (vm *JavaVM) DetachCurrentThread() int {
	m := vm.m
	t := m.CurrentThread()
	if t == nil {
		return JNIEDetached
	}
	m.DetachThread(t)
	return JNIOk
}

// GetEnv returns the environment of the calling goroutine.
func (vm *JavaVM) GetEnv(version int32) (*JNIEnv, int) {
	switch version {
	case JNIVersion1_1, JNIVersion1_2, JNIVersion1_4, JNIVersion1_6:
	default:
		return nil, JNIEVersion
	}
	t := vm.m.CurrentThread()
	if t == nil {
		return nil, JNIEDetached
	}
	return vm.m.Env(t), JNIOk
}
