package vm

import (
	"sync"

	"github.com/sasha-s/go-deadlock"
)

// ---------------------------------------------------------------------------
// Field access
// ---------------------------------------------------------------------------

// fieldLockTable serializes volatile 64-bit fields on platforms without
// atomic 64-bit loads and stores.
type fieldLockTable struct {
	mu    sync.Mutex
	locks map[*Field]*deadlock.Mutex
}

func newFieldLockTable() *fieldLockTable {
	return &fieldLockTable{locks: make(map[*Field]*deadlock.Mutex)}
}

func (ft *fieldLockTable) lockFor(f *Field) *deadlock.Mutex {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	l, ok := ft.locks[f]
	if !ok {
		l = new(deadlock.Mutex)
		ft.locks[f] = l
	}
	return l
}

func (m *Machine) needsFieldLock(f *Field) bool {
	return !m.Options.Atomic64 && f.IsVolatile() && f.Code.Wide()
}

// GetField reads instance field f of o.
func (m *Machine) GetField(t *Thread, o *Object, f *Field) (Value, error) {
	if o == nil {
		return Value{}, m.throwNew(t, NullPointerExceptionType, "reading %s", f.Name)
	}
	if f.IsStatic() {
		return Value{}, m.throwNew(t, IncompatibleClassChangeErrorType, "%s is static", f.Name)
	}
	if f.Code == ObjectField {
		return RefValue(o.GetRef(f.Offset)), nil
	}
	if m.needsFieldLock(f) {
		defer t.acquire(m.fieldLocks.lockFor(f))()
	}
	return BitsValue(o.GetBits(f.Offset, f.Code)).narrow(f.Code), nil
}

// SetField writes instance field f of o.
func (m *Machine) SetField(t *Thread, o *Object, f *Field, v Value) error {
	if o == nil {
		return m.throwNew(t, NullPointerExceptionType, "writing %s", f.Name)
	}
	if f.IsStatic() {
		return m.throwNew(t, IncompatibleClassChangeErrorType, "%s is static", f.Name)
	}
	if f.Code == ObjectField {
		if r := v.ref; r != nil && !m.fieldAccepts(t, f, r) {
			return m.throwNew(t, IllegalArgumentExceptionType, "%s cannot hold %s", f.Name, r.Class().JavaName())
		}
		o.SetRef(f.Offset, v.ref)
		return nil
	}
	if m.needsFieldLock(f) {
		defer t.acquire(m.fieldLocks.lockFor(f))()
	}
	o.SetBits(f.Offset, f.Code, v.bits)
	return nil
}

// GetStatic initializes f's class and reads the field.
func (m *Machine) GetStatic(t *Thread, f *Field) (Value, error) {
	if !f.IsStatic() {
		return Value{}, m.throwNew(t, IncompatibleClassChangeErrorType, "%s is not static", f.Name)
	}
	if err := m.InitClass(t, f.Class); err != nil {
		return Value{}, err
	}
	s := f.Class.Static
	if f.Code == ObjectField {
		return RefValue(s.Ref(f.Offset)), nil
	}
	if m.needsFieldLock(f) {
		defer t.acquire(m.fieldLocks.lockFor(f))()
	}
	return BitsValue(s.Word(f.Offset)).narrow(f.Code), nil
}

// SetStatic initializes f's class and writes the field.
func (m *Machine) SetStatic(t *Thread, f *Field, v Value) error {
	if !f.IsStatic() {
		return m.throwNew(t, IncompatibleClassChangeErrorType, "%s is not static", f.Name)
	}
	if err := m.InitClass(t, f.Class); err != nil {
		return err
	}
	s := f.Class.Static
	if f.Code == ObjectField {
		s.SetRef(f.Offset, v.ref)
		return nil
	}
	if m.needsFieldLock(f) {
		defer t.acquire(m.fieldLocks.lockFor(f))()
	}
	if f.Code.Wide() {
		s.SetWord(f.Offset, v.bits)
	} else {
		s.SetWord(f.Offset, v.narrow(f.Code).bits)
	}
	return nil
}

// fieldAccepts reports whether r may be stored in reference field f.
// Unresolvable field types are accepted; the linker reports them lazily.
func (m *Machine) fieldAccepts(t *Thread, f *Field, r *Object) bool {
	name := ClassNameOfSpec(f.Spec)
	if name == NameObject {
		return true
	}
	c, err := m.ResolveClass(t, f.Class.Loader, name, false, NoClassDefFoundErrorType)
	if err != nil || c == nil {
		return true
	}
	return InstanceOf(c, r)
}
