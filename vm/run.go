package vm

// ---------------------------------------------------------------------------
// Run: the native-call boundary
// ---------------------------------------------------------------------------

// Run executes fn on t in ActiveState. It records a checkpoint first and,
// on every exit path, releases the resources pushed since then in
// reverse order and restores t's previous state. A *ThrowableError
// panicked inside fn is returned as an error; an *InvariantViolation or
// any other panic continues unwinding.
func (m *Machine) Run(t *Thread, fn func(t *Thread) error) (err error) {
	prev := t.State()
	if prev != ActiveState && prev != ExclusiveState {
		t.Enter(ActiveState)
	}
	cp := t.Checkpoint()

	defer func() {
		r := recover()
		t.unwindTo(cp)
		if prev != ActiveState && prev != ExclusiveState && prev != NoState {
			t.Enter(prev)
		}
		if r == nil {
			return
		}
		if te, ok := r.(*ThrowableError); ok {
			t.exception = te.Throwable
			err = te
			return
		}
		panic(r)
	}()

	return fn(t)
}

// Signal raises err from inside a native running under Run. Natives that
// cannot conveniently return an error use it to unwind to the boundary.
func Signal(err error) {
	if te, ok := err.(*ThrowableError); ok {
		panic(te)
	}
	if th, ok := AsThrowable(err); ok {
		panic(&ThrowableError{Throwable: th})
	}
	panic(err)
}

// Check signals err when it is not nil.
func Check(err error) {
	if err != nil {
		Signal(err)
	}
}
