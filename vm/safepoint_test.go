package vm

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

// ---------------------------------------------------------------------------
// Safepoint tests: blocking operations with an exclusive request pending
// ---------------------------------------------------------------------------

// requestExclusive starts a thread that enters exclusive state, leaves it
// again and exits. It returns once the request is published; the request
// completes when every other thread is idle.
func requestExclusive(tb testing.TB, m *testMachine) *Thread {
	tb.Helper()
	x, err := m.StartThread(m.t, nil, func(t *Thread) error {
		t.Enter(ExclusiveState)
		t.Enter(ActiveState)
		return nil
	})
	if err != nil {
		tb.Fatalf("StartThread: %v", err)
	}
	eventually(tb, "exclusive request", func() bool { return m.exclusive.Load() == x })
	return x
}

func finished(th *Thread) bool {
	select {
	case <-th.done:
		return true
	default:
		return false
	}
}

// awaitThreads waits, idle, for threads to exit and then joins them.
func awaitThreads(tb testing.TB, m *testMachine, threads ...*Thread) {
	tb.Helper()
	restore := m.t.EnterScoped(IdleState)
	eventually(tb, "threads to finish", func() bool {
		for _, th := range threads {
			if !finished(th) {
				return false
			}
		}
		return true
	})
	restore()
	for _, th := range threads {
		m.t.Join(th)
	}
}

func TestMonitorReleaseWithExclusivePending(t *testing.T) {
	m := newTestMachine(t, nil, nil)
	o := lockObject(t, m)
	release := m.t.Protect(&o)
	defer release()

	owned := make(chan struct{})
	handOff := make(chan struct{})
	owner, err := m.StartThread(m.t, nil, func(t *Thread) error {
		if err := m.Acquire(t, o); err != nil {
			return err
		}
		close(owned)
		<-handOff
		return m.Release(t, o)
	})
	if err != nil {
		t.Fatalf("StartThread: %v", err)
	}
	<-owned

	var acquired atomic.Bool
	waiter, err := m.StartThread(m.t, nil, func(t *Thread) error {
		if err := m.Acquire(t, o); err != nil {
			return err
		}
		acquired.Store(true)
		return m.Release(t, o)
	})
	if err != nil {
		t.Fatalf("StartThread: %v", err)
	}
	mon := m.monitors.lookup(o, false)
	eventually(t, "waiter to queue", func() bool { return queued(mon) == 1 })

	x := requestExclusive(t, m)

	// wake the queued waiter while the request is pending, then hand off
	restore := m.t.EnterScoped(IdleState)
	m.Interrupt(m.t, waiter)
	close(handOff)
	awaitThreads(t, m, owner, waiter, x)
	restore()

	if !acquired.Load() {
		t.Error("waiter never acquired the monitor")
	}
	if mon.Owner() != nil {
		t.Errorf("monitor owner = %v after both released", mon.Owner())
	}
}

func TestNotifyWithExclusivePending(t *testing.T) {
	m := newTestMachine(t, nil, nil)
	o := lockObject(t, m)
	release := m.t.Protect(&o)
	defer release()

	var waitErr error
	waiter, err := m.StartThread(m.t, nil, func(t *Thread) error {
		return m.Synchronized(t, o, func() error {
			waitErr = m.Wait(t, o, 0)
			return nil
		})
	})
	if err != nil {
		t.Fatalf("StartThread: %v", err)
	}
	eventually(t, "waiter to wait", func() bool { return waiter.HasFlag(WaitingFlag) })

	notify := make(chan struct{})
	notifier, err := m.StartThread(m.t, nil, func(t *Thread) error {
		<-notify
		return m.Synchronized(t, o, func() error { return m.Notify(t, o) })
	})
	if err != nil {
		t.Fatalf("StartThread: %v", err)
	}

	x := requestExclusive(t, m)
	close(notify)

	awaitThreads(t, m, waiter, notifier, x)
	if waitErr != nil {
		t.Errorf("Wait = %v, want nil", waitErr)
	}
}

// holdAcrossExclusive starts a thread that takes l while idle, the way
// Thread.acquire does, and then has to rejoin behind a pending exclusive
// request before it can release l. It returns the holder and a function
// that lets it try to rejoin.
func holdAcrossExclusive(tb testing.TB, m *testMachine, l sync.Locker) (*Thread, func()) {
	tb.Helper()
	held := make(chan struct{})
	rejoin := make(chan struct{})
	holder, err := m.StartThread(m.t, nil, func(t *Thread) error {
		t.Enter(IdleState)
		l.Lock()
		close(held)
		<-rejoin
		t.Enter(ActiveState)
		l.Unlock()
		return nil
	})
	if err != nil {
		tb.Fatalf("StartThread: %v", err)
	}
	<-held
	return holder, func() { close(rejoin) }
}

func TestLockedLookupsWithExclusivePending(t *testing.T) {
	tests := []struct {
		name string
		lock func(m *Machine) sync.Locker
		call func(m *testMachine, t *Thread, peer *Object) error
	}{
		{"loaderOf", func(m *Machine) sync.Locker { return &m.classLock },
			func(m *testMachine, t *Thread, peer *Object) error {
				if l := m.loaderOf(t, peer); l != m.AppLoader {
					return fmt.Errorf("loaderOf = %v, want the application loader", l)
				}
				return nil
			}},
		{"FindLoadedClass", func(m *Machine) sync.Locker { return &m.classLock },
			func(m *testMachine, t *Thread, _ *Object) error {
				if c := m.FindLoadedClass(t, m.BootLoader, NameObject); c == nil {
					return fmt.Errorf("FindLoadedClass(%s) = nil", NameObject)
				}
				return nil
			}},
		{"FinalizerCount", func(m *Machine) sync.Locker { return &m.referenceLock },
			func(m *testMachine, t *Thread, _ *Object) error {
				m.FinalizerCount(t)
				return nil
			}},
		{"WeakReferenceCount", func(m *Machine) sync.Locker { return &m.referenceLock },
			func(m *testMachine, t *Thread, _ *Object) error {
				m.WeakReferenceCount(t)
				return nil
			}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMachine(t, nil, nil)
			peer := lockObject(t, m)
			release := m.t.Protect(&peer)
			defer release()

			start := make(chan struct{})
			var callErr error
			caller, err := m.StartThread(m.t, nil, func(t *Thread) error {
				<-start
				callErr = tt.call(m, t, peer)
				return nil
			})
			if err != nil {
				t.Fatalf("StartThread: %v", err)
			}

			holder, rejoin := holdAcrossExclusive(t, m, tt.lock(m.Machine))
			x := requestExclusive(t, m)
			rejoin()
			close(start)

			awaitThreads(t, m, caller, holder, x)
			if callErr != nil {
				t.Error(callErr)
			}
		})
	}
}
