package vm

import "sync"

// ---------------------------------------------------------------------------
// Thread state machine
// ---------------------------------------------------------------------------

// ThreadState is a thread's scheduling state. Every transition is a
// safepoint: a thread asking to become active waits while another thread
// is exclusive.
type ThreadState uint32

const (
	NoState ThreadState = iota
	ActiveState
	IdleState
	ZombieState
	JoinedState
	ExclusiveState
	ExitState
)

var threadStateNames = [...]string{"none", "active", "idle", "zombie", "joined", "exclusive", "exit"}

func (s ThreadState) String() string {
	if int(s) < len(threadStateNames) {
		return threadStateNames[s]
	}
	return "?"
}

// stateCounts is guarded by Machine.stateLock.
type stateCounts struct {
	active  int
	live    int
	daemon  int
	threads int
}

// Enter moves t to state s. Entering ExclusiveState waits until t is the
// only active thread; ExitState is terminal and later requests are
// ignored.
func (t *Thread) Enter(s ThreadState) {
	cur := t.State()
	if s == cur || cur == ExitState {
		return
	}
	m := t.m
	m.stateLock.Lock()
	defer m.stateLock.Unlock()

	switch s {
	case ExclusiveState:
		expect(cur == ActiveState, "exclusive state requires an active thread")
		for m.exclusive.Load() != nil {
			// another thread got here first; step aside until it is done
			m.counts.active--
			t.setState(IdleState)
			m.stateCond.Broadcast()
			for m.exclusive.Load() != nil {
				m.stateCond.Wait()
			}
			m.counts.active++
			t.setState(ActiveState)
		}
		t.setState(ExclusiveState)
		m.exclusive.Store(t)
		for m.counts.active > 1 {
			m.stateCond.Wait()
		}

	case IdleState, ZombieState:
		switch cur {
		case ExclusiveState:
			expect(m.exclusive.Load() == t, "exclusive owner mismatch")
			m.exclusive.Store(nil)
		case ActiveState:
		default:
			Abort("illegal transition %s -> %s", cur, s)
		}
		expect(m.counts.active > 0, "active count underflow")
		m.counts.active--
		if s == ZombieState {
			expect(m.counts.live > 0, "live count underflow")
			m.counts.live--
			if t.HasFlag(DaemonFlag) {
				m.counts.daemon--
			}
		}
		t.setState(s)
		m.stateCond.Broadcast()

	case ActiveState:
		switch cur {
		case ExclusiveState:
			expect(m.exclusive.Load() == t, "exclusive owner mismatch")
			t.setState(ActiveState)
			m.exclusive.Store(nil)
			m.stateCond.Broadcast()
		case NoState, IdleState:
			for m.exclusive.Load() != nil {
				m.stateCond.Wait()
			}
			m.counts.active++
			if cur == NoState {
				m.counts.live++
				m.counts.threads++
				if t.HasFlag(DaemonFlag) {
					m.counts.daemon++
				}
			}
			t.setState(ActiveState)
		default:
			Abort("illegal transition %s -> %s", cur, s)
		}

	case JoinedState:
		expect(cur == ZombieState, "join requires a zombie thread")
		t.setState(JoinedState)
		m.stateCond.Broadcast()

	case ExitState:
		switch cur {
		case ExclusiveState:
			// exit stays exclusive
			expect(m.exclusive.Load() == t, "exclusive owner mismatch")
			m.stateCond.Broadcast()
		case ActiveState:
		default:
			Abort("illegal transition %s -> %s", cur, s)
		}
		expect(m.counts.active > 0, "active count underflow")
		m.counts.active--
		t.setState(ExitState)
		for m.counts.live-m.counts.daemon > 1 {
			m.stateCond.Wait()
		}

	default:
		Abort("illegal transition %s -> %s", cur, s)
	}
}

// EnterScoped enters s and returns a function restoring the previous
// state.
func (t *Thread) EnterScoped(s ThreadState) (restore func()) {
	prev := t.State()
	t.Enter(s)
	return func() {
		if prev != NoState {
			t.Enter(prev)
		}
	}
}

// acquire locks l without blocking a pending exclusive request: an active
// thread goes idle while it waits for the lock.
func (t *Thread) acquire(l sync.Locker) (unlock func()) {
	if t != nil && t.State() == ActiveState {
		t.Enter(IdleState)
		l.Lock()
		t.Enter(ActiveState)
	} else {
		l.Lock()
	}
	return l.Unlock
}

// locked runs fn holding l. An active thread stays idle until fn is done,
// so it never holds l while it waits out an exclusive request. fn must
// not touch the heap.
func (t *Thread) locked(l sync.Locker, fn func()) {
	if t != nil && t.State() == ActiveState {
		t.Enter(IdleState)
		defer t.Enter(ActiveState)
	}
	l.Lock()
	defer l.Unlock()
	fn()
}

// setDaemon flips the daemon flag, keeping the shutdown barrier's count
// in step.
func (m *Machine) setDaemon(target *Thread, daemon bool) {
	m.stateLock.Lock()
	defer m.stateLock.Unlock()
	if target.HasFlag(DaemonFlag) == daemon {
		return
	}
	if daemon {
		target.setFlag(DaemonFlag)
	} else {
		target.clearFlag(DaemonFlag)
	}
	if st := target.State(); st != NoState && st != ZombieState && st != JoinedState {
		if daemon {
			m.counts.daemon++
		} else {
			m.counts.daemon--
		}
	}
	m.stateCond.Broadcast()
}

// Counts reports the active, live and daemon thread counts.
func (m *Machine) Counts() (active, live, daemon int) {
	m.stateLock.Lock()
	defer m.stateLock.Unlock()
	return m.counts.active, m.counts.live, m.counts.daemon
}
