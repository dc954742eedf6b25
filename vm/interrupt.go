package vm

import "time"

// acquireSystem pins target so it cannot be reaped while another thread
// signals it. It fails once target has exited.
func (m *Machine) acquireSystem(t *Thread, target *Thread) bool {
	m.stateLock.Lock()
	defer m.stateLock.Unlock()
	if zombified(target) {
		return false
	}
	target.setFlag(SystemFlag)
	return true
}

func (m *Machine) releaseSystem(t *Thread, target *Thread) {
	m.stateLock.Lock()
	defer m.stateLock.Unlock()
	target.clearFlag(SystemFlag)
	m.stateCond.Broadcast()
}

func zombified(t *Thread) bool {
	st := t.State()
	return st == ZombieState || st == JoinedState
}

// Interrupt sets target's interrupted flag and wakes it from any wait,
// sleep or park.
func (m *Machine) Interrupt(t *Thread, target *Thread) {
	if m.acquireSystem(t, target) {
		t.locked(target.lock, target.lock.interrupt)
		m.Unpark(target)
		m.releaseSystem(t, target)
	}
}

// GetAndClearInterrupted reads and clears target's interrupted flag.
func (m *Machine) GetAndClearInterrupted(t *Thread, target *Thread) bool {
	if m.acquireSystem(t, target) {
		var was bool
		t.locked(target.lock, func() { was = target.lock.getAndClearInterrupted() })
		m.releaseSystem(t, target)
		return was
	}
	return false
}

// IsInterrupted reads target's interrupted flag without clearing it.
func (m *Machine) IsInterrupted(t *Thread, target *Thread) bool {
	if !m.acquireSystem(t, target) {
		return false
	}
	defer m.releaseSystem(t, target)
	var set bool
	t.locked(target.lock, func() { set = target.lock.interrupted })
	return set
}

// Park blocks t until its permit is available, it is interrupted, or the
// timeout passes. An absolute timeout is a wall-clock deadline in
// milliseconds since the epoch; a deadline already past returns at once.
// A relative timeout is in milliseconds: 0 waits for Unpark and a
// negative value returns at once.
func (m *Machine) Park(t *Thread, absolute bool, millis int64) {
	var d time.Duration
	switch {
	case absolute:
		d = time.Until(time.UnixMilli(millis))
		if d <= 0 {
			return
		}
	case millis < 0:
		return
	case millis > 0:
		d = time.Duration(millis) * time.Millisecond
	}
	if m.IsInterrupted(t, t) {
		return
	}

	restore := t.EnterScoped(IdleState)
	defer restore()
	if d == 0 {
		<-t.park.permit
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-t.park.permit:
	case <-timer.C:
	}
}

// Sleep parks t for millis, raising InterruptedException if it is
// interrupted before or during the sleep.
func (m *Machine) Sleep(t *Thread, millis int64) error {
	if millis <= 0 {
		millis = 1
	}
	restore := t.EnterScoped(IdleState)
	t.lock.acquire()
	interrupted := t.lock.wait(millis, true)
	t.lock.release()
	restore()
	if interrupted {
		return m.throwNew(t, InterruptedExceptionType, "")
	}
	return nil
}
