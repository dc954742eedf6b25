package vm

import (
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Monitor
// ---------------------------------------------------------------------------

// monitorNode is a cell of a monitor's acquire queue.
type monitorNode struct {
	value *Thread
	next  atomic.Pointer[monitorNode]
}

func newMonitorNode(t *Thread) *monitorNode {
	return &monitorNode{value: t}
}

// Monitor is a reentrant, FIFO-fair lock with a wait set. Contending
// threads queue on a Michael-Scott queue whose head is a sentinel node;
// only the thread at the front may take ownership. The wait list is
// threaded through Thread.waitNext and is only touched by the owner.
type Monitor struct {
	owner atomic.Pointer[Thread]
	depth uint32 // owner only

	head atomic.Pointer[monitorNode]
	tail atomic.Pointer[monitorNode]

	waitHead *Thread
	waitTail *Thread
}

// NewMonitor returns an unowned monitor with an empty queue.
func NewMonitor() *Monitor {
	mon := &Monitor{}
	sentinel := &monitorNode{}
	mon.head.Store(sentinel)
	mon.tail.Store(sentinel)
	return mon
}

// Owner returns the owning thread, or nil.
func (mon *Monitor) Owner() *Thread {
	return mon.owner.Load()
}

// Depth returns the recursion depth. Only meaningful to the owner.
func (mon *Monitor) Depth() int {
	return int(mon.depth)
}

// appendAcquire enqueues node at the tail.
func (mon *Monitor) appendAcquire(node *monitorNode) {
	for {
		tail := mon.tail.Load()
		next := tail.next.Load()
		if tail != mon.tail.Load() {
			continue
		}
		if next != nil {
			// tail lags; help it along
			mon.tail.CompareAndSwap(tail, next)
		} else if tail.next.CompareAndSwap(nil, node) {
			mon.tail.CompareAndSwap(tail, node)
			return
		}
	}
}

// pollAcquire returns the thread at the front of the queue, dequeuing it
// when remove is set.
func (mon *Monitor) pollAcquire(remove bool) *Thread {
	for {
		head := mon.head.Load()
		tail := mon.tail.Load()
		next := head.next.Load()
		if head != mon.head.Load() {
			continue
		}
		if head == tail {
			if next == nil {
				return nil
			}
			mon.tail.CompareAndSwap(tail, next)
			continue
		}
		value := next.value
		if !remove || mon.head.CompareAndSwap(head, next) {
			return value
		}
	}
}

// monitorTryAcquire takes mon if t already owns it, or if nobody is
// queued and it is free.
func monitorTryAcquire(t *Thread, mon *Monitor) bool {
	if mon.owner.Load() == t ||
		(mon.pollAcquire(false) == nil && mon.owner.CompareAndSwap(nil, t)) {
		mon.depth++
		return true
	}
	return false
}

// monitorAcquire blocks until t owns mon. Waiters are served in the
// order they queued. node may be pre-allocated by the caller.
func monitorAcquire(t *Thread, mon *Monitor, node *monitorNode) {
	if monitorTryAcquire(t, mon) {
		return
	}
	if node == nil {
		node = newMonitorNode(t)
	}

	// t.lock is only ever held while idle, so a releasing owner that
	// blocks on it cannot hold up an exclusive request
	restore := t.EnterScoped(IdleState)
	t.lock.acquire()
	mon.appendAcquire(node)

	// a thread never takes the lock until it is first in line
	for !(mon.pollAcquire(false) == t && mon.owner.CompareAndSwap(nil, t)) {
		t.lock.wait(0, false)
	}
	t.lock.release()
	restore()

	got := mon.pollAcquire(true)
	expect(got == t, "monitor queue head is not the new owner")
	mon.depth++
}

// monitorRelease drops one level of ownership, handing off to the front
// of the queue when the depth reaches zero. Releasing a monitor t does
// not own aborts.
func monitorRelease(t *Thread, mon *Monitor) {
	expect(mon.owner.Load() == t, "release of a monitor not owned by the caller")

	mon.depth--
	if mon.depth != 0 {
		return
	}
	mon.owner.Store(nil)

	next := mon.pollAcquire(false)
	if next != nil && t.m.acquireSystem(t, next) {
		t.locked(next.lock, next.lock.notify)
		t.m.releaseSystem(t, next)
	}
}

func (mon *Monitor) appendWait(t *Thread) {
	expect(!t.HasFlag(WaitingFlag), "thread already waiting")
	expect(t.waitNext == nil, "thread already on a wait list")

	t.setFlag(WaitingFlag)
	if mon.waitTail != nil {
		mon.waitTail.waitNext = t
	} else {
		mon.waitHead = t
	}
	mon.waitTail = t
}

func (mon *Monitor) removeWait(t *Thread) {
	var previous *Thread
	for current := mon.waitHead; current != nil; current = current.waitNext {
		if current != t {
			previous = current
			continue
		}
		if t == mon.waitHead {
			mon.waitHead = t.waitNext
		} else {
			previous.waitNext = t.waitNext
		}
		if t == mon.waitTail {
			mon.waitTail = previous
		}
		t.waitNext = nil
		t.clearFlag(WaitingFlag)
		return
	}
	Abort("thread %p missing from monitor wait list", t)
}

func (mon *Monitor) findWait(t *Thread) bool {
	for current := mon.waitHead; current != nil; current = current.waitNext {
		if current == t {
			return true
		}
	}
	return false
}

func (mon *Monitor) pollWait() *Thread {
	next := mon.waitHead
	if next == nil {
		return nil
	}
	mon.waitHead = next.waitNext
	next.clearFlag(WaitingFlag)
	next.waitNext = nil
	if next == mon.waitTail {
		mon.waitTail = nil
	}
	return next
}

// monitorWait releases mon entirely, parks until notified, interrupted or
// millis elapse, then re-acquires it at the original depth. millis == 0
// waits until notified and millis < 0 does not park. It reports whether
// the wait ended because of an interrupt.
func monitorWait(t *Thread, mon *Monitor, millis int64) bool {
	expect(mon.owner.Load() == t, "wait on a monitor not owned by the caller")

	// allocated up front so re-acquiring cannot fail
	node := newMonitorNode(t)

	restore := t.EnterScoped(IdleState)
	t.lock.acquire()
	mon.appendWait(t)
	depth := mon.depth
	mon.depth = 1
	monitorRelease(t, mon)

	interrupted := t.lock.wait(millis, true)
	t.lock.release()
	restore()

	monitorAcquire(t, mon, node)
	mon.depth = depth

	if t.HasFlag(WaitingFlag) {
		mon.removeWait(t)
	} else {
		expect(!mon.findWait(t), "notified thread still on wait list")
	}
	return interrupted
}

// monitorNotify wakes the longest waiting thread, reporting whether there
// was one.
func monitorNotify(t *Thread, mon *Monitor) bool {
	expect(mon.owner.Load() == t, "notify on a monitor not owned by the caller")

	next := mon.pollWait()
	if next == nil {
		return false
	}
	t.locked(next.lock, next.lock.notify)
	return true
}

func monitorNotifyAll(t *Thread, mon *Monitor) {
	for monitorNotify(t, mon) {
	}
}

// ---------------------------------------------------------------------------
// Object monitors
// ---------------------------------------------------------------------------

// Acquire enters o's monitor, creating it on first use.
func (m *Machine) Acquire(t *Thread, o *Object) error {
	if o == nil {
		return m.throwNew(t, NullPointerExceptionType, "")
	}
	monitorAcquire(t, m.monitors.lookup(o, true), nil)
	return nil
}

// TryAcquire enters o's monitor only if it is immediately available.
func (m *Machine) TryAcquire(t *Thread, o *Object) bool {
	return monitorTryAcquire(t, m.monitors.lookup(o, true))
}

// Release exits o's monitor.
func (m *Machine) Release(t *Thread, o *Object) error {
	if o == nil {
		return m.throwNew(t, NullPointerExceptionType, "")
	}
	mon := m.monitors.lookup(o, false)
	if mon == nil {
		Abort("release of %s with no monitor", o)
	}
	monitorRelease(t, mon)
	return nil
}

// Synchronized runs fn holding o's monitor. The monitor is registered on
// t's resource stack so an unwind past this point releases it.
func (m *Machine) Synchronized(t *Thread, o *Object, fn func() error) error {
	if err := m.Acquire(t, o); err != nil {
		return err
	}
	r := monitorResource{o: o}
	t.PushResource(r)
	err := fn()
	t.PopResource(r)
	if rerr := m.Release(t, o); rerr != nil && err == nil {
		err = rerr
	}
	return err
}

// Wait waits on o's monitor. A caller that does not own it gets
// IllegalMonitorStateException. An interrupted wait raises
// InterruptedException, except that a daemon thread interrupted after the
// machine has stopped unwinds with the shutdown sentinel.
func (m *Machine) Wait(t *Thread, o *Object, millis int64) error {
	mon := m.monitors.lookup(o, false)
	if mon == nil || mon.owner.Load() != t {
		return m.throwNew(t, IllegalMonitorStateExceptionType, "")
	}
	if monitorWait(t, mon, millis) {
		if m.alive.Load() || !t.HasFlag(DaemonFlag) {
			return m.throwNew(t, InterruptedExceptionType, "")
		}
		return m.throwShutdown(t)
	}
	return nil
}

// Notify wakes one thread waiting on o.
func (m *Machine) Notify(t *Thread, o *Object) error {
	mon := m.monitors.lookup(o, false)
	if mon == nil || mon.owner.Load() != t {
		return m.throwNew(t, IllegalMonitorStateExceptionType, "")
	}
	monitorNotify(t, mon)
	return nil
}

// NotifyAll wakes every thread waiting on o.
func (m *Machine) NotifyAll(t *Thread, o *Object) error {
	mon := m.monitors.lookup(o, false)
	if mon == nil || mon.owner.Load() != t {
		return m.throwNew(t, IllegalMonitorStateExceptionType, "")
	}
	monitorNotifyAll(t, mon)
	return nil
}

// HoldsLock reports whether t owns o's monitor.
func (m *Machine) HoldsLock(t *Thread, o *Object) bool {
	mon := m.monitors.lookup(o, false)
	return mon != nil && mon.owner.Load() == t
}
