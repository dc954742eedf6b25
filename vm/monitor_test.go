package vm

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Monitor tests
// ---------------------------------------------------------------------------

// queued counts threads waiting to acquire mon.
func queued(mon *Monitor) int {
	n := 0
	for node := mon.head.Load().next.Load(); node != nil; node = node.next.Load() {
		n++
	}
	return n
}

// eventually polls cond for up to five seconds.
func eventually(tb testing.TB, what string, cond func() bool) {
	tb.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			tb.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func lockObject(tb testing.TB, m *testMachine) *Object {
	tb.Helper()
	o, err := m.Make(m.t, m.Types().Object)
	if err != nil {
		tb.Fatalf("Make: %v", err)
	}
	return o
}

func TestMonitorReentrant(t *testing.T) {
	m := newTestMachine(t, nil, nil)
	o := lockObject(t, m)

	for i := 0; i < 3; i++ {
		if err := m.Acquire(m.t, o); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
	}
	mon := m.monitors.lookup(o, false)
	if mon.Owner() != m.t || mon.Depth() != 3 {
		t.Errorf("owner=%v depth=%d, want root and 3", mon.Owner(), mon.Depth())
	}
	if !m.HoldsLock(m.t, o) {
		t.Error("HoldsLock should be true")
	}
	for i := 0; i < 3; i++ {
		if err := m.Release(m.t, o); err != nil {
			t.Fatalf("Release: %v", err)
		}
	}
	if m.HoldsLock(m.t, o) || mon.Owner() != nil {
		t.Error("monitor should be free after matching releases")
	}
}

func TestMonitorNull(t *testing.T) {
	m := newTestMachine(t, nil, nil)
	throwable(t, m.Acquire(m.t, nil), "java/lang/NullPointerException")
	throwable(t, m.Release(m.t, nil), "java/lang/NullPointerException")
}

func TestMonitorFIFO(t *testing.T) {
	m := newTestMachine(t, nil, nil)
	o := lockObject(t, m)
	release := m.t.Protect(&o)
	defer release()

	if err := m.Acquire(m.t, o); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	mon := m.monitors.lookup(o, false)

	const workers = 5
	var mu sync.Mutex
	var order []int
	var threads []*Thread
	for i := 0; i < workers; i++ {
		i := i
		th, err := m.StartThread(m.t, nil, func(t *Thread) error {
			if err := m.Acquire(t, o); err != nil {
				return err
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return m.Release(t, o)
		})
		if err != nil {
			t.Fatalf("StartThread: %v", err)
		}
		threads = append(threads, th)
		// only start the next contender once this one is in line
		eventually(t, "worker to queue", func() bool { return queued(mon) == i+1 })
	}

	if m.TryAcquire(threads[0], o) {
		t.Error("TryAcquire must not jump the queue")
	}
	if err := m.Release(m.t, o); err != nil {
		t.Fatalf("Release: %v", err)
	}
	for _, th := range threads {
		m.t.Join(th)
	}

	for i, got := range order {
		if got != i {
			t.Fatalf("acquire order = %v, want queue order", order)
		}
	}
	if len(order) != workers {
		t.Errorf("%d workers ran, want %d", len(order), workers)
	}
}

func TestWaitRequiresOwnership(t *testing.T) {
	m := newTestMachine(t, nil, nil)
	o := lockObject(t, m)

	throwable(t, m.Wait(m.t, o, 1), "java/lang/IllegalMonitorStateException")
	throwable(t, m.Notify(m.t, o), "java/lang/IllegalMonitorStateException")
	throwable(t, m.NotifyAll(m.t, o), "java/lang/IllegalMonitorStateException")
}

func TestWaitNotify(t *testing.T) {
	m := newTestMachine(t, nil, nil)
	o := lockObject(t, m)
	release := m.t.Protect(&o)
	defer release()

	var waitErr error
	depth := -1
	worker, err := m.StartThread(m.t, nil, func(t *Thread) error {
		return m.Synchronized(t, o, func() error {
			// reentered once so the wait must restore depth 2
			if err := m.Acquire(t, o); err != nil {
				return err
			}
			waitErr = m.Wait(t, o, 0)
			depth = m.monitors.lookup(o, false).Depth()
			return m.Release(t, o)
		})
	})
	if err != nil {
		t.Fatalf("StartThread: %v", err)
	}
	eventually(t, "worker to wait", func() bool { return worker.HasFlag(WaitingFlag) })

	err = m.Synchronized(m.t, o, func() error {
		return m.Notify(m.t, o)
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	m.t.Join(worker)

	if waitErr != nil {
		t.Errorf("Wait = %v, want nil", waitErr)
	}
	if depth != 2 {
		t.Errorf("depth after wait = %d, want 2", depth)
	}
	if m.HoldsLock(worker, o) {
		t.Error("worker should have released the monitor")
	}
}

func TestNotifyAll(t *testing.T) {
	m := newTestMachine(t, nil, nil)
	o := lockObject(t, m)
	release := m.t.Protect(&o)
	defer release()

	const workers = 3
	var threads []*Thread
	for i := 0; i < workers; i++ {
		th, err := m.StartThread(m.t, nil, func(t *Thread) error {
			return m.Synchronized(t, o, func() error { return m.Wait(t, o, 0) })
		})
		if err != nil {
			t.Fatalf("StartThread: %v", err)
		}
		threads = append(threads, th)
		eventually(t, "worker to wait", func() bool { return th.HasFlag(WaitingFlag) })
	}

	if err := m.Synchronized(m.t, o, func() error { return m.NotifyAll(m.t, o) }); err != nil {
		t.Fatalf("NotifyAll: %v", err)
	}
	for _, th := range threads {
		m.t.Join(th)
	}
}

func TestTimedWait(t *testing.T) {
	m := newTestMachine(t, nil, nil)
	o := lockObject(t, m)

	start := time.Now()
	err := m.Synchronized(m.t, o, func() error { return m.Wait(m.t, o, 20) })
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("timed wait returned after %s", elapsed)
	}
	if m.HoldsLock(m.t, o) {
		t.Error("Synchronized should release after the wait")
	}
}

func TestInterruptWait(t *testing.T) {
	m := newTestMachine(t, nil, nil)
	o := lockObject(t, m)
	release := m.t.Protect(&o)
	defer release()

	var waitErr error
	worker, err := m.StartThread(m.t, nil, func(t *Thread) error {
		return m.Synchronized(t, o, func() error {
			waitErr = m.Wait(t, o, 0)
			return nil
		})
	})
	if err != nil {
		t.Fatalf("StartThread: %v", err)
	}
	eventually(t, "worker to wait", func() bool { return worker.HasFlag(WaitingFlag) })

	m.Interrupt(m.t, worker)
	m.t.Join(worker)

	throwable(t, waitErr, "java/lang/InterruptedException")
}

func TestSleepInterrupted(t *testing.T) {
	m := newTestMachine(t, nil, nil)

	m.Interrupt(m.t, m.t)
	if !m.IsInterrupted(m.t, m.t) {
		t.Fatal("interrupt flag should be set")
	}
	throwable(t, m.Sleep(m.t, 10_000), "java/lang/InterruptedException")
	if m.IsInterrupted(m.t, m.t) {
		t.Error("sleep should consume the interrupt")
	}

	if err := m.Sleep(m.t, 1); err != nil {
		t.Errorf("Sleep = %v", err)
	}
}

func TestSynchronizedReleasesOnError(t *testing.T) {
	m := newTestMachine(t, nil, nil)
	o := lockObject(t, m)
	boom := errors.New("boom")

	err := m.Synchronized(m.t, o, func() error {
		if !m.HoldsLock(m.t, o) {
			t.Error("fn should run holding the monitor")
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if m.HoldsLock(m.t, o) {
		t.Error("monitor still held after fn failed")
	}
}

func TestParkUnpark(t *testing.T) {
	m := newTestMachine(t, nil, nil)

	m.Unpark(m.t)
	m.Park(m.t, false, 0) // permit already available

	start := time.Now()
	m.Park(m.t, false, 10)
	if time.Since(start) < 10*time.Millisecond {
		t.Error("timed park returned early")
	}
	m.Park(m.t, true, time.Now().Add(-time.Second).UnixMilli())
}
