package vm

import (
	"sync"
	"sync/atomic"
	"time"
)

// ---------------------------------------------------------------------------
// Finalization
// ---------------------------------------------------------------------------

// finalizer records an object to be finalized once unreachable. With fn
// set the collector calls fn itself right after the collection; without
// it the object's finalize()V method runs on the finalizer thread.
type finalizer struct {
	target *Object
	fn     func(t *Thread, o *Object)
}

// AddFinalizer registers o for finalization.
func (m *Machine) AddFinalizer(t *Thread, o *Object, fn func(t *Thread, o *Object)) {
	unlock := t.acquire(&m.referenceLock)
	defer unlock()
	m.finalizers = append(m.finalizers, &finalizer{target: o, fn: fn})
}

// FinalizerCount returns the number of registered finalizers.
func (m *Machine) FinalizerCount(t *Thread) int {
	unlock := t.acquire(&m.referenceLock)
	defer unlock()
	return len(m.finalizers) + len(m.tenuredFinalizers)
}

// processFinalizers runs during PostVisit, before weak references are
// processed, and resurrects every unreachable target it queues.
func (m *Machine) processFinalizers(v HeapVisitor) {
	h := m.heap
	var kept, tenured []*finalizer

	for _, f := range m.finalizers {
		if h.Status(f.target) == StatusUnreachable {
			m.finalizerTargetUnreachable(v, f)
			continue
		}
		v.Visit(f.target)
		if h.Status(f.target) == StatusTenured {
			tenured = append(tenured, f)
		} else {
			kept = append(kept, f)
		}
	}

	if h.CollectionType() == MajorCollection {
		var keptTenured []*finalizer
		for _, f := range m.tenuredFinalizers {
			if h.Status(f.target) == StatusUnreachable {
				m.finalizerTargetUnreachable(v, f)
				continue
			}
			v.Visit(f.target)
			keptTenured = append(keptTenured, f)
		}
		m.tenuredFinalizers = keptTenured
	}

	m.finalizers = kept
	m.tenuredFinalizers = append(m.tenuredFinalizers, tenured...)
}

func (m *Machine) finalizerTargetUnreachable(v HeapVisitor, f *finalizer) {
	v.Visit(f.target)
	if f.fn != nil {
		m.finalizeQueue = append(m.finalizeQueue, f)
	} else {
		m.objectsToFinalize = append(m.objectsToFinalize, f.target)
	}
}

// runFinalizeQueue calls the host finalizers queued by the last
// collection. It runs in exclusive state.
func (m *Machine) runFinalizeQueue(t *Thread) {
	queue := m.finalizeQueue
	m.finalizeQueue = nil
	for _, f := range queue {
		f.fn(t, f.target)
	}
}

// ---------------------------------------------------------------------------
// Finalizer thread
// ---------------------------------------------------------------------------

// FinalizerStats describes one pass of the finalizer thread.
type FinalizerStats struct {
	Finalized int
	Cleaned   int
	Failed    int
	Duration  time.Duration
	Timestamp time.Time
}

// finalizerThread is a daemon VM thread that runs finalize() and
// Cleaner.clean() for the objects the collector queues.
type finalizerThread struct {
	m      *Machine
	signal chan struct{}
	mu     sync.Mutex // protects start/stop lifecycle

	stop    chan struct{}
	stopped chan struct{}
	thread  *Thread

	passes    atomic.Uint64
	lastStats atomic.Value // *FinalizerStats
}

func newFinalizerThread(m *Machine) *finalizerThread {
	return &finalizerThread{m: m, signal: make(chan struct{}, 1)}
}

// wake asks the thread to drain the queues. It never blocks.
func (ft *finalizerThread) wake() {
	select {
	case ft.signal <- struct{}{}:
	default:
	}
}

// start runs the loop on a new daemon thread whose parent is parent. It
// is safe to call more than once.
func (ft *finalizerThread) start(parent *Thread) error {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if ft.stop != nil {
		return nil
	}
	jt, err := ft.m.makeJavaThread(parent, "finalizer", true)
	if err != nil {
		return err
	}
	stopCh := make(chan struct{})
	stoppedCh := make(chan struct{})
	th, err := ft.m.StartThread(parent, jt, func(t *Thread) error {
		defer close(stoppedCh)
		ft.loop(t, stopCh)
		return nil
	})
	if err != nil {
		return err
	}
	ft.stop = stopCh
	ft.stopped = stoppedCh
	ft.thread = th
	return nil
}

// halt stops the loop and waits for it to finish. t must not be the
// finalizer thread.
func (ft *finalizerThread) halt(t *Thread) {
	unlock := t.acquire(&ft.mu)
	stopCh := ft.stop
	stoppedCh := ft.stopped
	ft.stop = nil
	ft.stopped = nil
	unlock()

	if stopCh != nil {
		close(stopCh)
		restore := t.EnterScoped(IdleState)
		<-stoppedCh
		restore()
	}
}

// Passes returns how many times the thread drained the queues.
func (ft *finalizerThread) Passes() uint64 {
	return ft.passes.Load()
}

// LastStats returns the most recent pass, or nil.
func (ft *finalizerThread) LastStats() *FinalizerStats {
	v := ft.lastStats.Load()
	if v == nil {
		return nil
	}
	return v.(*FinalizerStats)
}

func (ft *finalizerThread) loop(t *Thread, stop <-chan struct{}) {
	for {
		restore := t.EnterScoped(IdleState)
		select {
		case <-stop:
			restore()
			return
		case <-ft.signal:
		}
		restore()
		ft.drain(t)
	}
}

func (ft *finalizerThread) drain(t *Thread) {
	m := ft.m
	start := time.Now()
	stats := &FinalizerStats{Timestamp: start}

	unlock := t.acquire(&m.referenceLock)
	toFinalize := m.objectsToFinalize
	toClean := m.objectsToClean
	m.objectsToFinalize = nil
	m.objectsToClean = nil
	unlock()

	for _, o := range toFinalize {
		if m.finalizeObject(t, o, "finalize") {
			stats.Finalized++
		} else {
			stats.Failed++
		}
	}
	for _, o := range toClean {
		if m.finalizeObject(t, o, "clean") {
			stats.Cleaned++
		} else {
			stats.Failed++
		}
	}

	stats.Duration = time.Since(start)
	ft.passes.Add(1)
	ft.lastStats.Store(stats)
}

// finalizeObject invokes the named ()V method of o's class. Failures are
// logged and swallowed.
func (m *Machine) finalizeObject(t *Thread, o *Object, name string) bool {
	for c := o.Class(); c != nil; c = c.Super {
		method := c.FindMethod(name, "()V")
		if method == nil {
			continue
		}
		cp := t.Checkpoint()
		_, err := m.processor.Invoke(t, method, o, nil)
		t.UnwindTo(cp)
		if err != nil {
			log.Debugf("%s.%s failed: %s", c.Name, name, err)
			t.exception = nil
			return false
		}
		return true
	}
	return false
}
