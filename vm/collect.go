package vm

import (
	"sync"
	"sync/atomic"
	"time"
)

// ---------------------------------------------------------------------------
// Collection
// ---------------------------------------------------------------------------

// Collect runs a collection of the given type on behalf of t.
func (m *Machine) Collect(t *Thread, typ CollectionType) {
	unlock := t.acquire(&m.heapLock)
	defer unlock()
	m.collect(t, typ, 0)
}

// collect stops the world, escalating to a major collection when the
// heap is already over its limit. A minor collection that leaves no room
// for the pending bytes is followed by a major one. Callers hold
// heapLock.
func (m *Machine) collect(t *Thread, typ CollectionType, pending int) {
	restore := t.EnterScoped(ExclusiveState)
	defer restore()

	if m.heap.LimitExceeded(0) {
		typ = MajorCollection
	}
	m.doCollect(t, typ)
	if typ == MinorCollection && m.heap.LimitExceeded(pending) {
		m.doCollect(t, MajorCollection)
	}
}

func (m *Machine) doCollect(t *Thread, typ CollectionType) {
	expect(!m.collecting, "recursive collection")
	m.collecting = true
	defer func() { m.collecting = false }()

	before := m.heap.Stats()

	// cells bumped out of thread arenas join the heap here
	visitThreads(m.RootThread, func(th *Thread) {
		for _, o := range th.allocated {
			m.heap.Track(o)
		}
		th.allocated = nil
	})

	m.heap.Collect(heapClient{m}, typ, 0)

	visitThreads(m.RootThread, func(th *Thread) {
		th.hasArena = false
		th.heapIndex = 0
		if th.HasFlag(UseBackupHeapFlag) {
			th.clearFlag(UseBackupHeapFlag)
			th.backupHeapIndex = 0
		}
	})

	for i := 0; i < m.heapPoolIndex; i++ {
		m.heap.Free(ThreadHeapSizeInBytes)
	}
	m.heapPoolIndex = 0

	if m.heap.LimitExceeded(0) {
		// out of memory: refuse further fixed allocations
		m.fixedFootprint = FixedFootprintThresholdInBytes
	} else {
		m.fixedFootprint = 0
	}

	live := func(o *Object) bool { return m.heap.Status(o) != StatusUnreachable }
	droppedMonitors := m.monitors.sweep(live)
	droppedStrings := m.strings.sweep(live)

	m.runFinalizeQueue(t)
	if len(m.objectsToFinalize) > 0 || len(m.objectsToClean) > 0 {
		m.finalizerThread.wake()
	}

	after := m.heap.Stats()
	log.Debugf("%s collection: %d -> %d bytes, %d monitors and %d strings dropped",
		typ, before.Allocated, after.Allocated, droppedMonitors, droppedStrings)
}

// heapClient adapts the machine to HeapClient.
type heapClient struct {
	m *Machine
}

// VisitRoots reports every strong root. It runs in exclusive state, so
// the class and reference tables are read without their locks.
func (c heapClient) VisitRoots(v HeapVisitor) {
	m := c.m
	for _, l := range m.loaders {
		v.Visit(l.peer.Load())
		for _, k := range l.classes {
			v.Visit(k.AsObject())
		}
	}
	for _, k := range m.bootstrapClasses {
		v.Visit(k.AsObject())
	}
	for _, k := range m.types.primitives {
		v.Visit(k.AsObject())
	}

	visitThreads(m.RootThread, func(t *Thread) {
		v.Visit(t.javaThread)
		v.Visit(t.exception)
		for _, p := range t.protectors {
			v.Visit(*p)
		}
		for _, f := range t.localRefs {
			f.forEach(v.Visit)
		}
		for _, f := range t.frames {
			v.Visit(f.This)
			for _, a := range f.Args {
				v.Visit(a.ref)
			}
		}
	})

	m.globalRefs.forEach(v.Visit)
	for _, o := range m.objectsToFinalize {
		v.Visit(o)
	}
	for _, o := range m.objectsToClean {
		v.Visit(o)
	}
	for _, o := range m.shutdownHooks {
		v.Visit(o)
	}
	v.Visit(m.roots.outOfMemoryError)
	v.Visit(m.roots.shutdown)
}

// Walk reports the references held by o. The target and queue of a weak
// reference are left to PostVisit.
func (c heapClient) Walk(o *Object, visit func(*Object)) {
	m := c.m
	class := o.Class()
	if class != nil {
		visit(class.AsObject())
	}
	weak := class != nil && class.HasVMFlag(WeakReferenceFlag)
	o.ForEachRef(func(i int, r *Object) {
		if weak {
			switch i * BytesPerWord {
			case m.referenceTarget, m.referenceQueue:
				return
			}
		}
		visit(r)
	})

	if k, ok := o.native.(*Class); ok {
		if k.Static != nil {
			k.Static.ForEachRef(func(_ int, r *Object) { visit(r) })
		}
		if k.Pool != nil {
			k.Pool.ForEachResolved(visit)
		}
		if mirror := k.mirror.Load(); mirror != nil {
			visit(mirror)
		}
		if k.Loader != nil {
			visit(k.Loader.peer.Load())
		}
	}
}

func (c heapClient) PostVisit(v HeapVisitor) {
	c.m.processFinalizers(v)
	c.m.processWeakReferences(v)
	if n := c.m.globalRefs.sweepWeak(c.m.heap); n > 0 {
		log.Debugf("cleared %d weak global references", n)
	}
}

// ---------------------------------------------------------------------------
// Collector: periodic background collection
// ---------------------------------------------------------------------------

// CollectorStats holds statistics from a single periodic collection.
type CollectorStats struct {
	Type      CollectionType
	Before    int
	After     int
	Duration  time.Duration
	Timestamp time.Time
}

// Collector periodically runs a minor collection on its own VM thread,
// so long-running embedders reclaim memory even when allocation is slow.
type Collector struct {
	m        *Machine
	interval time.Duration
	enabled  atomic.Bool
	stop     chan struct{}
	stopped  chan struct{}
	mu       sync.Mutex // protects start/stop lifecycle

	count     atomic.Uint64
	lastStats atomic.Value // *CollectorStats
}

// DefaultCollectInterval is the default period of the Collector.
const DefaultCollectInterval = 30 * time.Second

// NewCollector returns a stopped Collector for m.
func NewCollector(m *Machine, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = DefaultCollectInterval
	}
	c := &Collector{m: m, interval: interval}
	c.enabled.Store(true)
	return c
}

// Start begins the periodic loop. It is safe to call Start multiple
// times; only one loop will run.
func (c *Collector) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		return nil
	}
	stopCh := make(chan struct{})
	stoppedCh := make(chan struct{})
	_, err := c.m.StartThread(c.m.RootThread, nil, func(t *Thread) error {
		c.m.setDaemon(t, true)
		defer close(stoppedCh)
		c.loop(t, stopCh)
		return nil
	})
	if err != nil {
		return err
	}
	c.stop = stopCh
	c.stopped = stoppedCh
	return nil
}

// Stop halts the loop and waits, idle, for it to finish. It is safe to
// call Stop multiple times or on a Collector that was never started.
func (c *Collector) Stop(t *Thread) {
	unlock := t.acquire(&c.mu)
	stopCh := c.stop
	stoppedCh := c.stopped
	c.stop = nil
	c.stopped = nil
	unlock()

	if stopCh != nil {
		close(stopCh)
		restore := t.EnterScoped(IdleState)
		<-stoppedCh
		restore()
	}
}

// SetEnabled enables or disables collection without stopping the loop.
func (c *Collector) SetEnabled(enabled bool) {
	c.enabled.Store(enabled)
}

// Count returns how many collections the loop has run.
func (c *Collector) Count() uint64 {
	return c.count.Load()
}

// LastStats returns the most recent collection, or nil.
func (c *Collector) LastStats() *CollectorStats {
	v := c.lastStats.Load()
	if v == nil {
		return nil
	}
	return v.(*CollectorStats)
}

func (c *Collector) loop(t *Thread, stop <-chan struct{}) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		restore := t.EnterScoped(IdleState)
		select {
		case <-stop:
			restore()
			return
		case <-ticker.C:
		}
		restore()
		if c.enabled.Load() {
			c.collectNow(t)
		}
	}
}

func (c *Collector) collectNow(t *Thread) *CollectorStats {
	start := time.Now()
	stats := &CollectorStats{Type: MinorCollection, Timestamp: start}

	unlock := t.acquire(&c.m.heapLock)
	stats.Before = c.m.heap.Stats().Allocated
	c.m.collect(t, MinorCollection, 0)
	stats.After = c.m.heap.Stats().Allocated
	unlock()

	stats.Duration = time.Since(start)
	c.count.Add(1)
	c.lastStats.Store(stats)
	return stats
}
