package vm

import (
	"sync/atomic"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Weak reference, finalizer and collector tests
// ---------------------------------------------------------------------------

func TestWeakReferenceClearedAndQueued(t *testing.T) {
	m := newTestMachine(t, nil, nil)

	queue, err := m.Make(m.t, m.Types().ReferenceQueue)
	if err != nil {
		t.Fatal(err)
	}
	releaseQueue := m.t.Protect(&queue)
	defer releaseQueue()

	target, err := m.Make(m.t, m.Types().Object)
	if err != nil {
		t.Fatal(err)
	}
	r, err := m.MakeWeakReference(m.t, nil, target, queue)
	if err != nil {
		t.Fatal(err)
	}
	releaseRef := m.t.Protect(&r)
	defer releaseRef()

	if m.ReferenceGet(m.t, r) != target {
		t.Fatal("ReferenceGet should return the target before collection")
	}
	if m.WeakReferenceCount(m.t) == 0 {
		t.Error("new weak reference is not tracked")
	}

	m.Collect(m.t, MajorCollection)
	if got := m.ReferenceGet(m.t, r); got != nil {
		t.Errorf("target survived with only a weak reference: %v", got)
	}
	if got := m.PollReferenceQueue(m.t, queue); got != r {
		t.Errorf("PollReferenceQueue = %v, want the cleared reference", got)
	}
	if got := m.PollReferenceQueue(m.t, queue); got != nil {
		t.Errorf("second poll = %v, want empty queue", got)
	}
}

func TestWeakReferenceKeepsReachableTarget(t *testing.T) {
	m := newTestMachine(t, nil, nil)

	target, err := m.MakeString(m.t, "strong")
	if err != nil {
		t.Fatal(err)
	}
	releaseTarget := m.t.Protect(&target)
	defer releaseTarget()
	r, err := m.MakeWeakReference(m.t, nil, target, nil)
	if err != nil {
		t.Fatal(err)
	}
	releaseRef := m.t.Protect(&r)
	defer releaseRef()

	// survive into the tenured list and through a major collection there
	for range 3 {
		m.Collect(m.t, MinorCollection)
	}
	m.Collect(m.t, MajorCollection)
	if m.ReferenceGet(m.t, r) != target {
		t.Error("reachable target was cleared")
	}
	m.ReferenceClear(m.t, r)
	if m.ReferenceGet(m.t, r) != nil {
		t.Error("ReferenceClear should drop the target")
	}
}

func TestUnreachableReferenceIsForgotten(t *testing.T) {
	m := newTestMachine(t, nil, nil)
	before := m.WeakReferenceCount(m.t)

	target, err := m.Make(m.t, m.Types().Object)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.MakeWeakReference(m.t, nil, target, nil); err != nil {
		t.Fatal(err)
	}
	m.Collect(m.t, MajorCollection)
	if got := m.WeakReferenceCount(m.t); got != before {
		t.Errorf("WeakReferenceCount = %d, want %d", got, before)
	}
}

func TestHostFinalizer(t *testing.T) {
	m := newTestMachine(t, nil, nil)

	o, err := m.Make(m.t, m.Types().Object)
	if err != nil {
		t.Fatal(err)
	}
	var finalized []*Object
	m.AddFinalizer(m.t, o, func(t *Thread, o *Object) {
		finalized = append(finalized, o)
	})
	if m.FinalizerCount(m.t) != 1 {
		t.Fatalf("FinalizerCount = %d, want 1", m.FinalizerCount(m.t))
	}

	m.Collect(m.t, MajorCollection)
	if len(finalized) != 1 || finalized[0] != o {
		t.Fatalf("finalized = %v, want [%p]", finalized, o)
	}
	if m.FinalizerCount(m.t) != 0 {
		t.Errorf("FinalizerCount = %d after finalization", m.FinalizerCount(m.t))
	}
	m.Collect(m.t, MajorCollection)
	if len(finalized) != 1 {
		t.Error("finalizer ran more than once")
	}
}

func TestFinalizeMethodRunsOnFinalizerThread(t *testing.T) {
	fin := newClassBuilder("p/Fin", NameObject).
		method(AccProtected|AccNative, "finalize", "()V")
	m := newTestMachine(t, nil, mapFinder{}.add(fin))

	var calls atomic.Int32
	var ranOn atomic.Pointer[Thread]
	m.Natives().Register("Avian_p_Fin_finalize", func(t *Thread, _ *Method, a *Arguments) (Value, error) {
		ranOn.Store(t)
		calls.Add(1)
		return Value{}, nil
	})

	c, err := m.ResolveClass(m.t, m.AppLoader, "p/Fin", true, NoClassDefFoundErrorType)
	if err != nil {
		t.Fatal(err)
	}
	if !c.HasVMFlag(HasFinalizerFlag) {
		t.Fatal("class with a native finalize should be finalizable")
	}
	if _, err := m.Make(m.t, c); err != nil {
		t.Fatal(err)
	}

	m.Collect(m.t, MajorCollection)
	eventually(t, "finalize to run", func() bool { return calls.Load() == 1 })
	if ranOn.Load() == m.t {
		t.Error("finalize ran on the collecting thread")
	}
	eventually(t, "finalizer stats", func() bool {
		s := m.finalizerThread.LastStats()
		return s != nil && s.Finalized == 1
	})
}

func TestPeriodicCollector(t *testing.T) {
	m := newTestMachine(t, nil, nil, "-Davian.gc.interval=5ms")
	if m.collector == nil {
		t.Fatal("a positive interval should start the collector")
	}

	// the collector needs every other thread at a safepoint
	restore := m.t.EnterScoped(IdleState)
	eventually(t, "a periodic collection", func() bool { return m.collector.Count() > 0 })
	restore()

	s := m.collector.LastStats()
	if s == nil || s.Type != MinorCollection {
		t.Fatalf("LastStats = %+v", s)
	}

	m.collector.SetEnabled(false)
	restore = m.t.EnterScoped(IdleState)
	// a collection already waiting for the world to stop may still finish
	time.Sleep(20 * time.Millisecond)
	n := m.collector.Count()
	time.Sleep(30 * time.Millisecond)
	restore()
	if m.collector.Count() != n {
		t.Error("disabled collector kept collecting")
	}
}
