package vm

// ---------------------------------------------------------------------------
// Weak references
// ---------------------------------------------------------------------------
//
// Instances of classes with WeakReferenceFlag are recorded in
// Machine.weakReferences when made. Their target and queue fields are not
// traced; after the strong graph is marked the collector clears the
// target of every reference whose target died, and pushes the reference
// onto its queue if the queue itself is still reachable. References that
// reach tenure move to tenuredWeakReferences, which only a major
// collection revisits. Only the collector, in exclusive state, moves
// entries between these lists.

// ReferenceGet returns the target of a java/lang/ref/Reference.
func (m *Machine) ReferenceGet(t *Thread, r *Object) *Object {
	return r.GetRef(m.referenceTarget)
}

// ReferenceClear drops the target of r.
func (m *Machine) ReferenceClear(t *Thread, r *Object) {
	r.SetRef(m.referenceTarget, nil)
}

// MakeWeakReference allocates a reference of class (WeakReference when
// nil) to target, optionally registered with queue.
func (m *Machine) MakeWeakReference(t *Thread, class *Class, target, queue *Object) (*Object, error) {
	if class == nil {
		class = m.types.WeakReference
	}
	expect(class.HasVMFlag(WeakReferenceFlag), "weak reference of a strong class")
	release := t.Protect(&target)
	defer release()
	releaseQueue := t.Protect(&queue)
	defer releaseQueue()

	r, err := m.Make(t, class)
	if err != nil {
		return nil, err
	}
	r.SetRef(m.referenceTarget, target)
	r.SetRef(m.referenceQueue, queue)
	return r, nil
}

// PollReferenceQueue removes and returns the front of a ReferenceQueue,
// or nil when it is empty.
func (m *Machine) PollReferenceQueue(t *Thread, queue *Object) *Object {
	unlock := t.acquire(&m.referenceLock)
	defer unlock()
	front := queue.GetRef(m.queueFront)
	if front == nil {
		return nil
	}
	next := front.GetRef(m.referenceNext)
	if next == front {
		next = nil
	}
	queue.SetRef(m.queueFront, next)
	front.SetRef(m.referenceNext, nil)
	return front
}

// WeakReferenceCount returns the number of references the collector is
// tracking.
func (m *Machine) WeakReferenceCount(t *Thread) int {
	unlock := t.acquire(&m.referenceLock)
	defer unlock()
	return len(m.weakReferences) + len(m.tenuredWeakReferences)
}

// processWeakReferences runs during PostVisit.
func (m *Machine) processWeakReferences(v HeapVisitor) {
	h := m.heap
	var kept, tenured []*Object

	for _, r := range m.weakReferences {
		switch {
		case h.Status(r) == StatusUnreachable:
			m.referenceUnreachable(v, r)
		case h.Status(r.GetRef(m.referenceTarget)) == StatusUnreachable:
			m.referenceTargetUnreachable(v, r)
		default:
			m.referenceTargetReachable(v, r)
			if h.Status(r) == StatusTenured {
				tenured = append(tenured, r)
			} else {
				kept = append(kept, r)
			}
		}
	}

	if h.CollectionType() == MajorCollection {
		var keptTenured []*Object
		for _, r := range m.tenuredWeakReferences {
			switch {
			case h.Status(r) == StatusUnreachable:
				m.referenceUnreachable(v, r)
			case h.Status(r.GetRef(m.referenceTarget)) == StatusUnreachable:
				m.referenceTargetUnreachable(v, r)
			default:
				m.referenceTargetReachable(v, r)
				keptTenured = append(keptTenured, r)
			}
		}
		m.tenuredWeakReferences = keptTenured
	}

	m.weakReferences = kept
	m.tenuredWeakReferences = append(m.tenuredWeakReferences, tenured...)
}

// referenceUnreachable handles a reference that is itself garbage: it is
// only kept if a live queue expects it.
func (m *Machine) referenceUnreachable(v HeapVisitor, r *Object) {
	q := r.GetRef(m.referenceQueue)
	if q != nil && m.heap.Status(q) != StatusUnreachable {
		m.referenceTargetUnreachable(v, r)
	}
}

func (m *Machine) referenceTargetUnreachable(v HeapVisitor, r *Object) {
	v.Visit(r)
	r.SetRef(m.referenceTarget, nil)

	if r.Class() == m.types.Cleaner {
		m.objectsToClean = append(m.objectsToClean, r)
		return
	}
	q := r.GetRef(m.referenceQueue)
	if q == nil || m.heap.Status(q) == StatusUnreachable {
		return
	}
	v.Visit(q)
	// the last reference on a queue links to itself
	if front := q.GetRef(m.queueFront); front != nil {
		r.SetRef(m.referenceNext, front)
	} else {
		r.SetRef(m.referenceNext, r)
	}
	q.SetRef(m.queueFront, r)
	r.SetRef(m.referenceQueue, nil)
}

func (m *Machine) referenceTargetReachable(v HeapVisitor, r *Object) {
	v.Visit(r)
	v.Visit(r.GetRef(m.referenceTarget))
	q := r.GetRef(m.referenceQueue)
	if q == nil {
		return
	}
	if m.heap.Status(q) == StatusUnreachable {
		r.SetRef(m.referenceQueue, nil)
	} else {
		v.Visit(q)
	}
}
