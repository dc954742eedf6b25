package vm

// Resource is a scoped thread resource (a held monitor, a pinned array
// buffer) released when the thread unwinds past the point it was pushed.
type Resource interface {
	Release(t *Thread)
}

// ResourceFunc adapts a function to Resource.
type ResourceFunc func(t *Thread)

func (f ResourceFunc) Release(t *Thread) { f(t) }

// Checkpoint records the depth of a thread's resource, protector and
// local reference stacks.
type Checkpoint struct {
	resources  int
	protectors int
	localRefs  int
	frames     int
}

// PushResource registers r for release at the next unwind.
func (t *Thread) PushResource(r Resource) {
	t.resources = append(t.resources, r)
}

// PopResource removes the most recent resource without releasing it.
func (t *Thread) PopResource(r Resource) {
	n := len(t.resources)
	expect(n > 0, "resource stack underflow")
	t.resources[n-1] = nil
	t.resources = t.resources[:n-1]
}

// Checkpoint captures the current stack depths.
func (t *Thread) Checkpoint() Checkpoint {
	return Checkpoint{
		resources:  len(t.resources),
		protectors: len(t.protectors),
		localRefs:  len(t.localRefs),
		frames:     len(t.frames),
	}
}

// UnwindTo releases every resource pushed since cp, newest first, and
// drops protectors, local reference frames and trace frames above it.
func (t *Thread) UnwindTo(cp Checkpoint) {
	t.unwindTo(cp)
}

func (t *Thread) unwindTo(cp Checkpoint) {
	for len(t.resources) > cp.resources {
		n := len(t.resources) - 1
		r := t.resources[n]
		t.resources[n] = nil
		t.resources = t.resources[:n]
		r.Release(t)
	}
	if len(t.protectors) > cp.protectors {
		clear(t.protectors[cp.protectors:])
		t.protectors = t.protectors[:cp.protectors]
	}
	// the base local frame survives a full unwind
	keep := max(cp.localRefs, 1)
	if len(t.localRefs) > keep {
		clear(t.localRefs[keep:])
		t.localRefs = t.localRefs[:keep]
	}
	if len(t.frames) > cp.frames {
		clear(t.frames[cp.frames:])
		t.frames = t.frames[:cp.frames]
	}
}

// monitorResource releases a monitor held on the resource stack.
type monitorResource struct {
	o *Object
}

func (r monitorResource) Release(t *Thread) {
	if err := t.m.Release(t, r.o); err != nil {
		log.Errorf("releasing monitor during unwind: %s", err)
	}
}
