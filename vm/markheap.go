package vm

import (
	"sync/atomic"
	"time"
)

// ---------------------------------------------------------------------------
// MarkHeap: reference Heap
// ---------------------------------------------------------------------------

// MarkHeap is a generational mark-sweep accountant. It does not own
// memory (cells are ordinary Go values) but it decides which cells are
// live, enforces the byte limit, promotes survivors and drops what it
// reclaims so the Go collector can free it.
//
// Minor collections mark the whole graph but only reclaim young cells;
// tenured cells stay until a major collection.
type MarkHeap struct {
	limit int

	arenas     int // reserved arena bytes
	liveBytes  int // young and tenured survivors
	fixedBytes int

	nursery []*Object // allocated since the last collection
	young   []*Object
	old     []*Object
	fixed   []*Object

	epoch uint32
	typ   CollectionType

	minor     atomic.Uint64
	major     atomic.Uint64
	reclaimed atomic.Uint64
	lastPause atomic.Int64
}

// NewMarkHeap returns a heap limited to limit bytes.
func NewMarkHeap(limit int) *MarkHeap {
	if limit <= 0 {
		limit = DefaultHeapSizeInBytes
	}
	return &MarkHeap{limit: limit, epoch: 1}
}

func (h *MarkHeap) Limit() int { return h.limit }

func (h *MarkHeap) used() int {
	return h.arenas + h.liveBytes + h.fixedBytes
}

func (h *MarkHeap) LimitExceeded(pending int) bool {
	return h.used()+pending > h.limit
}

func (h *MarkHeap) TryAllocate(size int) bool {
	if h.LimitExceeded(size) {
		return false
	}
	h.arenas += size
	return true
}

func (h *MarkHeap) Free(size int) {
	h.arenas -= size
	expect(h.arenas >= 0, "arena accounting underflow")
}

func (h *MarkHeap) Track(o *Object) {
	o.gen.tracked = true
	h.nursery = append(h.nursery, o)
}

func (h *MarkHeap) AllocateFixed(o *Object, immortal bool) int {
	o.gen.tracked = true
	o.gen.fixed = true
	o.gen.immune = immortal
	o.setMark(MarkFixed)
	total := o.SizeInBytes()
	h.fixed = append(h.fixed, o)
	h.fixedBytes += total
	return total
}

func (h *MarkHeap) CollectionType() CollectionType { return h.typ }

func (h *MarkHeap) marked(o *Object) bool {
	return o.gen.epoch.Load() == h.epoch
}

func (h *MarkHeap) Status(o *Object) ObjectStatus {
	switch {
	case o == nil:
		return StatusNull
	case h.marked(o):
		if o.gen.tenured {
			return StatusTenured
		}
		return StatusReachable
	case !o.gen.tracked || o.gen.immune:
		return StatusReachable
	case h.typ == MinorCollection && o.gen.tenured:
		return StatusTenured
	}
	return StatusUnreachable
}

// heapMarker marks cells depth first with an explicit stack.
type heapMarker struct {
	h      *MarkHeap
	client HeapClient
	stack  []*Object
}

func (v *heapMarker) Visit(o *Object) {
	if o == nil || v.h.marked(o) {
		return
	}
	o.gen.epoch.Store(v.h.epoch)
	promote(o)
	v.stack = append(v.stack, o)
}

// promote ages a movable cell that survived marking, tenuring it once it
// has survived more than TenureThreshold collections. Sweep and Status
// both go by the resulting flag.
func promote(o *Object) {
	if o.gen.tenured || o.gen.fixed || !o.gen.tracked {
		return
	}
	o.gen.age++
	if o.gen.age > TenureThreshold {
		o.gen.tenured = true
	}
}

func (v *heapMarker) drain() {
	for len(v.stack) > 0 {
		n := len(v.stack) - 1
		o := v.stack[n]
		v.stack[n] = nil
		v.stack = v.stack[:n]
		v.client.Walk(o, v.Visit)
	}
}

func (h *MarkHeap) Collect(client HeapClient, typ CollectionType, footprint int) {
	start := time.Now()
	h.epoch++
	h.typ = typ

	v := &heapMarker{h: h, client: client}
	client.VisitRoots(v)
	v.drain()
	client.PostVisit(v)
	v.drain()

	h.sweep()

	if typ == MajorCollection {
		h.major.Add(1)
	} else {
		h.minor.Add(1)
	}
	h.lastPause.Store(int64(time.Since(start)))
}

func (h *MarkHeap) sweep() {
	var young, old []*Object
	live := 0
	reclaimed := 0

	survive := func(o *Object) {
		if o.Mark() == MarkHashTaken {
			o.casMark(MarkHashTaken, MarkExtended)
		}
		live += o.SizeInBytes()
		if o.gen.tenured {
			old = append(old, o)
		} else {
			young = append(young, o)
		}
	}
	for _, gen := range [][]*Object{h.nursery, h.young} {
		for _, o := range gen {
			if h.marked(o) {
				survive(o)
			} else {
				reclaimed++
			}
		}
	}
	for _, o := range h.old {
		if h.typ == MajorCollection && !h.marked(o) {
			reclaimed++
			continue
		}
		live += o.SizeInBytes()
		old = append(old, o)
	}

	fixed := h.fixed[:0]
	fixedBytes := 0
	for _, o := range h.fixed {
		if o.gen.immune || h.marked(o) {
			fixed = append(fixed, o)
			fixedBytes += o.SizeInBytes()
		} else {
			reclaimed++
		}
	}
	clear(h.fixed[len(fixed):])

	h.nursery = nil
	h.young = young
	h.old = old
	h.fixed = fixed
	h.liveBytes = live
	h.fixedBytes = fixedBytes
	h.reclaimed.Add(uint64(reclaimed))
}

func (h *MarkHeap) Stats() HeapStats {
	return HeapStats{
		Limit:            h.limit,
		Allocated:        h.used(),
		Live:             h.liveBytes + h.fixedBytes,
		Fixed:            h.fixedBytes,
		Young:            len(h.young) + len(h.nursery),
		Tenured:          len(h.old),
		MinorCollections: h.minor.Load(),
		MajorCollections: h.major.Load(),
		Reclaimed:        h.reclaimed.Load(),
	}
}

// LastPause returns the duration of the most recent collection.
func (h *MarkHeap) LastPause() time.Duration {
	return time.Duration(h.lastPause.Load())
}
