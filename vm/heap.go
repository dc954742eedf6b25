package vm

// ---------------------------------------------------------------------------
// Heap: the allocator/collector service
// ---------------------------------------------------------------------------

// CollectionType selects how much of the heap a collection reclaims.
type CollectionType int

const (
	// MinorCollection reclaims cells allocated since they were last
	// tenured.
	MinorCollection CollectionType = iota
	// MajorCollection reclaims everything unreachable.
	MajorCollection
)

func (c CollectionType) String() string {
	if c == MajorCollection {
		return "major"
	}
	return "minor"
}

// ObjectStatus is a cell's standing in the collection in progress.
type ObjectStatus int

const (
	StatusNull ObjectStatus = iota
	StatusReachable
	StatusUnreachable
	StatusTenured
)

// HeapVisitor receives every reference the collector should treat as
// live.
type HeapVisitor interface {
	Visit(o *Object)
}

// HeapClient is the machine side of a collection: it enumerates roots,
// walks the references of a cell and post-processes weak structures once
// the strong graph is marked.
type HeapClient interface {
	VisitRoots(v HeapVisitor)
	Walk(o *Object, visit func(*Object))
	PostVisit(v HeapVisitor)
}

// Heap accounts for managed memory and runs collections. Machine code
// only calls it with the heap lock held, and Collect only under
// exclusive state.
type Heap interface {
	// Limit is the hard ceiling in bytes.
	Limit() int
	// LimitExceeded reports whether the heap, plus pending bytes, is over
	// its limit.
	LimitExceeded(pending int) bool
	// TryAllocate reserves an arena of size bytes, failing when the
	// reservation would exceed the limit.
	TryAllocate(size int) bool
	// Free returns an arena reservation.
	Free(size int)
	// Track registers a newly allocated movable cell.
	Track(o *Object)
	// AllocateFixed accounts a cell that never moves, returning the
	// footprint charged for it. Immortal cells are never reclaimed.
	AllocateFixed(o *Object, immortal bool) int
	// Collect marks from the client's roots and reclaims what is left.
	Collect(client HeapClient, typ CollectionType, footprint int)
	// CollectionType is the type of the collection in progress or last
	// run.
	CollectionType() CollectionType
	// Status classifies o during PostVisit.
	Status(o *Object) ObjectStatus
	// Stats returns a snapshot of the heap's counters.
	Stats() HeapStats
}

// HeapStats is a heap counter snapshot.
type HeapStats struct {
	Limit            int
	Allocated        int // reserved arenas plus surviving cells
	Live             int // bytes surviving the last collection
	Fixed            int
	Young            int // cells awaiting tenure
	Tenured          int
	MinorCollections uint64
	MajorCollections uint64
	Reclaimed        uint64 // cells reclaimed across all collections
}
