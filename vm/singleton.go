package vm

import (
	"math"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Singleton: parallel primitive / reference storage
// ---------------------------------------------------------------------------

// Singleton is the static-field table of a class: slot i holds either a
// raw primitive word or a reference, and the mask says which. The layout
// is fixed when the class is linked; only slot contents change.
type Singleton struct {
	words []uint64
	refs  []atomic.Pointer[Object]
	mask  *Bitset
	// wide marks slots whose primitive is a float or double, so dumps and
	// ConstantValue seeding know how to read them
	wide *Bitset
}

// NewSingleton creates an empty singleton with n slots.
func NewSingleton(n int) *Singleton {
	return &Singleton{
		words: make([]uint64, n),
		refs:  make([]atomic.Pointer[Object], n),
		mask:  NewBitset(n),
		wide:  NewBitset(n),
	}
}

// Len returns the slot count.
func (s *Singleton) Len() int {
	if s == nil {
		return 0
	}
	return len(s.words)
}

// IsObject reports whether slot i holds a reference.
func (s *Singleton) IsObject(i int) bool {
	return s.mask.Test(i)
}

// markObject declares slot i as a reference slot.
func (s *Singleton) markObject(i int) {
	s.mask.Set(i)
}

// markFloat records that slot i carries floating-point bits.
func (s *Singleton) markFloat(i int) {
	s.wide.Set(i)
}

// IsFloat reports whether slot i was declared float or double.
func (s *Singleton) IsFloat(i int) bool {
	return s.wide.Test(i)
}

// Word reads primitive slot i.
func (s *Singleton) Word(i int) uint64 {
	if s.IsObject(i) {
		Abort("singleton slot %d holds a reference", i)
	}
	return atomic.LoadUint64(&s.words[i])
}

// SetWord writes primitive slot i.
func (s *Singleton) SetWord(i int, v uint64) {
	if s.IsObject(i) {
		Abort("singleton slot %d holds a reference", i)
	}
	atomic.StoreUint64(&s.words[i], v)
}

// Ref reads reference slot i.
func (s *Singleton) Ref(i int) *Object {
	if !s.IsObject(i) {
		Abort("singleton slot %d holds a primitive", i)
	}
	return s.refs[i].Load()
}

// SetRef writes reference slot i.
func (s *Singleton) SetRef(i int, o *Object) {
	if !s.IsObject(i) {
		Abort("singleton slot %d holds a primitive", i)
	}
	s.refs[i].Store(o)
}

// Float64 reads slot i as a double.
func (s *Singleton) Float64(i int) float64 {
	return math.Float64frombits(s.Word(i))
}

// ForEachRef visits every non-nil reference slot.
func (s *Singleton) ForEachRef(fn func(i int, o *Object)) {
	if s == nil {
		return
	}
	s.mask.ForEach(func(i int) {
		if o := s.refs[i].Load(); o != nil {
			fn(i, o)
		}
	})
}

// copyFrom replaces this singleton's layout and contents with other's.
// Used only by the bootstrap class update under exclusive access.
func (s *Singleton) copyFrom(other *Singleton) {
	s.words = make([]uint64, len(other.words))
	s.refs = make([]atomic.Pointer[Object], len(other.refs))
	for i := range other.words {
		s.words[i] = atomic.LoadUint64(&other.words[i])
		s.refs[i].Store(other.refs[i].Load())
	}
	s.mask = other.mask.Clone(len(other.words))
	s.wide = other.wide.Clone(len(other.words))
}
