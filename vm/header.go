package vm

import "sync/atomic"

// ---------------------------------------------------------------------------
// Header: explicit object header (mark + class)
// ---------------------------------------------------------------------------

// Mark is the header state carried next to the class pointer.
type Mark uint32

const (
	MarkNone Mark = iota
	// MarkHashTaken: the identity hash has been observed and must stay
	// stable from now on.
	MarkHashTaken
	// MarkExtended: a hashed object was promoted and carries its hash in
	// an extension word.
	MarkExtended
	// MarkFixed: the cell never moves (fixed or immortal allocation).
	MarkFixed
)

func (m Mark) String() string {
	switch m {
	case MarkNone:
		return "none"
	case MarkHashTaken:
		return "hash-taken"
	case MarkExtended:
		return "extended"
	case MarkFixed:
		return "fixed"
	}
	return "?"
}

// Header is the first part of every managed cell.
type Header struct {
	mark  atomic.Uint32
	class atomic.Pointer[Class]
}

// Mark returns the header mark.
func (h *Header) Mark() Mark {
	return Mark(h.mark.Load())
}

func (h *Header) setMark(m Mark) {
	h.mark.Store(uint32(m))
}

// casMark moves the mark from old to new, reporting success.
func (h *Header) casMark(old, new Mark) bool {
	return h.mark.CompareAndSwap(uint32(old), uint32(new))
}

// Class returns the class pointer. It is nil only for placeholder classes
// during the first bootstrap phase.
func (h *Header) Class() *Class {
	return h.class.Load()
}

func (h *Header) setClass(c *Class) {
	h.class.Store(c)
}
