package vm

import "math/bits"

// ---------------------------------------------------------------------------
// Bitset: object masks and singleton discriminators
// ---------------------------------------------------------------------------

// Bitset is a fixed-capacity set of small integers. Classes use it as the
// object mask (one bit per word that holds a reference) and singletons use
// it to tell reference slots from primitive ones.
type Bitset struct {
	bits []uint64
	size int
}

// NewBitset creates a bitset able to hold indices below size.
func NewBitset(size int) *Bitset {
	if size < 0 {
		size = 0
	}
	return &Bitset{
		bits: make([]uint64, (size+63)/64),
		size: size,
	}
}

// Set sets bit i, growing the set as needed.
func (b *Bitset) Set(i int) {
	if i < 0 {
		return
	}
	w := i / 64
	if w >= len(b.bits) {
		grown := make([]uint64, w+1)
		copy(grown, b.bits)
		b.bits = grown
	}
	b.bits[w] |= 1 << (i % 64)
	if i >= b.size {
		b.size = i + 1
	}
}

// Clear clears bit i.
func (b *Bitset) Clear(i int) {
	if i < 0 || i/64 >= len(b.bits) {
		return
	}
	b.bits[i/64] &^= 1 << (i % 64)
}

// Test reports whether bit i is set. A nil set is empty.
func (b *Bitset) Test(i int) bool {
	if b == nil || i < 0 || i/64 >= len(b.bits) {
		return false
	}
	return b.bits[i/64]&(1<<(i%64)) != 0
}

// Count returns the population count.
func (b *Bitset) Count() int {
	if b == nil {
		return 0
	}
	n := 0
	for _, w := range b.bits {
		n += bits.OnesCount64(w)
	}
	return n
}

// Size returns one more than the highest index the set can address.
func (b *Bitset) Size() int {
	if b == nil {
		return 0
	}
	return b.size
}

// Empty reports whether no bit is set.
func (b *Bitset) Empty() bool {
	return b.Count() == 0
}

// Clone returns an independent copy resized to at least size bits.
func (b *Bitset) Clone(size int) *Bitset {
	c := NewBitset(size)
	if b != nil {
		if len(b.bits) > len(c.bits) {
			c.bits = make([]uint64, len(b.bits))
		}
		copy(c.bits, b.bits)
		if b.size > c.size {
			c.size = b.size
		}
	}
	return c
}

// ForEach calls fn for every set bit in ascending order.
func (b *Bitset) ForEach(fn func(i int)) {
	if b == nil {
		return
	}
	for wi, w := range b.bits {
		for w != 0 {
			tz := bits.TrailingZeros64(w)
			fn(wi*64 + tz)
			w &^= 1 << tz
		}
	}
}

// Words exposes the raw words, used when serializing masks.
func (b *Bitset) Words() []uint64 {
	if b == nil {
		return nil
	}
	return b.bits
}
