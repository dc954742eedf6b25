package vm

import (
	"encoding/binary"
	"math"
	"strconv"
	"sync/atomic"

	"github.com/zeebo/xxh3"
)

// Object is a managed heap cell.
//
// Primitive storage is word addressed: byte offset off lives in
// words[off/BytesPerWord], little-endian within the word. Word 0 is the
// header slot and never holds data. Reference storage is parallel to the
// words and only allocated when the cell's class has an object mask, so
// reference field at byte offset off lives in refs[off/BytesPerWord].
//
// Every primitive access goes through the word atomically; fields that
// share a word never tear each other.
type Object struct {
	Header

	words []uint64
	refs  []atomic.Pointer[Object]

	id  uint64 // allocation sequence, drives the identity hash
	gen generation

	// monitor caches the entry in the machine's monitor map.
	monitor atomic.Pointer[Monitor]

	// native is a host payload: the *Class for class objects, the trace
	// for throwables, the *Thread for java/lang/Thread peers.
	native any
}

// generation is collector bookkeeping.
type generation struct {
	epoch   atomic.Uint32 // last collection epoch that marked the cell
	age     uint8
	tenured bool // promoted; only a major collection reclaims it
	tracked bool // owned by the heap; untracked cells are never reclaimed
	fixed   bool
	immune  bool // immortal: never reclaimed
}

func newObject(class *Class, sizeInBytes int, hasObjectMask bool, id uint64) *Object {
	n := ceilWords(sizeInBytes)
	if n < 1 {
		n = 1
	}
	o := &Object{
		words: make([]uint64, n),
		id:    id,
	}
	if hasObjectMask {
		o.refs = make([]atomic.Pointer[Object], n)
	}
	o.setClass(class)
	return o
}

// ObjectClass returns o's class.
func ObjectClass(o *Object) *Class {
	return o.Class()
}

// SizeInBytes is the cell size, including the header word.
func (o *Object) SizeInBytes() int {
	return len(o.words) * BytesPerWord
}

// HasObjectMask reports whether the cell can hold references.
func (o *Object) HasObjectMask() bool {
	return o.refs != nil
}

// ID returns the allocation sequence number.
func (o *Object) ID() uint64 {
	return o.id
}

// Native returns the host payload attached to the cell.
func (o *Object) Native() any {
	return o.native
}

// SetNative attaches a host payload.
func (o *Object) SetNative(v any) {
	o.native = v
}

// ---------------------------------------------------------------------------
// Primitive access
// ---------------------------------------------------------------------------

func (o *Object) word(off int) *uint64 {
	return &o.words[off/BytesPerWord]
}

func (o *Object) loadBits(off, size int) uint64 {
	w := atomic.LoadUint64(o.word(off))
	if size == BytesPerWord {
		return w
	}
	shift := uint(off%BytesPerWord) * 8
	return (w >> shift) & (1<<(uint(size)*8) - 1)
}

func (o *Object) storeBits(off, size int, v uint64) {
	p := o.word(off)
	if size == BytesPerWord {
		atomic.StoreUint64(p, v)
		return
	}
	shift := uint(off%BytesPerWord) * 8
	mask := uint64(1<<(uint(size)*8)-1) << shift
	for {
		old := atomic.LoadUint64(p)
		nw := (old &^ mask) | ((v << shift) & mask)
		if atomic.CompareAndSwapUint64(p, old, nw) {
			return
		}
	}
}

func (o *Object) GetInt8(off int) int8     { return int8(o.loadBits(off, 1)) }
func (o *Object) GetInt16(off int) int16   { return int16(o.loadBits(off, 2)) }
func (o *Object) GetUint16(off int) uint16 { return uint16(o.loadBits(off, 2)) }
func (o *Object) GetInt32(off int) int32   { return int32(o.loadBits(off, 4)) }
func (o *Object) GetInt64(off int) int64   { return int64(o.loadBits(off, 8)) }

func (o *Object) GetFloat32(off int) float32 {
	return math.Float32frombits(uint32(o.loadBits(off, 4)))
}

func (o *Object) GetFloat64(off int) float64 {
	return math.Float64frombits(o.loadBits(off, 8))
}

func (o *Object) SetInt8(off int, v int8)     { o.storeBits(off, 1, uint64(uint8(v))) }
func (o *Object) SetInt16(off int, v int16)   { o.storeBits(off, 2, uint64(uint16(v))) }
func (o *Object) SetUint16(off int, v uint16) { o.storeBits(off, 2, uint64(v)) }
func (o *Object) SetInt32(off int, v int32)   { o.storeBits(off, 4, uint64(uint32(v))) }
func (o *Object) SetInt64(off int, v int64)   { o.storeBits(off, 8, uint64(v)) }

func (o *Object) SetFloat32(off int, v float32) {
	o.storeBits(off, 4, uint64(math.Float32bits(v)))
}

func (o *Object) SetFloat64(off int, v float64) {
	o.storeBits(off, 8, math.Float64bits(v))
}

// GetBits reads a primitive of the given kind as raw bits.
func (o *Object) GetBits(off int, code FieldCode) uint64 {
	return o.loadBits(off, code.Size())
}

// SetBits writes a primitive of the given kind from raw bits.
func (o *Object) SetBits(off int, code FieldCode, v uint64) {
	o.storeBits(off, code.Size(), v)
}

// casWord is the 64-bit compare-and-swap used by sun.misc.Unsafe-style
// natives.
func (o *Object) casWord(off int, old, new uint64) bool {
	return atomic.CompareAndSwapUint64(o.word(off), old, new)
}

// ---------------------------------------------------------------------------
// Reference access
// ---------------------------------------------------------------------------

// GetRef reads the reference stored at byte offset off.
func (o *Object) GetRef(off int) *Object {
	if o.refs == nil {
		return nil
	}
	return o.refs[off/BytesPerWord].Load()
}

// SetRef stores a reference at byte offset off.
func (o *Object) SetRef(off int, v *Object) {
	if o.refs == nil {
		Abort("reference store into %s without object mask", o.ClassName())
	}
	o.refs[off/BytesPerWord].Store(v)
}

// CompareAndSwapRef swaps the reference at off from old to new.
func (o *Object) CompareAndSwapRef(off int, old, new *Object) bool {
	return o.refs[off/BytesPerWord].CompareAndSwap(old, new)
}

// ForEachRef calls fn with the word index and value of every non-nil
// reference in the cell.
func (o *Object) ForEachRef(fn func(index int, ref *Object)) {
	for i := range o.refs {
		if r := o.refs[i].Load(); r != nil {
			fn(i, r)
		}
	}
}

// ---------------------------------------------------------------------------
// Arrays
// ---------------------------------------------------------------------------

// ArrayLength returns the element count of an array cell.
func (o *Object) ArrayLength() int {
	return int(o.loadBits(ArrayLength, BytesPerWord))
}

func (o *Object) setArrayLength(n int) {
	o.storeBits(ArrayLength, BytesPerWord, uint64(n))
}

// ArrayElementOffset returns the byte offset of element i.
func ArrayElementOffset(elementSize, i int) int {
	return ArrayBody + i*elementSize
}

// ArrayRef reads element i of a reference array.
func (o *Object) ArrayRef(i int) *Object {
	return o.GetRef(ArrayElementOffset(BytesPerWord, i))
}

// SetArrayRef writes element i of a reference array.
func (o *Object) SetArrayRef(i int, v *Object) {
	o.SetRef(ArrayElementOffset(BytesPerWord, i), v)
}

// ArrayBytes copies the body of a byte array into a fresh slice.
func (o *Object) ArrayBytes() []byte {
	n := o.ArrayLength()
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(o.GetInt8(ArrayBody + i))
	}
	return b
}

// ArrayChars copies the body of a char array.
func (o *Object) ArrayChars() []uint16 {
	n := o.ArrayLength()
	c := make([]uint16, n)
	for i := range c {
		c[i] = o.GetUint16(ArrayBody + 2*i)
	}
	return c
}

// ---------------------------------------------------------------------------
// Identity hash
// ---------------------------------------------------------------------------

// objectHash returns the identity hash, marking the header so the value
// survives promotion.
func objectHash(o *Object) int32 {
	for {
		m := o.Mark()
		if m != MarkNone || o.casMark(MarkNone, MarkHashTaken) {
			break
		}
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], o.id)
	return int32(uint32(xxh3.Hash(buf[:])))
}

// ClassName returns the name of o's class, or "?" before the class
// pointer is patched.
func (o *Object) ClassName() string {
	if c := o.Class(); c != nil {
		return c.Name
	}
	return "?"
}

func (o *Object) String() string {
	return o.ClassName() + "@" + strconv.FormatUint(o.id, 10)
}
