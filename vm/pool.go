package vm

import (
	"fmt"
	"math"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Constant pool
// ---------------------------------------------------------------------------

// PoolTag is a class-file constant pool tag.
type PoolTag uint8

const (
	TagUtf8               PoolTag = 1
	TagInteger            PoolTag = 3
	TagFloat              PoolTag = 4
	TagLong               PoolTag = 5
	TagDouble             PoolTag = 6
	TagClass              PoolTag = 7
	TagString             PoolTag = 8
	TagFieldref           PoolTag = 9
	TagMethodref          PoolTag = 10
	TagInterfaceMethodref PoolTag = 11
	TagNameAndType        PoolTag = 12
	TagMethodHandle       PoolTag = 15
	TagMethodType         PoolTag = 16
	TagInvokeDynamic      PoolTag = 18
)

// Reference is the unresolved placeholder for a symbolic pool entry. It is
// swapped for the resolved target exactly once.
type Reference struct {
	Kind      PoolTag
	ClassName string
	Name      string
	Spec      string
}

func (r *Reference) String() string {
	if r.Name == "" {
		return r.ClassName
	}
	return r.ClassName + "." + r.Name + r.Spec
}

// NameAndType is a parsed CONSTANT_NameAndType.
type NameAndType struct {
	Name string
	Spec string
}

// MethodHandleRef is a parsed CONSTANT_MethodHandle.
type MethodHandleRef struct {
	Kind   uint8
	Target *Reference
}

// InvokeDynamicRef is a parsed CONSTANT_InvokeDynamic.
type InvokeDynamicRef struct {
	BootstrapIndex uint16
	NameAndType    NameAndType
}

// poolEntry boxes an object slot so it can be swapped with one CAS.
type poolEntry struct {
	value any
}

// ConstantPool keeps scalar constants as raw words and symbolic constants
// as boxed entries; the objects mask tells the two apart.
type ConstantPool struct {
	tags    []PoolTag
	words   []uint64
	entries []atomic.Pointer[poolEntry]
	objects *Bitset
	floats  *Bitset

	owner *Class
}

func newConstantPool(n int) *ConstantPool {
	return &ConstantPool{
		tags:    make([]PoolTag, n),
		words:   make([]uint64, n),
		entries: make([]atomic.Pointer[poolEntry], n),
		objects: NewBitset(n),
		floats:  NewBitset(n),
	}
}

// Len returns the pool count as declared in the class file.
func (p *ConstantPool) Len() int {
	return len(p.tags)
}

// Tag returns the tag at index i, or 0 for unusable slots.
func (p *ConstantPool) Tag(i int) PoolTag {
	if i <= 0 || i >= len(p.tags) {
		return 0
	}
	return p.tags[i]
}

// IsObject reports whether slot i holds a boxed entry.
func (p *ConstantPool) IsObject(i int) bool {
	return p.objects.Test(i)
}

// Entry returns the current value of an object slot: a string, a
// *Reference, or its resolved target.
func (p *ConstantPool) Entry(i int) any {
	if !p.IsObject(i) {
		return nil
	}
	e := p.entries[i].Load()
	if e == nil {
		return nil
	}
	return e.value
}

func (p *ConstantPool) check(i int, tags ...PoolTag) error {
	if i <= 0 || i >= len(p.tags) {
		return fmt.Errorf("%w: %d", ErrInvalidPoolIndex, i)
	}
	for _, t := range tags {
		if p.tags[i] == t {
			return nil
		}
	}
	return fmt.Errorf("%w: index %d has tag %d", ErrUnexpectedPoolType, i, p.tags[i])
}

// Utf8 returns a CONSTANT_Utf8 value.
func (p *ConstantPool) Utf8(i int) (string, error) {
	if err := p.check(i, TagUtf8); err != nil {
		return "", err
	}
	return p.Entry(i).(string), nil
}

// Int returns a CONSTANT_Integer value.
func (p *ConstantPool) Int(i int) (int32, error) {
	if err := p.check(i, TagInteger); err != nil {
		return 0, err
	}
	return int32(uint32(p.words[i])), nil
}

// Long returns a CONSTANT_Long value.
func (p *ConstantPool) Long(i int) (int64, error) {
	if err := p.check(i, TagLong); err != nil {
		return 0, err
	}
	return int64(p.words[i]), nil
}

// Float returns a CONSTANT_Float value.
func (p *ConstantPool) Float(i int) (float32, error) {
	if err := p.check(i, TagFloat); err != nil {
		return 0, err
	}
	return math.Float32frombits(uint32(p.words[i])), nil
}

// Double returns a CONSTANT_Double value.
func (p *ConstantPool) Double(i int) (float64, error) {
	if err := p.check(i, TagDouble); err != nil {
		return 0, err
	}
	return math.Float64frombits(p.words[i]), nil
}

// RawWord returns the bits of a scalar constant.
func (p *ConstantPool) RawWord(i int) uint64 {
	return p.words[i]
}

// ClassName returns the name a CONSTANT_Class refers to, resolved or not.
func (p *ConstantPool) ClassName(i int) (string, error) {
	if err := p.check(i, TagClass); err != nil {
		return "", err
	}
	switch v := p.Entry(i).(type) {
	case *Reference:
		return v.ClassName, nil
	case *Class:
		return v.Name, nil
	}
	return "", fmt.Errorf("%w: class entry %d", ErrUnexpectedPoolType, i)
}

// MemberRef returns the symbolic form of a field or method reference.
func (p *ConstantPool) MemberRef(i int) (*Reference, error) {
	if err := p.check(i, TagFieldref, TagMethodref, TagInterfaceMethodref); err != nil {
		return nil, err
	}
	switch v := p.Entry(i).(type) {
	case *Reference:
		return v, nil
	case *Field:
		return &Reference{Kind: TagFieldref, ClassName: v.Class.Name, Name: v.Name, Spec: v.Spec}, nil
	case *Method:
		return &Reference{Kind: p.tags[i], ClassName: v.Class.Name, Name: v.Name, Spec: v.Spec}, nil
	}
	return nil, fmt.Errorf("%w: member entry %d", ErrUnexpectedPoolType, i)
}

// ---------------------------------------------------------------------------
// Lazy resolution
// ---------------------------------------------------------------------------

// swap publishes resolved in slot i if the slot still holds old, and
// returns whichever value won.
func (p *ConstantPool) swap(i int, old *poolEntry, resolved any) any {
	if p.entries[i].CompareAndSwap(old, &poolEntry{value: resolved}) {
		return resolved
	}
	return p.entries[i].Load().value
}

func (p *ConstantPool) loader() *Loader {
	if p.owner == nil {
		return nil
	}
	return p.owner.Loader
}

// ResolveClass resolves a CONSTANT_Class entry through the owning class's
// loader. Concurrent callers see the same *Class.
func (p *ConstantPool) ResolveClass(t *Thread, i int) (*Class, error) {
	if err := p.check(i, TagClass); err != nil {
		return nil, err
	}
	e := p.entries[i].Load()
	switch v := e.value.(type) {
	case *Class:
		return v, nil
	case *Reference:
		c, err := t.m.ResolveClass(t, p.loader(), v.ClassName, true, NoClassDefFoundErrorType)
		if err != nil {
			return nil, err
		}
		return p.swap(i, e, c).(*Class), nil
	}
	return nil, fmt.Errorf("%w: class entry %d", ErrUnexpectedPoolType, i)
}

// ResolveField resolves a CONSTANT_Fieldref entry.
func (p *ConstantPool) ResolveField(t *Thread, i int) (*Field, error) {
	if err := p.check(i, TagFieldref); err != nil {
		return nil, err
	}
	e := p.entries[i].Load()
	switch v := e.value.(type) {
	case *Field:
		return v, nil
	case *Reference:
		c, err := t.m.ResolveClass(t, p.loader(), v.ClassName, true, NoClassDefFoundErrorType)
		if err != nil {
			return nil, err
		}
		f, err := t.m.ResolveField(t, c, v.Name, v.Spec, true)
		if err != nil {
			return nil, err
		}
		return p.swap(i, e, f).(*Field), nil
	}
	return nil, fmt.Errorf("%w: field entry %d", ErrUnexpectedPoolType, i)
}

// ResolveMethod resolves a CONSTANT_Methodref or InterfaceMethodref entry.
func (p *ConstantPool) ResolveMethod(t *Thread, i int) (*Method, error) {
	if err := p.check(i, TagMethodref, TagInterfaceMethodref); err != nil {
		return nil, err
	}
	e := p.entries[i].Load()
	switch v := e.value.(type) {
	case *Method:
		return v, nil
	case *Reference:
		c, err := t.m.ResolveClass(t, p.loader(), v.ClassName, true, NoClassDefFoundErrorType)
		if err != nil {
			return nil, err
		}
		m, err := t.m.ResolveMethod(t, c, v.Name, v.Spec, true)
		if err != nil {
			return nil, err
		}
		return p.swap(i, e, m).(*Method), nil
	}
	return nil, fmt.Errorf("%w: method entry %d", ErrUnexpectedPoolType, i)
}

// ResolveString returns the interned java/lang/String for a
// CONSTANT_String entry.
func (p *ConstantPool) ResolveString(t *Thread, i int) (*Object, error) {
	if err := p.check(i, TagString); err != nil {
		return nil, err
	}
	e := p.entries[i].Load()
	switch v := e.value.(type) {
	case *Object:
		return v, nil
	case *Reference:
		s, err := t.m.Intern(t, v.Name)
		if err != nil {
			return nil, err
		}
		return p.swap(i, e, s).(*Object), nil
	}
	return nil, fmt.Errorf("%w: string entry %d", ErrUnexpectedPoolType, i)
}

// ForEachResolved visits every resolved object held by the pool, so the
// collector can trace interned strings.
func (p *ConstantPool) ForEachResolved(fn func(o *Object)) {
	p.objects.ForEach(func(i int) {
		if e := p.entries[i].Load(); e != nil {
			switch v := e.value.(type) {
			case *Object:
				fn(v)
			case *Class:
				fn(v.AsObject())
			}
		}
	})
}

// ---------------------------------------------------------------------------
// Parsing
// ---------------------------------------------------------------------------

// parseConstantPool reads the pool in two passes: the first records tags
// and scalar words and marks object slots; the second builds boxed
// entries, following forward references by index.
func parseConstantPool(r *classReader) (*ConstantPool, error) {
	count, err := r.u2()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, r.fail("empty constant pool")
	}
	p := newConstantPool(int(count))
	offsets := make([]int, count)

	for i := 1; i < int(count); i++ {
		offsets[i] = r.offset
		tag, err := r.u1()
		if err != nil {
			return nil, err
		}
		p.tags[i] = PoolTag(tag)
		switch PoolTag(tag) {
		case TagUtf8:
			n, err := r.u2()
			if err != nil {
				return nil, err
			}
			if _, err := r.bytes(int(n)); err != nil {
				return nil, err
			}
			p.objects.Set(i)
		case TagInteger, TagFloat:
			v, err := r.u4()
			if err != nil {
				return nil, err
			}
			p.words[i] = uint64(v)
			if PoolTag(tag) == TagFloat {
				p.floats.Set(i)
			}
		case TagLong, TagDouble:
			v, err := r.u8()
			if err != nil {
				return nil, err
			}
			p.words[i] = v
			if PoolTag(tag) == TagDouble {
				p.floats.Set(i)
			}
			// the following slot is unusable
			i++
		case TagClass, TagString, TagMethodType:
			if err := r.skip(2); err != nil {
				return nil, err
			}
			p.objects.Set(i)
		case TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType, TagInvokeDynamic:
			if err := r.skip(4); err != nil {
				return nil, err
			}
			p.objects.Set(i)
		case TagMethodHandle:
			if err := r.skip(3); err != nil {
				return nil, err
			}
			p.objects.Set(i)
		default:
			return nil, r.failAt(offsets[i], fmt.Sprintf("unknown constant pool tag %d", tag))
		}
	}

	end := r.offset
	for i := 1; i < int(count); i++ {
		if p.objects.Test(i) && p.entries[i].Load() == nil {
			if err := p.parseEntry(r, offsets, i, 0); err != nil {
				return nil, err
			}
		}
	}
	r.offset = end
	return p, nil
}

func (p *ConstantPool) index(r *classReader, offsets []int, raw uint16, depth int) (any, error) {
	i := int(raw)
	if i <= 0 || i >= len(p.tags) || !p.objects.Test(i) {
		return nil, r.fail(fmt.Sprintf("bad constant pool reference %d", raw))
	}
	if p.entries[i].Load() == nil {
		if err := p.parseEntry(r, offsets, i, depth+1); err != nil {
			return nil, err
		}
	}
	return p.entries[i].Load().value, nil
}

func (p *ConstantPool) utf8At(r *classReader, offsets []int, raw uint16, depth int) (string, error) {
	v, err := p.index(r, offsets, raw, depth)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", r.fail(fmt.Sprintf("constant pool entry %d is not utf8", raw))
	}
	return s, nil
}

func (p *ConstantPool) parseEntry(r *classReader, offsets []int, i, depth int) error {
	if depth > len(p.tags) {
		return r.fail("circular constant pool reference")
	}
	r.offset = offsets[i] + 1
	var value any
	switch p.tags[i] {
	case TagUtf8:
		n, _ := r.u2()
		b, _ := r.bytes(int(n))
		s, err := decodeModifiedUTF8(b)
		if err != nil {
			return r.failAt(offsets[i], err.Error())
		}
		value = s
	case TagClass:
		raw, _ := r.u2()
		name, err := p.utf8At(r, offsets, raw, depth)
		if err != nil {
			return err
		}
		value = &Reference{Kind: TagClass, ClassName: name}
	case TagString:
		raw, _ := r.u2()
		s, err := p.utf8At(r, offsets, raw, depth)
		if err != nil {
			return err
		}
		value = &Reference{Kind: TagString, Name: s}
	case TagMethodType:
		raw, _ := r.u2()
		s, err := p.utf8At(r, offsets, raw, depth)
		if err != nil {
			return err
		}
		value = &Reference{Kind: TagMethodType, Spec: s}
	case TagNameAndType:
		nameIdx, _ := r.u2()
		specIdx, _ := r.u2()
		name, err := p.utf8At(r, offsets, nameIdx, depth)
		if err != nil {
			return err
		}
		spec, err := p.utf8At(r, offsets, specIdx, depth)
		if err != nil {
			return err
		}
		value = &NameAndType{Name: name, Spec: spec}
	case TagFieldref, TagMethodref, TagInterfaceMethodref:
		classIdx, _ := r.u2()
		ntIdx, _ := r.u2()
		cv, err := p.index(r, offsets, classIdx, depth)
		if err != nil {
			return err
		}
		cref, ok := cv.(*Reference)
		if !ok || cref.Kind != TagClass {
			return r.failAt(offsets[i], "member reference without class")
		}
		nv, err := p.index(r, offsets, ntIdx, depth)
		if err != nil {
			return err
		}
		nt, ok := nv.(*NameAndType)
		if !ok {
			return r.failAt(offsets[i], "member reference without name and type")
		}
		value = &Reference{Kind: p.tags[i], ClassName: cref.ClassName, Name: nt.Name, Spec: nt.Spec}
	case TagMethodHandle:
		kind, _ := r.u1()
		refIdx, _ := r.u2()
		v, err := p.index(r, offsets, refIdx, depth)
		if err != nil {
			return err
		}
		target, ok := v.(*Reference)
		if !ok {
			return r.failAt(offsets[i], "method handle without member reference")
		}
		value = &MethodHandleRef{Kind: kind, Target: target}
	case TagInvokeDynamic:
		bsm, _ := r.u2()
		ntIdx, _ := r.u2()
		nv, err := p.index(r, offsets, ntIdx, depth)
		if err != nil {
			return err
		}
		nt, ok := nv.(*NameAndType)
		if !ok {
			return r.failAt(offsets[i], "invokedynamic without name and type")
		}
		value = &InvokeDynamicRef{BootstrapIndex: bsm, NameAndType: *nt}
	default:
		return r.failAt(offsets[i], fmt.Sprintf("unexpected tag %d in object slot", p.tags[i]))
	}
	p.entries[i].Store(&poolEntry{value: value})
	return nil
}

// decodeModifiedUTF8 decodes the class-file flavour of UTF-8: NUL is
// encoded as two bytes and supplementary characters as surrogate pairs.
func decodeModifiedUTF8(b []byte) (string, error) {
	ascii := true
	for _, c := range b {
		if c == 0 || c >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return string(b), nil
	}
	units := make([]uint16, 0, len(b))
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c == 0:
			return "", fmt.Errorf("NUL byte in modified UTF-8")
		case c < 0x80:
			units = append(units, uint16(c))
			i++
		case c&0xe0 == 0xc0:
			if i+1 >= len(b) {
				return "", fmt.Errorf("truncated modified UTF-8")
			}
			units = append(units, uint16(c&0x1f)<<6|uint16(b[i+1]&0x3f))
			i += 2
		case c&0xf0 == 0xe0:
			if i+2 >= len(b) {
				return "", fmt.Errorf("truncated modified UTF-8")
			}
			units = append(units, uint16(c&0x0f)<<12|uint16(b[i+1]&0x3f)<<6|uint16(b[i+2]&0x3f))
			i += 3
		default:
			return "", fmt.Errorf("bad modified UTF-8 byte 0x%02x", c)
		}
	}
	return utf16ToString(units), nil
}
