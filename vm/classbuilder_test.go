package vm

import (
	"bytes"
	"encoding/binary"
	"math"
)

// ---------------------------------------------------------------------------
// classBuilder: writes class files for tests
// ---------------------------------------------------------------------------

type memberDef struct {
	access     uint16
	name, spec string
	attrs      [][]byte
}

type classBuilder struct {
	pool    bytes.Buffer
	next    uint16
	utf8s   map[string]uint16
	classes map[string]uint16

	major      uint16
	access     uint16
	name       string
	super      string
	interfaces []string
	fields     []memberDef
	methods    []memberDef
	attrs      [][]byte
}

func newClassBuilder(name, super string) *classBuilder {
	return &classBuilder{
		next:    1,
		utf8s:   make(map[string]uint16),
		classes: make(map[string]uint16),
		major:   52,
		access:  AccPublic | AccSuper,
		name:    name,
		super:   super,
	}
}

func (b *classBuilder) u1(v uint8)  { b.pool.WriteByte(v) }
func (b *classBuilder) u2(v uint16) { binary.Write(&b.pool, binary.BigEndian, v) }
func (b *classBuilder) u4(v uint32) { binary.Write(&b.pool, binary.BigEndian, v) }

func (b *classBuilder) entry(slots uint16) uint16 {
	i := b.next
	b.next += slots
	return i
}

func (b *classBuilder) utf8(s string) uint16 {
	if i, ok := b.utf8s[s]; ok {
		return i
	}
	b.u1(uint8(TagUtf8))
	b.u2(uint16(len(s)))
	b.pool.WriteString(s)
	i := b.entry(1)
	b.utf8s[s] = i
	return i
}

func (b *classBuilder) class(name string) uint16 {
	if i, ok := b.classes[name]; ok {
		return i
	}
	n := b.utf8(name)
	b.u1(uint8(TagClass))
	b.u2(n)
	i := b.entry(1)
	b.classes[name] = i
	return i
}

func (b *classBuilder) stringConst(s string) uint16 {
	n := b.utf8(s)
	b.u1(uint8(TagString))
	b.u2(n)
	return b.entry(1)
}

func (b *classBuilder) intConst(v int32) uint16 {
	b.u1(uint8(TagInteger))
	b.u4(uint32(v))
	return b.entry(1)
}

func (b *classBuilder) longConst(v int64) uint16 {
	b.u1(uint8(TagLong))
	b.u4(uint32(uint64(v) >> 32))
	b.u4(uint32(v))
	return b.entry(2)
}

func (b *classBuilder) doubleConst(v float64) uint16 {
	bits := math.Float64bits(v)
	b.u1(uint8(TagDouble))
	b.u4(uint32(bits >> 32))
	b.u4(uint32(bits))
	return b.entry(2)
}

func (b *classBuilder) nameAndType(name, spec string) uint16 {
	n, s := b.utf8(name), b.utf8(spec)
	b.u1(uint8(TagNameAndType))
	b.u2(n)
	b.u2(s)
	return b.entry(1)
}

func (b *classBuilder) memberRef(tag PoolTag, class, name, spec string) uint16 {
	c, nt := b.class(class), b.nameAndType(name, spec)
	b.u1(uint8(tag))
	b.u2(c)
	b.u2(nt)
	return b.entry(1)
}

func (b *classBuilder) methodRef(class, name, spec string) uint16 {
	return b.memberRef(TagMethodref, class, name, spec)
}

func (b *classBuilder) fieldRef(class, name, spec string) uint16 {
	return b.memberRef(TagFieldref, class, name, spec)
}

// attribute encodes a named attribute with the given body.
func (b *classBuilder) attribute(name string, body []byte) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, b.utf8(name))
	binary.Write(&buf, binary.BigEndian, uint32(len(body)))
	buf.Write(body)
	return buf.Bytes()
}

func u2bytes(vs ...uint16) []byte {
	out := make([]byte, 0, 2*len(vs))
	for _, v := range vs {
		out = binary.BigEndian.AppendUint16(out, v)
	}
	return out
}

// code encodes a Code attribute with no handlers.
func (b *classBuilder) code(maxLocals uint16, body ...byte) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint16(2))
	binary.Write(&buf, binary.BigEndian, maxLocals)
	binary.Write(&buf, binary.BigEndian, uint32(len(body)))
	buf.Write(body)
	buf.Write(u2bytes(0, 0))
	return b.attribute("Code", buf.Bytes())
}

func (b *classBuilder) flags(access uint16) *classBuilder {
	b.access = access
	return b
}

func (b *classBuilder) implements(names ...string) *classBuilder {
	b.interfaces = append(b.interfaces, names...)
	return b
}

func (b *classBuilder) field(access uint16, name, spec string, attrs ...[]byte) *classBuilder {
	b.fields = append(b.fields, memberDef{access, name, spec, attrs})
	return b
}

// constantField declares a static field seeded from pool entry index.
func (b *classBuilder) constantField(access uint16, name, spec string, index uint16) *classBuilder {
	return b.field(access|AccStatic, name, spec, b.attribute("ConstantValue", u2bytes(index)))
}

// method declares a method. Methods that are neither abstract nor native
// get a body that just returns, unless attrs supply a Code attribute.
func (b *classBuilder) method(access uint16, name, spec string, attrs ...[]byte) *classBuilder {
	if access&(AccAbstract|AccNative) == 0 && len(attrs) == 0 {
		attrs = append(attrs, b.code(8, 0xb1))
	}
	b.methods = append(b.methods, memberDef{access, name, spec, attrs})
	return b
}

func (b *classBuilder) sourceFile(name string) *classBuilder {
	b.attrs = append(b.attrs, b.attribute("SourceFile", u2bytes(b.utf8(name))))
	return b
}

// bytes assembles the class file.
func (b *classBuilder) bytes() []byte {
	this := b.class(b.name)
	var super uint16
	if b.super != "" {
		super = b.class(b.super)
	}
	ifaces := make([]uint16, len(b.interfaces))
	for i, n := range b.interfaces {
		ifaces[i] = b.class(n)
	}
	// member names go into the pool before it is copied out
	type encoded struct {
		access, name, spec uint16
		attrs              [][]byte
	}
	enc := func(ms []memberDef) []encoded {
		out := make([]encoded, len(ms))
		for i, m := range ms {
			out[i] = encoded{m.access, b.utf8(m.name), b.utf8(m.spec), m.attrs}
		}
		return out
	}
	fields, methods := enc(b.fields), enc(b.methods)

	var out bytes.Buffer
	w := func(v any) { binary.Write(&out, binary.BigEndian, v) }
	w(uint32(classMagic))
	w(uint16(0))
	w(b.major)
	w(b.next)
	out.Write(b.pool.Bytes())
	w(b.access)
	w(this)
	w(super)
	w(uint16(len(ifaces)))
	for _, i := range ifaces {
		w(i)
	}
	for _, ms := range [][]encoded{fields, methods} {
		w(uint16(len(ms)))
		for _, m := range ms {
			w(m.access)
			w(m.name)
			w(m.spec)
			w(uint16(len(m.attrs)))
			for _, a := range m.attrs {
				out.Write(a)
			}
		}
	}
	w(uint16(len(b.attrs)))
	for _, a := range b.attrs {
		out.Write(a)
	}
	return out.Bytes()
}
