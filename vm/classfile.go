package vm

import (
	"encoding/binary"
	"fmt"
)

// ---------------------------------------------------------------------------
// Class-file reader
// ---------------------------------------------------------------------------

const (
	classMagic = 0xCAFEBABE

	minMajorVersion = 45
	maxMajorVersion = 69
)

// classReader is a big-endian cursor over class-file bytes. Every read
// failure is a *ClassFormatError carrying the offset.
type classReader struct {
	data   []byte
	offset int
	name   string
}

func newClassReader(data []byte) *classReader {
	return &classReader{data: data}
}

func (r *classReader) fail(reason string) error {
	return &ClassFormatError{Class: r.name, Offset: r.offset, Reason: reason}
}

func (r *classReader) failAt(offset int, reason string) error {
	return &ClassFormatError{Class: r.name, Offset: offset, Reason: reason}
}

func (r *classReader) need(n int) error {
	if n < 0 || r.offset+n > len(r.data) {
		return fmt.Errorf("%w: %w", r.fail(fmt.Sprintf("need %d bytes, have %d", n, len(r.data)-r.offset)), ErrUnexpectedEOF)
	}
	return nil
}

func (r *classReader) u1() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.data[r.offset]
	r.offset++
	return v, nil
}

func (r *classReader) u2() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.data[r.offset:])
	r.offset += 2
	return v, nil
}

func (r *classReader) u4() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.data[r.offset:])
	r.offset += 4
	return v, nil
}

func (r *classReader) u8() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.data[r.offset:])
	r.offset += 8
	return v, nil
}

func (r *classReader) bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.data[r.offset : r.offset+n]
	r.offset += n
	return b, nil
}

func (r *classReader) skip(n int) error {
	if err := r.need(n); err != nil {
		return err
	}
	r.offset += n
	return nil
}

// ---------------------------------------------------------------------------
// ClassFile: decoded but unlinked class
// ---------------------------------------------------------------------------

// ClassFile is the sequentially decoded form of a class file. Linking turns
// it into a *Class.
type ClassFile struct {
	Minor, Major uint16
	Pool         *ConstantPool
	AccessFlags  uint16
	Name         string
	SuperName    string // empty for java/lang/Object
	Interfaces   []string
	Fields       []FieldInfo
	Methods      []MethodInfo
	Attributes   ClassAttributes
}

// FieldInfo is a field_info entry.
type FieldInfo struct {
	AccessFlags   uint16
	Name          string
	Spec          string
	ConstantValue int // pool index, 0 if absent
	Signature     string
	Annotations   []byte
}

// MethodInfo is a method_info entry.
type MethodInfo struct {
	AccessFlags       uint16
	Name              string
	Spec              string
	Code              *Code
	Exceptions        []string
	Signature         string
	Annotations       []byte
	ParameterAnns     []byte
	AnnotationDefault []byte
}

// ClassAttributes holds the class-level attributes that are kept.
type ClassAttributes struct {
	SourceFile      string
	Signature       string
	InnerClasses    []InnerClass
	Annotations     []byte
	EnclosingClass  string
	EnclosingMethod string
}

// empty reports whether no class attribute was present, in which case
// the class gets no addendum.
func (a *ClassAttributes) empty() bool {
	return a.SourceFile == "" && a.Signature == "" && len(a.InnerClasses) == 0 &&
		a.Annotations == nil && a.EnclosingClass == ""
}

// DecodeClassFile reads a class file strictly front to back.
func DecodeClassFile(data []byte) (*ClassFile, error) {
	r := newClassReader(data)
	magic, err := r.u4()
	if err != nil {
		return nil, err
	}
	if magic != classMagic {
		return nil, r.failAt(0, fmt.Sprintf("bad magic 0x%08x", magic))
	}
	cf := &ClassFile{}
	if cf.Minor, err = r.u2(); err != nil {
		return nil, err
	}
	if cf.Major, err = r.u2(); err != nil {
		return nil, err
	}
	if cf.Major < minMajorVersion || cf.Major > maxMajorVersion {
		return nil, r.failAt(6, fmt.Sprintf("unsupported class version %d.%d", cf.Major, cf.Minor))
	}

	if cf.Pool, err = parseConstantPool(r); err != nil {
		return nil, err
	}
	pool := cf.Pool

	if cf.AccessFlags, err = r.u2(); err != nil {
		return nil, err
	}
	thisIdx, err := r.u2()
	if err != nil {
		return nil, err
	}
	if cf.Name, err = pool.ClassName(int(thisIdx)); err != nil {
		return nil, r.fail(err.Error())
	}
	r.name = cf.Name

	superIdx, err := r.u2()
	if err != nil {
		return nil, err
	}
	if superIdx != 0 {
		if cf.SuperName, err = pool.ClassName(int(superIdx)); err != nil {
			return nil, r.fail(err.Error())
		}
	} else if cf.Name != NameObject {
		return nil, r.fail("missing superclass")
	}

	n, err := r.u2()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(n); i++ {
		idx, err := r.u2()
		if err != nil {
			return nil, err
		}
		name, err := pool.ClassName(int(idx))
		if err != nil {
			return nil, r.fail(err.Error())
		}
		cf.Interfaces = append(cf.Interfaces, name)
	}

	if cf.Fields, err = decodeFields(r, pool); err != nil {
		return nil, err
	}
	if cf.Methods, err = decodeMethods(r, pool); err != nil {
		return nil, err
	}
	if err := decodeClassAttributes(r, pool, &cf.Attributes); err != nil {
		return nil, err
	}
	if r.offset != len(r.data) {
		return nil, r.fail("trailing bytes after class attributes")
	}
	return cf, nil
}

func (r *classReader) utf8(pool *ConstantPool) (string, error) {
	idx, err := r.u2()
	if err != nil {
		return "", err
	}
	s, err := pool.Utf8(int(idx))
	if err != nil {
		return "", r.fail(err.Error())
	}
	return s, nil
}

// attribute reads an attribute header and returns its name and body.
func (r *classReader) attribute(pool *ConstantPool) (string, *classReader, error) {
	name, err := r.utf8(pool)
	if err != nil {
		return "", nil, err
	}
	length, err := r.u4()
	if err != nil {
		return "", nil, err
	}
	start := r.offset
	body, err := r.bytes(int(length))
	if err != nil {
		return "", nil, err
	}
	// the sub-reader keeps absolute offsets for error messages
	sub := &classReader{data: r.data[:start+len(body)], offset: start, name: r.name}
	return name, sub, nil
}

func (r *classReader) done(what string) error {
	if r.offset != len(r.data) {
		return r.fail(what + " attribute length mismatch")
	}
	return nil
}

func decodeFields(r *classReader, pool *ConstantPool) ([]FieldInfo, error) {
	n, err := r.u2()
	if err != nil {
		return nil, err
	}
	fields := make([]FieldInfo, 0, n)
	for i := 0; i < int(n); i++ {
		var f FieldInfo
		if f.AccessFlags, err = r.u2(); err != nil {
			return nil, err
		}
		if f.Name, err = r.utf8(pool); err != nil {
			return nil, err
		}
		if f.Spec, err = r.utf8(pool); err != nil {
			return nil, err
		}
		if _, err := FieldSpecCode(f.Spec); err != nil {
			return nil, r.fail(err.Error())
		}
		count, err := r.u2()
		if err != nil {
			return nil, err
		}
		for j := 0; j < int(count); j++ {
			name, a, err := r.attribute(pool)
			if err != nil {
				return nil, err
			}
			switch name {
			case "ConstantValue":
				idx, err := a.u2()
				if err != nil {
					return nil, err
				}
				f.ConstantValue = int(idx)
				if err := a.done(name); err != nil {
					return nil, err
				}
			case "Signature":
				if f.Signature, err = a.utf8(pool); err != nil {
					return nil, err
				}
			case "RuntimeVisibleAnnotations":
				f.Annotations = append([]byte(nil), a.data[a.offset:]...)
			}
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func decodeMethods(r *classReader, pool *ConstantPool) ([]MethodInfo, error) {
	n, err := r.u2()
	if err != nil {
		return nil, err
	}
	methods := make([]MethodInfo, 0, n)
	for i := 0; i < int(n); i++ {
		var m MethodInfo
		if m.AccessFlags, err = r.u2(); err != nil {
			return nil, err
		}
		if m.Name, err = r.utf8(pool); err != nil {
			return nil, err
		}
		if m.Spec, err = r.utf8(pool); err != nil {
			return nil, err
		}
		if _, err := ParseMethodSpec(m.Spec); err != nil {
			return nil, r.fail(err.Error())
		}
		count, err := r.u2()
		if err != nil {
			return nil, err
		}
		for j := 0; j < int(count); j++ {
			name, a, err := r.attribute(pool)
			if err != nil {
				return nil, err
			}
			switch name {
			case "Code":
				if m.Code, err = decodeCode(a, pool); err != nil {
					return nil, err
				}
			case "Exceptions":
				k, err := a.u2()
				if err != nil {
					return nil, err
				}
				for e := 0; e < int(k); e++ {
					idx, err := a.u2()
					if err != nil {
						return nil, err
					}
					cn, err := pool.ClassName(int(idx))
					if err != nil {
						return nil, a.fail(err.Error())
					}
					m.Exceptions = append(m.Exceptions, cn)
				}
			case "Signature":
				if m.Signature, err = a.utf8(pool); err != nil {
					return nil, err
				}
			case "RuntimeVisibleAnnotations":
				m.Annotations = append([]byte(nil), a.data[a.offset:]...)
			case "RuntimeVisibleParameterAnnotations":
				m.ParameterAnns = append([]byte(nil), a.data[a.offset:]...)
			case "AnnotationDefault":
				m.AnnotationDefault = append([]byte(nil), a.data[a.offset:]...)
			}
		}
		if m.Code == nil && m.AccessFlags&(AccNative|AccAbstract) == 0 {
			return nil, r.fail(fmt.Sprintf("method %s%s has no code", m.Name, m.Spec))
		}
		methods = append(methods, m)
	}
	return methods, nil
}

func decodeCode(r *classReader, pool *ConstantPool) (*Code, error) {
	maxStack, err := r.u2()
	if err != nil {
		return nil, err
	}
	maxLocals, err := r.u2()
	if err != nil {
		return nil, err
	}
	length, err := r.u4()
	if err != nil {
		return nil, err
	}
	if length == 0 || length >= 65536 {
		return nil, r.fail(fmt.Sprintf("bad code length %d", length))
	}
	body, err := r.bytes(int(length))
	if err != nil {
		return nil, err
	}
	code := &Code{
		MaxStack:  int(maxStack),
		MaxLocals: int(maxLocals),
		Body:      append([]byte(nil), body...),
	}
	hc, err := r.u2()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(hc); i++ {
		var h ExceptionHandler
		if h.Start, err = r.u2(); err != nil {
			return nil, err
		}
		if h.End, err = r.u2(); err != nil {
			return nil, err
		}
		if h.Handler, err = r.u2(); err != nil {
			return nil, err
		}
		if h.CatchType, err = r.u2(); err != nil {
			return nil, err
		}
		if h.CatchType != 0 && pool.Tag(int(h.CatchType)) != TagClass {
			return nil, r.fail("exception handler catch type is not a class")
		}
		code.Handlers = append(code.Handlers, h)
	}
	ac, err := r.u2()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(ac); i++ {
		name, a, err := r.attribute(pool)
		if err != nil {
			return nil, err
		}
		if name != "LineNumberTable" {
			continue
		}
		k, err := a.u2()
		if err != nil {
			return nil, err
		}
		for j := 0; j < int(k); j++ {
			var ln LineNumber
			if ln.IP, err = a.u2(); err != nil {
				return nil, err
			}
			if ln.Line, err = a.u2(); err != nil {
				return nil, err
			}
			code.LineNumbers = append(code.LineNumbers, ln)
		}
	}
	if err := r.done("Code"); err != nil {
		return nil, err
	}
	return code, nil
}

func decodeClassAttributes(r *classReader, pool *ConstantPool, attrs *ClassAttributes) error {
	n, err := r.u2()
	if err != nil {
		return err
	}
	for i := 0; i < int(n); i++ {
		name, a, err := r.attribute(pool)
		if err != nil {
			return err
		}
		switch name {
		case "SourceFile":
			if attrs.SourceFile, err = a.utf8(pool); err != nil {
				return err
			}
		case "Signature":
			if attrs.Signature, err = a.utf8(pool); err != nil {
				return err
			}
		case "InnerClasses":
			k, err := a.u2()
			if err != nil {
				return err
			}
			for j := 0; j < int(k); j++ {
				var ic InnerClass
				inner, err := a.u2()
				if err != nil {
					return err
				}
				outer, err := a.u2()
				if err != nil {
					return err
				}
				nameIdx, err := a.u2()
				if err != nil {
					return err
				}
				if ic.AccessFlags, err = a.u2(); err != nil {
					return err
				}
				if inner != 0 {
					if ic.Inner, err = pool.ClassName(int(inner)); err != nil {
						return a.fail(err.Error())
					}
				}
				if outer != 0 {
					if ic.Outer, err = pool.ClassName(int(outer)); err != nil {
						return a.fail(err.Error())
					}
				}
				if nameIdx != 0 {
					if ic.Name, err = pool.Utf8(int(nameIdx)); err != nil {
						return a.fail(err.Error())
					}
				}
				attrs.InnerClasses = append(attrs.InnerClasses, ic)
			}
		case "RuntimeVisibleAnnotations":
			attrs.Annotations = append([]byte(nil), a.data[a.offset:]...)
		case "EnclosingMethod":
			classIdx, err := a.u2()
			if err != nil {
				return err
			}
			methodIdx, err := a.u2()
			if err != nil {
				return err
			}
			if attrs.EnclosingClass, err = pool.ClassName(int(classIdx)); err != nil {
				return a.fail(err.Error())
			}
			if methodIdx != 0 {
				if nt, ok := pool.Entry(int(methodIdx)).(*NameAndType); ok {
					attrs.EnclosingMethod = nt.Name + nt.Spec
				}
			}
		}
	}
	return nil
}
