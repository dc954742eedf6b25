package vm

import (
	"strings"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Class: runtime class representation
// ---------------------------------------------------------------------------

// ClassState tracks where a class is in its lifecycle. Placeholder classes
// built during bootstrap start Uninitialized and are converted once every
// bootstrap class exists.
type ClassState uint32

const (
	ClassUninitialized ClassState = iota
	ClassLoaded
	ClassLinked
	ClassInitialized
	ClassInitError
)

func (s ClassState) String() string {
	switch s {
	case ClassUninitialized:
		return "uninitialized"
	case ClassLoaded:
		return "loaded"
	case ClassLinked:
		return "linked"
	case ClassInitialized:
		return "initialized"
	case ClassInitError:
		return "init-error"
	}
	return "?"
}

// Class is both a layout descriptor and a managed object whose class is
// java/lang/Class.
type Class struct {
	Object

	Name        string
	AccessFlags uint16
	vmFlags     atomic.Uint32

	// FixedSize is the instance size in bytes including the header word;
	// for arrays it is the size of the array header.
	FixedSize        int
	ArrayElementSize int
	ArrayDimensions  int
	ObjectMask       *Bitset

	Super      *Class
	Interfaces []*Class
	// InterfaceVTables is parallel to Interfaces for non-interface
	// classes: entry i maps interface method slots to implementations.
	InterfaceVTables [][]*Method
	VTable           []*Method
	Fields           []*Field
	Methods          []*Method
	Static           *Singleton
	Pool             *ConstantPool
	Addendum         *ClassAddendum
	ElementClass     *Class

	Loader *Loader
	Source string

	state     atomic.Uint32
	initOwner atomic.Pointer[Thread]
	mirror    atomic.Pointer[Object]
}

// VMFlags returns the runtime flags.
func (c *Class) VMFlags() VMFlags {
	return VMFlags(c.vmFlags.Load())
}

// HasVMFlag reports whether all bits of f are set.
func (c *Class) HasVMFlag(f VMFlags) bool {
	return c.VMFlags()&f == f
}

func (c *Class) setVMFlag(f VMFlags) {
	c.vmFlags.Or(uint32(f))
}

func (c *Class) clearVMFlag(f VMFlags) {
	c.vmFlags.And(^uint32(f))
}

// State returns the lifecycle state.
func (c *Class) State() ClassState {
	return ClassState(c.state.Load())
}

func (c *Class) setState(s ClassState) {
	c.state.Store(uint32(s))
}

// IsInterface reports whether c was declared as an interface.
func (c *Class) IsInterface() bool {
	return c.AccessFlags&AccInterface != 0
}

// IsArray reports whether c describes arrays.
func (c *Class) IsArray() bool {
	return c.ArrayDimensions > 0
}

// IsPrimitive reports whether c is a primitive pseudo-class such as int.
func (c *Class) IsPrimitive() bool {
	return c.HasVMFlag(PrimitiveFlag)
}

// ClassOf returns the Class an object cell represents, if it is a class.
func ClassOf(o *Object) (*Class, bool) {
	if o == nil {
		return nil, false
	}
	c, ok := o.native.(*Class)
	return c, ok
}

// AsObject returns the class's own managed cell.
func (c *Class) AsObject() *Object {
	return &c.Object
}

// IsSubclassOf returns true if c is other or descends from it.
func (c *Class) IsSubclassOf(other *Class) bool {
	for current := c; current != nil; current = current.Super {
		if current == other {
			return true
		}
	}
	return false
}

// Implements reports whether iface appears in c's interface table.
func (c *Class) Implements(iface *Class) bool {
	for _, i := range c.Interfaces {
		if i == iface {
			return true
		}
	}
	return false
}

// IsAssignableFrom reports whether a value of class b may be stored in a
// variable of class a.
func IsAssignableFrom(a, b *Class) bool {
	if a == b {
		return true
	}
	if a.IsInterface() {
		return b.Implements(a)
	}
	if a.IsArray() {
		if !b.IsArray() {
			return false
		}
		if b.ElementClass.IsPrimitive() || a.ElementClass.IsPrimitive() {
			return a.ElementClass == b.ElementClass
		}
		return IsAssignableFrom(a.ElementClass, b.ElementClass)
	}
	if b.IsInterface() {
		return a.Name == NameObject
	}
	return b.IsSubclassOf(a)
}

// InstanceOf reports whether o is an instance of c. nil is never an
// instance.
func InstanceOf(c *Class, o *Object) bool {
	return o != nil && IsAssignableFrom(c, o.Class())
}

// FindField looks up a field declared directly on c.
func (c *Class) FindField(name, spec string) *Field {
	for _, f := range c.Fields {
		if f.Name == name && f.Spec == spec {
			return f
		}
	}
	return nil
}

// FindMethod looks up a method declared directly on c.
func (c *Class) FindMethod(name, spec string) *Method {
	for _, m := range c.Methods {
		if m.Name == name && m.Spec == spec {
			return m
		}
	}
	return nil
}

// InstanceFieldCount counts non-static fields declared on c.
func (c *Class) InstanceFieldCount() int {
	n := 0
	for _, f := range c.Fields {
		if f.AccessFlags&AccStatic == 0 {
			n++
		}
	}
	return n
}

// JavaName returns the dotted form of the class name.
func (c *Class) JavaName() string {
	return strings.ReplaceAll(c.Name, "/", ".")
}

func (c *Class) String() string {
	return c.Name
}

// ---------------------------------------------------------------------------
// Members
// ---------------------------------------------------------------------------

// Field describes an instance or static field. Offset is a byte offset
// into instances for instance fields and a slot index into the class's
// static singleton for static fields.
type Field struct {
	Name        string
	Spec        string
	AccessFlags uint16
	Code        FieldCode
	Offset      int
	Class       *Class
	Addendum    *FieldAddendum
}

// IsStatic reports whether the field lives in the static table.
func (f *Field) IsStatic() bool {
	return f.AccessFlags&AccStatic != 0
}

// IsVolatile reports whether the field was declared volatile.
func (f *Field) IsVolatile() bool {
	return f.AccessFlags&AccVolatile != 0
}

// Method describes a declared or synthesized method.
type Method struct {
	Name               string
	Spec               string
	AccessFlags        uint16
	VMFlags            uint8
	Class              *Class
	Offset             int // vtable slot for virtual methods, else table index
	ParameterCount     int
	ParameterFootprint int // argument slots including the receiver
	ParameterCodes     []FieldCode
	ReturnCode         FieldCode
	Code               *Code
	Addendum           *MethodAddendum

	native atomic.Pointer[NativeBinding]
}

// IsStatic reports whether the method takes no receiver.
func (m *Method) IsStatic() bool {
	return m.AccessFlags&AccStatic != 0
}

// IsNative reports whether the method is implemented outside byte code.
func (m *Method) IsNative() bool {
	return m.AccessFlags&AccNative != 0
}

// IsAbstract reports whether the method has no implementation.
func (m *Method) IsAbstract() bool {
	return m.AccessFlags&AccAbstract != 0
}

// IsVirtual reports whether the method is dispatched through the vtable.
func (m *Method) IsVirtual() bool {
	return m.AccessFlags&(AccStatic|AccPrivate) == 0 && m.Name != "<init>" && m.Name != "<clinit>"
}

func (m *Method) String() string {
	return m.Class.Name + "." + m.Name + m.Spec
}

// Code is a method body.
type Code struct {
	MaxStack    int
	MaxLocals   int
	Body        []byte
	Handlers    []ExceptionHandler
	LineNumbers []LineNumber
}

// ExceptionHandler is one entry of a Code attribute's handler table.
type ExceptionHandler struct {
	Start     uint16
	End       uint16
	Handler   uint16
	CatchType uint16 // pool index, 0 catches everything
}

// LineNumber maps a byte-code offset to a source line.
type LineNumber struct {
	IP   uint16
	Line uint16
}

// LineNumberFor returns the source line covering ip, or -1.
func (c *Code) LineNumberFor(ip int) int {
	if c == nil || len(c.LineNumbers) == 0 {
		return -1
	}
	line := -1
	for _, ln := range c.LineNumbers {
		if int(ln.IP) <= ip {
			line = int(ln.Line)
		} else {
			break
		}
	}
	return line
}

// ---------------------------------------------------------------------------
// Addenda
// ---------------------------------------------------------------------------

// ClassAddendum carries class attributes most classes never need.
type ClassAddendum struct {
	SourceFile      string
	Signature       string
	InnerClasses    []InnerClass
	Annotations     []byte
	EnclosingClass  string
	EnclosingMethod string
	// DeclaredMethodCount is the number of methods declared in the class
	// file, before miranda methods were appended.
	DeclaredMethodCount int
}

// InnerClass is one InnerClasses attribute entry.
type InnerClass struct {
	Inner       string
	Outer       string
	Name        string
	AccessFlags uint16
}

// MethodAddendum carries rarely needed method attributes.
type MethodAddendum struct {
	Signature         string
	Annotations       []byte
	ParameterAnns     []byte
	AnnotationDefault []byte
	Exceptions        []string
}

// FieldAddendum carries rarely needed field attributes.
type FieldAddendum struct {
	Signature   string
	Annotations []byte
}
