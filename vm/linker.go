package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Linker: ClassFile -> Class
// ---------------------------------------------------------------------------

// ParseClass decodes and links a class file. Structural problems come
// back as *ClassFormatError; a missing superclass or interface raises
// throwType. Nothing is registered with any loader here.
func (m *Machine) ParseClass(t *Thread, loader *Loader, data []byte, throwType ThrowType) (*Class, error) {
	cf, err := DecodeClassFile(data)
	if err != nil {
		return nil, err
	}
	if m.Options.VerboseClasses {
		classLog.Infof("parsing %s", cf.Name)
	}
	c, err := m.LinkClass(t, loader, cf, throwType)
	if err != nil {
		return nil, err
	}
	if m.Options.VerboseClasses {
		classLog.Infof("done parsing %s: fixed size %d, %d virtuals", c.Name, c.FixedSize, len(c.VTable))
	}
	return c, nil
}

// LinkClass builds a live class from a decoded class file: superclass,
// interface table, fields, methods, then attributes, in that order.
func (m *Machine) LinkClass(t *Thread, loader *Loader, cf *ClassFile, throwType ThrowType) (*Class, error) {
	c := m.newClass(cf.Name, loader)
	c.AccessFlags = cf.AccessFlags
	c.Pool = cf.Pool
	c.Pool.owner = c
	c.FixedSize = BytesPerWord

	if err := m.linkSuper(t, c, cf, throwType); err != nil {
		return nil, err
	}
	if err := m.linkInterfaces(t, c, cf, throwType); err != nil {
		return nil, err
	}
	if err := m.linkFields(t, c, cf); err != nil {
		return nil, err
	}
	if err := m.linkMethods(c, cf); err != nil {
		return nil, err
	}
	linkAttributes(c, cf)

	c.setVMFlag(LinkFlag)
	c.setState(ClassLinked)
	return c, nil
}

// newClass allocates an empty class whose own cell is an instance of
// java/lang/Class.
func (m *Machine) newClass(name string, loader *Loader) *Class {
	c := &Class{Name: name, Loader: loader}
	c.words = make([]uint64, 1)
	c.id = m.nextObjectID()
	c.native = c
	if m.types.Class != nil {
		c.setClass(m.types.Class)
	}
	c.setState(ClassLoaded)
	return c
}

func (m *Machine) linkSuper(t *Thread, c *Class, cf *ClassFile, throwType ThrowType) error {
	if cf.SuperName == "" {
		return nil
	}
	sc, err := m.ResolveClass(t, c.Loader, cf.SuperName, true, throwType)
	if err != nil {
		return err
	}
	if sc.IsInterface() || sc.AccessFlags&AccFinal != 0 {
		return m.throwNew(t, IncompatibleClassChangeErrorType, "%s cannot extend %s", c.Name, sc.Name)
	}
	c.Super = sc
	c.setVMFlag(sc.VMFlags() & (ReferenceFlag | WeakReferenceFlag | HasFinalizerFlag | NeedInitFlag))
	c.FixedSize = sc.FixedSize
	return nil
}

// linkInterfaces collects every interface c implements, directly or
// through its superclass and superinterfaces, in first-seen order.
func (m *Machine) linkInterfaces(t *Thread, c *Class, cf *ClassFile, throwType ThrowType) error {
	seen := make(map[*Class]bool)
	var table []*Class
	add := func(i *Class) {
		if !seen[i] {
			seen[i] = true
			table = append(table, i)
		}
	}
	if c.Super != nil {
		for _, i := range c.Super.Interfaces {
			add(i)
		}
	}
	for _, name := range cf.Interfaces {
		ic, err := m.ResolveClass(t, c.Loader, name, true, throwType)
		if err != nil {
			return err
		}
		if !ic.IsInterface() {
			return m.throwNew(t, IncompatibleClassChangeErrorType, "%s implements non-interface %s", c.Name, ic.Name)
		}
		for _, i := range ic.Interfaces {
			add(i)
		}
		add(ic)
	}
	c.Interfaces = table
	return nil
}

// linkFields assigns instance field offsets with natural alignment after
// the superclass's fields, builds the object mask, and lays out statics in
// a separate singleton.
func (m *Machine) linkFields(t *Thread, c *Class, cf *ClassFile) error {
	offset := c.FixedSize
	var mask *Bitset
	if c.Super != nil && c.Super.ObjectMask != nil {
		mask = c.Super.ObjectMask.Clone(ceilWords(offset))
	}

	staticCount := 0
	for _, fi := range cf.Fields {
		if fi.AccessFlags&AccStatic != 0 {
			staticCount++
		}
	}
	var statics *Singleton
	if staticCount > 0 {
		statics = NewSingleton(staticCount)
	}

	staticIndex := 0
	for _, fi := range cf.Fields {
		code, _ := FieldSpecCode(fi.Spec)
		f := &Field{
			Name:        fi.Name,
			Spec:        fi.Spec,
			AccessFlags: fi.AccessFlags,
			Code:        code,
			Class:       c,
		}
		if fi.Signature != "" || fi.Annotations != nil {
			f.Addendum = &FieldAddendum{Signature: fi.Signature, Annotations: fi.Annotations}
		}

		if f.IsStatic() {
			f.Offset = staticIndex
			staticIndex++
			switch code {
			case ObjectField:
				statics.markObject(f.Offset)
			case FloatField, DoubleField:
				statics.markFloat(f.Offset)
			}
			if fi.ConstantValue != 0 {
				if err := m.seedConstant(t, c, statics, f, fi.ConstantValue); err != nil {
					return err
				}
			}
		} else {
			size := code.Size()
			if rem := offset % size; rem != 0 {
				offset += size - rem
			}
			f.Offset = offset
			offset += size
			if code == ObjectField {
				if mask == nil {
					mask = NewBitset(ceilWords(offset))
				}
				mask.Set(f.Offset / BytesPerWord)
			}
			if fi.AccessFlags&AccFinal != 0 {
				c.setVMFlag(HasFinalMemberFlag)
			}
		}
		c.Fields = append(c.Fields, f)
	}

	c.FixedSize = padToWord(offset)
	if mask != nil && !mask.Empty() {
		c.ObjectMask = mask
	}
	c.Static = statics
	if statics != nil {
		c.setVMFlag(SingletonFlag)
	}
	return nil
}

// seedConstant stores a ConstantValue attribute into the static table.
func (m *Machine) seedConstant(t *Thread, c *Class, statics *Singleton, f *Field, index int) error {
	p := c.Pool
	switch f.Code {
	case ObjectField:
		if p.Tag(index) != TagString {
			return &ClassFormatError{Class: c.Name, Reason: fmt.Sprintf("bad ConstantValue for %s", f.Name)}
		}
		s, err := p.ResolveString(t, index)
		if err != nil {
			return err
		}
		statics.SetRef(f.Offset, s)
	case LongField, DoubleField:
		if tag := p.Tag(index); tag != TagLong && tag != TagDouble {
			return &ClassFormatError{Class: c.Name, Reason: fmt.Sprintf("bad ConstantValue for %s", f.Name)}
		}
		statics.SetWord(f.Offset, p.RawWord(index))
	default:
		if tag := p.Tag(index); tag != TagInteger && tag != TagFloat {
			return &ClassFormatError{Class: c.Name, Reason: fmt.Sprintf("bad ConstantValue for %s", f.Name)}
		}
		statics.SetWord(f.Offset, p.RawWord(index))
	}
	return nil
}

func methodKey(name, spec string) string {
	return name + spec
}

// linkMethods builds the method table and the vtable. Overrides reuse the
// inherited slot and new virtual methods are appended, so ancestor slots
// never move. Interface methods with no implementation are appended as
// abstract methods owned by c.
func (m *Machine) linkMethods(c *Class, cf *ClassFile) error {
	iface := c.IsInterface()

	virtualMap := make(map[string]*Method)
	var vtable []*Method
	if c.Super != nil && !iface {
		vtable = make([]*Method, len(c.Super.VTable), len(c.Super.VTable)+len(cf.Methods))
		copy(vtable, c.Super.VTable)
		for _, sm := range c.Super.VTable {
			virtualMap[methodKey(sm.Name, sm.Spec)] = sm
		}
	}

	for i, mi := range cf.Methods {
		spec, err := ParseMethodSpec(mi.Spec)
		if err != nil {
			return &ClassFormatError{Class: c.Name, Reason: err.Error()}
		}
		method := &Method{
			Name:           mi.Name,
			Spec:           mi.Spec,
			AccessFlags:    mi.AccessFlags,
			Class:          c,
			ParameterCount: len(spec.Codes),
			ParameterCodes: spec.Codes,
			ReturnCode:     spec.ReturnCode,
			Code:           mi.Code,
			Offset:         i,
		}
		method.ParameterFootprint = spec.Footprint()
		if !method.IsStatic() {
			method.ParameterFootprint++
		}
		if mi.Signature != "" || mi.Annotations != nil || mi.ParameterAnns != nil ||
			mi.AnnotationDefault != nil || len(mi.Exceptions) > 0 {
			method.Addendum = &MethodAddendum{
				Signature:         mi.Signature,
				Annotations:       mi.Annotations,
				ParameterAnns:     mi.ParameterAnns,
				AnnotationDefault: mi.AnnotationDefault,
				Exceptions:        mi.Exceptions,
			}
		}

		switch mi.Name {
		case "<clinit>":
			method.VMFlags |= ClassInitFlag
			c.setVMFlag(NeedInitFlag)
		case "<init>":
			method.VMFlags |= ConstructorFlag
		case "finalize":
			if mi.Spec == "()V" && !emptyMethod(method) {
				c.setVMFlag(HasFinalizerFlag)
			}
		}

		if method.IsVirtual() {
			key := methodKey(mi.Name, mi.Spec)
			if iface {
				method.Offset = len(vtable)
				vtable = append(vtable, method)
			} else if prev, ok := virtualMap[key]; ok {
				method.Offset = prev.Offset
				vtable[method.Offset] = method
			} else {
				method.Offset = len(vtable)
				vtable = append(vtable, method)
			}
			virtualMap[key] = method
		}
		c.Methods = append(c.Methods, method)
	}
	declared := len(c.Methods)

	if !iface {
		for _, ic := range c.Interfaces {
			for _, im := range ic.VTable {
				key := methodKey(im.Name, im.Spec)
				if _, ok := virtualMap[key]; ok {
					continue
				}
				miranda := &Method{
					Name:               im.Name,
					Spec:               im.Spec,
					AccessFlags:        AccPublic | AccAbstract,
					VMFlags:            im.VMFlags,
					Class:              c,
					Offset:             len(vtable),
					ParameterCount:     im.ParameterCount,
					ParameterFootprint: im.ParameterFootprint,
					ParameterCodes:     im.ParameterCodes,
					ReturnCode:         im.ReturnCode,
				}
				virtualMap[key] = miranda
				vtable = append(vtable, miranda)
				c.Methods = append(c.Methods, miranda)
			}
		}

		c.InterfaceVTables = make([][]*Method, len(c.Interfaces))
		for i, ic := range c.Interfaces {
			table := make([]*Method, len(ic.VTable))
			for j, im := range ic.VTable {
				table[j] = virtualMap[methodKey(im.Name, im.Spec)]
			}
			c.InterfaceVTables[i] = table
		}
	}

	c.VTable = vtable
	if declared != len(c.Methods) {
		ensureAddendum(c).DeclaredMethodCount = declared
	}
	return nil
}

// emptyMethod reports whether a method body is a lone return.
func emptyMethod(m *Method) bool {
	return m.Code != nil && len(m.Code.Body) == 1 && m.Code.Body[0] == 0xb1
}

func ensureAddendum(c *Class) *ClassAddendum {
	if c.Addendum == nil {
		c.Addendum = &ClassAddendum{DeclaredMethodCount: len(c.Methods)}
	}
	return c.Addendum
}

func linkAttributes(c *Class, cf *ClassFile) {
	a := &cf.Attributes
	if a.empty() {
		return
	}
	add := ensureAddendum(c)
	add.SourceFile = a.SourceFile
	add.Signature = a.Signature
	add.InnerClasses = a.InnerClasses
	add.Annotations = a.Annotations
	add.EnclosingClass = a.EnclosingClass
	add.EnclosingMethod = a.EnclosingMethod
}

// SourceFile returns the SourceFile attribute, if any.
func (c *Class) SourceFile() string {
	if c.Addendum == nil {
		return ""
	}
	return c.Addendum.SourceFile
}

// DeclaredMethods returns the methods the class file declared, without
// appended abstract interface methods.
func (c *Class) DeclaredMethods() []*Method {
	if c.Addendum != nil && c.Addendum.DeclaredMethodCount < len(c.Methods) {
		return c.Methods[:c.Addendum.DeclaredMethodCount]
	}
	return c.Methods
}
