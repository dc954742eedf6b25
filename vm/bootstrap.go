package vm

import "fmt"

// ---------------------------------------------------------------------------
// Bootstrap: hand-built core classes
// ---------------------------------------------------------------------------
//
// java/lang/Class is itself an instance of java/lang/Class, so the core
// types cannot be loaded normally. boot builds them in two phases: every
// class is first created as an Uninitialized placeholder with no class
// pointer, then once all placeholders exist each one is patched and
// linked. A real class file with the same name later replaces the tables
// of the bootstrap object in place (see updateBootstrapClass).

type bootField struct {
	name, spec string
	flags      uint16
}

type bootMethod struct {
	name, spec string
	flags      uint16
}

type bootClass struct {
	name       string
	super      string
	flags      uint16
	vmFlags    VMFlags
	interfaces []string
	fields     []bootField
	methods    []bootMethod
}

const (
	pub       = AccPublic
	pubNative = AccPublic | AccNative
	pubStatic = AccPublic | AccStatic | AccNative
	pubAbs    = AccPublic | AccAbstract
	protected = AccProtected
)

func exceptionClass(name, super string) bootClass {
	return bootClass{name: name, super: super, flags: pub}
}

// bootClasses is ordered so every superclass and interface precedes its
// users.
var bootClasses = []bootClass{
	{name: NameObject, flags: pub, methods: []bootMethod{
		{"<init>", "()V", pub},
		{"getVMClass", "()Ljava/lang/Class;", AccPublic | AccFinal | AccNative},
		{"hashCode", "()I", pubNative},
		{"equals", "(Ljava/lang/Object;)Z", pub},
		{"clone", "()Ljava/lang/Object;", AccProtected | AccNative},
		{"toString", "()Ljava/lang/String;", pubNative},
		{"notify", "()V", AccPublic | AccFinal | AccNative},
		{"notifyAll", "()V", AccPublic | AccFinal | AccNative},
		{"wait", "(J)V", AccPublic | AccFinal | AccNative},
		{"finalize", "()V", protected},
	}},
	{name: NameSerializable, super: NameObject, flags: pub | AccInterface | AccAbstract},
	{name: NameCloneable, super: NameObject, flags: pub | AccInterface | AccAbstract},
	{name: "java/lang/Runnable", super: NameObject, flags: pub | AccInterface | AccAbstract, methods: []bootMethod{
		{"run", "()V", pubAbs},
	}},
	{name: "java/lang/CharSequence", super: NameObject, flags: pub | AccInterface | AccAbstract, methods: []bootMethod{
		{"length", "()I", pubAbs},
		{"charAt", "(I)C", pubAbs},
	}},
	{name: NameClass, super: NameObject, flags: pub | AccFinal, interfaces: []string{NameSerializable}, fields: []bootField{
		{"vmClass", "Ljava/lang/Object;", AccPrivate},
	}, methods: []bootMethod{
		{"getName", "()Ljava/lang/String;", pubNative},
	}},
	{name: NameString, super: NameObject, flags: pub | AccFinal, interfaces: []string{NameSerializable, "java/lang/CharSequence"}, fields: []bootField{
		{"data", "Ljava/lang/Object;", AccPrivate | AccFinal},
		{"offset", "I", AccPrivate | AccFinal},
		{"length", "I", AccPrivate | AccFinal},
		{"hashCode", "I", AccPrivate},
	}, methods: []bootMethod{
		{"length", "()I", pubNative},
		{"charAt", "(I)C", pubNative},
		{"intern", "()Ljava/lang/String;", pubNative},
	}},
	{name: NameThrowable, super: NameObject, flags: pub, interfaces: []string{NameSerializable}, fields: []bootField{
		{"message", "Ljava/lang/String;", AccPrivate},
		{"trace", "Ljava/lang/Object;", AccPrivate},
		{"cause", "Ljava/lang/Throwable;", AccPrivate},
	}, methods: []bootMethod{
		{"getMessage", "()Ljava/lang/String;", pubNative},
		{"getCause", "()Ljava/lang/Throwable;", pubNative},
	}},
	exceptionClass("java/lang/Exception", NameThrowable),
	exceptionClass("java/lang/Error", NameThrowable),
	exceptionClass("java/lang/RuntimeException", "java/lang/Exception"),
	exceptionClass("java/lang/ReflectiveOperationException", "java/lang/Exception"),
	exceptionClass("java/lang/ClassNotFoundException", "java/lang/ReflectiveOperationException"),
	exceptionClass("java/lang/InterruptedException", "java/lang/Exception"),
	exceptionClass("java/lang/CloneNotSupportedException", "java/lang/Exception"),
	exceptionClass("java/lang/NullPointerException", "java/lang/RuntimeException"),
	exceptionClass("java/lang/IllegalMonitorStateException", "java/lang/RuntimeException"),
	exceptionClass("java/lang/IllegalArgumentException", "java/lang/RuntimeException"),
	exceptionClass("java/lang/IllegalStateException", "java/lang/RuntimeException"),
	exceptionClass("java/lang/ClassCastException", "java/lang/RuntimeException"),
	exceptionClass("java/lang/ArithmeticException", "java/lang/RuntimeException"),
	exceptionClass("java/lang/ArrayStoreException", "java/lang/RuntimeException"),
	exceptionClass("java/lang/NegativeArraySizeException", "java/lang/RuntimeException"),
	exceptionClass("java/lang/IndexOutOfBoundsException", "java/lang/RuntimeException"),
	exceptionClass("java/lang/ArrayIndexOutOfBoundsException", "java/lang/IndexOutOfBoundsException"),
	exceptionClass("java/lang/StringIndexOutOfBoundsException", "java/lang/IndexOutOfBoundsException"),
	exceptionClass("java/lang/LinkageError", "java/lang/Error"),
	exceptionClass("java/lang/NoClassDefFoundError", "java/lang/LinkageError"),
	exceptionClass("java/lang/ClassFormatError", "java/lang/LinkageError"),
	exceptionClass("java/lang/ClassCircularityError", "java/lang/LinkageError"),
	exceptionClass("java/lang/UnsatisfiedLinkError", "java/lang/LinkageError"),
	exceptionClass("java/lang/ExceptionInInitializerError", "java/lang/LinkageError"),
	exceptionClass("java/lang/IncompatibleClassChangeError", "java/lang/LinkageError"),
	exceptionClass("java/lang/NoSuchMethodError", "java/lang/IncompatibleClassChangeError"),
	exceptionClass("java/lang/NoSuchFieldError", "java/lang/IncompatibleClassChangeError"),
	exceptionClass("java/lang/AbstractMethodError", "java/lang/IncompatibleClassChangeError"),
	exceptionClass("java/lang/VirtualMachineError", "java/lang/Error"),
	exceptionClass("java/lang/OutOfMemoryError", "java/lang/VirtualMachineError"),
	exceptionClass("java/lang/StackOverflowError", "java/lang/VirtualMachineError"),
	exceptionClass("java/lang/InternalError", "java/lang/VirtualMachineError"),
	{name: NameThread, super: NameObject, flags: pub, interfaces: []string{"java/lang/Runnable"}, fields: []bootField{
		{"peer", "J", AccPrivate},
		{"interrupted", "Z", AccPrivate | AccVolatile},
		{"daemon", "Z", AccPrivate},
		{"priority", "I", AccPrivate},
		{"name", "Ljava/lang/String;", AccPrivate},
		{"task", "Ljava/lang/Runnable;", AccPrivate},
		{"classLoader", "Ljava/lang/Object;", AccPrivate},
	}, methods: []bootMethod{
		{"run", "()V", pub},
		{"currentThread", "()Ljava/lang/Thread;", pubStatic},
		{"interrupted", "()Z", pubStatic},
		{"interrupt", "()V", pubNative},
		{"isInterrupted", "()Z", pubNative},
		{"yield", "()V", pubStatic},
	}},
	{name: NameReference, super: NameObject, flags: pub | AccAbstract, vmFlags: ReferenceFlag, fields: []bootField{
		{"vmNext", "Ljava/lang/Object;", AccPrivate},
		{"target", "Ljava/lang/Object;", AccPrivate},
		{"queue", "Ljava/lang/Object;", AccPrivate},
		{"jNext", "Ljava/lang/Object;", AccPrivate},
	}, methods: []bootMethod{
		{"get", "()Ljava/lang/Object;", pubNative},
		{"clear", "()V", pubNative},
	}},
	{name: NameWeakReference, super: NameReference, flags: pub, vmFlags: WeakReferenceFlag},
	{name: NameSoftReference, super: NameReference, flags: pub, vmFlags: WeakReferenceFlag},
	{name: NamePhantomReference, super: NameReference, flags: pub, vmFlags: WeakReferenceFlag},
	{name: NameCleaner, super: NamePhantomReference, flags: pub, vmFlags: WeakReferenceFlag, methods: []bootMethod{
		{"clean", "()V", pub},
	}},
	{name: NameReferenceQueue, super: NameObject, flags: pub, fields: []bootField{
		{"front", "Ljava/lang/ref/Reference;", AccPrivate},
	}},
	{name: "java/lang/System", super: NameObject, flags: pub | AccFinal, methods: []bootMethod{
		{"identityHashCode", "(Ljava/lang/Object;)I", pubStatic},
		{"arraycopy", "(Ljava/lang/Object;ILjava/lang/Object;II)V", pubStatic},
		{"currentTimeMillis", "()J", pubStatic},
		{"getProperty", "(Ljava/lang/String;)Ljava/lang/String;", pubStatic},
	}},
	{name: "java/lang/Runtime", super: NameObject, flags: pub, methods: []bootMethod{
		{"gc", "()V", pubNative},
		{"freeMemory", "()J", pubNative},
		{"totalMemory", "()J", pubNative},
		{"maxMemory", "()J", pubNative},
	}},
	{name: "java/lang/Float", super: NameObject, flags: pub | AccFinal, methods: []bootMethod{
		{"floatToRawIntBits", "(F)I", pubStatic},
		{"intBitsToFloat", "(I)F", pubStatic},
	}},
	{name: "java/lang/Double", super: NameObject, flags: pub | AccFinal, methods: []bootMethod{
		{"doubleToRawLongBits", "(D)J", pubStatic},
		{"longBitsToDouble", "(J)D", pubStatic},
	}},
	{name: "java/lang/Math", super: NameObject, flags: pub | AccFinal, methods: []bootMethod{
		{"sqrt", "(D)D", pubStatic},
		{"floor", "(D)D", pubStatic},
	}},
}

// Types holds the bootstrap classes the runtime refers to directly.
type Types struct {
	Object         *Class
	Class          *Class
	String         *Class
	Throwable      *Class
	Thread         *Class
	Reference      *Class
	WeakReference  *Class
	ReferenceQueue *Class
	Cleaner        *Class
	Cloneable      *Class
	Serializable   *Class

	CharArray   *Class
	ByteArray   *Class
	IntArray    *Class
	LongArray   *Class
	ObjectArray *Class

	primitives map[byte]*Class
	all        map[string]*Class
}

func (ts *Types) byName(name string) *Class {
	return ts.all[name]
}

// PrimitiveClass returns the pseudo-class for a descriptor character.
func (m *Machine) PrimitiveClass(spec byte) *Class {
	return m.types.primitives[spec]
}

// boot builds the core classes.
func (m *Machine) boot() {
	ts := &m.types
	ts.all = make(map[string]*Class)
	ts.primitives = make(map[byte]*Class)

	// phase 1: placeholders with no class pointer
	for _, bc := range bootClasses {
		c := &Class{Name: bc.name, AccessFlags: bc.flags}
		c.words = make([]uint64, 1)
		c.id = m.nextObjectID()
		c.native = c
		c.setState(ClassUninitialized)
		ts.all[bc.name] = c
	}
	for ch, name := range primitiveSpecs {
		c := &Class{Name: name, AccessFlags: AccPublic | AccFinal | AccAbstract}
		c.words = make([]uint64, 1)
		c.id = m.nextObjectID()
		c.native = c
		c.setState(ClassUninitialized)
		ts.primitives[ch] = c
	}

	ts.Object = ts.all[NameObject]
	ts.Class = ts.all[NameClass]
	ts.String = ts.all[NameString]
	ts.Throwable = ts.all[NameThrowable]
	ts.Thread = ts.all[NameThread]
	ts.Reference = ts.all[NameReference]
	ts.WeakReference = ts.all[NameWeakReference]
	ts.ReferenceQueue = ts.all[NameReferenceQueue]
	ts.Cleaner = ts.all[NameCleaner]
	ts.Cloneable = ts.all[NameCloneable]
	ts.Serializable = ts.all[NameSerializable]

	// phase 2: patch class pointers and link in dependency order
	for _, bc := range bootClasses {
		c := ts.all[bc.name]
		c.setClass(ts.Class)
		m.linkBootClass(c, bc)
		c.setVMFlag(BootstrapFlag | bc.vmFlags)
		m.bootstrapClasses[c.Name] = c
	}
	for ch, c := range ts.primitives {
		c.setClass(ts.Class)
		c.Super = nil
		code, _ := FieldCodeOf(ch)
		c.FixedSize = code.Size()
		c.setVMFlag(PrimitiveFlag | LinkFlag | InitFlag)
		c.setState(ClassInitialized)
		m.BootLoader.classes[c.Name] = c
	}

	for ch := range primitiveSpecs {
		if ch == 'V' {
			continue
		}
		name := "[" + string(ch)
		ac := m.makeArrayClass(name, ts.primitives[ch], m.BootLoader)
		m.BootLoader.classes[name] = ac
	}
	ts.ObjectArray = m.makeArrayClass(NameObjectArray, ts.Object, m.BootLoader)
	m.BootLoader.classes[NameObjectArray] = ts.ObjectArray
	ts.CharArray = m.BootLoader.classes["[C"]
	ts.ByteArray = m.BootLoader.classes["[B"]
	ts.IntArray = m.BootLoader.classes["[I"]
	ts.LongArray = m.BootLoader.classes["[J"]

	m.refreshLayouts()
}

// refreshLayouts caches the field offsets the runtime reads directly.
// It runs after boot and after every bootstrap class update.
func (m *Machine) refreshLayouts() {
	ts := &m.types
	m.referenceTarget = mustField(ts.Reference, "target", "Ljava/lang/Object;").Offset
	m.referenceQueue = mustField(ts.Reference, "queue", "Ljava/lang/Object;").Offset
	m.referenceNext = mustField(ts.Reference, "jNext", "Ljava/lang/Object;").Offset
	m.queueFront = mustField(ts.ReferenceQueue, "front", "Ljava/lang/ref/Reference;").Offset
	m.daemonField = mustField(ts.Thread, "daemon", "Z")
	m.stringFields = m.stringLayout()
	m.throwableFields = m.throwableLayout()
	m.threadFields = m.threadLayout()
}

// linkBootClass links a placeholder through the regular field and method
// table builders, using a synthesized class file.
func (m *Machine) linkBootClass(c *Class, bc bootClass) {
	ts := &m.types
	cf := &ClassFile{AccessFlags: bc.flags, Name: bc.name, SuperName: bc.super}
	for _, f := range bc.fields {
		cf.Fields = append(cf.Fields, FieldInfo{AccessFlags: f.flags, Name: f.name, Spec: f.spec})
	}
	for _, bm := range bc.methods {
		mi := MethodInfo{AccessFlags: bm.flags, Name: bm.name, Spec: bm.spec}
		if bm.flags&(AccNative|AccAbstract) == 0 {
			// a lone return
			mi.Code = &Code{MaxStack: 0, MaxLocals: 1, Body: []byte{0xb1}}
		}
		cf.Methods = append(cf.Methods, mi)
	}

	c.Pool = newConstantPool(1)
	c.Pool.owner = c
	c.Loader = m.BootLoader
	c.FixedSize = BytesPerWord
	if bc.super != "" {
		sc := ts.all[bc.super]
		c.Super = sc
		c.FixedSize = sc.FixedSize
		c.setVMFlag(sc.VMFlags() & (ReferenceFlag | WeakReferenceFlag))
	}

	seen := make(map[*Class]bool)
	add := func(i *Class) {
		if !seen[i] {
			seen[i] = true
			c.Interfaces = append(c.Interfaces, i)
		}
	}
	if c.Super != nil {
		for _, i := range c.Super.Interfaces {
			add(i)
		}
	}
	for _, name := range bc.interfaces {
		ic := ts.all[name]
		for _, i := range ic.Interfaces {
			add(i)
		}
		add(ic)
	}

	if err := m.linkFields(nil, c, cf); err != nil {
		Abort("bootstrap %s: %v", c.Name, err)
	}
	if err := m.linkMethods(c, cf); err != nil {
		Abort("bootstrap %s: %v", c.Name, err)
	}
	c.setVMFlag(LinkFlag | InitFlag)
	c.setState(ClassInitialized)
}

// updateBootstrapClass copies a freshly parsed definition onto the
// bootstrap object with the same name, keeping its identity. It requires
// the same superclass, a fixed size no smaller than before and no
// finalizer, and runs in exclusive state.
func (m *Machine) updateBootstrapClass(t *Thread, bootstrap, c *Class) error {
	superName := func(k *Class) string {
		if k.Super == nil {
			return ""
		}
		return k.Super.Name
	}
	if superName(bootstrap) != superName(c) {
		return fmtBootstrapErr(bootstrap, "superclass %q differs from %q", superName(c), superName(bootstrap))
	}
	if c.FixedSize < bootstrap.FixedSize {
		return fmtBootstrapErr(bootstrap, "fixed size %d smaller than %d", c.FixedSize, bootstrap.FixedSize)
	}
	if c.HasVMFlag(HasFinalizerFlag) {
		return fmtBootstrapErr(bootstrap, "declares a finalizer")
	}

	restore := t.EnterScoped(ExclusiveState)
	defer restore()

	keep := bootstrap.VMFlags() & (BootstrapFlag | PrimitiveFlag | InitFlag)
	bootstrap.vmFlags.Store(uint32(c.VMFlags() | keep))
	bootstrap.AccessFlags = c.AccessFlags
	bootstrap.FixedSize = c.FixedSize
	bootstrap.ArrayElementSize = c.ArrayElementSize
	bootstrap.ObjectMask = c.ObjectMask
	bootstrap.Interfaces = c.Interfaces
	bootstrap.InterfaceVTables = c.InterfaceVTables
	bootstrap.VTable = c.VTable
	bootstrap.Fields = c.Fields
	bootstrap.Methods = c.Methods
	bootstrap.Static = c.Static
	bootstrap.Pool = c.Pool
	bootstrap.Addendum = c.Addendum
	bootstrap.Source = c.Source

	bootstrap.Pool.owner = bootstrap
	for _, f := range bootstrap.Fields {
		f.Class = bootstrap
	}
	for _, method := range bootstrap.Methods {
		if method.Class == c {
			method.Class = bootstrap
		}
	}
	if c.HasVMFlag(NeedInitFlag) {
		bootstrap.clearVMFlag(InitFlag)
		bootstrap.setState(ClassLinked)
	} else {
		bootstrap.setVMFlag(InitFlag)
		bootstrap.setState(ClassInitialized)
	}
	m.refreshLayouts()
	log.Debugf("updated bootstrap class %s", bootstrap.Name)
	return nil
}

func fmtBootstrapErr(c *Class, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrBootstrapMismatch, c.Name, fmt.Sprintf(format, args...))
}
