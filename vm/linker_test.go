package vm

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

// ---------------------------------------------------------------------------
// Linker tests
// ---------------------------------------------------------------------------

// slots maps name+spec to vtable index.
func slots(c *Class) map[string]int {
	out := make(map[string]int, len(c.VTable))
	for i, m := range c.VTable {
		out[m.Name+m.Spec] = i
	}
	return out
}

func linkerFinder() mapFinder {
	return mapFinder{}.
		add(newClassBuilder("p/Shape", NameObject).
			flags(AccPublic|AccInterface|AccAbstract).
			method(AccPublic|AccAbstract, "area", "()D").
			method(AccPublic|AccAbstract, "name", "()Ljava/lang/String;")).
		add(newClassBuilder("p/Base", NameObject).
			field(AccProtected, "id", "I").
			method(AccPublic, "<init>", "()V").
			method(AccPublic, "describe", "()Ljava/lang/String;").
			method(AccPublic, "size", "()I").
			method(AccPrivate, "secret", "()V").
			method(AccPublic|AccStatic, "create", "()Lp/Base;")).
		add(newClassBuilder("p/Square", "p/Base").
			implements("p/Shape").
			field(AccPrivate, "side", "D").
			field(AccPrivate, "label", "Ljava/lang/String;").
			method(AccPublic, "size", "()I").
			method(AccPublic, "area", "()D").
			method(AccPublic, "extra", "()V"))
}

func TestVTableStableAcrossSubclassing(t *testing.T) {
	m := newTestMachine(t, nil, linkerFinder())

	base, err := m.ResolveClass(m.t, m.AppLoader, "p/Base", true, NoClassDefFoundErrorType)
	if err != nil {
		t.Fatalf("ResolveClass(p/Base): %v", err)
	}
	before := slots(base)

	sq, err := m.ResolveClass(m.t, m.AppLoader, "p/Square", true, NoClassDefFoundErrorType)
	if err != nil {
		t.Fatalf("ResolveClass(p/Square): %v", err)
	}
	if diff := cmp.Diff(before, slots(base)); diff != "" {
		t.Errorf("base vtable changed after linking subclass (-before +after):\n%s", diff)
	}

	inherited := make(map[string]int)
	sub := slots(sq)
	for key := range before {
		inherited[key] = sub[key]
	}
	if diff := cmp.Diff(before, inherited); diff != "" {
		t.Errorf("subclass moved inherited slots (-base +sub):\n%s", diff)
	}

	for key, i := range before {
		if sq.VTable[i].Offset != i {
			t.Errorf("%s: Offset = %d, want %d", key, sq.VTable[i].Offset, i)
		}
	}
	if got := sq.VTable[before["size()I"]].Class; got != sq {
		t.Errorf("size()I resolves to %s, want the override in p/Square", got.Name)
	}
	if got := sq.VTable[before["describe()Ljava/lang/String;"]].Class; got != base {
		t.Errorf("describe resolves to %s, want p/Base", got.Name)
	}
	if _, ok := before["secret()V"]; ok {
		t.Error("private methods should not take a vtable slot")
	}
	if _, ok := before["create()Lp/Base;"]; ok {
		t.Error("static methods should not take a vtable slot")
	}
	if _, ok := before["<init>()V"]; ok {
		t.Error("constructors should not take a vtable slot")
	}
	if len(sq.VTable) <= len(base.VTable) {
		t.Errorf("subclass vtable has %d slots, base has %d", len(sq.VTable), len(base.VTable))
	}
}

func TestMirandaMethods(t *testing.T) {
	m := newTestMachine(t, nil, linkerFinder())

	sq, err := m.ResolveClass(m.t, m.AppLoader, "p/Square", true, NoClassDefFoundErrorType)
	if err != nil {
		t.Fatalf("ResolveClass: %v", err)
	}
	shape, err := m.ResolveClass(m.t, m.AppLoader, "p/Shape", true, NoClassDefFoundErrorType)
	if err != nil {
		t.Fatalf("ResolveClass: %v", err)
	}

	name := FindMethodInClass(sq, "name", "()Ljava/lang/String;")
	if name == nil {
		t.Fatal("unimplemented interface method should get a stub in the class")
	}
	if name.AccessFlags&AccAbstract == 0 {
		t.Error("interface stub should be abstract")
	}
	if sq.VTable[name.Offset] != name {
		t.Error("interface stub should own its vtable slot")
	}
	if sq.Addendum == nil || sq.Addendum.DeclaredMethodCount != 3 {
		t.Errorf("declared method count should exclude stubs")
	}
	if got := len(sq.DeclaredMethods()); got != 3 {
		t.Errorf("DeclaredMethods = %d, want 3", got)
	}

	idx := -1
	for i, ic := range sq.Interfaces {
		if ic == shape {
			idx = i
		}
	}
	if idx < 0 {
		t.Fatal("p/Shape missing from the interface table")
	}
	table := sq.InterfaceVTables[idx]
	for i, im := range shape.VTable {
		if table[i] == nil || table[i].Name != im.Name || table[i].Spec != im.Spec {
			t.Errorf("interface slot %d = %v, want %s%s", i, table[i], im.Name, im.Spec)
		}
	}
}

func TestFieldLayoutInheritance(t *testing.T) {
	m := newTestMachine(t, nil, linkerFinder())

	sq, err := m.ResolveClass(m.t, m.AppLoader, "p/Square", true, NoClassDefFoundErrorType)
	if err != nil {
		t.Fatalf("ResolveClass: %v", err)
	}
	base := sq.Super

	if base.FixedSize != 16 {
		t.Errorf("p/Base FixedSize = %d, want 16", base.FixedSize)
	}
	side := FindFieldInClass(sq, "side", "D")
	label := FindFieldInClass(sq, "label", "Ljava/lang/String;")
	if side == nil || label == nil {
		t.Fatal("missing declared fields")
	}
	if side.Offset != 16 || label.Offset != 24 {
		t.Errorf("offsets side=%d label=%d, want 16 and 24", side.Offset, label.Offset)
	}
	if sq.FixedSize != 32 {
		t.Errorf("FixedSize = %d, want 32", sq.FixedSize)
	}
	if sq.ObjectMask == nil || sq.ObjectMask.Count() != 1 || !sq.ObjectMask.Test(3) {
		t.Error("object mask should mark only the label word")
	}
	if base.ObjectMask != nil {
		t.Error("a class without reference fields has no object mask")
	}
	if id := FindFieldInClass(sq, "id", "I"); id == nil || id.Offset != 8 {
		t.Errorf("inherited field lookup = %v", id)
	}
}

func TestStaticFieldsAndConstants(t *testing.T) {
	b := newClassBuilder("p/Consts", NameObject)
	b.constantField(AccPublic|AccFinal, "ANSWER", "I", b.intConst(42)).
		constantField(AccPublic|AccFinal, "BIG", "J", b.longConst(-1<<40)).
		constantField(AccPublic|AccFinal, "PI", "D", b.doubleConst(3.25)).
		constantField(AccPublic|AccFinal, "GREETING", "Ljava/lang/String;", b.stringConst("hello")).
		field(AccPublic|AccStatic, "counter", "I").
		field(AccPublic, "instance", "I")
	m := newTestMachine(t, nil, mapFinder{}.add(b))

	c, err := m.ResolveClass(m.t, m.AppLoader, "p/Consts", true, NoClassDefFoundErrorType)
	if err != nil {
		t.Fatalf("ResolveClass: %v", err)
	}
	if c.Static == nil || !c.HasVMFlag(SingletonFlag) {
		t.Fatal("class with statics should have a singleton")
	}
	for i, name := range []string{"ANSWER", "BIG", "PI", "GREETING", "counter"} {
		f := fieldNamed(c, name)
		if f == nil || f.Offset != i {
			t.Errorf("static %s at %v, want index %d", name, f, i)
		}
	}
	if got := int32(c.Static.Word(0)); got != 42 {
		t.Errorf("ANSWER = %d, want 42", got)
	}
	if got := int64(c.Static.Word(1)); got != -1<<40 {
		t.Errorf("BIG = %d, want %d", got, int64(-1<<40))
	}
	s := c.Static.Ref(3)
	if s == nil || m.StringValue(s) != "hello" {
		t.Fatalf("GREETING = %v, want hello", s)
	}
	interned, err := m.Intern(m.t, "hello")
	if err != nil {
		t.Fatalf("Intern: %v", err)
	}
	if s != interned {
		t.Error("string constants should be interned")
	}
	if !c.Static.IsObject(3) || c.Static.IsObject(0) || !c.Static.IsFloat(2) {
		t.Error("singleton kinds do not match the field types")
	}
	if c.FixedSize != 16 {
		t.Errorf("FixedSize = %d, want 16", c.FixedSize)
	}
}

func fieldNamed(c *Class, name string) *Field {
	for _, f := range c.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func TestLinkRejectsBadHierarchy(t *testing.T) {
	app := mapFinder{}.
		add(newClassBuilder("p/Sealed", NameObject).flags(AccPublic | AccFinal | AccSuper)).
		add(newClassBuilder("p/Sub", "p/Sealed")).
		add(newClassBuilder("p/NotIface", NameObject)).
		add(newClassBuilder("p/Impl", NameObject).implements("p/NotIface"))
	m := newTestMachine(t, nil, app)

	_, err := m.ResolveClass(m.t, m.AppLoader, "p/Sub", true, NoClassDefFoundErrorType)
	throwable(t, err, "java/lang/IncompatibleClassChangeError")

	_, err = m.ResolveClass(m.t, m.AppLoader, "p/Impl", true, NoClassDefFoundErrorType)
	throwable(t, err, "java/lang/IncompatibleClassChangeError")

	if m.FindLoadedClass(m.t, m.AppLoader, "p/Sub") != nil {
		t.Error("failed link should leave nothing registered")
	}
}

func TestFinalizerFlag(t *testing.T) {
	b := newClassBuilder("p/Finalizing", NameObject)
	b.method(AccProtected, "finalize", "()V", b.code(1, 0x00, 0xb1))
	e := newClassBuilder("p/EmptyFinalize", NameObject).
		method(AccProtected, "finalize", "()V")
	m := newTestMachine(t, nil, mapFinder{}.add(b).add(e))

	c, err := m.ResolveClass(m.t, m.AppLoader, "p/Finalizing", true, NoClassDefFoundErrorType)
	if err != nil {
		t.Fatalf("ResolveClass: %v", err)
	}
	if !c.HasVMFlag(HasFinalizerFlag) {
		t.Error("non-empty finalize should set HasFinalizerFlag")
	}
	c, err = m.ResolveClass(m.t, m.AppLoader, "p/EmptyFinalize", true, NoClassDefFoundErrorType)
	if err != nil {
		t.Fatalf("ResolveClass: %v", err)
	}
	if c.HasVMFlag(HasFinalizerFlag) {
		t.Error("empty finalize should not set HasFinalizerFlag")
	}
}

func TestSourceFileAttribute(t *testing.T) {
	app := mapFinder{}.
		add(newClassBuilder("p/WithSource", NameObject).sourceFile("WithSource.java")).
		add(newClassBuilder("p/Bare", NameObject))
	m := newTestMachine(t, nil, app)

	c, err := m.ResolveClass(m.t, m.AppLoader, "p/WithSource", true, NoClassDefFoundErrorType)
	if err != nil {
		t.Fatalf("ResolveClass: %v", err)
	}
	if got := c.SourceFile(); got != "WithSource.java" {
		t.Errorf("SourceFile = %q", got)
	}
	bare, err := m.ResolveClass(m.t, m.AppLoader, "p/Bare", true, NoClassDefFoundErrorType)
	if err != nil {
		t.Fatalf("ResolveClass: %v", err)
	}
	if bare.Addendum != nil {
		t.Error("class without attributes should have no addendum")
	}
}
