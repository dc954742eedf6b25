package vm

import (
	"errors"
	"testing"
)

// ---------------------------------------------------------------------------
// Bootstrap class updates
// ---------------------------------------------------------------------------

func TestBootstrapClassFallback(t *testing.T) {
	m := newTestMachine(t, mapFinder{}, nil)

	c, err := m.ResolveClass(m.t, m.BootLoader, "java/lang/ArithmeticException", true, NoClassDefFoundErrorType)
	if err != nil {
		t.Fatalf("ResolveClass: %v", err)
	}
	if !c.HasVMFlag(BootstrapFlag) {
		t.Error("class without a class file should be the bootstrap definition")
	}
	if c.Super == nil || c.Super.Name != "java/lang/RuntimeException" {
		t.Errorf("super = %v", c.Super)
	}
}

func TestBootstrapClassUpdate(t *testing.T) {
	const name = "java/lang/ArithmeticException"
	boot := mapFinder{}.add(newClassBuilder(name, "java/lang/RuntimeException").
		method(AccPublic, "<init>", "()V").
		method(AccPublic, "describe", "()Ljava/lang/String;").
		sourceFile("ArithmeticException.java"))
	m := newTestMachine(t, boot, nil)

	before := m.Types().byName(name)
	c, err := m.ResolveClass(m.t, m.BootLoader, name, true, NoClassDefFoundErrorType)
	if err != nil {
		t.Fatalf("ResolveClass: %v", err)
	}
	if c != before {
		t.Fatal("update should keep the bootstrap identity")
	}
	if !c.HasVMFlag(BootstrapFlag) {
		t.Error("updated class keeps BootstrapFlag")
	}
	describe := c.FindMethod("describe", "()Ljava/lang/String;")
	if describe == nil {
		t.Fatal("methods from the class file should replace the bootstrap table")
	}
	if describe.Class != c {
		t.Error("method owner should be the bootstrap object")
	}
	if c.SourceFile() != "ArithmeticException.java" || c.Source != "test:"+name+".class" {
		t.Errorf("source = %q / %q", c.SourceFile(), c.Source)
	}
	if c.Pool == nil || c.Pool.owner != c {
		t.Error("pool should belong to the bootstrap object")
	}

	// instances made afterwards use the new layout
	o, err := m.Make(m.t, c)
	if err != nil {
		t.Fatalf("Make: %v", err)
	}
	if o.Class() != c {
		t.Error("instance class should be the bootstrap object")
	}
}

func TestBootstrapClassUpdateMismatch(t *testing.T) {
	finalizing := newClassBuilder("java/lang/ArithmeticException", "java/lang/RuntimeException")
	finalizing.method(AccProtected, "finalize", "()V", finalizing.code(1, 0x00, 0xb1))

	tests := []struct {
		name  string
		class *classBuilder
	}{
		{"different superclass", newClassBuilder("java/lang/ArithmeticException", NameObject)},
		{"smaller layout", newClassBuilder("java/lang/Throwable", NameObject)},
		{"finalizer", finalizing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMachine(t, mapFinder{}.add(tt.class), nil)
			before := m.Types().byName(tt.class.name)
			methods := before.Methods

			_, err := m.ResolveClass(m.t, m.BootLoader, tt.class.name, true, NoClassDefFoundErrorType)
			if !errors.Is(err, ErrBootstrapMismatch) {
				t.Fatalf("err = %v, want ErrBootstrapMismatch", err)
			}
			if len(before.Methods) != len(methods) {
				t.Error("rejected update should leave the bootstrap class alone")
			}
		})
	}
}

func TestDefineBootstrapClass(t *testing.T) {
	m := newTestMachine(t, nil, nil)
	data := newClassBuilder("java/lang/ArrayStoreException", "java/lang/RuntimeException").
		method(AccPublic, "extra", "()V").bytes()

	c, err := m.DefineClass(m.t, m.BootLoader, data)
	if err != nil {
		t.Fatalf("DefineClass: %v", err)
	}
	if c != m.Types().byName("java/lang/ArrayStoreException") {
		t.Error("defining a bootstrap name should update the bootstrap object")
	}
	if c.FindMethod("extra", "()V") == nil {
		t.Error("defined methods missing")
	}
}
