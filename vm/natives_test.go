package vm

import (
	"errors"
	"testing"
)

// ---------------------------------------------------------------------------
// Native dispatch tests
// ---------------------------------------------------------------------------

func nativesFinder() mapFinder {
	calc := newClassBuilder("p/Calc", NameObject).
		method(AccPublic, "<init>", "()V").
		method(AccPublic|AccStatic|AccNative, "add", "(II)I").
		method(AccPublic|AccStatic|AccNative, "mul", "(JJ)J").
		method(AccPublic|AccNative, "describe", "(Ljava/lang/String;D)Ljava/lang/String;").
		method(AccPublic|AccStatic|AccNative, "missing", "()V").
		method(AccPublic|AccStatic, "nop", "()V")
	calc.method(AccPublic|AccStatic, "busy", "()I", calc.code(0, 0x03, 0xac))
	shape := newClassBuilder("p/Shape", NameObject).
		flags(AccPublic|AccAbstract).
		method(AccPublic|AccAbstract, "area", "()D")
	return mapFinder{}.add(calc).add(shape)
}

func calcMethod(tb testing.TB, m *testMachine, name, spec string) *Method {
	tb.Helper()
	c, err := m.ResolveClass(m.t, m.AppLoader, "p/Calc", true, NoClassDefFoundErrorType)
	if err != nil {
		tb.Fatalf("ResolveClass: %v", err)
	}
	method := c.FindMethod(name, spec)
	if method == nil {
		tb.Fatalf("p/Calc.%s%s not found", name, spec)
	}
	return method
}

func TestMangleJNI(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"java/lang/String", "java_lang_String"},
		{"p/My_Class", "p_My_1Class"},
		{"[Ljava/lang/String;", "_3Ljava_lang_String_2"},
		{"café", "caf_000e9"},
		{"\U0001F600", "_0d83d_0de00"},
		{"a$b", "a_00024b"},
	}
	for _, tt := range tests {
		if got := MangleJNI(tt.in); got != tt.want {
			t.Errorf("MangleJNI(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNativeSymbols(t *testing.T) {
	m := newTestMachine(t, nil, nativesFinder())
	add := calcMethod(t, m, "add", "(II)I")
	describe := calcMethod(t, m, "describe", "(Ljava/lang/String;D)Ljava/lang/String;")

	if got := AvianSymbol(add); got != "Avian_p_Calc_add" {
		t.Errorf("AvianSymbol = %q", got)
	}
	if got := JNISymbol(add); got != "Java_p_Calc_add" {
		t.Errorf("JNISymbol = %q", got)
	}
	if got := JNILongSymbol(add); got != "Java_p_Calc_add__II" {
		t.Errorf("JNILongSymbol = %q", got)
	}
	if got := JNILongSymbol(describe); got != "Java_p_Calc_describe__Ljava_lang_String_2D" {
		t.Errorf("JNILongSymbol = %q", got)
	}
}

func TestBuiltinNative(t *testing.T) {
	m := newTestMachine(t, nil, nativesFinder())
	m.Natives().Register("Avian_p_Calc_add", func(t *Thread, _ *Method, a *Arguments) (Value, error) {
		return IntValue(a.Int(0) + a.Int(1)), nil
	})
	m.Natives().Register("Avian_p_Calc_mul", func(t *Thread, _ *Method, a *Arguments) (Value, error) {
		return LongValue(a.Long(0) * a.Long(2)), nil
	})

	add := calcMethod(t, m, "add", "(II)I")
	v, err := m.Invoke(m.t, add, nil, IntValue(40), IntValue(2))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if v.Int() != 42 {
		t.Errorf("add = %d, want 42", v.Int())
	}
	b, err := m.ResolveNative(m.t, add)
	if err != nil || b.Library != "builtin" || b.Symbol != "Avian_p_Calc_add" {
		t.Errorf("binding = %+v, %v", b, err)
	}

	mul := calcMethod(t, m, "mul", "(JJ)J")
	v, err = m.Invoke(m.t, mul, nil, LongValue(1<<33), LongValue(-3))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if v.Long() != -3<<33 {
		t.Errorf("mul = %d, want %d", v.Long(), int64(-3<<33))
	}
}

func TestLibraryNative(t *testing.T) {
	m := newTestMachine(t, nil, nativesFinder())
	short := JNINative(func(env *JNIEnv, _ Ref, args []JValue) (JValue, error) {
		return JInt(args[0].Int() - args[1].Int()), nil
	})
	long := JNINative(func(env *JNIEnv, _ Ref, args []JValue) (JValue, error) {
		return JInt(0), nil
	})
	m.Natives().AddLibrary(NewSymbolTable("first", map[string]any{
		"Java_p_Calc_add__II": long,
	}))
	m.Natives().AddLibrary(NewSymbolTable("second", map[string]any{
		"Java_p_Calc_add": short,
		"Java_p_Calc_describe__Ljava_lang_String_2D": func(env *JNIEnv, this Ref, args []JValue) (JValue, error) {
			s := env.GetStringUTFChars(env, args[0].L)
			if args[1].Double() > 1 {
				s += "+"
			}
			return JObject(env.NewStringUTF(env, s)), nil
		},
	}))

	// short names are tried in every library before long names
	add := calcMethod(t, m, "add", "(II)I")
	v, err := m.Invoke(m.t, add, nil, IntValue(10), IntValue(3))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if v.Int() != 7 {
		t.Errorf("add = %d, want 7", v.Int())
	}
	if b, _ := m.ResolveNative(m.t, add); b.Library != "second" || b.Symbol != "Java_p_Calc_add" {
		t.Errorf("add bound to %s in %s", b.Symbol, b.Library)
	}

	c := add.Class
	o, err := m.Make(m.t, c)
	if err != nil {
		t.Fatal(err)
	}
	in, err := m.MakeString(m.t, "x")
	if err != nil {
		t.Fatal(err)
	}
	describe := calcMethod(t, m, "describe", "(Ljava/lang/String;D)Ljava/lang/String;")
	locals := m.t.localRefCount()
	v, err = m.InvokeVirtual(m.t, describe, o, RefValue(in), DoubleValue(2))
	if err != nil {
		t.Fatalf("InvokeVirtual: %v", err)
	}
	if got := m.StringValue(v.Ref()); got != "x+" {
		t.Errorf("describe = %q, want %q", got, "x+")
	}
	if n := m.t.localRefCount(); n != locals {
		t.Errorf("%d local refs after the call, want %d", n, locals)
	}
}

func TestUnsatisfiedLink(t *testing.T) {
	m := newTestMachine(t, nil, nativesFinder())
	m.Natives().AddLibrary(NewSymbolTable("empty", nil))

	_, err := m.Invoke(m.t, calcMethod(t, m, "missing", "()V"), nil)
	e := throwable(t, err, "java/lang/UnsatisfiedLinkError")
	if got := m.StringValue(m.ThrowableMessage(e)); got != "p.Calc.missing()V" {
		t.Errorf("message = %q", got)
	}

	// a symbol of the wrong type does not bind
	m.Natives().AddLibrary(NewSymbolTable("bad", map[string]any{"Java_p_Calc_missing": 42}))
	_, err = m.Invoke(m.t, calcMethod(t, m, "missing", "()V"), nil)
	throwable(t, err, "java/lang/UnsatisfiedLinkError")
}

func TestProcessorInvoke(t *testing.T) {
	m := newTestMachine(t, nil, nativesFinder())

	if _, err := m.Invoke(m.t, calcMethod(t, m, "nop", "()V"), nil); err != nil {
		t.Errorf("empty method: %v", err)
	}

	busy := calcMethod(t, m, "busy", "()I")
	if _, err := m.Invoke(m.t, busy, nil); !errors.Is(err, ErrNoExecutionEngine) {
		t.Errorf("busy error = %v, want ErrNoExecutionEngine", err)
	}

	p := m.Processor().(*NativeProcessor)
	p.Bind("p/Calc", "busy", "()I", func(t *Thread, method *Method, this *Object, args []Value) (Value, error) {
		return IntValue(int32(len(t.Frames()))), nil
	})
	v, err := m.Invoke(m.t, busy, nil)
	if err != nil {
		t.Fatalf("bound busy: %v", err)
	}
	if v.Int() != 1 {
		t.Errorf("frame depth inside body = %d, want 1", v.Int())
	}
	p.Unbind("p/Calc", "busy", "()I")
	if _, err := m.Invoke(m.t, busy, nil); !errors.Is(err, ErrNoExecutionEngine) {
		t.Errorf("after Unbind error = %v", err)
	}

	_, err = m.Invoke(m.t, calcMethod(t, m, "add", "(II)I"), nil, IntValue(1))
	throwable(t, err, "java/lang/IllegalArgumentException")

	shape, err := m.ResolveClass(m.t, m.AppLoader, "p/Shape", true, NoClassDefFoundErrorType)
	if err != nil {
		t.Fatal(err)
	}
	area := shape.FindMethod("area", "()D")
	calc := calcMethod(t, m, "nop", "()V").Class
	o, err := m.Make(m.t, calc)
	if err != nil {
		t.Fatal(err)
	}
	_, err = m.Invoke(m.t, area, o)
	throwable(t, err, "java/lang/AbstractMethodError")

	_, err = m.Invoke(m.t, calcMethod(t, m, "<init>", "()V"), nil)
	throwable(t, err, "java/lang/NullPointerException")

	if p.Invocations() == 0 {
		t.Error("Invocations should count completed dispatches")
	}
}
