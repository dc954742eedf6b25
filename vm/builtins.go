package vm

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"time"
)

// ---------------------------------------------------------------------------
// Bundled natives for the core classes
// ---------------------------------------------------------------------------

func registerBuiltinNatives(r *NativeRegistry) {
	for symbol, fn := range map[string]AvianNative{
		"Avian_java_lang_Object_toString":      objectToString,
		"Avian_java_lang_Object_getVMClass":    objectGetVMClass,
		"Avian_java_lang_Object_wait":          objectWait,
		"Avian_java_lang_Object_notify":        objectNotify,
		"Avian_java_lang_Object_notifyAll":     objectNotifyAll,
		"Avian_java_lang_Object_hashCode":      objectHashCode,
		"Avian_java_lang_Object_clone":         objectClone,
		"Avian_java_lang_Class_getName":        classGetName,
		"Avian_java_lang_String_length":        stringLength,
		"Avian_java_lang_String_charAt":        stringCharAt,
		"Avian_java_lang_String_intern":        stringIntern,
		"Avian_java_lang_Throwable_getMessage": throwableGetMessage,
		"Avian_java_lang_Throwable_getCause":   throwableGetCause,

		"Avian_java_lang_Float_floatToRawIntBits":    floatToRawIntBits,
		"Avian_java_lang_Float_intBitsToFloat":       intBitsToFloat,
		"Avian_java_lang_Double_doubleToRawLongBits": doubleToRawLongBits,
		"Avian_java_lang_Double_longBitsToDouble":    longBitsToDouble,
		"Avian_java_lang_Math_sqrt":                  mathSqrt,
		"Avian_java_lang_Math_floor":                 mathFloor,

		"Avian_java_lang_Thread_currentThread": threadCurrentThread,
		"Avian_java_lang_Thread_interrupt":     threadInterrupt,
		"Avian_java_lang_Thread_interrupted":   threadInterrupted,
		"Avian_java_lang_Thread_isInterrupted": threadIsInterrupted,
		"Avian_java_lang_Thread_yield":         threadYield,

		"Avian_java_lang_System_identityHashCode":  systemIdentityHashCode,
		"Avian_java_lang_System_arraycopy":         systemArraycopy,
		"Avian_java_lang_System_currentTimeMillis": systemCurrentTimeMillis,
		"Avian_java_lang_System_getProperty":       systemGetProperty,

		"Avian_java_lang_Runtime_gc":          runtimeGC,
		"Avian_java_lang_Runtime_freeMemory":  runtimeFreeMemory,
		"Avian_java_lang_Runtime_totalMemory": runtimeTotalMemory,
		"Avian_java_lang_Runtime_maxMemory":   runtimeMaxMemory,

		"Avian_java_lang_ref_Reference_get":   referenceGet,
		"Avian_java_lang_ref_Reference_clear": referenceClear,
	} {
		r.Register(symbol, fn)
	}
}

// --- java/lang/Object ---

func objectToString(t *Thread, _ *Method, a *Arguments) (Value, error) {
	o := a.Object(0)
	s, err := t.m.MakeString(t, fmt.Sprintf("%s@0x%x", o.Class().JavaName(), uint32(t.m.ObjectHash(t, o))))
	return RefValue(s), err
}

func objectGetVMClass(t *Thread, _ *Method, a *Arguments) (Value, error) {
	return RefValue(a.Object(0).Class().AsObject()), nil
}

func objectWait(t *Thread, _ *Method, a *Arguments) (Value, error) {
	return Value{}, t.m.Wait(t, a.Object(0), a.Long(1))
}

func objectNotify(t *Thread, _ *Method, a *Arguments) (Value, error) {
	return Value{}, t.m.Notify(t, a.Object(0))
}

func objectNotifyAll(t *Thread, _ *Method, a *Arguments) (Value, error) {
	return Value{}, t.m.NotifyAll(t, a.Object(0))
}

func objectHashCode(t *Thread, _ *Method, a *Arguments) (Value, error) {
	return IntValue(t.m.ObjectHash(t, a.Object(0))), nil
}

func objectClone(t *Thread, _ *Method, a *Arguments) (Value, error) {
	m := t.m
	o := a.Object(0)
	class := o.Class()
	if !class.IsArray() && !IsAssignableFrom(m.types.Cloneable, class) {
		return Value{}, m.throwNew(t, CloneNotSupportedExceptionType, "%s", class.JavaName())
	}
	c, err := m.Clone(t, o)
	return RefValue(c), err
}

// --- java/lang/Class, String, Throwable ---

func classGetName(t *Thread, _ *Method, a *Arguments) (Value, error) {
	c, ok := ClassOf(a.Object(0))
	if !ok {
		return Value{}, t.m.throwNew(t, IllegalArgumentExceptionType, "not a class")
	}
	s, err := t.m.Intern(t, c.JavaName())
	return RefValue(s), err
}

func stringLength(t *Thread, _ *Method, a *Arguments) (Value, error) {
	return IntValue(int32(t.m.StringLength(a.Object(0)))), nil
}

func stringCharAt(t *Thread, _ *Method, a *Arguments) (Value, error) {
	m := t.m
	s := a.Object(0)
	i := int(a.Int(1))
	if i < 0 || i >= m.StringLength(s) {
		return Value{}, m.throwNew(t, StringIndexOutOfBoundsExceptionType, "%d", i)
	}
	return CharValue(m.StringChars(s)[i]), nil
}

func stringIntern(t *Thread, _ *Method, a *Arguments) (Value, error) {
	s, err := t.m.InternString(t, a.Object(0))
	return RefValue(s), err
}

func throwableGetMessage(t *Thread, _ *Method, a *Arguments) (Value, error) {
	return RefValue(t.m.ThrowableMessage(a.Object(0))), nil
}

func throwableGetCause(t *Thread, _ *Method, a *Arguments) (Value, error) {
	return RefValue(t.m.ThrowableCause(a.Object(0))), nil
}

// --- numbers ---

func floatToRawIntBits(_ *Thread, _ *Method, a *Arguments) (Value, error) {
	return IntValue(int32(a.Slot(0))), nil
}

func intBitsToFloat(_ *Thread, _ *Method, a *Arguments) (Value, error) {
	return FloatValue(a.Float(0)), nil
}

func doubleToRawLongBits(_ *Thread, _ *Method, a *Arguments) (Value, error) {
	return LongValue(a.Long(0)), nil
}

func longBitsToDouble(_ *Thread, _ *Method, a *Arguments) (Value, error) {
	return DoubleValue(a.Double(0)), nil
}

func mathSqrt(_ *Thread, _ *Method, a *Arguments) (Value, error) {
	return DoubleValue(math.Sqrt(a.Double(0))), nil
}

func mathFloor(_ *Thread, _ *Method, a *Arguments) (Value, error) {
	return DoubleValue(math.Floor(a.Double(0))), nil
}

// --- java/lang/Thread ---

func threadCurrentThread(t *Thread, _ *Method, _ *Arguments) (Value, error) {
	return RefValue(t.javaThread), nil
}

func threadInterrupt(t *Thread, _ *Method, a *Arguments) (Value, error) {
	if target, ok := ThreadOf(a.Object(0)); ok {
		t.m.Interrupt(t, target)
	}
	return Value{}, nil
}

func threadInterrupted(t *Thread, _ *Method, _ *Arguments) (Value, error) {
	return BoolValue(t.m.GetAndClearInterrupted(t, t)), nil
}

func threadIsInterrupted(t *Thread, _ *Method, a *Arguments) (Value, error) {
	target, ok := ThreadOf(a.Object(0))
	return BoolValue(ok && t.m.IsInterrupted(t, target)), nil
}

func threadYield(t *Thread, _ *Method, _ *Arguments) (Value, error) {
	restore := t.EnterScoped(IdleState)
	runtime.Gosched()
	restore()
	return Value{}, nil
}

// --- java/lang/System ---

func systemIdentityHashCode(t *Thread, _ *Method, a *Arguments) (Value, error) {
	o := a.Object(0)
	if o == nil {
		return IntValue(0), nil
	}
	return IntValue(t.m.ObjectHash(t, o)), nil
}

func systemCurrentTimeMillis(_ *Thread, _ *Method, _ *Arguments) (Value, error) {
	return LongValue(time.Now().UnixMilli()), nil
}

func systemGetProperty(t *Thread, _ *Method, a *Arguments) (Value, error) {
	m := t.m
	name := a.Object(0)
	if name == nil {
		return Value{}, m.throwNew(t, NullPointerExceptionType, "property name")
	}
	v, ok := m.Property(m.StringValue(name))
	if !ok {
		return RefValue(nil), nil
	}
	s, err := m.MakeString(t, v)
	return RefValue(s), err
}

// Property returns a system property: the last -D option with that name,
// or a runtime default.
func (m *Machine) Property(name string) (string, bool) {
	if v, ok := m.Options.Property(name); ok {
		return v, true
	}
	switch name {
	case PropClasspath:
		return m.Options.Classpath, true
	case "sun.boot.class.path":
		return m.Options.BootPath(), true
	case PropJavaHome:
		return m.Options.JavaHome, m.Options.JavaHome != ""
	case "line.separator":
		return "\n", true
	case "file.separator":
		return string(os.PathSeparator), true
	case "path.separator":
		return string(os.PathListSeparator), true
	case "os.name":
		return runtime.GOOS, true
	case "os.arch":
		return runtime.GOARCH, true
	case "java.vm.name":
		return "Avian", true
	}
	return "", false
}

// systemArraycopy copies length elements, handling overlap within one
// array the way memmove does.
func systemArraycopy(t *Thread, _ *Method, a *Arguments) (Value, error) {
	m := t.m
	src, srcPos := a.Object(0), int(a.Int(1))
	dst, dstPos := a.Object(2), int(a.Int(3))
	length := int(a.Int(4))

	if src == nil || dst == nil {
		return Value{}, m.throwNew(t, NullPointerExceptionType, "")
	}
	sc, dc := src.Class(), dst.Class()
	if !sc.IsArray() || !dc.IsArray() {
		return Value{}, m.throwNew(t, ArrayStoreExceptionType, "not an array")
	}
	sp, dp := sc.ElementClass.IsPrimitive(), dc.ElementClass.IsPrimitive()
	if sp != dp || (sp && sc.ElementClass != dc.ElementClass) {
		return Value{}, m.throwNew(t, ArrayStoreExceptionType, "%s to %s", sc.Name, dc.Name)
	}
	if length < 0 || srcPos < 0 || dstPos < 0 ||
		srcPos+length > src.ArrayLength() || dstPos+length > dst.ArrayLength() {
		return Value{}, m.throwNew(t, ArrayIndexOutOfBoundsExceptionType,
			"copy of %d from %d to %d", length, srcPos, dstPos)
	}

	step, first, last := 1, 0, length
	if src == dst && srcPos < dstPos {
		step, first, last = -1, length-1, -1
	}
	if sp {
		size := sc.ArrayElementSize
		code, _ := FieldCodeOf(sc.Name[1])
		for i := first; i != last; i += step {
			bits := src.GetBits(ArrayElementOffset(size, srcPos+i), code)
			dst.SetBits(ArrayElementOffset(size, dstPos+i), code, bits)
		}
		return Value{}, nil
	}
	for i := first; i != last; i += step {
		e := src.ArrayRef(srcPos + i)
		if e != nil && !InstanceOf(dc.ElementClass, e) {
			return Value{}, m.throwNew(t, ArrayStoreExceptionType, "%s into %s", e.Class().JavaName(), dc.Name)
		}
		dst.SetArrayRef(dstPos+i, e)
	}
	return Value{}, nil
}

// --- java/lang/Runtime ---

func runtimeGC(t *Thread, _ *Method, _ *Arguments) (Value, error) {
	t.m.Collect(t, MajorCollection)
	return Value{}, nil
}

func runtimeFreeMemory(t *Thread, _ *Method, _ *Arguments) (Value, error) {
	s := t.m.heap.Stats()
	return LongValue(int64(s.Limit - s.Allocated)), nil
}

func runtimeTotalMemory(t *Thread, _ *Method, _ *Arguments) (Value, error) {
	return LongValue(int64(t.m.heap.Stats().Allocated)), nil
}

func runtimeMaxMemory(t *Thread, _ *Method, _ *Arguments) (Value, error) {
	return LongValue(int64(t.m.heap.Limit())), nil
}

// --- java/lang/ref/Reference ---

func referenceGet(t *Thread, _ *Method, a *Arguments) (Value, error) {
	return RefValue(t.m.ReferenceGet(t, a.Object(0))), nil
}

func referenceClear(t *Thread, _ *Method, a *Arguments) (Value, error) {
	t.m.ReferenceClear(t, a.Object(0))
	return Value{}, nil
}
