package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Native symbol names
// ---------------------------------------------------------------------------

// MangleJNI escapes a class, method or descriptor fragment the way the
// JNI naming convention requires: '/' becomes '_', and '_', ';', '[' and
// any non-ASCII unit become _1, _2, _3 and _0xxxx.
func MangleJNI(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '/' || r == '.':
			b.WriteByte('_')
		case r == '_':
			b.WriteString("_1")
		case r == ';':
			b.WriteString("_2")
		case r == '[':
			b.WriteString("_3")
		case r < 0x80 && (r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9'):
			b.WriteRune(r)
		case r > 0xffff:
			// surrogate pair, one escape per unit
			hi, lo := utf16Pair(r)
			fmt.Fprintf(&b, "_0%04x_0%04x", hi, lo)
		default:
			fmt.Fprintf(&b, "_0%04x", r)
		}
	}
	return b.String()
}

func utf16Pair(r rune) (uint16, uint16) {
	r -= 0x10000
	return uint16(0xd800 + (r>>10)&0x3ff), uint16(0xdc00 + r&0x3ff)
}

// AvianSymbol is the name of a bundled native.
func AvianSymbol(method *Method) string {
	return "Avian_" + MangleJNI(method.Class.Name) + "_" + MangleJNI(method.Name)
}

// JNISymbol is the short JNI name of method.
func JNISymbol(method *Method) string {
	return "Java_" + MangleJNI(method.Class.Name) + "_" + MangleJNI(method.Name)
}

// JNILongSymbol is the overload-qualified JNI name of method.
func JNILongSymbol(method *Method) string {
	params := method.Spec
	if i := strings.IndexByte(params, ')'); i >= 0 {
		params = params[1:i]
	}
	return JNISymbol(method) + "__" + MangleJNI(params)
}

// ---------------------------------------------------------------------------
// Resolution
// ---------------------------------------------------------------------------

// ResolveNative finds and caches the implementation of a native method.
// Bundled natives are searched first, then each library in registration
// order under the short and then the overload-qualified JNI name.
func (m *Machine) ResolveNative(t *Thread, method *Method) (*NativeBinding, error) {
	if b := method.native.Load(); b != nil {
		return b, nil
	}
	b := m.natives.lookup(method)
	if b == nil {
		log.Debugf("no native implementation of %s", method)
		return nil, m.throwNew(t, UnsatisfiedLinkErrorType, "%s.%s%s",
			method.Class.JavaName(), method.Name, method.Spec)
	}
	// another thread may have bound the method first
	if !method.native.CompareAndSwap(nil, b) {
		return method.native.Load(), nil
	}
	return b, nil
}

// invokeNative resolves and calls a native method.
func (m *Machine) invokeNative(t *Thread, method *Method, this *Object, args []Value) (Value, error) {
	b, err := m.ResolveNative(t, method)
	if err != nil {
		return Value{}, err
	}
	if b.Avian != nil {
		a, err := marshalCodes(method.ParameterCodes, this, args, !method.IsStatic())
		if err != nil {
			return Value{}, m.throwNew(t, IllegalArgumentExceptionType, "%s: %s", method, err)
		}
		v, err := b.Avian(t, method, a)
		if err != nil {
			return Value{}, err
		}
		return v.narrow(method.ReturnCode), nil
	}
	return m.invokeJNI(t, b.JNI, method, this, args)
}

// invokeJNI calls a JNI function inside its own local reference frame.
// A pending exception left by the function is raised on return.
func (m *Machine) invokeJNI(t *Thread, fn JNINative, method *Method, this *Object, args []Value) (Value, error) {
	t.pushLocalFrame(len(args) + 1)
	defer t.popLocalFrame()

	env := m.Env(t)
	var receiver Ref
	if method.IsStatic() {
		receiver = t.newLocalRef(method.Class.AsObject())
	} else {
		receiver = t.newLocalRef(this)
	}
	jargs := make([]JValue, len(args))
	for i, a := range args {
		if method.ParameterCodes[i] == ObjectField {
			jargs[i] = JObject(t.newLocalRef(a.ref))
		} else {
			jargs[i] = JValue{J: int64(a.bits)}
		}
	}

	t.exception = nil
	result, err := fn(env, receiver, jargs)
	if err != nil {
		return Value{}, err
	}
	if e := t.exception; e != nil {
		return Value{}, m.Throw(t, e)
	}
	if method.ReturnCode == ObjectField {
		return RefValue(result.L.Object()), nil
	}
	return BitsValue(uint64(result.J)).narrow(method.ReturnCode), nil
}
