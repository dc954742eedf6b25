package vm

import "unicode/utf16"

// ---------------------------------------------------------------------------
// Strings
// ---------------------------------------------------------------------------

func (m *Machine) stringArg(t *Thread, r Ref) (*Object, error) {
	s, err := m.required(t, r, "string")
	if err != nil {
		return nil, err
	}
	if s.Class() != m.types.String {
		return nil, m.throwNew(t, IllegalArgumentExceptionType, "%s is not a string", s)
	}
	return s, nil
}

func jniNewString(env *JNIEnv, chars []uint16) Ref {
	var result Ref
	env.run(func(t *Thread, m *Machine) error {
		s, err := m.MakeStringFromChars(t, chars)
		if err != nil {
			return err
		}
		result = t.newLocalRef(s)
		return nil
	})
	return result
}

func jniNewStringUTF(env *JNIEnv, s string) Ref {
	var result Ref
	env.run(func(t *Thread, m *Machine) error {
		o, err := m.MakeString(t, s)
		if err != nil {
			return err
		}
		result = t.newLocalRef(o)
		return nil
	})
	return result
}

func jniGetStringLength(env *JNIEnv, s Ref) int32 {
	var n int32
	env.run(func(t *Thread, m *Machine) error {
		o, err := m.stringArg(t, s)
		if err != nil {
			return err
		}
		n = int32(m.StringLength(o))
		return nil
	})
	return n
}

func jniGetStringChars(env *JNIEnv, s Ref) []uint16 {
	var chars []uint16
	env.run(func(t *Thread, m *Machine) error {
		o, err := m.stringArg(t, s)
		if err != nil {
			return err
		}
		chars = m.StringChars(o)
		return nil
	})
	return chars
}

// jniGetStringUTFLength is the length of the string in modified UTF-8.
func jniGetStringUTFLength(env *JNIEnv, s Ref) int32 {
	var n int32
	env.run(func(t *Thread, m *Machine) error {
		o, err := m.stringArg(t, s)
		if err != nil {
			return err
		}
		n = int32(modifiedUTF8Length(m.StringChars(o)))
		return nil
	})
	return n
}

func jniGetStringUTFChars(env *JNIEnv, s Ref) string {
	var str string
	env.run(func(t *Thread, m *Machine) error {
		o, err := m.stringArg(t, s)
		if err != nil {
			return err
		}
		str = m.StringValue(o)
		return nil
	})
	return str
}

func jniGetStringRegion(env *JNIEnv, s Ref, start, length int32, buf []uint16) {
	env.run(func(t *Thread, m *Machine) error {
		chars, err := m.stringRegion(t, s, start, length)
		if err != nil {
			return err
		}
		copy(buf, chars)
		return nil
	})
}

func jniGetStringUTFRegion(env *JNIEnv, s Ref, start, length int32) string {
	var str string
	env.run(func(t *Thread, m *Machine) error {
		chars, err := m.stringRegion(t, s, start, length)
		if err != nil {
			return err
		}
		str = string(utf16.Decode(chars))
		return nil
	})
	return str
}

func (m *Machine) stringRegion(t *Thread, s Ref, start, length int32) ([]uint16, error) {
	o, err := m.stringArg(t, s)
	if err != nil {
		return nil, err
	}
	chars := m.StringChars(o)
	if start < 0 || length < 0 || int(start)+int(length) > len(chars) {
		return nil, m.throwNew(t, StringIndexOutOfBoundsExceptionType, "%d+%d of %d", start, length, len(chars))
	}
	return chars[start : start+length], nil
}

// modifiedUTF8Length counts NUL as two bytes and each surrogate as three.
func modifiedUTF8Length(chars []uint16) int {
	n := 0
	for _, c := range chars {
		switch {
		case c != 0 && c < 0x80:
			n++
		case c < 0x800:
			n += 2
		default:
			n += 3
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// Arrays
// ---------------------------------------------------------------------------

func (m *Machine) arrayArg(t *Thread, r Ref) (*Object, error) {
	a, err := m.required(t, r, "array")
	if err != nil {
		return nil, err
	}
	if !a.Class().IsArray() {
		return nil, m.throwNew(t, IllegalArgumentExceptionType, "%s is not an array", a)
	}
	return a, nil
}

// primitiveArrayArg checks that r is an array of code elements.
func (m *Machine) primitiveArrayArg(t *Thread, r Ref, code FieldCode) (*Object, error) {
	a, err := m.arrayArg(t, r)
	if err != nil {
		return nil, err
	}
	if c, _ := FieldCodeOf(a.Class().Name[1]); c != code {
		return nil, m.throwNew(t, IllegalArgumentExceptionType, "%s is not a %s array", a.Class().Name, code)
	}
	return a, nil
}

func (m *Machine) arrayBounds(t *Thread, a *Object, start, length int) error {
	if start < 0 || length < 0 || start+length > a.ArrayLength() {
		return m.throwNew(t, ArrayIndexOutOfBoundsExceptionType, "%d+%d of %d", start, length, a.ArrayLength())
	}
	return nil
}

func jniGetArrayLength(env *JNIEnv, array Ref) int32 {
	var n int32
	env.run(func(t *Thread, m *Machine) error {
		a, err := m.arrayArg(t, array)
		if err != nil {
			return err
		}
		n = int32(a.ArrayLength())
		return nil
	})
	return n
}

func jniNewObjectArray(env *JNIEnv, length int32, element, initial Ref) Ref {
	var result Ref
	env.run(func(t *Thread, m *Machine) error {
		c, err := m.classArg(t, element)
		if err != nil {
			return err
		}
		a, err := m.MakeArrayOf(t, c, int(length))
		if err != nil {
			return err
		}
		if init := initial.Object(); init != nil {
			for i := range int(length) {
				a.SetArrayRef(i, init)
			}
		}
		result = t.newLocalRef(a)
		return nil
	})
	return result
}

func jniGetObjectArrayElement(env *JNIEnv, array Ref, i int32) Ref {
	var result Ref
	env.run(func(t *Thread, m *Machine) error {
		a, err := m.primitiveArrayArg(t, array, ObjectField)
		if err != nil {
			return err
		}
		if err := m.arrayBounds(t, a, int(i), 1); err != nil {
			return err
		}
		result = t.newLocalRef(a.ArrayRef(int(i)))
		return nil
	})
	return result
}

func jniSetObjectArrayElement(env *JNIEnv, array Ref, i int32, v Ref) {
	env.run(func(t *Thread, m *Machine) error {
		a, err := m.primitiveArrayArg(t, array, ObjectField)
		if err != nil {
			return err
		}
		if err := m.arrayBounds(t, a, int(i), 1); err != nil {
			return err
		}
		o := v.Object()
		if o != nil && !InstanceOf(a.Class().ElementClass, o) {
			return m.throwNew(t, ArrayStoreExceptionType, "%s into %s", o.Class().JavaName(), a.Class().Name)
		}
		a.SetArrayRef(int(i), o)
		return nil
	})
}

// --- primitive arrays ---

func newArray[T any](jt jtype[T]) func(env *JNIEnv, length int32) Ref {
	return func(env *JNIEnv, length int32) Ref {
		var result Ref
		env.run(func(t *Thread, m *Machine) error {
			a, err := m.MakeArrayOf(t, m.PrimitiveClass(primitiveSpecOfCode(jt.code)), int(length))
			if err != nil {
				return err
			}
			result = t.newLocalRef(a)
			return nil
		})
		return result
	}
}

func primitiveSpecOfCode(code FieldCode) byte {
	for _, ch := range []byte("ZBCSIJFD") {
		if c, _ := FieldCodeOf(ch); c == code {
			return ch
		}
	}
	Abort("no primitive descriptor for %s", code)
	return 0
}

// readElements copies elements [start, start+len(buf)) of a into buf.
func readElements[T any](t *Thread, jt jtype[T], a *Object, start int, buf []T) {
	size := jt.code.Size()
	for i := range buf {
		bits := a.GetBits(ArrayElementOffset(size, start+i), jt.code)
		buf[i] = jt.from(t, BitsValue(bits).narrow(jt.code))
	}
}

func writeElements[T any](jt jtype[T], a *Object, start int, buf []T) {
	size := jt.code.Size()
	for i, v := range buf {
		a.SetBits(ArrayElementOffset(size, start+i), jt.code, jt.to(v).bits)
	}
}

// getArrayElements returns a copy of the array body. Changes reach the
// array through the matching release.
func getArrayElements[T any](jt jtype[T]) func(env *JNIEnv, array Ref) []T {
	return func(env *JNIEnv, array Ref) []T {
		var elems []T
		env.run(func(t *Thread, m *Machine) error {
			a, err := m.primitiveArrayArg(t, array, jt.code)
			if err != nil {
				return err
			}
			elems = make([]T, a.ArrayLength())
			readElements(t, jt, a, 0, elems)
			return nil
		})
		return elems
	}
}

// releaseArrayElements copies elems back unless mode is JNIAbort.
func releaseArrayElements[T any](jt jtype[T]) func(env *JNIEnv, array Ref, elems []T, mode int32) {
	return func(env *JNIEnv, array Ref, elems []T, mode int32) {
		if mode == JNIAbort {
			return
		}
		env.run(func(t *Thread, m *Machine) error {
			a, err := m.primitiveArrayArg(t, array, jt.code)
			if err != nil {
				return err
			}
			if err := m.arrayBounds(t, a, 0, len(elems)); err != nil {
				return err
			}
			writeElements(jt, a, 0, elems)
			return nil
		})
	}
}

func getArrayRegion[T any](jt jtype[T]) func(env *JNIEnv, array Ref, start int32, buf []T) {
	return func(env *JNIEnv, array Ref, start int32, buf []T) {
		env.run(func(t *Thread, m *Machine) error {
			a, err := m.primitiveArrayArg(t, array, jt.code)
			if err != nil {
				return err
			}
			if err := m.arrayBounds(t, a, int(start), len(buf)); err != nil {
				return err
			}
			readElements(t, jt, a, int(start), buf)
			return nil
		})
	}
}

func setArrayRegion[T any](jt jtype[T]) func(env *JNIEnv, array Ref, start int32, buf []T) {
	return func(env *JNIEnv, array Ref, start int32, buf []T) {
		env.run(func(t *Thread, m *Machine) error {
			a, err := m.primitiveArrayArg(t, array, jt.code)
			if err != nil {
				return err
			}
			if err := m.arrayBounds(t, a, int(start), len(buf)); err != nil {
				return err
			}
			writeElements(jt, a, int(start), buf)
			return nil
		})
	}
}
