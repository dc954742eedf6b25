package vm

// ---------------------------------------------------------------------------
// Typed JNI families
// ---------------------------------------------------------------------------

// jtype converts between machine values and one Go type of the native
// interface.
type jtype[T any] struct {
	code FieldCode
	from func(t *Thread, v Value) T
	to   func(v T) Value
}

var (
	jObject  = jtype[Ref]{ObjectField, fromRef, toRef}
	jBoolean = jtype[bool]{BooleanField, fromBool, BoolValue}
	jByte    = jtype[int8]{ByteField, fromByte, toByte}
	jChar    = jtype[uint16]{CharField, fromChar, CharValue}
	jShort   = jtype[int16]{ShortField, fromShort, toShort}
	jInt     = jtype[int32]{IntField, fromInt, IntValue}
	jLong    = jtype[int64]{LongField, fromLong, LongValue}
	jFloat   = jtype[float32]{FloatField, fromFloat, FloatValue}
	jDouble  = jtype[float64]{DoubleField, fromDouble, DoubleValue}
)

func fromRef(t *Thread, v Value) Ref        { return t.newLocalRef(v.ref) }
func toRef(r Ref) Value                     { return RefValue(r.Object()) }
func fromBool(_ *Thread, v Value) bool      { return v.Bool() }
func fromByte(_ *Thread, v Value) int8      { return int8(v.Int()) }
func toByte(x int8) Value                   { return IntValue(int32(x)) }
func fromChar(_ *Thread, v Value) uint16    { return uint16(v.bits) }
func fromShort(_ *Thread, v Value) int16    { return int16(v.Int()) }
func toShort(x int16) Value                 { return IntValue(int32(x)) }
func fromInt(_ *Thread, v Value) int32      { return v.Int() }
func fromLong(_ *Thread, v Value) int64     { return v.Long() }
func fromFloat(_ *Thread, v Value) float32  { return v.Float() }
func fromDouble(_ *Thread, v Value) float64 { return v.Double() }

// ---------------------------------------------------------------------------
// Member IDs
// ---------------------------------------------------------------------------

// jniMethodID resolves a method, initializing its class. Static and
// instance lookups do not match each other.
func jniMethodID(static bool) func(env *JNIEnv, class Ref, name, sig string) MethodID {
	return func(env *JNIEnv, class Ref, name, sig string) MethodID {
		var id MethodID
		env.run(func(t *Thread, m *Machine) error {
			c, err := m.classArg(t, class)
			if err != nil {
				return err
			}
			if err := m.InitClass(t, c); err != nil {
				return err
			}
			method, err := m.ResolveMethod(t, c, name, sig, true)
			if err != nil {
				return err
			}
			if method.IsStatic() != static {
				return m.throwNew(t, NoSuchMethodErrorType, "%s.%s%s", c.JavaName(), name, sig)
			}
			id = MethodID(m.methodIDs.intern(method))
			return nil
		})
		return id
	}
}

func jniFieldID(static bool) func(env *JNIEnv, class Ref, name, sig string) FieldID {
	return func(env *JNIEnv, class Ref, name, sig string) FieldID {
		var id FieldID
		env.run(func(t *Thread, m *Machine) error {
			c, err := m.classArg(t, class)
			if err != nil {
				return err
			}
			if err := m.InitClass(t, c); err != nil {
				return err
			}
			f, err := m.ResolveField(t, c, name, sig, true)
			if err != nil {
				return err
			}
			if f.IsStatic() != static {
				return m.throwNew(t, NoSuchFieldErrorType, "%s.%s", c.JavaName(), name)
			}
			id = FieldID(m.fieldIDs.intern(f))
			return nil
		})
		return id
	}
}

func (env *JNIEnv) method(id MethodID) (*Method, error) {
	m := env.t.m
	method, ok := m.methodIDs.lookup(int32(id))
	if !ok {
		return nil, m.throwNew(env.t, IllegalArgumentExceptionType, "invalid method id %d", id)
	}
	return method, nil
}

func (env *JNIEnv) field(id FieldID) (*Field, error) {
	m := env.t.m
	f, ok := m.fieldIDs.lookup(int32(id))
	if !ok {
		return nil, m.throwNew(env.t, IllegalArgumentExceptionType, "invalid field id %d", id)
	}
	return f, nil
}

// values converts JNI arguments by the method's parameter kinds.
func (env *JNIEnv) values(method *Method, args []JValue) ([]Value, error) {
	if len(args) != method.ParameterCount {
		return nil, env.t.m.throwNew(env.t, IllegalArgumentExceptionType,
			"%s takes %d arguments, got %d", method, method.ParameterCount, len(args))
	}
	values := make([]Value, len(args))
	for i, a := range args {
		values[i] = a.value(method.ParameterCodes[i])
	}
	return values, nil
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

type callKind int

const (
	virtualCall callKind = iota
	nonvirtualCall
	staticCall
)

// call runs a method through the processor. Virtual calls dispatch on the
// receiver's class; static calls ignore target.
func (env *JNIEnv) call(kind callKind, target Ref, id MethodID, args []JValue) Value {
	var result Value
	env.run(func(t *Thread, m *Machine) error {
		method, err := env.method(id)
		if err != nil {
			return err
		}
		var this *Object
		if kind == staticCall {
			if !method.IsStatic() {
				return m.throwNew(t, IncompatibleClassChangeErrorType, "%s is not static", method)
			}
		} else {
			if method.IsStatic() {
				return m.throwNew(t, IncompatibleClassChangeErrorType, "%s is static", method)
			}
			if this, err = m.required(t, target, "receiver"); err != nil {
				return err
			}
			if kind == virtualCall && method.IsVirtual() {
				impl := FindVirtualMethod(this.Class(), method)
				if impl == nil {
					return m.throwNew(t, AbstractMethodErrorType, "%s", method)
				}
				method = impl
			}
		}
		values, err := env.values(method, args)
		if err != nil {
			return err
		}
		result, err = m.processor.Invoke(t, method, this, values)
		return err
	})
	return result
}

func callMethodA[T any](jt jtype[T]) func(env *JNIEnv, o Ref, id MethodID, args []JValue) T {
	return func(env *JNIEnv, o Ref, id MethodID, args []JValue) T {
		return jt.from(env.t, env.call(virtualCall, o, id, args))
	}
}

func callNonvirtualMethodA[T any](jt jtype[T]) func(env *JNIEnv, o, class Ref, id MethodID, args []JValue) T {
	return func(env *JNIEnv, o, _ Ref, id MethodID, args []JValue) T {
		return jt.from(env.t, env.call(nonvirtualCall, o, id, args))
	}
}

func callStaticMethodA[T any](jt jtype[T]) func(env *JNIEnv, class Ref, id MethodID, args []JValue) T {
	return func(env *JNIEnv, class Ref, id MethodID, args []JValue) T {
		return jt.from(env.t, env.call(staticCall, class, id, args))
	}
}

// ---------------------------------------------------------------------------
// Fields
// ---------------------------------------------------------------------------

// fieldOfKind checks that the field's storage matches the accessor family.
func (env *JNIEnv) fieldOfKind(id FieldID, code FieldCode) (*Field, error) {
	f, err := env.field(id)
	if err != nil {
		return nil, err
	}
	if f.Code != code {
		return nil, env.t.m.throwNew(env.t, IllegalArgumentExceptionType,
			"%s is %s, not %s", f.Name, f.Code, code)
	}
	return f, nil
}

func getField[T any](jt jtype[T]) func(env *JNIEnv, o Ref, id FieldID) T {
	return func(env *JNIEnv, o Ref, id FieldID) T {
		var v Value
		env.run(func(t *Thread, m *Machine) error {
			f, err := env.fieldOfKind(id, jt.code)
			if err != nil {
				return err
			}
			obj, err := m.required(t, o, f.Name)
			if err != nil {
				return err
			}
			v, err = m.GetField(t, obj, f)
			return err
		})
		return jt.from(env.t, v)
	}
}

func setField[T any](jt jtype[T]) func(env *JNIEnv, o Ref, id FieldID, v T) {
	return func(env *JNIEnv, o Ref, id FieldID, v T) {
		env.run(func(t *Thread, m *Machine) error {
			f, err := env.fieldOfKind(id, jt.code)
			if err != nil {
				return err
			}
			obj, err := m.required(t, o, f.Name)
			if err != nil {
				return err
			}
			return m.SetField(t, obj, f, jt.to(v))
		})
	}
}

func getStaticField[T any](jt jtype[T]) func(env *JNIEnv, class Ref, id FieldID) T {
	return func(env *JNIEnv, _ Ref, id FieldID) T {
		var v Value
		env.run(func(t *Thread, m *Machine) error {
			f, err := env.fieldOfKind(id, jt.code)
			if err != nil {
				return err
			}
			v, err = m.GetStatic(t, f)
			return err
		})
		return jt.from(env.t, v)
	}
}

func setStaticField[T any](jt jtype[T]) func(env *JNIEnv, class Ref, id FieldID, v T) {
	return func(env *JNIEnv, _ Ref, id FieldID, v T) {
		env.run(func(t *Thread, m *Machine) error {
			f, err := env.fieldOfKind(id, jt.code)
			if err != nil {
				return err
			}
			return m.SetStatic(t, f, jt.to(v))
		})
	}
}
