package vm

import (
	"sync"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// JValue
// ---------------------------------------------------------------------------

// JValue is a JNI argument or result. Primitives travel as raw bits in J
// and references in L.
type JValue struct {
	J int64
	L Ref
}

func JInt(v int32) JValue        { return JValue{J: int64(IntValue(v).bits)} }
func JLong(v int64) JValue       { return JValue{J: v} }
func JFloat(v float32) JValue    { return JValue{J: int64(FloatValue(v).bits)} }
func JDouble(v float64) JValue   { return JValue{J: int64(DoubleValue(v).bits)} }
func JBool(v bool) JValue        { return JValue{J: int64(BoolValue(v).bits)} }
func JChar(v uint16) JValue      { return JValue{J: int64(v)} }
func JObject(r Ref) JValue       { return JValue{L: r} }
func (v JValue) Int() int32      { return int32(uint32(v.J)) }
func (v JValue) Long() int64     { return v.J }
func (v JValue) Float() float32  { return BitsValue(uint64(v.J)).Float() }
func (v JValue) Double() float64 { return BitsValue(uint64(v.J)).Double() }
func (v JValue) Bool() bool      { return uint32(v.J) != 0 }

func (v JValue) value(code FieldCode) Value {
	if code == ObjectField {
		return RefValue(v.L.Object())
	}
	return BitsValue(uint64(v.J)).narrow(code)
}

// ---------------------------------------------------------------------------
// Method and field IDs
// ---------------------------------------------------------------------------

// MethodID and FieldID are stable handles for members. Zero is invalid.
type (
	MethodID int32
	FieldID  int32
)

// idTable interns members. Lookups read a published snapshot without
// locking; interning copies it.
type idTable[T comparable] struct {
	mu    sync.Mutex
	ids   map[T]int32
	items atomic.Pointer[[]T]
}

func newIDTable[T comparable]() *idTable[T] {
	return &idTable[T]{ids: make(map[T]int32)}
}

func (it *idTable[T]) intern(v T) int32 {
	it.mu.Lock()
	defer it.mu.Unlock()
	if id, ok := it.ids[v]; ok {
		return id
	}
	var items []T
	if p := it.items.Load(); p != nil {
		items = *p
	}
	next := make([]T, len(items), len(items)+1)
	copy(next, items)
	next = append(next, v)
	it.items.Store(&next)
	id := int32(len(next))
	it.ids[v] = id
	return id
}

func (it *idTable[T]) lookup(id int32) (T, bool) {
	var zero T
	p := it.items.Load()
	if p == nil || id <= 0 || int(id) > len(*p) {
		return zero, false
	}
	return (*p)[id-1], true
}

// ---------------------------------------------------------------------------
// JNIEnv
// ---------------------------------------------------------------------------

// JNIEnv is a thread's view of the native interface. Functions are called
// through the embedded table, passing the environment first:
//
//	cls := env.FindClass(env, "java/lang/String")
//
// A function that fails leaves an exception pending on the thread and
// returns the zero value.
type JNIEnv struct {
	*JNINativeInterface

	t   *Thread
	err error
}

var (
	functionTable     *JNINativeInterface
	functionTableOnce sync.Once
)

// Env returns t's environment.
func (m *Machine) Env(t *Thread) *JNIEnv {
	if t.env == nil {
		functionTableOnce.Do(func() { functionTable = newFunctionTable() })
		t.env = &JNIEnv{JNINativeInterface: functionTable, t: t}
	}
	return t.env
}

// Thread returns the thread the environment belongs to.
func (env *JNIEnv) Thread() *Thread { return env.t }

// Err returns the error of the last failed function, or nil.
func (env *JNIEnv) Err() error { return env.err }

// run executes fn inside Run. Errors that are not throwables surface as
// InternalError so native code only ever sees pending exceptions.
func (env *JNIEnv) run(fn func(t *Thread, m *Machine) error) bool {
	t := env.t
	m := t.m
	err := m.Run(t, func(t *Thread) error {
		err := fn(t, m)
		if err == nil {
			return nil
		}
		if th, ok := AsThrowable(err); ok {
			t.exception = th
			return err
		}
		return m.throwNew(t, InternalErrorType, "%s", err)
	})
	env.err = err
	return err == nil
}

func (m *Machine) required(t *Thread, r Ref, what string) (*Object, error) {
	o := r.Object()
	if o == nil {
		return nil, m.throwNew(t, NullPointerExceptionType, "%s", what)
	}
	return o, nil
}

func (m *Machine) classArg(t *Thread, r Ref) (*Class, error) {
	o, err := m.required(t, r, "class")
	if err != nil {
		return nil, err
	}
	c, ok := ClassOf(o)
	if !ok {
		return nil, m.throwNew(t, IllegalArgumentExceptionType, "%s is not a class", o)
	}
	return c, nil
}

// callerLoader is the loader of the innermost running method, or the
// application loader when no method is running.
func (t *Thread) callerLoader() *Loader {
	if n := len(t.frames); n > 0 {
		if l := t.frames[n-1].Method.Class.Loader; l != nil {
			return l
		}
	}
	return t.m.AppLoader
}

// JNINativeMethod binds Fn, an AvianNative or JNINative, to a declared
// native method in RegisterNatives.
type JNINativeMethod struct {
	Name      string
	Signature string
	Fn        any
}

// Modes for Release<Type>ArrayElements.
const (
	JNICommit int32 = 1
	JNIAbort  int32 = 2
)

// JNINativeInterface is the function table shared by every JNIEnv.
type JNINativeInterface struct {
	GetVersion func(env *JNIEnv) int32

	DefineClass      func(env *JNIEnv, name string, loader Ref, data []byte) Ref
	FindClass        func(env *JNIEnv, name string) Ref
	GetSuperclass    func(env *JNIEnv, class Ref) Ref
	IsAssignableFrom func(env *JNIEnv, from, to Ref) bool

	Throw             func(env *JNIEnv, e Ref) int32
	ThrowNew          func(env *JNIEnv, class Ref, message string) int32
	ExceptionOccurred func(env *JNIEnv) Ref
	ExceptionDescribe func(env *JNIEnv)
	ExceptionClear    func(env *JNIEnv)
	ExceptionCheck    func(env *JNIEnv) bool
	FatalError        func(env *JNIEnv, message string)

	PushLocalFrame      func(env *JNIEnv, capacity int32) int32
	PopLocalFrame       func(env *JNIEnv, result Ref) Ref
	NewGlobalRef        func(env *JNIEnv, r Ref) Ref
	DeleteGlobalRef     func(env *JNIEnv, r Ref)
	DeleteLocalRef      func(env *JNIEnv, r Ref)
	IsSameObject        func(env *JNIEnv, a, b Ref) bool
	NewLocalRef         func(env *JNIEnv, r Ref) Ref
	EnsureLocalCapacity func(env *JNIEnv, capacity int32) int32
	NewWeakGlobalRef    func(env *JNIEnv, r Ref) Ref
	DeleteWeakGlobalRef func(env *JNIEnv, r Ref)
	GetObjectRefType    func(env *JNIEnv, r Ref) RefKind

	AllocObject    func(env *JNIEnv, class Ref) Ref
	NewObjectA     func(env *JNIEnv, class Ref, ctor MethodID, args []JValue) Ref
	GetObjectClass func(env *JNIEnv, o Ref) Ref
	IsInstanceOf   func(env *JNIEnv, o, class Ref) bool

	GetMethodID       func(env *JNIEnv, class Ref, name, sig string) MethodID
	GetStaticMethodID func(env *JNIEnv, class Ref, name, sig string) MethodID
	GetFieldID        func(env *JNIEnv, class Ref, name, sig string) FieldID
	GetStaticFieldID  func(env *JNIEnv, class Ref, name, sig string) FieldID

	CallObjectMethodA  func(env *JNIEnv, o Ref, id MethodID, args []JValue) Ref
	CallBooleanMethodA func(env *JNIEnv, o Ref, id MethodID, args []JValue) bool
	CallByteMethodA    func(env *JNIEnv, o Ref, id MethodID, args []JValue) int8
	CallCharMethodA    func(env *JNIEnv, o Ref, id MethodID, args []JValue) uint16
	CallShortMethodA   func(env *JNIEnv, o Ref, id MethodID, args []JValue) int16
	CallIntMethodA     func(env *JNIEnv, o Ref, id MethodID, args []JValue) int32
	CallLongMethodA    func(env *JNIEnv, o Ref, id MethodID, args []JValue) int64
	CallFloatMethodA   func(env *JNIEnv, o Ref, id MethodID, args []JValue) float32
	CallDoubleMethodA  func(env *JNIEnv, o Ref, id MethodID, args []JValue) float64
	CallVoidMethodA    func(env *JNIEnv, o Ref, id MethodID, args []JValue)

	CallNonvirtualObjectMethodA  func(env *JNIEnv, o, class Ref, id MethodID, args []JValue) Ref
	CallNonvirtualBooleanMethodA func(env *JNIEnv, o, class Ref, id MethodID, args []JValue) bool
	CallNonvirtualByteMethodA    func(env *JNIEnv, o, class Ref, id MethodID, args []JValue) int8
	CallNonvirtualCharMethodA    func(env *JNIEnv, o, class Ref, id MethodID, args []JValue) uint16
	CallNonvirtualShortMethodA   func(env *JNIEnv, o, class Ref, id MethodID, args []JValue) int16
	CallNonvirtualIntMethodA     func(env *JNIEnv, o, class Ref, id MethodID, args []JValue) int32
	CallNonvirtualLongMethodA    func(env *JNIEnv, o, class Ref, id MethodID, args []JValue) int64
	CallNonvirtualFloatMethodA   func(env *JNIEnv, o, class Ref, id MethodID, args []JValue) float32
	CallNonvirtualDoubleMethodA  func(env *JNIEnv, o, class Ref, id MethodID, args []JValue) float64
	CallNonvirtualVoidMethodA    func(env *JNIEnv, o, class Ref, id MethodID, args []JValue)

	CallStaticObjectMethodA  func(env *JNIEnv, class Ref, id MethodID, args []JValue) Ref
	CallStaticBooleanMethodA func(env *JNIEnv, class Ref, id MethodID, args []JValue) bool
	CallStaticByteMethodA    func(env *JNIEnv, class Ref, id MethodID, args []JValue) int8
	CallStaticCharMethodA    func(env *JNIEnv, class Ref, id MethodID, args []JValue) uint16
	CallStaticShortMethodA   func(env *JNIEnv, class Ref, id MethodID, args []JValue) int16
	CallStaticIntMethodA     func(env *JNIEnv, class Ref, id MethodID, args []JValue) int32
	CallStaticLongMethodA    func(env *JNIEnv, class Ref, id MethodID, args []JValue) int64
	CallStaticFloatMethodA   func(env *JNIEnv, class Ref, id MethodID, args []JValue) float32
	CallStaticDoubleMethodA  func(env *JNIEnv, class Ref, id MethodID, args []JValue) float64
	CallStaticVoidMethodA    func(env *JNIEnv, class Ref, id MethodID, args []JValue)

	GetObjectField  func(env *JNIEnv, o Ref, id FieldID) Ref
	GetBooleanField func(env *JNIEnv, o Ref, id FieldID) bool
	GetByteField    func(env *JNIEnv, o Ref, id FieldID) int8
	GetCharField    func(env *JNIEnv, o Ref, id FieldID) uint16
	GetShortField   func(env *JNIEnv, o Ref, id FieldID) int16
	GetIntField     func(env *JNIEnv, o Ref, id FieldID) int32
	GetLongField    func(env *JNIEnv, o Ref, id FieldID) int64
	GetFloatField   func(env *JNIEnv, o Ref, id FieldID) float32
	GetDoubleField  func(env *JNIEnv, o Ref, id FieldID) float64

	SetObjectField  func(env *JNIEnv, o Ref, id FieldID, v Ref)
	SetBooleanField func(env *JNIEnv, o Ref, id FieldID, v bool)
	SetByteField    func(env *JNIEnv, o Ref, id FieldID, v int8)
	SetCharField    func(env *JNIEnv, o Ref, id FieldID, v uint16)
	SetShortField   func(env *JNIEnv, o Ref, id FieldID, v int16)
	SetIntField     func(env *JNIEnv, o Ref, id FieldID, v int32)
	SetLongField    func(env *JNIEnv, o Ref, id FieldID, v int64)
	SetFloatField   func(env *JNIEnv, o Ref, id FieldID, v float32)
	SetDoubleField  func(env *JNIEnv, o Ref, id FieldID, v float64)

	GetStaticObjectField  func(env *JNIEnv, class Ref, id FieldID) Ref
	GetStaticBooleanField func(env *JNIEnv, class Ref, id FieldID) bool
	GetStaticByteField    func(env *JNIEnv, class Ref, id FieldID) int8
	GetStaticCharField    func(env *JNIEnv, class Ref, id FieldID) uint16
	GetStaticShortField   func(env *JNIEnv, class Ref, id FieldID) int16
	GetStaticIntField     func(env *JNIEnv, class Ref, id FieldID) int32
	GetStaticLongField    func(env *JNIEnv, class Ref, id FieldID) int64
	GetStaticFloatField   func(env *JNIEnv, class Ref, id FieldID) float32
	GetStaticDoubleField  func(env *JNIEnv, class Ref, id FieldID) float64

	SetStaticObjectField  func(env *JNIEnv, class Ref, id FieldID, v Ref)
	SetStaticBooleanField func(env *JNIEnv, class Ref, id FieldID, v bool)
	SetStaticByteField    func(env *JNIEnv, class Ref, id FieldID, v int8)
	SetStaticCharField    func(env *JNIEnv, class Ref, id FieldID, v uint16)
	SetStaticShortField   func(env *JNIEnv, class Ref, id FieldID, v int16)
	SetStaticIntField     func(env *JNIEnv, class Ref, id FieldID, v int32)
	SetStaticLongField    func(env *JNIEnv, class Ref, id FieldID, v int64)
	SetStaticFloatField   func(env *JNIEnv, class Ref, id FieldID, v float32)
	SetStaticDoubleField  func(env *JNIEnv, class Ref, id FieldID, v float64)

	NewString             func(env *JNIEnv, chars []uint16) Ref
	GetStringLength       func(env *JNIEnv, s Ref) int32
	GetStringChars        func(env *JNIEnv, s Ref) []uint16
	ReleaseStringChars    func(env *JNIEnv, s Ref, chars []uint16)
	NewStringUTF          func(env *JNIEnv, s string) Ref
	GetStringUTFLength    func(env *JNIEnv, s Ref) int32
	GetStringUTFChars     func(env *JNIEnv, s Ref) string
	ReleaseStringUTFChars func(env *JNIEnv, s Ref, chars string)
	GetStringRegion       func(env *JNIEnv, s Ref, start, length int32, buf []uint16)
	GetStringUTFRegion    func(env *JNIEnv, s Ref, start, length int32) string

	GetArrayLength        func(env *JNIEnv, array Ref) int32
	NewObjectArray        func(env *JNIEnv, length int32, element, initial Ref) Ref
	GetObjectArrayElement func(env *JNIEnv, array Ref, i int32) Ref
	SetObjectArrayElement func(env *JNIEnv, array Ref, i int32, v Ref)

	NewBooleanArray func(env *JNIEnv, length int32) Ref
	NewByteArray    func(env *JNIEnv, length int32) Ref
	NewCharArray    func(env *JNIEnv, length int32) Ref
	NewShortArray   func(env *JNIEnv, length int32) Ref
	NewIntArray     func(env *JNIEnv, length int32) Ref
	NewLongArray    func(env *JNIEnv, length int32) Ref
	NewFloatArray   func(env *JNIEnv, length int32) Ref
	NewDoubleArray  func(env *JNIEnv, length int32) Ref

	GetBooleanArrayElements func(env *JNIEnv, array Ref) []bool
	GetByteArrayElements    func(env *JNIEnv, array Ref) []int8
	GetCharArrayElements    func(env *JNIEnv, array Ref) []uint16
	GetShortArrayElements   func(env *JNIEnv, array Ref) []int16
	GetIntArrayElements     func(env *JNIEnv, array Ref) []int32
	GetLongArrayElements    func(env *JNIEnv, array Ref) []int64
	GetFloatArrayElements   func(env *JNIEnv, array Ref) []float32
	GetDoubleArrayElements  func(env *JNIEnv, array Ref) []float64

	ReleaseBooleanArrayElements func(env *JNIEnv, array Ref, elems []bool, mode int32)
	ReleaseByteArrayElements    func(env *JNIEnv, array Ref, elems []int8, mode int32)
	ReleaseCharArrayElements    func(env *JNIEnv, array Ref, elems []uint16, mode int32)
	ReleaseShortArrayElements   func(env *JNIEnv, array Ref, elems []int16, mode int32)
	ReleaseIntArrayElements     func(env *JNIEnv, array Ref, elems []int32, mode int32)
	ReleaseLongArrayElements    func(env *JNIEnv, array Ref, elems []int64, mode int32)
	ReleaseFloatArrayElements   func(env *JNIEnv, array Ref, elems []float32, mode int32)
	ReleaseDoubleArrayElements  func(env *JNIEnv, array Ref, elems []float64, mode int32)

	GetBooleanArrayRegion func(env *JNIEnv, array Ref, start int32, buf []bool)
	GetByteArrayRegion    func(env *JNIEnv, array Ref, start int32, buf []int8)
	GetCharArrayRegion    func(env *JNIEnv, array Ref, start int32, buf []uint16)
	GetShortArrayRegion   func(env *JNIEnv, array Ref, start int32, buf []int16)
	GetIntArrayRegion     func(env *JNIEnv, array Ref, start int32, buf []int32)
	GetLongArrayRegion    func(env *JNIEnv, array Ref, start int32, buf []int64)
	GetFloatArrayRegion   func(env *JNIEnv, array Ref, start int32, buf []float32)
	GetDoubleArrayRegion  func(env *JNIEnv, array Ref, start int32, buf []float64)

	SetBooleanArrayRegion func(env *JNIEnv, array Ref, start int32, buf []bool)
	SetByteArrayRegion    func(env *JNIEnv, array Ref, start int32, buf []int8)
	SetCharArrayRegion    func(env *JNIEnv, array Ref, start int32, buf []uint16)
	SetShortArrayRegion   func(env *JNIEnv, array Ref, start int32, buf []int16)
	SetIntArrayRegion     func(env *JNIEnv, array Ref, start int32, buf []int32)
	SetLongArrayRegion    func(env *JNIEnv, array Ref, start int32, buf []int64)
	SetFloatArrayRegion   func(env *JNIEnv, array Ref, start int32, buf []float32)
	SetDoubleArrayRegion  func(env *JNIEnv, array Ref, start int32, buf []float64)

	MonitorEnter func(env *JNIEnv, o Ref) int32
	MonitorExit  func(env *JNIEnv, o Ref) int32

	RegisterNatives   func(env *JNIEnv, class Ref, methods []JNINativeMethod) int32
	UnregisterNatives func(env *JNIEnv, class Ref) int32

	GetJavaVM func(env *JNIEnv) *JavaVM
}

func newFunctionTable() *JNINativeInterface {
	return &JNINativeInterface{
		GetVersion: func(*JNIEnv) int32 { return JNIVersion1_6 },

		DefineClass:      jniDefineClass,
		FindClass:        jniFindClass,
		GetSuperclass:    jniGetSuperclass,
		IsAssignableFrom: jniIsAssignableFrom,

		Throw:             jniThrow,
		ThrowNew:          jniThrowNew,
		ExceptionOccurred: func(env *JNIEnv) Ref { return env.t.newLocalRef(env.t.exception) },
		ExceptionDescribe: jniExceptionDescribe,
		ExceptionClear:    func(env *JNIEnv) { env.t.exception = nil },
		ExceptionCheck:    func(env *JNIEnv) bool { return env.t.exception != nil },
		FatalError:        func(_ *JNIEnv, message string) { Abort("fatal error in native code: %s", message) },

		PushLocalFrame:      jniPushLocalFrame,
		PopLocalFrame:       jniPopLocalFrame,
		NewGlobalRef:        func(env *JNIEnv, r Ref) Ref { return env.t.m.globalRefs.add(r.Object(), GlobalRef) },
		DeleteGlobalRef:     func(env *JNIEnv, r Ref) { env.t.m.globalRefs.delete(r) },
		DeleteLocalRef:      jniDeleteLocalRef,
		IsSameObject:        func(_ *JNIEnv, a, b Ref) bool { return a.Object() == b.Object() },
		NewLocalRef:         func(env *JNIEnv, r Ref) Ref { return env.t.newLocalRef(r.Object()) },
		EnsureLocalCapacity: func(*JNIEnv, int32) int32 { return JNIOk },
		NewWeakGlobalRef:    func(env *JNIEnv, r Ref) Ref { return env.t.m.globalRefs.add(r.Object(), WeakGlobalRef) },
		DeleteWeakGlobalRef: func(env *JNIEnv, r Ref) { env.t.m.globalRefs.delete(r) },
		GetObjectRefType:    func(_ *JNIEnv, r Ref) RefKind { return r.Kind() },

		AllocObject:    jniAllocObject,
		NewObjectA:     jniNewObjectA,
		GetObjectClass: jniGetObjectClass,
		IsInstanceOf:   jniIsInstanceOf,

		GetMethodID:       jniMethodID(false),
		GetStaticMethodID: jniMethodID(true),
		GetFieldID:        jniFieldID(false),
		GetStaticFieldID:  jniFieldID(true),

		CallObjectMethodA:  callMethodA(jObject),
		CallBooleanMethodA: callMethodA(jBoolean),
		CallByteMethodA:    callMethodA(jByte),
		CallCharMethodA:    callMethodA(jChar),
		CallShortMethodA:   callMethodA(jShort),
		CallIntMethodA:     callMethodA(jInt),
		CallLongMethodA:    callMethodA(jLong),
		CallFloatMethodA:   callMethodA(jFloat),
		CallDoubleMethodA:  callMethodA(jDouble),
		CallVoidMethodA: func(env *JNIEnv, o Ref, id MethodID, args []JValue) {
			env.call(virtualCall, o, id, args)
		},

		CallNonvirtualObjectMethodA:  callNonvirtualMethodA(jObject),
		CallNonvirtualBooleanMethodA: callNonvirtualMethodA(jBoolean),
		CallNonvirtualByteMethodA:    callNonvirtualMethodA(jByte),
		CallNonvirtualCharMethodA:    callNonvirtualMethodA(jChar),
		CallNonvirtualShortMethodA:   callNonvirtualMethodA(jShort),
		CallNonvirtualIntMethodA:     callNonvirtualMethodA(jInt),
		CallNonvirtualLongMethodA:    callNonvirtualMethodA(jLong),
		CallNonvirtualFloatMethodA:   callNonvirtualMethodA(jFloat),
		CallNonvirtualDoubleMethodA:  callNonvirtualMethodA(jDouble),
		CallNonvirtualVoidMethodA: func(env *JNIEnv, o, _ Ref, id MethodID, args []JValue) {
			env.call(nonvirtualCall, o, id, args)
		},

		CallStaticObjectMethodA:  callStaticMethodA(jObject),
		CallStaticBooleanMethodA: callStaticMethodA(jBoolean),
		CallStaticByteMethodA:    callStaticMethodA(jByte),
		CallStaticCharMethodA:    callStaticMethodA(jChar),
		CallStaticShortMethodA:   callStaticMethodA(jShort),
		CallStaticIntMethodA:     callStaticMethodA(jInt),
		CallStaticLongMethodA:    callStaticMethodA(jLong),
		CallStaticFloatMethodA:   callStaticMethodA(jFloat),
		CallStaticDoubleMethodA:  callStaticMethodA(jDouble),
		CallStaticVoidMethodA: func(env *JNIEnv, class Ref, id MethodID, args []JValue) {
			env.call(staticCall, class, id, args)
		},

		GetObjectField:  getField(jObject),
		GetBooleanField: getField(jBoolean),
		GetByteField:    getField(jByte),
		GetCharField:    getField(jChar),
		GetShortField:   getField(jShort),
		GetIntField:     getField(jInt),
		GetLongField:    getField(jLong),
		GetFloatField:   getField(jFloat),
		GetDoubleField:  getField(jDouble),

		SetObjectField:  setField(jObject),
		SetBooleanField: setField(jBoolean),
		SetByteField:    setField(jByte),
		SetCharField:    setField(jChar),
		SetShortField:   setField(jShort),
		SetIntField:     setField(jInt),
		SetLongField:    setField(jLong),
		SetFloatField:   setField(jFloat),
		SetDoubleField:  setField(jDouble),

		GetStaticObjectField:  getStaticField(jObject),
		GetStaticBooleanField: getStaticField(jBoolean),
		GetStaticByteField:    getStaticField(jByte),
		GetStaticCharField:    getStaticField(jChar),
		GetStaticShortField:   getStaticField(jShort),
		GetStaticIntField:     getStaticField(jInt),
		GetStaticLongField:    getStaticField(jLong),
		GetStaticFloatField:   getStaticField(jFloat),
		GetStaticDoubleField:  getStaticField(jDouble),

		SetStaticObjectField:  setStaticField(jObject),
		SetStaticBooleanField: setStaticField(jBoolean),
		SetStaticByteField:    setStaticField(jByte),
		SetStaticCharField:    setStaticField(jChar),
		SetStaticShortField:   setStaticField(jShort),
		SetStaticIntField:     setStaticField(jInt),
		SetStaticLongField:    setStaticField(jLong),
		SetStaticFloatField:   setStaticField(jFloat),
		SetStaticDoubleField:  setStaticField(jDouble),

		NewString:             jniNewString,
		GetStringLength:       jniGetStringLength,
		GetStringChars:        jniGetStringChars,
		ReleaseStringChars:    func(*JNIEnv, Ref, []uint16) {},
		NewStringUTF:          jniNewStringUTF,
		GetStringUTFLength:    jniGetStringUTFLength,
		GetStringUTFChars:     jniGetStringUTFChars,
		ReleaseStringUTFChars: func(*JNIEnv, Ref, string) {},
		GetStringRegion:       jniGetStringRegion,
		GetStringUTFRegion:    jniGetStringUTFRegion,

		GetArrayLength:        jniGetArrayLength,
		NewObjectArray:        jniNewObjectArray,
		GetObjectArrayElement: jniGetObjectArrayElement,
		SetObjectArrayElement: jniSetObjectArrayElement,

		NewBooleanArray: newArray(jBoolean),
		NewByteArray:    newArray(jByte),
		NewCharArray:    newArray(jChar),
		NewShortArray:   newArray(jShort),
		NewIntArray:     newArray(jInt),
		NewLongArray:    newArray(jLong),
		NewFloatArray:   newArray(jFloat),
		NewDoubleArray:  newArray(jDouble),

		GetBooleanArrayElements: getArrayElements(jBoolean),
		GetByteArrayElements:    getArrayElements(jByte),
		GetCharArrayElements:    getArrayElements(jChar),
		GetShortArrayElements:   getArrayElements(jShort),
		GetIntArrayElements:     getArrayElements(jInt),
		GetLongArrayElements:    getArrayElements(jLong),
		GetFloatArrayElements:   getArrayElements(jFloat),
		GetDoubleArrayElements:  getArrayElements(jDouble),

		ReleaseBooleanArrayElements: releaseArrayElements(jBoolean),
		ReleaseByteArrayElements:    releaseArrayElements(jByte),
		ReleaseCharArrayElements:    releaseArrayElements(jChar),
		ReleaseShortArrayElements:   releaseArrayElements(jShort),
		ReleaseIntArrayElements:     releaseArrayElements(jInt),
		ReleaseLongArrayElements:    releaseArrayElements(jLong),
		ReleaseFloatArrayElements:   releaseArrayElements(jFloat),
		ReleaseDoubleArrayElements:  releaseArrayElements(jDouble),

		GetBooleanArrayRegion: getArrayRegion(jBoolean),
		GetByteArrayRegion:    getArrayRegion(jByte),
		GetCharArrayRegion:    getArrayRegion(jChar),
		GetShortArrayRegion:   getArrayRegion(jShort),
		GetIntArrayRegion:     getArrayRegion(jInt),
		GetLongArrayRegion:    getArrayRegion(jLong),
		GetFloatArrayRegion:   getArrayRegion(jFloat),
		GetDoubleArrayRegion:  getArrayRegion(jDouble),

		SetBooleanArrayRegion: setArrayRegion(jBoolean),
		SetByteArrayRegion:    setArrayRegion(jByte),
		SetCharArrayRegion:    setArrayRegion(jChar),
		SetShortArrayRegion:   setArrayRegion(jShort),
		SetIntArrayRegion:     setArrayRegion(jInt),
		SetLongArrayRegion:    setArrayRegion(jLong),
		SetFloatArrayRegion:   setArrayRegion(jFloat),
		SetDoubleArrayRegion:  setArrayRegion(jDouble),

		MonitorEnter: jniMonitorEnter,
		MonitorExit:  jniMonitorExit,

		RegisterNatives:   jniRegisterNatives,
		UnregisterNatives: jniUnregisterNatives,

		GetJavaVM: func(env *JNIEnv) *JavaVM { return env.t.m.JavaVM() },
	}
}

// --- classes ---

func jniDefineClass(env *JNIEnv, name string, loader Ref, data []byte) Ref {
	var result Ref
	env.run(func(t *Thread, m *Machine) error {
		l := m.loaderOf(t, loader.Object())
		c, err := m.DefineClass(t, l, data)
		if err != nil {
			return err
		}
		if name != "" && c.Name != name {
			return m.throwNew(t, NoClassDefFoundErrorType, "%s (wrong name: %s)", name, c.Name)
		}
		result = t.newLocalRef(c.AsObject())
		return nil
	})
	return result
}

// loaderOf maps a loader peer to its loader. Unknown or nil peers mean
// the application loader.
func (m *Machine) loaderOf(t *Thread, peer *Object) *Loader {
	if peer == nil {
		return m.AppLoader
	}
	unlock := t.acquire(&m.classLock)
	defer unlock()
	for _, l := range m.loaders {
		if l.peer.Load() == peer {
			return l
		}
	}
	return m.AppLoader
}

func jniFindClass(env *JNIEnv, name string) Ref {
	var result Ref
	env.run(func(t *Thread, m *Machine) error {
		c, err := m.ResolveClass(t, t.callerLoader(), name, true, NoClassDefFoundErrorType)
		if err != nil {
			return err
		}
		if err := m.InitClass(t, c); err != nil {
			return err
		}
		result = t.newLocalRef(c.AsObject())
		return nil
	})
	return result
}

func jniGetSuperclass(env *JNIEnv, class Ref) Ref {
	var result Ref
	env.run(func(t *Thread, m *Machine) error {
		c, err := m.classArg(t, class)
		if err != nil {
			return err
		}
		if c.Super != nil && !c.IsInterface() {
			result = t.newLocalRef(c.Super.AsObject())
		}
		return nil
	})
	return result
}

// jniIsAssignableFrom reports whether an instance of from may be stored
// where to is expected.
func jniIsAssignableFrom(env *JNIEnv, from, to Ref) bool {
	var result bool
	env.run(func(t *Thread, m *Machine) error {
		a, err := m.classArg(t, from)
		if err != nil {
			return err
		}
		b, err := m.classArg(t, to)
		if err != nil {
			return err
		}
		result = IsAssignableFrom(b, a)
		return nil
	})
	return result
}

// --- exceptions ---

func jniThrow(env *JNIEnv, e Ref) int32 {
	o := e.Object()
	if o == nil {
		return JNIErr
	}
	env.t.exception = o
	return JNIOk
}

func jniThrowNew(env *JNIEnv, class Ref, message string) int32 {
	ok := env.run(func(t *Thread, m *Machine) error {
		c, err := m.classArg(t, class)
		if err != nil {
			return err
		}
		e, err := m.MakeThrowable(t, c, message, nil)
		if err != nil {
			return err
		}
		t.exception = e
		return nil
	})
	if !ok {
		return JNIErr
	}
	return JNIOk
}

func jniExceptionDescribe(env *JNIEnv) {
	t := env.t
	e := t.exception
	if e == nil {
		return
	}
	t.exception = nil
	t.m.PrintTrace(t, t.m.errorLog, e)
}

// --- references ---

func jniPushLocalFrame(env *JNIEnv, capacity int32) int32 {
	env.t.pushLocalFrame(int(capacity))
	return JNIOk
}

// jniPopLocalFrame pops the innermost frame and returns result as a
// reference in the frame below.
func jniPopLocalFrame(env *JNIEnv, result Ref) Ref {
	t := env.t
	o := result.Object()
	t.popLocalFrame()
	return t.newLocalRef(o)
}

func jniDeleteLocalRef(env *JNIEnv, r Ref) {
	if r.Kind() == LocalRef {
		r.c.o = nil
	}
}

// --- objects ---

func jniAllocObject(env *JNIEnv, class Ref) Ref {
	var result Ref
	env.run(func(t *Thread, m *Machine) error {
		c, err := m.classArg(t, class)
		if err != nil {
			return err
		}
		o, err := m.instantiate(t, c)
		if err != nil {
			return err
		}
		result = t.newLocalRef(o)
		return nil
	})
	return result
}

func (m *Machine) instantiate(t *Thread, c *Class) (*Object, error) {
	if c.IsInterface() || c.AccessFlags&AccAbstract != 0 || c.IsArray() || c.IsPrimitive() {
		return nil, m.throwNew(t, IncompatibleClassChangeErrorType, "cannot instantiate %s", c.JavaName())
	}
	if err := m.InitClass(t, c); err != nil {
		return nil, err
	}
	return m.Make(t, c)
}

func jniNewObjectA(env *JNIEnv, class Ref, ctor MethodID, args []JValue) Ref {
	var result Ref
	env.run(func(t *Thread, m *Machine) error {
		c, err := m.classArg(t, class)
		if err != nil {
			return err
		}
		method, err := env.method(ctor)
		if err != nil {
			return err
		}
		if method.Name != "<init>" {
			return m.throwNew(t, IllegalArgumentExceptionType, "%s is not a constructor", method)
		}
		o, err := m.instantiate(t, c)
		if err != nil {
			return err
		}
		values, err := env.values(method, args)
		if err != nil {
			return err
		}
		if _, err := m.processor.Invoke(t, method, o, values); err != nil {
			return err
		}
		result = t.newLocalRef(o)
		return nil
	})
	return result
}

func jniGetObjectClass(env *JNIEnv, o Ref) Ref {
	var result Ref
	env.run(func(t *Thread, m *Machine) error {
		obj, err := m.required(t, o, "object")
		if err != nil {
			return err
		}
		result = t.newLocalRef(obj.Class().AsObject())
		return nil
	})
	return result
}

func jniIsInstanceOf(env *JNIEnv, o, class Ref) bool {
	obj := o.Object()
	if obj == nil {
		return true
	}
	c, ok := ClassOf(class.Object())
	return ok && InstanceOf(c, obj)
}

// --- monitors ---

func jniMonitorEnter(env *JNIEnv, o Ref) int32 {
	ok := env.run(func(t *Thread, m *Machine) error {
		obj, err := m.required(t, o, "monitor")
		if err != nil {
			return err
		}
		return m.Acquire(t, obj)
	})
	if !ok {
		return JNIErr
	}
	return JNIOk
}

func jniMonitorExit(env *JNIEnv, o Ref) int32 {
	ok := env.run(func(t *Thread, m *Machine) error {
		obj, err := m.required(t, o, "monitor")
		if err != nil {
			return err
		}
		if !m.HoldsLock(t, obj) {
			return m.throwNew(t, IllegalMonitorStateExceptionType, "")
		}
		return m.Release(t, obj)
	})
	if !ok {
		return JNIErr
	}
	return JNIOk
}

// --- natives ---

func jniRegisterNatives(env *JNIEnv, class Ref, methods []JNINativeMethod) int32 {
	ok := env.run(func(t *Thread, m *Machine) error {
		c, err := m.classArg(t, class)
		if err != nil {
			return err
		}
		for _, nm := range methods {
			method := FindMethodInClass(c, nm.Name, nm.Signature)
			if method == nil || method.Class != c || !method.IsNative() {
				return m.throwNew(t, NoSuchMethodErrorType, "%s.%s%s", c.JavaName(), nm.Name, nm.Signature)
			}
			b := bindingOf(JNISymbol(method), "registered", nm.Fn)
			if b == nil {
				return m.throwNew(t, IllegalArgumentExceptionType, "unsupported native for %s", method)
			}
			method.native.Store(b)
			log.Debugf("registered native %s", method)
		}
		return nil
	})
	if !ok {
		return JNIErr
	}
	return JNIOk
}

func jniUnregisterNatives(env *JNIEnv, class Ref) int32 {
	ok := env.run(func(t *Thread, m *Machine) error {
		c, err := m.classArg(t, class)
		if err != nil {
			return err
		}
		for _, method := range c.Methods {
			if method.IsNative() {
				method.native.Store(nil)
			}
		}
		return nil
	})
	if !ok {
		return JNIErr
	}
	return JNIOk
}
