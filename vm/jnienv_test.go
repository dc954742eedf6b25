package vm

import (
	"testing"
)

// ---------------------------------------------------------------------------
// JNI environment tests
// ---------------------------------------------------------------------------

func jniFinder() mapFinder {
	b := newClassBuilder("p/Counter", NameObject).
		field(AccPublic, "count", "I").
		field(AccPublic, "total", "J").
		field(AccPublic, "ratio", "D").
		field(AccPublic, "label", "Ljava/lang/String;").
		field(AccPublic|AccStatic, "instances", "I").
		method(AccPublic, "<init>", "()V").
		method(AccPublic|AccStatic|AccNative, "add", "(II)I").
		method(AccPublic|AccStatic|AccNative, "fail", "(Ljava/lang/String;)V").
		method(AccPublic|AccNative, "scale", "(D)D")
	return mapFinder{}.add(b)
}

func TestJNIFindClass(t *testing.T) {
	m := newTestMachine(t, nil, jniFinder())
	env := m.Env(m.t)

	if env.GetVersion(env) != JNIVersion1_6 {
		t.Errorf("GetVersion = %#x", env.GetVersion(env))
	}
	cls := env.FindClass(env, "p/Counter")
	if cls.IsNull() || env.ExceptionCheck(env) {
		t.Fatalf("FindClass failed: %v", env.Err())
	}
	if cls.Kind() != LocalRef {
		t.Errorf("FindClass returned a %s reference", cls.Kind())
	}
	if c, ok := ClassOf(cls.Object()); !ok || c.Name != "p/Counter" {
		t.Errorf("FindClass resolved %v", cls.Object())
	}
	super := env.GetSuperclass(env, cls)
	if c, _ := ClassOf(super.Object()); c != m.Types().Object {
		t.Errorf("superclass = %v", super.Object())
	}
	if !env.IsAssignableFrom(env, cls, super) || env.IsAssignableFrom(env, super, cls) {
		t.Error("IsAssignableFrom is backwards")
	}

	missing := env.FindClass(env, "p/Missing")
	if !missing.IsNull() || !env.ExceptionCheck(env) {
		t.Fatal("FindClass of a missing class should leave an exception pending")
	}
	e := env.ExceptionOccurred(env)
	if e.Object().Class().Name != "java/lang/NoClassDefFoundError" {
		t.Errorf("pending %s", e.Object().Class().Name)
	}
	env.ExceptionClear(env)
	if env.ExceptionCheck(env) {
		t.Error("ExceptionClear should clear the pending exception")
	}
}

func TestJNIStrings(t *testing.T) {
	m := newTestMachine(t, nil, nil)
	env := m.Env(m.t)

	s := env.NewStringUTF(env, "héllo\x00")
	if env.GetStringLength(env, s) != 6 {
		t.Errorf("GetStringLength = %d, want 6", env.GetStringLength(env, s))
	}
	if got := env.GetStringUTFChars(env, s); got != "héllo\x00" {
		t.Errorf("GetStringUTFChars = %q", got)
	}
	// modified UTF-8: é is two bytes and NUL is encoded as two
	if got := env.GetStringUTFLength(env, s); got != 8 {
		t.Errorf("GetStringUTFLength = %d, want 8", got)
	}

	chars := env.GetStringChars(env, s)
	u := env.NewString(env, chars)
	if env.GetStringUTFChars(env, u) != "héllo\x00" {
		t.Error("NewString should round trip GetStringChars")
	}

	buf := make([]uint16, 3)
	env.GetStringRegion(env, s, 1, 3, buf)
	if string(rune(buf[0])) != "é" || buf[2] != 'l' {
		t.Errorf("GetStringRegion = %v", buf)
	}
	env.GetStringRegion(env, s, 4, 5, buf)
	if !env.ExceptionCheck(env) {
		t.Error("out of range region should raise")
	}
	env.ExceptionClear(env)

	if env.GetStringLength(env, Ref{}) != 0 || !env.ExceptionCheck(env) {
		t.Error("null string should raise NullPointerException")
	}
	env.ExceptionClear(env)
}

func TestJNIFieldsAndObjects(t *testing.T) {
	m := newTestMachine(t, nil, jniFinder())
	env := m.Env(m.t)

	cls := env.FindClass(env, "p/Counter")
	ctor := env.GetMethodID(env, cls, "<init>", "()V")
	obj := env.NewObjectA(env, cls, ctor, nil)
	if obj.IsNull() {
		t.Fatalf("NewObjectA: %v", env.Err())
	}
	if !env.IsInstanceOf(env, obj, cls) {
		t.Error("IsInstanceOf should hold for the new object")
	}
	if got := env.GetObjectClass(env, obj); !env.IsSameObject(env, got, cls) {
		t.Error("GetObjectClass should be the class")
	}

	count := env.GetFieldID(env, cls, "count", "I")
	total := env.GetFieldID(env, cls, "total", "J")
	ratio := env.GetFieldID(env, cls, "ratio", "D")
	label := env.GetFieldID(env, cls, "label", "Ljava/lang/String;")
	if count == 0 || total == 0 || ratio == 0 || label == 0 {
		t.Fatalf("GetFieldID: %v", env.Err())
	}
	if again := env.GetFieldID(env, cls, "count", "I"); again != count {
		t.Errorf("field IDs should be stable: %d != %d", again, count)
	}

	env.SetIntField(env, obj, count, 41)
	env.SetLongField(env, obj, total, -1<<33)
	env.SetDoubleField(env, obj, ratio, 0.5)
	env.SetObjectField(env, obj, label, env.NewStringUTF(env, "tag"))

	if got := env.GetIntField(env, obj, count); got != 41 {
		t.Errorf("count = %d", got)
	}
	if got := env.GetLongField(env, obj, total); got != -1<<33 {
		t.Errorf("total = %d", got)
	}
	if got := env.GetDoubleField(env, obj, ratio); got != 0.5 {
		t.Errorf("ratio = %v", got)
	}
	if got := env.GetStringUTFChars(env, env.GetObjectField(env, obj, label)); got != "tag" {
		t.Errorf("label = %q", got)
	}

	// accessor kind must match the field
	env.GetLongField(env, obj, count)
	if !env.ExceptionCheck(env) {
		t.Error("mismatched accessor should raise")
	}
	env.ExceptionClear(env)

	instances := env.GetStaticFieldID(env, cls, "instances", "I")
	env.SetStaticIntField(env, cls, instances, 7)
	if got := env.GetStaticIntField(env, cls, instances); got != 7 {
		t.Errorf("instances = %d", got)
	}
	if env.GetFieldID(env, cls, "instances", "I") != 0 {
		t.Error("instance lookup of a static field should fail")
	}
	env.ExceptionClear(env)
}

func TestJNIReferences(t *testing.T) {
	m := newTestMachine(t, nil, nil)
	env := m.Env(m.t)

	strong0, weak0 := m.globalRefs.Len()
	s := env.NewStringUTF(env, "kept")
	global := env.NewGlobalRef(env, s)
	dropped := env.NewStringUTF(env, "dropped")
	weak := env.NewWeakGlobalRef(env, dropped)
	env.DeleteLocalRef(env, dropped)
	if global.Kind() != GlobalRef || weak.Kind() != WeakGlobalRef {
		t.Errorf("kinds = %s, %s", global.Kind(), weak.Kind())
	}

	if env.PushLocalFrame(env, 4) != JNIOk {
		t.Fatal("PushLocalFrame failed")
	}
	inner := env.NewStringUTF(env, "inner")
	escaped := env.PopLocalFrame(env, inner)
	if !inner.IsNull() {
		t.Error("locals in a popped frame should read as null")
	}
	if env.GetStringUTFChars(env, escaped) != "inner" {
		t.Error("PopLocalFrame result should survive in the outer frame")
	}

	env.DeleteLocalRef(env, s)
	if !s.IsNull() {
		t.Error("deleted local should read as null")
	}

	// only the weak global's referent is unreachable now
	m.Collect(m.t, MajorCollection)
	if env.GetStringUTFChars(env, global) != "kept" {
		t.Error("global reference lost its referent")
	}
	if !weak.IsNull() {
		t.Error("weak global should be cleared once its referent is collected")
	}

	env.DeleteGlobalRef(env, global)
	env.DeleteWeakGlobalRef(env, weak)
	if strong, w := m.globalRefs.Len(); strong != strong0 || w != weak0 {
		t.Errorf("ref table still holds %d strong and %d weak", strong, w)
	}
}

func TestJNIArrays(t *testing.T) {
	m := newTestMachine(t, nil, nil)
	env := m.Env(m.t)

	ints := env.NewIntArray(env, 4)
	env.SetIntArrayRegion(env, ints, 1, []int32{10, 20, 30})
	got := make([]int32, 4)
	env.GetIntArrayRegion(env, ints, 0, got)
	if got[0] != 0 || got[1] != 10 || got[3] != 30 {
		t.Errorf("int region = %v", got)
	}

	elems := env.GetIntArrayElements(env, ints)
	elems[0] = 99
	env.ReleaseIntArrayElements(env, ints, elems, JNIAbort)
	env.GetIntArrayRegion(env, ints, 0, got[:1])
	if got[0] != 0 {
		t.Error("JNIAbort should discard changes")
	}
	elems = env.GetIntArrayElements(env, ints)
	elems[0] = 99
	env.ReleaseIntArrayElements(env, ints, elems, 0)
	env.GetIntArrayRegion(env, ints, 0, got[:1])
	if got[0] != 99 {
		t.Error("mode 0 should copy back")
	}

	env.GetIntArrayRegion(env, ints, 3, got)
	if e := env.ExceptionOccurred(env); e.Object() == nil ||
		e.Object().Class().Name != "java/lang/ArrayIndexOutOfBoundsException" {
		t.Error("out of range region should raise ArrayIndexOutOfBoundsException")
	}
	env.ExceptionClear(env)

	doubles := env.NewDoubleArray(env, 2)
	env.SetDoubleArrayRegion(env, doubles, 0, []float64{1.5, -2})
	d := env.GetDoubleArrayElements(env, doubles)
	if len(d) != 2 || d[0] != 1.5 || d[1] != -2 {
		t.Errorf("doubles = %v", d)
	}

	strCls := env.FindClass(env, NameString)
	hello := env.NewStringUTF(env, "hi")
	objs := env.NewObjectArray(env, 3, strCls, hello)
	if env.GetArrayLength(env, objs) != 3 {
		t.Errorf("GetArrayLength = %d", env.GetArrayLength(env, objs))
	}
	if !env.IsSameObject(env, env.GetObjectArrayElement(env, objs, 2), hello) {
		t.Error("NewObjectArray should fill with the initial element")
	}
	env.SetObjectArrayElement(env, objs, 0, env.NewIntArray(env, 1))
	if e := env.ExceptionOccurred(env); e.Object() == nil ||
		e.Object().Class().Name != "java/lang/ArrayStoreException" {
		t.Error("storing an int[] into a String[] should raise ArrayStoreException")
	}
	env.ExceptionClear(env)

	if !env.NewIntArray(env, -1).IsNull() || !env.ExceptionCheck(env) {
		t.Error("negative length should raise")
	}
	env.ExceptionClear(env)
}

func TestJNIThrowNew(t *testing.T) {
	m := newTestMachine(t, nil, nil)
	env := m.Env(m.t)

	cls := env.FindClass(env, "java/lang/IllegalStateException")
	if env.ThrowNew(env, cls, "bad state") != JNIOk {
		t.Fatal("ThrowNew failed")
	}
	e := env.ExceptionOccurred(env).Object()
	if e == nil || e.Class().Name != "java/lang/IllegalStateException" {
		t.Fatalf("pending = %v", e)
	}
	if m.StringValue(m.ThrowableMessage(e)) != "bad state" {
		t.Error("message lost")
	}
	env.ExceptionClear(env)

	if env.Throw(env, Ref{}) != JNIErr {
		t.Error("Throw(null) should fail")
	}
}

func TestJNIMonitors(t *testing.T) {
	m := newTestMachine(t, nil, nil)
	env := m.Env(m.t)

	o := env.NewStringUTF(env, "lock")
	if env.MonitorEnter(env, o) != JNIOk {
		t.Fatal("MonitorEnter failed")
	}
	if !m.HoldsLock(m.t, o.Object()) {
		t.Error("MonitorEnter should take the monitor")
	}
	if env.MonitorExit(env, o) != JNIOk {
		t.Fatal("MonitorExit failed")
	}
	if env.MonitorExit(env, o) != JNIErr || !env.ExceptionCheck(env) {
		t.Error("exiting an unowned monitor should raise IllegalMonitorStateException")
	}
	env.ExceptionClear(env)
}

func TestJNIRegisterNatives(t *testing.T) {
	m := newTestMachine(t, nil, jniFinder())
	env := m.Env(m.t)
	cls := env.FindClass(env, "p/Counter")

	var receiver string
	rc := env.RegisterNatives(env, cls, []JNINativeMethod{
		{Name: "add", Signature: "(II)I", Fn: func(env *JNIEnv, this Ref, args []JValue) (JValue, error) {
			if c, ok := ClassOf(this.Object()); ok {
				receiver = c.Name
			}
			return JInt(args[0].Int() + args[1].Int()), nil
		}},
		{Name: "fail", Signature: "(Ljava/lang/String;)V", Fn: JNINative(func(env *JNIEnv, _ Ref, args []JValue) (JValue, error) {
			ise := env.FindClass(env, "java/lang/IllegalStateException")
			env.ThrowNew(env, ise, env.GetStringUTFChars(env, args[0].L))
			return JValue{}, nil
		})},
		{Name: "scale", Signature: "(D)D", Fn: AvianNative(func(t *Thread, _ *Method, a *Arguments) (Value, error) {
			this := a.Object(0)
			return DoubleValue(a.Double(1) * float64(len(this.Class().Name))), nil
		})},
	})
	if rc != JNIOk {
		t.Fatalf("RegisterNatives: %v", env.Err())
	}

	add := env.GetStaticMethodID(env, cls, "add", "(II)I")
	if got := env.CallStaticIntMethodA(env, cls, add, []JValue{JInt(2), JInt(40)}); got != 42 {
		t.Errorf("add = %d, want 42", got)
	}
	if env.ExceptionCheck(env) {
		t.Fatalf("unexpected exception: %v", env.Err())
	}
	if receiver != "p/Counter" {
		t.Errorf("static native receiver = %q, want the class", receiver)
	}

	fail := env.GetStaticMethodID(env, cls, "fail", "(Ljava/lang/String;)V")
	env.CallStaticVoidMethodA(env, cls, fail, []JValue{JObject(env.NewStringUTF(env, "nope"))})
	e := env.ExceptionOccurred(env).Object()
	if e == nil || e.Class().Name != "java/lang/IllegalStateException" {
		t.Fatalf("pending = %v, want IllegalStateException", e)
	}
	if m.StringValue(m.ThrowableMessage(e)) != "nope" {
		t.Error("exception message lost across the native boundary")
	}
	env.ExceptionClear(env)

	obj := env.AllocObject(env, cls)
	scale := env.GetMethodID(env, cls, "scale", "(D)D")
	if got := env.CallDoubleMethodA(env, obj, scale, []JValue{JDouble(0.5)}); got != 4.5 {
		t.Errorf("scale = %v, want 4.5", got)
	}

	if env.UnregisterNatives(env, cls) != JNIOk {
		t.Fatal("UnregisterNatives failed")
	}
	env.CallStaticIntMethodA(env, cls, add, []JValue{JInt(1), JInt(1)})
	if e := env.ExceptionOccurred(env).Object(); e == nil || e.Class().Name != "java/lang/UnsatisfiedLinkError" {
		t.Errorf("call after unregister raised %v", e)
	}
	env.ExceptionClear(env)

	rc = env.RegisterNatives(env, cls, []JNINativeMethod{{Name: "missing", Signature: "()V", Fn: JNINative(nil)}})
	if rc != JNIErr {
		t.Error("registering an undeclared native should fail")
	}
	env.ExceptionClear(env)
}

func TestJavaVMGetEnv(t *testing.T) {
	m := newTestMachine(t, nil, nil)
	vm := m.JavaVM()

	env, rc := vm.GetEnv(JNIVersion1_6)
	if rc != JNIOk || env != m.Env(m.t) {
		t.Errorf("GetEnv = %v, %d", env, rc)
	}
	if _, rc := vm.GetEnv(0x00090000); rc != JNIEVersion {
		t.Errorf("GetEnv(bad version) = %d, want JNIEVersion", rc)
	}
	if env.GetJavaVM(env) == nil {
		t.Error("GetJavaVM returned nil")
	}

	done := make(chan int)
	go func() {
		if _, rc := vm.GetEnv(JNIVersion1_6); rc != JNIEDetached {
			done <- rc
			return
		}
		env, rc := vm.AttachCurrentThreadAsDaemon("helper")
		if rc != JNIOk || env == nil {
			done <- rc
			return
		}
		done <- vm.DetachCurrentThread()
	}()
	if rc := <-done; rc != JNIOk {
		t.Errorf("attach/detach from a new goroutine = %d", rc)
	}
}
