package vm

import (
	"sync"
	"testing"
	"unsafe"
)

// ---------------------------------------------------------------------------
// Allocation invariants
// ---------------------------------------------------------------------------

// checkCell verifies the header of a freshly allocated cell.
func checkCell(tb testing.TB, o *Object, want *Class) {
	tb.Helper()
	c := o.Class()
	if c == nil {
		tb.Fatal("allocated object has no class")
	}
	if c != want {
		tb.Fatalf("class = %s, want %s", c.Name, want.Name)
	}
	if uintptr(unsafe.Pointer(c))%unsafe.Alignof(uintptr(0)) != 0 {
		tb.Fatalf("class pointer %p is not word aligned", c)
	}
	if o.SizeInBytes()%BytesPerWord != 0 {
		tb.Fatalf("size %d is not a whole number of words", o.SizeInBytes())
	}
}

func TestAllocationAlignment(t *testing.T) {
	m := newTestMachine(t, nil, nil)
	ts := m.Types()

	for i := 0; i < 1000; i++ {
		o, err := m.Make(m.t, ts.Throwable)
		if err != nil {
			t.Fatalf("Make: %v", err)
		}
		checkCell(t, o, ts.Throwable)

		a, err := m.MakeArray(m.t, ts.CharArray, i%37)
		if err != nil {
			t.Fatalf("MakeArray: %v", err)
		}
		checkCell(t, a, ts.CharArray)
		if a.ArrayLength() != i%37 {
			t.Fatalf("ArrayLength = %d, want %d", a.ArrayLength(), i%37)
		}
	}
}

func TestConcurrentAllocationAlignment(t *testing.T) {
	m := newTestMachine(t, nil, nil, "-Xmx8m")
	ts := m.Types()

	const workers = 4
	var mu sync.Mutex
	var failures []string
	var threads []*Thread
	for w := 0; w < workers; w++ {
		th, err := m.StartThread(m.t, nil, func(t *Thread) error {
			for i := 0; i < 2000; i++ {
				o, err := m.MakeArray(t, ts.ObjectArray, i%16)
				if err != nil {
					return err
				}
				if c := o.Class(); c != ts.ObjectArray || uintptr(unsafe.Pointer(c))%unsafe.Alignof(uintptr(0)) != 0 {
					mu.Lock()
					failures = append(failures, o.String())
					mu.Unlock()
				}
			}
			return nil
		})
		if err != nil {
			t.Fatalf("StartThread: %v", err)
		}
		threads = append(threads, th)
	}
	for _, th := range threads {
		m.t.Join(th)
	}
	if len(failures) > 0 {
		t.Errorf("%d cells observed with a bad class pointer, first %s", len(failures), failures[0])
	}
}

// ---------------------------------------------------------------------------
// Field storage
// ---------------------------------------------------------------------------

func TestFieldsShareWordsWithoutTearing(t *testing.T) {
	app := mapFinder{}.add(newClassBuilder("p/Packed", NameObject).
		field(AccPublic, "b", "B").
		field(AccPublic, "z", "Z").
		field(AccPublic, "s", "S").
		field(AccPublic, "i", "I").
		field(AccPublic, "j", "J").
		field(AccPublic, "o", "Ljava/lang/Object;"))
	m := newTestMachine(t, nil, app)

	c, err := m.ResolveClass(m.t, m.AppLoader, "p/Packed", true, NoClassDefFoundErrorType)
	if err != nil {
		t.Fatalf("ResolveClass: %v", err)
	}
	offsets := map[string]int{}
	for _, f := range c.Fields {
		offsets[f.Name] = f.Offset
		if f.Offset%f.Code.Size() != 0 {
			t.Errorf("field %s at %d is not naturally aligned", f.Name, f.Offset)
		}
	}
	want := map[string]int{"b": 8, "z": 9, "s": 10, "i": 12, "j": 16, "o": 24}
	for name, off := range want {
		if offsets[name] != off {
			t.Errorf("offset of %s = %d, want %d", name, offsets[name], off)
		}
	}
	if c.FixedSize != 32 {
		t.Errorf("FixedSize = %d, want 32", c.FixedSize)
	}
	if c.ObjectMask == nil || !c.ObjectMask.Test(3) || c.ObjectMask.Test(2) {
		t.Error("object mask should mark only word 3")
	}

	o, err := m.Make(m.t, c)
	if err != nil {
		t.Fatalf("Make: %v", err)
	}
	o.SetInt8(want["b"], -1)
	o.SetInt8(want["z"], 1)
	o.SetInt16(want["s"], -2)
	o.SetInt32(want["i"], 0x01020304)
	o.SetInt64(want["j"], -3)
	o.SetRef(want["o"], o)

	if got := o.GetInt8(want["b"]); got != -1 {
		t.Errorf("b = %d, want -1", got)
	}
	if got := o.GetInt8(want["z"]); got != 1 {
		t.Errorf("z = %d, want 1", got)
	}
	if got := o.GetInt16(want["s"]); got != -2 {
		t.Errorf("s = %d, want -2", got)
	}
	if got := o.GetInt32(want["i"]); got != 0x01020304 {
		t.Errorf("i = %#x, want 0x01020304", got)
	}
	if got := o.GetInt64(want["j"]); got != -3 {
		t.Errorf("j = %d, want -3", got)
	}
	if o.GetRef(want["o"]) != o {
		t.Error("reference field lost its value")
	}
}

func TestArrayElements(t *testing.T) {
	m := newTestMachine(t, nil, nil)

	a, err := m.MakeArrayOf(m.t, m.PrimitiveClass('J'), 4)
	if err != nil {
		t.Fatalf("MakeArrayOf: %v", err)
	}
	if a.Class().Name != "[J" {
		t.Errorf("class = %s, want [J", a.Class().Name)
	}
	for i := 0; i < 4; i++ {
		a.SetInt64(ArrayElementOffset(8, i), int64(i)*-10)
	}
	for i := 0; i < 4; i++ {
		if got := a.GetInt64(ArrayElementOffset(8, i)); got != int64(i)*-10 {
			t.Errorf("element %d = %d, want %d", i, got, int64(i)*-10)
		}
	}

	if _, err := m.MakeArray(m.t, m.Types().IntArray, -1); err == nil {
		t.Error("negative length should fail")
	} else {
		throwable(t, err, "java/lang/NegativeArraySizeException")
	}
}

func TestObjectHashStable(t *testing.T) {
	m := newTestMachine(t, nil, nil)

	o, err := m.Make(m.t, m.Types().Throwable)
	if err != nil {
		t.Fatalf("Make: %v", err)
	}
	release := m.t.Protect(&o)
	defer release()

	h := m.ObjectHash(m.t, o)
	m.Collect(m.t, MinorCollection)
	m.Collect(m.t, MajorCollection)
	if got := m.ObjectHash(m.t, o); got != h {
		t.Errorf("hash changed across collections: %d -> %d", h, got)
	}

	clone, err := m.Clone(m.t, o)
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	if clone == o || clone.ID() == o.ID() {
		t.Error("clone should have its own identity")
	}
}
