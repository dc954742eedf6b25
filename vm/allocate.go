package vm

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

// AllocationType is where a cell comes from.
type AllocationType int

const (
	MovableAllocation AllocationType = iota
	FixedAllocation
	ImmortalAllocation
)

// Allocate returns a zeroed cell of sizeInBytes whose class is class.
// Small cells come from the thread's arena without locking; the slow path
// may collect, and raises OutOfMemoryError only after a major collection
// failed to bring the heap under its limit.
func (m *Machine) Allocate(t *Thread, class *Class, sizeInBytes int, hasObjectMask bool) (*Object, error) {
	size := padToWord(max(sizeInBytes, BytesPerWord))
	if t.hasArena && !t.HasFlag(UseBackupHeapFlag) &&
		t.heapIndex+size <= ThreadHeapSizeInBytes && m.exclusive.Load() == nil {
		return m.allocateSmall(t, class, size, hasObjectMask), nil
	}
	typ := MovableAllocation
	if size > ThreadHeapSizeInBytes {
		typ = FixedAllocation
	}
	return m.allocate3(t, typ, class, size, hasObjectMask)
}

// AllocateImmortal returns a fixed cell the collector never reclaims.
func (m *Machine) AllocateImmortal(t *Thread, class *Class, sizeInBytes int, hasObjectMask bool) (*Object, error) {
	return m.allocate3(t, ImmortalAllocation, class, padToWord(max(sizeInBytes, BytesPerWord)), hasObjectMask)
}

func (m *Machine) newCell(t *Thread, class *Class, size int, hasObjectMask bool) *Object {
	o := newObject(class, size, hasObjectMask, m.nextObjectID())
	t.allocated = append(t.allocated, o)
	return o
}

func (m *Machine) allocateSmall(t *Thread, class *Class, size int, hasObjectMask bool) *Object {
	expect(t.heapIndex+size <= ThreadHeapSizeInBytes, "arena overflow")
	t.heapIndex += size
	return m.newCell(t, class, size, hasObjectMask)
}

func (m *Machine) allocate3(t *Thread, typ AllocationType, class *Class, size int, hasObjectMask bool) (*Object, error) {
	if t.HasFlag(UseBackupHeapFlag) {
		expect(t.backupHeapIndex+size <= ThreadBackupHeapSizeInBytes, "backup heap overflow")
		t.backupHeapIndex += size
		return m.newCell(t, class, size, hasObjectMask), nil
	}
	if t.HasFlag(TracingFlag) {
		return m.allocateSmall(t, class, size, hasObjectMask), nil
	}

	// give a thread waiting for exclusive state its chance
	if ex := m.exclusive.Load(); ex != nil && ex != t {
		t.Enter(IdleState)
		t.Enter(ActiveState)
	}

	unlock := t.acquire(&m.heapLock)
	defer unlock()

	for {
		pending := 0
		switch typ {
		case MovableAllocation:
			if !t.hasArena || t.heapIndex+size > ThreadHeapSizeInBytes {
				t.hasArena = false
				if !m.heap.LimitExceeded(0) && m.heapPoolIndex < ThreadHeapPoolSize &&
					m.heap.TryAllocate(ThreadHeapSizeInBytes) {
					m.heapPoolIndex++
					t.hasArena = true
					t.heapIndex = 0
				} else {
					pending = ThreadHeapSizeInBytes
				}
			}
		case FixedAllocation:
			if m.fixedFootprint+size > FixedFootprintThresholdInBytes || m.heap.LimitExceeded(size) {
				pending = size
			}
		case ImmortalAllocation:
		}

		if pending == 0 {
			break
		}
		m.collect(t, MinorCollection, pending)
		if m.heap.LimitExceeded(pending) {
			log.Warningf("heap limit of %d bytes exceeded allocating %d bytes", m.heap.Limit(), size)
			return nil, m.throwOutOfMemory(t)
		}
		if typ != MovableAllocation {
			break
		}
	}

	switch typ {
	case MovableAllocation:
		return m.allocateSmall(t, class, size, hasObjectMask), nil
	default:
		o := newObject(class, size, hasObjectMask, m.nextObjectID())
		total := m.heap.AllocateFixed(o, typ == ImmortalAllocation)
		if typ == FixedAllocation {
			m.fixedFootprint += total
		}
		return o, nil
	}
}

// Ensure makes room for a cell of sizeInBytes in a region that must not
// collect. When the arena is full, a small request switches the thread to
// its backup arena until the next collection; a large one reports false.
func (m *Machine) Ensure(t *Thread, sizeInBytes int) bool {
	size := padToWord(sizeInBytes)
	if t.hasArena && t.heapIndex+size <= ThreadHeapSizeInBytes {
		return true
	}
	if size > ThreadBackupHeapSizeInBytes {
		return false
	}
	if !t.HasFlag(UseBackupHeapFlag) {
		t.setFlag(UseBackupHeapFlag)
	}
	return t.backupHeapIndex+size <= ThreadBackupHeapSizeInBytes
}

// releaseArena drops t's arena and absorbs its cells into the heap.
func (m *Machine) releaseArena(t *Thread) {
	unlock := t.acquire(&m.heapLock)
	defer unlock()
	for _, o := range t.allocated {
		m.heap.Track(o)
	}
	t.allocated = nil
	t.hasArena = false
	t.heapIndex = 0
}

// ---------------------------------------------------------------------------
// Typed construction
// ---------------------------------------------------------------------------

// Make allocates an instance of class, registering it as a weak
// reference or finalizable object as the class requires.
func (m *Machine) Make(t *Thread, class *Class) (*Object, error) {
	o, err := m.Allocate(t, class, class.FixedSize, class.ObjectMask != nil)
	if err != nil {
		return nil, err
	}
	if class.HasVMFlag(WeakReferenceFlag) {
		unlock := t.acquire(&m.referenceLock)
		m.weakReferences = append(m.weakReferences, o)
		unlock()
	}
	if class.HasVMFlag(HasFinalizerFlag) {
		m.AddFinalizer(t, o, nil)
	}
	return o, nil
}

// MakeArray allocates an array of class with length elements.
func (m *Machine) MakeArray(t *Thread, class *Class, length int) (*Object, error) {
	if length < 0 {
		return nil, m.throwNew(t, NegativeArraySizeExceptionType, "%d", length)
	}
	expect(class.IsArray(), "array allocation of a non-array class")
	o, err := m.Allocate(t, class, class.FixedSize+length*class.ArrayElementSize, class.ObjectMask != nil)
	if err != nil {
		return nil, err
	}
	o.setArrayLength(length)
	return o, nil
}

// MakeArrayOf resolves the array class for elements of element and
// allocates one.
func (m *Machine) MakeArrayOf(t *Thread, element *Class, length int) (*Object, error) {
	ac, err := m.ArrayClassOf(t, element)
	if err != nil {
		return nil, err
	}
	return m.MakeArray(t, ac, length)
}

// ArrayClassOf returns the class of arrays of element.
func (m *Machine) ArrayClassOf(t *Thread, element *Class) (*Class, error) {
	var name string
	switch {
	case element.IsPrimitive():
		name = "[" + primitiveSpecOf(element)
	case element.IsArray():
		name = "[" + element.Name
	default:
		name = "[L" + element.Name + ";"
	}
	loader := element.Loader
	if loader == nil {
		loader = m.BootLoader
	}
	return m.ResolveClass(t, loader, name, true, NoClassDefFoundErrorType)
}

func primitiveSpecOf(c *Class) string {
	for spec, name := range primitiveSpecs {
		if name == c.Name {
			return string(spec)
		}
	}
	Abort("unknown primitive class %s", c.Name)
	return ""
}

// Clone returns a shallow copy of o. The copy has a fresh identity.
func (m *Machine) Clone(t *Thread, o *Object) (*Object, error) {
	class := o.Class()
	c, err := m.Allocate(t, class, o.SizeInBytes(), o.HasObjectMask())
	if err != nil {
		return nil, err
	}
	for i := 1; i < len(o.words); i++ {
		c.words[i] = o.loadBits(i*BytesPerWord, BytesPerWord)
	}
	o.ForEachRef(func(i int, r *Object) {
		c.refs[i].Store(r)
	})
	if class.HasVMFlag(WeakReferenceFlag) {
		unlock := t.acquire(&m.referenceLock)
		m.weakReferences = append(m.weakReferences, c)
		unlock()
	}
	if class.HasVMFlag(HasFinalizerFlag) {
		m.AddFinalizer(t, c, nil)
	}
	return c, nil
}

// ObjectHash returns o's identity hash, which stays stable for o's
// lifetime.
func (m *Machine) ObjectHash(t *Thread, o *Object) int32 {
	return objectHash(o)
}
