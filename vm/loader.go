package vm

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Finder: where class bytes come from
// ---------------------------------------------------------------------------

// Finder locates named resources. Find returns an error wrapping
// fs.ErrNotExist when the resource is absent.
type Finder interface {
	Find(name string) (data []byte, source string, err error)
	Close() error
}

// ---------------------------------------------------------------------------
// Loader
// ---------------------------------------------------------------------------

var loaderIDs atomic.Uint64

// Loader is a class loader: a name space of classes with an optional
// parent for delegation and a Finder for class bytes. The class map is
// guarded by the machine's classLock.
type Loader struct {
	Name   string
	Parent *Loader
	Finder Finder

	id      uint64
	classes map[string]*Class
	peer    atomic.Pointer[Object]
}

// NewLoader creates a loader that delegates to parent first.
func NewLoader(name string, parent *Loader, finder Finder) *Loader {
	return &Loader{
		Name:    name,
		Parent:  parent,
		Finder:  finder,
		id:      loaderIDs.Add(1),
		classes: make(map[string]*Class),
	}
}

func (l *Loader) String() string {
	return l.Name
}

// ---------------------------------------------------------------------------
// Resolution
// ---------------------------------------------------------------------------

// FindLoadedClass returns a class already defined by loader, without
// loading anything.
func (m *Machine) FindLoadedClass(t *Thread, loader *Loader, name string) *Class {
	if loader == nil {
		loader = m.BootLoader
	}
	unlock := t.acquire(&m.classLock)
	defer unlock()
	return loader.classes[name]
}

// ResolveClass finds or loads a class. When the class cannot be found it
// raises throwType if throw_ is set and otherwise returns (nil, nil).
// Format and link errors are always returned. A failed load leaves
// nothing registered in the loader.
func (m *Machine) ResolveClass(t *Thread, loader *Loader, name string, throw_ bool, throwType ThrowType) (*Class, error) {
	if loader == nil {
		loader = m.BootLoader
	}
	c, err := m.resolveClass(t, loader, name, throwType)
	if err != nil {
		return nil, err
	}
	if c == nil && throw_ {
		return nil, m.throwNew(t, throwType, "%s", strings.ReplaceAll(name, "/", "."))
	}
	return c, nil
}

func (m *Machine) resolveClass(t *Thread, loader *Loader, name string, throwType ThrowType) (*Class, error) {
	if name == "" {
		return nil, nil
	}
	if c := m.FindLoadedClass(t, loader, name); c != nil {
		return c, nil
	}
	if name[0] == '[' {
		return m.resolveArrayClass(t, loader, name, throwType)
	}
	if loader.Parent != nil {
		c, err := m.resolveClass(t, loader.Parent, name, throwType)
		if err != nil || c != nil {
			return c, err
		}
	}

	for _, pending := range t.resolving {
		if pending == name {
			return nil, m.throwNew(t, ClassCircularityErrorType, "%s", name)
		}
	}

	key := fmt.Sprintf("%d:%s", loader.id, name)
	if m.awaitLoad(t, key) {
		return nil, m.throwNew(t, ClassCircularityErrorType, "%s", name)
	}
	defer m.endAwait(t)

	// threads waiting on another thread's load of the same name stay idle
	// so a bootstrap update can still reach exclusive state
	idle := t.State() == ActiveState
	if idle {
		t.Enter(IdleState)
	}
	v, err, _ := m.resolveGroup.Do(key, func() (any, error) {
		if idle {
			t.Enter(ActiveState)
			defer t.Enter(IdleState)
		}
		m.beginLoad(t, key)
		defer m.endLoad(t, key)
		t.resolving = append(t.resolving, name)
		defer func() { t.resolving = t.resolving[:len(t.resolving)-1] }()
		return m.loadClass(t, loader, name, throwType)
	})
	if idle {
		t.Enter(ActiveState)
	}
	if err != nil {
		return nil, err
	}
	c, _ := v.(*Class)
	return c, nil
}

// awaitLoad records that t is about to wait for key and reports whether
// that would close a cycle: the thread loading key is, through the loads
// it waits on in turn, waiting for t. Two threads loading classes that
// extend each other end up here instead of in singleflight forever.
func (m *Machine) awaitLoad(t *Thread, key string) bool {
	m.resolveLock.Lock()
	defer m.resolveLock.Unlock()
	t.awaiting = key
	seen := map[*Thread]bool{}
	for k := key; k != ""; {
		owner := m.resolvers[k]
		if owner == nil || seen[owner] {
			return false
		}
		if owner == t {
			t.awaiting = ""
			return true
		}
		seen[owner] = true
		k = owner.awaiting
	}
	return false
}

func (m *Machine) endAwait(t *Thread) {
	m.resolveLock.Lock()
	t.awaiting = ""
	m.resolveLock.Unlock()
}

// beginLoad marks t as the thread loading key. It no longer waits on it.
func (m *Machine) beginLoad(t *Thread, key string) {
	m.resolveLock.Lock()
	defer m.resolveLock.Unlock()
	if m.resolvers == nil {
		m.resolvers = make(map[string]*Thread)
	}
	m.resolvers[key] = t
	t.awaiting = ""
}

func (m *Machine) endLoad(t *Thread, key string) {
	m.resolveLock.Lock()
	defer m.resolveLock.Unlock()
	if m.resolvers[key] == t {
		delete(m.resolvers, key)
	}
}

// loadClass reads name from the loader's finder, links it and registers
// it. Classes not found in the boot finder fall back to the hand-built
// bootstrap definition.
func (m *Machine) loadClass(t *Thread, loader *Loader, name string, throwType ThrowType) (*Class, error) {
	if c := m.FindLoadedClass(t, loader, name); c != nil {
		return c, nil
	}
	bootstrap := m.bootstrapClass(loader, name)

	var data []byte
	var source string
	if loader.Finder != nil {
		var err error
		data, source, err = loader.Finder.Find(name + ".class")
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("finding %s: %w", name, err)
		}
	}
	if data == nil {
		if bootstrap != nil {
			return m.registerClass(t, loader, bootstrap), nil
		}
		return nil, nil
	}

	c, err := m.ParseClass(t, loader, data, throwType)
	if err != nil {
		log.Debugf("could not load %s: %s", name, err)
		return nil, err
	}
	if c.Name != name {
		return nil, m.throwNew(t, NoClassDefFoundErrorType, "%s (wrong name: %s)", name, c.Name)
	}
	c.Source = source

	if bootstrap != nil {
		if err := m.updateBootstrapClass(t, bootstrap, c); err != nil {
			return nil, err
		}
		c = bootstrap
	}
	return m.registerClass(t, loader, c), nil
}

// registerClass publishes c in loader's map unless another thread won the
// race, in which case the earlier definition is returned.
func (m *Machine) registerClass(t *Thread, loader *Loader, c *Class) *Class {
	unlock := t.acquire(&m.classLock)
	defer unlock()
	if existing := loader.classes[c.Name]; existing != nil {
		return existing
	}
	if c.Loader == nil {
		c.Loader = loader
	}
	loader.classes[c.Name] = c
	return c
}

func (m *Machine) bootstrapClass(loader *Loader, name string) *Class {
	if loader != m.BootLoader {
		return nil
	}
	return m.bootstrapClasses[name]
}

// DefineClass parses data and registers the result with loader, failing
// if the name is already taken.
func (m *Machine) DefineClass(t *Thread, loader *Loader, data []byte) (*Class, error) {
	if loader == nil {
		loader = m.BootLoader
	}
	c, err := m.ParseClass(t, loader, data, NoClassDefFoundErrorType)
	if err != nil {
		return nil, err
	}
	if existing := m.FindLoadedClass(t, loader, c.Name); existing != nil {
		return nil, m.throwNew(t, LinkageErrorType, "duplicate class definition: %s", c.Name)
	}
	if bootstrap := m.bootstrapClass(loader, c.Name); bootstrap != nil {
		if err := m.updateBootstrapClass(t, bootstrap, c); err != nil {
			return nil, err
		}
		c = bootstrap
	}
	return m.registerClass(t, loader, c), nil
}

// ---------------------------------------------------------------------------
// Array classes
// ---------------------------------------------------------------------------

func (m *Machine) resolveArrayClass(t *Thread, loader *Loader, name string, throwType ThrowType) (*Class, error) {
	if len(name) < 2 {
		return nil, nil
	}
	elementSpec := name[1:]
	var element *Class
	if code, ok := FieldCodeOf(elementSpec[0]); ok && code != ObjectField {
		if len(elementSpec) != 1 || code == VoidField {
			return nil, nil
		}
		element = m.PrimitiveClass(elementSpec[0])
		loader = m.BootLoader
	} else {
		elementName := ClassNameOfSpec(elementSpec)
		if elementName == elementSpec && elementSpec[0] != '[' {
			return nil, nil
		}
		e, err := m.resolveClass(t, loader, elementName, throwType)
		if err != nil || e == nil {
			return nil, err
		}
		element = e
		if e.Loader != nil {
			loader = e.Loader
		}
	}
	return m.registerClass(t, loader, m.makeArrayClass(name, element, loader)), nil
}

// makeArrayClass builds the class for arrays of element. Arrays share
// java/lang/Object's vtable.
func (m *Machine) makeArrayClass(name string, element *Class, loader *Loader) *Class {
	c := m.newClass(name, loader)
	c.AccessFlags = AccPublic | AccFinal | AccAbstract
	obj := m.types.Object
	c.Super = obj
	c.VTable = obj.VTable
	c.Interfaces = []*Class{m.types.Cloneable, m.types.Serializable}
	c.InterfaceVTables = [][]*Method{nil, nil}
	c.FixedSize = ArrayBody
	c.ElementClass = element
	c.ArrayDimensions = element.ArrayDimensions + 1
	if element.IsPrimitive() {
		code, _ := FieldCodeOf(name[1])
		c.ArrayElementSize = code.Size()
	} else {
		c.ArrayElementSize = BytesPerWord
		c.ObjectMask = NewBitset(ArrayBody/BytesPerWord + 1)
		c.ObjectMask.Set(ArrayBody / BytesPerWord)
	}
	c.setVMFlag(LinkFlag | InitFlag)
	c.setState(ClassInitialized)
	return c
}

// ---------------------------------------------------------------------------
// Member resolution
// ---------------------------------------------------------------------------

// FindMethodInClass searches c and its superclasses, then its interfaces.
func FindMethodInClass(c *Class, name, spec string) *Method {
	for k := c; k != nil; k = k.Super {
		if m := k.FindMethod(name, spec); m != nil {
			return m
		}
	}
	for _, i := range c.Interfaces {
		if m := i.FindMethod(name, spec); m != nil {
			return m
		}
	}
	return nil
}

// FindFieldInClass searches c, its interfaces, then its superclasses.
func FindFieldInClass(c *Class, name, spec string) *Field {
	for k := c; k != nil; k = k.Super {
		if f := k.FindField(name, spec); f != nil {
			return f
		}
		for _, i := range k.Interfaces {
			if f := i.FindField(name, spec); f != nil {
				return f
			}
		}
	}
	return nil
}

// ResolveMethod finds a method in c's hierarchy, raising
// NoSuchMethodError when throw_ is set.
func (m *Machine) ResolveMethod(t *Thread, c *Class, name, spec string, throw_ bool) (*Method, error) {
	if method := FindMethodInClass(c, name, spec); method != nil {
		return method, nil
	}
	if throw_ {
		return nil, m.throwNew(t, NoSuchMethodErrorType, "%s %s not found in %s", name, spec, c.Name)
	}
	return nil, nil
}

// ResolveField finds a field in c's hierarchy, raising NoSuchFieldError
// when throw_ is set.
func (m *Machine) ResolveField(t *Thread, c *Class, name, spec string, throw_ bool) (*Field, error) {
	if f := FindFieldInClass(c, name, spec); f != nil {
		return f, nil
	}
	if throw_ {
		return nil, m.throwNew(t, NoSuchFieldErrorType, "%s %s not found in %s", name, spec, c.Name)
	}
	return nil, nil
}

// ResolveMethodByName resolves class, then method, through loader.
func (m *Machine) ResolveMethodByName(t *Thread, loader *Loader, className, name, spec string) (*Method, error) {
	c, err := m.ResolveClass(t, loader, className, true, NoClassDefFoundErrorType)
	if err != nil {
		return nil, err
	}
	return m.ResolveMethod(t, c, name, spec, true)
}

// ---------------------------------------------------------------------------
// Class initialization
// ---------------------------------------------------------------------------

// InitClass runs static initializers for c and its superclasses once.
// A thread re-entering its own initialization returns immediately; other
// threads wait on the class monitor until it finishes.
func (m *Machine) InitClass(t *Thread, c *Class) error {
	if !c.HasVMFlag(NeedInitFlag) || c.HasVMFlag(InitFlag) {
		return nil
	}
	if c.HasVMFlag(InitErrorFlag) {
		return m.throwNew(t, NoClassDefFoundErrorType, "%s (initialization failed)", c.JavaName())
	}

	lock := c.AsObject()
	if err := m.Acquire(t, lock); err != nil {
		return err
	}
	for {
		if c.HasVMFlag(InitFlag) {
			return m.Release(t, lock)
		}
		if c.HasVMFlag(InitErrorFlag) {
			if err := m.Release(t, lock); err != nil {
				return err
			}
			return m.throwNew(t, NoClassDefFoundErrorType, "%s (initialization failed)", c.JavaName())
		}
		owner := c.initOwner.Load()
		if owner == t {
			return m.Release(t, lock)
		}
		if owner == nil {
			break
		}
		if err := m.Wait(t, lock, 0); err != nil {
			_ = m.Release(t, lock)
			return err
		}
	}
	c.initOwner.Store(t)
	if err := m.Release(t, lock); err != nil {
		return err
	}

	err := m.runInitializers(t, c)

	if aerr := m.Acquire(t, lock); aerr != nil {
		return aerr
	}
	if err != nil {
		c.setVMFlag(InitErrorFlag)
		c.setState(ClassInitError)
	} else {
		c.setVMFlag(InitFlag)
		c.setState(ClassInitialized)
	}
	c.initOwner.Store(nil)
	if nerr := m.NotifyAll(t, lock); nerr != nil {
		return nerr
	}
	if rerr := m.Release(t, lock); rerr != nil {
		return rerr
	}
	if err != nil {
		return m.wrapInitError(t, c, err)
	}
	return nil
}

func (m *Machine) runInitializers(t *Thread, c *Class) error {
	if c.Super != nil && !c.IsInterface() {
		if err := m.InitClass(t, c.Super); err != nil {
			return err
		}
	}
	clinit := c.FindMethod("<clinit>", "()V")
	if clinit == nil {
		return nil
	}
	_, err := m.processor.Invoke(t, clinit, nil, nil)
	return err
}

// wrapInitError turns a failure in <clinit> into
// ExceptionInInitializerError, keeping Errors as they are.
func (m *Machine) wrapInitError(t *Thread, c *Class, err error) error {
	var te *ThrowableError
	if errors.As(err, &te) {
		if errClass := m.types.byName("java/lang/Error"); errClass != nil && InstanceOf(errClass, te.Throwable) {
			return err
		}
		return m.throwNewCause(t, ExceptionInInitializerErrorType, te.Throwable, "%s", c.JavaName())
	}
	return m.throwNew(t, ExceptionInInitializerErrorType, "%s: %s", c.JavaName(), err)
}
