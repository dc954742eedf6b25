package vm

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sasha-s/go-deadlock"
	"golang.org/x/sync/singleflight"
)

// ---------------------------------------------------------------------------
// Machine
// ---------------------------------------------------------------------------

// Machine is one runtime instance: its heap, loaders, threads and the
// process-wide tables the collector treats as roots.
type Machine struct {
	ID        uuid.UUID
	Options   *Options
	Arguments []string

	heap      Heap
	processor Processor
	natives   *NativeRegistry

	BootLoader       *Loader
	AppLoader        *Loader
	loaders          []*Loader // guarded by classLock
	bootstrapClasses map[string]*Class
	types            Types

	// Lock order: stateLock is innermost. heapLock, classLock and
	// referenceLock are never held together except heapLock around a
	// collection, which reads the others' tables in exclusive state.
	stateLock     deadlock.Mutex
	stateCond     *sync.Cond
	counts        stateCounts
	exclusive     atomic.Pointer[Thread]
	classLock     deadlock.Mutex
	heapLock      deadlock.Mutex
	referenceLock deadlock.Mutex
	shutdownLock  deadlock.Mutex
	resolveGroup  singleflight.Group
	resolveLock   deadlock.Mutex
	resolvers     map[string]*Thread // load key -> loading thread, guarded by resolveLock

	RootThread    *Thread
	threadsByGoid sync.Map // int64 -> *Thread
	alive         atomic.Bool
	objectIDs     atomic.Uint64

	// allocation state, guarded by heapLock
	heapPoolIndex  int
	fixedFootprint int
	collecting     bool

	monitors *monitorMap
	strings  *stringTable

	// guarded by referenceLock; moved only by the collector
	weakReferences        []*Object
	tenuredWeakReferences []*Object
	finalizers            []*finalizer
	tenuredFinalizers     []*finalizer
	finalizeQueue         []*finalizer
	objectsToFinalize     []*Object
	objectsToClean        []*Object

	finalizerThread *finalizerThread
	collector       *Collector

	globalRefs    *refTable
	fieldLocks    *fieldLockTable
	methodIDs     *idTable[*Method]
	fieldIDs      *idTable[*Field]
	shutdownHooks []*Object // guarded by shutdownLock

	roots struct {
		outOfMemoryError *Object
		shutdown         *Object
	}

	// cached layouts, refreshed by refreshLayouts
	referenceTarget int
	referenceQueue  int
	referenceNext   int
	queueFront      int
	daemonField     *Field
	stringFields    stringFields
	throwableFields throwableFields
	threadFields    threadFields

	errorLog     io.Writer
	errorLogFile *os.File
}

// Collaborators are the services a machine is built around. Nil fields
// get defaults: a MarkHeap sized from the options, a NativeProcessor, no
// finders and stderr as the error log.
type Collaborators struct {
	Heap      Heap
	Processor Processor

	BootFinder Finder
	AppFinder  Finder
	// OpenFinder builds a finder for a class path when the matching
	// finder above is nil.
	OpenFinder func(classpath string) (Finder, error)

	Libraries []NativeLibrary
	ErrorLog  io.Writer
}

// CreateJavaVM parses args, builds a machine and boots it. The calling
// goroutine becomes the root thread, returned in ActiveState.
func CreateJavaVM(args []string, c Collaborators) (*Machine, *Thread, error) {
	opts, err := ParseOptions(args)
	if err != nil {
		return nil, nil, err
	}
	deadlock.Opts.Disable = !opts.DeadlockDetection

	if c.Heap == nil {
		c.Heap = NewMarkHeap(opts.HeapLimit)
	}
	if c.Processor == nil {
		c.Processor = NewNativeProcessor()
	}
	if c.BootFinder == nil && c.OpenFinder != nil && opts.BootPath() != "" {
		if c.BootFinder, err = c.OpenFinder(opts.BootPath()); err != nil {
			return nil, nil, fmt.Errorf("opening boot class path: %w", err)
		}
	}
	if c.AppFinder == nil && c.OpenFinder != nil && opts.Classpath != "" {
		if c.AppFinder, err = c.OpenFinder(opts.Classpath); err != nil {
			return nil, nil, fmt.Errorf("opening class path: %w", err)
		}
	}

	m := newMachine(opts, c)
	if opts.ErrorLog != "" {
		f, err := os.OpenFile(opts.ErrorLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening error log: %w", err)
		}
		m.errorLog = f
		m.errorLogFile = f
	}

	t, err := m.start()
	if err != nil {
		return nil, nil, err
	}
	log.Infof("machine %s booted: heap limit %d bytes, boot path %q, class path %q",
		m.ID, m.heap.Limit(), opts.BootPath(), opts.Classpath)
	return m, t, nil
}

func newMachine(opts *Options, c Collaborators) *Machine {
	m := &Machine{
		ID:               uuid.New(),
		Options:          opts,
		Arguments:        opts.Arguments,
		heap:             c.Heap,
		processor:        c.Processor,
		natives:          NewNativeRegistry(),
		bootstrapClasses: make(map[string]*Class),
		monitors:         newMonitorMap(),
		strings:          newStringTable(),
		globalRefs:       newRefTable(),
		fieldLocks:       newFieldLockTable(),
		methodIDs:        newIDTable[*Method](),
		fieldIDs:         newIDTable[*Field](),
		errorLog:         c.ErrorLog,
	}
	if m.errorLog == nil {
		m.errorLog = os.Stderr
	}
	m.stateCond = sync.NewCond(&m.stateLock)
	m.BootLoader = NewLoader("boot", nil, c.BootFinder)
	m.AppLoader = NewLoader("app", m.BootLoader, c.AppFinder)
	m.loaders = []*Loader{m.BootLoader, m.AppLoader}
	registerBuiltinNatives(m.natives)
	for _, lib := range c.Libraries {
		m.natives.AddLibrary(lib)
	}
	m.finalizerThread = newFinalizerThread(m)
	m.alive.Store(true)
	return m
}

// start binds the calling goroutine as the root thread, builds the core
// classes and the preallocated throwables, and starts the daemon threads.
func (m *Machine) start() (*Thread, error) {
	t := newThread(m, nil, nil)
	m.RootThread = t
	t.bind()
	t.Enter(ActiveState)

	m.boot()

	var err error
	if m.roots.outOfMemoryError, err = m.makeImmortal(t, m.types.byName(OutOfMemoryErrorType.ClassName())); err != nil {
		return nil, err
	}
	if m.roots.shutdown, err = m.makeImmortal(t, m.types.Throwable); err != nil {
		return nil, err
	}
	if t.javaThread, err = m.makeJavaThread(t, "main", false); err != nil {
		return nil, err
	}
	t.javaThread.native = t
	m.processor.Boot(t)

	if err := m.finalizerThread.start(t); err != nil {
		return nil, err
	}
	if m.Options.CollectInterval > 0 {
		m.collector = NewCollector(m, m.Options.CollectInterval)
		if err := m.collector.Start(); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// makeImmortal allocates an instance the collector never reclaims.
func (m *Machine) makeImmortal(t *Thread, class *Class) (*Object, error) {
	return m.AllocateImmortal(t, class, class.FixedSize, class.ObjectMask != nil)
}

func (m *Machine) nextObjectID() uint64 {
	return m.objectIDs.Add(1)
}

// Types returns the bootstrap classes.
func (m *Machine) Types() *Types {
	return &m.types
}

// Heap returns the heap service.
func (m *Machine) Heap() Heap {
	return m.heap
}

// Processor returns the execution engine.
func (m *Machine) Processor() Processor {
	return m.processor
}

// Natives returns the native method registry.
func (m *Machine) Natives() *NativeRegistry {
	return m.natives
}

// Alive reports whether the machine has not begun shutting down.
func (m *Machine) Alive() bool {
	return m.alive.Load()
}

// AddLoader registers a user class loader so its classes are collector
// roots.
func (m *Machine) AddLoader(t *Thread, l *Loader) {
	unlock := t.acquire(&m.classLock)
	defer unlock()
	m.loaders = append(m.loaders, l)
}

// mustField returns a declared field of a runtime-known class, aborting
// when the layout lacks it.
func mustField(c *Class, name, spec string) *Field {
	f := c.FindField(name, spec)
	if f == nil {
		Abort("%s lacks field %s %s", c.Name, name, spec)
	}
	return f
}

// ---------------------------------------------------------------------------
// java/lang/Thread peers
// ---------------------------------------------------------------------------

type threadFields struct {
	peer, interrupted, daemon, priority, name, task, classLoader int
}

func (m *Machine) threadLayout() threadFields {
	c := m.types.Thread
	return threadFields{
		peer:        mustField(c, "peer", "J").Offset,
		interrupted: mustField(c, "interrupted", "Z").Offset,
		daemon:      mustField(c, "daemon", "Z").Offset,
		priority:    mustField(c, "priority", "I").Offset,
		name:        mustField(c, "name", "Ljava/lang/String;").Offset,
		task:        mustField(c, "task", "Ljava/lang/Runnable;").Offset,
		classLoader: mustField(c, "classLoader", "Ljava/lang/Object;").Offset,
	}
}

// makeJavaThread allocates a java/lang/Thread peer named name.
func (m *Machine) makeJavaThread(t *Thread, name string, daemon bool) (*Object, error) {
	s, err := m.MakeString(t, name)
	if err != nil {
		return nil, err
	}
	release := t.Protect(&s)
	defer release()

	jt, err := m.Make(t, m.types.Thread)
	if err != nil {
		return nil, err
	}
	jt.SetRef(m.threadFields.name, s)
	jt.SetInt32(m.threadFields.priority, 5)
	if daemon {
		jt.SetInt8(m.threadFields.daemon, 1)
	}
	return jt, nil
}

// ThreadName returns the name of a java/lang/Thread peer.
func (m *Machine) ThreadName(jt *Object) string {
	return m.StringValue(jt.GetRef(m.threadFields.name))
}

// ThreadOf returns the VM thread running a java/lang/Thread peer.
func ThreadOf(jt *Object) (*Thread, bool) {
	if jt == nil {
		return nil, false
	}
	t, ok := jt.native.(*Thread)
	return t, ok
}

// StartJavaThread starts a VM thread running jt.run().
func (m *Machine) StartJavaThread(t *Thread, jt *Object) (*Thread, error) {
	run, err := m.ResolveMethod(t, jt.Class(), "run", "()V", true)
	if err != nil {
		return nil, err
	}
	return m.StartThread(t, jt, func(nt *Thread) error {
		_, err := m.processor.Invoke(nt, FindVirtualMethod(jt.Class(), run), jt, nil)
		return err
	})
}

// ---------------------------------------------------------------------------
// Shutdown
// ---------------------------------------------------------------------------

// AddShutdownHook registers a java/lang/Thread to start on ShutDown.
func (m *Machine) AddShutdownHook(t *Thread, hook *Object) {
	unlock := t.acquire(&m.shutdownLock)
	defer unlock()
	m.shutdownHooks = append(m.shutdownHooks, hook)
}

// ShutDown runs the shutdown hooks to completion, stops the finalizer
// and collector threads, and interrupts daemon threads, which unwind
// with the shutdown sentinel from their next wait.
func (m *Machine) ShutDown(t *Thread) {
	unlock := t.acquire(&m.shutdownLock)
	defer unlock()

	hooks := m.shutdownHooks
	m.shutdownHooks = nil
	var started []*Thread
	for _, h := range hooks {
		ht, err := m.StartJavaThread(t, h)
		if err != nil {
			log.Errorf("starting shutdown hook: %s", err)
			continue
		}
		started = append(started, ht)
	}
	for _, ht := range started {
		t.Join(ht)
	}

	m.finalizerThread.halt(t)
	if m.collector != nil {
		m.collector.Stop(t)
	}

	m.stateLock.Lock()
	m.alive.Store(false)
	var daemons []*Thread
	visitThreads(m.RootThread, func(th *Thread) {
		if th != t && th.HasFlag(DaemonFlag) && !zombified(th) {
			daemons = append(daemons, th)
		}
	})
	m.stateLock.Unlock()
	for _, d := range daemons {
		m.Interrupt(t, d)
	}
	log.Infof("machine %s shut down", m.ID)
}

// JoinAll waits, idle, until t is the last non-daemon thread.
func (m *Machine) JoinAll(t *Thread) {
	restore := t.EnterScoped(IdleState)
	defer restore()
	m.stateLock.Lock()
	defer m.stateLock.Unlock()
	for m.counts.live-m.counts.daemon > 1 {
		m.stateCond.Wait()
	}
}

// Exit ends t. The last live thread turns the machine off: it enters
// ExitState, runs every host finalizer and releases the machine's
// collaborators.
func (t *Thread) Exit() {
	m := t.m
	if st := t.State(); st == ExitState || zombified(t) {
		return
	}
	if st := t.State(); st != ActiveState && st != ExclusiveState {
		t.Enter(ActiveState)
	}
	t.Enter(ExclusiveState)
	m.stateLock.Lock()
	last := m.counts.live == 1
	m.stateLock.Unlock()
	if last {
		m.turnOffTheLights(t)
		return
	}
	t.Enter(ActiveState)
	if t.javaThread != nil {
		t.javaThread.SetInt64(m.threadFields.peer, 0)
	}
	m.exitThread(t)
}

func (m *Machine) turnOffTheLights(t *Thread) {
	t.Enter(ExitState)

	for _, list := range [][]*finalizer{m.finalizers, m.tenuredFinalizers} {
		for _, f := range list {
			if f.fn != nil {
				f.fn(t, f.target)
			}
		}
	}
	m.finalizers = nil
	m.tenuredFinalizers = nil

	m.Dispose()
	log.Infof("machine %s exited", m.ID)
}

// Dispose releases the finders, native libraries and error log.
func (m *Machine) Dispose() {
	m.classLock.Lock()
	loaders := m.loaders
	m.classLock.Unlock()
	for _, l := range loaders {
		if l.Finder != nil {
			if err := l.Finder.Close(); err != nil {
				log.Warningf("closing finder of loader %s: %s", l.Name, err)
			}
		}
	}
	m.natives.Close()
	m.processor.Dispose()
	if m.errorLogFile != nil {
		if err := m.errorLogFile.Close(); err != nil {
			log.Warningf("closing error log: %s", err)
		}
		m.errorLogFile = nil
		m.errorLog = os.Stderr
	}
}

// Dispose frees t's arenas. Threads ended by Exit are already disposed.
func (t *Thread) Dispose() {
	if t.HasFlag(DisposeFlag) {
		return
	}
	t.setFlag(DisposeFlag)
	t.allocated = nil
	t.hasArena = false
	t.protectors = nil
	t.resources = nil
}
