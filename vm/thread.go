package vm

import (
	"runtime"
	"sync/atomic"

	"github.com/petermattis/goid"
)

// ---------------------------------------------------------------------------
// Thread
// ---------------------------------------------------------------------------

// ThreadFlags are per-thread bits, updated atomically.
type ThreadFlags uint32

const (
	UseBackupHeapFlag ThreadFlags = 1 << iota
	WaitingFlag
	TracingFlag
	DaemonFlag
	StressFlag
	ActiveFlag
	SystemFlag
	DisposeFlag
)

// Thread is a VM thread bound to one goroutine, which is locked to its OS
// thread for the thread's lifetime. Threads form a rose tree rooted at
// the machine's root thread; the tree links are guarded by stateLock.
type Thread struct {
	m *Machine

	parent *Thread
	child  *Thread
	peer   *Thread

	state atomic.Uint32
	flags atomic.Uint32

	// javaThread is the java/lang/Thread peer.
	javaThread *Object

	lock     *sysLock
	waitNext *Thread // intrusive monitor wait list, guarded by the monitor

	park *parker

	exception *Object
	env       *JNIEnv

	// allocation arenas, in bytes used
	heapIndex       int
	hasArena        bool
	backupHeapIndex int
	// cells bumped since the last collection, not yet tracked by the heap
	allocated []*Object

	protectors []**Object
	resources  []Resource
	localRefs  []*localFrame
	frames     []*Frame
	resolving  []string
	awaiting   string // load key of another thread's load, guarded by Machine.resolveLock

	goid  int64
	osTid int
	done  chan struct{}
}

func newThread(m *Machine, javaThread *Object, parent *Thread) *Thread {
	t := &Thread{
		m:          m,
		parent:     parent,
		javaThread: javaThread,
		lock:       newSysLock(),
		park:       newParker(),
		done:       make(chan struct{}),
	}
	t.localRefs = []*localFrame{newLocalFrame(16)}
	if javaThread != nil {
		javaThread.native = t
	}
	return t
}

// Machine returns the machine t belongs to.
func (t *Thread) Machine() *Machine {
	return t.m
}

// State returns the current scheduling state.
func (t *Thread) State() ThreadState {
	return ThreadState(t.state.Load())
}

func (t *Thread) setState(s ThreadState) {
	t.state.Store(uint32(s))
}

// HasFlag reports whether f is set.
func (t *Thread) HasFlag(f ThreadFlags) bool {
	return ThreadFlags(t.flags.Load())&f != 0
}

func (t *Thread) setFlag(f ThreadFlags) {
	t.flags.Or(uint32(f))
}

func (t *Thread) clearFlag(f ThreadFlags) {
	t.flags.And(^uint32(f))
}

// JavaThread returns the java/lang/Thread peer.
func (t *Thread) JavaThread() *Object {
	return t.javaThread
}

// Exception returns the pending throwable, if any.
func (t *Thread) Exception() *Object {
	return t.exception
}

// ClearException drops the pending throwable.
func (t *Thread) ClearException() {
	t.exception = nil
}

// bind records the goroutine and OS thread running t.
func (t *Thread) bind() {
	t.goid = goid.Get()
	t.osTid = osThreadID()
	t.m.threadsByGoid.Store(t.goid, t)
}

func (t *Thread) unbind() {
	t.m.threadsByGoid.Delete(t.goid)
}

// OSThreadID returns the OS thread id recorded when t was bound, or 0
// where the platform does not expose one.
func (t *Thread) OSThreadID() int {
	return t.osTid
}

// CurrentThread returns the thread attached to the calling goroutine.
func (m *Machine) CurrentThread() *Thread {
	if v, ok := m.threadsByGoid.Load(goid.Get()); ok {
		return v.(*Thread)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Rose tree
// ---------------------------------------------------------------------------

// link adds t under its parent. Caller holds stateLock.
func (t *Thread) link() {
	if t.parent == nil {
		return
	}
	t.peer = t.parent.child
	t.parent.child = t
}

// unlink removes t from its parent's child list, re-parenting t's
// children. Caller holds stateLock.
func (t *Thread) unlink() {
	p := t.parent
	if p == nil {
		return
	}
	if p.child == t {
		p.child = t.peer
	} else {
		for c := p.child; c != nil; c = c.peer {
			if c.peer == t {
				c.peer = t.peer
				break
			}
		}
	}
	for c := t.child; c != nil; {
		next := c.peer
		c.parent = p
		c.peer = p.child
		p.child = c
		c = next
	}
	t.child = nil
	t.peer = nil
}

// visitThreads walks the tree rooted at t depth first.
func visitThreads(t *Thread, fn func(*Thread)) {
	for ; t != nil; t = t.peer {
		fn(t)
		visitThreads(t.child, fn)
	}
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// AttachThread makes the calling goroutine a VM thread. The goroutine is
// locked to its OS thread until DetachThread.
func (m *Machine) AttachThread(name string, daemon bool) (*Thread, error) {
	if !m.alive.Load() {
		return nil, ErrMachineShutDown
	}
	if m.CurrentThread() != nil {
		return nil, ErrAlreadyAttached
	}
	runtime.LockOSThread()
	t := m.newChildThread(m.RootThread, nil)
	t.bind()
	if daemon {
		t.setFlag(DaemonFlag)
	}
	t.Enter(ActiveState)
	jt, err := m.makeJavaThread(t, name, daemon)
	if err != nil {
		m.exitThread(t)
		return nil, err
	}
	t.javaThread = jt
	jt.native = t
	log.Debugf("attached thread %s (tid %d)", name, t.osTid)
	return t, nil
}

// DetachThread ends the calling goroutine's VM thread.
func (m *Machine) DetachThread(t *Thread) {
	m.exitThread(t)
}

func (m *Machine) newChildThread(parent *Thread, javaThread *Object) *Thread {
	t := newThread(m, javaThread, parent)
	m.stateLock.Lock()
	t.link()
	m.stateLock.Unlock()
	return t
}

// StartThread runs body on a new VM thread whose peer is javaThread.
// body receives the new thread in ActiveState; its error, if a throwable,
// is reported as uncaught.
func (m *Machine) StartThread(parent *Thread, javaThread *Object, body func(t *Thread) error) (*Thread, error) {
	if !m.alive.Load() {
		return nil, ErrMachineShutDown
	}
	t := m.newChildThread(parent, javaThread)
	if javaThread != nil && m.daemonField != nil && javaThread.GetInt8(m.daemonField.Offset) != 0 {
		t.setFlag(DaemonFlag)
	}
	started := make(chan struct{})
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		t.bind()
		t.Enter(ActiveState)
		close(started)

		err := body(t)
		if err != nil {
			m.reportUncaught(t, err)
		}
		m.exitThread(t)
	}()
	<-started
	return t, nil
}

// exitThread moves t to ZombieState, releasing its resources, and unbinds
// it from its goroutine.
func (m *Machine) exitThread(t *Thread) {
	if st := t.State(); st == ZombieState || st == JoinedState || st == ExitState {
		return
	}
	t.unwindTo(Checkpoint{})
	if t.State() != ActiveState && t.State() != ExclusiveState {
		t.Enter(ActiveState)
	}
	m.releaseArena(t)
	t.Enter(ZombieState)
	t.unbind()
	if t.goid != 0 {
		runtime.UnlockOSThread()
	}
	close(t.done)
	m.threadExited(t)
}

// threadExited reaps t once no interrupt is in flight against it.
func (m *Machine) threadExited(t *Thread) {
	m.stateLock.Lock()
	defer m.stateLock.Unlock()
	for t.HasFlag(SystemFlag) {
		m.stateCond.Wait()
	}
	t.unlink()
	t.setState(JoinedState)
	m.stateCond.Broadcast()
}

// Join waits for target to finish.
func (t *Thread) Join(target *Thread) {
	restore := t.EnterScoped(IdleState)
	defer restore()
	<-target.done
}

// ---------------------------------------------------------------------------
// Protectors
// ---------------------------------------------------------------------------

// Protect registers *p as a GC root until the returned release runs.
// Releases must happen in reverse order.
func (t *Thread) Protect(p **Object) (release func()) {
	t.protectors = append(t.protectors, p)
	depth := len(t.protectors)
	return func() {
		expect(len(t.protectors) == depth, "protector released out of order")
		t.protectors = t.protectors[:depth-1]
	}
}

// ---------------------------------------------------------------------------
// Park / unpark
// ---------------------------------------------------------------------------

// parker is the LockSupport-style permit.
type parker struct {
	permit chan struct{}
}

func newParker() *parker {
	return &parker{permit: make(chan struct{}, 1)}
}

// Unpark makes target's permit available.
func (m *Machine) Unpark(target *Thread) {
	select {
	case target.park.permit <- struct{}{}:
	default:
	}
}
