package vm

import (
	"bytes"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Thread lifecycle tests
// ---------------------------------------------------------------------------

func TestStartJavaThread(t *testing.T) {
	worker := newClassBuilder("p/Worker", NameThread).
		method(AccPublic, "<init>", "()V").
		method(AccPublic|AccNative, "run", "()V")
	m := newTestMachine(t, nil, mapFinder{}.add(worker))

	var ranAs atomic.Value
	var current atomic.Bool
	m.Natives().Register("Avian_p_Worker_run", func(t *Thread, _ *Method, a *Arguments) (Value, error) {
		ranAs.Store(t.m.ThreadName(a.Object(0)))
		current.Store(t.m.CurrentThread() == t && t.JavaThread() == a.Object(0))
		return Value{}, nil
	})

	c, err := m.ResolveClass(m.t, m.AppLoader, "p/Worker", true, NoClassDefFoundErrorType)
	if err != nil {
		t.Fatal(err)
	}
	jt, err := m.Make(m.t, c)
	if err != nil {
		t.Fatal(err)
	}
	release := m.t.Protect(&jt)
	defer release()
	name, err := m.MakeString(m.t, "worker-1")
	if err != nil {
		t.Fatal(err)
	}
	jt.SetRef(m.threadFields.name, name)

	th, err := m.StartJavaThread(m.t, jt)
	if err != nil {
		t.Fatalf("StartJavaThread: %v", err)
	}
	m.t.Join(th)

	if got, _ := ranAs.Load().(string); got != "worker-1" {
		t.Errorf("run saw thread name %q", got)
	}
	if !current.Load() {
		t.Error("run should execute on the new thread, bound to its peer")
	}
	if st := th.State(); st != ZombieState && st != JoinedState {
		t.Errorf("finished thread state = %s", st)
	}
	if got, ok := ThreadOf(jt); !ok || got != th {
		t.Error("ThreadOf should map the peer to its VM thread")
	}
}

func TestUncaughtErrorIsReported(t *testing.T) {
	var errLog bytes.Buffer
	m, root, err := CreateJavaVM(nil, Collaborators{ErrorLog: &errLog})
	if err != nil {
		t.Fatal(err)
	}
	defer m.JavaVM().DestroyJavaVM()

	th, err := m.StartThread(root, nil, func(t *Thread) error {
		return t.m.throwNew(t, IllegalStateExceptionType, "worker gave up")
	})
	if err != nil {
		t.Fatal(err)
	}
	root.Join(th)
	out := errLog.String()
	if !strings.Contains(out, "java/lang/IllegalStateException") || !strings.Contains(out, "worker gave up") {
		t.Errorf("error log = %q", out)
	}
	if th.Exception() != nil {
		t.Error("reported exception should be cleared")
	}

	th, err = m.StartThread(root, nil, func(t *Thread) error {
		return errors.New("plain failure")
	})
	if err != nil {
		t.Fatal(err)
	}
	root.Join(th)
	if !strings.Contains(errLog.String(), "uncaught error in thread: plain failure") {
		t.Errorf("error log = %q", errLog.String())
	}
}

func TestJoinAllIgnoresDaemons(t *testing.T) {
	m := newTestMachine(t, nil, nil)

	block := make(chan struct{})
	defer close(block)
	djt, err := m.makeJavaThread(m.t, "daemon", true)
	if err != nil {
		t.Fatal(err)
	}
	daemon, err := m.StartThread(m.t, djt, func(t *Thread) error {
		restore := t.EnterScoped(IdleState)
		defer restore()
		<-block
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !daemon.HasFlag(DaemonFlag) {
		t.Fatal("thread with a daemon peer should be a daemon")
	}

	var finished atomic.Bool
	_, err = m.StartThread(m.t, nil, func(t *Thread) error {
		restore := t.EnterScoped(IdleState)
		time.Sleep(20 * time.Millisecond)
		restore()
		finished.Store(true)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	m.JoinAll(m.t)
	if !finished.Load() {
		t.Error("JoinAll returned before the non-daemon thread finished")
	}
}

func TestAttachAfterShutdown(t *testing.T) {
	hook := newClassBuilder("p/Hook", NameThread).
		method(AccPublic|AccNative, "run", "()V")
	m := newTestMachine(t, nil, mapFinder{}.add(hook))

	if _, err := m.AttachThread("again", false); !errors.Is(err, ErrAlreadyAttached) {
		t.Errorf("AttachThread on an attached goroutine = %v, want ErrAlreadyAttached", err)
	}

	var hookRan atomic.Bool
	m.Natives().Register("Avian_p_Hook_run", func(t *Thread, _ *Method, _ *Arguments) (Value, error) {
		hookRan.Store(true)
		return Value{}, nil
	})
	c, err := m.ResolveClass(m.t, m.AppLoader, "p/Hook", true, NoClassDefFoundErrorType)
	if err != nil {
		t.Fatal(err)
	}
	h, err := m.Make(m.t, c)
	if err != nil {
		t.Fatal(err)
	}
	m.AddShutdownHook(m.t, h)

	m.ShutDown(m.t)
	if !hookRan.Load() {
		t.Error("shutdown hook did not run")
	}
	if m.Alive() {
		t.Error("machine should not be alive after ShutDown")
	}
	if _, err := m.StartThread(m.t, nil, func(*Thread) error { return nil }); !errors.Is(err, ErrMachineShutDown) {
		t.Errorf("StartThread after shutdown = %v, want ErrMachineShutDown", err)
	}
}
