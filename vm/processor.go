package vm

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Processor: the execution engine seen from the machine
// ---------------------------------------------------------------------------

// Processor executes methods. The machine calls it to run static
// initializers, finalizers, thread bodies and JNI Call*Method requests.
type Processor interface {
	// Boot runs once the core classes exist, on the root thread.
	Boot(t *Thread)
	// Invoke runs method with receiver this (nil for static methods).
	Invoke(t *Thread, method *Method, this *Object, args []Value) (Value, error)
	// Dispose releases engine resources when the machine exits.
	Dispose()
}

// MethodBody is a Go implementation bound to a method.
type MethodBody func(t *Thread, method *Method, this *Object, args []Value) (Value, error)

// NativeProcessor runs native methods and Go-bound bodies only. Methods
// whose body is a lone return complete immediately; any other byte code
// fails with ErrNoExecutionEngine.
type NativeProcessor struct {
	mu     sync.RWMutex
	bodies map[string]MethodBody

	invocations atomic.Uint64
	booted      atomic.Bool
}

// NewNativeProcessor returns a processor with no bound bodies.
func NewNativeProcessor() *NativeProcessor {
	return &NativeProcessor{bodies: make(map[string]MethodBody)}
}

func bodyKey(className, name, spec string) string {
	return className + "." + name + spec
}

// Bind installs body as the implementation of className.name spec,
// replacing its byte code.
func (p *NativeProcessor) Bind(className, name, spec string, body MethodBody) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bodies[bodyKey(className, name, spec)] = body
}

// Unbind removes a bound body.
func (p *NativeProcessor) Unbind(className, name, spec string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.bodies, bodyKey(className, name, spec))
}

func (p *NativeProcessor) body(method *Method) MethodBody {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.bodies[bodyKey(method.Class.Name, method.Name, method.Spec)]
}

// Invocations returns how many methods the processor has run.
func (p *NativeProcessor) Invocations() uint64 {
	return p.invocations.Load()
}

func (p *NativeProcessor) Boot(t *Thread) {
	p.booted.Store(true)
}

func (p *NativeProcessor) Dispose() {}

func (p *NativeProcessor) Invoke(t *Thread, method *Method, this *Object, args []Value) (Value, error) {
	m := t.m
	if method.IsAbstract() {
		return Value{}, m.throwNew(t, AbstractMethodErrorType, "%s", method)
	}
	if !method.IsStatic() && this == nil {
		return Value{}, m.throwNew(t, NullPointerExceptionType, "%s on null receiver", method)
	}
	if len(args) != method.ParameterCount {
		return Value{}, m.throwNew(t, IllegalArgumentExceptionType,
			"%s takes %d arguments, got %d", method, method.ParameterCount, len(args))
	}
	if method.IsStatic() {
		if err := m.InitClass(t, method.Class); err != nil {
			return Value{}, err
		}
	}
	p.invocations.Add(1)

	t.PushFrame(method, this, args)
	defer t.PopFrame()

	if method.AccessFlags&AccSynchronized != 0 {
		lock := this
		if method.IsStatic() {
			lock = method.Class.AsObject()
		}
		if err := m.Acquire(t, lock); err != nil {
			return Value{}, err
		}
		defer func() {
			if err := m.Release(t, lock); err != nil {
				log.Errorf("releasing %s on return from %s: %s", lock, method, err)
			}
		}()
	}

	switch {
	case p.body(method) != nil:
		return p.body(method)(t, method, this, args)
	case method.IsNative():
		return m.invokeNative(t, method, this, args)
	case emptyMethod(method):
		return Value{}, nil
	}
	return Value{}, fmt.Errorf("%w: %s", ErrNoExecutionEngine, method)
}

// Invoke runs method through the machine's processor inside Run, so a
// throwable panic becomes an error and the thread's resources unwind.
func (m *Machine) Invoke(t *Thread, method *Method, this *Object, args ...Value) (result Value, err error) {
	err = m.Run(t, func(t *Thread) error {
		result, err = m.processor.Invoke(t, method, this, args)
		return err
	})
	return result, err
}

// InvokeVirtual dispatches method on this's class and runs it.
func (m *Machine) InvokeVirtual(t *Thread, method *Method, this *Object, args ...Value) (Value, error) {
	if this == nil {
		return Value{}, m.throwNew(t, NullPointerExceptionType, "%s on null receiver", method)
	}
	target := FindVirtualMethod(this.Class(), method)
	if target == nil {
		return Value{}, m.throwNew(t, AbstractMethodErrorType, "%s", method)
	}
	return m.Invoke(t, target, this, args...)
}
