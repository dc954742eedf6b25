package vm

import (
	"errors"
	"sync"
)

// ---------------------------------------------------------------------------
// Native implementations
// ---------------------------------------------------------------------------

// AvianNative is a bundled native. It reads its arguments straight from
// the marshalled array.
type AvianNative func(t *Thread, method *Method, args *Arguments) (Value, error)

// JNINative is a native following the JNI convention: it receives the
// environment, the receiver (or class, for static methods) and its
// arguments, and reports failure by leaving an exception pending.
type JNINative func(env *JNIEnv, this Ref, args []JValue) (JValue, error)

// NativeBinding is the resolved implementation of a native method.
type NativeBinding struct {
	Symbol  string
	Library string
	Avian   AvianNative
	JNI     JNINative
}

// NativeLibrary is a loaded library of native symbols. Symbols are either
// AvianNative or JNINative values.
type NativeLibrary interface {
	Name() string
	Lookup(symbol string) (any, bool)
	Close() error
}

// SymbolTable is an in-process NativeLibrary backed by a map.
type SymbolTable struct {
	name    string
	symbols map[string]any
}

// NewSymbolTable returns a library named name exporting symbols.
func NewSymbolTable(name string, symbols map[string]any) *SymbolTable {
	if symbols == nil {
		symbols = make(map[string]any)
	}
	return &SymbolTable{name: name, symbols: symbols}
}

func (st *SymbolTable) Name() string { return st.name }

func (st *SymbolTable) Lookup(symbol string) (any, bool) {
	v, ok := st.symbols[symbol]
	return v, ok
}

func (st *SymbolTable) Close() error { return nil }

// ---------------------------------------------------------------------------
// NativeRegistry
// ---------------------------------------------------------------------------

// NativeRegistry holds the bundled natives and the loaded libraries.
type NativeRegistry struct {
	mu        sync.RWMutex
	builtins  map[string]AvianNative
	libraries []NativeLibrary
}

// NewNativeRegistry returns an empty registry.
func NewNativeRegistry() *NativeRegistry {
	return &NativeRegistry{builtins: make(map[string]AvianNative)}
}

// Register adds a bundled native under its Avian_ symbol.
func (r *NativeRegistry) Register(symbol string, fn AvianNative) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builtins[symbol] = fn
}

// AddLibrary appends lib to the search order.
func (r *NativeRegistry) AddLibrary(lib NativeLibrary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.libraries = append(r.libraries, lib)
	log.Debugf("loaded native library %s", lib.Name())
}

// Libraries returns the libraries in search order.
func (r *NativeRegistry) Libraries() []NativeLibrary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]NativeLibrary(nil), r.libraries...)
}

// Builtins returns the number of bundled natives.
func (r *NativeRegistry) Builtins() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.builtins)
}

// Close closes every library.
func (r *NativeRegistry) Close() {
	r.mu.Lock()
	libs := r.libraries
	r.libraries = nil
	r.mu.Unlock()
	var errs []error
	for _, lib := range libs {
		errs = append(errs, lib.Close())
	}
	if err := errors.Join(errs...); err != nil {
		log.Warningf("closing native libraries: %s", err)
	}
}

func (r *NativeRegistry) lookup(method *Method) *NativeBinding {
	avian := AvianSymbol(method)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if fn, ok := r.builtins[avian]; ok {
		return &NativeBinding{Symbol: avian, Library: "builtin", Avian: fn}
	}
	for _, symbol := range []string{JNISymbol(method), JNILongSymbol(method)} {
		for _, lib := range r.libraries {
			v, ok := lib.Lookup(symbol)
			if !ok {
				continue
			}
			if b := bindingOf(symbol, lib.Name(), v); b != nil {
				return b
			}
		}
	}
	// libraries may also export bundled-style natives
	for _, lib := range r.libraries {
		if v, ok := lib.Lookup(avian); ok {
			if b := bindingOf(avian, lib.Name(), v); b != nil {
				return b
			}
		}
	}
	return nil
}

func bindingOf(symbol, library string, v any) *NativeBinding {
	switch fn := v.(type) {
	case AvianNative:
		return &NativeBinding{Symbol: symbol, Library: library, Avian: fn}
	case func(*Thread, *Method, *Arguments) (Value, error):
		return &NativeBinding{Symbol: symbol, Library: library, Avian: fn}
	case JNINative:
		return &NativeBinding{Symbol: symbol, Library: library, JNI: fn}
	case func(*JNIEnv, Ref, []JValue) (JValue, error):
		return &NativeBinding{Symbol: symbol, Library: library, JNI: fn}
	}
	log.Warningf("symbol %s in %s has unsupported type %T", symbol, library, v)
	return nil
}
