// Package finder locates class files and other resources on a class
// path. Every finder returns errors wrapping fs.ErrNotExist for absent
// resources, so callers can tell "not here" from "broken".
package finder

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("avian.finder")

// Finder is the resource lookup the machine's loaders use.
type Finder interface {
	Find(name string) (data []byte, source string, err error)
	Close() error
}

// Lister is a Finder that can enumerate its resources.
type Lister interface {
	Finder
	Names() ([]string, error)
}

func notFound(name string) error {
	return fmt.Errorf("%s: %w", name, fs.ErrNotExist)
}

// ---------------------------------------------------------------------------
// Multi: an ordered list of finders
// ---------------------------------------------------------------------------

// Multi searches its finders in order.
type Multi struct {
	Finders []Finder
}

// Find returns the first match. A finder failing for any reason other
// than absence stops the search.
func (m *Multi) Find(name string) ([]byte, string, error) {
	for _, f := range m.Finders {
		data, source, err := f.Find(name)
		if err == nil {
			return data, source, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}
	}
	return nil, "", notFound(name)
}

// Names lists the resources of every listable member, first occurrence
// winning, in sorted order.
func (m *Multi) Names() ([]string, error) {
	seen := make(map[string]bool)
	for _, f := range m.Finders {
		l, ok := f.(Lister)
		if !ok {
			continue
		}
		names, err := l.Names()
		if err != nil {
			return nil, err
		}
		for _, n := range names {
			seen[n] = true
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// Close closes every member and returns the errors joined.
func (m *Multi) Close() error {
	var errs []error
	for _, f := range m.Finders {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ---------------------------------------------------------------------------
// Memory
// ---------------------------------------------------------------------------

// Memory serves resources from a map.
type Memory map[string][]byte

func (m Memory) Find(name string) ([]byte, string, error) {
	data, ok := m[name]
	if !ok {
		return nil, "", notFound(name)
	}
	return data, "memory:" + name, nil
}

func (m Memory) Names() ([]string, error) {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (m Memory) Close() error { return nil }
