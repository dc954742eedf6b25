package finder

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Dir finds resources as files under a root directory.
type Dir struct {
	Root string
}

// OpenDir returns a finder rooted at dir, which must exist.
func OpenDir(dir string) (*Dir, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s: not a directory", abs)
	}
	return &Dir{Root: abs}, nil
}

// Find reads Root/name. Names are slash separated and may not escape
// the root.
func (d *Dir) Find(name string) ([]byte, string, error) {
	if !fs.ValidPath(name) {
		return nil, "", notFound(name)
	}
	path := filepath.Join(d.Root, filepath.FromSlash(name))
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", notFound(name)
		}
		return nil, "", fmt.Errorf("cannot read %s: %w", path, err)
	}
	return data, path, nil
}

// Names lists every regular file under the root.
func (d *Dir) Names() ([]string, error) {
	var names []string
	err := filepath.WalkDir(d.Root, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !e.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(d.Root, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (d *Dir) Close() error { return nil }

func (d *Dir) String() string {
	return strings.TrimSuffix(d.Root, string(filepath.Separator)) + string(filepath.Separator)
}
