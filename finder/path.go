package finder

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/avian/vm"
)

// Open builds a finder for a class path: a list of directories, JAR or
// ZIP archives and class images separated by os.PathListSeparator.
// Entries that do not exist are skipped, as Java class paths allow.
func Open(classpath string) (*Multi, error) {
	m := &Multi{}
	for _, entry := range filepath.SplitList(classpath) {
		if entry == "" {
			continue
		}
		f, err := openEntry(entry)
		if errors.Is(err, fs.ErrNotExist) {
			log.Debugf("class path entry %s does not exist", entry)
			continue
		}
		if err != nil {
			m.Close()
			return nil, err
		}
		m.Finders = append(m.Finders, f)
	}
	return m, nil
}

func openEntry(entry string) (Finder, error) {
	info, err := os.Stat(entry)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return OpenDir(entry)
	}
	switch strings.ToLower(filepath.Ext(entry)) {
	case ".img", ".avim":
		return OpenImage(entry)
	default:
		return OpenJar(entry)
	}
}

// OpenFinder adapts Open to the machine's collaborator hook.
func OpenFinder(classpath string) (vm.Finder, error) {
	m, err := Open(classpath)
	if err != nil {
		return nil, err
	}
	return m, nil
}
