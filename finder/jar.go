package finder

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"
)

// Jar finds resources in a JAR or ZIP archive. The central directory is
// indexed once at open.
type Jar struct {
	Path  string
	r     *zip.ReadCloser
	index map[string]*zip.File
}

// OpenJar opens and indexes the archive at path.
func OpenJar(path string) (*Jar, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", path, err)
	}
	j := &Jar{Path: path, r: r, index: make(map[string]*zip.File, len(r.File))}
	for _, f := range r.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		j.index[f.Name] = f
	}
	log.Debugf("indexed %s: %d entries", path, len(j.index))
	return j, nil
}

func (j *Jar) Find(name string) ([]byte, string, error) {
	f, ok := j.index[name]
	if !ok {
		return nil, "", notFound(name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, "", fmt.Errorf("%s!%s: %w", j.Path, name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, "", fmt.Errorf("%s!%s: %w", j.Path, name, err)
	}
	return data, j.Path + "!/" + name, nil
}

func (j *Jar) Names() ([]string, error) {
	names := make([]string, 0, len(j.index))
	for n := range j.index {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (j *Jar) Close() error {
	return j.r.Close()
}

// WriteJar writes entries as a deflated archive, in sorted name order.
func WriteJar(w io.Writer, entries map[string][]byte) error {
	zw := zip.NewWriter(w)
	names := make([]string, 0, len(entries))
	for n := range entries {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fw, err := zw.Create(n)
		if err != nil {
			return err
		}
		if _, err := fw.Write(entries[n]); err != nil {
			return err
		}
	}
	return zw.Close()
}
