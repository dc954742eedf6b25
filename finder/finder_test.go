package finder

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func writeTestJar(t *testing.T, path string, entries map[string][]byte) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, WriteJar(&buf, entries))
	writeFile(t, path, buf.Bytes())
}

func TestDirFind(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a", "B.class"), []byte("cafebabe"))

	d, err := OpenDir(root)
	require.NoError(t, err)

	data, source, err := d.Find("a/B.class")
	require.NoError(t, err)
	assert.Equal(t, "cafebabe", string(data))
	assert.Equal(t, filepath.Join(root, "a", "B.class"), source)

	_, _, err = d.Find("a/Missing.class")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, _, err = d.Find("../escape.class")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	names, err := d.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"a/B.class"}, names)
}

func TestJarFind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lib.jar")
	writeTestJar(t, path, map[string][]byte{
		"p/A.class":            []byte("A"),
		"META-INF/MANIFEST.MF": []byte("Manifest-Version: 1.0\n"),
	})

	j, err := OpenJar(path)
	require.NoError(t, err)
	defer j.Close()

	data, source, err := j.Find("p/A.class")
	require.NoError(t, err)
	assert.Equal(t, "A", string(data))
	assert.True(t, strings.HasSuffix(source, "lib.jar!/p/A.class"))

	_, _, err = j.Find("p/B.class")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	names, _ := j.Names()
	assert.Equal(t, []string{"META-INF/MANIFEST.MF", "p/A.class"}, names)
}

func TestImageRoundTrip(t *testing.T) {
	b := NewImageBuilder()
	b.Add("java/lang/Object.class", []byte{0xca, 0xfe})
	b.Add("java/lang/String.class", []byte{0xba, 0xbe})

	var buf bytes.Buffer
	_, err := b.WriteTo(&buf)
	require.NoError(t, err)

	img, err := ReadImage(buf.Bytes())
	require.NoError(t, err)

	data, _, err := img.Find("java/lang/String.class")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xba, 0xbe}, data)

	_, _, err = img.Find("java/lang/Missing.class")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestImageDeterministic(t *testing.T) {
	encode := func(order []string) []byte {
		b := NewImageBuilder()
		for _, n := range order {
			b.Add(n, []byte(n))
		}
		var buf bytes.Buffer
		_, err := b.WriteTo(&buf)
		require.NoError(t, err)
		return buf.Bytes()
	}
	assert.Equal(t, encode([]string{"a", "b", "c"}), encode([]string{"c", "a", "b"}))
}

func TestImageRejectsBadInput(t *testing.T) {
	_, err := ReadImage([]byte("nope"))
	assert.ErrorIs(t, err, ErrInvalidMagic)

	_, err = ReadImage([]byte(imageMagic + "\xff\xff"))
	assert.Error(t, err)
}

func TestImageChecksum(t *testing.T) {
	img := &Image{Path: "x.img", entries: map[string]*imageEntry{
		"A.class": {Name: "A.class", Data: []byte("A"), Sum: 1},
	}}
	_, _, err := img.Find("A.class")
	assert.ErrorIs(t, err, ErrCorruptEntry)
}

func TestOpenClasspath(t *testing.T) {
	dir := t.TempDir()
	classes := filepath.Join(dir, "classes")
	writeFile(t, filepath.Join(classes, "p", "A.class"), []byte("from-dir"))
	jar := filepath.Join(dir, "lib.jar")
	writeTestJar(t, jar, map[string][]byte{
		"p/A.class": []byte("from-jar"),
		"p/B.class": []byte("B"),
	})

	sep := string(os.PathListSeparator)
	cp := classes + sep + filepath.Join(dir, "missing") + sep + jar
	m, err := Open(cp)
	require.NoError(t, err)
	defer m.Close()
	require.Len(t, m.Finders, 2)

	data, _, err := m.Find("p/A.class")
	require.NoError(t, err)
	assert.Equal(t, "from-dir", string(data), "earlier entries shadow later ones")

	data, _, err = m.Find("p/B.class")
	require.NoError(t, err)
	assert.Equal(t, "B", string(data))

	_, _, err = m.Find("p/C.class")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestBuildImageFromClasspath(t *testing.T) {
	dir := t.TempDir()
	classes := filepath.Join(dir, "classes")
	writeFile(t, filepath.Join(classes, "p", "A.class"), []byte("A"))
	writeFile(t, filepath.Join(classes, "p", "notes.txt"), []byte("skip"))
	jar := filepath.Join(dir, "lib.jar")
	writeTestJar(t, jar, map[string][]byte{"q/B.class": []byte("B")})

	src, err := Open(classes + string(os.PathListSeparator) + jar)
	require.NoError(t, err)
	defer src.Close()

	b := NewImageBuilder()
	err = BuildImage(context.Background(), b, src, func(n string) bool {
		return strings.HasSuffix(n, ".class")
	})
	require.NoError(t, err)
	assert.Equal(t, 2, b.Len())

	out := filepath.Join(dir, "boot.img")
	var buf bytes.Buffer
	_, err = b.WriteTo(&buf)
	require.NoError(t, err)
	writeFile(t, out, buf.Bytes())

	m, err := Open(out)
	require.NoError(t, err)
	data, _, err := m.Find("q/B.class")
	require.NoError(t, err)
	assert.Equal(t, "B", string(data))
}
