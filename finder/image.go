package finder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"
)

// ---------------------------------------------------------------------------
// Image format
// ---------------------------------------------------------------------------

// An image is the magic string followed by one CBOR-encoded archive.
// Each entry carries an xxh3 checksum of its data, checked on lookup.
const imageMagic = "AVIM"

// ImageVersion is the archive version this package reads and writes.
const ImageVersion = 1

var (
	ErrInvalidMagic    = errors.New("invalid magic number: expected AVIM")
	ErrVersionMismatch = errors.New("image version mismatch")
	ErrCorruptEntry    = errors.New("image entry checksum mismatch")
)

type imageEntry struct {
	Name string `cbor:"1,keyasint"`
	Data []byte `cbor:"2,keyasint"`
	Sum  uint64 `cbor:"3,keyasint"`
}

type imageArchive struct {
	Version uint32       `cbor:"1,keyasint"`
	Entries []imageEntry `cbor:"2,keyasint"`
}

var imageEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("finder: failed to create CBOR enc mode: %v", err))
	}
	imageEncMode = em
}

// ---------------------------------------------------------------------------
// Image: reading
// ---------------------------------------------------------------------------

// Image finds resources in a class image.
type Image struct {
	Path    string
	entries map[string]*imageEntry
}

// OpenImage reads the image file at path.
func OpenImage(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	img, err := ReadImage(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	img.Path = path
	return img, nil
}

// ReadImage decodes an image held in memory.
func ReadImage(data []byte) (*Image, error) {
	if !bytes.HasPrefix(data, []byte(imageMagic)) {
		return nil, ErrInvalidMagic
	}
	var a imageArchive
	if err := cbor.Unmarshal(data[len(imageMagic):], &a); err != nil {
		return nil, fmt.Errorf("unmarshal image: %w", err)
	}
	if a.Version != ImageVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, a.Version, ImageVersion)
	}
	img := &Image{Path: "<memory>", entries: make(map[string]*imageEntry, len(a.Entries))}
	for i := range a.Entries {
		e := &a.Entries[i]
		img.entries[e.Name] = e
	}
	return img, nil
}

func (img *Image) Find(name string) ([]byte, string, error) {
	e, ok := img.entries[name]
	if !ok {
		return nil, "", notFound(name)
	}
	if xxh3.Hash(e.Data) != e.Sum {
		return nil, "", fmt.Errorf("%w: %s!%s", ErrCorruptEntry, img.Path, name)
	}
	return e.Data, img.Path + "!/" + name, nil
}

func (img *Image) Names() ([]string, error) {
	names := make([]string, 0, len(img.entries))
	for n := range img.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (img *Image) Close() error { return nil }

// ---------------------------------------------------------------------------
// ImageBuilder: writing
// ---------------------------------------------------------------------------

// ImageBuilder accumulates entries for an image. Add is safe for
// concurrent use.
type ImageBuilder struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func NewImageBuilder() *ImageBuilder {
	return &ImageBuilder{entries: make(map[string][]byte)}
}

// Add records data under name, replacing any earlier entry.
func (b *ImageBuilder) Add(name string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[name] = data
}

func (b *ImageBuilder) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// WriteTo encodes the image. Entries are written in name order, so equal
// contents give identical bytes.
func (b *ImageBuilder) WriteTo(w io.Writer) (int64, error) {
	b.mu.Lock()
	a := imageArchive{Version: ImageVersion, Entries: make([]imageEntry, 0, len(b.entries))}
	for name, data := range b.entries {
		a.Entries = append(a.Entries, imageEntry{Name: name, Data: data, Sum: xxh3.Hash(data)})
	}
	b.mu.Unlock()
	sort.Slice(a.Entries, func(i, j int) bool { return a.Entries[i].Name < a.Entries[j].Name })

	body, err := imageEncMode.Marshal(&a)
	if err != nil {
		return 0, fmt.Errorf("marshal image: %w", err)
	}
	n, err := io.WriteString(w, imageMagic)
	if err != nil {
		return int64(n), err
	}
	m, err := w.Write(body)
	return int64(n + m), err
}

// BuildImage copies every resource of src accepted by keep into b,
// reading them in parallel. A nil keep accepts everything.
func BuildImage(ctx context.Context, b *ImageBuilder, src Lister, keep func(name string) bool) error {
	names, err := src.Names()
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, name := range names {
		if keep != nil && !keep(name) {
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, _, err := src.Find(name)
			if err != nil {
				return err
			}
			b.Add(name, data)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	log.Infof("image: %d entries", b.Len())
	return nil
}
