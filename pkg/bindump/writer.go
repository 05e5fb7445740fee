package bindump

import (
	"errors"
	"sort"
	"sync"

	"github.com/zeebo/blake3"
)

// Writer builds a bindump in memory.
//
// The writer reserves space for the header up-front and patches it, together
// with the checksum, during Finalise.
type Writer struct {
	buf      []byte
	sections []Section
	seen     map[SectionType]struct{}
	version  uint16
	flags    uint64
	closed   bool

	mu sync.Mutex
}

// NewWriter creates a writer for the given format version.
func NewWriter(version uint16) (*Writer, error) {
	if version < Version1 || version > Version3 {
		return nil, ErrUnsupportedVersion
	}
	w := &Writer{
		buf:     make([]byte, headerSize, 4096),
		seen:    make(map[SectionType]struct{}),
		version: version,
	}
	w.alignTo(align)
	return w, nil
}

// WriteSection appends a section payload and records it in the section table.
// Sections may be written in any order. A section type may only be written once.
func (w *Writer) WriteSection(typ SectionType, version uint32, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.New("bindump: writer already finalised")
	}
	if _, ok := w.seen[typ]; ok {
		return errors.New("bindump: duplicate section type")
	}

	// Align each section start so consumers can read records in place.
	w.alignTo(align)
	offset := len(w.buf)
	w.buf = append(w.buf, data...)

	w.sections = append(w.sections, Section{
		Type:    typ,
		Version: version,
		Offset:  uint64(offset),
		Size:    uint64(len(data)),
	})
	w.seen[typ] = struct{}{}
	return nil
}

func (w *Writer) AddFlags(flags uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.New("bindump: writer already finalised")
	}
	w.flags |= flags
	return nil
}

// Finalise writes the section directory, patches the header and returns the
// finished file. After Finalise, the writer must not be used again.
func (w *Writer) Finalise() ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, errors.New("bindump: writer already finalised")
	}
	if len(w.sections) == 0 {
		return nil, errors.New("bindump: no sections written")
	}
	w.closed = true

	// Deterministic directory ordering.
	sort.Slice(w.sections, func(i, j int) bool {
		return w.sections[i].Type < w.sections[j].Type
	})

	w.alignTo(align)
	dirOffset := len(w.buf)

	var secBuf [sectionSize]byte
	for i := range w.sections {
		if !encodeSection(secBuf[:], w.sections[i]) {
			return nil, errors.New("bindump: encode section failed")
		}
		w.buf = append(w.buf, secBuf[:]...)
	}

	var header Header
	copy(header.Magic[:], Magic)
	header.Version = w.version
	header.Minor = CurrentMinor
	header.HeaderSize = headerSize
	header.SectionCount = uint32(len(w.sections))
	header.SectionDirOffset = uint64(dirOffset)
	header.FileSize = uint64(len(w.buf))
	header.Flags = w.flags
	header.Checksum = blake3.Sum256(w.buf[headerSize:])

	if !encodeHeader(w.buf[:headerSize], header) {
		return nil, errors.New("bindump: encode header failed")
	}

	out := w.buf
	w.buf = nil
	return out, nil
}

func (w *Writer) alignTo(n int) {
	if mod := len(w.buf) % n; mod != 0 {
		w.buf = append(w.buf, make([]byte, n-mod)...)
	}
}
