package bindump

import (
	"bytes"
	"fmt"

	"github.com/zeebo/blake3"
)

// span is a byte range inside the file.
type span struct {
	off  uint64
	size uint64
}

// Dump is the version-independent view over a mapped bindump.
//
// It holds only offsets into data; every accessor decodes by value, so
// nothing returned from a Dump aliases the raw buffer.
type Dump struct {
	data     []byte
	hdr      Header
	sections []Section

	strings   span
	vars      table
	intervals table
	bounds    table
	tables    table
	binds     table
	codes     table
	classes   table
	blocks    table
	vertex    table
	pixel     table
}

// Mapped is the result of Map. Dump is always set; exactly one of V1, V2
// and V3 is non-nil, matching the header version tag.
type Mapped struct {
	Dump *Dump
	V1   *DumpV1
	V2   *DumpV2
	V3   *DumpV3
}

// Map validates data as a bindump and returns its views.
// The views reference data, which must stay unmodified while they are in use.
func Map(data []byte) (*Mapped, error) {
	d, err := parseDump(data)
	if err != nil {
		return nil, err
	}

	switch d.hdr.Version {
	case Version1:
		v1, err := newDumpV1(d)
		if err != nil {
			return nil, err
		}
		return &Mapped{Dump: d, V1: v1}, nil
	case Version2:
		g, err := newGrouped(d, groupsRecordV1)
		if err != nil {
			return nil, err
		}
		return &Mapped{Dump: d, V2: &DumpV2{grouped: g}}, nil
	case Version3:
		g, err := newGrouped(d, groupsRecordV2)
		if err != nil {
			return nil, err
		}
		v3 := &DumpV3{grouped: g}
		if err := v3.initDictionary(); err != nil {
			return nil, err
		}
		return &Mapped{Dump: d, V3: v3}, nil
	default:
		return nil, ErrUnsupportedVersion
	}
}

// Version returns the active format version.
func (m *Mapped) Version() uint16 {
	if m == nil || m.Dump == nil {
		return 0
	}
	return m.Dump.hdr.Version
}

// Groups returns the grouped layout of a V2 or V3 dump, or nil for V1.
func (m *Mapped) Groups() GroupSource {
	switch {
	case m == nil:
		return nil
	case m.V2 != nil:
		return m.V2
	case m.V3 != nil:
		return m.V3
	default:
		return nil
	}
}

// Close releases decoders held by the version-specific view.
func (m *Mapped) Close() error {
	if m == nil {
		return nil
	}
	if m.V3 != nil {
		m.V3.close()
	}
	m.Dump = nil
	m.V1 = nil
	m.V2 = nil
	m.V3 = nil
	return nil
}

func parseDump(data []byte) (*Dump, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorruptFile, len(data))
	}
	hdr, ok := decodeHeader(data[:headerSize])
	if !ok {
		return nil, ErrCorruptFile
	}
	if !hdr.Valid() {
		return nil, ErrInvalidMagic
	}
	if !hdr.Supported() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, hdr.Version)
	}
	if hdr.FileSize != uint64(len(data)) {
		return nil, fmt.Errorf("%w: header size %d, have %d bytes", ErrCorruptFile, hdr.FileSize, len(data))
	}
	if uint64(hdr.HeaderSize) > uint64(len(data)) {
		return nil, ErrCorruptFile
	}

	sum := blake3.Sum256(data[hdr.HeaderSize:])
	if !bytes.Equal(sum[:], hdr.Checksum[:]) {
		return nil, ErrChecksumMismatch
	}

	// Section directory bounds check
	dirStart := hdr.SectionDirOffset
	dirEnd := dirStart + uint64(hdr.SectionCount)*sectionSize
	if dirStart < uint64(hdr.HeaderSize) {
		return nil, ErrCorruptFile
	}
	if dirEnd < dirStart || dirEnd > uint64(len(data)) {
		return nil, ErrCorruptFile
	}

	sections := make([]Section, hdr.SectionCount)
	for i := range sections {
		start := int(dirStart) + i*sectionSize
		sec, ok := decodeSection(data[start : start+sectionSize])
		if !ok {
			return nil, ErrCorruptFile
		}
		sections[i] = sec
	}

	seen := make(map[SectionType]struct{}, len(sections))
	for i := range sections {
		s := &sections[i]
		if _, dup := seen[s.Type]; dup {
			return nil, fmt.Errorf("%w: duplicate section %s", ErrCorruptFile, s.Type)
		}
		seen[s.Type] = struct{}{}

		end := s.End()
		if end < s.Offset {
			return nil, fmt.Errorf("%w: section %d offset overflow", ErrCorruptFile, i)
		}
		if end > uint64(len(data)) {
			return nil, fmt.Errorf("%w: section %d out of bounds", ErrCorruptFile, i)
		}
		if s.Offset < uint64(hdr.HeaderSize) {
			return nil, fmt.Errorf("%w: section %d overlaps header", ErrCorruptFile, i)
		}
		if rangesOverlap(s.Offset, end, dirStart, dirEnd) {
			return nil, fmt.Errorf("%w: section %d overlaps section directory", ErrCorruptFile, i)
		}
		if s.Offset%align != 0 {
			return nil, fmt.Errorf("%w: section %d offset not %d-byte aligned", ErrCorruptFile, i, align)
		}
	}

	d := &Dump{data: data, hdr: hdr, sections: sections}
	for _, typ := range commonSections {
		if d.Section(typ) == nil {
			return nil, fmt.Errorf("%w: missing %s section", ErrCorruptFile, typ)
		}
	}

	s := d.Section(SectionStrings)
	d.strings = span{off: s.Offset, size: s.Size}

	for _, t := range []struct {
		dst     *table
		typ     SectionType
		recSize int
	}{
		{&d.vars, SectionVars, varRecordSize},
		{&d.intervals, SectionIntervals, intervalRecordSize},
		{&d.bounds, SectionIntervalBounds, boundRecordSize},
		{&d.tables, SectionVariantTables, variantTableRecordSize},
		{&d.binds, SectionIntervalBinds, bindRecordSize},
		{&d.codes, SectionCodes, codeRecordSize},
		{&d.classes, SectionClasses, classRecordSize},
		{&d.blocks, SectionBlocks, blockRecordSize},
		{&d.vertex, SectionVertexPrograms, programRecordSize},
		{&d.pixel, SectionPixelPrograms, programRecordSize},
	} {
		tbl, err := newTable(d.Section(t.typ), t.recSize)
		if err != nil {
			return nil, err
		}
		*t.dst = tbl
	}

	if err := d.validateTables(); err != nil {
		return nil, err
	}
	return d, nil
}

// Header returns a copy of the file header.
func (d *Dump) Header() Header {
	return d.hdr
}

// Version returns the format version tag.
func (d *Dump) Version() uint16 {
	return d.hdr.Version
}

// Size returns the size of the underlying buffer in bytes.
func (d *Dump) Size() int {
	return len(d.data)
}

// Sections returns a copy of the section directory.
func (d *Dump) Sections() []Section {
	out := make([]Section, len(d.sections))
	copy(out, d.sections)
	return out
}

// Section returns the section of the given type, or nil if it does not exist.
func (d *Dump) Section(t SectionType) *Section {
	for i := range d.sections {
		if d.sections[i].Type == t {
			return &d.sections[i]
		}
	}
	return nil
}

// SectionData returns a zero-copy slice covering the section payload.
// The caller must not retain it past the lifetime of the raw buffer.
func (d *Dump) SectionData(s *Section) []byte {
	if d == nil || s == nil {
		return nil
	}
	end := s.End()
	if end < s.Offset || end > uint64(len(d.data)) {
		return nil
	}
	return d.data[s.Offset:end]
}

func (d *Dump) programs(t CodeType) table {
	if t == CodeVertex {
		return d.vertex
	}
	return d.pixel
}
