package bindump

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"
)

// DefaultAutoGroupSize is the number of programs per group when an Image
// does not list its groups explicitly.
const DefaultAutoGroupSize = 16

// ProgramKey names one program of the vertex or pixel table.
type ProgramKey struct {
	Type CodeType `yaml:"type"`
	ID   uint32   `yaml:"id"`
}

// GroupSpec places programs into one group; a program's index in the group
// is its position in Members.
type GroupSpec struct {
	Codec   Codec        `yaml:"codec"`
	Members []ProgramKey `yaml:"members"`
}

// Image is the in-memory description of a dump, the input to Build.
type Image struct {
	Version uint16

	Vars          []Var
	Intervals     []Interval
	VariantTables []VariantTable
	Codes         []ShaderCode
	Classes       []ShaderClass
	Blocks        []ShaderBlock

	// Vertex and Pixel hold program bytecode indexed by program id.
	Vertex [][]uint32
	Pixel  [][]uint32

	// Groups places programs for Version2 and Version3. When empty, each
	// table is split into runs of AutoGroupSize programs stored with Codec.
	Groups        []GroupSpec
	AutoGroupSize int
	Codec         Codec

	// Dictionary is an optional raw zstd dictionary (Version3 only).
	Dictionary   []byte
	DictionaryID uint32
}

// Build encodes img as a bindump.
func Build(img *Image) ([]byte, error) {
	if img == nil {
		return nil, errors.New("bindump: nil image")
	}
	w, err := NewWriter(img.Version)
	if err != nil {
		return nil, err
	}

	b := &builder{img: img, strIndex: make(map[string]uint32)}
	for _, step := range []func() error{b.vars, b.intervals, b.variantTables, b.codes, b.classes, b.blocks} {
		if err := step(); err != nil {
			return nil, err
		}
	}

	if img.Version == Version1 {
		err = b.inlinePrograms()
	} else {
		err = b.groupedPrograms()
	}
	if err != nil {
		return nil, err
	}

	sections := []sectionPayload{
		{SectionStrings, 1, b.strs},
		{SectionVars, 1, b.varRecs},
		{SectionIntervals, 1, b.intervalRecs},
		{SectionIntervalBounds, 1, b.boundRecs},
		{SectionVariantTables, 1, b.tableRecs},
		{SectionIntervalBinds, 1, b.bindRecs},
		{SectionCodes, 1, b.codeRecs},
		{SectionClasses, 1, b.classRecs},
		{SectionBlocks, 1, b.blockRecs},
		{SectionVertexPrograms, 1, b.vertexRecs},
		{SectionPixelPrograms, 1, b.pixelRecs},
	}
	switch img.Version {
	case Version1:
		sections = append(sections, sectionPayload{SectionBytecode, 1, b.bytecode})
	case Version2, Version3:
		recVersion := groupsRecordV1
		if img.Version == Version3 {
			recVersion = groupsRecordV2
		}
		sections = append(sections,
			sectionPayload{SectionGroups, recVersion, b.groupRecs},
			sectionPayload{SectionGroupData, 1, b.groupData},
		)
	}

	for _, s := range sections {
		if err := w.WriteSection(s.typ, s.version, s.data); err != nil {
			return nil, err
		}
	}

	if img.Version == Version3 && len(img.Dictionary) > 0 {
		payload := make([]byte, dictionaryHeaderSize+len(img.Dictionary))
		binary.LittleEndian.PutUint32(payload[0:4], b.dictID())
		copy(payload[dictionaryHeaderSize:], img.Dictionary)
		if err := w.WriteSection(SectionDictionary, 1, payload); err != nil {
			return nil, err
		}
		if err := w.AddFlags(FlagHasDictionary); err != nil {
			return nil, err
		}
	}

	return w.Finalise()
}

type sectionPayload struct {
	typ     SectionType
	version uint32
	data    []byte
}

type builder struct {
	img *Image

	strs     []byte
	strIndex map[string]uint32

	varRecs      []byte
	intervalRecs []byte
	boundRecs    []byte
	tableRecs    []byte
	bindRecs     []byte
	codeRecs     []byte
	classRecs    []byte
	blockRecs    []byte
	vertexRecs   []byte
	pixelRecs    []byte

	bytecode  []byte
	groupRecs []byte
	groupData []byte
}

func (b *builder) str(s string) (uint32, uint32, error) {
	if uint64(len(s)) > math.MaxUint32 {
		return 0, 0, errors.New("bindump: string too long")
	}
	if off, ok := b.strIndex[s]; ok {
		return off, uint32(len(s)), nil
	}
	off := uint32(len(b.strs))
	b.strs = append(b.strs, s...)
	b.strIndex[s] = off
	return off, uint32(len(s)), nil
}

func (b *builder) dictID() uint32 {
	if b.img.DictionaryID == 0 {
		return 1
	}
	return b.img.DictionaryID
}

func le32(dst []byte, vals ...uint32) []byte {
	for _, v := range vals {
		dst = binary.LittleEndian.AppendUint32(dst, v)
	}
	return dst
}

func (b *builder) vars() error {
	for _, v := range b.img.Vars {
		off, n, err := b.str(v.Name)
		if err != nil {
			return err
		}
		b.varRecs = le32(b.varRecs, off, n)
		b.varRecs = append(b.varRecs, byte(v.Type), 0, 0, 0)
		b.varRecs = le32(b.varRecs, math.Float32bits(v.Default))
	}
	return nil
}

func (b *builder) intervals() error {
	for i, iv := range b.img.Intervals {
		if iv.Var != None && int(iv.Var) >= len(b.img.Vars) {
			return fmt.Errorf("bindump: interval %d references var %d", i, iv.Var)
		}
		first := len(b.boundRecs) / boundRecordSize
		if first+len(iv.Bounds) > math.MaxUint16 || len(iv.Bounds) > math.MaxUint16 {
			return fmt.Errorf("bindump: interval %d: bounds table too large", i)
		}
		for _, bound := range iv.Bounds {
			b.boundRecs = le32(b.boundRecs, math.Float32bits(bound))
		}
		off, n, err := b.str(iv.Name)
		if err != nil {
			return err
		}
		b.intervalRecs = le32(b.intervalRecs, off, n, iv.Var)
		b.intervalRecs = binary.LittleEndian.AppendUint16(b.intervalRecs, uint16(first))
		b.intervalRecs = binary.LittleEndian.AppendUint16(b.intervalRecs, uint16(len(iv.Bounds)))
	}
	return nil
}

func (b *builder) variantTables() error {
	for i, vt := range b.img.VariantTables {
		first := len(b.bindRecs) / bindRecordSize
		for _, bind := range vt.Binds {
			if int(bind.Interval) >= len(b.img.Intervals) {
				return fmt.Errorf("bindump: variant table %d binds interval %d", i, bind.Interval)
			}
			b.bindRecs = le32(b.bindRecs, bind.Interval, bind.Mul)
		}
		b.tableRecs = le32(b.tableRecs, uint32(first), uint32(len(vt.Binds)))
	}
	return nil
}

func (b *builder) codes() error {
	for i, c := range b.img.Codes {
		if c.VertexID != None && int(c.VertexID) >= len(b.img.Vertex) {
			return fmt.Errorf("bindump: code %d: unknown vertex program %d", i, c.VertexID)
		}
		if c.PixelID != None && int(c.PixelID) >= len(b.img.Pixel) {
			return fmt.Errorf("bindump: code %d: unknown pixel program %d", i, c.PixelID)
		}
		if c.DynTable != None && int(c.DynTable) >= len(b.img.VariantTables) {
			return fmt.Errorf("bindump: code %d: unknown variant table %d", i, c.DynTable)
		}
		b.codeRecs = le32(b.codeRecs, c.VertexID, c.PixelID, c.DynTable, c.BlockMask)
	}
	return nil
}

func (b *builder) classes() error {
	for i, cls := range b.img.Classes {
		if uint64(cls.CodeFirst)+uint64(cls.CodeCount) > uint64(len(b.img.Codes)) {
			return fmt.Errorf("bindump: class %q codes out of range", cls.Name)
		}
		if cls.StaticTable != None && int(cls.StaticTable) >= len(b.img.VariantTables) {
			return fmt.Errorf("bindump: class %d: unknown variant table %d", i, cls.StaticTable)
		}
		off, n, err := b.str(cls.Name)
		if err != nil {
			return err
		}
		b.classRecs = le32(b.classRecs, off, n, cls.StaticTable, cls.CodeFirst, cls.CodeCount, cls.Flags)
	}
	return nil
}

func (b *builder) blocks() error {
	for _, blk := range b.img.Blocks {
		if blk.Layer >= MaxBlockLayers {
			return fmt.Errorf("bindump: block %q layer %d exceeds %d", blk.Name, blk.Layer, MaxBlockLayers-1)
		}
		off, n, err := b.str(blk.Name)
		if err != nil {
			return err
		}
		b.blockRecs = le32(b.blockRecs, off, n, blk.Layer, blk.UID)
	}
	return nil
}

func (b *builder) inlinePrograms() error {
	if len(b.img.Groups) > 0 || len(b.img.Dictionary) > 0 {
		return errors.New("bindump: groups and dictionaries need Version2 or later")
	}
	for _, t := range []CodeType{CodeVertex, CodePixel} {
		recs := &b.vertexRecs
		progs := b.img.Vertex
		if t == CodePixel {
			recs = &b.pixelRecs
			progs = b.img.Pixel
		}
		for _, p := range progs {
			off := len(b.bytecode) / 4
			*recs = le32(*recs, uint32(off), uint32(len(p)))
			b.bytecode = le32(b.bytecode, p...)
		}
	}
	return nil
}

func (b *builder) layout() ([]GroupSpec, error) {
	if len(b.img.Groups) > 0 {
		return b.img.Groups, nil
	}
	size := b.img.AutoGroupSize
	if size <= 0 {
		size = DefaultAutoGroupSize
	}
	var specs []GroupSpec
	for _, t := range []CodeType{CodeVertex, CodePixel} {
		n := len(b.img.Vertex)
		if t == CodePixel {
			n = len(b.img.Pixel)
		}
		for first := 0; first < n; first += size {
			spec := GroupSpec{Codec: b.img.Codec}
			for id := first; id < min(first+size, n); id++ {
				spec.Members = append(spec.Members, ProgramKey{Type: t, ID: uint32(id)})
			}
			specs = append(specs, spec)
		}
	}
	return specs, nil
}

func (b *builder) groupedPrograms() error {
	if b.img.Version != Version3 && len(b.img.Dictionary) > 0 {
		return errors.New("bindump: dictionaries need Version3")
	}
	specs, err := b.layout()
	if err != nil {
		return err
	}
	if len(specs) > 1<<16 {
		return fmt.Errorf("bindump: %d groups exceed the 16-bit id space", len(specs))
	}

	enc := zstdEncoder
	if b.img.Version == Version3 && len(b.img.Dictionary) > 0 {
		dictEnc, err := zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.SpeedDefault),
			zstd.WithEncoderDictRaw(b.dictID(), b.img.Dictionary),
		)
		if err != nil {
			return fmt.Errorf("bindump: dictionary encoder: %w", err)
		}
		defer func() { _ = dictEnc.Close() }()
		enc = dictEnc
	}

	type ref struct {
		group, index uint16
		set          bool
	}
	vertexRefs := make([]ref, len(b.img.Vertex))
	pixelRefs := make([]ref, len(b.img.Pixel))

	for gid, spec := range specs {
		if len(spec.Members) > math.MaxUint16 {
			return fmt.Errorf("bindump: group %d has too many members", gid)
		}
		programs := make([][]uint32, len(spec.Members))
		for idx, m := range spec.Members {
			refs, progs := vertexRefs, b.img.Vertex
			if m.Type != CodeVertex {
				refs, progs = pixelRefs, b.img.Pixel
			}
			if int(m.ID) >= len(progs) {
				return fmt.Errorf("bindump: group %d: unknown %s program %d", gid, m.Type, m.ID)
			}
			if refs[m.ID].set {
				return fmt.Errorf("bindump: %s program %d placed in more than one group", m.Type, m.ID)
			}
			refs[m.ID] = ref{group: uint16(gid), index: uint16(idx), set: true}
			programs[idx] = progs[m.ID]
		}

		raw := encodeGroup(programs)
		if uint64(len(raw)) > math.MaxUint32 {
			return fmt.Errorf("bindump: group %d too large", gid)
		}
		stored, codec, err := compress(raw, spec.Codec, enc)
		if err != nil {
			return fmt.Errorf("bindump: group %d: %w", gid, err)
		}

		dataOff := uint64(len(b.groupData))
		b.groupData = append(b.groupData, stored...)

		b.groupRecs = binary.LittleEndian.AppendUint64(b.groupRecs, dataOff)
		b.groupRecs = le32(b.groupRecs, uint32(len(stored)), uint32(len(raw)))
		b.groupRecs = append(b.groupRecs, byte(codec), 0)
		b.groupRecs = binary.LittleEndian.AppendUint16(b.groupRecs, uint16(len(spec.Members)))
		b.groupRecs = le32(b.groupRecs, 0)
		if b.img.Version == Version3 {
			b.groupRecs = binary.LittleEndian.AppendUint64(b.groupRecs, groupDigest(raw))
		}
	}

	for id, r := range vertexRefs {
		if !r.set {
			return fmt.Errorf("bindump: vertex program %d is not in any group", id)
		}
		b.vertexRecs = binary.LittleEndian.AppendUint16(b.vertexRecs, r.group)
		b.vertexRecs = binary.LittleEndian.AppendUint16(b.vertexRecs, r.index)
		b.vertexRecs = le32(b.vertexRecs, 0)
	}
	for id, r := range pixelRefs {
		if !r.set {
			return fmt.Errorf("bindump: pixel program %d is not in any group", id)
		}
		b.pixelRecs = binary.LittleEndian.AppendUint16(b.pixelRecs, r.group)
		b.pixelRecs = binary.LittleEndian.AppendUint16(b.pixelRecs, r.index)
		b.pixelRecs = le32(b.pixelRecs, 0)
	}
	return nil
}
