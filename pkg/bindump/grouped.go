package bindump

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

const (
	groupRecordSizeV1 = 24
	groupRecordSizeV2 = 32

	dictionaryHeaderSize = 8
)

// GroupEntry is one record of the group directory.
type GroupEntry struct {
	// DataOff is relative to the start of the GroupData section.
	DataOff    uint64
	StoredSize uint32
	RawSize    uint32
	Codec      Codec
	EntryCount uint16

	// Digest is the first 8 bytes of the BLAKE3-256 of the decompressed
	// group. Only Version3 dumps carry it.
	Digest uint64
}

// GroupSource is implemented by the grouped layouts (V2 and V3).
type GroupSource interface {
	Locate(t CodeType, id uint32) (group, index uint16, err error)
	NumGroups() int
	Group(id uint16) (GroupEntry, error)
	DecompressGroup(id uint16) (*Group, error)
}

// grouped holds what V2 and V3 share.
type grouped struct {
	*Dump
	groups    table
	groupData span
	digests   bool

	// dec decodes zstd groups; nil means the shared decoder.
	dec *zstd.Decoder
}

// DumpV2 stores bytecode in groups, each optionally compressed.
type DumpV2 struct {
	grouped
}

// DumpV3 adds per-group digests and an optional shared zstd dictionary.
type DumpV3 struct {
	grouped
	dictID uint32
	dict   []byte
}

func newGrouped(d *Dump, recVersion uint32) (grouped, error) {
	gs := d.Section(SectionGroups)
	ds := d.Section(SectionGroupData)
	if gs == nil || ds == nil {
		return grouped{}, fmt.Errorf("%w: missing group sections", ErrCorruptFile)
	}
	if gs.Version != recVersion {
		return grouped{}, fmt.Errorf("%w: groups record version %d, want %d", ErrCorruptFile, gs.Version, recVersion)
	}
	recSize := groupRecordSizeV1
	if recVersion == groupsRecordV2 {
		recSize = groupRecordSizeV2
	}
	tbl, err := newTable(gs, recSize)
	if err != nil {
		return grouped{}, err
	}
	if tbl.n > 1<<16 {
		return grouped{}, fmt.Errorf("%w: %d groups exceed the 16-bit id space", ErrCorruptFile, tbl.n)
	}
	g := grouped{
		Dump:      d,
		groups:    tbl,
		groupData: span{off: ds.Offset, size: ds.Size},
		digests:   recVersion == groupsRecordV2,
	}

	for i := 0; i < tbl.n; i++ {
		e, _ := g.Group(uint16(i))
		end := e.DataOff + uint64(e.StoredSize)
		if end < e.DataOff || end > g.groupData.size {
			return grouped{}, fmt.Errorf("%w: group %d data out of range", ErrCorruptFile, i)
		}
		if e.Codec > CodecZstd {
			return grouped{}, fmt.Errorf("%w: group %d has codec %s", ErrCorruptFile, i, e.Codec)
		}
	}
	for _, t := range []CodeType{CodeVertex, CodePixel} {
		for id := 0; id < d.NumPrograms(t); id++ {
			grp, idx, _ := g.Locate(t, uint32(id))
			if int(grp) >= tbl.n {
				return grouped{}, fmt.Errorf("%w: %s program %d references group %d", ErrCorruptFile, t, id, grp)
			}
			e, _ := g.Group(grp)
			if idx >= e.EntryCount {
				return grouped{}, fmt.Errorf("%w: %s program %d index %d beyond group %d", ErrCorruptFile, t, id, idx, grp)
			}
		}
	}
	return g, nil
}

// NumGroups returns the number of bytecode groups.
func (g *grouped) NumGroups() int {
	return g.groups.n
}

// Locate resolves a program id to its group and index inside the group.
func (g *grouped) Locate(t CodeType, id uint32) (uint16, uint16, error) {
	b := g.programs(t).record(g.data, int(id))
	if b == nil {
		return 0, 0, fmt.Errorf("%w: %s %d", ErrUnknownID, t, id)
	}
	return binary.LittleEndian.Uint16(b[0:2]), binary.LittleEndian.Uint16(b[2:4]), nil
}

// Group returns the directory record of group id.
func (g *grouped) Group(id uint16) (GroupEntry, error) {
	b := g.groups.record(g.data, int(id))
	if b == nil {
		return GroupEntry{}, fmt.Errorf("%w: %d", ErrUnknownGroup, id)
	}
	e := GroupEntry{
		DataOff:    binary.LittleEndian.Uint64(b[0:8]),
		StoredSize: u32(b, 8),
		RawSize:    u32(b, 12),
		Codec:      Codec(b[16]),
		EntryCount: binary.LittleEndian.Uint16(b[18:20]),
	}
	if g.digests {
		e.Digest = binary.LittleEndian.Uint64(b[24:32])
	}
	return e, nil
}

// GroupData returns the stored (possibly compressed) bytes of group id.
// The slice aliases the raw buffer.
func (g *grouped) GroupData(id uint16) ([]byte, error) {
	e, err := g.Group(id)
	if err != nil {
		return nil, err
	}
	start := g.groupData.off + e.DataOff
	return g.data[start : start+uint64(e.StoredSize)], nil
}

// DecompressGroup decodes group id into a freshly allocated buffer.
// It touches only immutable state and is safe for concurrent use.
func (g *grouped) DecompressGroup(id uint16) (*Group, error) {
	e, err := g.Group(id)
	if err != nil {
		return nil, err
	}
	stored, _ := g.GroupData(id)

	dec := g.dec
	if dec == nil {
		dec = zstdDecoder
	}
	raw, err := decompress(stored, e.Codec, int(e.RawSize), dec)
	if err != nil {
		return nil, fmt.Errorf("group %d: %w", id, err)
	}
	if g.digests {
		if got := groupDigest(raw); got != e.Digest {
			return nil, fmt.Errorf("%w: group %d digest %016x, want %016x", ErrChecksumMismatch, id, got, e.Digest)
		}
	}
	return ParseGroup(id, raw, int(e.EntryCount))
}

func groupDigest(raw []byte) uint64 {
	sum := blake3.Sum256(raw)
	return binary.LittleEndian.Uint64(sum[:8])
}

// Dictionary returns the shared zstd dictionary id and content, if any.
func (v *DumpV3) Dictionary() (uint32, []byte) {
	return v.dictID, v.dict
}

func (v *DumpV3) initDictionary() error {
	s := v.Section(SectionDictionary)
	hasFlag := v.hdr.Flags&FlagHasDictionary != 0
	if s == nil {
		if hasFlag {
			return fmt.Errorf("%w: dictionary flag set without a dictionary section", ErrCorruptFile)
		}
		return nil
	}
	if !hasFlag {
		return fmt.Errorf("%w: dictionary section without the dictionary flag", ErrCorruptFile)
	}
	payload := v.SectionData(s)
	if len(payload) <= dictionaryHeaderSize {
		return fmt.Errorf("%w: empty dictionary", ErrCorruptFile)
	}
	v.dictID = binary.LittleEndian.Uint32(payload[0:4])
	// The decoder keeps the content, so it must not alias a mapping that
	// may be released before the decoder is.
	v.dict = append([]byte(nil), payload[dictionaryHeaderSize:]...)

	dec, err := zstd.NewReader(nil, zstd.WithDecoderDictRaw(v.dictID, v.dict))
	if err != nil {
		return fmt.Errorf("%w: dictionary: %v", ErrCorruptFile, err)
	}
	v.dec = dec
	return nil
}

func (v *DumpV3) close() {
	if v.dec != nil {
		v.dec.Close()
		v.dec = nil
	}
}
