package bindump

import (
	"encoding/binary"
	"fmt"
)

// Group is a decompressed bytecode group.
//
// Layout:
//
//	u32 count
//	count x { u32 offset, u32 words }   offsets in words from the payload start
//	[]u32 payload
type Group struct {
	ID    uint16
	data  []byte
	count int
}

// ParseGroup validates raw as a decompressed group holding want entries.
func ParseGroup(id uint16, raw []byte, want int) (*Group, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("%w: group %d too short", ErrCorruptFile, id)
	}
	count := int(binary.LittleEndian.Uint32(raw[0:4]))
	if count != want {
		return nil, fmt.Errorf("%w: group %d has %d entries, directory says %d", ErrCorruptFile, id, count, want)
	}
	payloadOff := 4 + uint64(count)*8
	if payloadOff > uint64(len(raw)) || (uint64(len(raw))-payloadOff)%4 != 0 {
		return nil, fmt.Errorf("%w: group %d payload misaligned", ErrCorruptFile, id)
	}
	words := (uint64(len(raw)) - payloadOff) / 4
	for i := 0; i < count; i++ {
		e := raw[4+i*8:]
		off := uint64(binary.LittleEndian.Uint32(e[0:4]))
		n := uint64(binary.LittleEndian.Uint32(e[4:8]))
		if off+n > words {
			return nil, fmt.Errorf("%w: group %d entry %d out of range", ErrCorruptFile, id, i)
		}
	}
	return &Group{ID: id, data: raw, count: count}, nil
}

// Len returns the number of entries.
func (g *Group) Len() int {
	return g.count
}

// Size returns the decompressed size in bytes.
func (g *Group) Size() int {
	return len(g.data)
}

// Entry returns the little-endian bytes of entry i. The slice aliases the group.
func (g *Group) Entry(i int) ([]byte, error) {
	if i < 0 || i >= g.count {
		return nil, fmt.Errorf("%w: group %d has no entry %d", ErrUnknownID, g.ID, i)
	}
	e := g.data[4+i*8:]
	off := uint64(binary.LittleEndian.Uint32(e[0:4]))
	n := uint64(binary.LittleEndian.Uint32(e[4:8]))
	start := 4 + uint64(g.count)*8 + off*4
	return g.data[start : start+n*4], nil
}

// AppendWords decodes entry i into dst[:0], reusing its capacity.
func (g *Group) AppendWords(dst []uint32, i int) ([]uint32, error) {
	b, err := g.Entry(i)
	if err != nil {
		return dst[:0], err
	}
	return appendWords(dst[:0], b), nil
}

// encodeGroup lays out programs as a decompressed group.
func encodeGroup(programs [][]uint32) []byte {
	total := 0
	for _, p := range programs {
		total += len(p)
	}
	out := make([]byte, 4+len(programs)*8+total*4)
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(programs)))

	payload := 4 + len(programs)*8
	off := 0
	for i, p := range programs {
		binary.LittleEndian.PutUint32(out[4+i*8:], uint32(off))
		binary.LittleEndian.PutUint32(out[8+i*8:], uint32(len(p)))
		for k, w := range p {
			binary.LittleEndian.PutUint32(out[payload+(off+k)*4:], w)
		}
		off += len(p)
	}
	return out
}
