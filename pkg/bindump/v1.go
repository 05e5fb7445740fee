package bindump

import (
	"encoding/binary"
	"fmt"
	"slices"
)

// ProgramRef locates a V1 program inside the Bytecode section, in words.
type ProgramRef struct {
	Offset uint32
	Words  uint32
}

// DumpV1 is the inline, uncompressed layout.
type DumpV1 struct {
	*Dump
	bytecode span
}

func newDumpV1(d *Dump) (*DumpV1, error) {
	s := d.Section(SectionBytecode)
	if s == nil {
		return nil, fmt.Errorf("%w: missing %s section", ErrCorruptFile, SectionBytecode)
	}
	if s.Size%4 != 0 {
		return nil, fmt.Errorf("%w: bytecode size %d not word aligned", ErrCorruptFile, s.Size)
	}
	v1 := &DumpV1{Dump: d, bytecode: span{off: s.Offset, size: s.Size}}

	words := s.Size / 4
	for _, t := range []CodeType{CodeVertex, CodePixel} {
		for id := 0; id < d.NumPrograms(t); id++ {
			ref, _ := v1.Program(t, uint32(id))
			if uint64(ref.Offset)+uint64(ref.Words) > words {
				return nil, fmt.Errorf("%w: %s program %d out of bytecode range", ErrCorruptFile, t, id)
			}
		}
	}
	return v1, nil
}

// Program returns the location of program id.
func (v *DumpV1) Program(t CodeType, id uint32) (ProgramRef, error) {
	b := v.programs(t).record(v.data, int(id))
	if b == nil {
		return ProgramRef{}, fmt.Errorf("%w: %s %d", ErrUnknownID, t, id)
	}
	return ProgramRef{Offset: u32(b, 0), Words: u32(b, 4)}, nil
}

// CopyCode decodes program id into dst, reusing its capacity.
func (v *DumpV1) CopyCode(t CodeType, id uint32, dst []uint32) ([]uint32, error) {
	ref, err := v.Program(t, id)
	if err != nil {
		return dst[:0], err
	}
	start := v.bytecode.off + uint64(ref.Offset)*4
	return appendWords(dst[:0], v.data[start:start+uint64(ref.Words)*4]), nil
}

func appendWords(dst []uint32, b []byte) []uint32 {
	n := len(b) / 4
	dst = slices.Grow(dst, n)
	for i := 0; i < n; i++ {
		dst = append(dst, binary.LittleEndian.Uint32(b[i*4:]))
	}
	return dst
}
