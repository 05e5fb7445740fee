package bindump

import "fmt"

type SectionType uint32

const (
	SectionStrings        SectionType = 0x01
	SectionVars           SectionType = 0x02
	SectionIntervals      SectionType = 0x03
	SectionIntervalBounds SectionType = 0x04
	SectionVariantTables  SectionType = 0x05
	SectionIntervalBinds  SectionType = 0x06
	SectionCodes          SectionType = 0x07
	SectionClasses        SectionType = 0x08
	SectionBlocks         SectionType = 0x09
	SectionVertexPrograms SectionType = 0x0A
	SectionPixelPrograms  SectionType = 0x0B
	SectionBytecode       SectionType = 0x0C
	SectionGroups         SectionType = 0x0D
	SectionGroupData      SectionType = 0x0E
	SectionDictionary     SectionType = 0x0F
)

var sectionNames = map[SectionType]string{
	SectionStrings:        "strings",
	SectionVars:           "vars",
	SectionIntervals:      "intervals",
	SectionIntervalBounds: "interval_bounds",
	SectionVariantTables:  "variant_tables",
	SectionIntervalBinds:  "interval_binds",
	SectionCodes:          "codes",
	SectionClasses:        "classes",
	SectionBlocks:         "blocks",
	SectionVertexPrograms: "vertex_programs",
	SectionPixelPrograms:  "pixel_programs",
	SectionBytecode:       "bytecode",
	SectionGroups:         "groups",
	SectionGroupData:      "group_data",
	SectionDictionary:     "dictionary",
}

func (t SectionType) String() string {
	if name, ok := sectionNames[t]; ok {
		return name
	}
	return fmt.Sprintf("section(0x%02x)", uint32(t))
}

// Section is one entry of the section directory.
// Offset is absolute from the start of the file.
type Section struct {
	Type    SectionType
	Version uint32
	Offset  uint64
	Size    uint64
}

func (s *Section) End() uint64 {
	return s.Offset + s.Size
}

// Record layout versions of sections whose layout changed between formats.
const (
	groupsRecordV1 uint32 = 1 // 24 bytes, Version2 dumps
	groupsRecordV2 uint32 = 2 // 32 bytes with digest, Version3 dumps
)

// commonSections are required by every format version.
var commonSections = []SectionType{
	SectionStrings,
	SectionVars,
	SectionIntervals,
	SectionIntervalBounds,
	SectionVariantTables,
	SectionIntervalBinds,
	SectionCodes,
	SectionClasses,
	SectionBlocks,
	SectionVertexPrograms,
	SectionPixelPrograms,
}
