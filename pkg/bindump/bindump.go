// Package bindump implements the shader binary dump format.
//
// A bindump is a single-file, memory-mappable container of compiled shader
// programs and the metadata that describes their variants. It describes
// structure and data only and never compiles or selects variants.
package bindump

import "fmt"

// Bindump global constants must never change.
const (
	// Magic is the file magic for all bindump containers.
	Magic = "SHBD"

	// Format versions. The version tag in the header selects exactly one
	// layout for the whole file.
	Version1 uint16 = 1 // bytecode stored inline, uncompressed
	Version2 uint16 = 2 // bytecode stored in (optionally compressed) groups
	Version3 uint16 = 3 // groups with digests and an optional zstd dictionary

	// CurrentMinor may add new optional sections or fields.
	CurrentMinor uint16 = 0

	// FlagHasDictionary marks a V3 dump carrying a Dictionary section.
	FlagHasDictionary uint64 = 1 << 0

	// MaxBlockLayers is the number of shader block layers a dump may use.
	MaxBlockLayers = 3

	// None marks an absent index in any u32 reference field.
	None uint32 = 0xFFFFFFFF
)

// CodeType selects the program table a code id refers to.
type CodeType uint8

const (
	CodeVertex CodeType = iota
	CodePixel

	// CodeCompute shares the pixel program table.
	CodeCompute = CodePixel
)

func (t CodeType) String() string {
	switch t {
	case CodeVertex:
		return "vertex"
	case CodePixel:
		return "pixel"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// ParseCodeType accepts "vertex"/"vs", "pixel"/"ps"/"fragment" and "compute"/"cs".
func ParseCodeType(s string) (CodeType, error) {
	switch s {
	case "vertex", "vs":
		return CodeVertex, nil
	case "pixel", "ps", "fragment", "compute", "cs":
		return CodePixel, nil
	default:
		return 0, fmt.Errorf("bindump: unknown code type %q", s)
	}
}

func (t CodeType) MarshalYAML() (any, error) {
	return t.String(), nil
}

func (t *CodeType) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseCodeType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
