package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/spirv"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/shaderdump/pkg/bindump"
)

// Manifest describes a dump to pack. Program and dictionary paths are
// relative to the manifest file.
type Manifest struct {
	Version      uint16        `yaml:"version"`
	Codec        bindump.Codec `yaml:"codec"`
	GroupSize    int           `yaml:"group_size"`
	Dictionary   string        `yaml:"dictionary"`
	DictionaryID uint32        `yaml:"dictionary_id"`

	Vars          []bindump.Var         `yaml:"vars"`
	Intervals     []manifestInterval    `yaml:"intervals"`
	VariantTables []manifestTable       `yaml:"variant_tables"`
	Classes       []manifestClass       `yaml:"classes"`
	Blocks        []bindump.ShaderBlock `yaml:"blocks"`
	Programs      manifestPrograms      `yaml:"programs"`
	Groups        []bindump.GroupSpec   `yaml:"groups"`
}

type manifestInterval struct {
	Name string `yaml:"name"`
	// Var names the bound variable; empty binds none.
	Var    string    `yaml:"var"`
	Bounds []float32 `yaml:"bounds"`
}

type manifestTable struct {
	Binds []manifestBind `yaml:"binds"`
}

type manifestBind struct {
	Interval string `yaml:"interval"`
	Mul      uint32 `yaml:"mul"`
}

type manifestClass struct {
	Name        string         `yaml:"name"`
	StaticTable *int           `yaml:"static_table"`
	Flags       uint32         `yaml:"flags"`
	Codes       []manifestCode `yaml:"codes"`
}

type manifestCode struct {
	Vertex    *int   `yaml:"vertex"`
	Pixel     *int   `yaml:"pixel"`
	DynTable  *int   `yaml:"dyn_table"`
	BlockMask uint32 `yaml:"block_mask"`
}

type manifestPrograms struct {
	Vertex []string `yaml:"vertex"`
	Pixel  []string `yaml:"pixel"`
}

// LoadManifest parses the manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if m.Version == 0 {
		m.Version = bindump.Version3
	}
	return &m, nil
}

// Image resolves names and reads every program. baseDir anchors relative
// paths. Unless raw is set, binary programs must start with the SPIR-V
// magic number; .wgsl sources are always compiled to SPIR-V.
func (m *Manifest) Image(baseDir string, raw bool) (*bindump.Image, error) {
	img := &bindump.Image{
		Version:       m.Version,
		Vars:          m.Vars,
		Blocks:        m.Blocks,
		Groups:        m.Groups,
		AutoGroupSize: m.GroupSize,
		Codec:         m.Codec,
		DictionaryID:  m.DictionaryID,
	}

	vars := make(map[string]uint32, len(m.Vars))
	for i, v := range m.Vars {
		vars[v.Name] = uint32(i)
	}
	intervals := make(map[string]uint32, len(m.Intervals))
	for i, iv := range m.Intervals {
		out := bindump.Interval{Name: iv.Name, Var: bindump.None, Bounds: iv.Bounds}
		if iv.Var != "" {
			idx, ok := vars[iv.Var]
			if !ok {
				return nil, fmt.Errorf("interval %q: unknown var %q", iv.Name, iv.Var)
			}
			out.Var = idx
		}
		intervals[iv.Name] = uint32(i)
		img.Intervals = append(img.Intervals, out)
	}
	for i, vt := range m.VariantTables {
		var table bindump.VariantTable
		for _, b := range vt.Binds {
			idx, ok := intervals[b.Interval]
			if !ok {
				return nil, fmt.Errorf("variant table %d: unknown interval %q", i, b.Interval)
			}
			table.Binds = append(table.Binds, bindump.IntervalBind{Interval: idx, Mul: b.Mul})
		}
		img.VariantTables = append(img.VariantTables, table)
	}
	for _, cls := range m.Classes {
		out := bindump.ShaderClass{
			Name:        cls.Name,
			StaticTable: optionalIndex(cls.StaticTable),
			CodeFirst:   uint32(len(img.Codes)),
			CodeCount:   uint32(len(cls.Codes)),
			Flags:       cls.Flags,
		}
		for _, c := range cls.Codes {
			img.Codes = append(img.Codes, bindump.ShaderCode{
				VertexID:  optionalIndex(c.Vertex),
				PixelID:   optionalIndex(c.Pixel),
				DynTable:  optionalIndex(c.DynTable),
				BlockMask: c.BlockMask,
			})
		}
		img.Classes = append(img.Classes, out)
	}

	var err error
	if img.Vertex, err = readPrograms(baseDir, m.Programs.Vertex, raw); err != nil {
		return nil, err
	}
	if img.Pixel, err = readPrograms(baseDir, m.Programs.Pixel, raw); err != nil {
		return nil, err
	}
	if m.Dictionary != "" {
		if img.Dictionary, err = os.ReadFile(resolve(baseDir, m.Dictionary)); err != nil {
			return nil, fmt.Errorf("dictionary: %w", err)
		}
	}
	return img, nil
}

func optionalIndex(v *int) uint32 {
	if v == nil || *v < 0 {
		return bindump.None
	}
	return uint32(*v)
}

func resolve(baseDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

func readPrograms(baseDir string, paths []string, raw bool) ([][]uint32, error) {
	out := make([][]uint32, 0, len(paths))
	for _, p := range paths {
		words, err := readProgram(resolve(baseDir, p), raw)
		if err != nil {
			return nil, err
		}
		out = append(out, words)
	}
	return out, nil
}

func readProgram(path string, raw bool) ([]uint32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".wgsl") {
		if data, err = naga.Compile(string(data)); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	words, err := bytesToWords(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if !raw && words[0] != spirv.MagicNumber {
		return nil, fmt.Errorf("%s: not a SPIR-V module (magic %#08x)", path, words[0])
	}
	return words, nil
}

func bytesToWords(data []byte) ([]uint32, error) {
	if len(data) == 0 {
		return nil, errors.New("empty program")
	}
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("size %d is not a whole number of words", len(data))
	}
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return words, nil
}
