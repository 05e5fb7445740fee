package bindump

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Fixed record sizes. Keep these stable forever.
const (
	varRecordSize          = 16
	intervalRecordSize     = 16
	boundRecordSize        = 4
	variantTableRecordSize = 8
	bindRecordSize         = 8
	codeRecordSize         = 16
	classRecordSize        = 24
	blockRecordSize        = 16
	programRecordSize      = 8
)

// VarType is the value kind of a shader variable.
type VarType uint8

const (
	VarInt VarType = iota
	VarReal
	VarColor4
	VarTexture
	VarBuffer
)

func (t VarType) String() string {
	switch t {
	case VarInt:
		return "int"
	case VarReal:
		return "real"
	case VarColor4:
		return "color4"
	case VarTexture:
		return "texture"
	case VarBuffer:
		return "buffer"
	default:
		return fmt.Sprintf("vartype(%d)", uint8(t))
	}
}

// ParseVarType parses the names produced by VarType.String.
func ParseVarType(s string) (VarType, error) {
	for t := VarInt; t <= VarBuffer; t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("bindump: unknown var type %q", s)
}

func (t VarType) MarshalYAML() (any, error) {
	return t.String(), nil
}

func (t *VarType) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseVarType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Var is one entry of the variable list.
type Var struct {
	Name    string  `yaml:"name"`
	Type    VarType `yaml:"type"`
	Default float32 `yaml:"default"`
}

// Interval splits the value range of a variable into len(Bounds)+1 buckets.
type Interval struct {
	Name string `yaml:"name"`
	// Var is the index of the bound variable, or None.
	Var    uint32    `yaml:"var"`
	Bounds []float32 `yaml:"bounds"`
}

// Normalize maps v to its bucket: the number of bounds that are <= v.
func (iv Interval) Normalize(v float32) int {
	n := 0
	for _, b := range iv.Bounds {
		if v < b {
			break
		}
		n++
	}
	return n
}

// ValueCount is the number of distinct normalised values.
func (iv Interval) ValueCount() int {
	return len(iv.Bounds) + 1
}

// IntervalBind binds an interval into a variant table with a code multiplier.
type IntervalBind struct {
	Interval uint32 `yaml:"interval"`
	Mul      uint32 `yaml:"mul"`
}

// VariantTable lists the interval dimensions of a static or dynamic variant space.
type VariantTable struct {
	Binds []IntervalBind `yaml:"binds"`
}

// ShaderCode is one static variant of a shader class.
type ShaderCode struct {
	// VertexID and PixelID index the program tables, or None.
	VertexID uint32 `yaml:"vertex"`
	PixelID  uint32 `yaml:"pixel"`
	// DynTable is the dynamic variant table, or None.
	DynTable  uint32 `yaml:"dyn_table"`
	BlockMask uint32 `yaml:"block_mask"`
}

// ProgramID returns the program id for the given stage.
func (c ShaderCode) ProgramID(t CodeType) uint32 {
	if t == CodeVertex {
		return c.VertexID
	}
	return c.PixelID
}

// ShaderClass is a named shader with one ShaderCode per static variant.
type ShaderClass struct {
	Name string `yaml:"name"`
	// StaticTable is the static variant table, or None.
	StaticTable uint32 `yaml:"static_table"`
	CodeFirst   uint32 `yaml:"code_first"`
	CodeCount   uint32 `yaml:"code_count"`
	Flags       uint32 `yaml:"flags"`
}

// ShaderBlock is a named block of shared state on one of MaxBlockLayers layers.
type ShaderBlock struct {
	Name  string `yaml:"name"`
	Layer uint32 `yaml:"layer"`
	UID   uint32 `yaml:"uid"`
}

// table locates a fixed-size record array inside the file.
type table struct {
	off     uint64
	n       int
	recSize int
}

func newTable(s *Section, recSize int) (table, error) {
	if s.Size%uint64(recSize) != 0 {
		return table{}, fmt.Errorf("%w: %s size %d not a multiple of %d", ErrCorruptFile, s.Type, s.Size, recSize)
	}
	n := s.Size / uint64(recSize)
	if n > math.MaxInt32 {
		return table{}, fmt.Errorf("%w: %s has too many records", ErrCorruptFile, s.Type)
	}
	return table{off: s.Offset, n: int(n), recSize: recSize}, nil
}

func (t table) record(data []byte, i int) []byte {
	if i < 0 || i >= t.n {
		return nil
	}
	start := t.off + uint64(i)*uint64(t.recSize)
	end := start + uint64(t.recSize)
	if end > uint64(len(data)) {
		return nil
	}
	return data[start:end]
}

func u32(b []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(b[off : off+4])
}

func f32(b []byte, off int) float32 {
	return math.Float32frombits(u32(b, off))
}

func (d *Dump) str(off, n uint32) (string, bool) {
	if uint64(off)+uint64(n) > d.strings.size {
		return "", false
	}
	start := d.strings.off + uint64(off)
	// Copy out so the string never aliases the raw buffer.
	return string(d.data[start : start+uint64(n)]), true
}

func (d *Dump) NumVars() int          { return d.vars.n }
func (d *Dump) NumIntervals() int     { return d.intervals.n }
func (d *Dump) NumVariantTables() int { return d.tables.n }
func (d *Dump) NumBinds() int         { return d.binds.n }
func (d *Dump) NumCodes() int         { return d.codes.n }
func (d *Dump) NumClasses() int       { return d.classes.n }
func (d *Dump) NumBlocks() int        { return d.blocks.n }

// NumPrograms returns the size of the program table for t.
func (d *Dump) NumPrograms(t CodeType) int {
	if t == CodeVertex {
		return d.vertex.n
	}
	return d.pixel.n
}

func (d *Dump) Var(i int) (Var, error) {
	b := d.vars.record(d.data, i)
	if b == nil {
		return Var{}, fmt.Errorf("%w: var %d", ErrCorruptFile, i)
	}
	name, ok := d.str(u32(b, 0), u32(b, 4))
	if !ok {
		return Var{}, fmt.Errorf("%w: var %d name", ErrCorruptFile, i)
	}
	return Var{Name: name, Type: VarType(b[8]), Default: f32(b, 12)}, nil
}

func (d *Dump) Interval(i int) (Interval, error) {
	b := d.intervals.record(d.data, i)
	if b == nil {
		return Interval{}, fmt.Errorf("%w: interval %d", ErrCorruptFile, i)
	}
	name, ok := d.str(u32(b, 0), u32(b, 4))
	if !ok {
		return Interval{}, fmt.Errorf("%w: interval %d name", ErrCorruptFile, i)
	}
	first := int(binary.LittleEndian.Uint16(b[12:14]))
	count := int(binary.LittleEndian.Uint16(b[14:16]))
	if first+count > d.bounds.n {
		return Interval{}, fmt.Errorf("%w: interval %d bounds out of range", ErrCorruptFile, i)
	}
	bounds := make([]float32, count)
	for k := range bounds {
		bounds[k] = f32(d.bounds.record(d.data, first+k), 0)
	}
	return Interval{Name: name, Var: u32(b, 8), Bounds: bounds}, nil
}

// IntervalBounds returns only the bounds of interval i.
func (d *Dump) IntervalBounds(i int) ([]float32, error) {
	iv, err := d.Interval(i)
	if err != nil {
		return nil, err
	}
	return iv.Bounds, nil
}

func (d *Dump) Bind(i int) (IntervalBind, error) {
	b := d.binds.record(d.data, i)
	if b == nil {
		return IntervalBind{}, fmt.Errorf("%w: interval bind %d", ErrCorruptFile, i)
	}
	return IntervalBind{Interval: u32(b, 0), Mul: u32(b, 4)}, nil
}

func (d *Dump) VariantTable(i int) (VariantTable, error) {
	b := d.tables.record(d.data, i)
	if b == nil {
		return VariantTable{}, fmt.Errorf("%w: variant table %d", ErrCorruptFile, i)
	}
	first, count := int(u32(b, 0)), int(u32(b, 4))
	if first+count > d.binds.n || first < 0 || count < 0 {
		return VariantTable{}, fmt.Errorf("%w: variant table %d binds out of range", ErrCorruptFile, i)
	}
	vt := VariantTable{Binds: make([]IntervalBind, count)}
	for k := range vt.Binds {
		bind, err := d.Bind(first + k)
		if err != nil {
			return VariantTable{}, err
		}
		vt.Binds[k] = bind
	}
	return vt, nil
}

func (d *Dump) Code(i int) (ShaderCode, error) {
	b := d.codes.record(d.data, i)
	if b == nil {
		return ShaderCode{}, fmt.Errorf("%w: code %d", ErrCorruptFile, i)
	}
	return ShaderCode{
		VertexID:  u32(b, 0),
		PixelID:   u32(b, 4),
		DynTable:  u32(b, 8),
		BlockMask: u32(b, 12),
	}, nil
}

func (d *Dump) Class(i int) (ShaderClass, error) {
	b := d.classes.record(d.data, i)
	if b == nil {
		return ShaderClass{}, fmt.Errorf("%w: class %d", ErrCorruptFile, i)
	}
	name, ok := d.str(u32(b, 0), u32(b, 4))
	if !ok {
		return ShaderClass{}, fmt.Errorf("%w: class %d name", ErrCorruptFile, i)
	}
	return ShaderClass{
		Name:        name,
		StaticTable: u32(b, 8),
		CodeFirst:   u32(b, 12),
		CodeCount:   u32(b, 16),
		Flags:       u32(b, 20),
	}, nil
}

// ClassCodes returns the static variants of class i.
func (d *Dump) ClassCodes(i int) ([]ShaderCode, error) {
	cls, err := d.Class(i)
	if err != nil {
		return nil, err
	}
	out := make([]ShaderCode, 0, cls.CodeCount)
	for k := uint32(0); k < cls.CodeCount; k++ {
		code, err := d.Code(int(cls.CodeFirst + k))
		if err != nil {
			return nil, err
		}
		out = append(out, code)
	}
	return out, nil
}

// FindClass returns the index of the class with the given name.
// Class names are not sorted, so this is a linear scan.
func (d *Dump) FindClass(name string) (int, bool) {
	for i := 0; i < d.classes.n; i++ {
		b := d.classes.record(d.data, i)
		off, n := u32(b, 0), u32(b, 4)
		if uint64(off)+uint64(n) > d.strings.size {
			return -1, false
		}
		start := d.strings.off + uint64(off)
		if string(d.data[start:start+uint64(n)]) == name {
			return i, true
		}
	}
	return -1, false
}

func (d *Dump) Block(i int) (ShaderBlock, error) {
	b := d.blocks.record(d.data, i)
	if b == nil {
		return ShaderBlock{}, fmt.Errorf("%w: block %d", ErrCorruptFile, i)
	}
	name, ok := d.str(u32(b, 0), u32(b, 4))
	if !ok {
		return ShaderBlock{}, fmt.Errorf("%w: block %d name", ErrCorruptFile, i)
	}
	return ShaderBlock{Name: name, Layer: u32(b, 8), UID: u32(b, 12)}, nil
}

// validateTables checks every cross-table reference once so that accessors
// only ever fail on programming errors.
func (d *Dump) validateTables() error {
	for i := 0; i < d.vars.n; i++ {
		if _, err := d.Var(i); err != nil {
			return err
		}
	}
	for i := 0; i < d.intervals.n; i++ {
		iv, err := d.Interval(i)
		if err != nil {
			return err
		}
		if iv.Var != None && int(iv.Var) >= d.vars.n {
			return fmt.Errorf("%w: interval %d references var %d", ErrCorruptFile, i, iv.Var)
		}
	}
	for i := 0; i < d.binds.n; i++ {
		bind, _ := d.Bind(i)
		if int(bind.Interval) >= d.intervals.n {
			return fmt.Errorf("%w: bind %d references interval %d", ErrCorruptFile, i, bind.Interval)
		}
	}
	for i := 0; i < d.tables.n; i++ {
		if _, err := d.VariantTable(i); err != nil {
			return err
		}
	}
	for i := 0; i < d.codes.n; i++ {
		c, _ := d.Code(i)
		if c.VertexID != None && int(c.VertexID) >= d.vertex.n {
			return fmt.Errorf("%w: code %d vertex id %d out of range", ErrCorruptFile, i, c.VertexID)
		}
		if c.PixelID != None && int(c.PixelID) >= d.pixel.n {
			return fmt.Errorf("%w: code %d pixel id %d out of range", ErrCorruptFile, i, c.PixelID)
		}
		if c.DynTable != None && int(c.DynTable) >= d.tables.n {
			return fmt.Errorf("%w: code %d dynamic table %d out of range", ErrCorruptFile, i, c.DynTable)
		}
	}
	for i := 0; i < d.classes.n; i++ {
		cls, err := d.Class(i)
		if err != nil {
			return err
		}
		if uint64(cls.CodeFirst)+uint64(cls.CodeCount) > uint64(d.codes.n) {
			return fmt.Errorf("%w: class %d codes out of range", ErrCorruptFile, i)
		}
		if cls.StaticTable != None && int(cls.StaticTable) >= d.tables.n {
			return fmt.Errorf("%w: class %d static table out of range", ErrCorruptFile, i)
		}
	}
	for i := 0; i < d.blocks.n; i++ {
		blk, err := d.Block(i)
		if err != nil {
			return err
		}
		if blk.Layer >= MaxBlockLayers {
			return fmt.Errorf("%w: block %d layer %d", ErrCorruptFile, i, blk.Layer)
		}
	}
	return nil
}
