package bindump

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/zeebo/blake3"
)

func testProgram(seed uint32, words int) []uint32 {
	p := make([]uint32, words)
	p[0] = 0x07230203
	for i := 1; i < words; i++ {
		p[i] = seed*0x9e37 + uint32(i%5)
	}
	return p
}

func testImage(version uint16) *Image {
	img := &Image{
		Version: version,
		Vars: []Var{
			{Name: "fog_density", Type: VarReal, Default: 0.25},
			{Name: "shadow_quality", Type: VarInt, Default: 2},
			{Name: "albedo_tex", Type: VarTexture},
		},
		Intervals: []Interval{
			{Name: "fog", Var: 0, Bounds: []float32{0.1, 0.5}},
			{Name: "shadows", Var: 1, Bounds: []float32{1, 2, 3}},
			{Name: "lighting_mode", Var: None, Bounds: []float32{1}},
		},
		VariantTables: []VariantTable{
			{Binds: []IntervalBind{{Interval: 0, Mul: 1}, {Interval: 1, Mul: 3}}},
			{Binds: []IntervalBind{{Interval: 2, Mul: 1}}},
		},
		Codes: []ShaderCode{
			{VertexID: 0, PixelID: 0, DynTable: 0, BlockMask: 1},
			{VertexID: 1, PixelID: 1, DynTable: None, BlockMask: 3},
			{VertexID: 2, PixelID: None, DynTable: 1},
		},
		Classes: []ShaderClass{
			{Name: "opaque", StaticTable: 1, CodeFirst: 0, CodeCount: 2},
			{Name: "depth_only", StaticTable: None, CodeFirst: 2, CodeCount: 1, Flags: 4},
		},
		Blocks: []ShaderBlock{
			{Name: "global_frame", Layer: 0, UID: 7},
			{Name: "scene", Layer: 1, UID: 8},
			{Name: "object", Layer: 2, UID: 9},
		},
	}
	for i := uint32(0); i < 5; i++ {
		img.Vertex = append(img.Vertex, testProgram(i+1, 64+int(i)*8))
	}
	for i := uint32(0); i < 4; i++ {
		img.Pixel = append(img.Pixel, testProgram(i+100, 96+int(i)*4))
	}
	if version != Version1 {
		img.AutoGroupSize = 2
		img.Codec = CodecLZ4
	}
	return img
}

func mustBuild(t *testing.T, img *Image) []byte {
	t.Helper()
	data, err := Build(img)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return data
}

func mustMap(t *testing.T, data []byte) *Mapped {
	t.Helper()
	m, err := Map(data)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// resign recomputes the header checksum after a test mutates the payload.
func resign(data []byte) {
	sum := blake3.Sum256(data[headerSize:])
	copy(data[40:72], sum[:])
}

func codeFor(t *testing.T, m *Mapped, typ CodeType, id uint32) []uint32 {
	t.Helper()
	if m.V1 != nil {
		code, err := m.V1.CopyCode(typ, id, nil)
		if err != nil {
			t.Fatalf("copy code %s %d: %v", typ, id, err)
		}
		return code
	}
	src := m.Groups()
	grp, idx, err := src.Locate(typ, id)
	if err != nil {
		t.Fatalf("locate %s %d: %v", typ, id, err)
	}
	g, err := src.DecompressGroup(grp)
	if err != nil {
		t.Fatalf("decompress group %d: %v", grp, err)
	}
	code, err := g.AppendWords(nil, int(idx))
	if err != nil {
		t.Fatalf("group %d entry %d: %v", grp, idx, err)
	}
	return code
}

func TestBuildMapRoundTrip(t *testing.T) {
	t.Parallel()

	for _, version := range []uint16{Version1, Version2, Version3} {
		img := testImage(version)
		m := mustMap(t, mustBuild(t, img))

		if m.Version() != version {
			t.Fatalf("version mismatch: got %d want %d", m.Version(), version)
		}
		active := 0
		for _, set := range []bool{m.V1 != nil, m.V2 != nil, m.V3 != nil} {
			if set {
				active++
			}
		}
		if active != 1 {
			t.Fatalf("v%d: %d typed views active, want exactly 1", version, active)
		}
		if (m.Groups() == nil) != (version == Version1) {
			t.Fatalf("v%d: unexpected grouped view %v", version, m.Groups())
		}

		d := m.Dump
		var vars []Var
		for i := 0; i < d.NumVars(); i++ {
			v, err := d.Var(i)
			if err != nil {
				t.Fatalf("var %d: %v", i, err)
			}
			vars = append(vars, v)
		}
		if diff := cmp.Diff(img.Vars, vars); diff != "" {
			t.Fatalf("v%d vars mismatch (-want +got):\n%s", version, diff)
		}

		var intervals []Interval
		for i := 0; i < d.NumIntervals(); i++ {
			iv, err := d.Interval(i)
			if err != nil {
				t.Fatalf("interval %d: %v", i, err)
			}
			intervals = append(intervals, iv)
		}
		if diff := cmp.Diff(img.Intervals, intervals); diff != "" {
			t.Fatalf("v%d intervals mismatch (-want +got):\n%s", version, diff)
		}

		for i, want := range img.VariantTables {
			got, err := d.VariantTable(i)
			if err != nil {
				t.Fatalf("variant table %d: %v", i, err)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("variant table %d mismatch (-want +got):\n%s", i, diff)
			}
		}
		for i, want := range img.Codes {
			got, _ := d.Code(i)
			if got != want {
				t.Fatalf("code %d mismatch: got %+v want %+v", i, got, want)
			}
		}
		for i, want := range img.Classes {
			got, _ := d.Class(i)
			if got != want {
				t.Fatalf("class %d mismatch: got %+v want %+v", i, got, want)
			}
		}
		for i, want := range img.Blocks {
			got, _ := d.Block(i)
			if got != want {
				t.Fatalf("block %d mismatch: got %+v want %+v", i, got, want)
			}
		}

		for id, want := range img.Vertex {
			if diff := cmp.Diff(want, codeFor(t, m, CodeVertex, uint32(id))); diff != "" {
				t.Fatalf("v%d vertex %d mismatch (-want +got):\n%s", version, id, diff)
			}
		}
		for id, want := range img.Pixel {
			if diff := cmp.Diff(want, codeFor(t, m, CodeCompute, uint32(id))); diff != "" {
				t.Fatalf("v%d pixel %d mismatch (-want +got):\n%s", version, id, diff)
			}
		}
	}
}

func TestFindClassAndClassCodes(t *testing.T) {
	t.Parallel()

	m := mustMap(t, mustBuild(t, testImage(Version2)))
	idx, ok := m.Dump.FindClass("depth_only")
	if !ok || idx != 1 {
		t.Fatalf("find class: got %d %v want 1 true", idx, ok)
	}
	if _, ok := m.Dump.FindClass("missing"); ok {
		t.Fatalf("found a class that does not exist")
	}
	codes, err := m.Dump.ClassCodes(0)
	if err != nil {
		t.Fatalf("class codes: %v", err)
	}
	if len(codes) != 2 || codes[1].BlockMask != 3 {
		t.Fatalf("class codes mismatch: %+v", codes)
	}
}

func TestUnknownProgramID(t *testing.T) {
	t.Parallel()

	for _, version := range []uint16{Version1, Version3} {
		m := mustMap(t, mustBuild(t, testImage(version)))
		var err error
		if m.V1 != nil {
			_, err = m.V1.CopyCode(CodeVertex, 99, nil)
		} else {
			_, _, err = m.Groups().Locate(CodePixel, None)
		}
		if !errors.Is(err, ErrUnknownID) {
			t.Fatalf("v%d: expected ErrUnknownID, got %v", version, err)
		}
	}
}

func TestMapRejectsBadInput(t *testing.T) {
	t.Parallel()

	good := mustBuild(t, testImage(Version2))
	cases := []struct {
		name   string
		mutate func([]byte) []byte
		want   error
	}{
		{"truncated", func(b []byte) []byte { return b[:len(b)-1] }, ErrCorruptFile},
		{"short", func(b []byte) []byte { return b[:10] }, ErrCorruptFile},
		{"trailing", func(b []byte) []byte { return append(b, 0) }, ErrCorruptFile},
		{"magic", func(b []byte) []byte { b[0] = 'X'; return b }, ErrInvalidMagic},
		{"version", func(b []byte) []byte { b[4] = 9; return b }, ErrUnsupportedVersion},
		{"checksum", func(b []byte) []byte { b[len(b)-1] ^= 0xff; return b }, ErrChecksumMismatch},
		{"section count", func(b []byte) []byte {
			b[12] = 0
			b[13] = 0
			return b
		}, ErrInvalidMagic},
	}
	for _, tc := range cases {
		data := tc.mutate(append([]byte(nil), good...))
		_, err := Map(data)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v want %v", tc.name, err, tc.want)
		}
	}
}

func TestMapRejectsMisplacedGroup(t *testing.T) {
	t.Parallel()

	data := mustBuild(t, testImage(Version2))
	m := mustMap(t, append([]byte(nil), data...))
	sec := m.Dump.Section(SectionGroups)
	// Point group 0 past the end of GroupData.
	data[sec.Offset] = 0xff
	data[sec.Offset+1] = 0xff
	resign(data)

	if _, err := Map(data); !errors.Is(err, ErrCorruptFile) {
		t.Fatalf("expected corrupt file, got %v", err)
	}
}

func TestGroupCodecs(t *testing.T) {
	t.Parallel()

	img := testImage(Version2)
	img.Groups = []GroupSpec{
		{Codec: CodecNone, Members: []ProgramKey{{CodeVertex, 0}, {CodeVertex, 1}}},
		{Codec: CodecLZ4, Members: []ProgramKey{{CodeVertex, 2}, {CodePixel, 0}}},
		{Codec: CodecZstd, Members: []ProgramKey{{CodeVertex, 3}, {CodeVertex, 4}, {CodePixel, 1}, {CodePixel, 2}, {CodePixel, 3}}},
	}
	m := mustMap(t, mustBuild(t, img))

	wantCodecs := []Codec{CodecNone, CodecLZ4, CodecZstd}
	for gid, want := range wantCodecs {
		e, err := m.V2.Group(uint16(gid))
		if err != nil {
			t.Fatalf("group %d: %v", gid, err)
		}
		if e.Codec != want {
			t.Fatalf("group %d codec: got %s want %s", gid, e.Codec, want)
		}
		if want != CodecNone && e.StoredSize >= e.RawSize {
			t.Fatalf("group %d did not shrink: stored %d raw %d", gid, e.StoredSize, e.RawSize)
		}
	}

	grp, idx, err := m.V2.Locate(CodePixel, 0)
	if err != nil || grp != 1 || idx != 1 {
		t.Fatalf("locate pixel 0: got %d/%d %v want 1/1", grp, idx, err)
	}
	if _, err := m.V2.Group(9); !errors.Is(err, ErrUnknownGroup) {
		t.Fatalf("expected ErrUnknownGroup, got %v", err)
	}
	for id, want := range img.Pixel {
		if diff := cmp.Diff(want, codeFor(t, m, CodePixel, uint32(id))); diff != "" {
			t.Fatalf("pixel %d mismatch (-want +got):\n%s", id, diff)
		}
	}
}

func TestBuildRejectsBadGroups(t *testing.T) {
	t.Parallel()

	img := testImage(Version2)
	img.Groups = []GroupSpec{{Members: []ProgramKey{{CodeVertex, 0}}}}
	if _, err := Build(img); err == nil {
		t.Fatalf("expected error for programs missing from every group")
	}

	img = testImage(Version2)
	img.AutoGroupSize = 0
	img.Groups = []GroupSpec{
		{Members: []ProgramKey{{CodeVertex, 0}, {CodeVertex, 0}}},
	}
	if _, err := Build(img); err == nil {
		t.Fatalf("expected error for a program placed twice")
	}

	img = testImage(Version1)
	img.Dictionary = []byte("dictionary")
	if _, err := Build(img); err == nil {
		t.Fatalf("expected error for a V1 dictionary")
	}

	img = testImage(Version1)
	img.Blocks = append(img.Blocks, ShaderBlock{Name: "bad", Layer: MaxBlockLayers})
	if _, err := Build(img); err == nil {
		t.Fatalf("expected error for block layer out of range")
	}
}

func TestV3DigestMismatch(t *testing.T) {
	t.Parallel()

	img := testImage(Version3)
	img.Codec = CodecNone
	data := mustBuild(t, img)
	m := mustMap(t, append([]byte(nil), data...))

	e, err := m.V3.Group(0)
	if err != nil {
		t.Fatalf("group 0: %v", err)
	}
	if e.Digest == 0 {
		t.Fatalf("v3 group has no digest")
	}
	// Flip the last payload byte of group 0; the group stays well-formed.
	sec := m.Dump.Section(SectionGroupData)
	data[sec.Offset+e.DataOff+uint64(e.StoredSize)-1] ^= 0x5a
	resign(data)

	corrupt := mustMap(t, data)
	if _, err := corrupt.V3.DecompressGroup(0); !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected digest mismatch, got %v", err)
	}
	if _, err := corrupt.V3.DecompressGroup(1); err != nil {
		t.Fatalf("untouched group: %v", err)
	}
}

func TestV3Dictionary(t *testing.T) {
	t.Parallel()

	img := testImage(Version3)
	img.Codec = CodecZstd
	img.DictionaryID = 42
	for _, p := range img.Vertex[:2] {
		img.Dictionary = appendWordBytes(img.Dictionary, p)
	}
	m := mustMap(t, mustBuild(t, img))

	if m.Dump.Header().Flags&FlagHasDictionary == 0 {
		t.Fatalf("dictionary flag not set")
	}
	id, dict := m.V3.Dictionary()
	if id != 42 || len(dict) != len(img.Dictionary) {
		t.Fatalf("dictionary mismatch: id %d len %d", id, len(dict))
	}
	for id, want := range img.Vertex {
		if diff := cmp.Diff(want, codeFor(t, m, CodeVertex, uint32(id))); diff != "" {
			t.Fatalf("vertex %d mismatch (-want +got):\n%s", id, diff)
		}
	}
}

func appendWordBytes(dst []byte, words []uint32) []byte {
	for _, w := range words {
		dst = append(dst, byte(w), byte(w>>8), byte(w>>16), byte(w>>24))
	}
	return dst
}

func TestV1HasNoGroups(t *testing.T) {
	t.Parallel()

	m := mustMap(t, mustBuild(t, testImage(Version1)))
	if m.Dump.Section(SectionGroups) != nil {
		t.Fatalf("v1 dump carries a groups section")
	}
	ref, err := m.V1.Program(CodePixel, 1)
	if err != nil {
		t.Fatalf("program: %v", err)
	}
	if ref.Words != 100 {
		t.Fatalf("pixel 1 words: got %d want 100", ref.Words)
	}
}

func TestIntervalNormalize(t *testing.T) {
	t.Parallel()

	iv := Interval{Bounds: []float32{1, 2, 3}}
	cases := map[float32]int{-1: 0, 0.99: 0, 1: 1, 2.5: 2, 3: 3, 100: 3}
	for v, want := range cases {
		if got := iv.Normalize(v); got != want {
			t.Fatalf("normalize %v: got %d want %d", v, got, want)
		}
	}
	if iv.ValueCount() != 4 {
		t.Fatalf("value count: got %d want 4", iv.ValueCount())
	}
}

func TestParseCodeType(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]CodeType{"vs": CodeVertex, "pixel": CodePixel, "compute": CodeCompute} {
		got, err := ParseCodeType(in)
		if err != nil || got != want {
			t.Fatalf("parse %q: got %v %v want %v", in, got, err, want)
		}
	}
	if _, err := ParseCodeType("geometry"); err == nil {
		t.Fatalf("expected error for unknown code type")
	}
}
