package main

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/gogpu/naga/spirv"

	"github.com/samcharles93/shaderdump/internal/shaderdump"
	"github.com/samcharles93/shaderdump/pkg/bindump"
)

const testManifest = `
version: 3
codec: zstd
group_size: 2
vars:
  - name: quality
    type: int
    default: 2
  - name: fog
    type: real
    default: 0.25
intervals:
  - name: quality_iv
    var: quality
    bounds: [1, 3]
  - name: fog_iv
    var: fog
    bounds: [0.5]
  - name: unbound_iv
    bounds: []
variant_tables:
  - binds:
      - interval: quality_iv
        mul: 1
      - interval: fog_iv
        mul: 3
classes:
  - name: terrain
    static_table: 0
    codes:
      - vertex: 0
        pixel: 0
      - vertex: 1
        pixel: -1
        block_mask: 3
  - name: sky
    codes:
      - vertex: 2
        pixel: 1
        dyn_table: 0
blocks:
  - name: global
    layer: 0
    uid: 7
programs:
  vertex: [vs0.spv, vs1.spv, vs2.spv]
  pixel: [ps0.spv, ps1.spv]
`

func spirvProgram(seed uint32, n int) []uint32 {
	words := make([]uint32, n)
	words[0] = spirv.MagicNumber
	for i := 1; i < n; i++ {
		words[i] = seed*1000 + uint32(i)
	}
	return words
}

func writeWords(t *testing.T, path string, words []uint32) {
	t.Helper()
	buf := make([]byte, 0, len(words)*4)
	for _, w := range words {
		buf = binary.LittleEndian.AppendUint32(buf, w)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// writeManifestDir lays out testManifest with its programs and returns the
// manifest path together with the program words by type.
func writeManifestDir(t *testing.T) (string, map[bindump.CodeType][][]uint32) {
	t.Helper()
	dir := t.TempDir()
	progs := map[bindump.CodeType][][]uint32{}
	for i := range 3 {
		w := spirvProgram(uint32(10+i), 8+i)
		writeWords(t, filepath.Join(dir, "vs"+string(rune('0'+i))+".spv"), w)
		progs[bindump.CodeVertex] = append(progs[bindump.CodeVertex], w)
	}
	for i := range 2 {
		w := spirvProgram(uint32(20+i), 5+i)
		writeWords(t, filepath.Join(dir, "ps"+string(rune('0'+i))+".spv"), w)
		progs[bindump.CodePixel] = append(progs[bindump.CodePixel], w)
	}
	path := filepath.Join(dir, "shaders.yaml")
	if err := os.WriteFile(path, []byte(testManifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path, progs
}

func TestManifestPackRoundTrip(t *testing.T) {
	t.Parallel()
	path, progs := writeManifestDir(t)

	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	if m.Codec != bindump.CodecZstd {
		t.Fatalf("codec mismatch: got %s want zstd", m.Codec)
	}
	img, err := m.Image(filepath.Dir(path), false)
	if err != nil {
		t.Fatalf("image: %v", err)
	}
	if got := img.Intervals[2].Var; got != bindump.None {
		t.Fatalf("unbound interval var mismatch: got %d want None", got)
	}
	if got := img.Codes[1].PixelID; got != bindump.None {
		t.Fatalf("pixel id mismatch: got %d want None", got)
	}
	if got := img.Classes[1].StaticTable; got != bindump.None {
		t.Fatalf("static table mismatch: got %d want None", got)
	}

	data, err := bindump.Build(img)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	o := shaderdump.New(shaderdump.Options{})
	if err := o.LoadData(data); err != nil {
		t.Fatalf("load: %v", err)
	}
	defer o.Clear()

	if o.Version() != bindump.Version3 {
		t.Fatalf("version mismatch: got %d want 3", o.Version())
	}
	idx, ok := o.Dump().FindClass("sky")
	if !ok || idx != 1 {
		t.Fatalf("find class mismatch: got %d,%v want 1,true", idx, ok)
	}
	if got := o.GlobVarIntervalIdx(); !slices.Equal(got, []int16{0, 1}) {
		t.Fatalf("var interval mismatch: got %v", got)
	}
	if got := o.GlobIntervalNormValues(); !slices.Equal(got, []uint8{1, 0, 0}) {
		t.Fatalf("norm values mismatch: got %v", got)
	}

	for typ, list := range progs {
		for id, want := range list {
			out, err := extractPrograms(o, typ, []int64{int64(id)})
			if err != nil {
				t.Fatalf("extract %s %d: %v", typ, id, err)
			}
			got, err := bytesToWords(out)
			if err != nil {
				t.Fatalf("decode %s %d: %v", typ, id, err)
			}
			if !slices.Equal(got, want) {
				t.Fatalf("%s program %d mismatch: got %v want %v", typ, id, got, want)
			}
		}
	}
}

func TestManifestRejectsNonSPIRV(t *testing.T) {
	t.Parallel()
	path, _ := writeManifestDir(t)
	writeWords(t, filepath.Join(filepath.Dir(path), "ps1.spv"), []uint32{1, 2, 3})

	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	if _, err := m.Image(filepath.Dir(path), false); err == nil || !strings.Contains(err.Error(), "not a SPIR-V module") {
		t.Fatalf("error mismatch: got %v want SPIR-V magic error", err)
	}
	img, err := m.Image(filepath.Dir(path), true)
	if err != nil {
		t.Fatalf("raw image: %v", err)
	}
	if !slices.Equal(img.Pixel[1], []uint32{1, 2, 3}) {
		t.Fatalf("raw program mismatch: got %v", img.Pixel[1])
	}
}

func TestManifestUnknownNames(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		m    Manifest
		want string
	}{
		{
			name: "interval var",
			m:    Manifest{Intervals: []manifestInterval{{Name: "a", Var: "missing"}}},
			want: `unknown var "missing"`,
		},
		{
			name: "table interval",
			m: Manifest{VariantTables: []manifestTable{{
				Binds: []manifestBind{{Interval: "missing", Mul: 1}},
			}}},
			want: `unknown interval "missing"`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := tc.m.Image(t.TempDir(), false)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error mismatch: got %v want %q", err, tc.want)
			}
		})
	}
}

func TestReadProgramErrors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	odd := filepath.Join(dir, "odd.spv")
	if err := os.WriteFile(odd, []byte{1, 2, 3}, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := readProgram(odd, true); err == nil {
		t.Fatal("expected error for partial word")
	}

	empty := filepath.Join(dir, "empty.spv")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := readProgram(empty, true); err == nil {
		t.Fatal("expected error for empty program")
	}

	bad := filepath.Join(dir, "bad.wgsl")
	if err := os.WriteFile(bad, []byte("fn main( {"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := readProgram(bad, false); err == nil || !strings.Contains(err.Error(), "bad.wgsl") {
		t.Fatalf("error mismatch: got %v want wgsl compile error", err)
	}
}

func TestLoadManifestDefaultsVersion(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "m.yaml")
	if err := os.WriteFile(path, []byte("codec: lz4\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	if m.Version != bindump.Version3 || m.Codec != bindump.CodecLZ4 {
		t.Fatalf("manifest mismatch: got version %d codec %s", m.Version, m.Codec)
	}

	if err := os.WriteFile(path, []byte("codec: brotli\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadManifest(path); err == nil {
		t.Fatal("expected error for unknown codec")
	}
}
