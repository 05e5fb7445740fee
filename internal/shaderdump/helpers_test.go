package shaderdump

import (
	"testing"

	"github.com/samcharles93/shaderdump/pkg/bindump"
)

func program(seed uint32, words int) []uint32 {
	p := make([]uint32, words)
	p[0] = 0x07230203
	for i := 1; i < words; i++ {
		p[i] = seed<<16 | uint32(i%9)
	}
	return p
}

// testImage returns a dump image with nVertex and nPixel programs, one
// group per groupSize programs of each stage.
func testImage(version uint16, nVertex, nPixel, groupSize int) *bindump.Image {
	img := &bindump.Image{
		Version: version,
		Vars: []bindump.Var{
			{Name: "fog_density", Type: bindump.VarReal, Default: 0.25},
			{Name: "shadow_quality", Type: bindump.VarInt, Default: 2},
			{Name: "albedo_tex", Type: bindump.VarTexture},
		},
		Intervals: []bindump.Interval{
			{Name: "fog", Var: 0, Bounds: []float32{0.1, 0.5}},
			{Name: "shadows", Var: 1, Bounds: []float32{1, 2, 3}},
			{Name: "lighting_mode", Var: bindump.None, Bounds: []float32{1}},
		},
		VariantTables: []bindump.VariantTable{
			{Binds: []bindump.IntervalBind{{Interval: 0, Mul: 1}, {Interval: 1, Mul: 3}}},
		},
		Codes: []bindump.ShaderCode{
			{VertexID: 0, PixelID: bindump.None, DynTable: 0},
		},
		Classes: []bindump.ShaderClass{
			{Name: "opaque", StaticTable: bindump.None, CodeFirst: 0, CodeCount: 1},
		},
		Blocks: []bindump.ShaderBlock{
			{Name: "global_frame", Layer: 0, UID: 1},
		},
		AutoGroupSize: groupSize,
	}
	for i := range nVertex {
		img.Vertex = append(img.Vertex, program(uint32(i+1), 48+i*4))
	}
	for i := range nPixel {
		img.Pixel = append(img.Pixel, program(uint32(i+1000), 40+i*4))
	}
	switch version {
	case bindump.Version2:
		img.Codec = bindump.CodecLZ4
	case bindump.Version3:
		img.Codec = bindump.CodecZstd
	}
	return img
}

func build(t *testing.T, img *bindump.Image) []byte {
	t.Helper()
	data, err := bindump.Build(img)
	if err != nil {
		t.Fatalf("build dump: %v", err)
	}
	return data
}

func loaded(t *testing.T, data []byte, opts Options) *Owner {
	t.Helper()
	o := New(opts)
	if err := o.LoadData(data); err != nil {
		t.Fatalf("load dump: %v", err)
	}
	t.Cleanup(o.Clear)
	return o
}
