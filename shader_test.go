package compositor

import (
	"encoding/binary"
	"math"
	"strings"
	"testing"

	"github.com/gogpu/compositor/driver"
	"github.com/gogpu/compositor/driver/soft"
)

func TestBuiltinShaderCompiles(t *testing.T) {
	for _, entry := range []string{VertexEntryPoint, FragmentEntryPoint} {
		if !strings.Contains(triangleShaderSource, "fn "+entry) {
			t.Errorf("built-in shader lacks entry point %s", entry)
		}
	}

	spirv, err := CompileShader(triangleShaderSource)
	if err != nil {
		t.Fatalf("CompileShader() = %v", err)
	}
	if len(spirv) < 20 || len(spirv)%4 != 0 {
		t.Fatalf("CompileShader() returned %d bytes", len(spirv))
	}
	if magic := binary.LittleEndian.Uint32(spirv); magic != 0x07230203 {
		t.Errorf("SPIR-V magic = %#x", magic)
	}
}

func TestCompileShaderCached(t *testing.T) {
	first, err := CompileShader(triangleShaderSource)
	if err != nil {
		t.Fatalf("CompileShader() = %v", err)
	}
	hits := shaderModules.Stats().Hits
	first[0] = 0

	second, err := CompileShader(triangleShaderSource)
	if err != nil {
		t.Fatalf("second CompileShader() = %v", err)
	}
	if got := shaderModules.Stats().Hits; got != hits+1 {
		t.Errorf("cache hits = %d, want %d", got, hits+1)
	}
	if second[0] != 0x03 {
		t.Error("caller mutation leaked into the cache")
	}
}

func TestCompileShaderErrors(t *testing.T) {
	if _, err := CompileShader(""); err == nil {
		t.Error("CompileShader(\"\") succeeded")
	}
	if _, err := CompileShader("fn broken( {"); err == nil {
		t.Error("CompileShader accepted invalid WGSL")
	}
}

func TestEncodeVertices(t *testing.T) {
	vs := DefaultTriangle()
	b := encodeVertices(vs)
	if len(b) != len(vs)*VertexStride {
		t.Fatalf("encoded %d bytes, want %d", len(b), len(vs)*VertexStride)
	}
	f := func(off int) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(b[off:])) }

	// Second vertex: position (1, -1, 0), colour green.
	v := VertexStride
	if f(v) != 1 || f(v+4) != -1 || f(v+8) != 0 {
		t.Errorf("position = (%v, %v, %v)", f(v), f(v+4), f(v+8))
	}
	if f(v+colorOffset+4) != 1 || f(v+colorOffset+12) != 1 {
		t.Errorf("colour = (%v, %v, %v, %v)", f(v+12), f(v+16), f(v+20), f(v+24))
	}
}

func TestInputLayoutFitsStride(t *testing.T) {
	for _, e := range inputLayout() {
		if end := int(e.Offset) + e.Format.Size(); end > VertexStride {
			t.Errorf("%s ends at %d past stride %d", e.Semantic, end, VertexStride)
		}
	}
	if got := inputLayout()[1].Format; got != driver.FormatR32G32B32A32Float {
		t.Errorf("COLOR format = %v", got)
	}
}

func TestNewWithInvalidShaderSource(t *testing.T) {
	f := soft.New()
	if _, err := New(f, testWindow, WithSize(16, 16), WithShaderSource("not a shader")); err == nil {
		t.Fatal("New() succeeded with invalid WGSL")
	}
	if n := f.LiveObjects(); n != 0 {
		t.Errorf("LiveObjects() = %d, want 0", n)
	}
}
