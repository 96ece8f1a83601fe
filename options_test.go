package compositor

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/gogpu/compositor/driver"
)

func TestDefaultOptions(t *testing.T) {
	o := defaultOptions()
	if o.width != DefaultWidth || o.height != DefaultHeight {
		t.Errorf("size = %dx%d, want %dx%d", o.width, o.height, DefaultWidth, DefaultHeight)
	}
	if o.format != driver.FormatB8G8R8A8Unorm {
		t.Errorf("format = %v, want B8G8R8A8", o.format)
	}
	if o.clearColor != [4]float32{1.0, 0.2, 0.4, 0.5} {
		t.Errorf("clear colour = %v", o.clearColor)
	}
	if len(o.geometry) != 3 {
		t.Errorf("default geometry has %d vertices, want 3", len(o.geometry))
	}
	if o.fenceTimeout != 5*time.Second || o.syncInterval != 1 || o.maxAdapters != 99 {
		t.Errorf("timeout %v, sync %d, adapters %d", o.fenceTimeout, o.syncInterval, o.maxAdapters)
	}
	if o.debugLayer {
		t.Error("debug layer on by default")
	}
	if err := o.validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestOptionsApply(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	o := defaultOptions()
	for _, opt := range []Option{
		WithSize(800, 600),
		WithFormat(driver.FormatR8G8B8A8Unorm),
		WithClearColor([4]float32{0, 0, 0, 1}),
		WithDebugLayer(),
		WithFenceTimeout(-1),
		WithSyncInterval(0),
		WithMaxAdapters(4),
		WithLogger(logger),
	} {
		opt(&o)
	}

	if o.width != 800 || o.height != 600 {
		t.Errorf("size = %dx%d", o.width, o.height)
	}
	if o.format != driver.FormatR8G8B8A8Unorm || o.clearColor != [4]float32{0, 0, 0, 1} {
		t.Errorf("format %v, clear %v", o.format, o.clearColor)
	}
	if !o.debugLayer || o.fenceTimeout != -1 || o.syncInterval != 0 || o.maxAdapters != 4 || o.logger != logger {
		t.Errorf("options not applied: %+v", o)
	}
}

func TestWithGeometryCopies(t *testing.T) {
	vs := DefaultTriangle()
	o := defaultOptions()
	WithGeometry(vs)(&o)
	vs[0].Color = [4]float32{}
	if o.geometry[0].Color == vs[0].Color {
		t.Error("WithGeometry kept a reference to the caller's slice")
	}

	WithoutGeometry()(&o)
	if o.geometry != nil {
		t.Error("WithoutGeometry left vertices")
	}
}

func TestShaderOptionsReplaceEachOther(t *testing.T) {
	o := defaultOptions()
	WithShaderBytecode([]byte{1, 2, 3, 4}, "v", "p")(&o)
	if o.shaderCode == nil || o.vertexEntry != "v" || o.pixelEntry != "p" {
		t.Fatalf("bytecode option not applied: %+v", o)
	}
	WithShaderSource("// wgsl")(&o)
	if o.shaderCode != nil || o.shaderSource != "// wgsl" {
		t.Errorf("WithShaderSource did not replace the bytecode")
	}

	code := spirvModule()
	WithShaderBytecode(code, VertexEntryPoint, FragmentEntryPoint)(&o)
	got, err := o.shaderModule()
	if err != nil || !bytes.Equal(got, code) {
		t.Errorf("shaderModule() = %v, %v; want the supplied bytecode", got, err)
	}
}
