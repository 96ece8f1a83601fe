package compositor

import (
	"log/slog"
	"time"

	"github.com/gogpu/compositor/driver"
)

// Defaults used when no option overrides them.
const (
	BufferCount         = 2
	DefaultWidth        = 1024
	DefaultHeight       = 1024
	DefaultSyncInterval = 1
	DefaultMaxAdapters  = 99
	DefaultFenceTimeout = 5 * time.Second
	DefaultFormat       = driver.FormatB8G8R8A8Unorm
)

// DefaultClearColor is the RGBA colour every frame is cleared to.
var DefaultClearColor = [4]float32{1.0, 0.2, 0.4, 0.5}

// Option configures a Renderer during creation.
//
// Example:
//
//	r, err := compositor.New(f, hwnd,
//	    compositor.WithSize(800, 600),
//	    compositor.WithClearColor([4]float32{0, 0, 0, 1}),
//	    compositor.WithoutGeometry(),
//	)
type Option func(*options)

type options struct {
	width, height uint32
	format        driver.Format
	clearColor    [4]float32
	geometry      []Vertex
	shaderSource  string
	shaderCode    []byte
	vertexEntry   string
	pixelEntry    string
	debugLayer    bool
	fenceTimeout  time.Duration
	syncInterval  int
	maxAdapters   int
	logger        *slog.Logger
}

func defaultOptions() options {
	return options{
		width:        DefaultWidth,
		height:       DefaultHeight,
		format:       DefaultFormat,
		clearColor:   DefaultClearColor,
		geometry:     DefaultTriangle(),
		vertexEntry:  VertexEntryPoint,
		pixelEntry:   FragmentEntryPoint,
		fenceTimeout: DefaultFenceTimeout,
		syncInterval: DefaultSyncInterval,
		maxAdapters:  DefaultMaxAdapters,
	}
}

// WithSize sets the swapchain size in pixels.
func WithSize(width, height uint32) Option {
	return func(o *options) {
		o.width, o.height = width, height
	}
}

// WithFormat sets the swapchain pixel format.
func WithFormat(f driver.Format) Option {
	return func(o *options) {
		o.format = f
	}
}

// WithClearColor sets the colour each frame is cleared to.
func WithClearColor(rgba [4]float32) Option {
	return func(o *options) {
		o.clearColor = rgba
	}
}

// WithGeometry replaces the default triangle. The vertex count must be a
// multiple of three.
func WithGeometry(vertices []Vertex) Option {
	return func(o *options) {
		o.geometry = append([]Vertex(nil), vertices...)
	}
}

// WithoutGeometry renders clear-only frames. No shader, pipeline or vertex
// buffer is created.
func WithoutGeometry() Option {
	return func(o *options) {
		o.geometry = nil
	}
}

// WithShaderSource replaces the built-in WGSL shader. The module must
// declare the entry points VertexEntryPoint and FragmentEntryPoint.
func WithShaderSource(wgsl string) Option {
	return func(o *options) {
		o.shaderSource = wgsl
		o.shaderCode = nil
	}
}

// WithShaderBytecode supplies a precompiled SPIR-V module holding both
// entry points. Shader compilation is skipped.
func WithShaderBytecode(spirv []byte, vertexEntry, pixelEntry string) Option {
	return func(o *options) {
		o.shaderCode = spirv
		o.shaderSource = ""
		o.vertexEntry = vertexEntry
		o.pixelEntry = pixelEntry
	}
}

// WithDebugLayer enables driver validation before the device is created.
func WithDebugLayer() Option {
	return func(o *options) {
		o.debugLayer = true
	}
}

// WithFenceTimeout bounds every wait for the GPU. A negative value waits
// forever.
func WithFenceTimeout(d time.Duration) Option {
	return func(o *options) {
		o.fenceTimeout = d
	}
}

// WithSyncInterval sets the vertical-blank count passed to Present.
func WithSyncInterval(n int) Option {
	return func(o *options) {
		o.syncInterval = n
	}
}

// WithMaxAdapters bounds how many adapter indices are probed.
func WithMaxAdapters(n int) Option {
	return func(o *options) {
		o.maxAdapters = n
	}
}

// WithLogger sets the renderer logger, overriding the package logger. It
// is also handed to the driver factory.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}
