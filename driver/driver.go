// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package driver

import "time"

// Releaser is implemented by every driver object.
// Release must be called exactly once; the object is unusable afterwards.
type Releaser interface {
	Release()
}

// WindowHandle is an opaque native window handle supplied by the host.
type WindowHandle uintptr

// CPUDescriptorHandle addresses one record in a descriptor heap.
// Handles of one heap are laid out at a fixed, device-specific stride.
type CPUDescriptorHandle uintptr

// DescriptorHeapType selects the kind of view records a heap holds.
type DescriptorHeapType uint32

const (
	DescriptorHeapRTV DescriptorHeapType = iota
	DescriptorHeapCBVSRVUAV
)

// AdapterInfo describes a physical or software adapter.
type AdapterInfo struct {
	Name     string
	Vendor   uint32
	Device   uint32
	Software bool
}

// Factory is the entry point of a backend. It enumerates adapters and
// creates swapchains for composition.
type Factory interface {
	Releaser

	// Name returns the backend identifier, e.g. "soft" or "wgpu".
	Name() string

	// EnableDebugLayer turns on validation for devices created afterwards.
	EnableDebugLayer() error

	// EnumAdapter returns the adapter at index. It returns ErrNotFound
	// once index is past the last adapter.
	EnumAdapter(index int) (Adapter, error)

	// CreateSwapChainForComposition creates a swapchain presented through
	// a composition visual rather than bound to a window directly.
	// Presentation is ordered on queue.
	CreateSwapChainForComposition(queue Queue, desc SwapChainDesc) (SwapChain, error)

	// CreateCompositionDevice creates the desktop composition device.
	CreateCompositionDevice() (CompositionDevice, error)
}

// Adapter is one enumerable GPU.
type Adapter interface {
	Releaser

	Info() AdapterInfo

	// CreateDevice creates a logical device supporting at least minLevel.
	CreateDevice(minLevel FeatureLevel) (Device, error)
}

// CommandQueueDesc describes a command queue.
type CommandQueueDesc struct {
	Priority QueuePriority
}

// QueuePriority is the scheduling priority of a command queue.
type QueuePriority int

const (
	QueuePriorityNormal QueuePriority = 0
	QueuePriorityHigh   QueuePriority = 100
)

// BufferDesc describes a buffer resource in an upload heap.
type BufferDesc struct {
	Label        string
	Size         uint64
	InitialState ResourceState
}

// ResourceDesc describes an existing resource.
type ResourceDesc struct {
	Label  string
	Width  uint64
	Height uint32
	Format Format
	Buffer bool
}

// InputElement describes one vertex attribute.
type InputElement struct {
	Semantic string
	Format   Format
	Offset   uint32
}

// CullMode selects which triangle faces are discarded.
type CullMode uint32

const (
	CullNone CullMode = iota
	CullFront
	CullBack
)

// RootSignatureDesc describes the shader binding layout. The renderer
// binds no descriptors, so only the input-assembler flag is expressed.
type RootSignatureDesc struct {
	AllowInputAssembler bool
}

// PipelineDesc describes a graphics pipeline state object.
type PipelineDesc struct {
	Label                 string
	RootSignature         RootSignature
	VertexShader          []byte
	VertexEntry           string
	PixelShader           []byte
	PixelEntry            string
	InputLayout           []InputElement
	VertexStride          uint32
	CullMode              CullMode
	FrontCounterClockwise bool
	BlendEnable           bool
	RenderTargetFormat    Format
}

// Viewport is a rasterizer viewport in pixels.
type Viewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

// Rect is a scissor rectangle in pixels, right and bottom exclusive.
type Rect struct {
	Left, Top, Right, Bottom int32
}

// VertexBufferView points the input assembler at vertex data.
type VertexBufferView struct {
	BufferLocation uint64
	SizeInBytes    uint32
	StrideInBytes  uint32
}

// PrimitiveTopology selects how vertices are assembled.
type PrimitiveTopology uint32

const (
	TopologyUndefined PrimitiveTopology = iota
	TopologyTriangleList
)

// Device is a logical GPU device.
type Device interface {
	Releaser

	CreateCommandQueue(desc CommandQueueDesc) (Queue, error)
	CreateCommandAllocator() (CommandAllocator, error)

	// CreateCommandList creates a list recording into alloc with an optional
	// initial pipeline. The list is returned in the recording state, as on
	// real hardware; callers typically Close it right away.
	CreateCommandList(alloc CommandAllocator, initial PipelineState) (CommandList, error)

	CreateFence(initial uint64) (Fence, error)
	CreateDescriptorHeap(kind DescriptorHeapType, count int) (DescriptorHeap, error)

	// DescriptorHandleIncrementSize returns the stride between two handles
	// of a heap type. The value is device specific.
	DescriptorHandleIncrementSize(kind DescriptorHeapType) uint32

	CreateRenderTargetView(res Resource, dest CPUDescriptorHandle) error
	CreateRootSignature(desc RootSignatureDesc) (RootSignature, error)
	CreatePipelineState(desc PipelineDesc) (PipelineState, error)
	CreateBuffer(desc BufferDesc) (Resource, error)
}

// Resource is device memory backing an image or buffer.
type Resource interface {
	Releaser

	Desc() ResourceDesc

	// GPUVirtualAddress is the buffer's device address; zero for images.
	GPUVirtualAddress() uint64

	// Map returns CPU-visible memory of an upload buffer. Writes become
	// visible to the GPU at Unmap.
	Map() ([]byte, error)
	Unmap()
}

// Queue executes closed command lists in submission order.
type Queue interface {
	Releaser

	// ExecuteCommandLists enqueues closed lists for execution. It does not
	// wait for the GPU.
	ExecuteCommandLists(lists ...CommandList) error

	// Signal sets fence to value once all previously submitted work has
	// completed.
	Signal(fence Fence, value uint64) error
}

// Fence is a GPU/CPU synchronization primitive with a monotonically
// increasing completed value.
type Fence interface {
	Releaser

	CompletedValue() uint64

	// Wait blocks until CompletedValue reaches value or timeout elapses.
	// It reports whether the value was reached.
	Wait(value uint64, timeout time.Duration) (bool, error)
}

// CommandAllocator is the backing memory of recorded commands.
type CommandAllocator interface {
	Releaser

	// Reset reclaims all memory. It is invalid while a list is recording
	// into the allocator or while the GPU still executes lists recorded
	// from it.
	Reset() error
}

// CommandList records GPU commands between Reset and Close.
type CommandList interface {
	Releaser

	Reset(alloc CommandAllocator, initial PipelineState) error
	SetGraphicsRootSignature(rs RootSignature) error
	SetViewport(vp Viewport) error
	SetScissorRect(r Rect) error
	ResourceBarrier(barriers ...Barrier) error
	SetRenderTarget(rtv CPUDescriptorHandle) error
	ClearRenderTargetView(rtv CPUDescriptorHandle, rgba [4]float32) error
	SetPrimitiveTopology(t PrimitiveTopology) error
	SetVertexBuffer(slot uint32, view VertexBufferView) error
	DrawInstanced(vertexCount, instanceCount, startVertex, startInstance uint32) error

	// Close ends recording. A closed list is immutable and can be
	// submitted.
	Close() error
}

// DescriptorHeap is a table of fixed-stride view records.
type DescriptorHeap interface {
	Releaser

	CPUStart() CPUDescriptorHandle
	Len() int
}

// RootSignature is the shader resource binding layout.
type RootSignature interface {
	Releaser
}

// PipelineState is a compiled graphics pipeline.
type PipelineState interface {
	Releaser
}

// SwapEffect selects the presentation model.
type SwapEffect uint32

const (
	SwapEffectFlipSequential SwapEffect = iota
	SwapEffectFlipDiscard
)

// SwapChainDesc describes a swapchain for composition.
type SwapChainDesc struct {
	Width       uint32
	Height      uint32
	Format      Format
	BufferCount int
	AlphaMode   AlphaMode
	SwapEffect  SwapEffect
}

// SwapChain is a rotating set of presentation images.
type SwapChain interface {
	Releaser

	Desc() SwapChainDesc

	// CurrentBackBufferIndex returns the buffer the presentation engine
	// expects to be rendered next. The engine decides the order; callers
	// must query it every frame.
	CurrentBackBufferIndex() int

	// Buffer returns the resource backing buffer index.
	Buffer(index int) (Resource, error)

	// Present queues the current buffer for display. It fails with
	// ErrPresentRejected when the engine refuses the surface.
	Present(syncInterval int) error
}

// CompositionDevice builds the desktop composition tree.
type CompositionDevice interface {
	Releaser

	CreateTargetForWindow(hwnd WindowHandle, topmost bool) (CompositionTarget, error)
	CreateVisual() (Visual, error)

	// Commit applies all pending tree changes atomically.
	Commit() error
}

// CompositionTarget binds a visual tree to a window.
type CompositionTarget interface {
	Releaser

	SetRoot(v Visual) error
}

// Visual is a node of the composition tree.
type Visual interface {
	Releaser

	SetContent(sc SwapChain) error
}
