//go:build !nogpu

// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpu

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/compositor/driver"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Descriptor strides. HAL views are Go values, so handles only need to be
// distinct; the strides mirror common hardware.
const (
	rtvStride     = 32
	cbvSRVStride  = 64
	heapAlignment = 1 << 16
	vaBase        = 1 << 32
)

var spirvMagic = [4]byte{0x03, 0x02, 0x23, 0x07}

type device struct {
	f        *Factory
	hal      hal.Device
	halQueue hal.Queue
	owned    bool
	debug    bool

	mu        sync.Mutex
	queue     *queue
	nextHeap  uintptr
	heaps     []*descriptorHeap
	nextVA    uint64
	buffers   []*resource
	released  bool
	destroyed atomic.Bool
}

var _ driver.Device = (*device)(nil)

func newDevice(f *Factory, d hal.Device, q hal.Queue, owned bool) *device {
	return &device{
		f:        f,
		hal:      d,
		halQueue: q,
		owned:    owned,
		debug:    f.debug.Load(),
		nextHeap: heapAlignment,
		nextVA:   vaBase,
	}
}

// CreateCommandQueue returns the device queue. The HAL exposes one queue
// per device, so a second call fails.
func (d *device) CreateCommandQueue(desc driver.CommandQueueDesc) (driver.Queue, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return nil, errDeviceReleased
	}
	if d.queue != nil && !d.queue.released.Load() {
		return nil, fmt.Errorf("wgpu: device has one queue: %w", driver.ErrUnsupported)
	}
	q, err := newQueue(d, desc)
	if err != nil {
		return nil, err
	}
	d.queue = q
	return q, nil
}

func (d *device) CreateCommandAllocator() (driver.CommandAllocator, error) {
	if d.destroyed.Load() {
		return nil, errDeviceReleased
	}
	return &allocator{dev: d}, nil
}

func (d *device) CreateCommandList(alloc driver.CommandAllocator, initial driver.PipelineState) (driver.CommandList, error) {
	if d.destroyed.Load() {
		return nil, errDeviceReleased
	}
	l := &commandList{dev: d}
	if err := l.open(alloc, initial); err != nil {
		return nil, err
	}
	return l, nil
}

func (d *device) CreateFence(initial uint64) (driver.Fence, error) {
	if d.destroyed.Load() {
		return nil, errDeviceReleased
	}
	return newFence(d, initial), nil
}

func (d *device) CreateDescriptorHeap(kind driver.DescriptorHeapType, count int) (driver.DescriptorHeap, error) {
	if kind != driver.DescriptorHeapRTV {
		return nil, fmt.Errorf("wgpu: descriptor heap type %d: %w", kind, driver.ErrUnsupported)
	}
	if count <= 0 {
		return nil, fmt.Errorf("wgpu: descriptor heap of %d entries: %w", count, driver.ErrInvalidCall)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return nil, errDeviceReleased
	}
	h := &descriptorHeap{
		dev:   d,
		start: driver.CPUDescriptorHandle(d.nextHeap),
		count: count,
		views: make([]*rtv, count),
	}
	size := uintptr(count) * rtvStride
	d.nextHeap += (size + heapAlignment - 1) &^ (heapAlignment - 1)
	d.heaps = append(d.heaps, h)
	return h, nil
}

func (d *device) DescriptorHandleIncrementSize(kind driver.DescriptorHeapType) uint32 {
	if kind == driver.DescriptorHeapRTV {
		return rtvStride
	}
	return cbvSRVStride
}

// CreateRenderTargetView creates a HAL texture view and stores it at dest.
// A view already stored there is destroyed.
func (d *device) CreateRenderTargetView(res driver.Resource, dest driver.CPUDescriptorHandle) error {
	r, err := resourceOf(res)
	if err != nil {
		return err
	}
	if r.texture == nil {
		return fmt.Errorf("wgpu: render target view of buffer %s: %w", r.desc.Label, driver.ErrInvalidCall)
	}
	h, slot, ok := d.slot(dest)
	if !ok {
		return fmt.Errorf("wgpu: descriptor %#x is outside every heap: %w", uintptr(dest), driver.ErrInvalidCall)
	}

	view, err := d.hal.CreateTextureView(r.texture, &hal.TextureViewDescriptor{
		Label:         r.desc.Label + "_rtv",
		Format:        r.desc.Format.TextureFormat(),
		Dimension:     gputypes.TextureViewDimension2D,
		Aspect:        gputypes.TextureAspectAll,
		MipLevelCount: 1,
	})
	if err != nil {
		return fmt.Errorf("wgpu: create view of %s: %w", r.desc.Label, err)
	}

	d.mu.Lock()
	old := h.views[slot]
	h.views[slot] = &rtv{res: r, view: view}
	d.mu.Unlock()
	if old != nil {
		d.hal.DestroyTextureView(old.view)
	}
	return nil
}

// slot resolves a handle to its heap and entry. Handles must sit on a
// stride boundary.
func (d *device) slot(hd driver.CPUDescriptorHandle) (*descriptorHeap, int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, h := range d.heaps {
		if h.released || hd < h.start {
			continue
		}
		off := uintptr(hd - h.start)
		if off%rtvStride != 0 {
			continue
		}
		if i := int(off / rtvStride); i < h.count {
			return h, i, true
		}
	}
	return nil, 0, false
}

func (d *device) view(hd driver.CPUDescriptorHandle) (*rtv, bool) {
	h, i, ok := d.slot(hd)
	if !ok {
		return nil, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	v := h.views[i]
	return v, v != nil
}

// bufferAt resolves a virtual address range to a buffer and an offset.
func (d *device) bufferAt(va uint64, size uint32) (*resource, uint64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, b := range d.buffers {
		if va >= b.va && va+uint64(size) <= b.va+b.desc.Width {
			return b, va - b.va, true
		}
	}
	return nil, 0, false
}

// CreateRootSignature creates an empty pipeline layout. Nothing is bound
// through descriptors.
func (d *device) CreateRootSignature(desc driver.RootSignatureDesc) (driver.RootSignature, error) {
	if !desc.AllowInputAssembler {
		return nil, fmt.Errorf("wgpu: root signature without input assembler: %w", driver.ErrUnsupported)
	}
	layout, err := d.hal.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "compositor_layout",
		BindGroupLayouts: nil,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create pipeline layout: %w", err)
	}
	return &rootSignature{dev: d, layout: layout}, nil
}

func (d *device) CreatePipelineState(desc driver.PipelineDesc) (driver.PipelineState, error) {
	rs, ok := desc.RootSignature.(*rootSignature)
	if !ok || rs.released.Load() {
		return nil, fmt.Errorf("wgpu: invalid root signature %T: %w", desc.RootSignature, driver.ErrInvalidCall)
	}
	format := desc.RenderTargetFormat.TextureFormat()
	if format == gputypes.TextureFormatUndefined {
		return nil, fmt.Errorf("wgpu: render target format %v: %w", desc.RenderTargetFormat, driver.ErrUnsupported)
	}
	if desc.VertexEntry == "" || desc.PixelEntry == "" {
		return nil, fmt.Errorf("wgpu: pipeline %q needs both entry points: %w", desc.Label, driver.ErrInvalidCall)
	}
	buffers, err := vertexLayout(desc.InputLayout, desc.VertexStride)
	if err != nil {
		return nil, err
	}

	vs, err := d.shaderModule(desc.Label+"_vs", desc.VertexShader)
	if err != nil {
		return nil, err
	}
	fs := vs
	if !bytes.Equal(desc.VertexShader, desc.PixelShader) {
		if fs, err = d.shaderModule(desc.Label+"_fs", desc.PixelShader); err != nil {
			d.hal.DestroyShaderModule(vs)
			return nil, err
		}
	}
	p := &pipeline{dev: d, vs: vs, fs: fs}

	target := gputypes.ColorTargetState{Format: format, WriteMask: gputypes.ColorWriteMaskAll}
	if desc.BlendEnable {
		blend := gputypes.BlendStatePremultiplied()
		target.Blend = &blend
	}
	p.pipeline, err = d.hal.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  desc.Label,
		Layout: rs.layout,
		Vertex: hal.VertexState{
			Module:     vs,
			EntryPoint: desc.VertexEntry,
			Buffers:    buffers,
		},
		Fragment: &hal.FragmentState{
			Module:     fs,
			EntryPoint: desc.PixelEntry,
			Targets:    []gputypes.ColorTargetState{target},
		},
		Primitive: gputypes.PrimitiveState{
			Topology:  gputypes.PrimitiveTopologyTriangleList,
			FrontFace: frontFace(desc.FrontCounterClockwise),
			CullMode:  cullMode(desc.CullMode),
		},
		Multisample: gputypes.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		p.destroyModules()
		return nil, fmt.Errorf("wgpu: create render pipeline %q: %w", desc.Label, err)
	}
	p.stride = desc.VertexStride
	return p, nil
}

// shaderModule accepts SPIR-V bytecode only. The compositor compiles its
// WGSL with naga before it reaches the driver.
func (d *device) shaderModule(label string, code []byte) (hal.ShaderModule, error) {
	if len(code) < 20 || len(code)%4 != 0 || [4]byte(code[:4]) != spirvMagic {
		return nil, fmt.Errorf("wgpu: %s is not SPIR-V bytecode: %w", label, driver.ErrInvalidCall)
	}
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	m, err := d.hal.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  label,
		Source: hal.ShaderSource{SPIRV: words},
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create shader module %s: %w", label, err)
	}
	return m, nil
}

// CreateBuffer creates a vertex buffer with a CPU shadow. Writes through
// Map reach the GPU at Unmap.
func (d *device) CreateBuffer(desc driver.BufferDesc) (driver.Resource, error) {
	if desc.Size == 0 {
		return nil, fmt.Errorf("wgpu: zero-sized buffer %q: %w", desc.Label, driver.ErrInvalidCall)
	}
	if desc.InitialState != driver.StateGenericRead {
		return nil, fmt.Errorf("wgpu: upload buffer %q must start in %v, got %v: %w",
			desc.Label, driver.StateGenericRead, desc.InitialState, driver.ErrInvalidCall)
	}
	size := (desc.Size + 3) &^ 3
	buf, err := d.hal.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  size,
		Usage: gputypes.BufferUsageVertex | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create buffer %q: %w", desc.Label, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	r := &resource{
		dev:    d,
		buffer: buf,
		shadow: make([]byte, size),
		desc:   driver.ResourceDesc{Label: desc.Label, Width: desc.Size, Buffer: true},
		va:     d.nextVA,
		state:  desc.InitialState,
	}
	d.nextVA += (size + heapAlignment - 1) &^ (heapAlignment - 1)
	d.buffers = append(d.buffers, r)
	return r, nil
}

func (d *device) dropBuffer(r *resource) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, b := range d.buffers {
		if b == r {
			d.buffers = append(d.buffers[:i], d.buffers[i+1:]...)
			return
		}
	}
}

// Release destroys an owned HAL device. Devices of a provider are left to
// the provider.
func (d *device) Release() {
	d.mu.Lock()
	if d.released {
		d.mu.Unlock()
		return
	}
	d.released = true
	d.mu.Unlock()
	d.destroyed.Store(true)
	if d.owned {
		d.hal.Destroy()
	}
	d.f.log().Debug("wgpu: device released", "owned", d.owned)
}

var errDeviceReleased = fmt.Errorf("wgpu: device released: %w", driver.ErrInvalidCall)

// resource is a swapchain texture or an upload buffer.
type resource struct {
	dev *device

	texture hal.Texture
	buffer  hal.Buffer
	shadow  []byte
	mapped  bool

	desc  driver.ResourceDesc
	va    uint64
	state driver.ResourceState

	// Swapchain buffers are released by their swapchain.
	owner    *swapChain
	released atomic.Bool
}

var _ driver.Resource = (*resource)(nil)

func resourceOf(r driver.Resource) (*resource, error) {
	res, ok := r.(*resource)
	if !ok || res == nil {
		return nil, fmt.Errorf("wgpu: resource %T from another driver: %w", r, driver.ErrInvalidCall)
	}
	if res.released.Load() {
		return nil, fmt.Errorf("wgpu: resource %s used after release: %w", res.desc.Label, driver.ErrInvalidCall)
	}
	return res, nil
}

func (r *resource) Desc() driver.ResourceDesc { return r.desc }

func (r *resource) GPUVirtualAddress() uint64 { return r.va }

func (r *resource) Map() ([]byte, error) {
	if r.buffer == nil {
		return nil, fmt.Errorf("wgpu: map of texture %s: %w", r.desc.Label, driver.ErrInvalidCall)
	}
	if r.released.Load() {
		return nil, fmt.Errorf("wgpu: map of released buffer %s: %w", r.desc.Label, driver.ErrInvalidCall)
	}
	r.mapped = true
	return r.shadow[:r.desc.Width], nil
}

// Unmap uploads the shadow copy.
func (r *resource) Unmap() {
	if !r.mapped || r.released.Load() {
		return
	}
	r.mapped = false
	r.dev.halQueue.WriteBuffer(r.buffer, 0, r.shadow)
}

func (r *resource) Release() {
	if r.owner != nil {
		// Back buffers die with their swapchain; only the reference is
		// dropped here.
		return
	}
	if r.released.Swap(true) {
		return
	}
	if r.buffer != nil {
		r.dev.dropBuffer(r)
		r.dev.hal.DestroyBuffer(r.buffer)
	}
}

type rtv struct {
	res  *resource
	view hal.TextureView
}

type descriptorHeap struct {
	dev      *device
	start    driver.CPUDescriptorHandle
	count    int
	views    []*rtv
	released bool
}

func (h *descriptorHeap) CPUStart() driver.CPUDescriptorHandle { return h.start }

func (h *descriptorHeap) Len() int { return h.count }

func (h *descriptorHeap) Release() {
	h.dev.mu.Lock()
	if h.released {
		h.dev.mu.Unlock()
		return
	}
	h.released = true
	views := h.views
	h.views = nil
	h.dev.mu.Unlock()
	for _, v := range views {
		if v != nil {
			h.dev.hal.DestroyTextureView(v.view)
		}
	}
}

type rootSignature struct {
	dev      *device
	layout   hal.PipelineLayout
	released atomic.Bool
}

func (rs *rootSignature) Release() {
	if rs.released.Swap(true) {
		return
	}
	rs.dev.hal.DestroyPipelineLayout(rs.layout)
}

type pipeline struct {
	dev      *device
	vs, fs   hal.ShaderModule
	pipeline hal.RenderPipeline
	stride   uint32
	released atomic.Bool
}

func (p *pipeline) destroyModules() {
	p.dev.hal.DestroyShaderModule(p.vs)
	if p.fs != p.vs {
		p.dev.hal.DestroyShaderModule(p.fs)
	}
}

func (p *pipeline) Release() {
	if p.released.Swap(true) {
		return
	}
	p.dev.hal.DestroyRenderPipeline(p.pipeline)
	p.destroyModules()
}
