// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package soft

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/compositor/driver"
)

type adapter struct {
	f        *Factory
	cfg      AdapterConfig
	index    int
	released atomic.Bool
}

func (a *adapter) Info() driver.AdapterInfo {
	return driver.AdapterInfo{
		Name:     a.cfg.Name,
		Vendor:   0x1414,
		Device:   uint32(0x8c + a.index),
		Software: true,
	}
}

func (a *adapter) CreateDevice(minLevel driver.FeatureLevel) (driver.Device, error) {
	if err := a.f.faults.check(OpCreateDevice); err != nil {
		return nil, err
	}
	if a.cfg.FailCreate {
		return nil, fmt.Errorf("soft: adapter %q cannot create devices: %w", a.cfg.Name, driver.ErrUnsupported)
	}
	if a.cfg.FeatureLevel < minLevel {
		return nil, fmt.Errorf("soft: adapter %q supports %v, need %v: %w",
			a.cfg.Name, a.cfg.FeatureLevel, minLevel, driver.ErrUnsupported)
	}

	d := &device{
		f:          a.f,
		level:      a.cfg.FeatureLevel,
		rtvStride:  a.cfg.RTVIncrement,
		debug:      a.f.debug.Load(),
		views:      make(map[driver.CPUDescriptorHandle]*memory),
		nextHandle: 0x10000,
		nextVA:     0x100000,
	}
	a.f.tracker.created(KindDevice)
	a.f.log().Debug("soft: device created",
		"adapter", a.cfg.Name, "level", a.cfg.FeatureLevel.String(), "debug", d.debug)
	return d, nil
}

func (a *adapter) Release() {
	if a.released.Swap(true) {
		return
	}
	a.f.tracker.released(KindAdapter)
}

// memory is the storage behind a resource. state is the state the resource
// will be in once all work submitted so far has executed; the debug layer
// validates against it.
type memory struct {
	label  string
	desc   driver.ResourceDesc
	data   []byte
	va     uint64
	state  driver.ResourceState
	pixels bool
}

func (m *memory) pitch() int { return int(m.desc.Width) * 4 }

type device struct {
	f         *Factory
	level     driver.FeatureLevel
	rtvStride uint32
	debug     bool

	mu         sync.Mutex
	heaps      []*descriptorHeap
	views      map[driver.CPUDescriptorHandle]*memory
	buffers    []*memory
	nextHandle uintptr
	nextVA     uint64
	released   bool
}

var _ driver.Device = (*device)(nil)

func (d *device) CreateCommandQueue(desc driver.CommandQueueDesc) (driver.Queue, error) {
	if err := d.f.faults.check(OpCreateCommandQueue); err != nil {
		return nil, err
	}
	q := newQueue(d, desc)
	d.f.tracker.created(KindQueue)
	return q, nil
}

func (d *device) CreateCommandAllocator() (driver.CommandAllocator, error) {
	if err := d.f.faults.check(OpCreateCommandAllocator); err != nil {
		return nil, err
	}
	d.f.tracker.created(KindAllocator)
	return &allocator{dev: d}, nil
}

func (d *device) CreateCommandList(alloc driver.CommandAllocator, initial driver.PipelineState) (driver.CommandList, error) {
	if err := d.f.faults.check(OpCreateCommandList); err != nil {
		return nil, err
	}
	l := &commandList{dev: d}
	if err := l.open(alloc, initial); err != nil {
		return nil, err
	}
	d.f.tracker.created(KindCommandList)
	return l, nil
}

func (d *device) CreateFence(initial uint64) (driver.Fence, error) {
	if err := d.f.faults.check(OpCreateFence); err != nil {
		return nil, err
	}
	d.f.tracker.created(KindFence)
	return newFence(d.f, initial), nil
}

func (d *device) CreateDescriptorHeap(kind driver.DescriptorHeapType, count int) (driver.DescriptorHeap, error) {
	if err := d.f.faults.check(OpCreateDescriptorHeap); err != nil {
		return nil, err
	}
	if kind != driver.DescriptorHeapRTV {
		return nil, fmt.Errorf("soft: descriptor heap type %d: %w", kind, driver.ErrUnsupported)
	}
	if count <= 0 {
		return nil, fmt.Errorf("soft: descriptor heap of %d entries: %w", count, driver.ErrInvalidCall)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	h := &descriptorHeap{
		dev:    d,
		start:  driver.CPUDescriptorHandle(d.nextHandle),
		count:  count,
		stride: d.rtvStride,
	}
	d.nextHandle += uintptr(count)*uintptr(d.rtvStride) + 0x1000
	d.heaps = append(d.heaps, h)
	d.f.tracker.created(KindDescriptorHeap)
	return h, nil
}

func (d *device) DescriptorHandleIncrementSize(kind driver.DescriptorHeapType) uint32 {
	if kind == driver.DescriptorHeapRTV {
		return d.rtvStride
	}
	return 32
}

func (d *device) CreateRenderTargetView(res driver.Resource, dest driver.CPUDescriptorHandle) error {
	if err := d.f.faults.check(OpCreateRenderTargetView); err != nil {
		return err
	}
	mem, err := memoryOf(res)
	if err != nil {
		return err
	}
	if !mem.pixels || !mem.desc.Format.IsRenderTarget() {
		return fmt.Errorf("soft: %s is not a render target: %w", mem.label, driver.ErrInvalidCall)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.handleValid(dest) {
		return fmt.Errorf("soft: descriptor %#x outside every heap: %w", uintptr(dest), driver.ErrInvalidCall)
	}
	d.views[dest] = mem
	return nil
}

// handleValid reports whether h addresses a record of a live heap. Must be
// called with d.mu held.
func (d *device) handleValid(h driver.CPUDescriptorHandle) bool {
	for _, heap := range d.heaps {
		if heap.released {
			continue
		}
		off := uintptr(h) - uintptr(heap.start)
		if h >= heap.start && off < uintptr(heap.count)*uintptr(heap.stride) && off%uintptr(heap.stride) == 0 {
			return true
		}
	}
	return false
}

func (d *device) view(h driver.CPUDescriptorHandle) (*memory, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.handleValid(h) {
		return nil, false
	}
	m, ok := d.views[h]
	return m, ok
}

func (d *device) bufferAt(va uint64, size uint32) (*memory, uint64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, b := range d.buffers {
		if va >= b.va && va+uint64(size) <= b.va+uint64(len(b.data)) {
			return b, va - b.va, true
		}
	}
	return nil, 0, false
}

func (d *device) CreateRootSignature(desc driver.RootSignatureDesc) (driver.RootSignature, error) {
	if err := d.f.faults.check(OpCreateRootSignature); err != nil {
		return nil, err
	}
	d.f.tracker.created(KindRootSignature)
	return &rootSignature{f: d.f, desc: desc}, nil
}

// spirvMagic opens every SPIR-V module.
const spirvMagic = 0x07230203

func (d *device) CreatePipelineState(desc driver.PipelineDesc) (driver.PipelineState, error) {
	if err := d.f.faults.check(OpCreatePipelineState); err != nil {
		return nil, err
	}
	rs, ok := desc.RootSignature.(*rootSignature)
	if !ok {
		return nil, fmt.Errorf("soft: pipeline %q has no root signature: %w", desc.Label, driver.ErrInvalidCall)
	}
	if len(desc.InputLayout) > 0 && !rs.desc.AllowInputAssembler {
		return nil, fmt.Errorf("soft: pipeline %q uses an input layout but the root signature denies the input assembler: %w",
			desc.Label, driver.ErrInvalidCall)
	}
	for _, s := range []struct {
		stage, entry string
		code         []byte
	}{
		{"vertex", desc.VertexEntry, desc.VertexShader},
		{"pixel", desc.PixelEntry, desc.PixelShader},
	} {
		if err := checkShader(s.code); err != nil {
			return nil, fmt.Errorf("soft: pipeline %q %s shader: %w", desc.Label, s.stage, err)
		}
		if s.entry == "" {
			return nil, fmt.Errorf("soft: pipeline %q %s shader has no entry point: %w", desc.Label, s.stage, driver.ErrInvalidCall)
		}
	}
	if !desc.RenderTargetFormat.IsRenderTarget() {
		return nil, fmt.Errorf("soft: pipeline %q render target format %v: %w", desc.Label, desc.RenderTargetFormat, driver.ErrUnsupported)
	}

	p := &pipeline{f: d.f, desc: desc, posOffset: -1, colorOffset: -1}
	for _, e := range desc.InputLayout {
		switch {
		case e.Semantic == "POSITION" && e.Format == driver.FormatR32G32B32Float:
			p.posOffset = int(e.Offset)
		case e.Semantic == "COLOR" && e.Format == driver.FormatR32G32B32A32Float:
			p.colorOffset = int(e.Offset)
		default:
			return nil, fmt.Errorf("soft: pipeline %q input %s %v: %w", desc.Label, e.Semantic, e.Format, driver.ErrUnsupported)
		}
		if end := int(e.Offset) + e.Format.Size(); end > int(desc.VertexStride) {
			return nil, fmt.Errorf("soft: pipeline %q input %s ends at %d past stride %d: %w",
				desc.Label, e.Semantic, end, desc.VertexStride, driver.ErrInvalidCall)
		}
	}
	if p.posOffset < 0 {
		return nil, fmt.Errorf("soft: pipeline %q has no POSITION input: %w", desc.Label, driver.ErrUnsupported)
	}
	d.f.tracker.created(KindPipelineState)
	return p, nil
}

func checkShader(code []byte) error {
	if len(code) < 20 || len(code)%4 != 0 {
		return fmt.Errorf("%d bytes is not a SPIR-V module: %w", len(code), driver.ErrInvalidCall)
	}
	if magic := binary.LittleEndian.Uint32(code); magic != spirvMagic {
		return fmt.Errorf("bad SPIR-V magic %#x: %w", magic, driver.ErrInvalidCall)
	}
	return nil
}

func (d *device) CreateBuffer(desc driver.BufferDesc) (driver.Resource, error) {
	if err := d.f.faults.check(OpCreateBuffer); err != nil {
		return nil, err
	}
	if desc.Size == 0 {
		return nil, fmt.Errorf("soft: buffer %q of zero size: %w", desc.Label, driver.ErrInvalidCall)
	}
	if desc.InitialState != driver.StateGenericRead {
		return nil, fmt.Errorf("soft: upload buffer %q must start in %v, not %v: %w",
			desc.Label, driver.StateGenericRead, desc.InitialState, driver.ErrInvalidCall)
	}

	d.mu.Lock()
	mem := &memory{
		label: desc.Label,
		desc:  driver.ResourceDesc{Label: desc.Label, Width: desc.Size, Height: 1, Buffer: true},
		data:  make([]byte, desc.Size),
		va:    d.nextVA,
		state: driver.StateGenericRead,
	}
	d.nextVA += (desc.Size + 0xffff) &^ 0xffff
	d.buffers = append(d.buffers, mem)
	d.mu.Unlock()

	d.f.tracker.created(KindBuffer)
	return &resource{f: d.f, mem: mem, kind: KindBuffer, release: func() { d.dropBuffer(mem) }}, nil
}

func (d *device) dropBuffer(mem *memory) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, b := range d.buffers {
		if b == mem {
			d.buffers = append(d.buffers[:i], d.buffers[i+1:]...)
			return
		}
	}
}

func (d *device) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return
	}
	d.released = true
	d.f.tracker.released(KindDevice)
}

// resource is one reference to a memory.
type resource struct {
	f        *Factory
	mem      *memory
	kind     string
	release  func()
	mapped   bool
	released atomic.Bool
}

func memoryOf(r driver.Resource) (*memory, error) {
	sr, ok := r.(*resource)
	if !ok || sr == nil {
		return nil, fmt.Errorf("soft: foreign resource %T: %w", r, driver.ErrInvalidCall)
	}
	if sr.released.Load() {
		return nil, fmt.Errorf("soft: %s used after release: %w", sr.mem.label, driver.ErrInvalidCall)
	}
	return sr.mem, nil
}

func (r *resource) Desc() driver.ResourceDesc { return r.mem.desc }

func (r *resource) GPUVirtualAddress() uint64 { return r.mem.va }

func (r *resource) Map() ([]byte, error) {
	if !r.mem.desc.Buffer {
		return nil, fmt.Errorf("soft: %s is not a buffer: %w", r.mem.label, driver.ErrInvalidCall)
	}
	r.mapped = true
	return r.mem.data, nil
}

func (r *resource) Unmap() { r.mapped = false }

func (r *resource) Release() {
	if r.released.Swap(true) {
		r.f.log().Warn("soft: resource released twice", "resource", r.mem.label)
		return
	}
	if r.release != nil {
		r.release()
	}
	r.f.tracker.released(r.kind)
}

type descriptorHeap struct {
	dev      *device
	start    driver.CPUDescriptorHandle
	count    int
	stride   uint32
	released bool
}

func (h *descriptorHeap) CPUStart() driver.CPUDescriptorHandle { return h.start }

func (h *descriptorHeap) Len() int { return h.count }

func (h *descriptorHeap) Release() {
	h.dev.mu.Lock()
	defer h.dev.mu.Unlock()
	if h.released {
		return
	}
	h.released = true
	for i := 0; i < h.count; i++ {
		delete(h.dev.views, h.start+driver.CPUDescriptorHandle(uintptr(i)*uintptr(h.stride)))
	}
	h.dev.f.tracker.released(KindDescriptorHeap)
}

type rootSignature struct {
	f        *Factory
	desc     driver.RootSignatureDesc
	released atomic.Bool
}

func (r *rootSignature) Release() {
	if r.released.Swap(true) {
		return
	}
	r.f.tracker.released(KindRootSignature)
}

type pipeline struct {
	f           *Factory
	desc        driver.PipelineDesc
	posOffset   int
	colorOffset int
	released    atomic.Bool
}

func (p *pipeline) Release() {
	if p.released.Swap(true) {
		return
	}
	p.f.tracker.released(KindPipelineState)
}
