//go:build !nogpu

// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpu

import (
	"errors"
	"testing"
	"time"

	"github.com/gogpu/compositor/driver"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal/noop"
)

func newNoopFactory(t *testing.T) *Factory {
	t.Helper()
	inst, err := noop.API{}.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	t.Cleanup(inst.Destroy)
	f := NewFactoryFromInstance(inst)
	t.Cleanup(f.Release)
	return f
}

func newNoopDevice(t *testing.T, f *Factory) *device {
	t.Helper()
	a, err := f.EnumAdapter(0)
	if err != nil {
		t.Fatalf("EnumAdapter(0) = %v", err)
	}
	d, err := a.CreateDevice(driver.FeatureLevel11_0)
	if err != nil {
		t.Fatalf("CreateDevice() = %v", err)
	}
	t.Cleanup(d.Release)
	return d.(*device)
}

func newNoopQueue(t *testing.T, d *device) *queue {
	t.Helper()
	q, err := d.CreateCommandQueue(driver.CommandQueueDesc{})
	if err != nil {
		t.Fatalf("CreateCommandQueue() = %v", err)
	}
	t.Cleanup(q.Release)
	return q.(*queue)
}

func spirvStub() []byte {
	code := make([]byte, 20)
	copy(code, spirvMagic[:])
	return code
}

func TestTextureUsage(t *testing.T) {
	tests := []struct {
		state driver.ResourceState
		want  gputypes.TextureUsage
	}{
		{driver.StatePresent, gputypes.TextureUsageCopySrc},
		{driver.StateCopySource, gputypes.TextureUsageCopySrc},
		{driver.StateRenderTarget, gputypes.TextureUsageRenderAttachment},
		{driver.StateCopyDest, gputypes.TextureUsageCopyDst},
		{driver.StateGenericRead, gputypes.TextureUsageTextureBinding},
	}
	for _, tt := range tests {
		got, err := textureUsage(tt.state)
		if err != nil || got != tt.want {
			t.Errorf("textureUsage(%v) = %v, %v; want %v", tt.state, got, err, tt.want)
		}
	}
	if _, err := textureUsage(driver.StateCommon); !errors.Is(err, driver.ErrUnsupported) {
		t.Errorf("textureUsage(Common) error = %v, want ErrUnsupported", err)
	}
}

func TestVertexLayout(t *testing.T) {
	elems := []driver.InputElement{
		{Semantic: "POSITION", Format: driver.FormatR32G32B32Float, Offset: 0},
		{Semantic: "COLOR", Format: driver.FormatR32G32B32A32Float, Offset: 12},
	}
	layouts, err := vertexLayout(elems, 28)
	if err != nil {
		t.Fatalf("vertexLayout() = %v", err)
	}
	if len(layouts) != 1 || layouts[0].ArrayStride != 28 {
		t.Fatalf("layouts = %+v, want one layout of stride 28", layouts)
	}
	attrs := layouts[0].Attributes
	if len(attrs) != 2 {
		t.Fatalf("got %d attributes, want 2", len(attrs))
	}
	if attrs[0].Format != gputypes.VertexFormatFloat32x3 || attrs[1].Format != gputypes.VertexFormatFloat32x4 {
		t.Errorf("formats = %v, %v", attrs[0].Format, attrs[1].Format)
	}
	if attrs[1].ShaderLocation != 1 || attrs[1].Offset != 12 {
		t.Errorf("color attribute = %+v, want location 1 offset 12", attrs[1])
	}

	if _, err := vertexLayout(elems, 24); !errors.Is(err, driver.ErrInvalidCall) {
		t.Errorf("overrunning stride: error = %v, want ErrInvalidCall", err)
	}
	bad := []driver.InputElement{{Semantic: "TEXCOORD", Format: driver.FormatB8G8R8A8Unorm}}
	if _, err := vertexLayout(bad, 4); !errors.Is(err, driver.ErrUnsupported) {
		t.Errorf("unsupported format: error = %v, want ErrUnsupported", err)
	}
}

func TestAlignUp(t *testing.T) {
	for _, tt := range []struct{ n, want uint32 }{{0, 0}, {1, 256}, {256, 256}, {257, 512}, {64 * 4, 256}} {
		if got := alignUp(tt.n, copyPitchAlignment); got != tt.want {
			t.Errorf("alignUp(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}

func TestEnumAdapter(t *testing.T) {
	f := newNoopFactory(t)
	a, err := f.EnumAdapter(0)
	if err != nil {
		t.Fatalf("EnumAdapter(0) = %v", err)
	}
	defer a.Release()
	if _, err := f.EnumAdapter(1 << 10); !errors.Is(err, driver.ErrNotFound) {
		t.Errorf("EnumAdapter past the end = %v, want ErrNotFound", err)
	}
	if _, err := f.EnumAdapter(-1); !errors.Is(err, driver.ErrNotFound) {
		t.Errorf("EnumAdapter(-1) = %v, want ErrNotFound", err)
	}
}

func TestCreateDeviceFeatureLevel(t *testing.T) {
	f := newNoopFactory(t)
	a, err := f.EnumAdapter(0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.CreateDevice(driver.FeatureLevel12_0); !errors.Is(err, driver.ErrUnsupported) {
		t.Errorf("CreateDevice(12_0) = %v, want ErrUnsupported", err)
	}
}

func TestSingleQueue(t *testing.T) {
	d := newNoopDevice(t, newNoopFactory(t))
	newNoopQueue(t, d)
	if _, err := d.CreateCommandQueue(driver.CommandQueueDesc{}); !errors.Is(err, driver.ErrUnsupported) {
		t.Errorf("second queue: error = %v, want ErrUnsupported", err)
	}
}

func TestDescriptorHeap(t *testing.T) {
	d := newNoopDevice(t, newNoopFactory(t))
	if _, err := d.CreateDescriptorHeap(driver.DescriptorHeapCBVSRVUAV, 2); !errors.Is(err, driver.ErrUnsupported) {
		t.Errorf("CBV heap: error = %v, want ErrUnsupported", err)
	}
	h, err := d.CreateDescriptorHeap(driver.DescriptorHeapRTV, 2)
	if err != nil {
		t.Fatalf("CreateDescriptorHeap() = %v", err)
	}
	defer h.Release()

	inc := d.DescriptorHandleIncrementSize(driver.DescriptorHeapRTV)
	if _, i, ok := d.slot(h.CPUStart() + driver.CPUDescriptorHandle(inc)); !ok || i != 1 {
		t.Errorf("slot(start+inc) = %d, %v; want 1, true", i, ok)
	}
	if _, _, ok := d.slot(h.CPUStart() + 1); ok {
		t.Error("misaligned handle resolved")
	}
	if _, _, ok := d.slot(h.CPUStart() + driver.CPUDescriptorHandle(2*inc)); ok {
		t.Error("handle past the heap resolved")
	}
	if _, ok := d.view(h.CPUStart()); ok {
		t.Error("empty slot holds a view")
	}
}

func TestBufferShadow(t *testing.T) {
	d := newNoopDevice(t, newNoopFactory(t))
	newNoopQueue(t, d)

	if _, err := d.CreateBuffer(driver.BufferDesc{Size: 16, InitialState: driver.StateCommon}); !errors.Is(err, driver.ErrInvalidCall) {
		t.Errorf("buffer in Common: error = %v, want ErrInvalidCall", err)
	}
	res, err := d.CreateBuffer(driver.BufferDesc{Label: "vb", Size: 30, InitialState: driver.StateGenericRead})
	if err != nil {
		t.Fatalf("CreateBuffer() = %v", err)
	}
	defer res.Release()

	mem, err := res.Map()
	if err != nil {
		t.Fatalf("Map() = %v", err)
	}
	if len(mem) != 30 {
		t.Errorf("mapped %d bytes, want 30", len(mem))
	}
	mem[0] = 0xab
	res.Unmap()

	va := res.GPUVirtualAddress()
	if va == 0 {
		t.Fatal("buffer has no virtual address")
	}
	if r, off, ok := d.bufferAt(va+28, 2); !ok || off != 28 || r != res {
		t.Errorf("bufferAt(va+28, 2) = %v, %d, %v", r, off, ok)
	}
	if _, _, ok := d.bufferAt(va+28, 4); ok {
		t.Error("range past the buffer resolved")
	}
}

func TestPipelineRejectsNonSPIRV(t *testing.T) {
	d := newNoopDevice(t, newNoopFactory(t))
	rs, err := d.CreateRootSignature(driver.RootSignatureDesc{AllowInputAssembler: true})
	if err != nil {
		t.Fatalf("CreateRootSignature() = %v", err)
	}
	defer rs.Release()

	desc := driver.PipelineDesc{
		Label:              "test",
		RootSignature:      rs,
		VertexShader:       []byte("@vertex fn vs_main() {}"),
		VertexEntry:        "vs_main",
		PixelShader:        spirvStub(),
		PixelEntry:         "fs_main",
		VertexStride:       12,
		InputLayout:        []driver.InputElement{{Semantic: "POSITION", Format: driver.FormatR32G32B32Float}},
		RenderTargetFormat: driver.FormatB8G8R8A8Unorm,
	}
	if _, err := d.CreatePipelineState(desc); !errors.Is(err, driver.ErrInvalidCall) {
		t.Errorf("WGSL source: error = %v, want ErrInvalidCall", err)
	}

	desc.VertexShader = spirvStub()
	p, err := d.CreatePipelineState(desc)
	if err != nil {
		t.Fatalf("CreatePipelineState() = %v", err)
	}
	wp := p.(*pipeline)
	if wp.vs != wp.fs {
		t.Error("identical bytecode compiled into two modules")
	}
	p.Release()
}

func TestFenceMarks(t *testing.T) {
	d := newNoopDevice(t, newNoopFactory(t))
	q := newNoopQueue(t, d)
	f, err := d.CreateFence(0)
	if err != nil {
		t.Fatalf("CreateFence() = %v", err)
	}
	defer f.Release()

	if got := f.CompletedValue(); got != 0 {
		t.Fatalf("CompletedValue() = %d, want 0", got)
	}
	if err := q.Signal(f, 1); err != nil {
		t.Fatalf("Signal() = %v", err)
	}
	ok, err := f.Wait(1, time.Second)
	if err != nil || !ok {
		t.Fatalf("Wait(1) = %v, %v", ok, err)
	}
	if got := f.CompletedValue(); got != 1 {
		t.Errorf("CompletedValue() = %d, want 1", got)
	}

	// Nothing will ever signal 5.
	ok, err = f.Wait(5, 20*time.Millisecond)
	if err != nil || ok {
		t.Errorf("Wait(5) = %v, %v; want false, nil", ok, err)
	}
	if ok, _ := f.Wait(5, 0); ok {
		t.Error("poll reached an unsignalled value")
	}
}

func TestFenceWaitWakesOnSignal(t *testing.T) {
	d := newNoopDevice(t, newNoopFactory(t))
	q := newNoopQueue(t, d)
	f, err := d.CreateFence(0)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Release()

	done := make(chan bool, 1)
	go func() {
		ok, _ := f.Wait(1, -1)
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	if err := q.Signal(f, 1); err != nil {
		t.Fatalf("Signal() = %v", err)
	}
	select {
	case ok := <-done:
		if !ok {
			t.Error("Wait returned false")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not wake up")
	}
}

func TestCommandListLifecycle(t *testing.T) {
	d := newNoopDevice(t, newNoopFactory(t))
	q := newNoopQueue(t, d)
	alloc, err := d.CreateCommandAllocator()
	if err != nil {
		t.Fatal(err)
	}
	defer alloc.Release()
	l, err := d.CreateCommandList(alloc, nil)
	if err != nil {
		t.Fatalf("CreateCommandList() = %v", err)
	}
	defer l.Release()

	if err := alloc.Reset(); !errors.Is(err, driver.ErrInvalidCall) {
		t.Errorf("Reset while recording = %v, want ErrInvalidCall", err)
	}
	if err := q.ExecuteCommandLists(l); !errors.Is(err, driver.ErrInvalidCall) {
		t.Errorf("executing a recording list = %v, want ErrInvalidCall", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if err := l.Close(); !errors.Is(err, driver.ErrInvalidCall) {
		t.Errorf("second Close() = %v, want ErrInvalidCall", err)
	}
	if err := l.SetPrimitiveTopology(driver.TopologyTriangleList); !errors.Is(err, driver.ErrInvalidCall) {
		t.Errorf("recording into a closed list = %v, want ErrInvalidCall", err)
	}
	if err := q.ExecuteCommandLists(l); err != nil {
		t.Fatalf("ExecuteCommandLists() = %v", err)
	}
	if q.lastSubmitted() != 1 {
		t.Errorf("timeline = %d, want 1", q.lastSubmitted())
	}
	if ok, err := q.wait(1, time.Second); err != nil || !ok {
		t.Fatalf("wait(1) = %v, %v", ok, err)
	}
	if err := alloc.Reset(); err != nil {
		t.Errorf("Reset after completion = %v", err)
	}
	if err := l.Reset(alloc, nil); err != nil {
		t.Errorf("list Reset = %v", err)
	}
}

func newTestSwapChain(t *testing.T, debug bool) (*Factory, *device, *queue, *swapChain) {
	t.Helper()
	f := newNoopFactory(t)
	if debug {
		if err := f.EnableDebugLayer(); err != nil {
			t.Fatal(err)
		}
	}
	d := newNoopDevice(t, f)
	q := newNoopQueue(t, d)
	sc, err := f.CreateSwapChainForComposition(q, driver.SwapChainDesc{
		Width: 64, Height: 32, Format: driver.FormatB8G8R8A8Unorm, BufferCount: 2,
		AlphaMode: driver.AlphaModePremultiplied,
	})
	if err != nil {
		t.Fatalf("CreateSwapChainForComposition() = %v", err)
	}
	t.Cleanup(sc.Release)
	return f, d, q, sc.(*swapChain)
}

func TestSwapChainRejectsInvalidDesc(t *testing.T) {
	f := newNoopFactory(t)
	q := newNoopQueue(t, newNoopDevice(t, f))
	tests := []struct {
		name string
		desc driver.SwapChainDesc
		want error
	}{
		{"empty", driver.SwapChainDesc{Format: driver.FormatB8G8R8A8Unorm, BufferCount: 2}, driver.ErrInvalidCall},
		{"one buffer", driver.SwapChainDesc{Width: 8, Height: 8, Format: driver.FormatB8G8R8A8Unorm, BufferCount: 1}, driver.ErrInvalidCall},
		{"float format", driver.SwapChainDesc{Width: 8, Height: 8, Format: driver.FormatR32G32B32Float, BufferCount: 2}, driver.ErrUnsupported},
		{"straight alpha", driver.SwapChainDesc{Width: 8, Height: 8, Format: driver.FormatB8G8R8A8Unorm, BufferCount: 2, AlphaMode: driver.AlphaModeStraight}, driver.ErrUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.CreateSwapChainForComposition(q, tt.desc); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
	if _, err := f.CreateSwapChainForComposition(nil, driver.SwapChainDesc{}); !errors.Is(err, driver.ErrInvalidCall) {
		t.Errorf("nil queue: error = %v, want ErrInvalidCall", err)
	}
}

func TestSwapChainFlipSequential(t *testing.T) {
	_, _, q, sc := newTestSwapChain(t, false)
	if _, ok := sc.PresentedFrame(); ok {
		t.Error("frame available before the first present")
	}
	for i, want := range []int{0, 1, 0, 1} {
		if got := sc.CurrentBackBufferIndex(); got != want {
			t.Fatalf("present %d: index = %d, want %d", i, got, want)
		}
		if err := sc.Present(1); err != nil {
			t.Fatalf("Present() = %v", err)
		}
	}
	if q.lastSubmitted() != 4 {
		t.Errorf("timeline = %d, want one copy per present", q.lastSubmitted())
	}
	img, ok := sc.PresentedFrame()
	if !ok {
		t.Fatal("no presented frame")
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 32 {
		t.Errorf("frame bounds = %v, want 64x32", b)
	}
	if err := sc.Present(5); !errors.Is(err, driver.ErrInvalidCall) {
		t.Errorf("Present(5) = %v, want ErrInvalidCall", err)
	}
}

func TestBarrierValidation(t *testing.T) {
	_, d, q, sc := newTestSwapChain(t, true)
	buf, err := sc.Buffer(0)
	if err != nil {
		t.Fatal(err)
	}
	alloc, err := d.CreateCommandAllocator()
	if err != nil {
		t.Fatal(err)
	}
	defer alloc.Release()
	l, err := d.CreateCommandList(alloc, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Release()

	// The buffer starts in Present, not RenderTarget.
	if err := l.ResourceBarrier(driver.Transition(buf, driver.StateRenderTarget, driver.StatePresent)); err != nil {
		t.Fatalf("ResourceBarrier() = %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	if err := q.ExecuteCommandLists(l); !errors.Is(err, driver.ErrValidation) {
		t.Errorf("ExecuteCommandLists() = %v, want ErrValidation", err)
	}
	if q.lastSubmitted() != 0 {
		t.Error("a refused batch reached the queue")
	}
	if err := l.ResourceBarrier(driver.Transition(buf, driver.StatePresent, driver.StatePresent)); !errors.Is(err, driver.ErrInvalidCall) {
		t.Errorf("barrier on a closed list = %v, want ErrInvalidCall", err)
	}
}

func TestDrawRequiresFullViewport(t *testing.T) {
	_, d, _, sc := newTestSwapChain(t, false)
	heap, err := d.CreateDescriptorHeap(driver.DescriptorHeapRTV, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer heap.Release()
	buf, err := sc.Buffer(0)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.CreateRenderTargetView(buf, heap.CPUStart()); err != nil {
		t.Fatalf("CreateRenderTargetView() = %v", err)
	}

	rs, err := d.CreateRootSignature(driver.RootSignatureDesc{AllowInputAssembler: true})
	if err != nil {
		t.Fatal(err)
	}
	defer rs.Release()
	pso, err := d.CreatePipelineState(driver.PipelineDesc{
		RootSignature:      rs,
		VertexShader:       spirvStub(),
		VertexEntry:        "vs_main",
		PixelShader:        spirvStub(),
		PixelEntry:         "fs_main",
		VertexStride:       12,
		InputLayout:        []driver.InputElement{{Semantic: "POSITION", Format: driver.FormatR32G32B32Float}},
		RenderTargetFormat: driver.FormatB8G8R8A8Unorm,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer pso.Release()
	vb, err := d.CreateBuffer(driver.BufferDesc{Size: 36, InitialState: driver.StateGenericRead})
	if err != nil {
		t.Fatal(err)
	}
	defer vb.Release()

	alloc, err := d.CreateCommandAllocator()
	if err != nil {
		t.Fatal(err)
	}
	defer alloc.Release()
	l, err := d.CreateCommandList(alloc, pso)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Release()

	steps := []error{
		l.SetGraphicsRootSignature(rs),
		l.SetViewport(driver.Viewport{Width: 32, Height: 32, MaxDepth: 1}),
		l.SetScissorRect(driver.Rect{Right: 64, Bottom: 32}),
		l.SetRenderTarget(heap.CPUStart()),
		l.SetPrimitiveTopology(driver.TopologyTriangleList),
		l.SetVertexBuffer(0, driver.VertexBufferView{BufferLocation: vb.GPUVirtualAddress(), SizeInBytes: 36, StrideInBytes: 12}),
	}
	for i, err := range steps {
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	if err := l.DrawInstanced(3, 1, 0, 0); !errors.Is(err, driver.ErrUnsupported) {
		t.Errorf("draw with a partial viewport = %v, want ErrUnsupported", err)
	}
	if err := l.SetViewport(driver.Viewport{Width: 64, Height: 32, MaxDepth: 1}); err != nil {
		t.Fatal(err)
	}
	if err := l.DrawInstanced(3, 1, 0, 0); err != nil {
		t.Errorf("draw with a full viewport = %v", err)
	}
	if err := l.SetVertexBuffer(0, driver.VertexBufferView{BufferLocation: vb.GPUVirtualAddress() + 4, SizeInBytes: 24, StrideInBytes: 12}); !errors.Is(err, driver.ErrUnsupported) {
		t.Errorf("misaligned vertex view = %v, want ErrUnsupported", err)
	}
}

func TestProviderWithoutHAL(t *testing.T) {
	if _, err := NewFactoryFromProvider(nil); !errors.Is(err, driver.ErrUnsupported) {
		t.Errorf("NewFactoryFromProvider(nil) = %v, want ErrUnsupported", err)
	}
}
