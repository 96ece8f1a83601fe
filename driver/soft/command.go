// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package soft

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/compositor/driver"
)

type allocator struct {
	dev *device

	mu       sync.Mutex
	open     bool
	inFlight int
	released atomic.Bool
}

var _ driver.CommandAllocator = (*allocator)(nil)

// Reset refuses while a list records into the allocator or while
// submitted lists have not finished executing.
func (a *allocator) Reset() error {
	if err := a.dev.f.faults.check(OpAllocatorReset); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case a.released.Load():
		return fmt.Errorf("soft: allocator used after release: %w", driver.ErrInvalidCall)
	case a.open:
		return fmt.Errorf("soft: allocator reset while a list records into it: %w", driver.ErrInvalidCall)
	case a.inFlight > 0:
		return fmt.Errorf("soft: allocator reset with %d lists executing: %w", a.inFlight, driver.ErrInFlight)
	}
	return nil
}

func (a *allocator) acquire() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released.Load() {
		return fmt.Errorf("soft: allocator used after release: %w", driver.ErrInvalidCall)
	}
	if a.open {
		return fmt.Errorf("soft: allocator already has a recording list: %w", driver.ErrInvalidCall)
	}
	a.open = true
	return nil
}

func (a *allocator) closeList() {
	a.mu.Lock()
	a.open = false
	a.mu.Unlock()
}

func (a *allocator) submitted() {
	a.mu.Lock()
	a.inFlight++
	a.mu.Unlock()
}

func (a *allocator) completed() {
	a.mu.Lock()
	a.inFlight--
	a.mu.Unlock()
}

func (a *allocator) Release() {
	if a.released.Swap(true) {
		return
	}
	a.dev.f.tracker.released(KindAllocator)
}

type cmdKind uint8

const (
	cmdRootSignature cmdKind = iota
	cmdViewport
	cmdScissor
	cmdBarrier
	cmdRenderTarget
	cmdClear
	cmdTopology
	cmdVertexBuffer
	cmdDraw
)

type resolvedBarrier struct {
	mem    *memory
	before driver.ResourceState
	after  driver.ResourceState
}

type command struct {
	kind     cmdKind
	barriers []resolvedBarrier
	target   *memory
	color    [4]float32
	viewport driver.Viewport
	scissor  driver.Rect
	topology driver.PrimitiveTopology
	vertices *memory
	vbOffset uint64
	vbView   driver.VertexBufferView
	draw     [4]uint32
}

// commandList records commands on the CPU. CPU descriptor handles are
// resolved at record time, as the hardware does.
type commandList struct {
	dev *device

	alloc     *allocator
	initial   *pipeline
	recording bool
	cmds      []command

	// Bound at record time so draws can be checked before submission.
	rootSig  *rootSignature
	topology driver.PrimitiveTopology
	vbBound  bool
	target   *memory

	released atomic.Bool
}

var _ driver.CommandList = (*commandList)(nil)

func (l *commandList) open(alloc driver.CommandAllocator, initial driver.PipelineState) error {
	a, ok := alloc.(*allocator)
	if !ok || a.dev != l.dev {
		return fmt.Errorf("soft: allocator %T from another device: %w", alloc, driver.ErrInvalidCall)
	}
	var p *pipeline
	if initial != nil {
		p, ok = initial.(*pipeline)
		if !ok || p == nil || p.released.Load() {
			return fmt.Errorf("soft: invalid initial pipeline %T: %w", initial, driver.ErrInvalidCall)
		}
	}
	if err := a.acquire(); err != nil {
		return err
	}

	l.alloc = a
	l.initial = p
	l.recording = true
	l.cmds = l.cmds[:0]
	l.rootSig = nil
	l.topology = driver.TopologyUndefined
	l.vbBound = false
	l.target = nil
	return nil
}

func (l *commandList) Reset(alloc driver.CommandAllocator, initial driver.PipelineState) error {
	if err := l.dev.f.faults.check(OpListReset); err != nil {
		return err
	}
	if l.released.Load() {
		return fmt.Errorf("soft: command list used after release: %w", driver.ErrInvalidCall)
	}
	if l.recording {
		return fmt.Errorf("soft: reset of a recording list: %w", driver.ErrInvalidCall)
	}
	return l.open(alloc, initial)
}

func (l *commandList) record(op Op, c command) error {
	if l.released.Load() {
		return fmt.Errorf("soft: command list used after release: %w", driver.ErrInvalidCall)
	}
	if !l.recording {
		return fmt.Errorf("soft: %s on a closed list: %w", op, driver.ErrInvalidCall)
	}
	if err := l.dev.f.faults.check(op); err != nil {
		return err
	}
	l.cmds = append(l.cmds, c)
	return nil
}

func (l *commandList) SetGraphicsRootSignature(rs driver.RootSignature) error {
	srs, ok := rs.(*rootSignature)
	if !ok || srs.released.Load() {
		return fmt.Errorf("soft: invalid root signature %T: %w", rs, driver.ErrInvalidCall)
	}
	if err := l.record(OpSetRootSignature, command{kind: cmdRootSignature}); err != nil {
		return err
	}
	l.rootSig = srs
	return nil
}

func (l *commandList) SetViewport(vp driver.Viewport) error {
	if vp.Width <= 0 || vp.Height <= 0 {
		return fmt.Errorf("soft: empty viewport %vx%v: %w", vp.Width, vp.Height, driver.ErrInvalidCall)
	}
	return l.record(OpSetViewport, command{kind: cmdViewport, viewport: vp})
}

func (l *commandList) SetScissorRect(r driver.Rect) error {
	if r.Right < r.Left || r.Bottom < r.Top {
		return fmt.Errorf("soft: inverted scissor %+v: %w", r, driver.ErrInvalidCall)
	}
	return l.record(OpSetScissorRect, command{kind: cmdScissor, scissor: r})
}

func (l *commandList) ResourceBarrier(barriers ...driver.Barrier) error {
	resolved := make([]resolvedBarrier, 0, len(barriers))
	for _, b := range barriers {
		mem, err := memoryOf(b.Resource)
		if err != nil {
			return err
		}
		if !b.Before.Valid() || !b.After.Valid() {
			return fmt.Errorf("soft: barrier %v on %s: undefined state: %w", b, mem.label, driver.ErrInvalidCall)
		}
		if b.Before == b.After {
			return fmt.Errorf("soft: barrier %v on %s is a no-op: %w", b, mem.label, driver.ErrInvalidCall)
		}
		resolved = append(resolved, resolvedBarrier{mem: mem, before: b.Before, after: b.After})
	}
	return l.record(OpResourceBarrier, command{kind: cmdBarrier, barriers: resolved})
}

func (l *commandList) SetRenderTarget(rtv driver.CPUDescriptorHandle) error {
	mem, ok := l.dev.view(rtv)
	if !ok {
		return fmt.Errorf("soft: descriptor %#x holds no render target view: %w", uintptr(rtv), driver.ErrInvalidCall)
	}
	if err := l.record(OpSetRenderTarget, command{kind: cmdRenderTarget, target: mem}); err != nil {
		return err
	}
	l.target = mem
	return nil
}

func (l *commandList) ClearRenderTargetView(rtv driver.CPUDescriptorHandle, rgba [4]float32) error {
	mem, ok := l.dev.view(rtv)
	if !ok {
		return fmt.Errorf("soft: descriptor %#x holds no render target view: %w", uintptr(rtv), driver.ErrInvalidCall)
	}
	return l.record(OpClearRenderTarget, command{kind: cmdClear, target: mem, color: rgba})
}

func (l *commandList) SetPrimitiveTopology(t driver.PrimitiveTopology) error {
	if t != driver.TopologyTriangleList {
		return fmt.Errorf("soft: topology %d: %w", t, driver.ErrUnsupported)
	}
	if err := l.record(OpSetPrimitiveTopology, command{kind: cmdTopology, topology: t}); err != nil {
		return err
	}
	l.topology = t
	return nil
}

func (l *commandList) SetVertexBuffer(slot uint32, view driver.VertexBufferView) error {
	if slot != 0 {
		return fmt.Errorf("soft: vertex buffer slot %d: %w", slot, driver.ErrUnsupported)
	}
	if view.StrideInBytes == 0 {
		return fmt.Errorf("soft: vertex buffer with zero stride: %w", driver.ErrInvalidCall)
	}
	mem, off, ok := l.dev.bufferAt(view.BufferLocation, view.SizeInBytes)
	if !ok {
		return fmt.Errorf("soft: vertex buffer %#x+%d outside every buffer: %w",
			view.BufferLocation, view.SizeInBytes, driver.ErrInvalidCall)
	}
	c := command{kind: cmdVertexBuffer, vertices: mem, vbOffset: off, vbView: view}
	if err := l.record(OpSetVertexBuffer, c); err != nil {
		return err
	}
	l.vbBound = true
	return nil
}

func (l *commandList) DrawInstanced(vertexCount, instanceCount, startVertex, startInstance uint32) error {
	switch {
	case l.initial == nil:
		return fmt.Errorf("soft: draw without a pipeline: %w", driver.ErrInvalidCall)
	case l.rootSig == nil:
		return fmt.Errorf("soft: draw without a root signature: %w", driver.ErrInvalidCall)
	case l.topology != driver.TopologyTriangleList:
		return fmt.Errorf("soft: draw without a primitive topology: %w", driver.ErrInvalidCall)
	case !l.vbBound:
		return fmt.Errorf("soft: draw without a vertex buffer: %w", driver.ErrInvalidCall)
	case l.target == nil:
		return fmt.Errorf("soft: draw without a render target: %w", driver.ErrInvalidCall)
	}
	c := command{
		kind:   cmdDraw,
		target: l.target,
		draw:   [4]uint32{vertexCount, instanceCount, startVertex, startInstance},
	}
	return l.record(OpDrawInstanced, c)
}

func (l *commandList) Close() error {
	if l.released.Load() {
		return fmt.Errorf("soft: command list used after release: %w", driver.ErrInvalidCall)
	}
	if !l.recording {
		return fmt.Errorf("soft: close of a closed list: %w", driver.ErrInvalidCall)
	}
	if err := l.dev.f.faults.check(OpClose); err != nil {
		return err
	}
	l.recording = false
	l.alloc.closeList()
	return nil
}

func (l *commandList) Release() {
	if l.released.Swap(true) {
		return
	}
	if l.recording {
		l.recording = false
		l.alloc.closeList()
	}
	l.dev.f.tracker.released(KindCommandList)
}
