//go:build !nogpu

// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpu

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/compositor/driver"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// allocator owns the HAL command buffers encoded from its lists. They are
// freed by Reset once the timeline passed their submission.
type allocator struct {
	dev *device

	mu       sync.Mutex
	open     bool
	bufs     []hal.CommandBuffer
	lastUse  uint64
	queue    *queue
	released atomic.Bool
}

var _ driver.CommandAllocator = (*allocator)(nil)

func (a *allocator) Reset() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case a.released.Load():
		return fmt.Errorf("wgpu: allocator used after release: %w", driver.ErrInvalidCall)
	case a.open:
		return fmt.Errorf("wgpu: allocator reset while a list records into it: %w", driver.ErrInvalidCall)
	case a.queue != nil && !a.queue.reached(a.lastUse):
		return fmt.Errorf("wgpu: allocator reset before submission %d completed: %w", a.lastUse, driver.ErrInFlight)
	}
	a.free()
	return nil
}

func (a *allocator) free() {
	for _, b := range a.bufs {
		a.dev.hal.FreeCommandBuffer(b)
	}
	a.bufs = a.bufs[:0]
}

func (a *allocator) acquire() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released.Load() {
		return fmt.Errorf("wgpu: allocator used after release: %w", driver.ErrInvalidCall)
	}
	if a.open {
		return fmt.Errorf("wgpu: allocator already has a recording list: %w", driver.ErrInvalidCall)
	}
	a.open = true
	return nil
}

func (a *allocator) closeList(buf hal.CommandBuffer) {
	a.mu.Lock()
	a.open = false
	if buf != nil {
		a.bufs = append(a.bufs, buf)
	}
	a.mu.Unlock()
}

func (a *allocator) submitted(q *queue, value uint64) {
	a.mu.Lock()
	a.queue = q
	a.lastUse = value
	a.mu.Unlock()
}

func (a *allocator) Release() {
	if a.released.Swap(true) {
		return
	}
	a.mu.Lock()
	a.free()
	a.mu.Unlock()
}

type cmdKind uint8

const (
	cmdBarrier cmdKind = iota
	cmdClear
	cmdDraw
)

type resolvedBarrier struct {
	res    *resource
	before driver.ResourceState
	after  driver.ResourceState
	from   gputypes.TextureUsage
	to     gputypes.TextureUsage
}

type command struct {
	kind     cmdKind
	barriers []resolvedBarrier
	target   *rtv
	color    [4]float32
	vertices *resource
	draw     [4]uint32
}

// commandList records on the CPU and encodes into a HAL command buffer at
// Close. Render passes are implied: a clear opens one with a clear load
// op, a draw keeps the current pass or opens one that loads.
type commandList struct {
	dev *device

	alloc     *allocator
	initial   *pipeline
	recording bool
	cmds      []command
	cmdBuf    hal.CommandBuffer

	rootSig  *rootSignature
	topology driver.PrimitiveTopology
	vb       *resource
	vbFirst  uint32
	target   *rtv
	viewport driver.Viewport
	scissor  driver.Rect

	released atomic.Bool
}

var _ driver.CommandList = (*commandList)(nil)

func (l *commandList) open(alloc driver.CommandAllocator, initial driver.PipelineState) error {
	a, ok := alloc.(*allocator)
	if !ok || a.dev != l.dev {
		return fmt.Errorf("wgpu: allocator %T from another device: %w", alloc, driver.ErrInvalidCall)
	}
	var p *pipeline
	if initial != nil {
		p, ok = initial.(*pipeline)
		if !ok || p == nil || p.released.Load() {
			return fmt.Errorf("wgpu: invalid initial pipeline %T: %w", initial, driver.ErrInvalidCall)
		}
	}
	if err := a.acquire(); err != nil {
		return err
	}

	l.alloc = a
	l.initial = p
	l.recording = true
	l.cmds = l.cmds[:0]
	l.cmdBuf = nil
	l.rootSig = nil
	l.topology = driver.TopologyUndefined
	l.vb = nil
	l.vbFirst = 0
	l.target = nil
	l.viewport = driver.Viewport{}
	l.scissor = driver.Rect{}
	return nil
}

func (l *commandList) Reset(alloc driver.CommandAllocator, initial driver.PipelineState) error {
	if l.released.Load() {
		return fmt.Errorf("wgpu: command list used after release: %w", driver.ErrInvalidCall)
	}
	if l.recording {
		return fmt.Errorf("wgpu: reset of a recording list: %w", driver.ErrInvalidCall)
	}
	return l.open(alloc, initial)
}

func (l *commandList) check(op string) error {
	if l.released.Load() {
		return fmt.Errorf("wgpu: command list used after release: %w", driver.ErrInvalidCall)
	}
	if !l.recording {
		return fmt.Errorf("wgpu: %s on a closed list: %w", op, driver.ErrInvalidCall)
	}
	return nil
}

func (l *commandList) SetGraphicsRootSignature(rs driver.RootSignature) error {
	if err := l.check("SetGraphicsRootSignature"); err != nil {
		return err
	}
	wrs, ok := rs.(*rootSignature)
	if !ok || wrs.released.Load() {
		return fmt.Errorf("wgpu: invalid root signature %T: %w", rs, driver.ErrInvalidCall)
	}
	l.rootSig = wrs
	return nil
}

func (l *commandList) SetViewport(vp driver.Viewport) error {
	if err := l.check("SetViewport"); err != nil {
		return err
	}
	if vp.Width <= 0 || vp.Height <= 0 {
		return fmt.Errorf("wgpu: empty viewport %vx%v: %w", vp.Width, vp.Height, driver.ErrInvalidCall)
	}
	l.viewport = vp
	return nil
}

func (l *commandList) SetScissorRect(r driver.Rect) error {
	if err := l.check("SetScissorRect"); err != nil {
		return err
	}
	if r.Right < r.Left || r.Bottom < r.Top {
		return fmt.Errorf("wgpu: inverted scissor %+v: %w", r, driver.ErrInvalidCall)
	}
	l.scissor = r
	return nil
}

func (l *commandList) ResourceBarrier(barriers ...driver.Barrier) error {
	if err := l.check("ResourceBarrier"); err != nil {
		return err
	}
	resolved := make([]resolvedBarrier, 0, len(barriers))
	for _, b := range barriers {
		r, err := resourceOf(b.Resource)
		if err != nil {
			return err
		}
		if r.texture == nil {
			return fmt.Errorf("wgpu: barrier %v on buffer %s: %w", b, r.desc.Label, driver.ErrUnsupported)
		}
		if !b.Before.Valid() || !b.After.Valid() {
			return fmt.Errorf("wgpu: barrier %v on %s: undefined state: %w", b, r.desc.Label, driver.ErrInvalidCall)
		}
		if b.Before == b.After {
			return fmt.Errorf("wgpu: barrier %v on %s is a no-op: %w", b, r.desc.Label, driver.ErrInvalidCall)
		}
		oldUsage, err := textureUsage(b.Before)
		if err != nil {
			return err
		}
		newUsage, err := textureUsage(b.After)
		if err != nil {
			return err
		}
		resolved = append(resolved, resolvedBarrier{res: r, before: b.Before, after: b.After, from: oldUsage, to: newUsage})
	}
	l.cmds = append(l.cmds, command{kind: cmdBarrier, barriers: resolved})
	return nil
}

func (l *commandList) SetRenderTarget(hd driver.CPUDescriptorHandle) error {
	if err := l.check("SetRenderTarget"); err != nil {
		return err
	}
	v, ok := l.dev.view(hd)
	if !ok {
		return fmt.Errorf("wgpu: descriptor %#x holds no render target view: %w", uintptr(hd), driver.ErrInvalidCall)
	}
	l.target = v
	return nil
}

func (l *commandList) ClearRenderTargetView(hd driver.CPUDescriptorHandle, rgba [4]float32) error {
	if err := l.check("ClearRenderTargetView"); err != nil {
		return err
	}
	v, ok := l.dev.view(hd)
	if !ok {
		return fmt.Errorf("wgpu: descriptor %#x holds no render target view: %w", uintptr(hd), driver.ErrInvalidCall)
	}
	l.cmds = append(l.cmds, command{kind: cmdClear, target: v, color: rgba})
	return nil
}

func (l *commandList) SetPrimitiveTopology(t driver.PrimitiveTopology) error {
	if err := l.check("SetPrimitiveTopology"); err != nil {
		return err
	}
	if t != driver.TopologyTriangleList {
		return fmt.Errorf("wgpu: topology %d: %w", t, driver.ErrUnsupported)
	}
	l.topology = t
	return nil
}

// SetVertexBuffer binds a whole HAL buffer. A view starting inside the
// buffer is expressed as a first-vertex offset, so it must start on a
// stride boundary.
func (l *commandList) SetVertexBuffer(slot uint32, view driver.VertexBufferView) error {
	if err := l.check("SetVertexBuffer"); err != nil {
		return err
	}
	if slot != 0 {
		return fmt.Errorf("wgpu: vertex buffer slot %d: %w", slot, driver.ErrUnsupported)
	}
	if view.StrideInBytes == 0 {
		return fmt.Errorf("wgpu: vertex buffer with zero stride: %w", driver.ErrInvalidCall)
	}
	r, off, ok := l.dev.bufferAt(view.BufferLocation, view.SizeInBytes)
	if !ok {
		return fmt.Errorf("wgpu: vertex buffer %#x+%d outside every buffer: %w",
			view.BufferLocation, view.SizeInBytes, driver.ErrInvalidCall)
	}
	if off%uint64(view.StrideInBytes) != 0 {
		return fmt.Errorf("wgpu: vertex buffer offset %d is not a multiple of stride %d: %w",
			off, view.StrideInBytes, driver.ErrUnsupported)
	}
	l.vb = r
	l.vbFirst = uint32(off / uint64(view.StrideInBytes))
	return nil
}

// DrawInstanced needs viewport and scissor to cover the render target;
// the HAL pass always renders to the full attachment.
func (l *commandList) DrawInstanced(vertexCount, instanceCount, startVertex, startInstance uint32) error {
	if err := l.check("DrawInstanced"); err != nil {
		return err
	}
	switch {
	case l.initial == nil:
		return fmt.Errorf("wgpu: draw without a pipeline: %w", driver.ErrInvalidCall)
	case l.rootSig == nil:
		return fmt.Errorf("wgpu: draw without a root signature: %w", driver.ErrInvalidCall)
	case l.topology != driver.TopologyTriangleList:
		return fmt.Errorf("wgpu: draw without a primitive topology: %w", driver.ErrInvalidCall)
	case l.vb == nil:
		return fmt.Errorf("wgpu: draw without a vertex buffer: %w", driver.ErrInvalidCall)
	case l.target == nil:
		return fmt.Errorf("wgpu: draw without a render target: %w", driver.ErrInvalidCall)
	}
	w, h := float32(l.target.res.desc.Width), float32(l.target.res.desc.Height)
	vp, sc := l.viewport, l.scissor
	if vp.X != 0 || vp.Y != 0 || vp.Width != w || vp.Height != h {
		return fmt.Errorf("wgpu: viewport %+v does not cover the %vx%v target: %w", vp, w, h, driver.ErrUnsupported)
	}
	if sc.Left > 0 || sc.Top > 0 || float32(sc.Right) < w || float32(sc.Bottom) < h {
		return fmt.Errorf("wgpu: scissor %+v clips the %vx%v target: %w", sc, w, h, driver.ErrUnsupported)
	}
	l.cmds = append(l.cmds, command{
		kind:     cmdDraw,
		target:   l.target,
		vertices: l.vb,
		draw:     [4]uint32{vertexCount, instanceCount, startVertex + l.vbFirst, startInstance},
	})
	return nil
}

// Close encodes the recorded commands. The list is closed even when
// encoding fails, so the allocator stays usable.
func (l *commandList) Close() error {
	if l.released.Load() {
		return fmt.Errorf("wgpu: command list used after release: %w", driver.ErrInvalidCall)
	}
	if !l.recording {
		return fmt.Errorf("wgpu: close of a closed list: %w", driver.ErrInvalidCall)
	}
	l.recording = false
	buf, err := l.encode()
	l.alloc.closeList(buf)
	if err != nil {
		return err
	}
	l.cmdBuf = buf
	return nil
}

func (l *commandList) encode() (hal.CommandBuffer, error) {
	enc, err := l.dev.hal.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "compositor_encoder"})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create command encoder: %w", err)
	}
	if err := enc.BeginEncoding("compositor_frame"); err != nil {
		return nil, fmt.Errorf("wgpu: begin encoding: %w", err)
	}

	var (
		pass    hal.RenderPassEncoder
		current *rtv
	)
	endPass := func() {
		if pass != nil {
			pass.End()
			pass = nil
			current = nil
		}
	}
	begin := func(target *rtv, load gputypes.LoadOp, color [4]float32) {
		pass = enc.BeginRenderPass(&hal.RenderPassDescriptor{
			Label: "compositor_pass",
			ColorAttachments: []hal.RenderPassColorAttachment{{
				View:       target.view,
				LoadOp:     load,
				StoreOp:    gputypes.StoreOpStore,
				ClearValue: clearValue(color),
			}},
		})
		current = target
	}

	for _, c := range l.cmds {
		switch c.kind {
		case cmdBarrier:
			endPass()
			barriers := make([]hal.TextureBarrier, len(c.barriers))
			for i, b := range c.barriers {
				barriers[i] = hal.TextureBarrier{
					Texture: b.res.texture,
					Usage:   hal.TextureUsageTransition{OldUsage: b.from, NewUsage: b.to},
				}
			}
			enc.TransitionTextures(barriers)
		case cmdClear:
			endPass()
			begin(c.target, gputypes.LoadOpClear, c.color)
		case cmdDraw:
			if current != c.target {
				endPass()
				begin(c.target, gputypes.LoadOpLoad, [4]float32{})
			}
			pass.SetPipeline(l.initial.pipeline)
			pass.SetVertexBuffer(0, c.vertices.buffer, 0)
			pass.Draw(c.draw[0], c.draw[1], c.draw[2], c.draw[3])
		}
	}
	endPass()

	buf, err := enc.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("wgpu: end encoding: %w", err)
	}
	return buf, nil
}

func (l *commandList) Release() {
	if l.released.Swap(true) {
		return
	}
	if l.recording {
		l.recording = false
		l.alloc.closeList(nil)
	}
}
