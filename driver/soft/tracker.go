// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package soft

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gogpu/compositor/driver"
	"github.com/gogpu/compositor/internal/headless"
)

// Object kinds reported by LiveObjectsByKind and ReleaseLog.
const (
	KindFactory           = "factory"
	KindAdapter           = "adapter"
	KindDevice            = "device"
	KindQueue             = "command-queue"
	KindAllocator         = "command-allocator"
	KindCommandList       = "command-list"
	KindFence             = "fence"
	KindDescriptorHeap    = "descriptor-heap"
	KindBuffer            = "buffer"
	KindBackBuffer        = "back-buffer"
	KindRootSignature     = "root-signature"
	KindPipelineState     = "pipeline-state"
	KindSwapChain         = "swapchain"
	KindCompositionDevice = headless.KindDevice
	KindCompositionTarget = headless.KindTarget
	KindVisual            = headless.KindVisual
)

type tracker struct {
	mu       sync.Mutex
	counts   map[string]int
	releases []string
}

func newTracker() *tracker {
	return &tracker{counts: make(map[string]int)}
}

func (t *tracker) created(kind string) {
	t.mu.Lock()
	t.counts[kind]++
	t.mu.Unlock()
}

func (t *tracker) released(kind string) {
	t.mu.Lock()
	t.counts[kind]--
	t.releases = append(t.releases, kind)
	t.mu.Unlock()
}

func (t *tracker) live() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.counts {
		n += c
	}
	return n
}

func (t *tracker) liveByKind() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := make(map[string]int, len(t.counts))
	for k, c := range t.counts {
		if c != 0 {
			m[k] = c
		}
	}
	return m
}

func (t *tracker) releaseLog() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.releases...)
}

// Op names a driver call that can be made to fail with FailNext.
type Op string

// Injectable operations.
const (
	OpEnableDebugLayer        Op = "EnableDebugLayer"
	OpEnumAdapter             Op = "EnumAdapter"
	OpCreateDevice            Op = "CreateDevice"
	OpCreateCommandQueue      Op = "CreateCommandQueue"
	OpCreateCommandAllocator  Op = "CreateCommandAllocator"
	OpCreateCommandList       Op = "CreateCommandList"
	OpCreateFence             Op = "CreateFence"
	OpCreateDescriptorHeap    Op = "CreateDescriptorHeap"
	OpCreateRenderTargetView  Op = "CreateRenderTargetView"
	OpCreateRootSignature     Op = "CreateRootSignature"
	OpCreatePipelineState     Op = "CreatePipelineState"
	OpCreateBuffer            Op = "CreateBuffer"
	OpCreateSwapChain         Op = "CreateSwapChainForComposition"
	OpCreateCompositionDevice Op = "CreateCompositionDevice"
	OpAllocatorReset          Op = "CommandAllocator.Reset"
	OpListReset               Op = "CommandList.Reset"
	OpSetRootSignature        Op = "SetGraphicsRootSignature"
	OpSetViewport             Op = "SetViewport"
	OpSetScissorRect          Op = "SetScissorRect"
	OpResourceBarrier         Op = "ResourceBarrier"
	OpSetRenderTarget         Op = "SetRenderTarget"
	OpClearRenderTarget       Op = "ClearRenderTargetView"
	OpSetPrimitiveTopology    Op = "SetPrimitiveTopology"
	OpSetVertexBuffer         Op = "SetVertexBuffer"
	OpDrawInstanced           Op = "DrawInstanced"
	OpClose                   Op = "CommandList.Close"
	OpExecuteCommandLists     Op = "ExecuteCommandLists"
	OpSignal                  Op = "Signal"
	OpPresent                 Op = "Present"
	OpGetBuffer               Op = "SwapChain.Buffer"
)

type faults struct {
	mu      sync.Mutex
	pending map[Op][]int
}

func newFaults() *faults {
	return &faults{pending: make(map[Op][]int)}
}

func (f *faults) add(op Op, skip int) {
	if skip < 0 {
		skip = 0
	}
	f.mu.Lock()
	f.pending[op] = append(f.pending[op], skip)
	f.mu.Unlock()
}

// check counts a call to op and returns driver.ErrInjected when a pending
// fault is due.
func (f *faults) check(op Op) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.pending[op]
	if len(list) == 0 {
		return nil
	}
	fire := false
	kept := list[:0]
	for _, n := range list {
		switch {
		case n == 0 && !fire:
			fire = true
		case n > 0:
			kept = append(kept, n-1)
		default:
			kept = append(kept, n)
		}
	}
	if len(kept) == 0 {
		delete(f.pending, op)
	} else {
		f.pending[op] = kept
	}
	if fire {
		return fmt.Errorf("soft: %s: %w", op, driver.ErrInjected)
	}
	return nil
}

// gate blocks queue workers while the GPU is paused.
type gate struct {
	mu     sync.Mutex
	paused bool
	ch     chan struct{}
}

func newGate() *gate { return &gate{} }

func (g *gate) pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		g.paused = true
		g.ch = make(chan struct{})
	}
}

func (g *gate) resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		g.paused = false
		close(g.ch)
	}
}

// wait returns true once the gate is open, or false if quit closes first.
func (g *gate) wait(quit <-chan struct{}) bool {
	g.mu.Lock()
	if !g.paused {
		g.mu.Unlock()
		return true
	}
	ch := g.ch
	g.mu.Unlock()

	select {
	case <-ch:
		return true
	case <-quit:
		return false
	}
}

// BarrierRecord is one transition barrier executed by the GPU.
type BarrierRecord struct {
	Resource string
	Before   driver.ResourceState
	After    driver.ResourceState
}

type barrierLog struct {
	mu      sync.Mutex
	records []BarrierRecord
}

func (l *barrierLog) add(r BarrierRecord) {
	l.mu.Lock()
	l.records = append(l.records, r)
	l.mu.Unlock()
}

func (l *barrierLog) snapshot() []BarrierRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]BarrierRecord(nil), l.records...)
}

// nopHandler discards all records.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }
