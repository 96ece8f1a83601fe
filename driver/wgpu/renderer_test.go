//go:build !nogpu

// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpu_test

import (
	"testing"

	"github.com/gogpu/compositor"
	"github.com/gogpu/compositor/driver"
	"github.com/gogpu/compositor/driver/wgpu"
	"github.com/gogpu/wgpu/hal/noop"
)

const testWindow driver.WindowHandle = 0x200

func newRenderer(t *testing.T, opts ...compositor.Option) (*wgpu.Factory, *compositor.Renderer) {
	t.Helper()
	inst, err := noop.API{}.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	t.Cleanup(inst.Destroy)

	f := wgpu.NewFactoryFromInstance(inst)
	opts = append([]compositor.Option{compositor.WithSize(64, 48)}, opts...)
	r, err := compositor.New(f, testWindow, opts...)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return f, r
}

func TestRendererOverNoop(t *testing.T) {
	f, r := newRenderer(t)
	for i := 0; i < 3; i++ {
		if err := r.Render(); err != nil {
			t.Fatalf("frame %d: Render() = %v", i, err)
		}
	}
	s := r.Stats()
	if s.Frames != 3 || s.FenceValue != 3 || s.Completed != 3 {
		t.Errorf("Stats() = %+v, want 3 frames completed", s)
	}
	if s.LastIndex != 0 {
		t.Errorf("LastIndex = %d, want 0 after three flip-sequential frames", s.LastIndex)
	}

	img, err := f.Frame(testWindow)
	if err != nil {
		t.Fatalf("Frame() = %v", err)
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 48 {
		t.Errorf("frame bounds = %v, want 64x48", b)
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if r.State() != compositor.StateClosed {
		t.Errorf("State() = %v, want closed", r.State())
	}
}

func TestRendererOverNoopClearOnly(t *testing.T) {
	_, r := newRenderer(t, compositor.WithoutGeometry(), compositor.WithDebugLayer())
	if err := r.Render(); err != nil {
		t.Fatalf("Render() = %v", err)
	}
	if err := r.Render(); err != nil {
		t.Fatalf("second Render() = %v", err)
	}
	if got := r.Stats().Frames; got != 2 {
		t.Errorf("Frames = %d, want 2", got)
	}
}
