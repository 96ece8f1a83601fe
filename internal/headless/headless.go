// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package headless implements an off-screen desktop compositor.
//
// It keeps one composition target per window handle, a tree of visuals
// whose content is a swapchain, and applies tree changes atomically on
// Commit, the way DirectComposition does. Instead of scanning out to a
// display, the last image presented to a window's root visual can be read
// back with Device.Frame. Both the soft and the wgpu drivers use it.
package headless

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/gogpu/compositor/driver"
)

// Errors returned by Device.Frame.
var (
	ErrNoTarget          = errors.New("headless: no composition target for window")
	ErrNotCommitted      = errors.New("headless: target has no committed root visual")
	ErrNoContent         = errors.New("headless: root visual has no content")
	ErrNothingPresented  = errors.New("headless: content has not presented a frame")
	ErrUnsupportedSource = errors.New("headless: swapchain cannot be composed")
)

// Source is implemented by swapchains whose presented images can be
// composed. PresentedFrame returns a copy of the most recently displayed
// image, or false when nothing was presented yet.
type Source interface {
	PresentedFrame() (*image.RGBA, bool)
}

// Hooks observe object lifetimes. Drivers use them for live-object
// accounting. Either function may be nil.
type Hooks struct {
	Created  func(kind string)
	Released func(kind string)
}

// Object kinds reported to Hooks.
const (
	KindDevice = "composition-device"
	KindTarget = "composition-target"
	KindVisual = "visual"
)

func (h Hooks) created(kind string) {
	if h.Created != nil {
		h.Created(kind)
	}
}

func (h Hooks) released(kind string) {
	if h.Released != nil {
		h.Released(kind)
	}
}

// Device is a headless composition device.
type Device struct {
	hooks Hooks

	mu       sync.Mutex
	targets  map[driver.WindowHandle]*Target
	commits  int
	released bool
}

var _ driver.CompositionDevice = (*Device)(nil)

// NewDevice creates a composition device.
func NewDevice(hooks Hooks) *Device {
	hooks.created(KindDevice)
	return &Device{
		hooks:   hooks,
		targets: make(map[driver.WindowHandle]*Target),
	}
}

// CreateTargetForWindow binds a new target to hwnd. A window can have one
// target at a time.
func (d *Device) CreateTargetForWindow(hwnd driver.WindowHandle, topmost bool) (driver.CompositionTarget, error) {
	if hwnd == 0 {
		return nil, fmt.Errorf("headless: null window handle: %w", driver.ErrInvalidCall)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return nil, fmt.Errorf("headless: device released: %w", driver.ErrInvalidCall)
	}
	if _, ok := d.targets[hwnd]; ok {
		return nil, fmt.Errorf("headless: window %#x already has a target: %w", uintptr(hwnd), driver.ErrInvalidCall)
	}

	t := &Target{dev: d, hwnd: hwnd, topmost: topmost}
	d.targets[hwnd] = t
	d.hooks.created(KindTarget)
	return t, nil
}

// CreateVisual creates a detached visual.
func (d *Device) CreateVisual() (driver.Visual, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return nil, fmt.Errorf("headless: device released: %w", driver.ErrInvalidCall)
	}
	d.hooks.created(KindVisual)
	return &Visual{dev: d}, nil
}

// Commit applies pending SetRoot and SetContent calls.
func (d *Device) Commit() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return fmt.Errorf("headless: device released: %w", driver.ErrInvalidCall)
	}
	for _, t := range d.targets {
		t.root = t.pendingRoot
		if v := t.root; v != nil {
			v.content = v.pendingContent
		}
	}
	d.commits++
	return nil
}

// Commits returns how many times Commit succeeded.
func (d *Device) Commits() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.commits
}

// Topmost reports whether the target of hwnd was created topmost.
func (d *Device) Topmost(hwnd driver.WindowHandle) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.targets[hwnd]
	if !ok {
		return false, ErrNoTarget
	}
	return t.topmost, nil
}

// Frame returns the image currently composed into hwnd.
func (d *Device) Frame(hwnd driver.WindowHandle) (*image.RGBA, error) {
	d.mu.Lock()
	t, ok := d.targets[hwnd]
	var root *Visual
	var content Source
	if ok {
		root = t.root
		if root != nil {
			content = root.content
		}
	}
	d.mu.Unlock()

	switch {
	case !ok:
		return nil, ErrNoTarget
	case root == nil:
		return nil, ErrNotCommitted
	case content == nil:
		return nil, ErrNoContent
	}
	img, ok := content.PresentedFrame()
	if !ok {
		return nil, ErrNothingPresented
	}
	return img, nil
}

// Release destroys the device. Targets and visuals must be released by
// their owners.
func (d *Device) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return
	}
	d.released = true
	d.hooks.released(KindDevice)
}

// Target binds a visual tree to a window.
type Target struct {
	dev     *Device
	hwnd    driver.WindowHandle
	topmost bool

	pendingRoot *Visual
	root        *Visual
	released    bool
}

// SetRoot stages v as the root of the window's tree until the next Commit.
func (t *Target) SetRoot(v driver.Visual) error {
	hv, ok := v.(*Visual)
	if !ok || hv.dev != t.dev {
		return fmt.Errorf("headless: visual from another device: %w", driver.ErrInvalidCall)
	}

	t.dev.mu.Lock()
	defer t.dev.mu.Unlock()
	if t.released {
		return fmt.Errorf("headless: target released: %w", driver.ErrInvalidCall)
	}
	t.pendingRoot = hv
	return nil
}

// Release unbinds the target from its window.
func (t *Target) Release() {
	t.dev.mu.Lock()
	defer t.dev.mu.Unlock()
	if t.released {
		return
	}
	t.released = true
	if t.dev.targets[t.hwnd] == t {
		delete(t.dev.targets, t.hwnd)
	}
	t.dev.hooks.released(KindTarget)
}

// Visual is a composition tree node whose content is a swapchain.
type Visual struct {
	dev *Device

	pendingContent Source
	content        Source
	released       bool
}

// SetContent stages sc as the visual's content until the next Commit.
func (v *Visual) SetContent(sc driver.SwapChain) error {
	src, ok := sc.(Source)
	if !ok {
		return ErrUnsupportedSource
	}

	v.dev.mu.Lock()
	defer v.dev.mu.Unlock()
	if v.released {
		return fmt.Errorf("headless: visual released: %w", driver.ErrInvalidCall)
	}
	v.pendingContent = src
	return nil
}

// Release destroys the visual.
func (v *Visual) Release() {
	v.dev.mu.Lock()
	defer v.dev.mu.Unlock()
	if v.released {
		return
	}
	v.released = true
	v.content = nil
	v.pendingContent = nil
	v.dev.hooks.released(KindVisual)
}
