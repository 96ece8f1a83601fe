// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package soft is an in-process simulated GPU implementing the driver
// interfaces.
//
// Each command queue executes on its own goroutine in submission order, so
// CPU/GPU overlap and fence waits behave as on hardware. Command lists are
// rasterized into CPU memory: render target clears and non-indexed
// triangle lists with per-vertex colour. Swapchain presentation copies the
// current buffer into a headless compositor once the GPU reaches it.
//
// The debug layer (Factory.EnableDebugLayer) validates resource-state
// transitions when lists are submitted and when buffers are presented.
//
// Factories expose hooks for tests: fault injection, adapter
// configuration, pausing the GPU, an occluded presentation surface, live
// object accounting and logs of released objects and executed barriers.
package soft

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/compositor/driver"
	"github.com/gogpu/compositor/internal/headless"
)

// Name is the registry name of the backend.
const Name = "soft"

func init() {
	driver.Register(Name, 10, func() (driver.Factory, error) { return New(), nil }, nil)
}

// AdapterConfig describes one simulated adapter.
type AdapterConfig struct {
	Name string

	// FeatureLevel is the highest level the adapter supports.
	FeatureLevel driver.FeatureLevel

	// FailCreate makes CreateDevice fail regardless of the level.
	FailCreate bool

	// RTVIncrement is the descriptor stride of render target heaps.
	RTVIncrement uint32
}

// DefaultAdapter is the adapter a factory exposes when none are configured.
var DefaultAdapter = AdapterConfig{
	Name:         "Soft Rasterizer",
	FeatureLevel: driver.FeatureLevel12_1,
	RTVIncrement: 32,
}

// PresentPolicy returns the next back buffer index of an n-buffer
// swapchain after presented frames.
type PresentPolicy func(presented, n int) int

// FlipSequential rotates buffers round-robin.
func FlipSequential(presented, n int) int { return presented % n }

// Option configures a Factory.
type Option func(*config)

type config struct {
	adapters []AdapterConfig
	policy   PresentPolicy
	logger   *slog.Logger
}

// WithAdapters replaces the adapter list. Calling it with no arguments
// makes a factory without adapters.
func WithAdapters(adapters ...AdapterConfig) Option {
	return func(c *config) {
		c.adapters = append([]AdapterConfig(nil), adapters...)
	}
}

// WithPresentPolicy sets the back buffer order of swapchains.
func WithPresentPolicy(p PresentPolicy) Option {
	return func(c *config) {
		c.policy = p
	}
}

// WithLogger sets the factory logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// Factory is the soft backend entry point.
type Factory struct {
	cfg config

	tracker  *tracker
	faults   *faults
	gate     *gate
	barriers *barrierLog

	logger   atomic.Pointer[slog.Logger]
	debug    atomic.Bool
	occluded atomic.Bool

	mu       sync.Mutex
	comps    []*headless.Device
	released bool
}

var _ driver.Factory = (*Factory)(nil)

// New creates a factory.
func New(opts ...Option) *Factory {
	cfg := config{
		adapters: []AdapterConfig{DefaultAdapter},
		policy:   FlipSequential,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.policy == nil {
		cfg.policy = FlipSequential
	}

	f := &Factory{
		cfg:      cfg,
		tracker:  newTracker(),
		faults:   newFaults(),
		gate:     newGate(),
		barriers: &barrierLog{},
	}
	f.SetLogger(cfg.logger)
	f.tracker.created(KindFactory)
	return f
}

// Name implements driver.Factory.
func (f *Factory) Name() string { return Name }

// SetLogger sets the logger used by the factory and every object created
// from it. Pass nil to disable logging.
func (f *Factory) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(nopHandler{})
	}
	f.logger.Store(l)
}

func (f *Factory) log() *slog.Logger { return f.logger.Load() }

// EnableDebugLayer turns on validation for devices created afterwards.
func (f *Factory) EnableDebugLayer() error {
	if err := f.faults.check(OpEnableDebugLayer); err != nil {
		return err
	}
	f.debug.Store(true)
	f.log().Debug("soft: debug layer enabled")
	return nil
}

// DebugLayerEnabled reports whether EnableDebugLayer was called.
func (f *Factory) DebugLayerEnabled() bool { return f.debug.Load() }

// EnumAdapter implements driver.Factory.
func (f *Factory) EnumAdapter(index int) (driver.Adapter, error) {
	if err := f.faults.check(OpEnumAdapter); err != nil {
		return nil, err
	}
	if index < 0 || index >= len(f.cfg.adapters) {
		return nil, driver.ErrNotFound
	}
	cfg := f.cfg.adapters[index]
	if cfg.RTVIncrement == 0 {
		cfg.RTVIncrement = DefaultAdapter.RTVIncrement
	}
	f.tracker.created(KindAdapter)
	return &adapter{f: f, cfg: cfg, index: index}, nil
}

// CreateSwapChainForComposition implements driver.Factory.
func (f *Factory) CreateSwapChainForComposition(q driver.Queue, desc driver.SwapChainDesc) (driver.SwapChain, error) {
	if err := f.faults.check(OpCreateSwapChain); err != nil {
		return nil, err
	}
	sq, ok := q.(*queue)
	if !ok || sq.released.Load() {
		return nil, fmt.Errorf("soft: swapchain needs a live soft queue: %w", driver.ErrInvalidCall)
	}
	return newSwapChain(f, sq, desc)
}

// CreateCompositionDevice implements driver.Factory.
func (f *Factory) CreateCompositionDevice() (driver.CompositionDevice, error) {
	if err := f.faults.check(OpCreateCompositionDevice); err != nil {
		return nil, err
	}
	d := headless.NewDevice(headless.Hooks{
		Created:  f.tracker.created,
		Released: f.tracker.released,
	})

	f.mu.Lock()
	f.comps = append(f.comps, d)
	f.mu.Unlock()
	return d, nil
}

// Frame returns the image composed into hwnd by any composition device of
// the factory.
func (f *Factory) Frame(hwnd driver.WindowHandle) (*image.RGBA, error) {
	f.mu.Lock()
	comps := append([]*headless.Device(nil), f.comps...)
	f.mu.Unlock()

	err := headless.ErrNoTarget
	for i := len(comps) - 1; i >= 0; i-- {
		img, ferr := comps[i].Frame(hwnd)
		if ferr == nil {
			return img, nil
		}
		if !errors.Is(ferr, headless.ErrNoTarget) {
			err = ferr
		}
	}
	return nil, err
}

// Commits returns the number of composition commits across devices.
func (f *Factory) Commits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, d := range f.comps {
		n += d.Commits()
	}
	return n
}

// FailNext makes the call to op after skip successful calls fail once with
// driver.ErrInjected.
func (f *Factory) FailNext(op Op, skip int) { f.faults.add(op, skip) }

// Pause stops every queue before its next command. Submission keeps
// working; fences stop advancing.
func (f *Factory) Pause() { f.gate.pause() }

// Resume restarts paused queues.
func (f *Factory) Resume() { f.gate.resume() }

// SetOccluded makes Present fail with driver.ErrPresentRejected while set.
func (f *Factory) SetOccluded(occluded bool) { f.occluded.Store(occluded) }

// LiveObjects returns the number of unreleased objects, the factory
// included.
func (f *Factory) LiveObjects() int { return f.tracker.live() }

// LiveObjectsByKind returns unreleased object counts keyed by kind.
func (f *Factory) LiveObjectsByKind() map[string]int { return f.tracker.liveByKind() }

// ReleaseLog returns object kinds in release order.
func (f *Factory) ReleaseLog() []string { return f.tracker.releaseLog() }

// ExecutedBarriers returns the transition barriers the GPU executed, in
// execution order.
func (f *Factory) ExecutedBarriers() []BarrierRecord { return f.barriers.snapshot() }

// Release implements driver.Releaser.
func (f *Factory) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.released {
		f.log().Warn("soft: factory released twice")
		return
	}
	f.released = true
	f.gate.resume()
	f.tracker.released(KindFactory)
}
