//go:build !nogpu

// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpu

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/compositor/driver"
	"github.com/gogpu/compositor/internal/headless"
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	_ "github.com/gogpu/wgpu/hal/vulkan"
)

// Name is the registry name of the backend.
const Name = "wgpu"

// DefaultReadbackTimeout bounds the wait for a presented frame to reach
// the readback buffer.
const DefaultReadbackTimeout = 5 * time.Second

func init() {
	driver.Register(Name, 100, open, available)
}

func open() (driver.Factory, error) {
	f, err := NewFactory()
	if err != nil {
		return nil, err
	}
	return f, nil
}

func available() bool {
	_, ok := hal.GetBackend(gputypes.BackendVulkan)
	return ok
}

// Option configures a Factory.
type Option func(*config)

type config struct {
	backend         gputypes.Backend
	logger          *slog.Logger
	readbackTimeout time.Duration
}

// WithBackend selects the HAL backend NewFactory opens. The default is
// Vulkan.
func WithBackend(b gputypes.Backend) Option {
	return func(c *config) {
		c.backend = b
	}
}

// WithLogger sets the factory logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithReadbackTimeout bounds the wait for presented frames.
func WithReadbackTimeout(d time.Duration) Option {
	return func(c *config) {
		c.readbackTimeout = d
	}
}

func newConfig(opts []Option) config {
	c := config{backend: gputypes.BackendVulkan, readbackTimeout: DefaultReadbackTimeout}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Factory enumerates the adapters of a HAL instance, or exposes the single
// device of an external provider.
type Factory struct {
	cfg config

	inst         hal.Instance
	ownsInstance bool
	adapters     []hal.ExposedAdapter
	enumerated   bool

	// Set for provider factories.
	shared        *sharedDevice
	surfaceFormat driver.Format

	logger atomic.Pointer[slog.Logger]
	debug  atomic.Bool

	mu       sync.Mutex
	comps    []*headless.Device
	released bool
}

var _ driver.Factory = (*Factory)(nil)

// sharedDevice is a device owned by someone else.
type sharedDevice struct {
	name   string
	device hal.Device
	queue  hal.Queue
}

// NewFactory opens the configured HAL backend and creates an instance.
func NewFactory(opts ...Option) (*Factory, error) {
	cfg := newConfig(opts)
	backend, ok := hal.GetBackend(cfg.backend)
	if !ok {
		return nil, fmt.Errorf("wgpu: HAL backend %v not compiled in: %w", cfg.backend, driver.ErrUnsupported)
	}
	inst, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create instance: %w", err)
	}
	f := newFactory(cfg)
	f.inst = inst
	f.ownsInstance = true
	return f, nil
}

// NewFactoryFromInstance wraps an existing HAL instance. The caller keeps
// ownership of inst.
func NewFactoryFromInstance(inst hal.Instance, opts ...Option) *Factory {
	f := newFactory(newConfig(opts))
	f.inst = inst
	return f
}

// NewFactoryFromProvider wraps the device of a host application, such as a
// gogpu window. The factory exposes one adapter whose device is the
// provider's; neither is destroyed on release. The provider must expose
// HalDevice() any and HalQueue() any returning hal.Device and hal.Queue.
func NewFactoryFromProvider(p gpucontext.DeviceProvider, opts ...Option) (*Factory, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := p.(halProvider)
	if !ok {
		return nil, fmt.Errorf("wgpu: provider does not expose HAL types: %w", driver.ErrUnsupported)
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("wgpu: provider HalDevice is not a hal.Device: %w", driver.ErrUnsupported)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("wgpu: provider HalQueue is not a hal.Queue: %w", driver.ErrUnsupported)
	}

	f := newFactory(newConfig(opts))
	f.shared = &sharedDevice{name: "provider", device: device, queue: queue}
	f.surfaceFormat = driver.FormatFromTexture(p.SurfaceFormat())
	return f, nil
}

func newFactory(cfg config) *Factory {
	f := &Factory{cfg: cfg}
	f.SetLogger(cfg.logger)
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

// EnableDebugLayer turns on resource-state validation for devices created
// afterwards. The HAL's own validation is configured when the instance is
// created.
func (f *Factory) EnableDebugLayer() error {
	f.debug.Store(true)
	f.log().Debug("wgpu: state validation enabled")
	return nil
}

// SurfaceFormat returns the provider's preferred surface format, or
// FormatUnknown for instance factories.
func (f *Factory) SurfaceFormat() driver.Format { return f.surfaceFormat }

// EnumAdapter implements driver.Factory.
func (f *Factory) EnumAdapter(index int) (driver.Adapter, error) {
	if f.shared != nil {
		if index != 0 {
			return nil, driver.ErrNotFound
		}
		return &adapter{f: f, shared: f.shared}, nil
	}

	f.mu.Lock()
	if !f.enumerated {
		f.adapters = f.inst.EnumerateAdapters(nil)
		f.enumerated = true
		f.log().Debug("wgpu: adapters enumerated", "count", len(f.adapters))
	}
	n := len(f.adapters)
	f.mu.Unlock()

	if index < 0 || index >= n {
		return nil, driver.ErrNotFound
	}
	return &adapter{f: f, exposed: &f.adapters[index]}, nil
}

// CreateSwapChainForComposition implements driver.Factory.
func (f *Factory) CreateSwapChainForComposition(q driver.Queue, desc driver.SwapChainDesc) (driver.SwapChain, error) {
	wq, ok := q.(*queue)
	if !ok || wq.released.Load() {
		return nil, fmt.Errorf("wgpu: swapchain needs a live wgpu queue: %w", driver.ErrInvalidCall)
	}
	return newSwapChain(f, wq, desc)
}

// CreateCompositionDevice implements driver.Factory. The tree is kept in
// process; Frame returns what it shows.
func (f *Factory) CreateCompositionDevice() (driver.CompositionDevice, error) {
	d := headless.NewDevice(headless.Hooks{})
	f.mu.Lock()
	f.comps = append(f.comps, d)
	f.mu.Unlock()
	return d, nil
}

// Frame returns the last frame composed into hwnd.
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

// Release implements driver.Releaser. An instance created by NewFactory is
// destroyed.
func (f *Factory) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.released {
		return
	}
	f.released = true
	if f.ownsInstance && f.inst != nil {
		f.inst.Destroy()
	}
	f.log().Debug("wgpu: factory released")
}

// MaxFeatureLevel is the level reported for HAL devices: the WebGPU
// baseline without tiled resources or bindless heaps.
const MaxFeatureLevel = driver.FeatureLevel11_1

type adapter struct {
	f        *Factory
	exposed  *hal.ExposedAdapter
	shared   *sharedDevice
	released atomic.Bool
}

func (a *adapter) Info() driver.AdapterInfo {
	if a.shared != nil {
		return driver.AdapterInfo{Name: a.shared.name}
	}
	info := a.exposed.Info
	return driver.AdapterInfo{
		Name: info.Name,
		Software: info.DeviceType != gputypes.DeviceTypeDiscreteGPU &&
			info.DeviceType != gputypes.DeviceTypeIntegratedGPU,
	}
}

func (a *adapter) CreateDevice(minLevel driver.FeatureLevel) (driver.Device, error) {
	if minLevel > MaxFeatureLevel {
		return nil, fmt.Errorf("wgpu: adapter %q supports %v, need %v: %w",
			a.Info().Name, MaxFeatureLevel, minLevel, driver.ErrUnsupported)
	}
	if a.shared != nil {
		return newDevice(a.f, a.shared.device, a.shared.queue, false), nil
	}
	open, err := a.exposed.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		return nil, fmt.Errorf("wgpu: open adapter %q: %w", a.exposed.Info.Name, err)
	}
	a.f.log().Info("wgpu: device opened", "adapter", a.exposed.Info.Name)
	return newDevice(a.f, open.Device, open.Queue, true), nil
}

func (a *adapter) Release() {
	a.released.Store(true)
}

// nopHandler is a slog.Handler that discards all records.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }
