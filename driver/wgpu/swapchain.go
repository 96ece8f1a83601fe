//go:build !nogpu

// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpu

import (
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/gogpu/compositor/driver"
	"github.com/gogpu/compositor/internal/headless"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// MaxBufferCount is the largest swapchain supported.
const MaxBufferCount = 16

// copyPitchAlignment is the row alignment of texture-to-buffer copies.
const copyPitchAlignment = 256

// swapChain renders into offscreen textures. Present copies the current
// buffer into a readback buffer on the queue timeline; the composition
// tree reads it back lazily.
type swapChain struct {
	f       *Factory
	q       *queue
	desc    driver.SwapChainDesc
	buffers []*resource
	staging hal.Buffer
	pitch   uint32

	// current, presented and copies are only touched by the presenting
	// thread.
	current   int
	presented int
	copies    []pendingCopy

	mu       sync.Mutex
	lastCopy uint64
	cachedAt uint64
	cached   *image.RGBA
	released atomic.Bool
}

type pendingCopy struct {
	buf   hal.CommandBuffer
	value uint64
}

var (
	_ driver.SwapChain = (*swapChain)(nil)
	_ headless.Source  = (*swapChain)(nil)
)

func newSwapChain(f *Factory, q *queue, desc driver.SwapChainDesc) (*swapChain, error) {
	switch {
	case desc.Width == 0 || desc.Height == 0:
		return nil, fmt.Errorf("wgpu: swapchain of %dx%d: %w", desc.Width, desc.Height, driver.ErrInvalidCall)
	case desc.BufferCount < 2 || desc.BufferCount > MaxBufferCount:
		return nil, fmt.Errorf("wgpu: flip model needs 2..%d buffers, got %d: %w", MaxBufferCount, desc.BufferCount, driver.ErrInvalidCall)
	case !desc.Format.IsRenderTarget():
		return nil, fmt.Errorf("wgpu: swapchain format %v: %w", desc.Format, driver.ErrUnsupported)
	case desc.AlphaMode == driver.AlphaModeStraight:
		return nil, fmt.Errorf("wgpu: composition swapchains cannot use straight alpha: %w", driver.ErrUnsupported)
	}

	d := q.dev
	sc := &swapChain{f: f, q: q, desc: desc, pitch: alignUp(desc.Width*4, copyPitchAlignment)}
	for i := 0; i < desc.BufferCount; i++ {
		label := fmt.Sprintf("back-buffer[%d]", i)
		tex, err := d.hal.CreateTexture(&hal.TextureDescriptor{
			Label:         label,
			Size:          hal.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: 1},
			MipLevelCount: 1,
			SampleCount:   1,
			Dimension:     gputypes.TextureDimension2D,
			Format:        desc.Format.TextureFormat(),
			Usage:         gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc,
		})
		if err != nil {
			sc.destroy()
			return nil, fmt.Errorf("wgpu: create %s: %w", label, err)
		}
		sc.buffers = append(sc.buffers, &resource{
			dev:     d,
			texture: tex,
			desc: driver.ResourceDesc{
				Label:  label,
				Width:  uint64(desc.Width),
				Height: desc.Height,
				Format: desc.Format,
			},
			state: driver.StatePresent,
			owner: sc,
		})
	}

	staging, err := d.hal.CreateBuffer(&hal.BufferDescriptor{
		Label: "swapchain_readback",
		Size:  uint64(sc.pitch) * uint64(desc.Height),
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		sc.destroy()
		return nil, fmt.Errorf("wgpu: create readback buffer: %w", err)
	}
	sc.staging = staging

	f.log().Debug("wgpu: swapchain created",
		"width", desc.Width, "height", desc.Height, "buffers", desc.BufferCount, "format", desc.Format.String())
	return sc, nil
}

func (s *swapChain) Desc() driver.SwapChainDesc { return s.desc }

// CurrentBackBufferIndex follows flip-sequential order.
func (s *swapChain) CurrentBackBufferIndex() int { return s.current }

// Buffer returns buffer index. Releasing the returned resource only drops
// the reference; the texture lives as long as the swapchain.
func (s *swapChain) Buffer(index int) (driver.Resource, error) {
	if s.released.Load() {
		return nil, fmt.Errorf("wgpu: swapchain used after release: %w", driver.ErrInvalidCall)
	}
	if index < 0 || index >= len(s.buffers) {
		return nil, fmt.Errorf("wgpu: buffer %d of %d: %w", index, len(s.buffers), driver.ErrInvalidCall)
	}
	return s.buffers[index], nil
}

// Present copies the current buffer into the readback buffer behind all
// work submitted so far and advances the back buffer index.
func (s *swapChain) Present(syncInterval int) error {
	if s.released.Load() {
		return fmt.Errorf("wgpu: swapchain used after release: %w", driver.ErrInvalidCall)
	}
	if syncInterval < 0 || syncInterval > 4 {
		return fmt.Errorf("wgpu: sync interval %d: %w", syncInterval, driver.ErrInvalidCall)
	}
	buf := s.buffers[s.current]
	if s.q.dev.debug && buf.state != driver.StatePresent {
		s.f.log().Warn("wgpu: present of a buffer not in Present state",
			"buffer", buf.desc.Label, "state", buf.state.String())
		return fmt.Errorf("wgpu: %s is %v, present needs %v: %w", buf.desc.Label, buf.state, driver.StatePresent, driver.ErrValidation)
	}

	cmdBuf, err := s.encodeCopy(buf)
	if err != nil {
		return fmt.Errorf("wgpu: present %s: %w", buf.desc.Label, err)
	}
	value, err := s.q.submit([]hal.CommandBuffer{cmdBuf})
	if err != nil {
		s.q.dev.hal.FreeCommandBuffer(cmdBuf)
		return fmt.Errorf("wgpu: present %s: %w: %w", buf.desc.Label, driver.ErrPresentRejected, err)
	}

	s.mu.Lock()
	s.lastCopy = value
	s.mu.Unlock()

	s.reclaim()
	s.copies = append(s.copies, pendingCopy{buf: cmdBuf, value: value})

	s.presented++
	s.current = s.presented % len(s.buffers)
	return nil
}

func (s *swapChain) encodeCopy(buf *resource) (hal.CommandBuffer, error) {
	d := s.q.dev.hal
	enc, err := d.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "present_encoder"})
	if err != nil {
		return nil, err
	}
	if err := enc.BeginEncoding("present_copy"); err != nil {
		return nil, err
	}
	enc.CopyTextureToBuffer(buf.texture, s.staging, []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{Offset: 0, BytesPerRow: s.pitch, RowsPerImage: s.desc.Height},
		TextureBase:  hal.ImageCopyTexture{Texture: buf.texture, MipLevel: 0},
		Size:         hal.Extent3D{Width: s.desc.Width, Height: s.desc.Height, DepthOrArrayLayers: 1},
	}})
	return enc.EndEncoding()
}

// reclaim frees the command buffers of completed copies.
func (s *swapChain) reclaim() {
	n := 0
	for _, c := range s.copies {
		if !s.q.reached(c.value) {
			break
		}
		s.q.dev.hal.FreeCommandBuffer(c.buf)
		n++
	}
	s.copies = append(s.copies[:0], s.copies[n:]...)
}

// PresentedFrame implements headless.Source. The readback happens on the
// first call after a present; later calls return the cached image.
func (s *swapChain) PresentedFrame() (*image.RGBA, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastCopy == 0 {
		return nil, false
	}
	if s.cachedAt != s.lastCopy && !s.released.Load() {
		if img, err := s.readback(s.lastCopy); err != nil {
			s.f.log().Warn("wgpu: readback failed", "err", err)
		} else {
			s.cached, s.cachedAt = img, s.lastCopy
		}
	}
	if s.cached == nil {
		return nil, false
	}
	img := image.NewRGBA(s.cached.Rect)
	copy(img.Pix, s.cached.Pix)
	return img, true
}

func (s *swapChain) readback(value uint64) (*image.RGBA, error) {
	ok, err := s.q.wait(value, s.f.cfg.readbackTimeout)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("wgpu: present %d not complete after %v", value, s.f.cfg.readbackTimeout)
	}
	data := make([]byte, int(s.pitch)*int(s.desc.Height))
	if err := s.q.dev.halQueue.ReadBuffer(s.staging, 0, data); err != nil {
		return nil, fmt.Errorf("wgpu: read back: %w", err)
	}
	return headless.ToRGBA(data, int(s.desc.Width), int(s.desc.Height), int(s.pitch), s.desc.Format)
}

func (s *swapChain) destroy() {
	d := s.q.dev.hal
	for _, c := range s.copies {
		d.FreeCommandBuffer(c.buf)
	}
	s.copies = nil
	for _, b := range s.buffers {
		b.released.Store(true)
		d.DestroyTexture(b.texture)
	}
	s.buffers = nil
	if s.staging != nil {
		d.DestroyBuffer(s.staging)
		s.staging = nil
	}
}

// Release keeps the last presented image for the composition tree, then
// destroys the textures and the readback buffer.
func (s *swapChain) Release() {
	if s.released.Load() {
		return
	}
	s.mu.Lock()
	if s.lastCopy != 0 && s.cachedAt != s.lastCopy {
		if img, err := s.readback(s.lastCopy); err == nil {
			s.cached, s.cachedAt = img, s.lastCopy
		}
	}
	s.released.Store(true)
	s.mu.Unlock()
	s.destroy()
}
