// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package soft

import (
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/gogpu/compositor/driver"
	"github.com/gogpu/compositor/internal/headless"
)

// MaxBufferCount is the largest swapchain supported.
const MaxBufferCount = 16

type swapChain struct {
	f       *Factory
	q       *queue
	desc    driver.SwapChainDesc
	buffers []*memory
	policy  PresentPolicy

	// current and presented are only touched by the presenting thread.
	current   int
	presented int

	mu       sync.Mutex
	last     *image.RGBA
	released atomic.Bool
}

var (
	_ driver.SwapChain = (*swapChain)(nil)
	_ headless.Source  = (*swapChain)(nil)
)

func newSwapChain(f *Factory, q *queue, desc driver.SwapChainDesc) (*swapChain, error) {
	switch {
	case desc.Width == 0 || desc.Height == 0:
		return nil, fmt.Errorf("soft: swapchain of %dx%d: %w", desc.Width, desc.Height, driver.ErrInvalidCall)
	case desc.BufferCount < 2 || desc.BufferCount > MaxBufferCount:
		return nil, fmt.Errorf("soft: flip model needs 2..%d buffers, got %d: %w", MaxBufferCount, desc.BufferCount, driver.ErrInvalidCall)
	case !desc.Format.IsRenderTarget():
		return nil, fmt.Errorf("soft: swapchain format %v: %w", desc.Format, driver.ErrUnsupported)
	case desc.AlphaMode == driver.AlphaModeStraight:
		return nil, fmt.Errorf("soft: composition swapchains cannot use straight alpha: %w", driver.ErrUnsupported)
	}

	sc := &swapChain{f: f, q: q, desc: desc, policy: f.cfg.policy}
	for i := 0; i < desc.BufferCount; i++ {
		label := fmt.Sprintf("back-buffer[%d]", i)
		sc.buffers = append(sc.buffers, &memory{
			label: label,
			desc: driver.ResourceDesc{
				Label:  label,
				Width:  uint64(desc.Width),
				Height: desc.Height,
				Format: desc.Format,
			},
			data:   make([]byte, int(desc.Width)*int(desc.Height)*4),
			state:  driver.StatePresent,
			pixels: true,
		})
	}
	sc.current = sc.policy(0, desc.BufferCount)
	f.tracker.created(KindSwapChain)
	f.log().Debug("soft: swapchain created",
		"width", desc.Width, "height", desc.Height, "buffers", desc.BufferCount, "format", desc.Format.String())
	return sc, nil
}

func (s *swapChain) Desc() driver.SwapChainDesc { return s.desc }

// CurrentBackBufferIndex returns what the presentation policy chose. Out of
// range answers are passed through unchanged.
func (s *swapChain) CurrentBackBufferIndex() int { return s.current }

// Buffer returns a new reference to buffer index. Each reference must be
// released.
func (s *swapChain) Buffer(index int) (driver.Resource, error) {
	if err := s.f.faults.check(OpGetBuffer); err != nil {
		return nil, err
	}
	if s.released.Load() {
		return nil, fmt.Errorf("soft: swapchain used after release: %w", driver.ErrInvalidCall)
	}
	if index < 0 || index >= len(s.buffers) {
		return nil, fmt.Errorf("soft: buffer %d of %d: %w", index, len(s.buffers), driver.ErrInvalidCall)
	}
	s.f.tracker.created(KindBackBuffer)
	return &resource{f: s.f, mem: s.buffers[index], kind: KindBackBuffer}, nil
}

// Present queues a copy of the current buffer to the compositor behind all
// work submitted so far and advances the back buffer index.
func (s *swapChain) Present(syncInterval int) error {
	if err := s.f.faults.check(OpPresent); err != nil {
		return err
	}
	if s.released.Load() {
		return fmt.Errorf("soft: swapchain used after release: %w", driver.ErrInvalidCall)
	}
	if syncInterval < 0 || syncInterval > 4 {
		return fmt.Errorf("soft: sync interval %d: %w", syncInterval, driver.ErrInvalidCall)
	}
	if s.f.occluded.Load() {
		return fmt.Errorf("soft: window occluded: %w", driver.ErrPresentRejected)
	}
	if s.current < 0 || s.current >= len(s.buffers) {
		return fmt.Errorf("soft: back buffer index %d: %w", s.current, driver.ErrInvalidCall)
	}

	buf := s.buffers[s.current]
	s.q.mu.Lock()
	state := buf.state
	s.q.mu.Unlock()
	if s.q.dev.debug && state != driver.StatePresent {
		s.f.log().Warn("soft: present of a buffer not in Present state",
			"buffer", buf.label, "state", state.String())
		return fmt.Errorf("soft: %s is %v, present needs %v: %w", buf.label, state, driver.StatePresent, driver.ErrValidation)
	}

	err := s.q.enqueue(func() {
		img, err := headless.ToRGBA(buf.data, int(s.desc.Width), int(s.desc.Height), buf.pitch(), s.desc.Format)
		if err != nil {
			s.f.log().Warn("soft: present copy failed", "err", err)
			return
		}
		s.mu.Lock()
		s.last = img
		s.mu.Unlock()
	})
	if err != nil {
		return err
	}

	s.presented++
	s.current = s.policy(s.presented, len(s.buffers))
	return nil
}

// PresentedFrame implements headless.Source.
func (s *swapChain) PresentedFrame() (*image.RGBA, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil, false
	}
	img := image.NewRGBA(s.last.Rect)
	copy(img.Pix, s.last.Pix)
	return img, true
}

func (s *swapChain) Release() {
	if s.released.Swap(true) {
		return
	}
	s.f.tracker.released(KindSwapChain)
}
