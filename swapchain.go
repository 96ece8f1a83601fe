package compositor

import (
	"fmt"
	"log/slog"

	"github.com/gogpu/compositor/driver"
)

// FrameSlot is one back buffer: its index, backing resource and render
// target view.
type FrameSlot struct {
	Index    int
	Resource *GpuResource
	RTV      driver.CPUDescriptorHandle
}

// SwapChain owns the presentation surface, its BufferCount frame slots and
// the binding of the surface into the window's composition tree.
type SwapChain struct {
	sc        driver.SwapChain
	heap      driver.DescriptorHeap
	heapStart driver.CPUDescriptorHandle
	increment uint32
	slots     [BufferCount]FrameSlot
	desc      driver.SwapChainDesc
	log       *slog.Logger
}

// newSwapChain binds a new composition swapchain into hwnd's visual tree
// and builds a render target view per buffer. Owned objects are pushed
// onto rs.
func newSwapChain(f driver.Factory, dc *DeviceContext, comp driver.CompositionDevice,
	hwnd driver.WindowHandle, o *options, rs *releaseStack, log *slog.Logger,
) (*SwapChain, error) {
	target, err := comp.CreateTargetForWindow(hwnd, true)
	if err != nil {
		return nil, fmt.Errorf("compositor: create composition target: %w", err)
	}
	rs.push("composition target", target)

	visual, err := comp.CreateVisual()
	if err != nil {
		return nil, fmt.Errorf("compositor: create visual: %w", err)
	}
	rs.push("visual", visual)

	desc := driver.SwapChainDesc{
		Width:       o.width,
		Height:      o.height,
		Format:      o.format,
		BufferCount: BufferCount,
		AlphaMode:   driver.AlphaModePremultiplied,
		SwapEffect:  driver.SwapEffectFlipSequential,
	}
	sc, err := f.CreateSwapChainForComposition(dc.queue, desc)
	if err != nil {
		return nil, fmt.Errorf("compositor: create swapchain: %w", err)
	}
	rs.push("swapchain", sc)

	if err := visual.SetContent(sc); err != nil {
		return nil, fmt.Errorf("compositor: set visual content: %w", err)
	}
	if err := target.SetRoot(visual); err != nil {
		return nil, fmt.Errorf("compositor: set root visual: %w", err)
	}
	if err := comp.Commit(); err != nil {
		return nil, fmt.Errorf("compositor: commit composition: %w", err)
	}

	heap, err := dc.device.CreateDescriptorHeap(driver.DescriptorHeapRTV, BufferCount)
	if err != nil {
		return nil, fmt.Errorf("compositor: create RTV heap: %w", err)
	}
	rs.push("RTV heap", heap)

	s := &SwapChain{
		sc:        sc,
		heap:      heap,
		heapStart: heap.CPUStart(),
		increment: dc.device.DescriptorHandleIncrementSize(driver.DescriptorHeapRTV),
		desc:      desc,
		log:       log,
	}
	for i := 0; i < BufferCount; i++ {
		buf, err := sc.Buffer(i)
		if err != nil {
			return nil, fmt.Errorf("compositor: get back buffer %d: %w", i, err)
		}
		rs.push(fmt.Sprintf("back buffer %d", i), buf)

		rtv := s.RenderTargetView(i)
		if err := dc.device.CreateRenderTargetView(buf, rtv); err != nil {
			return nil, fmt.Errorf("compositor: create RTV %d: %w", i, err)
		}
		s.slots[i] = FrameSlot{Index: i, Resource: newGpuResource(buf, driver.StatePresent), RTV: rtv}
	}

	log.Debug("compositor: swapchain ready",
		"width", desc.Width, "height", desc.Height, "format", desc.Format.String(),
		"buffers", BufferCount, "rtvIncrement", s.increment)
	return s, nil
}

// CurrentIndex asks the presentation engine which buffer to render next.
// The answer is re-queried every call since the engine may skip or reuse
// buffers.
func (s *SwapChain) CurrentIndex() (int, error) {
	i := s.sc.CurrentBackBufferIndex()
	if i < 0 || i >= BufferCount {
		return 0, fmt.Errorf("%w: %d not in [0,%d)", ErrInvalidBufferIndex, i, BufferCount)
	}
	return i, nil
}

// RenderTargetView returns heapStart + index*incrementSize.
func (s *SwapChain) RenderTargetView(index int) driver.CPUDescriptorHandle {
	return s.heapStart + driver.CPUDescriptorHandle(uintptr(index)*uintptr(s.increment))
}

// Slot returns the frame slot of a buffer index.
func (s *SwapChain) Slot(index int) (*FrameSlot, error) {
	if index < 0 || index >= BufferCount {
		return nil, fmt.Errorf("%w: %d not in [0,%d)", ErrInvalidBufferIndex, index, BufferCount)
	}
	return &s.slots[index], nil
}

// Len returns the number of buffers.
func (s *SwapChain) Len() int { return len(s.slots) }

// Format returns the pixel format of the buffers.
func (s *SwapChain) Format() driver.Format { return s.desc.Format }

// Size returns the buffer size in pixels.
func (s *SwapChain) Size() (width, height uint32) { return s.desc.Width, s.desc.Height }

// IncrementSize returns the RTV descriptor stride queried at construction.
func (s *SwapChain) IncrementSize() uint32 { return s.increment }

// Present hands the current buffer to the compositor.
func (s *SwapChain) Present(syncInterval int) error {
	if err := s.sc.Present(syncInterval); err != nil {
		return fmt.Errorf("%w: %w", ErrPresentFailed, err)
	}
	return nil
}
