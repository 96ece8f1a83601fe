// Package compositor renders frames into a window through the desktop
// compositor on an explicit GPU API.
//
// # Overview
//
// A Renderer owns a graphics device, a double-buffered swapchain presented
// through a composition visual, and a command-recording pipeline that
// produces one frame per paint request. Frame pacing is strict: every frame
// is recorded, submitted, presented and then waited on through a
// monotonically increasing fence before the next one starts.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/compositor"
//	    "github.com/gogpu/compositor/driver"
//	    _ "github.com/gogpu/compositor/driver/soft"
//	)
//
//	f, err := driver.OpenDefault()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	r, err := compositor.New(f, hwnd, compositor.WithDebugLayer())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Close()
//
//	for ev := range windowEvents {
//	    if err := r.HandleEvent(ev); err != nil {
//	        log.Print(err)
//	    }
//	}
//
// # Architecture
//
// The package is organized into:
//   - DeviceContext: adapter selection, device and direct queue, submission
//   - SwapChain: buffers, render target views, composition binding, present
//   - FenceSync: GPU/CPU synchronization
//   - Recorder: one closed command list per frame with state transitions
//   - Renderer: the frame state machine and ordered teardown
//
// Backends live under driver/: driver/soft is a simulated GPU used headless
// and in tests, driver/wgpu runs on gogpu/wgpu's HAL.
//
// # Logging
//
// The package is silent by default. Use SetLogger or WithLogger to enable
// structured logging via log/slog.
package compositor
