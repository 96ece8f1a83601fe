// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package driver defines the graphics collaborators the compositor core
// calls into: adapter enumeration, device and queue creation, command
// recording, fences, descriptor tables, swapchains and the desktop
// composition tree.
//
// The interfaces follow the explicit-API model (D3D12, DXGI and
// DirectComposition): objects are created by a Device or Factory, every
// object is released exactly once with Release, and a command list records
// into memory owned by a CommandAllocator that must not be reset while the
// GPU is still reading it.
//
// Two implementations ship with the module:
//
//   - driver/soft: an in-process simulated GPU with a validation layer,
//     used by tests and the headless demo
//   - driver/wgpu: a backend on top of gogpu/wgpu's HAL
//
// Backends register themselves with Register and are opened by name or
// by priority with Open and OpenDefault.
package driver
