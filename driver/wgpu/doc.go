// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package wgpu implements the driver interfaces on top of the gogpu/wgpu
// hardware abstraction layer.
//
// The HAL follows the WebGPU model: there are no CPU descriptor handles,
// no explicit resource-state barriers and no composition swapchains. The
// backend bridges the gap:
//
//   - descriptor heaps hand out handles that map to HAL texture views
//   - resource states map onto texture usages, and barriers become
//     TransitionTextures calls
//   - command lists are recorded on the CPU and encoded into a HAL command
//     buffer at Close, opening a render pass per render target
//   - every queue owns one timeline fence; driver fences are marks on it
//   - swapchains render offscreen and copy each presented buffer into a
//     readback buffer consumed by the headless composition tree
//
// Importing the package registers the "wgpu" backend. It is available when
// a Vulkan HAL backend is compiled in. Build with the nogpu tag to leave
// the backend out.
package wgpu
