// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package driver

import "errors"

// Errors returned by driver implementations.
var (
	// ErrNotFound is returned by Factory.EnumAdapter past the last adapter.
	ErrNotFound = errors.New("driver: not found")

	// ErrUnsupported is returned when the adapter or backend cannot provide
	// a requested capability (feature level, format, operation).
	ErrUnsupported = errors.New("driver: unsupported")

	// ErrInvalidCall is returned when an object is used in a state that
	// does not allow the call (recording into a closed list, resetting an
	// allocator a list still records into, releasing twice).
	ErrInvalidCall = errors.New("driver: invalid call")

	// ErrInFlight is returned when memory still read by the GPU would be
	// reclaimed, e.g. resetting an allocator before its lists executed.
	ErrInFlight = errors.New("driver: resource still in use by the GPU")

	// ErrValidation is returned by the debug layer when a command stream
	// violates resource-state rules.
	ErrValidation = errors.New("driver: validation failed")

	// ErrPresentRejected is returned by SwapChain.Present when the
	// presentation engine refuses the surface (occluded, lost).
	ErrPresentRejected = errors.New("driver: present rejected")

	// ErrDeviceRemoved is returned once the device stopped responding.
	ErrDeviceRemoved = errors.New("driver: device removed")

	// ErrInjected marks failures produced by fault injection in tests.
	ErrInjected = errors.New("driver: injected fault")
)
