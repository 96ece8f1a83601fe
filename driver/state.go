// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package driver

import "fmt"

// ResourceState is the logical usage state of a GPU resource.
//
// The GPU keeps caches and compression metadata per state, so a resource
// must be moved between states with an explicit transition barrier before
// it is used differently than its prior use.
type ResourceState uint32

const (
	// StateCommon is the state a resource is created in when nothing else
	// is requested. Present aliases Common on real hardware, but they are
	// kept distinct here so bookkeeping mistakes are visible.
	StateCommon ResourceState = iota

	// StatePresent is required for a swapchain buffer handed to the
	// presentation engine.
	StatePresent

	// StateRenderTarget is required for clears and draws into a buffer.
	StateRenderTarget

	// StateGenericRead is the mandatory state of upload-heap buffers.
	StateGenericRead

	// StateCopyDest is required for the destination of a copy.
	StateCopyDest

	// StateCopySource is required for the source of a copy.
	StateCopySource

	// StateVertexAndConstantBuffer is required for vertex fetch from a
	// default-heap buffer.
	StateVertexAndConstantBuffer
)

var stateNames = [...]string{
	StateCommon:                  "Common",
	StatePresent:                 "Present",
	StateRenderTarget:            "RenderTarget",
	StateGenericRead:             "GenericRead",
	StateCopyDest:                "CopyDest",
	StateCopySource:              "CopySource",
	StateVertexAndConstantBuffer: "VertexAndConstantBuffer",
}

// String returns the state name.
func (s ResourceState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("ResourceState(%d)", uint32(s))
}

// Valid reports whether s is one of the defined states.
func (s ResourceState) Valid() bool {
	return int(s) < len(stateNames)
}

// AllSubresources selects every subresource of a resource in a barrier.
const AllSubresources = ^uint32(0)

// Barrier is a transition barrier: a declaration that Resource moves from
// Before to After at this point in the command stream.
type Barrier struct {
	Resource    Resource
	Subresource uint32
	Before      ResourceState
	After       ResourceState
}

// Transition returns a whole-resource transition barrier.
func Transition(res Resource, before, after ResourceState) Barrier {
	return Barrier{
		Resource:    res,
		Subresource: AllSubresources,
		Before:      before,
		After:       after,
	}
}

// String formats the barrier as "Before->After".
func (b Barrier) String() string {
	return b.Before.String() + "->" + b.After.String()
}
