//go:build !nogpu

// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpu

import (
	"fmt"

	"github.com/gogpu/compositor/driver"
	"github.com/gogpu/gputypes"
)

// textureUsage maps a resource state onto the texture usage the HAL
// transitions between. Present maps to CopySrc because presenting copies
// the buffer into the readback staging buffer.
func textureUsage(s driver.ResourceState) (gputypes.TextureUsage, error) {
	switch s {
	case driver.StatePresent, driver.StateCopySource:
		return gputypes.TextureUsageCopySrc, nil
	case driver.StateRenderTarget:
		return gputypes.TextureUsageRenderAttachment, nil
	case driver.StateCopyDest:
		return gputypes.TextureUsageCopyDst, nil
	case driver.StateGenericRead:
		return gputypes.TextureUsageTextureBinding, nil
	default:
		return 0, fmt.Errorf("wgpu: no texture usage for state %v: %w", s, driver.ErrUnsupported)
	}
}

func vertexFormat(f driver.Format) (gputypes.VertexFormat, error) {
	switch f {
	case driver.FormatR32G32B32Float:
		return gputypes.VertexFormatFloat32x3, nil
	case driver.FormatR32G32B32A32Float:
		return gputypes.VertexFormatFloat32x4, nil
	default:
		return 0, fmt.Errorf("wgpu: vertex format %v: %w", f, driver.ErrUnsupported)
	}
}

// vertexLayout turns an input layout into one vertex buffer layout. Shader
// locations follow element order.
func vertexLayout(elems []driver.InputElement, stride uint32) ([]gputypes.VertexBufferLayout, error) {
	attrs := make([]gputypes.VertexAttribute, 0, len(elems))
	for i, e := range elems {
		vf, err := vertexFormat(e.Format)
		if err != nil {
			return nil, fmt.Errorf("wgpu: input element %s: %w", e.Semantic, err)
		}
		if uint64(e.Offset)+uint64(e.Format.Size()) > uint64(stride) {
			return nil, fmt.Errorf("wgpu: input element %s overruns stride %d: %w", e.Semantic, stride, driver.ErrInvalidCall)
		}
		attrs = append(attrs, gputypes.VertexAttribute{
			Format:         vf,
			Offset:         uint64(e.Offset),
			ShaderLocation: uint32(i),
		})
	}
	return []gputypes.VertexBufferLayout{{
		ArrayStride: uint64(stride),
		StepMode:    gputypes.VertexStepModeVertex,
		Attributes:  attrs,
	}}, nil
}

func cullMode(c driver.CullMode) gputypes.CullMode {
	switch c {
	case driver.CullFront:
		return gputypes.CullModeFront
	case driver.CullBack:
		return gputypes.CullModeBack
	default:
		return gputypes.CullModeNone
	}
}

func frontFace(ccw bool) gputypes.FrontFace {
	if ccw {
		return gputypes.FrontFaceCCW
	}
	return gputypes.FrontFaceCW
}

func clearValue(rgba [4]float32) gputypes.Color {
	return gputypes.Color{R: float64(rgba[0]), G: float64(rgba[1]), B: float64(rgba[2]), A: float64(rgba[3])}
}

// alignUp rounds n up to a multiple of align, a power of two.
func alignUp(n, align uint32) uint32 {
	return (n + align - 1) &^ (align - 1)
}
