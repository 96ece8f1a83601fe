// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package driver

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// Format is a pixel or vertex attribute format.
type Format uint32

const (
	FormatUnknown Format = iota
	FormatB8G8R8A8Unorm
	FormatR8G8B8A8Unorm
	FormatR32G32B32Float
	FormatR32G32B32A32Float
)

var formatNames = [...]string{
	FormatUnknown:           "Unknown",
	FormatB8G8R8A8Unorm:     "B8G8R8A8Unorm",
	FormatR8G8B8A8Unorm:     "R8G8B8A8Unorm",
	FormatR32G32B32Float:    "R32G32B32Float",
	FormatR32G32B32A32Float: "R32G32B32A32Float",
}

func (f Format) String() string {
	if int(f) < len(formatNames) {
		return formatNames[f]
	}
	return fmt.Sprintf("Format(%d)", uint32(f))
}

// Size returns the size of one element in bytes, or 0 for FormatUnknown.
func (f Format) Size() int {
	switch f {
	case FormatB8G8R8A8Unorm, FormatR8G8B8A8Unorm:
		return 4
	case FormatR32G32B32Float:
		return 12
	case FormatR32G32B32A32Float:
		return 16
	default:
		return 0
	}
}

// IsRenderTarget reports whether f can back a swapchain buffer.
func (f Format) IsRenderTarget() bool {
	return f == FormatB8G8R8A8Unorm || f == FormatR8G8B8A8Unorm
}

// TextureFormat maps a render target format onto its WebGPU equivalent.
// Formats without a texture equivalent map to TextureFormatUndefined.
func (f Format) TextureFormat() gputypes.TextureFormat {
	switch f {
	case FormatB8G8R8A8Unorm:
		return gputypes.TextureFormatBGRA8Unorm
	case FormatR8G8B8A8Unorm:
		return gputypes.TextureFormatRGBA8Unorm
	default:
		return gputypes.TextureFormatUndefined
	}
}

// FormatFromTexture is the inverse of Format.TextureFormat.
func FormatFromTexture(tf gputypes.TextureFormat) Format {
	switch tf {
	case gputypes.TextureFormatBGRA8Unorm:
		return FormatB8G8R8A8Unorm
	case gputypes.TextureFormatRGBA8Unorm:
		return FormatR8G8B8A8Unorm
	default:
		return FormatUnknown
	}
}

// AlphaMode tells the compositor how to interpret the alpha channel.
type AlphaMode uint32

const (
	AlphaModeUnspecified AlphaMode = iota
	AlphaModePremultiplied
	AlphaModeStraight
	AlphaModeIgnore
)

// FeatureLevel is the hardware capability tier requested at device
// creation.
type FeatureLevel uint32

const (
	FeatureLevel10_0 FeatureLevel = 0xa000
	FeatureLevel10_1 FeatureLevel = 0xa100
	FeatureLevel11_0 FeatureLevel = 0xb000
	FeatureLevel11_1 FeatureLevel = 0xb100
	FeatureLevel12_0 FeatureLevel = 0xc000
	FeatureLevel12_1 FeatureLevel = 0xc100
)

func (l FeatureLevel) String() string {
	return fmt.Sprintf("%d_%d", uint32(l)>>12, (uint32(l)>>8)&0xf)
}
