// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package driver

import (
	"testing"

	"github.com/gogpu/gputypes"
)

func TestResourceStateString(t *testing.T) {
	tests := []struct {
		state ResourceState
		want  string
	}{
		{StatePresent, "Present"},
		{StateRenderTarget, "RenderTarget"},
		{StateGenericRead, "GenericRead"},
		{StateCopyDest, "CopyDest"},
		{ResourceState(42), "ResourceState(42)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", uint32(tt.state), got, tt.want)
		}
	}
	if ResourceState(42).Valid() {
		t.Error("ResourceState(42).Valid() = true, want false")
	}
}

func TestTransition(t *testing.T) {
	b := Transition(nil, StatePresent, StateRenderTarget)
	if b.Subresource != AllSubresources {
		t.Errorf("Subresource = %#x, want all", b.Subresource)
	}
	if got := b.String(); got != "Present->RenderTarget" {
		t.Errorf("String() = %q", got)
	}
}

func TestFormatTextureMapping(t *testing.T) {
	tests := []struct {
		format Format
		tex    gputypes.TextureFormat
	}{
		{FormatB8G8R8A8Unorm, gputypes.TextureFormatBGRA8Unorm},
		{FormatR8G8B8A8Unorm, gputypes.TextureFormatRGBA8Unorm},
	}
	for _, tt := range tests {
		if got := tt.format.TextureFormat(); got != tt.tex {
			t.Errorf("%v.TextureFormat() = %v, want %v", tt.format, got, tt.tex)
		}
		if got := FormatFromTexture(tt.tex); got != tt.format {
			t.Errorf("FormatFromTexture(%v) = %v, want %v", tt.tex, got, tt.format)
		}
	}
	if FormatR32G32B32Float.TextureFormat() != gputypes.TextureFormatUndefined {
		t.Error("vertex format should not map to a texture format")
	}
	if FormatR32G32B32A32Float.Size() != 16 || FormatB8G8R8A8Unorm.Size() != 4 {
		t.Error("unexpected format sizes")
	}
}

func TestFeatureLevelString(t *testing.T) {
	if got := FeatureLevel11_0.String(); got != "11_0" {
		t.Errorf("String() = %q, want 11_0", got)
	}
	if got := FeatureLevel12_1.String(); got != "12_1" {
		t.Errorf("String() = %q, want 12_1", got)
	}
}
