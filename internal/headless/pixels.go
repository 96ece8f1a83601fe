// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package headless

import (
	"fmt"
	"image"

	"github.com/gogpu/compositor/driver"
)

// ToRGBA converts tightly or padded packed rows of a render target into an
// RGBA image. rowPitch is the byte distance between rows in src and must
// be at least width*4.
func ToRGBA(src []byte, width, height, rowPitch int, format driver.Format) (*image.RGBA, error) {
	if !format.IsRenderTarget() {
		return nil, fmt.Errorf("headless: cannot compose format %v: %w", format, driver.ErrUnsupported)
	}
	if rowPitch < width*4 || len(src) < rowPitch*(height-1)+width*4 {
		return nil, fmt.Errorf("headless: %d bytes too short for %dx%d, pitch %d: %w",
			len(src), width, height, rowPitch, driver.ErrInvalidCall)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		row := src[y*rowPitch : y*rowPitch+width*4]
		dst := img.Pix[y*img.Stride : y*img.Stride+width*4]
		if format == driver.FormatR8G8B8A8Unorm {
			copy(dst, row)
			continue
		}
		for x := 0; x < len(row); x += 4 {
			dst[x+0] = row[x+2]
			dst[x+1] = row[x+1]
			dst[x+2] = row[x+0]
			dst[x+3] = row[x+3]
		}
	}
	return img, nil
}
