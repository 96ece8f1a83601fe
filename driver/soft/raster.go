// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package soft

import (
	"encoding/binary"
	"math"

	"github.com/gogpu/compositor/driver"
)

// drawState is the pipeline state of one executing command list.
type drawState struct {
	pipeline *pipeline
	viewport driver.Viewport
	scissor  driver.Rect
	target   *memory
	vertices *memory
	vbOffset uint64
	vbView   driver.VertexBufferView
}

// execute runs a recorded command stream. It is only called from a queue
// worker.
func (d *device) execute(cmds []command, p *pipeline) {
	st := drawState{pipeline: p}
	for _, c := range cmds {
		switch c.kind {
		case cmdViewport:
			st.viewport = c.viewport
		case cmdScissor:
			st.scissor = c.scissor
		case cmdBarrier:
			for _, b := range c.barriers {
				d.f.barriers.add(BarrierRecord{Resource: b.mem.label, Before: b.before, After: b.after})
			}
		case cmdRenderTarget:
			st.target = c.target
		case cmdClear:
			clearTarget(c.target, c.color)
		case cmdVertexBuffer:
			st.vertices = c.vertices
			st.vbOffset = c.vbOffset
			st.vbView = c.vbView
		case cmdDraw:
			d.draw(&st, c.draw)
		}
	}
}

func unorm8(v float32) uint8 {
	switch {
	case v <= 0 || v != v:
		return 0
	case v >= 1:
		return 255
	}
	return uint8(math.Round(float64(v) * 255))
}

// packColor converts a float colour into the byte order of format.
func packColor(format driver.Format, rgba [4]float32) [4]byte {
	r, g, b, a := unorm8(rgba[0]), unorm8(rgba[1]), unorm8(rgba[2]), unorm8(rgba[3])
	if format == driver.FormatB8G8R8A8Unorm {
		return [4]byte{b, g, r, a}
	}
	return [4]byte{r, g, b, a}
}

func clearTarget(m *memory, rgba [4]float32) {
	px := packColor(m.desc.Format, rgba)
	for i := 0; i+4 <= len(m.data); i += 4 {
		copy(m.data[i:i+4], px[:])
	}
}

type vertex struct {
	x, y  float32
	color [4]float32
}

func readFloats(b []byte, n int) [4]float32 {
	var out [4]float32
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// fetch reads vertex i and maps it from clip space to pixels.
func (st *drawState) fetch(i uint32) (vertex, bool) {
	stride := uint64(st.vbView.StrideInBytes)
	base := st.vbOffset + uint64(i)*stride
	if uint64(i+1)*stride > uint64(st.vbView.SizeInBytes) || base+stride > uint64(len(st.vertices.data)) {
		return vertex{}, false
	}
	raw := st.vertices.data[base : base+stride]

	pos := readFloats(raw[st.pipeline.posOffset:], 3)
	v := vertex{color: [4]float32{1, 1, 1, 1}}
	if st.pipeline.colorOffset >= 0 {
		v.color = readFloats(raw[st.pipeline.colorOffset:], 4)
	}
	vp := st.viewport
	v.x = vp.X + (pos[0]+1)*vp.Width/2
	v.y = vp.Y + (1-pos[1])*vp.Height/2
	return v, true
}

func (d *device) draw(st *drawState, args [4]uint32) {
	if st.pipeline == nil || st.target == nil || st.vertices == nil {
		return
	}
	vertexCount, instances, start := args[0], args[1], args[2]
	for inst := uint32(0); inst < instances; inst++ {
		for i := uint32(0); i+3 <= vertexCount; i += 3 {
			var tri [3]vertex
			ok := true
			for k := range tri {
				tri[k], ok = st.fetch(start + i + uint32(k))
				if !ok {
					break
				}
			}
			if !ok {
				d.f.log().Warn("soft: vertex fetch out of bounds", "vertex", start+i)
				return
			}
			st.rasterize(tri)
		}
	}
}

func edge(a, b vertex, px, py float32) float32 {
	return (b.x-a.x)*(py-a.y) - (b.y-a.y)*(px-a.x)
}

// rasterize fills tri with barycentric colour interpolation, sampling at
// pixel centres. Pixels on a shared edge are drawn by both triangles.
func (st *drawState) rasterize(tri [3]vertex) {
	area := edge(tri[0], tri[1], tri[2].x, tri[2].y)
	if area == 0 {
		return
	}
	// With y pointing down a positive area is clockwise on screen.
	clockwise := area > 0
	front := clockwise != st.pipeline.desc.FrontCounterClockwise
	switch st.pipeline.desc.CullMode {
	case driver.CullBack:
		if !front {
			return
		}
	case driver.CullFront:
		if front {
			return
		}
	}

	t := st.target
	w, h := int(t.desc.Width), int(t.desc.Height)
	minX := max(0, int(st.scissor.Left), int(math.Floor(float64(min(tri[0].x, tri[1].x, tri[2].x)))))
	maxX := min(w, int(st.scissor.Right), int(math.Ceil(float64(max(tri[0].x, tri[1].x, tri[2].x)))))
	minY := max(0, int(st.scissor.Top), int(math.Floor(float64(min(tri[0].y, tri[1].y, tri[2].y)))))
	maxY := min(h, int(st.scissor.Bottom), int(math.Ceil(float64(max(tri[0].y, tri[1].y, tri[2].y)))))

	blend := st.pipeline.desc.BlendEnable
	pitch := t.pitch()
	for y := minY; y < maxY; y++ {
		py := float32(y) + 0.5
		for x := minX; x < maxX; x++ {
			px := float32(x) + 0.5
			w0 := edge(tri[1], tri[2], px, py) / area
			w1 := edge(tri[2], tri[0], px, py) / area
			w2 := edge(tri[0], tri[1], px, py) / area
			if w0 < 0 || w1 < 0 || w2 < 0 {
				continue
			}
			var c [4]float32
			for k := range c {
				c[k] = w0*tri[0].color[k] + w1*tri[1].color[k] + w2*tri[2].color[k]
			}
			off := y*pitch + x*4
			if blend {
				c = blendOver(t.desc.Format, t.data[off:off+4], c)
			}
			px4 := packColor(t.desc.Format, c)
			copy(t.data[off:off+4], px4[:])
		}
	}
}

// blendOver composes src over the stored pixel with straight alpha.
func blendOver(format driver.Format, dst []byte, src [4]float32) [4]float32 {
	var d [4]float32
	if format == driver.FormatB8G8R8A8Unorm {
		d = [4]float32{float32(dst[2]), float32(dst[1]), float32(dst[0]), float32(dst[3])}
	} else {
		d = [4]float32{float32(dst[0]), float32(dst[1]), float32(dst[2]), float32(dst[3])}
	}
	a := src[3]
	var out [4]float32
	for k := 0; k < 3; k++ {
		out[k] = src[k]*a + d[k]/255*(1-a)
	}
	out[3] = a + d[3]/255*(1-a)
	return out
}
