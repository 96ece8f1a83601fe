package compositor

import (
	"encoding/binary"
	"math"

	"github.com/gogpu/compositor/driver"
)

// Vertex is one corner of a triangle: a clip-space position and an RGBA
// colour.
type Vertex struct {
	Position [3]float32
	Color    [4]float32
}

// VertexStride is the encoded size of a Vertex in bytes.
const VertexStride = 28

// Offsets of the vertex attributes within the encoding.
const (
	positionOffset = 0
	colorOffset    = 12
)

// DefaultTriangle returns the built-in triangle: red apex at the top,
// green bottom right, half transparent blue bottom left.
func DefaultTriangle() []Vertex {
	return []Vertex{
		{Position: [3]float32{0.0, 1.0, 0.0}, Color: [4]float32{1.0, 0.0, 0.0, 1.0}},
		{Position: [3]float32{1.0, -1.0, 0.0}, Color: [4]float32{0.0, 1.0, 0.0, 1.0}},
		{Position: [3]float32{-1.0, -1.0, 0.0}, Color: [4]float32{0.0, 0.0, 1.0, 0.5}},
	}
}

// encodeVertices packs vertices little-endian at VertexStride.
func encodeVertices(vs []Vertex) []byte {
	b := make([]byte, 0, len(vs)*VertexStride)
	for _, v := range vs {
		for _, x := range v.Position {
			b = binary.LittleEndian.AppendUint32(b, math.Float32bits(x))
		}
		for _, x := range v.Color {
			b = binary.LittleEndian.AppendUint32(b, math.Float32bits(x))
		}
	}
	return b
}

// inputLayout describes the Vertex encoding to the input assembler.
func inputLayout() []driver.InputElement {
	return []driver.InputElement{
		{Semantic: "POSITION", Format: driver.FormatR32G32B32Float, Offset: positionOffset},
		{Semantic: "COLOR", Format: driver.FormatR32G32B32A32Float, Offset: colorOffset},
	}
}
