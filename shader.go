package compositor

import (
	"bytes"
	_ "embed"
	"fmt"

	"github.com/gogpu/compositor/internal/cache"
	"github.com/gogpu/naga"
)

//go:embed shaders/triangle.wgsl
var triangleShaderSource string

// Entry points of the built-in shader.
const (
	VertexEntryPoint   = "vs_main"
	FragmentEntryPoint = "fs_main"
)

// shaderModules holds compiled SPIR-V by WGSL source.
var shaderModules = cache.New[string, []byte](32)

// CompileShader compiles WGSL source to a SPIR-V module. Results are
// cached by source; the returned slice is the caller's.
func CompileShader(wgsl string) ([]byte, error) {
	if wgsl == "" {
		return nil, fmt.Errorf("compositor: empty shader source")
	}
	spirv, err := shaderModules.GetOrCreate(wgsl, func() ([]byte, error) {
		return naga.Compile(wgsl)
	})
	if err != nil {
		return nil, fmt.Errorf("compositor: compile shader: %w", err)
	}
	return bytes.Clone(spirv), nil
}

// shaderModule returns the SPIR-V the renderer builds its pipeline from.
func (o *options) shaderModule() ([]byte, error) {
	if o.shaderCode != nil {
		return o.shaderCode, nil
	}
	src := o.shaderSource
	if src == "" {
		src = triangleShaderSource
	}
	return CompileShader(src)
}
