// Package shaders holds the GLSL sources of the renderer's shaders and loads
// their compiled SPIR-V bytecode. Run `go generate` with glslc on the PATH
// in order to compile them again.
package shaders

import (
	"encoding/binary"
	"io/fs"

	"github.com/cockroachdb/errors"
)

//go:generate glslc shader.vert -o vert.spv
//go:generate glslc shader.frag -o frag.spv

// File names of the compiled shaders.
const (
	VertexFile   = "vert.spv"
	FragmentFile = "frag.spv"
)

// magic is the first word of every SPIR-V module.
const magic = 0x07230203

// ErrInvalidBytecode is returned for files which are not SPIR-V modules.
var ErrInvalidBytecode = errors.New("invalid SPIR-V bytecode")

// Program is the bytecode of a vertex and a fragment shader.
type Program struct {
	Vertex   []byte
	Fragment []byte
}

// Load reads the compiled vertex and fragment shaders from fsys.
func Load(fsys fs.FS) (Program, error) {
	var (
		p   Program
		err error
	)

	p.Vertex, err = ReadFile(fsys, VertexFile)
	if err != nil {
		return p, errors.Wrap(err, "failed to read vertex shader bytecode")
	}

	p.Fragment, err = ReadFile(fsys, FragmentFile)
	if err != nil {
		return p, errors.Wrap(err, "failed to read fragment shader bytecode")
	}

	return p, nil
}

// ReadFile reads one SPIR-V module and checks that it looks like one.
func ReadFile(fsys fs.FS, name string) ([]byte, error) {
	code, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, err
	}
	if err := Validate(code); err != nil {
		return nil, errors.Wrapf(err, "%s", name)
	}
	return code, nil
}

// Validate checks the size and the magic number of SPIR-V bytecode. Modules
// compiled on a machine with the other endianness are rejected.
func Validate(code []byte) error {
	if len(code) < 4 || len(code)%4 != 0 {
		return errors.Wrapf(ErrInvalidBytecode, "size %d is not a positive multiple of 4", len(code))
	}
	if binary.LittleEndian.Uint32(code) != magic {
		return errors.Wrapf(ErrInvalidBytecode, "bad magic %#08x", binary.LittleEndian.Uint32(code))
	}
	return nil
}

// Placeholder returns a program made of empty SPIR-V modules. It is only
// useful with devices which do not execute shaders, such as softgpu.
func Placeholder() Program {
	header := func() []byte {
		code := make([]byte, 20)
		binary.LittleEndian.PutUint32(code[0:], magic)
		binary.LittleEndian.PutUint32(code[4:], 0x00010000)
		binary.LittleEndian.PutUint32(code[12:], 1)
		return code
	}
	return Program{Vertex: header(), Fragment: header()}
}
