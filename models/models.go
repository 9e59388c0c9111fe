// Package models builds indexed triangle meshes for the renderer, either
// decoded from Wavefront OBJ files or generated.
package models

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/mokiat/go-data-front/decoder/obj"
	"github.com/xlab/linmath"

	"github.com/ironsmile/vulkan-render-go/render"
)

// Model is an indexed triangle list.
type Model struct {
	Vertices []render.Vertex
	Indices  []uint32
}

// DecodeOBJ reads a Wavefront OBJ model. Polygons are split into triangle
// fans and identical vertices are shared. The V texture coordinate is
// flipped since OBJ puts its origin at the bottom left.
func DecodeOBJ(r io.Reader) (*Model, error) {
	decoder := obj.NewDecoder(obj.DefaultLimits())
	model, err := decoder.Decode(r)
	if err != nil {
		return nil, errors.Wrap(err, "decoding OBJ model")
	}

	m := &Model{}
	unique := make(map[render.Vertex]uint32)

	index := func(ref obj.Reference) uint32 {
		pos := model.Vertices[ref.VertexIndex]
		vertex := render.Vertex{
			Pos:   linmath.Vec3{float32(pos.X), float32(pos.Y), float32(pos.Z)},
			Color: linmath.Vec3{1, 1, 1},
		}
		if ref.HasTexCoord() {
			uv := model.TexCoords[ref.TexCoordIndex]
			vertex.UV = linmath.Vec2{float32(uv.U), 1 - float32(uv.V)}
		}

		if i, ok := unique[vertex]; ok {
			return i
		}
		i := uint32(len(m.Vertices))
		unique[vertex] = i
		m.Vertices = append(m.Vertices, vertex)
		return i
	}

	for _, object := range model.Objects {
		for _, mesh := range object.Meshes {
			for _, face := range mesh.Faces {
				refs := face.References
				if len(refs) < 3 {
					continue
				}
				first := index(refs[0])
				for i := 1; i+1 < len(refs); i++ {
					m.Indices = append(m.Indices, first, index(refs[i]), index(refs[i+1]))
				}
			}
		}
	}

	if len(m.Indices) == 0 {
		return nil, errors.New("OBJ model has no faces")
	}
	return m, nil
}

// Quad returns a square of the given side length in the XY plane centered
// at the origin and facing +Z, tinted with color.
func Quad(side float32, color linmath.Vec3) *Model {
	h := side / 2
	return &Model{
		Vertices: []render.Vertex{
			{Pos: linmath.Vec3{-h, -h, 0}, Color: color, UV: linmath.Vec2{1, 0}},
			{Pos: linmath.Vec3{h, -h, 0}, Color: color, UV: linmath.Vec2{0, 0}},
			{Pos: linmath.Vec3{h, h, 0}, Color: color, UV: linmath.Vec2{0, 1}},
			{Pos: linmath.Vec3{-h, h, 0}, Color: color, UV: linmath.Vec2{1, 1}},
		},
		Indices: []uint32{0, 1, 2, 2, 3, 0},
	}
}
