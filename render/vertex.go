package render

import (
	"unsafe"

	"github.com/xlab/linmath"
)

// Vertex is the fixed vertex record: position, colour and texture
// coordinates, tightly packed.
type Vertex struct {
	Pos   linmath.Vec3
	Color linmath.Vec3
	UV    linmath.Vec2
}

// VertexSize is the stride of Vertex in a vertex buffer.
const VertexSize = uint32(unsafe.Sizeof(Vertex{}))

// FrameUniforms is the per-frame uniform block at binding 0.
type FrameUniforms struct {
	View linmath.Mat4x4
	Proj linmath.Mat4x4
}

// frameUniformsSize is the size of FrameUniforms in the uniform buffer.
const frameUniformsSize = uint64(unsafe.Sizeof(FrameUniforms{}))

// ModelPushSize is the size of the model matrix push constant block.
const ModelPushSize = uint32(unsafe.Sizeof(linmath.Mat4x4{}))

// Projection returns a perspective projection for a framebuffer of the given
// aspect ratio with clip space Y pointing down. fovY is in radians.
func Projection(fovY, aspect, near, far float32) linmath.Mat4x4 {
	var proj linmath.Mat4x4
	proj.Perspective(fovY, aspect, near, far)
	proj[1][1] *= -1
	return proj
}

// LookAt returns a view matrix for a camera at eye looking at center.
func LookAt(eye, center, up linmath.Vec3) linmath.Mat4x4 {
	var view linmath.Mat4x4
	view.LookAt(&eye, &center, &up)
	return view
}

// Transform returns a model matrix rotating by angle radians around Z and
// then translating by offset.
func Transform(offset linmath.Vec3, angle float32) linmath.Mat4x4 {
	var id, model linmath.Mat4x4
	id.Identity()
	model.RotateZ(&id, angle)
	model[3][0] = offset[0]
	model[3][1] = offset[1]
	model[3][2] = offset[2]
	return model
}
