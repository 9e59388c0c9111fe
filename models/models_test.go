package models

import (
	"strings"
	"testing"

	. "github.com/onsi/gomega"
	"github.com/xlab/linmath"
)

const square = `
o square
v -1 -1 0
v 1 -1 0
v 1 1 0
v -1 1 0
vt 0 0
vt 1 0
vt 1 1
vt 0 1
f 1/1 2/2 3/3 4/4
`

const twoTriangles = `
o pair
v 0 0 0
v 1 0 0
v 0 1 0
v 1 1 0
vt 0 0
vt 1 0
vt 0 1
vt 1 1
f 1/1 2/2 3/3
f 3/3 2/2 4/4
`

func TestDecodeOBJFan(t *testing.T) {
	g := NewWithT(t)

	m, err := DecodeOBJ(strings.NewReader(square))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(m.Vertices).To(HaveLen(4))
	g.Expect(m.Indices).To(Equal([]uint32{0, 1, 2, 0, 2, 3}))

	g.Expect(m.Vertices[0].Pos).To(Equal(linmath.Vec3{-1, -1, 0}))
	g.Expect(m.Vertices[0].UV).To(Equal(linmath.Vec2{0, 1}))
	g.Expect(m.Vertices[2].UV).To(Equal(linmath.Vec2{1, 0}))
	g.Expect(m.Vertices[0].Color).To(Equal(linmath.Vec3{1, 1, 1}))
}

func TestDecodeOBJSharesVertices(t *testing.T) {
	g := NewWithT(t)

	m, err := DecodeOBJ(strings.NewReader(twoTriangles))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(m.Vertices).To(HaveLen(4))
	g.Expect(m.Indices).To(Equal([]uint32{0, 1, 2, 2, 1, 3}))
}

func TestDecodeOBJWithoutFaces(t *testing.T) {
	g := NewWithT(t)

	_, err := DecodeOBJ(strings.NewReader("v 0 0 0\nv 1 0 0\n"))
	g.Expect(err).To(HaveOccurred())
}

func TestQuad(t *testing.T) {
	g := NewWithT(t)

	q := Quad(2, linmath.Vec3{1, 0, 0})
	g.Expect(q.Vertices).To(HaveLen(4))
	g.Expect(q.Indices).To(Equal([]uint32{0, 1, 2, 2, 3, 0}))
	for _, v := range q.Vertices {
		g.Expect(v.Pos[0]).To(Or(Equal(float32(-1)), Equal(float32(1))))
		g.Expect(v.Color).To(Equal(linmath.Vec3{1, 0, 0}))
	}
}
