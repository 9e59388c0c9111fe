package render

import (
	"math"
	"testing"

	"github.com/xlab/linmath"

	"github.com/ironsmile/vulkan-render-go/gpu"
	"github.com/ironsmile/vulkan-render-go/gpu/softgpu"
)

// testShader is the smallest byte sequence accepted as SPIR-V.
var testShader = []byte{0x03, 0x02, 0x23, 0x07, 0x00, 0x00, 0x01, 0x00}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Validation = true
	opts.VertexShader = testShader
	opts.FragmentShader = testShader
	return opts
}

// newTestDevice returns a software device destroyed at the end of the test.
func newTestDevice(t *testing.T, cfg softgpu.Config) *softgpu.Device {
	t.Helper()
	dev := softgpu.New(cfg)
	t.Cleanup(dev.Destroy)
	return dev
}

// newTransfer wires an allocator, layout tracker and staged transfer the way
// a context does.
func newTransfer(t *testing.T, dev gpu.Device) (*MemoryAllocator, *StagedTransfer) {
	t.Helper()
	memory := NewMemoryAllocator(dev)
	transfer, err := NewStagedTransfer(dev, memory, NewLayoutTracker(dev))
	if err != nil {
		t.Fatalf("creating staged transfer: %s", err)
	}
	t.Cleanup(transfer.Destroy)
	return memory, transfer
}

func quad(z float32) ([]Vertex, []uint32) {
	return []Vertex{
		{Pos: linmath.Vec3{-0.5, -0.5, z}, Color: linmath.Vec3{1, 0, 0}, UV: linmath.Vec2{1, 0}},
		{Pos: linmath.Vec3{0.5, -0.5, z}, Color: linmath.Vec3{0, 1, 0}, UV: linmath.Vec2{0, 0}},
		{Pos: linmath.Vec3{0.5, 0.5, z}, Color: linmath.Vec3{0, 0, 1}, UV: linmath.Vec2{0, 1}},
		{Pos: linmath.Vec3{-0.5, 0.5, z}, Color: linmath.Vec3{1, 1, 1}, UV: linmath.Vec2{1, 1}},
	}, []uint32{0, 1, 2, 2, 3, 0}
}

func checkerPixels(w, h uint32) []byte {
	pixels := make([]byte, 0, w*h*4)
	for y := range h {
		for x := range w {
			v := byte(0)
			if (x+y)%2 == 0 {
				v = 255
			}
			pixels = append(pixels, v, v, v, 255)
		}
	}
	return pixels
}

func camera(extent gpu.Extent2D) (linmath.Mat4x4, linmath.Mat4x4) {
	view := LookAt(linmath.Vec3{2, 2, 2}, linmath.Vec3{0, 0, 0}, linmath.Vec3{0, 0, 1})
	proj := Projection(math.Pi/4, float32(extent.Width)/float32(extent.Height), 0.1, 10)
	return view, proj
}
