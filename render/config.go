package render

import (
	"github.com/ironsmile/vulkan-render-go/gpu"
)

// MaxFramesInFlight is the largest number of frame slots a context may use.
const MaxFramesInFlight = 3

// Options configures a Context.
type Options struct {
	// FramesInFlight is the number of frames the CPU may record ahead of
	// the GPU, between 1 and MaxFramesInFlight.
	FramesInFlight int

	// Validation turns on the checks that report synchronization and
	// descriptor misuse as errors instead of leaving it undefined.
	Validation bool

	DepthTest  bool
	ClearColor [4]float32

	// PreferredPresentMode is used when the surface supports it. FIFO is
	// used otherwise.
	PreferredPresentMode gpu.PresentMode

	// VertexShader and FragmentShader are SPIR-V bytecode. The vertex
	// shader reads Vertex at locations 0 to 2, FrameUniforms at set 0
	// binding 0 and the model matrix from the push constant block. The
	// fragment shader samples the texture at set 0 binding 1.
	VertexShader   []byte
	FragmentShader []byte

	// MaxTextures is the number of textures which may exist at the same
	// time, not counting the built in white texture.
	MaxTextures int
}

// DefaultOptions returns options for two frames in flight with depth
// testing and mailbox presentation when available. Shaders must still be
// set.
func DefaultOptions() Options {
	return Options{
		FramesInFlight:       2,
		DepthTest:            true,
		ClearColor:           [4]float32{0, 0, 0, 1},
		PreferredPresentMode: gpu.PresentModeMailbox,
		MaxTextures:          16,
	}
}

func (o Options) validate() error {
	if o.FramesInFlight < 1 || o.FramesInFlight > MaxFramesInFlight {
		return configErrorf("frames in flight must be between 1 and %d, got %d",
			MaxFramesInFlight, o.FramesInFlight)
	}
	if len(o.VertexShader) == 0 {
		return configErrorf("no vertex shader")
	}
	if len(o.FragmentShader) == 0 {
		return configErrorf("no fragment shader")
	}
	if o.MaxTextures < 0 {
		return configErrorf("negative texture limit %d", o.MaxTextures)
	}
	return nil
}
