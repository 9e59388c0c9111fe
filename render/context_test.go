package render_test

import (
	"bytes"
	"encoding/json"
	"math"
	"time"

	"github.com/cockroachdb/errors"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/xlab/linmath"

	"github.com/ironsmile/vulkan-render-go/gpu"
	"github.com/ironsmile/vulkan-render-go/gpu/softgpu"
	"github.com/ironsmile/vulkan-render-go/render"
	"github.com/ironsmile/vulkan-render-go/unsafer"
)

var spirv = []byte{0x03, 0x02, 0x23, 0x07, 0x00, 0x00, 0x01, 0x00}

func contextOptions() render.Options {
	opts := render.DefaultOptions()
	opts.Validation = true
	opts.VertexShader = spirv
	opts.FragmentShader = spirv
	return opts
}

func quadVertices(z float32) ([]render.Vertex, []uint32) {
	return []render.Vertex{
		{Pos: linmath.Vec3{-0.5, -0.5, z}, Color: linmath.Vec3{1, 0, 0}, UV: linmath.Vec2{1, 0}},
		{Pos: linmath.Vec3{0.5, -0.5, z}, Color: linmath.Vec3{0, 1, 0}, UV: linmath.Vec2{0, 0}},
		{Pos: linmath.Vec3{0.5, 0.5, z}, Color: linmath.Vec3{0, 0, 1}, UV: linmath.Vec2{0, 1}},
		{Pos: linmath.Vec3{-0.5, 0.5, z}, Color: linmath.Vec3{1, 1, 1}, UV: linmath.Vec2{1, 1}},
	}, []uint32{0, 1, 2, 2, 3, 0}
}

func checkerboard(w, h uint32) []byte {
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

func destroyIndices(log []softgpu.DestroyRecord, kind gpu.ObjectKind) (first, last int) {
	first, last = -1, -1
	for i, r := range log {
		if r.Kind != kind {
			continue
		}
		if first < 0 {
			first = i
		}
		last = i
	}
	return first, last
}

var _ = Describe("Context", func() {
	var (
		dev  *softgpu.Device
		ctx  *render.Context
		opts render.Options
	)

	drawFrame := func(items ...render.DrawItem) error {
		token, err := ctx.BeginFrame()
		if err != nil {
			return err
		}
		aspect := float32(token.Extent.Width) / float32(token.Extent.Height)
		return ctx.SubmitFrame(token, render.DrawList{
			View:       render.LookAt(linmath.Vec3{2, 2, 2}, linmath.Vec3{}, linmath.Vec3{0, 0, 1}),
			Projection: render.Projection(math.Pi/4, aspect, 0.1, 10),
			Items:      items,
		})
	}

	createQuad := func(z float32) *render.Mesh {
		vertices, indices := quadVertices(z)
		mesh, err := ctx.CreateMesh(vertices, indices)
		Expect(err).NotTo(HaveOccurred())
		return mesh
	}

	BeforeEach(func() {
		opts = contextOptions()
	})

	JustBeforeEach(func() {
		dev = softgpu.New(softgpu.DefaultConfig())
		var err error
		ctx, err = render.Initialize(dev, dev.Surface(), gpu.Extent2D{Width: 800, Height: 600}, opts)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		ctx.Shutdown()
	})

	It("draws two textured quads over three frames", func() {
		first := createQuad(0)
		second := createQuad(-0.5)
		tex, err := ctx.CreateTexture(checkerboard(4, 4), 4, 4, gpu.FormatR8G8B8A8Unorm)
		Expect(err).NotTo(HaveOccurred())

		var models []linmath.Mat4x4
		for frame := range 3 {
			left := render.Transform(linmath.Vec3{-0.5, 0, 0}, float32(frame)*0.1)
			right := render.Transform(linmath.Vec3{0.5, 0, 0}, -float32(frame)*0.1)
			models = append(models, left, right)

			Expect(drawFrame(
				render.DrawItem{Mesh: first, Texture: tex, Model: left},
				render.DrawItem{Mesh: second, Model: right},
			)).To(Succeed())
		}

		ctx.Shutdown()

		stats := ctx.Frames().Stats()
		Expect(stats.FramesSubmitted).To(Equal(3))
		Expect(stats.FencesObserved).To(Equal(3))
		Expect(stats.Outstanding).To(BeZero())
		Expect(stats.MaxOutstanding).To(BeNumerically("<=", opts.FramesInFlight))
		Expect(stats.Rebuilds).To(BeZero())

		Expect(dev.Stats().Presents).To(Equal(3))

		draws := dev.Draws()
		Expect(draws).To(HaveLen(6))
		for i, d := range draws {
			Expect(d.IndexCount).To(Equal(uint32(6)))
			Expect(d.Sets).To(HaveLen(1))
			Expect(d.PushConstants).To(Equal(unsafer.StructToBytes(&models[i])))
		}

		// Each frame slot samples through its own descriptor set.
		Expect(draws[0].Sets[0]).NotTo(Equal(draws[2].Sets[0]))
		Expect(draws[0].Sets[0]).To(Equal(draws[4].Sets[0]))
		Expect(draws[0].Sets[0]).NotTo(Equal(draws[1].Sets[0]))

		Expect(dev.Violations()).To(BeEmpty())
		Expect(dev.LiveCount()).To(BeZero())
	})

	It("destroys dependents before the objects they depend on", func() {
		mesh := createQuad(0)
		Expect(drawFrame(render.DrawItem{Mesh: mesh, Model: render.Transform(linmath.Vec3{}, 0)})).To(Succeed())

		ctx.Shutdown()
		log := dev.DestroyLog()
		Expect(log).NotTo(BeEmpty())

		_, lastFramebuffer := destroyIndices(log, gpu.KindFramebuffer)
		firstRenderPass, _ := destroyIndices(log, gpu.KindRenderPass)
		Expect(lastFramebuffer).To(BeNumerically(">=", 0))
		Expect(lastFramebuffer).To(BeNumerically("<", firstRenderPass))

		_, lastPipeline := destroyIndices(log, gpu.KindPipeline)
		firstPipelineLayout, _ := destroyIndices(log, gpu.KindPipelineLayout)
		Expect(lastPipeline).To(BeNumerically("<", firstPipelineLayout))

		_, lastView := destroyIndices(log, gpu.KindImageView)
		firstSwapchain, _ := destroyIndices(log, gpu.KindSwapchain)
		Expect(lastView).To(BeNumerically("<", firstSwapchain))

		_, lastLayout := destroyIndices(log, gpu.KindPipelineLayout)
		firstSetLayout, _ := destroyIndices(log, gpu.KindDescriptorSetLayout)
		Expect(lastLayout).To(BeNumerically("<", firstSetLayout))

		_, lastBuffer := destroyIndices(log, gpu.KindBuffer)
		_, lastMemory := destroyIndices(log, gpu.KindMemory)
		Expect(lastBuffer).To(BeNumerically("<", lastMemory))

		Expect(dev.LiveCount()).To(BeZero())
		Expect(dev.Violations()).To(BeEmpty())

		By("shutting down again")
		ctx.Shutdown()
		Expect(dev.DestroyLog()).To(HaveLen(len(log)))
		Expect(dev.Violations()).To(BeEmpty())

		_, err := ctx.BeginFrame()
		Expect(errors.Is(err, render.ErrConfiguration)).To(BeTrue())
	})

	It("rebuilds the swapchain when the surface is resized", func() {
		mesh := createQuad(0)
		item := render.DrawItem{Mesh: mesh, Model: render.Transform(linmath.Vec3{}, 0)}
		Expect(drawFrame(item)).To(Succeed())

		dev.Resize(gpu.Extent2D{Width: 1024, Height: 768})

		token, err := ctx.BeginFrame()
		Expect(err).NotTo(HaveOccurred())
		Expect(token.Extent).To(Equal(gpu.Extent2D{Width: 1024, Height: 768}))
		Expect(ctx.SubmitFrame(token, render.DrawList{Items: []render.DrawItem{item}})).To(Succeed())

		Expect(ctx.Extent()).To(Equal(gpu.Extent2D{Width: 1024, Height: 768}))
		Expect(ctx.Frames().Stats().Rebuilds).To(Equal(1))
		Expect(drawFrame(item)).To(Succeed())

		ctx.Shutdown()
		Expect(dev.Violations()).To(BeEmpty())
		Expect(dev.LiveCount()).To(BeZero())
	})

	Context("when the surface leaves the extent to the application", func() {
		JustBeforeEach(func() {
			ctx.Shutdown()

			cfg := softgpu.DefaultConfig()
			cfg.FixedSurfaceExt = false
			dev = softgpu.New(cfg)
			var err error
			ctx, err = render.Initialize(dev, dev.Surface(), gpu.Extent2D{Width: 800, Height: 600}, opts)
			Expect(err).NotTo(HaveOccurred())
		})

		It("uses the size passed to Resize", func() {
			Expect(drawFrame()).To(Succeed())
			Expect(ctx.Extent()).To(Equal(gpu.Extent2D{Width: 800, Height: 600}))

			dev.Resize(gpu.Extent2D{Width: 640, Height: 480})
			ctx.Resize(gpu.Extent2D{Width: 640, Height: 480})

			Expect(drawFrame()).To(Succeed())
			Expect(ctx.Extent()).To(Equal(gpu.Extent2D{Width: 640, Height: 480}))
			Expect(ctx.Frames().Stats().Rebuilds).To(Equal(1))

			ctx.Shutdown()
			Expect(dev.Violations()).To(BeEmpty())
		})
	})

	It("waits out a zero sized surface", func() {
		Expect(drawFrame()).To(Succeed())

		dev.Resize(gpu.Extent2D{})
		for range 2 {
			_, err := ctx.BeginFrame()
			Expect(errors.Is(err, render.ErrSwapchainOutOfDate)).To(BeTrue())
			Expect(errors.Is(err, render.ErrDeviceLost)).To(BeFalse())
		}

		dev.Resize(gpu.Extent2D{Width: 640, Height: 480})
		Expect(drawFrame()).To(Succeed())
		Expect(ctx.Extent()).To(Equal(gpu.Extent2D{Width: 640, Height: 480}))
		Expect(ctx.Frames().Stats().Rebuilds).To(Equal(1))

		ctx.Shutdown()
		Expect(dev.Violations()).To(BeEmpty())
	})

	It("rebuilds after presenting to a suboptimal swapchain", func() {
		dev.InjectSuboptimal(1)

		Expect(drawFrame()).To(Succeed())
		Expect(ctx.Frames().Stats().Rebuilds).To(Equal(1))
		Expect(dev.Stats().Presents).To(Equal(1))

		Expect(drawFrame()).To(Succeed())
		Expect(ctx.Frames().Stats().Rebuilds).To(Equal(1))

		ctx.Shutdown()
		Expect(dev.Violations()).To(BeEmpty())
	})

	It("reports a lost device", func() {
		Expect(drawFrame()).To(Succeed())
		Expect(dev.DeviceWaitIdle()).To(Succeed())

		dev.LoseDevice()
		for range 2 {
			_, err := ctx.BeginFrame()
			Expect(errors.Is(err, render.ErrDeviceLost)).To(BeTrue())
		}

		ctx.Shutdown()
		Expect(dev.LiveCount()).To(BeZero())
	})

	It("defers destroying a mesh until no frame draws it", func() {
		mesh := createQuad(0)
		Expect(drawFrame(render.DrawItem{Mesh: mesh, Model: render.Transform(linmath.Vec3{}, 0)})).To(Succeed())

		err := ctx.Resources().DestroyBuffer(mesh.Vertices)
		Expect(errors.Is(err, render.ErrSyncViolation)).To(BeTrue())

		ctx.DestroyMesh(mesh)
		Expect(mesh.Vertices.Handle).NotTo(BeZero())

		// The next frame uses the other slot and does not wait for the first.
		Expect(drawFrame()).To(Succeed())
		Expect(mesh.Vertices.Handle).NotTo(BeZero())

		Expect(drawFrame()).To(Succeed())
		Expect(mesh.Vertices.Handle).To(BeZero())
		Expect(mesh.Indices.Handle).To(BeZero())

		ctx.Shutdown()
		Expect(dev.Violations()).To(BeEmpty())
	})

	It("cancels a frame drawing a destroyed mesh", func() {
		mesh := createQuad(0)
		ctx.DestroyMesh(mesh)
		Expect(mesh.Vertices.Handle).To(BeZero())

		err := drawFrame(render.DrawItem{Mesh: mesh})
		Expect(errors.Is(err, render.ErrConfiguration)).To(BeTrue())

		Expect(drawFrame()).To(Succeed())
		Expect(drawFrame()).To(Succeed())
		Expect(ctx.Frames().Stats().FramesSubmitted).To(Equal(2))

		ctx.Shutdown()
		Expect(dev.Violations()).To(BeEmpty())
		Expect(dev.LiveCount()).To(BeZero())
	})

	It("rejects frames begun out of order", func() {
		token, err := ctx.BeginFrame()
		Expect(err).NotTo(HaveOccurred())

		_, err = ctx.BeginFrame()
		Expect(errors.Is(err, render.ErrSyncViolation)).To(BeTrue())

		err = ctx.SubmitFrame(nil, render.DrawList{})
		Expect(errors.Is(err, render.ErrSyncViolation)).To(BeTrue())

		Expect(ctx.SubmitFrame(token, render.DrawList{})).To(Succeed())

		err = ctx.SubmitFrame(token, render.DrawList{})
		Expect(errors.Is(err, render.ErrSyncViolation)).To(BeTrue())

		ctx.Shutdown()
		Expect(dev.Violations()).To(BeEmpty())
	})

	It("validates meshes", func() {
		vertices, indices := quadVertices(0)

		_, err := ctx.CreateMesh(vertices, indices[:4])
		Expect(errors.Is(err, render.ErrConfiguration)).To(BeTrue())

		_, err = ctx.CreateMesh(vertices[:2], indices)
		Expect(errors.Is(err, render.ErrConfiguration)).To(BeTrue())

		_, err = ctx.CreateMesh(nil, nil)
		Expect(errors.Is(err, render.ErrConfiguration)).To(BeTrue())

		mesh, err := ctx.CreateMesh(vertices, indices)
		Expect(err).NotTo(HaveOccurred())
		Expect(mesh.IndexType).To(Equal(gpu.IndexUint16))
		Expect(mesh.IndexCount).To(Equal(uint32(6)))
	})

	It("stores indices of large meshes as 32 bit values", func() {
		vertices := make([]render.Vertex, 70000)
		for i := range vertices {
			vertices[i].Pos = linmath.Vec3{float32(i), 0, 0}
		}
		indices := []uint32{0, 1, 69999}

		mesh, err := ctx.CreateMesh(vertices, indices)
		Expect(err).NotTo(HaveOccurred())
		Expect(mesh.IndexType).To(Equal(gpu.IndexUint32))
		Expect(mesh.Indices.Size).To(Equal(uint64(12)))

		Expect(drawFrame(render.DrawItem{Mesh: mesh, Model: render.Transform(linmath.Vec3{}, 0)})).To(Succeed())
		ctx.Shutdown()
		Expect(dev.Draws()).To(HaveLen(1))
		Expect(dev.Draws()[0].IndexCount).To(Equal(uint32(3)))
		Expect(dev.Violations()).To(BeEmpty())
	})

	Context("with room for a single texture", func() {
		BeforeEach(func() {
			opts.MaxTextures = 1
		})

		It("reuses the descriptor sets of destroyed textures", func() {
			pixels := checkerboard(2, 2)

			first, err := ctx.CreateTexture(pixels, 2, 2, gpu.FormatR8G8B8A8Unorm)
			Expect(err).NotTo(HaveOccurred())

			_, err = ctx.CreateTexture(pixels, 2, 2, gpu.FormatR8G8B8A8Unorm)
			Expect(errors.Is(err, render.ErrResourceExhaustion)).To(BeTrue())

			ctx.DestroyTexture(first)
			Expect(first.Image.Handle).To(BeZero())

			second, err := ctx.CreateTexture(pixels, 2, 2, gpu.FormatR8G8B8A8Unorm)
			Expect(err).NotTo(HaveOccurred())

			mesh := createQuad(0)
			Expect(drawFrame(render.DrawItem{Mesh: mesh, Texture: second})).To(Succeed())

			By("destroying a texture still sampled by a frame in flight")
			ctx.DestroyTexture(second)
			Expect(second.Image.Handle).NotTo(BeZero())

			err = drawFrame(render.DrawItem{Mesh: mesh, Texture: second})
			Expect(errors.Is(err, render.ErrConfiguration)).To(BeTrue())

			Expect(drawFrame()).To(Succeed())
			Expect(second.Image.Handle).To(BeZero())

			ctx.Shutdown()
			Expect(dev.Violations()).To(BeEmpty())
			Expect(dev.LiveCount()).To(BeZero())
		})
	})

	It("writes statistics as JSON", func() {
		Expect(drawFrame()).To(Succeed())

		var buf bytes.Buffer
		Expect(ctx.WriteStats(&buf)).To(Succeed())

		var stats struct {
			Memory struct {
				Live int `json:"live"`
			} `json:"memory"`
			Transfers struct {
				Uploads int `json:"uploads"`
			} `json:"transfers"`
			Frames struct {
				Slots     int `json:"slots"`
				Submitted int `json:"submitted"`
			} `json:"frames"`
			Objects map[string]int `json:"objects"`
		}
		Expect(json.Unmarshal(buf.Bytes(), &stats)).To(Succeed())

		Expect(stats.Memory.Live).To(BeNumerically(">", 0))
		Expect(stats.Transfers.Uploads).To(Equal(1))
		Expect(stats.Frames.Slots).To(Equal(opts.FramesInFlight))
		Expect(stats.Frames.Submitted).To(Equal(1))
		Expect(stats.Objects).To(HaveKeyWithValue("pipeline", 1))
		Expect(stats.Objects).To(HaveKeyWithValue("swapchain", 1))
		Expect(stats.Objects).To(HaveKeyWithValue("fence", opts.FramesInFlight))
	})
})

var _ = Describe("Context on a slow device", func() {
	It("never runs more than the frames in flight ahead of the device", func() {
		cfg := softgpu.DefaultConfig()
		cfg.ExecDelay = 15 * time.Millisecond
		dev := softgpu.New(cfg)
		opts := contextOptions()

		ctx, err := render.Initialize(dev, dev.Surface(), cfg.SurfaceExtent, opts)
		Expect(err).NotTo(HaveOccurred())

		vertices, indices := quadVertices(0)
		mesh, err := ctx.CreateMesh(vertices, indices)
		Expect(err).NotTo(HaveOccurred())

		const frames = 10
		for frame := range frames {
			token, err := ctx.BeginFrame()
			Expect(err).NotTo(HaveOccurred())
			Expect(token.Slot).To(Equal(frame % opts.FramesInFlight))

			Expect(ctx.SubmitFrame(token, render.DrawList{
				Items: []render.DrawItem{{
					Mesh:  mesh,
					Model: render.Transform(linmath.Vec3{}, float32(frame)*0.1),
				}},
			})).To(Succeed())
			Expect(ctx.Frames().Stats().Outstanding).To(BeNumerically("<=", opts.FramesInFlight))
		}

		stats := ctx.Frames().Stats()
		Expect(stats.FramesSubmitted).To(Equal(frames))
		Expect(stats.MaxOutstanding).To(Equal(opts.FramesInFlight))
		Expect(stats.FencesObserved).To(Equal(frames - opts.FramesInFlight))

		ctx.Shutdown()
		stats = ctx.Frames().Stats()
		Expect(stats.FencesObserved).To(Equal(frames))
		Expect(stats.Outstanding).To(BeZero())
		Expect(dev.Violations()).To(BeEmpty())
		Expect(dev.LiveCount()).To(BeZero())
	})
})

var _ = Describe("Initialize", func() {
	It("rejects an invalid number of frames in flight", func() {
		dev := softgpu.New(softgpu.DefaultConfig())
		opts := contextOptions()
		opts.FramesInFlight = render.MaxFramesInFlight + 1

		_, err := render.Initialize(dev, dev.Surface(), gpu.Extent2D{Width: 800, Height: 600}, opts)
		Expect(errors.Is(err, render.ErrConfiguration)).To(BeTrue())
		Expect(dev.LiveCount()).To(BeZero())
		Expect(dev.Violations()).To(BeEmpty())
	})

	It("fails without a depth format when depth testing", func() {
		cfg := softgpu.DefaultConfig()
		cfg.DepthFormats = nil
		dev := softgpu.New(cfg)

		_, err := render.Initialize(dev, dev.Surface(), gpu.Extent2D{Width: 800, Height: 600}, contextOptions())
		Expect(errors.Is(err, render.ErrConfiguration)).To(BeTrue())
		Expect(dev.LiveCount()).To(BeZero())
		Expect(dev.Violations()).To(BeEmpty())
	})

	It("works without depth testing on devices without depth formats", func() {
		cfg := softgpu.DefaultConfig()
		cfg.DepthFormats = nil
		dev := softgpu.New(cfg)
		opts := contextOptions()
		opts.DepthTest = false
		opts.FramesInFlight = 1
		opts.PreferredPresentMode = gpu.PresentModeImmediate

		ctx, err := render.Initialize(dev, dev.Surface(), gpu.Extent2D{Width: 800, Height: 600}, opts)
		Expect(err).NotTo(HaveOccurred())

		for range 3 {
			token, err := ctx.BeginFrame()
			Expect(err).NotTo(HaveOccurred())
			Expect(token.Slot).To(BeZero())
			Expect(ctx.SubmitFrame(token, render.DrawList{})).To(Succeed())
		}

		ctx.Shutdown()
		Expect(ctx.Frames().Stats().MaxOutstanding).To(Equal(1))
		Expect(dev.Violations()).To(BeEmpty())
		Expect(dev.LiveCount()).To(BeZero())
	})
})
