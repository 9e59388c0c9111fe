package render

import (
	"io"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/xlab/linmath"

	"github.com/ironsmile/vulkan-render-go/gpu"
	"github.com/ironsmile/vulkan-render-go/unsafer"
)

// Mesh is an indexed triangle list in device-local buffers.
type Mesh struct {
	Vertices   *Buffer
	Indices    *Buffer
	IndexCount uint32
	IndexType  gpu.IndexType

	node *ownerNode
}

// DrawItem is one mesh drawn with a texture and a model matrix. A nil
// texture draws with plain white.
type DrawItem struct {
	Mesh    *Mesh
	Texture *Texture
	Model   linmath.Mat4x4
}

// DrawList is everything drawn in one frame.
type DrawList struct {
	View       linmath.Mat4x4
	Projection linmath.Mat4x4
	Items      []DrawItem
}

// Context is the rendering core over one device and one surface. It is not
// safe for concurrent use.
type Context struct {
	dev  gpu.Device
	opts Options
	root *ownerNode

	memory      *MemoryAllocator
	layouts     *LayoutTracker
	transfer    *StagedTransfer
	factory     *ResourceFactory
	descriptors *DescriptorManager
	builder     *PipelineBuilder
	swapchain   *SwapchainManager
	recorder    *CommandRecorder
	frames      *FrameScheduler

	setLayout *SetLayout
	pipeline  *Pipeline
	white     *Texture

	// freeSets holds per-slot descriptor sets of destroyed textures.
	freeSets [][]*DescriptorSet
	closed   bool
}

// Initialize builds a context rendering to surface. The context takes
// ownership of dev and destroys it in Shutdown, or right away when
// Initialize fails. extent is used when the surface does not dictate the
// swapchain size.
func Initialize(dev gpu.Device, surface gpu.Surface, extent gpu.Extent2D, opts Options) (*Context, error) {
	c := &Context{
		dev:  dev,
		opts: opts,
		root: newOwnerTree("device", dev.Destroy),
	}
	if err := c.init(surface, extent); err != nil {
		c.Shutdown()
		return nil, err
	}

	Logger().Info("context initialized",
		"device", dev.Capabilities().DeviceName,
		"framesInFlight", opts.FramesInFlight,
		"width", c.swapchain.Extent().Width,
		"height", c.swapchain.Extent().Height,
	)
	return c, nil
}

func (c *Context) init(surface gpu.Surface, extent gpu.Extent2D) error {
	opts := c.opts
	if err := opts.validate(); err != nil {
		return err
	}
	dev := c.dev

	c.memory = NewMemoryAllocator(dev)
	c.layouts = NewLayoutTracker(dev)

	transfer, err := NewStagedTransfer(dev, c.memory, c.layouts)
	if err != nil {
		return errors.Wrap(err, "create staged transfer")
	}
	c.transfer = transfer
	c.root.own("transfer command pool", transfer.Destroy)

	c.factory = NewResourceFactory(dev, c.memory, transfer, opts.Validation)

	perSlot := uint32(opts.MaxTextures + 1)
	c.descriptors, err = NewDescriptorManager(dev, opts.FramesInFlight, PoolCapacity{
		Sets: perSlot,
		Kinds: map[BindingKind]uint32{
			Uniform:              perSlot,
			CombinedImageSampler: perSlot,
		},
	}, opts.Validation)
	if err != nil {
		return errors.Wrap(err, "create descriptor manager")
	}
	c.root.own("descriptor pool", c.descriptors.Destroy)

	c.setLayout, err = c.descriptors.DefineLayout([]Binding{
		{Index: 0, Kind: Uniform, Stages: gpu.ShaderStageVertex},
		{Index: 1, Kind: CombinedImageSampler, Stages: gpu.ShaderStageFragment},
	})
	if err != nil {
		return errors.Wrap(err, "define descriptor set layout")
	}

	c.swapchain = NewSwapchainManager(dev, surface, c.factory, transfer, c.root, opts)
	if err := c.swapchain.Configure(); err != nil {
		return errors.Wrap(err, "configure swapchain")
	}

	c.builder = NewPipelineBuilder(dev)
	renderPass, err := c.builder.CreateRenderPass(c.swapchain.Format().Format, c.swapchain.DepthFormat())
	if err != nil {
		return errors.Wrap(err, "create render pass")
	}
	c.root.own("render pass", func() { dev.DestroyRenderPass(renderPass) })

	if err := c.swapchain.Create(extent, renderPass); err != nil {
		return errors.Wrap(err, "create swapchain")
	}

	pipelineLayout, err := c.builder.NewPipelineLayout(
		[]*SetLayout{c.setLayout}, ModelPushSize, gpu.ShaderStageVertex,
	)
	if err != nil {
		return errors.Wrap(err, "create pipeline layout")
	}
	c.root.own("pipeline layout", func() { c.builder.DestroyPipelineLayout(pipelineLayout) })

	c.pipeline, err = c.builder.Build(PipelineDesc{
		VertexLayout: DefaultVertexLayout(),
		Stages: []ShaderStage{
			{Stage: gpu.ShaderStageVertex, Code: opts.VertexShader},
			{Stage: gpu.ShaderStageFragment, Code: opts.FragmentShader},
		},
		Layout:     pipelineLayout,
		RenderPass: renderPass,
		DepthTest:  opts.DepthTest,
	})
	if err != nil {
		return errors.Wrap(err, "create graphics pipeline")
	}
	pipeline := c.pipeline
	c.root.own("graphics pipeline", func() { c.builder.DestroyPipeline(pipeline) })

	c.recorder = NewCommandRecorder(dev, opts.ClearColor, opts.Validation)

	c.frames, err = NewFrameScheduler(
		dev, c.swapchain, c.recorder, c.factory,
		c.root.own("frames", nil),
		opts.FramesInFlight, frameUniformsSize, extent, opts.Validation,
	)
	if err != nil {
		return errors.Wrap(err, "create frame scheduler")
	}

	c.white, err = c.CreateTexture([]byte{255, 255, 255, 255}, 1, 1, gpu.FormatR8G8B8A8Unorm)
	if err != nil {
		return errors.Wrap(err, "create default texture")
	}
	return nil
}

// Device returns the device of the context.
func (c *Context) Device() gpu.Device {
	return c.dev
}

// Extent returns the current swapchain extent.
func (c *Context) Extent() gpu.Extent2D {
	return c.swapchain.Extent()
}

// Transfer returns the staged transfer used for uploads.
func (c *Context) Transfer() *StagedTransfer {
	return c.transfer
}

// Resources returns the resource factory of the context.
func (c *Context) Resources() *ResourceFactory {
	return c.factory
}

// Frames returns the frame scheduler of the context.
func (c *Context) Frames() *FrameScheduler {
	return c.frames
}

func (c *Context) usable() error {
	if c.closed {
		return configErrorf("context is shut down")
	}
	return nil
}

// CreateMesh uploads vertices and indices to device-local buffers. Indices
// are stored as 16 bit values when they all fit.
func (c *Context) CreateMesh(vertices []Vertex, indices []uint32) (*Mesh, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}
	if len(vertices) == 0 || len(indices) == 0 {
		return nil, configErrorf("mesh needs vertices and indices")
	}
	if len(indices)%3 != 0 {
		return nil, configErrorf("%d indices do not form a triangle list", len(indices))
	}

	fits16 := true
	for _, i := range indices {
		if int(i) >= len(vertices) {
			return nil, configErrorf("index %d out of range of %d vertices", i, len(vertices))
		}
		fits16 = fits16 && i <= 0xFFFF
	}

	vbuf, err := c.factory.CreateBufferWithData(gpu.BufferUsageVertex, unsafer.SliceToBytes(vertices))
	if err != nil {
		return nil, errors.Wrap(err, "create vertex buffer")
	}

	indexType := gpu.IndexUint32
	indexData := unsafer.SliceToBytes(indices)
	if fits16 {
		short := make([]uint16, len(indices))
		for n, i := range indices {
			short[n] = uint16(i)
		}
		indexType = gpu.IndexUint16
		indexData = unsafer.SliceToBytes(short)
	}

	ibuf, err := c.factory.CreateBufferWithData(gpu.BufferUsageIndex, indexData)
	if err != nil {
		_ = c.factory.DestroyBuffer(vbuf)
		return nil, errors.Wrap(err, "create index buffer")
	}

	mesh := &Mesh{
		Vertices:   vbuf,
		Indices:    ibuf,
		IndexCount: uint32(len(indices)),
		IndexType:  indexType,
	}
	mesh.node = c.root.own("mesh", func() {
		_ = c.factory.DestroyBuffer(ibuf)
		_ = c.factory.DestroyBuffer(vbuf)
	})
	return mesh, nil
}

// DestroyMesh destroys the mesh once no frame in flight draws it.
func (c *Context) DestroyMesh(mesh *Mesh) {
	if c.closed || mesh == nil || mesh.node == nil {
		return
	}
	node := mesh.node
	mesh.node = nil
	c.frames.Retire([]leasable{mesh.Vertices, mesh.Indices}, node.release)
}

// CreateTexture uploads tightly packed pixels into a sampled texture and
// prepares a descriptor set for it in every frame slot.
func (c *Context) CreateTexture(pixels []byte, width, height uint32, format gpu.Format) (*Texture, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}

	tex, err := c.factory.CreateTexture(pixels, width, height, format)
	if err != nil {
		return nil, err
	}

	sets, err := c.textureSets()
	if err != nil {
		_ = c.factory.DestroyTexture(tex)
		return nil, err
	}

	for i, slot := range c.frames.Slots() {
		err := c.descriptors.WriteSets(sets[i:i+1], []Resource{
			UniformResource{Buffer: slot.Uniform(), Range: frameUniformsSize},
			ImageSamplerResource{Texture: tex},
		})
		if err != nil {
			c.freeSets = append(c.freeSets, sets)
			_ = c.factory.DestroyTexture(tex)
			return nil, errors.Wrap(err, "write texture descriptor sets")
		}
	}
	tex.sets = sets
	tex.node = c.root.own("texture", func() { _ = c.factory.DestroyTexture(tex) })
	return tex, nil
}

// textureSets returns one descriptor set per frame slot, reusing the sets
// of a destroyed texture when there are any.
func (c *Context) textureSets() ([]*DescriptorSet, error) {
	if n := len(c.freeSets); n > 0 {
		sets := c.freeSets[n-1]
		c.freeSets = c.freeSets[:n-1]
		return sets, nil
	}
	return c.descriptors.AllocateSets(c.setLayout, len(c.frames.Slots()))
}

// DestroyTexture destroys the texture once no frame in flight samples it.
// The built in white texture is only destroyed by Shutdown.
func (c *Context) DestroyTexture(tex *Texture) {
	if c.closed || tex == nil || tex.node == nil || tex == c.white {
		return
	}
	node, sets := tex.node, tex.sets
	tex.node, tex.sets = nil, nil

	res := []leasable{tex.Image}
	for _, s := range sets {
		res = append(res, s)
	}
	c.frames.Retire(res, func() {
		node.release()
		c.freeSets = append(c.freeSets, sets)
	})
}

// Resize tells the context about a new window framebuffer size. Surfaces
// which dictate their own extent ignore it.
func (c *Context) Resize(extent gpu.Extent2D) {
	if c.closed || c.frames == nil {
		return
	}
	c.frames.Resize(extent)
}

// BeginFrame waits for the oldest frame slot to become free and acquires the
// next swapchain image. An out of date swapchain is rebuilt transparently;
// ErrSwapchainOutOfDate is only returned when that fails.
func (c *Context) BeginFrame() (*FrameToken, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}
	return c.frames.Begin()
}

// SubmitFrame writes the frame uniforms, records the draw list, submits it
// and presents. The next BeginFrame uses the next frame slot whatever the
// outcome.
func (c *Context) SubmitFrame(token *FrameToken, list DrawList) error {
	if err := c.usable(); err != nil {
		return err
	}
	if !c.frames.Recording(token) {
		return syncViolationf("frame token does not belong to the frame being recorded")
	}

	draws := make([]Draw, 0, len(list.Items))
	for i, item := range list.Items {
		if item.Mesh == nil || item.Mesh.node == nil {
			return c.frames.Cancel(token, configErrorf("draw item %d has no live mesh", i))
		}
		tex := item.Texture
		if tex == nil {
			tex = c.white
		}
		if tex.node == nil {
			return c.frames.Cancel(token, configErrorf("draw item %d uses a destroyed texture", i))
		}

		model := item.Model
		draws = append(draws, Draw{
			Mesh:          item.Mesh,
			Sets:          []*DescriptorSet{tex.sets[token.Slot]},
			PushConstants: append([]byte(nil), unsafer.StructToBytes(&model)...),
		})
	}

	uniforms := FrameUniforms{View: list.View, Proj: list.Projection}
	copy(token.slot.Uniform().Mapped(), unsafer.StructToBytes(&uniforms))

	return c.frames.Submit(token, c.pipeline, draws)
}

// Shutdown waits for the device to finish all work and destroys every object
// the context created, dependents first, and finally the device. Calling it
// again does nothing.
func (c *Context) Shutdown() {
	if c.closed {
		return
	}
	c.closed = true

	if err := c.dev.DeviceWaitIdle(); err != nil {
		Logger().Warn("waiting for device idle at shutdown", "err", err)
	}
	if c.frames != nil {
		if err := c.frames.Drain(); err != nil {
			Logger().Warn("draining frames at shutdown", "err", err)
		}
	}

	c.root.release()
	Logger().Info("context shut down")
}

// WriteStats writes memory, transfer and frame counters as JSON to w. When
// the device can report live objects they are included.
func (c *Context) WriteStats(w io.Writer) error {
	jw := jwriter.NewWriter()
	obj := jw.Object()

	c.memory.WriteStats(&obj)
	c.transfer.WriteStats(&obj)
	if c.frames != nil {
		c.frames.WriteStats(&obj)
	}

	if tracker, ok := c.dev.(gpu.Tracker); ok && !c.closed {
		live := tracker.LiveObjects()
		kinds := make([]int, 0, len(live))
		for k := range live {
			kinds = append(kinds, int(k))
		}
		sort.Ints(kinds)

		objects := obj.Name("objects").Object()
		for _, k := range kinds {
			kind := gpu.ObjectKind(k)
			objects.Name(kind.String()).Int(live[kind])
		}
		objects.End()
	}
	obj.End()

	if err := jw.Error(); err != nil {
		return errors.Wrap(err, "encode stats")
	}
	_, err := w.Write(jw.Bytes())
	return err
}
