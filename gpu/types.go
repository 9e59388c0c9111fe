package gpu

import "time"

// NoTimeout makes a wait block until the awaited object is signaled.
const NoTimeout = time.Duration(1<<63 - 1)

// MemoryPropertyFlags describe the visibility of a memory type.
type MemoryPropertyFlags uint32

const (
	MemoryDeviceLocal  MemoryPropertyFlags = 0x1
	MemoryHostVisible  MemoryPropertyFlags = 0x2
	MemoryHostCoherent MemoryPropertyFlags = 0x4
	MemoryHostCached   MemoryPropertyFlags = 0x8
)

// Has reports whether all bits of want are set in f.
func (f MemoryPropertyFlags) Has(want MemoryPropertyFlags) bool {
	return f&want == want
}

// BufferUsage is the usage mask a buffer is created with.
type BufferUsage uint32

const (
	BufferUsageTransferSrc BufferUsage = 0x1
	BufferUsageTransferDst BufferUsage = 0x2
	BufferUsageUniform     BufferUsage = 0x10
	BufferUsageIndex       BufferUsage = 0x40
	BufferUsageVertex      BufferUsage = 0x80
)

// Has reports whether all bits of want are set in u.
func (u BufferUsage) Has(want BufferUsage) bool {
	return u&want == want
}

// ImageUsage is the usage mask an image is created with.
type ImageUsage uint32

const (
	ImageUsageTransferSrc            ImageUsage = 0x1
	ImageUsageTransferDst            ImageUsage = 0x2
	ImageUsageSampled                ImageUsage = 0x4
	ImageUsageColorAttachment        ImageUsage = 0x10
	ImageUsageDepthStencilAttachment ImageUsage = 0x20
)

// Has reports whether all bits of want are set in u.
func (u ImageUsage) Has(want ImageUsage) bool {
	return u&want == want
}

// Format is a pixel or vertex attribute format.
type Format int32

const (
	FormatUndefined          Format = 0
	FormatR8G8B8A8Unorm      Format = 37
	FormatR8G8B8A8Srgb       Format = 43
	FormatB8G8R8A8Unorm      Format = 44
	FormatB8G8R8A8Srgb       Format = 50
	FormatR32G32Sfloat       Format = 103
	FormatR32G32B32Sfloat    Format = 106
	FormatR32G32B32A32Sfloat Format = 109
	FormatD32Sfloat          Format = 126
	FormatD24UnormS8Uint     Format = 129
	FormatD32SfloatS8Uint    Format = 130
)

// Size returns the size in bytes of one texel or attribute of format f, or
// zero for formats without a fixed size.
func (f Format) Size() uint32 {
	switch f {
	case FormatR8G8B8A8Unorm, FormatR8G8B8A8Srgb,
		FormatB8G8R8A8Unorm, FormatB8G8R8A8Srgb,
		FormatD32Sfloat, FormatD24UnormS8Uint:
		return 4
	case FormatD32SfloatS8Uint, FormatR32G32Sfloat:
		return 8
	case FormatR32G32B32Sfloat:
		return 12
	case FormatR32G32B32A32Sfloat:
		return 16
	}
	return 0
}

// IsDepth reports whether f is a depth (or depth/stencil) format.
func (f Format) IsDepth() bool {
	return f == FormatD32Sfloat || f == FormatD24UnormS8Uint || f == FormatD32SfloatS8Uint
}

// HasStencil reports whether f carries a stencil component.
func (f Format) HasStencil() bool {
	return f == FormatD32SfloatS8Uint || f == FormatD24UnormS8Uint
}

// ColorSpace is the colour space of a surface format.
type ColorSpace int32

const ColorSpaceSrgbNonlinear ColorSpace = 0

// SurfaceFormat pairs a format with its colour space.
type SurfaceFormat struct {
	Format     Format
	ColorSpace ColorSpace
}

// PresentMode is the presentation engine queueing mode.
type PresentMode int32

const (
	PresentModeImmediate   PresentMode = 0
	PresentModeMailbox     PresentMode = 1
	PresentModeFifo        PresentMode = 2
	PresentModeFifoRelaxed PresentMode = 3
)

func (m PresentMode) String() string {
	switch m {
	case PresentModeImmediate:
		return "immediate"
	case PresentModeMailbox:
		return "mailbox"
	case PresentModeFifo:
		return "fifo"
	case PresentModeFifoRelaxed:
		return "fifo relaxed"
	}
	return "unknown"
}

// ImageLayout is the memory layout of an image.
type ImageLayout int32

const (
	LayoutUndefined                     ImageLayout = 0
	LayoutGeneral                       ImageLayout = 1
	LayoutColorAttachmentOptimal        ImageLayout = 2
	LayoutDepthStencilAttachmentOptimal ImageLayout = 3
	LayoutShaderReadOnlyOptimal         ImageLayout = 5
	LayoutTransferSrcOptimal            ImageLayout = 6
	LayoutTransferDstOptimal            ImageLayout = 7
	LayoutPresentSrc                    ImageLayout = 1000001002
)

func (l ImageLayout) String() string {
	switch l {
	case LayoutUndefined:
		return "undefined"
	case LayoutGeneral:
		return "general"
	case LayoutColorAttachmentOptimal:
		return "color attachment optimal"
	case LayoutDepthStencilAttachmentOptimal:
		return "depth stencil attachment optimal"
	case LayoutShaderReadOnlyOptimal:
		return "shader read only optimal"
	case LayoutTransferSrcOptimal:
		return "transfer src optimal"
	case LayoutTransferDstOptimal:
		return "transfer dst optimal"
	case LayoutPresentSrc:
		return "present src"
	}
	return "unknown layout"
}

// ImageTiling is the texel arrangement of an image.
type ImageTiling int32

const (
	TilingOptimal ImageTiling = 0
	TilingLinear  ImageTiling = 1
)

// ImageAspect selects the aspects of an image a view or barrier covers.
type ImageAspect uint32

const (
	AspectColor   ImageAspect = 0x1
	AspectDepth   ImageAspect = 0x2
	AspectStencil ImageAspect = 0x4
)

// FormatFeatures are the capabilities of a format for a given tiling.
type FormatFeatures uint32

const (
	FormatFeatureSampledImage           FormatFeatures = 0x1
	FormatFeatureColorAttachment        FormatFeatures = 0x80
	FormatFeatureDepthStencilAttachment FormatFeatures = 0x200
)

// PipelineStage is a mask of pipeline stages used by barriers and waits.
type PipelineStage uint32

const (
	StageTopOfPipe             PipelineStage = 0x1
	StageVertexShader          PipelineStage = 0x8
	StageFragmentShader        PipelineStage = 0x80
	StageEarlyFragmentTests    PipelineStage = 0x100
	StageLateFragmentTests     PipelineStage = 0x200
	StageColorAttachmentOutput PipelineStage = 0x400
	StageTransfer              PipelineStage = 0x1000
	StageBottomOfPipe          PipelineStage = 0x2000
)

// Access is a mask of memory access types used by barriers.
type Access uint32

const (
	AccessShaderRead                  Access = 0x20
	AccessColorAttachmentWrite        Access = 0x100
	AccessDepthStencilAttachmentRead  Access = 0x200
	AccessDepthStencilAttachmentWrite Access = 0x400
	AccessTransferRead                Access = 0x800
	AccessTransferWrite               Access = 0x1000
)

// ShaderStage is a mask of shader stages.
type ShaderStage uint32

const (
	ShaderStageVertex   ShaderStage = 0x1
	ShaderStageFragment ShaderStage = 0x10
	ShaderStageAll      ShaderStage = ShaderStageVertex | ShaderStageFragment
)

// DescriptorType is the kind of resource a descriptor binding refers to.
type DescriptorType int32

const (
	DescriptorCombinedImageSampler DescriptorType = 1
	DescriptorUniformBuffer        DescriptorType = 6
	DescriptorUniformBufferDynamic DescriptorType = 8
)

func (t DescriptorType) String() string {
	switch t {
	case DescriptorCombinedImageSampler:
		return "combined image sampler"
	case DescriptorUniformBuffer:
		return "uniform buffer"
	case DescriptorUniformBufferDynamic:
		return "dynamic uniform buffer"
	}
	return "unknown descriptor"
}

// IndexType is the element type of an index buffer.
type IndexType int32

const (
	IndexUint16 IndexType = 0
	IndexUint32 IndexType = 1
)

// Size returns the size in bytes of one index.
func (t IndexType) Size() uint64 {
	if t == IndexUint16 {
		return 2
	}
	return 4
}

// QueueRole names the job a queue is used for.
type QueueRole int

const (
	QueueGraphics QueueRole = iota
	QueuePresent
	QueueTransfer
)

// Extent2D is a width and height in pixels.
type Extent2D struct {
	Width  uint32
	Height uint32
}

// MemoryType is one entry of the device memory type table.
type MemoryType struct {
	Flags     MemoryPropertyFlags
	HeapIndex uint32
}

// MemoryRequirements are reported by the device for a buffer or image.
type MemoryRequirements struct {
	Size           uint64
	Alignment      uint64
	MemoryTypeBits uint32
}

// Limits are the implementation limits the renderer depends on.
type Limits struct {
	MaxPushConstantsSize            uint32
	MinUniformBufferOffsetAlignment uint64
	MaxSamplerAnisotropy            float32
	MaxMemoryAllocationCount        uint32
}

// PhysicalCapabilities is queried once when the device is opened and never
// changes afterwards.
type PhysicalCapabilities struct {
	DeviceName  string
	MemoryTypes []MemoryType
	Limits      Limits

	// GraphicsFamily, PresentFamily and TransferFamily are the queue family
	// indices backing Device.Queue for each role.
	GraphicsFamily uint32
	PresentFamily  uint32
	TransferFamily uint32
}

// SurfaceCapabilities are the swapchain limits of a surface.
type SurfaceCapabilities struct {
	MinImageCount uint32

	// MaxImageCount of zero means there is no upper bound.
	MaxImageCount uint32

	// CurrentExtent.Width is math.MaxUint32 when the surface size is
	// determined by the swapchain extent.
	CurrentExtent  Extent2D
	MinImageExtent Extent2D
	MaxImageExtent Extent2D
}

// SurfaceSupport is everything needed to configure a swapchain.
type SurfaceSupport struct {
	Capabilities SurfaceCapabilities
	Formats      []SurfaceFormat
	PresentModes []PresentMode
}

// ImageInfo describes a 2D image.
type ImageInfo struct {
	Width  uint32
	Height uint32
	Format Format
	Tiling ImageTiling
	Usage  ImageUsage
}

// SamplerInfo describes a texture sampler.
type SamplerInfo struct {
	Linear        bool
	Repeat        bool
	MaxAnisotropy float32
}

// DescriptorSetLayoutBinding declares one binding slot.
type DescriptorSetLayoutBinding struct {
	Binding uint32
	Type    DescriptorType
	Count   uint32
	Stages  ShaderStage
}

// DescriptorPoolSize is the capacity of a pool for one descriptor type.
type DescriptorPoolSize struct {
	Type  DescriptorType
	Count uint32
}

// DescriptorBufferInfo is a buffer range written into a descriptor.
type DescriptorBufferInfo struct {
	Buffer Buffer
	Offset uint64
	Range  uint64
}

// DescriptorImageInfo is an image view + sampler written into a descriptor.
type DescriptorImageInfo struct {
	View    ImageView
	Sampler Sampler
	Layout  ImageLayout
}

// DescriptorWrite updates one binding of one set. Exactly one of Buffer and
// Image is used depending on Type.
type DescriptorWrite struct {
	Set     DescriptorSet
	Binding uint32
	Type    DescriptorType
	Buffer  *DescriptorBufferInfo
	Image   *DescriptorImageInfo
}

// AttachmentInfo describes one render pass attachment.
type AttachmentInfo struct {
	Format        Format
	Clear         bool
	Store         bool
	InitialLayout ImageLayout
	FinalLayout   ImageLayout
}

// RenderPassInfo describes a single-subpass render pass. Depth is optional.
type RenderPassInfo struct {
	Color AttachmentInfo
	Depth *AttachmentInfo
}

// PushConstantRange is the single push constant block of a pipeline layout.
type PushConstantRange struct {
	Stages ShaderStage
	Offset uint32
	Size   uint32
}

// VertexAttribute is one attribute of the vertex record.
type VertexAttribute struct {
	Location uint32
	Format   Format
	Offset   uint32
}

// ShaderStageInfo is one programmable stage of a pipeline.
type ShaderStageInfo struct {
	Stage  ShaderStage
	Module ShaderModule
	Entry  string
}

// CompareOp is a depth comparison function.
type CompareOp int32

const (
	CompareLess        CompareOp = 1
	CompareLessOrEqual CompareOp = 3
	CompareAlways      CompareOp = 7
)

// CullMode selects faces to discard.
type CullMode uint32

const (
	CullNone CullMode = 0
	CullBack CullMode = 0x2
)

// FrontFace is the winding order of front-facing triangles.
type FrontFace int32

const (
	FrontFaceCounterClockwise FrontFace = 0
	FrontFaceClockwise        FrontFace = 1
)

// BlendState is the colour blend configuration of the single colour
// attachment.
type BlendState struct {
	Enable bool

	// AlphaOver selects srcColor*srcAlpha + dstColor*(1-srcAlpha). It is
	// the only blend equation the renderer configures.
	AlphaOver bool
}

// DepthState is the depth test configuration.
type DepthState struct {
	TestEnable  bool
	WriteEnable bool
	Compare     CompareOp
}

// GraphicsPipelineInfo describes a graphics pipeline with a single vertex
// binding, triangle list topology and dynamic viewport and scissor.
type GraphicsPipelineInfo struct {
	Stages       []ShaderStageInfo
	VertexStride uint32
	Attributes   []VertexAttribute
	CullMode     CullMode
	FrontFace    FrontFace
	Samples      uint32
	Blend        BlendState
	Depth        DepthState
	Layout       PipelineLayout
	RenderPass   RenderPass
}

// SwapchainInfo describes a swapchain to create.
type SwapchainInfo struct {
	Surface     Surface
	MinImages   uint32
	Format      SurfaceFormat
	Extent      Extent2D
	PresentMode PresentMode
	Old         Swapchain
}

// BufferCopy is one region of a buffer to buffer copy.
type BufferCopy struct {
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
}

// BufferImageCopy copies a tightly packed buffer region to or from the whole
// colour aspect of an image.
type BufferImageCopy struct {
	BufferOffset uint64
	Width        uint32
	Height       uint32
}

// ImageBarrier is a layout transition with its execution and memory
// dependencies.
type ImageBarrier struct {
	Image     Image
	Aspect    ImageAspect
	OldLayout ImageLayout
	NewLayout ImageLayout
	SrcStage  PipelineStage
	DstStage  PipelineStage
	SrcAccess Access
	DstAccess Access
}

// ClearValues are the render pass clear values of the colour and depth
// attachments.
type ClearValues struct {
	Color   [4]float32
	Depth   float32
	Stencil uint32
}

// Viewport is the dynamic viewport state.
type Viewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

// Rect2D is the dynamic scissor state.
type Rect2D struct {
	X, Y   int32
	Extent Extent2D
}

// SubmitInfo is a single batch of command buffers for a queue.
type SubmitInfo struct {
	WaitSemaphores   []Semaphore
	WaitStages       []PipelineStage
	CommandBuffers   []CommandBuffer
	SignalSemaphores []Semaphore
}
