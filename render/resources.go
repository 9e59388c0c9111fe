package render

import (
	"github.com/cockroachdb/errors"

	"github.com/ironsmile/vulkan-render-go/gpu"
)

// Buffer is a GPU buffer together with the memory bound to it. The two are
// created and destroyed together.
type Buffer struct {
	Handle gpu.Buffer
	Size   uint64
	Usage  gpu.BufferUsage

	alloc  *Allocation
	mapped []byte
	lease  lease
}

// Mapped returns the persistent host mapping of a uniform buffer, or nil.
func (b *Buffer) Mapped() []byte {
	return b.mapped
}

// Memory returns the allocation backing the buffer.
func (b *Buffer) Memory() *Allocation {
	return b.alloc
}

func (b *Buffer) leaseState() *lease { return &b.lease }

// Image is a 2D GPU image with its memory and a view over all of it. The
// layout is the one the image will have once the work recorded so far has
// executed; it only changes through LayoutTracker.
type Image struct {
	Handle gpu.Image
	View   gpu.ImageView
	Format gpu.Format
	Width  uint32
	Height uint32
	Usage  gpu.ImageUsage

	alloc  *Allocation
	layout gpu.ImageLayout
	lease  lease
}

// Layout returns the tracked layout of the image.
func (img *Image) Layout() gpu.ImageLayout {
	return img.layout
}

// Memory returns the allocation backing the image.
func (img *Image) Memory() *Allocation {
	return img.alloc
}

func (img *Image) leaseState() *lease { return &img.lease }

func (img *Image) aspect() gpu.ImageAspect {
	if !img.Format.IsDepth() {
		return gpu.AspectColor
	}
	if img.Format.HasStencil() {
		return gpu.AspectDepth | gpu.AspectStencil
	}
	return gpu.AspectDepth
}

func (img *Image) byteSize() uint64 {
	return uint64(img.Width) * uint64(img.Height) * uint64(img.Format.Size())
}

// Texture is a sampled image with its sampler.
type Texture struct {
	Image   *Image
	Sampler gpu.Sampler

	// sets holds one descriptor set per frame slot, written by the context.
	sets []*DescriptorSet
	node *ownerNode
}

// depthFormats are tried in order by CreateDepthImage.
var depthFormats = []gpu.Format{
	gpu.FormatD32SfloatS8Uint,
	gpu.FormatD32Sfloat,
	gpu.FormatD24UnormS8Uint,
}

// ResourceFactory creates buffers, images and textures. Resources that
// start with caller data are filled through StagedTransfer so callers never
// handle staging buffers.
type ResourceFactory struct {
	dev        gpu.Device
	memory     *MemoryAllocator
	transfer   *StagedTransfer
	validation bool

	maxAnisotropy float32
}

// NewResourceFactory returns a factory allocating from memory and uploading
// through transfer. With validation on, destroying a resource still used by
// a frame in flight fails with ErrSyncViolation.
func NewResourceFactory(dev gpu.Device, memory *MemoryAllocator, transfer *StagedTransfer, validation bool) *ResourceFactory {
	return &ResourceFactory{
		dev:           dev,
		memory:        memory,
		transfer:      transfer,
		validation:    validation,
		maxAnisotropy: dev.Capabilities().Limits.MaxSamplerAnisotropy,
	}
}

func (f *ResourceFactory) checkUnleased(r leasable, what string) error {
	if f.validation && r.leaseState().leased() {
		return syncViolationf("%s destroyed while in use by a frame in flight", what)
	}
	return nil
}

// createBuffer creates a buffer in memory with the given property flags.
func (f *ResourceFactory) createBuffer(size uint64, usage gpu.BufferUsage, props gpu.MemoryPropertyFlags) (*Buffer, error) {
	handle, err := f.dev.CreateBuffer(size, usage)
	if err != nil {
		return nil, classify(err, "create buffer")
	}

	alloc, err := f.memory.Allocate(f.dev.BufferRequirements(handle), props)
	if err != nil {
		f.dev.DestroyBuffer(handle)
		return nil, errors.Wrapf(err, "allocate %d byte buffer", size)
	}

	if err := f.memory.BindBuffer(handle, alloc); err != nil {
		f.dev.DestroyBuffer(handle)
		f.memory.Free(alloc)
		return nil, err
	}

	return &Buffer{Handle: handle, Size: size, Usage: usage, alloc: alloc}, nil
}

// CreateBuffer creates a device-local buffer without contents.
func (f *ResourceFactory) CreateBuffer(usage gpu.BufferUsage, size uint64) (*Buffer, error) {
	return f.createBuffer(size, usage, gpu.MemoryDeviceLocal)
}

// CreateHostBuffer creates a host-visible and coherent buffer.
func (f *ResourceFactory) CreateHostBuffer(usage gpu.BufferUsage, size uint64) (*Buffer, error) {
	return f.createBuffer(size, usage, gpu.MemoryHostVisible|gpu.MemoryHostCoherent)
}

// CreateBufferWithData creates a device-local buffer holding data.
func (f *ResourceFactory) CreateBufferWithData(usage gpu.BufferUsage, data []byte) (*Buffer, error) {
	if len(data) == 0 {
		return nil, errors.New("buffer data is empty")
	}

	buf, err := f.CreateBuffer(usage|gpu.BufferUsageTransferDst, uint64(len(data)))
	if err != nil {
		return nil, err
	}

	if err := f.transfer.UploadBuffer(buf, data); err != nil {
		_ = f.DestroyBuffer(buf)
		return nil, err
	}

	return buf, nil
}

// CreateUniformBuffer creates a host-visible uniform buffer which stays
// mapped until it is destroyed.
func (f *ResourceFactory) CreateUniformBuffer(size uint64) (*Buffer, error) {
	buf, err := f.CreateHostBuffer(gpu.BufferUsageUniform, size)
	if err != nil {
		return nil, err
	}

	mapped, err := f.memory.Map(buf.alloc, size)
	if err != nil {
		_ = f.DestroyBuffer(buf)
		return nil, err
	}
	buf.mapped = mapped

	return buf, nil
}

// DestroyBuffer destroys the buffer and frees its memory.
func (f *ResourceFactory) DestroyBuffer(buf *Buffer) error {
	if buf == nil || buf.Handle == 0 {
		return nil
	}
	if err := f.checkUnleased(buf, "buffer"); err != nil {
		return err
	}
	if buf.mapped != nil {
		f.memory.Unmap(buf.alloc)
		buf.mapped = nil
	}
	f.dev.DestroyBuffer(buf.Handle)
	f.memory.Free(buf.alloc)
	buf.Handle = 0
	return nil
}

// CreateImage creates a device-local 2D image and a view covering it. The
// image starts in the undefined layout.
func (f *ResourceFactory) CreateImage(
	width, height uint32,
	format gpu.Format,
	usage gpu.ImageUsage,
	tiling gpu.ImageTiling,
) (*Image, error) {
	if width == 0 || height == 0 {
		return nil, configErrorf("image extent %dx%d is empty", width, height)
	}

	handle, err := f.dev.CreateImage(gpu.ImageInfo{
		Width:  width,
		Height: height,
		Format: format,
		Tiling: tiling,
		Usage:  usage,
	})
	if err != nil {
		return nil, classify(err, "create image")
	}

	img := &Image{
		Handle: handle,
		Format: format,
		Width:  width,
		Height: height,
		Usage:  usage,
		layout: gpu.LayoutUndefined,
	}

	img.alloc, err = f.memory.Allocate(f.dev.ImageRequirements(handle), gpu.MemoryDeviceLocal)
	if err != nil {
		f.dev.DestroyImage(handle)
		return nil, errors.Wrapf(err, "allocate %dx%d image", width, height)
	}

	if err := f.memory.BindImage(handle, img.alloc); err != nil {
		f.dev.DestroyImage(handle)
		f.memory.Free(img.alloc)
		return nil, err
	}

	img.View, err = f.dev.CreateImageView(handle, format, img.aspect())
	if err != nil {
		f.dev.DestroyImage(handle)
		f.memory.Free(img.alloc)
		return nil, classify(err, "create image view")
	}

	return img, nil
}

// DestroyImage destroys the view, the image and its memory in that order.
func (f *ResourceFactory) DestroyImage(img *Image) error {
	if img == nil || img.Handle == 0 {
		return nil
	}
	if err := f.checkUnleased(img, "image"); err != nil {
		return err
	}
	f.dev.DestroyImageView(img.View)
	f.dev.DestroyImage(img.Handle)
	f.memory.Free(img.alloc)
	img.Handle, img.View = 0, 0
	return nil
}

// DepthFormat returns the first depth format of the priority list the
// device can use as a depth attachment.
func (f *ResourceFactory) DepthFormat() (gpu.Format, error) {
	for _, format := range depthFormats {
		features := f.dev.FormatFeatures(format, gpu.TilingOptimal)
		if features&gpu.FormatFeatureDepthStencilAttachment != 0 {
			return format, nil
		}
	}
	return gpu.FormatUndefined, configErrorf("no supported depth attachment format")
}

// CreateDepthImage creates a depth attachment of the best supported depth
// format.
func (f *ResourceFactory) CreateDepthImage(width, height uint32) (*Image, error) {
	format, err := f.DepthFormat()
	if err != nil {
		return nil, err
	}
	return f.CreateImage(width, height, format, gpu.ImageUsageDepthStencilAttachment, gpu.TilingOptimal)
}

// CreateTexture uploads tightly packed pixels of the given format into a new
// sampled image and creates a linear, repeating sampler for it.
func (f *ResourceFactory) CreateTexture(pixels []byte, width, height uint32, format gpu.Format) (*Texture, error) {
	if format.IsDepth() || format.Size() == 0 {
		return nil, errors.Newf("format %d cannot be used for textures", format)
	}
	if f.dev.FormatFeatures(format, gpu.TilingOptimal)&gpu.FormatFeatureSampledImage == 0 {
		return nil, configErrorf("format %d cannot be sampled", format)
	}
	want := uint64(width) * uint64(height) * uint64(format.Size())
	if uint64(len(pixels)) != want {
		return nil, errors.Newf("texture of %dx%d needs %d bytes, got %d", width, height, want, len(pixels))
	}

	img, err := f.CreateImage(
		width, height, format,
		gpu.ImageUsageTransferDst|gpu.ImageUsageTransferSrc|gpu.ImageUsageSampled,
		gpu.TilingOptimal,
	)
	if err != nil {
		return nil, err
	}

	if err := f.transfer.UploadImage(img, pixels); err != nil {
		_ = f.DestroyImage(img)
		return nil, err
	}

	sampler, err := f.dev.CreateSampler(gpu.SamplerInfo{
		Linear:        true,
		Repeat:        true,
		MaxAnisotropy: f.maxAnisotropy,
	})
	if err != nil {
		_ = f.DestroyImage(img)
		return nil, classify(err, "create sampler")
	}

	return &Texture{Image: img, Sampler: sampler}, nil
}

// DestroyTexture destroys the sampler and the image of t.
func (f *ResourceFactory) DestroyTexture(t *Texture) error {
	if t == nil {
		return nil
	}
	if t.Image != nil {
		if err := f.checkUnleased(t.Image, "texture"); err != nil {
			return err
		}
	}
	if t.Sampler != 0 {
		f.dev.DestroySampler(t.Sampler)
		t.Sampler = 0
	}
	return f.DestroyImage(t.Image)
}
