package render

import (
	"cmp"
	"math"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/ironsmile/vulkan-render-go/gpu"
)

// chooseSurfaceFormat prefers 8 bit BGRA or RGBA sRGB in the sRGB
// non-linear colour space and falls back to the first format offered.
func chooseSurfaceFormat(formats []gpu.SurfaceFormat) (gpu.SurfaceFormat, error) {
	if len(formats) == 0 {
		return gpu.SurfaceFormat{}, configErrorf("surface offers no formats")
	}
	for _, f := range formats {
		if (f.Format == gpu.FormatB8G8R8A8Srgb || f.Format == gpu.FormatR8G8B8A8Srgb) &&
			f.ColorSpace == gpu.ColorSpaceSrgbNonlinear {
			return f, nil
		}
	}
	return formats[0], nil
}

// choosePresentMode returns preferred when available and FIFO, which every
// surface supports, otherwise.
func choosePresentMode(modes []gpu.PresentMode, preferred gpu.PresentMode) gpu.PresentMode {
	for _, m := range modes {
		if m == preferred {
			return m
		}
	}
	return gpu.PresentModeFifo
}

// chooseExtent returns the current extent of the surface or, when the
// surface lets the swapchain decide, desired clamped to the allowed range.
func chooseExtent(caps gpu.SurfaceCapabilities, desired gpu.Extent2D) gpu.Extent2D {
	if caps.CurrentExtent.Width != math.MaxUint32 {
		return caps.CurrentExtent
	}
	return gpu.Extent2D{
		Width:  clamp(desired.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width),
		Height: clamp(desired.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height),
	}
}

// chooseImageCount asks for one image more than the minimum. A maximum of
// zero means there is no upper bound.
func chooseImageCount(caps gpu.SurfaceCapabilities) uint32 {
	count := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && count > caps.MaxImageCount {
		count = caps.MaxImageCount
	}
	return count
}

func clamp[T cmp.Ordered](val, min, max T) T {
	if val < min {
		val = min
	}
	if val > max {
		val = max
	}
	return val
}

// SwapchainManager owns the swapchain together with everything sized after
// it: image views, the depth image and one framebuffer per image. All of
// them are destroyed and created again on rebuild.
type SwapchainManager struct {
	dev       gpu.Device
	surface   gpu.Surface
	queue     gpu.Queue
	factory   *ResourceFactory
	transfer  *StagedTransfer
	owner     *ownerNode
	preferred gpu.PresentMode
	depthTest bool

	format      gpu.SurfaceFormat
	depthFormat gpu.Format
	renderPass  gpu.RenderPass

	gen          *ownerNode
	handle       gpu.Swapchain
	extent       gpu.Extent2D
	presentMode  gpu.PresentMode
	images       []gpu.Image
	views        []gpu.ImageView
	depth        *Image
	framebuffers []gpu.Framebuffer
	rebuilds     int
}

// NewSwapchainManager returns a manager presenting to surface. Objects it
// creates are registered as children of owner.
func NewSwapchainManager(
	dev gpu.Device,
	surface gpu.Surface,
	factory *ResourceFactory,
	transfer *StagedTransfer,
	owner *ownerNode,
	opts Options,
) *SwapchainManager {
	return &SwapchainManager{
		dev:       dev,
		surface:   surface,
		queue:     dev.Queue(gpu.QueuePresent),
		factory:   factory,
		transfer:  transfer,
		owner:     owner,
		preferred: opts.PreferredPresentMode,
		depthTest: opts.DepthTest,
	}
}

// Configure selects the surface and depth formats. It runs once, before the
// render pass which depends on them is created.
func (m *SwapchainManager) Configure() error {
	support, err := m.dev.SurfaceSupport(m.surface)
	if err != nil {
		return classify(err, "query surface support")
	}
	if len(support.PresentModes) == 0 {
		return configErrorf("surface offers no present modes")
	}

	m.format, err = chooseSurfaceFormat(support.Formats)
	if err != nil {
		return err
	}

	m.depthFormat = gpu.FormatUndefined
	if m.depthTest {
		m.depthFormat, err = m.factory.DepthFormat()
		if err != nil {
			return err
		}
	}
	return nil
}

// Format returns the surface format chosen by Configure.
func (m *SwapchainManager) Format() gpu.SurfaceFormat {
	return m.format
}

// DepthFormat returns the depth format chosen by Configure, or
// FormatUndefined when depth testing is off.
func (m *SwapchainManager) DepthFormat() gpu.Format {
	return m.depthFormat
}

// Extent returns the extent of the current swapchain.
func (m *SwapchainManager) Extent() gpu.Extent2D {
	return m.extent
}

// ImageCount returns the number of swapchain images.
func (m *SwapchainManager) ImageCount() int {
	return len(m.images)
}

// PresentMode returns the present mode of the current swapchain.
func (m *SwapchainManager) PresentMode() gpu.PresentMode {
	return m.presentMode
}

// Ready reports whether a swapchain exists. It does not after a rebuild
// failed, for example while the surface has a zero extent.
func (m *SwapchainManager) Ready() bool {
	return m.gen != nil
}

// Framebuffer returns the framebuffer rendering into image index.
func (m *SwapchainManager) Framebuffer(index uint32) gpu.Framebuffer {
	return m.framebuffers[index]
}

// Rebuilds returns how many times the swapchain was rebuilt.
func (m *SwapchainManager) Rebuilds() int {
	return m.rebuilds
}

// Create creates the swapchain and its dependents for renderPass. desired
// is only used when the surface does not dictate the extent.
func (m *SwapchainManager) Create(desired gpu.Extent2D, renderPass gpu.RenderPass) error {
	support, err := m.dev.SurfaceSupport(m.surface)
	if err != nil {
		return classify(err, "query surface support")
	}

	supported := false
	for _, f := range support.Formats {
		supported = supported || f == m.format
	}
	if !supported {
		return configErrorf("surface no longer supports format %d", m.format.Format)
	}

	caps := support.Capabilities
	extent := chooseExtent(caps, desired)
	if extent.Width == 0 || extent.Height == 0 {
		return errors.Mark(errors.New("surface has a zero extent"), ErrSwapchainOutOfDate)
	}

	m.renderPass = renderPass
	m.presentMode = choosePresentMode(support.PresentModes, m.preferred)

	handle, err := m.dev.CreateSwapchain(gpu.SwapchainInfo{
		Surface:     m.surface,
		MinImages:   chooseImageCount(caps),
		Format:      m.format,
		Extent:      extent,
		PresentMode: m.presentMode,
	})
	if err != nil {
		return classify(err, "create swapchain")
	}

	m.gen = m.owner.own("swapchain", func() { m.dev.DestroySwapchain(handle) })
	m.handle = handle
	m.extent = extent

	if err := m.createDependents(); err != nil {
		m.gen.release()
		m.gen = nil
		return err
	}

	Logger().Info("swapchain created",
		"width", extent.Width,
		"height", extent.Height,
		"images", len(m.images),
		"presentMode", m.presentMode,
	)
	return nil
}

func (m *SwapchainManager) createDependents() error {
	images, err := m.dev.SwapchainImages(m.handle)
	if err != nil {
		return classify(err, "get swapchain images")
	}
	m.images = images

	m.views = make([]gpu.ImageView, 0, len(images))
	for _, img := range images {
		view, err := m.dev.CreateImageView(img, m.format.Format, gpu.AspectColor)
		if err != nil {
			return classify(err, "create swapchain image view")
		}
		m.views = append(m.views, view)
		m.gen.own("swapchain image view", func() { m.dev.DestroyImageView(view) })
	}

	m.depth = nil
	if m.depthFormat != gpu.FormatUndefined {
		depth, err := m.factory.CreateImage(
			m.extent.Width, m.extent.Height, m.depthFormat,
			gpu.ImageUsageDepthStencilAttachment, gpu.TilingOptimal,
		)
		if err != nil {
			return errors.Wrap(err, "create depth image")
		}
		m.gen.own("depth image", func() { _ = m.factory.DestroyImage(depth) })
		m.depth = depth

		if err := m.transfer.Prepare(depth, gpu.LayoutDepthStencilAttachmentOptimal); err != nil {
			return errors.Wrap(err, "transition depth image")
		}
	}

	m.framebuffers = make([]gpu.Framebuffer, 0, len(m.views))
	for _, view := range m.views {
		attachments := []gpu.ImageView{view}
		if m.depth != nil {
			attachments = append(attachments, m.depth.View)
		}
		fb, err := m.dev.CreateFramebuffer(m.renderPass, attachments, m.extent)
		if err != nil {
			return classify(err, "create framebuffer")
		}
		m.framebuffers = append(m.framebuffers, fb)
		m.gen.own("framebuffer", func() { m.dev.DestroyFramebuffer(fb) })
	}
	return nil
}

// Destroy destroys the swapchain and its dependents.
func (m *SwapchainManager) Destroy() {
	m.gen.release()
	m.gen = nil
	m.handle = 0
	m.images, m.views, m.framebuffers, m.depth = nil, nil, nil, nil
}

// Rebuild waits for the device to go idle, destroys the swapchain with its
// dependents and creates them again.
func (m *SwapchainManager) Rebuild(desired gpu.Extent2D) error {
	if err := m.dev.DeviceWaitIdle(); err != nil {
		return classify(err, "wait for device idle")
	}
	m.Destroy()

	if err := m.Create(desired, m.renderPass); err != nil {
		return errors.Wrap(err, "rebuild swapchain")
	}
	m.rebuilds++
	Logger().Info("swapchain rebuilt", "rebuilds", m.rebuilds)
	return nil
}

// AcquireNext acquires the next image, arranging for signal to be signaled
// once it can be rendered to. On ErrSwapchainSuboptimal the index is valid.
func (m *SwapchainManager) AcquireNext(timeout time.Duration, signal gpu.Semaphore) (uint32, error) {
	index, err := m.dev.AcquireNextImage(m.handle, timeout, signal)
	if err != nil {
		return index, classify(err, "acquire swapchain image")
	}
	return index, nil
}

// Present queues image index for presentation once wait is signaled.
func (m *SwapchainManager) Present(index uint32, wait []gpu.Semaphore) error {
	return classify(m.dev.QueuePresent(m.queue, m.handle, index, wait), "present")
}
