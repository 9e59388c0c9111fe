package softgpu

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	. "github.com/onsi/gomega"

	"github.com/ironsmile/vulkan-render-go/gpu"
)

func newTestDevice(t *testing.T, cfg Config) *Device {
	t.Helper()
	d := New(cfg)
	t.Cleanup(func() {
		if !d.destroyed {
			d.Destroy()
		}
	})
	return d
}

func boundBuffer(t *testing.T, d *Device, size uint64, usage gpu.BufferUsage, typeIndex uint32) (gpu.Buffer, gpu.Memory) {
	t.Helper()
	g := NewWithT(t)

	buf, err := d.CreateBuffer(size, usage)
	g.Expect(err).NotTo(HaveOccurred())
	req := d.BufferRequirements(buf)
	mem, err := d.AllocateMemory(req.Size, typeIndex)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(d.BindBufferMemory(buf, mem, 0)).To(Succeed())
	return buf, mem
}

func TestBufferRequirementsAreAligned(t *testing.T) {
	g := NewWithT(t)
	d := newTestDevice(t, DefaultConfig())

	buf, err := d.CreateBuffer(1000, gpu.BufferUsageVertex)
	g.Expect(err).NotTo(HaveOccurred())

	req := d.BufferRequirements(buf)
	g.Expect(req.Size).To(Equal(uint64(1024)))
	g.Expect(req.Alignment).To(Equal(uint64(256)))
	g.Expect(req.MemoryTypeBits).To(Equal(uint32(0b1111)))

	d.DestroyBuffer(buf)
	g.Expect(d.LiveCount()).To(BeZero())
}

func TestMapRequiresHostVisibleMemory(t *testing.T) {
	g := NewWithT(t)
	d := newTestDevice(t, DefaultConfig())

	local, err := d.AllocateMemory(256, 0)
	g.Expect(err).NotTo(HaveOccurred())
	_, err = d.MapMemory(local, 0, 256)
	g.Expect(errors.Is(err, ErrValidation)).To(BeTrue())

	host, err := d.AllocateMemory(256, 1)
	g.Expect(err).NotTo(HaveOccurred())
	data, err := d.MapMemory(host, 0, 256)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(data).To(HaveLen(256))
	d.UnmapMemory(host)

	d.FreeMemory(local)
	d.FreeMemory(host)
}

func TestDeviceLocalBudget(t *testing.T) {
	g := NewWithT(t)
	cfg := DefaultConfig()
	cfg.DeviceLocalBudget = 4096
	d := newTestDevice(t, cfg)

	mem, err := d.AllocateMemory(4096, 0)
	g.Expect(err).NotTo(HaveOccurred())

	_, err = d.AllocateMemory(1, 0)
	g.Expect(errors.Is(err, gpu.ErrOutOfDeviceMemory)).To(BeTrue())

	d.FreeMemory(mem)
	mem, err = d.AllocateMemory(4096, 0)
	g.Expect(err).NotTo(HaveOccurred())
	d.FreeMemory(mem)
}

func TestCopyBufferExecutesAsynchronously(t *testing.T) {
	g := NewWithT(t)
	cfg := DefaultConfig()
	cfg.ExecDelay = 20 * time.Millisecond
	d := newTestDevice(t, cfg)

	src, srcMem := boundBuffer(t, d, 16, gpu.BufferUsageTransferSrc, 1)
	dst, dstMem := boundBuffer(t, d, 16, gpu.BufferUsageTransferDst, 1)

	in, err := d.MapMemory(srcMem, 0, 16)
	g.Expect(err).NotTo(HaveOccurred())
	copy(in, "0123456789abcdef")
	d.UnmapMemory(srcMem)

	pool, err := d.CreateCommandPool(gpu.QueueTransfer, false)
	g.Expect(err).NotTo(HaveOccurred())
	cbs, err := d.AllocateCommandBuffers(pool, 1)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(d.BeginCommandBuffer(cbs[0], true)).To(Succeed())
	d.CmdCopyBuffer(cbs[0], src, dst, []gpu.BufferCopy{{Size: 16}})
	g.Expect(d.EndCommandBuffer(cbs[0])).To(Succeed())

	fence, err := d.CreateFence(false)
	g.Expect(err).NotTo(HaveOccurred())
	q := d.Queue(gpu.QueueTransfer)
	g.Expect(d.QueueSubmit(q, []gpu.SubmitInfo{{CommandBuffers: cbs}}, fence)).To(Succeed())

	signaled, err := d.FenceSignaled(fence)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(signaled).To(BeFalse())

	g.Expect(d.WaitForFences([]gpu.Fence{fence}, gpu.NoTimeout)).To(Succeed())
	out, err := d.MapMemory(dstMem, 0, 16)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(string(out)).To(Equal("0123456789abcdef"))
	d.UnmapMemory(dstMem)

	d.DestroyFence(fence)
	d.FreeCommandBuffers(pool, cbs)
	d.DestroyCommandPool(pool)
	d.DestroyBuffer(src)
	d.FreeMemory(srcMem)
	d.DestroyBuffer(dst)
	d.FreeMemory(dstMem)

	g.Expect(d.Violations()).To(BeEmpty())
	g.Expect(d.LiveCount()).To(BeZero())
}

func TestWaitForFencesTimesOut(t *testing.T) {
	g := NewWithT(t)
	cfg := DefaultConfig()
	cfg.ExecDelay = 200 * time.Millisecond
	d := newTestDevice(t, cfg)

	pool, _ := d.CreateCommandPool(gpu.QueueGraphics, true)
	cbs, _ := d.AllocateCommandBuffers(pool, 1)
	g.Expect(d.BeginCommandBuffer(cbs[0], false)).To(Succeed())
	g.Expect(d.EndCommandBuffer(cbs[0])).To(Succeed())
	fence, _ := d.CreateFence(false)

	g.Expect(d.QueueSubmit(d.Queue(gpu.QueueGraphics), []gpu.SubmitInfo{{CommandBuffers: cbs}}, fence)).To(Succeed())
	err := d.WaitForFences([]gpu.Fence{fence}, time.Millisecond)
	g.Expect(errors.Is(err, gpu.ErrTimeout)).To(BeTrue())

	g.Expect(d.DeviceWaitIdle()).To(Succeed())
	g.Expect(d.WaitForFences([]gpu.Fence{fence}, 0)).To(Succeed())
}

func TestRecordingWhilePendingIsAViolation(t *testing.T) {
	g := NewWithT(t)
	cfg := DefaultConfig()
	cfg.ExecDelay = 50 * time.Millisecond
	d := newTestDevice(t, cfg)

	pool, _ := d.CreateCommandPool(gpu.QueueGraphics, true)
	cbs, _ := d.AllocateCommandBuffers(pool, 1)
	g.Expect(d.BeginCommandBuffer(cbs[0], false)).To(Succeed())
	g.Expect(d.EndCommandBuffer(cbs[0])).To(Succeed())
	g.Expect(d.QueueSubmit(d.Queue(gpu.QueueGraphics), []gpu.SubmitInfo{{CommandBuffers: cbs}}, 0)).To(Succeed())

	err := d.BeginCommandBuffer(cbs[0], false)
	g.Expect(errors.Is(err, ErrValidation)).To(BeTrue())
	g.Expect(d.ResetCommandBuffer(cbs[0])).NotTo(Succeed())

	g.Expect(d.DeviceWaitIdle()).To(Succeed())
	g.Expect(d.BeginCommandBuffer(cbs[0], false)).To(Succeed())
	g.Expect(d.Violations()).To(HaveLen(2))
}

func TestCopyToImageChecksLayout(t *testing.T) {
	g := NewWithT(t)
	d := newTestDevice(t, DefaultConfig())

	src, srcMem := boundBuffer(t, d, 4*4*4, gpu.BufferUsageTransferSrc, 1)
	img, err := d.CreateImage(gpu.ImageInfo{
		Width: 4, Height: 4,
		Format: gpu.FormatR8G8B8A8Srgb,
		Usage:  gpu.ImageUsageTransferDst | gpu.ImageUsageSampled,
	})
	g.Expect(err).NotTo(HaveOccurred())
	req := d.ImageRequirements(img)
	g.Expect(req.MemoryTypeBits & 0b0010).To(BeZero())
	mem, err := d.AllocateMemory(req.Size, 0)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(d.BindImageMemory(img, mem, 0)).To(Succeed())

	pool, _ := d.CreateCommandPool(gpu.QueueGraphics, true)
	cbs, _ := d.AllocateCommandBuffers(pool, 1)
	region := gpu.BufferImageCopy{Width: 4, Height: 4}

	// The image is still undefined when the copy executes.
	g.Expect(d.BeginCommandBuffer(cbs[0], true)).To(Succeed())
	d.CmdCopyBufferToImage(cbs[0], src, img, gpu.LayoutTransferDstOptimal, region)
	g.Expect(d.EndCommandBuffer(cbs[0])).To(Succeed())
	g.Expect(d.QueueSubmit(d.Queue(gpu.QueueGraphics), []gpu.SubmitInfo{{CommandBuffers: cbs}}, 0)).To(Succeed())
	g.Expect(d.DeviceWaitIdle()).To(Succeed())
	g.Expect(d.Violations()).To(HaveLen(1))

	g.Expect(d.BeginCommandBuffer(cbs[0], true)).To(Succeed())
	d.CmdPipelineBarrier(cbs[0], []gpu.ImageBarrier{{
		Image:     img,
		Aspect:    gpu.AspectColor,
		OldLayout: gpu.LayoutUndefined,
		NewLayout: gpu.LayoutTransferDstOptimal,
	}})
	d.CmdCopyBufferToImage(cbs[0], src, img, gpu.LayoutTransferDstOptimal, region)
	g.Expect(d.EndCommandBuffer(cbs[0])).To(Succeed())
	g.Expect(d.QueueSubmit(d.Queue(gpu.QueueGraphics), []gpu.SubmitInfo{{CommandBuffers: cbs}}, 0)).To(Succeed())
	g.Expect(d.DeviceWaitIdle()).To(Succeed())
	g.Expect(d.Violations()).To(HaveLen(1))

	d.DestroyCommandPool(pool)
	d.DestroyImage(img)
	d.FreeMemory(mem)
	d.DestroyBuffer(src)
	d.FreeMemory(srcMem)
}

func TestDoubleDestroyAndLeaksAreReported(t *testing.T) {
	g := NewWithT(t)
	d := New(DefaultConfig())

	s, err := d.CreateSemaphore()
	g.Expect(err).NotTo(HaveOccurred())
	d.DestroySemaphore(s)
	d.DestroySemaphore(s)
	g.Expect(d.Violations()).To(HaveLen(1))

	_, err = d.CreateFence(true)
	g.Expect(err).NotTo(HaveOccurred())
	d.Destroy()
	g.Expect(d.Violations()).To(HaveLen(2))
	g.Expect(d.DestroyLog()).To(Equal([]DestroyRecord{{Kind: gpu.KindSemaphore, Handle: gpu.Handle(s)}}))
}

func TestSemaphoreNeedsPendingSignal(t *testing.T) {
	g := NewWithT(t)
	d := newTestDevice(t, DefaultConfig())

	pool, _ := d.CreateCommandPool(gpu.QueueGraphics, true)
	cbs, _ := d.AllocateCommandBuffers(pool, 1)
	g.Expect(d.BeginCommandBuffer(cbs[0], false)).To(Succeed())
	g.Expect(d.EndCommandBuffer(cbs[0])).To(Succeed())
	sem, _ := d.CreateSemaphore()

	err := d.QueueSubmit(d.Queue(gpu.QueueGraphics), []gpu.SubmitInfo{{
		WaitSemaphores: []gpu.Semaphore{sem},
		WaitStages:     []gpu.PipelineStage{gpu.StageColorAttachmentOutput},
		CommandBuffers: cbs,
	}}, 0)
	g.Expect(errors.Is(err, ErrValidation)).To(BeTrue())
}

func TestSwapchainAcquirePresent(t *testing.T) {
	g := NewWithT(t)
	d := newTestDevice(t, DefaultConfig())

	info := gpu.SwapchainInfo{
		Surface:     d.Surface(),
		MinImages:   3,
		Format:      gpu.SurfaceFormat{Format: gpu.FormatB8G8R8A8Srgb, ColorSpace: gpu.ColorSpaceSrgbNonlinear},
		Extent:      gpu.Extent2D{Width: 800, Height: 600},
		PresentMode: gpu.PresentModeFifo,
	}
	sc, err := d.CreateSwapchain(info)
	g.Expect(err).NotTo(HaveOccurred())
	images, err := d.SwapchainImages(sc)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(images).To(HaveLen(3))

	sem, _ := d.CreateSemaphore()
	idx, err := d.AcquireNextImage(sc, gpu.NoTimeout, sem)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(idx).To(Equal(uint32(0)))

	d.Resize(gpu.Extent2D{Width: 1024, Height: 768})
	_, err = d.AcquireNextImage(sc, gpu.NoTimeout, sem)
	g.Expect(errors.Is(err, gpu.ErrOutOfDate)).To(BeTrue())

	d.DestroySemaphore(sem)
	d.DestroySwapchain(sc)
	g.Expect(d.LiveCount()).To(BeZero())
}
