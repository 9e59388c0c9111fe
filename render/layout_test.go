package render

import (
	"testing"

	"github.com/cockroachdb/errors"
	. "github.com/onsi/gomega"

	"github.com/ironsmile/vulkan-render-go/gpu"
	"github.com/ironsmile/vulkan-render-go/gpu/softgpu"
)

func TestLayoutTransitions(t *testing.T) {
	g := NewWithT(t)
	dev := newTestDevice(t, softgpu.DefaultConfig())
	memory := NewMemoryAllocator(dev)
	layouts := NewLayoutTracker(dev)
	transfer, err := NewStagedTransfer(dev, memory, layouts)
	g.Expect(err).NotTo(HaveOccurred())
	defer transfer.Destroy()
	factory := NewResourceFactory(dev, memory, transfer, true)

	img, err := factory.CreateImage(4, 4, gpu.FormatR8G8B8A8Unorm,
		gpu.ImageUsageTransferDst|gpu.ImageUsageTransferSrc|gpu.ImageUsageSampled, gpu.TilingOptimal)
	g.Expect(err).NotTo(HaveOccurred())
	defer factory.DestroyImage(img)
	g.Expect(img.Layout()).To(Equal(gpu.LayoutUndefined))

	steps := []struct {
		layout   gpu.ImageLayout
		barriers int
	}{
		{gpu.LayoutTransferDstOptimal, 1},
		{gpu.LayoutTransferDstOptimal, 1},
		{gpu.LayoutShaderReadOnlyOptimal, 2},
		{gpu.LayoutTransferSrcOptimal, 3},
		{gpu.LayoutShaderReadOnlyOptimal, 4},
		{gpu.LayoutShaderReadOnlyOptimal, 4},
		{gpu.LayoutTransferDstOptimal, 5},
		{gpu.LayoutTransferSrcOptimal, 6},
	}
	for _, step := range steps {
		g.Expect(transfer.Prepare(img, step.layout)).To(Succeed())
		g.Expect(img.Layout()).To(Equal(step.layout))
		g.Expect(layouts.Barriers()).To(Equal(step.barriers))
	}

	g.Expect(dev.Violations()).To(BeEmpty())
}

func TestUnsupportedLayoutTransition(t *testing.T) {
	g := NewWithT(t)
	dev := newTestDevice(t, softgpu.DefaultConfig())
	memory := NewMemoryAllocator(dev)
	layouts := NewLayoutTracker(dev)
	transfer, err := NewStagedTransfer(dev, memory, layouts)
	g.Expect(err).NotTo(HaveOccurred())
	defer transfer.Destroy()
	factory := NewResourceFactory(dev, memory, transfer, true)

	img, err := factory.CreateImage(2, 2, gpu.FormatR8G8B8A8Unorm,
		gpu.ImageUsageTransferDst|gpu.ImageUsageSampled, gpu.TilingOptimal)
	g.Expect(err).NotTo(HaveOccurred())
	defer factory.DestroyImage(img)

	err = transfer.Prepare(img, gpu.LayoutShaderReadOnlyOptimal)
	g.Expect(errors.Is(err, ErrUnsupportedTransition)).To(BeTrue())
	g.Expect(img.Layout()).To(Equal(gpu.LayoutUndefined))
	g.Expect(layouts.Barriers()).To(BeZero())

	err = transfer.Prepare(img, gpu.LayoutPresentSrc)
	g.Expect(errors.Is(err, ErrUnsupportedTransition)).To(BeTrue())
	g.Expect(img.Layout()).To(Equal(gpu.LayoutUndefined))
}

func TestDepthImageTransition(t *testing.T) {
	g := NewWithT(t)
	dev := newTestDevice(t, softgpu.DefaultConfig())
	memory, transfer := newTransfer(t, dev)
	factory := NewResourceFactory(dev, memory, transfer, true)

	depth, err := factory.CreateDepthImage(16, 16)
	g.Expect(err).NotTo(HaveOccurred())
	defer factory.DestroyImage(depth)
	g.Expect(depth.Format).To(Equal(gpu.FormatD32Sfloat))

	g.Expect(transfer.Prepare(depth, gpu.LayoutDepthStencilAttachmentOptimal)).To(Succeed())
	g.Expect(depth.Layout()).To(Equal(gpu.LayoutDepthStencilAttachmentOptimal))
	g.Expect(dev.Violations()).To(BeEmpty())
}
