package gpu

import (
	"testing"

	"github.com/cockroachdb/errors"
	. "github.com/onsi/gomega"
)

func TestFormatProperties(t *testing.T) {
	tests := []struct {
		format  Format
		size    uint32
		depth   bool
		stencil bool
	}{
		{format: FormatUndefined},
		{format: FormatR8G8B8A8Unorm, size: 4},
		{format: FormatB8G8R8A8Srgb, size: 4},
		{format: FormatR32G32Sfloat, size: 8},
		{format: FormatR32G32B32Sfloat, size: 12},
		{format: FormatR32G32B32A32Sfloat, size: 16},
		{format: FormatD32Sfloat, size: 4, depth: true},
		{format: FormatD24UnormS8Uint, size: 4, depth: true, stencil: true},
		{format: FormatD32SfloatS8Uint, size: 8, depth: true, stencil: true},
	}

	for _, test := range tests {
		g := NewWithT(t)
		g.Expect(test.format.Size()).To(Equal(test.size), "format %d", test.format)
		g.Expect(test.format.IsDepth()).To(Equal(test.depth), "format %d", test.format)
		g.Expect(test.format.HasStencil()).To(Equal(test.stencil), "format %d", test.format)
	}
}

func TestFlagsHas(t *testing.T) {
	g := NewWithT(t)

	flags := MemoryHostVisible | MemoryHostCoherent
	g.Expect(flags.Has(MemoryHostVisible)).To(BeTrue())
	g.Expect(flags.Has(MemoryHostVisible | MemoryHostCoherent)).To(BeTrue())
	g.Expect(flags.Has(MemoryDeviceLocal)).To(BeFalse())
	g.Expect(flags.Has(0)).To(BeTrue())

	usage := BufferUsageVertex | BufferUsageTransferDst
	g.Expect(usage.Has(BufferUsageTransferDst)).To(BeTrue())
	g.Expect(usage.Has(BufferUsageTransferSrc)).To(BeFalse())

	g.Expect(ImageUsageSampled.Has(ImageUsageSampled | ImageUsageTransferDst)).To(BeFalse())
}

func TestIndexTypeSize(t *testing.T) {
	g := NewWithT(t)

	g.Expect(IndexUint16.Size()).To(Equal(uint64(2)))
	g.Expect(IndexUint32.Size()).To(Equal(uint64(4)))
}

func TestObjectKindString(t *testing.T) {
	g := NewWithT(t)

	g.Expect(KindMemory.String()).To(Equal("memory"))
	g.Expect(KindSwapchain.String()).To(Equal("swapchain"))
	g.Expect(ObjectKind(99).String()).To(Equal("ObjectKind(99)"))
}

func TestIsOutOfMemory(t *testing.T) {
	g := NewWithT(t)

	g.Expect(IsOutOfMemory(errors.Wrap(ErrOutOfDeviceMemory, "allocate"))).To(BeTrue())
	g.Expect(IsOutOfMemory(ErrOutOfPoolMemory)).To(BeTrue())
	g.Expect(IsOutOfMemory(ErrDeviceLost)).To(BeFalse())
	g.Expect(IsOutOfMemory(nil)).To(BeFalse())
}
