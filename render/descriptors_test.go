package render

import (
	"testing"

	"github.com/cockroachdb/errors"
	. "github.com/onsi/gomega"

	"github.com/ironsmile/vulkan-render-go/gpu"
	"github.com/ironsmile/vulkan-render-go/gpu/softgpu"
)

type descriptorFixture struct {
	dev         *softgpu.Device
	factory     *ResourceFactory
	descriptors *DescriptorManager
	layout      *SetLayout
	uniform     *Buffer
	texture     *Texture
}

func newDescriptorFixture(t *testing.T, frames int, capacity PoolCapacity) *descriptorFixture {
	t.Helper()
	g := NewWithT(t)

	dev := newTestDevice(t, softgpu.DefaultConfig())
	memory, transfer := newTransfer(t, dev)
	factory := NewResourceFactory(dev, memory, transfer, true)

	descriptors, err := NewDescriptorManager(dev, frames, capacity, true)
	g.Expect(err).NotTo(HaveOccurred())
	t.Cleanup(descriptors.Destroy)

	layout, err := descriptors.DefineLayout([]Binding{
		{Index: 1, Kind: CombinedImageSampler, Stages: gpu.ShaderStageFragment},
		{Index: 0, Kind: Uniform, Stages: gpu.ShaderStageVertex},
	})
	g.Expect(err).NotTo(HaveOccurred())

	uniform, err := factory.CreateUniformBuffer(128)
	g.Expect(err).NotTo(HaveOccurred())
	t.Cleanup(func() { _ = factory.DestroyBuffer(uniform) })

	texture, err := factory.CreateTexture(checkerPixels(2, 2), 2, 2, gpu.FormatR8G8B8A8Unorm)
	g.Expect(err).NotTo(HaveOccurred())
	t.Cleanup(func() { _ = factory.DestroyTexture(texture) })

	return &descriptorFixture{
		dev:         dev,
		factory:     factory,
		descriptors: descriptors,
		layout:      layout,
		uniform:     uniform,
		texture:     texture,
	}
}

func uniformAndSampler(n uint32) PoolCapacity {
	return PoolCapacity{
		Sets: n,
		Kinds: map[BindingKind]uint32{
			Uniform:              n,
			CombinedImageSampler: n,
		},
	}
}

func TestDefineLayout(t *testing.T) {
	f := newDescriptorFixture(t, 2, uniformAndSampler(4))
	g := NewWithT(t)

	g.Expect(f.layout.Bindings).To(HaveLen(2))
	g.Expect(f.layout.Bindings[0].Index).To(Equal(uint32(0)))
	g.Expect(f.layout.Bindings[1].Kind).To(Equal(CombinedImageSampler))

	tests := []struct {
		desc     string
		bindings []Binding
	}{
		{desc: "empty", bindings: nil},
		{desc: "duplicate index", bindings: []Binding{
			{Index: 0, Kind: Uniform, Stages: gpu.ShaderStageVertex},
			{Index: 0, Kind: CombinedImageSampler, Stages: gpu.ShaderStageFragment},
		}},
		{desc: "push constant", bindings: []Binding{
			{Index: 0, Kind: PushConstant, Stages: gpu.ShaderStageVertex},
		}},
		{desc: "unknown kind", bindings: []Binding{
			{Index: 0, Kind: BindingKind(42), Stages: gpu.ShaderStageVertex},
		}},
		{desc: "no stages", bindings: []Binding{
			{Index: 0, Kind: Uniform},
		}},
	}

	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			g := NewWithT(t)
			_, err := f.descriptors.DefineLayout(test.bindings)
			g.Expect(errors.Is(err, ErrConfiguration)).To(BeTrue())
		})
	}
}

func TestWriteSets(t *testing.T) {
	f := newDescriptorFixture(t, 2, uniformAndSampler(2))
	g := NewWithT(t)

	sets, err := f.descriptors.AllocateSets(f.layout, 2)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(sets).To(HaveLen(2))
	g.Expect(sets[0].Handle).NotTo(Equal(sets[1].Handle))

	err = f.descriptors.WriteSets(sets, []Resource{
		UniformResource{Buffer: f.uniform, Range: 128},
		ImageSamplerResource{Texture: f.texture},
	})
	g.Expect(err).NotTo(HaveOccurred())
	for _, s := range sets {
		g.Expect(s.written).To(BeTrue())
		g.Expect(s.refs).To(ConsistOf(leasable(f.uniform), leasable(f.texture.Image)))
	}
	g.Expect(f.dev.Violations()).To(BeEmpty())
}

func TestWriteSetsMismatch(t *testing.T) {
	f := newDescriptorFixture(t, 1, uniformAndSampler(4))

	vertexOnly, err := f.factory.CreateBuffer(gpu.BufferUsageVertex, 128)
	NewWithT(t).Expect(err).NotTo(HaveOccurred())
	t.Cleanup(func() { _ = f.factory.DestroyBuffer(vertexOnly) })

	tests := []struct {
		desc      string
		resources []Resource
	}{
		{desc: "swapped kinds", resources: []Resource{
			ImageSamplerResource{Texture: f.texture},
			UniformResource{Buffer: f.uniform, Range: 128},
		}},
		{desc: "too few", resources: []Resource{
			UniformResource{Buffer: f.uniform, Range: 128},
		}},
		{desc: "too many", resources: []Resource{
			UniformResource{Buffer: f.uniform, Range: 128},
			ImageSamplerResource{Texture: f.texture},
			ImageSamplerResource{Texture: f.texture},
		}},
		{desc: "dynamic for static", resources: []Resource{
			DynamicUniformResource{Buffer: f.uniform, Range: 128},
			ImageSamplerResource{Texture: f.texture},
		}},
		{desc: "push constant", resources: []Resource{
			PushConstantResource{Data: make([]byte, 64)},
			ImageSamplerResource{Texture: f.texture},
		}},
		{desc: "nil resource", resources: []Resource{
			nil,
			ImageSamplerResource{Texture: f.texture},
		}},
		{desc: "range past end", resources: []Resource{
			UniformResource{Buffer: f.uniform, Offset: 64, Range: 128},
			ImageSamplerResource{Texture: f.texture},
		}},
		{desc: "not a uniform buffer", resources: []Resource{
			UniformResource{Buffer: vertexOnly, Range: 128},
			ImageSamplerResource{Texture: f.texture},
		}},
		{desc: "nil texture", resources: []Resource{
			UniformResource{Buffer: f.uniform, Range: 128},
			ImageSamplerResource{},
		}},
	}

	sets, err := f.descriptors.AllocateSets(f.layout, 1)
	NewWithT(t).Expect(err).NotTo(HaveOccurred())

	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			g := NewWithT(t)

			err := f.descriptors.WriteSets(sets, test.resources)
			g.Expect(errors.Is(err, ErrDescriptorMismatch)).To(BeTrue())
			g.Expect(errors.Is(err, ErrConfiguration)).To(BeTrue())
			g.Expect(sets[0].written).To(BeFalse())
		})
	}

	// Mismatches never reach the device.
	NewWithT(t).Expect(f.dev.Violations()).To(BeEmpty())
}

func TestWriteLeasedSet(t *testing.T) {
	f := newDescriptorFixture(t, 1, uniformAndSampler(1))
	g := NewWithT(t)

	sets, err := f.descriptors.AllocateSets(f.layout, 1)
	g.Expect(err).NotTo(HaveOccurred())

	resources := []Resource{
		UniformResource{Buffer: f.uniform, Range: 128},
		ImageSamplerResource{Texture: f.texture},
	}
	g.Expect(f.descriptors.WriteSets(sets, resources)).To(Succeed())

	sets[0].lease.acquire(0)
	err = f.descriptors.WriteSets(sets, resources)
	g.Expect(errors.Is(err, ErrSyncViolation)).To(BeTrue())

	sets[0].lease.releaseSlot(0)
	g.Expect(f.descriptors.WriteSets(sets, resources)).To(Succeed())
}

func TestAllocateSetsExhaustion(t *testing.T) {
	f := newDescriptorFixture(t, 2, uniformAndSampler(2))
	g := NewWithT(t)

	_, err := f.descriptors.AllocateSets(f.layout, 3)
	g.Expect(err).NotTo(HaveOccurred())

	_, err = f.descriptors.AllocateSets(f.layout, 2)
	g.Expect(errors.Is(err, ErrResourceExhaustion)).To(BeTrue())

	_, err = f.descriptors.AllocateSets(f.layout, 1)
	g.Expect(err).NotTo(HaveOccurred())

	_, err = f.descriptors.AllocateSets(f.layout, 1)
	g.Expect(errors.Is(err, ErrResourceExhaustion)).To(BeTrue())

	sets, err := f.descriptors.AllocateSets(f.layout, 0)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(sets).To(BeEmpty())
}

func TestAllocateSetsKindExhaustion(t *testing.T) {
	f := newDescriptorFixture(t, 1, PoolCapacity{
		Sets: 4,
		Kinds: map[BindingKind]uint32{
			Uniform:              4,
			CombinedImageSampler: 1,
		},
	})
	g := NewWithT(t)

	_, err := f.descriptors.AllocateSets(f.layout, 2)
	g.Expect(errors.Is(err, ErrResourceExhaustion)).To(BeTrue())

	_, err = f.descriptors.AllocateSets(f.layout, 1)
	g.Expect(err).NotTo(HaveOccurred())
}

func TestDescriptorPoolRejectsPushConstants(t *testing.T) {
	g := NewWithT(t)
	dev := newTestDevice(t, softgpu.DefaultConfig())

	_, err := NewDescriptorManager(dev, 1, PoolCapacity{
		Sets:  1,
		Kinds: map[BindingKind]uint32{PushConstant: 1},
	}, true)
	g.Expect(errors.Is(err, ErrConfiguration)).To(BeTrue())

	_, err = NewDescriptorManager(dev, 0, uniformAndSampler(1), true)
	g.Expect(errors.Is(err, ErrConfiguration)).To(BeTrue())
}
