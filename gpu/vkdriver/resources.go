package vkdriver

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/ironsmile/vulkan-render-go/gpu"
)

type memory struct {
	handle vk.DeviceMemory
	size   uint64
	mapped bool
}

type image struct {
	handle vk.Image
	format gpu.Format
}

func (d *Device) CreateBuffer(size uint64, usage gpu.BufferUsage) (gpu.Buffer, error) {
	bufferInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       vk.BufferUsageFlags(usage),
		SharingMode: vk.SharingModeExclusive,
	}

	var buffer vk.Buffer
	if err := result(vk.CreateBuffer(d.device, &bufferInfo, nil, &buffer)); err != nil {
		return 0, errors.Wrap(err, "failed to create buffer")
	}
	return gpu.Buffer(d.objs.add(gpu.KindBuffer, buffer, gpu.NullHandle)), nil
}

func (d *Device) BufferRequirements(buf gpu.Buffer) gpu.MemoryRequirements {
	buffer := must[vk.Buffer](d.objs, gpu.KindBuffer, gpu.Handle(buf))

	var memRequirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.device, buffer, &memRequirements)
	memRequirements.Deref()

	return memoryRequirements(memRequirements)
}

func (d *Device) DestroyBuffer(buf gpu.Buffer) {
	obj, ok := d.objs.remove(gpu.KindBuffer, gpu.Handle(buf))
	if !ok {
		return
	}
	vk.DestroyBuffer(d.device, obj.value.(vk.Buffer), nil)
}

func (d *Device) CreateImage(info gpu.ImageInfo) (gpu.Image, error) {
	imageInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Extent: vk.Extent3D{
			Width:  info.Width,
			Height: info.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Format:        vk.Format(info.Format),
		Tiling:        vk.ImageTiling(info.Tiling),
		InitialLayout: vk.ImageLayoutUndefined,
		Usage:         vk.ImageUsageFlags(info.Usage),
		SharingMode:   vk.SharingModeExclusive,
		Samples:       vk.SampleCount1Bit,
	}

	var handle vk.Image
	if err := result(vk.CreateImage(d.device, &imageInfo, nil, &handle)); err != nil {
		return 0, errors.Wrap(err, "failed to create an image")
	}

	img := &image{handle: handle, format: info.Format}
	return gpu.Image(d.objs.add(gpu.KindImage, img, gpu.NullHandle)), nil
}

func (d *Device) ImageRequirements(img gpu.Image) gpu.MemoryRequirements {
	i := must[*image](d.objs, gpu.KindImage, gpu.Handle(img))

	var memRequirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.device, i.handle, &memRequirements)
	memRequirements.Deref()

	return memoryRequirements(memRequirements)
}

// DestroyImage destroys an image created with CreateImage. Swapchain images
// are destroyed with their swapchain and are ignored here.
func (d *Device) DestroyImage(img gpu.Image) {
	obj, ok := d.objs.entries[gpu.Handle(img)]
	if !ok || obj.kind != gpu.KindImage || obj.owner != gpu.NullHandle {
		return
	}
	d.objs.remove(gpu.KindImage, gpu.Handle(img))
	vk.DestroyImage(d.device, obj.value.(*image).handle, nil)
}

func memoryRequirements(req vk.MemoryRequirements) gpu.MemoryRequirements {
	return gpu.MemoryRequirements{
		Size:           uint64(req.Size),
		Alignment:      uint64(req.Alignment),
		MemoryTypeBits: req.MemoryTypeBits,
	}
}

func (d *Device) AllocateMemory(size uint64, typeIndex uint32) (gpu.Memory, error) {
	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  vk.DeviceSize(size),
		MemoryTypeIndex: typeIndex,
	}

	var handle vk.DeviceMemory
	if err := result(vk.AllocateMemory(d.device, &allocInfo, nil, &handle)); err != nil {
		return 0, errors.Wrapf(err, "failed to allocate %d bytes of memory type %d", size, typeIndex)
	}

	mem := &memory{handle: handle, size: size}
	return gpu.Memory(d.objs.add(gpu.KindMemory, mem, gpu.NullHandle)), nil
}

func (d *Device) FreeMemory(mem gpu.Memory) {
	obj, ok := d.objs.remove(gpu.KindMemory, gpu.Handle(mem))
	if !ok {
		return
	}
	m := obj.value.(*memory)
	if m.mapped {
		vk.UnmapMemory(d.device, m.handle)
	}
	vk.FreeMemory(d.device, m.handle, nil)
}

func (d *Device) BindBufferMemory(buf gpu.Buffer, mem gpu.Memory, offset uint64) error {
	buffer, err := get[vk.Buffer](d.objs, gpu.KindBuffer, gpu.Handle(buf))
	if err != nil {
		return err
	}
	m, err := get[*memory](d.objs, gpu.KindMemory, gpu.Handle(mem))
	if err != nil {
		return err
	}

	res := vk.BindBufferMemory(d.device, buffer, m.handle, vk.DeviceSize(offset))
	return errors.Wrap(result(res), "failed to bind buffer memory")
}

func (d *Device) BindImageMemory(img gpu.Image, mem gpu.Memory, offset uint64) error {
	i, err := get[*image](d.objs, gpu.KindImage, gpu.Handle(img))
	if err != nil {
		return err
	}
	m, err := get[*memory](d.objs, gpu.KindMemory, gpu.Handle(mem))
	if err != nil {
		return err
	}

	res := vk.BindImageMemory(d.device, i.handle, m.handle, vk.DeviceSize(offset))
	return errors.Wrap(result(res), "failed to bind image memory")
}

func (d *Device) MapMemory(mem gpu.Memory, offset, size uint64) ([]byte, error) {
	m, err := get[*memory](d.objs, gpu.KindMemory, gpu.Handle(mem))
	if err != nil {
		return nil, err
	}
	if m.mapped {
		return nil, errors.Newf("memory %d is already mapped", mem)
	}
	if offset+size > m.size {
		return nil, errors.Newf("mapping [%d, %d) of a %d byte allocation", offset, offset+size, m.size)
	}

	var pData unsafe.Pointer
	res := vk.MapMemory(d.device, m.handle, vk.DeviceSize(offset), vk.DeviceSize(size), 0, &pData)
	if err := result(res); err != nil {
		return nil, errors.Wrap(err, "failed to map memory")
	}
	m.mapped = true

	return unsafe.Slice((*byte)(pData), size), nil
}

func (d *Device) UnmapMemory(mem gpu.Memory) {
	m, err := get[*memory](d.objs, gpu.KindMemory, gpu.Handle(mem))
	if err != nil || !m.mapped {
		return
	}
	vk.UnmapMemory(d.device, m.handle)
	m.mapped = false
}

func (d *Device) CreateImageView(img gpu.Image, format gpu.Format, aspect gpu.ImageAspect) (gpu.ImageView, error) {
	i, err := get[*image](d.objs, gpu.KindImage, gpu.Handle(img))
	if err != nil {
		return 0, err
	}

	createInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    i.handle,
		ViewType: vk.ImageViewType2d,
		Format:   vk.Format(format),
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     vk.ImageAspectFlags(aspect),
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}

	var imageView vk.ImageView
	res := vk.CreateImageView(d.device, &createInfo, nil, &imageView)
	if err := result(res); err != nil {
		return 0, errors.Wrap(err, "failed to create image view")
	}

	return gpu.ImageView(d.objs.add(gpu.KindImageView, imageView, gpu.NullHandle)), nil
}

func (d *Device) DestroyImageView(view gpu.ImageView) {
	obj, ok := d.objs.remove(gpu.KindImageView, gpu.Handle(view))
	if !ok {
		return
	}
	vk.DestroyImageView(d.device, obj.value.(vk.ImageView), nil)
}

func (d *Device) CreateSampler(info gpu.SamplerInfo) (gpu.Sampler, error) {
	filter := vk.FilterNearest
	mipmapMode := vk.SamplerMipmapModeNearest
	if info.Linear {
		filter = vk.FilterLinear
		mipmapMode = vk.SamplerMipmapModeLinear
	}

	addressMode := vk.SamplerAddressModeClampToEdge
	if info.Repeat {
		addressMode = vk.SamplerAddressModeRepeat
	}

	anisotropy := min(info.MaxAnisotropy, d.caps.Limits.MaxSamplerAnisotropy)
	anisotropyEnable := vk.False
	if anisotropy > 1 {
		anisotropyEnable = vk.True
	}

	samplerInfo := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               filter,
		MinFilter:               filter,
		AddressModeU:            addressMode,
		AddressModeV:            addressMode,
		AddressModeW:            addressMode,
		AnisotropyEnable:        vk.Bool32(anisotropyEnable),
		MaxAnisotropy:           max(anisotropy, 1),
		UnnormalizedCoordinates: vk.False,
		CompareEnable:           vk.False,
		CompareOp:               vk.CompareOpAlways,
		MipmapMode:              mipmapMode,
		MipLodBias:              0,
		MinLod:                  0,
		MaxLod:                  0,
	}

	var sampler vk.Sampler
	if err := result(vk.CreateSampler(d.device, &samplerInfo, nil, &sampler)); err != nil {
		return 0, errors.Wrap(err, "failed to create sampler")
	}
	return gpu.Sampler(d.objs.add(gpu.KindSampler, sampler, gpu.NullHandle)), nil
}

func (d *Device) DestroySampler(s gpu.Sampler) {
	obj, ok := d.objs.remove(gpu.KindSampler, gpu.Handle(s))
	if !ok {
		return
	}
	vk.DestroySampler(d.device, obj.value.(vk.Sampler), nil)
}

func (d *Device) CreateDescriptorSetLayout(bindings []gpu.DescriptorSetLayoutBinding) (gpu.DescriptorSetLayout, error) {
	vkBindings := make([]vk.DescriptorSetLayoutBinding, len(bindings))
	for i, b := range bindings {
		vkBindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  vk.DescriptorType(b.Type),
			DescriptorCount: b.Count,
			StageFlags:      vk.ShaderStageFlags(b.Stages),
		}
	}

	layoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(vkBindings)),
		PBindings:    vkBindings,
	}

	var layout vk.DescriptorSetLayout
	res := vk.CreateDescriptorSetLayout(d.device, &layoutInfo, nil, &layout)
	if err := result(res); err != nil {
		return 0, errors.Wrap(err, "creating descriptor set layout")
	}
	return gpu.DescriptorSetLayout(d.objs.add(gpu.KindDescriptorSetLayout, layout, gpu.NullHandle)), nil
}

func (d *Device) DestroyDescriptorSetLayout(l gpu.DescriptorSetLayout) {
	obj, ok := d.objs.remove(gpu.KindDescriptorSetLayout, gpu.Handle(l))
	if !ok {
		return
	}
	vk.DestroyDescriptorSetLayout(d.device, obj.value.(vk.DescriptorSetLayout), nil)
}

func (d *Device) CreateDescriptorPool(maxSets uint32, sizes []gpu.DescriptorPoolSize) (gpu.DescriptorPool, error) {
	poolSizes := make([]vk.DescriptorPoolSize, len(sizes))
	for i, size := range sizes {
		poolSizes[i] = vk.DescriptorPoolSize{
			Type:            vk.DescriptorType(size.Type),
			DescriptorCount: size.Count,
		}
	}

	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
		MaxSets:       maxSets,
	}

	var pool vk.DescriptorPool
	if err := result(vk.CreateDescriptorPool(d.device, &poolInfo, nil, &pool)); err != nil {
		return 0, errors.Wrap(err, "failed to create descriptor pool")
	}
	return gpu.DescriptorPool(d.objs.add(gpu.KindDescriptorPool, pool, gpu.NullHandle)), nil
}

// DestroyDescriptorPool destroys p and frees every set allocated from it.
func (d *Device) DestroyDescriptorPool(p gpu.DescriptorPool) {
	obj, ok := d.objs.remove(gpu.KindDescriptorPool, gpu.Handle(p))
	if !ok {
		return
	}
	d.objs.removeOwned(gpu.Handle(p))
	vk.DestroyDescriptorPool(d.device, obj.value.(vk.DescriptorPool), nil)
}

func (d *Device) AllocateDescriptorSets(pool gpu.DescriptorPool, layouts []gpu.DescriptorSetLayout) ([]gpu.DescriptorSet, error) {
	if len(layouts) == 0 {
		return nil, nil
	}
	vkPool, err := get[vk.DescriptorPool](d.objs, gpu.KindDescriptorPool, gpu.Handle(pool))
	if err != nil {
		return nil, err
	}

	vkLayouts := make([]vk.DescriptorSetLayout, len(layouts))
	for i, l := range layouts {
		vkLayouts[i], err = get[vk.DescriptorSetLayout](d.objs, gpu.KindDescriptorSetLayout, gpu.Handle(l))
		if err != nil {
			return nil, err
		}
	}

	allocInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     vkPool,
		DescriptorSetCount: uint32(len(vkLayouts)),
		PSetLayouts:        vkLayouts,
	}

	vkSets := make([]vk.DescriptorSet, len(vkLayouts))
	res := vk.AllocateDescriptorSets(d.device, &allocInfo, &vkSets[0])
	if err := result(res); err != nil {
		return nil, errors.Wrap(err, "failed to allocate descriptor sets")
	}

	sets := make([]gpu.DescriptorSet, len(vkSets))
	for i, set := range vkSets {
		sets[i] = gpu.DescriptorSet(d.objs.add(kindDescriptorSet, set, gpu.Handle(pool)))
	}
	return sets, nil
}

func (d *Device) UpdateDescriptorSets(writes []gpu.DescriptorWrite) error {
	descriptorWrites := make([]vk.WriteDescriptorSet, 0, len(writes))

	for _, w := range writes {
		set, err := get[vk.DescriptorSet](d.objs, kindDescriptorSet, gpu.Handle(w.Set))
		if err != nil {
			return err
		}

		write := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DstBinding:      w.Binding,
			DstArrayElement: 0,
			DescriptorType:  vk.DescriptorType(w.Type),
			DescriptorCount: 1,
		}

		switch {
		case w.Buffer != nil:
			buffer, err := get[vk.Buffer](d.objs, gpu.KindBuffer, gpu.Handle(w.Buffer.Buffer))
			if err != nil {
				return err
			}
			bufferRange := vk.DeviceSize(w.Buffer.Range)
			if bufferRange == 0 {
				bufferRange = vk.DeviceSize(vk.WholeSize)
			}
			write.PBufferInfo = []vk.DescriptorBufferInfo{{
				Buffer: buffer,
				Offset: vk.DeviceSize(w.Buffer.Offset),
				Range:  bufferRange,
			}}
		case w.Image != nil:
			view, err := get[vk.ImageView](d.objs, gpu.KindImageView, gpu.Handle(w.Image.View))
			if err != nil {
				return err
			}
			sampler, err := get[vk.Sampler](d.objs, gpu.KindSampler, gpu.Handle(w.Image.Sampler))
			if err != nil {
				return err
			}
			write.PImageInfo = []vk.DescriptorImageInfo{{
				ImageLayout: vk.ImageLayout(w.Image.Layout),
				ImageView:   view,
				Sampler:     sampler,
			}}
		default:
			return errors.Newf("write to binding %d has no resource", w.Binding)
		}

		descriptorWrites = append(descriptorWrites, write)
	}

	vk.UpdateDescriptorSets(
		d.device,
		uint32(len(descriptorWrites)),
		descriptorWrites,
		0,
		nil,
	)
	return nil
}
