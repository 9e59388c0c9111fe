package softgpu

import (
	"github.com/ironsmile/vulkan-render-go/gpu"
)

type memory struct {
	typeIndex uint32
	data      []byte
	mapped    bool
	bound     int
}

type buffer struct {
	size   uint64
	usage  gpu.BufferUsage
	mem    gpu.Memory
	offset uint64
	data   []byte
}

type image struct {
	info   gpu.ImageInfo
	layout gpu.ImageLayout
	mem    gpu.Memory
	data   []byte
	owner  gpu.Swapchain
}

func (img *image) byteSize() uint64 {
	return uint64(img.info.Width) * uint64(img.info.Height) * uint64(img.info.Format.Size())
}

func alignUp(v, alignment uint64) uint64 {
	if alignment <= 1 {
		return v
	}
	return (v + alignment - 1) / alignment * alignment
}

func (d *Device) CreateBuffer(size uint64, usage gpu.BufferUsage) (gpu.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if size == 0 {
		return 0, d.violate("buffer size must be greater than zero")
	}
	if usage == 0 {
		return 0, d.violate("buffer usage must not be empty")
	}
	return gpu.Buffer(d.register(gpu.KindBuffer, &buffer{size: size, usage: usage})), nil
}

func (d *Device) BufferRequirements(buf gpu.Buffer) gpu.MemoryRequirements {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, err := lookup[buffer](d, gpu.KindBuffer, gpu.Handle(buf))
	if err != nil {
		return gpu.MemoryRequirements{}
	}
	return gpu.MemoryRequirements{
		Size:           alignUp(b.size, d.cfg.BufferAlignment),
		Alignment:      d.cfg.BufferAlignment,
		MemoryTypeBits: d.cfg.BufferMemoryTypeBits,
	}
}

func (d *Device) DestroyBuffer(buf gpu.Buffer) {
	d.mu.Lock()
	defer d.mu.Unlock()

	v, ok := d.release(gpu.KindBuffer, gpu.Handle(buf))
	if !ok {
		return
	}
	d.unbind(v.(*buffer).mem)
}

func (d *Device) CreateImage(info gpu.ImageInfo) (gpu.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if info.Width == 0 || info.Height == 0 {
		return 0, d.violate("image extent %dx%d is empty", info.Width, info.Height)
	}
	if info.Format.Size() == 0 {
		return 0, d.violate("image format %d is not supported", info.Format)
	}
	if info.Format.IsDepth() && info.Tiling == gpu.TilingLinear {
		return 0, d.violate("depth images require optimal tiling")
	}
	return gpu.Image(d.register(gpu.KindImage, &image{info: info, layout: gpu.LayoutUndefined})), nil
}

func (d *Device) ImageRequirements(img gpu.Image) gpu.MemoryRequirements {
	d.mu.Lock()
	defer d.mu.Unlock()

	im, err := lookup[image](d, gpu.KindImage, gpu.Handle(img))
	if err != nil {
		return gpu.MemoryRequirements{}
	}
	return gpu.MemoryRequirements{
		Size:           alignUp(im.byteSize(), d.cfg.ImageAlignment),
		Alignment:      d.cfg.ImageAlignment,
		MemoryTypeBits: d.cfg.ImageMemoryTypeBits,
	}
}

func (d *Device) DestroyImage(img gpu.Image) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if obj, ok := d.objects[gpu.Handle(img)]; ok && obj.owned {
		d.violate("image %d is owned by a swapchain", img)
		return
	}
	v, ok := d.release(gpu.KindImage, gpu.Handle(img))
	if !ok {
		return
	}
	d.unbind(v.(*image).mem)
}

func (d *Device) AllocateMemory(size uint64, typeIndex uint32) (gpu.Memory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if int(typeIndex) >= len(d.cfg.MemoryTypes) {
		return 0, d.violate("memory type index %d out of range", typeIndex)
	}
	if size == 0 {
		return 0, d.violate("allocation size must be greater than zero")
	}
	if limit := d.cfg.Limits.MaxMemoryAllocationCount; limit > 0 && d.allocations >= int(limit) {
		return 0, gpu.ErrTooManyObjects
	}
	local := d.cfg.MemoryTypes[typeIndex].Flags.Has(gpu.MemoryDeviceLocal)
	if local && d.cfg.DeviceLocalBudget > 0 && d.deviceLocal+size > d.cfg.DeviceLocalBudget {
		return 0, gpu.ErrOutOfDeviceMemory
	}

	if local {
		d.deviceLocal += size
	}
	d.allocations++
	mem := &memory{typeIndex: typeIndex, data: make([]byte, size)}
	return gpu.Memory(d.register(gpu.KindMemory, mem)), nil
}

func (d *Device) FreeMemory(m gpu.Memory) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if m == 0 {
		return
	}
	mem, err := lookup[memory](d, gpu.KindMemory, gpu.Handle(m))
	if err != nil {
		return
	}
	if mem.bound > 0 {
		d.violate("memory %d freed while %d resources are still bound to it", m, mem.bound)
	}
	d.release(gpu.KindMemory, gpu.Handle(m))
	d.allocations--
	if d.cfg.MemoryTypes[mem.typeIndex].Flags.Has(gpu.MemoryDeviceLocal) {
		d.deviceLocal -= uint64(len(mem.data))
	}
}

func (d *Device) unbind(m gpu.Memory) {
	if m == 0 {
		return
	}
	if obj, ok := d.objects[gpu.Handle(m)]; ok {
		obj.value.(*memory).bound--
	}
}

// bindRange validates a bind of size bytes at offset and returns the backing
// memory slice.
func (d *Device) bindRange(m gpu.Memory, offset, size, alignment uint64, typeBits uint32) ([]byte, *memory, error) {
	mem, err := lookup[memory](d, gpu.KindMemory, gpu.Handle(m))
	if err != nil {
		return nil, nil, err
	}
	if typeBits&(1<<mem.typeIndex) == 0 {
		return nil, nil, d.violate("memory type %d is not allowed by mask %#b", mem.typeIndex, typeBits)
	}
	if alignment > 0 && offset%alignment != 0 {
		return nil, nil, d.violate("bind offset %d is not aligned to %d", offset, alignment)
	}
	if offset+size > uint64(len(mem.data)) {
		return nil, nil, d.violate("bind of %d bytes at %d exceeds allocation of %d bytes",
			size, offset, len(mem.data))
	}
	return mem.data[offset : offset+size : offset+size], mem, nil
}

func (d *Device) BindBufferMemory(buf gpu.Buffer, m gpu.Memory, offset uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, err := lookup[buffer](d, gpu.KindBuffer, gpu.Handle(buf))
	if err != nil {
		return err
	}
	if b.mem != 0 {
		return d.violate("buffer %d is already bound", buf)
	}
	data, mem, err := d.bindRange(m, offset, b.size, d.cfg.BufferAlignment, d.cfg.BufferMemoryTypeBits)
	if err != nil {
		return err
	}
	mem.bound++
	b.mem, b.offset, b.data = m, offset, data
	return nil
}

func (d *Device) BindImageMemory(img gpu.Image, m gpu.Memory, offset uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	im, err := lookup[image](d, gpu.KindImage, gpu.Handle(img))
	if err != nil {
		return err
	}
	if im.mem != 0 || im.owner != 0 {
		return d.violate("image %d is already bound", img)
	}
	data, mem, err := d.bindRange(m, offset, im.byteSize(), d.cfg.ImageAlignment, d.cfg.ImageMemoryTypeBits)
	if err != nil {
		return err
	}
	mem.bound++
	im.mem, im.data = m, data
	return nil
}

func (d *Device) MapMemory(m gpu.Memory, offset, size uint64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	mem, err := lookup[memory](d, gpu.KindMemory, gpu.Handle(m))
	if err != nil {
		return nil, err
	}
	if !d.cfg.MemoryTypes[mem.typeIndex].Flags.Has(gpu.MemoryHostVisible) {
		return nil, d.violate("memory %d of type %d is not host visible", m, mem.typeIndex)
	}
	if mem.mapped {
		return nil, d.violate("memory %d is already mapped", m)
	}
	if offset+size > uint64(len(mem.data)) {
		return nil, d.violate("map of %d bytes at %d exceeds allocation", size, offset)
	}
	mem.mapped = true
	return mem.data[offset : offset+size : offset+size], nil
}

func (d *Device) UnmapMemory(m gpu.Memory) {
	d.mu.Lock()
	defer d.mu.Unlock()

	mem, err := lookup[memory](d, gpu.KindMemory, gpu.Handle(m))
	if err != nil {
		return
	}
	if !mem.mapped {
		d.violate("memory %d is not mapped", m)
		return
	}
	mem.mapped = false
}
