package render

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"

	"github.com/ironsmile/vulkan-render-go/gpu"
)

// Allocation is a block of device memory of a single memory type. It backs
// exactly one buffer or image.
type Allocation struct {
	Memory    gpu.Memory
	Size      uint64
	TypeIndex uint32
	Flags     gpu.MemoryPropertyFlags

	freed bool
}

// HostVisible reports whether the allocation can be mapped.
func (a *Allocation) HostVisible() bool {
	return a.Flags.Has(gpu.MemoryHostVisible)
}

type typeUsage struct {
	count int
	bytes uint64
}

// MemoryAllocator selects memory types and allocates device memory. Binding
// an allocation to a resource is a separate step so the same allocation path
// serves buffers and images.
type MemoryAllocator struct {
	dev   gpu.Device
	types []gpu.MemoryType

	usage map[uint32]typeUsage
	total int
	peak  uint64
	live  uint64
}

// NewMemoryAllocator creates an allocator over the memory types of dev.
func NewMemoryAllocator(dev gpu.Device) *MemoryAllocator {
	return &MemoryAllocator{
		dev:   dev,
		types: dev.Capabilities().MemoryTypes,
		usage: make(map[uint32]typeUsage),
	}
}

// FindMemoryType returns the lowest index i of types such that bit i of
// typeBits is set and the flags of type i contain all of desired.
func FindMemoryType(types []gpu.MemoryType, typeBits uint32, desired gpu.MemoryPropertyFlags) (uint32, error) {
	for i, t := range types {
		if i >= 32 {
			break
		}
		if typeBits&(1<<uint(i)) == 0 {
			continue
		}
		if !t.Flags.Has(desired) {
			continue
		}
		return uint32(i), nil
	}

	return 0, errors.Mark(
		errors.Newf("no memory type in mask %#b has flags %#x", typeBits, uint32(desired)),
		ErrNoCompatibleMemoryType,
	)
}

// FindMemoryType selects a memory type of the device. See the package level
// function of the same name.
func (m *MemoryAllocator) FindMemoryType(typeBits uint32, desired gpu.MemoryPropertyFlags) (uint32, error) {
	return FindMemoryType(m.types, typeBits, desired)
}

// Allocate allocates req.Size bytes from the lowest compatible memory type.
func (m *MemoryAllocator) Allocate(req gpu.MemoryRequirements, desired gpu.MemoryPropertyFlags) (*Allocation, error) {
	typeIndex, err := m.FindMemoryType(req.MemoryTypeBits, desired)
	if err != nil {
		return nil, err
	}

	mem, err := m.dev.AllocateMemory(req.Size, typeIndex)
	if err != nil {
		return nil, classify(err, "allocate memory")
	}

	u := m.usage[typeIndex]
	u.count++
	u.bytes += req.Size
	m.usage[typeIndex] = u
	m.total++
	m.live += req.Size
	m.peak = max(m.peak, m.live)

	Logger().Debug("memory allocated",
		"size", req.Size,
		"alignment", req.Alignment,
		"type", typeIndex,
	)

	return &Allocation{
		Memory:    mem,
		Size:      req.Size,
		TypeIndex: typeIndex,
		Flags:     m.types[typeIndex].Flags,
	}, nil
}

// Free releases the allocation. The resource bound to it must already be
// destroyed. Freeing twice is a no-op.
func (m *MemoryAllocator) Free(a *Allocation) {
	if a == nil || a.freed {
		return
	}
	a.freed = true
	m.dev.FreeMemory(a.Memory)

	u := m.usage[a.TypeIndex]
	u.count--
	u.bytes -= a.Size
	m.usage[a.TypeIndex] = u
	m.live -= a.Size
}

// BindBuffer binds buf to the start of a.
func (m *MemoryAllocator) BindBuffer(buf gpu.Buffer, a *Allocation) error {
	return classify(m.dev.BindBufferMemory(buf, a.Memory, 0), "bind buffer memory")
}

// BindImage binds img to the start of a.
func (m *MemoryAllocator) BindImage(img gpu.Image, a *Allocation) error {
	return classify(m.dev.BindImageMemory(img, a.Memory, 0), "bind image memory")
}

// Map maps size bytes of a. The allocation must be host visible.
func (m *MemoryAllocator) Map(a *Allocation, size uint64) ([]byte, error) {
	if !a.HostVisible() {
		return nil, errors.Newf("memory type %d is not host visible", a.TypeIndex)
	}
	data, err := m.dev.MapMemory(a.Memory, 0, size)
	if err != nil {
		return nil, classify(err, "map memory")
	}
	return data, nil
}

// Unmap unmaps a previously mapped allocation.
func (m *MemoryAllocator) Unmap(a *Allocation) {
	m.dev.UnmapMemory(a.Memory)
}

// LiveAllocations returns the number of allocations not yet freed.
func (m *MemoryAllocator) LiveAllocations() int {
	n := 0
	for _, u := range m.usage {
		n += u.count
	}
	return n
}

// WriteStats writes allocator statistics as a JSON object property of obj.
func (m *MemoryAllocator) WriteStats(obj *jwriter.ObjectState) {
	stats := obj.Name("memory").Object()
	defer stats.End()

	stats.Name("allocations").Int(m.total)
	stats.Name("live").Int(m.LiveAllocations())
	stats.Name("liveBytes").Float64(float64(m.live))
	stats.Name("peakBytes").Float64(float64(m.peak))

	indices := make([]int, 0, len(m.usage))
	for i := range m.usage {
		indices = append(indices, int(i))
	}
	sort.Ints(indices)

	types := stats.Name("types").Array()
	defer types.End()
	for _, i := range indices {
		u := m.usage[uint32(i)]
		t := types.Object()
		t.Name("index").Int(i)
		t.Name("flags").Int(int(m.types[i].Flags))
		t.Name("count").Int(u.count)
		t.Name("bytes").Float64(float64(u.bytes))
		t.End()
	}
}
