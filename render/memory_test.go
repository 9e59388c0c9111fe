package render

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	. "github.com/onsi/gomega"

	"github.com/ironsmile/vulkan-render-go/gpu"
	"github.com/ironsmile/vulkan-render-go/gpu/softgpu"
)

func TestFindMemoryType(t *testing.T) {
	types := softgpu.DefaultConfig().MemoryTypes
	hostCoherent := gpu.MemoryHostVisible | gpu.MemoryHostCoherent

	tests := []struct {
		desc     string
		typeBits uint32
		desired  gpu.MemoryPropertyFlags
		want     uint32
		wantErr  bool
	}{
		{desc: "device local", typeBits: 0b1111, desired: gpu.MemoryDeviceLocal, want: 0},
		{desc: "host coherent", typeBits: 0b1111, desired: hostCoherent, want: 1},
		{desc: "lowest of several", typeBits: 0b1110, desired: gpu.MemoryHostVisible, want: 1},
		{desc: "mask skips", typeBits: 0b0101, desired: gpu.MemoryHostVisible, want: 2},
		{desc: "cached", typeBits: 0b1111, desired: gpu.MemoryHostCached, want: 3},
		{desc: "no flags", typeBits: 0b1000, desired: 0, want: 3},
		{desc: "mask excludes all", typeBits: 0b0001, desired: gpu.MemoryHostVisible, wantErr: true},
		{desc: "empty mask", typeBits: 0, desired: 0, wantErr: true},
		{desc: "mask past types", typeBits: 1 << 7, desired: 0, wantErr: true},
	}

	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			g := NewWithT(t)

			// The selection must not depend on anything but its input.
			for range 3 {
				got, err := FindMemoryType(types, test.typeBits, test.desired)
				if test.wantErr {
					g.Expect(errors.Is(err, ErrNoCompatibleMemoryType)).To(BeTrue())
					continue
				}
				g.Expect(err).NotTo(HaveOccurred())
				g.Expect(got).To(Equal(test.want))
			}
		})
	}
}

func TestFindMemoryTypeWithoutTypes(t *testing.T) {
	g := NewWithT(t)

	_, err := FindMemoryType(nil, 0xFFFFFFFF, 0)
	g.Expect(errors.Is(err, ErrNoCompatibleMemoryType)).To(BeTrue())
}

func TestAllocateAndFree(t *testing.T) {
	g := NewWithT(t)
	dev := newTestDevice(t, softgpu.DefaultConfig())
	memory := NewMemoryAllocator(dev)

	buf, err := dev.CreateBuffer(1000, gpu.BufferUsageVertex)
	g.Expect(err).NotTo(HaveOccurred())

	alloc, err := memory.Allocate(dev.BufferRequirements(buf), gpu.MemoryHostVisible)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(alloc.TypeIndex).To(Equal(uint32(1)))
	g.Expect(alloc.Size).To(Equal(uint64(1024)))
	g.Expect(alloc.HostVisible()).To(BeTrue())
	g.Expect(memory.BindBuffer(buf, alloc)).To(Succeed())
	g.Expect(memory.LiveAllocations()).To(Equal(1))

	data, err := memory.Map(alloc, 1000)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(data).To(HaveLen(1000))
	memory.Unmap(alloc)

	dev.DestroyBuffer(buf)
	memory.Free(alloc)
	memory.Free(alloc)
	g.Expect(memory.LiveAllocations()).To(BeZero())
	g.Expect(dev.Violations()).To(BeEmpty())
}

func TestMapDeviceLocalFails(t *testing.T) {
	g := NewWithT(t)
	dev := newTestDevice(t, softgpu.DefaultConfig())
	memory := NewMemoryAllocator(dev)

	alloc, err := memory.Allocate(gpu.MemoryRequirements{Size: 256, Alignment: 256, MemoryTypeBits: 0b1}, gpu.MemoryDeviceLocal)
	g.Expect(err).NotTo(HaveOccurred())
	defer memory.Free(alloc)

	_, err = memory.Map(alloc, 256)
	g.Expect(err).To(HaveOccurred())
}

func TestDeviceOutOfMemoryIsExhaustion(t *testing.T) {
	g := NewWithT(t)
	cfg := softgpu.DefaultConfig()
	cfg.DeviceLocalBudget = 4096
	dev := newTestDevice(t, cfg)
	memory := NewMemoryAllocator(dev)

	req := gpu.MemoryRequirements{Size: 8192, Alignment: 256, MemoryTypeBits: 0b1111}
	_, err := memory.Allocate(req, gpu.MemoryDeviceLocal)
	g.Expect(errors.Is(err, ErrResourceExhaustion)).To(BeTrue())
	g.Expect(errors.Is(err, gpu.ErrOutOfDeviceMemory)).To(BeTrue())
	g.Expect(memory.LiveAllocations()).To(BeZero())
}

func TestMemoryStats(t *testing.T) {
	g := NewWithT(t)
	dev := newTestDevice(t, softgpu.DefaultConfig())
	memory := NewMemoryAllocator(dev)

	a, err := memory.Allocate(gpu.MemoryRequirements{Size: 512, MemoryTypeBits: 0b1111}, gpu.MemoryDeviceLocal)
	g.Expect(err).NotTo(HaveOccurred())
	b, err := memory.Allocate(gpu.MemoryRequirements{Size: 256, MemoryTypeBits: 0b1111}, gpu.MemoryHostVisible)
	g.Expect(err).NotTo(HaveOccurred())
	memory.Free(b)

	w := jwriter.NewWriter()
	obj := w.Object()
	memory.WriteStats(&obj)
	obj.End()
	g.Expect(w.Error()).NotTo(HaveOccurred())

	var stats struct {
		Memory struct {
			Allocations int     `json:"allocations"`
			Live        int     `json:"live"`
			LiveBytes   float64 `json:"liveBytes"`
			PeakBytes   float64 `json:"peakBytes"`
			Types       []struct {
				Index int `json:"index"`
				Count int `json:"count"`
			} `json:"types"`
		} `json:"memory"`
	}
	g.Expect(json.NewDecoder(bytes.NewReader(w.Bytes())).Decode(&stats)).To(Succeed())
	g.Expect(stats.Memory.Allocations).To(Equal(2))
	g.Expect(stats.Memory.Live).To(Equal(1))
	g.Expect(stats.Memory.LiveBytes).To(Equal(512.0))
	g.Expect(stats.Memory.PeakBytes).To(Equal(768.0))
	g.Expect(stats.Memory.Types).To(HaveLen(2))
	g.Expect(stats.Memory.Types[0].Index).To(Equal(0))
	g.Expect(stats.Memory.Types[0].Count).To(Equal(1))
	g.Expect(stats.Memory.Types[1].Count).To(Equal(0))

	memory.Free(a)
}
