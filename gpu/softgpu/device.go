// Package softgpu implements gpu.Device in memory.
//
// The device exposes one universal queue family. Submitted command buffers
// are executed in submission order by a goroutine, optionally after a fixed
// delay, so fences and semaphores behave asynchronously the way they do on a
// real GPU. Images and buffers are backed by byte slices of their bound
// memory, which makes copies observable.
//
// The device validates the usage rules the renderer relies on: image layouts
// on copies, draws and presentation, command buffer states, fence and
// semaphore signaling, objects destroyed while a pending submission uses
// them, double destruction and leaks at Destroy. Violations are collected
// and reported by Violations; most of them are also returned as errors from
// the offending call.
package softgpu

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/ironsmile/vulkan-render-go/gpu"
)

// ErrValidation marks every error caused by incorrect API usage.
var ErrValidation = errors.New("softgpu validation")

// Config describes the device to emulate.
type Config struct {
	DeviceName  string
	MemoryTypes []gpu.MemoryType
	Limits      gpu.Limits

	// DeviceLocalBudget caps the bytes allocated from memory types with
	// the device local flag. Zero means unlimited.
	DeviceLocalBudget uint64

	BufferAlignment      uint64
	ImageAlignment       uint64
	BufferMemoryTypeBits uint32
	ImageMemoryTypeBits  uint32

	// DepthFormats lists the depth formats usable as attachments with
	// optimal tiling.
	DepthFormats []gpu.Format

	SurfaceExtent   gpu.Extent2D
	SurfaceFormats  []gpu.SurfaceFormat
	PresentModes    []gpu.PresentMode
	MinImageCount   uint32
	MaxImageCount   uint32
	MinSurfaceSize  gpu.Extent2D
	MaxSurfaceSize  gpu.Extent2D
	FixedSurfaceExt bool

	// ExecDelay is slept by the queue before executing each submission.
	ExecDelay time.Duration
}

// DefaultConfig returns a desktop-like device with four memory types, a
// 800x600 surface and no execution delay.
func DefaultConfig() Config {
	return Config{
		DeviceName: "softgpu",
		MemoryTypes: []gpu.MemoryType{
			{Flags: gpu.MemoryDeviceLocal, HeapIndex: 0},
			{Flags: gpu.MemoryHostVisible | gpu.MemoryHostCoherent, HeapIndex: 1},
			{Flags: gpu.MemoryDeviceLocal | gpu.MemoryHostVisible | gpu.MemoryHostCoherent, HeapIndex: 0},
			{Flags: gpu.MemoryHostVisible | gpu.MemoryHostCoherent | gpu.MemoryHostCached, HeapIndex: 1},
		},
		Limits: gpu.Limits{
			MaxPushConstantsSize:            128,
			MinUniformBufferOffsetAlignment: 256,
			MaxSamplerAnisotropy:            16,
			MaxMemoryAllocationCount:        4096,
		},
		BufferAlignment:      256,
		ImageAlignment:       4096,
		BufferMemoryTypeBits: 0b1111,
		ImageMemoryTypeBits:  0b0101,
		DepthFormats:         []gpu.Format{gpu.FormatD32Sfloat, gpu.FormatD24UnormS8Uint},
		SurfaceExtent:        gpu.Extent2D{Width: 800, Height: 600},
		SurfaceFormats: []gpu.SurfaceFormat{
			{Format: gpu.FormatB8G8R8A8Srgb, ColorSpace: gpu.ColorSpaceSrgbNonlinear},
			{Format: gpu.FormatB8G8R8A8Unorm, ColorSpace: gpu.ColorSpaceSrgbNonlinear},
		},
		PresentModes:    []gpu.PresentMode{gpu.PresentModeFifo, gpu.PresentModeMailbox},
		MinImageCount:   2,
		MaxImageCount:   8,
		MinSurfaceSize:  gpu.Extent2D{Width: 1, Height: 1},
		MaxSurfaceSize:  gpu.Extent2D{Width: 16384, Height: 16384},
		FixedSurfaceExt: true,
	}
}

// DestroyRecord is one entry of the destruction log.
type DestroyRecord struct {
	Kind   gpu.ObjectKind
	Handle gpu.Handle
}

// DrawRecord describes one executed indexed draw.
type DrawRecord struct {
	Pipeline      gpu.Pipeline
	Framebuffer   gpu.Framebuffer
	IndexCount    uint32
	PushConstants []byte
	Sets          []gpu.DescriptorSet
}

// Stats are counters kept by the queue.
type Stats struct {
	Submissions    int
	Completed      int
	Outstanding    int
	MaxOutstanding int
	Presents       int
}

type object struct {
	kind  gpu.ObjectKind
	value any

	// owned objects are destroyed together with their owner and are not
	// reported as live objects.
	owned bool
}

// Device is an in-memory gpu.Device. It is safe for concurrent use.
type Device struct {
	cfg  Config
	caps gpu.PhysicalCapabilities

	mu   sync.Mutex
	cond *sync.Cond

	next    uint64
	objects map[gpu.Handle]*object

	cmdBufs map[gpu.CommandBuffer]*cmdBuffer
	sets    map[gpu.DescriptorSet]*descriptorSet

	allocations int
	deviceLocal uint64
	surface     gpu.Surface
	surfaceExt  gpu.Extent2D
	suboptimal  int
	lost        bool
	destroyed   bool
	destroyLog  []DestroyRecord
	violations  []error
	draws       []DrawRecord
	stats       Stats
	queue       []*submission
	busy        bool
	workerDone  chan struct{}
}

var _ gpu.Device = (*Device)(nil)
var _ gpu.Tracker = (*Device)(nil)

// New creates a device described by cfg and starts its queue.
func New(cfg Config) *Device {
	d := &Device{
		cfg:         cfg,
		objects:     make(map[gpu.Handle]*object),
		cmdBufs:     make(map[gpu.CommandBuffer]*cmdBuffer),
		sets:        make(map[gpu.DescriptorSet]*descriptorSet),
		surfaceExt:  cfg.SurfaceExtent,
		workerDone:  make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)
	d.caps = gpu.PhysicalCapabilities{
		DeviceName:  cfg.DeviceName,
		MemoryTypes: append([]gpu.MemoryType(nil), cfg.MemoryTypes...),
		Limits:      cfg.Limits,
	}
	d.surface = gpu.Surface(d.newHandle())

	go d.runQueue()
	return d
}

// Surface returns the surface presented to by this device's swapchains.
func (d *Device) Surface() gpu.Surface {
	return d.surface
}

func (d *Device) newHandle() gpu.Handle {
	d.next++
	return gpu.Handle(d.next)
}

func (d *Device) register(kind gpu.ObjectKind, value any) gpu.Handle {
	h := d.newHandle()
	d.objects[h] = &object{kind: kind, value: value}
	return h
}

// lookup returns the live object behind h if it has the expected kind.
func lookup[T any](d *Device, kind gpu.ObjectKind, h gpu.Handle) (*T, error) {
	obj, ok := d.objects[h]
	if !ok || obj.kind != kind {
		return nil, d.violate("unknown %s handle %d", kind, h)
	}
	v, ok := obj.value.(*T)
	if !ok {
		return nil, d.violate("%s handle %d has unexpected type %T", kind, h, obj.value)
	}
	return v, nil
}

// release removes h from the registry and logs it. Destroying a null handle
// is a no-op as in Vulkan.
func (d *Device) release(kind gpu.ObjectKind, h gpu.Handle) (any, bool) {
	if h == gpu.NullHandle {
		return nil, false
	}
	obj, ok := d.objects[h]
	if !ok || obj.kind != kind {
		d.violate("destroying unknown or already destroyed %s %d", kind, h)
		return nil, false
	}
	if cb := d.pendingUser(h); cb != 0 {
		d.violate("%s %d destroyed while in use by pending command buffer %d", kind, h, cb)
	}
	delete(d.objects, h)
	d.destroyLog = append(d.destroyLog, DestroyRecord{Kind: kind, Handle: h})
	return obj.value, true
}

// pendingUser returns a pending command buffer referencing h, or zero.
func (d *Device) pendingUser(h gpu.Handle) gpu.CommandBuffer {
	for id, cb := range d.cmdBufs {
		if cb.state != cbPending {
			continue
		}
		if _, ok := cb.refs[h]; ok {
			return id
		}
	}
	return 0
}

// violate records a validation failure and returns it as an error.
func (d *Device) violate(format string, args ...any) error {
	err := errors.Mark(errors.Newf(format, args...), ErrValidation)
	d.violations = append(d.violations, err)
	return err
}

// Violations returns the validation failures observed so far.
func (d *Device) Violations() []error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]error(nil), d.violations...)
}

// DestroyLog returns every destroyed object in destruction order.
func (d *Device) DestroyLog() []DestroyRecord {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]DestroyRecord(nil), d.destroyLog...)
}

// Draws returns the draws executed by the queue so far.
func (d *Device) Draws() []DrawRecord {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]DrawRecord(nil), d.draws...)
}

// Stats returns the queue counters.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.stats
}

// LiveObjects counts the objects that have been created and not destroyed.
func (d *Device) LiveObjects() map[gpu.ObjectKind]int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.liveLocked()
}

func (d *Device) liveLocked() map[gpu.ObjectKind]int {
	live := make(map[gpu.ObjectKind]int)
	for _, obj := range d.objects {
		if obj.owned {
			continue
		}
		live[obj.kind]++
	}
	return live
}

// LiveCount is the total of LiveObjects.
func (d *Device) LiveCount() int {
	n := 0
	for _, c := range d.LiveObjects() {
		n += c
	}
	return n
}

// Resize changes the surface extent. Swapchains created for another extent
// report gpu.ErrOutOfDate from then on.
func (d *Device) Resize(extent gpu.Extent2D) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.surfaceExt = extent
}

// InjectSuboptimal makes the next n acquires return gpu.ErrSuboptimal.
func (d *Device) InjectSuboptimal(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.suboptimal += n
}

// LoseDevice makes every following queue and wait operation fail with
// gpu.ErrDeviceLost.
func (d *Device) LoseDevice() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.lost = true
	d.cond.Broadcast()
}

func (d *Device) Capabilities() gpu.PhysicalCapabilities {
	return d.caps
}

func (d *Device) Queue(role gpu.QueueRole) gpu.Queue {
	return 1
}

func (d *Device) FormatFeatures(format gpu.Format, tiling gpu.ImageTiling) gpu.FormatFeatures {
	if format.IsDepth() {
		if tiling != gpu.TilingOptimal {
			return 0
		}
		for _, f := range d.cfg.DepthFormats {
			if f == format {
				return gpu.FormatFeatureDepthStencilAttachment
			}
		}
		return 0
	}
	if format.Size() == 0 {
		return 0
	}
	return gpu.FormatFeatureSampledImage | gpu.FormatFeatureColorAttachment
}

func (d *Device) SurfaceSupport(surface gpu.Surface) (gpu.SurfaceSupport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if surface != d.surface {
		return gpu.SurfaceSupport{}, d.violate("unknown surface %d", surface)
	}

	current := gpu.Extent2D{Width: math.MaxUint32, Height: math.MaxUint32}
	if d.cfg.FixedSurfaceExt {
		current = d.surfaceExt
	}
	return gpu.SurfaceSupport{
		Capabilities: gpu.SurfaceCapabilities{
			MinImageCount:  d.cfg.MinImageCount,
			MaxImageCount:  d.cfg.MaxImageCount,
			CurrentExtent:  current,
			MinImageExtent: d.cfg.MinSurfaceSize,
			MaxImageExtent: d.cfg.MaxSurfaceSize,
		},
		Formats:      append([]gpu.SurfaceFormat(nil), d.cfg.SurfaceFormats...),
		PresentModes: append([]gpu.PresentMode(nil), d.cfg.PresentModes...),
	}, nil
}

// Destroy stops the queue. Objects still alive at this point are reported
// as leaks.
func (d *Device) Destroy() {
	d.mu.Lock()
	if d.destroyed {
		d.violate("device destroyed twice")
		d.mu.Unlock()
		return
	}
	d.destroyed = true
	for kind, n := range d.liveLocked() {
		d.violate("%d %s objects leaked at device destruction", n, kind)
	}
	d.cond.Broadcast()
	d.mu.Unlock()

	<-d.workerDone
}

func (d *Device) String() string {
	return fmt.Sprintf("softgpu(%s)", d.cfg.DeviceName)
}
