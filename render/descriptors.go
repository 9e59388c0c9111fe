package render

import (
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/ironsmile/vulkan-render-go/gpu"
)

// BindingKind is the kind of resource a binding slot accepts.
type BindingKind int

const (
	Uniform BindingKind = iota + 1
	DynamicUniform
	PushConstant
	CombinedImageSampler
)

func (k BindingKind) String() string {
	switch k {
	case Uniform:
		return "uniform"
	case DynamicUniform:
		return "dynamic uniform"
	case PushConstant:
		return "push constant"
	case CombinedImageSampler:
		return "combined image sampler"
	}
	return "invalid binding kind"
}

// descriptorType maps kinds that live in descriptor sets to their device
// descriptor type. Push constants belong to the pipeline layout.
func (k BindingKind) descriptorType() (gpu.DescriptorType, bool) {
	switch k {
	case Uniform:
		return gpu.DescriptorUniformBuffer, true
	case DynamicUniform:
		return gpu.DescriptorUniformBufferDynamic, true
	case CombinedImageSampler:
		return gpu.DescriptorCombinedImageSampler, true
	}
	return 0, false
}

// Resource is a concrete resource written to a binding. The implementations
// in this package are the only ones.
type Resource interface {
	Kind() BindingKind
	sealed()
}

// UniformResource is a range of a uniform buffer.
type UniformResource struct {
	Buffer *Buffer
	Offset uint64
	Range  uint64
}

// DynamicUniformResource is a uniform buffer range whose offset is given
// when the set is bound.
type DynamicUniformResource struct {
	Buffer *Buffer
	Range  uint64
}

// PushConstantResource is a push constant block. It is recorded into the
// command buffer and can not be written to a descriptor set.
type PushConstantResource struct {
	Data []byte
}

// ImageSamplerResource is a texture read through its sampler.
type ImageSamplerResource struct {
	Texture *Texture
}

func (UniformResource) Kind() BindingKind        { return Uniform }
func (DynamicUniformResource) Kind() BindingKind { return DynamicUniform }
func (PushConstantResource) Kind() BindingKind   { return PushConstant }
func (ImageSamplerResource) Kind() BindingKind   { return CombinedImageSampler }

func (UniformResource) sealed()        {}
func (DynamicUniformResource) sealed() {}
func (PushConstantResource) sealed()   {}
func (ImageSamplerResource) sealed()   {}

// Binding declares one slot of a descriptor set layout.
type Binding struct {
	Index  uint32
	Kind   BindingKind
	Stages gpu.ShaderStage
}

// SetLayout is a descriptor set layout. Bindings are sorted by index.
type SetLayout struct {
	Handle   gpu.DescriptorSetLayout
	Bindings []Binding
}

func (l *SetLayout) count(kind BindingKind) uint32 {
	var n uint32
	for _, b := range l.Bindings {
		if b.Kind == kind {
			n++
		}
	}
	return n
}

// DescriptorSet is a set allocated from the manager's pool.
type DescriptorSet struct {
	Handle gpu.DescriptorSet
	Layout *SetLayout

	written bool
	refs    []leasable
	lease   lease
}

func (s *DescriptorSet) leaseState() *lease { return &s.lease }

// PoolCapacity is the number of descriptor sets and of descriptors of each
// kind a single frame slot may use.
type PoolCapacity struct {
	Sets  uint32
	Kinds map[BindingKind]uint32
}

// DescriptorManager defines set layouts and allocates and writes sets from
// one pool sized up front.
type DescriptorManager struct {
	dev        gpu.Device
	pool       gpu.DescriptorPool
	validation bool

	setsLeft uint32
	left     map[BindingKind]uint32
	layouts  []*SetLayout
}

// NewDescriptorManager creates a pool holding capacity for each of frames
// frame slots.
func NewDescriptorManager(dev gpu.Device, frames int, capacity PoolCapacity, validation bool) (*DescriptorManager, error) {
	if frames < 1 {
		return nil, configErrorf("descriptor pool needs at least one frame slot")
	}

	m := &DescriptorManager{
		dev:        dev,
		validation: validation,
		setsLeft:   capacity.Sets * uint32(frames),
		left:       make(map[BindingKind]uint32),
	}

	kinds := make([]int, 0, len(capacity.Kinds))
	for k := range capacity.Kinds {
		kinds = append(kinds, int(k))
	}
	sort.Ints(kinds)

	sizes := make([]gpu.DescriptorPoolSize, 0, len(kinds))
	for _, k := range kinds {
		kind := BindingKind(k)
		t, ok := kind.descriptorType()
		if !ok {
			return nil, configErrorf("descriptor pool can not hold %s bindings", kind)
		}
		n := capacity.Kinds[kind] * uint32(frames)
		m.left[kind] = n
		sizes = append(sizes, gpu.DescriptorPoolSize{Type: t, Count: n})
	}

	pool, err := dev.CreateDescriptorPool(m.setsLeft, sizes)
	if err != nil {
		return nil, classify(err, "create descriptor pool")
	}
	m.pool = pool

	Logger().Debug("descriptor pool created", "sets", m.setsLeft, "frames", frames)
	return m, nil
}

// DefineLayout creates a set layout. Binding indices must be unique and
// push constants are rejected; they are declared on the pipeline layout.
func (m *DescriptorManager) DefineLayout(bindings []Binding) (*SetLayout, error) {
	if len(bindings) == 0 {
		return nil, configErrorf("descriptor set layout has no bindings")
	}

	sorted := append([]Binding(nil), bindings...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	decl := make([]gpu.DescriptorSetLayoutBinding, 0, len(sorted))
	for i, b := range sorted {
		if i > 0 && sorted[i-1].Index == b.Index {
			return nil, configErrorf("binding %d declared twice", b.Index)
		}
		if b.Kind == PushConstant {
			return nil, configErrorf("binding %d: push constants belong to the pipeline layout", b.Index)
		}
		t, ok := b.Kind.descriptorType()
		if !ok {
			return nil, configErrorf("binding %d has invalid kind %d", b.Index, int(b.Kind))
		}
		if b.Stages == 0 {
			return nil, configErrorf("binding %d is not visible to any shader stage", b.Index)
		}
		decl = append(decl, gpu.DescriptorSetLayoutBinding{
			Binding: b.Index,
			Type:    t,
			Count:   1,
			Stages:  b.Stages,
		})
	}

	handle, err := m.dev.CreateDescriptorSetLayout(decl)
	if err != nil {
		return nil, classify(err, "create descriptor set layout")
	}

	l := &SetLayout{Handle: handle, Bindings: sorted}
	m.layouts = append(m.layouts, l)
	return l, nil
}

// AllocateSets allocates count sets of layout. Running out of sets or of
// descriptors of any kind the layout uses is an ErrResourceExhaustion.
func (m *DescriptorManager) AllocateSets(layout *SetLayout, count int) ([]*DescriptorSet, error) {
	if count <= 0 {
		return nil, nil
	}

	if uint32(count) > m.setsLeft {
		return nil, errors.Mark(
			errors.Newf("descriptor pool has %d of %d requested sets left", m.setsLeft, count),
			ErrResourceExhaustion,
		)
	}
	for _, kind := range []BindingKind{Uniform, DynamicUniform, CombinedImageSampler} {
		need := layout.count(kind) * uint32(count)
		if need > m.left[kind] {
			return nil, errors.Mark(
				errors.Newf("descriptor pool has %d %s descriptors left, %d needed", m.left[kind], kind, need),
				ErrResourceExhaustion,
			)
		}
	}

	layouts := make([]gpu.DescriptorSetLayout, count)
	for i := range layouts {
		layouts[i] = layout.Handle
	}
	handles, err := m.dev.AllocateDescriptorSets(m.pool, layouts)
	if err != nil {
		return nil, classify(err, "allocate descriptor sets")
	}

	m.setsLeft -= uint32(count)
	for _, kind := range []BindingKind{Uniform, DynamicUniform, CombinedImageSampler} {
		m.left[kind] -= layout.count(kind) * uint32(count)
	}

	sets := make([]*DescriptorSet, count)
	for i, h := range handles {
		sets[i] = &DescriptorSet{Handle: h, Layout: layout}
	}
	return sets, nil
}

// WriteSets writes resources to every set in sets. resources[i] is written
// to the i-th binding of the layout in index order and must be of the kind
// that binding declares.
func (m *DescriptorManager) WriteSets(sets []*DescriptorSet, resources []Resource) error {
	var writes []gpu.DescriptorWrite
	var refs []leasable

	for _, res := range resources {
		switch r := res.(type) {
		case UniformResource:
			if r.Buffer != nil {
				refs = append(refs, r.Buffer)
			}
		case DynamicUniformResource:
			if r.Buffer != nil {
				refs = append(refs, r.Buffer)
			}
		case ImageSamplerResource:
			if r.Texture != nil && r.Texture.Image != nil {
				refs = append(refs, r.Texture.Image)
			}
		}
	}

	for _, set := range sets {
		if m.validation && set.lease.leased() {
			return syncViolationf("descriptor set %d rewritten while in use by a frame in flight", set.Handle)
		}

		bindings := set.Layout.Bindings
		if len(resources) != len(bindings) {
			return mismatchf("layout has %d bindings, %d resources given", len(bindings), len(resources))
		}

		for i, res := range resources {
			b := bindings[i]
			if res == nil || res.Kind() != b.Kind {
				return mismatchf("binding %d expects %s, got %s", b.Index, b.Kind, kindOf(res))
			}

			w, err := m.write(set, b, res)
			if err != nil {
				return err
			}
			writes = append(writes, w)
		}
	}

	if err := m.dev.UpdateDescriptorSets(writes); err != nil {
		return classify(err, "update descriptor sets")
	}
	for _, set := range sets {
		set.written = true
		set.refs = refs
	}
	return nil
}

func kindOf(res Resource) string {
	if res == nil {
		return "nothing"
	}
	return res.Kind().String()
}

func (m *DescriptorManager) write(set *DescriptorSet, b Binding, res Resource) (gpu.DescriptorWrite, error) {
	t, _ := b.Kind.descriptorType()
	w := gpu.DescriptorWrite{Set: set.Handle, Binding: b.Index, Type: t}

	switch r := res.(type) {
	case UniformResource:
		if err := checkUniformRange(r.Buffer, r.Offset, r.Range); err != nil {
			return w, errors.Wrapf(err, "binding %d", b.Index)
		}
		w.Buffer = &gpu.DescriptorBufferInfo{Buffer: r.Buffer.Handle, Offset: r.Offset, Range: r.Range}
	case DynamicUniformResource:
		if err := checkUniformRange(r.Buffer, 0, r.Range); err != nil {
			return w, errors.Wrapf(err, "binding %d", b.Index)
		}
		w.Buffer = &gpu.DescriptorBufferInfo{Buffer: r.Buffer.Handle, Range: r.Range}
	case ImageSamplerResource:
		if r.Texture == nil || r.Texture.Image == nil {
			return w, mismatchf("binding %d: texture is nil", b.Index)
		}
		w.Image = &gpu.DescriptorImageInfo{
			View:    r.Texture.Image.View,
			Sampler: r.Texture.Sampler,
			Layout:  gpu.LayoutShaderReadOnlyOptimal,
		}
	default:
		return w, mismatchf("binding %d: %s can not be written to a descriptor set", b.Index, res.Kind())
	}
	return w, nil
}

func checkUniformRange(buf *Buffer, offset, size uint64) error {
	if buf == nil {
		return mismatchf("uniform buffer is nil")
	}
	if !buf.Usage.Has(gpu.BufferUsageUniform) {
		return mismatchf("buffer lacks uniform usage")
	}
	if size == 0 || offset+size > buf.Size {
		return mismatchf("range [%d, %d) outside a %d byte buffer", offset, offset+size, buf.Size)
	}
	return nil
}

// Destroy destroys the pool, which frees every set, and all layouts.
func (m *DescriptorManager) Destroy() {
	m.dev.DestroyDescriptorPool(m.pool)
	m.pool = 0
	for i := len(m.layouts) - 1; i >= 0; i-- {
		m.dev.DestroyDescriptorSetLayout(m.layouts[i].Handle)
	}
	m.layouts = nil
}
