package render

import (
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/ironsmile/vulkan-render-go/gpu"
)

// MaxPushConstantSize is the largest push constant block a pipeline layout
// may declare.
const MaxPushConstantSize = 128

// VertexAttribute is one shader input read from the vertex record.
type VertexAttribute struct {
	Location uint32
	Format   gpu.Format
	Offset   uint32
}

// VertexLayout describes the single interleaved vertex buffer binding.
type VertexLayout struct {
	Stride     uint32
	Attributes []VertexAttribute
}

// DefaultVertexLayout is the layout of Vertex: position, colour and texture
// coordinates.
func DefaultVertexLayout() VertexLayout {
	return VertexLayout{
		Stride: VertexSize,
		Attributes: []VertexAttribute{
			{Location: 0, Format: gpu.FormatR32G32B32Sfloat, Offset: 0},
			{Location: 1, Format: gpu.FormatR32G32B32Sfloat, Offset: 12},
			{Location: 2, Format: gpu.FormatR32G32Sfloat, Offset: 24},
		},
	}
}

// Validate checks that every attribute lies inside the stride, that no two
// attributes overlap and that locations are unique.
func (l VertexLayout) Validate() error {
	if l.Stride == 0 {
		return configErrorf("vertex stride is zero")
	}
	if len(l.Attributes) == 0 {
		return configErrorf("vertex layout has no attributes")
	}

	attrs := append([]VertexAttribute(nil), l.Attributes...)
	sort.Slice(attrs, func(i, j int) bool { return attrs[i].Offset < attrs[j].Offset })

	locations := make(map[uint32]bool, len(attrs))
	for i, a := range attrs {
		size := a.Format.Size()
		if size == 0 {
			return configErrorf("attribute at location %d has unsupported format %d", a.Location, a.Format)
		}
		if locations[a.Location] {
			return configErrorf("location %d used twice", a.Location)
		}
		locations[a.Location] = true

		if a.Offset+size > l.Stride {
			return configErrorf("attribute at location %d ends at %d, past the %d byte stride",
				a.Location, a.Offset+size, l.Stride)
		}
		if i > 0 {
			prev := attrs[i-1]
			if prev.Offset+prev.Format.Size() > a.Offset {
				return configErrorf("attributes at locations %d and %d overlap", prev.Location, a.Location)
			}
		}
	}
	return nil
}

// ShaderStage is compiled SPIR-V code for one pipeline stage.
type ShaderStage struct {
	Stage gpu.ShaderStage
	Code  []byte
	Entry string
}

// PipelineLayout is the set layouts and push constant range shared by the
// pipelines built with it.
type PipelineLayout struct {
	Handle           gpu.PipelineLayout
	SetLayouts       []*SetLayout
	PushConstantSize uint32
	PushStages       gpu.ShaderStage
}

// PipelineDesc describes a graphics pipeline. Everything not listed here is
// fixed: triangle lists, back-face culling with clockwise front faces, one
// sample, alpha-over blending and dynamic viewport and scissor.
type PipelineDesc struct {
	VertexLayout VertexLayout
	Stages       []ShaderStage
	Layout       *PipelineLayout
	RenderPass   gpu.RenderPass
	DepthTest    bool
}

// Pipeline is an immutable graphics pipeline.
type Pipeline struct {
	Handle gpu.Pipeline
	Layout *PipelineLayout
}

// PipelineBuilder creates render passes, pipeline layouts and pipelines.
type PipelineBuilder struct {
	dev       gpu.Device
	pushLimit uint32
}

// NewPipelineBuilder returns a builder for dev.
func NewPipelineBuilder(dev gpu.Device) *PipelineBuilder {
	return &PipelineBuilder{
		dev:       dev,
		pushLimit: dev.Capabilities().Limits.MaxPushConstantsSize,
	}
}

// CreateRenderPass creates a single subpass render pass with a cleared
// colour attachment that ends ready for presentation. When depth is not
// FormatUndefined a cleared depth attachment is added.
func (b *PipelineBuilder) CreateRenderPass(color, depth gpu.Format) (gpu.RenderPass, error) {
	info := gpu.RenderPassInfo{
		Color: gpu.AttachmentInfo{
			Format:        color,
			Clear:         true,
			Store:         true,
			InitialLayout: gpu.LayoutUndefined,
			FinalLayout:   gpu.LayoutPresentSrc,
		},
	}
	if depth != gpu.FormatUndefined {
		info.Depth = &gpu.AttachmentInfo{
			Format:        depth,
			Clear:         true,
			InitialLayout: gpu.LayoutUndefined,
			FinalLayout:   gpu.LayoutDepthStencilAttachmentOptimal,
		}
	}

	rp, err := b.dev.CreateRenderPass(info)
	if err != nil {
		return 0, classify(err, "create render pass")
	}
	return rp, nil
}

// NewPipelineLayout creates a layout over setLayouts with one push constant
// block of pushSize bytes visible to pushStages. A pushSize of zero declares
// no push constants.
func (b *PipelineBuilder) NewPipelineLayout(
	setLayouts []*SetLayout,
	pushSize uint32,
	pushStages gpu.ShaderStage,
) (*PipelineLayout, error) {
	if pushSize > MaxPushConstantSize {
		return nil, configErrorf("push constant block of %d bytes exceeds %d", pushSize, MaxPushConstantSize)
	}
	if pushSize > b.pushLimit {
		return nil, configErrorf("push constant block of %d bytes exceeds the device limit of %d",
			pushSize, b.pushLimit)
	}
	if pushSize%4 != 0 {
		return nil, configErrorf("push constant size %d is not a multiple of 4", pushSize)
	}

	handles := make([]gpu.DescriptorSetLayout, len(setLayouts))
	for i, l := range setLayouts {
		handles[i] = l.Handle
	}

	var push *gpu.PushConstantRange
	if pushSize > 0 {
		if pushStages == 0 {
			return nil, configErrorf("push constants are not visible to any stage")
		}
		push = &gpu.PushConstantRange{Stages: pushStages, Size: pushSize}
	}

	handle, err := b.dev.CreatePipelineLayout(handles, push)
	if err != nil {
		return nil, classify(err, "create pipeline layout")
	}

	return &PipelineLayout{
		Handle:           handle,
		SetLayouts:       append([]*SetLayout(nil), setLayouts...),
		PushConstantSize: pushSize,
		PushStages:       pushStages,
	}, nil
}

// DestroyPipelineLayout destroys l.
func (b *PipelineBuilder) DestroyPipelineLayout(l *PipelineLayout) {
	b.dev.DestroyPipelineLayout(l.Handle)
}

// Build creates the pipeline described by desc. Shader modules only live
// for the duration of the call.
func (b *PipelineBuilder) Build(desc PipelineDesc) (*Pipeline, error) {
	if err := desc.VertexLayout.Validate(); err != nil {
		return nil, err
	}
	if desc.Layout == nil {
		return nil, configErrorf("pipeline has no layout")
	}
	if len(desc.Stages) == 0 {
		return nil, configErrorf("pipeline has no shader stages")
	}

	var stages []gpu.ShaderStageInfo
	defer func() {
		for _, s := range stages {
			b.dev.DestroyShaderModule(s.Module)
		}
	}()

	var seen gpu.ShaderStage
	for _, s := range desc.Stages {
		if seen&s.Stage != 0 {
			return nil, configErrorf("shader stage %#x given twice", s.Stage)
		}
		seen |= s.Stage

		module, err := b.dev.CreateShaderModule(s.Code)
		if err != nil {
			return nil, errors.Wrapf(classify(err, "create shader module"), "stage %#x", s.Stage)
		}
		entry := s.Entry
		if entry == "" {
			entry = "main"
		}
		stages = append(stages, gpu.ShaderStageInfo{Stage: s.Stage, Module: module, Entry: entry})
	}
	if seen&gpu.ShaderStageVertex == 0 {
		return nil, configErrorf("pipeline has no vertex shader")
	}

	attrs := make([]gpu.VertexAttribute, len(desc.VertexLayout.Attributes))
	for i, a := range desc.VertexLayout.Attributes {
		attrs[i] = gpu.VertexAttribute{Location: a.Location, Format: a.Format, Offset: a.Offset}
	}

	info := gpu.GraphicsPipelineInfo{
		Stages:       stages,
		VertexStride: desc.VertexLayout.Stride,
		Attributes:   attrs,
		CullMode:     gpu.CullBack,
		FrontFace:    gpu.FrontFaceClockwise,
		Samples:      1,
		Blend:        gpu.BlendState{Enable: true, AlphaOver: true},
		Layout:       desc.Layout.Handle,
		RenderPass:   desc.RenderPass,
	}
	if desc.DepthTest {
		info.Depth = gpu.DepthState{
			TestEnable:  true,
			WriteEnable: true,
			Compare:     gpu.CompareLessOrEqual,
		}
	}

	handle, err := b.dev.CreateGraphicsPipeline(info)
	if err != nil {
		return nil, classify(err, "create graphics pipeline")
	}

	Logger().Debug("pipeline created",
		"stages", len(stages),
		"stride", desc.VertexLayout.Stride,
		"depthTest", desc.DepthTest,
	)
	return &Pipeline{Handle: handle, Layout: desc.Layout}, nil
}

// DestroyPipeline destroys p. Its layout is left alone.
func (b *PipelineBuilder) DestroyPipeline(p *Pipeline) {
	b.dev.DestroyPipeline(p.Handle)
}
