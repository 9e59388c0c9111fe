package vkdriver

import (
	"strings"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/ironsmile/vulkan-render-go/gpu"
	"github.com/ironsmile/vulkan-render-go/unsafer"
)

type renderPass struct {
	handle   vk.RenderPass
	hasDepth bool
}

func (d *Device) CreateShaderModule(code []byte) (gpu.ShaderModule, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return 0, errors.Newf("shader bytecode size %d is not a multiple of 4", len(code))
	}

	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code)),
		PCode:    unsafer.SliceBytesToUint32(code),
	}

	var shaderModule vk.ShaderModule
	res := vk.CreateShaderModule(d.device, &createInfo, nil, &shaderModule)
	if err := result(res); err != nil {
		return 0, errors.Wrap(err, "failed to create shader module")
	}
	return gpu.ShaderModule(d.objs.add(gpu.KindShaderModule, shaderModule, gpu.NullHandle)), nil
}

func (d *Device) DestroyShaderModule(m gpu.ShaderModule) {
	obj, ok := d.objs.remove(gpu.KindShaderModule, gpu.Handle(m))
	if !ok {
		return
	}
	vk.DestroyShaderModule(d.device, obj.value.(vk.ShaderModule), nil)
}

func attachmentDescription(info gpu.AttachmentInfo) vk.AttachmentDescription {
	loadOp := vk.AttachmentLoadOpDontCare
	if info.Clear {
		loadOp = vk.AttachmentLoadOpClear
	} else if info.InitialLayout != gpu.LayoutUndefined {
		loadOp = vk.AttachmentLoadOpLoad
	}

	storeOp := vk.AttachmentStoreOpDontCare
	if info.Store {
		storeOp = vk.AttachmentStoreOpStore
	}

	return vk.AttachmentDescription{
		Format:         vk.Format(info.Format),
		Samples:        vk.SampleCount1Bit,
		LoadOp:         loadOp,
		StoreOp:        storeOp,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  vk.ImageLayout(info.InitialLayout),
		FinalLayout:    vk.ImageLayout(info.FinalLayout),
	}
}

func (d *Device) CreateRenderPass(info gpu.RenderPassInfo) (gpu.RenderPass, error) {
	attachments := []vk.AttachmentDescription{
		attachmentDescription(info.Color),
	}

	colorAttachmentRef := vk.AttachmentReference{
		Attachment: 0,
		Layout:     vk.ImageLayoutColorAttachmentOptimal,
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: 1,
		PColorAttachments:    []vk.AttachmentReference{colorAttachmentRef},
	}

	stages := vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
	access := vk.AccessFlags(vk.AccessColorAttachmentWriteBit)

	if info.Depth != nil {
		attachments = append(attachments, attachmentDescription(*info.Depth))
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: 1,
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
		stages |= vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit)
		access |= vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit)
	}

	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  stages,
		SrcAccessMask: 0,
		DstStageMask:  stages,
		DstAccessMask: access,
	}

	renderPassInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}

	var handle vk.RenderPass
	res := vk.CreateRenderPass(d.device, &renderPassInfo, nil, &handle)
	if err := result(res); err != nil {
		return 0, errors.Wrap(err, "failed to create render pass")
	}

	rp := &renderPass{handle: handle, hasDepth: info.Depth != nil}
	return gpu.RenderPass(d.objs.add(gpu.KindRenderPass, rp, gpu.NullHandle)), nil
}

func (d *Device) DestroyRenderPass(rp gpu.RenderPass) {
	obj, ok := d.objs.remove(gpu.KindRenderPass, gpu.Handle(rp))
	if !ok {
		return
	}
	vk.DestroyRenderPass(d.device, obj.value.(*renderPass).handle, nil)
}

func (d *Device) CreatePipelineLayout(sets []gpu.DescriptorSetLayout, push *gpu.PushConstantRange) (gpu.PipelineLayout, error) {
	setLayouts := make([]vk.DescriptorSetLayout, len(sets))
	for i, s := range sets {
		l, err := get[vk.DescriptorSetLayout](d.objs, gpu.KindDescriptorSetLayout, gpu.Handle(s))
		if err != nil {
			return 0, err
		}
		setLayouts[i] = l
	}

	pipelineLayoutInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(setLayouts)),
		PSetLayouts:    setLayouts,
	}

	if push != nil {
		pipelineLayoutInfo.PushConstantRangeCount = 1
		pipelineLayoutInfo.PPushConstantRanges = []vk.PushConstantRange{{
			StageFlags: vk.ShaderStageFlags(push.Stages),
			Offset:     push.Offset,
			Size:       push.Size,
		}}
	}

	var pipelineLayout vk.PipelineLayout
	res := vk.CreatePipelineLayout(d.device, &pipelineLayoutInfo, nil, &pipelineLayout)
	if err := result(res); err != nil {
		return 0, errors.Wrap(err, "failed to create pipeline layout")
	}
	return gpu.PipelineLayout(d.objs.add(gpu.KindPipelineLayout, pipelineLayout, gpu.NullHandle)), nil
}

func (d *Device) DestroyPipelineLayout(l gpu.PipelineLayout) {
	obj, ok := d.objs.remove(gpu.KindPipelineLayout, gpu.Handle(l))
	if !ok {
		return
	}
	vk.DestroyPipelineLayout(d.device, obj.value.(vk.PipelineLayout), nil)
}

func cString(s string) string {
	if strings.HasSuffix(s, "\x00") {
		return s
	}
	return s + "\x00"
}

func (d *Device) CreateGraphicsPipeline(info gpu.GraphicsPipelineInfo) (gpu.Pipeline, error) {
	layout, err := get[vk.PipelineLayout](d.objs, gpu.KindPipelineLayout, gpu.Handle(info.Layout))
	if err != nil {
		return 0, err
	}
	rp, err := get[*renderPass](d.objs, gpu.KindRenderPass, gpu.Handle(info.RenderPass))
	if err != nil {
		return 0, err
	}
	if info.Depth.TestEnable && !rp.hasDepth {
		return 0, errors.New("depth test enabled for a render pass without a depth attachment")
	}

	shaderStages := make([]vk.PipelineShaderStageCreateInfo, len(info.Stages))
	for i, stage := range info.Stages {
		module, err := get[vk.ShaderModule](d.objs, gpu.KindShaderModule, gpu.Handle(stage.Module))
		if err != nil {
			return 0, err
		}
		entry := stage.Entry
		if entry == "" {
			entry = "main"
		}
		shaderStages[i] = vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageFlagBits(stage.Stage),
			Module: module,
			PName:  cString(entry),
		}
	}

	bindingDescription := vk.VertexInputBindingDescription{
		Binding:   0,
		Stride:    info.VertexStride,
		InputRate: vk.VertexInputRateVertex,
	}

	attributeDescriptions := make([]vk.VertexInputAttributeDescription, len(info.Attributes))
	for i, attr := range info.Attributes {
		attributeDescriptions[i] = vk.VertexInputAttributeDescription{
			Binding:  0,
			Location: attr.Location,
			Format:   vk.Format(attr.Format),
			Offset:   attr.Offset,
		}
	}

	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType: vk.StructureTypePipelineVertexInputStateCreateInfo,

		VertexBindingDescriptionCount: 1,
		PVertexBindingDescriptions:    []vk.VertexInputBindingDescription{bindingDescription},

		VertexAttributeDescriptionCount: uint32(len(attributeDescriptions)),
		PVertexAttributeDescriptions:    attributeDescriptions,
	}

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               vk.PrimitiveTopologyTriangleList,
		PrimitiveRestartEnable: vk.False,
	}

	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}

	dynamicState := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	rasterizer := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             vk.PolygonModeFill,
		LineWidth:               1,
		CullMode:                vk.CullModeFlags(info.CullMode),
		FrontFace:               vk.FrontFace(info.FrontFace),
		DepthBiasEnable:         vk.False,
	}

	samples := vk.SampleCount1Bit
	if info.Samples > 1 {
		samples = vk.SampleCountFlagBits(info.Samples)
	}

	multisampling := vk.PipelineMultisampleStateCreateInfo{
		SType:                 vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:   vk.False,
		RasterizationSamples:  samples,
		MinSampleShading:      1,
		AlphaToCoverageEnable: vk.False,
		AlphaToOneEnable:      vk.False,
	}

	colorBlendAttachment := vk.PipelineColorBlendAttachmentState{
		ColorWriteMask: vk.ColorComponentFlags(
			vk.ColorComponentRBit |
				vk.ColorComponentGBit |
				vk.ColorComponentBBit |
				vk.ColorComponentABit,
		),
		BlendEnable:         vk.False,
		SrcColorBlendFactor: vk.BlendFactorOne,
		DstColorBlendFactor: vk.BlendFactorZero,
		ColorBlendOp:        vk.BlendOpAdd,
		SrcAlphaBlendFactor: vk.BlendFactorOne,
		DstAlphaBlendFactor: vk.BlendFactorZero,
		AlphaBlendOp:        vk.BlendOpAdd,
	}
	if info.Blend.Enable {
		colorBlendAttachment.BlendEnable = vk.True
		if info.Blend.AlphaOver {
			colorBlendAttachment.SrcColorBlendFactor = vk.BlendFactorSrcAlpha
			colorBlendAttachment.DstColorBlendFactor = vk.BlendFactorOneMinusSrcAlpha
		}
	}

	colorBlending := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: 1,
		PAttachments: []vk.PipelineColorBlendAttachmentState{
			colorBlendAttachment,
		},
	}

	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:                 vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:       vk.False,
		DepthWriteEnable:      vk.False,
		DepthCompareOp:        vk.CompareOp(info.Depth.Compare),
		DepthBoundsTestEnable: vk.False,
		MinDepthBounds:        0,
		MaxDepthBounds:        1,
		StencilTestEnable:     vk.False,
	}
	if info.Depth.TestEnable {
		depthStencil.DepthTestEnable = vk.True
	}
	if info.Depth.WriteEnable {
		depthStencil.DepthWriteEnable = vk.True
	}

	pipelineInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(shaderStages)),
		PStages:             shaderStages,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizer,
		PMultisampleState:   &multisampling,
		PColorBlendState:    &colorBlending,
		PDynamicState:       &dynamicState,
		Layout:              layout,
		RenderPass:          rp.handle,
		Subpass:             0,
		BasePipelineHandle:  vk.Pipeline(vk.NullHandle),
		BasePipelineIndex:   -1,
	}
	if rp.hasDepth {
		pipelineInfo.PDepthStencilState = &depthStencil
	}

	pipelines := make([]vk.Pipeline, 1)
	res := vk.CreateGraphicsPipelines(
		d.device,
		vk.PipelineCache(vk.NullHandle),
		1,
		[]vk.GraphicsPipelineCreateInfo{pipelineInfo},
		nil,
		pipelines,
	)
	if err := result(res); err != nil {
		return 0, errors.Wrap(err, "failed to create graphics pipeline")
	}
	return gpu.Pipeline(d.objs.add(gpu.KindPipeline, pipelines[0], gpu.NullHandle)), nil
}

func (d *Device) DestroyPipeline(p gpu.Pipeline) {
	obj, ok := d.objs.remove(gpu.KindPipeline, gpu.Handle(p))
	if !ok {
		return
	}
	vk.DestroyPipeline(d.device, obj.value.(vk.Pipeline), nil)
}

func (d *Device) CreateFramebuffer(rp gpu.RenderPass, attachments []gpu.ImageView, extent gpu.Extent2D) (gpu.Framebuffer, error) {
	pass, err := get[*renderPass](d.objs, gpu.KindRenderPass, gpu.Handle(rp))
	if err != nil {
		return 0, err
	}

	views := make([]vk.ImageView, len(attachments))
	for i, a := range attachments {
		views[i], err = get[vk.ImageView](d.objs, gpu.KindImageView, gpu.Handle(a))
		if err != nil {
			return 0, err
		}
	}

	frameBufferInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      pass.handle,
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           extent.Width,
		Height:          extent.Height,
		Layers:          1,
	}

	var frameBuffer vk.Framebuffer
	res := vk.CreateFramebuffer(d.device, &frameBufferInfo, nil, &frameBuffer)
	if err := result(res); err != nil {
		return 0, errors.Wrap(err, "failed to create frame buffer")
	}
	return gpu.Framebuffer(d.objs.add(gpu.KindFramebuffer, frameBuffer, gpu.NullHandle)), nil
}

func (d *Device) DestroyFramebuffer(fb gpu.Framebuffer) {
	obj, ok := d.objs.remove(gpu.KindFramebuffer, gpu.Handle(fb))
	if !ok {
		return
	}
	vk.DestroyFramebuffer(d.device, obj.value.(vk.Framebuffer), nil)
}
