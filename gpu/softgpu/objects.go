package softgpu

import (
	"encoding/binary"

	"github.com/ironsmile/vulkan-render-go/gpu"
)

// spirvMagic is the first word of every SPIR-V module.
const spirvMagic = 0x07230203

type imageView struct {
	image  gpu.Image
	format gpu.Format
	aspect gpu.ImageAspect
}

type descriptorSetLayout struct {
	bindings map[uint32]gpu.DescriptorSetLayoutBinding
}

type descriptorPool struct {
	maxSets uint32
	free    map[gpu.DescriptorType]uint32
	sets    []gpu.DescriptorSet
}

type descriptorSet struct {
	pool   gpu.DescriptorPool
	layout *descriptorSetLayout
	writes map[uint32]gpu.DescriptorWrite
}

type renderPass struct {
	info gpu.RenderPassInfo
}

type pipelineLayout struct {
	sets []gpu.DescriptorSetLayout
	push *gpu.PushConstantRange
}

type pipeline struct {
	info gpu.GraphicsPipelineInfo
}

type framebuffer struct {
	pass        gpu.RenderPass
	attachments []gpu.ImageView
	extent      gpu.Extent2D
}

type commandPool struct {
	resettable bool
	buffers    []gpu.CommandBuffer
}

func (d *Device) CreateImageView(img gpu.Image, format gpu.Format, aspect gpu.ImageAspect) (gpu.ImageView, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	im, err := lookup[image](d, gpu.KindImage, gpu.Handle(img))
	if err != nil {
		return 0, err
	}
	if im.info.Format != format {
		return 0, d.violate("view format %d does not match image format %d", format, im.info.Format)
	}
	if format.IsDepth() != (aspect&gpu.AspectDepth != 0) {
		return 0, d.violate("aspect %#x does not fit format %d", aspect, format)
	}
	v := &imageView{image: img, format: format, aspect: aspect}
	return gpu.ImageView(d.register(gpu.KindImageView, v)), nil
}

func (d *Device) DestroyImageView(view gpu.ImageView) {
	d.mu.Lock()
	defer d.mu.Unlock()

	v, ok := d.objects[gpu.Handle(view)]
	if ok {
		if _, alive := d.objects[gpu.Handle(v.value.(*imageView).image)]; !alive {
			d.violate("image view %d outlived its image", view)
		}
	}
	d.release(gpu.KindImageView, gpu.Handle(view))
}

func (d *Device) CreateSampler(info gpu.SamplerInfo) (gpu.Sampler, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if info.MaxAnisotropy > d.cfg.Limits.MaxSamplerAnisotropy {
		return 0, d.violate("anisotropy %.1f exceeds device limit %.1f",
			info.MaxAnisotropy, d.cfg.Limits.MaxSamplerAnisotropy)
	}
	s := info
	return gpu.Sampler(d.register(gpu.KindSampler, &s)), nil
}

func (d *Device) DestroySampler(s gpu.Sampler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.release(gpu.KindSampler, gpu.Handle(s))
}

func (d *Device) CreateDescriptorSetLayout(bindings []gpu.DescriptorSetLayoutBinding) (gpu.DescriptorSetLayout, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	l := &descriptorSetLayout{bindings: make(map[uint32]gpu.DescriptorSetLayoutBinding, len(bindings))}
	for _, b := range bindings {
		if _, dup := l.bindings[b.Binding]; dup {
			return 0, d.violate("binding %d declared twice", b.Binding)
		}
		l.bindings[b.Binding] = b
	}
	return gpu.DescriptorSetLayout(d.register(gpu.KindDescriptorSetLayout, l)), nil
}

func (d *Device) DestroyDescriptorSetLayout(l gpu.DescriptorSetLayout) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.release(gpu.KindDescriptorSetLayout, gpu.Handle(l))
}

func (d *Device) CreateDescriptorPool(maxSets uint32, sizes []gpu.DescriptorPoolSize) (gpu.DescriptorPool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p := &descriptorPool{maxSets: maxSets, free: make(map[gpu.DescriptorType]uint32)}
	for _, s := range sizes {
		p.free[s.Type] += s.Count
	}
	return gpu.DescriptorPool(d.register(gpu.KindDescriptorPool, p)), nil
}

func (d *Device) DestroyDescriptorPool(pool gpu.DescriptorPool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	v, ok := d.release(gpu.KindDescriptorPool, gpu.Handle(pool))
	if !ok {
		return
	}
	for _, s := range v.(*descriptorPool).sets {
		delete(d.sets, s)
	}
}

func (d *Device) AllocateDescriptorSets(pool gpu.DescriptorPool, layouts []gpu.DescriptorSetLayout) ([]gpu.DescriptorSet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, err := lookup[descriptorPool](d, gpu.KindDescriptorPool, gpu.Handle(pool))
	if err != nil {
		return nil, err
	}
	if uint32(len(p.sets)+len(layouts)) > p.maxSets {
		return nil, gpu.ErrOutOfPoolMemory
	}

	need := make(map[gpu.DescriptorType]uint32)
	resolved := make([]*descriptorSetLayout, len(layouts))
	for i, lh := range layouts {
		l, err := lookup[descriptorSetLayout](d, gpu.KindDescriptorSetLayout, gpu.Handle(lh))
		if err != nil {
			return nil, err
		}
		resolved[i] = l
		for _, b := range l.bindings {
			need[b.Type] += max(b.Count, 1)
		}
	}
	for t, n := range need {
		if p.free[t] < n {
			return nil, gpu.ErrOutOfPoolMemory
		}
	}
	for t, n := range need {
		p.free[t] -= n
	}

	sets := make([]gpu.DescriptorSet, len(layouts))
	for i, l := range resolved {
		id := gpu.DescriptorSet(d.newHandle())
		d.sets[id] = &descriptorSet{
			pool:   pool,
			layout: l,
			writes: make(map[uint32]gpu.DescriptorWrite),
		}
		p.sets = append(p.sets, id)
		sets[i] = id
	}
	return sets, nil
}

func (d *Device) UpdateDescriptorSets(writes []gpu.DescriptorWrite) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, w := range writes {
		set, ok := d.sets[w.Set]
		if !ok {
			return d.violate("unknown descriptor set %d", w.Set)
		}
		if cb := d.pendingUser(gpu.Handle(w.Set)); cb != 0 {
			return d.violate("descriptor set %d updated while in use by pending command buffer %d", w.Set, cb)
		}
		b, ok := set.layout.bindings[w.Binding]
		if !ok {
			return d.violate("descriptor set %d has no binding %d", w.Set, w.Binding)
		}
		if b.Type != w.Type {
			return d.violate("binding %d of set %d is %s, write is %s", w.Binding, w.Set, b.Type, w.Type)
		}
		switch w.Type {
		case gpu.DescriptorUniformBuffer, gpu.DescriptorUniformBufferDynamic:
			if w.Buffer == nil {
				return d.violate("buffer write to binding %d without buffer info", w.Binding)
			}
			buf, err := lookup[buffer](d, gpu.KindBuffer, gpu.Handle(w.Buffer.Buffer))
			if err != nil {
				return err
			}
			if !buf.usage.Has(gpu.BufferUsageUniform) {
				return d.violate("buffer %d lacks uniform usage", w.Buffer.Buffer)
			}
			if w.Buffer.Offset+w.Buffer.Range > buf.size {
				return d.violate("uniform range exceeds buffer %d", w.Buffer.Buffer)
			}
		case gpu.DescriptorCombinedImageSampler:
			if w.Image == nil {
				return d.violate("image write to binding %d without image info", w.Binding)
			}
			if _, err := lookup[imageView](d, gpu.KindImageView, gpu.Handle(w.Image.View)); err != nil {
				return err
			}
			if _, err := lookup[gpu.SamplerInfo](d, gpu.KindSampler, gpu.Handle(w.Image.Sampler)); err != nil {
				return err
			}
		}
		set.writes[w.Binding] = w
	}
	return nil
}

func (d *Device) CreateShaderModule(code []byte) (gpu.ShaderModule, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(code) < 4 || len(code)%4 != 0 {
		return 0, d.violate("shader code length %d is not a multiple of 4", len(code))
	}
	if binary.LittleEndian.Uint32(code) != spirvMagic {
		return 0, d.violate("shader code is not SPIR-V")
	}
	return gpu.ShaderModule(d.register(gpu.KindShaderModule, &struct{}{})), nil
}

func (d *Device) DestroyShaderModule(m gpu.ShaderModule) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.release(gpu.KindShaderModule, gpu.Handle(m))
}

func (d *Device) CreateRenderPass(info gpu.RenderPassInfo) (gpu.RenderPass, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if info.Color.Format.IsDepth() {
		return 0, d.violate("colour attachment has depth format %d", info.Color.Format)
	}
	if info.Depth != nil && !info.Depth.Format.IsDepth() {
		return 0, d.violate("depth attachment has colour format %d", info.Depth.Format)
	}
	return gpu.RenderPass(d.register(gpu.KindRenderPass, &renderPass{info: info})), nil
}

func (d *Device) DestroyRenderPass(rp gpu.RenderPass) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.release(gpu.KindRenderPass, gpu.Handle(rp))
}

func (d *Device) CreatePipelineLayout(sets []gpu.DescriptorSetLayout, push *gpu.PushConstantRange) (gpu.PipelineLayout, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, s := range sets {
		if _, err := lookup[descriptorSetLayout](d, gpu.KindDescriptorSetLayout, gpu.Handle(s)); err != nil {
			return 0, err
		}
	}
	l := &pipelineLayout{sets: append([]gpu.DescriptorSetLayout(nil), sets...)}
	if push != nil {
		if push.Offset+push.Size > d.cfg.Limits.MaxPushConstantsSize {
			return 0, d.violate("push constant range %d+%d exceeds limit %d",
				push.Offset, push.Size, d.cfg.Limits.MaxPushConstantsSize)
		}
		p := *push
		l.push = &p
	}
	return gpu.PipelineLayout(d.register(gpu.KindPipelineLayout, l)), nil
}

func (d *Device) DestroyPipelineLayout(l gpu.PipelineLayout) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.release(gpu.KindPipelineLayout, gpu.Handle(l))
}

func (d *Device) CreateGraphicsPipeline(info gpu.GraphicsPipelineInfo) (gpu.Pipeline, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, s := range info.Stages {
		if _, err := lookup[struct{}](d, gpu.KindShaderModule, gpu.Handle(s.Module)); err != nil {
			return 0, err
		}
	}
	if _, err := lookup[pipelineLayout](d, gpu.KindPipelineLayout, gpu.Handle(info.Layout)); err != nil {
		return 0, err
	}
	rp, err := lookup[renderPass](d, gpu.KindRenderPass, gpu.Handle(info.RenderPass))
	if err != nil {
		return 0, err
	}
	if info.Depth.TestEnable && rp.info.Depth == nil {
		return 0, d.violate("depth test enabled for a render pass without depth attachment")
	}
	for _, a := range info.Attributes {
		if a.Offset+a.Format.Size() > info.VertexStride {
			return 0, d.violate("attribute %d ends past the vertex stride %d", a.Location, info.VertexStride)
		}
	}
	p := &pipeline{info: info}
	p.info.Stages = append([]gpu.ShaderStageInfo(nil), info.Stages...)
	p.info.Attributes = append([]gpu.VertexAttribute(nil), info.Attributes...)
	return gpu.Pipeline(d.register(gpu.KindPipeline, p)), nil
}

func (d *Device) DestroyPipeline(p gpu.Pipeline) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.release(gpu.KindPipeline, gpu.Handle(p))
}

func (d *Device) CreateFramebuffer(rp gpu.RenderPass, attachments []gpu.ImageView, extent gpu.Extent2D) (gpu.Framebuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	pass, err := lookup[renderPass](d, gpu.KindRenderPass, gpu.Handle(rp))
	if err != nil {
		return 0, err
	}
	want := 1
	if pass.info.Depth != nil {
		want = 2
	}
	if len(attachments) != want {
		return 0, d.violate("render pass needs %d attachments, got %d", want, len(attachments))
	}
	for _, a := range attachments {
		v, err := lookup[imageView](d, gpu.KindImageView, gpu.Handle(a))
		if err != nil {
			return 0, err
		}
		im, err := lookup[image](d, gpu.KindImage, gpu.Handle(v.image))
		if err != nil {
			return 0, err
		}
		if im.info.Width < extent.Width || im.info.Height < extent.Height {
			return 0, d.violate("attachment %d is smaller than framebuffer extent", a)
		}
	}
	fb := &framebuffer{
		pass:        rp,
		attachments: append([]gpu.ImageView(nil), attachments...),
		extent:      extent,
	}
	return gpu.Framebuffer(d.register(gpu.KindFramebuffer, fb)), nil
}

func (d *Device) DestroyFramebuffer(fb gpu.Framebuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.release(gpu.KindFramebuffer, gpu.Handle(fb))
}

func (d *Device) CreateCommandPool(role gpu.QueueRole, resettable bool) (gpu.CommandPool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return gpu.CommandPool(d.register(gpu.KindCommandPool, &commandPool{resettable: resettable})), nil
}

func (d *Device) DestroyCommandPool(p gpu.CommandPool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	v, ok := d.objects[gpu.Handle(p)]
	if ok && v.kind == gpu.KindCommandPool {
		for _, cb := range v.value.(*commandPool).buffers {
			if d.cmdBufs[cb].state == cbPending {
				d.violate("command pool %d destroyed while buffer %d is pending", p, cb)
			}
			delete(d.cmdBufs, cb)
		}
	}
	d.release(gpu.KindCommandPool, gpu.Handle(p))
}
