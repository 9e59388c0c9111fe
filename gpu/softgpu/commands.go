package softgpu

import (
	"github.com/ironsmile/vulkan-render-go/gpu"
)

type cbState int

const (
	cbInitial cbState = iota
	cbRecording
	cbExecutable
	cbPending
)

func (s cbState) String() string {
	switch s {
	case cbInitial:
		return "initial"
	case cbRecording:
		return "recording"
	case cbExecutable:
		return "executable"
	case cbPending:
		return "pending"
	}
	return "invalid"
}

// command is executed by the queue with the device lock held.
type command struct {
	name string
	exec func(d *Device, st *execState) error
}

// execState is the state of one command buffer while the queue executes it.
type execState struct {
	fb       gpu.Framebuffer
	pass     *renderPass
	targets  []*image
	pipeline gpu.Pipeline
	sets     map[uint32]gpu.DescriptorSet
	push     []byte
}

// recordState is the state validated while recording.
type recordState struct {
	inPass      bool
	pipeline    *pipeline
	layout      *pipelineLayout
	vertexBound bool
	indexCount  uint64
	setsBound   int
}

type cmdBuffer struct {
	pool    gpu.CommandPool
	state   cbState
	oneTime bool
	cmds    []command
	refs    map[gpu.Handle]struct{}
	rec     recordState
}

func (d *Device) AllocateCommandBuffers(pool gpu.CommandPool, count int) ([]gpu.CommandBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, err := lookup[commandPool](d, gpu.KindCommandPool, gpu.Handle(pool))
	if err != nil {
		return nil, err
	}
	out := make([]gpu.CommandBuffer, count)
	for i := range out {
		id := gpu.CommandBuffer(d.newHandle())
		d.cmdBufs[id] = &cmdBuffer{pool: pool, refs: make(map[gpu.Handle]struct{})}
		p.buffers = append(p.buffers, id)
		out[i] = id
	}
	return out, nil
}

func (d *Device) FreeCommandBuffers(pool gpu.CommandPool, cbs []gpu.CommandBuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, err := lookup[commandPool](d, gpu.KindCommandPool, gpu.Handle(pool))
	if err != nil {
		return
	}
	for _, id := range cbs {
		cb, ok := d.cmdBufs[id]
		if !ok || cb.pool != pool {
			d.violate("command buffer %d does not belong to pool %d", id, pool)
			continue
		}
		if cb.state == cbPending {
			d.violate("command buffer %d freed while pending", id)
		}
		delete(d.cmdBufs, id)
		for i, b := range p.buffers {
			if b == id {
				p.buffers = append(p.buffers[:i], p.buffers[i+1:]...)
				break
			}
		}
	}
}

func (d *Device) cmdBuf(id gpu.CommandBuffer) (*cmdBuffer, error) {
	cb, ok := d.cmdBufs[id]
	if !ok {
		return nil, d.violate("unknown command buffer %d", id)
	}
	return cb, nil
}

func (d *Device) BeginCommandBuffer(id gpu.CommandBuffer, oneTime bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cb, err := d.cmdBuf(id)
	if err != nil {
		return err
	}
	switch cb.state {
	case cbPending:
		return d.violate("command buffer %d begun while pending", id)
	case cbRecording:
		return d.violate("command buffer %d is already recording", id)
	case cbExecutable:
		pool, err := lookup[commandPool](d, gpu.KindCommandPool, gpu.Handle(cb.pool))
		if err != nil {
			return err
		}
		if !pool.resettable {
			return d.violate("implicit reset of command buffer %d from a non-resettable pool", id)
		}
	}
	cb.reset()
	cb.state = cbRecording
	cb.oneTime = oneTime
	return nil
}

func (cb *cmdBuffer) reset() {
	cb.cmds = nil
	cb.refs = make(map[gpu.Handle]struct{})
	cb.rec = recordState{}
	cb.state = cbInitial
}

func (d *Device) EndCommandBuffer(id gpu.CommandBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cb, err := d.cmdBuf(id)
	if err != nil {
		return err
	}
	if cb.state != cbRecording {
		return d.violate("command buffer %d ended in state %s", id, cb.state)
	}
	if cb.rec.inPass {
		return d.violate("command buffer %d ended inside a render pass", id)
	}
	cb.state = cbExecutable
	return nil
}

func (d *Device) ResetCommandBuffer(id gpu.CommandBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cb, err := d.cmdBuf(id)
	if err != nil {
		return err
	}
	if cb.state == cbPending {
		return d.violate("command buffer %d reset while pending", id)
	}
	pool, err := lookup[commandPool](d, gpu.KindCommandPool, gpu.Handle(cb.pool))
	if err != nil {
		return err
	}
	if !pool.resettable {
		return d.violate("command buffer %d reset from a non-resettable pool", id)
	}
	cb.reset()
	return nil
}

// recording returns the command buffer if it is in the recording state.
func (d *Device) recording(id gpu.CommandBuffer, name string) *cmdBuffer {
	cb, err := d.cmdBuf(id)
	if err != nil {
		return nil
	}
	if cb.state != cbRecording {
		d.violate("%s recorded into command buffer %d in state %s", name, id, cb.state)
		return nil
	}
	return cb
}

func (cb *cmdBuffer) add(name string, exec func(d *Device, st *execState) error, refs ...gpu.Handle) {
	for _, h := range refs {
		cb.refs[h] = struct{}{}
	}
	cb.cmds = append(cb.cmds, command{name: name, exec: exec})
}

func (d *Device) CmdCopyBuffer(id gpu.CommandBuffer, src, dst gpu.Buffer, regions []gpu.BufferCopy) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cb := d.recording(id, "copy buffer")
	if cb == nil {
		return
	}
	if cb.rec.inPass {
		d.violate("copy buffer inside a render pass")
		return
	}
	s, err := lookup[buffer](d, gpu.KindBuffer, gpu.Handle(src))
	if err != nil {
		return
	}
	t, err := lookup[buffer](d, gpu.KindBuffer, gpu.Handle(dst))
	if err != nil {
		return
	}
	if !s.usage.Has(gpu.BufferUsageTransferSrc) || !t.usage.Has(gpu.BufferUsageTransferDst) {
		d.violate("copy from buffer %d to %d without transfer usage", src, dst)
		return
	}
	for _, r := range regions {
		if r.SrcOffset+r.Size > s.size || r.DstOffset+r.Size > t.size {
			d.violate("copy region out of bounds")
			return
		}
	}
	regions = append([]gpu.BufferCopy(nil), regions...)
	cb.add("copy buffer", func(d *Device, _ *execState) error {
		for _, r := range regions {
			copy(t.data[r.DstOffset:r.DstOffset+r.Size], s.data[r.SrcOffset:r.SrcOffset+r.Size])
		}
		return nil
	}, gpu.Handle(src), gpu.Handle(dst))
}

// checkImageCopy validates a buffer/image copy while recording.
func (d *Device) checkImageCopy(img *image, buf *buffer, region gpu.BufferImageCopy) bool {
	if region.Width != img.info.Width || region.Height != img.info.Height {
		d.violate("copy region %dx%d must cover the whole %dx%d image",
			region.Width, region.Height, img.info.Width, img.info.Height)
		return false
	}
	if region.BufferOffset+img.byteSize() > buf.size {
		d.violate("copy needs %d buffer bytes at %d, buffer has %d",
			img.byteSize(), region.BufferOffset, buf.size)
		return false
	}
	return true
}

func (d *Device) CmdCopyBufferToImage(id gpu.CommandBuffer, src gpu.Buffer, dst gpu.Image, layout gpu.ImageLayout, region gpu.BufferImageCopy) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cb := d.recording(id, "copy buffer to image")
	if cb == nil {
		return
	}
	s, err := lookup[buffer](d, gpu.KindBuffer, gpu.Handle(src))
	if err != nil {
		return
	}
	img, err := lookup[image](d, gpu.KindImage, gpu.Handle(dst))
	if err != nil {
		return
	}
	if layout != gpu.LayoutTransferDstOptimal && layout != gpu.LayoutGeneral {
		d.violate("copy to image %d in layout %s", dst, layout)
		return
	}
	if !img.info.Usage.Has(gpu.ImageUsageTransferDst) {
		d.violate("copy to image %d without transfer dst usage", dst)
		return
	}
	if !d.checkImageCopy(img, s, region) {
		return
	}
	cb.add("copy buffer to image", func(d *Device, _ *execState) error {
		if img.layout != layout {
			return d.violate("copy to image %d declared layout %s, image is in %s", dst, layout, img.layout)
		}
		copy(img.data, s.data[region.BufferOffset:region.BufferOffset+img.byteSize()])
		return nil
	}, gpu.Handle(src), gpu.Handle(dst))
}

func (d *Device) CmdCopyImageToBuffer(id gpu.CommandBuffer, src gpu.Image, layout gpu.ImageLayout, dst gpu.Buffer, region gpu.BufferImageCopy) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cb := d.recording(id, "copy image to buffer")
	if cb == nil {
		return
	}
	img, err := lookup[image](d, gpu.KindImage, gpu.Handle(src))
	if err != nil {
		return
	}
	t, err := lookup[buffer](d, gpu.KindBuffer, gpu.Handle(dst))
	if err != nil {
		return
	}
	if layout != gpu.LayoutTransferSrcOptimal && layout != gpu.LayoutGeneral {
		d.violate("copy from image %d in layout %s", src, layout)
		return
	}
	if !img.info.Usage.Has(gpu.ImageUsageTransferSrc) {
		d.violate("copy from image %d without transfer src usage", src)
		return
	}
	if !d.checkImageCopy(img, t, region) {
		return
	}
	cb.add("copy image to buffer", func(d *Device, _ *execState) error {
		if img.layout != layout {
			return d.violate("copy from image %d declared layout %s, image is in %s", src, layout, img.layout)
		}
		copy(t.data[region.BufferOffset:], img.data)
		return nil
	}, gpu.Handle(src), gpu.Handle(dst))
}

func (d *Device) CmdPipelineBarrier(id gpu.CommandBuffer, barriers []gpu.ImageBarrier) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cb := d.recording(id, "pipeline barrier")
	if cb == nil {
		return
	}
	if cb.rec.inPass {
		d.violate("layout transition inside a render pass")
		return
	}
	barriers = append([]gpu.ImageBarrier(nil), barriers...)
	refs := make([]gpu.Handle, 0, len(barriers))
	images := make([]*image, 0, len(barriers))
	for _, b := range barriers {
		img, err := lookup[image](d, gpu.KindImage, gpu.Handle(b.Image))
		if err != nil {
			return
		}
		images = append(images, img)
		if b.NewLayout == gpu.LayoutUndefined {
			d.violate("transition of image %d to the undefined layout", b.Image)
			return
		}
		refs = append(refs, gpu.Handle(b.Image))
	}
	cb.add("pipeline barrier", func(d *Device, _ *execState) error {
		for i, b := range barriers {
			img := images[i]
			if b.OldLayout != gpu.LayoutUndefined && b.OldLayout != img.layout {
				return d.violate("barrier on image %d expects layout %s, image is in %s",
					b.Image, b.OldLayout, img.layout)
			}
			img.layout = b.NewLayout
		}
		return nil
	}, refs...)
}

func (d *Device) CmdBeginRenderPass(id gpu.CommandBuffer, rp gpu.RenderPass, fb gpu.Framebuffer, area gpu.Rect2D, clear gpu.ClearValues) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cb := d.recording(id, "begin render pass")
	if cb == nil {
		return
	}
	if cb.rec.inPass {
		d.violate("render pass begun inside a render pass")
		return
	}
	pass, err := lookup[renderPass](d, gpu.KindRenderPass, gpu.Handle(rp))
	if err != nil {
		return
	}
	frame, err := lookup[framebuffer](d, gpu.KindFramebuffer, gpu.Handle(fb))
	if err != nil {
		return
	}
	if frame.pass != rp {
		d.violate("framebuffer %d was created for another render pass", fb)
		return
	}
	cb.rec.inPass = true

	refs := []gpu.Handle{gpu.Handle(rp), gpu.Handle(fb)}
	var images []*image
	for _, a := range frame.attachments {
		v := d.objects[gpu.Handle(a)].value.(*imageView)
		images = append(images, d.objects[gpu.Handle(v.image)].value.(*image))
		refs = append(refs, gpu.Handle(a), gpu.Handle(v.image))
	}
	cb.add("begin render pass", func(d *Device, st *execState) error {
		attachments := []gpu.AttachmentInfo{pass.info.Color}
		if pass.info.Depth != nil {
			attachments = append(attachments, *pass.info.Depth)
		}
		for i, img := range images {
			want := attachments[i].InitialLayout
			if want != gpu.LayoutUndefined && img.layout != want {
				return d.violate("render pass attachment %d expects layout %s, image is in %s",
					i, want, img.layout)
			}
		}
		if pass.info.Color.Clear {
			fill(images[0], clear.Color)
		}
		st.fb = fb
		st.pass = pass
		st.targets = images
		return nil
	}, refs...)
}

// fill clears a colour image with c.
func fill(img *image, c [4]float32) {
	px := [4]byte{}
	for i, v := range c {
		px[i] = byte(min(max(v, 0), 1) * 255)
	}
	if img.info.Format == gpu.FormatB8G8R8A8Srgb || img.info.Format == gpu.FormatB8G8R8A8Unorm {
		px[0], px[2] = px[2], px[0]
	}
	for i := 0; i+4 <= len(img.data); i += 4 {
		copy(img.data[i:i+4], px[:])
	}
}

func (d *Device) CmdEndRenderPass(id gpu.CommandBuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cb := d.recording(id, "end render pass")
	if cb == nil {
		return
	}
	if !cb.rec.inPass {
		d.violate("end render pass outside a render pass")
		return
	}
	cb.rec.inPass = false
	cb.add("end render pass", func(d *Device, st *execState) error {
		final := []gpu.ImageLayout{st.pass.info.Color.FinalLayout}
		if st.pass.info.Depth != nil {
			final = append(final, st.pass.info.Depth.FinalLayout)
		}
		for i, img := range st.targets {
			img.layout = final[i]
		}
		st.fb, st.pass, st.targets = 0, nil, nil
		return nil
	})
}

func (d *Device) CmdBindPipeline(id gpu.CommandBuffer, p gpu.Pipeline) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cb := d.recording(id, "bind pipeline")
	if cb == nil {
		return
	}
	pl, err := lookup[pipeline](d, gpu.KindPipeline, gpu.Handle(p))
	if err != nil {
		return
	}
	layout, err := lookup[pipelineLayout](d, gpu.KindPipelineLayout, gpu.Handle(pl.info.Layout))
	if err != nil {
		return
	}
	cb.rec.pipeline = pl
	cb.rec.layout = layout
	cb.add("bind pipeline", func(d *Device, st *execState) error {
		st.pipeline = p
		return nil
	}, gpu.Handle(p))
}

func (d *Device) CmdSetViewport(id gpu.CommandBuffer, vp gpu.Viewport) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cb := d.recording(id, "set viewport")
	if cb == nil {
		return
	}
	if vp.MinDepth < 0 || vp.MaxDepth > 1 || vp.MinDepth > vp.MaxDepth {
		d.violate("viewport depth range [%g, %g] is invalid", vp.MinDepth, vp.MaxDepth)
	}
}

func (d *Device) CmdSetScissor(id gpu.CommandBuffer, r gpu.Rect2D) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cb := d.recording(id, "set scissor"); cb == nil {
		return
	}
	if r.X < 0 || r.Y < 0 {
		d.violate("scissor offset must not be negative")
	}
}

func (d *Device) CmdBindVertexBuffer(id gpu.CommandBuffer, buf gpu.Buffer, offset uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cb := d.recording(id, "bind vertex buffer")
	if cb == nil {
		return
	}
	b, err := lookup[buffer](d, gpu.KindBuffer, gpu.Handle(buf))
	if err != nil {
		return
	}
	if !b.usage.Has(gpu.BufferUsageVertex) {
		d.violate("buffer %d bound as vertex buffer without vertex usage", buf)
		return
	}
	cb.rec.vertexBound = true
	cb.add("bind vertex buffer", func(*Device, *execState) error { return nil }, gpu.Handle(buf))
}

func (d *Device) CmdBindIndexBuffer(id gpu.CommandBuffer, buf gpu.Buffer, offset uint64, t gpu.IndexType) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cb := d.recording(id, "bind index buffer")
	if cb == nil {
		return
	}
	b, err := lookup[buffer](d, gpu.KindBuffer, gpu.Handle(buf))
	if err != nil {
		return
	}
	if !b.usage.Has(gpu.BufferUsageIndex) {
		d.violate("buffer %d bound as index buffer without index usage", buf)
		return
	}
	if offset%t.Size() != 0 {
		d.violate("index buffer offset %d is not a multiple of %d", offset, t.Size())
		return
	}
	cb.rec.indexCount = (b.size - offset) / t.Size()
	cb.add("bind index buffer", func(*Device, *execState) error { return nil }, gpu.Handle(buf))
}

func (d *Device) CmdBindDescriptorSets(id gpu.CommandBuffer, layout gpu.PipelineLayout, first uint32, sets []gpu.DescriptorSet, dynamicOffsets []uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cb := d.recording(id, "bind descriptor sets")
	if cb == nil {
		return
	}
	pl, err := lookup[pipelineLayout](d, gpu.KindPipelineLayout, gpu.Handle(layout))
	if err != nil {
		return
	}
	if int(first)+len(sets) > len(pl.sets) {
		d.violate("binding %d sets at %d exceeds layout with %d sets", len(sets), first, len(pl.sets))
		return
	}

	dynamic := 0
	refs := []gpu.Handle{gpu.Handle(layout)}
	for i, s := range sets {
		set, ok := d.sets[s]
		if !ok {
			d.violate("unknown descriptor set %d", s)
			return
		}
		want := d.objects[gpu.Handle(pl.sets[int(first)+i])]
		if want == nil || want.value.(*descriptorSetLayout) != set.layout {
			d.violate("descriptor set %d is incompatible with set %d of the pipeline layout", s, int(first)+i)
			return
		}
		for _, b := range set.layout.bindings {
			if b.Type == gpu.DescriptorUniformBufferDynamic {
				dynamic++
			}
		}
		refs = append(refs, gpu.Handle(s))
	}
	if dynamic != len(dynamicOffsets) {
		d.violate("%d dynamic offsets supplied for %d dynamic bindings", len(dynamicOffsets), dynamic)
		return
	}
	for _, off := range dynamicOffsets {
		if a := d.cfg.Limits.MinUniformBufferOffsetAlignment; a > 0 && uint64(off)%a != 0 {
			d.violate("dynamic offset %d is not aligned to %d", off, a)
			return
		}
	}
	cb.rec.setsBound = int(first) + len(sets)

	sets = append([]gpu.DescriptorSet(nil), sets...)
	cb.add("bind descriptor sets", func(d *Device, st *execState) error {
		if st.sets == nil {
			st.sets = make(map[uint32]gpu.DescriptorSet)
		}
		for i, s := range sets {
			st.sets[first+uint32(i)] = s
		}
		return nil
	}, refs...)
}

func (d *Device) CmdPushConstants(id gpu.CommandBuffer, layout gpu.PipelineLayout, stages gpu.ShaderStage, offset uint32, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cb := d.recording(id, "push constants")
	if cb == nil {
		return
	}
	pl, err := lookup[pipelineLayout](d, gpu.KindPipelineLayout, gpu.Handle(layout))
	if err != nil {
		return
	}
	if pl.push == nil {
		d.violate("push constants for a layout without a push constant range")
		return
	}
	end := offset + uint32(len(data))
	if offset < pl.push.Offset || end > pl.push.Offset+pl.push.Size {
		d.violate("push constant update [%d, %d) outside range [%d, %d)",
			offset, end, pl.push.Offset, pl.push.Offset+pl.push.Size)
		return
	}
	if stages&^pl.push.Stages != 0 {
		d.violate("push constant stages %#x not declared by the layout", stages)
		return
	}
	data = append([]byte(nil), data...)
	cb.add("push constants", func(d *Device, st *execState) error {
		if uint32(len(st.push)) < end {
			st.push = append(st.push, make([]byte, int(end)-len(st.push))...)
		}
		copy(st.push[offset:], data)
		return nil
	}, gpu.Handle(layout))
}

func (d *Device) CmdDrawIndexed(id gpu.CommandBuffer, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cb := d.recording(id, "draw indexed")
	if cb == nil {
		return
	}
	switch {
	case !cb.rec.inPass:
		d.violate("draw outside a render pass")
		return
	case cb.rec.pipeline == nil:
		d.violate("draw without a bound pipeline")
		return
	case !cb.rec.vertexBound:
		d.violate("draw without a bound vertex buffer")
		return
	case uint64(firstIndex)+uint64(indexCount) > cb.rec.indexCount:
		d.violate("draw of %d indices at %d exceeds the bound index buffer of %d",
			indexCount, firstIndex, cb.rec.indexCount)
		return
	case cb.rec.setsBound < len(cb.rec.layout.sets):
		d.violate("draw with %d of %d descriptor sets bound", cb.rec.setsBound, len(cb.rec.layout.sets))
		return
	}
	cb.add("draw indexed", func(d *Device, st *execState) error {
		rec := DrawRecord{
			Pipeline:      st.pipeline,
			Framebuffer:   st.fb,
			IndexCount:    indexCount,
			PushConstants: append([]byte(nil), st.push...),
		}
		for i := uint32(0); i < uint32(len(st.sets)); i++ {
			s := st.sets[i]
			rec.Sets = append(rec.Sets, s)
			if err := d.checkSampledLayouts(s); err != nil {
				return err
			}
		}
		d.draws = append(d.draws, rec)
		return nil
	})
}

// checkSampledLayouts verifies that every image read through set is in the
// layout its descriptor declares.
func (d *Device) checkSampledLayouts(s gpu.DescriptorSet) error {
	set, ok := d.sets[s]
	if !ok {
		return d.violate("descriptor set %d freed before execution", s)
	}
	for binding, b := range set.layout.bindings {
		w, ok := set.writes[binding]
		if !ok {
			return d.violate("binding %d of descriptor set %d was never written", binding, s)
		}
		if b.Type != gpu.DescriptorCombinedImageSampler {
			continue
		}
		v, ok := d.objects[gpu.Handle(w.Image.View)]
		if !ok {
			return d.violate("descriptor set %d references a destroyed image view", s)
		}
		io, ok := d.objects[gpu.Handle(v.value.(*imageView).image)]
		if !ok {
			return d.violate("descriptor set %d references a destroyed image", s)
		}
		img := io.value.(*image)
		if img.layout != w.Image.Layout {
			return d.violate("image sampled in layout %s but is in %s", w.Image.Layout, img.layout)
		}
	}
	return nil
}
