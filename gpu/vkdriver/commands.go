package vkdriver

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/ironsmile/vulkan-render-go/gpu"
)

func (d *Device) familyOf(role gpu.QueueRole) uint32 {
	switch role {
	case gpu.QueuePresent:
		return d.families.Present.Get()
	case gpu.QueueTransfer:
		return d.families.Transfer.Get()
	}
	return d.families.Graphics.Get()
}

func (d *Device) CreateCommandPool(role gpu.QueueRole, resettable bool) (gpu.CommandPool, error) {
	poolInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: d.familyOf(role),
	}
	if resettable {
		poolInfo.Flags = vk.CommandPoolCreateFlags(
			vk.CommandPoolCreateResetCommandBufferBit,
		)
	}

	var commandPool vk.CommandPool
	res := vk.CreateCommandPool(d.device, &poolInfo, nil, &commandPool)
	if err := result(res); err != nil {
		return 0, errors.Wrap(err, "failed to create command pool")
	}
	return gpu.CommandPool(d.objs.add(gpu.KindCommandPool, commandPool, gpu.NullHandle)), nil
}

// DestroyCommandPool destroys p and frees every command buffer allocated
// from it.
func (d *Device) DestroyCommandPool(p gpu.CommandPool) {
	obj, ok := d.objs.remove(gpu.KindCommandPool, gpu.Handle(p))
	if !ok {
		return
	}
	d.objs.removeOwned(gpu.Handle(p))
	vk.DestroyCommandPool(d.device, obj.value.(vk.CommandPool), nil)
}

func (d *Device) AllocateCommandBuffers(pool gpu.CommandPool, count int) ([]gpu.CommandBuffer, error) {
	if count <= 0 {
		return nil, nil
	}
	commandPool, err := get[vk.CommandPool](d.objs, gpu.KindCommandPool, gpu.Handle(pool))
	if err != nil {
		return nil, err
	}

	allocInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        commandPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: uint32(count),
	}

	commandBuffers := make([]vk.CommandBuffer, count)
	res := vk.AllocateCommandBuffers(d.device, &allocInfo, commandBuffers)
	if err := result(res); err != nil {
		return nil, errors.Wrap(err, "failed to allocate command buffers")
	}

	cbs := make([]gpu.CommandBuffer, count)
	for i, cb := range commandBuffers {
		cbs[i] = gpu.CommandBuffer(d.objs.add(kindCommandBuffer, cb, gpu.Handle(pool)))
	}
	return cbs, nil
}

func (d *Device) FreeCommandBuffers(pool gpu.CommandPool, cbs []gpu.CommandBuffer) {
	commandPool, err := get[vk.CommandPool](d.objs, gpu.KindCommandPool, gpu.Handle(pool))
	if err != nil {
		return
	}

	commandBuffers := make([]vk.CommandBuffer, 0, len(cbs))
	for _, cb := range cbs {
		obj, ok := d.objs.remove(kindCommandBuffer, gpu.Handle(cb))
		if !ok {
			continue
		}
		commandBuffers = append(commandBuffers, obj.value.(vk.CommandBuffer))
	}
	if len(commandBuffers) == 0 {
		return
	}
	vk.FreeCommandBuffers(d.device, commandPool, uint32(len(commandBuffers)), commandBuffers)
}

func (d *Device) commandBuffer(cb gpu.CommandBuffer) vk.CommandBuffer {
	return must[vk.CommandBuffer](d.objs, kindCommandBuffer, gpu.Handle(cb))
}

func (d *Device) BeginCommandBuffer(cb gpu.CommandBuffer, oneTime bool) error {
	commandBuffer, err := get[vk.CommandBuffer](d.objs, kindCommandBuffer, gpu.Handle(cb))
	if err != nil {
		return err
	}

	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	}
	if oneTime {
		beginInfo.Flags = vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}

	res := vk.BeginCommandBuffer(commandBuffer, &beginInfo)
	return errors.Wrap(result(res), "cannot add begin command to the buffer")
}

func (d *Device) EndCommandBuffer(cb gpu.CommandBuffer) error {
	commandBuffer, err := get[vk.CommandBuffer](d.objs, kindCommandBuffer, gpu.Handle(cb))
	if err != nil {
		return err
	}
	return errors.Wrap(result(vk.EndCommandBuffer(commandBuffer)), "recording commands to buffer failed")
}

func (d *Device) ResetCommandBuffer(cb gpu.CommandBuffer) error {
	commandBuffer, err := get[vk.CommandBuffer](d.objs, kindCommandBuffer, gpu.Handle(cb))
	if err != nil {
		return err
	}
	return errors.Wrap(result(vk.ResetCommandBuffer(commandBuffer, 0)), "resetting command buffer")
}

func (d *Device) CmdCopyBuffer(cb gpu.CommandBuffer, src, dst gpu.Buffer, regions []gpu.BufferCopy) {
	copyRegions := make([]vk.BufferCopy, len(regions))
	for i, r := range regions {
		copyRegions[i] = vk.BufferCopy{
			SrcOffset: vk.DeviceSize(r.SrcOffset),
			DstOffset: vk.DeviceSize(r.DstOffset),
			Size:      vk.DeviceSize(r.Size),
		}
	}

	vk.CmdCopyBuffer(
		d.commandBuffer(cb),
		must[vk.Buffer](d.objs, gpu.KindBuffer, gpu.Handle(src)),
		must[vk.Buffer](d.objs, gpu.KindBuffer, gpu.Handle(dst)),
		uint32(len(copyRegions)),
		copyRegions,
	)
}

func bufferImageCopy(region gpu.BufferImageCopy) vk.BufferImageCopy {
	return vk.BufferImageCopy{
		BufferOffset:      vk.DeviceSize(region.BufferOffset),
		BufferRowLength:   0,
		BufferImageHeight: 0,

		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
			MipLevel:       0,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},

		ImageOffset: vk.Offset3D{
			X: 0, Y: 0, Z: 0,
		},

		ImageExtent: vk.Extent3D{
			Width:  region.Width,
			Height: region.Height,
			Depth:  1,
		},
	}
}

func (d *Device) CmdCopyBufferToImage(cb gpu.CommandBuffer, src gpu.Buffer, dst gpu.Image, layout gpu.ImageLayout, region gpu.BufferImageCopy) {
	vk.CmdCopyBufferToImage(
		d.commandBuffer(cb),
		must[vk.Buffer](d.objs, gpu.KindBuffer, gpu.Handle(src)),
		must[*image](d.objs, gpu.KindImage, gpu.Handle(dst)).handle,
		vk.ImageLayout(layout),
		1,
		[]vk.BufferImageCopy{bufferImageCopy(region)},
	)
}

func (d *Device) CmdCopyImageToBuffer(cb gpu.CommandBuffer, src gpu.Image, layout gpu.ImageLayout, dst gpu.Buffer, region gpu.BufferImageCopy) {
	vk.CmdCopyImageToBuffer(
		d.commandBuffer(cb),
		must[*image](d.objs, gpu.KindImage, gpu.Handle(src)).handle,
		vk.ImageLayout(layout),
		must[vk.Buffer](d.objs, gpu.KindBuffer, gpu.Handle(dst)),
		1,
		[]vk.BufferImageCopy{bufferImageCopy(region)},
	)
}

// CmdPipelineBarrier records one pipeline barrier per image barrier so that
// every transition keeps its own stage masks.
func (d *Device) CmdPipelineBarrier(cb gpu.CommandBuffer, barriers []gpu.ImageBarrier) {
	commandBuffer := d.commandBuffer(cb)

	for _, b := range barriers {
		barrier := vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			OldLayout:           vk.ImageLayout(b.OldLayout),
			NewLayout:           vk.ImageLayout(b.NewLayout),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               must[*image](d.objs, gpu.KindImage, gpu.Handle(b.Image)).handle,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask:     vk.ImageAspectFlags(b.Aspect),
				BaseMipLevel:   0,
				LevelCount:     1,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
			SrcAccessMask: vk.AccessFlags(b.SrcAccess),
			DstAccessMask: vk.AccessFlags(b.DstAccess),
		}

		vk.CmdPipelineBarrier(
			commandBuffer,
			vk.PipelineStageFlags(b.SrcStage), vk.PipelineStageFlags(b.DstStage),
			0,
			0, nil,
			0, nil,
			1, []vk.ImageMemoryBarrier{barrier},
		)
	}
}

func (d *Device) CmdBeginRenderPass(cb gpu.CommandBuffer, rp gpu.RenderPass, fb gpu.Framebuffer, area gpu.Rect2D, clear gpu.ClearValues) {
	pass := must[*renderPass](d.objs, gpu.KindRenderPass, gpu.Handle(rp))

	clearValues := make([]vk.ClearValue, 1, 2)
	clearValues[0].SetColor(clear.Color[:])
	if pass.hasDepth {
		var depth vk.ClearValue
		depth.SetDepthStencil(clear.Depth, clear.Stencil)
		clearValues = append(clearValues, depth)
	}

	renderPassInfo := vk.RenderPassBeginInfo{
		SType:           vk.StructureTypeRenderPassBeginInfo,
		RenderPass:      pass.handle,
		Framebuffer:     must[vk.Framebuffer](d.objs, gpu.KindFramebuffer, gpu.Handle(fb)),
		RenderArea:      rect2D(area),
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}

	vk.CmdBeginRenderPass(d.commandBuffer(cb), &renderPassInfo, vk.SubpassContentsInline)
}

func (d *Device) CmdEndRenderPass(cb gpu.CommandBuffer) {
	vk.CmdEndRenderPass(d.commandBuffer(cb))
}

func (d *Device) CmdBindPipeline(cb gpu.CommandBuffer, p gpu.Pipeline) {
	vk.CmdBindPipeline(
		d.commandBuffer(cb),
		vk.PipelineBindPointGraphics,
		must[vk.Pipeline](d.objs, gpu.KindPipeline, gpu.Handle(p)),
	)
}

func rect2D(r gpu.Rect2D) vk.Rect2D {
	return vk.Rect2D{
		Offset: vk.Offset2D{X: r.X, Y: r.Y},
		Extent: vk.Extent2D{Width: r.Extent.Width, Height: r.Extent.Height},
	}
}

func (d *Device) CmdSetViewport(cb gpu.CommandBuffer, vp gpu.Viewport) {
	viewport := vk.Viewport{
		X:        vp.X,
		Y:        vp.Y,
		Width:    vp.Width,
		Height:   vp.Height,
		MinDepth: vp.MinDepth,
		MaxDepth: vp.MaxDepth,
	}
	vk.CmdSetViewport(d.commandBuffer(cb), 0, 1, []vk.Viewport{viewport})
}

func (d *Device) CmdSetScissor(cb gpu.CommandBuffer, r gpu.Rect2D) {
	vk.CmdSetScissor(d.commandBuffer(cb), 0, 1, []vk.Rect2D{rect2D(r)})
}

func (d *Device) CmdBindVertexBuffer(cb gpu.CommandBuffer, buf gpu.Buffer, offset uint64) {
	vertexBuffers := []vk.Buffer{must[vk.Buffer](d.objs, gpu.KindBuffer, gpu.Handle(buf))}
	offsets := []vk.DeviceSize{vk.DeviceSize(offset)}
	vk.CmdBindVertexBuffers(d.commandBuffer(cb), 0, 1, vertexBuffers, offsets)
}

func (d *Device) CmdBindIndexBuffer(cb gpu.CommandBuffer, buf gpu.Buffer, offset uint64, t gpu.IndexType) {
	vk.CmdBindIndexBuffer(
		d.commandBuffer(cb),
		must[vk.Buffer](d.objs, gpu.KindBuffer, gpu.Handle(buf)),
		vk.DeviceSize(offset),
		vk.IndexType(t),
	)
}

func (d *Device) CmdBindDescriptorSets(cb gpu.CommandBuffer, layout gpu.PipelineLayout, first uint32, sets []gpu.DescriptorSet, dynamicOffsets []uint32) {
	descriptorSets := make([]vk.DescriptorSet, len(sets))
	for i, s := range sets {
		descriptorSets[i] = must[vk.DescriptorSet](d.objs, kindDescriptorSet, gpu.Handle(s))
	}

	vk.CmdBindDescriptorSets(
		d.commandBuffer(cb),
		vk.PipelineBindPointGraphics,
		must[vk.PipelineLayout](d.objs, gpu.KindPipelineLayout, gpu.Handle(layout)),
		first,
		uint32(len(descriptorSets)),
		descriptorSets,
		uint32(len(dynamicOffsets)),
		dynamicOffsets,
	)
}

func (d *Device) CmdPushConstants(cb gpu.CommandBuffer, layout gpu.PipelineLayout, stages gpu.ShaderStage, offset uint32, data []byte) {
	if len(data) == 0 {
		return
	}
	vk.CmdPushConstants(
		d.commandBuffer(cb),
		must[vk.PipelineLayout](d.objs, gpu.KindPipelineLayout, gpu.Handle(layout)),
		vk.ShaderStageFlags(stages),
		offset,
		uint32(len(data)),
		unsafe.Pointer(&data[0]),
	)
}

func (d *Device) CmdDrawIndexed(cb gpu.CommandBuffer, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	vk.CmdDrawIndexed(d.commandBuffer(cb), indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}
