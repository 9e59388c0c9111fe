package gpu

import "time"

// Device is a logical GPU context. It owns its queues and is the only
// factory for every other object. A Device is created once and destroyed
// last; Destroy must not be called while any object it created is alive.
//
// Methods record or submit work but never wait for it unless their name says
// so (WaitForFences, QueueWaitIdle, DeviceWaitIdle).
type Device interface {
	Capabilities() PhysicalCapabilities
	Queue(role QueueRole) Queue

	// FormatFeatures returns the features supported for format with the
	// given tiling.
	FormatFeatures(format Format, tiling ImageTiling) FormatFeatures

	SurfaceSupport(surface Surface) (SurfaceSupport, error)

	CreateBuffer(size uint64, usage BufferUsage) (Buffer, error)
	BufferRequirements(buf Buffer) MemoryRequirements
	DestroyBuffer(buf Buffer)

	CreateImage(info ImageInfo) (Image, error)
	ImageRequirements(img Image) MemoryRequirements
	DestroyImage(img Image)

	AllocateMemory(size uint64, typeIndex uint32) (Memory, error)
	FreeMemory(mem Memory)
	BindBufferMemory(buf Buffer, mem Memory, offset uint64) error
	BindImageMemory(img Image, mem Memory, offset uint64) error

	// MapMemory returns a host view of size bytes starting at offset. The
	// slice is valid until UnmapMemory.
	MapMemory(mem Memory, offset, size uint64) ([]byte, error)
	UnmapMemory(mem Memory)

	CreateImageView(img Image, format Format, aspect ImageAspect) (ImageView, error)
	DestroyImageView(view ImageView)
	CreateSampler(info SamplerInfo) (Sampler, error)
	DestroySampler(s Sampler)

	CreateDescriptorSetLayout(bindings []DescriptorSetLayoutBinding) (DescriptorSetLayout, error)
	DestroyDescriptorSetLayout(l DescriptorSetLayout)
	CreateDescriptorPool(maxSets uint32, sizes []DescriptorPoolSize) (DescriptorPool, error)
	DestroyDescriptorPool(p DescriptorPool)
	AllocateDescriptorSets(pool DescriptorPool, layouts []DescriptorSetLayout) ([]DescriptorSet, error)
	UpdateDescriptorSets(writes []DescriptorWrite) error

	CreateShaderModule(code []byte) (ShaderModule, error)
	DestroyShaderModule(m ShaderModule)
	CreateRenderPass(info RenderPassInfo) (RenderPass, error)
	DestroyRenderPass(rp RenderPass)
	CreatePipelineLayout(sets []DescriptorSetLayout, push *PushConstantRange) (PipelineLayout, error)
	DestroyPipelineLayout(l PipelineLayout)
	CreateGraphicsPipeline(info GraphicsPipelineInfo) (Pipeline, error)
	DestroyPipeline(p Pipeline)
	CreateFramebuffer(rp RenderPass, attachments []ImageView, extent Extent2D) (Framebuffer, error)
	DestroyFramebuffer(fb Framebuffer)

	CreateCommandPool(role QueueRole, resettable bool) (CommandPool, error)
	DestroyCommandPool(p CommandPool)
	AllocateCommandBuffers(pool CommandPool, count int) ([]CommandBuffer, error)
	FreeCommandBuffers(pool CommandPool, cbs []CommandBuffer)

	BeginCommandBuffer(cb CommandBuffer, oneTime bool) error
	EndCommandBuffer(cb CommandBuffer) error
	ResetCommandBuffer(cb CommandBuffer) error

	CmdCopyBuffer(cb CommandBuffer, src, dst Buffer, regions []BufferCopy)
	CmdCopyBufferToImage(cb CommandBuffer, src Buffer, dst Image, layout ImageLayout, region BufferImageCopy)
	CmdCopyImageToBuffer(cb CommandBuffer, src Image, layout ImageLayout, dst Buffer, region BufferImageCopy)
	CmdPipelineBarrier(cb CommandBuffer, barriers []ImageBarrier)
	CmdBeginRenderPass(cb CommandBuffer, rp RenderPass, fb Framebuffer, area Rect2D, clear ClearValues)
	CmdEndRenderPass(cb CommandBuffer)
	CmdBindPipeline(cb CommandBuffer, p Pipeline)
	CmdSetViewport(cb CommandBuffer, vp Viewport)
	CmdSetScissor(cb CommandBuffer, r Rect2D)
	CmdBindVertexBuffer(cb CommandBuffer, buf Buffer, offset uint64)
	CmdBindIndexBuffer(cb CommandBuffer, buf Buffer, offset uint64, t IndexType)
	CmdBindDescriptorSets(cb CommandBuffer, layout PipelineLayout, first uint32, sets []DescriptorSet, dynamicOffsets []uint32)
	CmdPushConstants(cb CommandBuffer, layout PipelineLayout, stages ShaderStage, offset uint32, data []byte)
	CmdDrawIndexed(cb CommandBuffer, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32)

	CreateSemaphore() (Semaphore, error)
	DestroySemaphore(s Semaphore)
	CreateFence(signaled bool) (Fence, error)
	DestroyFence(f Fence)
	ResetFences(fences []Fence) error
	FenceSignaled(f Fence) (bool, error)

	// WaitForFences blocks until all fences are signaled or timeout elapses,
	// in which case it returns ErrTimeout. NoTimeout waits forever.
	WaitForFences(fences []Fence, timeout time.Duration) error

	QueueSubmit(q Queue, submits []SubmitInfo, fence Fence) error
	QueueWaitIdle(q Queue) error
	DeviceWaitIdle() error

	CreateSwapchain(info SwapchainInfo) (Swapchain, error)
	SwapchainImages(sc Swapchain) ([]Image, error)
	DestroySwapchain(sc Swapchain)

	// AcquireNextImage returns the index of the next presentable image and
	// arranges for signal to be signaled once it may be written. A
	// suboptimal swapchain returns a valid index together with ErrSuboptimal.
	AcquireNextImage(sc Swapchain, timeout time.Duration, signal Semaphore) (uint32, error)

	// QueuePresent queues image index of sc for presentation after wait is
	// signaled. It may return ErrOutOfDate or ErrSuboptimal.
	QueuePresent(q Queue, sc Swapchain, index uint32, wait []Semaphore) error

	Destroy()
}

// Tracker is implemented by backends that can report the objects currently
// alive. It is used by tests and the demo's -stats output.
type Tracker interface {
	LiveObjects() map[ObjectKind]int
}
