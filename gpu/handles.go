package gpu

import "fmt"

// Handle is the untyped identity of an object created by a Device.
type Handle uint64

// NullHandle is never returned for a live object.
const NullHandle Handle = 0

type (
	// Surface is the presentation target supplied by the platform layer.
	Surface Handle

	// Queue is a device queue obtained with Device.Queue.
	Queue Handle

	// Memory is a device memory allocation.
	Memory Handle

	// Buffer is a linear GPU resource.
	Buffer Handle

	// Image is a GPU image. Swapchain images are owned by their swapchain.
	Image Handle

	// ImageView describes how an image is accessed by shaders and attachments.
	ImageView Handle

	// Sampler describes texture filtering and addressing.
	Sampler Handle

	// DescriptorSetLayout declares the bindings of a descriptor set.
	DescriptorSetLayout Handle

	// DescriptorPool backs descriptor set allocations.
	DescriptorPool Handle

	// DescriptorSet is a concrete binding of resources.
	DescriptorSet Handle

	// ShaderModule holds compiled shader bytecode.
	ShaderModule Handle

	// RenderPass declares attachments and their load/store/layout contract.
	RenderPass Handle

	// PipelineLayout declares descriptor set layouts and the push constant range.
	PipelineLayout Handle

	// Pipeline is a compiled graphics pipeline.
	Pipeline Handle

	// Framebuffer binds image views to the attachments of a render pass.
	Framebuffer Handle

	// CommandPool backs command buffer allocations for one queue family.
	CommandPool Handle

	// CommandBuffer records commands for submission.
	CommandBuffer Handle

	// Semaphore is a GPU-to-GPU ordering primitive.
	Semaphore Handle

	// Fence is a CPU-observable completion marker. It must be reset
	// explicitly after it has been waited on.
	Fence Handle

	// Swapchain is the presentable image chain of a surface.
	Swapchain Handle
)

// ObjectKind names the type of object behind a handle. Backends use it for
// live object accounting and diagnostics.
type ObjectKind int

const (
	KindMemory ObjectKind = iota
	KindBuffer
	KindImage
	KindImageView
	KindSampler
	KindDescriptorSetLayout
	KindDescriptorPool
	KindShaderModule
	KindRenderPass
	KindPipelineLayout
	KindPipeline
	KindFramebuffer
	KindCommandPool
	KindSemaphore
	KindFence
	KindSwapchain
)

var objectKindNames = [...]string{
	KindMemory:              "memory",
	KindBuffer:              "buffer",
	KindImage:               "image",
	KindImageView:           "image view",
	KindSampler:             "sampler",
	KindDescriptorSetLayout: "descriptor set layout",
	KindDescriptorPool:      "descriptor pool",
	KindShaderModule:        "shader module",
	KindRenderPass:          "render pass",
	KindPipelineLayout:      "pipeline layout",
	KindPipeline:            "pipeline",
	KindFramebuffer:         "framebuffer",
	KindCommandPool:         "command pool",
	KindSemaphore:           "semaphore",
	KindFence:               "fence",
	KindSwapchain:           "swapchain",
}

func (k ObjectKind) String() string {
	if k < 0 || int(k) >= len(objectKindNames) {
		return fmt.Sprintf("ObjectKind(%d)", int(k))
	}
	return objectKindNames[k]
}
