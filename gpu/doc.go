// Package gpu describes the explicit GPU API surface used by the renderer.
//
// It mirrors the subset of Vulkan the renderer needs: memory types and
// allocations, buffers and images, descriptor sets, pipelines, command
// buffers, queues, fences, semaphores and the swapchain. Enum values match
// their Vulkan counterparts so a backend can convert them with a plain type
// conversion.
//
// Two backends implement Device:
//
//	gpu/vkdriver  Vulkan through github.com/vulkan-go/vulkan and a GLFW surface
//	gpu/softgpu   an in-memory device with an asynchronous queue, used for
//	              headless runs and tests
//
// Handles are opaque, typed and never reused by a backend during the lifetime
// of a Device. The zero value of every handle type is the null handle.
package gpu
