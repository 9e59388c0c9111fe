package render

import (
	"github.com/ironsmile/vulkan-render-go/gpu"
)

// Draw is one indexed draw of a mesh with its descriptor sets and push
// constants.
type Draw struct {
	Mesh           *Mesh
	Sets           []*DescriptorSet
	DynamicOffsets []uint32
	PushConstants  []byte
}

// Target is the framebuffer a command buffer renders into.
type Target struct {
	RenderPass  gpu.RenderPass
	Framebuffer gpu.Framebuffer
	Extent      gpu.Extent2D
}

// CommandRecorder records the single render pass of a frame.
type CommandRecorder struct {
	dev        gpu.Device
	validation bool
	clear      gpu.ClearValues
}

// NewCommandRecorder returns a recorder clearing the colour attachment to
// clearColor and depth to 1.0.
func NewCommandRecorder(dev gpu.Device, clearColor [4]float32, validation bool) *CommandRecorder {
	return &CommandRecorder{
		dev:        dev,
		validation: validation,
		clear:      gpu.ClearValues{Color: clearColor, Depth: 1.0, Stencil: 0},
	}
}

// Record resets cb and records draws into it. fence guards the previous
// submission of cb; recording before it is signaled is a synchronization
// violation that is caught when validation is on.
func (r *CommandRecorder) Record(
	cb gpu.CommandBuffer,
	fence gpu.Fence,
	target Target,
	pipeline *Pipeline,
	draws []Draw,
) error {
	if r.validation {
		signaled, err := r.dev.FenceSignaled(fence)
		if err != nil {
			return classify(err, "query fence")
		}
		if !signaled {
			return syncViolationf("command buffer %d recorded while its previous submission is in flight", cb)
		}
	}

	for _, d := range draws {
		if err := r.check(pipeline, d); err != nil {
			return err
		}
	}

	if err := r.dev.ResetCommandBuffer(cb); err != nil {
		return classify(err, "reset command buffer")
	}
	if err := r.dev.BeginCommandBuffer(cb, false); err != nil {
		return classify(err, "begin command buffer")
	}

	area := gpu.Rect2D{Extent: target.Extent}
	r.dev.CmdBeginRenderPass(cb, target.RenderPass, target.Framebuffer, area, r.clear)
	r.dev.CmdBindPipeline(cb, pipeline.Handle)
	r.dev.CmdSetViewport(cb, gpu.Viewport{
		Width:    float32(target.Extent.Width),
		Height:   float32(target.Extent.Height),
		MinDepth: 0,
		MaxDepth: 1,
	})
	r.dev.CmdSetScissor(cb, area)

	layout := pipeline.Layout
	for _, d := range draws {
		mesh := d.Mesh
		r.dev.CmdBindVertexBuffer(cb, mesh.Vertices.Handle, 0)
		r.dev.CmdBindIndexBuffer(cb, mesh.Indices.Handle, 0, mesh.IndexType)

		if len(d.Sets) > 0 {
			handles := make([]gpu.DescriptorSet, len(d.Sets))
			for i, s := range d.Sets {
				handles[i] = s.Handle
			}
			r.dev.CmdBindDescriptorSets(cb, layout.Handle, 0, handles, d.DynamicOffsets)
		}

		if len(d.PushConstants) > 0 {
			r.dev.CmdPushConstants(cb, layout.Handle, layout.PushStages, 0, d.PushConstants)
		}

		r.dev.CmdDrawIndexed(cb, mesh.IndexCount, 1, 0, 0, 0)
	}

	r.dev.CmdEndRenderPass(cb)
	if err := r.dev.EndCommandBuffer(cb); err != nil {
		return classify(err, "end command buffer")
	}
	return nil
}

func (r *CommandRecorder) check(pipeline *Pipeline, d Draw) error {
	if d.Mesh == nil || d.Mesh.Vertices == nil || d.Mesh.Indices == nil {
		return configErrorf("draw without a mesh")
	}
	if len(d.Sets) != len(pipeline.Layout.SetLayouts) {
		return mismatchf("draw binds %d descriptor sets, pipeline layout declares %d",
			len(d.Sets), len(pipeline.Layout.SetLayouts))
	}
	for i, s := range d.Sets {
		if s.Layout != pipeline.Layout.SetLayouts[i] {
			return mismatchf("descriptor set %d does not match the pipeline layout", i)
		}
		if !s.written {
			return mismatchf("descriptor set %d was never written", i)
		}
	}
	if n := uint32(len(d.PushConstants)); n > pipeline.Layout.PushConstantSize {
		return configErrorf("push constants of %d bytes exceed the %d byte block",
			n, pipeline.Layout.PushConstantSize)
	}
	return nil
}
