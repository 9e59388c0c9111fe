package render

import (
	"github.com/cockroachdb/errors"

	"github.com/ironsmile/vulkan-render-go/gpu"
)

type layoutChange struct {
	from, to gpu.ImageLayout
}

type barrierMasks struct {
	srcAccess gpu.Access
	dstAccess gpu.Access
	srcStage  gpu.PipelineStage
	dstStage  gpu.PipelineStage
}

var supportedTransitions = map[layoutChange]barrierMasks{
	{gpu.LayoutUndefined, gpu.LayoutTransferDstOptimal}: {
		dstAccess: gpu.AccessTransferWrite,
		srcStage:  gpu.StageTopOfPipe,
		dstStage:  gpu.StageTransfer,
	},
	{gpu.LayoutTransferDstOptimal, gpu.LayoutShaderReadOnlyOptimal}: {
		srcAccess: gpu.AccessTransferWrite,
		dstAccess: gpu.AccessShaderRead,
		srcStage:  gpu.StageTransfer,
		dstStage:  gpu.StageFragmentShader,
	},
	{gpu.LayoutUndefined, gpu.LayoutDepthStencilAttachmentOptimal}: {
		dstAccess: gpu.AccessDepthStencilAttachmentRead | gpu.AccessDepthStencilAttachmentWrite,
		srcStage:  gpu.StageTopOfPipe,
		dstStage:  gpu.StageEarlyFragmentTests,
	},
	{gpu.LayoutShaderReadOnlyOptimal, gpu.LayoutTransferSrcOptimal}: {
		srcAccess: gpu.AccessShaderRead,
		dstAccess: gpu.AccessTransferRead,
		srcStage:  gpu.StageFragmentShader,
		dstStage:  gpu.StageTransfer,
	},
	{gpu.LayoutTransferSrcOptimal, gpu.LayoutShaderReadOnlyOptimal}: {
		srcAccess: gpu.AccessTransferRead,
		dstAccess: gpu.AccessShaderRead,
		srcStage:  gpu.StageTransfer,
		dstStage:  gpu.StageFragmentShader,
	},
	{gpu.LayoutTransferDstOptimal, gpu.LayoutTransferSrcOptimal}: {
		srcAccess: gpu.AccessTransferWrite,
		dstAccess: gpu.AccessTransferRead,
		srcStage:  gpu.StageTransfer,
		dstStage:  gpu.StageTransfer,
	},
	{gpu.LayoutShaderReadOnlyOptimal, gpu.LayoutTransferDstOptimal}: {
		srcAccess: gpu.AccessShaderRead,
		dstAccess: gpu.AccessTransferWrite,
		srcStage:  gpu.StageFragmentShader,
		dstStage:  gpu.StageTransfer,
	},
}

// LayoutTracker records image layout transitions. The layout of an Image is
// the layout it will be in once all commands recorded so far have executed,
// so a transition is only emitted when it changes something.
type LayoutTracker struct {
	dev      gpu.Device
	barriers int
}

// NewLayoutTracker returns a tracker recording into command buffers of dev.
func NewLayoutTracker(dev gpu.Device) *LayoutTracker {
	return &LayoutTracker{dev: dev}
}

// Transition records a barrier moving img to layout into cb. It reports
// whether a barrier was recorded: nothing is recorded when img already is in
// layout.
func (t *LayoutTracker) Transition(cb gpu.CommandBuffer, img *Image, layout gpu.ImageLayout) (bool, error) {
	if img.layout == layout {
		return false, nil
	}

	masks, ok := supportedTransitions[layoutChange{img.layout, layout}]
	if !ok {
		return false, errors.Mark(
			errors.Newf("image layout transition from %s to %s", img.layout, layout),
			ErrUnsupportedTransition,
		)
	}

	t.dev.CmdPipelineBarrier(cb, []gpu.ImageBarrier{{
		Image:     img.Handle,
		Aspect:    img.aspect(),
		OldLayout: img.layout,
		NewLayout: layout,
		SrcStage:  masks.srcStage,
		DstStage:  masks.dstStage,
		SrcAccess: masks.srcAccess,
		DstAccess: masks.dstAccess,
	}})
	img.layout = layout
	t.barriers++
	return true, nil
}

// Barriers returns the number of barriers recorded so far.
func (t *LayoutTracker) Barriers() int {
	return t.barriers
}
