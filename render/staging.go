package render

import (
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"

	"github.com/ironsmile/vulkan-render-go/gpu"
)

// StagedTransfer moves bytes between the host and device-local resources
// through transient host-visible buffers.
//
// Every transfer blocks the calling goroutine until the transfer queue is
// idle. A staging buffer is created, filled, submitted and destroyed within
// a single call and never outlives it. This keeps resource loading simple at
// the cost of throughput: nothing else is submitted to the transfer queue
// while an upload runs, and uploads are not batched.
type StagedTransfer struct {
	dev     gpu.Device
	memory  *MemoryAllocator
	layouts *LayoutTracker
	queue   gpu.Queue
	pool    gpu.CommandPool

	uploads   int
	downloads int
	bytes     uint64
}

// NewStagedTransfer creates the transient command pool used for transfers.
func NewStagedTransfer(dev gpu.Device, memory *MemoryAllocator, layouts *LayoutTracker) (*StagedTransfer, error) {
	pool, err := dev.CreateCommandPool(gpu.QueueTransfer, false)
	if err != nil {
		return nil, classify(err, "create transfer command pool")
	}

	return &StagedTransfer{
		dev:     dev,
		memory:  memory,
		layouts: layouts,
		queue:   dev.Queue(gpu.QueueTransfer),
		pool:    pool,
	}, nil
}

// Destroy destroys the command pool. No transfer may run concurrently.
func (s *StagedTransfer) Destroy() {
	s.dev.DestroyCommandPool(s.pool)
	s.pool = 0
}

func transferFailed(err error, op string) error {
	return errors.Mark(errors.Wrap(err, op), ErrTransferFailed)
}

// stagingBuffer creates a transient host-visible, coherent buffer.
func (s *StagedTransfer) stagingBuffer(size uint64, usage gpu.BufferUsage) (*Buffer, error) {
	handle, err := s.dev.CreateBuffer(size, usage)
	if err != nil {
		return nil, classify(err, "create staging buffer")
	}

	alloc, err := s.memory.Allocate(s.dev.BufferRequirements(handle), gpu.MemoryHostVisible|gpu.MemoryHostCoherent)
	if err != nil {
		s.dev.DestroyBuffer(handle)
		return nil, err
	}

	if err := s.memory.BindBuffer(handle, alloc); err != nil {
		s.dev.DestroyBuffer(handle)
		s.memory.Free(alloc)
		return nil, err
	}

	return &Buffer{Handle: handle, Size: size, Usage: usage, alloc: alloc}, nil
}

func (s *StagedTransfer) destroyStaging(buf *Buffer) {
	s.dev.DestroyBuffer(buf.Handle)
	s.memory.Free(buf.alloc)
}

// runOnce records commands with record into a one-shot command buffer,
// submits it and waits for the transfer queue to become idle.
func (s *StagedTransfer) runOnce(record func(cb gpu.CommandBuffer) error) error {
	cbs, err := s.dev.AllocateCommandBuffers(s.pool, 1)
	if err != nil {
		return classify(err, "allocate command buffer")
	}
	defer s.dev.FreeCommandBuffers(s.pool, cbs)

	if err := s.dev.BeginCommandBuffer(cbs[0], true); err != nil {
		return classify(err, "begin command buffer")
	}

	if err := record(cbs[0]); err != nil {
		// The buffer is freed without being submitted.
		_ = s.dev.EndCommandBuffer(cbs[0])
		return err
	}

	if err := s.dev.EndCommandBuffer(cbs[0]); err != nil {
		return classify(err, "end command buffer")
	}

	submit := []gpu.SubmitInfo{{CommandBuffers: cbs}}
	if err := s.dev.QueueSubmit(s.queue, submit, 0); err != nil {
		return classify(err, "submit to transfer queue")
	}

	if err := s.dev.QueueWaitIdle(s.queue); err != nil {
		return classify(err, "wait for transfer queue")
	}

	return nil
}

// runOnImage is runOnce for commands transitioning img. The tracked layout
// of img is put back when the commands did not run.
func (s *StagedTransfer) runOnImage(img *Image, record func(cb gpu.CommandBuffer) error) error {
	layout := img.layout
	if err := s.runOnce(record); err != nil {
		img.layout = layout
		return err
	}
	return nil
}

// UploadBuffer copies data to the start of dst. dst must have transfer
// destination usage.
func (s *StagedTransfer) UploadBuffer(dst *Buffer, data []byte) error {
	if !dst.Usage.Has(gpu.BufferUsageTransferDst) {
		return transferFailed(errors.New("destination lacks transfer dst usage"), "upload buffer")
	}
	if uint64(len(data)) > dst.Size {
		return transferFailed(
			errors.Newf("%d bytes do not fit a %d byte buffer", len(data), dst.Size),
			"upload buffer",
		)
	}

	size := uint64(len(data))
	staging, err := s.stagingBuffer(size, gpu.BufferUsageTransferSrc)
	if err != nil {
		return transferFailed(err, "upload buffer")
	}
	defer s.destroyStaging(staging)

	if err := s.fill(staging, data); err != nil {
		return transferFailed(err, "upload buffer")
	}

	err = s.runOnce(func(cb gpu.CommandBuffer) error {
		s.dev.CmdCopyBuffer(cb, staging.Handle, dst.Handle, []gpu.BufferCopy{{Size: size}})
		return nil
	})
	if err != nil {
		return transferFailed(err, "upload buffer")
	}

	s.uploads++
	s.bytes += size
	Logger().Debug("buffer uploaded", "bytes", size)
	return nil
}

func (s *StagedTransfer) fill(staging *Buffer, data []byte) error {
	mapped, err := s.memory.Map(staging.alloc, uint64(len(data)))
	if err != nil {
		return err
	}
	copy(mapped, data)
	s.memory.Unmap(staging.alloc)
	return nil
}

func (s *StagedTransfer) drain(staging *Buffer) ([]byte, error) {
	mapped, err := s.memory.Map(staging.alloc, staging.Size)
	if err != nil {
		return nil, err
	}
	out := make([]byte, staging.Size)
	copy(out, mapped)
	s.memory.Unmap(staging.alloc)
	return out, nil
}

// UploadImage copies tightly packed texels to the whole of dst. The image is
// moved to the transfer destination layout for the copy, and sampled images
// end in the shader read-only layout.
func (s *StagedTransfer) UploadImage(dst *Image, data []byte) error {
	if !dst.Usage.Has(gpu.ImageUsageTransferDst) {
		return transferFailed(errors.New("destination lacks transfer dst usage"), "upload image")
	}
	if uint64(len(data)) != dst.byteSize() {
		return transferFailed(
			errors.Newf("%d bytes given for a %d byte image", len(data), dst.byteSize()),
			"upload image",
		)
	}

	staging, err := s.stagingBuffer(uint64(len(data)), gpu.BufferUsageTransferSrc)
	if err != nil {
		return transferFailed(err, "upload image")
	}
	defer s.destroyStaging(staging)

	if err := s.fill(staging, data); err != nil {
		return transferFailed(err, "upload image")
	}

	err = s.runOnImage(dst, func(cb gpu.CommandBuffer) error {
		if _, err := s.layouts.Transition(cb, dst, gpu.LayoutTransferDstOptimal); err != nil {
			return err
		}
		s.dev.CmdCopyBufferToImage(cb, staging.Handle, dst.Handle, gpu.LayoutTransferDstOptimal,
			gpu.BufferImageCopy{Width: dst.Width, Height: dst.Height})
		if dst.Usage.Has(gpu.ImageUsageSampled) {
			if _, err := s.layouts.Transition(cb, dst, gpu.LayoutShaderReadOnlyOptimal); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return transferFailed(err, "upload image")
	}

	s.uploads++
	s.bytes += uint64(len(data))
	Logger().Debug("image uploaded",
		"width", dst.Width,
		"height", dst.Height,
		"bytes", len(data),
	)
	return nil
}

// Prepare moves img to layout with a one-shot command buffer and waits for
// it to complete.
func (s *StagedTransfer) Prepare(img *Image, layout gpu.ImageLayout) error {
	return s.runOnImage(img, func(cb gpu.CommandBuffer) error {
		_, err := s.layouts.Transition(cb, img, layout)
		return err
	})
}

// DownloadBuffer reads back the contents of src. src must have transfer
// source usage.
func (s *StagedTransfer) DownloadBuffer(src *Buffer) ([]byte, error) {
	if !src.Usage.Has(gpu.BufferUsageTransferSrc) {
		return nil, transferFailed(errors.New("source lacks transfer src usage"), "download buffer")
	}

	staging, err := s.stagingBuffer(src.Size, gpu.BufferUsageTransferDst)
	if err != nil {
		return nil, transferFailed(err, "download buffer")
	}
	defer s.destroyStaging(staging)

	err = s.runOnce(func(cb gpu.CommandBuffer) error {
		s.dev.CmdCopyBuffer(cb, src.Handle, staging.Handle, []gpu.BufferCopy{{Size: src.Size}})
		return nil
	})
	if err != nil {
		return nil, transferFailed(err, "download buffer")
	}

	out, err := s.drain(staging)
	if err != nil {
		return nil, transferFailed(err, "download buffer")
	}
	s.downloads++
	return out, nil
}

// DownloadImage reads back the texels of src. A sampled image is returned
// to the shader read-only layout afterwards.
func (s *StagedTransfer) DownloadImage(src *Image) ([]byte, error) {
	if !src.Usage.Has(gpu.ImageUsageTransferSrc) {
		return nil, transferFailed(errors.New("source lacks transfer src usage"), "download image")
	}

	staging, err := s.stagingBuffer(src.byteSize(), gpu.BufferUsageTransferDst)
	if err != nil {
		return nil, transferFailed(err, "download image")
	}
	defer s.destroyStaging(staging)

	restore := src.layout
	err = s.runOnImage(src, func(cb gpu.CommandBuffer) error {
		if _, err := s.layouts.Transition(cb, src, gpu.LayoutTransferSrcOptimal); err != nil {
			return err
		}
		s.dev.CmdCopyImageToBuffer(cb, src.Handle, gpu.LayoutTransferSrcOptimal, staging.Handle,
			gpu.BufferImageCopy{Width: src.Width, Height: src.Height})
		if restore == gpu.LayoutShaderReadOnlyOptimal {
			if _, err := s.layouts.Transition(cb, src, restore); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, transferFailed(err, "download image")
	}

	out, err := s.drain(staging)
	if err != nil {
		return nil, transferFailed(err, "download image")
	}
	s.downloads++
	return out, nil
}

// WriteStats writes transfer counters as a JSON object property of obj.
func (s *StagedTransfer) WriteStats(obj *jwriter.ObjectState) {
	stats := obj.Name("transfers").Object()
	defer stats.End()

	stats.Name("uploads").Int(s.uploads)
	stats.Name("downloads").Int(s.downloads)
	stats.Name("uploadedBytes").Float64(float64(s.bytes))
}
