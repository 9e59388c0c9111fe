package vkdriver

import (
	"time"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/ironsmile/vulkan-render-go/gpu"
)

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	semaphoreInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}

	var semaphore vk.Semaphore
	if err := result(vk.CreateSemaphore(d.device, &semaphoreInfo, nil, &semaphore)); err != nil {
		return 0, errors.Wrap(err, "failed to create semaphore")
	}
	return gpu.Semaphore(d.objs.add(gpu.KindSemaphore, semaphore, gpu.NullHandle)), nil
}

func (d *Device) DestroySemaphore(s gpu.Semaphore) {
	obj, ok := d.objs.remove(gpu.KindSemaphore, gpu.Handle(s))
	if !ok {
		return
	}
	vk.DestroySemaphore(d.device, obj.value.(vk.Semaphore), nil)
}

func (d *Device) semaphores(handles []gpu.Semaphore) ([]vk.Semaphore, error) {
	sems := make([]vk.Semaphore, len(handles))
	for i, h := range handles {
		s, err := get[vk.Semaphore](d.objs, gpu.KindSemaphore, gpu.Handle(h))
		if err != nil {
			return nil, err
		}
		sems[i] = s
	}
	return sems, nil
}

func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	fenceInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if signaled {
		fenceInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}

	var fence vk.Fence
	if err := result(vk.CreateFence(d.device, &fenceInfo, nil, &fence)); err != nil {
		return 0, errors.Wrap(err, "failed to create fence")
	}
	return gpu.Fence(d.objs.add(gpu.KindFence, fence, gpu.NullHandle)), nil
}

func (d *Device) DestroyFence(f gpu.Fence) {
	obj, ok := d.objs.remove(gpu.KindFence, gpu.Handle(f))
	if !ok {
		return
	}
	vk.DestroyFence(d.device, obj.value.(vk.Fence), nil)
}

func (d *Device) fences(handles []gpu.Fence) ([]vk.Fence, error) {
	fences := make([]vk.Fence, len(handles))
	for i, h := range handles {
		f, err := get[vk.Fence](d.objs, gpu.KindFence, gpu.Handle(h))
		if err != nil {
			return nil, err
		}
		fences[i] = f
	}
	return fences, nil
}

func (d *Device) ResetFences(handles []gpu.Fence) error {
	if len(handles) == 0 {
		return nil
	}
	fences, err := d.fences(handles)
	if err != nil {
		return err
	}
	res := vk.ResetFences(d.device, uint32(len(fences)), fences)
	return errors.Wrap(result(res), "resetting fences")
}

func (d *Device) FenceSignaled(f gpu.Fence) (bool, error) {
	fence, err := get[vk.Fence](d.objs, gpu.KindFence, gpu.Handle(f))
	if err != nil {
		return false, err
	}

	switch res := vk.GetFenceStatus(d.device, fence); res {
	case vk.Success:
		return true, nil
	case vk.NotReady:
		return false, nil
	default:
		return false, errors.Wrap(result(res), "querying fence status")
	}
}

func (d *Device) WaitForFences(handles []gpu.Fence, timeout time.Duration) error {
	if len(handles) == 0 {
		return nil
	}
	fences, err := d.fences(handles)
	if err != nil {
		return err
	}
	res := vk.WaitForFences(d.device, uint32(len(fences)), fences, vk.True, timeoutNanos(timeout))
	return errors.Wrap(result(res), "waiting for fences")
}

func (d *Device) queue(q gpu.Queue) (vk.Queue, error) {
	return get[vk.Queue](d.objs, kindQueue, gpu.Handle(q))
}

func (d *Device) QueueSubmit(q gpu.Queue, submits []gpu.SubmitInfo, fence gpu.Fence) error {
	queue, err := d.queue(q)
	if err != nil {
		return err
	}

	var vkFence vk.Fence
	if fence != gpu.Fence(gpu.NullHandle) {
		vkFence, err = get[vk.Fence](d.objs, gpu.KindFence, gpu.Handle(fence))
		if err != nil {
			return err
		}
	}

	submitInfos := make([]vk.SubmitInfo, len(submits))
	for i, s := range submits {
		waitSemaphores, err := d.semaphores(s.WaitSemaphores)
		if err != nil {
			return err
		}
		signalSemaphores, err := d.semaphores(s.SignalSemaphores)
		if err != nil {
			return err
		}

		waitStages := make([]vk.PipelineStageFlags, len(s.WaitStages))
		for j, stage := range s.WaitStages {
			waitStages[j] = vk.PipelineStageFlags(stage)
		}

		commandBuffers := make([]vk.CommandBuffer, len(s.CommandBuffers))
		for j, cb := range s.CommandBuffers {
			commandBuffers[j], err = get[vk.CommandBuffer](d.objs, kindCommandBuffer, gpu.Handle(cb))
			if err != nil {
				return err
			}
		}

		submitInfos[i] = vk.SubmitInfo{
			SType:                vk.StructureTypeSubmitInfo,
			WaitSemaphoreCount:   uint32(len(waitSemaphores)),
			PWaitSemaphores:      waitSemaphores,
			PWaitDstStageMask:    waitStages,
			CommandBufferCount:   uint32(len(commandBuffers)),
			PCommandBuffers:      commandBuffers,
			SignalSemaphoreCount: uint32(len(signalSemaphores)),
			PSignalSemaphores:    signalSemaphores,
		}
	}

	res := vk.QueueSubmit(queue, uint32(len(submitInfos)), submitInfos, vkFence)
	return errors.Wrap(result(res), "queue submit error")
}

func (d *Device) QueueWaitIdle(q gpu.Queue) error {
	queue, err := d.queue(q)
	if err != nil {
		return err
	}
	return errors.Wrap(result(vk.QueueWaitIdle(queue)), "failed to wait on queue idle")
}

func (d *Device) DeviceWaitIdle() error {
	return errors.Wrap(result(vk.DeviceWaitIdle(d.device)), "failed to wait on device idle")
}
