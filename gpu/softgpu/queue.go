package softgpu

import (
	"time"

	"github.com/ironsmile/vulkan-render-go/gpu"
)

type semaphore struct {
	// signals counts signal operations submitted and not yet waited on.
	signals int
}

type fence struct {
	signaled bool
	pending  bool
}

type submission struct {
	batches []gpu.SubmitInfo
	fence   gpu.Fence

	// after is set for queue markers that run a check instead of work.
	after func()
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return gpu.Semaphore(d.register(gpu.KindSemaphore, &semaphore{})), nil
}

func (d *Device) DestroySemaphore(s gpu.Semaphore) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.release(gpu.KindSemaphore, gpu.Handle(s))
}

func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return gpu.Fence(d.register(gpu.KindFence, &fence{signaled: signaled})), nil
}

func (d *Device) DestroyFence(f gpu.Fence) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if obj, ok := d.objects[gpu.Handle(f)]; ok && obj.kind == gpu.KindFence {
		if obj.value.(*fence).pending {
			d.violate("fence %d destroyed while its submission is pending", f)
		}
	}
	d.release(gpu.KindFence, gpu.Handle(f))
}

func (d *Device) ResetFences(fences []gpu.Fence) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, fh := range fences {
		f, err := lookup[fence](d, gpu.KindFence, gpu.Handle(fh))
		if err != nil {
			return err
		}
		if f.pending {
			return d.violate("fence %d reset while its submission is pending", fh)
		}
		f.signaled = false
	}
	return nil
}

func (d *Device) FenceSignaled(fh gpu.Fence) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.lost {
		return false, gpu.ErrDeviceLost
	}
	f, err := lookup[fence](d, gpu.KindFence, gpu.Handle(fh))
	if err != nil {
		return false, err
	}
	return f.signaled, nil
}

func (d *Device) WaitForFences(fences []gpu.Fence, timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	waiting := make([]*fence, len(fences))
	for i, fh := range fences {
		f, err := lookup[fence](d, gpu.KindFence, gpu.Handle(fh))
		if err != nil {
			return err
		}
		if !f.signaled && !f.pending {
			return d.violate("waiting on fence %d that has no pending submission", fh)
		}
		waiting[i] = f
	}

	expired := false
	if timeout != gpu.NoTimeout {
		t := time.AfterFunc(timeout, func() {
			d.mu.Lock()
			expired = true
			d.cond.Broadcast()
			d.mu.Unlock()
		})
		defer t.Stop()
	}

	for {
		if d.lost {
			return gpu.ErrDeviceLost
		}
		done := true
		for _, f := range waiting {
			done = done && f.signaled
		}
		if done {
			return nil
		}
		if expired || timeout == 0 {
			return gpu.ErrTimeout
		}
		d.cond.Wait()
	}
}

func (d *Device) QueueSubmit(q gpu.Queue, batches []gpu.SubmitInfo, fh gpu.Fence) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.lost {
		return gpu.ErrDeviceLost
	}
	if d.destroyed {
		return d.violate("submit to a destroyed device")
	}

	var f *fence
	if fh != 0 {
		var err error
		if f, err = lookup[fence](d, gpu.KindFence, gpu.Handle(fh)); err != nil {
			return err
		}
		if f.signaled || f.pending {
			return d.violate("submit with fence %d that is not unsignaled and idle", fh)
		}
	}

	var cbs []*cmdBuffer
	for _, b := range batches {
		if len(b.WaitSemaphores) != len(b.WaitStages) {
			return d.violate("%d wait semaphores with %d wait stages", len(b.WaitSemaphores), len(b.WaitStages))
		}
		for _, id := range b.CommandBuffers {
			cb, err := d.cmdBuf(id)
			if err != nil {
				return err
			}
			if cb.state != cbExecutable {
				return d.violate("submit of command buffer %d in state %s", id, cb.state)
			}
			cbs = append(cbs, cb)
		}
		for _, sh := range b.WaitSemaphores {
			if err := d.consumeSignal(sh); err != nil {
				return err
			}
		}
		for _, sh := range b.SignalSemaphores {
			if err := d.addSignal(sh); err != nil {
				return err
			}
		}
	}

	for _, cb := range cbs {
		cb.state = cbPending
	}
	if f != nil {
		f.pending = true
	}
	d.stats.Submissions++
	d.stats.Outstanding++
	d.stats.MaxOutstanding = max(d.stats.MaxOutstanding, d.stats.Outstanding)

	d.queue = append(d.queue, &submission{
		batches: append([]gpu.SubmitInfo(nil), batches...),
		fence:   fh,
	})
	d.cond.Broadcast()
	return nil
}

// consumeSignal makes a wait on s use up one submitted signal operation.
func (d *Device) consumeSignal(sh gpu.Semaphore) error {
	s, err := lookup[semaphore](d, gpu.KindSemaphore, gpu.Handle(sh))
	if err != nil {
		return err
	}
	if s.signals == 0 {
		return d.violate("wait on semaphore %d without a pending signal operation", sh)
	}
	s.signals--
	return nil
}

func (d *Device) addSignal(sh gpu.Semaphore) error {
	s, err := lookup[semaphore](d, gpu.KindSemaphore, gpu.Handle(sh))
	if err != nil {
		return err
	}
	if s.signals > 0 {
		return d.violate("semaphore %d signaled again before it was waited on", sh)
	}
	s.signals++
	return nil
}

func (d *Device) QueueWaitIdle(q gpu.Queue) error {
	return d.DeviceWaitIdle()
}

func (d *Device) DeviceWaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for (len(d.queue) > 0 || d.busy) && !d.lost {
		d.cond.Wait()
	}
	if d.lost {
		return gpu.ErrDeviceLost
	}
	return nil
}

// runQueue executes submissions in order until the device is destroyed.
func (d *Device) runQueue() {
	defer close(d.workerDone)

	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.destroyed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		sub := d.queue[0]
		d.queue = d.queue[1:]
		d.busy = true
		if sub.after != nil {
			sub.after()
			d.busy = false
			d.cond.Broadcast()
			d.mu.Unlock()
			continue
		}
		d.mu.Unlock()

		if d.cfg.ExecDelay > 0 {
			time.Sleep(d.cfg.ExecDelay)
		}
		d.mu.Lock()
		d.execute(sub)
		d.busy = false
		d.stats.Outstanding--
		d.stats.Completed++
		d.cond.Broadcast()
		d.mu.Unlock()
	}
}

func (d *Device) execute(sub *submission) {
	for _, b := range sub.batches {
		for _, id := range b.CommandBuffers {
			cb, ok := d.cmdBufs[id]
			if !ok {
				continue
			}
			st := &execState{}
			for _, c := range cb.cmds {
				if err := c.exec(d, st); err != nil {
					break
				}
			}
			if cb.oneTime {
				cb.reset()
			} else {
				cb.state = cbExecutable
			}
		}
	}
	if sub.fence == 0 {
		return
	}
	if obj, ok := d.objects[gpu.Handle(sub.fence)]; ok {
		f := obj.value.(*fence)
		f.pending = false
		f.signaled = true
	}
}
