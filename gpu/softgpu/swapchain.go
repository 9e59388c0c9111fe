package softgpu

import (
	"time"

	"github.com/ironsmile/vulkan-render-go/gpu"
)

type swapchain struct {
	info     gpu.SwapchainInfo
	images   []gpu.Image
	acquired []bool
	next     uint32
	retired  bool
}

func (d *Device) CreateSwapchain(info gpu.SwapchainInfo) (gpu.Swapchain, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.lost {
		return 0, gpu.ErrDeviceLost
	}
	if info.Surface != d.surface {
		return 0, d.violate("unknown surface %d", info.Surface)
	}
	if info.MinImages < d.cfg.MinImageCount ||
		(d.cfg.MaxImageCount > 0 && info.MinImages > d.cfg.MaxImageCount) {
		return 0, d.violate("image count %d outside [%d, %d]",
			info.MinImages, d.cfg.MinImageCount, d.cfg.MaxImageCount)
	}
	e := info.Extent
	if e.Width < d.cfg.MinSurfaceSize.Width || e.Height < d.cfg.MinSurfaceSize.Height ||
		e.Width > d.cfg.MaxSurfaceSize.Width || e.Height > d.cfg.MaxSurfaceSize.Height {
		return 0, d.violate("swapchain extent %dx%d outside the supported range", e.Width, e.Height)
	}
	supported := false
	for _, f := range d.cfg.SurfaceFormats {
		supported = supported || f == info.Format
	}
	if !supported {
		return 0, d.violate("surface format %v is not supported", info.Format)
	}
	supported = false
	for _, m := range d.cfg.PresentModes {
		supported = supported || m == info.PresentMode
	}
	if !supported {
		return 0, d.violate("present mode %s is not supported", info.PresentMode)
	}
	if info.Old != 0 {
		old, err := lookup[swapchain](d, gpu.KindSwapchain, gpu.Handle(info.Old))
		if err != nil {
			return 0, err
		}
		old.retired = true
	}

	sc := &swapchain{info: info}
	h := gpu.Swapchain(d.register(gpu.KindSwapchain, sc))
	for range info.MinImages {
		img := &image{
			info: gpu.ImageInfo{
				Width:  e.Width,
				Height: e.Height,
				Format: info.Format.Format,
				Usage:  gpu.ImageUsageColorAttachment | gpu.ImageUsageTransferSrc,
			},
			layout: gpu.LayoutUndefined,
			owner:  h,
		}
		img.data = make([]byte, img.byteSize())
		ih := d.register(gpu.KindImage, img)
		d.objects[ih].owned = true
		sc.images = append(sc.images, gpu.Image(ih))
	}
	sc.acquired = make([]bool, len(sc.images))
	return h, nil
}

func (d *Device) SwapchainImages(h gpu.Swapchain) ([]gpu.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sc, err := lookup[swapchain](d, gpu.KindSwapchain, gpu.Handle(h))
	if err != nil {
		return nil, err
	}
	return append([]gpu.Image(nil), sc.images...), nil
}

func (d *Device) DestroySwapchain(h gpu.Swapchain) {
	d.mu.Lock()
	defer d.mu.Unlock()

	v, ok := d.release(gpu.KindSwapchain, gpu.Handle(h))
	if !ok {
		return
	}
	for _, img := range v.(*swapchain).images {
		if cb := d.pendingUser(gpu.Handle(img)); cb != 0 {
			d.violate("swapchain image %d destroyed while in use by command buffer %d", img, cb)
		}
		delete(d.objects, gpu.Handle(img))
	}
}

func (d *Device) AcquireNextImage(h gpu.Swapchain, timeout time.Duration, signal gpu.Semaphore) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.lost {
		return 0, gpu.ErrDeviceLost
	}
	sc, err := lookup[swapchain](d, gpu.KindSwapchain, gpu.Handle(h))
	if err != nil {
		return 0, err
	}
	if sc.retired {
		return 0, d.violate("acquire from retired swapchain %d", h)
	}
	if d.outOfDate(sc) {
		return 0, gpu.ErrOutOfDate
	}

	n := uint32(len(sc.images))
	for i := range n {
		idx := (sc.next + i) % n
		if sc.acquired[idx] {
			continue
		}
		if err := d.addSignal(signal); err != nil {
			return 0, err
		}
		sc.acquired[idx] = true
		sc.next = (idx + 1) % n
		if d.suboptimal > 0 {
			d.suboptimal--
			return idx, gpu.ErrSuboptimal
		}
		return idx, nil
	}
	if timeout == 0 {
		return 0, gpu.ErrTimeout
	}
	return 0, d.violate("all %d images of swapchain %d are acquired", n, h)
}

func (d *Device) outOfDate(sc *swapchain) bool {
	return d.surfaceExt != sc.info.Extent
}

func (d *Device) QueuePresent(q gpu.Queue, h gpu.Swapchain, index uint32, wait []gpu.Semaphore) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.lost {
		return gpu.ErrDeviceLost
	}
	sc, err := lookup[swapchain](d, gpu.KindSwapchain, gpu.Handle(h))
	if err != nil {
		return err
	}
	if int(index) >= len(sc.images) || !sc.acquired[index] {
		return d.violate("present of image %d that was not acquired", index)
	}
	for _, s := range wait {
		if err := d.consumeSignal(s); err != nil {
			return err
		}
	}
	sc.acquired[index] = false

	// Presentation happens after the waited work; the image must be in the
	// present layout once every pending submission has executed.
	img := d.objects[gpu.Handle(sc.images[index])].value.(*image)
	d.afterQueue(func() {
		if img.layout != gpu.LayoutPresentSrc {
			d.violate("image %d presented in layout %s", index, img.layout)
		}
	})
	d.stats.Presents++

	if d.outOfDate(sc) {
		return gpu.ErrOutOfDate
	}
	return nil
}

// afterQueue runs fn with the device lock held once every submission queued
// so far has executed. fn runs immediately when the queue is idle.
func (d *Device) afterQueue(fn func()) {
	if len(d.queue) == 0 && !d.busy {
		fn()
		return
	}
	d.queue = append(d.queue, &submission{after: fn})
	d.cond.Broadcast()
}
