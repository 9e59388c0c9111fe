package vkdriver

import (
	"slices"
	"time"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/ironsmile/vulkan-render-go/gpu"
)

func (d *Device) CreateSwapchain(info gpu.SwapchainInfo) (gpu.Swapchain, error) {
	surface, err := get[vk.Surface](d.objs, kindSurface, gpu.Handle(info.Surface))
	if err != nil {
		return 0, err
	}

	var capabilities vk.SurfaceCapabilities
	res := vk.GetPhysicalDeviceSurfaceCapabilities(d.physical, surface, &capabilities)
	if err := result(res); err != nil {
		return 0, errors.Wrap(err, "failed to query device surface capabilities")
	}
	capabilities.Deref()

	createInfo := vk.SwapchainCreateInfo{
		SType:           vk.StructureTypeSwapchainCreateInfo,
		Surface:         surface,
		MinImageCount:   info.MinImages,
		ImageColorSpace: vk.ColorSpace(info.Format.ColorSpace),
		ImageFormat:     vk.Format(info.Format.Format),
		ImageExtent: vk.Extent2D{
			Width:  info.Extent.Width,
			Height: info.Extent.Height,
		},
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		PreTransform:     capabilities.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      vk.PresentMode(info.PresentMode),
		Clipped:          vk.True,
		OldSwapchain:     vk.NullSwapchain,
	}

	if info.Old != gpu.Swapchain(gpu.NullHandle) {
		createInfo.OldSwapchain, err = get[vk.Swapchain](d.objs, gpu.KindSwapchain, gpu.Handle(info.Old))
		if err != nil {
			return 0, err
		}
	}

	if d.families.Graphics.Get() != d.families.Present.Get() {
		createInfo.ImageSharingMode = vk.SharingModeConcurrent
		createInfo.QueueFamilyIndexCount = 2
		createInfo.PQueueFamilyIndices = []uint32{
			d.families.Graphics.Get(),
			d.families.Present.Get(),
		}
	} else {
		createInfo.ImageSharingMode = vk.SharingModeExclusive
	}

	var swapChain vk.Swapchain
	res = vk.CreateSwapchain(d.device, &createInfo, nil, &swapChain)
	if err := result(res); err != nil {
		return 0, errors.Wrap(err, "failed to create swap chain")
	}
	sc := gpu.Swapchain(d.objs.add(gpu.KindSwapchain, swapChain, gpu.NullHandle))

	var imagesCount uint32
	res = vk.GetSwapchainImages(d.device, swapChain, &imagesCount, nil)
	if err := result(res); err != nil {
		d.DestroySwapchain(sc)
		return 0, errors.Wrap(err, "failed to count swap chain images")
	}

	images := make([]vk.Image, imagesCount)
	res = vk.GetSwapchainImages(d.device, swapChain, &imagesCount, images)
	if err := result(res); err != nil {
		d.DestroySwapchain(sc)
		return 0, errors.Wrap(err, "failed to get swap chain images")
	}

	for _, handle := range images {
		img := &image{handle: handle, format: info.Format.Format}
		d.objs.add(gpu.KindImage, img, gpu.Handle(sc))
	}

	return sc, nil
}

// SwapchainImages returns the images of sc in presentation index order.
func (d *Device) SwapchainImages(sc gpu.Swapchain) ([]gpu.Image, error) {
	if _, err := get[vk.Swapchain](d.objs, gpu.KindSwapchain, gpu.Handle(sc)); err != nil {
		return nil, err
	}

	// Handles are increasing so sorting them restores creation order.
	var images []gpu.Image
	for h, obj := range d.objs.entries {
		if obj.kind == gpu.KindImage && obj.owner == gpu.Handle(sc) {
			images = append(images, gpu.Image(h))
		}
	}
	slices.Sort(images)
	return images, nil
}

func (d *Device) DestroySwapchain(sc gpu.Swapchain) {
	obj, ok := d.objs.remove(gpu.KindSwapchain, gpu.Handle(sc))
	if !ok {
		return
	}
	d.objs.removeOwned(gpu.Handle(sc))
	vk.DestroySwapchain(d.device, obj.value.(vk.Swapchain), nil)
}

func (d *Device) AcquireNextImage(sc gpu.Swapchain, timeout time.Duration, signal gpu.Semaphore) (uint32, error) {
	swapChain, err := get[vk.Swapchain](d.objs, gpu.KindSwapchain, gpu.Handle(sc))
	if err != nil {
		return 0, err
	}
	semaphore, err := get[vk.Semaphore](d.objs, gpu.KindSemaphore, gpu.Handle(signal))
	if err != nil {
		return 0, err
	}

	var imageIndex uint32
	res := vk.AcquireNextImage(
		d.device,
		swapChain,
		timeoutNanos(timeout),
		semaphore,
		vk.Fence(vk.NullHandle),
		&imageIndex,
	)
	return imageIndex, result(res)
}

func (d *Device) QueuePresent(q gpu.Queue, sc gpu.Swapchain, index uint32, wait []gpu.Semaphore) error {
	queue, err := d.queue(q)
	if err != nil {
		return err
	}
	swapChain, err := get[vk.Swapchain](d.objs, gpu.KindSwapchain, gpu.Handle(sc))
	if err != nil {
		return err
	}
	waitSemaphores, err := d.semaphores(wait)
	if err != nil {
		return err
	}

	swapChains := []vk.Swapchain{
		swapChain,
	}

	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: uint32(len(waitSemaphores)),
		PWaitSemaphores:    waitSemaphores,
		SwapchainCount:     uint32(len(swapChains)),
		PSwapchains:        swapChains,
		PImageIndices:      []uint32{index},
	}

	return result(vk.QueuePresent(queue, &presentInfo))
}
