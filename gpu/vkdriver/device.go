// Package vkdriver implements gpu.Device with Vulkan through
// github.com/vulkan-go/vulkan, presenting to a GLFW window.
//
// A Device is not safe for concurrent use. Like GLFW itself it must be
// opened, used and destroyed from the main thread.
package vkdriver

import (
	"log/slog"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/vulkan-go/vulkan"

	"github.com/ironsmile/vulkan-render-go/gpu"
	"github.com/ironsmile/vulkan-render-go/queues"
)

// Options configures Open.
type Options struct {
	// AppName is reported to the driver.
	AppName string

	// Validation enables the Khronos validation layer. Open fails when it
	// is requested but not installed.
	Validation bool

	// Logger receives device selection and teardown messages. Nothing is
	// logged when it is nil.
	Logger *slog.Logger
}

// Device is a Vulkan logical device together with its instance and the
// surface of one GLFW window.
type Device struct {
	opts Options
	log  *slog.Logger

	validationLayers []string
	deviceExtensions []string

	window   *glfw.Window
	instance vk.Instance
	surface  vk.Surface

	// physical is the physical device selected for this program.
	physical vk.PhysicalDevice

	// device is the logical device created for interfacing with the physical device.
	device vk.Device

	families queues.FamilyIndices
	caps     gpu.PhysicalCapabilities
	objs     *objects

	surfaceHandle gpu.Surface
	queueHandles  [3]gpu.Queue

	destroyed bool
}

var _ gpu.Device = (*Device)(nil)
var _ gpu.Tracker = (*Device)(nil)

// Open creates a Vulkan instance, a surface for window and a logical device
// on the most suitable GPU. window must have been created with the
// glfw.ClientAPI hint set to glfw.NoAPI.
func Open(window *glfw.Window, opts Options) (*Device, error) {
	vk.SetGetInstanceProcAddr(glfw.GetVulkanGetInstanceProcAddress())

	if err := vk.Init(); err != nil {
		return nil, errors.Wrap(err, "failed to init Vulkan Go")
	}

	d := &Device{
		opts:   opts,
		log:    opts.Logger,
		window: window,
		validationLayers: []string{
			"VK_LAYER_KHRONOS_validation\x00",
		},
		deviceExtensions: []string{
			vk.KhrSwapchainExtensionName + "\x00",
		},
		instance: vk.Instance(vk.NullHandle),
		physical: vk.PhysicalDevice(vk.NullHandle),
		device:   vk.Device(vk.NullHandle),
		surface:  vk.NullSurface,
		objs:     newObjects(),
	}
	if d.log == nil {
		d.log = slog.New(slog.DiscardHandler)
	}

	if err := d.createInstance(); err != nil {
		d.Destroy()
		return nil, errors.Wrap(err, "createInstance")
	}

	if err := d.createSurface(); err != nil {
		d.Destroy()
		return nil, errors.Wrap(err, "createSurface")
	}

	if err := d.pickPhysicalDevice(); err != nil {
		d.Destroy()
		return nil, errors.Wrap(err, "pickPhysicalDevice")
	}

	if err := d.createLogicalDevice(); err != nil {
		d.Destroy()
		return nil, errors.Wrap(err, "createLogicalDevice")
	}

	d.queryCapabilities()
	d.log.Info("vulkan device opened",
		"device", d.caps.DeviceName,
		"graphicsFamily", d.caps.GraphicsFamily,
		"presentFamily", d.caps.PresentFamily,
		"memoryTypes", len(d.caps.MemoryTypes),
	)

	return d, nil
}

// Surface returns the handle of the window surface.
func (d *Device) Surface() gpu.Surface {
	return d.surfaceHandle
}

func (d *Device) createInstance() error {
	if d.opts.Validation && !d.checkValidationSupport() {
		return errors.New("validation layers requested but not available")
	}

	appName := d.opts.AppName
	if appName == "" {
		appName = "vulkan-render-go"
	}

	appInfo := vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		PApplicationName:   appName + "\x00",
		ApplicationVersion: vk.MakeVersion(1, 0, 0),
		PEngineName:        "vulkan-render-go\x00",
		EngineVersion:      vk.MakeVersion(1, 0, 0),
		ApiVersion:         vk.ApiVersion10,
	}

	glfwExtensions := d.window.GetRequiredInstanceExtensions()
	createInfo := vk.InstanceCreateInfo{
		SType:                   vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo:        &appInfo,
		EnabledExtensionCount:   uint32(len(glfwExtensions)),
		PpEnabledExtensionNames: glfwExtensions,
	}

	if d.opts.Validation {
		createInfo.EnabledLayerCount = uint32(len(d.validationLayers))
		createInfo.PpEnabledLayerNames = d.validationLayers
	}

	var instance vk.Instance
	if err := result(vk.CreateInstance(&createInfo, nil, &instance)); err != nil {
		return errors.Wrap(err, "failed to create Vulkan instance")
	}
	d.instance = instance

	if err := vk.InitInstance(instance); err != nil {
		return errors.Wrap(err, "vkInitInstance")
	}

	return nil
}

func (d *Device) checkValidationSupport() bool {
	var count uint32
	if vk.EnumerateInstanceLayerProperties(&count, nil) != vk.Success {
		return false
	}
	availableLayers := make([]vk.LayerProperties, count)

	if vk.EnumerateInstanceLayerProperties(&count, availableLayers) != vk.Success {
		return false
	}

	available := make(map[string]struct{}, count)
	for _, layer := range availableLayers {
		layer.Deref()
		available[vk.ToString(layer.LayerName[:])+"\x00"] = struct{}{}
	}

	for _, validationLayer := range d.validationLayers {
		if _, ok := available[validationLayer]; !ok {
			return false
		}
	}

	return true
}

func (d *Device) createSurface() error {
	surfacePtr, err := d.window.CreateWindowSurface(d.instance, nil)
	if err != nil {
		return errors.Wrap(err, "cannot create surface within GLFW window")
	}

	d.surface = vk.SurfaceFromPointer(surfacePtr)
	d.surfaceHandle = gpu.Surface(d.objs.add(kindSurface, d.surface, gpu.NullHandle))
	return nil
}

func (d *Device) pickPhysicalDevice() error {
	var deviceCount uint32
	err := result(vk.EnumeratePhysicalDevices(d.instance, &deviceCount, nil))
	if err != nil {
		return errors.Wrap(err, "failed to get the number of physical devices")
	}
	if deviceCount == 0 {
		return errors.New("failed to find GPUs with Vulkan support")
	}

	pDevices := make([]vk.PhysicalDevice, deviceCount)
	err = result(vk.EnumeratePhysicalDevices(d.instance, &deviceCount, pDevices))
	if err != nil {
		return errors.Wrap(err, "failed to enumerate the physical devices")
	}

	var (
		selected vk.PhysicalDevice
		score    uint32
	)

	for _, device := range pDevices {
		deviceScore := d.deviceScore(device)

		if deviceScore > score {
			selected = device
			score = deviceScore
		}
	}

	if selected == vk.PhysicalDevice(vk.NullHandle) {
		return errors.New("failed to find suitable physical devices")
	}

	d.physical = selected
	d.families = d.findQueueFamilies(selected)
	return nil
}

// deviceScore returns how suitable is this device for the renderer. Bigger
// score means better. Zero means the device cannot be used.
func (d *Device) deviceScore(device vk.PhysicalDevice) uint32 {
	var (
		deviceScore uint32
		properties  vk.PhysicalDeviceProperties
	)

	vk.GetPhysicalDeviceProperties(device, &properties)
	properties.Deref()

	if properties.DeviceType == vk.PhysicalDeviceTypeDiscreteGpu {
		deviceScore += 1000
	} else {
		deviceScore++
	}

	if !d.isDeviceSuitable(device) {
		deviceScore = 0
	}

	d.log.Debug("available device",
		"name", vk.ToString(properties.DeviceName[:]),
		"score", deviceScore,
	)

	return deviceScore
}

func (d *Device) isDeviceSuitable(device vk.PhysicalDevice) bool {
	indices := d.findQueueFamilies(device)
	if !indices.IsComplete() || !d.checkDeviceExtensionSupport(device) {
		return false
	}

	support, err := d.querySurfaceSupport(device)
	if err != nil {
		d.log.Warn("querying surface support", "error", err)
		return false
	}
	if len(support.Formats) == 0 || len(support.PresentModes) == 0 {
		return false
	}

	var supportedFeatures vk.PhysicalDeviceFeatures
	vk.GetPhysicalDeviceFeatures(device, &supportedFeatures)
	supportedFeatures.Deref()

	return supportedFeatures.SamplerAnisotropy.B()
}

// findQueueFamilies returns the queue families of device which the
// renderer can use.
func (d *Device) findQueueFamilies(device vk.PhysicalDevice) queues.FamilyIndices {
	var queueFamilyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, nil)

	queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, queueFamilies)

	flags := make([]queues.Flags, len(queueFamilies))
	for i, family := range queueFamilies {
		family.Deref()

		flags[i].Graphics = family.QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) != 0
		flags[i].Transfer = family.QueueFlags&vk.QueueFlags(vk.QueueTransferBit) != 0

		var hasPresent vk.Bool32
		err := result(
			vk.GetPhysicalDeviceSurfaceSupport(device, uint32(i), d.surface, &hasPresent),
		)
		if err != nil {
			d.log.Warn("querying surface support for queue family",
				"family", i, "error", err)
		} else {
			flags[i].Present = hasPresent.B()
		}
	}

	return queues.Find(flags)
}

func (d *Device) checkDeviceExtensionSupport(device vk.PhysicalDevice) bool {
	var extensionsCount uint32
	res := vk.EnumerateDeviceExtensionProperties(device, "", &extensionsCount, nil)
	if err := result(res); err != nil {
		d.log.Warn("enumerating device extension properties count", "error", err)
		return false
	}

	availableExtensions := make([]vk.ExtensionProperties, extensionsCount)
	res = vk.EnumerateDeviceExtensionProperties(device, "", &extensionsCount,
		availableExtensions)
	if err := result(res); err != nil {
		d.log.Warn("getting device extension properties", "error", err)
		return false
	}

	requiredExtensions := make(map[string]struct{})
	for _, extensionName := range d.deviceExtensions {
		requiredExtensions[extensionName] = struct{}{}
	}

	for _, extension := range availableExtensions {
		extension.Deref()
		extensionName := vk.ToString(extension.ExtensionName[:])

		delete(requiredExtensions, extensionName+"\x00")
	}

	return len(requiredExtensions) == 0
}

func (d *Device) createLogicalDevice() error {
	if !d.families.IsComplete() {
		return errors.New("the selected physical device does not have all " +
			"the queues required by the renderer")
	}

	queueCreateInfos := []vk.DeviceQueueCreateInfo{}
	for _, familyIndex := range d.families.Unique() {
		queueCreateInfos = append(
			queueCreateInfos,
			vk.DeviceQueueCreateInfo{
				SType:            vk.StructureTypeDeviceQueueCreateInfo,
				QueueFamilyIndex: familyIndex,
				QueueCount:       1,
				PQueuePriorities: []float32{1.0},
			},
		)
	}

	deviceFeatures := []vk.PhysicalDeviceFeatures{{
		SamplerAnisotropy: vk.True,
	}}

	createInfo := vk.DeviceCreateInfo{
		SType:            vk.StructureTypeDeviceCreateInfo,
		PEnabledFeatures: deviceFeatures,

		PQueueCreateInfos:    queueCreateInfos,
		QueueCreateInfoCount: uint32(len(queueCreateInfos)),

		EnabledExtensionCount:   uint32(len(d.deviceExtensions)),
		PpEnabledExtensionNames: d.deviceExtensions,
	}

	if d.opts.Validation {
		createInfo.PpEnabledLayerNames = d.validationLayers
		createInfo.EnabledLayerCount = uint32(len(d.validationLayers))
	}

	var device vk.Device
	err := result(vk.CreateDevice(d.physical, &createInfo, nil, &device))
	if err != nil {
		return errors.Wrap(err, "failed to create logical device")
	}
	d.device = device

	roles := map[gpu.QueueRole]uint32{
		gpu.QueueGraphics: d.families.Graphics.Get(),
		gpu.QueuePresent:  d.families.Present.Get(),
		gpu.QueueTransfer: d.families.Transfer.Get(),
	}
	for role, family := range roles {
		var queue vk.Queue
		vk.GetDeviceQueue(d.device, family, 0, &queue)
		d.queueHandles[role] = gpu.Queue(d.objs.add(kindQueue, queue, gpu.NullHandle))
	}

	return nil
}

func (d *Device) queryCapabilities() {
	var properties vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(d.physical, &properties)
	properties.Deref()
	properties.Limits.Deref()

	var memProperties vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(d.physical, &memProperties)
	memProperties.Deref()

	memoryTypes := make([]gpu.MemoryType, 0, memProperties.MemoryTypeCount)
	for i := uint32(0); i < memProperties.MemoryTypeCount; i++ {
		memType := memProperties.MemoryTypes[i]
		memType.Deref()

		memoryTypes = append(memoryTypes, gpu.MemoryType{
			Flags:     gpu.MemoryPropertyFlags(memType.PropertyFlags),
			HeapIndex: memType.HeapIndex,
		})
	}

	d.caps = gpu.PhysicalCapabilities{
		DeviceName:  vk.ToString(properties.DeviceName[:]),
		MemoryTypes: memoryTypes,
		Limits: gpu.Limits{
			MaxPushConstantsSize:            properties.Limits.MaxPushConstantsSize,
			MinUniformBufferOffsetAlignment: uint64(properties.Limits.MinUniformBufferOffsetAlignment),
			MaxSamplerAnisotropy:            properties.Limits.MaxSamplerAnisotropy,
			MaxMemoryAllocationCount:        properties.Limits.MaxMemoryAllocationCount,
		},
		GraphicsFamily: d.families.Graphics.Get(),
		PresentFamily:  d.families.Present.Get(),
		TransferFamily: d.families.Transfer.Get(),
	}
}

func (d *Device) Capabilities() gpu.PhysicalCapabilities {
	return d.caps
}

func (d *Device) Queue(role gpu.QueueRole) gpu.Queue {
	if role < 0 || int(role) >= len(d.queueHandles) {
		return gpu.Queue(gpu.NullHandle)
	}
	return d.queueHandles[role]
}

const knownFormatFeatures = gpu.FormatFeatureSampledImage |
	gpu.FormatFeatureColorAttachment |
	gpu.FormatFeatureDepthStencilAttachment

func (d *Device) FormatFeatures(format gpu.Format, tiling gpu.ImageTiling) gpu.FormatFeatures {
	var props vk.FormatProperties
	vk.GetPhysicalDeviceFormatProperties(d.physical, vk.Format(format), &props)
	props.Deref()

	features := props.OptimalTilingFeatures
	if tiling == gpu.TilingLinear {
		features = props.LinearTilingFeatures
	}
	return gpu.FormatFeatures(features) & knownFormatFeatures
}

func (d *Device) SurfaceSupport(surface gpu.Surface) (gpu.SurfaceSupport, error) {
	if surface != d.surfaceHandle {
		return gpu.SurfaceSupport{}, errors.Newf("unknown surface %d", surface)
	}
	return d.querySurfaceSupport(d.physical)
}

func (d *Device) querySurfaceSupport(device vk.PhysicalDevice) (gpu.SurfaceSupport, error) {
	var support gpu.SurfaceSupport

	var capabilities vk.SurfaceCapabilities
	res := vk.GetPhysicalDeviceSurfaceCapabilities(device, d.surface, &capabilities)
	if err := result(res); err != nil {
		return support, errors.Wrap(err, "failed to query device surface capabilities")
	}
	capabilities.Deref()
	capabilities.CurrentExtent.Deref()
	capabilities.MinImageExtent.Deref()
	capabilities.MaxImageExtent.Deref()

	support.Capabilities = gpu.SurfaceCapabilities{
		MinImageCount: capabilities.MinImageCount,
		MaxImageCount: capabilities.MaxImageCount,
		CurrentExtent: gpu.Extent2D{
			Width:  capabilities.CurrentExtent.Width,
			Height: capabilities.CurrentExtent.Height,
		},
		MinImageExtent: gpu.Extent2D{
			Width:  capabilities.MinImageExtent.Width,
			Height: capabilities.MinImageExtent.Height,
		},
		MaxImageExtent: gpu.Extent2D{
			Width:  capabilities.MaxImageExtent.Width,
			Height: capabilities.MaxImageExtent.Height,
		},
	}

	// Surfaces which let the swapchain pick the extent follow the window.
	if support.Capabilities.CurrentExtent.Width == math.MaxUint32 {
		width, height := d.window.GetFramebufferSize()
		support.Capabilities.CurrentExtent = gpu.Extent2D{
			Width:  uint32(width),
			Height: uint32(height),
		}
	}

	var formatCount uint32
	res = vk.GetPhysicalDeviceSurfaceFormats(device, d.surface, &formatCount, nil)
	if err := result(res); err != nil {
		return support, errors.Wrap(err, "failed to query device surface formats")
	}

	if formatCount != 0 {
		formats := make([]vk.SurfaceFormat, formatCount)
		vk.GetPhysicalDeviceSurfaceFormats(device, d.surface, &formatCount, formats)
		for _, format := range formats {
			format.Deref()
			support.Formats = append(support.Formats, gpu.SurfaceFormat{
				Format:     gpu.Format(format.Format),
				ColorSpace: gpu.ColorSpace(format.ColorSpace),
			})
		}
	}

	var presentModeCount uint32
	res = vk.GetPhysicalDeviceSurfacePresentModes(
		device, d.surface, &presentModeCount, nil,
	)
	if err := result(res); err != nil {
		return support, errors.Wrap(err, "failed to query device surface present modes")
	}

	if presentModeCount != 0 {
		presentModes := make([]vk.PresentMode, presentModeCount)
		vk.GetPhysicalDeviceSurfacePresentModes(
			device, d.surface, &presentModeCount, presentModes,
		)
		for _, mode := range presentModes {
			support.PresentModes = append(support.PresentModes, gpu.PresentMode(mode))
		}
	}

	return support, nil
}

// LiveObjects implements gpu.Tracker.
func (d *Device) LiveObjects() map[gpu.ObjectKind]int {
	return d.objs.live()
}

// Destroy waits for the device to become idle and destroys it together
// with the surface and the instance. Objects still alive are logged.
func (d *Device) Destroy() {
	if d.destroyed {
		return
	}
	d.destroyed = true

	if d.device != vk.Device(vk.NullHandle) {
		vk.DeviceWaitIdle(d.device)

		for kind, count := range d.objs.live() {
			d.log.Warn("object leaked at device destruction", "kind", kind.String(), "count", count)
		}

		vk.DestroyDevice(d.device, nil)
		d.device = vk.Device(vk.NullHandle)
	}
	if d.surface != vk.NullSurface {
		vk.DestroySurface(d.instance, d.surface, nil)
		d.surface = vk.NullSurface
	}
	if d.instance != vk.Instance(vk.NullHandle) {
		vk.DestroyInstance(d.instance, nil)
		d.instance = vk.Instance(vk.NullHandle)
	}
}
