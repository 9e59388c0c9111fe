package gpu

import "github.com/cockroachdb/errors"

// Errors reported by backends. They correspond to the Vulkan result codes the
// renderer reacts to; anything else is returned as an opaque error.
var (
	ErrOutOfDate          = errors.New("swapchain out of date")
	ErrSuboptimal         = errors.New("swapchain suboptimal")
	ErrDeviceLost         = errors.New("device lost")
	ErrTimeout            = errors.New("wait timed out")
	ErrOutOfDeviceMemory  = errors.New("out of device memory")
	ErrOutOfHostMemory    = errors.New("out of host memory")
	ErrOutOfPoolMemory    = errors.New("out of descriptor pool memory")
	ErrTooManyObjects     = errors.New("too many objects")
	ErrFeatureNotPresent  = errors.New("feature not present")
	ErrMemoryMapFailed    = errors.New("memory map failed")
	ErrSurfaceLost        = errors.New("surface lost")
	ErrFormatNotSupported = errors.New("format not supported")
)

// IsOutOfMemory reports whether err is one of the allocation failures a
// caller can recover from by releasing resources.
func IsOutOfMemory(err error) bool {
	return errors.IsAny(err,
		ErrOutOfDeviceMemory, ErrOutOfHostMemory, ErrOutOfPoolMemory, ErrTooManyObjects,
	)
}
