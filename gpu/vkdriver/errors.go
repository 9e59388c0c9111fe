package vkdriver

import (
	"math"
	"time"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/ironsmile/vulkan-render-go/gpu"
)

var resultErrors = map[vk.Result]error{
	vk.ErrorOutOfDate:          gpu.ErrOutOfDate,
	vk.Suboptimal:              gpu.ErrSuboptimal,
	vk.ErrorDeviceLost:         gpu.ErrDeviceLost,
	vk.Timeout:                 gpu.ErrTimeout,
	vk.ErrorOutOfDeviceMemory:  gpu.ErrOutOfDeviceMemory,
	vk.ErrorOutOfHostMemory:    gpu.ErrOutOfHostMemory,
	vk.ErrorOutOfPoolMemory:    gpu.ErrOutOfPoolMemory,
	vk.ErrorFragmentedPool:     gpu.ErrOutOfPoolMemory,
	vk.ErrorTooManyObjects:     gpu.ErrTooManyObjects,
	vk.ErrorFeatureNotPresent:  gpu.ErrFeatureNotPresent,
	vk.ErrorMemoryMapFailed:    gpu.ErrMemoryMapFailed,
	vk.ErrorSurfaceLost:        gpu.ErrSurfaceLost,
	vk.ErrorFormatNotSupported: gpu.ErrFormatNotSupported,
}

// result converts a Vulkan result code into the gpu error the renderer
// reacts to. Codes without a gpu counterpart keep the message of vk.Error.
func result(res vk.Result) error {
	if res == vk.Success {
		return nil
	}
	if err, ok := resultErrors[res]; ok {
		return errors.WithStack(err)
	}
	if err := vk.Error(res); err != nil {
		return errors.WithStack(err)
	}
	return errors.Newf("unexpected vulkan result %d", int32(res))
}

// timeoutNanos converts a wait timeout to the nanoseconds Vulkan expects.
// gpu.NoTimeout waits forever and negative values only poll.
func timeoutNanos(timeout time.Duration) uint64 {
	if timeout == gpu.NoTimeout {
		return math.MaxUint64
	}
	if timeout < 0 {
		return 0
	}
	return uint64(timeout.Nanoseconds())
}
