package render

import (
	"github.com/cockroachdb/errors"

	"github.com/ironsmile/vulkan-render-go/gpu"
)

// Error kinds returned by the renderer. Use errors.Is to classify an error;
// the message carries the operation and the driver cause.
var (
	// ErrConfiguration is fatal at Initialize: no suitable queue, surface
	// format, depth format or device limit.
	ErrConfiguration = errors.New("configuration error")

	// ErrResourceExhaustion means a descriptor pool or device memory ran
	// out. The caller may release resources and retry.
	ErrResourceExhaustion = errors.New("resource exhaustion")

	ErrSwapchainOutOfDate  = errors.New("swapchain out of date")
	ErrSwapchainSuboptimal = errors.New("swapchain suboptimal")

	// ErrDeviceLost is unrecoverable. The context must be shut down and
	// initialized again.
	ErrDeviceLost = errors.New("device lost")

	// ErrSyncViolation is a programming error: a resource still referenced
	// by unfinished GPU work was about to be mutated or recorded into.
	ErrSyncViolation = errors.New("synchronization violation")

	ErrNoCompatibleMemoryType = errors.New("no compatible memory type")
	ErrTransferFailed         = errors.New("staged transfer failed")

	// ErrDescriptorMismatch is a configuration error raised when a write
	// does not match the declared layout.
	ErrDescriptorMismatch = errors.New("descriptor does not match layout")

	ErrUnsupportedTransition = errors.New("unsupported image layout transition")
)

// classify wraps a device error with op and marks it with the matching
// renderer kind.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	wrapped := errors.Wrap(err, op)
	switch {
	case errors.Is(err, gpu.ErrDeviceLost):
		return errors.Mark(wrapped, ErrDeviceLost)
	case gpu.IsOutOfMemory(err):
		return errors.Mark(wrapped, ErrResourceExhaustion)
	case errors.Is(err, gpu.ErrOutOfDate):
		return errors.Mark(wrapped, ErrSwapchainOutOfDate)
	case errors.Is(err, gpu.ErrSuboptimal):
		return errors.Mark(wrapped, ErrSwapchainSuboptimal)
	}
	return wrapped
}

// configErrorf returns an ErrConfiguration error.
func configErrorf(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrConfiguration)
}

// mismatchf returns an ErrDescriptorMismatch error that is also a
// configuration error.
func mismatchf(format string, args ...any) error {
	err := errors.Mark(errors.Newf(format, args...), ErrDescriptorMismatch)
	return errors.Mark(err, ErrConfiguration)
}

// syncViolationf returns an ErrSyncViolation error.
func syncViolationf(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrSyncViolation)
}
