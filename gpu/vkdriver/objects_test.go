package vkdriver

import (
	"math"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	. "github.com/onsi/gomega"
	vk "github.com/vulkan-go/vulkan"

	"github.com/ironsmile/vulkan-render-go/gpu"
)

func TestObjectsOwnership(t *testing.T) {
	g := NewWithT(t)

	objs := newObjects()
	pool := objs.add(gpu.KindDescriptorPool, "pool", gpu.NullHandle)
	set := objs.add(kindDescriptorSet, "set", pool)
	sc := objs.add(gpu.KindSwapchain, "swapchain", gpu.NullHandle)
	objs.add(gpu.KindImage, "swapchain image", sc)
	objs.add(gpu.KindImage, "texture", gpu.NullHandle)
	objs.add(kindQueue, "queue", gpu.NullHandle)

	g.Expect(objs.live()).To(Equal(map[gpu.ObjectKind]int{
		gpu.KindDescriptorPool: 1,
		gpu.KindSwapchain:      1,
		gpu.KindImage:          1,
	}))

	v, err := get[string](objs, kindDescriptorSet, set)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(v).To(Equal("set"))

	_, err = get[string](objs, gpu.KindBuffer, set)
	g.Expect(err).To(MatchError(ContainSubstring("unknown buffer handle")))

	_, err = get[int](objs, kindDescriptorSet, set)
	g.Expect(err).To(HaveOccurred())

	owned := objs.removeOwned(pool)
	g.Expect(owned).To(HaveLen(1))
	_, err = get[string](objs, kindDescriptorSet, set)
	g.Expect(err).To(MatchError(ContainSubstring("unknown descriptor set handle")))

	_, ok := objs.remove(gpu.KindBuffer, pool)
	g.Expect(ok).To(BeFalse())
	obj, ok := objs.remove(gpu.KindDescriptorPool, pool)
	g.Expect(ok).To(BeTrue())
	g.Expect(obj.value).To(Equal("pool"))
	_, ok = objs.remove(gpu.KindDescriptorPool, pool)
	g.Expect(ok).To(BeFalse())

	g.Expect(func() { must[string](objs, gpu.KindPipeline, 999) }).To(Panic())
}

func TestResult(t *testing.T) {
	g := NewWithT(t)

	g.Expect(result(vk.Success)).To(Succeed())

	tests := map[vk.Result]error{
		vk.ErrorOutOfDate:         gpu.ErrOutOfDate,
		vk.Suboptimal:             gpu.ErrSuboptimal,
		vk.ErrorDeviceLost:        gpu.ErrDeviceLost,
		vk.Timeout:                gpu.ErrTimeout,
		vk.ErrorOutOfDeviceMemory: gpu.ErrOutOfDeviceMemory,
		vk.ErrorFragmentedPool:    gpu.ErrOutOfPoolMemory,
		vk.ErrorSurfaceLost:       gpu.ErrSurfaceLost,
	}
	for res, want := range tests {
		g.Expect(errors.Is(result(res), want)).To(BeTrue(), "result %d", res)
	}

	err := result(vk.ErrorInitializationFailed)
	g.Expect(err).To(HaveOccurred())
	g.Expect(gpu.IsOutOfMemory(err)).To(BeFalse())
}

func TestTimeoutNanos(t *testing.T) {
	g := NewWithT(t)

	g.Expect(timeoutNanos(gpu.NoTimeout)).To(Equal(uint64(math.MaxUint64)))
	g.Expect(timeoutNanos(-time.Second)).To(BeZero())
	g.Expect(timeoutNanos(2 * time.Millisecond)).To(Equal(uint64(2_000_000)))
}
