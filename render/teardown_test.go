package render

import (
	"testing"

	. "github.com/onsi/gomega"
)

func TestOwnerTreeReleaseOrder(t *testing.T) {
	g := NewWithT(t)

	var order []string
	record := func(name string) func() {
		return func() { order = append(order, name) }
	}

	root := newOwnerTree("device", record("device"))
	root.own("pool", record("pool"))
	sc := root.own("swapchain", record("swapchain"))
	sc.own("view 0", record("view 0"))
	sc.own("view 1", record("view 1"))
	sc.own("framebuffer", record("framebuffer"))
	group := root.own("frames", nil)
	group.own("fence", record("fence"))
	g.Expect(root.size()).To(Equal(8))

	root.release()
	g.Expect(order).To(Equal([]string{
		"fence",
		"framebuffer", "view 1", "view 0", "swapchain",
		"pool",
		"device",
	}))
	g.Expect(root.size()).To(BeZero())

	root.release()
	g.Expect(order).To(HaveLen(7))
}

func TestOwnerTreeReleaseSubtree(t *testing.T) {
	g := NewWithT(t)

	var order []string
	record := func(name string) func() {
		return func() { order = append(order, name) }
	}

	root := newOwnerTree("device", record("device"))
	root.own("render pass", record("render pass"))
	gen := root.own("swapchain", record("swapchain"))
	gen.own("framebuffer", record("framebuffer"))
	root.own("pipeline", record("pipeline"))

	gen.release()
	g.Expect(order).To(Equal([]string{"framebuffer", "swapchain"}))
	g.Expect(root.children).To(HaveLen(2))

	// A rebuilt swapchain is the newest child and goes first.
	root.own("swapchain 2", record("swapchain 2"))
	gen.release()

	order = nil
	root.release()
	g.Expect(order).To(Equal([]string{"swapchain 2", "pipeline", "render pass", "device"}))
}
