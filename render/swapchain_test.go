package render

import (
	"math"
	"testing"

	. "github.com/onsi/gomega"

	"github.com/ironsmile/vulkan-render-go/gpu"
)

func TestChooseSurfaceFormat(t *testing.T) {
	srgbBGRA := gpu.SurfaceFormat{Format: gpu.FormatB8G8R8A8Srgb, ColorSpace: gpu.ColorSpaceSrgbNonlinear}
	srgbRGBA := gpu.SurfaceFormat{Format: gpu.FormatR8G8B8A8Srgb, ColorSpace: gpu.ColorSpaceSrgbNonlinear}
	unorm := gpu.SurfaceFormat{Format: gpu.FormatB8G8R8A8Unorm, ColorSpace: gpu.ColorSpaceSrgbNonlinear}

	tests := []struct {
		desc    string
		formats []gpu.SurfaceFormat
		want    gpu.SurfaceFormat
	}{
		{desc: "preferred first", formats: []gpu.SurfaceFormat{srgbBGRA, unorm}, want: srgbBGRA},
		{desc: "preferred later", formats: []gpu.SurfaceFormat{unorm, srgbRGBA}, want: srgbRGBA},
		{desc: "fallback", formats: []gpu.SurfaceFormat{unorm}, want: unorm},
	}

	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			g := NewWithT(t)
			got, err := chooseSurfaceFormat(test.formats)
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(got).To(Equal(test.want))
		})
	}

	_, err := chooseSurfaceFormat(nil)
	NewWithT(t).Expect(err).To(HaveOccurred())
}

func TestChoosePresentMode(t *testing.T) {
	g := NewWithT(t)

	both := []gpu.PresentMode{gpu.PresentModeFifo, gpu.PresentModeMailbox}
	g.Expect(choosePresentMode(both, gpu.PresentModeMailbox)).To(Equal(gpu.PresentModeMailbox))
	g.Expect(choosePresentMode(both, gpu.PresentModeFifo)).To(Equal(gpu.PresentModeFifo))
	g.Expect(choosePresentMode([]gpu.PresentMode{gpu.PresentModeFifo}, gpu.PresentModeMailbox)).
		To(Equal(gpu.PresentModeFifo))
}

func TestChooseExtent(t *testing.T) {
	caps := gpu.SurfaceCapabilities{
		CurrentExtent:  gpu.Extent2D{Width: math.MaxUint32, Height: math.MaxUint32},
		MinImageExtent: gpu.Extent2D{Width: 64, Height: 64},
		MaxImageExtent: gpu.Extent2D{Width: 1920, Height: 1080},
	}

	tests := []struct {
		desc    string
		current gpu.Extent2D
		desired gpu.Extent2D
		want    gpu.Extent2D
	}{
		{
			desc:    "surface dictates",
			current: gpu.Extent2D{Width: 800, Height: 600},
			desired: gpu.Extent2D{Width: 1024, Height: 768},
			want:    gpu.Extent2D{Width: 800, Height: 600},
		},
		{
			desc:    "within range",
			current: caps.CurrentExtent,
			desired: gpu.Extent2D{Width: 1024, Height: 768},
			want:    gpu.Extent2D{Width: 1024, Height: 768},
		},
		{
			desc:    "clamped up",
			current: caps.CurrentExtent,
			desired: gpu.Extent2D{Width: 10, Height: 0},
			want:    gpu.Extent2D{Width: 64, Height: 64},
		},
		{
			desc:    "clamped down",
			current: caps.CurrentExtent,
			desired: gpu.Extent2D{Width: 4000, Height: 900},
			want:    gpu.Extent2D{Width: 1920, Height: 900},
		},
	}

	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			g := NewWithT(t)
			c := caps
			c.CurrentExtent = test.current
			g.Expect(chooseExtent(c, test.desired)).To(Equal(test.want))
		})
	}
}

func TestChooseImageCount(t *testing.T) {
	g := NewWithT(t)

	g.Expect(chooseImageCount(gpu.SurfaceCapabilities{MinImageCount: 2, MaxImageCount: 8})).To(Equal(uint32(3)))
	g.Expect(chooseImageCount(gpu.SurfaceCapabilities{MinImageCount: 3, MaxImageCount: 3})).To(Equal(uint32(3)))
	g.Expect(chooseImageCount(gpu.SurfaceCapabilities{MinImageCount: 2})).To(Equal(uint32(3)))
}
