package textures

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	. "github.com/onsi/gomega"
	"golang.org/x/image/bmp"
)

var (
	red  = color.RGBA{R: 255, A: 255}
	blue = color.RGBA{B: 255, A: 255}
)

func TestDecodePNG(t *testing.T) {
	g := NewWithT(t)

	src := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	src.Set(0, 0, red)
	src.Set(2, 1, blue)

	var buf bytes.Buffer
	g.Expect(png.Encode(&buf, src)).To(Succeed())

	tex, err := Decode(&buf, 0)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(tex.Width).To(Equal(uint32(3)))
	g.Expect(tex.Height).To(Equal(uint32(2)))
	g.Expect(tex.Pixels).To(HaveLen(3 * 2 * 4))
	g.Expect(tex.Pixels[0:4]).To(Equal([]byte{255, 0, 0, 255}))
	g.Expect(tex.Pixels[20:24]).To(Equal([]byte{0, 0, 255, 255}))
}

func TestDecodeBMPScalesDown(t *testing.T) {
	g := NewWithT(t)

	src := image.NewRGBA(image.Rect(0, 0, 64, 16))
	for i := range src.Pix {
		src.Pix[i] = 200
	}

	var buf bytes.Buffer
	g.Expect(bmp.Encode(&buf, src)).To(Succeed())

	tex, err := Decode(&buf, 32)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(tex.Width).To(Equal(uint32(32)))
	g.Expect(tex.Height).To(Equal(uint32(8)))
	g.Expect(tex.Pixels).To(HaveLen(32 * 8 * 4))
}

func TestDecodeRejectsGarbage(t *testing.T) {
	g := NewWithT(t)

	_, err := Decode(strings.NewReader("not an image"), 0)
	g.Expect(err).To(MatchError(ContainSubstring("failed to decode texture image")))
}

func TestFit(t *testing.T) {
	g := NewWithT(t)

	tests := []struct{ w, h, max, wantW, wantH int }{
		{100, 50, 0, 100, 50},
		{100, 50, 200, 100, 50},
		{100, 50, 10, 10, 5},
		{50, 100, 10, 5, 10},
		{1000, 1, 10, 10, 1},
	}
	for _, test := range tests {
		w, h := fit(test.w, test.h, test.max)
		g.Expect([]int{w, h}).To(Equal([]int{test.wantW, test.wantH}), "%+v", test)
	}
}

func TestCheckerboard(t *testing.T) {
	g := NewWithT(t)

	tex := Checkerboard(4, 2, red, blue)
	g.Expect(tex.Width).To(Equal(uint32(4)))
	g.Expect(tex.Pixels).To(HaveLen(4 * 4 * 4))

	at := func(x, y int) []byte {
		i := (y*4 + x) * 4
		return tex.Pixels[i : i+4]
	}
	g.Expect(at(0, 0)).To(Equal([]byte{255, 0, 0, 255}))
	g.Expect(at(1, 1)).To(Equal([]byte{255, 0, 0, 255}))
	g.Expect(at(2, 0)).To(Equal([]byte{0, 0, 255, 255}))
	g.Expect(at(2, 2)).To(Equal([]byte{255, 0, 0, 255}))
}
