// Package textures turns encoded images into the tightly packed RGBA pixels
// the renderer uploads.
package textures

import (
	"image"
	"image/color"
	"io"

	// Used for decoding textures
	_ "image/jpeg"
	_ "image/png"

	"github.com/cockroachdb/errors"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Texture is an image with 8 bits per channel in R, G, B, A order and no
// padding between rows.
type Texture struct {
	Width  uint32
	Height uint32
	Pixels []byte
}

// Decode reads an image in any of the registered formats (JPEG, PNG, BMP,
// TIFF and WebP). Images larger than maxSize in either dimension are scaled
// down keeping their aspect ratio. A maxSize of zero disables scaling.
func Decode(r io.Reader, maxSize int) (*Texture, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode texture image")
	}

	b := img.Bounds()
	if b.Empty() {
		return nil, errors.Newf("%s image is empty", format)
	}

	return FromImage(img, maxSize), nil
}

// FromImage converts img to RGBA, scaling it down to maxSize if needed.
func FromImage(img image.Image, maxSize int) *Texture {
	b := img.Bounds()
	w, h := fit(b.Dx(), b.Dy(), maxSize)

	rgbaImg := image.NewRGBA(image.Rect(0, 0, w, h))
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(rgbaImg, rgbaImg.Bounds(), img, b.Min, draw.Src)
	} else {
		draw.CatmullRom.Scale(rgbaImg, rgbaImg.Bounds(), img, b, draw.Src, nil)
	}

	return &Texture{
		Width:  uint32(w),
		Height: uint32(h),
		Pixels: rgbaImg.Pix,
	}
}

// fit returns the size of a w x h image scaled down so that neither side is
// larger than maxSize.
func fit(w, h, maxSize int) (int, int) {
	if maxSize <= 0 || (w <= maxSize && h <= maxSize) {
		return w, h
	}
	if w >= h {
		return maxSize, max(1, h*maxSize/w)
	}
	return max(1, w*maxSize/h), maxSize
}

// Checkerboard returns a size x size texture of cells alternating between
// a and b.
func Checkerboard(size, cell int, a, b color.RGBA) *Texture {
	cell = max(cell, 1)
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			c := a
			if (x/cell+y/cell)%2 == 1 {
				c = b
			}
			img.SetRGBA(x, y, c)
		}
	}
	return &Texture{
		Width:  uint32(size),
		Height: uint32(size),
		Pixels: img.Pix,
	}
}
