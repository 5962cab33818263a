package decode

import (
	"image"

	"github.com/sirupsen/logrus"
	"golang.org/x/image/draw"
)

// maxPixels caps the surface Prerasterize will allocate (256 MiB of RGBA)
const maxPixels = 64 << 20

// Prerasterize converts img into premultiplied 8-bit RGBA with the same
// bounds, the layout display surfaces consume directly. When no surface can
// be allocated the input is returned unchanged.
func Prerasterize(img image.Image) (out image.Image) {
	if img == nil {
		return nil
	}
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}

	b := img.Bounds()
	if b.Empty() || b.Dx()*b.Dy() > maxPixels || b.Dx() > maxPixels || b.Dy() > maxPixels {
		logrus.Debugf("Skipping pre-rasterization of %v image", b)
		return img
	}

	defer func() {
		if r := recover(); r != nil {
			logrus.Warnf("Pre-rasterization of %v image failed: %v", b, r)
			out = img
		}
	}()

	dst := image.NewRGBA(b)
	draw.Draw(dst, b, img, b.Min, draw.Src)
	return dst
}
