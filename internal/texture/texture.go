// Package texture decodes image files into tightly packed RGBA8 pixels.
package texture

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"

	"github.com/cockroachdb/errors"
	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// BytesPerPixel for the R8G8B8A8 upload format.
const BytesPerPixel = 4

type Image struct {
	Width     int
	Height    int
	MipLevels int
	Pixels    []byte
}

// Size is the byte length of the base level.
func (i *Image) Size() int {
	return i.Width * i.Height * BytesPerPixel
}

// MipLevels is the length of the full mip chain down to 1x1.
func MipLevels(width, height int) int {
	largest := width
	if height > largest {
		largest = height
	}
	if largest < 1 {
		return 1
	}
	return int(math.Floor(math.Log2(float64(largest)))) + 1
}

// FromImage copies any decoded image into a top-left origin RGBA8 buffer.
func FromImage(src image.Image) (*Image, error) {
	bounds := src.Bounds()
	if bounds.Empty() {
		return nil, errors.New("image has no pixels")
	}

	rgba, ok := src.(*image.RGBA)
	if !ok || rgba.Stride != bounds.Dx()*BytesPerPixel || bounds.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(rgba, rgba.Bounds(), src, bounds.Min, draw.Src)
	}

	return &Image{
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
		MipLevels: MipLevels(bounds.Dx(), bounds.Dy()),
		Pixels:    rgba.Pix,
	}, nil
}

// Decode reads PNG, JPEG, BMP or TIFF data.
func Decode(r io.Reader) (*Image, error) {
	decoded, format, err := image.Decode(r)
	if err != nil {
		return nil, errors.Wrap(err, "decode texture")
	}

	img, err := FromImage(decoded)
	if err != nil {
		return nil, errors.Wrapf(err, "convert %s texture", format)
	}
	return img, nil
}
