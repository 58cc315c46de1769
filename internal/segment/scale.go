package segment

import (
	"image"

	"github.com/nfnt/resize"
	"golang.org/x/image/draw"

	"github.com/care/mattecast/internal/types"
)

// scaleFactor maps an internal-resolution name to a linear scale
func scaleFactor(resolution string) float64 {
	switch resolution {
	case "low":
		return 0.25
	case "medium":
		return 0.5
	case "high":
		return 0.75
	default:
		return 1.0
	}
}

// downscaleRGBA shrinks an RGBA buffer by the given factor.
// Returns the original buffer untouched for factor >= 1.
func downscaleRGBA(data []byte, width, height int, factor float64) ([]byte, int, int) {
	if factor >= 1.0 {
		return data, width, height
	}

	newW := int(float64(width) * factor)
	newH := int(float64(height) * factor)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	src := &image.RGBA{
		Pix:    data,
		Stride: width * 4,
		Rect:   image.Rect(0, 0, width, height),
	}

	scaled := resize.Resize(uint(newW), uint(newH), src, resize.Bilinear)

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.Draw(dst, dst.Bounds(), scaled, image.Point{}, draw.Src)

	return dst.Pix, newW, newH
}

// upscaleMask stretches a low-resolution mask back onto the frame's
// pixel grid. Nearest-neighbour keeps entries binary: no intermediate
// values are introduced by interpolation.
func upscaleMask(mask []byte, maskW, maskH, width, height int) types.Mask {
	if maskW == width && maskH == height {
		return types.Mask(mask)
	}

	src := &image.Gray{
		Pix:    mask,
		Stride: maskW,
		Rect:   image.Rect(0, 0, maskW, maskH),
	}
	dst := image.NewGray(image.Rect(0, 0, width, height))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	return types.Mask(dst.Pix)
}
