package escpos

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"io"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"
)

// ErrImageDecode means a logo or QR source could not be decoded; the
// caller should omit the image block rather than abort the encoding.
var ErrImageDecode = errors.New("failed to decode image")

const ditherThreshold = 128

// Raster is a 1-bit monochrome image. Width is always a multiple of 8
// so rows pack into whole bytes; every pixel is exactly 0 (black) or
// 255 (white).
type Raster struct {
	Width  int
	Height int
	Pix    []uint8
}

// DecodeImage decodes a PNG/JPEG/GIF stream into an image.
func DecodeImage(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageDecode, err)
	}
	return img, nil
}

// Dither converts an arbitrary bitmap into a printable monochrome
// raster no wider than maxWidth. The width is floor-aligned to a
// multiple of 8 and the height scaled proportionally; shading is
// approximated with Floyd-Steinberg error diffusion.
func Dither(src image.Image, maxWidth int) (*Raster, error) {
	bounds := src.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	if srcW == 0 || srcH == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrImageDecode)
	}

	w := srcW
	if w > maxWidth {
		w = maxWidth
	}
	w &^= 7
	if w == 0 {
		return nil, fmt.Errorf("%w: target width %d too narrow", ErrImageDecode, maxWidth)
	}
	h := srcH * w / srcW
	if h == 0 {
		h = 1
	}

	scaled := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), src, bounds, draw.Src, nil)

	// Weighted luminance per pixel, kept as float64 so diffused error
	// accumulates without clipping.
	lum := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := scaled.At(x, y).RGBA()
			lum[y*w+x] = 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
		}
	}

	// Floyd-Steinberg in raster order; error only ever flows to
	// unprocessed neighbors. Out-of-bounds neighbors are skipped.
	pix := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			old := lum[i]
			var val float64
			if old >= ditherThreshold {
				val = 255
				pix[i] = 255
			}
			diff := old - val

			if x+1 < w {
				lum[i+1] += diff * 7 / 16
			}
			if y+1 < h {
				if x > 0 {
					lum[i+w-1] += diff * 3 / 16
				}
				lum[i+w] += diff * 5 / 16
				if x+1 < w {
					lum[i+w+1] += diff * 1 / 16
				}
			}
		}
	}

	return &Raster{Width: w, Height: h, Pix: pix}, nil
}

// Pack bit-packs the raster row-major, MSB first, one bit per pixel
// with 1 marking a black dot, as the GS v 0 raster command expects.
func (r *Raster) Pack() []byte {
	rowBytes := r.Width / 8
	out := make([]byte, rowBytes*r.Height)
	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			if r.Pix[y*r.Width+x] == 0 {
				out[y*rowBytes+x/8] |= 0x80 >> (x % 8)
			}
		}
	}
	return out
}
