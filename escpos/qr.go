package escpos

import (
	"fmt"

	"github.com/skip2/go-qrcode"
)

// QRRaster renders content as a QR code sized to fit size printer
// dots and converts it to a printable raster.
func QRRaster(content string, size int) (*Raster, error) {
	q, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageDecode, err)
	}
	return Dither(q.Image(size), size)
}
