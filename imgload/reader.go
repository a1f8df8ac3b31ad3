// Package imgload provides the default corevk.ImageReader
// implementation, decoding PNG/JPEG via the standard library and
// BMP/TIFF via golang.org/x/image so the uploader does not need a hard dependency on any particular
// codec (SPEC_FULL.md §2 domain stack).
package imgload

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// Reader decodes PNG/JPEG/BMP/TIFF into tightly packed RGBA8 pixels,
// the format corevk's uploader expects for a straight buffer-to-image
// copy (uploader_worker.go's processImage).
type Reader struct{}

func New() *Reader { return &Reader{} }

// Decode satisfies corevk.ImageReader without corevk importing this
// package (avoids an import cycle; wiring happens at the call site in
// cmd/demo).
func (r *Reader) Decode(data []byte) (pixels []byte, width, height uint32, err error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("imgload: decode: %w", err)
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)

	return rgba.Pix, uint32(w), uint32(h), nil
}
