// Package imaging holds decoded platform images in the byte order the host
// renderer consumes.
package imaging

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"sync/atomic"
)

// PixelFormat names the byte order of Texture.Pix.
type PixelFormat int

const (
	FormatRGBA8 PixelFormat = iota
	FormatBGRA8
)

func (f PixelFormat) String() string {
	if f == FormatBGRA8 {
		return "bgra8"
	}
	return "rgba8"
}

// Texture is an 8-bit, 4-channel image. A released texture is no longer valid.
type Texture struct {
	Width, Height int
	Format        PixelFormat
	Pix           []byte
	released      atomic.Bool
}

// RGBAToBGRA swaps the red and blue channel of every pixel into a new buffer.
// Alpha is preserved.
func RGBAToBGRA(src []byte) ([]byte, error) {
	if len(src)%4 != 0 {
		return nil, fmt.Errorf("pixel buffer length %d is not a multiple of 4", len(src))
	}
	dst := make([]byte, len(src))
	for i := 0; i < len(src); i += 4 {
		dst[i+0] = src[i+2]
		dst[i+1] = src[i+1]
		dst[i+2] = src[i+0]
		dst[i+3] = src[i+3]
	}
	return dst, nil
}

// NewTextureFromRGBA builds a texture from RGBA8 pixels, converting to format.
func NewTextureFromRGBA(w, h int, rgba []byte, format PixelFormat) (*Texture, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid image size %dx%d", w, h)
	}
	if len(rgba) != w*h*4 {
		return nil, fmt.Errorf("pixel buffer has %d bytes, want %d", len(rgba), w*h*4)
	}
	pix := rgba
	if format == FormatBGRA8 {
		var err error
		if pix, err = RGBAToBGRA(rgba); err != nil {
			return nil, err
		}
	} else {
		pix = append([]byte(nil), rgba...)
	}
	return &Texture{Width: w, Height: h, Format: format, Pix: pix}, nil
}

// Valid reports whether the texture still holds usable pixels.
func (t *Texture) Valid() bool {
	return t != nil && !t.released.Load() && t.Width > 0 && t.Height > 0 && len(t.Pix) == t.Width*t.Height*4
}

// Release marks the texture unusable. Caches holding it will miss.
func (t *Texture) Release() { t.released.Store(true) }

// Image returns the texture as an image.NRGBA, undoing the BGRA swap if needed.
func (t *Texture) Image() (*image.NRGBA, error) {
	if !t.Valid() {
		return nil, errors.New("texture is not valid")
	}
	img := image.NewNRGBA(image.Rect(0, 0, t.Width, t.Height))
	if t.Format == FormatBGRA8 {
		// the swap is its own inverse
		rgba, _ := RGBAToBGRA(t.Pix)
		copy(img.Pix, rgba)
	} else {
		copy(img.Pix, t.Pix)
	}
	return img, nil
}

// At returns the pixel at x, y in canonical RGBA order.
func (t *Texture) At(x, y int) color.NRGBA {
	i := (y*t.Width + x) * 4
	p := t.Pix[i : i+4 : i+4]
	if t.Format == FormatBGRA8 {
		return color.NRGBA{R: p[2], G: p[1], B: p[0], A: p[3]}
	}
	return color.NRGBA{R: p[0], G: p[1], B: p[2], A: p[3]}
}

// EncodePNG writes the texture as PNG.
func (t *Texture) EncodePNG(w io.Writer) error {
	img, err := t.Image()
	if err != nil {
		return err
	}
	return png.Encode(w, img)
}
