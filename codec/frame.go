package codec

import (
	"errors"
	"fmt"
	"image"
)

// ErrInvalidFrame is returned when a frame's dimensions and pixel count disagree.
var ErrInvalidFrame = errors.New("invalid frame")

// Size is the frame geometry in character cells.
type Size struct {
	Width  uint16
	Height uint16
}

// Cells returns the number of pixels a frame of this size carries.
func (s Size) Cells() int {
	return int(s.Width) * int(s.Height)
}

// Valid reports whether both axes are positive.
func (s Size) Valid() bool {
	return s.Width > 0 && s.Height > 0
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Pixel carries the display color and the luminance sample used for glyph selection.
type Pixel struct {
	R, G, B uint8
	Grey    uint8
}

// Frame is a row-major grid of pixels. len(Pixels) == Size.Cells() always holds
// for frames built by NewFrame or Decode.
type Frame struct {
	Size   Size
	Pixels []Pixel
}

// NewFrame zips a luminance grid and a color grid of identical dimensions into a Frame.
func NewFrame(luma *image.Gray, rgb *image.RGBA) (Frame, error) {
	if luma == nil || rgb == nil {
		return Frame{}, fmt.Errorf("%w: nil plane", ErrInvalidFrame)
	}
	lb, cb := luma.Bounds(), rgb.Bounds()
	if lb.Dx() != cb.Dx() || lb.Dy() != cb.Dy() {
		return Frame{}, fmt.Errorf("%w: luma %dx%d vs rgb %dx%d", ErrInvalidFrame, lb.Dx(), lb.Dy(), cb.Dx(), cb.Dy())
	}
	w, h := cb.Dx(), cb.Dy()
	if w <= 0 || h <= 0 || w > 0xFFFF || h > 0xFFFF {
		return Frame{}, fmt.Errorf("%w: size %dx%d", ErrInvalidFrame, w, h)
	}

	pixels := make([]Pixel, 0, w*h)
	for y := 0; y < h; y++ {
		lrow := luma.Pix[(y)*luma.Stride:]
		crow := rgb.Pix[(y)*rgb.Stride:]
		for x := 0; x < w; x++ {
			pixels = append(pixels, Pixel{
				R:    crow[x*4],
				G:    crow[x*4+1],
				B:    crow[x*4+2],
				Grey: lrow[x],
			})
		}
	}
	return Frame{
		Size:   Size{Width: uint16(w), Height: uint16(h)},
		Pixels: pixels,
	}, nil
}

// Validate checks the pixels/size invariant.
func (f Frame) Validate() error {
	if !f.Size.Valid() {
		return fmt.Errorf("%w: size %s", ErrInvalidFrame, f.Size)
	}
	if len(f.Pixels) != f.Size.Cells() {
		return fmt.Errorf("%w: %d pixels for %s", ErrInvalidFrame, len(f.Pixels), f.Size)
	}
	return nil
}

// RGBA rebuilds the color plane of the frame as an image.
func (f Frame) RGBA() *image.RGBA {
	w, h := int(f.Size.Width), int(f.Size.Height)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i, p := range f.Pixels {
		if i >= w*h {
			break
		}
		o := (i/w)*img.Stride + (i%w)*4
		img.Pix[o] = p.R
		img.Pix[o+1] = p.G
		img.Pix[o+2] = p.B
		img.Pix[o+3] = 0xFF
	}
	return img
}
