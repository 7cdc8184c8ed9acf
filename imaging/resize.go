package imaging

import (
	"math"

	"github.com/svanichkin/termfeed/codec"
)

// ResizeFrame rescales a decoded frame to target with nearest-neighbor
// sampling. All four channels travel together, so the sender's luminance is kept.
func ResizeFrame(f codec.Frame, target codec.Size) codec.Frame {
	if !target.Valid() || f.Size == target || f.Validate() != nil {
		return f
	}
	inW, inH := int(f.Size.Width), int(f.Size.Height)
	outW, outH := int(target.Width), int(target.Height)
	out := codec.Frame{Size: target, Pixels: make([]codec.Pixel, outW*outH)}
	for y := 0; y < outH; y++ {
		sy := y * inH / outH
		if sy >= inH {
			sy = inH - 1
		}
		for x := 0; x < outW; x++ {
			sx := x * inW / outW
			if sx >= inW {
				sx = inW - 1
			}
			out.Pixels[y*outW+x] = f.Pixels[sy*inW+sx]
		}
	}
	return out
}

// FitPayload shrinks size, keeping its aspect ratio, until an encoded frame
// fits a single datagram. Sizes that already fit are returned unchanged.
func FitPayload(size codec.Size) codec.Size {
	if size.Cells() <= codec.MaxCells {
		return size
	}
	scale := math.Sqrt(float64(codec.MaxCells) / float64(size.Cells()))
	w := int(float64(size.Width) * scale)
	h := int(float64(size.Height) * scale)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	for w*h > codec.MaxCells {
		if w >= h {
			w--
		} else {
			h--
		}
	}
	return codec.Size{Width: uint16(w), Height: uint16(h)}
}
