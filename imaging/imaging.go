// Package imaging holds the per-frame transforms that turn a captured color
// image into a codec.Frame: downscale, brighten, luminance and contrast.
package imaging

import (
	"image"
	"math"

	"github.com/svanichkin/termfeed/codec"
	"golang.org/x/image/draw"
)

const (
	// DefaultColorBoost is added to every RGB channel before luminance is derived.
	DefaultColorBoost = 40
	// DefaultLumaBoost is added to the luminance plane.
	DefaultLumaBoost = 20
	// DefaultContrast is the gain applied around the mid-tone of the luminance plane.
	DefaultContrast = 10.0
)

// Options tunes the brighten/contrast chain.
type Options struct {
	ColorBoost int
	LumaBoost  int
	Contrast   float64
}

// DefaultOptions returns the stock brighten/contrast settings.
func DefaultOptions() Options {
	return Options{
		ColorBoost: DefaultColorBoost,
		LumaBoost:  DefaultLumaBoost,
		Contrast:   DefaultContrast,
	}
}

// Viewport converts a terminal size into the output grid. When every logical
// pixel is drawn as two cells the horizontal axis is halved.
func Viewport(cols, rows int, double bool) (codec.Size, bool) {
	if double {
		cols /= 2
	}
	if cols <= 0 || rows <= 0 {
		return codec.Size{}, false
	}
	return codec.Size{Width: clampAxis(cols), Height: clampAxis(rows)}, true
}

// Preprocess runs the full chain on src. When ok is false the target is unknown
// and the source's native dimensions are kept.
func Preprocess(src image.Image, target codec.Size, ok bool, opts Options) (codec.Frame, error) {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if ok && target.Valid() {
		w, h = int(target.Width), int(target.Height)
	}
	rgb := Downscale(src, w, h)
	Brighten(rgb, opts.ColorBoost)
	luma := Luma(rgb)
	BrightenGray(luma, opts.LumaBoost)
	Contrast(luma, opts.Contrast)
	return codec.NewFrame(luma, rgb)
}

// Downscale resamples src into a w x h RGBA image with nearest-neighbor sampling.
func Downscale(src image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if rgba, ok := src.(*image.RGBA); ok && rgba.Bounds().Dx() == w && rgba.Bounds().Dy() == h {
		draw.Copy(dst, image.Point{}, rgba, rgba.Bounds(), draw.Src, nil)
		return dst
	}
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// Brighten adds delta to each color channel, clamped to [0,255]. Alpha is untouched.
func Brighten(img *image.RGBA, delta int) {
	if delta == 0 {
		return
	}
	b := img.Bounds()
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+b.Dx()*4]
		for i := 0; i < len(row); i += 4 {
			row[i] = clampByte(int(row[i]) + delta)
			row[i+1] = clampByte(int(row[i+1]) + delta)
			row[i+2] = clampByte(int(row[i+2]) + delta)
		}
	}
}

// BrightenGray adds delta to every sample, clamped to [0,255].
func BrightenGray(img *image.Gray, delta int) {
	if delta == 0 {
		return
	}
	b := img.Bounds()
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+b.Dx()]
		for i := range row {
			row[i] = clampByte(int(row[i]) + delta)
		}
	}
}

// Luma derives a luminance plane using Rec. 709 weights.
func Luma(img *image.RGBA) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		src := img.Pix[y*img.Stride:]
		dst := out.Pix[y*out.Stride:]
		for x := 0; x < b.Dx(); x++ {
			r, g, bl := int(src[x*4]), int(src[x*4+1]), int(src[x*4+2])
			dst[x] = uint8((2126*r + 7152*g + 722*bl + 5000) / 10000)
		}
	}
	return out
}

// Contrast stretches samples around 128. c is a percentage: the gain is
// ((100+c)/100)^2, so 0 leaves the plane unchanged and negative values flatten it.
func Contrast(img *image.Gray, c float64) {
	if c == 0 {
		return
	}
	gain := math.Pow((100+c)/100, 2)
	var lut [256]uint8
	for v := range lut {
		f := (float64(v)/255-0.5)*gain + 0.5
		lut[v] = clampByte(int(math.Round(f * 255)))
	}
	b := img.Bounds()
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+b.Dx()]
		for i, v := range row {
			row[i] = lut[v]
		}
	}
}

func clampByte(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

func clampAxis(v int) uint16 {
	if v > 0xFFFF {
		return 0xFFFF
	}
	return uint16(v)
}
