package device

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

// rgbToRGBA expands a packed RGB24 buffer into an opaque RGBA image.
func rgbToRGBA(w, h int, data []byte) (*image.RGBA, error) {
	if w <= 0 || h <= 0 || len(data) < w*h*3 {
		return nil, fmt.Errorf("bad rgb frame %dx%d (%d bytes)", w, h, len(data))
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i, j := 0, 0; j < w*h*3; i, j = i+4, j+3 {
		img.Pix[i] = data[j]
		img.Pix[i+1] = data[j+1]
		img.Pix[i+2] = data[j+2]
		img.Pix[i+3] = 0xff
	}
	return img, nil
}

// yuyvToRGBA converts a packed YUYV 4:2:2 frame.
func yuyvToRGBA(frame []byte, w, h int) (*image.RGBA, error) {
	if w <= 0 || h <= 0 || w%2 != 0 || len(frame) < w*h*2 {
		return nil, fmt.Errorf("bad yuyv frame %dx%d (%d bytes)", w, h, len(frame))
	}
	ycc := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio422)
	for i := range ycc.Cb {
		ii := i * 4
		ycc.Y[i*2] = frame[ii]
		ycc.Y[i*2+1] = frame[ii+2]
		ycc.Cb[i] = frame[ii+1]
		ycc.Cr[i] = frame[ii+3]
	}
	img := image.NewRGBA(ycc.Bounds())
	draw.Draw(img, img.Bounds(), ycc, image.Point{}, draw.Src)
	return img, nil
}

// toRGBA returns src as *image.RGBA with its origin at (0,0).
func toRGBA(src image.Image) *image.RGBA {
	if img, ok := src.(*image.RGBA); ok && img.Rect.Min == (image.Point{}) {
		return img
	}
	b := src.Bounds()
	img := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(img, img.Bounds(), src, b.Min, draw.Src)
	return img
}
