package device

import (
	"context"
	"fmt"
	"image"

	"github.com/kbinani/screenshot"

	"github.com/svanichkin/termfeed/imaging"
	"github.com/svanichkin/termfeed/logs"
)

// Screen captures one display.
type Screen struct {
	display int
	bounds  image.Rectangle
	maxW    int
	maxH    int
}

// OpenScreen selects opts.Display. Captures are scaled down to fit
// opts.MaxWidth x opts.MaxHeight keeping the display aspect.
func OpenScreen(opts Options) (*Screen, error) {
	opts = opts.withDefaults()
	n := screenshot.NumActiveDisplays()
	if n <= 0 {
		return nil, &AcquireError{Source: KindScreen, Err: fmt.Errorf("no active displays: %w", ErrUnavailable)}
	}
	if opts.Display < 0 || opts.Display >= n {
		return nil, &AcquireError{Source: KindScreen, Err: fmt.Errorf("display %d of %d: %w", opts.Display, n, ErrUnavailable)}
	}
	bounds := screenshot.GetDisplayBounds(opts.Display)
	if bounds.Empty() {
		return nil, &AcquireError{Source: KindScreen, Err: fmt.Errorf("display %d has empty bounds: %w", opts.Display, ErrUnavailable)}
	}
	logs.Printf("[screen] display %d %dx%d", opts.Display, bounds.Dx(), bounds.Dy())
	return &Screen{display: opts.Display, bounds: bounds, maxW: opts.MaxWidth, maxH: opts.MaxHeight}, nil
}

func (s *Screen) Name() string { return KindScreen }

func (s *Screen) Next(ctx context.Context) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := screenshot.CaptureRect(s.bounds)
	if err != nil {
		return nil, &CaptureError{Source: KindScreen, Err: err}
	}
	w, h := fitWithin(s.bounds.Dx(), s.bounds.Dy(), s.maxW, s.maxH)
	if w == img.Bounds().Dx() && h == img.Bounds().Dy() {
		return toRGBA(img), nil
	}
	return imaging.Downscale(img, w, h), nil
}

func (s *Screen) Close() error { return nil }

// fitWithin scales w x h down, keeping its aspect, until it fits maxW x maxH.
func fitWithin(w, h, maxW, maxH int) (int, int) {
	if w <= maxW && h <= maxH {
		return w, h
	}
	if w*maxH > h*maxW {
		h = h * maxW / w
		w = maxW
	} else {
		w = w * maxH / h
		h = maxH
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}
