//go:build linux

package device

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"

	"github.com/blackjack/webcam"

	"github.com/svanichkin/termfeed/logs"
)

// waitSeconds bounds each WaitForFrame call so Next notices cancellation.
const waitSeconds = 1

// V4L2 reads YUYV frames straight from a Video4Linux device.
type V4L2 struct {
	mu        sync.Mutex
	cam       *webcam.Webcam
	path      string
	width     int
	height    int
	closeOnce sync.Once
}

// OpenV4L2 opens opts.Device and negotiates a YUYV format close to the
// requested size.
func OpenV4L2(opts Options) (*V4L2, error) {
	opts = opts.withDefaults()
	cam, err := webcam.Open(opts.Device)
	if err != nil {
		return nil, &AcquireError{Source: KindV4L2, Err: fmt.Errorf("%s: %w: %v", opts.Device, ErrUnavailable, err)}
	}

	var (
		format webcam.PixelFormat
		found  bool
	)
	for k, v := range cam.GetSupportedFormats() {
		if strings.Contains(v, "YUYV") {
			format, found = k, true
			break
		}
	}
	if !found {
		cam.Close()
		return nil, &AcquireError{Source: KindV4L2, Err: fmt.Errorf("%s: no YUYV format: %w", opts.Device, ErrUnavailable)}
	}

	_, w, h, err := cam.SetImageFormat(format, uint32(opts.Width), uint32(opts.Height))
	if err != nil {
		cam.Close()
		return nil, &AcquireError{Source: KindV4L2, Err: fmt.Errorf("set image format: %w", err)}
	}
	if err := cam.StartStreaming(); err != nil {
		cam.Close()
		return nil, &AcquireError{Source: KindV4L2, Err: fmt.Errorf("start streaming: %w", err)}
	}
	logs.Printf("[v4l2] %s streaming %dx%d", opts.Device, w, h)
	return &V4L2{cam: cam, path: opts.Device, width: int(w), height: int(h)}, nil
}

func (v *V4L2) Name() string { return KindV4L2 }

// Next waits for the next frame. Driver timeouts are retried until ctx ends.
func (v *V4L2) Next(ctx context.Context) (*image.RGBA, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cam == nil {
		return nil, &CaptureError{Source: KindV4L2, Err: errStreamClosed}
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		err := v.cam.WaitForFrame(waitSeconds)
		var timeout *webcam.Timeout
		switch {
		case err == nil:
		case errors.As(err, &timeout):
			logs.LogV("[v4l2] %s: %v", v.path, err)
			continue
		default:
			return nil, &CaptureError{Source: KindV4L2, Err: fmt.Errorf("wait for frame: %w", err)}
		}

		frame, err := v.cam.ReadFrame()
		if err != nil {
			return nil, &CaptureError{Source: KindV4L2, Err: fmt.Errorf("read frame: %w", err)}
		}
		if len(frame) == 0 {
			continue
		}
		img, err := yuyvToRGBA(frame, v.width, v.height)
		if err != nil {
			return nil, &CaptureError{Source: KindV4L2, Err: err}
		}
		return img, nil
	}
}

func (v *V4L2) Close() error {
	var err error
	v.closeOnce.Do(func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		if v.cam == nil {
			return
		}
		_ = v.cam.StopStreaming()
		err = v.cam.Close()
		v.cam = nil
	})
	return err
}
