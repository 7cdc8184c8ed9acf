package device

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	gocam "github.com/svanichkin/gocam"

	"github.com/svanichkin/termfeed/imaging"
	"github.com/svanichkin/termfeed/logs"
)

// CameraFrame is the raw RGB frame type produced by the camera backend.
type CameraFrame = gocam.Frame

var errStreamClosed = errors.New("stream closed")

// Camera is the default camera source backed by gocam.
type Camera struct {
	frames    chan *image.RGBA
	cancel    context.CancelFunc
	done      chan struct{}
	width     int
	height    int
	closeOnce sync.Once
}

// OpenCamera starts the platform camera. Frames are center-cropped to the
// requested aspect and resized to opts.Width x opts.Height.
func OpenCamera(ctx context.Context, opts Options) (*Camera, error) {
	opts = opts.withDefaults()
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	src, err := gocam.StartStream(streamCtx)
	if err != nil {
		cancel()
		return nil, &AcquireError{Source: KindCamera, Err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
	}
	c := &Camera{
		frames: make(chan *image.RGBA, 1),
		cancel: cancel,
		done:   make(chan struct{}),
		width:  opts.Width,
		height: opts.Height,
	}
	go c.pump(streamCtx, src)
	logs.Printf("[cam] started %dx%d", c.width, c.height)
	return c, nil
}

func (c *Camera) pump(ctx context.Context, src <-chan CameraFrame) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-src:
			if !ok {
				return
			}
			rf, err := cameraImage(f, c.width, c.height)
			if err != nil {
				logs.LogV("[cam] skip frame: %v", err)
				continue
			}
			select {
			case c.frames <- rf:
			default:
				// if the consumer is lagging behind, drop the oldest frame and overwrite with the newest one
				select {
				case <-c.frames:
				default:
				}
				c.frames <- rf
			}
		}
	}
}

func (c *Camera) Name() string { return KindCamera }

// Next returns the newest camera frame, waiting for one if needed.
func (c *Camera) Next(ctx context.Context) (*image.RGBA, error) {
	select {
	case img := <-c.frames:
		return img, nil
	case <-c.done:
		// drain a frame that raced with the stream shutting down
		select {
		case img := <-c.frames:
			return img, nil
		default:
		}
		return nil, &CaptureError{Source: KindCamera, Err: errStreamClosed}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Camera) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		<-c.done
		logs.LogV("[cam] stopped")
	})
	return nil
}

// centerCropToAspect crops the input RGB24 frame to match the target aspect ratio (targetW/targetH).
func centerCropToAspect(f CameraFrame, targetW, targetH int) CameraFrame {
	inW, inH := f.Width, f.Height
	if inW <= 0 || inH <= 0 || targetW <= 0 || targetH <= 0 || len(f.Data) < inW*inH*3 {
		return f
	}
	ta := float64(targetW) / float64(targetH)
	ia := float64(inW) / float64(inH)
	cropW, cropH := inW, inH
	if ia > ta {
		cropW = int(float64(inH) * ta)
	} else if ia < ta {
		cropH = int(float64(inW) / ta)
	}
	if cropW == inW && cropH == inH {
		return f
	}
	x0 := (inW - cropW) / 2
	y0 := (inH - cropH) / 2
	out := CameraFrame{Width: cropW, Height: cropH, Data: make([]byte, cropW*cropH*3)}
	for y := 0; y < cropH; y++ {
		srcY := y0 + y
		copy(out.Data[y*cropW*3:(y+1)*cropW*3], f.Data[(srcY*inW+x0)*3:(srcY*inW+x0+cropW)*3])
	}
	return out
}

// cameraImage center-crops f to the w:h aspect and scales it to w x h.
func cameraImage(f CameraFrame, w, h int) (*image.RGBA, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("bad out size %dx%d", w, h)
	}
	cropped := centerCropToAspect(f, w, h)
	img, err := rgbToRGBA(cropped.Width, cropped.Height, cropped.Data)
	if err != nil {
		return nil, err
	}
	return imaging.Downscale(img, w, h), nil
}
