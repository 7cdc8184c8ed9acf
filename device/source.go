package device

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/svanichkin/termfeed/logs"
)

// Source yields raw color frames. Next may block; a returned error is a
// CaptureError and ends the pipeline that owns the source.
type Source interface {
	Next(ctx context.Context) (*image.RGBA, error)
	Close() error
	Name() string
}

// ErrUnavailable is wrapped by AcquireError when no compatible device exists.
var ErrUnavailable = errors.New("device unavailable")

// AcquireError is returned by Open when a source cannot be set up.
type AcquireError struct {
	Source string
	Err    error
}

func (e *AcquireError) Error() string {
	return fmt.Sprintf("acquire %s: %v", e.Source, e.Err)
}

func (e *AcquireError) Unwrap() error { return e.Err }

// CaptureError is returned by Next when a frame could not be read.
type CaptureError struct {
	Source string
	Err    error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture %s: %v", e.Source, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

const (
	KindCamera = "camera"
	KindV4L2   = "v4l2"
	KindScreen = "screen"
	KindReplay = "replay"
)

// Kinds lists every source accepted by Open.
var Kinds = []string{KindCamera, KindV4L2, KindScreen, KindReplay}

// Options configures source acquisition. Zero values pick the defaults.
type Options struct {
	// Device is the V4L2 device node.
	Device string
	// Display is the screen index for the screen source.
	Display int
	// Width and Height are the requested capture size for cameras.
	Width, Height int
	// MaxWidth and MaxHeight bound screen captures before preprocessing.
	MaxWidth, MaxHeight int
	// Replay is the recording played back by the replay source.
	Replay string
	Loop   bool
}

const (
	DefaultCameraWidth  = 640
	DefaultCameraHeight = 480
	DefaultScreenWidth  = 640
	DefaultScreenHeight = 320
	DefaultV4L2Device   = "/dev/video0"
)

func (o Options) withDefaults() Options {
	if o.Width <= 0 || o.Height <= 0 {
		o.Width, o.Height = DefaultCameraWidth, DefaultCameraHeight
	}
	if o.MaxWidth <= 0 || o.MaxHeight <= 0 {
		o.MaxWidth, o.MaxHeight = DefaultScreenWidth, DefaultScreenHeight
	}
	if strings.TrimSpace(o.Device) == "" {
		o.Device = DefaultV4L2Device
	}
	return o
}

// DefaultFPS is the frame rate used for kind when none is configured.
func DefaultFPS(kind string) int {
	switch kind {
	case KindScreen:
		return 20
	default:
		return 30
	}
}

// Open acquires the source named by kind.
func Open(ctx context.Context, kind string, opts Options) (Source, error) {
	opts = opts.withDefaults()
	var (
		src Source
		err error
	)
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindCamera, "":
		src, err = asSource(OpenCamera(ctx, opts))
	case KindV4L2:
		src, err = asSource(OpenV4L2(opts))
	case KindScreen:
		src, err = asSource(OpenScreen(opts))
	case KindReplay:
		src, err = asSource(OpenReplay(opts.Replay, opts.Loop))
	default:
		err = &AcquireError{Source: kind, Err: fmt.Errorf("unknown source %q: %w", kind, ErrUnavailable)}
	}
	if err != nil {
		return nil, err
	}
	logs.LogV("[device] opened %s", src.Name())
	return src, nil
}

func asSource[S Source](s S, err error) (Source, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}
