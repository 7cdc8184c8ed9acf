//go:build !linux

package device

import (
	"context"
	"image"
)

// V4L2 is only available on Linux.
type V4L2 struct{}

func OpenV4L2(opts Options) (*V4L2, error) {
	return nil, &AcquireError{Source: KindV4L2, Err: ErrUnavailable}
}

func (*V4L2) Name() string { return KindV4L2 }

func (*V4L2) Next(ctx context.Context) (*image.RGBA, error) {
	return nil, &CaptureError{Source: KindV4L2, Err: ErrUnavailable}
}

func (*V4L2) Close() error { return nil }
