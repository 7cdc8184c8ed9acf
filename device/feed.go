package device

import (
	"context"
	"image"
	"io"
	"sync"
)

// Feed is a source whose frames are pushed in by the caller, for stream
// inputs that are decoded elsewhere. Push keeps only the newest frame.
type Feed struct {
	name      string
	frames    chan *image.RGBA
	done      chan struct{}
	err       error
	mu        sync.Mutex
	closeOnce sync.Once
}

// NewFeed returns an empty feed.
func NewFeed(name string) *Feed {
	return &Feed{
		name:   name,
		frames: make(chan *image.RGBA, 1),
		done:   make(chan struct{}),
	}
}

// Push hands img to the next Next call, replacing any frame still waiting.
func (f *Feed) Push(img *image.RGBA) {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.done:
		return
	default:
	}
	select {
	case f.frames <- img:
	default:
		select {
		case <-f.frames:
		default:
		}
		f.frames <- img
	}
}

// Fail makes Next return err once the queued frame, if any, is consumed.
func (f *Feed) Fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
	f.Close()
}

func (f *Feed) Name() string { return f.name }

func (f *Feed) Next(ctx context.Context) (*image.RGBA, error) {
	select {
	case img := <-f.frames:
		return img, nil
	default:
	}
	select {
	case img := <-f.frames:
		return img, nil
	case <-f.done:
		select {
		case img := <-f.frames:
			return img, nil
		default:
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.err != nil {
			return nil, &CaptureError{Source: f.name, Err: f.err}
		}
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Feed) Close() error {
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}
