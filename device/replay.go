package device

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"

	"github.com/svanichkin/termfeed/logs"
	"github.com/svanichkin/termfeed/record"
)

// Replay plays back a recording as a capture source. Pacing comes from the
// pipeline's rate limiter.
type Replay struct {
	mu     sync.Mutex
	path   string
	loop   bool
	r      *record.Reader
	frames int
}

// OpenReplay opens the recording at path. With loop set the recording
// restarts after its last frame; otherwise Next returns io.EOF.
func OpenReplay(path string, loop bool) (*Replay, error) {
	if path == "" {
		return nil, &AcquireError{Source: KindReplay, Err: fmt.Errorf("no recording given: %w", ErrUnavailable)}
	}
	r, err := record.Open(path)
	if err != nil {
		return nil, &AcquireError{Source: KindReplay, Err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
	}
	logs.Printf("[replay] %s loop=%v", path, loop)
	return &Replay{path: path, loop: loop, r: r}, nil
}

func (p *Replay) Name() string { return KindReplay }

func (p *Replay) Next(ctx context.Context) (*image.RGBA, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.r == nil {
		return nil, io.EOF
	}
	f, err := p.r.ReadFrame()
	if errors.Is(err, io.EOF) {
		if !p.loop || p.frames == 0 {
			return nil, io.EOF
		}
		if err := p.rewind(); err != nil {
			return nil, &CaptureError{Source: KindReplay, Err: err}
		}
		f, err = p.r.ReadFrame()
	}
	if err != nil {
		return nil, &CaptureError{Source: KindReplay, Err: err}
	}
	p.frames++
	return f.RGBA(), nil
}

func (p *Replay) rewind() error {
	_ = p.r.Close()
	r, err := record.Open(p.path)
	if err != nil {
		p.r = nil
		return err
	}
	p.r = r
	logs.LogV("[replay] %s rewound after %d frames", p.path, p.frames)
	return nil
}

func (p *Replay) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.r == nil {
		return nil
	}
	err := p.r.Close()
	p.r = nil
	return err
}
