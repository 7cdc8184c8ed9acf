package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/svanichkin/termfeed/codec"
	"github.com/svanichkin/termfeed/imaging"
)

const (
	DefaultFPS     = 30
	DefaultTimeout = time.Second
)

// DefaultStreamSize is the frame grid sent over the network.
var DefaultStreamSize = codec.Size{Width: 60, Height: 30}

// DecodePolicy decides what a receiving pipeline does with a malformed payload.
type DecodePolicy int

const (
	// DecodeSkip drops the payload and keeps showing the last good frame.
	DecodeSkip DecodePolicy = iota
	// DecodeAbort ends the pipeline with the decode error.
	DecodeAbort
)

func (p DecodePolicy) String() string {
	if p == DecodeAbort {
		return "abort"
	}
	return "skip"
}

// ParseDecodePolicy accepts "skip" (or empty) and "abort".
func ParseDecodePolicy(s string) (DecodePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "skip", "drop":
		return DecodeSkip, nil
	case "abort", "fail":
		return DecodeAbort, nil
	default:
		return DecodeSkip, fmt.Errorf("unknown decode policy %q (want skip or abort)", s)
	}
}

// Options tunes a pipeline. Zero values pick the defaults.
type Options struct {
	FPS           int
	Timeout       time.Duration
	StreamSize    codec.Size
	OnDecodeError DecodePolicy

	// Imaging tunes preprocessing; nil picks imaging.DefaultOptions and an
	// all-zero value turns the adjustments off.
	Imaging *imaging.Options

	// Stats, when set, receives the pipeline's counters.
	Stats *Stats
}

func (o Options) withDefaults() Options {
	if o.FPS <= 0 {
		o.FPS = DefaultFPS
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if !o.StreamSize.Valid() {
		o.StreamSize = DefaultStreamSize
	}
	o.StreamSize = imaging.FitPayload(o.StreamSize)
	if o.Imaging == nil {
		tuning := imaging.DefaultOptions()
		o.Imaging = &tuning
	}
	if o.Stats == nil {
		o.Stats = &Stats{}
	}
	return o
}

// Sink is the character display a pipeline draws into.
type Sink interface {
	Enter() error
	Present(frame []byte) error
	Clear() error
	Restore() error
	Size() (cols, rows int, err error)
}

// FrameSender transmits one frame.
type FrameSender interface {
	Send(f codec.Frame) error
}

// FrameReceiver yields decoded frames. A timeout error means no frame yet.
type FrameReceiver interface {
	Receive(ctx context.Context) (codec.Frame, error)
}

// FrameWriter persists frames.
type FrameWriter interface {
	WriteFrame(f codec.Frame) error
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
