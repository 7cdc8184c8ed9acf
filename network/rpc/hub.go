// Package rpc exposes a capture source as a subscribable frame stream over
// websockets. One capture task feeds every subscriber; each subscriber holds
// at most one undelivered frame, so a slow client only ever skips frames.
package rpc

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/svanichkin/termfeed/buffer"
	"github.com/svanichkin/termfeed/codec"
	"github.com/svanichkin/termfeed/device"
	"github.com/svanichkin/termfeed/imaging"
	"github.com/svanichkin/termfeed/logs"
	"github.com/svanichkin/termfeed/pipeline"
)

// ErrHubStopped is returned by Subscription.Next once the hub has stopped.
var ErrHubStopped = errors.New("hub stopped")

// Subscription is one client's view of the stream.
type Subscription struct {
	ID  uuid.UUID
	box *buffer.Mailbox[[]byte]
}

// Next blocks for the newest encoded frame. Payloads are shared between
// subscribers and must not be modified.
func (s *Subscription) Next(ctx context.Context) ([]byte, error) {
	p, err := s.box.Take(ctx)
	if errors.Is(err, buffer.ErrClosed) {
		return nil, ErrHubStopped
	}
	return p, err
}

// Drops returns how many frames were replaced before this client took them.
func (s *Subscription) Drops() uint64 { return s.box.Drops() }

// Hub captures frames from a source and fans them out to subscribers.
type Hub struct {
	src  device.Source
	opts pipeline.Options

	in    *buffer.TripleInput[[]byte]
	out   *buffer.TripleOutput[[]byte]
	ready chan struct{}

	mu      sync.Mutex
	subs    map[uuid.UUID]*Subscription
	stopped bool

	published atomic.Uint64
	running   atomic.Bool
}

// NewHub prepares a hub for src. Frames are preprocessed to opts.StreamSize.
// The hub owns src from now on.
func NewHub(src device.Source, opts pipeline.Options) *Hub {
	if opts.FPS <= 0 {
		opts.FPS = device.DefaultFPS(src.Name())
	}
	if !opts.StreamSize.Valid() {
		opts.StreamSize = pipeline.DefaultStreamSize
	}
	opts.StreamSize = imaging.FitPayload(opts.StreamSize)
	if opts.Imaging == nil {
		tuning := imaging.DefaultOptions()
		opts.Imaging = &tuning
	}
	in, out := buffer.NewTriple[[]byte](nil)
	return &Hub{
		src:   src,
		opts:  opts,
		in:    in,
		out:   out,
		ready: make(chan struct{}, 1),
		subs:  make(map[uuid.UUID]*Subscription),
	}
}

// Run captures until ctx ends or capture fails, then closes every
// subscription. A capture failure is returned.
func (h *Hub) Run(ctx context.Context) error {
	defer h.src.Close()
	defer h.stop()
	h.running.Store(true)
	defer h.running.Store(false)

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	loop := &pipeline.Loop{
		Name:    "rpc",
		Limiter: pipeline.NewLimiter(h.opts.FPS),
		Step:    h.capture,
	}
	g, gctx := errgroup.WithContext(loopCtx)
	g.Go(func() error {
		defer cancel()
		return loop.Run(gctx)
	})
	g.Go(func() error {
		h.dispatch(gctx)
		return nil
	})
	logs.Printf("[rpc] streaming %s at %d fps, %s cells", h.src.Name(), h.opts.FPS, h.opts.StreamSize)
	return g.Wait()
}

func (h *Hub) capture(ctx context.Context) error {
	img, err := h.src.Next(ctx)
	if err != nil {
		return err
	}
	f, err := imaging.Preprocess(img, h.opts.StreamSize, true, *h.opts.Imaging)
	if err != nil {
		return err
	}
	back := h.in.Back()
	if *back, err = codec.AppendEncode((*back)[:0], f); err != nil {
		return err
	}
	h.in.Publish()
	h.published.Add(1)
	select {
	case h.ready <- struct{}{}:
	default:
	}
	return nil
}

// dispatch copies each new payload out of the triple buffer once and offers
// it to every subscriber's mailbox.
func (h *Hub) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.ready:
		}
		if !h.out.Update() {
			continue
		}
		payload := bytes.Clone(h.out.Peek())
		h.mu.Lock()
		for _, s := range h.subs {
			s.box.Put(payload)
		}
		h.mu.Unlock()
	}
}

func (h *Hub) stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	for id, s := range h.subs {
		s.box.Close()
		delete(h.subs, id)
	}
}

// Subscribe registers a new client. After the hub stopped the returned
// subscription is already closed.
func (h *Hub) Subscribe() *Subscription {
	s := &Subscription{ID: uuid.New(), box: buffer.NewMailbox[[]byte]()}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		s.box.Close()
		return s
	}
	h.subs[s.ID] = s
	logs.LogV("[rpc] subscriber %s joined (%d total)", s.ID, len(h.subs))
	return s
}

// Unsubscribe removes a client and releases its mailbox.
func (h *Hub) Unsubscribe(id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.subs[id]; ok {
		s.box.Close()
		delete(h.subs, id)
		logs.LogV("[rpc] subscriber %s left (%d total)", id, len(h.subs))
	}
}

// Subscribers returns the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Published returns the number of frames captured so far.
func (h *Hub) Published() uint64 { return h.published.Load() }

// Running reports whether Run is active.
func (h *Hub) Running() bool { return h.running.Load() }
