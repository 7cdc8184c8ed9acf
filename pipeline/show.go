package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/svanichkin/termfeed/buffer"
	"github.com/svanichkin/termfeed/codec"
	"github.com/svanichkin/termfeed/device"
	"github.com/svanichkin/termfeed/imaging"
	"github.com/svanichkin/termfeed/logs"
	"github.com/svanichkin/termfeed/ui"
)

// display hands rendered frames from a producer loop to the presenter task
// through a triple buffer, so neither side waits on the other.
type display struct {
	sink  Sink
	r     *ui.Renderer
	in    *buffer.TripleInput[[]byte]
	out   *buffer.TripleOutput[[]byte]
	ready chan struct{}
	stats *Stats
}

func newDisplay(sink Sink, r *ui.Renderer, stats *Stats) *display {
	in, out := buffer.NewTriple[[]byte](nil)
	return &display{sink: sink, r: r, in: in, out: out, ready: make(chan struct{}, 1), stats: stats}
}

// viewport is the output grid for the sink's current size.
func (d *display) viewport() (codec.Size, bool) {
	cols, rows, err := d.sink.Size()
	if err != nil {
		return codec.Size{}, false
	}
	return imaging.Viewport(cols, rows, d.r.Double)
}

// publish renders f into the producer's slot and wakes the presenter.
func (d *display) publish(f codec.Frame) {
	back := d.in.Back()
	*back = d.r.AppendRender((*back)[:0], f)
	d.in.Publish()
	d.stats.Produced.Add(1)
	notify(d.ready)
}

// present draws the newest frame each time the producer publishes.
func (d *display) present(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.ready:
		}
		if !d.out.Update() {
			continue
		}
		if err := d.sink.Present(d.out.Peek()); err != nil {
			return fmt.Errorf("present: %w", err)
		}
		d.stats.Presented.Add(1)
	}
}

// run enters the sink, runs loop and the presenter side by side and puts the
// sink back on every exit path.
func (d *display) run(ctx context.Context, loop *Loop) (err error) {
	defer func() {
		if rerr := d.sink.Restore(); rerr != nil && err == nil {
			err = fmt.Errorf("%s: restore terminal: %w", loop.Name, rerr)
		}
	}()
	if err := d.sink.Enter(); err != nil {
		return fmt.Errorf("%s: terminal: %w", loop.Name, err)
	}
	loop.Cleanup = d.sink.Clear

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(loopCtx)
	g.Go(func() error {
		defer cancel()
		return loop.Run(gctx)
	})
	g.Go(func() error { return d.present(gctx) })
	g.Go(func() error {
		d.stats.report(gctx, loop.Name)
		return nil
	})
	err = g.Wait()
	d.stats.Dropped.Store(d.out.Dropped())
	return err
}

// Show captures from src and draws it on sink until ctx ends or capture fails.
// Show owns src and closes it.
func Show(ctx context.Context, src device.Source, sink Sink, r *ui.Renderer, opts Options) error {
	defer src.Close()
	opts = opts.withDefaults()
	d := newDisplay(sink, r, opts.Stats)

	loop := &Loop{
		Name:    "show",
		Limiter: NewLimiter(opts.FPS),
		Step: func(ctx context.Context) error {
			img, err := src.Next(ctx)
			if err != nil {
				return err
			}
			size, ok := d.viewport()
			f, err := imaging.Preprocess(img, size, ok, *opts.Imaging)
			if err != nil {
				return err
			}
			d.publish(f)
			return nil
		},
	}
	logs.Printf("[show] %s at %d fps", src.Name(), opts.FPS)
	return d.run(ctx, loop)
}
