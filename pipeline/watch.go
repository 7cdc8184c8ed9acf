package pipeline

import (
	"context"
	"errors"

	"github.com/svanichkin/termfeed/codec"
	"github.com/svanichkin/termfeed/imaging"
	"github.com/svanichkin/termfeed/logs"
	"github.com/svanichkin/termfeed/ui"
)

// Watch draws frames from recv on sink. Receive timeouts are retried; a
// malformed payload is handled per opts.OnDecodeError.
func Watch(ctx context.Context, recv FrameReceiver, sink Sink, r *ui.Renderer, opts Options) error {
	opts = opts.withDefaults()
	d := newDisplay(sink, r, opts.Stats)

	loop := &Loop{
		Name:    "watch",
		Limiter: NewLimiter(opts.FPS),
		Step: func(ctx context.Context) error {
			f, err := recv.Receive(ctx)
			var decErr *codec.DecodeError
			switch {
			case err == nil:
			case ctx.Err() != nil:
				return ctx.Err()
			case isTimeout(err):
				opts.Stats.Timeouts.Add(1)
				logs.LogV("[watch] no frame within %v", opts.Timeout)
				return errSkip
			case errors.As(err, &decErr):
				opts.Stats.DecodeErrors.Add(1)
				if opts.OnDecodeError == DecodeAbort {
					return err
				}
				logs.LogV("[watch] drop payload: %v", err)
				return errSkip
			default:
				return err
			}
			if size, ok := d.viewport(); ok {
				f = imaging.ResizeFrame(f, size)
			}
			d.publish(f)
			return nil
		},
	}
	logs.Printf("[watch] decode errors: %s", opts.OnDecodeError)
	return d.run(ctx, loop)
}
