package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/svanichkin/termfeed/codec"
	"github.com/svanichkin/termfeed/device"
	"github.com/svanichkin/termfeed/imaging"
	"github.com/svanichkin/termfeed/logs"
)

// Send captures from src, shrinks each frame to the stream size and hands it
// to sender. Send timeouts drop the frame; other send errors end the loop.
// Send owns src and closes it.
func Send(ctx context.Context, src device.Source, sender FrameSender, opts Options) error {
	defer src.Close()
	opts = opts.withDefaults()
	stats := opts.Stats

	loop := &Loop{
		Name:    "send",
		Limiter: NewLimiter(opts.FPS),
		Step: func(ctx context.Context) error {
			f, err := capture(ctx, src, opts)
			if err != nil {
				return err
			}
			stats.Produced.Add(1)
			if err := sender.Send(f); err != nil {
				if isTimeout(err) {
					stats.Timeouts.Add(1)
					logs.LogV("[send] drop frame: %v", err)
					return errSkip
				}
				return fmt.Errorf("send: %w", err)
			}
			stats.Sent.Add(1)
			stats.SentBytes.Add(uint64(codec.EncodedLen(f.Size)))
			return nil
		},
	}
	logs.Printf("[send] %s at %d fps, %s cells", src.Name(), opts.FPS, opts.StreamSize)
	return runReported(ctx, loop, stats)
}

// Record captures from src at the stream size and appends every frame to w.
// Record owns src and closes it; w stays open.
func Record(ctx context.Context, src device.Source, w FrameWriter, opts Options) error {
	defer src.Close()
	opts = opts.withDefaults()
	stats := opts.Stats

	loop := &Loop{
		Name:    "record",
		Limiter: NewLimiter(opts.FPS),
		Step: func(ctx context.Context) error {
			f, err := capture(ctx, src, opts)
			if err != nil {
				return err
			}
			stats.Produced.Add(1)
			if err := w.WriteFrame(f); err != nil {
				return err
			}
			stats.Sent.Add(1)
			return nil
		},
	}
	logs.Printf("[record] %s at %d fps, %s cells", src.Name(), opts.FPS, opts.StreamSize)
	return runReported(ctx, loop, stats)
}

func capture(ctx context.Context, src device.Source, opts Options) (codec.Frame, error) {
	img, err := src.Next(ctx)
	if err != nil {
		return codec.Frame{}, err
	}
	return imaging.Preprocess(img, opts.StreamSize, true, *opts.Imaging)
}

func runReported(ctx context.Context, loop *Loop, stats *Stats) error {
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(loopCtx)
	g.Go(func() error {
		defer cancel()
		return loop.Run(gctx)
	})
	g.Go(func() error {
		stats.report(gctx, loop.Name)
		return nil
	})
	return g.Wait()
}
