package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svanichkin/termfeed/codec"
	"github.com/svanichkin/termfeed/device"
	"github.com/svanichkin/termfeed/imaging"
	"github.com/svanichkin/termfeed/ui"
)

type fakeSink struct {
	mu       sync.Mutex
	cols     int
	rows     int
	enterErr error
	entered  int
	cleared  int
	restored int
	frames   [][]byte
}

func (s *fakeSink) Enter() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entered++
	return s.enterErr
}

func (s *fakeSink) Present(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, append([]byte(nil), b...))
	return nil
}

func (s *fakeSink) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared++
	return nil
}

func (s *fakeSink) Restore() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restored++
	return nil
}

func (s *fakeSink) Size() (int, int, error) {
	if s.cols == 0 {
		return 0, 0, errors.New("no tty")
	}
	return s.cols, s.rows, nil
}

func (s *fakeSink) presented() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *fakeSink) last() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

func solid(w, h int, v uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func asciiRenderer() *ui.Renderer {
	return ui.NewRenderer(codec.MustPalette(codec.DefaultPalette), termenv.Ascii)
}

type timeoutErr struct{}

func (timeoutErr) Error() string { return "i/o timeout" }
func (timeoutErr) Timeout() bool { return true }

func TestLimiterBoundsRate(t *testing.T) {
	t.Parallel()

	const perSecond = 20
	lim := NewLimiter(perSecond)
	assert.Equal(t, 50*time.Millisecond, lim.Interval())

	window := 300 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), window)
	defer cancel()
	n := 0
	for lim.Wait(ctx) == nil {
		n++
	}
	assert.LessOrEqual(t, n, int(perSecond*window.Seconds())+1)
	assert.GreaterOrEqual(t, n, 2)

	unlimited := NewLimiter(0)
	for i := 0; i < 1000; i++ {
		require.NoError(t, unlimited.Wait(context.Background()))
	}
}

func TestLoopStatesAndCleanup(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	var steps, cleanups atomic.Int32
	loop := &Loop{Name: "test"}
	loop.Step = func(ctx context.Context) error {
		assert.Equal(t, Running, loop.State())
		if steps.Add(1) == 5 {
			cancel()
		}
		return nil
	}
	loop.Cleanup = func() error {
		assert.Equal(t, Stopping, loop.State())
		cleanups.Add(1)
		return nil
	}

	require.NoError(t, loop.Run(ctx))
	assert.Equal(t, int32(5), steps.Load())
	assert.Equal(t, int32(1), cleanups.Load())
	assert.Equal(t, Stopped, loop.State())
	assert.Error(t, loop.Run(context.Background()), "a loop runs once")
}

func TestLoopStepOutcomes(t *testing.T) {
	t.Parallel()

	boom := errors.New("device gone")
	cases := []struct {
		name    string
		results []error
		wantErr error
		steps   int
	}{
		{name: "fatal", results: []error{nil, boom}, wantErr: boom, steps: 2},
		{name: "skip then eof", results: []error{errSkip, errSkip, io.EOF}, steps: 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			i := 0
			cleaned := false
			loop := &Loop{
				Name: tc.name,
				Step: func(context.Context) error {
					err := tc.results[i]
					i++
					return err
				},
				Cleanup: func() error { cleaned = true; return nil },
			}
			err := loop.Run(context.Background())
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tc.steps, i)
			assert.True(t, cleaned)
			assert.Equal(t, Stopped, loop.State())
		})
	}
}

func TestShowPresentsAndRestores(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{cols: 8, rows: 2}
	feed := device.NewFeed("test")
	stats := &Stats{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- Show(ctx, feed, sink, asciiRenderer(), Options{FPS: 100, Stats: stats})
	}()

	feed.Push(solid(16, 8, 0))
	require.Eventually(t, func() bool { return sink.presented() > 0 }, 2*time.Second, 5*time.Millisecond)
	// 8 cols in double mode is a 4x2 grid of doubled glyphs
	assert.Len(t, sink.last(), 2*4*2+1)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Show did not stop")
	}
	assert.Equal(t, 1, sink.entered)
	assert.Equal(t, 1, sink.cleared)
	assert.Equal(t, 1, sink.restored)
	assert.GreaterOrEqual(t, stats.Produced.Load(), uint64(1))
}

func TestShowCaptureErrorIsFatal(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{cols: 8, rows: 2}
	feed := device.NewFeed("cam")
	boom := errors.New("unplugged")
	feed.Fail(boom)

	err := Show(context.Background(), feed, sink, asciiRenderer(), Options{})
	var capErr *device.CaptureError
	require.ErrorAs(t, err, &capErr)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, sink.cleared)
	assert.Equal(t, 1, sink.restored)
}

func TestShowEnterFailureStillRestores(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{enterErr: errors.New("not a tty")}
	err := Show(context.Background(), device.NewFeed("x"), sink, asciiRenderer(), Options{})
	require.Error(t, err)
	assert.Equal(t, 1, sink.restored)
	assert.Equal(t, 0, sink.presented())
}

type scriptedReceiver struct {
	mu    sync.Mutex
	steps []func() (codec.Frame, error)
}

func (r *scriptedReceiver) Receive(ctx context.Context) (codec.Frame, error) {
	r.mu.Lock()
	if len(r.steps) > 0 {
		step := r.steps[0]
		r.steps = r.steps[1:]
		r.mu.Unlock()
		return step()
	}
	r.mu.Unlock()
	<-ctx.Done()
	return codec.Frame{}, ctx.Err()
}

func twoByTwo() codec.Frame {
	return codec.Frame{Size: codec.Size{Width: 2, Height: 2}, Pixels: []codec.Pixel{
		{Grey: 0}, {Grey: 255}, {Grey: 0}, {Grey: 255},
	}}
}

func TestWatchSkipsTimeoutsAndBadPayloads(t *testing.T) {
	t.Parallel()

	recv := &scriptedReceiver{steps: []func() (codec.Frame, error){
		func() (codec.Frame, error) { return codec.Frame{}, timeoutErr{} },
		func() (codec.Frame, error) { return codec.Decode([]byte{0, 1}) },
		func() (codec.Frame, error) { return twoByTwo(), nil },
	}}
	sink := &fakeSink{}
	stats := &Stats{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := asciiRenderer()
	r.Double = false
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, recv, sink, r, Options{Stats: stats}) }()

	require.Eventually(t, func() bool { return sink.presented() > 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, ":#\n:#", string(sink.last()), "unknown terminal size keeps the sender's grid")
	assert.Equal(t, uint64(1), stats.Timeouts.Load())
	assert.Equal(t, uint64(1), stats.DecodeErrors.Load())

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 1, sink.restored)
}

func TestWatchAbortOnDecodeError(t *testing.T) {
	t.Parallel()

	recv := &scriptedReceiver{steps: []func() (codec.Frame, error){
		func() (codec.Frame, error) { return codec.Decode([]byte{0, 2, 0, 2, 1}) },
	}}
	sink := &fakeSink{}
	err := Watch(context.Background(), recv, sink, asciiRenderer(), Options{OnDecodeError: DecodeAbort})
	var decErr *codec.DecodeError
	require.ErrorAs(t, err, &decErr)
	assert.Equal(t, 1, sink.restored)
}

func TestWatchResizesToViewport(t *testing.T) {
	t.Parallel()

	recv := &scriptedReceiver{steps: []func() (codec.Frame, error){
		func() (codec.Frame, error) { return twoByTwo(), nil },
	}}
	sink := &fakeSink{cols: 4, rows: 1}
	r := asciiRenderer()
	r.Double = false
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, recv, sink, r, Options{}) }()

	require.Eventually(t, func() bool { return sink.presented() > 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "::##", string(sink.last()))
	cancel()
	require.NoError(t, <-done)
}

type steadyReceiver struct{ calls atomic.Int64 }

func (r *steadyReceiver) Receive(context.Context) (codec.Frame, error) {
	r.calls.Add(1)
	return twoByTwo(), nil
}

func TestWatchHonoursFrameRate(t *testing.T) {
	t.Parallel()

	const fps = 10
	window := 500 * time.Millisecond
	recv := &steadyReceiver{}
	stats := &Stats{}
	ctx, cancel := context.WithTimeout(context.Background(), window)
	defer cancel()

	err := Watch(ctx, recv, &fakeSink{}, asciiRenderer(), Options{FPS: fps, Stats: stats})
	require.NoError(t, err)
	limit := int64(fps*window.Seconds()) + 1
	assert.LessOrEqual(t, recv.calls.Load(), limit, "a ready receiver is still paced")
	assert.LessOrEqual(t, int64(stats.Produced.Load()), limit)
	assert.GreaterOrEqual(t, stats.Produced.Load(), uint64(2))
}

type collectSender struct {
	mu     sync.Mutex
	frames []codec.Frame
	fail   error
}

func (s *collectSender) Send(f codec.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.frames = append(s.frames, f)
	return nil
}

func TestSendUsesStreamSize(t *testing.T) {
	t.Parallel()

	feed := device.NewFeed("test")
	feed.Push(solid(128, 96, 100))
	require.NoError(t, feed.Close())

	sender := &collectSender{}
	stats := &Stats{}
	require.NoError(t, Send(context.Background(), feed, sender, Options{FPS: 1000, Stats: stats}))

	require.Len(t, sender.frames, 1)
	f := sender.frames[0]
	assert.Equal(t, DefaultStreamSize, f.Size)
	assert.Equal(t, uint8(140), f.Pixels[0].R)
	assert.Equal(t, uint64(1), stats.Sent.Load())
	assert.Equal(t, uint64(codec.EncodedLen(f.Size)), stats.SentBytes.Load())
}

func TestZeroImagingKeepsPixels(t *testing.T) {
	t.Parallel()

	feed := device.NewFeed("test")
	feed.Push(solid(8, 8, 100))
	require.NoError(t, feed.Close())

	sender := &collectSender{}
	size := codec.Size{Width: 4, Height: 4}
	require.NoError(t, Send(context.Background(), feed, sender, Options{FPS: 1000, StreamSize: size, Imaging: &imaging.Options{}}))

	require.Len(t, sender.frames, 1)
	for _, p := range sender.frames[0].Pixels {
		assert.Equal(t, codec.Pixel{R: 100, G: 100, B: 100, Grey: 100}, p)
	}
	assert.Equal(t, DefaultFPS, Options{}.withDefaults().FPS)
	assert.Equal(t, imaging.DefaultOptions(), *Options{}.withDefaults().Imaging)
}

func TestSendTimeoutDropsFrame(t *testing.T) {
	t.Parallel()

	feed := device.NewFeed("test")
	feed.Push(solid(4, 4, 1))
	require.NoError(t, feed.Close())

	stats := &Stats{}
	sender := &collectSender{fail: timeoutErr{}}
	require.NoError(t, Send(context.Background(), feed, sender, Options{Stats: stats}))
	assert.Equal(t, uint64(1), stats.Timeouts.Load())

	feed = device.NewFeed("test")
	feed.Push(solid(4, 4, 1))
	sender = &collectSender{fail: errors.New("network unreachable")}
	assert.Error(t, Send(context.Background(), feed, sender, Options{}))
}

type memWriter struct{ frames []codec.Frame }

func (w *memWriter) WriteFrame(f codec.Frame) error {
	w.frames = append(w.frames, f)
	return nil
}

func TestRecordWritesStreamFrames(t *testing.T) {
	t.Parallel()

	feed := device.NewFeed("test")
	feed.Push(solid(10, 10, 5))
	require.NoError(t, feed.Close())

	w := &memWriter{}
	require.NoError(t, Record(context.Background(), feed, w, Options{StreamSize: codec.Size{Width: 5, Height: 5}}))
	require.Len(t, w.frames, 1)
	assert.Equal(t, codec.Size{Width: 5, Height: 5}, w.frames[0].Size)
}

func TestParseDecodePolicy(t *testing.T) {
	t.Parallel()

	p, err := ParseDecodePolicy("")
	require.NoError(t, err)
	assert.Equal(t, DecodeSkip, p)
	p, err = ParseDecodePolicy("ABORT")
	require.NoError(t, err)
	assert.Equal(t, DecodeAbort, p)
	_, err = ParseDecodePolicy("retry")
	assert.Error(t, err)
}
