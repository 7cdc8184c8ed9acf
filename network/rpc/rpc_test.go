package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svanichkin/termfeed/codec"
	"github.com/svanichkin/termfeed/device"
	"github.com/svanichkin/termfeed/imaging"
	"github.com/svanichkin/termfeed/network"
	"github.com/svanichkin/termfeed/pipeline"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, 255
	}
	return img
}

type running struct {
	hub  *Hub
	feed *device.Feed
	srv  *httptest.Server
	done chan error
}

func startHub(t *testing.T) *running {
	t.Helper()
	feed := device.NewFeed("test")
	hub := NewHub(feed, pipeline.Options{FPS: 200, StreamSize: codec.Size{Width: 20, Height: 10}})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()
	srv := httptest.NewServer(NewServer(hub).Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	require.Eventually(t, hub.Running, time.Second, 5*time.Millisecond)
	return &running{hub: hub, feed: feed, srv: srv, done: done}
}

func TestStreamURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"localhost:8080":             "ws://localhost:8080/connect",
		"http://127.0.0.1:9000":      "ws://127.0.0.1:9000/connect",
		"https://feed.example/":      "wss://feed.example/connect",
		"ws://[200::1]:7777/connect": "ws://[200::1]:7777/connect",
	}
	for in, want := range cases {
		got, err := StreamURL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	for _, bad := range []string{"", "ftp://host", "ws://"} {
		_, err := StreamURL(bad)
		assert.Error(t, err, bad)
	}
}

func TestSubscriberReceivesFrames(t *testing.T) {
	t.Parallel()

	h := startHub(t)
	c, err := Dial(context.Background(), h.srv.URL, 50*time.Millisecond)
	require.NoError(t, err)
	defer c.Close()
	require.Eventually(t, func() bool { return h.hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	var got codec.Frame
	require.Eventually(t, func() bool {
		h.feed.Push(solid(40, 20, color.RGBA{R: 200, G: 10, B: 10}))
		f, err := c.Receive(context.Background())
		if err != nil {
			return false
		}
		got = f
		return true
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, codec.Size{Width: 20, Height: 10}, got.Size)
	require.Len(t, got.Pixels, 200)
	assert.Greater(t, got.Pixels[0].R, got.Pixels[0].G)
	assert.NotZero(t, h.hub.Published())
}

func TestReceiveTimesOutWithoutFrames(t *testing.T) {
	t.Parallel()

	h := startHub(t)
	c, err := Dial(context.Background(), h.srv.URL, 30*time.Millisecond)
	require.NoError(t, err)
	defer c.Close()

	for i := 0; i < 2; i++ {
		_, err = c.Receive(context.Background())
		assert.ErrorIs(t, err, network.ErrTimeout)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Receive(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStreamEndsWhenSourceEnds(t *testing.T) {
	t.Parallel()

	h := startHub(t)
	c, err := Dial(context.Background(), h.srv.URL, time.Second)
	require.NoError(t, err)
	defer c.Close()
	require.Eventually(t, func() bool { return h.hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	h.feed.Close()
	require.NoError(t, <-h.done)
	h.done <- nil
	assert.False(t, h.hub.Running())
	assert.Zero(t, h.hub.Subscribers())

	var last error
	require.Eventually(t, func() bool {
		_, last = c.Receive(context.Background())
		return !errors.Is(last, network.ErrTimeout)
	}, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, last, io.EOF)
}

func TestCaptureFailureStopsHub(t *testing.T) {
	t.Parallel()

	h := startHub(t)
	sub := h.hub.Subscribe()
	h.feed.Fail(errors.New("unplugged"))

	err := <-h.done
	h.done <- nil
	var ce *device.CaptureError
	require.ErrorAs(t, err, &ce)

	_, err = sub.Next(context.Background())
	assert.ErrorIs(t, err, ErrHubStopped)

	late := h.hub.Subscribe()
	_, err = late.Next(context.Background())
	assert.ErrorIs(t, err, ErrHubStopped)
}

func TestSlowSubscriberOnlyKeepsNewest(t *testing.T) {
	t.Parallel()

	h := startHub(t)
	sub := h.hub.Subscribe()
	defer h.hub.Unsubscribe(sub.ID)

	var last *image.RGBA
	for i := 0; i < 3; i++ {
		before := h.hub.Published()
		last = solid(4, 4, color.RGBA{G: uint8(60 * (i + 1))})
		h.feed.Push(last)
		require.Eventually(t, func() bool { return h.hub.Published() > before }, time.Second, time.Millisecond)
	}
	want, err := imaging.Preprocess(last, codec.Size{Width: 20, Height: 10}, true, imaging.DefaultOptions())
	require.NoError(t, err)

	// older payloads may still be queued until the last dispatch lands
	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		p, err := sub.Next(ctx)
		if err != nil {
			return false
		}
		f, err := codec.Decode(p)
		return err == nil && f.Pixels[0] == want.Pixels[0]
	}, time.Second, 5*time.Millisecond)
	assert.LessOrEqual(t, sub.Drops(), uint64(2))
}

func TestHubImagingDefaults(t *testing.T) {
	t.Parallel()

	h := NewHub(device.NewFeed("test"), pipeline.Options{})
	assert.Equal(t, imaging.DefaultOptions(), *h.opts.Imaging)

	h = NewHub(device.NewFeed("test"), pipeline.Options{Imaging: &imaging.Options{}})
	assert.Equal(t, imaging.Options{}, *h.opts.Imaging)
}

func TestHealth(t *testing.T) {
	t.Parallel()

	h := startHub(t)
	resp, err := http.Get(h.srv.URL + HealthPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body health
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Running)
	assert.Zero(t, body.Subscribers)
}

func TestClientCloseUnsubscribes(t *testing.T) {
	t.Parallel()

	h := startHub(t)
	c, err := Dial(context.Background(), h.srv.URL, 50*time.Millisecond)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Close())
	require.Eventually(t, func() bool { return h.hub.Subscribers() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, h.hub.Running(), "one client leaving keeps the hub up")

	other, err := Dial(context.Background(), h.srv.URL, 50*time.Millisecond)
	require.NoError(t, err)
	defer other.Close()
	require.Eventually(t, func() bool { return h.hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
}

type brokenListener struct{}

func (brokenListener) Accept() (net.Conn, error) { return nil, errors.New("listener broken") }
func (brokenListener) Close() error              { return nil }
func (brokenListener) Addr() net.Addr            { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)} }

func TestServeReturnsWhenListenerFails(t *testing.T) {
	t.Parallel()

	srv := NewServer(NewHub(device.NewFeed("test"), pipeline.Options{}))
	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background(), brokenListener{}) }()

	select {
	case err := <-done:
		var te *network.TransportError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, "serve", te.Op)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve kept waiting on a context that never ends")
	}
}

func TestServeStopsWithContext(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := NewServer(NewHub(device.NewFeed("test"), pipeline.Options{}))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + HealthPath)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusServiceUnavailable
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not stop")
	}
}

func TestDialRefused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	_, err := Dial(context.Background(), srv.URL, time.Second)
	var te *network.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "dial", te.Op)
}
