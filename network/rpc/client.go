package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/svanichkin/termfeed/codec"
	"github.com/svanichkin/termfeed/logs"
	"github.com/svanichkin/termfeed/network"
)

// Client reads a hub's stream. It satisfies pipeline.FrameReceiver.
type Client struct {
	conn    *websocket.Conn
	timeout time.Duration

	msgs chan []byte
	done chan struct{}

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
}

// StreamURL turns host[:port], http(s):// or ws(s):// input into the
// websocket address of the connect endpoint.
func StreamURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty address")
	}
	if !strings.Contains(raw, "://") {
		raw = "ws://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host in %q", raw)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = ConnectPath
	}
	return u.String(), nil
}

// Dial connects to a stream server. A non-positive timeout defaults to one
// second and bounds each Receive.
func Dial(ctx context.Context, raw string, timeout time.Duration) (*Client, error) {
	addr, err := StreamURL(raw)
	if err != nil {
		return nil, &network.TransportError{Op: "dial", Addr: raw, Err: err}
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, addr, nil)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			err = fmt.Errorf("%w (http %d)", err, resp.StatusCode)
		}
		return nil, &network.TransportError{Op: "dial", Addr: addr, Err: err}
	}
	if timeout <= 0 {
		timeout = time.Second
	}
	c := &Client{
		conn:    conn,
		timeout: timeout,
		msgs:    make(chan []byte, 1),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	logs.Printf("[rpc] connected to %s", addr)
	return c, nil
}

// readLoop keeps only the newest payload when Receive falls behind.
func (c *Client) readLoop() {
	defer close(c.done)
	for {
		typ, p, err := c.conn.ReadMessage()
		if err != nil {
			c.setErr(err)
			return
		}
		if typ != websocket.BinaryMessage {
			continue
		}
		select {
		case c.msgs <- p:
		default:
			select {
			case <-c.msgs:
			default:
			}
			c.msgs <- p
		}
	}
}

func (c *Client) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		c.err = io.EOF
	default:
		c.err = &network.TransportError{Op: "read", Addr: c.conn.RemoteAddr().String(), Err: err}
	}
}

func (c *Client) readErr() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Receive waits for the next frame. It returns network.ErrTimeout when none
// arrived in time, io.EOF once the server ended the stream, and a
// *codec.DecodeError for a malformed payload.
func (c *Client) Receive(ctx context.Context) (codec.Frame, error) {
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case p := <-c.msgs:
		return codec.Decode(p)
	default:
	}
	select {
	case p := <-c.msgs:
		return codec.Decode(p)
	case <-c.done:
		select {
		case p := <-c.msgs:
			return codec.Decode(p)
		default:
		}
		return codec.Frame{}, c.readErr()
	case <-timer.C:
		return codec.Frame{}, network.ErrTimeout
	case <-ctx.Done():
		return codec.Frame{}, ctx.Err()
	}
}

// Close sends a close frame and drops the connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		err = c.conn.Close()
	})
	return err
}
