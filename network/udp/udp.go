// Package udp moves encoded frames as single datagrams. Delivery is best
// effort: no acknowledgement, no retransmission, no reordering protection.
package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/svanichkin/termfeed/codec"
	"github.com/svanichkin/termfeed/logs"
	"github.com/svanichkin/termfeed/network"
)

// DefaultWriteTimeout bounds a single datagram write.
const DefaultWriteTimeout = 200 * time.Millisecond

// ErrTimeout is returned by Receive when no datagram arrived in time.
var ErrTimeout = network.ErrTimeout

// Listen binds a UDP socket on all interfaces. Port 0 picks a free port.
func Listen(port int) (net.PacketConn, error) {
	addr := ":" + strconv.Itoa(port)
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, &network.TransportError{Op: "listen", Addr: addr, Err: err}
	}
	logs.LogV("[udp] bound on %s", pc.LocalAddr())
	return pc, nil
}

// Sender writes one encoded frame per datagram to a fixed remote.
type Sender struct {
	pc           net.PacketConn
	remote       net.Addr
	writeTimeout time.Duration
	buf          []byte
}

// NewSender sends through pc to remote. pc stays owned by the caller.
func NewSender(pc net.PacketConn, remote net.Addr) *Sender {
	return &Sender{
		pc:           pc,
		remote:       remote,
		writeTimeout: DefaultWriteTimeout,
		buf:          make([]byte, 0, codec.MaxPayload),
	}
}

// Remote returns the destination address.
func (s *Sender) Remote() net.Addr { return s.remote }

// Send encodes f and writes it. Frames larger than one datagram are rejected
// with codec.ErrFrameTooLarge; a write timeout returns ErrTimeout.
func (s *Sender) Send(f codec.Frame) error {
	buf, err := codec.AppendEncode(s.buf[:0], f)
	if err != nil {
		return err
	}
	s.buf = buf
	if s.writeTimeout > 0 {
		_ = s.pc.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	if _, err := s.pc.WriteTo(buf, s.remote); err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			logs.LogV("[udp] write timeout: %v", err)
			return fmt.Errorf("write %s: %w", s.remote, ErrTimeout)
		}
		return &network.TransportError{Op: "write", Addr: s.remote.String(), Err: err}
	}
	return nil
}

// Receiver reads frames with a bounded wait. Datagrams from anyone other than
// the peer are ignored; without a configured peer the first sender is adopted.
type Receiver struct {
	pc      net.PacketConn
	timeout time.Duration
	buf     []byte

	peerMu sync.Mutex
	peer   *net.UDPAddr
}

// NewReceiver reads from pc. remote may be nil to learn the peer from the
// first datagram. A non-positive timeout defaults to one second.
func NewReceiver(pc net.PacketConn, remote *net.UDPAddr, timeout time.Duration) *Receiver {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &Receiver{pc: pc, peer: remote, timeout: timeout, buf: make([]byte, 65535)}
}

// Peer returns the address frames are accepted from, nil until learned.
func (r *Receiver) Peer() *net.UDPAddr {
	r.peerMu.Lock()
	defer r.peerMu.Unlock()
	return r.peer
}

func (r *Receiver) accept(from net.Addr) bool {
	ua, ok := from.(*net.UDPAddr)
	if !ok {
		return true
	}
	r.peerMu.Lock()
	defer r.peerMu.Unlock()
	if r.peer == nil {
		r.peer = ua
		logs.Printf("[udp] peer set to %s", ua)
		return true
	}
	// Ignore packets from unexpected peers.
	return ua.IP.Equal(r.peer.IP) && ua.Port == r.peer.Port
}

// Receive waits up to the configured timeout for a frame from the peer. It
// returns ErrTimeout when none arrives, or a *codec.DecodeError for a
// malformed payload.
func (r *Receiver) Receive(ctx context.Context) (codec.Frame, error) {
	deadline := time.Now().Add(r.timeout)
	for {
		if err := ctx.Err(); err != nil {
			return codec.Frame{}, err
		}
		_ = r.pc.SetReadDeadline(deadline)
		n, from, err := r.pc.ReadFrom(r.buf)
		if err != nil {
			var ne net.Error
			switch {
			case errors.As(err, &ne) && ne.Timeout():
				return codec.Frame{}, ErrTimeout
			case errors.Is(err, net.ErrClosed) && ctx.Err() != nil:
				return codec.Frame{}, ctx.Err()
			default:
				return codec.Frame{}, &network.TransportError{Op: "read", Addr: r.pc.LocalAddr().String(), Err: err}
			}
		}
		if !r.accept(from) {
			logs.LogV("[udp] ignore datagram from %s", from)
			continue
		}
		return codec.Decode(r.buf[:n])
	}
}
