// Package network holds addressing helpers shared by the transports and the
// optional Yggdrasil mesh node.
package network

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DefaultPort is the UDP port frames are sent to when a target names no port.
const DefaultPort = 7777

type timeoutError struct{}

func (timeoutError) Error() string   { return "timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// ErrTimeout means no frame arrived (or could be written) in time. It is not
// fatal: the caller retries on its next iteration.
var ErrTimeout error = timeoutError{}

// TransportError reports a failure to bind or reach a transport endpoint.
type TransportError struct {
	Op   string
	Addr string
	Err  error
}

func (e *TransportError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// PrettyAddr formats an IPv4/IPv6 host and port string safely, adding brackets
// around IPv6 addresses when required so that host:port parsing remains valid.
func PrettyAddr(host string, port int) string {
	return net.JoinHostPort(strings.Trim(host, "[]"), strconv.Itoa(port))
}

// ParseTarget parses a target string and returns (host, port).
// Supported forms:
//  1. Raw IPv6 without port: "200:...:..."         → (host, defPort)
//  2. Bracketed IPv6 with port: "[200:...]:9999"   → (host, 9999)
//  3. Hostname/IPv4 without port: "host"           → (host, defPort)
//  4. Hostname/IPv4 with port: "host:1234"         → (host, 1234)
//
// For IPv6 with a port, brackets are required.
func ParseTarget(raw string, defPort int) (string, int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", 0, fmt.Errorf("empty target")
	}
	if strings.HasPrefix(s, "[") {
		if h, p, err := net.SplitHostPort(s); err == nil {
			pi, err := parsePort(p)
			if err != nil {
				return "", 0, err
			}
			return h, pi, nil
		}
		return strings.Trim(s, "[]"), defPort, nil
	}
	if strings.Count(s, ":") == 1 {
		h, p, err := net.SplitHostPort(s)
		if err != nil {
			return "", 0, fmt.Errorf("bad target %q: %w", raw, err)
		}
		pi, err := parsePort(p)
		if err != nil {
			return "", 0, err
		}
		return h, pi, nil
	}
	return s, defPort, nil
}

func parsePort(p string) (int, error) {
	pi, err := strconv.Atoi(p)
	if err != nil || pi <= 0 || pi > 65535 {
		return 0, fmt.Errorf("bad port %q", p)
	}
	return pi, nil
}

// ResolveUDP resolves a target into a UDP address.
func ResolveUDP(raw string, defPort int) (*net.UDPAddr, error) {
	host, port, err := ParseTarget(raw, defPort)
	if err != nil {
		return nil, &TransportError{Op: "resolve", Addr: raw, Err: err}
	}
	addr, err := net.ResolveUDPAddr("udp", PrettyAddr(host, port))
	if err != nil {
		return nil, &TransportError{Op: "resolve", Addr: raw, Err: err}
	}
	return addr, nil
}
