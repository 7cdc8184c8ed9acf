package network

import (
	"context"
	"fmt"
	"net"
	"time"

	ygg "github.com/svanichkin/Ygg"

	"github.com/svanichkin/termfeed/logs"
)

// maxMeshPeers caps the public peers the embedded node keeps.
const maxMeshPeers = 100

// Mesh is a running embedded Yggdrasil node.
type Mesh struct {
	node   *ygg.Node
	online chan struct{}
	Addr   string
}

// SetupMesh starts an embedded Yggdrasil node from cfgPath (created on first
// use) so frames can travel over the mesh by IPv6 address.
func SetupMesh(verbose bool, cfgPath string) (*Mesh, error) {
	logs.Printf("[mesh] loading %s", cfgPath)
	m := &Mesh{online: make(chan struct{}, 1)}
	ygg.SetVerbose(verbose)
	ygg.SetMaxPeers(maxMeshPeers)
	ygg.SetConnectivityHandler(func(connected bool) {
		if !connected {
			logs.LogV("[mesh] offline %s", m.Addr)
			return
		}
		logs.LogV("[mesh] online %s", m.Addr)
		select {
		case m.online <- struct{}{}:
		default:
		}
	})

	node, err := ygg.New(cfgPath)
	if err != nil {
		return nil, &TransportError{Op: "mesh", Addr: cfgPath, Err: err}
	}
	m.node = node
	m.Addr = node.Core.Address().String()
	logs.Printf("[mesh] address %s", m.Addr)
	return m, nil
}

// WaitOnline blocks until the node reports connectivity, ctx ends or timeout
// passes.
func (m *Mesh) WaitOnline(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-m.online:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return &TransportError{Op: "mesh", Addr: m.Addr, Err: fmt.Errorf("no connectivity after %v", timeout)}
	}
}

// ListenUDP binds a UDP socket on the mesh interface.
func (m *Mesh) ListenUDP(port int) (net.PacketConn, error) {
	pc, err := ygg.ListenUDP(port)
	if err != nil {
		return nil, &TransportError{Op: "listen mesh", Addr: PrettyAddr(m.Addr, port), Err: err}
	}
	return pc, nil
}

func (m *Mesh) Close() error {
	if m == nil || m.node == nil {
		return nil
	}
	m.node.Close()
	return nil
}
