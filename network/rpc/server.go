package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/svanichkin/termfeed/logs"
	"github.com/svanichkin/termfeed/network"
)

const (
	// ConnectPath streams binary frame payloads, one per websocket message.
	ConnectPath = "/connect"
	HealthPath  = "/healthz"

	writeWait  = 2 * time.Second
	pingPeriod = 25 * time.Second
)

// Server serves a hub's stream.
type Server struct {
	hub      *Hub
	upgrader websocket.Upgrader
	router   *mux.Router
}

// NewServer routes the connect stream and the health check for hub.
func NewServer(hub *Hub) *Server {
	s := &Server{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 << 10,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		router: mux.NewRouter(),
	}
	s.router.HandleFunc(ConnectPath, s.handleConnect).Methods(http.MethodGet)
	s.router.HandleFunc(HealthPath, s.handleHealth).Methods(http.MethodGet)
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

type health struct {
	Running     bool   `json:"running"`
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	status := http.StatusOK
	if !s.hub.Running() {
		status = http.StatusServiceUnavailable
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(health{
		Running:     s.hub.Running(),
		Subscribers: s.hub.Subscribers(),
		Published:   s.hub.Published(),
	})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logs.Warnf("[rpc] upgrade %s: %v", r.RemoteAddr, err)
		return
	}
	defer conn.Close()

	sub := s.hub.Subscribe()
	defer s.hub.Unsubscribe(sub.ID)
	logs.Printf("[rpc] connect from %s as %s", r.RemoteAddr, sub.ID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// the client never sends frames; reading only notices it going away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	frames := make(chan []byte)
	go func() {
		defer close(frames)
		for {
			p, err := sub.Next(ctx)
			if err != nil {
				return
			}
			select {
			case frames <- p:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case p, ok := <-frames:
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				logs.LogV("[rpc] %s done, %d frames dropped", sub.ID, sub.Drops())
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
				logs.LogV("[rpc] %s send: %v", sub.ID, err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// ListenAndServe serves s on addr until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return &network.TransportError{Op: "listen", Addr: addr, Err: err}
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx ends or ln fails. It returns only
// after the shutdown watcher has exited.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	served := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		case <-served:
		}
	}()
	logs.Printf("[rpc] listening on %s", ln.Addr())
	err := srv.Serve(ln)
	close(served)
	<-stopped
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return &network.TransportError{Op: "serve", Addr: ln.Addr().String(), Err: err}
	}
	return nil
}
