package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	arg "github.com/alexflint/go-arg"

	"github.com/svanichkin/termfeed/conf"
	"github.com/svanichkin/termfeed/device"
	"github.com/svanichkin/termfeed/logs"
	"github.com/svanichkin/termfeed/network"
	"github.com/svanichkin/termfeed/network/rpc"
	"github.com/svanichkin/termfeed/network/udp"
	"github.com/svanichkin/termfeed/pipeline"
	"github.com/svanichkin/termfeed/record"
)

const meshTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "[termfeed] %v\n", err)
		os.Exit(1)
	}
}

func run() (err error) {
	opts, err := conf.Parse(os.Args[1:], os.Stdout)
	if err != nil {
		if errors.Is(err, arg.ErrHelp) || errors.Is(err, arg.ErrVersion) {
			return nil
		}
		return err
	}

	logFile, err := openLog(opts.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[termfeed] log file disabled (%v)\n", err)
	} else {
		defer logFile.Close()
	}
	var logOut io.Writer = io.Discard
	if logFile != nil {
		logOut = logFile
	}
	logs.Init(opts.Verbose, logOut)
	defer logs.Sync()
	log.SetOutput(logs.Writer("[std] "))
	log.SetFlags(0)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logs.Printf("[termfeed] %s (config %s)", opts.Command(), opts.ConfigPath)
	defer func() {
		if err != nil {
			logs.Errorf("[termfeed] %s: %v", opts.Command(), err)
		}
	}()

	switch {
	case opts.Show != nil:
		return runShow(ctx, opts)
	case opts.Send != nil:
		return runSend(ctx, opts)
	case opts.Receive != nil:
		return runReceive(ctx, opts)
	case opts.Serve != nil:
		return runServe(ctx, opts)
	case opts.Watch != nil:
		return runWatch(ctx, opts)
	case opts.Record != nil:
		return runRecord(ctx, opts)
	}
	return errors.New("missing command")
}

func openLog(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

func openSource(ctx context.Context, opts *conf.Options, src *conf.SourceArgs) (device.Source, pipeline.Options, error) {
	s, err := device.Open(ctx, src.Source, src.DeviceOptions())
	if err != nil {
		return nil, pipeline.Options{}, err
	}
	po := opts.Pipeline()
	if po.FPS == 0 {
		po.FPS = device.DefaultFPS(s.Name())
	}
	return s, po, nil
}

func terminal(opts *conf.Options) *device.Terminal {
	return device.NewTerminal(os.Stdout, device.ParseProfile(opts.Profile))
}

func runShow(ctx context.Context, opts *conf.Options) error {
	term := terminal(opts)
	if !term.IsTerminal() {
		return device.ErrNotTerminal
	}
	r, err := opts.Renderer(term.Profile())
	if err != nil {
		return err
	}
	src, po, err := openSource(ctx, opts, &opts.Show.SourceArgs)
	if err != nil {
		return err
	}
	return pipeline.Show(ctx, src, term, r, po)
}

// packetConn binds the UDP socket, on the mesh when asked. The returned
// cleanup closes everything that was opened.
func packetConn(ctx context.Context, opts *conf.Options, mesh bool, port int) (net.PacketConn, func(), error) {
	if !mesh {
		pc, err := udp.Listen(port)
		if err != nil {
			return nil, nil, err
		}
		return pc, func() { pc.Close() }, nil
	}
	m, err := network.SetupMesh(opts.Verbose, filepath.Join(filepath.Dir(opts.ConfigPath), "mesh.json"))
	if err != nil {
		return nil, nil, err
	}
	if err := m.WaitOnline(ctx, meshTimeout); err != nil {
		m.Close()
		return nil, nil, err
	}
	pc, err := m.ListenUDP(port)
	if err != nil {
		m.Close()
		return nil, nil, err
	}
	fmt.Fprintf(os.Stderr, "[termfeed] mesh address %s\n", network.PrettyAddr(m.Addr, port))
	var once sync.Once
	return pc, func() {
		once.Do(func() {
			pc.Close()
			m.Close()
		})
	}, nil
}

func runSend(ctx context.Context, opts *conf.Options) error {
	remote, err := network.ResolveUDP(opts.Send.Peer, network.DefaultPort)
	if err != nil {
		return err
	}
	pc, closeConn, err := packetConn(ctx, opts, opts.Send.Mesh, opts.Send.Listen)
	if err != nil {
		return err
	}
	defer closeConn()
	src, po, err := openSource(ctx, opts, &opts.Send.SourceArgs)
	if err != nil {
		return err
	}
	logs.Printf("[udp] sending to %s", remote)
	return pipeline.Send(ctx, src, udp.NewSender(pc, remote), po)
}

func runReceive(ctx context.Context, opts *conf.Options) error {
	var peer *net.UDPAddr
	if opts.Receive.Peer != "" {
		var err error
		if peer, err = network.ResolveUDP(opts.Receive.Peer, network.DefaultPort); err != nil {
			return err
		}
	}
	term := terminal(opts)
	if !term.IsTerminal() {
		return device.ErrNotTerminal
	}
	r, err := opts.Renderer(term.Profile())
	if err != nil {
		return err
	}
	pc, closeConn, err := packetConn(ctx, opts, opts.Receive.Mesh, opts.Receive.Listen)
	if err != nil {
		return err
	}
	defer closeConn()
	// unblocks a pending read on shutdown
	go func() {
		<-ctx.Done()
		closeConn()
	}()
	po := opts.Pipeline()
	return pipeline.Watch(ctx, udp.NewReceiver(pc, peer, po.Timeout), term, r, po)
}

func runServe(ctx context.Context, opts *conf.Options) error {
	src, po, err := openSource(ctx, opts, &opts.Serve.SourceArgs)
	if err != nil {
		return err
	}
	hub := rpc.NewHub(src, po)
	srv := rpc.NewServer(hub)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	hubErr := make(chan error, 1)
	go func() {
		defer cancel()
		hubErr <- hub.Run(ctx)
	}()
	fmt.Fprintf(os.Stderr, "[termfeed] serving on %s\n", opts.Serve.Addr)
	if err := srv.ListenAndServe(ctx, opts.Serve.Addr); err != nil {
		cancel()
		<-hubErr
		return err
	}
	return <-hubErr
}

func runWatch(ctx context.Context, opts *conf.Options) error {
	term := terminal(opts)
	if !term.IsTerminal() {
		return device.ErrNotTerminal
	}
	r, err := opts.Renderer(term.Profile())
	if err != nil {
		return err
	}
	po := opts.Pipeline()
	c, err := rpc.Dial(ctx, opts.Watch.URL, po.Timeout)
	if err != nil {
		return err
	}
	defer c.Close()
	return pipeline.Watch(ctx, c, term, r, po)
}

func runRecord(ctx context.Context, opts *conf.Options) error {
	path := opts.Record.Out
	if path == "" {
		path = "."
	}
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		path = record.NewName(path)
	}
	w, err := record.Create(path)
	if err != nil {
		return err
	}
	defer w.Close()
	src, po, err := openSource(ctx, opts, &opts.Record.SourceArgs)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "[termfeed] recording to %s\n", path)
	if err := pipeline.Record(ctx, src, w, po); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "[termfeed] %d frames written\n", w.Frames())
	return nil
}
