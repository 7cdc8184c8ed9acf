package conf

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	arg "github.com/alexflint/go-arg"
	"github.com/muesli/termenv"

	"github.com/svanichkin/termfeed/codec"
	"github.com/svanichkin/termfeed/device"
	"github.com/svanichkin/termfeed/network"
	"github.com/svanichkin/termfeed/pipeline"
	"github.com/svanichkin/termfeed/ui"
)

// Program is the binary name used in help output and default paths.
const Program = "termfeed"

// DefaultServeAddr is where `serve` listens when --addr is not given.
const DefaultServeAddr = ":8080"

// SourceArgs selects and tunes a capture source.
type SourceArgs struct {
	Source  string `arg:"-s,--source" default:"camera" help:"capture source: camera, v4l2, screen or replay"`
	Device  string `arg:"--device" help:"video device for the v4l2 source"`
	Display int    `arg:"--display" help:"display index for the screen source"`
	In      string `arg:"-i,--in" help:"recording played by the replay source"`
	Loop    bool   `arg:"--loop" help:"restart the replay at the end"`
}

// ShowCmd renders a local source into the terminal.
type ShowCmd struct {
	SourceArgs
}

// SendCmd streams a local source to a peer over UDP.
type SendCmd struct {
	SourceArgs
	Peer   string `arg:"-p,--peer,required" help:"receiver as host[:port]"`
	Listen int    `arg:"-l,--listen" help:"local UDP port, 0 picks one"`
	Mesh   bool   `arg:"--mesh" help:"send through an embedded Yggdrasil node"`
}

// ReceiveCmd displays frames arriving over UDP.
type ReceiveCmd struct {
	Listen int    `arg:"-l,--listen" help:"UDP port to receive on"`
	Peer   string `arg:"-p,--peer" help:"only accept frames from host[:port]; first sender otherwise"`
	Mesh   bool   `arg:"--mesh" help:"receive through an embedded Yggdrasil node"`
}

// ServeCmd publishes a local source to websocket subscribers.
type ServeCmd struct {
	SourceArgs
	Addr string `arg:"-a,--addr" help:"HTTP listen address"`
}

// WatchCmd displays a stream served by `serve`.
type WatchCmd struct {
	URL string `arg:"positional,required" help:"server as host:port or ws:// URL"`
}

// RecordCmd writes a local source to a recording file.
type RecordCmd struct {
	SourceArgs
	Out string `arg:"-o,--out" help:"output file or directory; a generated name is used for directories"`
}

// Options aggregates the CLI flags, merged with the config file by Parse.
type Options struct {
	Config        string        `arg:"-c,--config" help:"config file or profile name"`
	Verbose       bool          `arg:"-v,--verbose" help:"debug logging and per-second stats"`
	FPS           int           `arg:"--fps" help:"frame rate, 0 uses the source default"`
	Timeout       time.Duration `arg:"--timeout" help:"receive timeout"`
	Palette       string        `arg:"--palette" help:"glyphs from sparsest to densest"`
	Color         string        `arg:"--color" help:"draw every glyph in one hex colour"`
	Tint          string        `arg:"--tint" help:"colour filter preset"`
	Profile       string        `arg:"--profile" help:"colour profile: truecolor, ansi256, ansi or ascii"`
	Width         int           `arg:"--width" help:"stream width in cells"`
	Height        int           `arg:"--height" help:"stream height in cells"`
	OnDecodeError string        `arg:"--on-decode-error" help:"skip or abort on malformed frames"`
	LogFile       string        `arg:"--log-file" help:"log destination"`

	Show    *ShowCmd    `arg:"subcommand:show" help:"render a local source"`
	Send    *SendCmd    `arg:"subcommand:send" help:"stream a source to a UDP peer"`
	Receive *ReceiveCmd `arg:"subcommand:receive" help:"display a UDP stream"`
	Serve   *ServeCmd   `arg:"subcommand:serve" help:"publish a source to websocket clients"`
	Watch   *WatchCmd   `arg:"subcommand:watch" help:"display a websocket stream"`
	Record  *RecordCmd  `arg:"subcommand:record" help:"record a source to a file"`

	// ConfigPath is the resolved config file, set by Parse.
	ConfigPath string `arg:"-"`
}

// Description is shown at the top of --help.
func (Options) Description() string {
	return "termfeed renders camera and screen video as coloured text and streams it between terminals"
}

// Parse reads args (without the program name), merges the config file and
// validates the result. Help and version requests come back as arg.ErrHelp
// and arg.ErrVersion with the text already written to out.
func Parse(args []string, out io.Writer) (*Options, error) {
	var opts Options
	p, err := arg.NewParser(arg.Config{Program: Program}, &opts)
	if err != nil {
		return nil, err
	}
	if err := p.Parse(args); err != nil {
		switch {
		case errors.Is(err, arg.ErrHelp):
			_ = p.WriteHelpForSubcommand(out, p.SubcommandNames()...)
		case errors.Is(err, arg.ErrVersion):
			fmt.Fprintln(out, Program)
		}
		return nil, err
	}
	if p.Subcommand() == nil {
		p.WriteUsage(out)
		return nil, errors.New("missing command")
	}
	if err := opts.load(); err != nil {
		return nil, err
	}
	opts.applyDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &opts, nil
}

func (o *Options) load() error {
	path, err := resolveConfigPath(o.Config)
	if err != nil {
		return fmt.Errorf("config path: %w", err)
	}
	o.ConfigPath = path
	f, err := readFile(path, o.Config != "")
	if err != nil {
		return err
	}
	o.merge(f)
	return nil
}

// merge fills every option the command line left unset from f.
func (o *Options) merge(f File) {
	if o.Palette == "" {
		o.Palette = f.Palette
	}
	if o.FPS == 0 {
		o.FPS = f.FPS
	}
	if o.Timeout == 0 && f.TimeoutMS > 0 {
		o.Timeout = time.Duration(f.TimeoutMS) * time.Millisecond
	}
	if o.Width == 0 {
		o.Width = f.StreamWidth
	}
	if o.Height == 0 {
		o.Height = f.StreamHeight
	}
	if o.Color == "" {
		o.Color = f.Color
	}
	if o.Tint == "" {
		o.Tint = f.Tint
	}
	if o.Profile == "" {
		o.Profile = f.Profile
	}
	if o.OnDecodeError == "" {
		o.OnDecodeError = f.OnDecodeError
	}
	if o.LogFile == "" {
		o.LogFile = f.LogFile
	}
}

func (o *Options) applyDefaults() {
	if o.Palette == "" {
		o.Palette = codec.DefaultPalette
	}
	if o.Timeout == 0 {
		o.Timeout = pipeline.DefaultTimeout
	}
	if o.Width == 0 {
		o.Width = int(pipeline.DefaultStreamSize.Width)
	}
	if o.Height == 0 {
		o.Height = int(pipeline.DefaultStreamSize.Height)
	}
	if o.OnDecodeError == "" {
		o.OnDecodeError = pipeline.DecodeSkip.String()
	}
	if o.LogFile == "" {
		o.LogFile = defaultLogFile(o.ConfigPath)
	}
	if o.Receive != nil && o.Receive.Listen == 0 {
		o.Receive.Listen = network.DefaultPort
	}
	if o.Serve != nil && o.Serve.Addr == "" {
		o.Serve.Addr = DefaultServeAddr
	}
}

// Validate rejects option combinations that cannot run.
func (o *Options) Validate() error {
	if _, err := codec.ParsePalette(o.Palette); err != nil {
		return fmt.Errorf("palette: %w", err)
	}
	if o.FPS < 0 {
		return fmt.Errorf("fps must not be negative (got %d)", o.FPS)
	}
	if o.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative (got %s)", o.Timeout)
	}
	size, err := o.streamSize()
	if err != nil {
		return err
	}
	if size.Cells() > codec.MaxCells {
		return fmt.Errorf("stream size %s: %w", size, codec.ErrFrameTooLarge)
	}
	if _, err := o.Renderer(termenv.Ascii); err != nil {
		return err
	}
	if o.Profile != "" && device.ParseProfile(o.Profile) < 0 {
		return fmt.Errorf("unknown profile %q", o.Profile)
	}
	if _, err := pipeline.ParseDecodePolicy(o.OnDecodeError); err != nil {
		return err
	}
	for _, src := range o.sources() {
		if err := src.validate(); err != nil {
			return err
		}
	}
	if o.Send != nil {
		if _, _, err := network.ParseTarget(o.Send.Peer, network.DefaultPort); err != nil {
			return fmt.Errorf("peer: %w", err)
		}
		if o.Send.Listen < 0 || o.Send.Listen > 65535 {
			return fmt.Errorf("listen port %d out of range", o.Send.Listen)
		}
	}
	if o.Receive != nil {
		if o.Receive.Listen <= 0 || o.Receive.Listen > 65535 {
			return fmt.Errorf("listen port %d out of range", o.Receive.Listen)
		}
		if o.Receive.Peer != "" {
			if _, _, err := network.ParseTarget(o.Receive.Peer, network.DefaultPort); err != nil {
				return fmt.Errorf("peer: %w", err)
			}
		}
	}
	return nil
}

func (o *Options) sources() []*SourceArgs {
	var out []*SourceArgs
	switch {
	case o.Show != nil:
		out = append(out, &o.Show.SourceArgs)
	case o.Send != nil:
		out = append(out, &o.Send.SourceArgs)
	case o.Serve != nil:
		out = append(out, &o.Serve.SourceArgs)
	case o.Record != nil:
		out = append(out, &o.Record.SourceArgs)
	}
	return out
}

func (s *SourceArgs) validate() error {
	kind := strings.ToLower(strings.TrimSpace(s.Source))
	for _, k := range device.Kinds {
		if kind == k {
			if kind == device.KindReplay && s.In == "" {
				return errors.New("replay source needs --in")
			}
			return nil
		}
	}
	return fmt.Errorf("unknown source %q (have %s)", s.Source, strings.Join(device.Kinds, ", "))
}

// DeviceOptions converts the source flags for device.Open.
func (s *SourceArgs) DeviceOptions() device.Options {
	return device.Options{
		Device:  s.Device,
		Display: s.Display,
		Replay:  s.In,
		Loop:    s.Loop,
	}
}

func (o *Options) streamSize() (codec.Size, error) {
	if o.Width <= 0 || o.Height <= 0 || o.Width > 0xFFFF || o.Height > 0xFFFF {
		return codec.Size{}, fmt.Errorf("bad stream size %dx%d", o.Width, o.Height)
	}
	return codec.Size{Width: uint16(o.Width), Height: uint16(o.Height)}, nil
}

// Command returns the selected subcommand name.
func (o *Options) Command() string {
	switch {
	case o.Show != nil:
		return "show"
	case o.Send != nil:
		return "send"
	case o.Receive != nil:
		return "receive"
	case o.Serve != nil:
		return "serve"
	case o.Watch != nil:
		return "watch"
	case o.Record != nil:
		return "record"
	}
	return ""
}

// Pipeline returns the pipeline options for the selected command.
func (o *Options) Pipeline() pipeline.Options {
	size, _ := o.streamSize()
	policy, _ := pipeline.ParseDecodePolicy(o.OnDecodeError)
	return pipeline.Options{
		FPS:           o.FPS,
		Timeout:       o.Timeout,
		StreamSize:    size,
		OnDecodeError: policy,
	}
}

// Renderer builds the glyph renderer for a sink drawing with profile.
func (o *Options) Renderer(profile termenv.Profile) (*ui.Renderer, error) {
	p, err := codec.ParsePalette(o.Palette)
	if err != nil {
		return nil, err
	}
	r := ui.NewRenderer(p, profile)
	if o.Color != "" {
		if err := r.SetColor(o.Color); err != nil {
			return nil, err
		}
	}
	if o.Tint != "" {
		if err := r.SetTint(o.Tint); err != nil {
			return nil, err
		}
	}
	return r, nil
}
