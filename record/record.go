// Package record stores frame sequences on disk: a magic header followed by a
// zstd stream of length-prefixed wire frames.
package record

import (
	"bufio"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/oklog/ulid/v2"

	"github.com/svanichkin/termfeed/codec"
)

const (
	// Magic opens every recording; the trailing byte is the format version.
	Magic = "TFRC\x01"
	// Ext is appended by NewName.
	Ext = ".tfrec"
)

var zstdEncoderLevel = zstd.SpeedBetterCompression

// ErrBadMagic is returned by Open for files that are not recordings.
var ErrBadMagic = errors.New("not a frame recording")

// Writer appends frames to a recording. It is safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	f      *os.File
	enc    *zstd.Encoder
	buf    []byte
	frames int
	closed bool
}

// Create truncates path and writes the recording header.
func Create(path string) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("record dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("record create: %w", err)
	}
	if _, err := io.WriteString(f, Magic); err != nil {
		f.Close()
		return nil, fmt.Errorf("record header: %w", err)
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstdEncoderLevel))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("record zstd: %w", err)
	}
	return &Writer{f: f, enc: enc}, nil
}

// WriteFrame encodes f and appends it.
func (w *Writer) WriteFrame(f codec.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return os.ErrClosed
	}
	var err error
	w.buf = binary.BigEndian.AppendUint32(w.buf[:0], 0)
	w.buf, err = codec.AppendEncode(w.buf, f)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint32(w.buf[:4], uint32(len(w.buf)-4))
	if _, err := w.enc.Write(w.buf); err != nil {
		return fmt.Errorf("record write: %w", err)
	}
	w.frames++
	return nil
}

// Frames returns the number of frames written.
func (w *Writer) Frames() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames
}

// Close flushes the zstd stream and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	encErr := w.enc.Close()
	fileErr := w.f.Close()
	return errors.Join(encErr, fileErr)
}

// Reader replays a recording frame by frame.
type Reader struct {
	f   *os.File
	dec *zstd.Decoder
	r   *bufio.Reader
	buf []byte
}

// Open validates the header of path and prepares it for reading.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("record open: %w", err)
	}
	head := make([]byte, len(Magic))
	if _, err := io.ReadFull(f, head); err != nil || string(head) != Magic {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, ErrBadMagic)
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("record zstd: %w", err)
	}
	return &Reader{f: f, dec: dec, r: bufio.NewReader(dec)}, nil
}

// ReadFrame returns the next frame, or io.EOF after the last one.
func (r *Reader) ReadFrame() (codec.Frame, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r.r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return codec.Frame{}, io.EOF
		}
		return codec.Frame{}, fmt.Errorf("record length: %w", err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > codec.MaxPayload {
		return codec.Frame{}, &codec.DecodeError{Reason: "record entry too large", Len: int(n)}
	}
	if cap(r.buf) < int(n) {
		r.buf = make([]byte, n)
	}
	r.buf = r.buf[:n]
	if _, err := io.ReadFull(r.r, r.buf); err != nil {
		return codec.Frame{}, fmt.Errorf("record body: %w", err)
	}
	return codec.Decode(r.buf)
}

func (r *Reader) Close() error {
	r.dec.Close()
	return r.f.Close()
}

// NewName returns a fresh, time-sortable recording path inside dir.
func NewName(dir string) string {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader)
	return filepath.Join(dir, id.String()+Ext)
}
