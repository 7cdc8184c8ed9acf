package device

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

const (
	syncBegin    = termenv.CSI + "?2026h"
	syncEnd      = termenv.CSI + "?2026l"
	wrapDisable  = termenv.CSI + "?7l"
	wrapEnable   = termenv.CSI + "?7h"
	scrollbackCl = termenv.CSI + "3J"
)

// ErrNotTerminal is returned by Size when the output is not a tty.
var ErrNotTerminal = errors.New("output is not a terminal")

// Terminal is the character sink. It owns the alternate screen while
// entered and puts the terminal back on Restore.
type Terminal struct {
	mu      sync.Mutex
	bw      *bufio.Writer
	out     *termenv.Output
	fd      int
	isTTY   bool
	entered bool
}

// NewTerminal wraps w. When profile is negative the profile is detected
// from the environment.
func NewTerminal(w io.Writer, profile termenv.Profile) *Terminal {
	if w == nil {
		w = os.Stdout
	}
	t := &Terminal{bw: bufio.NewWriterSize(w, 64<<10), fd: -1}
	if f, ok := w.(interface{ Fd() uintptr }); ok {
		t.fd = int(f.Fd())
		t.isTTY = term.IsTerminal(t.fd)
	}
	if profile < 0 {
		profile = termenv.NewOutput(w).EnvColorProfile()
	}
	t.out = termenv.NewOutput(t.bw, termenv.WithProfile(profile))
	return t
}

// ParseProfile maps a profile name to a termenv profile. Unknown or empty
// names return -1, meaning detect.
func ParseProfile(name string) termenv.Profile {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "truecolor", "24bit":
		return termenv.TrueColor
	case "ansi256", "256":
		return termenv.ANSI256
	case "ansi", "16":
		return termenv.ANSI
	case "ascii", "none", "mono":
		return termenv.Ascii
	default:
		return -1
	}
}

// Profile returns the color profile used for rendering.
func (t *Terminal) Profile() termenv.Profile {
	return t.out.Profile
}

// IsTerminal reports whether the output is a tty.
func (t *Terminal) IsTerminal() bool { return t.isTTY }

// Size queries the current terminal size in character cells.
func (t *Terminal) Size() (cols, rows int, err error) {
	if !t.isTTY {
		return 0, 0, ErrNotTerminal
	}
	return term.GetSize(t.fd)
}

// Enter switches to the alternate screen and hides the cursor.
func (t *Terminal) Enter() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.entered {
		return nil
	}
	t.entered = true
	t.out.AltScreen()
	t.out.HideCursor()
	t.bw.WriteString(wrapDisable + scrollbackCl)
	t.out.MoveCursor(1, 1)
	return t.bw.Flush()
}

// Present draws one rendered frame from the top-left corner inside a
// synchronized update.
func (t *Terminal) Present(frame []byte) error {
	if len(frame) == 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if supportsSyncOutput {
		t.bw.WriteString(syncBegin)
	}
	t.out.MoveCursor(1, 1)
	t.bw.Write(frame)
	if supportsSyncOutput {
		t.bw.WriteString(syncEnd)
	}
	return t.bw.Flush()
}

// Clear blanks the screen.
func (t *Terminal) Clear() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.out.ClearScreen()
	return t.bw.Flush()
}

// Restore undoes Enter. It is safe to call on every exit path.
func (t *Terminal) Restore() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.entered {
		return t.bw.Flush()
	}
	t.entered = false
	if supportsSyncOutput {
		t.bw.WriteString(syncEnd)
	}
	t.out.ClearScreen()
	t.bw.WriteString(wrapEnable)
	t.out.ShowCursor()
	t.out.ExitAltScreen()
	return t.bw.Flush()
}
