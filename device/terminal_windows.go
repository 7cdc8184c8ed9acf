//go:build windows

package device

import (
	"os"

	"golang.org/x/sys/windows"
)

// Windows consoles ignore DEC mode 2026, so frames are written unsynchronized.
const supportsSyncOutput = false

const codePageUTF8 = 65001

func init() {
	for _, f := range []*os.File{os.Stdout, os.Stderr} {
		h := windows.Handle(f.Fd())
		if h == windows.InvalidHandle {
			continue
		}
		var mode uint32
		if err := windows.GetConsoleMode(h, &mode); err != nil {
			continue
		}
		mode |= windows.ENABLE_PROCESSED_OUTPUT | windows.ENABLE_VIRTUAL_TERMINAL_PROCESSING
		mode &^= windows.DISABLE_NEWLINE_AUTO_RETURN
		_ = windows.SetConsoleMode(h, mode)
	}
	// palette glyphs may be outside the OEM code page
	_ = windows.SetConsoleOutputCP(codePageUTF8)
}
