package device

import (
	"log"
	_ "unsafe"

	"github.com/svanichkin/termfeed/logs"
)

// gocam logs through its own *log.Logger; route it into ours so camera chatter
// never lands on the alternate screen.
//
//go:linkname gocamLogger github.com/svanichkin/gocam.camLog
var gocamLogger *log.Logger

func init() {
	if gocamLogger == nil {
		return
	}
	gocamLogger.SetOutput(logs.Writer("[cam] "))
	gocamLogger.SetFlags(0)
	gocamLogger.SetPrefix("")
}
