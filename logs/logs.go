// Package logs is the process-wide logger. Messages keep the bracketed
// subsystem prefix ("[udp] ...") and go through a zap console encoder.
package logs

import (
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu      sync.RWMutex
	logger  = zap.NewNop()
	sugar   = logger.Sugar()
	verbose atomic.Bool
)

// Init replaces the global logger. Output goes to w (stderr when nil); debug
// entries are enabled only when v is set.
func Init(v bool, w io.Writer) *zap.Logger {
	if w == nil {
		w = os.Stderr
	}
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if v {
		level.SetLevel(zapcore.DebugLevel)
	}
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05.000")
	encCfg.EncodeCaller = nil
	encCfg.CallerKey = ""
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), level)

	l := zap.New(core)
	Set(l, v)
	return l
}

// Set installs an already built logger.
func Set(l *zap.Logger, v bool) {
	if l == nil {
		l = zap.NewNop()
	}
	mu.Lock()
	logger = l
	sugar = l.Sugar()
	mu.Unlock()
	verbose.Store(v)
}

// Verbose reports whether debug logging is on.
func Verbose() bool { return verbose.Load() }

// L returns the structured logger.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func s() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

// Printf logs at info level.
func Printf(format string, args ...any) {
	s().Infof(format, args...)
}

// LogV prints a formatted log message only when verbose logging is enabled.
func LogV(format string, args ...any) {
	if verbose.Load() {
		s().Debugf(format, args...)
	}
}

func Warnf(format string, args ...any) {
	s().Warnf(format, args...)
}

func Errorf(format string, args ...any) {
	s().Errorf(format, args...)
}

// Sync flushes buffered entries.
func Sync() {
	_ = L().Sync()
}

// Writer adapts the logger for APIs that want an io.Writer, such as the
// standard log package used by third-party code.
func Writer(prefix string) io.Writer {
	return writerFunc(func(p []byte) (int, error) {
		msg := strings.TrimRight(string(p), "\r\n")
		if msg == "" {
			return len(p), nil
		}
		LogV("%s%s", prefix, msg)
		return len(p), nil
	})
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
