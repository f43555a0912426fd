package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// Logger defines a minimal, printf-style logging contract.
//
// Components depend on this interface rather than a concrete logger so that
// tests can swap in Nop() and the kernel subprocess can redirect everything
// to stderr (stdout carries the JSON-RPC channel).
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Level represents the severity of a log message.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if logger == nil {
		return Nop()
	}
	return logger
}

var (
	defaultOut   io.Writer = os.Stderr
	defaultLevel           = LevelInfo
	defaultMu    sync.Mutex
)

// SetOutput redirects all component loggers to w. The kernel subprocess
// calls this before anything else so log lines never corrupt the stdio
// RPC channel.
func SetOutput(w io.Writer) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultOut = w
}

// SetLevel sets the minimum level for all component loggers.
func SetLevel(level Level) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLevel = level
}

// componentLogger writes timestamped, component-scoped lines to the shared
// output. Secrets are redacted before the line is written.
type componentLogger struct {
	component string
}

// NewComponentLogger returns the default application logger scoped to a component.
func NewComponentLogger(component string) Logger {
	return &componentLogger{component: component}
}

func (l *componentLogger) log(level Level, format string, args ...any) {
	defaultMu.Lock()
	out := defaultOut
	min := defaultLevel
	defaultMu.Unlock()

	if level < min {
		return
	}

	_, file, line, ok := runtime.Caller(2)
	if ok {
		file = filepath.Base(file)
	} else {
		file = "???"
		line = 0
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	message := fmt.Sprintf(format, args...)
	logLine := fmt.Sprintf("%s [%s] [%s] %s:%d - %s\n",
		timestamp, level, l.component, file, line, message)

	defaultMu.Lock()
	defer defaultMu.Unlock()
	_, _ = io.WriteString(out, Redact(logLine))
}

func (l *componentLogger) Debug(format string, args ...any) { l.log(LevelDebug, format, args...) }
func (l *componentLogger) Info(format string, args ...any)  { l.log(LevelInfo, format, args...) }
func (l *componentLogger) Warn(format string, args ...any)  { l.log(LevelWarn, format, args...) }
func (l *componentLogger) Error(format string, args ...any) { l.log(LevelError, format, args...) }
