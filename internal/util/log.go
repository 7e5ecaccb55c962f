package util

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// LogLevel represents the severity of a console message
type LogLevel int32

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

type levelStyle struct {
	tag   string
	color string
}

var styles = map[LogLevel]levelStyle{
	LevelDebug: {"[DEBUG]", "\033[90m"},
	LevelInfo:  {"[INFO] ", "\033[36m"},
	LevelWarn:  {"[WARN] ", "\033[33m"},
	LevelError: {"[ERROR]", "\033[31m"},
}

var (
	currentLogLevel atomic.Int32
	useColors       atomic.Bool

	outMu sync.Mutex
	out   io.Writer = os.Stderr
)

func init() {
	currentLogLevel.Store(int32(LevelInfo))
	useColors.Store(IsTerminal(os.Stderr.Fd()))
}

// SetLogLevel sets the minimum level to display
func SetLogLevel(level LogLevel) {
	currentLogLevel.Store(int32(level))
}

// SetVerbose enables debug logging
func SetVerbose(verbose bool) {
	if verbose {
		SetLogLevel(LevelDebug)
	}
}

// SetQuiet restricts the console to errors
func SetQuiet(quiet bool) {
	if quiet {
		SetLogLevel(LevelError)
	}
}

// IsQuiet reports whether only errors are printed
func IsQuiet() bool {
	return LogLevel(currentLogLevel.Load()) >= LevelError
}

// SetColors enables or disables ANSI colours
func SetColors(enabled bool) {
	useColors.Store(enabled)
}

// SetOutput redirects console logging, used by tests
func SetOutput(w io.Writer) {
	outMu.Lock()
	defer outMu.Unlock()
	out = w
}

func enabled(level LogLevel) bool {
	return LogLevel(currentLogLevel.Load()) <= level
}

func colorize(color string, text string) string {
	if !useColors.Load() {
		return text
	}
	return color + text + "\033[0m"
}

func logf(level LogLevel, tag, color, format string, args ...interface{}) {
	if !enabled(level) {
		return
	}
	msg := fmt.Sprintf(format, args...)
	outMu.Lock()
	defer outMu.Unlock()
	fmt.Fprintf(out, "%s %s %s\n", colorize(color, time.Now().Format("15:04:05")), tag, msg)
}

// DebugLog logs debug messages
func DebugLog(format string, args ...interface{}) {
	s := styles[LevelDebug]
	logf(LevelDebug, s.tag, s.color, format, args...)
}

// InfoLog logs informational messages
func InfoLog(format string, args ...interface{}) {
	s := styles[LevelInfo]
	logf(LevelInfo, s.tag, s.color, format, args...)
}

// WarnLog logs warnings
func WarnLog(format string, args ...interface{}) {
	s := styles[LevelWarn]
	logf(LevelWarn, s.tag, s.color, format, args...)
}

// ErrorLog logs errors
func ErrorLog(format string, args ...interface{}) {
	s := styles[LevelError]
	logf(LevelError, s.tag, s.color, format, args...)
}

// SuccessLog logs a completed step (hidden in quiet mode)
func SuccessLog(format string, args ...interface{}) {
	logf(LevelInfo, "[OK]   ", "\033[32m", format, args...)
}
