package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EventType names the kind of event
type EventType string

const (
	EventHash    EventType = "hash"
	EventMetrics EventType = "metrics"
	EventDrop    EventType = "drop"
	EventCommit  EventType = "commit"
	EventFilter  EventType = "filter"
	EventIngest  EventType = "ingest"
	EventEnhance EventType = "enhance"
	EventError   EventType = "error"
)

// EventLevel is the severity of an event
type EventLevel string

const (
	LevelDebug   EventLevel = "debug"
	LevelInfo    EventLevel = "info"
	LevelWarning EventLevel = "warning"
	LevelError   EventLevel = "error"
)

var zapLevels = map[EventLevel]zapcore.Level{
	LevelDebug:   zapcore.DebugLevel,
	LevelInfo:    zapcore.InfoLevel,
	LevelWarning: zapcore.WarnLevel,
	LevelError:   zapcore.ErrorLevel,
}

// EventLogger writes one JSON object per line. All methods are safe on a
// nil receiver, which discards events.
type EventLogger struct {
	log   *zap.Logger
	file  *os.File
	path  string
	runID string
}

// NewEventLogger creates artifacts/events-<timestamp>.jsonl under outputDir
func NewEventLogger(outputDir string, minLevel EventLevel) (*EventLogger, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	name := fmt.Sprintf("events-%s.jsonl", time.Now().Format("20060102-150405"))
	path := filepath.Join(outputDir, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create event log: %w", err)
	}

	l := NewEventLoggerTo(file, minLevel)
	l.file = file
	l.path = path
	return l, nil
}

// NewEventLoggerTo writes events to w
func NewEventLoggerTo(w io.Writer, minLevel EventLevel) *EventLogger {
	level, ok := zapLevels[minLevel]
	if !ok {
		level = zapcore.InfoLevel
	}

	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		MessageKey:     "event",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
	})
	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(w)), level)

	runID := uuid.NewString()
	return &EventLogger{
		log:   zap.New(core).With(zap.String("run_id", runID)),
		runID: runID,
	}
}

// LogHash records a fingerprint backfill pass
func (l *EventLogger) LogHash(hashed, missing, present int) {
	if l == nil {
		return
	}
	l.log.Info(string(EventHash),
		zap.Int("hashed", hashed),
		zap.Int("missing", missing),
		zap.Int("present", present))
}

// LogStage records the outcome of a metrics stage before commit
func (l *EventLogger) LogStage(stage string, toAdd, toUpdate, skipped, dropped, excluded int) {
	if l == nil {
		return
	}
	l.log.Info(string(EventMetrics),
		zap.String("stage", stage),
		zap.Int("to_add", toAdd),
		zap.Int("to_update", toUpdate),
		zap.Int("skipped", skipped),
		zap.Int("dropped", dropped),
		zap.Int("excluded", excluded))
}

// LogDrop records an input that produced no result
func (l *EventLogger) LogDrop(stage, fingerprint, path, reason string) {
	if l == nil {
		return
	}
	l.log.Warn(string(EventDrop),
		zap.String("stage", stage),
		zap.String("fingerprint", fingerprint),
		zap.String("path", path),
		zap.String("reason", reason))
}

// LogCommit records a reconcile transaction
func (l *EventLogger) LogCommit(tables []string, inserted, updated int, elapsed time.Duration) {
	if l == nil {
		return
	}
	l.log.Info(string(EventCommit),
		zap.Strings("tables", tables),
		zap.Int("inserted", inserted),
		zap.Int("updated", updated),
		zap.Duration("duration_ms", elapsed))
}

// LogFilter records a selection run
func (l *EventLogger) LogFilter(dataset, profile string, matched, selected int) {
	if l == nil {
		return
	}
	l.log.Info(string(EventFilter),
		zap.String("dataset", dataset),
		zap.String("profile", profile),
		zap.Int("matched", matched),
		zap.Int("selected", selected))
}

// LogIngest records one file placed into a dataset
func (l *EventLogger) LogIngest(src, dest, fingerprint, format string, speakerID int, converted bool) {
	if l == nil {
		return
	}
	l.log.Debug(string(EventIngest),
		zap.String("src_path", src),
		zap.String("dest_path", dest),
		zap.String("fingerprint", fingerprint),
		zap.String("format", format),
		zap.Int("speaker_id", speakerID),
		zap.Bool("converted", converted))
}

// LogEnhance records one enhanced file
func (l *EventLogger) LogEnhance(path string, samples int) {
	if l == nil {
		return
	}
	l.log.Debug(string(EventEnhance), zap.String("path", path), zap.Int("samples", samples))
}

// LogError records a failure
func (l *EventLogger) LogError(stage, path string, err error) {
	if l == nil || err == nil {
		return
	}
	l.log.Error(string(EventError),
		zap.String("stage", stage),
		zap.String("path", path),
		zap.Error(err))
}

// Close flushes and closes the event log
func (l *EventLogger) Close() error {
	if l == nil {
		return nil
	}
	_ = l.log.Sync()
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Path returns the event log file path
func (l *EventLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// RunID identifies the invocation that wrote the events
func (l *EventLogger) RunID() string {
	if l == nil {
		return ""
	}
	return l.runID
}

// NullLogger returns a logger that discards everything
func NullLogger() *EventLogger {
	return nil
}
