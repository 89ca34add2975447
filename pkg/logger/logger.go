// Package logger is the structured logger shared by the spi binaries.
// Call sites build Field values and never touch logrus directly; the
// backend is reachable through Logrus for libraries that want their own
// printf-style logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ═══════════════════════════════════════════════════════════════════════════
// LEVELS
// ═══════════════════════════════════════════════════════════════════════════

// Level is the minimum severity a Logger emits.
type Level uint8

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

var backendLevels = [...]logrus.Level{logrus.DebugLevel, logrus.InfoLevel, logrus.WarnLevel, logrus.ErrorLevel}

func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "UNKNOWN"
}

func (l Level) backend() logrus.Level {
	if int(l) < len(backendLevels) {
		return backendLevels[l]
	}
	return logrus.InfoLevel
}

// ParseLevel maps LOG_LEVEL values onto a Level. Unknown input means info.
func ParseLevel(s string) Level {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "WARNING" {
		return LevelWarn
	}
	for i, name := range levelNames {
		if s == name {
			return Level(i)
		}
	}
	return LevelInfo
}

// ═══════════════════════════════════════════════════════════════════════════
// FIELDS
// ═══════════════════════════════════════════════════════════════════════════

// Field is one key/value pair attached to a log line.
type Field struct {
	Key   string
	Value any
}

func String(key, value string) Field          { return Field{key, value} }
func Int(key string, value int) Field         { return Field{key, value} }
func Float64(key string, value float64) Field { return Field{key, value} }
func Bool(key string, value bool) Field       { return Field{key, value} }
func Any(key string, value any) Field         { return Field{key, value} }

// Duration renders d the way time.Duration prints it ("1.5s").
func Duration(key string, d time.Duration) Field { return Field{key, d.String()} }

// Time renders t as RFC 3339.
func Time(key string, t time.Time) Field { return Field{key, t.Format(time.RFC3339)} }

// Err stores the error message under the "error" key; nil stays nil.
func Err(err error) Field {
	if err == nil {
		return Field{logrus.ErrorKey, nil}
	}
	return Field{logrus.ErrorKey, err.Error()}
}

// Keys used across the leaderboard pipeline.
func UserID(id string) Field        { return String("user_id", id) }
func PuzzleID(id string) Field      { return String("puzzle_id", id) }
func RunID(id string) Field         { return String("run_id", id) }
func RequestID(id string) Field     { return String("request_id", id) }
func Score(v float64) Field         { return Float64("score", v) }
func Solved(n int) Field            { return Int("solved", n) }
func Component(name string) Field   { return String("component", name) }
func Operation(name string) Field   { return String("operation", name) }
func Latency(d time.Duration) Field { return Duration("latency", d) }

func toFields(fields []Field) logrus.Fields {
	out := make(logrus.Fields, len(fields))
	for _, f := range fields {
		out[f.Key] = f.Value
	}
	return out
}

// ═══════════════════════════════════════════════════════════════════════════
// LOGGER
// ═══════════════════════════════════════════════════════════════════════════

// Format selects the line encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Options configures New. A nil Output means stdout; an empty Format means JSON.
type Options struct {
	Output io.Writer
	Level  Level
	Format Format
}

// Logger writes structured lines. Values are immutable: With and WithLevel
// return new loggers.
type Logger struct {
	entry *logrus.Entry
}

func New(opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	return &Logger{entry: logrus.NewEntry(newBackend(out, formatter(opts.Format), opts.Level))}
}

// Nop discards everything.
func Nop() *Logger {
	return New(Options{Output: io.Discard, Level: LevelError})
}

func newBackend(out io.Writer, f logrus.Formatter, level Level) *logrus.Logger {
	b := logrus.New()
	b.SetOutput(out)
	b.SetFormatter(f)
	b.SetLevel(level.backend())
	return b
}

func formatter(f Format) logrus.Formatter {
	if f == FormatText {
		return &logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339}
	}
	return &logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "timestamp",
			logrus.FieldKeyMsg:  "message",
		},
	}
}

// Logrus exposes the backend, e.g. for badger's Logger option.
func (l *Logger) Logrus() *logrus.Logger { return l.entry.Logger }

// With returns a child logger carrying fields on every line.
func (l *Logger) With(fields ...Field) *Logger {
	return &Logger{entry: l.entry.WithFields(toFields(fields))}
}

// WithLevel returns a child with its own minimum level. The parent keeps its level.
func (l *Logger) WithLevel(level Level) *Logger {
	parent := l.entry.Logger
	b := newBackend(parent.Out, parent.Formatter, level)
	return &Logger{entry: logrus.NewEntry(b).WithFields(l.entry.Data)}
}

func (l *Logger) emit(level Level, msg string, fields []Field) {
	e := l.entry
	if len(fields) > 0 {
		e = e.WithFields(toFields(fields))
	}
	e.Log(level.backend(), msg)
}

func (l *Logger) Debug(msg string, fields ...Field) { l.emit(LevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { l.emit(LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.emit(LevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields ...Field) { l.emit(LevelError, msg, fields) }

// Errorf logs a formatted message at error level.
func (l *Logger) Errorf(format string, args ...any) {
	l.emit(LevelError, fmt.Sprintf(format, args...), nil)
}
