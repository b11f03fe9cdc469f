// Package logger is a thin structured-logging layer over zerolog with
// typed fields, per-system child loggers, optional file rotation and a
// gated writer that buffers output until the server banner is printed.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel represents the logging level.
type LogLevel int

const (
	TraceLevel LogLevel = iota
	DebugLevel
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
	PanicLevel
)

func (l LogLevel) String() string {
	switch l {
	case TraceLevel:
		return "trace"
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	case FatalLevel:
		return "fatal"
	case PanicLevel:
		return "panic"
	default:
		return "info"
	}
}

// ParseLogLevel parses a string to a LogLevel, defaulting to info.
func ParseLogLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "trace":
		return TraceLevel
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn", "warning":
		return WarnLevel
	case "error", "err":
		return ErrorLevel
	case "fatal":
		return FatalLevel
	case "panic":
		return PanicLevel
	default:
		return InfoLevel
	}
}

// OutputFormat selects between human-readable console output and JSON.
type OutputFormat int

const (
	DefaultFormat OutputFormat = iota
	JSONFormat
)

// ParseOutputFormat parses a string to an OutputFormat, defaulting to
// console output.
func ParseOutputFormat(format string) OutputFormat {
	if strings.EqualFold(format, "json") {
		return JSONFormat
	}
	return DefaultFormat
}

// TypedField is a type-safe field for structured logging.
type TypedField interface {
	apply(event *zerolog.Event) *zerolog.Event
}

type (
	StringField struct {
		Key   string
		Value string
	}
	IntField struct {
		Key   string
		Value int
	}
	Int64Field struct {
		Key   string
		Value int64
	}
	BoolField struct {
		Key   string
		Value bool
	}
	DurationField struct {
		Key   string
		Value time.Duration
	}
	TimeField struct {
		Key   string
		Value time.Time
	}
	ErrorField struct {
		Value error
	}
	AnyField struct {
		Key   string
		Value interface{}
	}
)

func String(key, value string) TypedField {
	return StringField{Key: key, Value: value}
}

func Int(key string, value int) TypedField {
	return IntField{Key: key, Value: value}
}

func Int64(key string, value int64) TypedField {
	return Int64Field{Key: key, Value: value}
}

func Bool(key string, value bool) TypedField {
	return BoolField{Key: key, Value: value}
}

func Duration(key string, value time.Duration) TypedField {
	return DurationField{Key: key, Value: value}
}

func Time(key string, value time.Time) TypedField {
	return TimeField{Key: key, Value: value}
}

func Err(value error) TypedField {
	return ErrorField{Value: value}
}

func Any(key string, value interface{}) TypedField {
	return AnyField{Key: key, Value: value}
}

// Logger is the logging interface the rest of the codebase depends on.
type Logger interface {
	Trace(msg string, fields ...TypedField)
	Debug(msg string, fields ...TypedField)
	Info(msg string, fields ...TypedField)
	Warn(msg string, fields ...TypedField)
	Error(msg string, fields ...TypedField)
	Fatal(msg string, fields ...TypedField)
	Panic(msg string, fields ...TypedField)

	// WithSystem replaces the module name; WithSubsystem appends to it.
	WithSystem(name string) Logger
	WithSubsystem(name string) Logger
	WithFields(fields ...TypedField) Logger

	IsLevelEnabled(level LogLevel) bool

	Flush()
	Close() error
}

// Config holds the configuration for the logger.
type Config struct {
	Level      LogLevel
	Format     OutputFormat
	Outputs    []io.Writer
	Subsystem  string
	FileConfig *FileConfig
}

// FileConfig holds file rotation settings, passed through to lumberjack.
type FileConfig struct {
	Filename   string
	MaxSize    int // megabytes
	MaxAge     int // days
	MaxBackups int
	Compress   bool
}

// DefaultConfig returns a configuration suitable for development and
// tests: everything to stdout, console format, all levels.
func DefaultConfig() *Config {
	return &Config{
		Level:   TraceLevel,
		Format:  DefaultFormat,
		Outputs: []io.Writer{os.Stdout},
	}
}
