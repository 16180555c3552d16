// Package logging is the structured logger shared by the ring, the
// runner and the CLI. It is a thin layer over zerolog that takes
// slog-style key/value pairs.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/diode"
)

// LogLevel is a zerolog level.
type LogLevel int8

const (
	LevelDebug = LogLevel(zerolog.DebugLevel)
	LevelInfo  = LogLevel(zerolog.InfoLevel)
	LevelWarn  = LogLevel(zerolog.WarnLevel)
	LevelError = LogLevel(zerolog.ErrorLevel)
)

func (l LogLevel) String() string {
	return zerolog.Level(l).String()
}

// ParseLevel accepts debug, info, warn or error in any case.
func ParseLevel(s string) (LogLevel, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil {
		return LevelInfo, err
	}
	switch LogLevel(lvl) {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return LogLevel(lvl), nil
	}
	return LevelInfo, fmt.Errorf("unsupported log level %q", s)
}

const defaultBufferSize = 1000

// Config holds logging configuration
type Config struct {
	Level   LogLevel
	Format  string    // "json" or "text"
	Output  io.Writer // defaults to stderr
	Sync    bool      // write on the calling goroutine instead of through a ring buffer
	NoColor bool

	// BufferSize is the number of messages held for the background
	// writer. Messages beyond it are dropped, never blocked on.
	BufferSize int
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Format: "text",
		Output: os.Stderr,
	}
}

// Logger writes leveled structured messages. Derived loggers from
// WithRing, WithOp and WithError share their parent's output.
type Logger struct {
	zlog   zerolog.Logger
	closer io.Closer
}

// writerOnly hides Close so the diode writer never closes Output.
type writerOnly struct{ io.Writer }

// NewLogger creates a new structured logger
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	out := config.Output
	if out == nil {
		out = os.Stderr
	}

	var closer io.Closer
	if !config.Sync {
		size := config.BufferSize
		if size <= 0 {
			size = defaultBufferSize
		}
		dw := diode.NewWriter(writerOnly{out}, size, 10*time.Millisecond, func(missed int) {
			fmt.Fprintf(os.Stderr, "logging: dropped %d messages\n", missed)
		})
		out, closer = dw, dw
	}
	if config.Format != "json" {
		out = zerolog.ConsoleWriter{Out: out, NoColor: config.NoColor, TimeFormat: time.RFC3339}
	}

	return &Logger{
		zlog:   zerolog.New(out).Level(zerolog.Level(config.Level)).With().Timestamp().Logger(),
		closer: closer,
	}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// Close flushes buffered messages. Only the logger returned by
// NewLogger owns the buffer; Close on derived loggers does nothing.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

var defaultLogger atomic.Pointer[Logger]

// Default returns the process-wide logger. Until SetDefault is called it
// writes synchronously to stderr, since nothing would flush it at exit.
func Default() *Logger {
	if l := defaultLogger.Load(); l != nil {
		return l
	}
	config := DefaultConfig()
	config.Sync = true
	defaultLogger.CompareAndSwap(nil, NewLogger(config))
	return defaultLogger.Load()
}

// SetDefault replaces the process-wide logger.
func SetDefault(logger *Logger) {
	defaultLogger.Store(logger)
}

// WithRing tags every message with the ring fd
func (l *Logger) WithRing(fd int) *Logger {
	return &Logger{zlog: l.zlog.With().Int("ring_fd", fd).Logger()}
}

// WithOp tags every message with a request tag and opcode name
func (l *Logger) WithOp(tag uint64, op string) *Logger {
	return &Logger{zlog: l.zlog.With().Uint64("tag", tag).Str("op", op).Logger()}
}

// WithError attaches err to every message
func (l *Logger) WithError(err error) *Logger {
	return &Logger{zlog: l.zlog.With().Err(err).Logger()}
}

// Enabled reports whether messages at level would be written
func (l *Logger) Enabled(level LogLevel) bool {
	return l.zlog.GetLevel() <= zerolog.Level(level)
}

func (l *Logger) Debug(msg string, args ...any) { emit(l.zlog.Debug(), msg, args) }
func (l *Logger) Info(msg string, args ...any)  { emit(l.zlog.Info(), msg, args) }
func (l *Logger) Warn(msg string, args ...any)  { emit(l.zlog.Warn(), msg, args) }
func (l *Logger) Error(msg string, args ...any) { emit(l.zlog.Error(), msg, args) }

// emit attaches key/value pairs and writes the event. Non-string keys
// are rendered with %v; a trailing key without a value is dropped.
func emit(event *zerolog.Event, msg string, args []any) {
	if event == nil {
		return
	}
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		switch v := args[i+1].(type) {
		case error:
			event = event.AnErr(key, v)
		case time.Duration:
			event = event.Dur(key, v)
		default:
			event = event.Interface(key, v)
		}
	}
	event.Msg(msg)
}

// Package-level shortcuts for the default logger
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
