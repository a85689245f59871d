package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger interface for structured logging.
// Fields are alternating key/value pairs: "ticker", "ACME", "score", 71.2
type Logger interface {
	Info(msg string, fields ...interface{})
	Error(msg string, err error, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Debug(msg string, fields ...interface{})
	Fatal(msg string, err error, fields ...interface{})
	With(fields ...interface{}) Logger
}

// Config controls the zerolog backend
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json or console
	Output io.Writer
}

// ZeroLogger implements Logger on top of zerolog
type ZeroLogger struct {
	zl zerolog.Logger
}

// New creates a zerolog-backed logger
func New(cfg Config) (Logger, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %w", err)
		}
		level = parsed
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	zl := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return &ZeroLogger{zl: zl}, nil
}

// NewFromEnv builds a logger from LOG_LEVEL and LOG_FORMAT, falling back to info/json
func NewFromEnv() Logger {
	l, err := New(Config{Level: os.Getenv("LOG_LEVEL"), Format: os.Getenv("LOG_FORMAT")})
	if err != nil {
		l, _ = New(Config{})
	}
	return l
}

// NewNop returns a logger that discards everything
func NewNop() Logger {
	return &ZeroLogger{zl: zerolog.Nop()}
}

// Info logs an info message
func (l *ZeroLogger) Info(msg string, fields ...interface{}) {
	withFields(l.zl.Info(), fields).Msg(msg)
}

// Error logs an error message
func (l *ZeroLogger) Error(msg string, err error, fields ...interface{}) {
	withFields(l.zl.Error().Err(err), fields).Msg(msg)
}

// Warn logs a warning message
func (l *ZeroLogger) Warn(msg string, fields ...interface{}) {
	withFields(l.zl.Warn(), fields).Msg(msg)
}

// Debug logs a debug message
func (l *ZeroLogger) Debug(msg string, fields ...interface{}) {
	withFields(l.zl.Debug(), fields).Msg(msg)
}

// Fatal logs a fatal error and exits
func (l *ZeroLogger) Fatal(msg string, err error, fields ...interface{}) {
	withFields(l.zl.Fatal().Err(err), fields).Msg(msg)
}

// With returns a child logger carrying the given fields on every entry
func (l *ZeroLogger) With(fields ...interface{}) Logger {
	ctx := l.zl.With()
	for i := 0; i < len(fields); i += 2 {
		key, val := pair(fields, i)
		ctx = ctx.Interface(key, val)
	}
	return &ZeroLogger{zl: ctx.Logger()}
}

func withFields(e *zerolog.Event, fields []interface{}) *zerolog.Event {
	for i := 0; i < len(fields); i += 2 {
		key, val := pair(fields, i)
		e = e.Interface(key, val)
	}
	return e
}

// pair tolerates odd-length field lists and non-string keys
func pair(fields []interface{}, i int) (string, interface{}) {
	key, ok := fields[i].(string)
	if !ok {
		key = fmt.Sprintf("field_%d", i)
	}
	if i+1 >= len(fields) {
		return key, nil
	}
	return key, fields[i+1]
}
