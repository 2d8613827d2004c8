/*
Package logging configures the process-wide zerolog logger.

PURPOSE:
  One place to set level and format, and to hang a request-scoped logger on a
  context. Engine code logs through zerolog.Ctx(ctx), which falls back to the
  global logger when no request logger is attached.

USAGE:
  logging.Init(logging.Config{Level: "debug", Format: "console"})

  ctx = logging.WithRequestID(ctx, logging.NewRequestID())
  zerolog.Ctx(ctx).Info().Msg("handled") // carries request_id

SEE ALSO:
  - api/middleware.go: Attaches the request logger per HTTP request
*/
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Config struct {
	Level  string // trace, debug, info, warn, error, disabled
	Format string // json or console
	Caller bool

	// Output defaults to os.Stderr.
	Output io.Writer
}

var (
	mu  sync.RWMutex
	log zerolog.Logger
)

func init() {
	Init(Config{})
}

// Init replaces the global logger. Safe to call more than once.
func Init(cfg Config) {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))
	zerolog.TimeFieldFormat = time.RFC3339

	out := cfg.Output
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: "15:04:05"}
	}

	l := zerolog.New(out).With().Timestamp().Logger()
	if cfg.Caller {
		l = l.With().Caller().Logger()
	}

	mu.Lock()
	log = l
	zerolog.DefaultContextLogger = &log
	mu.Unlock()
}

// ParseLevel maps a level name to zerolog; unknown names mean info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	case "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Logger returns the global logger.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// Component returns the global logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return Logger().With().Str("component", name).Logger()
}

// =============================================================================
// REQUEST CONTEXT
// =============================================================================

type contextKey string

const requestIDKey contextKey = "request_id"

func NewRequestID() string {
	return uuid.NewString()
}

// WithRequestID stores id on ctx and attaches a logger carrying it, so
// zerolog.Ctx(ctx) picks it up downstream.
func WithRequestID(ctx context.Context, id string) context.Context {
	ctx = context.WithValue(ctx, requestIDKey, id)
	l := Logger().With().Str("request_id", id).Logger()
	return l.WithContext(ctx)
}

func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}
