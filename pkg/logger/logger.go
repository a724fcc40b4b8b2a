// Package logger is the zerolog-backed structured logger. Fields added with
// WithField travel in the context, so every log line for one request or one
// order carries the same identifiers.
package logger

import (
	"context"
	"io"
	"maps"
	"os"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

const FormatConsole = "console"

// Options configures New. The zero Level is debug; binaries pass ParseLevel.
// Format "console" switches to the human readable writer, anything else is JSON.
type Options struct {
	ServiceName string
	Level       zerolog.Level
	WarnStack   bool
	Format      string
	Output      io.Writer
}

type Logger struct {
	base      zerolog.Logger
	warnStack bool
}

type ctxKey struct{}

func New(opts Options) *Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var out io.Writer = os.Stdout
	if opts.Output != nil {
		out = opts.Output
	}
	if strings.EqualFold(opts.Format, FormatConsole) {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}
	return &Logger{
		base:      zerolog.New(out).Level(opts.Level).With().Timestamp().Str("service", opts.ServiceName).Logger(),
		warnStack: opts.WarnStack,
	}
}

// ParseLevel falls back to info for empty or unknown values.
func ParseLevel(value string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(value)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func (l *Logger) current(ctx context.Context) zerolog.Logger {
	if ctx == nil {
		return l.base
	}
	if entry, ok := ctx.Value(ctxKey{}).(zerolog.Logger); ok {
		return entry
	}
	return l.base
}

func (l *Logger) extend(ctx context.Context, add func(zerolog.Context) zerolog.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxKey{}, add(l.current(ctx).With()).Logger())
}

func (l *Logger) WithField(ctx context.Context, key string, value any) context.Context {
	return l.extend(ctx, func(c zerolog.Context) zerolog.Context { return c.Interface(key, value) })
}

// WithFields adds fields in key order so repeated lines stay diffable.
func (l *Logger) WithFields(ctx context.Context, fields map[string]any) context.Context {
	return l.extend(ctx, func(c zerolog.Context) zerolog.Context {
		for _, k := range slices.Sorted(maps.Keys(fields)) {
			c = c.Interface(k, fields[k])
		}
		return c
	})
}

func (l *Logger) WithRequestID(ctx context.Context, requestID string) context.Context {
	return l.withString(ctx, "request_id", requestID)
}

func (l *Logger) WithUserID(ctx context.Context, userID string) context.Context {
	return l.withString(ctx, "user_id", userID)
}

func (l *Logger) WithOrderID(ctx context.Context, orderID string) context.Context {
	return l.withString(ctx, "order_id", orderID)
}

func (l *Logger) WithActorRole(ctx context.Context, role string) context.Context {
	return l.withString(ctx, "actor_role", role)
}

func (l *Logger) withString(ctx context.Context, key, value string) context.Context {
	return l.extend(ctx, func(c zerolog.Context) zerolog.Context { return c.Str(key, value) })
}

// Debug is for idempotent no-ops such as duplicate webhook deliveries.
func (l *Logger) Debug(ctx context.Context, msg string) {
	l.entry(ctx, zerolog.DebugLevel).Msg(msg)
}

func (l *Logger) Info(ctx context.Context, msg string) {
	l.entry(ctx, zerolog.InfoLevel).Msg(msg)
}

func (l *Logger) Warn(ctx context.Context, msg string) {
	e := l.entry(ctx, zerolog.WarnLevel)
	if l.warnStack {
		e = withStack(e)
	}
	e.Msg(msg)
}

func (l *Logger) Error(ctx context.Context, msg string, err error) {
	withStack(l.entry(ctx, zerolog.ErrorLevel).Err(err)).Msg(msg)
}

// entry opens an event at level and stamps the active span, if any.
func (l *Logger) entry(ctx context.Context, level zerolog.Level) *zerolog.Event {
	logger := l.current(ctx)
	e := logger.WithLevel(level)
	if ctx == nil {
		return e
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		e = e.Str("trace_id", sc.TraceID().String()).Str("span_id", sc.SpanID().String())
	}
	return e
}

func withStack(e *zerolog.Event) *zerolog.Event {
	return e.Str("stack", strings.TrimSpace(string(debug.Stack())))
}
