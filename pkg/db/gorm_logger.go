package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const defaultSlowQuery = 500 * time.Millisecond

// gormLogger forwards GORM output to the service logger. Only slow statements
// and real failures are reported; record-not-found is a normal lookup miss.
type gormLogger struct {
	logg *logger.Logger
	slow time.Duration
}

func newGormLogger(logg *logger.Logger, slow time.Duration) gormlogger.Interface {
	if logg == nil {
		return gormlogger.Discard
	}
	return &gormLogger{logg: logg, slow: slow}
}

func (g *gormLogger) LogMode(gormlogger.LogLevel) gormlogger.Interface { return g }

func (g *gormLogger) Info(ctx context.Context, msg string, args ...any) {
	g.logg.Debug(ctx, fmt.Sprintf(msg, args...))
}

func (g *gormLogger) Warn(ctx context.Context, msg string, args ...any) {
	g.logg.Warn(ctx, fmt.Sprintf(msg, args...))
}

func (g *gormLogger) Error(ctx context.Context, msg string, args ...any) {
	g.logg.Error(ctx, fmt.Sprintf(msg, args...), nil)
}

func (g *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	failed := err != nil && !errors.Is(err, gorm.ErrRecordNotFound)
	if !failed && (g.slow <= 0 || elapsed < g.slow) {
		return
	}
	sql, rows := fc()
	ctx = g.logg.WithFields(ctx, map[string]any{
		"sql":        sql,
		"rows":       rows,
		"elapsed_ms": elapsed.Milliseconds(),
	})
	if failed {
		g.logg.Warn(g.logg.WithField(ctx, "error", err.Error()), "db.query_failed")
		return
	}
	g.logg.Warn(ctx, "db.slow_query")
}
