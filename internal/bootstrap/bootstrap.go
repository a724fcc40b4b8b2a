// Package bootstrap performs the process setup shared by the storefront
// binaries: env file, config, logger, database, optional redis, signals.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/instance"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/migrate"
	"github.com/angelmondragon/storefront-backend/pkg/redis"
)

// Runtime holds the shared dependencies of one process.
type Runtime struct {
	Kind   string
	Config *config.Config
	Logger *logger.Logger
	DB     *db.Client
	// Redis is nil unless Start was given WithRedis.
	Redis *redis.Client

	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

type options struct {
	redis bool
}

type Option func(*options)

// WithRedis connects the redis client as part of Start.
func WithRedis() Option { return func(o *options) { o.redis = true } }

// Start loads configuration for the binary named kind and connects its
// stores. On error everything opened so far is closed again.
func Start(ctx context.Context, kind string, opts ...Option) (rt *Runtime, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	boot := logger.New(logger.Options{ServiceName: kind, Level: logger.ParseLevel("")})
	if err := godotenv.Load(); err != nil {
		boot.Warn(ctx, ".env file not found, relying on environment")
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = kind

	rt = &Runtime{
		Kind:   kind,
		Config: cfg,
		Logger: logger.New(logger.Options{
			ServiceName: kind,
			Level:       logger.ParseLevel(cfg.App.LogLevel),
			WarnStack:   cfg.App.LogWarnStack,
			Format:      cfg.App.LogFormat,
		}),
	}
	defer func() {
		if err != nil {
			rt.Close()
			rt = nil
		}
	}()

	rt.DB, err = db.New(ctx, cfg.DB, rt.Logger)
	if err != nil {
		return rt, fmt.Errorf("connect database: %w", err)
	}
	rt.closers = append(rt.closers, namedCloser{"database", rt.DB.Close})

	if err = migrate.MaybeRunDev(ctx, cfg, rt.Logger, rt.DB); err != nil {
		return rt, fmt.Errorf("dev migrations: %w", err)
	}

	if o.redis {
		rt.Redis, err = redis.New(ctx, cfg.Redis, rt.Logger)
		if err != nil {
			return rt, fmt.Errorf("connect redis: %w", err)
		}
		rt.closers = append(rt.closers, namedCloser{"redis", rt.Redis.Close})
	}
	return rt, nil
}

// OnClose registers fn to run during Close, before the stores it may use.
func (r *Runtime) OnClose(name string, fn func() error) {
	r.closers = append(r.closers, namedCloser{name, fn})
}

// Close releases resources in reverse order of acquisition.
func (r *Runtime) Close() {
	for _, c := range slices.Backward(r.closers) {
		if err := c.close(); err != nil {
			r.Logger.Error(context.Background(), "error closing "+c.name, err)
		}
	}
	r.closers = nil
}

// SignalContext is cancelled on SIGINT or SIGTERM and carries the process
// log fields.
func (r *Runtime) SignalContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx = r.Logger.WithFields(ctx, map[string]any{
		"env":         r.Config.App.Env,
		"serviceKind": r.Kind,
		"instance":    instance.GetID(),
	})
	return ctx, stop
}

// Exit logs err and terminates the process after running Close.
func (r *Runtime) Exit(ctx context.Context, msg string, err error) {
	r.Logger.Error(ctx, msg, err)
	r.Close()
	os.Exit(1)
}

// Fatal is Exit for failures before a Runtime exists.
func Fatal(kind, msg string, err error) {
	logger.New(logger.Options{ServiceName: kind, Level: logger.ParseLevel("")}).Error(context.Background(), msg, err)
	os.Exit(1)
}
