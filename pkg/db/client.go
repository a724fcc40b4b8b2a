package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// Client is the pooled connection every repository shares.
type Client struct {
	conn *gorm.DB
}

// New connects to postgres and verifies the pool with a ping. config.Load has
// already assembled cfg.DSN from STOREFRONT_DB_DSN or the discrete vars.
func New(ctx context.Context, cfg config.DBConfig, logg *logger.Logger) (*Client, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database DSN is required")
	}
	conn, err := gorm.Open(
		postgres.New(postgres.Config{DSN: cfg.DSN, PreferSimpleProtocol: true}),
		&gorm.Config{Logger: newGormLogger(logg, defaultSlowQuery), SkipDefaultTransaction: true},
	)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	c := &Client{conn: conn}
	pool, err := c.SQL()
	if err != nil {
		return nil, err
	}
	tunePool(pool, cfg)
	if err := pool.PingContext(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "max_open_conns", cfg.MaxOpenConns), "database connection established")
	}
	return c, nil
}

// tunePool applies the non-zero pool limits in cfg.
func tunePool(pool *sql.DB, cfg config.DBConfig) {
	if cfg.MaxOpenConns > 0 {
		pool.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		pool.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		pool.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		pool.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
}

// FromConn wraps an open connection. Tests use it with sqlite.
func FromConn(conn *gorm.DB) *Client {
	return &Client{conn: conn}
}

func (c *Client) DB() *gorm.DB { return c.conn }

// SQL exposes the underlying pool for migrations and pool stats.
func (c *Client) SQL() (*sql.DB, error) {
	pool, err := c.conn.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap sql.DB: %w", err)
	}
	return pool, nil
}

func (c *Client) Ping(ctx context.Context) error {
	pool, err := c.SQL()
	if err != nil {
		return err
	}
	return pool.PingContext(ctx)
}

func (c *Client) Close() error {
	pool, err := c.SQL()
	if err != nil {
		return err
	}
	return pool.Close()
}

// WithTx runs fn in one transaction. A returned error or a panic rolls back;
// row locks taken inside fn are held until then.
func (c *Client) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return c.conn.WithContext(ctx).Transaction(fn)
}
