package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/migrate"
)

type options struct {
	cmd     string
	dir     string
	name    string
	version string
}

func main() {
	var opts options
	flag.StringVar(&opts.cmd, "cmd", "up", "up|down|redo|status|version|create|validate")
	flag.StringVar(&opts.dir, "dir", "", "migrations directory on disk (embedded migrations when empty)")
	flag.StringVar(&opts.name, "name", "", "migration name for -cmd=create")
	flag.StringVar(&opts.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	_ = godotenv.Load()
	logg := logger.New(logger.Options{ServiceName: "migrate", Level: logger.ParseLevel("")})

	if err := run(context.Background(), logg, opts); err != nil {
		logg.Error(context.Background(), "migrate failed", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logg *logger.Logger, opts options) error {
	ctx = logg.WithFields(ctx, map[string]any{"cmd": opts.cmd, "dir": opts.dir})

	// create and validate only touch files.
	switch opts.cmd {
	case "create":
		if opts.name == "" {
			return fmt.Errorf("-name is required for create")
		}
		dir := opts.dir
		if dir == "" {
			dir = migrate.DefaultDir
		}
		path, err := migrate.CreateSQLMigration(dir, opts.name)
		if err != nil {
			return err
		}
		logg.Info(logg.WithField(ctx, "path", path), "migration created")
		return nil
	case "validate":
		if err := migrate.ValidateDir(opts.dir); err != nil {
			return err
		}
		logg.Info(ctx, "migrations valid")
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})
	ctx = logg.WithField(ctx, "env", cfg.App.Env)

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()
	sqlDB, err := dbClient.SQL()
	if err != nil {
		return err
	}

	switch opts.cmd {
	case "up", "down", "redo", "status":
		err = migrate.Run(ctx, sqlDB, opts.dir, opts.cmd)
	case "version":
		if opts.version == "" {
			return fmt.Errorf("-version is required for version")
		}
		err = migrate.MigrateToVersion(ctx, sqlDB, opts.dir, opts.version)
	default:
		return fmt.Errorf("unknown -cmd %q", opts.cmd)
	}
	if err != nil {
		return err
	}
	logg.Info(ctx, "migration command finished")
	return nil
}
