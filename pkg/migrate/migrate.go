// Package migrate applies the goose SQL migrations. The schema ships inside
// the binary; a directory on disk is only read when explicitly requested.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/pressly/goose/v3"
)

// DefaultDir is where `migrate -cmd=create` writes new files.
const DefaultDir = "pkg/migrate/migrations"

const embeddedDir = "migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// Source selects the migration files: the embedded set when dir is empty,
// otherwise the directory on disk.
func Source(dir string) (fs.FS, string) {
	if dir == "" {
		return embedded, embeddedDir
	}
	return os.DirFS(dir), "."
}

func prepare(dir string) (string, error) {
	fsys, root := Source(dir)
	goose.SetBaseFS(fsys)
	if err := goose.SetDialect("postgres"); err != nil {
		return "", fmt.Errorf("set goose dialect: %w", err)
	}
	return root, nil
}

// Run executes a goose command (up, down, redo, status) against db.
func Run(ctx context.Context, db *sql.DB, dir string, command string, args ...string) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}
	root, err := prepare(dir)
	if err != nil {
		return err
	}
	if err := goose.RunContext(ctx, command, db, root, args...); err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}
	return nil
}

// MigrateToVersion moves the schema up or down until it sits at target.
func MigrateToVersion(ctx context.Context, db *sql.DB, dir string, target string) error {
	version, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", target, err)
	}
	root, err := prepare(dir)
	if err != nil {
		return err
	}
	current, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return fmt.Errorf("get db version: %w", err)
	}
	switch {
	case current < version:
		err = goose.UpToContext(ctx, db, root, version)
	case current > version:
		err = goose.DownToContext(ctx, db, root, version)
	}
	if err != nil {
		return fmt.Errorf("goose migrate %d -> %d: %w", current, version, err)
	}
	return nil
}
