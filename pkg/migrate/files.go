package migrate

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

var (
	fileNameRe  = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)
	slugCleanRe = regexp.MustCompile(`[^a-z0-9]+`)
)

// Validate checks every .sql file under root in fsys: timestamped name,
// unique version, and both goose sections present.
func Validate(fsys fs.FS, root string) error {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	names := []string{}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	versions := map[string]string{}
	for _, name := range names {
		m := fileNameRe.FindStringSubmatch(name)
		if m == nil {
			return fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name)
		}
		if prev, dup := versions[m[1]]; dup {
			return fmt.Errorf("migration version %s used by %q and %q", m[1], prev, name)
		}
		versions[m[1]] = name

		body, err := fs.ReadFile(fsys, path.Join(root, name))
		if err != nil {
			return fmt.Errorf("read %q: %w", name, err)
		}
		for _, marker := range []string{"-- +goose Up", "-- +goose Down"} {
			if !strings.Contains(string(body), marker) {
				return fmt.Errorf("migration %q missing %q", name, marker)
			}
		}
	}
	return nil
}

// ValidateDir validates the migrations selected by Source(dir).
func ValidateDir(dir string) error {
	fsys, root := Source(dir)
	return Validate(fsys, root)
}

// CreateSQLMigration writes an empty goose migration named
// <YYYYMMDDHHMMSS>_<slug>.sql into dir and returns its path.
func CreateSQLMigration(dir, name string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("dir is required")
	}
	slug := strings.Trim(slugCleanRe.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if slug == "" {
		return "", fmt.Errorf("migration name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %q: %w", dir, err)
	}

	file := filepath.Join(dir, fmt.Sprintf("%s_%s.sql", time.Now().UTC().Format("20060102150405"), slug))
	body := "-- +goose Up\n-- +goose StatementBegin\n\n-- +goose StatementEnd\n\n-- +goose Down\n-- +goose StatementBegin\n\n-- +goose StatementEnd\n"

	f, err := os.OpenFile(file, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create migration: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(body); err != nil {
		return "", fmt.Errorf("write migration: %w", err)
	}
	return file, nil
}
