package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/angelmondragon/storefront-backend/pkg/migrate"
)

func TestStorefrontMigrationContainsConstraints(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_init_storefront.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no storefront migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TABLE IF NOT EXISTS stock_units",
		"CHECK (available_quantity >= 0)",
		"FOREIGN KEY (stock_unit_id) REFERENCES stock_units(id) ON DELETE RESTRICT",
		"CONSTRAINT payment_transactions_session_key UNIQUE (external_session_id)",
		"CHECK (quantity > 0)",
		"DROP TABLE IF EXISTS stock_units",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestRefundLedgerMigrationKeysRefundIDs(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_payment_refunds.sql"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected one refund ledger migration, got %v (%v)", matches, err)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)
	for _, sub := range []string{
		"REFERENCES payment_transactions(id) ON DELETE CASCADE",
		"CONSTRAINT payment_refunds_external_key UNIQUE (external_refund_id)",
		"CHECK (amount_cents > 0)",
		"DROP TABLE IF EXISTS payment_refunds",
	} {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestMigrationDirValidates(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations: %v", err)
	}
}

func TestEmbeddedMigrationsValidate(t *testing.T) {
	if err := migrate.ValidateDir(""); err != nil {
		t.Fatalf("embedded migrations invalid: %v", err)
	}
}

func TestCreateSQLMigrationProducesValidFile(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Order Notes!")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasSuffix(path, "_add_order_notes.sql") {
		t.Fatalf("unexpected file name %q", path)
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("generated migration should validate: %v", err)
	}
}

func TestValidateRejectsBadNames(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "init.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := migrate.ValidateDir(dir); err == nil {
		t.Fatalf("expected invalid filename error")
	}
}
