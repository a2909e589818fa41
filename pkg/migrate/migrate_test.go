package migrate

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"
)

func TestEmbeddedMigrationsAreValid(t *testing.T) {
	if err := ValidateFS(Migrations, EmbeddedDir); err != nil {
		t.Fatalf("embedded migrations invalid: %v", err)
	}
}

func TestEmbeddedMigrationsDeclareUniquenessGuards(t *testing.T) {
	var all strings.Builder
	err := fs.WalkDir(Migrations, EmbeddedDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		b, err := fs.ReadFile(Migrations, p)
		if err != nil {
			return err
		}
		all.Write(b)
		return nil
	})
	if err != nil {
		t.Fatalf("walk: %v", err)
	}

	sql := all.String()
	for _, want := range []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_payment_events_reference",
		"ON subscriptions (user_id, plan_id) WHERE status = 'active'",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_coupons_code",
	} {
		if !strings.Contains(sql, want) {
			t.Fatalf("expected migrations to contain %q", want)
		}
	}
}

func TestValidateFSRejectsBadFiles(t *testing.T) {
	cases := map[string]fstest.MapFS{
		"bad name": {
			"m/create_things.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		},
		"duplicate version": {
			"m/20260101000000_a.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
			"m/20260101000000_b.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		},
		"missing down": {
			"m/20260101000000_a.sql": {Data: []byte("-- +goose Up\n")},
		},
	}
	for name, fsys := range cases {
		if err := ValidateFS(fsys, "m"); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestCreateSQLMigrationWritesValidFile(t *testing.T) {
	dir := t.TempDir()
	path, err := CreateSQLMigration(dir, "Add Coupon Index!")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasSuffix(filepath.Base(path), "_add_coupon_index.sql") {
		t.Fatalf("unexpected filename %s", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("stat: %v", err)
	}
	if err := ValidateDir(dir); err != nil {
		t.Fatalf("generated migration should validate: %v", err)
	}
}

func TestCreateSQLMigrationRefusesDuplicateVersion(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 10, 10, 2, 0, 0, 0, time.UTC)
	if _, err := createSQLMigration(dir, "subscriptions", now); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := createSQLMigration(dir, "subscriptions", now); err == nil {
		t.Fatalf("expected duplicate migration error")
	}
	if _, err := createSQLMigration(dir, "!!!", now); err == nil {
		t.Fatalf("expected empty slug error")
	}
}
