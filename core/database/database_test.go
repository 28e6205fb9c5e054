package database

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigDSNAndURL(t *testing.T) {
	cfg := Config{Host: "db", Port: "5432", User: "bot", Password: "p@ss word", Name: "flowbot"}
	if dsn := cfg.DSN(); !strings.Contains(dsn, "sslmode=disable") || !strings.Contains(dsn, "dbname=flowbot") {
		t.Fatalf("dsn = %q", dsn)
	}
	u := cfg.URL()
	if !strings.HasPrefix(u, "postgres://bot:") || !strings.HasSuffix(u, "@db:5432/flowbot?sslmode=disable") {
		t.Fatalf("url = %q", u)
	}
	if strings.Contains(u, " ") {
		t.Fatalf("password not escaped: %q", u)
	}
}

func TestResolveMigrationsDir(t *testing.T) {
	abs := filepath.Join(t.TempDir(), "m")
	if got, _ := resolveMigrationsDir(abs); got != abs {
		t.Fatalf("absolute dir = %q", got)
	}
	got, err := resolveMigrationsDir("")
	if err != nil || filepath.Base(got) != "migrations" {
		t.Fatalf("default dir = %q, %v", got, err)
	}
}

func TestAppliedMigrationSelection(t *testing.T) {
	files := []string{"000001_dialog_schema.up.sql", "000002_catalog_notify.up.sql", "000003_extra.up.sql"}
	if n := countApplied(files, 1, 3); n != 2 {
		t.Fatalf("count = %d", n)
	}
	if n := countApplied(files, 3, 3); n != 0 {
		t.Fatalf("no-op count = %d", n)
	}
	got := selectApplied(files, 0, 2)
	if len(got) != 2 || got[1] != "000002_catalog_notify.up.sql" {
		t.Fatalf("selected = %v", got)
	}
}
