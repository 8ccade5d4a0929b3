package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeMigration(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadMigrations_sortedByVersion(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "010_audit.up.sql")
	writeMigration(t, dir, "001_init.up.sql")
	writeMigration(t, dir, "002_policies.up.sql")
	writeMigration(t, dir, "002_policies.down.sql") // ignored
	writeMigration(t, dir, "notes.txt")             // ignored

	got, err := loadMigrations(dir)
	if err != nil {
		t.Fatalf("loadMigrations: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(got))
	}
	wantVersions := []int64{1, 2, 10}
	wantNames := []string{"init", "policies", "audit"}
	for i, m := range got {
		if m.version != wantVersions[i] {
			t.Errorf("migration %d: expected version %d, got %d", i, wantVersions[i], m.version)
		}
		if m.name != wantNames[i] {
			t.Errorf("migration %d: expected name %q, got %q", i, wantNames[i], m.name)
		}
	}
}

func TestLoadMigrations_duplicateVersion(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "001_init.up.sql")
	writeMigration(t, dir, "001_again.up.sql")

	if _, err := loadMigrations(dir); err == nil {
		t.Fatal("expected error for duplicate version, got nil")
	}
}

func TestParseMigration_malformed(t *testing.T) {
	for _, name := range []string{"init.up.sql", "abc_init.up.sql"} {
		if _, err := parseMigration(t.TempDir(), name); err == nil {
			t.Errorf("%s: expected parse error, got nil", name)
		}
	}
}
