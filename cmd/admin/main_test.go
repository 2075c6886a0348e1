package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/adaptivelb/server/pkg/store"
)

func TestRun(t *testing.T) {
	t.Setenv("API_BCRYPT_COST", "4")
	dir := t.TempDir()
	path := filepath.Join(dir, "monitoring.db")

	admin := options{
		envFile:     filepath.Join(dir, ".env"),
		dbPath:      path,
		createAdmin: true,
		name:        "Jane",
		email:       "jane@example.com",
		password:    "correct horse",
		cleanup:     -1,
	}

	if err := run(admin); err != nil {
		t.Fatalf("run: %v", err)
	}

	err := run(admin)
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected a duplicate email error, got %v", err)
	}

	missing := admin
	missing.password = ""
	if err := run(missing); err == nil {
		t.Fatal("expected an error without a password")
	}

	// the failed runs closed the database, so it can be opened and read again
	config := store.NewConfig()
	config.Path = path
	db, err := store.New(config, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	defer db.Close()

	account, err := db.FindUserByEmail(context.Background(), "jane@example.com")
	if err != nil {
		t.Fatalf("FindUserByEmail: %v", err)
	}
	if account.Role != store.RoleAdmin {
		t.Fatalf("expected role %s, got %s", store.RoleAdmin, account.Role)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("API_BCRYPT_COST", "100")

	opts := options{
		envFile: filepath.Join(t.TempDir(), ".env"),
		dbPath:  filepath.Join(t.TempDir(), "monitoring.db"),
		cleanup: -1,
		counts:  true,
	}

	if err := run(opts); err == nil {
		t.Fatal("expected an invalid auth config error")
	}
}
