package db

import (
	"context"
	"io/fs"
	"testing"

	"leaveflow/internal/domain/auth"
	"leaveflow/internal/platform/config"
)

func TestSeedCreatesHROnce(t *testing.T) {
	users := auth.NewMemoryStore()
	cfg := config.Config{SeedHREmail: "hr@example.com", SeedHRPassword: "change-me-please"}

	if err := Seed(context.Background(), users, cfg); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := Seed(context.Background(), users, cfg); err != nil {
		t.Fatalf("second seed: %v", err)
	}

	u, err := users.FindUserByEmail(context.Background(), "hr@example.com")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if u.RoleName != auth.RoleHR {
		t.Fatalf("expected HR role, got %s", u.RoleName)
	}
	if err := auth.CheckPassword(u.PasswordHash, "change-me-please"); err != nil {
		t.Fatalf("password mismatch: %v", err)
	}
}

func TestSeedSkipsWithoutCredentials(t *testing.T) {
	users := auth.NewMemoryStore()
	if err := Seed(context.Background(), users, config.Config{SeedHREmail: "hr@example.com"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := users.FindUserByEmail(context.Background(), "hr@example.com"); err == nil {
		t.Fatalf("expected no user to be created")
	}
}

func TestMigrationNamesSorted(t *testing.T) {
	files, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		t.Fatalf("sub: %v", err)
	}
	names, err := migrationNames(files)
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	if len(names) != 7 || names[0] != "0001_users.sql" || names[6] != "0007_user_phone.sql" {
		t.Fatalf("unexpected migrations %v", names)
	}
}
