package db

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"leaveflow/internal/domain/auth"
	"leaveflow/internal/platform/config"
)

// Seed creates the first HR account so a fresh deployment has someone who
// can approve requests. Existing accounts are left alone.
func Seed(ctx context.Context, users auth.StoreAPI, cfg config.Config) error {
	email := strings.TrimSpace(cfg.SeedHREmail)
	if email == "" || strings.TrimSpace(cfg.SeedHRPassword) == "" {
		return nil
	}

	_, err := users.FindUserByEmail(ctx, email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, auth.ErrUserNotFound) {
		return err
	}

	hash, err := auth.HashPassword(cfg.SeedHRPassword)
	if err != nil {
		return err
	}
	id, err := users.CreateUser(ctx, auth.User{
		Email:        email,
		DisplayName:  "HR",
		RoleName:     auth.RoleHR,
		PasswordHash: hash,
	})
	if err != nil && !errors.Is(err, auth.ErrEmailTaken) {
		return err
	}
	slog.Info("seeded HR account", "userId", id, "email", email)
	return nil
}
