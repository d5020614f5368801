package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestServiceRegisterAndLogin(t *testing.T) {
	svc := NewService(NewMemoryStore(), "secret", time.Hour)
	ctx := context.Background()

	user, err := svc.Register(ctx, User{Email: "emma@example.com", DisplayName: "Emma"}, "Password123!")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.RoleName != RoleEmployee {
		t.Fatalf("expected default employee role, got %s", user.RoleName)
	}

	token, loggedIn, err := svc.Login(ctx, "EMMA@example.com", "Password123!")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if loggedIn.ID != user.ID {
		t.Fatalf("expected user %s, got %s", user.ID, loggedIn.ID)
	}
	claims, err := ParseToken("secret", token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != user.ID || claims.Name != "Emma" {
		t.Fatalf("unexpected claims %+v", claims)
	}

	if _, _, err := svc.Login(ctx, "emma@example.com", "nope"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, _, err := svc.Login(ctx, "ghost@example.com", "nope"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown email, got %v", err)
	}
	if _, err := svc.Register(ctx, User{Email: "emma@example.com"}, "x"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected duplicate email error, got %v", err)
	}
}

func TestUserLabel(t *testing.T) {
	if got := (User{Email: "a@example.com"}).Label(); got != "a@example.com" {
		t.Fatalf("expected email fallback, got %s", got)
	}
	if got := (User{Email: "a@example.com", DisplayName: "Ada"}).Label(); got != "Ada" {
		t.Fatalf("expected display name, got %s", got)
	}
}

func TestServiceUpdateUserRouting(t *testing.T) {
	store := NewMemoryStore(
		User{ID: "emp-1", Email: "eve@example.com", DisplayName: "Eve", RoleName: RoleEmployee},
		User{ID: "emp-2", Email: "sam@example.com", DisplayName: "Sam", RoleName: RoleEmployee},
		User{ID: "gm-1", Email: "gus@example.com", DisplayName: "Gus", RoleName: RoleGM},
	)
	svc := NewService(store, "secret", time.Hour)
	ctx := context.Background()
	ptr := func(s string) *string { return &s }

	updated, err := svc.UpdateUser(ctx, "emp-1", UserUpdate{AssignedTo: ptr("gm-1")})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if updated.AssignedTo != "gm-1" || updated.RoleName != RoleEmployee {
		t.Fatalf("unexpected user %+v", updated)
	}

	for name, update := range map[string]UserUpdate{
		"employee manager": {AssignedTo: ptr("emp-2")},
		"self":             {AssignedTo: ptr("emp-1")},
		"unknown manager":  {AssignedTo: ptr("ghost")},
	} {
		if _, err := svc.UpdateUser(ctx, "emp-1", update); !errors.Is(err, ErrInvalidAssignment) {
			t.Fatalf("%s: expected invalid assignment, got %v", name, err)
		}
	}
	if _, err := svc.UpdateUser(ctx, "emp-1", UserUpdate{RoleName: ptr("intern")}); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected invalid role, got %v", err)
	}

	cleared, err := svc.UpdateUser(ctx, "emp-1", UserUpdate{AssignedTo: ptr(""), RoleName: ptr(RoleAE)})
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if cleared.AssignedTo != "" || cleared.RoleName != RoleAE {
		t.Fatalf("unexpected user %+v", cleared)
	}

	users, err := svc.ListUsers(ctx)
	if err != nil || len(users) != 3 || users[0].DisplayName != "Eve" {
		t.Fatalf("unexpected listing %+v err=%v", users, err)
	}
}

func TestServiceProfileAndPassword(t *testing.T) {
	svc := NewService(NewMemoryStore(), "secret", time.Hour)
	ctx := context.Background()

	user, err := svc.Register(ctx, User{Email: "emma@example.com", DisplayName: "Emma", RoleName: RoleGM}, "Password123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	name, phone := "Emma Stone", "+44 20 7946 0000"
	updated, err := svc.UpdateProfile(ctx, user.ID, &name, &phone)
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if updated.DisplayName != name || updated.Phone != phone || updated.RoleName != RoleGM {
		t.Fatalf("unexpected profile %+v", updated)
	}

	if err := svc.ChangePassword(ctx, user.ID, "wrong", "Newpass123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if err := svc.ChangePassword(ctx, user.ID, "Password123", "Newpass123"); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if _, _, err := svc.Login(ctx, "emma@example.com", "Password123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password still accepted: %v", err)
	}
	if _, _, err := svc.Login(ctx, "emma@example.com", "Newpass123"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
	if err := svc.ChangePassword(ctx, "ghost", "x", "Newpass123"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
