package auth

import (
	"context"
	"errors"
	"strings"
	"time"
)

type Service struct {
	Store    StoreAPI
	Secret   string
	TokenTTL time.Duration
}

func NewService(store StoreAPI, secret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Service{Store: store, Secret: secret, TokenTTL: ttl}
}

// FindUser satisfies the directory lookup used for routing and role checks.
func (s *Service) FindUser(ctx context.Context, userID string) (User, error) {
	return s.Store.FindUser(ctx, userID)
}

// Login checks credentials and issues a bearer token.
func (s *Service) Login(ctx context.Context, email, password string) (string, User, error) {
	u, err := s.Store.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", User{}, ErrInvalidCredentials
		}
		return "", User{}, err
	}
	if err := CheckPassword(u.PasswordHash, password); err != nil {
		return "", User{}, ErrInvalidCredentials
	}
	token, err := GenerateToken(s.Secret, Claims{UserID: u.ID, Name: u.Label(), RoleName: u.RoleName}, s.TokenTTL)
	if err != nil {
		return "", User{}, err
	}
	return token, u, nil
}

// CheckAssignment verifies that managerID may receive routed requests for
// userID. Empty clears the routing and is always allowed.
func (s *Service) CheckAssignment(ctx context.Context, userID, managerID string) error {
	if managerID == "" {
		return nil
	}
	if managerID == userID {
		return ErrInvalidAssignment
	}
	manager, err := s.Store.FindUser(ctx, managerID)
	if errors.Is(err, ErrUserNotFound) {
		return ErrInvalidAssignment
	}
	if err != nil {
		return err
	}
	if !IsApprover(manager.RoleName) {
		return ErrInvalidAssignment
	}
	return nil
}

func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.Store.ListUsers(ctx)
}

func (s *Service) UpdateUser(ctx context.Context, userID string, update UserUpdate) (User, error) {
	if update.RoleName != nil && !ValidRole(*update.RoleName) {
		return User{}, ErrInvalidRole
	}
	if update.AssignedTo != nil {
		if err := s.CheckAssignment(ctx, userID, *update.AssignedTo); err != nil {
			return User{}, err
		}
	}
	return s.Store.UpdateUser(ctx, userID, update)
}

// UpdateProfile changes the caller's own display name and phone. Role and
// routing stay with HR.
func (s *Service) UpdateProfile(ctx context.Context, userID string, displayName, phone *string) (User, error) {
	return s.Store.UpdateUser(ctx, userID, UserUpdate{DisplayName: displayName, Phone: phone})
}

// ChangePassword replaces the password after re-checking the current one.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	u, err := s.Store.FindUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := CheckPassword(u.PasswordHash, current); err != nil {
		return ErrInvalidCredentials
	}
	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	return s.Store.UpdatePassword(ctx, userID, hash)
}

// Register creates a user with a hashed password. Role defaults to employee.
func (s *Service) Register(ctx context.Context, user User, password string) (User, error) {
	if strings.TrimSpace(user.RoleName) == "" {
		user.RoleName = RoleEmployee
	}
	if !ValidRole(user.RoleName) {
		return User{}, ErrInvalidRole
	}
	if err := s.CheckAssignment(ctx, "", user.AssignedTo); err != nil {
		return User{}, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return User{}, err
	}
	user.PasswordHash = hash
	id, err := s.Store.CreateUser(ctx, user)
	if err != nil {
		return User{}, err
	}
	user.ID = id
	return user, nil
}
