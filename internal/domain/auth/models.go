package auth

import (
	"errors"
	"time"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidRole        = errors.New("unknown role")
	ErrInvalidAssignment  = errors.New("assigned manager must be an existing HR, GM or AE user")
)

// User is the identity record read by the leave workflow. AssignedTo is the
// statically routed manager, empty when none is set.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName"`
	RoleName     string    `json:"role"`
	AssignedTo   string    `json:"assignedTo,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Label is the human-readable name used on approval records.
func (u User) Label() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Email
}

// UserUpdate carries the fields that may change on a user. Nil leaves a field
// untouched. HR manages role and routing; users edit their own name and phone.
type UserUpdate struct {
	DisplayName *string
	RoleName    *string
	AssignedTo  *string
	Phone       *string
}
