package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps users in process. It backs tests and single-node
// development runs without Postgres.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]User
}

func NewMemoryStore(users ...User) *MemoryStore {
	s := &MemoryStore{users: make(map[string]User, len(users))}
	for _, u := range users {
		if u.ID == "" {
			u.ID = uuid.NewString()
		}
		s.users[u.ID] = u
	}
	return s
}

func (s *MemoryStore) FindUser(_ context.Context, userID string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (s *MemoryStore) FindUserByEmail(_ context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, strings.TrimSpace(email)) {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (s *MemoryStore) CreateUser(_ context.Context, user User) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, strings.TrimSpace(user.Email)) {
			return "", ErrEmailTaken
		}
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.users[user.ID] = user
	return user.ID, nil
}

func (s *MemoryStore) ListUsers(_ context.Context) ([]User, error) {
	s.mu.RLock()
	users := make([]User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	s.mu.RUnlock()
	sort.Slice(users, func(i, j int) bool {
		if users[i].DisplayName == users[j].DisplayName {
			return users[i].Email < users[j].Email
		}
		return users[i].DisplayName < users[j].DisplayName
	})
	return users, nil
}

func (s *MemoryStore) UpdateUser(_ context.Context, userID string, update UserUpdate) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	if update.DisplayName != nil {
		u.DisplayName = *update.DisplayName
	}
	if update.RoleName != nil {
		u.RoleName = *update.RoleName
	}
	if update.AssignedTo != nil {
		u.AssignedTo = *update.AssignedTo
	}
	if update.Phone != nil {
		u.Phone = *update.Phone
	}
	s.users[userID] = u
	return u, nil
}

func (s *MemoryStore) UpdatePassword(_ context.Context, userID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = passwordHash
	s.users[userID] = u
	return nil
}
