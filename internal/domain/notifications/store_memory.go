package notifications

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type MemoryStore struct {
	mu    sync.Mutex
	items []Notification
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) CreateNotification(_ context.Context, n Notification) (string, error) {
	n.ID = uuid.NewString()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	s.items = append(s.items, n)
	s.mu.Unlock()
	return n.ID, nil
}

// ListNotifications returns the user's notifications newest first.
func (s *MemoryStore) ListNotifications(_ context.Context, userID string, limit, offset int) ([]Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Notification{}
	skipped := 0
	for i := len(s.items) - 1; i >= 0 && len(out) < limit; i-- {
		if s.items[i].UserID != userID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, s.items[i])
	}
	return out, nil
}

func (s *MemoryStore) CountNotifications(_ context.Context, userID string) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total, unread int
	for _, n := range s.items {
		if n.UserID != userID {
			continue
		}
		total++
		if n.ReadAt == nil {
			unread++
		}
	}
	return total, unread, nil
}

func (s *MemoryStore) MarkRead(_ context.Context, userID, notificationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == notificationID && s.items[i].UserID == userID {
			if s.items[i].ReadAt == nil {
				now := time.Now().UTC()
				s.items[i].ReadAt = &now
			}
			return nil
		}
	}
	return ErrNotFound
}
