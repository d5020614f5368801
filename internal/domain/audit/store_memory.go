package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type MemoryStore struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Insert(_ context.Context, evt Event) error {
	evt.ID = uuid.NewString()
	evt.CreatedAt = time.Now().UTC()
	s.mu.Lock()
	s.events = append(s.events, evt)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Count(_ context.Context, filter Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, evt := range s.events {
		if filter.Match(evt) {
			total++
		}
	}
	return total, nil
}

func (s *MemoryStore) List(_ context.Context, filter Filter, includeDetails bool, limit, offset int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Event{}
	skipped := 0
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		evt := s.events[i]
		if !filter.Match(evt) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if !includeDetails {
			evt.Before, evt.After = nil, nil
		}
		out = append(out, evt)
	}
	return out, nil
}
