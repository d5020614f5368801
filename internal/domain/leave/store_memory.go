package leave

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"leaveflow/internal/platform/events"
	"leaveflow/internal/requestctx"
)

// MemoryStore keeps requests in process. Update holds the write lock across
// the status check and the write, which gives the same compare-and-swap
// contract as the Postgres store.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]LeaveRequest
	Broker   events.Broker
	Timeout  time.Duration
}

func NewMemoryStore(broker events.Broker) *MemoryStore {
	if broker == nil {
		broker = events.NewMemoryBroker()
	}
	return &MemoryStore{requests: map[string]LeaveRequest{}, Broker: broker, Timeout: defaultStoreTimeout}
}

func (s *MemoryStore) Create(ctx context.Context, req LeaveRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", unavailable(err, "create leave request")
	}
	req.ID = uuid.NewString()
	s.mu.Lock()
	s.requests[req.ID] = req
	s.mu.Unlock()
	s.notify(ctx, req.ID)
	return req.ID, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (LeaveRequest, error) {
	if err := ctx.Err(); err != nil {
		return LeaveRequest{}, unavailable(err, "get leave request")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return LeaveRequest{}, notFound(id)
	}
	return req, nil
}

func (s *MemoryStore) Query(ctx context.Context, filter Filter) ([]LeaveRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(err, "query leave requests")
	}
	s.mu.RLock()
	out := make([]LeaveRequest, 0, len(s.requests))
	for _, req := range s.requests {
		if filter.Match(req) {
			out = append(out, req)
		}
	}
	s.mu.RUnlock()
	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, precondition Status, patch Patch) (LeaveRequest, error) {
	if err := ctx.Err(); err != nil {
		return LeaveRequest{}, unavailable(err, "update leave request")
	}
	s.mu.Lock()
	req, ok := s.requests[id]
	if !ok {
		s.mu.Unlock()
		return LeaveRequest{}, notFound(id)
	}
	if req.Status != precondition {
		s.mu.Unlock()
		return LeaveRequest{}, concurrentModification(id, req.Status)
	}
	req.Apply(patch)
	s.requests[id] = req
	s.mu.Unlock()

	s.notify(ctx, id)
	return req, nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, filter Filter) (*Subscription, error) {
	return subscribe(ctx, s.Broker, s.Timeout, func(ctx context.Context) ([]LeaveRequest, error) {
		return s.Query(ctx, filter)
	})
}

func (s *MemoryStore) notify(ctx context.Context, id string) {
	if err := s.Broker.Publish(context.WithoutCancel(ctx), events.TopicLeaveRequests, id); err != nil {
		requestctx.Logger(ctx).Warn("leave change publish failed", "requestId", id, "err", err)
	}
}

func sortNewestFirst(reqs []LeaveRequest) {
	sort.SliceStable(reqs, func(i, j int) bool {
		if reqs[i].CreatedAt.Equal(reqs[j].CreatedAt) {
			return reqs[i].ID > reqs[j].ID
		}
		return reqs[i].CreatedAt.After(reqs[j].CreatedAt)
	})
}
