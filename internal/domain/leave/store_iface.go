package leave

import (
	"context"
	"time"
)

// Filter selects requests for queries and live subscriptions. Zero fields
// do not constrain.
type Filter struct {
	RequesterID string
	Statuses    []Status
	// Stage1Approved keeps only requests that passed the HR gate.
	Stage1Approved bool
	// From and To keep requests whose range intersects [From, To].
	From time.Time
	To   time.Time
}

func (f Filter) Match(r LeaveRequest) bool {
	if f.RequesterID != "" && r.RequesterID != f.RequesterID {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if r.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Stage1Approved && r.Stage1.Status != DecisionApproved {
		return false
	}
	if !f.From.IsZero() && CivilDate(r.EndDate).Before(CivilDate(f.From)) {
		return false
	}
	if !f.To.IsZero() && CivilDate(r.StartDate).After(CivilDate(f.To)) {
		return false
	}
	return true
}

// RequestStore persists leave requests. It holds no business rules beyond
// the status precondition on Update.
type RequestStore interface {
	Create(ctx context.Context, req LeaveRequest) (string, error)
	Get(ctx context.Context, id string) (LeaveRequest, error)
	// Query returns matching requests, newest first.
	Query(ctx context.Context, filter Filter) ([]LeaveRequest, error)
	// Update applies patch only if the stored status still equals
	// precondition; otherwise it fails with ConcurrentModification.
	Update(ctx context.Context, id string, precondition Status, patch Patch) (LeaveRequest, error)
	Subscribe(ctx context.Context, filter Filter) (*Subscription, error)
}
