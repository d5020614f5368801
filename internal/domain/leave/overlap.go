package leave

import (
	"context"
	"time"
)

// OverlapValidator checks a candidate range against the requester's
// approved requests. Pending and rejected requests never block.
type OverlapValidator struct {
	Store RequestStore
}

// FindOverlap returns the first approved request of userID sharing a day
// with [start, end], or nil.
func (v OverlapValidator) FindOverlap(ctx context.Context, userID string, start, end time.Time) (*LeaveRequest, error) {
	approved, err := v.Store.Query(ctx, Filter{RequesterID: userID, Statuses: []Status{StatusApproved}})
	if err != nil {
		return nil, err
	}
	candidate := DateRange{Start: start, End: end}
	for _, existing := range approved {
		if Overlaps(candidate, existing.Range()) {
			found := existing
			return &found, nil
		}
	}
	return nil, nil
}

func (v OverlapValidator) HasOverlap(ctx context.Context, userID string, start, end time.Time) (bool, error) {
	found, err := v.FindOverlap(ctx, userID, start, end)
	return found != nil, err
}
