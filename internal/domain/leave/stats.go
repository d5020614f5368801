package leave

import (
	"context"
	"time"

	"leaveflow/internal/domain/auth"
)

const statsMonths = 6

type MonthlyStat struct {
	Month    string `json:"month"`
	Approved int    `json:"approved"`
	Rejected int    `json:"rejected"`
	Pending  int    `json:"pending"`
}

type Stats struct {
	Total        int              `json:"total"`
	Pending      int              `json:"pending"`
	HRApproved   int              `json:"hrApproved"`
	Approved     int              `json:"approved"`
	Rejected     int              `json:"rejected"`
	ApprovedDays int              `json:"approvedDays"`
	ByCategory   map[Category]int `json:"byCategory"`
	Monthly      []MonthlyStat    `json:"monthly"`

	TotalEmployees int `json:"totalEmployees"`
	MyTeamSize     int `json:"myTeamSize"`
}

// UserLister is implemented by directories that can enumerate users. The
// headcount fields of Stats stay zero when the directory cannot.
type UserLister interface {
	ListUsers(ctx context.Context) ([]auth.User, error)
}

// Summarize counts requests by status and category, and buckets them by
// creation month over the last `months` months ending at now. In-flight
// requests (pending or hr_approved) count as pending in the monthly view.
func Summarize(reqs []LeaveRequest, now time.Time, months int) Stats {
	stats := Stats{ByCategory: map[Category]int{}}
	now = now.UTC()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(months - 1), 0)
	index := map[string]int{}
	for i := 0; i < months; i++ {
		key := first.AddDate(0, i, 0).Format("2006-01")
		index[key] = i
		stats.Monthly = append(stats.Monthly, MonthlyStat{Month: key})
	}

	for _, r := range reqs {
		stats.Total++
		stats.ByCategory[r.Category]++
		switch r.Status {
		case StatusPending:
			stats.Pending++
		case StatusHRApproved:
			stats.HRApproved++
		case StatusApproved:
			stats.Approved++
			stats.ApprovedDays += r.Duration
		case StatusRejected:
			stats.Rejected++
		}

		i, ok := index[r.CreatedAt.UTC().Format("2006-01")]
		if !ok {
			continue
		}
		switch r.Status {
		case StatusApproved:
			stats.Monthly[i].Approved++
		case StatusRejected:
			stats.Monthly[i].Rejected++
		default:
			stats.Monthly[i].Pending++
		}
	}
	return stats
}

func (s *Service) Stats(ctx context.Context, v Viewer) (Stats, error) {
	reqs, err := s.ListFor(ctx, Viewer{ID: v.ID, Role: v.Role})
	if err != nil {
		return Stats{}, err
	}
	stats := Summarize(reqs, s.Now(), statsMonths)

	lister, ok := s.Routing.Directory.(UserLister)
	if !ok {
		return stats, nil
	}
	users, err := lister.ListUsers(ctx)
	if err != nil {
		return Stats{}, unavailable(err, "list users")
	}
	stats.TotalEmployees = len(users)
	if v.Role != auth.RoleEmployee {
		for _, u := range users {
			if u.AssignedTo == v.ID {
				stats.MyTeamSize++
			}
		}
	}
	return stats, nil
}
