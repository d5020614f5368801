package leave

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"leaveflow/internal/platform/events"
	"leaveflow/internal/requestctx"
)

const requestColumns = `
    id, requester_id, requester_name, kind, category, start_date, end_date, duration,
    reason, COALESCE(description, ''), COALESCE(assigned_to::text, ''), status,
    stage1_status, COALESCE(stage1_by, ''), COALESCE(stage1_by_name, ''), COALESCE(stage1_role, ''), COALESCE(stage1_remarks, ''), stage1_at,
    stage2_status, COALESCE(stage2_by, ''), COALESCE(stage2_by_name, ''), COALESCE(stage2_role, ''), COALESCE(stage2_remarks, ''), stage2_at,
    created_at, updated_at`

func scanRequest(row pgx.Row) (LeaveRequest, error) {
	var r LeaveRequest
	err := row.Scan(
		&r.ID, &r.RequesterID, &r.RequesterName, &r.Kind, &r.Category, &r.StartDate, &r.EndDate, &r.Duration,
		&r.Reason, &r.Description, &r.AssignedTo, &r.Status,
		&r.Stage1.Status, &r.Stage1.By, &r.Stage1.ByName, &r.Stage1.Role, &r.Stage1.Remarks, &r.Stage1.At,
		&r.Stage2.Status, &r.Stage2.By, &r.Stage2.ByName, &r.Stage2.Role, &r.Stage2.Remarks, &r.Stage2.At,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return LeaveRequest{}, err
	}
	r.StartDate = CivilDate(r.StartDate)
	r.EndDate = CivilDate(r.EndDate)
	return r, nil
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func (s *Store) Create(ctx context.Context, req LeaveRequest) (string, error) {
	var id string
	err := s.DB.QueryRow(ctx, `
    INSERT INTO leave_requests (
      requester_id, requester_name, kind, category, start_date, end_date, duration,
      reason, description, assigned_to, status, stage1_status, stage2_status, created_at, updated_at
    )
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
    RETURNING id
  `, req.RequesterID, req.RequesterName, req.Kind, req.Category, req.StartDate, req.EndDate, req.Duration,
		req.Reason, nullable(req.Description), nullable(req.AssignedTo), req.Status,
		req.Stage1.Status, req.Stage2.Status, req.CreatedAt, req.UpdatedAt).Scan(&id)
	if err != nil {
		return "", unavailable(err, "insert leave request")
	}
	s.notify(ctx, id)
	return id, nil
}

func (s *Store) Get(ctx context.Context, id string) (LeaveRequest, error) {
	if _, err := uuid.Parse(id); err != nil {
		return LeaveRequest{}, notFound(id)
	}
	req, err := scanRequest(s.DB.QueryRow(ctx, "SELECT "+requestColumns+" FROM leave_requests WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LeaveRequest{}, notFound(id)
		}
		return LeaveRequest{}, unavailable(err, "select leave request")
	}
	return req, nil
}

func (s *Store) Query(ctx context.Context, filter Filter) ([]LeaveRequest, error) {
	query := "SELECT " + requestColumns + " FROM leave_requests WHERE 1=1"
	var args []any
	if filter.RequesterID != "" {
		args = append(args, filter.RequesterID)
		query += fmt.Sprintf(" AND requester_id = $%d", len(args))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		query += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}
	if filter.Stage1Approved {
		args = append(args, DecisionApproved)
		query += fmt.Sprintf(" AND stage1_status = $%d", len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, CivilDate(filter.From))
		query += fmt.Sprintf(" AND end_date >= $%d", len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, CivilDate(filter.To))
		query += fmt.Sprintf(" AND start_date <= $%d", len(args))
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, unavailable(err, "query leave requests")
	}
	defer rows.Close()

	var out []LeaveRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, unavailable(err, "scan leave request")
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err, "iterate leave requests")
	}
	return out, nil
}

// Update is a single conditional statement: the status precondition is
// checked by Postgres at write time, so two approvers racing on the same
// row cannot both succeed.
func (s *Store) Update(ctx context.Context, id string, precondition Status, patch Patch) (LeaveRequest, error) {
	if _, err := uuid.Parse(id); err != nil {
		return LeaveRequest{}, notFound(id)
	}
	prefix := fmt.Sprintf("stage%d_", patch.Stage)
	set := strings.Join([]string{
		"status = $3",
		prefix + "status = $4",
		prefix + "by = $5",
		prefix + "by_name = $6",
		prefix + "role = $7",
		prefix + "remarks = $8",
		prefix + "at = $9",
		"updated_at = $10",
	}, ", ")

	req, err := scanRequest(s.DB.QueryRow(ctx, `
    UPDATE leave_requests SET `+set+`
    WHERE id = $1 AND status = $2 AND `+prefix+`status = 'pending'
    RETURNING `+requestColumns,
		id, precondition, patch.Status, patch.Record.Status, patch.Record.By, patch.Record.ByName,
		patch.Record.Role, nullable(patch.Record.Remarks), patch.Record.At, patch.UpdatedAt))
	if err == nil {
		s.notify(ctx, id)
		return req, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return LeaveRequest{}, unavailable(err, "update leave request")
	}

	var current Status
	if err := s.DB.QueryRow(ctx, "SELECT status FROM leave_requests WHERE id = $1", id).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LeaveRequest{}, notFound(id)
		}
		return LeaveRequest{}, unavailable(err, "reload leave request status")
	}
	return LeaveRequest{}, concurrentModification(id, current)
}

func (s *Store) Subscribe(ctx context.Context, filter Filter) (*Subscription, error) {
	return subscribe(ctx, s.Broker, s.Timeout, func(ctx context.Context) ([]LeaveRequest, error) {
		return s.Query(ctx, filter)
	})
}

func (s *Store) notify(ctx context.Context, id string) {
	if err := s.Broker.Publish(context.WithoutCancel(ctx), events.TopicLeaveRequests, id); err != nil {
		requestctx.Logger(ctx).Warn("leave change publish failed", "requestId", id, "err", err)
	}
}
