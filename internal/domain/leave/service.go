package leave

import (
	"context"
	"errors"
	"strings"
	"time"

	"leaveflow/internal/domain/auth"
	"leaveflow/internal/requestctx"
)

// DecisionRecorder receives the outcome of every Decide call.
type DecisionRecorder interface {
	RecordDecision(outcome string)
}

// Notifier is told about successful writes. It runs after the store write
// and cannot fail the operation.
type Notifier interface {
	RequestSubmitted(ctx context.Context, req LeaveRequest)
	RequestDecided(ctx context.Context, req LeaveRequest)
}

type Service struct {
	Store    RequestStore
	Overlap  OverlapValidator
	Routing  RoutingResolver
	Metrics  DecisionRecorder
	Notifier Notifier
	Timeout  time.Duration
	Now      func() time.Time
}

func NewService(store RequestStore, directory UserDirectory) *Service {
	return &Service{
		Store:   store,
		Overlap: OverlapValidator{Store: store},
		Routing: RoutingResolver{Directory: directory},
		Timeout: defaultStoreTimeout,
		Now:     time.Now,
	}
}

type SubmitInput struct {
	RequesterID   string
	RequesterName string
	Kind          Kind
	Category      Category
	StartDate     time.Time
	EndDate       time.Time
	Reason        string
	Description   string
}

type DecideInput struct {
	RequestID string
	Actor     Actor
	Decision  Decision
	Remarks   string
}

// Viewer is the caller of a listing. Status optionally narrows the result.
type Viewer struct {
	ID     string
	Role   string
	Status Status
}

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.Timeout)
}

func (s *Service) Submit(ctx context.Context, in SubmitInput) (LeaveRequest, error) {
	if strings.TrimSpace(in.RequesterID) == "" {
		return LeaveRequest{}, invalidInput("requester is required")
	}
	if !in.Kind.Valid() {
		return LeaveRequest{}, invalidInput("unknown request kind %q", in.Kind)
	}
	if !in.Category.Valid() {
		return LeaveRequest{}, invalidInput("unknown leave category %q", in.Category)
	}
	if strings.TrimSpace(in.Reason) == "" {
		return LeaveRequest{}, invalidInput("reason is required")
	}
	start, end := CivilDate(in.StartDate), CivilDate(in.EndDate)
	duration, err := CalculateDays(start, end)
	if err != nil {
		return LeaveRequest{}, err
	}

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	conflict, err := s.Overlap.FindOverlap(storeCtx, in.RequesterID, start, end)
	if err != nil {
		return LeaveRequest{}, err
	}
	if conflict != nil {
		r := conflict.Range()
		return LeaveRequest{}, &Error{
			Kind:     KindOverlappingApproval,
			Message:  "you already have an approved leave from " + r.String(),
			Conflict: &r,
		}
	}

	now := s.Now().UTC()
	req := LeaveRequest{
		RequesterID:   in.RequesterID,
		RequesterName: in.RequesterName,
		Kind:          in.Kind,
		Category:      in.Category,
		StartDate:     start,
		EndDate:       end,
		Duration:      duration,
		Reason:        strings.TrimSpace(in.Reason),
		Description:   strings.TrimSpace(in.Description),
		AssignedTo:    s.Routing.ResolveApprover(storeCtx, in.RequesterID),
		Status:        StatusPending,
		Stage1:        pendingRecord(),
		Stage2:        pendingRecord(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	id, err := s.Store.Create(storeCtx, req)
	if err != nil {
		return LeaveRequest{}, err
	}
	req.ID = id
	requestctx.Logger(ctx).Info("leave request submitted", "requestId", id, "requesterId", req.RequesterID, "duration", req.Duration)
	if s.Notifier != nil {
		notifyCtx, cancel := s.storeCtx(ctx)
		s.Notifier.RequestSubmitted(notifyCtx, req)
		cancel()
	}
	return req, nil
}

// Decide applies one approval decision. The write is conditional on the
// status that was read, so a concurrent decision on the same request makes
// this call fail with ConcurrentModification instead of overwriting it.
func (s *Service) Decide(ctx context.Context, in DecideInput) (LeaveRequest, error) {
	req, err := s.decide(ctx, in)
	s.record(err)
	if err == nil && s.Notifier != nil {
		notifyCtx, cancel := s.storeCtx(ctx)
		s.Notifier.RequestDecided(notifyCtx, req)
		cancel()
	}
	return req, err
}

func (s *Service) decide(ctx context.Context, in DecideInput) (LeaveRequest, error) {
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	current, err := s.Store.Get(storeCtx, in.RequestID)
	if err != nil {
		return LeaveRequest{}, err
	}
	actor, err := s.currentActor(storeCtx, in.Actor, current.Status)
	if err != nil {
		return LeaveRequest{}, err
	}
	patch, err := Plan(current, actor, in.Decision, strings.TrimSpace(in.Remarks), s.Now())
	if err != nil {
		return LeaveRequest{}, err
	}
	updated, err := s.Store.Update(storeCtx, in.RequestID, current.Status, patch)
	if err != nil {
		return LeaveRequest{}, err
	}
	requestctx.Logger(ctx).Info("leave request decided",
		"requestId", updated.ID,
		"stage", int(patch.Stage),
		"decision", string(in.Decision),
		"role", actor.Role,
		"status", string(updated.Status),
	)
	return updated, nil
}

// currentActor replaces the role carried by the caller's token with the
// role the directory holds now, so a demotion takes effect before the old
// token expires. Without a directory the token role is trusted.
func (s *Service) currentActor(ctx context.Context, actor Actor, current Status) (Actor, error) {
	if s.Routing.Directory == nil {
		return actor, nil
	}
	user, err := s.Routing.Directory.FindUser(ctx, actor.ID)
	if errors.Is(err, auth.ErrUserNotFound) {
		return Actor{}, illegalTransition(current, actor.Role, "acting user no longer exists")
	}
	if err != nil {
		return Actor{}, unavailable(err, "resolve approver role")
	}
	if user.RoleName != actor.Role {
		requestctx.Logger(ctx).Info("approver role changed since token issue",
			"userId", actor.ID, "tokenRole", actor.Role, "role", user.RoleName)
	}
	actor.Role = user.RoleName
	return actor, nil
}

func (s *Service) record(err error) {
	if s.Metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	s.Metrics.RecordDecision(outcome)
}

func (s *Service) Get(ctx context.Context, id string) (LeaveRequest, error) {
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.Store.Get(storeCtx, id)
}

// FilterFor maps a viewer to the requests it may see: employees their own,
// HR everything, GM and AE only what passed the HR gate.
func FilterFor(v Viewer) (Filter, error) {
	var f Filter
	switch v.Role {
	case auth.RoleEmployee:
		if v.ID == "" {
			return Filter{}, invalidInput("viewer id is required")
		}
		f.RequesterID = v.ID
	case auth.RoleHR:
	case auth.RoleGM, auth.RoleAE:
		f.Stage1Approved = true
	default:
		return Filter{}, invalidInput("unknown role %q", v.Role)
	}
	if v.Status != "" {
		if !v.Status.Valid() {
			return Filter{}, invalidInput("unknown status %q", v.Status)
		}
		f.Statuses = []Status{v.Status}
	}
	return f, nil
}

// CanView reports whether the viewer's listing would include req.
func CanView(v Viewer, req LeaveRequest) bool {
	f, err := FilterFor(Viewer{ID: v.ID, Role: v.Role})
	if err != nil {
		return false
	}
	return f.Match(req)
}

func (s *Service) ListFor(ctx context.Context, v Viewer) ([]LeaveRequest, error) {
	f, err := FilterFor(v)
	if err != nil {
		return nil, err
	}
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.Store.Query(storeCtx, f)
}

// WatchFor is the live form of ListFor. The caller must Cancel the
// subscription when done.
func (s *Service) WatchFor(ctx context.Context, v Viewer) (*Subscription, error) {
	f, err := FilterFor(v)
	if err != nil {
		return nil, err
	}
	return s.Store.Subscribe(ctx, f)
}

// Calendar returns approved requests visible to the viewer that intersect
// [from, to]. Zero bounds are open.
func (s *Service) Calendar(ctx context.Context, v Viewer, from, to time.Time) ([]LeaveRequest, error) {
	if !from.IsZero() && !to.IsZero() && CivilDate(to).Before(CivilDate(from)) {
		return nil, &Error{Kind: KindInvalidRange, Message: "calendar end is before start"}
	}
	f := Filter{Statuses: []Status{StatusApproved}, From: from, To: to}
	if v.Role == auth.RoleEmployee {
		f.RequesterID = v.ID
	} else if !auth.IsApprover(v.Role) {
		return nil, invalidInput("unknown role %q", v.Role)
	}
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.Store.Query(storeCtx, f)
}
