package audit

import (
	"context"
	"encoding/json"
	"time"
)

const (
	ActionUserCreate   = "user.create"
	ActionUserUpdate   = "user.update"
	ActionUserPassword = "user.password_change"
	ActionLeaveSubmit  = "leave.submit"
	ActionLeaveApprove = "leave.approve"
	ActionLeaveReject  = "leave.reject"

	EntityUser         = "user"
	EntityLeaveRequest = "leave_request"
)

type Event struct {
	ID         string          `json:"id"`
	ActorID    string          `json:"actorId"`
	Action     string          `json:"action"`
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId"`
	RequestID  string          `json:"requestId"`
	IP         string          `json:"ip"`
	CreatedAt  time.Time       `json:"createdAt"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
}

type Filter struct {
	Action     string
	EntityType string
	EntityID   string
	ActorUser  string
}

func (f Filter) Match(e Event) bool {
	return (f.Action == "" || e.Action == f.Action) &&
		(f.EntityType == "" || e.EntityType == f.EntityType) &&
		(f.EntityID == "" || e.EntityID == f.EntityID) &&
		(f.ActorUser == "" || e.ActorID == f.ActorUser)
}

type StoreAPI interface {
	Insert(ctx context.Context, evt Event) error
	List(ctx context.Context, filter Filter, includeDetails bool, limit, offset int) ([]Event, error)
	Count(ctx context.Context, filter Filter) (int, error)
}

type Service struct {
	Store StoreAPI
}

func New(store StoreAPI) *Service {
	return &Service{Store: store}
}

// Entry is one change to record. Before and After are stored as JSON.
type Entry struct {
	ActorID    string
	Action     string
	EntityType string
	EntityID   string
	RequestID  string
	IP         string
	Before     any
	After      any
}

func (s *Service) Record(ctx context.Context, e Entry) error {
	evt := Event{
		ActorID:    e.ActorID,
		Action:     e.Action,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		RequestID:  e.RequestID,
		IP:         e.IP,
	}
	var err error
	if evt.Before, err = marshal(e.Before); err != nil {
		return err
	}
	if evt.After, err = marshal(e.After); err != nil {
		return err
	}
	return s.Store.Insert(ctx, evt)
}

func (s *Service) List(ctx context.Context, filter Filter, includeDetails bool, limit, offset int) ([]Event, error) {
	return s.Store.List(ctx, filter, includeDetails, limit, offset)
}

func (s *Service) Count(ctx context.Context, filter Filter) (int, error) {
	return s.Store.Count(ctx, filter)
}

func marshal(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
