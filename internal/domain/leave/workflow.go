package leave

import (
	"fmt"
	"time"

	"leaveflow/internal/domain/auth"
)

// Actor is the approver acting on a request.
type Actor struct {
	ID   string
	Name string
	Role string
}

// Patch is the update a single legal transition writes: exactly one stage
// record plus the status derived from it.
type Patch struct {
	Stage     Stage
	Record    ApprovalRecord
	Status    Status
	UpdatedAt time.Time
}

type gate struct {
	stage Stage
	roles []string
}

func (g gate) allows(role string) bool {
	for _, r := range g.roles {
		if r == role {
			return true
		}
	}
	return false
}

// gates maps the status a request must be in to the stage that may act on it.
var gates = map[Status]gate{
	StatusPending:    {stage: Stage1, roles: []string{auth.RoleHR}},
	StatusHRApproved: {stage: Stage2, roles: []string{auth.RoleGM, auth.RoleAE}},
}

// EligibleStage returns the stage the role may decide for a request in the
// given status.
func EligibleStage(current Status, role string) (Stage, bool) {
	g, ok := gates[current]
	if !ok || !g.allows(role) {
		return 0, false
	}
	return g.stage, true
}

// DeriveStatus computes the overall status from the two stage records.
// A rejection at either stage is final; only a stage 2 approval yields
// approved.
func DeriveStatus(stage1, stage2 ApprovalRecord) Status {
	switch stage1.Status {
	case DecisionRejected:
		return StatusRejected
	case DecisionApproved:
		switch stage2.Status {
		case DecisionApproved:
			return StatusApproved
		case DecisionRejected:
			return StatusRejected
		}
		return StatusHRApproved
	}
	return StatusPending
}

// Plan validates a decision against the transition table and builds the
// patch for it. It does not mutate req.
func Plan(req LeaveRequest, actor Actor, decision Decision, remarks string, now time.Time) (Patch, error) {
	if decision != DecisionApproved && decision != DecisionRejected {
		return Patch{}, invalidInput("decision must be %q or %q", DecisionApproved, DecisionRejected)
	}
	if req.Status.Terminal() {
		return Patch{}, illegalTransition(req.Status, actor.Role,
			fmt.Sprintf("leave request is already %s", req.Status))
	}
	stage, ok := EligibleStage(req.Status, actor.Role)
	if !ok {
		return Patch{}, illegalTransition(req.Status, actor.Role,
			fmt.Sprintf("role %q cannot decide a %s request", actor.Role, req.Status))
	}
	if req.Record(stage).Status != DecisionPending {
		return Patch{}, illegalTransition(req.Status, actor.Role,
			fmt.Sprintf("stage %d has already been decided", stage))
	}

	at := now.UTC()
	record := ApprovalRecord{
		Status:  decision,
		By:      actor.ID,
		ByName:  actor.Name,
		Role:    actor.Role,
		Remarks: remarks,
		At:      &at,
	}
	next := req
	next.setRecord(stage, record)
	return Patch{
		Stage:     stage,
		Record:    record,
		Status:    DeriveStatus(next.Stage1, next.Stage2),
		UpdatedAt: at,
	}, nil
}

// Apply writes the patch onto the request.
func (r *LeaveRequest) Apply(p Patch) {
	r.setRecord(p.Stage, p.Record)
	r.Status = DeriveStatus(r.Stage1, r.Stage2)
	r.UpdatedAt = p.UpdatedAt
}

func (r *LeaveRequest) setRecord(stage Stage, record ApprovalRecord) {
	if stage == Stage2 {
		r.Stage2 = record
		return
	}
	r.Stage1 = record
}
