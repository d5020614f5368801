package notifications

import (
	"context"
	"fmt"

	"leaveflow/internal/domain/auth"
	"leaveflow/internal/domain/leave"
	"leaveflow/internal/requestctx"
)

// RequestSubmitted tells every HR user that a request is waiting for the
// first stage.
func (s *Service) RequestSubmitted(ctx context.Context, req leave.LeaveRequest) {
	title := fmt.Sprintf("New %s request from %s", req.Kind, requesterLabel(req))
	body := fmt.Sprintf("%s %s, %s (%s).", titleOf(req.Category), req.Kind, req.Range(), days(req.Duration))
	for _, userID := range s.usersWithRole(ctx, req.RequesterID, auth.RoleHR) {
		s.send(ctx, userID, TypeLeaveSubmitted, title, body, req.ID)
	}
}

// RequestDecided tells the requester about every decision. Once HR has
// approved, the routed manager is asked for the final decision, or every
// GM and AE when nobody who can decide stage two is routed.
func (s *Service) RequestDecided(ctx context.Context, req leave.LeaveRequest) {
	period := req.Range().String()
	switch req.Status {
	case leave.StatusHRApproved:
		s.send(ctx, req.RequesterID, TypeLeaveHRApproved,
			"Your request passed HR review",
			fmt.Sprintf("Your %s for %s is waiting for final approval.", req.Kind, period), req.ID)

		for _, userID := range s.finalApprovers(ctx, req) {
			s.send(ctx, userID, TypeLeaveAwaiting,
				fmt.Sprintf("%s request from %s needs your decision", titleOf(req.Category), requesterLabel(req)),
				fmt.Sprintf("HR approved %s for %s.", period, days(req.Duration)), req.ID)
		}
	case leave.StatusApproved:
		s.send(ctx, req.RequesterID, TypeLeaveApproved,
			"Your request was approved",
			fmt.Sprintf("Your %s for %s was approved by %s.", req.Kind, period, req.Stage2.ByName), req.ID)
	case leave.StatusRejected:
		record := req.Stage1
		if record.Status != leave.DecisionRejected {
			record = req.Stage2
		}
		body := fmt.Sprintf("Your %s for %s was rejected by %s.", req.Kind, period, record.ByName)
		if record.Remarks != "" {
			body += " Remarks: " + record.Remarks
		}
		s.send(ctx, req.RequesterID, TypeLeaveRejected, "Your request was rejected", body, req.ID)
	}
}

// finalApprovers returns the routed manager when that user currently holds
// a stage two role. A route to HR, to a demoted manager or to a missing user
// falls back to every GM and AE.
func (s *Service) finalApprovers(ctx context.Context, req leave.LeaveRequest) []string {
	if req.AssignedTo != "" && s.Directory != nil {
		routed, err := s.Directory.FindUser(ctx, req.AssignedTo)
		switch {
		case err != nil:
			requestctx.Logger(ctx).Warn("routed approver lookup failed", "userId", req.AssignedTo, "requestId", req.ID, "err", err)
		case routed.RoleName == auth.RoleGM || routed.RoleName == auth.RoleAE:
			return []string{routed.ID}
		}
	}
	return s.usersWithRole(ctx, req.RequesterID, auth.RoleGM, auth.RoleAE)
}

func (s *Service) send(ctx context.Context, userID, ntype, title, body, requestID string) {
	if userID == "" {
		return
	}
	if err := s.Create(ctx, userID, ntype, title, body, requestID); err != nil {
		requestctx.Logger(ctx).Warn("leave notification failed", "userId", userID, "type", ntype, "requestId", requestID, "err", err)
	}
}

func (s *Service) usersWithRole(ctx context.Context, exclude string, roles ...string) []string {
	if s.Directory == nil {
		return nil
	}
	users, err := s.Directory.ListUsers(ctx)
	if err != nil {
		requestctx.Logger(ctx).Warn("notification recipients lookup failed", "err", err)
		return nil
	}
	var ids []string
	for _, u := range users {
		if u.ID == exclude {
			continue
		}
		for _, role := range roles {
			if u.RoleName == role {
				ids = append(ids, u.ID)
				break
			}
		}
	}
	return ids
}

func requesterLabel(req leave.LeaveRequest) string {
	if req.RequesterName != "" {
		return req.RequesterName
	}
	return req.RequesterID
}

func titleOf(c leave.Category) string {
	s := string(c)
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}

func days(n int) string {
	if n == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", n)
}
