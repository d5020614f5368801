package leave

import (
	"context"

	"leaveflow/internal/domain/auth"
	"leaveflow/internal/requestctx"
)

type UserDirectory interface {
	FindUser(ctx context.Context, userID string) (auth.User, error)
}

// RoutingResolver looks up the manager statically assigned to an employee.
// It informs grouping only and never gates a decision.
type RoutingResolver struct {
	Directory UserDirectory
}

// ResolveApprover returns the routed approver id, or "" when none is set or
// the lookup fails.
func (r RoutingResolver) ResolveApprover(ctx context.Context, userID string) string {
	if r.Directory == nil {
		return ""
	}
	user, err := r.Directory.FindUser(ctx, userID)
	if err != nil {
		requestctx.Logger(ctx).Warn("leave routing lookup failed", "userId", userID, "err", err)
		return ""
	}
	return user.AssignedTo
}
