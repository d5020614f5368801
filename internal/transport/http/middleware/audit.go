package middleware

import (
	"log/slog"
	"net/http"

	"leaveflow/internal/domain/audit"
	"leaveflow/internal/transport/http/shared"
)

// Auditor records handler-level changes with the caller, request id and
// client IP taken from the request. A nil Service disables it; write
// failures are logged because the audited change has already happened.
type Auditor struct {
	Service *audit.Service
}

func (a Auditor) Record(r *http.Request, action, entityType, entityID string, before, after any) {
	if a.Service == nil {
		return
	}
	user, _ := GetUser(r.Context())
	err := a.Service.Record(r.Context(), audit.Entry{
		ActorID:    user.UserID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		RequestID:  GetRequestID(r.Context()),
		IP:         shared.ClientIP(r),
		Before:     before,
		After:      after,
	})
	if err != nil {
		slog.Warn("audit record failed", "action", action, "entityId", entityID, "err", err)
	}
}
