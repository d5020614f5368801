package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"leaveflow/internal/transport/http/api"
)

// PermissionStore answers whether a role holds a permission. The static
// role table in the auth package is the only implementation.
type PermissionStore interface {
	HasPermission(ctx context.Context, roleName, permission string) (bool, error)
}

// RequirePermission rejects anonymous callers with 401 and callers whose
// role lacks permission with 403.
func RequirePermission(permission string, store PermissionStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := GetRequestID(r.Context())
			user, ok := GetUser(r.Context())
			if !ok {
				api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", requestID)
				return
			}

			allowed, err := store.HasPermission(r.Context(), user.RoleName, permission)
			if err != nil {
				slog.Error("permission check failed", "err", err, "permission", permission, "requestId", requestID)
				api.Fail(w, http.StatusInternalServerError, "permission_error", "permission check failed", requestID)
				return
			}
			if !allowed {
				slog.Debug("permission denied", "userId", user.UserID, "role", user.RoleName, "permission", permission, "path", r.URL.Path)
				api.FailWithDetails(w, http.StatusForbidden, "forbidden", "insufficient permissions", map[string]string{
					"permission": permission,
				}, requestID)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireUser rejects anonymous requests without checking a permission.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := GetUser(r.Context()); !ok {
			api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", GetRequestID(r.Context()))
			return
		}
		next.ServeHTTP(w, r)
	})
}
