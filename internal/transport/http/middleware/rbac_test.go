package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"leaveflow/internal/domain/auth"
	"leaveflow/internal/requestctx"
)

type permStub struct {
	allowed bool
	err     error
}

func (p permStub) HasPermission(ctx context.Context, roleName, permission string) (bool, error) {
	return p.allowed, p.err
}

func TestRequirePermission(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	hr := auth.UserContext{UserID: "hr-1", RoleName: auth.RoleHR}

	cases := []struct {
		name  string
		store permStub
		user  *auth.UserContext
		want  int
	}{
		{"anonymous", permStub{allowed: true}, nil, http.StatusUnauthorized},
		{"allowed", permStub{allowed: true}, &hr, http.StatusNoContent},
		{"denied", permStub{}, &hr, http.StatusForbidden},
		{"store error", permStub{err: errors.New("boom")}, &hr, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.user != nil {
				req = req.WithContext(WithUser(req.Context(), *tc.user))
			}
			rec := httptest.NewRecorder()
			RequirePermission(auth.PermAuditRead, tc.store)(ok).ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
			if tc.want == http.StatusForbidden && !strings.Contains(rec.Body.String(), auth.PermAuditRead) {
				t.Fatalf("expected missing permission in details: %s", rec.Body.String())
			}
		})
	}
}

func TestAuthRecordsActor(t *testing.T) {
	secret := "test-secret"
	token, err := auth.GenerateToken(secret, auth.Claims{UserID: "user-9", Name: "Una", RoleName: auth.RoleEmployee}, time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	var actor string
	handler := Auth(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor = requestctx.ActorID(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if actor != "user-9" {
		t.Fatalf("expected actor user-9, got %q", actor)
	}
}
