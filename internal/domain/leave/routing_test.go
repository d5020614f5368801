package leave

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"leaveflow/internal/domain/auth"
	"leaveflow/internal/requestctx"
)

type failingDirectory struct{}

func (failingDirectory) FindUser(context.Context, string) (auth.User, error) {
	return auth.User{}, errors.New("directory offline")
}

func TestResolveApprover(t *testing.T) {
	resolver := RoutingResolver{Directory: auth.NewMemoryStore(
		auth.User{ID: "emp-1", RoleName: auth.RoleEmployee, AssignedTo: "gm-1"},
		auth.User{ID: "emp-2", RoleName: auth.RoleEmployee},
	)}
	ctx := context.Background()

	tests := []struct {
		userID string
		want   string
	}{
		{userID: "emp-1", want: "gm-1"},
		{userID: "emp-2", want: ""},
		{userID: "ghost", want: ""},
	}
	for _, tc := range tests {
		if got := resolver.ResolveApprover(ctx, tc.userID); got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.userID, tc.want, got)
		}
	}
	if got := (RoutingResolver{}).ResolveApprover(ctx, "emp-1"); got != "" {
		t.Fatalf("expected no route without a directory, got %q", got)
	}
}

func TestResolveApproverFailureLogTagsRequest(t *testing.T) {
	var buf bytes.Buffer
	previous := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(previous) })

	ctx := requestctx.WithActorID(requestctx.WithRequestID(context.Background(), "trace-9"), "emp-1")
	if got := (RoutingResolver{Directory: failingDirectory{}}).ResolveApprover(ctx, "emp-1"); got != "" {
		t.Fatalf("expected empty route on failure, got %q", got)
	}

	out := buf.String()
	if !strings.Contains(out, "leave routing lookup failed") || !strings.Contains(out, "traceId=trace-9") || !strings.Contains(out, "actorId=emp-1") {
		t.Fatalf("expected tagged warning, got %q", out)
	}
}
