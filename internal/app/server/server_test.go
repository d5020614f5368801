package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"leaveflow/internal/platform/config"
)

func testConfig() config.Config {
	return config.Config{
		Addr:               ":0",
		JWTSecret:          "server-test-secret",
		TokenTTL:           time.Hour,
		Environment:        "test",
		SeedHREmail:        "hr@example.com",
		SeedHRPassword:     "Sup3rSecretPass",
		RunSeed:            true,
		MaxBodyBytes:       1 << 20,
		RateLimitPerMinute: 1000,
		StoreTimeout:       time.Second,
		ShutdownTimeout:    time.Second,
		MetricsEnabled:     true,
	}
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	app, err := New(testContext(t), testConfig())
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(app.Close)
	return app
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func call(t *testing.T, h http.Handler, method, path, token string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var env envelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec.Code, env
}

func login(t *testing.T, h http.Handler, email, password string) string {
	t.Helper()
	status, env := call(t, h, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": email, "password": password})
	if status != http.StatusOK {
		t.Fatalf("login %s: status %d", email, status)
	}
	var data struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.Token == "" {
		t.Fatalf("login %s: missing token", email)
	}
	return data.Token
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.JWTSecret = ""
	if _, err := New(testContext(t), cfg); err == nil {
		t.Fatal("expected missing secret to fail")
	}
}

func TestProbes(t *testing.T) {
	app := newTestApp(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		app.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}
	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected request id header")
	}
}

func TestEndToEndApproval(t *testing.T) {
	app := newTestApp(t)
	h := app.Router
	hr := login(t, h, "hr@example.com", "Sup3rSecretPass")

	status, _ := call(t, h, http.MethodPost, "/api/v1/users", hr, map[string]string{
		"email": "gm@example.com", "password": "Manager-Pass-1", "displayName": "Gail", "role": "GM",
	})
	if status != http.StatusCreated {
		t.Fatalf("create GM: status %d", status)
	}
	status, _ = call(t, h, http.MethodPost, "/api/v1/users", hr, map[string]string{
		"email": "emp@example.com", "password": "Employee-Pass-1", "displayName": "Emil", "role": "employee",
	})
	if status != http.StatusCreated {
		t.Fatalf("create employee: status %d", status)
	}

	employee := login(t, h, "emp@example.com", "Employee-Pass-1")
	gm := login(t, h, "gm@example.com", "Manager-Pass-1")

	status, env := call(t, h, http.MethodPost, "/api/v1/leave/requests", employee, map[string]string{
		"kind": "leave", "category": "earned", "startDate": "2025-06-02", "endDate": "2025-06-06", "reason": "vacation",
	})
	if status != http.StatusCreated {
		t.Fatalf("submit: status %d", status)
	}
	var created struct {
		ID       string `json:"id"`
		Duration int    `json:"duration"`
	}
	_ = json.Unmarshal(env.Data, &created)
	if created.Duration != 5 {
		t.Fatalf("expected 5 days, got %d", created.Duration)
	}

	for _, step := range []struct {
		token  string
		status string
	}{{hr, "hr_approved"}, {gm, "approved"}} {
		code, env := call(t, h, http.MethodPost, "/api/v1/leave/requests/"+created.ID+"/approve", step.token, map[string]string{"remarks": "ok"})
		if code != http.StatusOK {
			t.Fatalf("approve to %s: status %d", step.status, code)
		}
		var got struct {
			Status string `json:"status"`
		}
		_ = json.Unmarshal(env.Data, &got)
		if got.Status != step.status {
			t.Fatalf("expected %s, got %s", step.status, got.Status)
		}
	}

	status, env = call(t, h, http.MethodGet, "/api/v1/notifications/", employee, nil)
	var inbox []struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(env.Data, &inbox)
	if status != http.StatusOK || len(inbox) != 2 || inbox[0].Type != "leave_approved" || inbox[1].Type != "leave_hr_approved" {
		t.Fatalf("unexpected employee inbox %d %s", status, env.Data)
	}

	status, env = call(t, h, http.MethodGet, "/api/v1/audit/events?entityId="+created.ID, hr, nil)
	var events []struct {
		Action string `json:"action"`
	}
	_ = json.Unmarshal(env.Data, &events)
	if status != http.StatusOK || len(events) != 3 {
		t.Fatalf("expected submit and two approvals audited, got %d %s", status, env.Data)
	}

	status, env = call(t, h, http.MethodGet, "/metrics", "", nil)
	if status != http.StatusOK || !strings.Contains(string(env.Data), `"ok":2`) {
		t.Fatalf("expected two successful decisions in metrics, got %s", env.Data)
	}
}

func TestCloseFeedsEndsLiveConnections(t *testing.T) {
	app := newTestApp(t)
	srv := httptest.NewServer(app.Router)
	defer srv.Close()

	hr := login(t, app.Router, "hr@example.com", "Sup3rSecretPass")
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/leave/requests/live?access_token=" + hr
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("initial snapshot: %v", err)
	}

	app.CloseFeeds()
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("expected going-away close, got %v", err)
	}
}

func TestDemotedApproverCannotDecideWithOldToken(t *testing.T) {
	app := newTestApp(t)
	h := app.Router
	hr := login(t, h, "hr@example.com", "Sup3rSecretPass")

	status, env := call(t, h, http.MethodPost, "/api/v1/users", hr, map[string]string{
		"email": "gm@example.com", "password": "Manager-Pass-1", "displayName": "Gail", "role": "GM",
	})
	if status != http.StatusCreated {
		t.Fatalf("create GM: status %d", status)
	}
	var gmUser struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(env.Data, &gmUser)
	if status, _ := call(t, h, http.MethodPost, "/api/v1/users", hr, map[string]string{
		"email": "emp@example.com", "password": "Employee-Pass-1", "displayName": "Emil", "role": "employee",
	}); status != http.StatusCreated {
		t.Fatalf("create employee: status %d", status)
	}
	employee := login(t, h, "emp@example.com", "Employee-Pass-1")
	gm := login(t, h, "gm@example.com", "Manager-Pass-1")

	status, env = call(t, h, http.MethodPost, "/api/v1/leave/requests", employee, map[string]string{
		"kind": "leave", "category": "casual", "startDate": "2025-07-01", "endDate": "2025-07-02", "reason": "move",
	})
	if status != http.StatusCreated {
		t.Fatalf("submit: status %d", status)
	}
	var created struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(env.Data, &created)
	if status, _ := call(t, h, http.MethodPost, "/api/v1/leave/requests/"+created.ID+"/approve", hr, nil); status != http.StatusOK {
		t.Fatalf("hr approve: status %d", status)
	}

	if status, _ := call(t, h, http.MethodPatch, "/api/v1/users/"+gmUser.ID, hr, map[string]string{"role": "employee"}); status != http.StatusOK {
		t.Fatalf("demote: status %d", status)
	}

	status, env = call(t, h, http.MethodPost, "/api/v1/leave/requests/"+created.ID+"/approve", gm, nil)
	if status != http.StatusConflict || env.Error == nil || env.Error.Code != "illegal_transition" {
		t.Fatalf("expected the stale GM token to be refused, got %d %+v", status, env.Error)
	}

	status, env = call(t, h, http.MethodGet, "/api/v1/leave/requests/"+created.ID, hr, nil)
	var got struct {
		Status string `json:"status"`
	}
	_ = json.Unmarshal(env.Data, &got)
	if status != http.StatusOK || got.Status != "hr_approved" {
		t.Fatalf("expected the request to stay hr_approved, got %d %s", status, got.Status)
	}
}
