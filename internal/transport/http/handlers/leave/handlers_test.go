package leavehandler

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"leaveflow/internal/domain/audit"
	"leaveflow/internal/domain/auth"
	"leaveflow/internal/domain/leave"
	"leaveflow/internal/platform/metrics"
	"leaveflow/internal/transport/http/middleware"
)

const testSecret = "test-secret"

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

type fixture struct {
	router  http.Handler
	service *leave.Service
	metrics *metrics.Collector
	audit   *audit.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	directory := auth.NewMemoryStore(
		auth.User{ID: "emp-1", Email: "eve@example.com", DisplayName: "Eve", RoleName: auth.RoleEmployee, AssignedTo: "gm-1"},
		auth.User{ID: "emp-2", Email: "sam@example.com", DisplayName: "Sam", RoleName: auth.RoleEmployee},
		auth.User{ID: "gm-1", Email: "gus@example.com", DisplayName: "Gus", RoleName: auth.RoleGM},
		auth.User{ID: "hr-1", Email: "hana@example.com", DisplayName: "Hana", RoleName: auth.RoleHR},
		auth.User{ID: "ae-1", Email: "ada@example.com", DisplayName: "Ada", RoleName: auth.RoleAE},
	)
	svc := leave.NewService(leave.NewMemoryStore(nil), directory)
	collector := metrics.New()
	svc.Metrics = collector

	auditSvc := audit.New(audit.NewMemoryStore())

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Auth(testSecret))
	handler := NewHandler(svc, auth.StaticPermissions{}, middleware.NewMemoryIdempotencyStore(), collector)
	handler.Audit = middleware.Auditor{Service: auditSvc}
	handler.RegisterRoutes(router)
	return &fixture{router: router, service: svc, metrics: collector, audit: auditSvc}
}

func tokenFor(t *testing.T, id, role string) string {
	t.Helper()
	token, err := auth.GenerateToken(testSecret, auth.Claims{UserID: id, Name: strings.ToUpper(id), RoleName: role}, time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return token
}

var (
	employeeToken = func(t *testing.T) string { return tokenFor(t, "emp-1", auth.RoleEmployee) }
	hrToken       = func(t *testing.T) string { return tokenFor(t, "hr-1", auth.RoleHR) }
	gmToken       = func(t *testing.T) string { return tokenFor(t, "gm-1", auth.RoleGM) }
	aeToken       = func(t *testing.T) string { return tokenFor(t, "ae-1", auth.RoleAE) }
)

func (f *fixture) do(t *testing.T, method, path, token string, body any, headers ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode envelope: %v (%s)", err, rec.Body.String())
		}
	}
	return rec, env
}

func submitBody(start, end string) map[string]string {
	return map[string]string{
		"kind":      "leave",
		"category":  "casual",
		"startDate": start,
		"endDate":   end,
		"reason":    "family trip",
	}
}

func decodeRequest(t *testing.T, env envelope) leave.LeaveRequest {
	t.Helper()
	var req leave.LeaveRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	return req
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, env envelope, status int, code string) {
	t.Helper()
	if rec.Code != status || env.Error == nil || env.Error.Code != code {
		t.Fatalf("expected %d %s, got %d %s", status, code, rec.Code, rec.Body.String())
	}
}

func TestSubmitAndTwoStageApproval(t *testing.T) {
	f := newFixture(t)

	rec, env := f.do(t, http.MethodPost, "/leave/requests", employeeToken(t), submitBody("2025-03-10", "2025-03-12"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", rec.Code, rec.Body.String())
	}
	submitted := decodeRequest(t, env)
	if submitted.Status != leave.StatusPending || submitted.Duration != 3 || submitted.RequesterID != "emp-1" || submitted.RequesterName != "EMP-1" {
		t.Fatalf("unexpected submission %+v", submitted)
	}
	if submitted.AssignedTo != "gm-1" {
		t.Fatalf("expected routing to gm-1, got %q", submitted.AssignedTo)
	}
	base := "/leave/requests/" + submitted.ID

	rec, env = f.do(t, http.MethodPost, base+"/approve", gmToken(t), map[string]string{"remarks": "early"})
	expectError(t, rec, env, http.StatusConflict, "illegal_transition")
	if env.Error.Details["currentStatus"] != "pending" || env.Error.Details["role"] != "GM" {
		t.Fatalf("unexpected details %v", env.Error.Details)
	}

	rec, env = f.do(t, http.MethodPost, base+"/approve", hrToken(t), map[string]string{"remarks": "ok by HR"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	if got := decodeRequest(t, env); got.Status != leave.StatusHRApproved || got.Stage1.Remarks != "ok by HR" {
		t.Fatalf("unexpected HR decision %+v", got)
	}

	rec, env = f.do(t, http.MethodPost, base+"/approve", aeToken(t), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	final := decodeRequest(t, env)
	if final.Status != leave.StatusApproved || final.Stage2.Role != auth.RoleAE {
		t.Fatalf("unexpected final decision %+v", final)
	}

	rec, env = f.do(t, http.MethodPost, base+"/reject", gmToken(t), nil)
	expectError(t, rec, env, http.StatusConflict, "illegal_transition")

	rec, env = f.do(t, http.MethodPost, "/leave/requests", employeeToken(t), submitBody("2025-03-12", "2025-03-13"))
	expectError(t, rec, env, http.StatusConflict, "overlapping_approval")
	conflict, _ := env.Error.Details["conflict"].(map[string]any)
	if conflict == nil || !strings.HasPrefix(conflict["startDate"].(string), "2025-03-10") {
		t.Fatalf("expected conflict range in details, got %v", env.Error.Details)
	}

	events, err := f.audit.List(testContext(t), audit.Filter{EntityID: submitted.ID}, false, 10, 0)
	if err != nil {
		t.Fatalf("audit list: %v", err)
	}
	var actions []string
	for _, evt := range events {
		actions = append(actions, evt.Action)
	}
	want := []string{audit.ActionLeaveApprove, audit.ActionLeaveApprove, audit.ActionLeaveSubmit}
	if strings.Join(actions, ",") != strings.Join(want, ",") {
		t.Fatalf("expected only successful writes audited, got %v", actions)
	}
	if events[0].ActorID != "ae-1" {
		t.Fatalf("expected AE as last actor, got %q", events[0].ActorID)
	}
}

func TestEmployeeCannotDecide(t *testing.T) {
	f := newFixture(t)
	_, env := f.do(t, http.MethodPost, "/leave/requests", employeeToken(t), submitBody("2025-03-10", "2025-03-10"))
	id := decodeRequest(t, env).ID

	rec, env := f.do(t, http.MethodPost, "/leave/requests/"+id+"/approve", employeeToken(t), nil)
	expectError(t, rec, env, http.StatusForbidden, "forbidden")
	rec, env = f.do(t, http.MethodPost, "/leave/requests/"+id+"/approve", "", nil)
	expectError(t, rec, env, http.StatusUnauthorized, "unauthorized")
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)

	body := submitBody("2025-03-10", "2025-03-12")
	body["category"] = "holiday"
	rec, env := f.do(t, http.MethodPost, "/leave/requests", employeeToken(t), body)
	expectError(t, rec, env, http.StatusBadRequest, "validation_error")

	rec, env = f.do(t, http.MethodPost, "/leave/requests", employeeToken(t), submitBody("2025-03-10", "10/03/2025"))
	expectError(t, rec, env, http.StatusBadRequest, "validation_error")

	rec, env = f.do(t, http.MethodPost, "/leave/requests", employeeToken(t), submitBody("2025-03-12", "2025-03-10"))
	expectError(t, rec, env, http.StatusBadRequest, "invalid_range")
}

func TestSubmitIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	body := submitBody("2025-03-10", "2025-03-12")

	rec, first := f.do(t, http.MethodPost, "/leave/requests", employeeToken(t), body, "Idempotency-Key", "abc")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	rec, replay := f.do(t, http.MethodPost, "/leave/requests", employeeToken(t), body, "Idempotency-Key", "abc")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected replayed 201, got %d", rec.Code)
	}
	if decodeRequest(t, first).ID != decodeRequest(t, replay).ID {
		t.Fatal("expected replay to return the original request")
	}

	all, _ := f.service.ListFor(testContext(t), leave.Viewer{ID: "hr-1", Role: auth.RoleHR})
	if len(all) != 1 {
		t.Fatalf("expected a single stored request, got %d", len(all))
	}

	body["reason"] = "different"
	rec, env := f.do(t, http.MethodPost, "/leave/requests", employeeToken(t), body, "Idempotency-Key", "abc")
	expectError(t, rec, env, http.StatusConflict, "idempotency_conflict")
}

func TestSubmitIdempotencyKeyConcurrent(t *testing.T) {
	f := newFixture(t)
	raw, _ := json.Marshal(submitBody("2025-04-01", "2025-04-02"))
	token := employeeToken(t)

	const callers = 8
	codes := make([]int, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/leave/requests", bytes.NewReader(raw))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+token)
			req.Header.Set("Idempotency-Key", "same-key")
			rec := httptest.NewRecorder()
			f.router.ServeHTTP(rec, req)
			codes[i] = rec.Code
		}(i)
	}
	wg.Wait()

	for _, code := range codes {
		if code != http.StatusCreated && code != http.StatusConflict {
			t.Fatalf("unexpected status %d in %v", code, codes)
		}
	}
	all, _ := f.service.ListFor(testContext(t), leave.Viewer{ID: "hr-1", Role: auth.RoleHR})
	if len(all) != 1 {
		t.Fatalf("expected one request for one idempotency key, got %d", len(all))
	}
}

func TestSubmitIdempotencyKeyReleasedOnFailure(t *testing.T) {
	f := newFixture(t)
	bad := submitBody("2025-04-10", "2025-04-01")
	rec, env := f.do(t, http.MethodPost, "/leave/requests", employeeToken(t), bad, "Idempotency-Key", "retry-me")
	expectError(t, rec, env, http.StatusBadRequest, "invalid_range")

	rec, _ = f.do(t, http.MethodPost, "/leave/requests", employeeToken(t), submitBody("2025-04-01", "2025-04-10"), "Idempotency-Key", "retry-me")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected the corrected retry to be accepted, got %d", rec.Code)
	}
}

func TestVisibilityRules(t *testing.T) {
	f := newFixture(t)
	_, env := f.do(t, http.MethodPost, "/leave/requests", employeeToken(t), submitBody("2025-03-10", "2025-03-10"))
	id := decodeRequest(t, env).ID

	other := tokenFor(t, "emp-2", auth.RoleEmployee)
	rec, env := f.do(t, http.MethodGet, "/leave/requests/"+id, other, nil)
	expectError(t, rec, env, http.StatusNotFound, "not_found")

	// GM sees nothing until HR approved
	rec, env = f.do(t, http.MethodGet, "/leave/requests", gmToken(t), nil)
	var listed []leave.LeaveRequest
	_ = json.Unmarshal(env.Data, &listed)
	if rec.Code != http.StatusOK || len(listed) != 0 {
		t.Fatalf("expected empty GM list, got %d %s", rec.Code, rec.Body.String())
	}

	f.do(t, http.MethodPost, "/leave/requests/"+id+"/approve", hrToken(t), nil)
	_, env = f.do(t, http.MethodGet, "/leave/requests?status=hr_approved", gmToken(t), nil)
	_ = json.Unmarshal(env.Data, &listed)
	if len(listed) != 1 || listed[0].ID != id {
		t.Fatalf("expected GM to see %s, got %s", id, env.Data)
	}

	rec, env = f.do(t, http.MethodGet, "/leave/requests?status=bogus", hrToken(t), nil)
	expectError(t, rec, env, http.StatusBadRequest, "invalid_input")

	rec, env = f.do(t, http.MethodGet, "/leave/requests/does-not-exist", hrToken(t), nil)
	expectError(t, rec, env, http.StatusNotFound, "not_found")
}

func TestSlipAndExport(t *testing.T) {
	f := newFixture(t)
	_, env := f.do(t, http.MethodPost, "/leave/requests", employeeToken(t), submitBody("2025-03-10", "2025-03-10"))
	id := decodeRequest(t, env).ID

	rec, _ := f.do(t, http.MethodGet, "/leave/requests/"+id+"/slip.pdf", employeeToken(t), nil)
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "application/pdf" || !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")) {
		t.Fatalf("unexpected slip response %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}

	rec, _ = f.do(t, http.MethodGet, "/leave/requests/export.xlsx", hrToken(t), nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Header().Get("Content-Type"), "spreadsheetml") || rec.Body.Len() == 0 {
		t.Fatalf("unexpected export response %d", rec.Code)
	}

	rec, env = f.do(t, http.MethodGet, "/leave/requests/export.xlsx", employeeToken(t), nil)
	expectError(t, rec, env, http.StatusForbidden, "forbidden")
}

func TestStatsAndCalendar(t *testing.T) {
	f := newFixture(t)
	_, env := f.do(t, http.MethodPost, "/leave/requests", employeeToken(t), submitBody("2025-03-10", "2025-03-11"))
	id := decodeRequest(t, env).ID
	f.do(t, http.MethodPost, "/leave/requests/"+id+"/approve", hrToken(t), nil)
	f.do(t, http.MethodPost, "/leave/requests/"+id+"/approve", gmToken(t), nil)

	rec, env := f.do(t, http.MethodGet, "/leave/stats", hrToken(t), nil)
	var stats leave.Stats
	_ = json.Unmarshal(env.Data, &stats)
	if rec.Code != http.StatusOK || stats.Approved != 1 || stats.ApprovedDays != 2 {
		t.Fatalf("unexpected stats %d %s", rec.Code, env.Data)
	}

	rec, env = f.do(t, http.MethodGet, "/leave/calendar?from=2025-03-01&to=2025-03-31", employeeToken(t), nil)
	var events []map[string]any
	_ = json.Unmarshal(env.Data, &events)
	if rec.Code != http.StatusOK || len(events) != 1 || events[0]["start"] != "2025-03-10" {
		t.Fatalf("unexpected calendar %d %s", rec.Code, env.Data)
	}

	rec, env = f.do(t, http.MethodGet, "/leave/calendar?from=2025-03-31&to=2025-03-01", hrToken(t), nil)
	expectError(t, rec, env, http.StatusBadRequest, "invalid_range")

	rec, _ = f.do(t, http.MethodGet, "/leave/calendar/export?format=ics", hrToken(t), nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "DTSTART;VALUE=DATE:20250310") || !strings.Contains(rec.Body.String(), "DTEND;VALUE=DATE:20250312") {
		t.Fatalf("unexpected ics %d %s", rec.Code, rec.Body.String())
	}
	rec, _ = f.do(t, http.MethodGet, "/leave/calendar/export", hrToken(t), nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), id+",EMP-1,leave,casual,2025-03-10,2025-03-11,2") {
		t.Fatalf("unexpected csv %d %s", rec.Code, rec.Body.String())
	}
}

func TestWriteErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{&leave.Error{Kind: leave.KindInvalidRange}, http.StatusBadRequest, "invalid_range"},
		{&leave.Error{Kind: leave.KindInvalidInput}, http.StatusBadRequest, "invalid_input"},
		{&leave.Error{Kind: leave.KindOverlappingApproval}, http.StatusConflict, "overlapping_approval"},
		{&leave.Error{Kind: leave.KindIllegalTransition}, http.StatusConflict, "illegal_transition"},
		{&leave.Error{Kind: leave.KindConcurrentModification}, http.StatusConflict, "concurrent_modification"},
		{&leave.Error{Kind: leave.KindStoreUnavailable, Err: errors.New("timeout")}, http.StatusServiceUnavailable, "store_unavailable"},
		{&leave.Error{Kind: leave.KindNotFound}, http.StatusNotFound, "not_found"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tc.err)
		var env envelope
		_ = json.Unmarshal(rec.Body.Bytes(), &env)
		if rec.Code != tc.status || env.Error == nil || env.Error.Code != tc.code {
			t.Fatalf("%v: expected %d %s, got %d %s", tc.err, tc.status, tc.code, rec.Code, rec.Body.String())
		}
	}
}
