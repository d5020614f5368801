package leavehandler

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"leaveflow/internal/domain/audit"
	"leaveflow/internal/domain/auth"
	"leaveflow/internal/domain/leave"
	"leaveflow/internal/platform/metrics"
	"leaveflow/internal/transport/http/api"
	"leaveflow/internal/transport/http/middleware"
	"leaveflow/internal/transport/http/shared"
)

type Handler struct {
	Service     *leave.Service
	Perms       middleware.PermissionStore
	Idempotency middleware.IdempotencyStore
	Metrics     *metrics.Collector
	Upgrader    websocket.Upgrader
	Audit       middleware.Auditor
	// Closing, when closed, ends every open live feed.
	Closing <-chan struct{}
}

func NewHandler(service *leave.Service, perms middleware.PermissionStore, idem middleware.IdempotencyStore, collector *metrics.Collector) *Handler {
	return &Handler{
		Service:     service,
		Perms:       perms,
		Idempotency: idem,
		Metrics:     collector,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The feed authenticates with a bearer token, not cookies, so a
			// cross-origin page gains nothing by opening it.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	read := middleware.RequirePermission(auth.PermLeaveRead, h.Perms)
	write := middleware.RequirePermission(auth.PermLeaveWrite, h.Perms)
	approve := middleware.RequirePermission(auth.PermLeaveApprove, h.Perms)
	export := middleware.RequirePermission(auth.PermLeaveExport, h.Perms)

	r.Route("/leave", func(r chi.Router) {
		r.With(read).Get("/requests", h.handleListRequests)
		r.With(write).Post("/requests", h.handleSubmitRequest)
		r.With(read).Get("/requests/live", h.handleLiveRequests)
		r.With(export).Get("/requests/export.xlsx", h.handleExportRequests)
		r.With(read).Get("/requests/{requestID}", h.handleGetRequest)
		r.With(read).Get("/requests/{requestID}/slip.pdf", h.handleRequestSlip)
		r.With(approve).Post("/requests/{requestID}/approve", h.handleApproveRequest)
		r.With(approve).Post("/requests/{requestID}/reject", h.handleRejectRequest)
		r.With(read).Get("/stats", h.handleStats)
		r.With(read).Get("/calendar", h.handleCalendar)
		r.With(read).Get("/calendar/export", h.handleCalendarExport)
	})
}

type submitPayload struct {
	Kind        string `json:"kind" validate:"required,oneof=leave permission"`
	Category    string `json:"category" validate:"required,oneof=casual sick earned maternity paternity unpaid"`
	StartDate   string `json:"startDate" validate:"required"`
	EndDate     string `json:"endDate" validate:"required"`
	Reason      string `json:"reason" validate:"required,max=500"`
	Description string `json:"description" validate:"max=2000"`
}

type decisionPayload struct {
	Remarks string `json:"remarks" validate:"max=1000"`
}

func viewerOf(user auth.UserContext, r *http.Request) leave.Viewer {
	return leave.Viewer{
		ID:     user.UserID,
		Role:   user.RoleName,
		Status: leave.Status(strings.TrimSpace(r.URL.Query().Get("status"))),
	}
}

func (h *Handler) handleListRequests(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.GetUser(r.Context())
	requests, err := h.Service.ListFor(r.Context(), viewerOf(user, r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	page := shared.ParsePagination(r, 100, 500)
	w.Header().Set("X-Total-Count", fmt.Sprint(len(requests)))
	api.Success(w, shared.Page(requests, page), middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	req, ok := h.loadVisible(w, r)
	if !ok {
		return
	}
	api.Success(w, req, middleware.GetRequestID(r.Context()))
}

// loadVisible fetches the routed request and hides it behind a 404 when the
// caller's listing would not include it.
func (h *Handler) loadVisible(w http.ResponseWriter, r *http.Request) (leave.LeaveRequest, bool) {
	user, _ := middleware.GetUser(r.Context())
	requestID := chi.URLParam(r, "requestID")
	req, err := h.Service.Get(r.Context(), requestID)
	if err != nil {
		writeError(w, r, err)
		return leave.LeaveRequest{}, false
	}
	if !leave.CanView(leave.Viewer{ID: user.UserID, Role: user.RoleName}, req) {
		api.Fail(w, http.StatusNotFound, "not_found", "leave request not found", middleware.GetRequestID(r.Context()))
		return leave.LeaveRequest{}, false
	}
	return req, true
}

func (h *Handler) handleSubmitRequest(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.GetUser(r.Context())
	requestID := middleware.GetRequestID(r.Context())

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.Fail(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large", requestID)
			return
		}
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", requestID)
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))

	idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	idemHash := middleware.RequestHash(raw)
	reserved := false
	if idemKey != "" && h.Idempotency != nil {
		stored, ok, err := h.Idempotency.Reserve(r.Context(), user.UserID, "leave.submit", idemKey, idemHash)
		switch {
		case errors.Is(err, middleware.ErrIdempotencyConflict):
			api.Fail(w, http.StatusConflict, "idempotency_conflict", "idempotency key reused with a different payload", requestID)
			return
		case errors.Is(err, middleware.ErrIdempotencyInFlight):
			w.Header().Set("Retry-After", "1")
			api.Fail(w, http.StatusConflict, "idempotency_in_progress", "a request with this idempotency key is still in progress", requestID)
			return
		case err != nil:
			slog.Warn("idempotency reserve failed", "err", err, "requestId", requestID)
		case !ok:
			api.Created(w, stored, requestID)
			return
		default:
			reserved = true
		}
	}
	saved := false
	if reserved {
		defer func() {
			if saved {
				return
			}
			if err := h.Idempotency.Release(context.WithoutCancel(r.Context()), user.UserID, "leave.submit", idemKey); err != nil {
				slog.Warn("idempotency release failed", "err", err, "requestId", requestID)
			}
		}()
	}

	var payload submitPayload
	if !shared.Bind(w, r, &payload, requestID) {
		return
	}
	v := shared.NewValidator()
	start, _ := v.Date("startDate", payload.StartDate)
	end, _ := v.Date("endDate", payload.EndDate)
	if v.Reject(w, requestID) {
		return
	}

	created, err := h.Service.Submit(r.Context(), leave.SubmitInput{
		RequesterID:   user.UserID,
		RequesterName: user.Name,
		Kind:          leave.Kind(payload.Kind),
		Category:      leave.Category(payload.Category),
		StartDate:     start,
		EndDate:       end,
		Reason:        payload.Reason,
		Description:   payload.Description,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	if reserved {
		encoded, err := json.Marshal(created)
		if err == nil {
			err = h.Idempotency.Save(r.Context(), user.UserID, "leave.submit", idemKey, idemHash, encoded)
		}
		if err != nil {
			slog.Warn("idempotency save failed", "err", err, "requestId", requestID)
		} else {
			saved = true
		}
	}
	h.Audit.Record(r, audit.ActionLeaveSubmit, audit.EntityLeaveRequest, created.ID, nil, created)
	api.Created(w, created, requestID)
}

func (h *Handler) handleApproveRequest(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, leave.DecisionApproved)
}

func (h *Handler) handleRejectRequest(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, leave.DecisionRejected)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, decision leave.Decision) {
	user, _ := middleware.GetUser(r.Context())
	requestID := middleware.GetRequestID(r.Context())

	var payload decisionPayload
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", requestID)
		return
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		r.Body = io.NopCloser(bytes.NewReader(raw))
		if !shared.Bind(w, r, &payload, requestID) {
			return
		}
	}

	updated, err := h.Service.Decide(r.Context(), leave.DecideInput{
		RequestID: chi.URLParam(r, "requestID"),
		Actor:     leave.Actor{ID: user.UserID, Name: user.Name, Role: user.RoleName},
		Decision:  decision,
		Remarks:   payload.Remarks,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	action := audit.ActionLeaveApprove
	if decision == leave.DecisionRejected {
		action = audit.ActionLeaveReject
	}
	h.Audit.Record(r, action, audit.EntityLeaveRequest, updated.ID, nil, map[string]any{
		"status":  updated.Status,
		"stage1":  updated.Stage1,
		"stage2":  updated.Stage2,
		"remarks": payload.Remarks,
	})
	api.Success(w, updated, requestID)
}

func (h *Handler) handleRequestSlip(w http.ResponseWriter, r *http.Request) {
	req, ok := h.loadVisible(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := leave.WriteSlipPDF(&buf, req); err != nil {
		slog.Error("leave slip render failed", "requestId", req.ID, "err", err)
		api.Fail(w, http.StatusInternalServerError, "slip_failed", "failed to render leave slip", middleware.GetRequestID(r.Context()))
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=leave-%s.pdf", req.ID))
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Warn("leave slip write failed", "err", err)
	}
}

func (h *Handler) handleExportRequests(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.GetUser(r.Context())
	requests, err := h.Service.ListFor(r.Context(), viewerOf(user, r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := leave.WriteXLSX(&buf, requests); err != nil {
		slog.Error("leave export render failed", "err", err)
		api.Fail(w, http.StatusInternalServerError, "export_failed", "failed to export leave requests", middleware.GetRequestID(r.Context()))
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename=leave-requests.xlsx")
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Warn("leave export write failed", "err", err)
	}
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.GetUser(r.Context())
	stats, err := h.Service.Stats(r.Context(), leave.Viewer{ID: user.UserID, Role: user.RoleName})
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, stats, middleware.GetRequestID(r.Context()))
}

func (h *Handler) calendarEntries(w http.ResponseWriter, r *http.Request) ([]leave.LeaveRequest, bool) {
	user, _ := middleware.GetUser(r.Context())
	v := shared.NewValidator()
	from := v.OptionalDate("from", r.URL.Query().Get("from"))
	to := v.OptionalDate("to", r.URL.Query().Get("to"))
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return nil, false
	}
	entries, err := h.Service.Calendar(r.Context(), leave.Viewer{ID: user.UserID, Role: user.RoleName}, from, to)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return entries, true
}

func (h *Handler) handleCalendar(w http.ResponseWriter, r *http.Request) {
	entries, ok := h.calendarEntries(w, r)
	if !ok {
		return
	}
	events := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		events = append(events, map[string]any{
			"id":            entry.ID,
			"requesterId":   entry.RequesterID,
			"requesterName": entry.RequesterName,
			"kind":          entry.Kind,
			"category":      entry.Category,
			"start":         entry.StartDate.Format("2006-01-02"),
			"end":           entry.EndDate.Format("2006-01-02"),
			"duration":      entry.Duration,
		})
	}
	api.Success(w, events, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleCalendarExport(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "ics" {
		api.Fail(w, http.StatusBadRequest, "invalid_format", "format must be csv or ics", middleware.GetRequestID(r.Context()))
		return
	}
	entries, ok := h.calendarEntries(w, r)
	if !ok {
		return
	}

	if format == "ics" {
		w.Header().Set("Content-Type", "text/calendar")
		w.Header().Set("Content-Disposition", "attachment; filename=leave-calendar.ics")
		var builder strings.Builder
		builder.WriteString("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//leaveflow//Leave Calendar//EN\r\n")
		for _, entry := range entries {
			builder.WriteString("BEGIN:VEVENT\r\n")
			builder.WriteString(fmt.Sprintf("UID:%s@leaveflow\r\n", entry.ID))
			builder.WriteString(fmt.Sprintf("DTSTART;VALUE=DATE:%s\r\n", entry.StartDate.Format("20060102")))
			builder.WriteString(fmt.Sprintf("DTEND;VALUE=DATE:%s\r\n", entry.EndDate.AddDate(0, 0, 1).Format("20060102")))
			builder.WriteString(fmt.Sprintf("SUMMARY:%s - %s %s\r\n", entry.RequesterName, entry.Category, entry.Kind))
			builder.WriteString("END:VEVENT\r\n")
		}
		builder.WriteString("END:VCALENDAR\r\n")
		if _, err := w.Write([]byte(builder.String())); err != nil {
			slog.Warn("calendar export write failed", "err", err)
		}
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=leave-calendar.csv")
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"id", "requester", "kind", "category", "start_date", "end_date", "days"}); err != nil {
		slog.Warn("calendar export csv header write failed", "err", err)
	}
	for _, entry := range entries {
		row := []string{
			entry.ID, entry.RequesterName, string(entry.Kind), string(entry.Category),
			entry.StartDate.Format("2006-01-02"), entry.EndDate.Format("2006-01-02"), fmt.Sprint(entry.Duration),
		}
		if err := writer.Write(row); err != nil {
			slog.Warn("calendar export csv row write failed", "err", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		slog.Warn("calendar export csv flush failed", "err", err)
	}
}
