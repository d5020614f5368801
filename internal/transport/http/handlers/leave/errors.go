package leavehandler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"leaveflow/internal/domain/leave"
	"leaveflow/internal/transport/http/api"
	"leaveflow/internal/transport/http/middleware"
)

// writeError maps a workflow error onto the JSON envelope. The error code is
// the error kind so clients can branch without parsing messages.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := middleware.GetRequestID(r.Context())
	var werr *leave.Error
	if !errors.As(err, &werr) {
		slog.Error("leave request failed", "err", err, "requestId", requestID)
		api.Fail(w, http.StatusInternalServerError, "internal_error", "internal server error", requestID)
		return
	}

	code := string(werr.Kind)
	switch werr.Kind {
	case leave.KindInvalidRange, leave.KindInvalidInput:
		api.Fail(w, http.StatusBadRequest, code, werr.Message, requestID)
	case leave.KindNotFound:
		api.Fail(w, http.StatusNotFound, code, "leave request not found", requestID)
	case leave.KindOverlappingApproval:
		var details any
		if werr.Conflict != nil {
			details = map[string]any{"conflict": werr.Conflict}
		}
		api.FailWithDetails(w, http.StatusConflict, code, werr.Message, details, requestID)
	case leave.KindIllegalTransition:
		api.FailWithDetails(w, http.StatusConflict, code, werr.Message, map[string]any{
			"currentStatus": werr.Current,
			"role":          werr.Role,
		}, requestID)
	case leave.KindConcurrentModification:
		api.FailWithDetails(w, http.StatusConflict, code, "the request was decided by someone else; reload and retry", map[string]any{
			"currentStatus": werr.Current,
		}, requestID)
	case leave.KindStoreUnavailable:
		slog.Error("leave store unavailable", "err", err, "requestId", requestID)
		api.Unavailable(w, time.Second, code, "leave store unavailable, retry shortly", requestID)
	default:
		slog.Error("leave request failed", "err", err, "requestId", requestID)
		api.Fail(w, http.StatusInternalServerError, "internal_error", "internal server error", requestID)
	}
}
