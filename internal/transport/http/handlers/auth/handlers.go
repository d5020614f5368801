package authhandler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"unicode"

	"github.com/go-chi/chi/v5"

	"leaveflow/internal/domain/audit"
	"leaveflow/internal/domain/auth"
	"leaveflow/internal/transport/http/api"
	"leaveflow/internal/transport/http/middleware"
	"leaveflow/internal/transport/http/shared"
)

type Handler struct {
	Service     *auth.Service
	Perms       middleware.PermissionStore
	AllowSignup bool
	Audit       middleware.Auditor
}

func NewHandler(service *auth.Service, perms middleware.PermissionStore, allowSignup bool) *Handler {
	return &Handler{Service: service, Perms: perms, AllowSignup: allowSignup}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/login", h.HandleLogin)
	r.Post("/auth/signup", h.HandleSignup)
	r.With(middleware.RequireUser).Get("/auth/me", h.HandleMe)
	r.With(middleware.RequireUser).Patch("/auth/me", h.HandleUpdateProfile)
	r.With(middleware.RequireUser).Post("/auth/password", h.HandleChangePassword)

	manage := middleware.RequirePermission(auth.PermUsersManage, h.Perms)
	r.With(manage).Get("/users", h.handleListUsers)
	r.With(manage).Post("/users", h.handleCreateUser)
	r.With(manage).Patch("/users/{userID}", h.handleUpdateUser)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type signupRequest struct {
	Email       string `json:"email" validate:"required,email,max=254"`
	Password    string `json:"password" validate:"required,max=128"`
	DisplayName string `json:"displayName" validate:"required,max=120"`
}

type createUserRequest struct {
	Email       string `json:"email" validate:"required,email,max=254"`
	Password    string `json:"password" validate:"required,max=128"`
	DisplayName string `json:"displayName" validate:"required,max=120"`
	Role        string `json:"role" validate:"required,oneof=employee HR GM AE"`
	AssignedTo  string `json:"assignedTo"`
}

type updateUserRequest struct {
	DisplayName *string `json:"displayName" validate:"omitempty,max=120"`
	Role        *string `json:"role" validate:"omitempty,oneof=employee HR GM AE"`
	AssignedTo  *string `json:"assignedTo"`
}

type profileRequest struct {
	DisplayName *string `json:"displayName" validate:"omitempty,min=1,max=120"`
	Phone       *string `json:"phone" validate:"omitempty,max=32"`
}

type passwordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,max=128"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=NewPassword"`
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	var payload loginRequest
	if !shared.Bind(w, r, &payload, requestID) {
		return
	}

	token, user, err := h.Service.Login(r.Context(), payload.Email, payload.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			api.Fail(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials", requestID)
			return
		}
		slog.Error("login failed", "err", err, "requestId", requestID)
		api.Fail(w, http.StatusInternalServerError, "login_failed", "failed to sign in", requestID)
		return
	}

	api.Success(w, map[string]any{"token": token, "user": user}, requestID)
}

// HandleSignup registers an employee account. Approver roles are only
// granted by HR through /users.
func (h *Handler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	if !h.AllowSignup {
		api.Fail(w, http.StatusForbidden, "signup_disabled", "self signup is disabled", requestID)
		return
	}
	var payload signupRequest
	if !shared.Bind(w, r, &payload, requestID) {
		return
	}
	if err := validatePassword(payload.Password); err != nil {
		shared.FailValidation(w, requestID, []shared.ValidationIssue{{Field: "password", Reason: err.Error()}})
		return
	}

	user, err := h.Service.Register(r.Context(), auth.User{
		Email:       payload.Email,
		DisplayName: strings.TrimSpace(payload.DisplayName),
		RoleName:    auth.RoleEmployee,
	}, payload.Password)
	if err != nil {
		writeUserError(w, requestID, err)
		return
	}
	slog.Info("user signed up", "userId", user.ID)
	h.Audit.Record(r, audit.ActionUserCreate, audit.EntityUser, user.ID, nil, user)
	api.Created(w, user, requestID)
}

func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	claims, _ := middleware.GetUser(r.Context())
	user, err := h.Service.FindUser(r.Context(), claims.UserID)
	if err != nil {
		writeUserError(w, requestID, err)
		return
	}
	api.Success(w, user, requestID)
}

// HandleUpdateProfile lets a user edit their own name and phone.
func (h *Handler) HandleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	var payload profileRequest
	if !shared.Bind(w, r, &payload, requestID) {
		return
	}
	payload.DisplayName = trimmed(payload.DisplayName)
	payload.Phone = trimmed(payload.Phone)
	if payload.DisplayName != nil && *payload.DisplayName == "" {
		shared.FailValidation(w, requestID, []shared.ValidationIssue{{Field: "displayName", Reason: "must not be blank"}})
		return
	}

	claims, _ := middleware.GetUser(r.Context())
	before, err := h.Service.FindUser(r.Context(), claims.UserID)
	if err != nil {
		writeUserError(w, requestID, err)
		return
	}
	user, err := h.Service.UpdateProfile(r.Context(), claims.UserID, payload.DisplayName, payload.Phone)
	if err != nil {
		writeUserError(w, requestID, err)
		return
	}
	h.Audit.Record(r, audit.ActionUserUpdate, audit.EntityUser, user.ID, before, user)
	api.Success(w, user, requestID)
}

func (h *Handler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	var payload passwordRequest
	if !shared.Bind(w, r, &payload, requestID) {
		return
	}
	if err := validatePassword(payload.NewPassword); err != nil {
		shared.FailValidation(w, requestID, []shared.ValidationIssue{{Field: "newPassword", Reason: err.Error()}})
		return
	}

	claims, _ := middleware.GetUser(r.Context())
	err := h.Service.ChangePassword(r.Context(), claims.UserID, payload.CurrentPassword, payload.NewPassword)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		api.Fail(w, http.StatusBadRequest, "invalid_current_password", "current password is incorrect", requestID)
		return
	}
	if err != nil {
		writeUserError(w, requestID, err)
		return
	}
	slog.Info("password changed", "userId", claims.UserID)
	h.Audit.Record(r, audit.ActionUserPassword, audit.EntityUser, claims.UserID, nil, nil)
	api.Success(w, map[string]bool{"changed": true}, requestID)
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	users, err := h.Service.ListUsers(r.Context())
	if err != nil {
		writeUserError(w, requestID, err)
		return
	}
	api.Success(w, users, requestID)
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	var payload createUserRequest
	if !shared.Bind(w, r, &payload, requestID) {
		return
	}
	if err := validatePassword(payload.Password); err != nil {
		shared.FailValidation(w, requestID, []shared.ValidationIssue{{Field: "password", Reason: err.Error()}})
		return
	}

	user, err := h.Service.Register(r.Context(), auth.User{
		Email:       payload.Email,
		DisplayName: strings.TrimSpace(payload.DisplayName),
		RoleName:    payload.Role,
		AssignedTo:  strings.TrimSpace(payload.AssignedTo),
	}, payload.Password)
	if err != nil {
		writeUserError(w, requestID, err)
		return
	}
	actor, _ := middleware.GetUser(r.Context())
	slog.Info("user created", "userId", user.ID, "role", user.RoleName, "actorId", actor.UserID)
	h.Audit.Record(r, audit.ActionUserCreate, audit.EntityUser, user.ID, nil, user)
	api.Created(w, user, requestID)
}

func (h *Handler) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	var payload updateUserRequest
	if !shared.Bind(w, r, &payload, requestID) {
		return
	}
	if payload.AssignedTo != nil {
		trimmed := strings.TrimSpace(*payload.AssignedTo)
		payload.AssignedTo = &trimmed
	}

	userID := chi.URLParam(r, "userID")
	before, err := h.Service.FindUser(r.Context(), userID)
	if err != nil {
		writeUserError(w, requestID, err)
		return
	}
	user, err := h.Service.UpdateUser(r.Context(), userID, auth.UserUpdate{
		DisplayName: payload.DisplayName,
		RoleName:    payload.Role,
		AssignedTo:  payload.AssignedTo,
	})
	if err != nil {
		writeUserError(w, requestID, err)
		return
	}
	h.Audit.Record(r, audit.ActionUserUpdate, audit.EntityUser, user.ID, before, user)
	api.Success(w, user, requestID)
}

func writeUserError(w http.ResponseWriter, requestID string, err error) {
	switch {
	case errors.Is(err, auth.ErrUserNotFound):
		api.Fail(w, http.StatusNotFound, "not_found", "user not found", requestID)
	case errors.Is(err, auth.ErrEmailTaken):
		api.Fail(w, http.StatusConflict, "email_taken", "email already registered", requestID)
	case errors.Is(err, auth.ErrInvalidRole), errors.Is(err, auth.ErrInvalidAssignment):
		api.Fail(w, http.StatusBadRequest, "invalid_input", err.Error(), requestID)
	default:
		slog.Error("user operation failed", "err", err, "requestId", requestID)
		api.Fail(w, http.StatusInternalServerError, "internal_error", "internal server error", requestID)
	}
}

func trimmed(value *string) *string {
	if value == nil {
		return nil
	}
	v := strings.TrimSpace(*value)
	return &v
}

func validatePassword(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("must be at least 8 characters")
	}
	var hasUpper, hasLower, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit {
		return fmt.Errorf("must contain upper and lower case letters and a number")
	}
	return nil
}
