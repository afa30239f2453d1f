package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sandeepkv93/authkit/internal/http/middleware"
	"github.com/sandeepkv93/authkit/internal/http/response"
	"github.com/sandeepkv93/authkit/internal/observability"
	"github.com/sandeepkv93/authkit/internal/repository"
	"github.com/sandeepkv93/authkit/internal/service"
)

type UserHandler struct {
	userSvc    service.UserServiceInterface
	sessionSvc *service.SessionService
}

func NewUserHandler(userSvc service.UserServiceInterface, sessionSvc *service.SessionService) *UserHandler {
	return &UserHandler{userSvc: userSvc, sessionSvc: sessionSvc}
}

func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	uid, ok := subjectID(w, r)
	if !ok {
		return
	}
	u, err := h.userSvc.GetByID(uid)
	if err != nil {
		observability.RecordUserProfileEvent(r.Context(), "not_found")
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "user not found", nil)
		return
	}
	observability.RecordUserProfileEvent(r.Context(), "success")
	response.JSON(w, r, http.StatusOK, u)
}

func (h *UserHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	uid, ok := subjectID(w, r)
	if !ok {
		return
	}
	currentID, err := h.sessionSvc.ResolveCurrentSessionID(r, uid)
	if err != nil && !errors.Is(err, repository.ErrSessionNotFound) {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to resolve current session", nil)
		return
	}
	views, err := h.sessionSvc.ListSessions(uid, currentID)
	if err != nil {
		observability.RecordSessionManagementEvent(r.Context(), "list", "failure")
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to list sessions", nil)
		return
	}
	observability.RecordSessionManagementEvent(r.Context(), "list", "success")
	response.JSON(w, r, http.StatusOK, map[string]any{"sessions": views})
}

func (h *UserHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	uid, ok := subjectID(w, r)
	if !ok {
		return
	}
	sid64, err := strconv.ParseUint(chi.URLParam(r, "session_id"), 10, 64)
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid session id", nil)
		return
	}
	status, err := h.sessionSvc.RevokeSession(uid, uint(sid64))
	if err != nil {
		observability.RecordSessionManagementEvent(r.Context(), "revoke_one", "failure")
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to revoke session", nil)
		return
	}
	observability.Audit(r, "session.revoked", "user_id", uid, "session_id", sid64, "result", status)
	observability.RecordSessionManagementEvent(r.Context(), "revoke_one", status)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": status})
}

func (h *UserHandler) RevokeOtherSessions(w http.ResponseWriter, r *http.Request) {
	uid, ok := subjectID(w, r)
	if !ok {
		return
	}
	currentID, err := h.sessionSvc.ResolveCurrentSessionID(r, uid)
	if err != nil {
		observability.RecordSessionManagementEvent(r.Context(), "revoke_others", "failure")
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "current session unknown", nil)
		return
	}
	revoked, err := h.sessionSvc.RevokeOtherSessions(uid, currentID)
	if err != nil {
		observability.RecordSessionManagementEvent(r.Context(), "revoke_others", "failure")
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to revoke sessions", nil)
		return
	}
	observability.Audit(r, "session.revoked_others", "user_id", uid, "revoked", revoked)
	observability.RecordSessionManagementEvent(r.Context(), "revoke_others", "success")
	observability.RecordSessionRevokedCount(r.Context(), "revoke_others", revoked)
	response.JSON(w, r, http.StatusOK, map[string]any{"status": "revoked", "count": revoked})
}

func subjectID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return 0, false
	}
	id64, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid user", nil)
		return 0, false
	}
	return uint(id64), true
}
