package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/sandeepkv93/authkit/internal/http/middleware"
	"github.com/sandeepkv93/authkit/internal/http/response"
	"github.com/sandeepkv93/authkit/internal/observability"
	"github.com/sandeepkv93/authkit/internal/repository"
	"github.com/sandeepkv93/authkit/internal/service"
)

type AdminHandler struct {
	userSvc service.UserServiceInterface
}

func NewAdminHandler(userSvc service.UserServiceInterface) *AdminHandler {
	return &AdminHandler{userSvc: userSvc}
}

// RequireAdmin guards admin routes using the role carried in the access
// claims, which is re-read from the store on every token rotation.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.ClaimsFromContext(r.Context())
		if !ok {
			response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
			return
		}
		if claims.Role != "admin" {
			response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "admin role required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAdminListRequestDuration(r.Context(), "users", status, time.Since(start))
	}()

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	observability.RecordAdminListPageSize(r.Context(), "users", pageSize)

	result, err := h.userSvc.ListPaged(repository.PageRequest{Page: page, PageSize: pageSize})
	if err != nil {
		status = "failure"
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to list users", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, result)
}
