package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sandeepkv93/authkit/internal/http/middleware"
	"github.com/sandeepkv93/authkit/internal/http/response"
	"github.com/sandeepkv93/authkit/internal/observability"
	"github.com/sandeepkv93/authkit/internal/security"
	"github.com/sandeepkv93/authkit/internal/service"
	"github.com/sandeepkv93/authkit/internal/twofactor"
)

type AuthHandler struct {
	authSvc    service.AuthServiceInterface
	twoFactor  *twofactor.Engine
	cookieMgr  *security.CookieManager
	stateKey   string
	refreshTTL time.Duration
}

func NewAuthHandler(authSvc service.AuthServiceInterface, twoFactor *twofactor.Engine, cookieMgr *security.CookieManager, stateKey string, refreshTTL time.Duration) *AuthHandler {
	return &AuthHandler{authSvc: authSvc, twoFactor: twoFactor, cookieMgr: cookieMgr, stateKey: stateKey, refreshTTL: refreshTTL}
}

func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "google_login", status, time.Since(start))
	}()

	state, err := security.NewRandomString(24)
	if err != nil {
		status = "failure"
		observability.Audit(r, "auth.google.login.failed", "reason", "state_generation")
		observability.RecordAuthLogin(r.Context(), "google", "failure")
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to generate oauth state", nil)
		return
	}
	signed := security.SignState(state, h.stateKey)
	http.SetCookie(w, &http.Cookie{Name: "oauth_state", Value: signed, Path: "/api/v1/auth/google", HttpOnly: true, Secure: h.cookieMgr.Secure, SameSite: h.cookieMgr.SameSite, Domain: h.cookieMgr.Domain, MaxAge: 300})
	observability.Audit(r, "auth.google.login.redirect")
	http.Redirect(w, r, h.authSvc.GoogleLoginURL(state), http.StatusFound)
}

func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "google_callback", status, time.Since(start))
	}()

	queryState := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if queryState == "" || code == "" {
		status = "failure"
		observability.Audit(r, "auth.google.callback.failed", "reason", "missing_code_or_state")
		observability.RecordAuthLogin(r.Context(), "google", "failure")
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "missing state or code", nil)
		return
	}
	stateCookie := security.GetCookie(r, "oauth_state")
	state, ok := security.VerifySignedState(stateCookie, h.stateKey)
	if !ok || state != queryState {
		status = "failure"
		observability.Audit(r, "auth.google.callback.failed", "reason", "invalid_state")
		observability.RecordAuthLogin(r.Context(), "google", "failure")
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid oauth state", nil)
		return
	}
	// Invalidate one-time state immediately after successful verification.
	http.SetCookie(w, &http.Cookie{Name: "oauth_state", Value: "", Path: "/api/v1/auth/google", MaxAge: -1, HttpOnly: true, Secure: h.cookieMgr.Secure, SameSite: h.cookieMgr.SameSite, Domain: h.cookieMgr.Domain})

	grant, err := h.authSvc.LoginWithGoogleCode(r.Context(), code, r.UserAgent(), clientIP(r))
	if err != nil {
		status = "failure"
		observability.Audit(r, "auth.google.callback.failed", "reason", "oauth_exchange", "error", err.Error())
		observability.RecordAuthLogin(r.Context(), "google", "failure")
		response.Error(w, r, http.StatusUnauthorized, "OAUTH_FAILED", "google sign-in failed", nil)
		return
	}
	h.cookieMgr.SetTokenCookies(w, grant.AccessToken, grant.RefreshToken, grant.CSRFToken, h.refreshTTL)
	observability.Audit(r, "auth.login.success", "user_id", grant.User.ID, "provider", "google")
	observability.RecordAuthLogin(r.Context(), "google", "success")
	response.JSON(w, r, http.StatusOK, map[string]any{"user": grant.User, "csrf_token": grant.CSRFToken, "expires_at": grant.ExpiresAt})
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "register", status, time.Since(start))
	}()

	var body struct {
		Email    string `json:"email"`
		Username string `json:"username"`
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		status = "failure"
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	outcome, err := h.authSvc.Register(r.Context(), body.Email, body.Username, body.Name, body.Password, r.UserAgent(), clientIP(r))
	if err != nil {
		status = "failure"
		observability.RecordAuthLocalFlowEvent(r.Context(), "register", "failure")
		h.writeAuthError(w, r, err)
		return
	}
	observability.Audit(r, "auth.register.success", "user_id", outcome.User.ID, "status", string(outcome.Status))
	observability.RecordAuthLocalFlowEvent(r.Context(), "register", "success")
	h.writeOutcome(w, r, outcome)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "login", status, time.Since(start))
	}()

	var body struct {
		Identifier string `json:"identifier"`
		Email      string `json:"email"`
		Password   string `json:"password"`
		Code       string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		status = "failure"
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	// Either field names the account; "identifier" also accepts a username.
	identifier := body.Identifier
	if identifier == "" {
		identifier = body.Email
	}
	outcome, err := h.authSvc.Authenticate(r.Context(), identifier, body.Password, body.Code, r.UserAgent(), clientIP(r))
	if err != nil {
		status = "failure"
		observability.Audit(r, "auth.login.failed", "reason", "credentials_or_challenge")
		observability.RecordAuthLogin(r.Context(), "local", "failure")
		h.writeAuthError(w, r, err)
		return
	}
	if outcome.Status == service.StatusSessionGranted {
		observability.Audit(r, "auth.login.success", "user_id", outcome.User.ID, "provider", "local")
		observability.RecordAuthLogin(r.Context(), "local", "success")
	} else {
		observability.Audit(r, "auth.login.pending", "user_id", outcome.User.ID, "status", string(outcome.Status))
		observability.RecordAuthLogin(r.Context(), "local", string(outcome.Status))
	}
	h.writeOutcome(w, r, outcome)
}

func (h *AuthHandler) VerifyRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	if err := h.authSvc.ResendVerification(r.Context(), body.Email); err != nil {
		observability.RecordAuthLocalFlowEvent(r.Context(), "verify_request", "failure")
		h.writeAuthError(w, r, err)
		return
	}
	observability.RecordAuthLocalFlowEvent(r.Context(), "verify_request", "success")
	// Same response whether or not the account exists.
	response.JSON(w, r, http.StatusAccepted, map[string]string{"status": "verification_email_sent"})
}

func (h *AuthHandler) VerifyConfirm(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	if err := h.authSvc.ConfirmVerification(r.Context(), body.Token); err != nil {
		observability.Audit(r, "auth.verify.failed")
		observability.RecordAuthLocalFlowEvent(r.Context(), "verify_confirm", "failure")
		h.writeAuthError(w, r, err)
		return
	}
	observability.Audit(r, "auth.verify.success")
	observability.RecordAuthLocalFlowEvent(r.Context(), "verify_confirm", "success")
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "email_verified"})
}

func (h *AuthHandler) PasswordForgot(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	if err := h.authSvc.RequestPasswordReset(r.Context(), body.Email, clientIP(r)); err != nil {
		observability.RecordAuthLocalFlowEvent(r.Context(), "password_forgot", "failure")
		h.writeAuthError(w, r, err)
		return
	}
	observability.RecordAuthLocalFlowEvent(r.Context(), "password_forgot", "success")
	response.JSON(w, r, http.StatusAccepted, map[string]string{"status": "reset_email_sent"})
}

func (h *AuthHandler) PasswordReset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	if err := h.authSvc.ResetPassword(r.Context(), body.Token, body.Password); err != nil {
		observability.Audit(r, "auth.password.reset.failed")
		observability.RecordAuthLocalFlowEvent(r.Context(), "password_reset", "failure")
		h.writeAuthError(w, r, err)
		return
	}
	observability.Audit(r, "auth.password.reset.success")
	observability.RecordAuthLocalFlowEvent(r.Context(), "password_reset", "success")
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "password_reset"})
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.subjectUserID(w, r)
	if !ok {
		return
	}
	var body struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	if err := h.authSvc.ChangePassword(r.Context(), uid, body.CurrentPassword, body.NewPassword); err != nil {
		observability.Audit(r, "auth.password.change.failed", "user_id", uid)
		observability.RecordAuthLocalFlowEvent(r.Context(), "password_change", "failure")
		h.writeAuthError(w, r, err)
		return
	}
	h.cookieMgr.ClearTokenCookies(w)
	observability.Audit(r, "auth.password.change.success", "user_id", uid)
	observability.RecordAuthLocalFlowEvent(r.Context(), "password_change", "success")
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "password_changed"})
}

func (h *AuthHandler) TwoFactorSetup(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.subjectUserID(w, r)
	if !ok {
		return
	}
	setup, err := h.twoFactor.BeginSetup(r.Context(), uid)
	if err != nil {
		observability.RecordAuthLocalFlowEvent(r.Context(), "2fa_setup", "failure")
		h.writeAuthError(w, r, err)
		return
	}
	observability.Audit(r, "auth.2fa.setup.begin", "user_id", uid)
	observability.RecordAuthLocalFlowEvent(r.Context(), "2fa_setup", "success")
	response.JSON(w, r, http.StatusOK, map[string]string{"secret": setup.Secret, "provision_uri": setup.ProvisionURI})
}

func (h *AuthHandler) TwoFactorVerify(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.subjectUserID(w, r)
	if !ok {
		return
	}
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	if err := h.twoFactor.CompleteSetup(r.Context(), uid, body.Code); err != nil {
		observability.Audit(r, "auth.2fa.setup.failed", "user_id", uid)
		observability.RecordAuthLocalFlowEvent(r.Context(), "2fa_verify", "failure")
		h.writeAuthError(w, r, err)
		return
	}
	observability.Audit(r, "auth.2fa.enabled", "user_id", uid)
	observability.RecordAuthLocalFlowEvent(r.Context(), "2fa_verify", "success")
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "two_factor_enabled"})
}

func (h *AuthHandler) TwoFactorDisable(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.subjectUserID(w, r)
	if !ok {
		return
	}
	if err := h.twoFactor.Disable(r.Context(), uid); err != nil {
		observability.RecordAuthLocalFlowEvent(r.Context(), "2fa_disable", "failure")
		h.writeAuthError(w, r, err)
		return
	}
	observability.Audit(r, "auth.2fa.disabled", "user_id", uid)
	observability.RecordAuthLocalFlowEvent(r.Context(), "2fa_disable", "success")
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "two_factor_disabled"})
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "refresh", status, time.Since(start))
	}()

	refresh := security.GetCookie(r, "refresh_token")
	if refresh == "" {
		status = "failure"
		observability.Audit(r, "auth.refresh.failed", "reason", "missing_refresh_cookie")
		observability.RecordAuthRefresh(r.Context(), "failure")
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing refresh token", nil)
		return
	}
	grant, err := h.authSvc.Refresh(r.Context(), refresh, r.UserAgent(), clientIP(r))
	if err != nil {
		status = "failure"
		observability.Audit(r, "auth.refresh.failed", "reason", "invalid_refresh")
		observability.RecordAuthRefresh(r.Context(), "failure")
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid refresh token", nil)
		return
	}
	h.cookieMgr.SetTokenCookies(w, grant.AccessToken, grant.RefreshToken, grant.CSRFToken, h.refreshTTL)
	observability.Audit(r, "auth.refresh.success", "user_id", grant.User.ID)
	observability.RecordAuthRefresh(r.Context(), "success")
	response.JSON(w, r, http.StatusOK, map[string]any{"user": grant.User, "csrf_token": grant.CSRFToken, "expires_at": grant.ExpiresAt})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "logout", status, time.Since(start))
	}()

	uid, ok := h.subjectUserID(w, r)
	if !ok {
		status = "failure"
		observability.RecordAuthLogout(r.Context(), "failure")
		return
	}
	if err := h.authSvc.Logout(uid); err != nil {
		status = "failure"
		observability.Audit(r, "auth.logout.failed", "user_id", uid, "reason", "revoke_error")
		observability.RecordAuthLogout(r.Context(), "failure")
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "logout failed", nil)
		return
	}
	h.cookieMgr.ClearTokenCookies(w)
	observability.Audit(r, "auth.logout.success", "user_id", uid)
	observability.RecordAuthLogout(r.Context(), "success")
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "logged_out"})
}

// writeOutcome maps the three authentication endings onto the wire. Only a
// granted session sets cookies; the pending statuses are 202s that tell the
// client which follow-up step to render.
func (h *AuthHandler) writeOutcome(w http.ResponseWriter, r *http.Request, outcome *service.AuthOutcome) {
	switch outcome.Status {
	case service.StatusSessionGranted:
		grant := outcome.Grant
		h.cookieMgr.SetTokenCookies(w, grant.AccessToken, grant.RefreshToken, grant.CSRFToken, h.refreshTTL)
		response.JSON(w, r, http.StatusOK, map[string]any{"user": grant.User, "csrf_token": grant.CSRFToken, "expires_at": grant.ExpiresAt})
	default:
		response.JSON(w, r, http.StatusAccepted, map[string]string{"status": string(outcome.Status)})
	}
}

func (h *AuthHandler) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		response.Error(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid credentials", nil)
	case errors.Is(err, service.ErrThrottleExceeded):
		response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many attempts, try again later", nil)
	case errors.Is(err, service.ErrEmailTaken):
		response.Error(w, r, http.StatusConflict, "EMAIL_TAKEN", "email is already registered", nil)
	case errors.Is(err, service.ErrUsernameTaken):
		response.Error(w, r, http.StatusConflict, "USERNAME_TAKEN", "username is already taken", nil)
	case errors.Is(err, service.ErrInvalidUsername):
		response.Error(w, r, http.StatusUnprocessableEntity, "INVALID_USERNAME", "username does not meet the policy", nil)
	case errors.Is(err, service.ErrWeakPassword):
		response.Error(w, r, http.StatusUnprocessableEntity, "WEAK_PASSWORD", "password does not meet the policy", nil)
	case errors.Is(err, service.ErrInvalidVerifyToken):
		response.Error(w, r, http.StatusBadRequest, "INVALID_TOKEN", "token is invalid or expired", nil)
	case errors.Is(err, twofactor.ErrInvalidTwoFactorCode):
		response.Error(w, r, http.StatusUnauthorized, "INVALID_2FA_CODE", "two factor code is invalid or expired", nil)
	case errors.Is(err, twofactor.ErrTwoFactorAlreadyEnabled):
		response.Error(w, r, http.StatusConflict, "2FA_ALREADY_ENABLED", "two factor is already enabled", nil)
	case errors.Is(err, twofactor.ErrTwoFactorNotSetUp):
		response.Error(w, r, http.StatusBadRequest, "2FA_NOT_SET_UP", "two factor setup has not been started", nil)
	case errors.Is(err, service.ErrEmailNotVerified):
		response.Error(w, r, http.StatusForbidden, "EMAIL_NOT_VERIFIED", "email is not verified", nil)
	case errors.Is(err, service.ErrDeliveryFailed):
		response.Error(w, r, http.StatusBadGateway, "DELIVERY_FAILED", "could not deliver email, try again", nil)
	case errors.Is(err, service.ErrLocalAuthDisabled), errors.Is(err, service.ErrGoogleAuthDisabled):
		response.Error(w, r, http.StatusForbidden, "AUTH_METHOD_DISABLED", "this sign-in method is disabled", nil)
	case errors.Is(err, service.ErrUnauthorized):
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized", nil)
	default:
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	}
}

func (h *AuthHandler) subjectUserID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return 0, false
	}
	uid, err := h.authSvc.ParseUserID(claims.Subject)
	if err != nil {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid subject", nil)
		return 0, false
	}
	return uid, true
}

func clientIP(r *http.Request) string {
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	return r.RemoteAddr
}
