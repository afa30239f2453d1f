package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sandeepkv93/authkit/internal/config"
	"github.com/sandeepkv93/authkit/internal/database"
	"github.com/sandeepkv93/authkit/internal/http/handler"
	"github.com/sandeepkv93/authkit/internal/http/middleware"
	"github.com/sandeepkv93/authkit/internal/http/router"
	"github.com/sandeepkv93/authkit/internal/ratelimit"
	"github.com/sandeepkv93/authkit/internal/repository"
	"github.com/sandeepkv93/authkit/internal/security"
	"github.com/sandeepkv93/authkit/internal/service"
	"github.com/sandeepkv93/authkit/internal/token"
	"github.com/sandeepkv93/authkit/internal/twofactor"
)

const integrationPassword = "Valid#Pass1234"

type errorEnvelope struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// captureNotifier records every outbound notification so tests can read
// back the token or code a real user would receive by email.
type captureNotifier struct {
	mu         sync.Mutex
	verifyTok  string
	resetTok   string
	emailCode  string
	codesSent  int
	verifySent int
}

func (n *captureNotifier) SendEmailVerification(_ context.Context, notification service.VerificationNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.verifyTok = notification.Token
	n.verifySent++
	return nil
}

func (n *captureNotifier) SendPasswordReset(_ context.Context, notification service.PasswordResetNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resetTok = notification.Token
	return nil
}

func (n *captureNotifier) SendTwoFactorCode(_ context.Context, notification service.TwoFactorCodeNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.emailCode = notification.Code
	n.codesSent++
	return nil
}

func (n *captureNotifier) LastVerifyToken() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.verifyTok
}

func (n *captureNotifier) LastResetToken() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.resetTok
}

func (n *captureNotifier) LastEmailCode() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.emailCode
}

type testEnv struct {
	baseURL  string
	client   *http.Client
	db       *gorm.DB
	notifier *captureNotifier
	close    func()
}

type envOptions struct {
	cfgOverride func(cfg *config.Config)
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithOptions(t, envOptions{})
}

func newTestEnvWithOptions(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := &config.Config{
		AuthGoogleEnabled:                 false,
		AuthLocalEnabled:                  true,
		AuthLocalRequireEmailVerification: true,
		AuthEmailVerifyTokenTTL:           30 * time.Minute,
		AuthPasswordResetTokenTTL:         15 * time.Minute,
		AuthTwoFactorCodeTTL:              10 * time.Minute,
		AuthPasswordForgotRateLimitPerMin: 1000,
		AuthRateLimitPerMin:               1000,
		APIRateLimitPerMin:                1000,
		RegisterThrottle:                  config.Throttle{Max: 100, Window: 10 * time.Minute},
		ResendVerifyThrottle:              config.Throttle{Max: 100, Window: 10 * time.Minute},
		LoginResendThrottle:               config.Throttle{Max: 100, Window: 10 * time.Minute},
		TwoFactorThrottle:                 config.Throttle{Max: 100, Window: 15 * time.Minute},
		PasswordResetThrottle:             config.Throttle{Max: 100, Window: 15 * time.Minute},
		TOTPIssuer:                        "AuthKit Test",
		TOTPTestSkew:                      1,
		FrontendBaseURL:                   "http://localhost:3000",
		JWTAccessTTL:                      15 * time.Minute,
		JWTRefreshTTL:                     24 * time.Hour,
	}
	if opts.cfgOverride != nil {
		opts.cfgOverride(cfg)
	}

	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	tokenRepo := repository.NewAuthTokenRepository(db)
	confirmationRepo := repository.NewTwoFactorConfirmationRepository(db)

	jwtMgr := security.NewJWTManager(
		"iss",
		"aud",
		"abcdefghijklmnopqrstuvwxyz123456",
		"abcdefghijklmnopqrstuvwxyz654321",
	)
	cookieMgr := security.NewCookieManager("", false, "lax")

	ledger := token.NewLedger(tokenRepo)
	engine := twofactor.NewEngine(userRepo, confirmationRepo, cfg.TOTPIssuer, cfg.TOTPTestSkew)
	tokenSvc := service.NewTokenService(jwtMgr, sessionRepo, "pepper-1234567890", cfg.JWTAccessTTL, cfg.JWTRefreshTTL)
	sessionSvc := service.NewSessionService(tokenSvc, sessionRepo, engine, "pepper-1234567890", cfg.JWTAccessTTL)
	userSvc := service.NewUserService(userRepo)

	notifier := &captureNotifier{}
	authSvc := service.NewAuthService(
		cfg,
		nil,
		sessionSvc,
		tokenSvc,
		userRepo,
		ledger,
		engine,
		ratelimit.NewLocalFixedWindowLimiter(),
		service.NewNoopAuthAbuseGuard(),
		notifier,
		notifier,
		notifier,
	)

	authHandler := handler.NewAuthHandler(authSvc, engine, cookieMgr, "0123456789abcdef0123456789abcdef", cfg.JWTRefreshTTL)
	userHandler := handler.NewUserHandler(userSvc, sessionSvc)
	adminHandler := handler.NewAdminHandler(userSvc)

	gate := middleware.NewAuthGate(jwtMgr, middleware.GateRoutes{
		APIAuthPrefix: "/api/v1/auth",
		AuthRoutes:    []string{"/auth/login", "/auth/register"},
		PublicRoutes:  []string{"/", "/auth/new-verification"},
	})

	r := router.NewRouter(router.Dependencies{
		AuthHandler:      authHandler,
		UserHandler:      userHandler,
		AdminHandler:     adminHandler,
		JWTManager:       jwtMgr,
		AuthGate:         gate,
		CORSOrigins:      []string{"http://localhost"},
		APIRateLimitRPM:  cfg.APIRateLimitPerMin,
		AuthRateLimitRPM: cfg.AuthRateLimitPerMin,
		ForgotRateLimit:  cfg.AuthPasswordForgotRateLimitPerMin,
		EnableOTelHTTP:   false,
	})

	srv := httptest.NewServer(r)
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	client := srv.Client()
	client.Jar = jar
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &testEnv{baseURL: srv.URL, client: client, db: db, notifier: notifier, close: srv.Close}
}

func (e *testEnv) registerAndVerify(t *testing.T, email string) {
	t.Helper()
	resp, body := e.doJSON(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email":    email,
		"name":     "Test User",
		"password": integrationPassword,
	}, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("register: status=%d body=%s", resp.StatusCode, body)
	}
	tok := e.notifier.LastVerifyToken()
	if tok == "" {
		t.Fatal("no verification token captured")
	}
	resp, body = e.doJSON(t, http.MethodPost, "/api/v1/auth/verify/confirm", map[string]string{"token": tok}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify confirm: status=%d body=%s", resp.StatusCode, body)
	}
}

func (e *testEnv) login(t *testing.T, email, password string) {
	t.Helper()
	resp, body := e.doJSON(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: status=%d body=%s", resp.StatusCode, body)
	}
}

func (e *testEnv) doJSON(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, string) {
	t.Helper()
	var payload []byte
	var err error
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	buf := new(bytes.Buffer)
	_, _ = buf.ReadFrom(resp.Body)
	return resp, buf.String()
}

func (e *testEnv) cookieValue(t *testing.T, name string) string {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, e.baseURL+"/api/v1/auth/refresh", nil)
	if err != nil {
		t.Fatalf("new request for cookie lookup: %v", err)
	}
	for _, c := range e.client.Jar.Cookies(req.URL) {
		if c.Name == name {
			return c.Value
		}
	}
	t.Fatalf("cookie %q not found", name)
	return ""
}

func decodeErrorCode(t *testing.T, body string) string {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal([]byte(body), &env); err != nil || env.Error == nil {
		t.Fatalf("expected error envelope, got %s", body)
	}
	return env.Error.Code
}

func TestAuthLifecycle(t *testing.T) {
	env := newTestEnv(t)
	defer env.close()

	env.registerAndVerify(t, "lifecycle@example.com")

	resp, body := env.doJSON(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email":    "lifecycle@example.com",
		"password": integrationPassword,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: status=%d body=%s", resp.StatusCode, body)
	}
	assertCookieProps(t, resp, "access_token", "/", true)
	assertCookieProps(t, resp, "refresh_token", "/api/v1/auth", true)
	assertCookieProps(t, resp, "csrf_token", "/", false)

	resp, body = env.doJSON(t, http.MethodGet, "/api/v1/me", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me after login: status=%d body=%s", resp.StatusCode, body)
	}

	csrf1 := env.cookieValue(t, "csrf_token")
	refresh1 := env.cookieValue(t, "refresh_token")

	resp, body = env.doJSON(t, http.MethodPost, "/api/v1/auth/refresh", nil, map[string]string{
		"X-CSRF-Token": csrf1,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh: status=%d body=%s", resp.StatusCode, body)
	}
	csrf2 := env.cookieValue(t, "csrf_token")
	if csrf2 == csrf1 {
		t.Fatal("csrf token should rotate on refresh")
	}

	// Replaying the pre-rotation refresh token must fail.
	req, err := http.NewRequest(http.MethodPost, env.baseURL+"/api/v1/auth/refresh", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-CSRF-Token", csrf2)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: refresh1})
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: csrf2})
	replayResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("replay request: %v", err)
	}
	defer func() { _ = replayResp.Body.Close() }()
	if replayResp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected replayed refresh to fail with 401, got %d", replayResp.StatusCode)
	}

	resp, body = env.doJSON(t, http.MethodPost, "/api/v1/auth/logout", nil, map[string]string{
		"X-CSRF-Token": csrf2,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout: status=%d body=%s", resp.StatusCode, body)
	}
	assertClearingCookie(t, resp, "access_token")
	assertClearingCookie(t, resp, "refresh_token")
	assertClearingCookie(t, resp, "csrf_token")

	resp, _ = env.doJSON(t, http.MethodGet, "/api/v1/me", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("me after logout: status=%d", resp.StatusCode)
	}
}

func TestCSRFDoubleSubmit(t *testing.T) {
	env := newTestEnv(t)
	defer env.close()

	env.registerAndVerify(t, "csrf@example.com")
	env.login(t, "csrf@example.com", integrationPassword)

	resp, body := env.doJSON(t, http.MethodPost, "/api/v1/auth/refresh", nil, nil)
	if resp.StatusCode != http.StatusForbidden || !strings.Contains(body, "invalid csrf token") {
		t.Fatalf("expected 403 without csrf header, got status=%d body=%q", resp.StatusCode, body)
	}

	resp, body = env.doJSON(t, http.MethodPost, "/api/v1/auth/refresh", nil, map[string]string{
		"X-CSRF-Token": "wrong",
	})
	if resp.StatusCode != http.StatusForbidden || !strings.Contains(body, "invalid csrf token") {
		t.Fatalf("expected 403 with wrong csrf header, got status=%d body=%q", resp.StatusCode, body)
	}

	csrf := env.cookieValue(t, "csrf_token")
	resp, body = env.doJSON(t, http.MethodPost, "/api/v1/auth/refresh", nil, map[string]string{
		"X-CSRF-Token": csrf,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh with matching csrf should pass, got status=%d body=%s", resp.StatusCode, body)
	}
}

func TestPageGateRedirects(t *testing.T) {
	env := newTestEnv(t)
	defer env.close()

	resp, _ := env.doJSON(t, http.MethodGet, "/settings", nil, nil)
	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Fatalf("expected redirect for protected page without session, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/auth/login" {
		t.Fatalf("expected login redirect, got %q", loc)
	}

	env.registerAndVerify(t, "gate@example.com")
	env.login(t, "gate@example.com", integrationPassword)

	resp, _ = env.doJSON(t, http.MethodGet, "/settings", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected protected page to pass with session, got %d", resp.StatusCode)
	}

	resp, _ = env.doJSON(t, http.MethodGet, "/auth/login", nil, nil)
	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Fatalf("expected auth page to redirect with session, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/settings" {
		t.Fatalf("expected landing redirect, got %q", loc)
	}
}

func assertCookieProps(t *testing.T, resp *http.Response, name, path string, httpOnly bool) {
	t.Helper()
	for _, c := range resp.Cookies() {
		if c.Name != name {
			continue
		}
		if c.Path != path {
			t.Fatalf("cookie %s path mismatch: got %q want %q", name, c.Path, path)
		}
		if c.HttpOnly != httpOnly {
			t.Fatalf("cookie %s HttpOnly mismatch: got %v want %v", name, c.HttpOnly, httpOnly)
		}
		return
	}
	t.Fatalf("cookie %s not found in response", name)
}

func assertClearingCookie(t *testing.T, resp *http.Response, name string) {
	t.Helper()
	for _, c := range resp.Cookies() {
		if c.Name == name && c.MaxAge < 0 {
			return
		}
	}
	t.Fatalf("expected clearing cookie for %s", name)
}
