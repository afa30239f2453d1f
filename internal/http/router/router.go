package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sandeepkv93/authkit/internal/health"
	"github.com/sandeepkv93/authkit/internal/http/handler"
	"github.com/sandeepkv93/authkit/internal/http/middleware"
	"github.com/sandeepkv93/authkit/internal/http/response"
	"github.com/sandeepkv93/authkit/internal/security"
)

// Distinct middleware types so the injector can tell the three rate limit
// policies apart.
type (
	GlobalRateLimiterFunc func(http.Handler) http.Handler
	AuthRateLimiterFunc   func(http.Handler) http.Handler
	ForgotRateLimiterFunc func(http.Handler) http.Handler
)

type Dependencies struct {
	AuthHandler      *handler.AuthHandler
	UserHandler      *handler.UserHandler
	AdminHandler     *handler.AdminHandler
	JWTManager       *security.JWTManager
	AuthGate         *middleware.AuthGate
	CORSOrigins      []string
	APIRateLimitRPM  int
	AuthRateLimitRPM int
	ForgotRateLimit  int
	GlobalLimiter    GlobalRateLimiterFunc
	AuthLimiter      AuthRateLimiterFunc
	ForgotLimiter    ForgotRateLimiterFunc
	Readiness        *health.ProbeRunner
	EnableOTelHTTP   bool
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(dep.CORSOrigins))
	r.Use(middleware.BodyLimit(1 << 20))
	if dep.GlobalLimiter != nil {
		r.Use(dep.GlobalLimiter)
	} else {
		r.Use(middleware.NewRateLimiter(dep.APIRateLimitRPM, time.Minute).Middleware())
	}

	authLimiter := dep.AuthLimiter
	if authLimiter == nil {
		authLimiter = middleware.NewRateLimiter(dep.AuthRateLimitRPM, time.Minute).Middleware()
	}
	forgotLimiter := dep.ForgotLimiter
	if forgotLimiter == nil {
		forgotLimiter = middleware.NewRateLimiter(dep.ForgotRateLimit, time.Minute).Middleware()
	}

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(authLimiter).Get("/google/login", dep.AuthHandler.GoogleLogin)
			r.With(authLimiter).Get("/google/callback", dep.AuthHandler.GoogleCallback)
			r.With(authLimiter).Post("/register", dep.AuthHandler.Register)
			r.With(authLimiter).Post("/login", dep.AuthHandler.Login)
			r.With(authLimiter).Post("/verify/request", dep.AuthHandler.VerifyRequest)
			r.With(authLimiter).Post("/verify/confirm", dep.AuthHandler.VerifyConfirm)
			r.With(forgotLimiter).Post("/password/forgot", dep.AuthHandler.PasswordForgot)
			r.With(authLimiter).Post("/password/reset", dep.AuthHandler.PasswordReset)
			r.Group(func(r chi.Router) {
				r.Use(middleware.CSRFMiddleware)
				r.With(authLimiter).Post("/refresh", dep.AuthHandler.Refresh)
				r.Group(func(r chi.Router) {
					r.Use(middleware.AuthMiddleware(dep.JWTManager))
					r.Post("/logout", dep.AuthHandler.Logout)
					r.With(authLimiter).Post("/change-password", dep.AuthHandler.ChangePassword)
					r.Post("/2fa/setup", dep.AuthHandler.TwoFactorSetup)
					r.With(authLimiter).Post("/2fa/verify", dep.AuthHandler.TwoFactorVerify)
					r.Delete("/2fa", dep.AuthHandler.TwoFactorDisable)
				})
			})
		})

		r.With(middleware.AuthMiddleware(dep.JWTManager)).Get("/me", dep.UserHandler.Me)
		r.With(middleware.AuthMiddleware(dep.JWTManager)).Get("/me/sessions", dep.UserHandler.Sessions)
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(dep.JWTManager))
			r.Use(middleware.CSRFMiddleware)
			r.Delete("/me/sessions/{session_id}", dep.UserHandler.RevokeSession)
			r.Post("/me/sessions/revoke-others", dep.UserHandler.RevokeOtherSessions)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(dep.JWTManager))
			r.Use(handler.RequireAdmin)
			r.Get("/users", dep.AdminHandler.ListUsers)
		})
	})

	// Page-style routes go through the AuthGate so browser navigation lands
	// on the right side of the login boundary.
	if dep.AuthGate != nil {
		r.Group(func(r chi.Router) {
			r.Use(dep.AuthGate.Middleware())
			for _, p := range []string{"/", "/settings", "/auth/login", "/auth/register", "/auth/new-password", "/auth/new-verification"} {
				r.Get(p, func(w http.ResponseWriter, req *http.Request) {
					response.JSON(w, req, http.StatusOK, map[string]string{"page": req.URL.Path})
				})
			}
		})
	}

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
