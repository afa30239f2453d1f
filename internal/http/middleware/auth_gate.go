package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sandeepkv93/authkit/internal/security"
)

// GateRoutes describes how the AuthGate classifies incoming paths. API auth
// endpoints are always passed through so login and refresh calls keep working
// regardless of session state.
type GateRoutes struct {
	APIAuthPrefix  string
	AuthRoutes     []string
	PublicRoutes   []string
	LoginPath      string
	DefaultLanding string
}

// AuthGate steers page-style routes based on session presence. Signed-in
// visitors are bounced away from auth pages, signed-out visitors are bounced
// away from protected pages, and everything public passes untouched. The
// decision never depends on how long classification took; the Server-Timing
// header only reports it.
type AuthGate struct {
	jwtMgr *security.JWTManager
	routes GateRoutes
	auth   map[string]struct{}
	public map[string]struct{}
}

func NewAuthGate(jwtMgr *security.JWTManager, routes GateRoutes) *AuthGate {
	auth := make(map[string]struct{}, len(routes.AuthRoutes))
	for _, p := range routes.AuthRoutes {
		auth[p] = struct{}{}
	}
	public := make(map[string]struct{}, len(routes.PublicRoutes))
	for _, p := range routes.PublicRoutes {
		public[p] = struct{}{}
	}
	if routes.LoginPath == "" {
		routes.LoginPath = "/auth/login"
	}
	if routes.DefaultLanding == "" {
		routes.DefaultLanding = "/settings"
	}
	return &AuthGate{jwtMgr: jwtMgr, routes: routes, auth: auth, public: public}
}

func (g *AuthGate) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			pass, redirect := g.decide(r)
			w.Header().Add("Server-Timing", fmt.Sprintf("auth_gate;dur=%.3f", float64(time.Since(start).Microseconds())/1000.0))
			if pass {
				next.ServeHTTP(w, r)
				return
			}
			http.Redirect(w, r, redirect, http.StatusTemporaryRedirect)
		})
	}
}

func (g *AuthGate) decide(r *http.Request) (pass bool, redirect string) {
	path := r.URL.Path
	if g.routes.APIAuthPrefix != "" && strings.HasPrefix(path, g.routes.APIAuthPrefix) {
		return true, ""
	}
	hasSession := g.hasSession(r)
	if _, ok := g.auth[path]; ok {
		if hasSession {
			return false, g.routes.DefaultLanding
		}
		return true, ""
	}
	if _, ok := g.public[path]; ok {
		return true, ""
	}
	if !hasSession {
		return false, g.routes.LoginPath
	}
	return true, ""
}

func (g *AuthGate) hasSession(r *http.Request) bool {
	raw, _ := accessTokenFromRequest(r)
	if raw == "" {
		return false
	}
	_, err := g.jwtMgr.ParseAccessToken(raw)
	return err == nil
}
