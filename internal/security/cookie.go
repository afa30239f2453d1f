package security

import (
	"net/http"
	"strings"
	"time"
)

// Access cookies are short-lived regardless of the refresh TTL; the client
// re-issues them through the refresh endpoint.
const accessCookieMaxAge = 900

type CookieManager struct {
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

func NewCookieManager(domain string, secure bool, sameSite string) *CookieManager {
	mode := http.SameSiteLaxMode
	switch strings.ToLower(strings.TrimSpace(sameSite)) {
	case "strict":
		mode = http.SameSiteStrictMode
	case "none":
		mode = http.SameSiteNoneMode
	}
	return &CookieManager{Domain: domain, Secure: secure, SameSite: mode}
}

func (m *CookieManager) SetTokenCookies(w http.ResponseWriter, access, refresh, csrf string, refreshTTL time.Duration) {
	refreshMaxAge := int(refreshTTL.Seconds())
	http.SetCookie(w, &http.Cookie{
		Name:     "access_token",
		Value:    access,
		Path:     "/",
		Domain:   m.Domain,
		MaxAge:   accessCookieMaxAge,
		HttpOnly: true,
		Secure:   m.Secure,
		SameSite: m.SameSite,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     "refresh_token",
		Value:    refresh,
		Path:     "/api/v1/auth",
		Domain:   m.Domain,
		MaxAge:   refreshMaxAge,
		HttpOnly: true,
		Secure:   m.Secure,
		SameSite: m.SameSite,
	})
	// CSRF cookie is deliberately readable by the frontend so it can echo the
	// value in the X-CSRF-Token header (double-submit pattern).
	http.SetCookie(w, &http.Cookie{
		Name:     "csrf_token",
		Value:    csrf,
		Path:     "/",
		Domain:   m.Domain,
		MaxAge:   refreshMaxAge,
		HttpOnly: false,
		Secure:   m.Secure,
		SameSite: m.SameSite,
	})
}

func (m *CookieManager) ClearTokenCookies(w http.ResponseWriter) {
	clear := func(name, path string, httpOnly bool) {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     path,
			Domain:   m.Domain,
			MaxAge:   -1,
			HttpOnly: httpOnly,
			Secure:   m.Secure,
			SameSite: m.SameSite,
		})
	}
	clear("access_token", "/", true)
	clear("refresh_token", "/api/v1/auth", true)
	clear("csrf_token", "/", false)
	clear("oauth_state", "/api/v1/auth/google", true)
}

func GetCookie(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
