package http

import (
	"net/http"
	"strings"
)

const (
	swaggerCSP = "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' data:"
	apiCSP     = "default-src 'none'"
	hstsValue  = "max-age=63072000; includeSubDomains"
)

// SecurityHeaders adds security-related headers to all responses. HSTS is only
// sent in production, where the service sits behind TLS.
func SecurityHeaders(isProduction bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")

			// Swagger UI needs scripts, styles, and images to render
			if strings.HasPrefix(r.URL.Path, "/swagger/") {
				h.Set("Content-Security-Policy", swaggerCSP)
			} else {
				h.Set("Content-Security-Policy", apiCSP)
			}

			// Account responses carry session tokens and profiles.
			if strings.HasPrefix(r.URL.Path, "/api/") {
				h.Set("Cache-Control", "no-store")
			}

			if isProduction {
				h.Set("Strict-Transport-Security", hstsValue)
			}

			next.ServeHTTP(w, r)
		})
	}
}
