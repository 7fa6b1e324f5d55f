package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSecurityHeaders(t *testing.T) {
	tests := []struct {
		name         string
		path         string
		isProduction bool
		csp          string
		cacheControl string
		hsts         string
	}{
		{"api in dev", "/api/user/login", false, apiCSP, "no-store", ""},
		{"api in prod", "/api/user/login", true, apiCSP, "no-store", hstsValue},
		{"swagger", "/swagger/index.html", false, swaggerCSP, "", ""},
		{"health", "/health", true, apiCSP, "", hstsValue},
	}

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			SecurityHeaders(tt.isProduction)(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, http.StatusNoContent, rec.Code)
			assert.Equal(t, tt.csp, rec.Header().Get("Content-Security-Policy"))
			assert.Equal(t, tt.cacheControl, rec.Header().Get("Cache-Control"))
			assert.Equal(t, tt.hsts, rec.Header().Get("Strict-Transport-Security"))
			assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
			assert.Equal(t, "strict-origin-when-cross-origin", rec.Header().Get("Referrer-Policy"))
		})
	}
}
