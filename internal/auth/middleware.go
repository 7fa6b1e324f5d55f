package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/redmonkez12/accountd/internal/httputil"
	"github.com/redmonkez12/accountd/internal/logging"
)

// ContextKey is a type for context keys to avoid collisions
type ContextKey string

const (
	UserIDContextKey    ContextKey = "user_id"
	UserEmailContextKey ContextKey = "user_email"
	ClaimsContextKey    ContextKey = "session_claims"
)

// Authenticator resolves a session token to its claims.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*TokenClaims, error)
}

// Middleware handles authentication for protected routes
type Middleware struct {
	authenticator Authenticator
}

func NewMiddleware(authenticator Authenticator) *Middleware {
	return &Middleware{authenticator: authenticator}
}

// RequireAuth is a middleware that validates the session token
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := logging.GetLoggerFromContext(r.Context())

		token, ok := sessionToken(w, r)
		if !ok {
			return
		}

		claims, err := m.authenticator.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, ErrExpiredToken) {
				httputil.RespondErrorWithCode(w, r, "token has expired", httputil.CodeTokenExpired, http.StatusUnauthorized)
				return
			}
			logger.Debug("rejected session token", "error", err.Error())
			httputil.RespondErrorWithCode(w, r, "invalid token", httputil.CodeInvalidToken, http.StatusUnauthorized)
			return
		}

		// Parse UUID from claims
		userID, err := uuid.Parse(claims.UserID)
		if err != nil {
			httputil.RespondErrorWithCode(w, r, "invalid token", httputil.CodeInvalidToken, http.StatusUnauthorized)
			return
		}

		// Add user info to request context
		ctx := context.WithValue(r.Context(), UserIDContextKey, userID)
		ctx = context.WithValue(ctx, UserEmailContextKey, claims.Email)
		ctx = context.WithValue(ctx, ClaimsContextKey, claims)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sessionToken reads the token from the Authorization header, falling back
// to the session cookie. It writes the error response itself.
func sessionToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			httputil.RespondErrorWithCode(w, r, "invalid authorization header format", httputil.CodeInvalidAuthHeader, http.StatusUnauthorized)
			return "", false
		}
		return strings.TrimSpace(parts[1]), true
	}

	token, err := GetSessionTokenFromCookie(r)
	if err != nil {
		httputil.RespondErrorWithCode(w, r, "missing authentication", httputil.CodeMissingAuth, http.StatusUnauthorized)
		return "", false
	}
	return token, true
}

// GetUserIDFromContext extracts the user ID from the request context
func GetUserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(UserIDContextKey).(uuid.UUID)
	return userID, ok
}

// GetUserEmailFromContext extracts the user email from the request context
func GetUserEmailFromContext(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(UserEmailContextKey).(string)
	return email, ok
}

// GetClaimsFromContext extracts the verified session claims from the request context
func GetClaimsFromContext(ctx context.Context) (*TokenClaims, bool) {
	claims, ok := ctx.Value(ClaimsContextKey).(*TokenClaims)
	return claims, ok
}
