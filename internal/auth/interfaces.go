package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TokenService defines the interface for token creation and validation.
// Implementations include PasetoService (PASETO v4.local) and JWTService (HS256).
type TokenService interface {
	CreateToken(userID uuid.UUID, email string, duration time.Duration) (string, *TokenClaims, error)
	VerifyToken(tokenStr string) (*TokenClaims, error)
}

// TokenClaims represents the claims carried by a session token
type TokenClaims struct {
	ID        string    `json:"jti"`
	UserID    string    `json:"sub"` // UUID stored as string in token
	Email     string    `json:"email"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
}

// Token timestamps are encoded at second precision, so claims are truncated
// up front to keep what CreateToken reports equal to what VerifyToken returns.
func newClaims(userID uuid.UUID, email string, now time.Time, duration time.Duration) *TokenClaims {
	issuedAt := now.Truncate(time.Second)
	return &TokenClaims{
		ID:        uuid.NewString(),
		UserID:    userID.String(),
		Email:     email,
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(duration),
	}
}

// Notifier delivers account mail. Implementations may block; the service
// always calls them off the request path.
type Notifier interface {
	SendVerificationCode(ctx context.Context, toEmail, name, code string) error
	SendWelcome(ctx context.Context, toEmail, name string) error
	SendPasswordReset(ctx context.Context, toEmail, token string) error
	SendPasswordResetSuccess(ctx context.Context, toEmail string) error
}

// Recorder receives operation and notification outcomes, typically for metrics.
type Recorder interface {
	ObserveOperation(operation, outcome string, elapsed time.Duration)
	ObserveNotification(kind, outcome string)
}

// RevocationStore remembers logged-out session tokens until they expire.
type RevocationStore interface {
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, string, time.Duration) {}
func (nopRecorder) ObserveNotification(string, string)             {}
