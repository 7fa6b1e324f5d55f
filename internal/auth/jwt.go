package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const minJWTSecretLength = 32

// JWTService issues HS256 session tokens.
type JWTService struct {
	secret []byte
	now    func() time.Time
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

func NewJWTService(secret []byte) (*JWTService, error) {
	if len(secret) < minJWTSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes, got %d", minJWTSecretLength, len(secret))
	}
	return &JWTService{secret: secret, now: time.Now}, nil
}

func (s *JWTService) CreateToken(userID uuid.UUID, email string, duration time.Duration) (string, *TokenClaims, error) {
	claims := newClaims(userID, email, s.now(), duration)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        claims.ID,
			Subject:   claims.UserID,
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
		Email: email,
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, claims, nil
}

func (s *JWTService) VerifyToken(tokenStr string) (*TokenClaims, error) {
	var claims jwtClaims
	_, err := jwt.ParseWithClaims(tokenStr, &claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims.ID == "" || claims.Subject == "" || claims.IssuedAt == nil {
		return nil, ErrInvalidToken
	}

	return &TokenClaims{
		ID:        claims.ID,
		UserID:    claims.Subject,
		Email:     claims.Email,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
