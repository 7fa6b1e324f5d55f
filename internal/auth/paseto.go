package auth

import (
	"errors"
	"fmt"
	"time"

	"aidanwoods.dev/go-paseto"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// PasetoService handles PASETO token creation and validation
// Uses v4.local (symmetric encryption with XChaCha20-Poly1305)
type PasetoService struct {
	symmetricKey paseto.V4SymmetricKey
	now          func() time.Time
}

func NewPasetoService(symmetricKey []byte) (*PasetoService, error) {
	if len(symmetricKey) != 32 {
		return nil, fmt.Errorf("symmetric key must be exactly 32 bytes, got %d", len(symmetricKey))
	}

	key, err := paseto.V4SymmetricKeyFromBytes(symmetricKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create symmetric key: %w", err)
	}

	return &PasetoService{
		symmetricKey: key,
		now:          time.Now,
	}, nil
}

// CreateToken issues a v4.local session token for the account.
func (s *PasetoService) CreateToken(userID uuid.UUID, email string, duration time.Duration) (string, *TokenClaims, error) {
	claims := newClaims(userID, email, s.now(), duration)

	token := paseto.NewToken()
	token.SetJti(claims.ID)
	token.SetIssuedAt(claims.IssuedAt)
	token.SetNotBefore(claims.IssuedAt)
	token.SetExpiration(claims.ExpiresAt)
	token.SetSubject(claims.UserID)
	token.SetString("email", email)

	return token.V4Encrypt(s.symmetricKey, nil), claims, nil
}

// VerifyToken decrypts the token and checks its expiry against the service
// clock. Expiry is checked here rather than by parser rules so that expired
// tokens are reported as ErrExpiredToken.
func (s *PasetoService) VerifyToken(tokenStr string) (*TokenClaims, error) {
	parser := paseto.NewParserWithoutExpiryCheck()

	token, err := parser.ParseV4Local(s.symmetricKey, tokenStr, nil)
	if err != nil {
		return nil, ErrInvalidToken
	}

	id, err := token.GetJti()
	if err != nil {
		return nil, ErrInvalidToken
	}
	userID, err := token.GetSubject()
	if err != nil {
		return nil, ErrInvalidToken
	}
	email, err := token.GetString("email")
	if err != nil {
		return nil, ErrInvalidToken
	}
	issuedAt, err := token.GetIssuedAt()
	if err != nil {
		return nil, ErrInvalidToken
	}
	expiresAt, err := token.GetExpiration()
	if err != nil {
		return nil, ErrInvalidToken
	}

	if !s.now().Before(expiresAt) {
		return nil, ErrExpiredToken
	}

	return &TokenClaims{
		ID:        id,
		UserID:    userID,
		Email:     email,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}
