package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
)

const (
	codeMin        = 100000
	codeSpan       = 900000
	resetTokenSize = 32
)

// newVerificationCode returns a six-digit code uniform over [100000, 999999].
func newVerificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeSpan))
	if err != nil {
		return "", fmt.Errorf("failed to generate verification code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+codeMin), nil
}

// newResetToken returns 256 random bits, hex encoded.
func newResetToken() (string, error) {
	b := make([]byte, resetTokenSize)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate reset token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// hashToken returns the SHA-256 digest stored in place of a reset token.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
