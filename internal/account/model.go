package account

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// PendingToken is a one-time secret together with its deadline.
// A nil *PendingToken means nothing is pending.
type PendingToken struct {
	Value     string
	ExpiresAt time.Time
}

// ValidAt reports whether the token is still usable at now.
func (p *PendingToken) ValidAt(now time.Time) bool {
	return p != nil && now.Before(p.ExpiresAt)
}

// Account is the persisted identity record.
type Account struct {
	ID           uuid.UUID
	Name         string
	Email        string
	PasswordHash string
	IsVerified   bool

	// Verification holds the emailed code while the account is unverified.
	Verification *PendingToken
	// PasswordReset holds the SHA-256 digest of the emailed reset token.
	PasswordReset *PendingToken

	LastLogin *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Profile is the public view of an account. It has no credential fields.
type Profile struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	Email      string     `json:"email"`
	IsVerified bool       `json:"isVerified"`
	LastLogin  *time.Time `json:"lastLogin,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Profile returns the public view of a.
func (a *Account) Profile() Profile {
	return Profile{
		ID:         a.ID,
		Name:       a.Name,
		Email:      a.Email,
		IsVerified: a.IsVerified,
		LastLogin:  a.LastLogin,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
}

// MarkVerified flips the account to verified and drops the pending code.
func (a *Account) MarkVerified(at time.Time) {
	a.IsVerified = true
	a.Verification = nil
	a.UpdatedAt = at
}

// Clone returns a deep copy so callers cannot alias stored state.
func (a *Account) Clone() *Account {
	c := *a
	if a.Verification != nil {
		v := *a.Verification
		c.Verification = &v
	}
	if a.PasswordReset != nil {
		r := *a.PasswordReset
		c.PasswordReset = &r
	}
	if a.LastLogin != nil {
		l := *a.LastLogin
		c.LastLogin = &l
	}
	return &c
}

// NormalizeEmail trims and lower-cases an email address. Every lookup and
// every insert goes through it, so uniqueness is case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
