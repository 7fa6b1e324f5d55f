package account

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("account not found")
	ErrDuplicateEmail = errors.New("email already exists")
)

// Store persists accounts. The Consume and Set methods are conditional
// updates: the match and the write happen as one step, so two callers
// racing on the same secret cannot both win.
type Store interface {
	// Create inserts a new account. Returns ErrDuplicateEmail when the
	// email is taken.
	Create(ctx context.Context, a *Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// ConsumeVerificationCode finds the account whose pending code equals
	// code and has not expired at now, marks it verified and clears the
	// code. Returns ErrNotFound when nothing matches.
	ConsumeVerificationCode(ctx context.Context, code string, now time.Time) (*Account, error)

	// SetVerificationCode replaces the pending code of an unverified
	// account. Returns ErrNotFound when the account is missing or already
	// verified.
	SetVerificationCode(ctx context.Context, id uuid.UUID, code PendingToken, now time.Time) error

	// SetPasswordReset stores a reset digest, replacing any earlier one.
	SetPasswordReset(ctx context.Context, id uuid.UUID, reset PendingToken, now time.Time) error

	// ConsumePasswordReset finds the account whose reset digest equals
	// digest and has not expired at now, replaces its password hash and
	// clears the reset pair. Returns ErrNotFound when nothing matches.
	ConsumePasswordReset(ctx context.Context, digest string, now time.Time, passwordHash string) (*Account, error)

	// RecordLogin stamps the last login time.
	RecordLogin(ctx context.Context, id uuid.UUID, at time.Time) (*Account, error)
}
