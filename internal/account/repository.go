package account

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/samber/oops"
	"github.com/uptrace/bun"
)

const uniqueViolation = "23505"

// accountRow is the bun model for the accounts table.
type accountRow struct {
	bun.BaseModel `bun:"table:accounts,alias:a"`

	ID                     uuid.UUID  `bun:"id,pk,type:uuid"`
	Name                   string     `bun:"name,notnull"`
	Email                  string     `bun:"email,notnull,unique"`
	PasswordHash           string     `bun:"password_hash,notnull"`
	IsVerified             bool       `bun:"is_verified,notnull"`
	VerificationToken      *string    `bun:"verification_token"`
	VerificationExpiresAt  *time.Time `bun:"verification_expires_at"`
	ResetPasswordToken     *string    `bun:"reset_password_token"`
	ResetPasswordExpiresAt *time.Time `bun:"reset_password_expires_at"`
	LastLogin              *time.Time `bun:"last_login"`
	CreatedAt              time.Time  `bun:"created_at,notnull"`
	UpdatedAt              time.Time  `bun:"updated_at,notnull"`
}

// Repository is the PostgreSQL Store built on bun.
type Repository struct {
	db bun.IDB
}

// NewRepository accepts a *bun.DB or a bun.Tx.
func NewRepository(db bun.IDB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new account.
func (r *Repository) Create(ctx context.Context, a *Account) error {
	row := toRow(a)
	row.Email = NormalizeEmail(row.Email)

	_, err := r.db.NewInsert().
		Model(row).
		Returning("NULL").
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return oops.In("account").
			With("operation", "create").
			Wrapf(err, "failed to create account")
	}

	return nil
}

// GetByID retrieves an account by ID
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	row := new(accountRow)
	err := r.db.NewSelect().
		Model(row).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, oops.In("account").
			With("operation", "get by id").
			With("account_id", id.String()).
			Wrapf(err, "failed to get account by id")
	}

	return fromRow(row), nil
}

// GetByEmail retrieves an account by normalized email
func (r *Repository) GetByEmail(ctx context.Context, email string) (*Account, error) {
	row := new(accountRow)
	err := r.db.NewSelect().
		Model(row).
		Where("email = ?", NormalizeEmail(email)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, oops.In("account").
			With("operation", "get by email").
			Wrapf(err, "failed to get account by email")
	}

	return fromRow(row), nil
}

// ConsumeVerificationCode verifies the oldest unexpired account holding code.
// The inner SELECT ... FOR UPDATE serializes concurrent consumers on the row;
// a loser re-evaluates the predicate after the winner commits and matches
// nothing.
func (r *Repository) ConsumeVerificationCode(ctx context.Context, code string, now time.Time) (*Account, error) {
	target := r.db.NewSelect().
		Model((*accountRow)(nil)).
		Column("id").
		Where("verification_token = ?", code).
		Where("verification_expires_at > ?", now).
		OrderExpr("created_at ASC").
		Limit(1).
		For("UPDATE")

	row := new(accountRow)
	err := r.db.NewUpdate().
		Model(row).
		Set("is_verified = TRUE").
		Set("verification_token = NULL").
		Set("verification_expires_at = NULL").
		Set("updated_at = ?", now).
		Where("id = (?)", target).
		Where("verification_token = ?", code).
		Returning("*").
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, oops.In("account").
			With("operation", "consume verification code").
			Wrapf(err, "failed to verify account")
	}

	return fromRow(row), nil
}

// SetVerificationCode regenerates the verification code for an unverified account
func (r *Repository) SetVerificationCode(ctx context.Context, id uuid.UUID, code PendingToken, now time.Time) error {
	result, err := r.db.NewUpdate().
		Model((*accountRow)(nil)).
		Set("verification_token = ?", code.Value).
		Set("verification_expires_at = ?", code.ExpiresAt).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("is_verified = FALSE").
		Exec(ctx)
	if err != nil {
		return oops.In("account").
			With("operation", "set verification code").
			With("account_id", id.String()).
			Wrapf(err, "failed to update verification code")
	}

	return requireRow(result)
}

// SetPasswordReset stores a reset digest and its deadline
func (r *Repository) SetPasswordReset(ctx context.Context, id uuid.UUID, reset PendingToken, now time.Time) error {
	result, err := r.db.NewUpdate().
		Model((*accountRow)(nil)).
		Set("reset_password_token = ?", reset.Value).
		Set("reset_password_expires_at = ?", reset.ExpiresAt).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return oops.In("account").
			With("operation", "set password reset").
			With("account_id", id.String()).
			Wrapf(err, "failed to store password reset")
	}

	return requireRow(result)
}

// ConsumePasswordReset swaps the password hash of the account holding digest.
// Same locking scheme as ConsumeVerificationCode.
func (r *Repository) ConsumePasswordReset(ctx context.Context, digest string, now time.Time, passwordHash string) (*Account, error) {
	target := r.db.NewSelect().
		Model((*accountRow)(nil)).
		Column("id").
		Where("reset_password_token = ?", digest).
		Where("reset_password_expires_at > ?", now).
		OrderExpr("created_at ASC").
		Limit(1).
		For("UPDATE")

	row := new(accountRow)
	err := r.db.NewUpdate().
		Model(row).
		Set("password_hash = ?", passwordHash).
		Set("reset_password_token = NULL").
		Set("reset_password_expires_at = NULL").
		Set("updated_at = ?", now).
		Where("id = (?)", target).
		Where("reset_password_token = ?", digest).
		Returning("*").
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, oops.In("account").
			With("operation", "consume password reset").
			Wrapf(err, "failed to reset password")
	}

	return fromRow(row), nil
}

// RecordLogin stamps last_login
func (r *Repository) RecordLogin(ctx context.Context, id uuid.UUID, at time.Time) (*Account, error) {
	row := new(accountRow)
	err := r.db.NewUpdate().
		Model(row).
		Set("last_login = ?", at).
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Returning("*").
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, oops.In("account").
			With("operation", "record login").
			With("account_id", id.String()).
			Wrapf(err, "failed to record login")
	}

	return fromRow(row), nil
}

func requireRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return oops.In("account").Wrapf(err, "failed to get rows affected")
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return strings.Contains(err.Error(), "duplicate key value violates unique constraint")
}

func toRow(a *Account) *accountRow {
	row := &accountRow{
		ID:           a.ID,
		Name:         a.Name,
		Email:        a.Email,
		PasswordHash: a.PasswordHash,
		IsVerified:   a.IsVerified,
		LastLogin:    a.LastLogin,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
	if v := a.Verification; v != nil {
		value, expires := v.Value, v.ExpiresAt
		row.VerificationToken = &value
		row.VerificationExpiresAt = &expires
	}
	if p := a.PasswordReset; p != nil {
		value, expires := p.Value, p.ExpiresAt
		row.ResetPasswordToken = &value
		row.ResetPasswordExpiresAt = &expires
	}
	return row
}

// fromRow converts the database row to the domain model. A half-populated
// pair is treated as absent.
func fromRow(row *accountRow) *Account {
	a := &Account{
		ID:           row.ID,
		Name:         row.Name,
		Email:        row.Email,
		PasswordHash: row.PasswordHash,
		IsVerified:   row.IsVerified,
		LastLogin:    row.LastLogin,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}
	if row.VerificationToken != nil && row.VerificationExpiresAt != nil {
		a.Verification = &PendingToken{Value: *row.VerificationToken, ExpiresAt: *row.VerificationExpiresAt}
	}
	if row.ResetPasswordToken != nil && row.ResetPasswordExpiresAt != nil {
		a.PasswordReset = &PendingToken{Value: *row.ResetPasswordToken, ExpiresAt: *row.ResetPasswordExpiresAt}
	}
	return a
}
