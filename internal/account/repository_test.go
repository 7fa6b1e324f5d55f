package account

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

var accountColumns = []string{
	"id", "name", "email", "password_hash", "is_verified",
	"verification_token", "verification_expires_at",
	"reset_password_token", "reset_password_expires_at",
	"last_login", "created_at", "updated_at",
}

// bun inlines arguments into the SQL text, so expectations match on the
// statement shape rather than WithArgs.
func newRepoWithMock(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	db := bun.NewDB(sqlDB, pgdialect.New())
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewRepository(db), mock
}

func rowValues(id uuid.UUID, email string, verified bool, code any, codeExpires any) []driver.Value {
	return []driver.Value{
		id.String(), "Alice", email, "$2a$10$hash", verified,
		code, codeExpires,
		nil, nil,
		nil, baseTime, baseTime,
	}
}

func TestRepository_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts normalized email", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectExec(`(?s)^INSERT INTO "accounts" .*'alice@example\.com'`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		a := newTestAccount("Alice@Example.com", "123456", baseTime.Add(time.Hour))
		require.NoError(t, repo.Create(ctx, a))
	})

	t.Run("unique violation maps to duplicate email", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectExec(`INSERT INTO "accounts"`).
			WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

		err := repo.Create(ctx, newTestAccount("alice@example.com", "123456", baseTime.Add(time.Hour)))
		assert.ErrorIs(t, err, ErrDuplicateEmail)
	})

	t.Run("other failures are wrapped", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		boom := errors.New("connection reset")
		mock.ExpectExec(`INSERT INTO "accounts"`).WillReturnError(boom)

		err := repo.Create(ctx, newTestAccount("alice@example.com", "123456", baseTime.Add(time.Hour)))
		require.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, ErrDuplicateEmail)
		assert.Contains(t, err.Error(), "failed to create account")
	})
}

func TestRepository_GetByEmail(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		id := uuid.New()
		expires := baseTime.Add(time.Hour)
		mock.ExpectQuery(`(?s)^SELECT .+ FROM "accounts"(?: AS "a")? WHERE \(email = 'alice@example\.com'\) LIMIT 1`).
			WillReturnRows(sqlmock.NewRows(accountColumns).AddRow(rowValues(id, "alice@example.com", false, "123456", expires)...))

		got, err := repo.GetByEmail(ctx, " ALICE@example.com")
		require.NoError(t, err)
		assert.Equal(t, id, got.ID)
		assert.False(t, got.IsVerified)
		require.NotNil(t, got.Verification)
		assert.Equal(t, "123456", got.Verification.Value)
		assert.True(t, expires.Equal(got.Verification.ExpiresAt))
		assert.Nil(t, got.PasswordReset)
	})

	t.Run("not found", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectQuery(`FROM "accounts"`).WillReturnRows(sqlmock.NewRows(accountColumns))

		_, err := repo.GetByEmail(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("query failure", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectQuery(`FROM "accounts"`).WillReturnError(errors.New("db down"))

		_, err := repo.GetByEmail(ctx, "alice@example.com")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNotFound)
		assert.Contains(t, err.Error(), "db down")
	})
}

func TestRepository_GetByID_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	id := uuid.New()
	mock.ExpectQuery(`(?s)FROM "accounts"(?: AS "a")? WHERE \(id = '` + id.String() + `'\)`).
		WillReturnRows(sqlmock.NewRows(accountColumns))

	_, err := repo.GetByID(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepository_ConsumeVerificationCode(t *testing.T) {
	ctx := context.Background()
	query := `(?s)^UPDATE "accounts"(?: AS "a")? SET is_verified = TRUE, verification_token = NULL, verification_expires_at = NULL, .*FOR UPDATE.*RETURNING \*`

	t.Run("match", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		id := uuid.New()
		mock.ExpectQuery(query).
			WillReturnRows(sqlmock.NewRows(accountColumns).AddRow(rowValues(id, "alice@example.com", true, nil, nil)...))

		got, err := repo.ConsumeVerificationCode(ctx, "123456", baseTime)
		require.NoError(t, err)
		assert.Equal(t, id, got.ID)
		assert.True(t, got.IsVerified)
		assert.Nil(t, got.Verification)
	})

	t.Run("no match", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectQuery(query).WillReturnRows(sqlmock.NewRows(accountColumns))

		_, err := repo.ConsumeVerificationCode(ctx, "000000", baseTime)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRepository_SetVerificationCode(t *testing.T) {
	ctx := context.Background()
	query := `(?s)^UPDATE "accounts"(?: AS "a")? SET verification_token = '654321'.*WHERE \(id = '.+'\) AND \(is_verified = FALSE\)`
	code := PendingToken{Value: "654321", ExpiresAt: baseTime.Add(24 * time.Hour)}

	t.Run("updated", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectExec(query).WillReturnResult(sqlmock.NewResult(0, 1))
		require.NoError(t, repo.SetVerificationCode(ctx, uuid.New(), code, baseTime))
	})

	t.Run("already verified", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectExec(query).WillReturnResult(sqlmock.NewResult(0, 0))
		assert.ErrorIs(t, repo.SetVerificationCode(ctx, uuid.New(), code, baseTime), ErrNotFound)
	})
}

func TestRepository_PasswordReset(t *testing.T) {
	ctx := context.Background()

	t.Run("set", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectExec(`(?s)^UPDATE "accounts"(?: AS "a")? SET reset_password_token = 'digest'`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		reset := PendingToken{Value: "digest", ExpiresAt: baseTime.Add(time.Hour)}
		require.NoError(t, repo.SetPasswordReset(ctx, uuid.New(), reset, baseTime))
	})

	t.Run("consume", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		id := uuid.New()
		mock.ExpectQuery(`(?s)^UPDATE "accounts"(?: AS "a")? SET password_hash = '\$2a\$10\$new', reset_password_token = NULL`).
			WillReturnRows(sqlmock.NewRows(accountColumns).AddRow(rowValues(id, "alice@example.com", true, nil, nil)...))

		got, err := repo.ConsumePasswordReset(ctx, "digest", baseTime, "$2a$10$new")
		require.NoError(t, err)
		assert.Equal(t, id, got.ID)
	})

	t.Run("consume without match", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectQuery(`UPDATE "accounts"`).WillReturnRows(sqlmock.NewRows(accountColumns))

		_, err := repo.ConsumePasswordReset(ctx, "digest", baseTime, "$2a$10$new")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRepository_RecordLogin(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	id := uuid.New()
	values := rowValues(id, "alice@example.com", true, nil, nil)
	values[9] = baseTime
	mock.ExpectQuery(`(?s)^UPDATE "accounts"(?: AS "a")? SET last_login = `).
		WillReturnRows(sqlmock.NewRows(accountColumns).AddRow(values...))

	got, err := repo.RecordLogin(context.Background(), id, baseTime)
	require.NoError(t, err)
	require.NotNil(t, got.LastLogin)
	assert.True(t, baseTime.Equal(*got.LastLogin))
}

func TestRowMapping_HalfPairIsAbsent(t *testing.T) {
	token := "123456"
	row := &accountRow{ID: uuid.New(), VerificationToken: &token}
	assert.Nil(t, fromRow(row).Verification)

	a := newTestAccount("a@example.com", "123456", baseTime)
	back := fromRow(toRow(a))
	require.NotNil(t, back.Verification)
	assert.Equal(t, *a.Verification, *back.Verification)
}
