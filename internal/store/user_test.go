package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/eims-app/apiserver/types"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUserID = "5f0b8a8e-7c1e-4f57-9d3a-0c7f1f3b9a11"

var columnNames = []string{
	"id", "name", "email", "mobile_no", "role", "photo", "password_hash",
	"password_changed_at", "password_reset_token", "password_reset_expires",
	"active", "created_at", "updated_at",
}

func newMockRepo(t *testing.T) (*UserRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := NewUserRepository(sqlx.NewDb(db, "postgres"))
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	return repo, mock
}

func userRow(active bool) *sqlmock.Rows {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(columnNames).AddRow(
		testUserID, "Ada Lovelace", "ada@example.com", "0123456789", "user", nil, "$2a$hash",
		nil, nil, nil,
		active, now, now,
	)
}

func TestGetByID_FiltersInactiveByDefault(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1 AND active = TRUE")).
		WithArgs(testUserID).
		WillReturnRows(userRow(true))

	user, err := repo.GetByID(context.Background(), testUserID)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", user.Email)
	assert.Equal(t, types.RoleUser, user.Role)
	assert.Equal(t, "$2a$hash", user.PasswordHash)
	assert.Nil(t, user.PasswordChangedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByID_IncludeInactive(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`FROM users WHERE id = \$1$`).
		WithArgs(testUserID).
		WillReturnRows(userRow(false))

	user, err := repo.GetByID(context.Background(), testUserID, IncludeInactive())
	require.NoError(t, err)
	assert.False(t, user.Active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByID_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("FROM users WHERE id").
		WithArgs(testUserID).
		WillReturnRows(sqlmock.NewRows(columnNames))

	_, err := repo.GetByID(context.Background(), testUserID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByID_MalformedIDIsNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	_, err := repo.GetByID(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByEmail_Normalizes(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE email = $1 AND active = TRUE")).
		WithArgs("ada@example.com").
		WillReturnRows(userRow(true))

	_, err := repo.GetByEmail(context.Background(), "  Ada@Example.COM ")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("INSERT INTO users").
		WillReturnResult(sqlmock.NewResult(0, 1))

	user, err := repo.Create(context.Background(), types.User{
		Name:         "Ada",
		Email:        "ADA@example.com",
		MobileNo:     "0123",
		Role:         types.RoleUser,
		PasswordHash: "$2a$hash",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "ada@example.com", user.Email)
	assert.True(t, user.Active)
	assert.False(t, user.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_DuplicateEmail(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("INSERT INTO users").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value"})

	_, err := repo.Create(context.Background(), types.User{Email: "ada@example.com"})
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePassword_ClearsPendingReset(t *testing.T) {
	repo, mock := newMockRepo(t)
	changedAt := time.Date(2026, 5, 1, 9, 59, 59, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("password_reset_token = NULL")).
		WithArgs("$2a$new", changedAt, sqlmock.AnyArg(), testUserID).
		WillReturnRows(userRow(true))

	_, err := repo.UpdatePassword(context.Background(), testUserID, "$2a$new", changedAt)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetPasswordReset(t *testing.T) {
	repo, mock := newMockRepo(t)
	expires := time.Now().Add(10 * time.Minute)

	mock.ExpectExec(regexp.QuoteMeta("SET password_reset_token = $1")).
		WithArgs("digest", expires, testUserID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetPasswordReset(context.Background(), testUserID, "digest", expires))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClearPasswordReset_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("SET password_reset_token = NULL")).
		WithArgs(testUserID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.ClearPasswordReset(context.Background(), testUserID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumePasswordReset_IsSingleConditionalUpdate(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`password_reset_token = \$4\s+AND password_reset_expires > \$3`).
		WithArgs("$2a$new", now.Add(-time.Second), now, "digest").
		WillReturnRows(userRow(true))

	user, err := repo.ConsumePasswordReset(context.Background(), "digest", now, "$2a$new", now.Add(-time.Second))
	require.NoError(t, err)
	assert.Equal(t, testUserID, user.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumePasswordReset_NoMatch(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("UPDATE users").
		WillReturnRows(sqlmock.NewRows(columnNames))

	_, err := repo.ConsumePasswordReset(context.Background(), "digest", time.Now(), "h", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeactivate(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("SET active = FALSE")).
		WithArgs(sqlmock.AnyArg(), testUserID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Deactivate(context.Background(), testUserID))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete_DatabaseError(t *testing.T) {
	repo, mock := newMockRepo(t)
	boom := errors.New("connection reset")

	mock.ExpectExec("DELETE FROM users").
		WithArgs(testUserID).
		WillReturnError(boom)

	err := repo.Delete(context.Background(), testUserID)
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestList(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM users WHERE TRUE AND active = TRUE AND role = $1")).
		WithArgs("admin").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY name DESC, id LIMIT $2 OFFSET $3")).
		WithArgs("admin", 2, 0).
		WillReturnRows(userRow(true))

	users, total, err := repo.List(context.Background(), types.UserFilter{
		Role:  types.RoleAdmin,
		Sort:  "-name",
		Limit: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, users, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderBy(t *testing.T) {
	got, err := orderBy("")
	require.NoError(t, err)
	assert.Equal(t, "created_at DESC, id", got)

	got, err = orderBy("-createdAt, name")
	require.NoError(t, err)
	assert.Equal(t, "created_at DESC, name ASC, id", got)

	_, err = orderBy("password_hash")
	assert.ErrorIs(t, err, ErrInvalidSort)
}
