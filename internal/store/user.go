package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eims-app/apiserver/types"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const userColumns = `id, name, email, mobile_no, role, photo, password_hash,
	password_changed_at, password_reset_token, password_reset_expires,
	active, created_at, updated_at`

// sortColumns maps API sort fields to columns.
var sortColumns = map[string]string{
	"name":      "name",
	"email":     "email",
	"role":      "role",
	"createdAt": "created_at",
	"updatedAt": "updated_at",
}

type readOptions struct {
	includeInactive bool
}

// ReadOption adjusts the scope of a read query.
type ReadOption func(*readOptions)

// IncludeInactive lifts the default filter that hides deactivated users.
func IncludeInactive() ReadOption {
	return func(o *readOptions) { o.includeInactive = true }
}

func scope(opts []ReadOption) readOptions {
	var o readOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// IncludesInactive reports whether opts lift the active filter.
func IncludesInactive(opts ...ReadOption) bool {
	return scope(opts).includeInactive
}

func (o readOptions) activeClause() string {
	if o.includeInactive {
		return ""
	}
	return " AND active = TRUE"
}

// UserRepository handles persistence for users.
type UserRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db, now: time.Now}
}

func (r *UserRepository) GetByID(ctx context.Context, id string, opts ...ReadOption) (types.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return types.User{}, ErrNotFound
	}
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1` + scope(opts).activeClause()
	return r.getOne(ctx, query, id)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string, opts ...ReadOption) (types.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1` + scope(opts).activeClause()
	return r.getOne(ctx, query, NormalizeEmail(email))
}

func (r *UserRepository) getOne(ctx context.Context, query string, args ...any) (types.User, error) {
	var user types.User
	if err := r.db.GetContext(ctx, &user, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

// List returns one page of users and the total count matching filter.
func (r *UserRepository) List(ctx context.Context, filter types.UserFilter, opts ...ReadOption) ([]types.User, int, error) {
	where := `WHERE TRUE` + scope(opts).activeClause()
	var args []any
	if filter.Role != "" {
		args = append(args, filter.Role)
		where += fmt.Sprintf(" AND role = $%d", len(args))
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM users `+where, args...); err != nil {
		return nil, 0, err
	}

	order, err := orderBy(filter.Sort)
	if err != nil {
		return nil, 0, err
	}
	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM users %s ORDER BY %s LIMIT $%d OFFSET $%d`,
		userColumns, where, order, len(args)-1, len(args))

	users := []types.User{}
	if err := r.db.SelectContext(ctx, &users, query, args...); err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// ErrInvalidSort is returned for sort fields that are not sortable.
var ErrInvalidSort = errors.New("invalid sort field")

// orderBy translates "-createdAt,name" into an ORDER BY clause.
func orderBy(sort string) (string, error) {
	if strings.TrimSpace(sort) == "" {
		return "created_at DESC, id", nil
	}
	var parts []string
	for _, field := range strings.Split(sort, ",") {
		field = strings.TrimSpace(field)
		dir := "ASC"
		if rest, ok := strings.CutPrefix(field, "-"); ok {
			field, dir = rest, "DESC"
		}
		column, ok := sortColumns[field]
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrInvalidSort, field)
		}
		parts = append(parts, column+" "+dir)
	}
	return strings.Join(append(parts, "id"), ", "), nil
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	now := r.now()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.Email = NormalizeEmail(user.Email)
	user.Active = true
	user.CreatedAt = now
	user.UpdatedAt = now

	const query = `
		INSERT INTO users (id, name, email, mobile_no, role, photo, password_hash,
			password_changed_at, active, created_at, updated_at)
		VALUES (:id, :name, :email, :mobile_no, :role, :photo, :password_hash,
			:password_changed_at, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, user); err != nil {
		return types.User{}, mapWriteError(err)
	}
	return user, nil
}

// Update persists the profile fields of an active user.
func (r *UserRepository) Update(ctx context.Context, user types.User) (types.User, error) {
	user.Email = NormalizeEmail(user.Email)
	user.UpdatedAt = r.now()

	query := `
		UPDATE users
		SET name = $1,
			email = $2,
			mobile_no = $3,
			role = $4,
			photo = $5,
			updated_at = $6
		WHERE id = $7 AND active = TRUE
		RETURNING ` + userColumns
	var updated types.User
	err := r.db.GetContext(ctx, &updated, query,
		user.Name,
		user.Email,
		user.MobileNo,
		user.Role,
		user.Photo,
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, mapWriteError(err)
	}
	return updated, nil
}

// UpdatePassword stores a new password hash and change time and drops any
// pending reset.
func (r *UserRepository) UpdatePassword(ctx context.Context, id, hash string, changedAt time.Time) (types.User, error) {
	query := `
		UPDATE users
		SET password_hash = $1,
			password_changed_at = $2,
			password_reset_token = NULL,
			password_reset_expires = NULL,
			updated_at = $3
		WHERE id = $4 AND active = TRUE
		RETURNING ` + userColumns
	return r.getOne(ctx, query, hash, changedAt, r.now(), id)
}

// SetPasswordReset records a pending reset. Only the two reset fields change.
func (r *UserRepository) SetPasswordReset(ctx context.Context, id, digest string, expires time.Time) error {
	const query = `
		UPDATE users
		SET password_reset_token = $1,
			password_reset_expires = $2
		WHERE id = $3 AND active = TRUE`
	return r.execOne(ctx, query, digest, expires, id)
}

// ClearPasswordReset removes a pending reset.
func (r *UserRepository) ClearPasswordReset(ctx context.Context, id string) error {
	const query = `
		UPDATE users
		SET password_reset_token = NULL,
			password_reset_expires = NULL
		WHERE id = $1`
	return r.execOne(ctx, query, id)
}

// ConsumePasswordReset matches an unexpired reset digest and, in the same
// statement, clears it and stores the new password. Concurrent attempts with
// the same digest cannot both succeed.
func (r *UserRepository) ConsumePasswordReset(ctx context.Context, digest string, now time.Time, hash string, changedAt time.Time) (types.User, error) {
	query := `
		UPDATE users
		SET password_hash = $1,
			password_changed_at = $2,
			password_reset_token = NULL,
			password_reset_expires = NULL,
			updated_at = $3
		WHERE password_reset_token = $4
			AND password_reset_expires > $3
			AND active = TRUE
		RETURNING ` + userColumns
	return r.getOne(ctx, query, hash, changedAt, now, digest)
}

// Deactivate soft-deletes a user.
func (r *UserRepository) Deactivate(ctx context.Context, id string) error {
	const query = `UPDATE users SET active = FALSE, updated_at = $1 WHERE id = $2 AND active = TRUE`
	return r.execOne(ctx, query, r.now(), id)
}

func (r *UserRepository) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	return r.execOne(ctx, `DELETE FROM users WHERE id = $1`, id)
}

func (r *UserRepository) execOne(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
