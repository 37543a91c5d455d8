// Package servicestest provides in-memory collaborators for tests of the
// services and the HTTP layer.
package servicestest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/eims-app/apiserver/internal/store"
	"github.com/eims-app/apiserver/types"
	"github.com/google/uuid"
)

// UserRepository is a concurrency-safe in-memory implementation of
// services.UserRepository with the same visibility rules as the SQL store.
type UserRepository struct {
	mu    sync.Mutex
	users map[string]types.User
	Now   func() time.Time
}

func NewUserRepository() *UserRepository {
	return &UserRepository{users: map[string]types.User{}, Now: time.Now}
}

func (r *UserRepository) visible(u types.User, opts []store.ReadOption) bool {
	return u.Active || store.IncludesInactive(opts...)
}

func (r *UserRepository) GetByID(_ context.Context, id string, opts ...store.ReadOption) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok || !r.visible(u, opts) {
		return types.User{}, store.ErrNotFound
	}
	return u, nil
}

func (r *UserRepository) GetByEmail(_ context.Context, email string, opts ...store.ReadOption) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	email = store.NormalizeEmail(email)
	for _, u := range r.users {
		if u.Email == email && r.visible(u, opts) {
			return u, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *UserRepository) List(_ context.Context, filter types.UserFilter, opts ...store.ReadOption) ([]types.User, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.User
	for _, u := range r.users {
		if !r.visible(u, opts) {
			continue
		}
		if filter.Role != "" && u.Role != filter.Role {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Email < out[j].Email
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	total := len(out)
	if filter.Offset >= len(out) {
		return []types.User{}, total, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, total, nil
}

func (r *UserRepository) Create(_ context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user.Email = store.NormalizeEmail(user.Email)
	for _, u := range r.users {
		if u.Email == user.Email {
			return types.User{}, store.ErrConflict
		}
	}
	now := r.Now()
	user.ID = uuid.NewString()
	user.Active = true
	user.CreatedAt = now
	user.UpdatedAt = now
	r.users[user.ID] = user
	return user, nil
}

func (r *UserRepository) Update(_ context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.users[user.ID]
	if !ok || !cur.Active {
		return types.User{}, store.ErrNotFound
	}
	for id, u := range r.users {
		if id != user.ID && u.Email == user.Email {
			return types.User{}, store.ErrConflict
		}
	}
	cur.Name = user.Name
	cur.Email = user.Email
	cur.MobileNo = user.MobileNo
	cur.Role = user.Role
	cur.Photo = user.Photo
	cur.UpdatedAt = r.Now()
	r.users[cur.ID] = cur
	return cur, nil
}

func (r *UserRepository) UpdatePassword(_ context.Context, id, hash string, changedAt time.Time) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok || !u.Active {
		return types.User{}, store.ErrNotFound
	}
	u.PasswordHash = hash
	u.PasswordChangedAt = &changedAt
	u.PasswordResetToken = nil
	u.PasswordResetExpires = nil
	r.users[id] = u
	return u, nil
}

func (r *UserRepository) SetPasswordReset(_ context.Context, id, digest string, expires time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok || !u.Active {
		return store.ErrNotFound
	}
	u.PasswordResetToken = &digest
	u.PasswordResetExpires = &expires
	r.users[id] = u
	return nil
}

func (r *UserRepository) ClearPasswordReset(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return store.ErrNotFound
	}
	u.PasswordResetToken = nil
	u.PasswordResetExpires = nil
	r.users[id] = u
	return nil
}

func (r *UserRepository) ConsumePasswordReset(_ context.Context, digest string, now time.Time, hash string, changedAt time.Time) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, u := range r.users {
		if !u.Active || u.PasswordResetToken == nil || *u.PasswordResetToken != digest {
			continue
		}
		if u.PasswordResetExpires == nil || !u.PasswordResetExpires.After(now) {
			continue
		}
		u.PasswordHash = hash
		u.PasswordChangedAt = &changedAt
		u.PasswordResetToken = nil
		u.PasswordResetExpires = nil
		r.users[id] = u
		return u, nil
	}
	return types.User{}, store.ErrNotFound
}

func (r *UserRepository) Deactivate(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok || !u.Active {
		return store.ErrNotFound
	}
	u.Active = false
	r.users[id] = u
	return nil
}

func (r *UserRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.users, id)
	return nil
}

// Raw returns the stored record regardless of its active flag.
func (r *UserRepository) Raw(id string) (types.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	return u, ok
}

// Len returns the number of stored records.
func (r *UserRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}
