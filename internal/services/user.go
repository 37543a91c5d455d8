package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/eims-app/apiserver/internal/apperr"
	"github.com/eims-app/apiserver/internal/auth"
	"github.com/eims-app/apiserver/internal/store"
	"github.com/eims-app/apiserver/types"
	"github.com/go-playground/validator/v10"
)

// PasswordChangeSkew backdates passwordChangedAt so that a token issued in the
// same second as the change is still accepted.
const PasswordChangeSkew = time.Second

// UserRepository defines persistence operations for users. Reads exclude
// deactivated users unless store.IncludeInactive is passed.
type UserRepository interface {
	GetByID(ctx context.Context, id string, opts ...store.ReadOption) (types.User, error)
	GetByEmail(ctx context.Context, email string, opts ...store.ReadOption) (types.User, error)
	List(ctx context.Context, filter types.UserFilter, opts ...store.ReadOption) ([]types.User, int, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Update(ctx context.Context, user types.User) (types.User, error)
	UpdatePassword(ctx context.Context, id, hash string, changedAt time.Time) (types.User, error)
	SetPasswordReset(ctx context.Context, id, digest string, expires time.Time) error
	ClearPasswordReset(ctx context.Context, id string) error
	ConsumePasswordReset(ctx context.Context, digest string, now time.Time, hash string, changedAt time.Time) (types.User, error)
	Deactivate(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// SignupInput carries the fields accepted when creating an account.
type SignupInput struct {
	Name            string `json:"name" validate:"required,max=40"`
	Email           string `json:"email" validate:"required,email"`
	MobileNo        string `json:"mobileNo" validate:"required"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"passwordConfirm"`
}

// ProfileUpdate carries optional profile changes. Nil fields are left as is.
type ProfileUpdate struct {
	Name     *string     `json:"name"`
	Email    *string     `json:"email"`
	MobileNo *string     `json:"mobileNo"`
	Role     *types.Role `json:"role"`
}

// profile is the validated shape of a user record before any write.
type profile struct {
	Name     string     `json:"name" validate:"required,max=40"`
	Email    string     `json:"email" validate:"required,email"`
	MobileNo string     `json:"mobileNo" validate:"required"`
	Role     types.Role `json:"role" validate:"required,user_role"`
}

// UserService encapsulates the credential store and user use-cases.
type UserService struct {
	repo     UserRepository
	hasher   auth.PasswordHasher
	validate *validator.Validate
	now      func() time.Time
}

func NewUserService(repo UserRepository, hasher auth.PasswordHasher) *UserService {
	return &UserService{
		repo:     repo,
		hasher:   hasher,
		validate: newValidator(),
		now:      time.Now,
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("user_role", func(fl validator.FieldLevel) bool {
		return types.Role(fl.Field().String()).Valid()
	})
	return v
}

// Create validates the signup input and stores a new account with the
// default role. Only the password hash is persisted.
func (s *UserService) Create(ctx context.Context, in SignupInput) (types.User, error) {
	p := profile{
		Name:     strings.TrimSpace(in.Name),
		Email:    store.NormalizeEmail(in.Email),
		MobileNo: strings.TrimSpace(in.MobileNo),
		Role:     types.DefaultRole,
	}
	if err := s.validateProfile(p); err != nil {
		return types.User{}, err
	}
	if err := validatePasswordPair(in.Password, in.PasswordConfirm); err != nil {
		return types.User{}, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return types.User{}, apperr.Internal(err)
	}

	user, err := s.repo.Create(ctx, types.User{
		Name:         p.Name,
		Email:        p.Email,
		MobileNo:     p.MobileNo,
		Role:         p.Role,
		PasswordHash: hash,
	})
	if err != nil {
		return types.User{}, mapRepoError(err)
	}
	return user, nil
}

// VerifyPassword reports whether candidate matches the stored hash.
func (s *UserService) VerifyPassword(candidate, storedHash string) bool {
	return s.hasher.Compare(storedHash, candidate)
}

// ChangePassword re-validates and stores a new password for user, records the
// change time and drops any pending reset.
func (s *UserService) ChangePassword(ctx context.Context, user types.User, password, confirm string) (types.User, error) {
	if err := validatePasswordPair(password, confirm); err != nil {
		return types.User{}, err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return types.User{}, apperr.Internal(err)
	}
	updated, err := s.repo.UpdatePassword(ctx, user.ID, hash, s.changedAt())
	if err != nil {
		return types.User{}, mapRepoError(err)
	}
	return updated, nil
}

func (s *UserService) changedAt() time.Time {
	return s.now().Add(-PasswordChangeSkew)
}

func (s *UserService) GetByID(ctx context.Context, id string) (types.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return types.User{}, mapRepoError(err)
	}
	return user, nil
}

func (s *UserService) GetByEmail(ctx context.Context, email string) (types.User, error) {
	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return types.User{}, mapRepoError(err)
	}
	return user, nil
}

func (s *UserService) List(ctx context.Context, filter types.UserFilter) ([]types.User, int, error) {
	if filter.Limit <= 0 {
		filter.Limit = 10
	}
	if filter.Limit > 100 {
		filter.Limit = 100
	}
	if filter.Role != "" && !filter.Role.Valid() {
		return nil, 0, apperr.Validation(fmt.Sprintf("Invalid input data. role %q is not a known role", filter.Role))
	}
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		if errors.Is(err, store.ErrInvalidSort) {
			return nil, 0, apperr.Validation("Invalid input data. " + err.Error())
		}
		return nil, 0, err
	}
	return users, total, nil
}

// UpdateProfile applies profile changes. Role changes are honoured only when
// allowRole is set.
func (s *UserService) UpdateProfile(ctx context.Context, id string, upd ProfileUpdate, allowRole bool) (types.User, error) {
	if upd.Role != nil && !allowRole {
		return types.User{}, apperr.Validation("This route is not for role changes.")
	}
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return types.User{}, err
	}

	p := profile{Name: user.Name, Email: user.Email, MobileNo: user.MobileNo, Role: user.Role}
	if upd.Name != nil {
		p.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.Email != nil {
		p.Email = store.NormalizeEmail(*upd.Email)
	}
	if upd.MobileNo != nil {
		p.MobileNo = strings.TrimSpace(*upd.MobileNo)
	}
	if upd.Role != nil {
		p.Role = *upd.Role
	}
	if err := s.validateProfile(p); err != nil {
		return types.User{}, err
	}

	user.Name, user.Email, user.MobileNo, user.Role = p.Name, p.Email, p.MobileNo, p.Role
	updated, err := s.repo.Update(ctx, user)
	if err != nil {
		return types.User{}, mapRepoError(err)
	}
	return updated, nil
}

// SetPhoto records the object key of the user's profile photo.
func (s *UserService) SetPhoto(ctx context.Context, id, key string) (types.User, error) {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return types.User{}, err
	}
	user.Photo = &key
	updated, err := s.repo.Update(ctx, user)
	if err != nil {
		return types.User{}, mapRepoError(err)
	}
	return updated, nil
}

// Deactivate soft-deletes a user.
func (s *UserService) Deactivate(ctx context.Context, id string) error {
	return mapRepoError(s.repo.Deactivate(ctx, id))
}

// Delete removes a user permanently.
func (s *UserService) Delete(ctx context.Context, id string) error {
	return mapRepoError(s.repo.Delete(ctx, id))
}

func (s *UserService) validateProfile(p profile) error {
	err := s.validate.Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Internal(err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return apperr.Validation("Invalid input data. " + strings.Join(msgs, ". "))
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return "Please provide a valid email address"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "user_role":
		return fmt.Sprintf("role %q is not a known role", fe.Value())
	default:
		return fe.Field() + " is invalid"
	}
}

func validatePasswordPair(password, confirm string) error {
	if password == "" || confirm == "" {
		return apperr.Validation("Please provide a password and a password confirmation")
	}
	if len(password) < auth.MinPasswordLength {
		return apperr.Validation(fmt.Sprintf("Password must be at least %d characters", auth.MinPasswordLength))
	}
	if password != confirm {
		return apperr.Validation("Passwords are not the same")
	}
	return nil
}

func mapRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return apperr.NotFound("No user found with that ID")
	case errors.Is(err, store.ErrConflict):
		return apperr.Conflict("Email address is already in use")
	default:
		return err
	}
}
