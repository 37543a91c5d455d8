package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/eims-app/apiserver/internal/apperr"
	"github.com/eims-app/apiserver/internal/auth"
	"github.com/eims-app/apiserver/internal/metrics"
	"github.com/eims-app/apiserver/internal/store"
	"github.com/eims-app/apiserver/types"
	"github.com/rs/zerolog"
)

// Mailer delivers transactional email. Implementations are selected once at
// startup.
type Mailer interface {
	SendWelcome(ctx context.Context, user types.User, url string) error
	SendPasswordReset(ctx context.Context, user types.User, url string) error
}

// AuthService implements signup, login, session verification and the
// password reset flow on top of UserService.
type AuthService struct {
	users    *UserService
	tokens   *auth.TokenIssuer
	mailer   Mailer
	resetTTL time.Duration
	metrics  *metrics.Metrics
	log      zerolog.Logger
	now      func() time.Time
}

type AuthOption func(*AuthService)

// WithMetrics records auth events on m.
func WithMetrics(m *metrics.Metrics) AuthOption {
	return func(s *AuthService) { s.metrics = m }
}

func WithLogger(l zerolog.Logger) AuthOption {
	return func(s *AuthService) { s.log = l }
}

// WithClock overrides the time source used for reset expiry and password
// change timestamps.
func WithClock(now func() time.Time) AuthOption {
	return func(s *AuthService) {
		s.now = now
		s.users.now = now
	}
}

func NewAuthService(users *UserService, tokens *auth.TokenIssuer, mailer Mailer, resetTTL time.Duration, opts ...AuthOption) *AuthService {
	s := &AuthService{
		users:    users,
		tokens:   tokens,
		mailer:   mailer,
		resetTTL: resetTTL,
		log:      zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Signup creates an account, sends the welcome email and issues a session
// token. A failed welcome email does not fail the signup.
func (s *AuthService) Signup(ctx context.Context, in SignupInput, profileURL string) (types.User, auth.IssuedToken, error) {
	user, err := s.users.Create(ctx, in)
	s.metrics.AuthEvent("signup", err)
	if err != nil {
		return types.User{}, auth.IssuedToken{}, err
	}

	err = s.mailer.SendWelcome(ctx, user, profileURL)
	s.metrics.MailSent(string(types.EmailWelcome), err)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID).Msg("welcome email failed")
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return types.User{}, auth.IssuedToken{}, apperr.Internal(err)
	}
	return user, token, nil
}

// Login checks credentials and issues a session token. Unknown emails and
// wrong passwords produce the same error.
func (s *AuthService) Login(ctx context.Context, email, password string) (types.User, auth.IssuedToken, error) {
	user, token, err := s.login(ctx, email, password)
	s.metrics.AuthEvent("login", err)
	return user, token, err
}

func (s *AuthService) login(ctx context.Context, email, password string) (types.User, auth.IssuedToken, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return types.User{}, auth.IssuedToken{}, apperr.Validation("Please provide email and password!")
	}
	user, err := s.users.repo.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return types.User{}, auth.IssuedToken{}, err
	}
	if err != nil || !s.users.VerifyPassword(password, user.PasswordHash) {
		return types.User{}, auth.IssuedToken{}, apperr.Unauthenticated("Incorrect email or password")
	}
	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return types.User{}, auth.IssuedToken{}, apperr.Internal(err)
	}
	return user, token, nil
}

// Authenticate resolves the user behind a session token. Every failure is
// reported as unauthenticated.
func (s *AuthService) Authenticate(ctx context.Context, token string) (types.User, error) {
	if token == "" {
		return types.User{}, apperr.Unauthenticated("You are not logged in! Please log in to get access.")
	}
	claims, err := s.tokens.Verify(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			return types.User{}, apperr.Wrap(apperr.KindUnauthenticated, "Your token has expired! Please log in again.", err)
		}
		return types.User{}, apperr.Wrap(apperr.KindUnauthenticated, "Invalid token. Please log in again!", err)
	}
	user, err := s.users.repo.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, apperr.Unauthenticated("The user belonging to this token does no longer exist.")
		}
		return types.User{}, err
	}
	if user.ChangedPasswordAfter(claims.IssuedAt) {
		return types.User{}, apperr.Unauthenticated("User recently changed password! Please log in again.")
	}
	return user, nil
}

// UpdatePassword changes the password of a logged-in user after checking the
// current one, and issues a fresh token.
func (s *AuthService) UpdatePassword(ctx context.Context, user types.User, current, password, confirm string) (types.User, auth.IssuedToken, error) {
	updated, token, err := s.updatePassword(ctx, user, current, password, confirm)
	s.metrics.AuthEvent("update_password", err)
	return updated, token, err
}

func (s *AuthService) updatePassword(ctx context.Context, user types.User, current, password, confirm string) (types.User, auth.IssuedToken, error) {
	stored, err := s.users.repo.GetByID(ctx, user.ID)
	if err != nil {
		return types.User{}, auth.IssuedToken{}, mapRepoError(err)
	}
	if !s.users.VerifyPassword(current, stored.PasswordHash) {
		return types.User{}, auth.IssuedToken{}, apperr.Unauthenticated("Your current password is wrong.")
	}
	updated, err := s.users.ChangePassword(ctx, stored, password, confirm)
	if err != nil {
		return types.User{}, auth.IssuedToken{}, err
	}
	token, err := s.tokens.Issue(updated.ID)
	if err != nil {
		return types.User{}, auth.IssuedToken{}, apperr.Internal(err)
	}
	return updated, token, nil
}

// RequestPasswordReset stores a hashed one-time token for the user with the
// given email and mails the plaintext token as part of a link under
// resetBaseURL. If delivery fails the pending reset is rolled back.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email, resetBaseURL string) error {
	err := s.requestPasswordReset(ctx, email, resetBaseURL)
	s.metrics.AuthEvent("forgot_password", err)
	return err
}

func (s *AuthService) requestPasswordReset(ctx context.Context, email, resetBaseURL string) error {
	if strings.TrimSpace(email) == "" {
		return apperr.Validation("Please provide your email address.")
	}
	user, err := s.users.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("There is no user with that email address.")
		}
		return err
	}

	plain, digest, err := auth.NewResetToken()
	if err != nil {
		return apperr.Internal(err)
	}
	expires := s.now().Add(s.resetTTL)
	if err := s.users.repo.SetPasswordReset(ctx, user.ID, digest, expires); err != nil {
		return mapRepoError(err)
	}
	user.PasswordResetExpires = &expires

	url := strings.TrimRight(resetBaseURL, "/") + "/" + plain
	sendErr := s.mailer.SendPasswordReset(ctx, user, url)
	s.metrics.MailSent(string(types.EmailPasswordReset), sendErr)
	if sendErr == nil {
		return nil
	}

	if err := s.users.repo.ClearPasswordReset(ctx, user.ID); err != nil {
		s.log.Error().Err(err).Str("user_id", user.ID).Msg("rollback of pending password reset failed")
	}
	return apperr.Delivery("There was an error sending the email. Try again later!", sendErr)
}

// ResetPassword consumes a reset token, sets the new password and issues a
// session token. The token is matched and cleared in one conditional write.
func (s *AuthService) ResetPassword(ctx context.Context, plainToken, password, confirm string) (types.User, auth.IssuedToken, error) {
	user, token, err := s.resetPassword(ctx, plainToken, password, confirm)
	s.metrics.AuthEvent("reset_password", err)
	return user, token, err
}

func (s *AuthService) resetPassword(ctx context.Context, plainToken, password, confirm string) (types.User, auth.IssuedToken, error) {
	if strings.TrimSpace(plainToken) == "" {
		return types.User{}, auth.IssuedToken{}, apperr.InvalidOrExpired("Token is invalid or has expired")
	}
	if err := validatePasswordPair(password, confirm); err != nil {
		return types.User{}, auth.IssuedToken{}, err
	}
	hash, err := s.users.hasher.Hash(password)
	if err != nil {
		return types.User{}, auth.IssuedToken{}, apperr.Internal(err)
	}

	now := s.now()
	user, err := s.users.repo.ConsumePasswordReset(ctx, auth.HashResetToken(plainToken), now, hash, now.Add(-PasswordChangeSkew))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, auth.IssuedToken{}, apperr.InvalidOrExpired("Token is invalid or has expired")
		}
		return types.User{}, auth.IssuedToken{}, err
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return types.User{}, auth.IssuedToken{}, apperr.Internal(err)
	}
	return user, token, nil
}

// TokenTTL returns the lifetime of issued session tokens.
func (s *AuthService) TokenTTL() time.Duration {
	return s.tokens.TTL()
}
