package handlers

import (
	"context"
	"net/http"

	"github.com/eims-app/apiserver/internal/apperr"
	"github.com/eims-app/apiserver/internal/auth"
	"github.com/eims-app/apiserver/types"
	"github.com/rs/zerolog"
)

type contextKey string

const identityKey contextKey = "identity"

// Authenticator resolves the user behind a session token.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (types.User, error)
}

// WithIdentity attaches user to ctx.
func WithIdentity(ctx context.Context, user types.User) context.Context {
	return context.WithValue(ctx, identityKey, user)
}

// IdentityFromContext returns the user attached by Protect or
// ResolveIdentityIfPresent.
func IdentityFromContext(ctx context.Context) (types.User, bool) {
	user, ok := ctx.Value(identityKey).(types.User)
	return user, ok
}

// Protect rejects requests without a valid session and attaches the
// authenticated user to the request context.
func Protect(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, _ := auth.TokenFromRequest(r)
			user, err := a.Authenticate(r.Context(), token)
			if err != nil {
				WriteError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(withUserLog(WithIdentity(r.Context(), user), user)))
		})
	}
}

// ResolveIdentityIfPresent attaches the user when the request carries a valid
// session and otherwise continues anonymously.
func ResolveIdentityIfPresent(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := auth.TokenFromRequest(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			user, err := a.Authenticate(r.Context(), token)
			if err != nil {
				zerolog.Ctx(r.Context()).Debug().Err(err).Msg("continuing anonymously")
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(withUserLog(WithIdentity(r.Context(), user), user)))
		})
	}
}

// RestrictTo allows only identities whose role is in roles. Mount it after
// Protect.
func RestrictTo(roles ...types.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := IdentityFromContext(r.Context())
			if !ok {
				WriteError(w, r, apperr.Unauthenticated("You are not logged in! Please log in to get access."))
				return
			}
			if !auth.RoleAllowed(user.Role, roles) {
				WriteError(w, r, apperr.Forbidden("You do not have permission to perform this action"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func withUserLog(ctx context.Context, user types.User) context.Context {
	l := zerolog.Ctx(ctx)
	if l.GetLevel() == zerolog.Disabled {
		return ctx
	}
	return l.With().Str("user_id", user.ID).Logger().WithContext(ctx)
}
