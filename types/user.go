package types

import "time"

// Role is the authorization level of a user.
type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleOperator   Role = "operator"
	RolePrincipal  Role = "principal"
	RoleAccountant Role = "accountant"
)

// DefaultRole is assigned to every account created through signup.
const DefaultRole = RoleUser

// Roles lists every role a user record may carry.
var Roles = []Role{RoleUser, RoleAdmin, RoleOperator, RolePrincipal, RoleAccountant}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// User represents an account in the system.
// It contains identity, credentials, and audit metadata.
type User struct {
	// ID is the opaque unique identifier of the user.
	ID string `json:"id" db:"id"`

	// Name is the user's display or full name.
	Name string `json:"name" db:"name"`

	// Email is the user's email address. It is unique and stored lower-cased.
	Email string `json:"email" db:"email"`

	// MobileNo is the user's mobile contact number.
	MobileNo string `json:"mobileNo" db:"mobile_no"`

	// Role indicates the user's authorization level within the system.
	Role Role `json:"role" db:"role"`

	// Photo is the object key of the user's profile photo, if any.
	Photo *string `json:"photo,omitempty" db:"photo"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// PasswordChangedAt is set on every password change after creation.
	PasswordChangedAt *time.Time `json:"-" db:"password_changed_at"`

	// PasswordResetToken is the SHA-256 hex digest of a pending reset token.
	PasswordResetToken *string `json:"-" db:"password_reset_token"`

	// PasswordResetExpires is the expiry of the pending reset token.
	PasswordResetExpires *time.Time `json:"-" db:"password_reset_expires"`

	// Active is false once the account has been deactivated.
	Active bool `json:"-" db:"active"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// ChangedPasswordAfter reports whether the password was changed after a token
// issued at issuedAt. Comparison happens at whole-second granularity, the
// resolution of the token's iat claim.
func (u User) ChangedPasswordAfter(issuedAt time.Time) bool {
	if u.PasswordChangedAt == nil {
		return false
	}
	return issuedAt.Unix() < u.PasswordChangedAt.Unix()
}

// HasPendingReset reports whether a password reset is outstanding.
func (u User) HasPendingReset() bool {
	return u.PasswordResetToken != nil && u.PasswordResetExpires != nil
}

// UserFilter narrows user listings.
type UserFilter struct {
	Role   Role
	Sort   string
	Offset int
	Limit  int
}
