package types

import "time"

// EmailKind identifies a transactional email template.
type EmailKind string

const (
	EmailWelcome       EmailKind = "welcome"
	EmailPasswordReset EmailKind = "password_reset"
)

// EmailMessage is the payload queued for asynchronous delivery.
type EmailMessage struct {
	Kind EmailKind `json:"kind"`
	To   string    `json:"to"`
	Name string    `json:"name"`
	URL  string    `json:"url"`
	// UserID and ExpiresAt let the worker roll back a password reset whose
	// email cannot be delivered.
	UserID    string     `json:"userId,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Expired reports whether the link carried by m is no longer usable at now.
func (m EmailMessage) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && !now.Before(*m.ExpiresAt)
}
