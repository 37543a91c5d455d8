package mail

import (
	"context"
	"fmt"
	"time"

	"github.com/eims-app/apiserver/types"
)

// Mailer renders transactional email and hands it to a Transport.
type Mailer struct {
	transport Transport
	resetTTL  time.Duration
}

// NewMailer returns a Mailer delivering through t. resetTTL is quoted in
// password reset emails.
func NewMailer(t Transport, resetTTL time.Duration) *Mailer {
	return &Mailer{transport: t, resetTTL: resetTTL}
}

func (m *Mailer) SendWelcome(ctx context.Context, user types.User, url string) error {
	return m.Send(ctx, newEmail(types.EmailWelcome, user, url))
}

func (m *Mailer) SendPasswordReset(ctx context.Context, user types.User, url string) error {
	return m.Send(ctx, newEmail(types.EmailPasswordReset, user, url))
}

// Send renders and delivers msg.
func (m *Mailer) Send(ctx context.Context, msg types.EmailMessage) error {
	rendered, err := Render(msg, m.resetTTL)
	if err != nil {
		return err
	}
	if err := m.transport.Deliver(ctx, rendered); err != nil {
		return fmt.Errorf("%s: deliver %s: %w", m.transport.Name(), msg.Kind, err)
	}
	return nil
}

func newEmail(kind types.EmailKind, user types.User, url string) types.EmailMessage {
	msg := types.EmailMessage{Kind: kind, To: user.Email, Name: user.Name, URL: url, UserID: user.ID}
	if kind == types.EmailPasswordReset {
		msg.ExpiresAt = user.PasswordResetExpires
	}
	return msg
}
