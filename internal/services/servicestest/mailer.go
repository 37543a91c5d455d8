package servicestest

import (
	"context"
	"sync"
	"time"

	"github.com/eims-app/apiserver/types"
)

// SentMail is one message captured by Mailer.
type SentMail struct {
	Kind      types.EmailKind
	To        string
	UserID    string
	URL       string
	ExpiresAt *time.Time
}

// Mailer records outgoing mail. When Err is set every send fails with it.
type Mailer struct {
	mu   sync.Mutex
	Err  error
	sent []SentMail
}

func (m *Mailer) SendWelcome(_ context.Context, user types.User, url string) error {
	return m.record(types.EmailWelcome, user, url)
}

func (m *Mailer) SendPasswordReset(_ context.Context, user types.User, url string) error {
	return m.record(types.EmailPasswordReset, user, url)
}

func (m *Mailer) record(kind types.EmailKind, user types.User, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.sent = append(m.sent, SentMail{Kind: kind, To: user.Email, UserID: user.ID, URL: url, ExpiresAt: user.PasswordResetExpires})
	return nil
}

// Sent returns the captured messages in send order.
func (m *Mailer) Sent() []SentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMail(nil), m.sent...)
}

// Last returns the most recent message of kind.
func (m *Mailer) Last(kind types.EmailKind) (SentMail, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].Kind == kind {
			return m.sent[i], true
		}
	}
	return SentMail{}, false
}
