// Package mail renders and delivers transactional email. The transport is
// chosen once at startup: SMTP, SendGrid, or a message queue drained by the
// mailer worker.
package mail

import (
	"context"
	"fmt"

	"github.com/eims-app/apiserver/config"
)

// Message is a rendered email ready for delivery.
type Message struct {
	To      string
	ToName  string
	Subject string
	HTML    string
	Text    string
}

// Transport delivers rendered messages.
type Transport interface {
	Deliver(ctx context.Context, msg Message) error
	Name() string
}

// NewTransport builds the delivery transport named by kind ("smtp" or
// "sendgrid").
func NewTransport(kind string, cfg config.MailConfig) (Transport, error) {
	switch kind {
	case "smtp":
		return NewSMTPTransport(cfg)
	case "sendgrid":
		return NewSendGridTransport(cfg)
	default:
		return nil, fmt.Errorf("unsupported mail transport %q", kind)
	}
}
