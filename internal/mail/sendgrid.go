package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/eims-app/apiserver/config"
)

type sendGridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendGridPersonalization struct {
	To []sendGridAddress `json:"to"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendGridMessage struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendGridContent         `json:"content"`
}

// SendGridTransport delivers mail through the SendGrid v3 HTTP API.
type SendGridTransport struct {
	apiKey   string
	endpoint string
	from     sendGridAddress
	client   *http.Client
}

func NewSendGridTransport(cfg config.MailConfig) (*SendGridTransport, error) {
	if cfg.SendGrid.APIKey == "" {
		return nil, errors.New("SENDGRID_API_KEY is required")
	}
	return &SendGridTransport{
		apiKey:   cfg.SendGrid.APIKey,
		endpoint: cfg.SendGrid.Endpoint,
		from:     sendGridAddress{Email: cfg.FromEmail, Name: cfg.FromName},
		client:   &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (t *SendGridTransport) Name() string { return "sendgrid" }

func (t *SendGridTransport) Deliver(ctx context.Context, msg Message) error {
	// SendGrid requires text/plain to precede text/html.
	var content []sendGridContent
	if msg.Text != "" {
		content = append(content, sendGridContent{Type: "text/plain", Value: msg.Text})
	}
	if msg.HTML != "" {
		content = append(content, sendGridContent{Type: "text/html", Value: msg.HTML})
	}
	payload, err := json.Marshal(sendGridMessage{
		Personalizations: []sendGridPersonalization{{
			To: []sendGridAddress{{Email: msg.To, Name: msg.ToName}},
		}},
		From:    t.from,
		Subject: msg.Subject,
		Content: content,
	})
	if err != nil {
		return fmt.Errorf("encode sendgrid message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create sendgrid request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("sendgrid request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("sendgrid api error: status %d, body: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return nil
}
