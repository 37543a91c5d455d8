package mail

import (
	"context"
	"fmt"

	"github.com/eims-app/apiserver/types"
)

// Publisher is the subset of *mq.MQ used to enqueue email.
type Publisher interface {
	PublishJSON(ctx context.Context, channel string, v any, attrs map[string]string) (string, error)
}

// QueueMailer enqueues email for the mailer worker instead of delivering it
// inline. A send succeeds once the broker has accepted the message.
type QueueMailer struct {
	pub     Publisher
	channel string
}

func NewQueueMailer(pub Publisher, channel string) *QueueMailer {
	return &QueueMailer{pub: pub, channel: channel}
}

func (q *QueueMailer) SendWelcome(ctx context.Context, user types.User, url string) error {
	return q.enqueue(ctx, newEmail(types.EmailWelcome, user, url))
}

func (q *QueueMailer) SendPasswordReset(ctx context.Context, user types.User, url string) error {
	return q.enqueue(ctx, newEmail(types.EmailPasswordReset, user, url))
}

func (q *QueueMailer) enqueue(ctx context.Context, msg types.EmailMessage) error {
	if _, err := q.pub.PublishJSON(ctx, q.channel, msg, map[string]string{"kind": string(msg.Kind)}); err != nil {
		return fmt.Errorf("enqueue %s email: %w", msg.Kind, err)
	}
	return nil
}
