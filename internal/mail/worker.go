package mail

import (
	"context"
	"encoding/json"
	"time"

	"github.com/eims-app/apiserver/internal/metrics"
	"github.com/eims-app/apiserver/internal/mq"
	"github.com/eims-app/apiserver/types"
	"github.com/rs/zerolog"
)

// Subscriber is the subset of *mq.MQ used by the worker.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler mq.Handler) error
}

// ResetStore clears a pending password reset whose email could not be sent.
type ResetStore interface {
	ClearPasswordReset(ctx context.Context, id string) error
}

// Worker drains the email queue and delivers each message.
type Worker struct {
	mailer  *Mailer
	sub     Subscriber
	resets  ResetStore
	channel string
	log     zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewWorker returns a worker consuming channel. resets may be nil, in which
// case abandoned password reset emails leave the reset to expire on its own.
func NewWorker(mailer *Mailer, sub Subscriber, resets ResetStore, channel string, log zerolog.Logger, m *metrics.Metrics) *Worker {
	return &Worker{mailer: mailer, sub: sub, resets: resets, channel: channel, log: log, metrics: m, now: time.Now}
}

// Run consumes until ctx is cancelled or the subscription fails.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Str("channel", w.channel).Msg("mailer worker started")
	return w.sub.Subscribe(ctx, w.channel, w.handle)
}

// handle delivers one message. A failure is returned for a retry on first
// delivery; a failure on a redelivered message is final, so the message is
// acked and any pending reset it carried is cleared.
func (w *Worker) handle(ctx context.Context, msg mq.Message) error {
	var email types.EmailMessage
	if err := json.Unmarshal(msg.Data, &email); err != nil || email.To == "" {
		// Undecodable messages would fail forever; ack and drop them.
		w.log.Error().Err(err).Str("message_id", msg.ID).Msg("dropping malformed email message")
		return nil
	}

	log := w.log.With().Str("message_id", msg.ID).Str("kind", string(email.Kind)).Logger()

	if email.Expired(w.now()) {
		log.Warn().Msg("dropping email with expired link")
		w.abandon(ctx, log, email)
		return nil
	}

	err := w.mailer.Send(ctx, email)
	w.metrics.MailSent(string(email.Kind), err)
	if err == nil {
		log.Debug().Msg("email delivered")
		return nil
	}
	if !msg.Redelivered {
		log.Warn().Err(err).Msg("email delivery failed, will retry")
		return err
	}

	log.Error().Err(err).Msg("email delivery abandoned")
	w.abandon(ctx, log, email)
	return nil
}

func (w *Worker) abandon(ctx context.Context, log zerolog.Logger, email types.EmailMessage) {
	if email.Kind != types.EmailPasswordReset || email.UserID == "" || w.resets == nil {
		return
	}
	if err := w.resets.ClearPasswordReset(ctx, email.UserID); err != nil {
		log.Error().Err(err).Str("user_id", email.UserID).Msg("rollback of pending password reset failed")
		return
	}
	log.Info().Str("user_id", email.UserID).Msg("pending password reset cleared")
}
