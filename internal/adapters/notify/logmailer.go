package notify

import (
	"context"

	"github.com/okian/kindred/pkg/logger"
)

// LogMailer writes messages to the log instead of sending them. It is used
// when no email API key is configured.
type LogMailer struct {
	log logger.Logger
}

// NewLogMailer returns a LogMailer on the given logger.
func NewLogMailer(l logger.Logger) *LogMailer {
	return &LogMailer{log: l}
}

// Send implements Mailer.
func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	m.log.Info(ctx, "email not sent, no provider configured",
		logger.String("id", msg.ID),
		logger.String("kind", string(msg.Kind)),
		logger.String("to", msg.To),
		logger.String("subject", msg.Subject),
	)
	return nil
}
