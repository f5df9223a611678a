// Package notify sends push notifications for unrecoverable run failures.
package notify

import (
	"context"

	"github.com/gregdel/pushover"

	"github.com/dvloznov/bank-sync/internal/logger"
)

// LogsURL is the deep link attached to failure notifications so the operator
// lands directly on the run's logs.
const LogsURL = "https://console.cloud.google.com/logs/query"

// Notifier delivers Pushover messages. The zero operations on a nil Notifier
// are valid no-ops, which keeps tests and dry runs quiet.
type Notifier struct {
	app       *pushover.Pushover
	recipient *pushover.Recipient
}

// New creates a Notifier for the given application token and user key.
func New(token, user string) *Notifier {
	return &Notifier{
		app:       pushover.New(token),
		recipient: pushover.NewRecipient(user),
	}
}

// Send delivers a low-priority notification with a link back to the logs.
// Notification failures are logged and swallowed; the run's real error must
// not be masked by a broken notification channel.
func (n *Notifier) Send(ctx context.Context, title, message string) {
	if n == nil {
		return
	}
	log := logger.FromContext(ctx)
	log.Debug().Str("title", title).Msg("Sending notification to Pushover")

	msg := &pushover.Message{
		Title:    title,
		Message:  message,
		URL:      LogsURL,
		URLTitle: "Open Cloud Logging",
		Priority: pushover.PriorityLow,
	}
	if msg.Message == "" {
		msg.Message = title
	}

	if _, err := n.app.SendMessage(msg, n.recipient); err != nil {
		log.Error().Err(err).Str("title", title).Msg("Failed to send notification to Pushover")
		return
	}
	log.Debug().Msg("Sent notification to Pushover")
}
