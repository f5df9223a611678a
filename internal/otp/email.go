package otp

import (
	"context"
	"time"

	"github.com/dvloznov/bank-sync/internal/logger"
)

// Message is one mailbox message candidate.
type Message struct {
	ID       string
	Received time.Time
	Body     string
}

// Mailbox abstracts the mail provider behind the email channel so the
// polling logic is testable without Gmail.
type Mailbox interface {
	// List returns the IDs of inbox messages from sender with the given
	// subject, newest first.
	List(ctx context.Context, sender, subject string) ([]string, error)
	// Get fetches one message with its body flattened to plain text.
	Get(ctx context.Context, id string) (*Message, error)
	// Delete removes a consumed message so its code is never matched twice.
	Delete(ctx context.Context, id string) error
}

// EmailChannel polls a Mailbox for a verification code.
type EmailChannel struct {
	mailbox Mailbox

	pollInterval time.Duration
	timeout      time.Duration
	now          func() time.Time
}

// NewEmailChannel creates an email-backed code channel.
func NewEmailChannel(mailbox Mailbox) *EmailChannel {
	return &EmailChannel{
		mailbox:      mailbox,
		pollInterval: defaultPollInterval,
		timeout:      defaultTimeout,
		now:          time.Now,
	}
}

// RetrieveCode polls the mailbox until a message matching criteria contains
// a code, then best-effort deletes the message and returns the code.
func (c *EmailChannel) RetrieveCode(ctx context.Context, criteria Criteria) (string, error) {
	return retrieveWithPolling(ctx, c.pollInterval, c.timeout, func(ctx context.Context) (string, bool, error) {
		return c.poll(ctx, criteria)
	})
}

func (c *EmailChannel) poll(ctx context.Context, criteria Criteria) (string, bool, error) {
	log := logger.FromContext(ctx)
	log.Debug().Str("sender", criteria.Sender).Msg("Fetching emails from inbox")

	ids, err := c.mailbox.List(ctx, criteria.Sender, criteria.Subject)
	if err != nil {
		return "", false, err
	}
	if len(ids) == 0 {
		return "", false, nil
	}

	pattern := criteria.pattern()

	for _, id := range ids {
		msg, err := c.mailbox.Get(ctx, id)
		if err != nil {
			return "", false, err
		}

		if msg.Received.Before(criteria.After) {
			continue
		}
		if c.now().Sub(msg.Received) > maxMessageAge {
			log.Debug().Str("message_id", id).Msg("Email is older than the maximum age, skipping")
			continue
		}

		code := pattern.FindString(msg.Body)
		if code == "" {
			continue
		}

		log.Debug().Str("message_id", id).Msg("Found verification code, deleting email")
		if err := c.mailbox.Delete(ctx, id); err != nil {
			// A stale message is an inconvenience, not a failure.
			log.Error().Err(err).Str("message_id", id).Msg("Failed to delete email")
		}
		return code, true, nil
	}

	return "", false, nil
}
