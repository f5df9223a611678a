// Package otp recovers one-time verification codes from out-of-band channels
// (a Gmail mailbox or a voip.ms SMS number) while a login flow is suspended
// on a second-factor challenge.
package otp

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/dvloznov/bank-sync/internal/logger"
)

// ErrTimedOut is returned when no matching code arrives within the retrieval
// deadline. Drivers propagate it as a login failure for the run.
var ErrTimedOut = errors.New("otp: code not found within timeout period")

// codePattern matches the default 6-digit verification code. Institutions
// with longer codes override it per request.
var codePattern = regexp.MustCompile(`\b\d{6}\b`)

const (
	defaultPollInterval = time.Second
	defaultTimeout      = 60 * time.Second

	// maxMessageAge guards against matching a stale code from an earlier
	// challenge in the same mailbox.
	maxMessageAge = 5 * time.Minute
)

// Criteria selects the message carrying the code. After is the lower bound
// on receipt time, normally the run's start time.
type Criteria struct {
	After   time.Time
	Sender  string
	Subject string
	// Pattern overrides the default 6-digit extraction, e.g. Rogers Bank
	// sends 8-digit codes.
	Pattern *regexp.Regexp
}

func (c Criteria) pattern() *regexp.Regexp {
	if c.Pattern != nil {
		return c.Pattern
	}
	return codePattern
}

// Channel is a blocking, single-flight code source. RetrieveCode suspends
// until a code is found or the deadline elapses with ErrTimedOut.
type Channel interface {
	RetrieveCode(ctx context.Context, criteria Criteria) (string, error)
}

// pollFunc makes one attempt. found=false means "not available yet, keep
// polling"; a non-nil error is a transient transport failure that is logged
// and retried. The two are deliberately distinct results so the loop never
// has to inspect error identity to decide whether to continue.
type pollFunc func(ctx context.Context) (code string, found bool, err error)

// retrieveWithPolling drives poll at a fixed interval under an overall
// deadline.
func retrieveWithPolling(ctx context.Context, interval, timeout time.Duration, poll pollFunc) (string, error) {
	log := logger.FromContext(ctx)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		code, found, err := poll(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Error polling for verification code")
		} else if found {
			return code, nil
		} else {
			log.Debug().Msg("Verification code not available yet, retrying...")
		}

		select {
		case <-ctx.Done():
			return "", ErrTimedOut
		case <-ticker.C:
		}
	}
}
