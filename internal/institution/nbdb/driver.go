// Package nbdb logs into the National Bank Direct Brokerage portal and
// scrapes account balances. The portal exposes no transaction feed worth
// importing, so the accounts drive balance reconciliation only.
package nbdb

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/dvloznov/bank-sync/internal/bank"
	"github.com/dvloznov/bank-sync/internal/institution"
	"github.com/dvloznov/bank-sync/internal/logger"
	"github.com/dvloznov/bank-sync/internal/otp"
)

const (
	loginURL   = "https://client.bnc.ca/nbdb/login"
	authnURL   = "https://api.bnc.ca/bnc/prod-okta/sso/api/v1/authn"
	summaryURL = "https://iiroc.investments.apis.bnc.ca/orion-api/v1/1/portfolios/summary"

	acceptCookiesButton = `button[aria-label='Accept' i]`
	userIDField         = `input[name='userId']`
	passwordField       = `input[name='password']`
	signInButton        = `button[aria-label='Sign in' i]`
	emailCodeLink       = `a[aria-label='Email' i]`
	codeField           = `input[aria-label='Verification code' i]`
	confirmButton       = `button[aria-label='Confirm' i]`

	codeSender  = "noreply@appbnc.ca"
	codeSubject = "Here's your verification code"
)

// Driver scrapes NBDB brokerage account balances.
type Driver struct {
	institution.Base
}

// Create launches a browser, logs in and scrapes the portfolio summary.
// Failures are routed through the shared error path; the returned driver
// then carries no accounts.
func Create(ctx context.Context, deps institution.Deps, userID, password string) *Driver {
	d := &Driver{Base: institution.NewBase(bank.NBDB, deps)}
	err := func() error {
		if err := d.Launch(ctx); err != nil {
			return err
		}
		if err := d.login(ctx, userID, password); err != nil {
			return err
		}
		return d.CloseBrowser(ctx, true)
	}()
	if err != nil {
		d.HandleError(ctx, err)
	}
	return d
}

func (d *Driver) login(ctx context.Context, userID, password string) error {
	s := d.Session()
	log := logger.FromContext(ctx)

	log.Debug().Msg("Navigating to NBDB login page")
	if err := s.Navigate(ctx, loginURL); err != nil {
		return err
	}

	log.Debug().Msg("Accepting cookies")
	if err := s.Click(ctx, acceptCookiesButton); err != nil {
		return err
	}

	log.Debug().Msg("Filling in user ID and password")
	// The user ID widget validates per keystroke and drops pasted input.
	if err := s.TypeSlowly(ctx, userIDField, userID); err != nil {
		return err
	}
	if err := s.Fill(ctx, passwordField, password); err != nil {
		return err
	}

	waitAuthn := s.WatchResponse(ctx, http.MethodPost, func(url string) bool {
		return url == authnURL
	})
	waitSummary := s.WatchResponse(ctx, http.MethodGet, func(url string) bool {
		return strings.HasPrefix(url, summaryURL)
	})
	if err := s.Click(ctx, signInButton); err != nil {
		return err
	}

	log.Debug().Msg("Waiting for authentication response")
	authn, err := waitAuthn()
	if err != nil {
		return err
	}
	otpRequired, err := parseAuthn(authn.Body)
	if err != nil {
		return err
	}

	if otpRequired {
		if err := d.passTwoFactor(ctx); err != nil {
			return err
		}
	}

	log.Debug().Msg("Waiting for portfolio summary response")
	summary, err := waitSummary()
	if err != nil {
		return err
	}
	accounts, err := parseSummary(summary.Body, d.Deps().Namespace)
	if err != nil {
		return err
	}

	log.Info().Int("accounts", len(accounts)).Msg("Fetched account balances")
	d.SetAccounts(accounts)
	return nil
}

func (d *Driver) passTwoFactor(ctx context.Context) error {
	s := d.Session()
	log := logger.FromContext(ctx)

	log.Debug().Msg("Two-factor authentication required")
	if err := s.Click(ctx, emailCodeLink); err != nil {
		return err
	}

	code, err := d.Deps().Codes.RetrieveCode(ctx, otp.Criteria{
		After:   d.Date(),
		Sender:  codeSender,
		Subject: codeSubject,
	})
	if err != nil {
		return fmt.Errorf("retrieve verification code: %w", err)
	}

	log.Debug().Msg("Filling in two-factor authentication code")
	if err := s.Fill(ctx, codeField, code); err != nil {
		return err
	}
	return s.Click(ctx, confirmButton)
}
