// Package tangerine logs into the Tangerine web app and scrapes every
// account with its recent transactions. The second factor is an SMS code;
// logins from a fresh profile may also face a security question answered
// from configuration.
package tangerine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dvloznov/bank-sync/internal/bank"
	"github.com/dvloznov/bank-sync/internal/institution"
	"github.com/dvloznov/bank-sync/internal/logger"
	"github.com/dvloznov/bank-sync/internal/otp"
)

const (
	loginURL        = "https://www.tangerine.ca/app/#/login/login-id?locale=en_CA"
	accountsURL     = "https://secure.tangerine.ca/web/rest/pfm/v1/accounts"
	transactionsURL = "https://secure.tangerine.ca/web/rest/pfm/v1/transactions"

	accountsPageURL     = "https://www.tangerine.ca/app/#/accounts?locale=en_CA"
	twoFactorPageURL    = "https://www.tangerine.ca/app/#/login/two-factor-authentication?locale=en_CA"
	securityCodePageURL = "https://www.tangerine.ca/app/#/login/security-code?locale=en_CA"

	acceptCookiesButton = `#onetrust-accept-btn-handler`
	loginIDField        = `input[aria-label='Login ID' i]`
	nextButton          = `button[aria-label='Next' i]`
	answerField         = `input[aria-label='Answer' i]`
	pinField            = `input[aria-label='PIN' i]`
	logInButton         = `button[aria-label='Log In' i]`
	securityCodeField   = `input[aria-label='Security Code' i]`
)

// Driver scrapes the Tangerine accounts and their recent transactions.
type Driver struct {
	institution.Base
	securityAnswers map[string]string
}

// Create launches a browser, logs in and scrapes the accounts. Failures are
// routed through the shared error path; the returned driver then carries no
// accounts. securityAnswers maps the login security questions to their
// configured answers.
func Create(ctx context.Context, deps institution.Deps, loginID, pin string, securityAnswers map[string]string) *Driver {
	d := &Driver{
		Base:            institution.NewBase(bank.Tangerine, deps),
		securityAnswers: securityAnswers,
	}
	err := func() error {
		if err := d.Launch(ctx); err != nil {
			return err
		}
		if err := d.login(ctx, loginID, pin); err != nil {
			return err
		}
		return d.CloseBrowser(ctx, true)
	}()
	if err != nil {
		d.HandleError(ctx, err)
	}
	return d
}

func (d *Driver) login(ctx context.Context, loginID, pin string) error {
	s := d.Session()
	log := logger.FromContext(ctx)

	log.Debug().Msg("Navigating to Tangerine login page")
	if err := s.Navigate(ctx, loginURL); err != nil {
		return err
	}

	log.Debug().Msg("Accepting cookies")
	if err := s.Click(ctx, acceptCookiesButton); err != nil {
		return err
	}

	log.Debug().Msg("Filling in login ID")
	if err := s.Fill(ctx, loginIDField, loginID); err != nil {
		return err
	}

	// The app replies with displayChallengeQuestion instead of displayPIN
	// when the profile is unrecognized.
	waitChallenge := s.WatchResponse(ctx, http.MethodGet, func(url string) bool {
		return strings.HasSuffix(url, "displayPIN") || strings.HasSuffix(url, "displayChallengeQuestion")
	})
	if err := s.Click(ctx, nextButton); err != nil {
		return err
	}

	log.Debug().Msg("Waiting for login step response")
	challenge, err := waitChallenge()
	if err != nil {
		return err
	}

	if strings.HasSuffix(challenge.URL, "displayChallengeQuestion") {
		if err := d.answerSecurityQuestion(ctx, challenge.Body); err != nil {
			return err
		}
	}

	log.Debug().Msg("Filling in PIN")
	if err := s.Fill(ctx, pinField, pin); err != nil {
		return err
	}

	waitAccounts := s.WatchResponse(ctx, http.MethodGet, func(url string) bool {
		return url == accountsURL
	})
	if err := s.Click(ctx, logInButton); err != nil {
		return err
	}

	landing, err := s.WaitLocation(ctx, func(url string) bool {
		return url == accountsPageURL || url == twoFactorPageURL || url == securityCodePageURL
	})
	if err != nil {
		return err
	}

	if landing == twoFactorPageURL || landing == securityCodePageURL {
		if err := d.passTwoFactor(ctx); err != nil {
			return err
		}
	}

	log.Debug().Msg("Waiting for accounts response")
	resp, err := waitAccounts()
	if err != nil {
		return err
	}
	rows, err := parseAccounts(resp.Body, d.Deps().Namespace)
	if err != nil {
		return err
	}
	log.Debug().Int("accounts", len(rows)).Msg("Fetched accounts")

	cookie, err := s.CookieHeader(ctx)
	if err != nil {
		return err
	}

	accounts := make([]bank.Account, 0, len(rows))
	for _, row := range rows {
		txns, err := d.fetchTransactions(ctx, row, cookie)
		if err != nil {
			return err
		}
		account := row.Account
		account.Transactions = txns
		accounts = append(accounts, account)
	}
	d.SetAccounts(accounts)
	return nil
}

func (d *Driver) answerSecurityQuestion(ctx context.Context, body []byte) error {
	s := d.Session()
	log := logger.FromContext(ctx)

	question, err := parseChallengeQuestion(body)
	if err != nil {
		return err
	}
	answer, ok := d.securityAnswers[question]
	if !ok {
		return fmt.Errorf("security question not found: %q", question)
	}

	log.Debug().Msg("Filling in security question answer")
	if err := s.Fill(ctx, answerField, answer); err != nil {
		return err
	}
	return s.Click(ctx, nextButton)
}

func (d *Driver) passTwoFactor(ctx context.Context) error {
	s := d.Session()
	log := logger.FromContext(ctx)

	log.Debug().Msg("Two-factor authentication required")
	code, err := d.Deps().Codes.RetrieveCode(ctx, otp.Criteria{
		After: d.Date(),
	})
	if err != nil {
		return fmt.Errorf("retrieve verification code: %w", err)
	}

	log.Debug().Msg("Filling in two-factor authentication code")
	if err := s.Fill(ctx, securityCodeField, code); err != nil {
		return err
	}
	return s.Click(ctx, logInButton)
}

// fetchTransactions replays the app's transactions call over plain HTTP with
// the browser's cookies and an explicit lookback start. The result is
// re-filtered to the lookback window regardless of what the API honored.
func (d *Driver) fetchTransactions(ctx context.Context, row accountRow, cookie string) ([]bank.Transaction, error) {
	log := logger.FromContext(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, transactionsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build transactions request: %w", err)
	}
	req.Header.Set("Cookie", cookie)
	query := req.URL.Query()
	query.Set("accountIdentifiers", row.number)
	query.Set("hideAuthorizedStatus", "true")
	query.Set("periodFrom", institution.LookbackStart(d.Date()).Format("2006-01-02"))
	req.URL.RawQuery = query.Encode()

	res, err := d.Deps().HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch transactions: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch transactions: unexpected status %d", res.StatusCode)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read transactions response: %w", err)
	}

	txns, err := parseTransactions(body, d.Deps().Timezone)
	if err != nil {
		return nil, err
	}
	txns = institution.WithinLookback(txns, d.Date())
	log.Info().Int("transactions", len(txns)).Str("account", row.Name).Msg("Fetched transactions")
	return txns, nil
}
