// Package bmo logs into BMO Online Banking and scrapes every account on the
// summary with its recent transactions.
package bmo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dvloznov/bank-sync/internal/bank"
	"github.com/dvloznov/bank-sync/internal/institution"
	"github.com/dvloznov/bank-sync/internal/logger"
	"github.com/dvloznov/bank-sync/internal/otp"
)

const (
	loginURL              = "https://www1.bmo.com/banking/digital/login"
	verifyCredentialURL   = "https://www1.bmo.com/banking/services/signin/verifyCredential"
	authenticateURL       = "https://www1.bmo.com/banking/services/signin/authenticate"
	authSvcPrefix         = "https://www1.bmo.com/aac/sps/authsvc"
	bankAccountDetailsURL = "https://www1.bmo.com/banking/services/accountdetails/getBankAccountDetails"
	ccAccountDetailsURL   = "https://www1.bmo.com/banking/services/accountdetails/getCCAccountDetails"

	cardNumberField = `input[name='cardNumber']`
	passwordField   = `input[name='password']`
	signInButton    = `button[aria-label='Sign in' i]`
	nextButton      = `button[aria-label='Next' i]`
	emailCodeRadio  = `input[type='radio'][value='EMAIL' i]`
	doNotShareBox   = `input[type='checkbox'][name='doNotShare']`
	sendCodeButton  = `button[aria-label='Send code' i]`
	codeField       = `input[aria-label='Verification code' i]`
	confirmButton   = `button[aria-label='Confirm' i]`
	continueButton  = `button[aria-label='Continue' i]`

	codeSender  = "bmoalerts@bmo.com"
	codeSubject = "BMO Verification Code"

	// The portal caps transaction history requests; one page is plenty for
	// a lookback window.
	transactionLimit = "1500"
)

// Driver scrapes BMO Online Banking accounts.
type Driver struct {
	institution.Base
}

// Create launches a browser, logs in with the card number and password and
// scrapes every summary account. Failures are routed through the shared
// error path; the returned driver then carries no accounts.
func Create(ctx context.Context, deps institution.Deps, cardNumber, password string) *Driver {
	d := &Driver{Base: institution.NewBase(bank.BMO, deps)}
	err := func() error {
		if err := d.Launch(ctx); err != nil {
			return err
		}
		if err := d.login(ctx, cardNumber, password); err != nil {
			return err
		}
		return d.CloseBrowser(ctx, true)
	}()
	if err != nil {
		d.HandleError(ctx, err)
	}
	return d
}

func (d *Driver) login(ctx context.Context, cardNumber, password string) error {
	s := d.Session()
	log := logger.FromContext(ctx)

	log.Debug().Msg("Navigating to BMO login page")
	if err := s.Navigate(ctx, loginURL); err != nil {
		return err
	}

	log.Debug().Msg("Filling in card number and password")
	// The card number widget validates per keystroke and drops pasted input.
	if err := s.TypeSlowly(ctx, cardNumberField, cardNumber); err != nil {
		return err
	}
	if err := s.Fill(ctx, passwordField, password); err != nil {
		return err
	}

	waitVerifyCredential := s.WatchResponse(ctx, http.MethodPost, func(url string) bool {
		return url == verifyCredentialURL
	})
	if err := s.Click(ctx, signInButton); err != nil {
		return err
	}

	log.Debug().Msg("Waiting for credential check response")
	resp, err := waitVerifyCredential()
	if err != nil {
		return err
	}
	accounts, otpRequired, err := parseVerifyCredential(resp.Body, d.Deps().Namespace)
	if err != nil {
		return err
	}

	if otpRequired {
		accounts, err = d.passTwoFactor(ctx)
		if err != nil {
			return err
		}
	}

	return d.processAccounts(ctx, accounts)
}

// passTwoFactor walks the one-time code flow and returns the account summary
// from the authenticate response that completes it.
func (d *Driver) passTwoFactor(ctx context.Context) ([]accountRow, error) {
	s := d.Session()
	log := logger.FromContext(ctx)

	log.Debug().Msg("Two-factor authentication required")
	if err := s.Click(ctx, nextButton); err != nil {
		return nil, err
	}
	if err := s.Click(ctx, emailCodeRadio); err != nil {
		return nil, err
	}
	if err := s.Click(ctx, doNotShareBox); err != nil {
		return nil, err
	}
	if err := s.Click(ctx, sendCodeButton); err != nil {
		return nil, err
	}

	code, err := d.Deps().Codes.RetrieveCode(ctx, otp.Criteria{
		After:   d.Date(),
		Sender:  codeSender,
		Subject: codeSubject,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve verification code: %w", err)
	}

	log.Debug().Msg("Filling in two-factor authentication code")
	if err := s.Fill(ctx, codeField, code); err != nil {
		return nil, err
	}

	waitVerify := s.WatchResponse(ctx, http.MethodPost, func(url string) bool {
		return strings.HasPrefix(url, authSvcPrefix) && strings.HasSuffix(url, "&operation=verify")
	})
	waitAuthenticate := s.WatchResponse(ctx, http.MethodPost, func(url string) bool {
		return url == authenticateURL
	})
	if err := s.Click(ctx, confirmButton); err != nil {
		return nil, err
	}

	log.Debug().Msg("Waiting for code verification response")
	verifyResp, err := waitVerify()
	if err != nil {
		return nil, err
	}
	deviceBound, err := parseDeviceBound(verifyResp.Body)
	if err != nil {
		return nil, err
	}
	if !deviceBound {
		if err := s.Click(ctx, continueButton); err != nil {
			return nil, err
		}
	}

	log.Debug().Msg("Waiting for authentication response")
	authResp, err := waitAuthenticate()
	if err != nil {
		return nil, err
	}
	return parseAuthenticate(authResp.Body, d.Deps().Namespace)
}

// processAccounts fetches transactions for every summary account
// concurrently, then records the public projections.
func (d *Driver) processAccounts(ctx context.Context, rows []accountRow) error {
	if rows == nil {
		return nil
	}

	accounts := make([]bank.Account, len(rows))
	g, gctx := errgroup.WithContext(ctx)
	for i, row := range rows {
		g.Go(func() error {
			txns, err := d.fetchTransactions(gctx, row)
			if err != nil {
				return err
			}
			account := row.Account
			account.Transactions = txns
			accounts[i] = account
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	d.SetAccounts(accounts)
	return nil
}

func (d *Driver) fetchTransactions(ctx context.Context, row accountRow) ([]bank.Transaction, error) {
	log := logger.FromContext(ctx)

	var txns []bank.Transaction
	switch row.typ {
	case typeBankAccount:
		log.Debug().Str("account", row.Name).Msg("Fetching bank account transactions")
		body, err := d.postAccountDetails(ctx, bankAccountDetailsURL, map[string]interface{}{
			"accountIndex":   row.index,
			"limitNoTxns":    transactionLimit,
			"filterFromDate": institution.LookbackStart(d.Date()).Format("2006-01-02"),
			"filterToDate":   d.Date().Format("2006-01-02"),
		})
		if err != nil {
			return nil, err
		}
		txns, err = parseBankAccountTransactions(body)
		if err != nil {
			return nil, err
		}
	case typeCreditCard:
		var err error
		txns, err = d.fetchCreditCardTransactions(ctx, row)
		if err != nil {
			return nil, err
		}
	default:
		return nil, nil
	}

	txns = institution.WithinLookback(txns, d.Date())
	log.Info().Int("transactions", len(txns)).Str("account", row.Name).Msg("Fetched transactions")
	return txns, nil
}

// fetchCreditCardTransactions merges the unbilled cycle with the most recent
// statement cycle so a lookback window that straddles a statement date still
// sees every transaction.
func (d *Driver) fetchCreditCardTransactions(ctx context.Context, row accountRow) ([]bank.Transaction, error) {
	log := logger.FromContext(ctx)
	log.Debug().Str("account", row.Name).Msg("Fetching credit card transactions")

	body, err := d.postAccountDetails(ctx, ccAccountDetailsURL, map[string]interface{}{
		"accountIndex": row.index,
		"limitNoTxns":  transactionLimit,
		"filter":       "unbilled",
	})
	if err != nil {
		return nil, err
	}
	txns, statementDates, err := parseCreditCardTransactions(body)
	if err != nil {
		return nil, err
	}

	if previous := latestStatementDate(statementDates); previous != "" {
		body, err := d.postAccountDetails(ctx, ccAccountDetailsURL, map[string]interface{}{
			"accountIndex": row.index,
			"limitNoTxns":  transactionLimit,
			"filter":       previous,
		})
		if err != nil {
			return nil, err
		}
		previousTxns, _, err := parseCreditCardTransactions(body)
		if err != nil {
			return nil, err
		}
		txns = append(txns, previousTxns...)
	}
	return txns, nil
}

// postAccountDetails issues an account details call outside the browser,
// reusing the browser session's cookies and anti-forgery token.
func (d *Driver) postAccountDetails(ctx context.Context, url string, bodyRq map[string]interface{}) ([]byte, error) {
	s := d.Session()

	headers, err := d.generateRequestHeaders(ctx)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(map[string]interface{}{
		"MySummaryRq": map[string]interface{}{
			"HdrRq":  headers,
			"BodyRq": bodyRq,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode account details request: %w", err)
	}

	xsrfToken, err := s.Cookie(ctx, "XSRF-TOKEN")
	if err != nil {
		return nil, err
	}
	cookieHeader, err := s.CookieHeader(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build account details request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-XSRF-TOKEN", xsrfToken)
	req.Header.Set("Cookie", cookieHeader)

	res, err := d.Deps().HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch account details: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch account details: unexpected status %d", res.StatusCode)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read account details response: %w", err)
	}
	return body, nil
}

// generateRequestHeaders builds the HdrRq envelope the account details
// services expect. The device token comes from the browser's PMData cookie
// so the call is attributed to the trusted device.
func (d *Driver) generateRequestHeaders(ctx context.Context) (map[string]string, error) {
	s := d.Session()

	var userAgent string
	if err := s.Evaluate(ctx, "navigator.userAgent", &userAgent); err != nil {
		return nil, err
	}
	deviceToken, err := s.Cookie(ctx, "PMData")
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"ver":             "1.0",
		"channelType":     "OLB",
		"appName":         "OLB",
		"hostName":        "BDBN-HostName",
		"clientDate":      time.Now().UTC().Format("2006-01-02T15:04:05.000"),
		"rqUID":           requestID(),
		"clientSessionID": "session-id",
		"userAgent":       userAgent,
		"clientIP":        "127.0.0.1",
		"mfaDeviceToken":  deviceToken,
	}, nil
}

func requestID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "REQ_" + id[:20]
}
