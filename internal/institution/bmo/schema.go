package bmo

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/bank-sync/internal/bank"
)

const (
	typeBankAccount = "BANK_ACCOUNT"
	typeCreditCard  = "CREDIT_CARD"
)

// accountRow is the internal projection of a summary account. The account
// index and product type drive the per-type transaction fetch; they are
// stripped when projecting to bank.Account.
type accountRow struct {
	bank.Account
	index int
	typ   string
}

type rawAccount struct {
	AccountNumber  string      `json:"accountNumber"`
	ProductName    string      `json:"productName"`
	AccountBalance json.Number `json:"accountBalance"`
	AccountIndex   int         `json:"accountIndex"`
	AccountType    string      `json:"accountType"`
}

// rawCategory covers both flat summary categories and the investments
// category, which nests one more level.
type rawCategory struct {
	CategoryName string        `json:"categoryName"`
	Products     []rawAccount  `json:"products"`
	Categories   []rawCategory `json:"categories"`
}

type rawSummary struct {
	Categories []rawCategory `json:"categories"`
}

// flattenSummary walks the category tree and projects every product into an
// accountRow. Credit card balances are negated: the portal reports the
// outstanding amount as positive, the ledger tracks it as negative.
func flattenSummary(summary rawSummary, namespace uuid.UUID) ([]accountRow, error) {
	var raws []rawAccount
	for _, category := range summary.Categories {
		raws = append(raws, category.Products...)
		if category.CategoryName == "IN" {
			for _, nested := range category.Categories {
				raws = append(raws, nested.Products...)
			}
		}
	}

	rows := make([]accountRow, 0, len(raws))
	for _, raw := range raws {
		balance, err := raw.AccountBalance.Float64()
		if err != nil {
			return nil, fmt.Errorf("parse balance %q for account %q: %w", raw.AccountBalance, raw.AccountNumber, err)
		}
		if raw.AccountType == typeCreditCard {
			balance = -balance
		}
		rows = append(rows, accountRow{
			Account: bank.Account{
				ID:      bank.AccountID(namespace, raw.AccountNumber),
				Name:    fmt.Sprintf("%s (%s)", raw.ProductName, raw.AccountNumber),
				Balance: balance,
			},
			index: raw.AccountIndex,
			typ:   raw.AccountType,
		})
	}
	return rows, nil
}

type rawVerifyCredential struct {
	VerifyCredentialRs struct {
		BodyRs struct {
			IsOTPSignIn string      `json:"isOTPSignIn"`
			MySummary   *rawSummary `json:"mySummary"`
		} `json:"BodyRs"`
	} `json:"VerifyCredentialRs"`
}

// parseVerifyCredential decodes the credential check response. When the sign
// in needs a one-time code the summary is absent and rows is nil.
func parseVerifyCredential(data []byte, namespace uuid.UUID) (rows []accountRow, otpRequired bool, err error) {
	var raw rawVerifyCredential
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, false, fmt.Errorf("parse verifyCredential response: %w", err)
	}
	body := raw.VerifyCredentialRs.BodyRs
	if body.MySummary != nil {
		rows, err = flattenSummary(*body.MySummary, namespace)
		if err != nil {
			return nil, false, err
		}
	}
	return rows, body.IsOTPSignIn == "Y", nil
}

type rawAuthenticate struct {
	AuthenticateRs struct {
		BodyRs struct {
			MySummary rawSummary `json:"mySummary"`
		} `json:"BodyRs"`
	} `json:"AuthenticateRs"`
}

func parseAuthenticate(data []byte, namespace uuid.UUID) ([]accountRow, error) {
	var raw rawAuthenticate
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse authenticate response: %w", err)
	}
	return flattenSummary(raw.AuthenticateRs.BodyRs.MySummary, namespace)
}

type rawSignOnOTP struct {
	SignOnOTPRs struct {
		BodyRs struct {
			DeviceBound bool `json:"deviceBound"`
		} `json:"BodyRs"`
	} `json:"SignOnOTPRs"`
}

// parseDeviceBound reports whether the code verification bound the browser
// profile as a trusted device.
func parseDeviceBound(data []byte) (bool, error) {
	var raw rawSignOnOTP
	if err := json.Unmarshal(data, &raw); err != nil {
		return false, fmt.Errorf("parse code verification response: %w", err)
	}
	return raw.SignOnOTPRs.BodyRs.DeviceBound, nil
}

var whitespace = regexp.MustCompile(`\s+`)

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

type rawBankTransaction struct {
	TxnDate   string `json:"txnDate"`
	Descr     string `json:"descr"`
	TxnAmount string `json:"txnAmount"`
}

type rawBankAccountDetails struct {
	GetBankAccountDetailsRs struct {
		BodyRs struct {
			BankAccountTransactions []rawBankTransaction `json:"bankAccountTransactions"`
		} `json:"BodyRs"`
	} `json:"GetBankAccountDetailsRs"`
}

// parseBankAccountTransactions decodes a chequing/savings transaction list.
// Deposit account amounts already carry their sign.
func parseBankAccountTransactions(data []byte) ([]bank.Transaction, error) {
	var raw rawBankAccountDetails
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse bank account details: %w", err)
	}

	rows := raw.GetBankAccountDetailsRs.BodyRs.BankAccountTransactions
	txns := make([]bank.Transaction, 0, len(rows))
	for _, row := range rows {
		date, err := time.Parse("2006-01-02", row.TxnDate)
		if err != nil {
			return nil, fmt.Errorf("parse transaction date %q: %w", row.TxnDate, err)
		}
		amount, err := strconv.ParseFloat(row.TxnAmount, 64)
		if err != nil {
			return nil, fmt.Errorf("parse transaction amount %q: %w", row.TxnAmount, err)
		}
		txns = append(txns, bank.Transaction{
			Date:        date,
			Description: collapseWhitespace(row.Descr),
			Amount:      amount,
		})
	}
	return txns, nil
}

type rawCreditCardTransaction struct {
	TxnDate      string      `json:"txnDate"`
	PostDate     string      `json:"postDate"`
	Descr        string      `json:"descr"`
	TxnIndicator string      `json:"txnIndicator"`
	Amount       json.Number `json:"amount"`
}

type rawCCAccountDetails struct {
	GetCCAccountDetailsRs struct {
		BodyRs struct {
			LendingTransactions []rawCreditCardTransaction `json:"lendingTransactions"`
			StatementDates      []string                   `json:"statementDates"`
		} `json:"BodyRs"`
	} `json:"GetCCAccountDetailsRs"`
}

// parseCreditCardTransactions decodes a credit card transaction list along
// with the available statement cycle dates. Rows without a post date are
// still pending and dropped. Credits keep their positive amount and use the
// post date; charges are negated and use the transaction date.
func parseCreditCardTransactions(data []byte) ([]bank.Transaction, []string, error) {
	var raw rawCCAccountDetails
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("parse credit card details: %w", err)
	}
	body := raw.GetCCAccountDetailsRs.BodyRs

	txns := make([]bank.Transaction, 0, len(body.LendingTransactions))
	for _, row := range body.LendingTransactions {
		if row.PostDate == "" {
			continue
		}
		amount, err := row.Amount.Float64()
		if err != nil {
			return nil, nil, fmt.Errorf("parse transaction amount %q: %w", row.Amount, err)
		}
		isCredit := row.TxnIndicator == "CR"
		dateStr := row.TxnDate
		if isCredit {
			dateStr = row.PostDate
		} else {
			amount = -amount
		}
		date, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			return nil, nil, fmt.Errorf("parse transaction date %q: %w", dateStr, err)
		}
		txns = append(txns, bank.Transaction{
			Date:        date,
			Description: collapseWhitespace(row.Descr),
			Amount:      amount,
		})
	}
	return txns, body.StatementDates, nil
}

// latestStatementDate returns the most recent of dates, or "" when there is
// no previous statement cycle.
func latestStatementDate(dates []string) string {
	latest := ""
	for _, date := range dates {
		if date > latest {
			latest = date
		}
	}
	return latest
}
