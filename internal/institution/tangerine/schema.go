package tangerine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/bank-sync/internal/bank"
)

// accountRow is the internal projection of one account from the accounts
// response. The native account number is a scratch field needed for the
// transactions query; it is stripped when projecting to bank.Account.
type accountRow struct {
	bank.Account
	number string
}

type rawAccount struct {
	Type           string      `json:"type"`
	Number         string      `json:"number"`
	AccountBalance json.Number `json:"account_balance"`
	DisplayName    string      `json:"display_name"`
	Description    string      `json:"description"`
}

type rawAccountsResponse struct {
	Accounts []rawAccount `json:"accounts"`
}

// parseAccounts decodes the accounts payload. Credit card balances are
// negated: the upstream reports the outstanding amount as a positive number,
// the ledger tracks credit cards as negative.
func parseAccounts(data []byte, namespace uuid.UUID) ([]accountRow, error) {
	var raw rawAccountsResponse
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse accounts: %w", err)
	}

	rows := make([]accountRow, 0, len(raw.Accounts))
	for _, account := range raw.Accounts {
		if account.Number == "" {
			return nil, fmt.Errorf("parse accounts: missing account number")
		}
		balance, err := account.AccountBalance.Float64()
		if err != nil {
			return nil, fmt.Errorf("parse account balance %q: %w", account.AccountBalance, err)
		}
		if account.Type == "CREDIT_CARD" {
			balance = -balance
		}
		rows = append(rows, accountRow{
			Account: bank.Account{
				ID:      bank.AccountID(namespace, account.Number),
				Name:    fmt.Sprintf("%s (%s)", account.Description, account.DisplayName),
				Balance: balance,
			},
			number: account.Number,
		})
	}
	return rows, nil
}

type rawTransaction struct {
	TransactionDate string      `json:"transaction_date"`
	PostedDate      string      `json:"posted_date"`
	Amount          json.Number `json:"amount"`
	Description     string      `json:"description"`
}

type rawTransactionsResponse struct {
	Transactions []rawTransaction `json:"transactions"`
}

// parseTransactions decodes the transactions payload. Credits are dated on
// the posted date, debits on the transaction date; the resulting date is
// taken in tz.
func parseTransactions(data []byte, tz *time.Location) ([]bank.Transaction, error) {
	var raw rawTransactionsResponse
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse transactions: %w", err)
	}

	txns := make([]bank.Transaction, 0, len(raw.Transactions))
	for _, txn := range raw.Transactions {
		amount, err := txn.Amount.Float64()
		if err != nil {
			return nil, fmt.Errorf("parse transaction amount %q: %w", txn.Amount, err)
		}
		value := txn.TransactionDate
		if amount > 0 {
			value = txn.PostedDate
		}
		date, err := parseTransactionDate(value, tz)
		if err != nil {
			return nil, err
		}
		txns = append(txns, bank.Transaction{
			Date:        date,
			Description: txn.Description,
			Amount:      amount,
		})
	}
	return txns, nil
}

// parseTransactionDate handles both offset-carrying and bare local
// timestamps, then truncates to the calendar date in tz.
func parseTransactionDate(value string, tz *time.Location) (time.Time, error) {
	when, err := time.Parse(time.RFC3339, value)
	if err != nil {
		when, err = time.ParseInLocation("2006-01-02T15:04:05", value, tz)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("parse transaction date %q: %w", value, err)
	}
	local := when.In(tz)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC), nil
}

type rawChallenge struct {
	MessageBody struct {
		Question string `json:"Question"`
	} `json:"MessageBody"`
}

// parseChallengeQuestion extracts the security question text from the
// displayChallengeQuestion response.
func parseChallengeQuestion(data []byte) (string, error) {
	var raw rawChallenge
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", fmt.Errorf("parse challenge question: %w", err)
	}
	if raw.MessageBody.Question == "" {
		return "", fmt.Errorf("parse challenge question: empty question")
	}
	return raw.MessageBody.Question, nil
}
