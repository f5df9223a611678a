package rogersbank

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/bank-sync/internal/bank"
)

// accountRow is the internal projection of the account detail response. The
// native account and customer identifiers are scratch fields needed to build
// the transactions URL; they are stripped when projecting to bank.Account.
type accountRow struct {
	bank.Account
	number     string
	customerID string
}

type rawAccountDetail struct {
	AccountID      string `json:"accountId"`
	ProductName    string `json:"productName"`
	CurrentBalance struct {
		Value json.Number `json:"value"`
	} `json:"currentBalance"`
	Customer struct {
		CustomerID string `json:"customerId"`
	} `json:"customer"`
}

// parseAccountDetail decodes the account detail payload. The balance is
// negated: the upstream reports the outstanding card balance as a positive
// number, the ledger tracks credit cards as negative.
func parseAccountDetail(data []byte, namespace uuid.UUID) (*accountRow, error) {
	var raw rawAccountDetail
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse account detail: %w", err)
	}
	if raw.AccountID == "" || raw.Customer.CustomerID == "" {
		return nil, fmt.Errorf("parse account detail: missing account or customer id")
	}
	balance, err := raw.CurrentBalance.Value.Float64()
	if err != nil {
		return nil, fmt.Errorf("parse account balance %q: %w", raw.CurrentBalance.Value, err)
	}

	return &accountRow{
		Account: bank.Account{
			ID:      bank.AccountID(namespace, raw.AccountID),
			Name:    fmt.Sprintf("%s (%s)", raw.ProductName, raw.AccountID),
			Balance: -balance,
		},
		number:     raw.AccountID,
		customerID: raw.Customer.CustomerID,
	}, nil
}

type rawActivity struct {
	Amount struct {
		Value json.Number `json:"value"`
	} `json:"amount"`
	Date           string `json:"date"`
	Time           string `json:"time"`
	ActivityType   string `json:"activityType"`
	ActivityStatus string `json:"activityStatus"`
	Merchant       struct {
		Name string `json:"name"`
	} `json:"merchant"`
}

type rawActivityResponse struct {
	Activities []rawActivity `json:"activities"`
}

// parseActivities decodes the transactions payload, keeping only approved
// posted transactions. Activity timestamps are reported in Eastern time;
// the resulting transaction date is taken in tz.
func parseActivities(data []byte, tz *time.Location) ([]bank.Transaction, error) {
	var raw rawActivityResponse
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse activities: %w", err)
	}

	eastern, err := time.LoadLocation("America/Toronto")
	if err != nil {
		return nil, fmt.Errorf("load activity timezone: %w", err)
	}

	txns := make([]bank.Transaction, 0, len(raw.Activities))
	for _, activity := range raw.Activities {
		if activity.ActivityType != "TRANS" || activity.ActivityStatus != "APPROVED" {
			continue
		}
		amount, err := activity.Amount.Value.Float64()
		if err != nil {
			return nil, fmt.Errorf("parse activity amount %q: %w", activity.Amount.Value, err)
		}
		when, err := time.ParseInLocation("2006-01-02 15:04:05", activity.Date+" "+activity.Time, eastern)
		if err != nil {
			return nil, fmt.Errorf("parse activity date %q %q: %w", activity.Date, activity.Time, err)
		}
		local := when.In(tz)
		txns = append(txns, bank.Transaction{
			Date:        time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC),
			Description: activity.Merchant.Name,
			Amount:      amount,
		})
	}
	return txns, nil
}

type rawAuthError struct {
	ErrorCode string `json:"errorCode"`
}

// isCaptchaLowScore reports whether an authentication failure body carries
// the reCAPTCHA low-score marker, the institution's automated-traffic
// suspicion signal.
func isCaptchaLowScore(body []byte) bool {
	var raw rawAuthError
	if err := json.Unmarshal(body, &raw); err != nil {
		return false
	}
	return raw.ErrorCode == "ERR_401_RECAPTCHA_LOW_SCORE"
}
