// Package ledger reconciles scraped bank data into a YNAB budget:
// transaction imports keyed for idempotency and balance adjustments for
// accounts that only report a total.
package ledger

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dvloznov/bank-sync/internal/bank"
	"github.com/dvloznov/bank-sync/internal/logger"
)

// adjustmentPayee names the synthetic transaction that trues up a ledger
// balance against the scraped one.
const adjustmentPayee = "Automatic Balance Adjustment"

// Importer writes scraped accounts into one budget.
type Importer struct {
	svc      Service
	budgetID string
	timezone *time.Location
	now      func() time.Time
}

// NewImporter returns an Importer for budgetID. Adjustment transactions are
// dated in tz.
func NewImporter(svc Service, budgetID string, tz *time.Location) *Importer {
	return &Importer{svc: svc, budgetID: budgetID, timezone: tz, now: time.Now}
}

// ImportTransactions writes every matched account's transactions to the
// ledger. Replays are safe: each transaction carries an import ID derived
// from its amount, date and same-day ordinal, and the ledger drops
// duplicates. Accounts without a ledger match are skipped silently.
func (i *Importer) ImportTransactions(ctx context.Context, accounts []bank.Account) error {
	log := logger.FromContext(ctx)
	log.Debug().Msg("Importing transactions to ledger")

	hasTransactions := false
	for _, account := range accounts {
		if len(account.Transactions) > 0 {
			hasTransactions = true
			break
		}
	}
	if !hasTransactions {
		log.Info().Int("transactions", 0).Msg("Imported transactions")
		return nil
	}

	ledgerAccounts, err := i.liveAccounts(ctx)
	if err != nil {
		return err
	}

	now := i.now()
	fiveYearsAgo := now.AddDate(-5, 0, 0)
	counters := make(map[string]int)

	var toImport []NewTransaction
	for _, account := range accounts {
		if len(account.Transactions) == 0 {
			continue
		}
		matched, ok := matchAccount(ledgerAccounts, account.ID)
		if !ok {
			log.Debug().Str("account", account.Name).Msg("No ledger account matched, skipping")
			continue
		}

		for _, txn := range account.Transactions {
			if txn.Date.After(now) || txn.Date.Before(fiveYearsAgo) {
				continue
			}
			amount := milliunits(txn.Amount)
			date := txn.Date.Format("2006-01-02")

			key := fmt.Sprintf("%s:%d:%s", matched.ID, amount, date)
			counters[key]++

			toImport = append(toImport, NewTransaction{
				AccountID: matched.ID,
				Date:      date,
				Amount:    amount,
				PayeeName: txn.Description,
				Cleared:   Cleared,
				ImportID:  fmt.Sprintf("YNAB:%d:%s:%d", amount, date, counters[key]),
			})
		}
	}

	if len(toImport) == 0 {
		log.Info().Int("transactions", 0).Msg("Imported transactions")
		return nil
	}

	created, err := i.svc.CreateTransactions(ctx, i.budgetID, toImport)
	if err != nil {
		return err
	}
	log.Info().Int("transactions", created).Msg("Imported transactions")
	return nil
}

// UpdateAccountBalances trues up each matched ledger account with a
// reconciled adjustment transaction covering the difference between the
// scraped balance and the ledger balance. A zero difference writes nothing.
// The institution labels the log lines; balances from different institutions
// are reconciled in separate runs.
func (i *Importer) UpdateAccountBalances(ctx context.Context, accounts []bank.Account, institution bank.Institution) error {
	log := logger.FromContext(ctx)
	log.Debug().Str("institution", institution.DisplayName()).Msg("Updating ledger account balances")

	ledgerAccounts, err := i.liveAccounts(ctx)
	if err != nil {
		return err
	}

	today := i.now().In(i.timezone).Format("2006-01-02")

	var adjustments []NewTransaction
	for _, account := range accounts {
		matched, ok := matchAccount(ledgerAccounts, account.ID)
		if !ok {
			log.Debug().Str("account", account.Name).Msg("No ledger account matched, skipping")
			continue
		}

		delta := milliunits(account.Balance) - matched.Balance
		if delta == 0 {
			log.Debug().Str("account", matched.Name).Msg("Balance already matches, skipping")
			continue
		}

		adjustments = append(adjustments, NewTransaction{
			AccountID: matched.ID,
			Date:      today,
			Amount:    delta,
			PayeeName: adjustmentPayee,
			Cleared:   Reconciled,
			Approved:  true,
		})
	}

	if len(adjustments) == 0 {
		log.Info().Int("adjustments", 0).Str("institution", institution.DisplayName()).Msg("Updated account balances")
		return nil
	}

	created, err := i.svc.CreateTransactions(ctx, i.budgetID, adjustments)
	if err != nil {
		return err
	}
	log.Info().Int("adjustments", created).Str("institution", institution.DisplayName()).Msg("Updated account balances")
	return nil
}

func (i *Importer) liveAccounts(ctx context.Context) ([]Account, error) {
	accounts, err := i.svc.Accounts(ctx, i.budgetID)
	if err != nil {
		return nil, err
	}
	live := accounts[:0:0]
	for _, account := range accounts {
		if !account.Deleted {
			live = append(live, account)
		}
	}
	return live, nil
}

// matchAccount finds the ledger account whose note mentions the scraped
// account's ID.
func matchAccount(accounts []Account, bankAccountID string) (Account, bool) {
	for _, account := range accounts {
		if strings.Contains(account.Note, bankAccountID) {
			return account, true
		}
	}
	return Account{}, false
}

func milliunits(amount float64) int64 {
	return int64(math.Round(amount * 1000))
}
