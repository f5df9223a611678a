package ledger

import (
	"context"
	"fmt"

	"github.com/brunomvsouza/ynab.go"
	"github.com/brunomvsouza/ynab.go/api"
	"github.com/brunomvsouza/ynab.go/api/account"
	"github.com/brunomvsouza/ynab.go/api/transaction"
)

// ynabService implements Service on top of the YNAB API client.
type ynabService struct {
	client ynab.ClientServicer
}

// NewService returns a Service backed by the YNAB API.
func NewService(accessToken string) Service {
	return &ynabService{client: ynab.NewClient(accessToken)}
}

func (s *ynabService) Accounts(_ context.Context, budgetID string) ([]Account, error) {
	snapshot, err := s.client.Account().GetAccounts(budgetID, nil)
	if err != nil {
		return nil, fmt.Errorf("get ledger accounts: %w", err)
	}

	accounts := make([]Account, 0, len(snapshot.Accounts))
	for _, raw := range snapshot.Accounts {
		accounts = append(accounts, fromAccount(raw))
	}
	return accounts, nil
}

func fromAccount(raw *account.Account) Account {
	note := ""
	if raw.Note != nil {
		note = *raw.Note
	}
	return Account{
		ID:      raw.ID,
		Name:    raw.Name,
		Note:    note,
		Balance: raw.Balance,
		Closed:  raw.Closed,
		Deleted: raw.Deleted,
	}
}

func (s *ynabService) CreateTransactions(_ context.Context, budgetID string, txns []NewTransaction) (int, error) {
	payloads := make([]transaction.PayloadTransaction, 0, len(txns))
	for _, txn := range txns {
		date, err := api.DateFromString(txn.Date)
		if err != nil {
			return 0, fmt.Errorf("parse transaction date %q: %w", txn.Date, err)
		}
		cleared := transaction.ClearingStatusCleared
		if txn.Cleared == Reconciled {
			cleared = transaction.ClearingStatusReconciled
		}
		payload := transaction.PayloadTransaction{
			AccountID: txn.AccountID,
			Date:      date,
			Amount:    txn.Amount,
			PayeeName: ptr(txn.PayeeName),
			Cleared:   cleared,
			Approved:  txn.Approved,
		}
		if txn.ImportID != "" {
			payload.ImportID = ptr(txn.ImportID)
		}
		payloads = append(payloads, payload)
	}

	summary, err := s.client.Transaction().CreateTransactions(budgetID, payloads)
	if err != nil {
		return 0, fmt.Errorf("create ledger transactions: %w", err)
	}
	return len(summary.Transactions), nil
}

func ptr(s string) *string {
	return &s
}
