package ledger

import "context"

// Account is a ledger-side account. The note field is free text the budget
// owner maintains; a scraped account is matched to it by ID substring.
type Account struct {
	ID      string
	Name    string
	Note    string
	Balance int64 // milliunits
	Closed  bool
	Deleted bool
}

// ClearedStatus is the clearing state a new transaction is written with.
type ClearedStatus string

const (
	Cleared    ClearedStatus = "cleared"
	Reconciled ClearedStatus = "reconciled"
)

// NewTransaction is a transaction to be written to the ledger. Amount is in
// milliunits and Date is an ISO date string. ImportID, when set, makes the
// write idempotent on the ledger side.
type NewTransaction struct {
	AccountID string
	Date      string
	Amount    int64
	PayeeName string
	Cleared   ClearedStatus
	Approved  bool
	ImportID  string
}

// Service is the ledger backend. One implementation talks to YNAB; tests
// substitute their own.
type Service interface {
	Accounts(ctx context.Context, budgetID string) ([]Account, error)
	CreateTransactions(ctx context.Context, budgetID string, txns []NewTransaction) (int, error)
}
