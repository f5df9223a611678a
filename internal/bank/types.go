package bank

import (
	"sort"
	"time"
)

// Institution identifies one supported banking website. The set is closed;
// adding a bank means adding a constant here plus a driver package under
// internal/institution.
type Institution string

const (
	BMO        Institution = "bmo"
	RogersBank Institution = "rogers-bank"
	NBDB       Institution = "nbdb"
	Tangerine  Institution = "tangerine"
)

// DisplayName returns the human-readable institution name used in
// notifications and log lines.
func (i Institution) DisplayName() string {
	switch i {
	case BMO:
		return "BMO"
	case RogersBank:
		return "Rogers Bank"
	case NBDB:
		return "NBDB"
	case Tangerine:
		return "Tangerine"
	}
	return string(i)
}

// Valid reports whether i names a supported institution.
func (i Institution) Valid() bool {
	switch i {
	case BMO, RogersBank, NBDB, Tangerine:
		return true
	}
	return false
}

// Transaction is one normalized transaction as returned by an institution
// driver. Amount is in major currency units with the sign already normalized:
// debits negative, credits positive (credit-card drivers flip the upstream
// sign before returning).
type Transaction struct {
	Date        time.Time // calendar date, time component zeroed
	Description string
	Amount      float64
}

// Account is one scraped account with its recent transactions. ID is the
// deterministic UUIDv5 of the institution's native account number (see
// AccountID) and is the key the reconciliation engine matches against the
// ledger account's note field.
type Account struct {
	ID           string
	Name         string
	Balance      float64
	Transactions []Transaction
}

// SortNewestFirst orders transactions by date descending, in place.
func SortNewestFirst(txns []Transaction) {
	sort.SliceStable(txns, func(i, j int) bool {
		return txns[i].Date.After(txns[j].Date)
	})
}

// FilterSince returns the transactions dated at or after from.
func FilterSince(txns []Transaction, from time.Time) []Transaction {
	out := make([]Transaction, 0, len(txns))
	for _, tx := range txns {
		if !tx.Date.Before(from) {
			out = append(out, tx)
		}
	}
	return out
}
