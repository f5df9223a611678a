package bank

import (
	"github.com/google/uuid"
)

// AccountID derives the stable account identifier from an institution's
// native account number. It is a name-based UUID (v5 over SHA-1) in the
// configured namespace, so the same number always produces the same ID and
// distinct numbers collide with negligible probability. The ledger account
// that should receive this account's transactions carries the ID in its
// note field.
func AccountID(namespace uuid.UUID, accountNumber string) string {
	return uuid.NewSHA1(namespace, []byte(accountNumber)).String()
}
