package tangerine

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/bank-sync/internal/bank"
)

var testNamespace = uuid.MustParse("f47ac10b-58cc-4372-a567-0e02b2c3d479")

func TestParseAccounts(t *testing.T) {
	data := []byte(`{
		"accounts": [
			{
				"type": "CHEQUING",
				"number": "3000012345",
				"account_balance": 1543.21,
				"display_name": "12345",
				"description": "Tangerine Chequing"
			},
			{
				"type": "CREDIT_CARD",
				"number": "4000054321",
				"account_balance": 812.40,
				"display_name": "54321",
				"description": "Money-Back Credit Card"
			}
		]
	}`)

	rows, err := parseAccounts(data, testNamespace)
	if err != nil {
		t.Fatalf("parseAccounts: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d accounts, want 2", len(rows))
	}

	chequing := rows[0]
	if chequing.Name != "Tangerine Chequing (12345)" {
		t.Errorf("name = %q, want %q", chequing.Name, "Tangerine Chequing (12345)")
	}
	if chequing.Balance != 1543.21 {
		t.Errorf("balance = %v, want 1543.21", chequing.Balance)
	}
	if chequing.number != "3000012345" {
		t.Errorf("number = %q, want 3000012345", chequing.number)
	}
	if want := bank.AccountID(testNamespace, "3000012345"); chequing.ID != want {
		t.Errorf("id = %q, want %q", chequing.ID, want)
	}

	card := rows[1]
	if card.Balance != -812.40 {
		t.Errorf("credit card balance = %v, want -812.40", card.Balance)
	}
}

func TestParseAccounts_MissingNumber(t *testing.T) {
	data := []byte(`{"accounts": [{"type": "SAVINGS", "account_balance": 1}]}`)
	if _, err := parseAccounts(data, testNamespace); err == nil {
		t.Error("expected error for account without a number")
	}
}

func TestParseTransactions(t *testing.T) {
	tz, err := time.LoadLocation("America/Vancouver")
	if err != nil {
		t.Fatal(err)
	}

	data := []byte(`{
		"transactions": [
			{
				"transaction_date": "2024-03-05T10:15:00-05:00",
				"posted_date": "2024-03-07T00:00:00-05:00",
				"amount": -45.50,
				"description": "GROCERY STORE"
			},
			{
				"transaction_date": "2024-03-04T09:00:00-05:00",
				"posted_date": "2024-03-06T02:30:00-05:00",
				"amount": 120,
				"description": "PAYROLL DEPOSIT"
			}
		]
	}`)

	txns, err := parseTransactions(data, tz)
	if err != nil {
		t.Fatalf("parseTransactions: %v", err)
	}
	if len(txns) != 2 {
		t.Fatalf("got %d transactions, want 2", len(txns))
	}

	// Debits keep the transaction date.
	debit := txns[0]
	if got := debit.Date.Format("2006-01-02"); got != "2024-03-05" {
		t.Errorf("debit date = %s, want 2024-03-05", got)
	}
	if debit.Amount != -45.50 {
		t.Errorf("debit amount = %v, want -45.50", debit.Amount)
	}

	// Credits take the posted date; 02:30 Eastern on the 6th is still the
	// 5th in Pacific time.
	credit := txns[1]
	if got := credit.Date.Format("2006-01-02"); got != "2024-03-05" {
		t.Errorf("credit date = %s, want 2024-03-05", got)
	}
}

func TestParseTransactions_BareLocalTimestamp(t *testing.T) {
	tz, err := time.LoadLocation("America/Toronto")
	if err != nil {
		t.Fatal(err)
	}

	data := []byte(`{
		"transactions": [
			{
				"transaction_date": "2024-03-05T00:00:00",
				"posted_date": "2024-03-06T00:00:00",
				"amount": -12.99,
				"description": "COFFEE"
			}
		]
	}`)

	txns, err := parseTransactions(data, tz)
	if err != nil {
		t.Fatalf("parseTransactions: %v", err)
	}
	if got := txns[0].Date.Format("2006-01-02"); got != "2024-03-05" {
		t.Errorf("date = %s, want 2024-03-05", got)
	}
}

func TestParseChallengeQuestion(t *testing.T) {
	question, err := parseChallengeQuestion([]byte(`{"MessageBody": {"Question": "What was your first pet's name?"}}`))
	if err != nil {
		t.Fatalf("parseChallengeQuestion: %v", err)
	}
	if question != "What was your first pet's name?" {
		t.Errorf("question = %q", question)
	}

	if _, err := parseChallengeQuestion([]byte(`{"MessageBody": {}}`)); err == nil {
		t.Error("expected error for missing question")
	}
	if _, err := parseChallengeQuestion([]byte(`not json`)); err == nil {
		t.Error("expected error for invalid payload")
	}
}
