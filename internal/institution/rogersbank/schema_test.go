package rogersbank

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

var testNamespace = uuid.MustParse("f47ac10b-58cc-4372-a567-0e02b2c3d479")

func TestParseAccountDetail(t *testing.T) {
	data := []byte(`{
		"accountId": "12345678",
		"productName": "Rogers World Elite Mastercard",
		"currentBalance": {"value": "1234.56"},
		"customer": {"customerId": "987654"}
	}`)

	row, err := parseAccountDetail(data, testNamespace)
	if err != nil {
		t.Fatalf("parseAccountDetail: %v", err)
	}

	if want := "Rogers World Elite Mastercard (12345678)"; row.Name != want {
		t.Errorf("name = %q, want %q", row.Name, want)
	}
	if row.Balance != -1234.56 {
		t.Errorf("balance = %v, want -1234.56 (outstanding balance negated)", row.Balance)
	}
	if row.number != "12345678" || row.customerID != "987654" {
		t.Errorf("scratch fields = (%q, %q), want (12345678, 987654)", row.number, row.customerID)
	}
	if row.ID != uuid.NewSHA1(testNamespace, []byte("12345678")).String() {
		t.Errorf("id = %q not derived from account number", row.ID)
	}

	// Public projection must not leak native identifiers.
	account := row.Account
	if account.Name == "" || account.ID == "" {
		t.Error("projected account missing name or id")
	}
}

func TestParseAccountDetail_NumericBalance(t *testing.T) {
	// The API is inconsistent about quoting numbers.
	data := []byte(`{
		"accountId": "1",
		"productName": "Card",
		"currentBalance": {"value": 10.5},
		"customer": {"customerId": "2"}
	}`)
	row, err := parseAccountDetail(data, testNamespace)
	if err != nil {
		t.Fatalf("parseAccountDetail: %v", err)
	}
	if row.Balance != -10.5 {
		t.Errorf("balance = %v, want -10.5", row.Balance)
	}
}

func TestParseAccountDetail_MissingIDs(t *testing.T) {
	if _, err := parseAccountDetail([]byte(`{"productName":"Card"}`), testNamespace); err == nil {
		t.Error("expected error for missing identifiers")
	}
}

func TestParseActivities(t *testing.T) {
	data := []byte(`{"activities": [
		{"amount": {"value": "12.99"}, "date": "2024-03-05", "time": "14:30:00",
		 "activityType": "TRANS", "activityStatus": "APPROVED",
		 "merchant": {"name": "COFFEE SHOP"}},
		{"amount": {"value": "50.00"}, "date": "2024-03-06", "time": "09:00:00",
		 "activityType": "TRANS", "activityStatus": "PENDING",
		 "merchant": {"name": "PENDING STORE"}},
		{"amount": {"value": "5.00"}, "date": "2024-03-06", "time": "09:00:00",
		 "activityType": "FEE", "activityStatus": "APPROVED",
		 "merchant": {"name": "ANNUAL FEE"}}
	]}`)

	txns, err := parseActivities(data, time.UTC)
	if err != nil {
		t.Fatalf("parseActivities: %v", err)
	}
	if len(txns) != 1 {
		t.Fatalf("got %d transactions, want 1 (pending and non-TRANS rows dropped)", len(txns))
	}
	if txns[0].Description != "COFFEE SHOP" {
		t.Errorf("description = %q, want COFFEE SHOP", txns[0].Description)
	}
	if txns[0].Amount != 12.99 {
		t.Errorf("amount = %v, want 12.99", txns[0].Amount)
	}
	// 14:30 Eastern on 2024-03-05 is still 2024-03-05 in UTC.
	if got := txns[0].Date.Format("2006-01-02"); got != "2024-03-05" {
		t.Errorf("date = %s, want 2024-03-05", got)
	}
}

func TestParseActivities_EasternDateRollover(t *testing.T) {
	// 23:30 Eastern is already the next day in UTC.
	data := []byte(`{"activities": [
		{"amount": {"value": "1.00"}, "date": "2024-03-05", "time": "23:30:00",
		 "activityType": "TRANS", "activityStatus": "APPROVED",
		 "merchant": {"name": "LATE NIGHT"}}
	]}`)

	txns, err := parseActivities(data, time.UTC)
	if err != nil {
		t.Fatalf("parseActivities: %v", err)
	}
	if got := txns[0].Date.Format("2006-01-02"); got != "2024-03-06" {
		t.Errorf("date = %s, want 2024-03-06", got)
	}
}

func TestIsCaptchaLowScore(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{"low score", `{"errorCode": "ERR_401_RECAPTCHA_LOW_SCORE"}`, true},
		{"other error", `{"errorCode": "ERR_401_INVALID_CREDENTIALS"}`, false},
		{"not json", `<html>Unauthorized</html>`, false},
		{"empty", ``, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isCaptchaLowScore([]byte(tt.body)); got != tt.want {
				t.Errorf("isCaptchaLowScore = %v, want %v", got, tt.want)
			}
		})
	}
}
