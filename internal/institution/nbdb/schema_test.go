package nbdb

import (
	"testing"

	"github.com/google/uuid"
)

var testNamespace = uuid.MustParse("f47ac10b-58cc-4372-a567-0e02b2c3d479")

func TestParseAuthn(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{"mfa required", `{"status": "MFA_REQUIRED"}`, true},
		{"success", `{"status": "SUCCESS"}`, false},
		{"empty status", `{}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAuthn([]byte(tt.body))
			if err != nil {
				t.Fatalf("parseAuthn: %v", err)
			}
			if got != tt.want {
				t.Errorf("parseAuthn = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseAuthn_Invalid(t *testing.T) {
	if _, err := parseAuthn([]byte(`not json`)); err == nil {
		t.Error("expected error for invalid payload")
	}
}

func TestParseSummary(t *testing.T) {
	data := []byte(`{"data": {"portfolioSummaryList": [
		{"accountSummaries": [
			{"acctNo": "ABC123", "acctTypeDesc": "TFSA",
			 "accountSummaryEvalByCurrency": {"CAD": {"total": 15000.50}}},
			{"acctNo": "DEF456", "acctTypeDesc": "RRSP",
			 "accountSummaryEvalByCurrency": {"CAD": {"total": 42000}}}
		]},
		{"accountSummaries": [
			{"acctNo": "IGNORED", "acctTypeDesc": "Other portfolio",
			 "accountSummaryEvalByCurrency": {"CAD": {"total": 1}}}
		]}
	]}}`)

	accounts, err := parseSummary(data, testNamespace)
	if err != nil {
		t.Fatalf("parseSummary: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("got %d accounts, want 2 (only the first portfolio)", len(accounts))
	}

	tfsa := accounts[0]
	if tfsa.Name != "TFSA" || tfsa.Balance != 15000.50 {
		t.Errorf("tfsa = (%q, %v), want (TFSA, 15000.50)", tfsa.Name, tfsa.Balance)
	}
	if tfsa.ID != uuid.NewSHA1(testNamespace, []byte("ABC123")).String() {
		t.Errorf("id = %q not derived from account number", tfsa.ID)
	}
	if len(tfsa.Transactions) != 0 {
		t.Errorf("brokerage account carries %d transactions, want none", len(tfsa.Transactions))
	}
}

func TestParseSummary_NoPortfolios(t *testing.T) {
	if _, err := parseSummary([]byte(`{"data": {"portfolioSummaryList": []}}`), testNamespace); err == nil {
		t.Error("expected error when no portfolios are present")
	}
}
