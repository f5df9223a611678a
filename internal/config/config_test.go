package config

import (
	"testing"

	"github.com/dvloznov/bank-sync/internal/bank"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("TZ", "America/Toronto")
	t.Setenv("BANK", "rogers-bank")
	t.Setenv("YNAB_ACCESS_TOKEN", "token")
	t.Setenv("GCS_TRACES_BUCKET", "traces")
	t.Setenv("GCS_USER_DATA_BUCKET", "user-data")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_KEY", `{"client_email":"svc@example.iam"}`)
	t.Setenv("GMAIL_USER", "me@example.com")
	t.Setenv("ROGERS_BANK_USERNAME", "user")
	t.Setenv("ROGERS_BANK_PASSWORD", "pass")
}

func TestLoad(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Bank != bank.RogersBank {
		t.Errorf("Bank = %q, want rogers-bank", cfg.Bank)
	}
	if cfg.YNABBudgetID != "last-used" {
		t.Errorf("YNABBudgetID = %q, want default last-used", cfg.YNABBudgetID)
	}
	if cfg.Timezone.String() != "America/Toronto" {
		t.Errorf("Timezone = %q, want America/Toronto", cfg.Timezone)
	}
	if cfg.UUIDNamespace.String() != defaultUUIDNamespace {
		t.Errorf("UUIDNamespace = %q, want default", cfg.UUIDNamespace)
	}
	if cfg.Debug {
		t.Error("Debug should default to false")
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(t *testing.T)
	}{
		{
			name: "unknown bank",
			mutate: func(t *testing.T) {
				t.Setenv("BANK", "scotiabank")
			},
		},
		{
			name: "missing credentials for selected bank",
			mutate: func(t *testing.T) {
				t.Setenv("ROGERS_BANK_PASSWORD", "")
			},
		},
		{
			name: "missing ledger token",
			mutate: func(t *testing.T) {
				t.Setenv("YNAB_ACCESS_TOKEN", "")
			},
		},
		{
			name: "missing traces bucket",
			mutate: func(t *testing.T) {
				t.Setenv("GCS_TRACES_BUCKET", "")
			},
		},
		{
			name: "bad debug flag",
			mutate: func(t *testing.T) {
				t.Setenv("DEBUG", "maybe")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			tt.mutate(t)
			if _, err := Load(); err == nil {
				t.Error("Load() succeeded, want error")
			}
		})
	}
}

func TestLoad_CredentialsCheckedPerBank(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("BANK", "nbdb")
	// Rogers credentials are set but NBDB's are not; validation must follow
	// the selected institution.
	if _, err := Load(); err == nil {
		t.Error("Load() succeeded without NBDB credentials")
	}

	t.Setenv("NBDB_USER_ID", "user")
	t.Setenv("NBDB_PASSWORD", "pass")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Bank != bank.NBDB {
		t.Errorf("Bank = %q, want nbdb", cfg.Bank)
	}
}

func TestLoad_Tangerine(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("BANK", "tangerine")
	t.Setenv("TANGERINE_LOGIN_ID", "login")
	t.Setenv("TANGERINE_PIN", "123456")
	t.Setenv("TANGERINE_SECURITY_QUESTIONS", `{"What was your first pet's name?":"Rex"}`)

	// Tangerine retrieves codes over SMS; the voip.ms credentials stand in
	// for the Gmail ones.
	if _, err := Load(); err == nil {
		t.Error("Load() succeeded without voip.ms credentials")
	}

	t.Setenv("VOIPMS_API_USERNAME", "api-user")
	t.Setenv("VOIPMS_API_PASSWORD", "api-pass")
	t.Setenv("VOIPMS_DID", "5551234567")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Bank != bank.Tangerine {
		t.Errorf("Bank = %q, want tangerine", cfg.Bank)
	}
	if got := cfg.TangerineSecurityAnswers["What was your first pet's name?"]; got != "Rex" {
		t.Errorf("security answer = %q, want Rex", got)
	}
}

func TestLoad_BadSecurityQuestionsJSON(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TANGERINE_SECURITY_QUESTIONS", "not json")
	if _, err := Load(); err == nil {
		t.Error("Load() succeeded with malformed TANGERINE_SECURITY_QUESTIONS")
	}
}
