// Package config loads the process configuration from the environment.
// A .env file is honored when present so local runs behave like the
// scheduled ones; the scheduler injects the same variables directly.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/dvloznov/bank-sync/internal/bank"
)

// defaultUUIDNamespace is the namespace for name-based account IDs when
// UUID_NAMESPACE is not set. Changing it changes every derived account ID,
// which breaks the ledger note matching, so it is effectively frozen.
const defaultUUIDNamespace = "f47ac10b-58cc-4372-a567-0e02b2c3d479"

// Config is the full process configuration surface.
type Config struct {
	Bank          bank.Institution
	Timezone      *time.Location
	Debug         bool
	UUIDNamespace uuid.UUID

	YNABBudgetID    string
	YNABAccessToken string

	TracesBucket   string
	UserDataBucket string
	HTTPProxy      string

	GoogleServiceAccountKey []byte
	GmailUser               string

	PushoverToken string
	PushoverUser  string

	VoipMSAPIUsername string
	VoipMSAPIPassword string
	VoipMSDID         string

	BMOCardNumber            string
	BMOPassword              string
	RogersBankUsername       string
	RogersBankPassword       string
	NBDBUserID               string
	NBDBPassword             string
	TangerineLoginID         string
	TangerinePIN             string
	TangerineSecurityAnswers map[string]string
}

// Load reads configuration from the environment, applying defaults and
// validating everything the selected institution's run will need.
func Load() (*Config, error) {
	// Missing .env is fine; the scheduler sets variables directly.
	_ = godotenv.Load()

	cfg := &Config{
		Bank:               bank.Institution(os.Getenv("BANK")),
		YNABBudgetID:       getenvDefault("YNAB_BUDGET_ID", "last-used"),
		YNABAccessToken:    os.Getenv("YNAB_ACCESS_TOKEN"),
		TracesBucket:       os.Getenv("GCS_TRACES_BUCKET"),
		UserDataBucket:     os.Getenv("GCS_USER_DATA_BUCKET"),
		HTTPProxy:          os.Getenv("HTTP_PROXY"),
		GmailUser:          os.Getenv("GMAIL_USER"),
		PushoverToken:      os.Getenv("PUSHOVER_TOKEN"),
		PushoverUser:       os.Getenv("PUSHOVER_USER"),
		VoipMSAPIUsername:  os.Getenv("VOIPMS_API_USERNAME"),
		VoipMSAPIPassword:  os.Getenv("VOIPMS_API_PASSWORD"),
		VoipMSDID:          os.Getenv("VOIPMS_DID"),
		BMOCardNumber:      os.Getenv("BMO_CARD_NUMBER"),
		BMOPassword:        os.Getenv("BMO_PASSWORD"),
		RogersBankUsername: os.Getenv("ROGERS_BANK_USERNAME"),
		RogersBankPassword: os.Getenv("ROGERS_BANK_PASSWORD"),
		NBDBUserID:         os.Getenv("NBDB_USER_ID"),
		NBDBPassword:       os.Getenv("NBDB_PASSWORD"),
		TangerineLoginID:   os.Getenv("TANGERINE_LOGIN_ID"),
		TangerinePIN:       os.Getenv("TANGERINE_PIN"),
	}

	if key := os.Getenv("GOOGLE_SERVICE_ACCOUNT_KEY"); key != "" {
		cfg.GoogleServiceAccountKey = []byte(key)
	}

	if raw := os.Getenv("TANGERINE_SECURITY_QUESTIONS"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg.TangerineSecurityAnswers); err != nil {
			return nil, fmt.Errorf("parse TANGERINE_SECURITY_QUESTIONS: %w", err)
		}
	}

	if v := os.Getenv("DEBUG"); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("parse DEBUG %q: %w", v, err)
		}
		cfg.Debug = debug
	}

	tzName := os.Getenv("TZ")
	if tzName == "" {
		return nil, fmt.Errorf("TZ is required")
	}
	tz, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tzName, err)
	}
	cfg.Timezone = tz

	ns, err := uuid.Parse(getenvDefault("UUID_NAMESPACE", defaultUUIDNamespace))
	if err != nil {
		return nil, fmt.Errorf("parse UUID_NAMESPACE: %w", err)
	}
	cfg.UUIDNamespace = ns

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if !c.Bank.Valid() {
		return fmt.Errorf("BANK must be one of bmo, rogers-bank, nbdb, tangerine; got %q", c.Bank)
	}
	if c.YNABAccessToken == "" {
		return fmt.Errorf("YNAB_ACCESS_TOKEN is required")
	}
	if c.TracesBucket == "" {
		return fmt.Errorf("GCS_TRACES_BUCKET is required")
	}
	if c.UserDataBucket == "" {
		return fmt.Errorf("GCS_USER_DATA_BUCKET is required")
	}

	// The challenge code channel depends on the institution: Tangerine
	// texts its codes, the others mail them.
	switch c.Bank {
	case bank.Tangerine:
		if c.VoipMSAPIUsername == "" || c.VoipMSAPIPassword == "" || c.VoipMSDID == "" {
			return fmt.Errorf("VOIPMS_API_USERNAME, VOIPMS_API_PASSWORD and VOIPMS_DID are required for challenge code retrieval over SMS")
		}
	default:
		if len(c.GoogleServiceAccountKey) == 0 || c.GmailUser == "" {
			return fmt.Errorf("GOOGLE_SERVICE_ACCOUNT_KEY and GMAIL_USER are required for challenge code retrieval over email")
		}
	}

	switch c.Bank {
	case bank.BMO:
		if c.BMOCardNumber == "" || c.BMOPassword == "" {
			return fmt.Errorf("BMO_CARD_NUMBER and BMO_PASSWORD are required for BANK=bmo")
		}
	case bank.RogersBank:
		if c.RogersBankUsername == "" || c.RogersBankPassword == "" {
			return fmt.Errorf("ROGERS_BANK_USERNAME and ROGERS_BANK_PASSWORD are required for BANK=rogers-bank")
		}
	case bank.NBDB:
		if c.NBDBUserID == "" || c.NBDBPassword == "" {
			return fmt.Errorf("NBDB_USER_ID and NBDB_PASSWORD are required for BANK=nbdb")
		}
	case bank.Tangerine:
		if c.TangerineLoginID == "" || c.TangerinePIN == "" {
			return fmt.Errorf("TANGERINE_LOGIN_ID and TANGERINE_PIN are required for BANK=tangerine")
		}
	}
	return nil
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
