// Command bank-sync logs into one banking website, scrapes its accounts and
// reconciles them into the ledger. The institution is selected through the
// BANK environment variable; one invocation handles one institution.
package main

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/dvloznov/bank-sync/internal/bank"
	"github.com/dvloznov/bank-sync/internal/browser"
	"github.com/dvloznov/bank-sync/internal/config"
	"github.com/dvloznov/bank-sync/internal/institution"
	"github.com/dvloznov/bank-sync/internal/institution/bmo"
	"github.com/dvloznov/bank-sync/internal/institution/nbdb"
	"github.com/dvloznov/bank-sync/internal/institution/rogersbank"
	"github.com/dvloznov/bank-sync/internal/institution/tangerine"
	"github.com/dvloznov/bank-sync/internal/ledger"
	"github.com/dvloznov/bank-sync/internal/logger"
	"github.com/dvloznov/bank-sync/internal/notify"
	"github.com/dvloznov/bank-sync/internal/objectstore"
	"github.com/dvloznov/bank-sync/internal/otp"
)

// runTimeout bounds the whole run: browser launch, login, code retrieval
// and the ledger writes.
const runTimeout = 15 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(false)
		fallback.Fatal().Err(err).Msg("Invalid configuration")
	}
	log := logger.New(cfg.Debug)

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	store, err := objectstore.New(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create object storage client")
	}
	defer store.Close()

	httpClient, err := newHTTPClient(cfg.HTTPProxy)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build HTTP client")
	}

	// Tangerine texts its challenge codes; every other institution mails
	// them.
	var codes otp.Channel
	if cfg.Bank == bank.Tangerine {
		codes = otp.NewSMSChannel(otp.NewVoipMSClient(httpClient, cfg.VoipMSAPIUsername, cfg.VoipMSAPIPassword, cfg.VoipMSDID))
	} else {
		codes = otp.NewEmailChannel(otp.NewGmailMailbox(cfg.GoogleServiceAccountKey, cfg.GmailUser))
	}

	deps := institution.Deps{
		Store:    store,
		Notifier: notify.New(cfg.PushoverToken, cfg.PushoverUser),
		Codes:    codes,
		HTTP:     httpClient,
		Buckets: browser.Buckets{
			Traces:   cfg.TracesBucket,
			UserData: cfg.UserDataBucket,
		},
		Namespace:   cfg.UUIDNamespace,
		Timezone:    cfg.Timezone,
		Headless:    !cfg.Debug,
		ProxyServer: cfg.HTTPProxy,
	}

	importer := ledger.NewImporter(ledger.NewService(cfg.YNABAccessToken), cfg.YNABBudgetID, cfg.Timezone)

	switch cfg.Bank {
	case bank.BMO:
		log.Info().Msg("Importing transactions from BMO")
		driver := bmo.Create(ctx, deps, cfg.BMOCardNumber, cfg.BMOPassword)
		if err := importer.ImportTransactions(ctx, driver.Accounts()); err != nil {
			log.Fatal().Err(err).Msg("Failed to import transactions from BMO")
		}
		log.Info().Msg("Imported transactions from BMO")

	case bank.RogersBank:
		log.Info().Msg("Importing transactions from Rogers Bank")
		driver := rogersbank.Create(ctx, deps, cfg.RogersBankUsername, cfg.RogersBankPassword)
		if driver.AutomationSuspected() {
			// The portal refused the login as automated traffic. The session
			// state is already purged; retrying now would only dig in deeper.
			log.Warn().Msg("Login flagged as automated traffic, ending run quietly")
			return
		}
		if len(driver.Accounts()) == 0 {
			log.Fatal().Msg("Fetched no accounts from Rogers Bank")
		}
		if err := importer.ImportTransactions(ctx, driver.Accounts()); err != nil {
			log.Fatal().Err(err).Msg("Failed to import transactions from Rogers Bank")
		}
		log.Info().Msg("Imported transactions from Rogers Bank")

	case bank.Tangerine:
		log.Info().Msg("Importing transactions from Tangerine")
		driver := tangerine.Create(ctx, deps, cfg.TangerineLoginID, cfg.TangerinePIN, cfg.TangerineSecurityAnswers)
		if len(driver.Accounts()) == 0 {
			log.Fatal().Msg("Fetched no accounts from Tangerine")
		}
		if err := importer.ImportTransactions(ctx, driver.Accounts()); err != nil {
			log.Fatal().Err(err).Msg("Failed to import transactions from Tangerine")
		}
		log.Info().Msg("Imported transactions from Tangerine")

	case bank.NBDB:
		log.Info().Msg("Updating account balances from NBDB")
		driver := nbdb.Create(ctx, deps, cfg.NBDBUserID, cfg.NBDBPassword)
		if len(driver.Accounts()) == 0 {
			log.Fatal().Msg("Fetched no accounts from NBDB")
		}
		if err := importer.UpdateAccountBalances(ctx, driver.Accounts(), bank.NBDB); err != nil {
			log.Fatal().Err(err).Msg("Failed to update account balances from NBDB")
		}
		log.Info().Msg("Updated account balances from NBDB")

	default:
		// config.Load validates BANK; this is unreachable.
		log.Fatal().Str("bank", string(cfg.Bank)).Msg("Unsupported institution")
	}
}

func newHTTPClient(proxy string) (*http.Client, error) {
	transport := &http.Transport{Proxy: http.ProxyFromEnvironment}
	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, err
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	return &http.Client{Transport: transport, Timeout: time.Minute}, nil
}
