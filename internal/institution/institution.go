// Package institution holds the shared lifecycle contract the per-bank
// drivers implement. Each institution is its own subpackage with a bespoke
// login sequence; what they share is the session handling, the error route
// and the transaction lookback rules.
package institution

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/bank-sync/internal/bank"
	"github.com/dvloznov/bank-sync/internal/browser"
	"github.com/dvloznov/bank-sync/internal/logger"
	"github.com/dvloznov/bank-sync/internal/notify"
	"github.com/dvloznov/bank-sync/internal/objectstore"
	"github.com/dvloznov/bank-sync/internal/otp"
)

// LookbackDays is the bounded window of recent transactions a driver
// fetches and returns.
const LookbackDays = 10

// Driver is what every institution exposes once created: the scraped
// accounts. A zero-length result after a completed run means the run failed
// in a way the caller must treat as fatal.
type Driver interface {
	Accounts() []bank.Account
}

// Deps are the collaborators a driver needs. One Deps value serves one run.
type Deps struct {
	Store     *objectstore.Store
	Notifier  *notify.Notifier
	Codes     otp.Channel
	HTTP      *http.Client
	Buckets   browser.Buckets
	Namespace uuid.UUID
	Timezone  *time.Location

	Headless    bool
	ProxyServer string
}

// Base carries the lifecycle shared by all drivers: browser session
// ownership, the single error route and the scraped account set.
type Base struct {
	institution bank.Institution
	deps        Deps
	session     *browser.Session
	accounts    []bank.Account
}

// NewBase creates the shared driver state for one institution.
func NewBase(institution bank.Institution, deps Deps) Base {
	return Base{institution: institution, deps: deps}
}

// Launch opens the browser session, restoring the institution's persisted
// profile when one exists.
func (b *Base) Launch(ctx context.Context) error {
	session, err := browser.NewSession(ctx, b.institution, b.deps.Store, b.deps.Notifier, b.deps.Buckets, browser.Options{
		RestoreSession: true,
		Headless:       b.deps.Headless,
		ProxyServer:    b.deps.ProxyServer,
	})
	if err != nil {
		return err
	}
	b.session = session
	return nil
}

// Session returns the driver's browser session.
func (b *Base) Session() *browser.Session {
	return b.session
}

// Deps returns the driver's collaborators.
func (b *Base) Deps() Deps {
	return b.deps
}

// Date returns the run date.
func (b *Base) Date() time.Time {
	if b.session != nil {
		return b.session.Date()
	}
	return time.Now()
}

// CloseBrowser tears down the session, persisting the profile when save is
// true.
func (b *Base) CloseBrowser(ctx context.Context, save bool) error {
	if b.session == nil {
		return nil
	}
	return b.session.Close(ctx, browser.CloseOptions{SaveSession: save})
}

// HandleError routes any login/fetch failure through the session's failure
// path: trace capture, upload and operator notification. Safe when the
// session never launched.
func (b *Base) HandleError(ctx context.Context, err error) {
	if b.session == nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("institution", string(b.institution)).Msg("Run failed before browser launch")
		b.deps.Notifier.Send(ctx, "Error Logging Into "+b.institution.DisplayName(), err.Error())
		return
	}
	b.session.HandleError(ctx, err)
}

// Accounts returns the scraped accounts; empty until login completes.
func (b *Base) Accounts() []bank.Account {
	return b.accounts
}

// SetAccounts records the scrape result.
func (b *Base) SetAccounts(accounts []bank.Account) {
	b.accounts = accounts
}

// WithinLookback filters txns to the lookback window ending at runDate and
// sorts them newest first. Drivers apply it even when the upstream API
// claims to honor a date range.
func WithinLookback(txns []bank.Transaction, runDate time.Time) []bank.Transaction {
	out := bank.FilterSince(txns, LookbackStart(runDate))
	bank.SortNewestFirst(out)
	return out
}

// LookbackStart returns the lower bound of the fetch window for runDate.
func LookbackStart(runDate time.Time) time.Time {
	return runDate.AddDate(0, 0, -LookbackDays)
}
