// Package browser owns the driven-browser session for one institution run:
// profile restore from object storage, Chrome lifecycle, diagnostic tracing
// and the failure path that captures and uploads a trace.
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"

	"github.com/dvloznov/bank-sync/internal/bank"
	"github.com/dvloznov/bank-sync/internal/logger"
	"github.com/dvloznov/bank-sync/internal/notify"
)

// ErrCookieNotFound is returned by Cookie when the named cookie is absent.
var ErrCookieNotFound = errors.New("browser: cookie not found")

// ObjectStore is the slice of object storage a session uses: profile archive
// download and upload, trace upload and archive deletion.
type ObjectStore interface {
	Download(ctx context.Context, bucket, object, path string) error
	UploadFile(ctx context.Context, bucket, object, contentType, path string) error
	Delete(ctx context.Context, bucket, object string) error
}

// Buckets names the two object-storage destinations a session writes to.
type Buckets struct {
	Traces   string
	UserData string
}

// Options configures session startup.
type Options struct {
	// RestoreSession downloads and unpacks the institution's archived
	// browser profile before launch. Missing or unreadable archives
	// silently downgrade to a fresh profile.
	RestoreSession bool
	Headless       bool
	ProxyServer    string
}

// CloseOptions configures teardown.
type CloseOptions struct {
	// SaveSession archives the profile directory and uploads it,
	// overwriting the institution's prior archive. Ignored when TraceName
	// is set: a failed run must not persist a half-authenticated profile.
	SaveSession bool
	// TraceName, when non-empty, is the object name the captured trace is
	// uploaded under (failure path).
	TraceName string
}

// Session is one institution's driven-browser session. It is not safe for
// concurrent use; a run drives a single login flow at a time.
type Session struct {
	institution bank.Institution
	store       ObjectStore
	notifier    *notify.Notifier
	buckets     Buckets
	date        time.Time

	userDataDir string
	allocCancel context.CancelFunc
	ctxCancel   context.CancelFunc
	browserCtx  context.Context
	trace       *traceRecorder
	closed      bool
}

// NewSession launches a browser session for the institution. The returned
// session must be released with Close on every path, including after a
// partially failed startup; NewSession itself tears down on error.
func NewSession(ctx context.Context, institution bank.Institution, store ObjectStore, notifier *notify.Notifier, buckets Buckets, opts Options) (*Session, error) {
	log := logger.FromContext(ctx)

	s := &Session{
		institution: institution,
		store:       store,
		notifier:    notifier,
		buckets:     buckets,
		date:        time.Now(),
	}

	userDataDir, err := os.MkdirTemp("", "user-data-")
	if err != nil {
		return nil, fmt.Errorf("create user data directory: %w", err)
	}
	s.userDataDir = userDataDir
	log.Debug().Str("dir", userDataDir).Msg("Created temporary user data directory")

	if opts.RestoreSession {
		s.restoreUserData(ctx)
	} else {
		log.Debug().Str("institution", string(institution)).Msg("Skipping user data download")
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(userDataDir),
		chromedp.Flag("headless", opts.Headless),
		chromedp.NoSandbox,
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if opts.ProxyServer != "" {
		allocOpts = append(allocOpts, chromedp.ProxyServer(opts.ProxyServer))
	}

	log.Debug().Msg("Launching browser")
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	s.allocCancel = allocCancel

	browserCtx, ctxCancel := chromedp.NewContext(allocCtx)
	s.browserCtx = browserCtx
	s.ctxCancel = ctxCancel

	if err := chromedp.Run(browserCtx, network.Enable()); err != nil {
		s.release(ctx)
		return nil, fmt.Errorf("start browser: %w", err)
	}

	trace, err := startTrace(browserCtx, string(institution))
	if err != nil {
		s.release(ctx)
		return nil, fmt.Errorf("start tracing: %w", err)
	}
	s.trace = trace
	log.Debug().Msg("Started tracing")

	return s, nil
}

// Date returns the session start time; drivers use it as the run date for
// lookback windows and challenge-code freshness.
func (s *Session) Date() time.Time {
	return s.date
}

// restoreUserData downloads and unpacks the institution's archived profile.
// Any failure downgrades silently to a fresh profile.
func (s *Session) restoreUserData(ctx context.Context) {
	log := logger.FromContext(ctx)

	archiveDir, err := os.MkdirTemp("", "archive-")
	if err != nil {
		log.Debug().Err(err).Msg("Could not create archive directory, starting with fresh profile")
		return
	}
	defer os.RemoveAll(archiveDir)

	archivePath := filepath.Join(archiveDir, s.archiveObject())
	if err := s.store.Download(ctx, s.buckets.UserData, s.archiveObject(), archivePath); err != nil {
		log.Debug().Str("institution", string(s.institution)).Msg("No existing user data found")
		return
	}

	if err := extractTarGz(archivePath, s.userDataDir); err != nil {
		log.Debug().Err(err).Msg("Could not extract user data archive, starting with fresh profile")
		return
	}
	log.Debug().Str("institution", string(s.institution)).Msg("Restored user data")
}

// Close stops tracing and tears down the browser process. With TraceName
// set it uploads the captured trace to the traces bucket; otherwise, with
// SaveSession set, it archives and uploads the profile directory. The
// profile directory must outlive the browser process here: it is archived
// after teardown and removed last, on every branch.
func (s *Session) Close(ctx context.Context, opts CloseOptions) error {
	if s.closed {
		return nil
	}
	s.closed = true

	log := logger.FromContext(ctx)

	var tracePath string
	if s.trace != nil {
		s.trace.Stop()
		tracePath = s.trace.Path()
	}

	log.Debug().Msg("Closing browser")
	s.stopBrowser()
	defer s.removeUserData(ctx)

	if opts.TraceName != "" && tracePath != "" {
		zipPath := tracePath + ".zip"
		if err := zipFile(tracePath, zipPath); err != nil {
			return fmt.Errorf("zip trace: %w", err)
		}
		if err := s.store.UploadFile(ctx, s.buckets.Traces, opts.TraceName, "application/zip", zipPath); err != nil {
			return fmt.Errorf("upload trace: %w", err)
		}
		log.Info().Str("trace", opts.TraceName).Msg("Saved trace")
		return nil
	}

	if opts.SaveSession {
		if err := s.archiveUserData(ctx); err != nil {
			// Losing the session archive costs the next run a full login,
			// nothing more.
			log.Error().Err(err).Str("institution", string(s.institution)).Msg("Failed to archive and upload user data directory")
		}
	}
	return nil
}

func (s *Session) archiveUserData(ctx context.Context) error {
	log := logger.FromContext(ctx)

	archiveDir, err := os.MkdirTemp("", "archive-")
	if err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}
	defer os.RemoveAll(archiveDir)

	archivePath := filepath.Join(archiveDir, s.archiveObject())
	log.Debug().Str("path", archivePath).Msg("Creating user data archive")
	if err := createTarGz(s.userDataDir, archivePath); err != nil {
		return fmt.Errorf("create user data archive: %w", err)
	}

	if err := s.store.UploadFile(ctx, s.buckets.UserData, s.archiveObject(), "application/gzip", archivePath); err != nil {
		return fmt.Errorf("upload user data archive: %w", err)
	}
	log.Debug().Str("institution", string(s.institution)).Msg("Uploaded user data")
	return nil
}

// HandleError is the single failure route for driver errors: capture the
// trace, upload it and notify the operator with a link to the logs. Every
// failed run leaves a diagnostic artifact behind.
func (s *Session) HandleError(ctx context.Context, cause error) {
	log := logger.FromContext(ctx)
	log.Error().Err(cause).Str("institution", string(s.institution)).Msg("Run failed")

	traceName := fmt.Sprintf("%s-%s-%s.zip", s.date.Format("2006-01-02"), s.institution, uuid.NewString())
	if err := s.Close(ctx, CloseOptions{TraceName: traceName}); err != nil {
		log.Error().Err(err).Msg("Failed to capture trace for failed run")
	}

	s.notifier.Send(ctx,
		fmt.Sprintf("Error Logging Into %s", s.institution.DisplayName()),
		cause.Error(),
	)
}

// PurgeSessionState deletes the institution's archived profile from object
// storage. Used when the institution suspects automated traffic, so the next
// scheduled run starts from a clean slate. Best effort.
func (s *Session) PurgeSessionState(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Debug().Str("institution", string(s.institution)).Msg("Deleting user data")
	if err := s.store.Delete(ctx, s.buckets.UserData, s.archiveObject()); err != nil {
		log.Debug().Err(err).Str("institution", string(s.institution)).Msg("No user data found to delete or deletion failed")
		return
	}
	log.Debug().Str("institution", string(s.institution)).Msg("Deleted user data")
}

func (s *Session) archiveObject() string {
	return fmt.Sprintf("%s.tar.gz", s.institution)
}

// release tears down the browser process and temp dirs, for startup paths
// that never reach Close. Safe to call more than once.
func (s *Session) release(ctx context.Context) {
	s.stopBrowser()
	s.removeUserData(ctx)
}

// stopBrowser ends the browser process, leaving the profile directory in
// place for archiving.
func (s *Session) stopBrowser() {
	if s.ctxCancel != nil {
		s.ctxCancel()
		s.ctxCancel = nil
	}
	if s.allocCancel != nil {
		s.allocCancel()
		s.allocCancel = nil
	}
}

func (s *Session) removeUserData(ctx context.Context) {
	if s.userDataDir == "" {
		return
	}
	log := logger.FromContext(ctx)
	if err := os.RemoveAll(s.userDataDir); err != nil {
		log.Debug().Err(err).Msg("Failed to remove user data directory")
	}
	s.userDataDir = ""
}
