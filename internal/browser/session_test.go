package browser

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dvloznov/bank-sync/internal/bank"
	"github.com/dvloznov/bank-sync/internal/logger"
)

type fakeObjectStore struct {
	uploads   []string
	deletes   []string
	uploadErr error

	// onUpload runs inside UploadFile, while the uploaded file still exists.
	onUpload func(path string)
}

func (f *fakeObjectStore) Download(_ context.Context, _, _, _ string) error {
	return os.ErrNotExist
}

func (f *fakeObjectStore) UploadFile(_ context.Context, bucket, object, _, path string) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	if f.onUpload != nil {
		f.onUpload(path)
	}
	f.uploads = append(f.uploads, bucket+"/"+object)
	return nil
}

func (f *fakeObjectStore) Delete(_ context.Context, bucket, object string) error {
	f.deletes = append(f.deletes, bucket+"/"+object)
	return nil
}

func newTestSession(t *testing.T, store *fakeObjectStore) *Session {
	t.Helper()
	profile := t.TempDir()
	if err := os.WriteFile(filepath.Join(profile, "Cookies"), []byte("cookie-db"), 0o644); err != nil {
		t.Fatal(err)
	}
	return &Session{
		institution: bank.RogersBank,
		store:       store,
		buckets:     Buckets{Traces: "traces", UserData: "user-data"},
		date:        time.Now(),
		userDataDir: profile,
	}
}

func testContext() context.Context {
	return logger.WithContext(context.Background(), logger.NewWithWriter(io.Discard))
}

func TestClose_SaveSessionArchivesProfileBeforeRemoval(t *testing.T) {
	store := &fakeObjectStore{}
	s := newTestSession(t, store)
	profile := s.userDataDir

	store.onUpload = func(path string) {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("uploaded archive %s missing at upload time: %v", path, err)
		}
		if _, err := os.Stat(filepath.Join(profile, "Cookies")); err != nil {
			t.Errorf("profile dir removed before it was archived: %v", err)
		}
	}

	if err := s.Close(testContext(), CloseOptions{SaveSession: true}); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if len(store.uploads) != 1 || store.uploads[0] != "user-data/rogers-bank.tar.gz" {
		t.Errorf("uploads = %v, want [user-data/rogers-bank.tar.gz]", store.uploads)
	}
	if _, err := os.Stat(profile); !os.IsNotExist(err) {
		t.Errorf("profile dir still present after Close: %v", err)
	}
}

func TestClose_WithoutSaveRemovesProfileWithoutUpload(t *testing.T) {
	store := &fakeObjectStore{}
	s := newTestSession(t, store)
	profile := s.userDataDir

	if err := s.Close(testContext(), CloseOptions{}); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if len(store.uploads) != 0 {
		t.Errorf("uploads = %v, want none", store.uploads)
	}
	if _, err := os.Stat(profile); !os.IsNotExist(err) {
		t.Errorf("profile dir still present after Close: %v", err)
	}
}

func TestClose_UploadFailureStillRemovesProfile(t *testing.T) {
	store := &fakeObjectStore{uploadErr: os.ErrDeadlineExceeded}
	s := newTestSession(t, store)
	profile := s.userDataDir

	if err := s.Close(testContext(), CloseOptions{SaveSession: true}); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := os.Stat(profile); !os.IsNotExist(err) {
		t.Errorf("profile dir still present after Close: %v", err)
	}
}

func TestClose_SecondCallIsNoop(t *testing.T) {
	store := &fakeObjectStore{}
	s := newTestSession(t, store)

	if err := s.Close(testContext(), CloseOptions{SaveSession: true}); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Close(testContext(), CloseOptions{SaveSession: true}); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if len(store.uploads) != 1 {
		t.Errorf("uploads = %v, want exactly one", store.uploads)
	}
}

func TestPurgeSessionState(t *testing.T) {
	store := &fakeObjectStore{}
	s := newTestSession(t, store)

	s.PurgeSessionState(testContext())

	if len(store.deletes) != 1 || store.deletes[0] != "user-data/rogers-bank.tar.gz" {
		t.Errorf("deletes = %v, want [user-data/rogers-bank.tar.gz]", store.deletes)
	}
}
