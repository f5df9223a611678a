// Package objectstore wraps the two GCS buckets the sync run touches: a
// write-mostly traces bucket for failure diagnostics and a per-institution
// user-data bucket holding archived browser profiles.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"cloud.google.com/go/storage"
)

// opTimeout bounds a single upload or download so a stalled GCS call cannot
// eat the whole run.
const opTimeout = 2 * time.Minute

// Store is a thin client over Google Cloud Storage. It assumes Application
// Default Credentials are configured.
type Store struct {
	client *storage.Client
}

// New creates a Store with a dialed storage client.
func New(ctx context.Context) (*Store, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &Store{client: client}, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Upload streams r into bucket/object, overwriting any existing object.
func (s *Store) Upload(ctx context.Context, bucket, object, contentType string, r io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	w := s.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("copy to GCS writer %s/%s: %w", bucket, object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload %s/%s: %w", bucket, object, err)
	}
	return nil
}

// UploadFile uploads a local file to bucket/object.
func (s *Store) UploadFile(ctx context.Context, bucket, object, contentType, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open file %q: %w", filePath, err)
	}
	defer f.Close()
	return s.Upload(ctx, bucket, object, contentType, f)
}

// Download writes bucket/object to the local file at path.
func (s *Store) Download(ctx context.Context, bucket, object, path string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rc, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("open GCS object reader %s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file %q: %w", path, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, rc); err != nil {
		return fmt.Errorf("read GCS object %s/%s: %w", bucket, object, err)
	}
	return nil
}

// Delete removes bucket/object. Deleting a missing object is an error the
// caller may choose to ignore.
func (s *Store) Delete(ctx context.Context, bucket, object string) error {
	if err := s.client.Bucket(bucket).Object(object).Delete(ctx); err != nil {
		return fmt.Errorf("delete GCS object %s/%s: %w", bucket, object, err)
	}
	return nil
}
