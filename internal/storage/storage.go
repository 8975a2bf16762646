package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/nexocrm/authsvc/config"
)

var (
	// ErrNotConfigured is returned by Open when STORAGE_BACKEND is empty.
	ErrNotConfigured = errors.New("object storage not configured")
	// ErrObjectNotFound is returned by Get for a missing key.
	ErrObjectNotFound = errors.New("object not found")
)

// ObjectStorage is a single-bucket object store.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete is idempotent: removing a missing key succeeds.
	Delete(ctx context.Context, key string) error
	Bucket() string
	Close() error
}

// Open connects to the backend selected by cfg.Backend and makes sure its
// bucket exists.
func Open(ctx context.Context, cfg config.StorageConfig) (ObjectStorage, error) {
	var (
		backend ObjectStorage
		err     error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "":
		return nil, ErrNotConfigured
	case "minio":
		backend, err = NewMinioClient(cfg.Minio)
	case "gcs":
		backend, err = NewGCSClient(ctx, cfg.GCS)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	if err := backend.EnsureBucket(ctx); err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("ensure bucket %s: %w", backend.Bucket(), err)
	}
	return backend, nil
}
