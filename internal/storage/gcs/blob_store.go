// Package gcs stores harvest results in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
)

// Config names the destination bucket and the object headers applied to
// every upload.
type Config struct {
	Bucket       string
	CacheControl string
	// Metadata is attached to each object as custom metadata.
	Metadata map[string]string
}

// BlobStore uploads result documents to one bucket.
type BlobStore struct {
	bucket *storage.BucketHandle
	cfg    Config
	logger *zap.Logger
}

// New wraps client for cfg.Bucket.
func New(client *storage.Client, cfg Config, logger *zap.Logger) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	cfg.Bucket = strings.TrimSpace(cfg.Bucket)
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	// Result objects are rewritten whole under a deterministic name, so
	// retrying any failed upload is safe.
	bucket := client.Bucket(cfg.Bucket).Retryer(storage.WithPolicy(storage.RetryAlways))
	return &BlobStore{
		bucket: bucket,
		cfg:    cfg,
		logger: logger.Named("gcs").With(zap.String("bucket", cfg.Bucket)),
	}, nil
}

// PutObject streams r into path and returns the gs:// URI of the object.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	path = strings.TrimPrefix(strings.TrimSpace(path), "/")
	if path == "" {
		return "", errors.New("path is required")
	}

	// Canceling the writer context is the only way to abort an upload
	// without committing what was already sent.
	uploadCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.bucket.Object(path).NewWriter(uploadCtx)
	w.ContentType = contentType
	w.CacheControl = s.cfg.CacheControl
	if len(s.cfg.Metadata) > 0 {
		w.Metadata = s.cfg.Metadata
	}

	n, err := io.Copy(w, r)
	if err != nil {
		cancel()
		_ = w.Close()
		return "", fmt.Errorf("upload %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize %s: %w", path, err)
	}
	s.logger.Debug("object written", zap.String("path", path), zap.Int64("bytes", n))
	return "gs://" + s.cfg.Bucket + "/" + path, nil
}
