// Package storage holds downloaded result videos.
// LocalStorage keeps them on disk; S3Storage additionally archives them to a bucket.
package storage

import (
	"context"
	"io"
)

// Storage defines temp-file handling and optional S3 archiving of result videos.
type Storage interface {
	// SaveTemp writes data to a new temp file and returns its path.
	// name is a filename hint; its extension is preserved.
	SaveTemp(ctx context.Context, name string, data io.Reader) (path string, err error)

	// LoadTemp opens a temp file. The caller closes the returned ReadCloser.
	LoadTemp(ctx context.Context, path string) (io.ReadCloser, error)

	// CleanupTemp removes temp files, continuing past individual failures.
	CleanupTemp(ctx context.Context, paths []string) error

	// UploadToS3 stores data under key and returns its URL.
	// Returns ErrS3NotConfigured when no bucket is configured.
	UploadToS3(ctx context.Context, key string, data io.Reader) (url string, err error)
}
