// Package storage persists processing artifacts in an object store, with
// adapters for S3, MinIO and the local filesystem.
package storage

import (
	"context"
	"errors"

	"github.com/zulandar/docyard/internal/config"
)

// ErrNotFound is returned by Get when the object does not exist.
var ErrNotFound = errors.New("storage: object not found")

// ObjectStore is the narrow object storage contract used by the handlers.
type ObjectStore interface {
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Exists(ctx context.Context, bucket, key string) (bool, error)
}

// Buckets names the bucket of each artifact family.
type Buckets struct {
	Originals  string
	Thumbnails string
	Tiles      string
	OCR        string
}

// BucketsFrom converts the configured bucket names.
func BucketsFrom(cfg config.BucketsConfig) Buckets {
	return Buckets{
		Originals:  cfg.Originals,
		Thumbnails: cfg.Thumbnails,
		Tiles:      cfg.Tiles,
		OCR:        cfg.OCR,
	}
}

// All returns every configured bucket name.
func (b Buckets) All() []string {
	return []string{b.Originals, b.Thumbnails, b.Tiles, b.OCR}
}
