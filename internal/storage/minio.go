package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/zulandar/docyard/internal/config"
)

// MinIO stores objects in a MinIO deployment through minio-go.
type MinIO struct {
	client *minio.Client
}

// NewMinIO connects to cfg.Endpoint and makes sure every bucket exists.
func NewMinIO(ctx context.Context, cfg config.StorageConfig, buckets ...string) (*MinIO, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: minio client for %s: %w", cfg.Endpoint, err)
	}

	for _, b := range buckets {
		exists, err := client.BucketExists(ctx, b)
		if err != nil {
			return nil, fmt.Errorf("storage: minio bucket %s: %w", b, err)
		}
		if !exists {
			if err := client.MakeBucket(ctx, b, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
				return nil, fmt.Errorf("storage: minio make bucket %s: %w", b, err)
			}
		}
	}
	return &MinIO{client: client}, nil
}

// Put uploads data to bucket/key.
func (m *MinIO) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	_, err := m.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("storage: minio put %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Get downloads bucket/key, returning ErrNotFound for a missing object.
func (m *MinIO) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("storage: minio get %s/%s: %w", bucket, key, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		if isMinIONotFound(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, key)
		}
		return nil, fmt.Errorf("storage: minio read %s/%s: %w", bucket, key, err)
	}
	return data, nil
}

// Exists stats bucket/key.
func (m *MinIO) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := m.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isMinIONotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("storage: minio stat %s/%s: %w", bucket, key, err)
	}
	return true, nil
}

func isMinIONotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
}
