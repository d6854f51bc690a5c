package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FS stores objects as files under Root/<bucket>/<key>.
type FS struct {
	Root string
}

// NewFS returns an FS rooted at root, creating the directory if needed.
func NewFS(root string) (*FS, error) {
	if root == "" {
		return nil, fmt.Errorf("storage: fs root is required")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", root, err)
	}
	return &FS{Root: root}, nil
}

// Path returns the file path backing bucket/key.
func (s *FS) Path(bucket, key string) (string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(key))
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || clean == string(filepath.Separator) {
		return "", fmt.Errorf("storage: invalid object %q/%q", bucket, key)
	}
	return filepath.Join(s.Root, bucket, clean), nil
}

// Put writes data to bucket/key atomically.
func (s *FS) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.Path(bucket, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("storage: mkdir for %s/%s: %w", bucket, key, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return fmt.Errorf("storage: put %s/%s: %w", bucket, key, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("storage: write %s/%s: %w", bucket, key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("storage: close %s/%s: %w", bucket, key, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("storage: rename %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Get reads bucket/key, returning ErrNotFound if it does not exist.
func (s *FS) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.Path(bucket, key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, key)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read %s/%s: %w", bucket, key, err)
	}
	return data, nil
}

// Exists reports whether bucket/key exists.
func (s *FS) Exists(ctx context.Context, bucket, key string) (bool, error) {
	path, err := s.Path(bucket, key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: stat %s/%s: %w", bucket, key, err)
	}
	return true, nil
}
