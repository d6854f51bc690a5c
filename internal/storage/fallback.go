package storage

import (
	"context"
	"errors"
	"log/slog"
)

// Fallback writes through Primary and degrades to Local when Primary fails,
// so an unreachable object store never fails a job on its own.
type Fallback struct {
	Primary ObjectStore
	Local   ObjectStore
	Logger  *slog.Logger
}

// Put stores data in Primary, or in Local if Primary returns an error.
func (f *Fallback) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	err := f.Primary.Put(ctx, bucket, key, data, contentType)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	f.logger().Warn("object store put failed, writing locally",
		"bucket", bucket, "key", key, "error", err)
	if lerr := f.Local.Put(ctx, bucket, key, data, contentType); lerr != nil {
		return errors.Join(err, lerr)
	}
	return nil
}

// Get reads from Primary, then from Local.
func (f *Fallback) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	data, err := f.Primary.Get(ctx, bucket, key)
	if err == nil {
		return data, nil
	}
	local, lerr := f.Local.Get(ctx, bucket, key)
	if lerr == nil {
		return local, nil
	}
	if errors.Is(err, ErrNotFound) && errors.Is(lerr, ErrNotFound) {
		return nil, err
	}
	return nil, errors.Join(err, lerr)
}

// Exists reports whether the object is present in either store. A Primary
// error is tolerated when Local has the object.
func (f *Fallback) Exists(ctx context.Context, bucket, key string) (bool, error) {
	ok, err := f.Primary.Exists(ctx, bucket, key)
	if err == nil && ok {
		return true, nil
	}
	lok, lerr := f.Local.Exists(ctx, bucket, key)
	if lerr == nil && lok {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, lerr
}

func (f *Fallback) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}
