package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zulandar/docyard/internal/config"
)

// New builds the configured object store. Remote backends are wrapped in a
// Fallback onto the local directory unless fallback is disabled.
func New(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (ObjectStore, error) {
	local, err := NewFS(cfg.LocalDir)
	if err != nil {
		return nil, err
	}
	buckets := BucketsFrom(cfg.Buckets).All()

	var primary ObjectStore
	switch cfg.Backend {
	case "fs", "":
		return local, nil
	case "s3":
		s, err := NewS3(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBuckets(ctx, buckets...); err != nil {
			if !cfg.FallbackEnabled() {
				return nil, err
			}
			logger.Warn("s3 bucket check failed, continuing with local fallback", "error", err)
		}
		primary = s
	case "minio":
		m, err := NewMinIO(ctx, cfg, buckets...)
		if err != nil {
			return nil, err
		}
		primary = m
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.Backend)
	}

	if !cfg.FallbackEnabled() {
		return primary, nil
	}
	return &Fallback{Primary: primary, Local: local, Logger: logger}, nil
}
