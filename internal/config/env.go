package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// Environment variables that override file settings. Secrets are expected to
// arrive this way rather than through docyard.yaml.
const (
	EnvDatabaseDSN      = "DOCYARD_DATABASE_DSN"
	EnvDatabasePassword = "DOCYARD_DATABASE_PASSWORD"
	EnvStorageEndpoint  = "DOCYARD_S3_ENDPOINT"
	EnvStorageRegion    = "DOCYARD_S3_REGION"
	EnvStorageAccessKey = "DOCYARD_S3_ACCESS_KEY"
	EnvStorageSecretKey = "DOCYARD_S3_SECRET_KEY"
	EnvWorkerID         = "DOCYARD_WORKER_ID"
)

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Variables already set are left alone. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays non-empty environment variables onto the config.
func (c *Config) applyEnv() {
	overlay := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	overlay(&c.Database.DSN, EnvDatabaseDSN)
	overlay(&c.Database.Password, EnvDatabasePassword)
	overlay(&c.Storage.Endpoint, EnvStorageEndpoint)
	overlay(&c.Storage.Region, EnvStorageRegion)
	overlay(&c.Storage.AccessKey, EnvStorageAccessKey)
	overlay(&c.Storage.SecretKey, EnvStorageSecretKey)
	overlay(&c.Worker.ID, EnvWorkerID)
}
