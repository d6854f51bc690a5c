package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/docyard/internal/jobtype"
)

const fullYAML = `
database:
  driver: postgres
  host: 10.0.0.5
  user: docyard
  name: docs

storage:
  backend: minio
  endpoint: minio.internal:9000
  access_key: AKIA
  secret_key: s3cret
  local_dir: /var/lib/docyard/processed
  fallback: false
  buckets:
    originals: doc-originals
    tiles: doc-tiles

dispatch:
  mode: graph
  convert_base_delay: 45s
  stagger: 1s

worker:
  id: worker-a
  concurrency: 8
  max_retries: 2
  retry_backoff: 30s
  default_limits:
    soft: 10m
    hard: 12m
  limits:
    ocr:
      soft: 4m
      hard: 5m

monitor:
  schedule: "*/10 * * * *"
  runtime_ceiling: 15m

tools:
  dpi: 200
  ocr_lang: deu

server:
  port: 9090

log:
  level: debug
  format: json
`

const minimalYAML = `
database:
  driver: sqlite
  dsn: /tmp/docyard.db
`

func TestParse_FullConfig(t *testing.T) {
	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Database.Driver != "postgres" {
		t.Errorf("Database.Driver = %q, want %q", cfg.Database.Driver, "postgres")
	}
	if cfg.Database.Port != 5432 {
		t.Errorf("Database.Port = %d, want 5432", cfg.Database.Port)
	}
	if cfg.Storage.Backend != "minio" {
		t.Errorf("Storage.Backend = %q, want %q", cfg.Storage.Backend, "minio")
	}
	if cfg.Storage.FallbackEnabled() {
		t.Error("Storage.FallbackEnabled() = true, want false")
	}
	if cfg.Storage.Buckets.Originals != "doc-originals" {
		t.Errorf("Buckets.Originals = %q, want %q", cfg.Storage.Buckets.Originals, "doc-originals")
	}
	if cfg.Storage.Buckets.OCR != "ocr" {
		t.Errorf("Buckets.OCR = %q, want default %q", cfg.Storage.Buckets.OCR, "ocr")
	}
	if cfg.Dispatch.Mode != ModeGraph {
		t.Errorf("Dispatch.Mode = %q, want %q", cfg.Dispatch.Mode, ModeGraph)
	}
	if cfg.Dispatch.ConvertBaseDelay != 45*time.Second {
		t.Errorf("Dispatch.ConvertBaseDelay = %s, want 45s", cfg.Dispatch.ConvertBaseDelay)
	}
	if cfg.Dispatch.Stagger != time.Second {
		t.Errorf("Dispatch.Stagger = %s, want 1s", cfg.Dispatch.Stagger)
	}
	if cfg.Worker.Concurrency != 8 {
		t.Errorf("Worker.Concurrency = %d, want 8", cfg.Worker.Concurrency)
	}
	if n := cfg.Worker.RetriesFor(jobtype.Tile); n != 2 {
		t.Errorf("RetriesFor(tile) = %d, want 2", n)
	}
	if l := cfg.Worker.LimitsFor(jobtype.OCR); l.Soft != 4*time.Minute || l.Hard != 5*time.Minute {
		t.Errorf("LimitsFor(ocr) = %+v, want 4m/5m", l)
	}
	if l := cfg.Worker.LimitsFor(jobtype.Tile); l.Soft != 10*time.Minute || l.Hard != 12*time.Minute {
		t.Errorf("LimitsFor(tile) = %+v, want 10m/12m", l)
	}
	if cfg.Monitor.Schedule != "*/10 * * * *" {
		t.Errorf("Monitor.Schedule = %q", cfg.Monitor.Schedule)
	}
	if cfg.Tools.DPI != 200 || cfg.Tools.OCRLang != "deu" {
		t.Errorf("Tools = %+v", cfg.Tools)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want json", cfg.Log.Format)
	}
}

func TestParse_MinimalConfig_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Storage.Backend != "fs" {
		t.Errorf("Storage.Backend = %q, want fs", cfg.Storage.Backend)
	}
	if !cfg.Storage.FallbackEnabled() {
		t.Error("Storage.FallbackEnabled() should default to true")
	}
	if cfg.Dispatch.Mode != ModeDelay {
		t.Errorf("Dispatch.Mode = %q, want %q", cfg.Dispatch.Mode, ModeDelay)
	}
	if cfg.Dispatch.ConvertBaseDelay != 30*time.Second {
		t.Errorf("ConvertBaseDelay = %s, want 30s", cfg.Dispatch.ConvertBaseDelay)
	}
	if cfg.Dispatch.PDFBaseDelay != 5*time.Second {
		t.Errorf("PDFBaseDelay = %s, want 5s", cfg.Dispatch.PDFBaseDelay)
	}
	if cfg.Worker.MaxRetries != nil {
		t.Errorf("MaxRetries = %d, want unset", *cfg.Worker.MaxRetries)
	}
	if n := cfg.Worker.RetriesFor(jobtype.Convert); n != 3 {
		t.Errorf("RetriesFor(convert) = %d, want 3", n)
	}
	if n := cfg.Worker.RetriesFor(jobtype.OCR); n != 2 {
		t.Errorf("RetriesFor(ocr) = %d, want 2", n)
	}
	if cfg.Worker.RetryBackoff != time.Minute {
		t.Errorf("RetryBackoff = %s, want 1m", cfg.Worker.RetryBackoff)
	}
	if cfg.Worker.ActiveWindow != 30*time.Second {
		t.Errorf("ActiveWindow = %s, want 30s", cfg.Worker.ActiveWindow)
	}
	if l := cfg.Worker.LimitsFor(jobtype.OCR); l.Soft != 8*time.Minute || l.Hard != 10*time.Minute {
		t.Errorf("LimitsFor(ocr) = %+v, want 8m/10m", l)
	}
	if l := cfg.Worker.LimitsFor(jobtype.Convert); l.Soft != 25*time.Minute || l.Hard != 30*time.Minute {
		t.Errorf("LimitsFor(convert) = %+v, want 25m/30m", l)
	}
	if cfg.Monitor.Schedule != "@every 5m" {
		t.Errorf("Monitor.Schedule = %q, want @every 5m", cfg.Monitor.Schedule)
	}
	if cfg.Monitor.RuntimeCeiling != 20*time.Minute {
		t.Errorf("RuntimeCeiling = %s, want 20m", cfg.Monitor.RuntimeCeiling)
	}
	if cfg.Tools.DPI != 300 {
		t.Errorf("Tools.DPI = %d, want 300", cfg.Tools.DPI)
	}
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv(EnvStorageAccessKey, "from-env")
	t.Setenv(EnvWorkerID, "worker-env")

	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Storage.AccessKey != "from-env" {
		t.Errorf("Storage.AccessKey = %q, want %q", cfg.Storage.AccessKey, "from-env")
	}
	if cfg.Worker.ID != "worker-env" {
		t.Errorf("Worker.ID = %q, want %q", cfg.Worker.ID, "worker-env")
	}
}

func TestParse_UnknownDriver(t *testing.T) {
	_, err := Parse([]byte("database:\n  driver: oracle\n"))
	if err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if !strings.Contains(err.Error(), "database.driver") {
		t.Errorf("error = %q, want to mention database.driver", err.Error())
	}
}

func TestParse_SqliteRequiresDSN(t *testing.T) {
	_, err := Parse([]byte("database:\n  driver: sqlite\n"))
	if err == nil {
		t.Fatal("expected error for sqlite without dsn")
	}
	if !strings.Contains(err.Error(), "database.dsn") {
		t.Errorf("error = %q, want to mention database.dsn", err.Error())
	}
}

func TestParse_MultipleValidationErrors(t *testing.T) {
	yaml := `
database:
  driver: sqlite
  dsn: x.db
storage:
  backend: ftp
dispatch:
  mode: dag
worker:
  limits:
    webp:
      soft: 1m
`
	_, err := Parse([]byte(yaml))
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"storage.backend", "dispatch.mode", `unknown job type "webp"`} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error = %q, want to contain %q", err.Error(), want)
		}
	}
}

func TestParse_SoftExceedsHard(t *testing.T) {
	yaml := minimalYAML + `
worker:
  limits:
    tile:
      soft: 20m
      hard: 10m
`
	_, err := Parse([]byte(yaml))
	if err == nil {
		t.Fatal("expected error when soft exceeds hard")
	}
	if !strings.Contains(err.Error(), "worker.limits.tile.soft") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestParse_ZeroMaxRetriesDisablesRetries(t *testing.T) {
	yaml := minimalYAML + `
worker:
  max_retries: 0
  limits:
    tile:
      max_retries: 5
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, tc := range []struct {
		typ  jobtype.Type
		want int
	}{
		{jobtype.Convert, 0},
		{jobtype.OCR, 0},
		{jobtype.Thumbnail, 0},
		{jobtype.Tile, 5},
	} {
		if got := cfg.Worker.RetriesFor(tc.typ); got != tc.want {
			t.Errorf("RetriesFor(%s) = %d, want %d", tc.typ, got, tc.want)
		}
	}
	// The tile override keeps the default time limits.
	if l := cfg.Worker.LimitsFor(jobtype.Tile); l.Soft != 25*time.Minute || l.Hard != 30*time.Minute {
		t.Errorf("LimitsFor(tile) = %+v, want 25m/30m", l)
	}
}

func TestParse_NegativeMaxRetries(t *testing.T) {
	yaml := minimalYAML + `
worker:
  max_retries: -1
  limits:
    ocr:
      max_retries: -2
`
	_, err := Parse([]byte(yaml))
	if err == nil {
		t.Fatal("expected error for negative max_retries")
	}
	for _, want := range []string{"worker.max_retries", "worker.limits.ocr.max_retries"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error = %q, want to contain %q", err.Error(), want)
		}
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("database: [unclosed"))
	if err == nil {
		t.Fatal("expected parse error")
	}
	if !strings.Contains(err.Error(), "config: parse") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "config: parse")
	}
}

func TestLoad_ValidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docyard.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.DSN != "/tmp/docyard.db" {
		t.Errorf("Database.DSN = %q", cfg.Database.DSN)
	}
}

func TestLoad_DotEnvNextToConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docyard.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(EnvStorageSecretKey+"=dotenv-secret\n"), 0600); err != nil {
		t.Fatal(err)
	}
	// Registers cleanup of the variable godotenv is about to set.
	t.Setenv(EnvStorageSecretKey, "")
	os.Unsetenv(EnvStorageSecretKey)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Storage.SecretKey != "dotenv-secret" {
		t.Errorf("Storage.SecretKey = %q, want %q", cfg.Storage.SecretKey, "dotenv-secret")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/docyard.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "config: read") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "config: read")
	}
}
