// Package config provides YAML-based configuration loading for Docyard.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zulandar/docyard/internal/jobtype"
	"gopkg.in/yaml.v3"
)

// Config is the top-level Docyard configuration, loaded from docyard.yaml.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Worker   WorkerConfig   `yaml:"worker"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Tools    ToolsConfig    `yaml:"tools"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig selects the job record store backend.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// StorageConfig selects the object store and its local fallback.
type StorageConfig struct {
	Backend   string        `yaml:"backend"`
	Endpoint  string        `yaml:"endpoint"`
	Region    string        `yaml:"region"`
	AccessKey string        `yaml:"access_key"`
	SecretKey string        `yaml:"secret_key"`
	UseSSL    bool          `yaml:"use_ssl"`
	LocalDir  string        `yaml:"local_dir"`
	UploadDir string        `yaml:"upload_dir"`
	Fallback  *bool         `yaml:"fallback"`
	Buckets   BucketsConfig `yaml:"buckets"`
}

// FallbackEnabled reports whether failed object store writes degrade to LocalDir.
func (s StorageConfig) FallbackEnabled() bool {
	return s.Fallback == nil || *s.Fallback
}

// BucketsConfig names the bucket for each artifact family.
type BucketsConfig struct {
	Originals  string `yaml:"originals"`
	Thumbnails string `yaml:"thumbnails"`
	Tiles      string `yaml:"tiles"`
	OCR        string `yaml:"ocr"`
}

// DispatchConfig controls job ordering and submission delays.
type DispatchConfig struct {
	Mode             string        `yaml:"mode"`
	ConvertBaseDelay time.Duration `yaml:"convert_base_delay"`
	PDFBaseDelay     time.Duration `yaml:"pdf_base_delay"`
	Stagger          time.Duration `yaml:"stagger"`
	BulkStagger      time.Duration `yaml:"bulk_stagger"`
}

// Dispatch modes.
const (
	ModeDelay = "delay"
	ModeGraph = "graph"
)

// Limits are the execution time limits and retry ceiling of one job type.
// A nil MaxRetries inherits the worker-wide setting.
type Limits struct {
	Soft       time.Duration `yaml:"soft"`
	Hard       time.Duration `yaml:"hard"`
	MaxRetries *int          `yaml:"max_retries"`
}

// Retry ceilings used when max_retries is not configured.
const (
	DefaultMaxRetries = 3
	DefaultOCRRetries = 2
)

// WorkerConfig controls the worker pool.
type WorkerConfig struct {
	ID                string            `yaml:"id"`
	Concurrency       int               `yaml:"concurrency"`
	PollInterval      time.Duration     `yaml:"poll_interval"`
	HeartbeatInterval time.Duration     `yaml:"heartbeat_interval"`
	ActiveWindow      time.Duration     `yaml:"active_window"`
	MaxRetries        *int              `yaml:"max_retries"`
	RetryBackoff      time.Duration     `yaml:"retry_backoff"`
	DefaultLimits     Limits            `yaml:"default_limits"`
	Limits            map[string]Limits `yaml:"limits"`
}

// LimitsFor returns the execution limits for job type t.
func (w WorkerConfig) LimitsFor(t jobtype.Type) Limits {
	if l, ok := w.Limits[string(t)]; ok {
		if l.Soft == 0 {
			l.Soft = w.DefaultLimits.Soft
		}
		if l.Hard == 0 {
			l.Hard = w.DefaultLimits.Hard
		}
		return l
	}
	return w.DefaultLimits
}

// RetriesFor returns the retry ceiling for job type t. A per-type setting wins
// over the worker-wide one; an explicit 0 disables retries.
func (w WorkerConfig) RetriesFor(t jobtype.Type) int {
	if l, ok := w.Limits[string(t)]; ok && l.MaxRetries != nil {
		return *l.MaxRetries
	}
	if w.MaxRetries != nil {
		return *w.MaxRetries
	}
	if t == jobtype.OCR {
		return DefaultOCRRetries
	}
	return DefaultMaxRetries
}

// MonitorConfig controls the stuck-job sweep.
type MonitorConfig struct {
	Schedule       string        `yaml:"schedule"`
	RuntimeCeiling time.Duration `yaml:"runtime_ceiling"`
	QueuedCeiling  time.Duration `yaml:"queued_ceiling"`
}

// ToolsConfig names the external programs used by the handlers.
type ToolsConfig struct {
	Soffice      string `yaml:"soffice"`
	Pdftoppm     string `yaml:"pdftoppm"`
	Tesseract    string `yaml:"tesseract"`
	DPI          int    `yaml:"dpi"`
	ThumbnailDPI int    `yaml:"thumbnail_dpi"`
	OCRLang      string `yaml:"ocr_lang"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a YAML config file from path and returns a validated Config.
// A .env file next to the config, if present, is loaded into the environment
// before overrides are applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := LoadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		switch c.Database.Driver {
		case "postgres":
			c.Database.Port = 5432
		default:
			c.Database.Port = 3306
		}
	}
	if c.Database.Name == "" {
		c.Database.Name = "docyard"
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = "fs"
	}
	if c.Storage.Region == "" {
		c.Storage.Region = "us-east-1"
	}
	if c.Storage.LocalDir == "" {
		c.Storage.LocalDir = "processed"
	}
	if c.Storage.UploadDir == "" {
		c.Storage.UploadDir = "uploads"
	}
	b := &c.Storage.Buckets
	if b.Originals == "" {
		b.Originals = "originals"
	}
	if b.Thumbnails == "" {
		b.Thumbnails = "thumbnails"
	}
	if b.Tiles == "" {
		b.Tiles = "tiles"
	}
	if b.OCR == "" {
		b.OCR = "ocr"
	}

	if c.Dispatch.Mode == "" {
		c.Dispatch.Mode = ModeDelay
	}
	if c.Dispatch.ConvertBaseDelay == 0 {
		c.Dispatch.ConvertBaseDelay = 30 * time.Second
	}
	if c.Dispatch.PDFBaseDelay == 0 {
		c.Dispatch.PDFBaseDelay = 5 * time.Second
	}
	if c.Dispatch.Stagger == 0 {
		c.Dispatch.Stagger = 2 * time.Second
	}
	if c.Dispatch.BulkStagger == 0 {
		c.Dispatch.BulkStagger = 3 * time.Second
	}

	w := &c.Worker
	if w.Concurrency == 0 {
		w.Concurrency = 4
	}
	if w.PollInterval == 0 {
		w.PollInterval = time.Second
	}
	if w.HeartbeatInterval == 0 {
		w.HeartbeatInterval = 10 * time.Second
	}
	if w.ActiveWindow == 0 {
		w.ActiveWindow = 3 * w.HeartbeatInterval
	}
	if w.RetryBackoff == 0 {
		w.RetryBackoff = 60 * time.Second
	}
	if w.DefaultLimits.Soft == 0 {
		w.DefaultLimits.Soft = 25 * time.Minute
	}
	if w.DefaultLimits.Hard == 0 {
		w.DefaultLimits.Hard = 30 * time.Minute
	}
	if w.Limits == nil {
		w.Limits = map[string]Limits{}
	}
	if _, ok := w.Limits[string(jobtype.OCR)]; !ok {
		w.Limits[string(jobtype.OCR)] = Limits{Soft: 8 * time.Minute, Hard: 10 * time.Minute}
	}

	if c.Monitor.Schedule == "" {
		c.Monitor.Schedule = "@every 5m"
	}
	if c.Monitor.RuntimeCeiling == 0 {
		c.Monitor.RuntimeCeiling = 20 * time.Minute
	}
	if c.Monitor.QueuedCeiling == 0 {
		c.Monitor.QueuedCeiling = 30 * time.Minute
	}

	if c.Tools.Soffice == "" {
		c.Tools.Soffice = "soffice"
	}
	if c.Tools.Pdftoppm == "" {
		c.Tools.Pdftoppm = "pdftoppm"
	}
	if c.Tools.Tesseract == "" {
		c.Tools.Tesseract = "tesseract"
	}
	if c.Tools.DPI == 0 {
		c.Tools.DPI = 300
	}
	if c.Tools.ThumbnailDPI == 0 {
		c.Tools.ThumbnailDPI = 72
	}
	if c.Tools.OCRLang == "" {
		c.Tools.OCRLang = "eng"
	}

	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "mysql", "postgres":
	case "sqlite":
		if c.Database.DSN == "" {
			errs = append(errs, "database.dsn is required for sqlite")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not one of mysql, postgres, sqlite", c.Database.Driver))
	}

	switch c.Storage.Backend {
	case "fs":
	case "s3", "minio":
		if c.Storage.Endpoint == "" && c.Storage.Backend == "minio" {
			errs = append(errs, "storage.endpoint is required for minio")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.backend %q is not one of fs, s3, minio", c.Storage.Backend))
	}

	if c.Dispatch.Mode != ModeDelay && c.Dispatch.Mode != ModeGraph {
		errs = append(errs, fmt.Sprintf("dispatch.mode %q is not one of delay, graph", c.Dispatch.Mode))
	}
	if c.Dispatch.ConvertBaseDelay < 0 || c.Dispatch.PDFBaseDelay < 0 || c.Dispatch.Stagger < 0 || c.Dispatch.BulkStagger < 0 {
		errs = append(errs, "dispatch delays must not be negative")
	}

	if c.Worker.Concurrency < 0 {
		errs = append(errs, "worker.concurrency must not be negative")
	}
	if c.Worker.MaxRetries != nil && *c.Worker.MaxRetries < 0 {
		errs = append(errs, "worker.max_retries must not be negative")
	}
	if c.Worker.DefaultLimits.Soft > c.Worker.DefaultLimits.Hard {
		errs = append(errs, "worker.default_limits.soft must not exceed hard")
	}
	for name := range c.Worker.Limits {
		t, err := jobtype.Parse(name)
		if err != nil {
			errs = append(errs, fmt.Sprintf("worker.limits: unknown job type %q", name))
			continue
		}
		if l := c.Worker.LimitsFor(t); l.Soft > l.Hard {
			errs = append(errs, fmt.Sprintf("worker.limits.%s.soft must not exceed hard", name))
		}
		if c.Worker.RetriesFor(t) < 0 {
			errs = append(errs, fmt.Sprintf("worker.limits.%s.max_retries must not be negative", name))
		}
	}

	if c.Monitor.RuntimeCeiling <= 0 {
		errs = append(errs, "monitor.runtime_ceiling must be positive")
	}
	if c.Tools.DPI <= 0 || c.Tools.ThumbnailDPI <= 0 {
		errs = append(errs, "tools.dpi and tools.thumbnail_dpi must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
