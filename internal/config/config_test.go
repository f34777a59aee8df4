package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
catalog:
  base_url: https://gateway.example
  locale: de_DE
  device: bacon
  delay: 2s
crawler:
  workers: 6
  relogin_backoff: 1m
  max_crashes: 3
checkpoint:
  backend: redis
  redis_addr: localhost:6379
storage:
  backend: gcs
  bucket: outputs
  prefix: crawl
progress:
  kafka_brokers: ["k1:9092", "k2:9092"]
  kafka_topic: crawl-progress
server:
  listen: ":9090"
logging:
  development: true
  level: debug
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(NewViper(), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Catalog.Locale != "de_DE" || cfg.Catalog.Device != "bacon" {
		t.Fatalf("expected catalog overrides, got %+v", cfg.Catalog)
	}
	if cfg.Catalog.Timezone != "UTC" {
		t.Fatalf("expected default timezone, got %q", cfg.Catalog.Timezone)
	}
	if cfg.Catalog.Delay != 2*time.Second {
		t.Fatalf("expected 2s delay, got %v", cfg.Catalog.Delay)
	}
	if cfg.Crawler.Workers != 6 || cfg.Crawler.ReloginBackoff != time.Minute || cfg.Crawler.MaxCrashes != 3 {
		t.Fatalf("expected crawler overrides, got %+v", cfg.Crawler)
	}
	if cfg.Checkpoint.Backend != "redis" || cfg.Checkpoint.RedisKeyPrefix != "catalog-crawler:" {
		t.Fatalf("expected redis checkpoints with default prefix, got %+v", cfg.Checkpoint)
	}
	if cfg.Storage.Bucket != "outputs" || cfg.Storage.Prefix != "crawl" {
		t.Fatalf("expected storage overrides, got %+v", cfg.Storage)
	}
	if len(cfg.Progress.KafkaBrokers) != 2 || cfg.Progress.KafkaTopic != "crawl-progress" {
		t.Fatalf("expected kafka progress settings, got %+v", cfg.Progress)
	}
	if cfg.Server.Listen != ":9090" {
		t.Fatalf("expected listen :9090, got %q", cfg.Server.Listen)
	}
	if !cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("expected logging overrides, got %+v", cfg.Logging)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	v := NewViper()
	v.Set("catalog.base_url", "https://gateway.example")
	cfg, err := Load(v, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Catalog.Delay != 510*time.Millisecond {
		t.Fatalf("expected 510ms delay, got %v", cfg.Catalog.Delay)
	}
	if cfg.Crawler.Workers != 2 || cfg.Crawler.ReloginBackoff != 180*time.Second {
		t.Fatalf("unexpected crawler defaults: %+v", cfg.Crawler)
	}
	if cfg.Checkpoint.Backend != "file" || cfg.Storage.Backend != "local" {
		t.Fatalf("unexpected backend defaults: %+v %+v", cfg.Checkpoint, cfg.Storage)
	}
	if cfg.Server.Listen != "" {
		t.Fatalf("expected status server disabled by default, got %q", cfg.Server.Listen)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CATALOG_CATALOG_BASE_URL", "https://env.example")
	t.Setenv("CATALOG_CATALOG_TOKEN", "secret-token")
	t.Setenv("CATALOG_CATALOG_GSF_ID", "1234")
	t.Setenv("CATALOG_CRAWLER_WORKERS", "8")

	cfg, err := Load(NewViper(), "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Catalog.BaseURL != "https://env.example" {
		t.Fatalf("expected base url from env, got %q", cfg.Catalog.BaseURL)
	}
	if cfg.Catalog.Token != "secret-token" || cfg.Catalog.GSFID != "1234" {
		t.Fatalf("expected credentials from env, got %+v", cfg.Catalog)
	}
	if cfg.Crawler.Workers != 8 {
		t.Fatalf("expected 8 workers, got %d", cfg.Crawler.Workers)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(NewViper(), filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Catalog:    CatalogConfig{BaseURL: "https://gateway.example"},
		Crawler:    CrawlerConfig{Workers: 1, MaxItemAttempts: 1, ReloginBackoff: time.Second},
		Checkpoint: CheckpointConfig{Backend: "file"},
		Storage:    StorageConfig{Backend: "local"},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing base url", func(c *Config) { c.Catalog.BaseURL = "" }, "catalog.base_url"},
		{"negative delay", func(c *Config) { c.Catalog.Delay = -time.Second }, "catalog.delay"},
		{"no workers", func(c *Config) { c.Crawler.Workers = 0 }, "crawler.workers"},
		{"no attempts", func(c *Config) { c.Crawler.MaxItemAttempts = 0 }, "crawler.max_item_attempts"},
		{"no relogin backoff", func(c *Config) { c.Crawler.ReloginBackoff = 0 }, "crawler.relogin_backoff"},
		{"unknown checkpoint backend", func(c *Config) { c.Checkpoint.Backend = "s3" }, "checkpoint.backend"},
		{"gcs checkpoints without bucket", func(c *Config) { c.Checkpoint.Backend = "gcs" }, "checkpoint.bucket"},
		{"redis without addr", func(c *Config) { c.Checkpoint.Backend = "redis" }, "checkpoint.redis_addr"},
		{"postgres without dsn", func(c *Config) { c.Checkpoint.Backend = "postgres" }, "checkpoint.postgres_dsn"},
		{"unknown storage backend", func(c *Config) { c.Storage.Backend = "ftp" }, "storage.backend"},
		{"gcs storage without bucket", func(c *Config) { c.Storage.Backend = "gcs" }, "storage.bucket"},
		{"half pubsub", func(c *Config) { c.Progress.PubSubTopic = "events" }, "progress.pubsub_project"},
		{"kafka without brokers", func(c *Config) { c.Progress.KafkaTopic = "progress" }, "progress.kafka_brokers"},
		{"bad level", func(c *Config) { c.Logging.Level = "chatty" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
