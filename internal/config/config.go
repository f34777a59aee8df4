// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/catalog-crawler/internal/logging"
)

// EnvPrefix prefixes every environment override, e.g. CATALOG_CATALOG_TOKEN.
const EnvPrefix = "CATALOG"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Catalog    CatalogConfig    `mapstructure:"catalog"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Progress   ProgressConfig   `mapstructure:"progress"`
	Runs       RunsConfig       `mapstructure:"runs"`
	Graph      GraphConfig      `mapstructure:"graph"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// CatalogConfig locates the catalog gateway and identifies the device the
// crawler logs in as.
type CatalogConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Locale         string        `mapstructure:"locale"`
	Timezone       string        `mapstructure:"timezone"`
	Device         string        `mapstructure:"device"`
	Delay          time.Duration `mapstructure:"delay"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Token          string        `mapstructure:"token"`
	GSFID          string        `mapstructure:"gsf_id"`
}

// CrawlerConfig governs the worker pool and its retry budgets.
type CrawlerConfig struct {
	Workers            int           `mapstructure:"workers"`
	MaxItemAttempts    int           `mapstructure:"max_item_attempts"`
	RetryBaseDelay     time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay      time.Duration `mapstructure:"retry_max_delay"`
	ReloginBackoff     time.Duration `mapstructure:"relogin_backoff"`
	ReloginMaxAttempts int           `mapstructure:"relogin_max_attempts"`
	RespawnDelay       time.Duration `mapstructure:"respawn_delay"`
	MaxCrashes         int           `mapstructure:"max_crashes"`
	// CheckpointEvery overrides the strategy's rolling checkpoint cadence
	// when positive.
	CheckpointEvery int `mapstructure:"checkpoint_every"`
}

// CheckpointConfig selects where crawl snapshots live.
type CheckpointConfig struct {
	Backend        string `mapstructure:"backend"`
	Dir            string `mapstructure:"dir"`
	Bucket         string `mapstructure:"bucket"`
	Prefix         string `mapstructure:"prefix"`
	RedisAddr      string `mapstructure:"redis_addr"`
	RedisKeyPrefix string `mapstructure:"redis_key_prefix"`
	PostgresDSN    string `mapstructure:"postgres_dsn"`
	PostgresTable  string `mapstructure:"postgres_table"`
}

// StorageConfig selects where chart listings, metadata and payloads are written.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	BaseDir string `mapstructure:"base_dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// ProgressConfig enables milestone notifications. Pub/Sub needs both project
// and topic; Kafka needs brokers and topic.
type ProgressConfig struct {
	PubSubProject string   `mapstructure:"pubsub_project"`
	PubSubTopic   string   `mapstructure:"pubsub_topic"`
	KafkaBrokers  []string `mapstructure:"kafka_brokers"`
	KafkaTopic    string   `mapstructure:"kafka_topic"`
}

// RunsConfig stores run history in Postgres; without a DSN history is kept in memory.
type RunsConfig struct {
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// GraphConfig enables the Neo4j related-item graph when URI is set.
type GraphConfig struct {
	Neo4jURI      string `mapstructure:"neo4j_uri"`
	Neo4jUser     string `mapstructure:"neo4j_user"`
	Neo4jPassword string `mapstructure:"neo4j_password"`
	Neo4jDatabase string `mapstructure:"neo4j_database"`
}

// ServerConfig controls the optional status server. An empty Listen disables it.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
	APIKey string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features and verbosity.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// NewViper returns a viper instance with env overrides and defaults applied.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load builds a Config from v, reading path first when it is not empty.
// A nil v starts from NewViper.
func Load(v *viper.Viper, path string) (Config, error) {
	if v == nil {
		v = NewViper()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("catalog.base_url", "")
	v.SetDefault("catalog.locale", "en_US")
	v.SetDefault("catalog.timezone", "UTC")
	v.SetDefault("catalog.device", "px_3a")
	v.SetDefault("catalog.delay", "510ms")
	v.SetDefault("catalog.request_timeout", "30s")
	v.SetDefault("catalog.token", "")
	v.SetDefault("catalog.gsf_id", "")
	v.SetDefault("crawler.workers", 2)
	v.SetDefault("crawler.max_item_attempts", 5)
	v.SetDefault("crawler.retry_base_delay", "1s")
	v.SetDefault("crawler.retry_max_delay", "30s")
	v.SetDefault("crawler.relogin_backoff", "180s")
	v.SetDefault("crawler.relogin_max_attempts", 0)
	v.SetDefault("crawler.respawn_delay", "1s")
	v.SetDefault("crawler.max_crashes", 10)
	v.SetDefault("crawler.checkpoint_every", 0)
	v.SetDefault("checkpoint.backend", "file")
	v.SetDefault("checkpoint.dir", ".")
	v.SetDefault("checkpoint.bucket", "")
	v.SetDefault("checkpoint.prefix", "checkpoints")
	v.SetDefault("checkpoint.redis_addr", "")
	v.SetDefault("checkpoint.redis_key_prefix", "catalog-crawler:")
	v.SetDefault("checkpoint.postgres_dsn", "")
	v.SetDefault("checkpoint.postgres_table", "crawl_checkpoints")
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.base_dir", ".")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("progress.pubsub_project", "")
	v.SetDefault("progress.pubsub_topic", "")
	v.SetDefault("runs.postgres_dsn", "")
	v.SetDefault("graph.neo4j_uri", "")
	v.SetDefault("graph.neo4j_user", "")
	v.SetDefault("graph.neo4j_password", "")
	v.SetDefault("graph.neo4j_database", "")
	v.SetDefault("server.listen", "")
	v.SetDefault("server.api_key", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Catalog.BaseURL == "" {
		return fmt.Errorf("catalog.base_url is required")
	}
	if c.Catalog.Delay < 0 {
		return fmt.Errorf("catalog.delay must be >= 0")
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.Crawler.MaxItemAttempts <= 0 {
		return fmt.Errorf("crawler.max_item_attempts must be > 0")
	}
	if c.Crawler.ReloginBackoff <= 0 {
		return fmt.Errorf("crawler.relogin_backoff must be > 0")
	}
	if c.Crawler.CheckpointEvery < 0 {
		return fmt.Errorf("crawler.checkpoint_every must be >= 0")
	}
	switch c.Checkpoint.Backend {
	case "file", "memory":
	case "gcs":
		if c.Checkpoint.Bucket == "" {
			return fmt.Errorf("checkpoint.bucket must be set when checkpoint.backend is gcs")
		}
	case "redis":
		if c.Checkpoint.RedisAddr == "" {
			return fmt.Errorf("checkpoint.redis_addr must be set when checkpoint.backend is redis")
		}
	case "postgres":
		if c.Checkpoint.PostgresDSN == "" {
			return fmt.Errorf("checkpoint.postgres_dsn must be set when checkpoint.backend is postgres")
		}
	default:
		return fmt.Errorf("unknown checkpoint.backend %q", c.Checkpoint.Backend)
	}
	switch c.Storage.Backend {
	case "local", "memory":
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set when storage.backend is gcs")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if (c.Progress.PubSubProject == "") != (c.Progress.PubSubTopic == "") {
		return fmt.Errorf("progress.pubsub_project and progress.pubsub_topic must be set together")
	}
	if (len(c.Progress.KafkaBrokers) == 0) != (c.Progress.KafkaTopic == "") {
		return fmt.Errorf("progress.kafka_brokers and progress.kafka_topic must be set together")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}
