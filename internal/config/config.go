// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. SITERAG_SERVER_PORT.
const EnvPrefix = "SITERAG"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	OCR        OCRConfig        `mapstructure:"ocr"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding"`
	Generation GenerationConfig `mapstructure:"generation"`
	Vector     VectorConfig     `mapstructure:"vector"`
	Schedule   ScheduleConfig   `mapstructure:"schedule"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int      `mapstructure:"port"`
	ServiceName           string   `mapstructure:"service_name"`
	CORSOrigins           []string `mapstructure:"cors_origins"`
	RequestTimeoutSeconds int      `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs the crawl scope and the worker pool.
type CrawlerConfig struct {
	SeedURL             string `mapstructure:"seed_url"`
	ScopeDomain         string `mapstructure:"scope_domain"`
	SiteName            string `mapstructure:"site_name"`
	VisitCap            int    `mapstructure:"visit_cap"`
	Concurrency         int    `mapstructure:"concurrency"`
	QueueDepth          int    `mapstructure:"queue_depth"`
	UserAgent           string `mapstructure:"user_agent"`
	DocumentParallelism int    `mapstructure:"document_parallelism"`
	MaxDocumentsPerPage int    `mapstructure:"max_documents_per_page"`
	JobTimeoutMinutes   int    `mapstructure:"job_timeout_minutes"`
}

// HTTPConfig configures page and document fetches.
type HTTPConfig struct {
	TimeoutSeconds         int `mapstructure:"timeout_seconds"`
	DocumentTimeoutSeconds int `mapstructure:"document_timeout_seconds"`
	MaxBodyMB              int `mapstructure:"max_body_mb"`
}

// HeadlessConfig configures the headless rendering fallback.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int  `mapstructure:"promotion_threshold"`
}

// OCRConfig configures image text recognition.
type OCRConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Binary         string `mapstructure:"binary"`
	Language       string `mapstructure:"language"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// EmbeddingConfig points at the embedding service.
type EmbeddingConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	Model          string `mapstructure:"model"`
	Dimension      int    `mapstructure:"dimension"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// GenerationConfig points at the text generation service.
type GenerationConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// VectorConfig selects and configures the vector index.
type VectorConfig struct {
	Backend        string `mapstructure:"backend"`
	URL            string `mapstructure:"url"`
	APIKey         string `mapstructure:"api_key"`
	Collection     string `mapstructure:"collection"`
	BatchSize      int    `mapstructure:"batch_size"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ScheduleConfig controls the recurring crawl.
type ScheduleConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Cron     string `mapstructure:"cron"`
	Timezone string `mapstructure:"timezone"`
}

// StorageConfig selects the job registry backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
}

// DatabaseConfig controls access to Postgres.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// ArchiveConfig controls raw body archiving.
type ArchiveConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Backend  string `mapstructure:"backend"`
	Prefix   string `mapstructure:"prefix"`
	LocalDir string `mapstructure:"local_dir"`
	Bucket   string `mapstructure:"bucket"`
}

// PubSubConfig holds metadata for index notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment. With an empty path it looks for
// config.yaml in the working directory, /etc/siterag and $HOME/.siterag, and
// falls back to defaults plus environment when none exists.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/siterag/")
		v.AddConfigPath("$HOME/.siterag")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
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
	v.SetDefault("server.port", 8001)
	v.SetDefault("server.service_name", "Site RAG System API")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.request_timeout_seconds", 120)
	v.SetDefault("crawler.seed_url", "https://scouts.ca")
	v.SetDefault("crawler.scope_domain", "scouts.ca")
	v.SetDefault("crawler.site_name", "Scouts Canada")
	v.SetDefault("crawler.visit_cap", 1000)
	v.SetDefault("crawler.concurrency", 2)
	v.SetDefault("crawler.queue_depth", 16)
	v.SetDefault("crawler.user_agent", "Mozilla/5.0 (compatible; site-rag/0.1)")
	v.SetDefault("crawler.document_parallelism", 4)
	v.SetDefault("crawler.max_documents_per_page", 25)
	v.SetDefault("crawler.job_timeout_minutes", 0)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.document_timeout_seconds", 30)
	v.SetDefault("http.max_body_mb", 50)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 100)
	v.SetDefault("ocr.enabled", true)
	v.SetDefault("ocr.binary", "tesseract")
	v.SetDefault("ocr.language", "eng")
	v.SetDefault("ocr.timeout_seconds", 60)
	v.SetDefault("embedding.base_url", "http://localhost:11434")
	v.SetDefault("embedding.model", "nomic-embed-text")
	v.SetDefault("embedding.dimension", 768)
	v.SetDefault("embedding.timeout_seconds", 30)
	v.SetDefault("generation.base_url", "http://localhost:11434")
	v.SetDefault("generation.model", "llama3.1:8b")
	v.SetDefault("generation.timeout_seconds", 60)
	v.SetDefault("vector.backend", "qdrant")
	v.SetDefault("vector.url", "http://localhost:6333")
	v.SetDefault("vector.collection", "scouts_canada_docs")
	v.SetDefault("vector.batch_size", 1)
	v.SetDefault("vector.timeout_seconds", 30)
	v.SetDefault("schedule.enabled", true)
	v.SetDefault("schedule.cron", "0 2 * * 0")
	v.SetDefault("schedule.timezone", "UTC")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("database.table", "crawl_jobs")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.max_conn_lifetime", time.Hour)
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.backend", "memory")
	v.SetDefault("archive.prefix", "raw")
	v.SetDefault("archive.local_dir", "./data/raw")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.SeedURL == "" {
		return fmt.Errorf("crawler.seed_url is required")
	}
	if c.Crawler.VisitCap <= 0 {
		return fmt.Errorf("crawler.visit_cap must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be > 0")
	}
	if c.Vector.Collection == "" {
		return fmt.Errorf("vector.collection is required")
	}
	switch c.Vector.Backend {
	case "qdrant":
		if c.Vector.URL == "" {
			return fmt.Errorf("vector.url is required for the qdrant backend")
		}
	case "memory":
	default:
		return fmt.Errorf("vector.backend %q must be qdrant or memory", c.Vector.Backend)
	}
	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend %q must be memory or postgres", c.Storage.Backend)
	}
	if c.Archive.Enabled {
		switch c.Archive.Backend {
		case "memory", "local":
		case "gcs":
			if c.Archive.Bucket == "" {
				return fmt.Errorf("archive.bucket is required for the gcs backend")
			}
		default:
			return fmt.Errorf("archive.backend %q must be memory, local or gcs", c.Archive.Backend)
		}
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id is required when pubsub.topic_name is set")
	}
	return nil
}

// PageTimeout is the per-page fetch deadline.
func (c Config) PageTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// DocumentTimeout is the per-document fetch deadline.
func (c Config) DocumentTimeout() time.Duration {
	if c.HTTP.DocumentTimeoutSeconds <= 0 {
		return c.PageTimeout()
	}
	return time.Duration(c.HTTP.DocumentTimeoutSeconds) * time.Second
}

// JobTimeout caps a whole crawl; zero disables the cap.
func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.Crawler.JobTimeoutMinutes) * time.Minute
}

// Location resolves the schedule timezone, falling back to UTC.
func (c Config) Location() *time.Location {
	if c.Schedule.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Seconds converts a whole-second knob to a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
