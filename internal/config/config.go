// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/menu-harvester/internal/crawler"
)

// Storage backends understood by storage.backend.
const (
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// Classifier providers understood by classifier.provider.
const (
	ClassifierOpenAI  = "openai"
	ClassifierKeyword = "keyword"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Content    ContentConfig    `mapstructure:"content"`
	Chunking   ChunkingConfig   `mapstructure:"chunking"`
	Documents  DocumentsConfig  `mapstructure:"documents"`
	Storage    StorageConfig    `mapstructure:"storage"`
	DB         DBConfig         `mapstructure:"db"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs the crawl engine and the job worker pool.
type CrawlerConfig struct {
	UserAgent            string   `mapstructure:"user_agent"`
	RespectRobots        bool     `mapstructure:"respect_robots"`
	MaxDepthDefault      int      `mapstructure:"max_depth_default"`
	MaxWorkersDefault    int      `mapstructure:"max_workers_default"`
	RenderTimeoutSeconds int      `mapstructure:"render_timeout_seconds"`
	DocumentExtensions   []string `mapstructure:"document_extensions"`
	LinkStrictness       string   `mapstructure:"link_strictness"`
	ClassifyBatchSize    int      `mapstructure:"classify_batch_size"`
	FollowOnlyRelevant   bool     `mapstructure:"follow_only_relevant"`
	// Workers is the number of jobs processed concurrently.
	Workers    int `mapstructure:"workers"`
	QueueDepth int `mapstructure:"queue_depth"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	MaxParallel        int    `mapstructure:"max_parallel"`
	NavTimeoutSeconds  int    `mapstructure:"nav_timeout_seconds"`
	MaxScrolls         int    `mapstructure:"max_scrolls"`
	ScrollPauseMillis  int    `mapstructure:"scroll_pause_ms"`
	RevealHidden       bool   `mapstructure:"reveal_hidden"`
	MergeFrames        bool   `mapstructure:"merge_frames"`
	PromotionThreshold int    `mapstructure:"promotion_threshold"`
	ExecPath           string `mapstructure:"exec_path"`
}

// HTTPConfig configures the static fetcher and robots client.
type HTTPConfig struct {
	TimeoutSeconds       int `mapstructure:"timeout_seconds"`
	MaxBodyBytes         int `mapstructure:"max_body_bytes"`
	RobotsTimeoutSeconds int `mapstructure:"robots_timeout_seconds"`
}

// ClassifierConfig selects and tunes the relevance classifier.
type ClassifierConfig struct {
	Provider        string `mapstructure:"provider"`
	APIURL          string `mapstructure:"api_url"`
	APIKey          string `mapstructure:"api_key"`
	Model           string `mapstructure:"model"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
	PreviewLength   int    `mapstructure:"preview_length"`
	KeywordFallback bool   `mapstructure:"keyword_fallback"`
}

// ContentConfig tunes content-line extraction.
type ContentConfig struct {
	Topic      string `mapstructure:"topic"`
	Strictness string `mapstructure:"strictness"`
	Window     int    `mapstructure:"window"`
	BatchSize  int    `mapstructure:"batch_size"`
}

// ChunkingConfig sets default chunk sizes for jobs that do not specify them.
type ChunkingConfig struct {
	Size    int `mapstructure:"size"`
	Overlap int `mapstructure:"overlap"`
}

// DocumentsConfig controls linked document extraction.
type DocumentsConfig struct {
	Enabled        bool  `mapstructure:"enabled"`
	Workers        int   `mapstructure:"workers"`
	MaxDocuments   int   `mapstructure:"max_documents"`
	MaxBytes       int64 `mapstructure:"max_bytes"`
	TimeoutSeconds int   `mapstructure:"timeout_seconds"`
}

// StorageConfig selects where result blobs are written.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`

	// GCSCacheControl is sent as the Cache-Control header of result objects.
	GCSCacheControl string `mapstructure:"gcs_cache_control"`
}

// DBConfig controls access to Postgres. An empty DSN keeps jobs in memory
// and skips chunk persistence.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	ChunkTable             string `mapstructure:"chunk_table"`
	EnsureSchema           bool   `mapstructure:"ensure_schema"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// RateLimitConfig bounds render requests per host.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig controls the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment. Environment variables use the
// HARVEST_ prefix, e.g. HARVEST_CLASSIFIER_API_KEY.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("crawler.user_agent", "menu-harvester/0.1")
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.max_depth_default", 2)
	v.SetDefault("crawler.max_workers_default", 4)
	v.SetDefault("crawler.render_timeout_seconds", 30)
	v.SetDefault("crawler.document_extensions", []string{".pdf"})
	v.SetDefault("crawler.link_strictness", string(crawler.StrictnessCertain))
	v.SetDefault("crawler.classify_batch_size", 50)
	v.SetDefault("crawler.follow_only_relevant", false)
	v.SetDefault("crawler.workers", 2)
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.max_scrolls", 10)
	v.SetDefault("headless.scroll_pause_ms", 500)
	v.SetDefault("headless.reveal_hidden", true)
	v.SetDefault("headless.merge_frames", true)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("headless.exec_path", "")
	v.SetDefault("http.timeout_seconds", 20)
	v.SetDefault("http.max_body_bytes", 10<<20)
	v.SetDefault("http.robots_timeout_seconds", 10)
	v.SetDefault("classifier.provider", ClassifierKeyword)
	v.SetDefault("classifier.api_url", "https://api.openai.com/v1")
	v.SetDefault("classifier.api_key", "")
	v.SetDefault("classifier.model", "gpt-4o-mini")
	v.SetDefault("classifier.timeout_seconds", 60)
	v.SetDefault("classifier.preview_length", 30)
	v.SetDefault("classifier.keyword_fallback", true)
	v.SetDefault("content.topic", "")
	v.SetDefault("content.strictness", string(crawler.StrictnessCertain))
	v.SetDefault("content.window", 5)
	v.SetDefault("content.batch_size", 50)
	v.SetDefault("chunking.size", 500)
	v.SetDefault("chunking.overlap", 100)
	v.SetDefault("documents.enabled", true)
	v.SetDefault("documents.workers", 2)
	v.SetDefault("documents.max_documents", 20)
	v.SetDefault("documents.max_bytes", 20<<20)
	v.SetDefault("documents.timeout_seconds", 60)
	v.SetDefault("storage.backend", StorageMemory)
	v.SetDefault("storage.local_dir", "")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.gcs_cache_control", "no-cache")
	v.SetDefault("storage.prefix", "results")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("db.chunk_table", "menu_chunks")
	v.SetDefault("db.ensure_schema", true)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("ratelimit.rps", 1.0)
	v.SetDefault("ratelimit.burst", 2)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "menu-harvester")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.Crawler.MaxDepthDefault < 0 || c.Crawler.MaxWorkersDefault <= 0 {
		return fmt.Errorf("crawler.max_depth_default must be >= 0 and crawler.max_workers_default > 0")
	}
	if s := crawler.Strictness(c.Crawler.LinkStrictness); s != "" && !s.Valid() {
		return fmt.Errorf("crawler.link_strictness %q is not one of certain, likely, even remote", s)
	}
	if s := crawler.Strictness(c.Content.Strictness); s != "" && !s.Valid() {
		return fmt.Errorf("content.strictness %q is not one of certain, likely, even remote", s)
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Classifier.Provider {
	case ClassifierKeyword:
	case ClassifierOpenAI:
		if c.Classifier.APIKey == "" {
			return fmt.Errorf("classifier.api_key must be set for the openai provider")
		}
	default:
		return fmt.Errorf("classifier.provider %q must be openai or keyword", c.Classifier.Provider)
	}
	if c.Chunking.Size <= 0 {
		return fmt.Errorf("chunking.size must be > 0")
	}
	if c.Chunking.Overlap < 0 {
		return fmt.Errorf("chunking.overlap must be >= 0")
	}
	switch c.Storage.Backend {
	case StorageMemory:
	case StorageLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case StorageGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q must be memory, local or gcs", c.Storage.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is")
	}
	return nil
}

// RenderTimeout is the per-page render budget.
func (c Config) RenderTimeout() time.Duration {
	return seconds(c.Crawler.RenderTimeoutSeconds)
}

// HTTPTimeout is the static fetch budget.
func (c Config) HTTPTimeout() time.Duration {
	return seconds(c.HTTP.TimeoutSeconds)
}

// RequestTimeout bounds each API request.
func (c Config) RequestTimeout() time.Duration {
	return seconds(c.Server.RequestTimeoutSeconds)
}

// ShutdownTimeout bounds graceful server shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return seconds(c.Server.ShutdownTimeoutSeconds)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
