// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig      `mapstructure:"server"`
	Auth    AuthConfig        `mapstructure:"auth"`
	Logging LoggingConfig     `mapstructure:"logging"`
	Crawler CrawlerConfig     `mapstructure:"crawler"`
	HTTP    HTTPConfig        `mapstructure:"http"`
	Images  ImagesConfig      `mapstructure:"images"`
	Storage StorageConfig     `mapstructure:"storage"`
	DB      DBConfig          `mapstructure:"db"`
	JobLog  JobLogConfig      `mapstructure:"joblog"`
	Enrich  EnrichConfig      `mapstructure:"enrich"`
	PubSub  PubSubConfig      `mapstructure:"pubsub"`
	Queue   QueueConfig       `mapstructure:"queue"`
	Tracing TracingConfig     `mapstructure:"tracing"`
	Brands  map[string]string `mapstructure:"brands"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// CrawlerConfig governs the crawl pipeline.
type CrawlerConfig struct {
	UserAgent       string `mapstructure:"user_agent"`
	RequestDelayMs  int    `mapstructure:"request_delay_ms"`
	Workers         int    `mapstructure:"workers"`
	MaxPagesDefault int    `mapstructure:"max_pages_default"`
}

// HTTPConfig configures the HTTP client.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// ImagesConfig controls image archival.
type ImagesConfig struct {
	MaxBytes int64  `mapstructure:"max_bytes"`
	Prefix   string `mapstructure:"prefix"`
}

// StorageConfig selects and configures the object store.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
	Migrate  bool   `mapstructure:"migrate"`
}

// JobLogConfig selects the job log backend.
type JobLogConfig struct {
	Provider  string `mapstructure:"provider"`
	RedisAddr string `mapstructure:"redis_addr"`
	TTLHours  int    `mapstructure:"ttl_hours"`
}

// EnrichConfig points at the annotation service.
type EnrichConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
	// RequestTopic and RequestSubscription carry queued crawl runs when
	// queue.provider is pubsub.
	RequestTopic        string `mapstructure:"request_topic"`
	RequestSubscription string `mapstructure:"request_subscription"`
}

// QueueConfig controls background crawl execution.
type QueueConfig struct {
	Provider string `mapstructure:"provider"`
	Capacity int    `mapstructure:"capacity"`
	// Workers is the number of runs executed concurrently by one process.
	// Zero makes the process enqueue-only.
	Workers int `mapstructure:"workers"`
}

// TracingConfig controls the OpenTelemetry tracer provider.
type TracingConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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
	v.SetDefault("logging.development", true)
	v.SetDefault("crawler.user_agent", "CarCrawler/1.0 (+https://github.com/JakeFAU/diecast-crawler)")
	v.SetDefault("crawler.request_delay_ms", 1500)
	v.SetDefault("crawler.workers", 1)
	v.SetDefault("crawler.max_pages_default", 0)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("images.max_bytes", 10*1024*1024)
	v.SetDefault("images.prefix", "images")
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.local_dir", "data/images")
	v.SetDefault("db.table", "items")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("joblog.provider", "memory")
	v.SetDefault("joblog.ttl_hours", 30*24)
	v.SetDefault("enrich.model", "deepseek-chat")
	v.SetDefault("enrich.timeout_seconds", 120)
	v.SetDefault("queue.provider", "memory")
	v.SetDefault("queue.capacity", 64)
	v.SetDefault("queue.workers", 1)
	v.SetDefault("tracing.service_name", "diecast-crawler")
	v.SetDefault("tracing.sample_ratio", 0.1)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Workers < 1 || c.Crawler.Workers > 4 {
		return fmt.Errorf("crawler.workers must be between 1 and 4")
	}
	if c.Crawler.RequestDelayMs < 0 {
		return fmt.Errorf("crawler.request_delay_ms must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Images.MaxBytes <= 0 {
		return fmt.Errorf("images.max_bytes must be > 0")
	}
	switch c.Storage.Provider {
	case "memory":
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set when storage.provider is local")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when storage.provider is gcs")
		}
	default:
		return fmt.Errorf("storage.provider %q is not supported", c.Storage.Provider)
	}
	switch c.JobLog.Provider {
	case "memory":
	case "redis":
		if c.JobLog.RedisAddr == "" {
			return fmt.Errorf("joblog.redis_addr must be set when joblog.provider is redis")
		}
	default:
		return fmt.Errorf("joblog.provider %q is not supported", c.JobLog.Provider)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	switch c.Queue.Provider {
	case "", "memory":
		if c.Queue.Capacity < 0 {
			return fmt.Errorf("queue.capacity must be >= 0")
		}
	case "pubsub":
		if c.PubSub.ProjectID == "" || c.PubSub.RequestTopic == "" {
			return fmt.Errorf("pubsub.project_id and pubsub.request_topic must be set when queue.provider is pubsub")
		}
		if c.Queue.Workers > 0 && c.PubSub.RequestSubscription == "" {
			return fmt.Errorf("pubsub.request_subscription must be set when queue workers consume from pubsub")
		}
	default:
		return fmt.Errorf("queue.provider %q is not supported", c.Queue.Provider)
	}
	if c.Queue.Workers < 0 {
		return fmt.Errorf("queue.workers must be >= 0")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// RequestDelay is the minimum interval between requests to one host.
func (c Config) RequestDelay() time.Duration {
	return time.Duration(c.Crawler.RequestDelayMs) * time.Millisecond
}

// HTTPTimeout is the per-request timeout.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// JobLogTTL is how long job log entries are retained.
func (c Config) JobLogTTL() time.Duration {
	return time.Duration(c.JobLog.TTLHours) * time.Hour
}

// EnrichTimeout bounds one annotation request.
func (c Config) EnrichTimeout() time.Duration {
	return time.Duration(c.Enrich.TimeoutSeconds) * time.Second
}
