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
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
logging:
  development: false
crawler:
  user_agent: real-agent
  request_delay_ms: 250
  workers: 3
  max_pages_default: 40
http:
  timeout_seconds: 45
images:
  max_bytes: 2048
  prefix: pics
storage:
  provider: gcs
  gcs_bucket: diecast-images
db:
  dsn: postgres://localhost/carsdb
joblog:
  provider: redis
  redis_addr: localhost:6379
  ttl_hours: 24
pubsub:
  project_id: proj
  topic_name: crawl-runs
  request_topic: crawl-requests
  request_subscription: crawl-requests-sub
queue:
  provider: pubsub
  workers: 2
brands:
  minigt: https://minigt.example/catalog
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Crawler.Workers != 3 || cfg.Crawler.UserAgent != "real-agent" {
		t.Fatalf("expected crawler overrides to apply: %+v", cfg.Crawler)
	}
	if got := cfg.RequestDelay(); got != 250*time.Millisecond {
		t.Fatalf("expected request delay 250ms, got %v", got)
	}
	if got := cfg.HTTPTimeout(); got != 45*time.Second {
		t.Fatalf("expected http timeout 45s, got %v", got)
	}
	if got := cfg.JobLogTTL(); got != 24*time.Hour {
		t.Fatalf("expected joblog ttl 24h, got %v", got)
	}
	if cfg.Images.MaxBytes != 2048 || cfg.Images.Prefix != "pics" {
		t.Fatalf("expected image overrides, got %+v", cfg.Images)
	}
	if cfg.Queue.Provider != "pubsub" || cfg.Queue.Workers != 2 || cfg.PubSub.RequestSubscription != "crawl-requests-sub" {
		t.Fatalf("expected queue overrides, got %+v %+v", cfg.Queue, cfg.PubSub)
	}
	if cfg.Brands["minigt"] != "https://minigt.example/catalog" {
		t.Fatalf("expected brand catalog url, got %+v", cfg.Brands)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Images.MaxBytes != 10*1024*1024 {
		t.Fatalf("expected 10 MiB image ceiling, got %d", cfg.Images.MaxBytes)
	}
	if cfg.Crawler.Workers != 1 || cfg.RequestDelay() != 1500*time.Millisecond {
		t.Fatalf("expected sequential crawl with 1.5s delay, got %+v", cfg.Crawler)
	}
	if cfg.Storage.Provider != "memory" || cfg.JobLog.Provider != "memory" {
		t.Fatalf("expected in-memory backends by default")
	}
	if cfg.Queue.Provider != "memory" || cfg.Queue.Capacity != 64 || cfg.Queue.Workers != 1 {
		t.Fatalf("expected in-memory queue with one worker, got %+v", cfg.Queue)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:  ServerConfig{Port: 8080},
		Crawler: CrawlerConfig{Workers: 1},
		HTTP:    HTTPConfig{TimeoutSeconds: 10},
		Images:  ImagesConfig{MaxBytes: 1024},
		Storage: StorageConfig{Provider: "memory"},
		JobLog:  JobLogConfig{Provider: "memory"},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "too many workers",
			cfg: func() Config {
				c := base
				c.Crawler.Workers = 8
				return c
			}(),
			want: "crawler.workers",
		},
		{
			name: "invalid timeout",
			cfg: func() Config {
				c := base
				c.HTTP.TimeoutSeconds = 0
				return c
			}(),
			want: "http.timeout_seconds",
		},
		{
			name: "gcs without bucket",
			cfg: func() Config {
				c := base
				c.Storage.Provider = "gcs"
				return c
			}(),
			want: "storage.gcs_bucket",
		},
		{
			name: "unknown storage",
			cfg: func() Config {
				c := base
				c.Storage.Provider = "s3"
				return c
			}(),
			want: "storage.provider",
		},
		{
			name: "redis without addr",
			cfg: func() Config {
				c := base
				c.JobLog.Provider = "redis"
				return c
			}(),
			want: "joblog.redis_addr",
		},
		{
			name: "topic without project",
			cfg: func() Config {
				c := base
				c.PubSub.TopicName = "runs"
				return c
			}(),
			want: "pubsub.project_id",
		},
		{
			name: "pubsub queue without request topic",
			cfg: func() Config {
				c := base
				c.Queue.Provider = "pubsub"
				c.PubSub.ProjectID = "proj"
				return c
			}(),
			want: "pubsub.request_topic",
		},
		{
			name: "pubsub queue workers without subscription",
			cfg: func() Config {
				c := base
				c.Queue = QueueConfig{Provider: "pubsub", Workers: 1}
				c.PubSub.ProjectID = "proj"
				c.PubSub.RequestTopic = "requests"
				return c
			}(),
			want: "pubsub.request_subscription",
		},
		{
			name: "unknown queue",
			cfg: func() Config {
				c := base
				c.Queue.Provider = "sqs"
				return c
			}(),
			want: "queue.provider",
		},
		{
			name: "sample ratio out of range",
			cfg: func() Config {
				c := base
				c.Tracing.SampleRatio = 1.5
				return c
			}(),
			want: "tracing.sample_ratio",
		},
		{
			name: "auth missing api key",
			cfg: func() Config {
				c := base
				c.Auth.Enabled = true
				return c
			}(),
			want: "auth.api_key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
