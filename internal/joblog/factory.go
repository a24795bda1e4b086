package joblog

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/diecast-crawler/internal/catalog"
	"github.com/JakeFAU/diecast-crawler/internal/config"
)

// New builds the configured job log store. The close function releases any
// client the store holds.
func New(ctx context.Context, cfg config.Config, clock catalog.Clock) (Store, func() error, error) {
	ttl := cfg.JobLogTTL()
	switch cfg.JobLog.Provider {
	case "", "memory":
		return NewMemoryStore(clock, ttl), func() error { return nil }, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.JobLog.RedisAddr})
		store := NewRedisStore(client, clock, ttl)
		if err := store.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return store, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported joblog provider %q", cfg.JobLog.Provider)
	}
}
