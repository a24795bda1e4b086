// Package storage selects the object store that archived images are written to.
package storage

import (
	"context"
	"fmt"

	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/diecast-crawler/internal/catalog"
	"github.com/JakeFAU/diecast-crawler/internal/config"
	"github.com/JakeFAU/diecast-crawler/internal/storage/gcs"
	"github.com/JakeFAU/diecast-crawler/internal/storage/local"
	"github.com/JakeFAU/diecast-crawler/internal/storage/memory"
)

// NewBlobStore builds the configured blob store. The returned close function
// releases any client the store holds.
func NewBlobStore(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (catalog.BlobStore, func() error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	noop := func() error { return nil }

	switch cfg.Provider {
	case "", "memory":
		return memory.NewBlobStore(), noop, nil
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return nil, nil, fmt.Errorf("init local blob store: %w", err)
		}
		return store, noop, nil
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("create gcs client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.GCSBucket})
		if err == nil {
			err = store.CheckBucket(ctx)
		}
		if err != nil {
			if closeErr := client.Close(); closeErr != nil {
				logger.Warn("failed to close gcs client after init failure", zap.Error(closeErr))
			}
			return nil, nil, fmt.Errorf("init gcs blob store: %w", err)
		}
		return store, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage provider %q", cfg.Provider)
	}
}
