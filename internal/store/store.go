// Package store persists restart history and health snapshots so that
// readers only ever observe complete writes.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/oicur0t/loglwatch/internal/config"
	"github.com/oicur0t/loglwatch/pkg/models"
	"go.uber.org/zap"
)

// ErrPersistence wraps every failure to read or write shared state
var ErrPersistence = errors.New("persistence failure")

// Store is the shared durable state used by the monitor and its readers
type Store interface {
	LoadHistory(ctx context.Context) (models.RestartHistory, error)
	SaveHistory(ctx context.Context, history models.RestartHistory) error
	LoadSnapshots(ctx context.Context) (models.Snapshots, error)
	SaveSnapshots(ctx context.Context, snapshots models.Snapshots) error
	Close(ctx context.Context) error
}

// Open creates the backend selected by cfg.Backend
func Open(ctx context.Context, cfg config.StateConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case config.BackendFile, "":
		return NewFileStore(cfg.Dir, logger)
	case config.BackendSQLite:
		return NewSQLiteStore(ctx, cfg.SQLitePath, logger)
	case config.BackendMongoDB:
		return NewMongoStore(ctx,
			cfg.MongoDB.URI,
			cfg.MongoDB.Database,
			cfg.MongoDB.CollectionPrefix,
			cfg.MongoDB.CertificateKeyFile,
			cfg.MongoDB.MaxPoolSize,
			cfg.MongoDB.Timeout,
			logger,
		)
	}
	return nil, fmt.Errorf("unknown state backend %q", cfg.Backend)
}

func persistErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrPersistence, op, err)
}
