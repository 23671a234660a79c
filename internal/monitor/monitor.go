// Package monitor runs the health loop. For every configured service it reads
// the log source, classifies lines into a rolling window, evaluates the window
// and asks the throttler before restarting an unhealthy service.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oicur0t/loglwatch/internal/config"
	"github.com/oicur0t/loglwatch/internal/metrics"
	"github.com/oicur0t/loglwatch/internal/plugin"
	"github.com/oicur0t/loglwatch/internal/source"
	"github.com/oicur0t/loglwatch/internal/throttle"
	"github.com/oicur0t/loglwatch/pkg/models"
	"go.uber.org/zap"
)

// SourceProvider builds the log source of a service
type SourceProvider interface {
	For(svc config.ServiceConfig) (source.Source, error)
}

// PluginProvider resolves plugin names
type PluginProvider interface {
	Get(name string) (plugin.Plugin, error)
}

// SnapshotStore persists the latest snapshot of every service
type SnapshotStore interface {
	LoadSnapshots(ctx context.Context) (models.Snapshots, error)
	SaveSnapshots(ctx context.Context, snapshots models.Snapshots) error
}

// Deps are the collaborators of a Loop
type Deps struct {
	Sources   SourceProvider
	Plugins   PluginProvider
	Throttler *throttle.Throttler
	Store     SnapshotStore
	Metrics   *metrics.Metrics
}

// Loop evaluates the configured services in batch or streaming mode
type Loop struct {
	cfg       *config.Config
	sources   SourceProvider
	plugins   PluginProvider
	throttler *throttle.Throttler
	store     SnapshotStore
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time

	mu        sync.RWMutex
	snapshots models.Snapshots
}

// New creates a loop. Snapshots already in the store are kept so services
// outside the current mode still show their last result.
func New(ctx context.Context, cfg *config.Config, deps Deps, logger *zap.Logger) *Loop {
	l := &Loop{
		cfg:       cfg,
		sources:   deps.Sources,
		plugins:   deps.Plugins,
		throttler: deps.Throttler,
		store:     deps.Store,
		metrics:   deps.Metrics,
		logger:    logger,
		now:       time.Now,
		snapshots: make(models.Snapshots),
	}
	if l.throttler == nil {
		l.throttler = throttle.New(ctx, nil, logger)
	}

	if l.store != nil {
		existing, err := l.store.LoadSnapshots(ctx)
		if err != nil {
			logger.Warn("Failed to load previous snapshots", zap.Error(err))
		} else {
			l.snapshots = existing
		}
	}
	return l
}

// Snapshots returns a copy of the latest snapshot per service
func (l *Loop) Snapshots() models.Snapshots {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshots.Clone()
}

// Snapshot returns the latest snapshot of one service
func (l *Loop) Snapshot(name string) (models.HealthSnapshot, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	snap, ok := l.snapshots[name]
	return snap, ok
}

func (l *Loop) publish(service string, snap models.HealthSnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snapshots[service] = snap
}

// persist writes snapshots and restart history. Both writes are attempted
// even if the first fails.
func (l *Loop) persist(ctx context.Context) error {
	var errs []error

	if l.store != nil {
		if err := l.store.SaveSnapshots(ctx, l.Snapshots()); err != nil {
			l.metrics.PersistenceFailure("snapshots")
			l.logger.Error("Failed to save snapshots", zap.Error(err))
			errs = append(errs, err)
		}
	}

	if err := l.throttler.Flush(ctx); err != nil {
		l.metrics.PersistenceFailure("history")
		l.logger.Error("Failed to save restart history", zap.Error(err))
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
