// Package throttle limits how often a service may be restarted using a
// sliding time window per service.
package throttle

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oicur0t/loglwatch/pkg/models"
	"go.uber.org/zap"
)

// HistoryStore persists restart history between evaluation cycles
type HistoryStore interface {
	LoadHistory(ctx context.Context) (models.RestartHistory, error)
	SaveHistory(ctx context.Context, history models.RestartHistory) error
}

// Decision is the outcome of a restart request
type Decision struct {
	Approved     bool
	HistoryAfter []time.Time
	// PersistErr is set when the decision could not be written; the in-memory
	// history is still authoritative and the next successful write catches up.
	PersistErr error
}

// Throttler decides whether restarts are allowed
type Throttler struct {
	store  HistoryStore
	logger *zap.Logger
	locks  keyedMutex
	saveMu sync.Mutex

	mu      sync.Mutex
	history map[string][]time.Time
}

// New creates a throttler seeded from store. A load failure is logged and the
// throttler starts with an empty history.
func New(ctx context.Context, store HistoryStore, logger *zap.Logger) *Throttler {
	t := &Throttler{
		store:   store,
		logger:  logger,
		history: make(map[string][]time.Time),
	}
	if store == nil {
		return t
	}

	loaded, err := store.LoadHistory(ctx)
	if err != nil {
		logger.Warn("Failed to load restart history, starting empty", zap.Error(err))
		return t
	}
	for service, stamps := range loaded {
		times := make([]time.Time, 0, len(stamps))
		for _, s := range stamps {
			times = append(times, models.FromUnixSeconds(s))
		}
		sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
		t.history[service] = times
	}
	logger.Info("Restart history loaded", zap.Int("services", len(loaded)))
	return t
}

// Prune drops every entry with now - entry >= window and returns the rest in
// order. The input slice is not modified.
func Prune(history []time.Time, now time.Time, window time.Duration) []time.Time {
	kept := make([]time.Time, 0, len(history))
	for _, ts := range history {
		if now.Sub(ts) < window {
			kept = append(kept, ts)
		}
	}
	return kept
}

// TryRestart records a restart for service if fewer than maxRestarts happened
// within the trailing window. Calls for the same service are serialized.
func (t *Throttler) TryRestart(ctx context.Context, service string, now time.Time, maxRestarts int, window time.Duration) Decision {
	unlock := t.locks.Lock(service)
	defer unlock()

	t.mu.Lock()
	kept := Prune(t.history[service], now, window)
	approved := len(kept) < maxRestarts
	if approved {
		kept = append(kept, now)
	}
	t.history[service] = kept
	t.mu.Unlock()

	decision := Decision{
		Approved:     approved,
		HistoryAfter: append([]time.Time(nil), kept...),
	}

	if t.store != nil {
		if err := t.Flush(ctx); err != nil {
			t.logger.Error("Failed to persist restart history",
				zap.String("service", service),
				zap.Error(err))
			decision.PersistErr = err
		}
	}

	t.logger.Debug("Restart decision",
		zap.String("service", service),
		zap.Bool("approved", approved),
		zap.Int("restarts_in_window", len(kept)),
		zap.Int("max_restarts", maxRestarts),
		zap.Duration("window", window))

	return decision
}

// Count returns how many restarts of service fall inside the trailing window
func (t *Throttler) Count(service string, now time.Time, window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(Prune(t.history[service], now, window))
}

// History returns the persisted form of the current history
func (t *Throttler) History() models.RestartHistory {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exportLocked()
}

// Flush writes the current history to the store. Writes are serialized and
// each one captures the history at the time it starts, so the last write wins.
func (t *Throttler) Flush(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	t.saveMu.Lock()
	defer t.saveMu.Unlock()
	return t.store.SaveHistory(ctx, t.History())
}

func (t *Throttler) exportLocked() models.RestartHistory {
	out := make(models.RestartHistory, len(t.history))
	for service, times := range t.history {
		stamps := make([]float64, len(times))
		for i, ts := range times {
			stamps[i] = models.UnixSeconds(ts)
		}
		out[service] = stamps
	}
	return out
}
