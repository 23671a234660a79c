package monitor

import (
	"context"
	"time"

	"github.com/oicur0t/loglwatch/pkg/models"
	"go.uber.org/zap"
)

type update struct {
	service  string
	snapshot models.HealthSnapshot
}

// flusher collects snapshots published by streaming workers and writes the
// shared state on a timer and once more when it is stopped
type flusher struct {
	loop     *Loop
	interval time.Duration
	logger   *zap.Logger

	updates chan update
	done    chan error
	dirty   bool
}

func newFlusher(l *Loop, interval time.Duration, queueSize int) *flusher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &flusher{
		loop:     l,
		interval: interval,
		logger:   l.logger,
		updates:  make(chan update, queueSize),
		done:     make(chan error, 1),
	}
}

// Publish hands a snapshot to the flusher. It must not be called after stop.
func (f *flusher) Publish(service string, snap models.HealthSnapshot) {
	f.updates <- update{service: service, snapshot: snap}
}

// Start runs the flush loop until stop is called
func (f *flusher) Start(ctx context.Context) {
	go f.run(ctx)
}

func (f *flusher) run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case u, ok := <-f.updates:
			if !ok {
				// Final write must happen even when the run was cancelled
				f.done <- f.flush(context.WithoutCancel(ctx))
				return
			}
			f.loop.publish(u.service, u.snapshot)
			f.dirty = true

		case <-ticker.C:
			if !f.dirty {
				continue
			}
			if err := f.flush(ctx); err != nil {
				f.logger.Warn("Periodic state flush failed, will retry", zap.Error(err))
				continue
			}
			f.dirty = false
		}
	}
}

func (f *flusher) flush(ctx context.Context) error {
	f.logger.Debug("Flushing health state")
	return f.loop.persist(ctx)
}

// stop drains pending snapshots, performs the final write and returns its error
func (f *flusher) stop() error {
	close(f.updates)
	return <-f.done
}
