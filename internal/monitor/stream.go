package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oicur0t/loglwatch/internal/config"
	"github.com/oicur0t/loglwatch/pkg/models"
	"go.uber.org/zap"
)

// maxBatchLines bounds how many queued lines a worker takes before evaluating
const maxBatchLines = 1024

// RunStreaming follows every service whose source kind is enabled for
// streaming mode until duration elapses or ctx is cancelled. A duration of
// zero uses streaming.duration. The returned error is the one of the final
// state write.
func (l *Loop) RunStreaming(ctx context.Context, duration time.Duration) (models.Snapshots, error) {
	if duration <= 0 {
		duration = l.cfg.Streaming.Duration
	}
	passID := uuid.NewString()
	deadline := l.now().Add(duration)

	followCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	f := newFlusher(l, l.cfg.Streaming.FlushInterval, len(l.cfg.Services))
	f.Start(ctx)

	l.logger.Info("Starting streaming pass",
		zap.String("pass_id", passID),
		zap.Duration("duration", duration),
		zap.Strings("sources", l.cfg.Streaming.Sources))

	var wg sync.WaitGroup
	for _, svc := range l.cfg.Services {
		if svc.Validate() == nil && !config.Includes(l.cfg.Streaming.Sources, svc.Kind()) {
			l.logger.Debug("Source kind not enabled for streaming mode",
				zap.String("service", svc.Name),
				zap.String("source", svc.Kind()))
			continue
		}

		t, err := l.prepare(svc)
		if err != nil {
			f.Publish(svc.Name, l.misconfigured(svc, passID, err))
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			l.follow(ctx, followCtx, t, passID, deadline, f)
		}()
	}

	wg.Wait()
	err := f.stop()

	l.logger.Info("Streaming pass finished", zap.String("pass_id", passID))
	return l.Snapshots(), err
}

// follow is the per-service worker. Lines are read through followCtx, which
// ends at the deadline; remediation runs under ctx so a restart that was
// granted is not cut short by the deadline.
func (l *Loop) follow(ctx, followCtx context.Context, t *tracker, passID string, deadline time.Time, f *flusher) {
	name := t.svc.Name
	l.logger.Info("Following service", zap.String("service", name), zap.String("source", t.src.Describe()))

	lines := t.src.Follow(followCtx)
	var last models.HealthSnapshot
	evaluated := false

	for {
		batch, open := nextBatch(followCtx, lines)
		if len(batch) > 0 {
			l.ingest(t, batch)
			last = l.evaluate(ctx, t, passID, true)
			evaluated = true
			f.Publish(name, last)
		}
		if !open {
			l.logger.Warn("Log source closed", zap.String("service", name))
			break
		}
		if followCtx.Err() != nil || !l.now().Before(deadline) {
			break
		}
	}

	if !evaluated {
		last = l.evaluate(ctx, t, passID, false)
	}
	f.Publish(name, last)
	l.logger.Info("Stopped following service", zap.String("service", name))
}

// nextBatch blocks for one line and then takes whatever else is already
// queued. open is false once the source closed its channel.
func nextBatch(ctx context.Context, lines <-chan string) (batch []string, open bool) {
	select {
	case line, ok := <-lines:
		if !ok {
			return nil, false
		}
		batch = append(batch, line)
	case <-ctx.Done():
		return nil, true
	}

	for len(batch) < maxBatchLines {
		select {
		case line, ok := <-lines:
			if !ok {
				return batch, false
			}
			batch = append(batch, line)
		default:
			return batch, true
		}
	}
	return batch, true
}
