package monitor

import (
	"context"

	"github.com/google/uuid"
	"github.com/oicur0t/loglwatch/internal/config"
	"github.com/oicur0t/loglwatch/pkg/models"
	"go.uber.org/zap"
)

// RunBatch performs one synchronous pass over the services whose source kind
// is enabled for batch mode. Snapshots and restart history are persisted once
// at the end of the pass; a persistence error is returned together with the
// snapshots of the pass.
func (l *Loop) RunBatch(ctx context.Context) (models.Snapshots, error) {
	passID := uuid.NewString()
	results := make(models.Snapshots)

	l.logger.Info("Starting batch pass",
		zap.String("pass_id", passID),
		zap.Strings("sources", l.cfg.Batch.Sources),
		zap.Int("tail_lines", l.cfg.Batch.TailLines))

	for _, svc := range l.cfg.Services {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		if svc.Validate() == nil && !config.Includes(l.cfg.Batch.Sources, svc.Kind()) {
			l.logger.Debug("Source kind not enabled for batch mode",
				zap.String("service", svc.Name),
				zap.String("source", svc.Kind()))
			continue
		}

		t, err := l.prepare(svc)
		if err != nil {
			snap := l.misconfigured(svc, passID, err)
			results[svc.Name] = snap
			l.publish(svc.Name, snap)
			continue
		}

		text := t.src.FetchTail(ctx, l.cfg.Batch.TailLines)
		l.ingest(t, splitLines(text))

		snap := l.evaluate(ctx, t, passID, true)
		results[svc.Name] = snap
		l.publish(svc.Name, snap)
	}

	err := l.persist(ctx)
	l.logger.Info("Batch pass finished",
		zap.String("pass_id", passID),
		zap.Int("services", len(results)))
	return results, err
}
