package monitor

import (
	"context"
	"fmt"
	"strings"

	"github.com/oicur0t/loglwatch/internal/classify"
	"github.com/oicur0t/loglwatch/internal/config"
	"github.com/oicur0t/loglwatch/internal/metrics"
	"github.com/oicur0t/loglwatch/internal/plugin"
	"github.com/oicur0t/loglwatch/internal/source"
	"github.com/oicur0t/loglwatch/internal/window"
	"github.com/oicur0t/loglwatch/pkg/models"
	"go.uber.org/zap"
)

// snapshotLines is how many trailing lines a snapshot keeps
const snapshotLines = 20

const errorDetected = "error detected in logs"

// tracker is the per-service evaluation state. It is owned by one goroutine.
type tracker struct {
	svc    config.ServiceConfig
	plugin plugin.Plugin
	src    source.Source
	window *window.Window

	// critical is set when a line ingested since the last evaluation was
	// critical, whether or not it is still in the window
	critical bool
}

// prepare validates svc and resolves its plugin and source
func (l *Loop) prepare(svc config.ServiceConfig) (*tracker, error) {
	if err := svc.Validate(); err != nil {
		return nil, err
	}
	p, err := l.plugins.Get(svc.Plugin)
	if err != nil {
		return nil, fmt.Errorf("%w: service %q: %v", config.ErrInvalidService, svc.Name, err)
	}
	src, err := l.sources.For(svc)
	if err != nil {
		return nil, err
	}
	return &tracker{
		svc:    svc,
		plugin: p,
		src:    src,
		window: window.New(p.WindowSize()),
	}, nil
}

// ingest classifies raw lines into the window. Blank lines are skipped.
func (l *Loop) ingest(t *tracker, raw []string) {
	for _, text := range raw {
		if strings.TrimSpace(text) == "" {
			continue
		}
		line := t.plugin.Classify(text)
		l.metrics.ObserveLine(t.svc.Name, line.Severity.String())
		if line.Severity == classify.SeverityCritical {
			t.critical = true
		}
		t.window.Push(line)
	}
}

// verdict evaluates the window in the configured mode. Simple mode looks at
// every line ingested since the last evaluation as well as the window.
func (l *Loop) verdict(t *tracker) classify.Verdict {
	lines := t.window.Lines()
	if l.cfg.Evaluation != config.EvaluationSimple {
		return t.plugin.Evaluate(lines)
	}
	if t.critical {
		return classify.VerdictCritical
	}
	for _, line := range lines {
		if line.Severity == classify.SeverityCritical {
			return classify.VerdictCritical
		}
	}
	return classify.VerdictOK
}

func (l *Loop) status(v classify.Verdict) string {
	if l.cfg.Evaluation != config.EvaluationSimple {
		return v.String()
	}
	if v > classify.VerdictOK {
		return models.StatusError
	}
	return models.StatusHealthy
}

// evaluate turns the current window into a snapshot. With remediate set an
// unhealthy verdict asks the throttler for a restart slot and runs the
// plugin's emergency action when one is granted.
func (l *Loop) evaluate(ctx context.Context, t *tracker, passID string, remediate bool) models.HealthSnapshot {
	name := t.svc.Name
	now := l.now()

	v := l.verdict(t)
	t.critical = false
	unhealthy := v >= t.svc.RestartThreshold()
	l.metrics.Evaluation(name)
	l.metrics.SetVerdict(name, int(v))

	logs := strings.Join(t.window.Tail(snapshotLines), "\n")
	errText := sourceError(t.window.Lines())
	restarted := false

	if unhealthy && remediate {
		decision := l.throttler.TryRestart(ctx, name, now, t.svc.RestartLimit(), t.svc.RestartWindow())
		if decision.PersistErr != nil {
			l.metrics.PersistenceFailure("history")
		}

		if decision.Approved {
			l.logger.Warn("Service unhealthy, restarting",
				zap.String("service", name),
				zap.String("verdict", v.String()),
				zap.Int("restarts_in_window", len(decision.HistoryAfter)))

			if t.plugin.EmergencyAction(ctx, name, v, t.src) {
				l.metrics.RestartDecision(name, metrics.OutcomeApproved)
				restarted = true
				t.window.Reset()
			} else {
				l.metrics.RestartDecision(name, metrics.OutcomeFailed)
				if errText == "" {
					errText = "restart failed"
				}
			}
		} else {
			l.metrics.RestartDecision(name, metrics.OutcomeThrottled)
			l.logger.Warn("Restart limit reached, not restarting",
				zap.String("service", name),
				zap.String("verdict", v.String()),
				zap.Int("max_restarts", t.svc.RestartLimit()),
				zap.Duration("window", t.svc.RestartWindow()))
			if errText == "" {
				errText = fmt.Sprintf("restart limit reached: %d restarts in %d minutes",
					t.svc.RestartLimit(), t.svc.TimeWindowMinutes)
			}
		}
	}

	if unhealthy && errText == "" {
		errText = errorDetected
	}

	snap := models.HealthSnapshot{
		Status:           l.status(v),
		LastChecked:      now.Format(models.LastCheckedLayout),
		Restarted:        restarted,
		Logs:             logs,
		Plugin:           t.plugin.Name(),
		RestartsInWindow: l.throttler.Count(name, now, t.svc.RestartWindow()),
		PassID:           passID,
	}
	if errText != "" {
		snap.Error = &errText
	}

	l.logger.Debug("Service evaluated",
		zap.String("service", name),
		zap.String("status", snap.Status),
		zap.Bool("restarted", restarted),
		zap.Int("window_lines", t.window.Len()))
	return snap
}

// misconfigured is the snapshot of a service that could not be set up
func (l *Loop) misconfigured(svc config.ServiceConfig, passID string, err error) models.HealthSnapshot {
	l.logger.Error("Skipping service", zap.String("service", svc.Name), zap.Error(err))

	msg := err.Error()
	status := classify.VerdictError.String()
	if l.cfg.Evaluation == config.EvaluationSimple {
		status = models.StatusError
	}
	return models.HealthSnapshot{
		Status:      status,
		LastChecked: l.now().Format(models.LastCheckedLayout),
		Error:       &msg,
		Plugin:      svc.Plugin,
		PassID:      passID,
	}
}

// sourceError returns the most recent line reported by the source itself
func sourceError(lines []classify.Line) string {
	for i := len(lines) - 1; i >= 0; i-- {
		if source.IsErrorLine(lines[i].Text) {
			return lines[i].Text
		}
	}
	return ""
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}
