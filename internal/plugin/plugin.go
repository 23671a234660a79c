// Package plugin implements the per-service-family monitors that classify
// lines and turn a window of classified lines into a health verdict.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/oicur0t/loglwatch/internal/classify"
	"github.com/oicur0t/loglwatch/pkg/models"
	"go.uber.org/zap"
)

var (
	// ErrUnknownPlugin is returned when no definition is registered under a name
	ErrUnknownPlugin = errors.New("unknown plugin")
	// ErrInvalidDefinition marks a definition that cannot be compiled or decoded
	ErrInvalidDefinition = errors.New("invalid plugin definition")
)

// Plugin classifies lines and evaluates windows for one family of services
type Plugin interface {
	Name() string
	WindowSize() int
	Classify(text string) classify.Line
	Evaluate(lines []classify.Line) classify.Verdict
	EmergencyAction(ctx context.Context, service string, verdict classify.Verdict, r Restarter) bool
}

// Restarter restarts the service being monitored
type Restarter interface {
	Restart(ctx context.Context) error
}

// Notifier delivers alerts raised by emergency actions
type Notifier interface {
	Notify(ctx context.Context, alert models.Alert) error
}

// Monitor is the Plugin implementation driven by a compiled Definition
type Monitor struct {
	def        Definition
	patterns   *classify.PatternSet
	extractors []*regexp.Regexp
	heartbeat  *regexp.Regexp
	metric     metricFunc
	notifier   Notifier
	logger     *zap.Logger
}

// NewMonitor compiles def. Any malformed pattern fails the whole definition.
func NewMonitor(def Definition, notifier Notifier, logger *zap.Logger) (*Monitor, error) {
	patterns, err := classify.Compile(def.Critical, def.Warning)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidDefinition, def.Name, err)
	}

	m := &Monitor{
		def:      def,
		patterns: patterns,
		notifier: notifier,
		logger:   logger,
	}

	for _, p := range def.Extractors {
		re, err := classify.CompilePattern(p)
		if err != nil {
			return nil, fmt.Errorf("%w %q: extractor: %v", ErrInvalidDefinition, def.Name, err)
		}
		m.extractors = append(m.extractors, re)
	}

	// heartbeats match case-sensitively, unlike the severity patterns
	if def.Heartbeat != "" {
		re, err := regexp.Compile(def.Heartbeat)
		if err != nil {
			return nil, fmt.Errorf("%w %q: heartbeat: %v", ErrInvalidDefinition, def.Name, err)
		}
		m.heartbeat = re
	}

	if def.Thresholds.Metric != "" {
		fn, ok := metricFuncs[def.Thresholds.Metric]
		if !ok {
			return nil, fmt.Errorf("%w %q: unknown metric %q", ErrInvalidDefinition, def.Name, def.Thresholds.Metric)
		}
		m.metric = fn
	}

	if def.Thresholds.Window <= 0 {
		m.def.Thresholds.Window = 30
	}

	return m, nil
}

// Name returns the definition name
func (m *Monitor) Name() string {
	return m.def.Name
}

// WindowSize returns how many recent lines Evaluate considers
func (m *Monitor) WindowSize() int {
	return m.def.Thresholds.Window
}

// Classify assigns a severity and extracts plugin fields.
// The first extractor to produce a field wins.
func (m *Monitor) Classify(text string) classify.Line {
	line := classify.New(text, m.patterns)
	for _, re := range m.extractors {
		match := re.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		for i, name := range re.SubexpNames() {
			if name == "" || match[i] == "" {
				continue
			}
			if line.Fields == nil {
				line.Fields = make(map[string]string)
			}
			if _, exists := line.Fields[name]; !exists {
				line.Fields[name] = match[i]
			}
		}
	}
	return line
}

// Evaluate returns the most severe tier reached by the trailing window
func (m *Monitor) Evaluate(lines []classify.Line) classify.Verdict {
	if len(lines) == 0 {
		return classify.VerdictOK
	}
	t := m.def.Thresholds
	if len(lines) > t.Window {
		lines = lines[len(lines)-t.Window:]
	}

	var critical, warning int
	heartbeat := m.heartbeat == nil
	for _, l := range lines {
		switch l.Severity {
		case classify.SeverityCritical:
			critical++
		case classify.SeverityWarning:
			warning++
		}
		if !heartbeat && m.heartbeat.MatchString(l.Text) {
			heartbeat = true
		}
	}

	var value float64
	var hasValue bool
	if m.metric != nil {
		value, hasValue = m.metric(lines, t)
	}
	exceeds := func(limit float64) bool {
		return hasValue && limit > 0 && value > limit
	}

	switch {
	case t.CriticalHigh > 0 && critical >= t.CriticalHigh, exceeds(t.MetricTop):
		return classify.VerdictCritical
	case critical >= 1, exceeds(t.MetricMid), !heartbeat:
		return classify.VerdictError
	case t.WarningMin > 0 && warning >= t.WarningMin, exceeds(t.MetricLow):
		return classify.VerdictWarning
	}
	return classify.VerdictOK
}

// EmergencyAction narrates the remediation, raises an alert and restarts the
// service. It never panics; any failure is reported as false.
func (m *Monitor) EmergencyAction(ctx context.Context, service string, verdict classify.Verdict, r Restarter) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error("Emergency action panicked",
				zap.String("service", service),
				zap.String("plugin", m.Name()),
				zap.Any("panic", rec))
			ok = false
		}
	}()

	for _, step := range m.def.Narration {
		m.logger.Warn(step,
			zap.String("service", service),
			zap.String("plugin", m.Name()),
			zap.String("verdict", verdict.String()))
	}

	if m.notifier != nil {
		alert := models.Alert{
			ID:        uuid.NewString(),
			Service:   service,
			Plugin:    m.Name(),
			Status:    verdict.String(),
			Message:   fmt.Sprintf("%s is %s, restart requested", service, verdict),
			Timestamp: time.Now().UTC(),
		}
		if err := m.notifier.Notify(ctx, alert); err != nil {
			m.logger.Warn("Failed to send alert", zap.String("service", service), zap.Error(err))
		}
	}

	if r == nil {
		m.logger.Error("No restart mechanism available", zap.String("service", service))
		return false
	}
	if err := r.Restart(ctx); err != nil {
		m.logger.Error("Restart failed", zap.String("service", service), zap.Error(err))
		return false
	}

	m.logger.Info("Service restarted", zap.String("service", service), zap.String("plugin", m.Name()))
	return true
}
