package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oicur0t/loglwatch/internal/classify"
)

// Source kinds
const (
	SourceFile      = "file"
	SourceContainer = "container"
	SourcePod       = "pod"
)

// ErrInvalidService marks a service entry that cannot be monitored
var ErrInvalidService = errors.New("invalid service configuration")

// ServiceConfig describes one monitored service
type ServiceConfig struct {
	Name              string   `mapstructure:"name"`
	Source            string   `mapstructure:"source"`
	FilePath          string   `mapstructure:"file_path"`
	ContainerID       string   `mapstructure:"container_id"`
	PodName           string   `mapstructure:"pod_name"`
	Namespace         string   `mapstructure:"namespace"`
	Plugin            string   `mapstructure:"plugin"`
	MaxRestarts       *int     `mapstructure:"max_restarts"`
	TimeWindowMinutes int      `mapstructure:"time_window_minutes"`
	RestartOn         string   `mapstructure:"restart_on"`
	RestartCommand    []string `mapstructure:"restart_command"`
}

const (
	defaultMaxRestarts       = 3
	defaultTimeWindowMinutes = 60
	defaultNamespace         = "default"
	defaultPlugin            = "generic"
)

// NormalizeSource maps a source kind or one of its aliases to the canonical
// kind. Unknown kinds yield an empty string.
func NormalizeSource(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case SourceFile:
		return SourceFile
	case SourceContainer, "docker":
		return SourceContainer
	case SourcePod, "kubernetes", "k8s":
		return SourcePod
	}
	return ""
}

func (s *ServiceConfig) applyDefaults() {
	if s.MaxRestarts == nil {
		n := defaultMaxRestarts
		s.MaxRestarts = &n
	}
	if s.TimeWindowMinutes == 0 {
		s.TimeWindowMinutes = defaultTimeWindowMinutes
	}
	if s.Namespace == "" {
		s.Namespace = defaultNamespace
	}
	if s.Plugin == "" {
		s.Plugin = defaultPlugin
	}
	if s.RestartOn == "" {
		s.RestartOn = classify.VerdictError.String()
	}
	if kind := NormalizeSource(s.Source); kind != "" {
		s.Source = kind
	}
}

// Validate reports why the service cannot be monitored. The returned error
// wraps ErrInvalidService.
func (s ServiceConfig) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidService)
	}

	switch NormalizeSource(s.Source) {
	case SourceFile:
		if s.FilePath == "" {
			return fmt.Errorf("%w %q: file_path is required for file sources", ErrInvalidService, s.Name)
		}
	case SourceContainer:
		if s.ContainerID == "" {
			return fmt.Errorf("%w %q: container_id is required for container sources", ErrInvalidService, s.Name)
		}
	case SourcePod:
		if s.PodName == "" {
			return fmt.Errorf("%w %q: pod_name is required for pod sources", ErrInvalidService, s.Name)
		}
	default:
		return fmt.Errorf("%w %q: unknown source %q", ErrInvalidService, s.Name, s.Source)
	}

	if s.MaxRestarts != nil && *s.MaxRestarts < 0 {
		return fmt.Errorf("%w %q: max_restarts must not be negative", ErrInvalidService, s.Name)
	}
	if s.TimeWindowMinutes < 0 {
		return fmt.Errorf("%w %q: time_window_minutes must not be negative", ErrInvalidService, s.Name)
	}
	if s.RestartOn != "" {
		if _, err := classify.ParseVerdict(s.RestartOn); err != nil {
			return fmt.Errorf("%w %q: restart_on: %v", ErrInvalidService, s.Name, err)
		}
	}
	return nil
}

// Kind returns the canonical source kind
func (s ServiceConfig) Kind() string {
	return NormalizeSource(s.Source)
}

// RestartLimit returns max_restarts with its default applied
func (s ServiceConfig) RestartLimit() int {
	if s.MaxRestarts == nil {
		return defaultMaxRestarts
	}
	return *s.MaxRestarts
}

// RestartWindow returns the throttling window
func (s ServiceConfig) RestartWindow() time.Duration {
	minutes := s.TimeWindowMinutes
	if minutes <= 0 {
		minutes = defaultTimeWindowMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// RestartThreshold returns the verdict at or above which a restart is requested
func (s ServiceConfig) RestartThreshold() classify.Verdict {
	v, err := classify.ParseVerdict(s.RestartOn)
	if err != nil {
		return classify.VerdictError
	}
	return v
}
